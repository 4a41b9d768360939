package history

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type PostgresConfig struct {
	DSN      string
	MaxConns int
}

// PostgresArchive stores records in the matches table.
type PostgresArchive struct {
	pool *pgxpool.Pool
}

func NewPostgresArchive(ctx context.Context, cfg PostgresConfig) (*PostgresArchive, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &PostgresArchive{pool: pool}, nil
}

// EnsureSchema applies embedded migrations in lexical order, recording each
// in schema_migrations.
func (a *PostgresArchive) EnsureSchema(ctx context.Context) error {
	const createTracker = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`
	if _, err := a.pool.Exec(ctx, createTracker); err != nil {
		return fmt.Errorf("postgres: create schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("postgres: read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var exists bool
		if err := a.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)",
			entry.Name(),
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: check migration %s: %w", entry.Name(), err)
		}
		if exists {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("postgres: read migration %s: %w", entry.Name(), err)
		}
		tx, err := a.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("postgres: begin tx for %s: %w", entry.Name(), err)
		}
		if _, err := tx.Exec(ctx, string(data)); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("postgres: exec migration %s: %w", entry.Name(), err)
		}
		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (filename) VALUES ($1)", entry.Name()); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("postgres: record migration %s: %w", entry.Name(), err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("postgres: commit migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func (a *PostgresArchive) Append(ctx context.Context, r Record) error {
	transfers, err := json.Marshal(r.Transfers)
	if err != nil {
		return fmt.Errorf("postgres: marshal transfers: %w", err)
	}

	const query = `
		INSERT INTO matches (id, sender, left_hash, right_hash, left_maker, right_maker,
			left_fill, right_fill, left_asset, right_asset, fee_side, transfers, matched_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`
	_, err = a.pool.Exec(ctx, query,
		r.ID, r.Sender, r.LeftHash, r.RightHash, r.LeftMaker, r.RightMaker,
		r.LeftFill, r.RightFill, r.LeftAsset, r.RightAsset, r.FeeSide, transfers, r.MatchedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert match %s: %w", r.ID, err)
	}
	return nil
}

func (a *PostgresArchive) Recent(ctx context.Context, account string, limit int) ([]Record, error) {
	query := `
		SELECT id::text, sender, left_hash, right_hash, left_maker, right_maker,
			left_fill::text, right_fill::text, left_asset, right_asset, fee_side, transfers, matched_at
		FROM matches WHERE 1=1`
	args := []any{}
	argIdx := 1

	if account != "" {
		query += fmt.Sprintf(" AND (lower(sender) = lower($%d) OR lower(left_maker) = lower($%d) OR lower(right_maker) = lower($%d))", argIdx, argIdx, argIdx)
		args = append(args, account)
		argIdx++
	}
	query += " ORDER BY matched_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := a.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list matches: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var transfers []byte
		if err := rows.Scan(&r.ID, &r.Sender, &r.LeftHash, &r.RightHash, &r.LeftMaker, &r.RightMaker,
			&r.LeftFill, &r.RightFill, &r.LeftAsset, &r.RightAsset, &r.FeeSide, &transfers, &r.MatchedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan match: %w", err)
		}
		if len(transfers) > 0 {
			if err := json.Unmarshal(transfers, &r.Transfers); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal transfers: %w", err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate matches: %w", err)
	}
	return out, nil
}

func (a *PostgresArchive) Close() { a.pool.Close() }
