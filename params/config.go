package params

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. MARKET_API_ADDR.
const EnvPrefix = "MARKET"

type Exchange struct {
	FeeReceiver       string   `mapstructure:"fee_receiver"`
	PrimaryFeeBP      uint64   `mapstructure:"primary_fee_bp"`
	SecondaryFeeBP    uint64   `mapstructure:"secondary_fee_bp"`
	MatchLimit        int      `mapstructure:"match_limit"`
	FeeExempt         []string `mapstructure:"fee_exempt"`
	Operators         []string `mapstructure:"operators"`
	DomainName        string   `mapstructure:"domain_name"`
	DomainVersion     string   `mapstructure:"domain_version"`
	ChainID           int64    `mapstructure:"chain_id"`
	VerifyingContract string   `mapstructure:"verifying_contract"`
}

type Storage struct {
	Backend       string `mapstructure:"backend"` // memory | pebble | redis
	Path          string `mapstructure:"path"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

type API struct {
	Addr             string        `mapstructure:"addr"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	PoolSize         int           `mapstructure:"pool_size"`
	PruneInterval    time.Duration `mapstructure:"prune_interval"`
	CancelSignatures bool          `mapstructure:"cancel_signatures"`
}

type P2P struct {
	Enabled   bool     `mapstructure:"enabled"`
	Listen    string   `mapstructure:"listen"`
	Bootstrap []string `mapstructure:"bootstrap"`
	Topic     string   `mapstructure:"topic"`
}

type History struct {
	PostgresDSN    string `mapstructure:"postgres_dsn"` // empty keeps history in memory
	MaxConns       int    `mapstructure:"max_conns"`
	MemoryCapacity int    `mapstructure:"memory_capacity"`
	QueueSize      int    `mapstructure:"queue_size"`
}

type Log struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// RoyaltyEntry is a statically configured royalty part. An empty TokenID
// applies to the whole collection.
type RoyaltyEntry struct {
	Token   string `mapstructure:"token"`
	TokenID string `mapstructure:"token_id"`
	Account string `mapstructure:"account"`
	BP      uint64 `mapstructure:"bp"`
}

type Royalty struct {
	CacheSize int            `mapstructure:"cache_size"`
	Entries   []RoyaltyEntry `mapstructure:"entries"`
}

// MintEntry seeds the in-process ledger on startup.
type MintEntry struct {
	Owner   string `mapstructure:"owner"`
	Class   string `mapstructure:"class"`
	Token   string `mapstructure:"token"`
	TokenID string `mapstructure:"token_id"`
	Value   string `mapstructure:"value"`
}

type Dev struct {
	Mints []MintEntry `mapstructure:"mints"`
}

type Config struct {
	Exchange Exchange `mapstructure:"exchange"`
	Storage  Storage  `mapstructure:"storage"`
	API      API      `mapstructure:"api"`
	P2P      P2P      `mapstructure:"p2p"`
	History  History  `mapstructure:"history"`
	Log      Log      `mapstructure:"log"`
	Royalty  Royalty  `mapstructure:"royalty"`
	Dev      Dev      `mapstructure:"dev"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("exchange.fee_receiver", "")
	v.SetDefault("exchange.primary_fee_bp", 0)
	v.SetDefault("exchange.secondary_fee_bp", 0)
	v.SetDefault("exchange.match_limit", 50)
	v.SetDefault("exchange.fee_exempt", []string{})
	v.SetDefault("exchange.operators", []string{})
	v.SetDefault("exchange.domain_name", "Marketplace")
	v.SetDefault("exchange.domain_version", "1")
	v.SetDefault("exchange.chain_id", 1337)
	v.SetDefault("exchange.verifying_contract", "")

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.path", "data/fills")
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)

	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.allowed_origins", []string{"http://localhost:3000", "http://localhost:3001"})
	v.SetDefault("api.pool_size", 10000)
	v.SetDefault("api.prune_interval", 30*time.Second)
	v.SetDefault("api.cancel_signatures", true)

	v.SetDefault("p2p.enabled", false)
	v.SetDefault("p2p.listen", "/ip4/0.0.0.0/tcp/4001")
	v.SetDefault("p2p.bootstrap", []string{})
	v.SetDefault("p2p.topic", "marketplace/orders/1")

	v.SetDefault("history.postgres_dsn", "")
	v.SetDefault("history.max_conns", 4)
	v.SetDefault("history.memory_capacity", 1024)
	v.SetDefault("history.queue_size", 256)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")

	v.SetDefault("royalty.cache_size", 4096)
}

// Default returns the configuration with no file or environment applied.
func Default() Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(err)
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Load resolves configuration. Priority: environment > config file > .env
// file > defaults. Empty paths skip the corresponding file; a missing .env
// is not an error.
func Load(envPath, configPath string) (Config, error) {
	v := newViper()

	if envPath == "" {
		envPath = ".env"
	}
	dotenv, err := godotenv.Read(envPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read %s: %w", envPath, err)
	}
	for _, key := range v.AllKeys() {
		if val, ok := dotenv[envName(key)]; ok {
			v.SetDefault(key, val)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", configPath, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg, err := decode(v)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "pebble", "redis":
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend)
	}
	if c.Exchange.MatchLimit <= 0 {
		return fmt.Errorf("exchange.match_limit: must be positive, got %d", c.Exchange.MatchLimit)
	}
	if c.Exchange.FeeReceiver != "" && !common.IsHexAddress(c.Exchange.FeeReceiver) {
		return fmt.Errorf("exchange.fee_receiver: invalid address %q", c.Exchange.FeeReceiver)
	}
	if c.Exchange.VerifyingContract != "" && !common.IsHexAddress(c.Exchange.VerifyingContract) {
		return fmt.Errorf("exchange.verifying_contract: invalid address %q", c.Exchange.VerifyingContract)
	}
	if _, err := parseAddresses(c.Exchange.FeeExempt); err != nil {
		return fmt.Errorf("exchange.fee_exempt: %w", err)
	}
	if _, err := parseAddresses(c.Exchange.Operators); err != nil {
		return fmt.Errorf("exchange.operators: %w", err)
	}
	for i, e := range c.Royalty.Entries {
		if !common.IsHexAddress(e.Token) || !common.IsHexAddress(e.Account) {
			return fmt.Errorf("royalty.entries[%d]: invalid address", i)
		}
		if e.TokenID != "" {
			if _, ok := new(big.Int).SetString(e.TokenID, 10); !ok {
				return fmt.Errorf("royalty.entries[%d]: invalid token id %q", i, e.TokenID)
			}
		}
	}
	return nil
}

func parseAddresses(in []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid address %q", s)
		}
		out = append(out, common.HexToAddress(s))
	}
	return out, nil
}

func (e Exchange) FeeReceiverAddress() common.Address { return common.HexToAddress(e.FeeReceiver) }

func (e Exchange) FeeExemptAddresses() []common.Address {
	out, _ := parseAddresses(e.FeeExempt)
	return out
}

func (e Exchange) OperatorAddresses() []common.Address {
	out, _ := parseAddresses(e.Operators)
	return out
}
