package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/uhyunpark/marketplace/pkg/node"
	"github.com/uhyunpark/marketplace/pkg/util"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the matching node",
	Long: `Run the matching node: REST/WebSocket API, fill ledger, match history
and, when enabled, the libp2p order relay.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := util.NewLogger(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return err
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "level", cfg.Log.Level, "log_file", cfg.Log.File)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := node.New(ctx, cfg, sugar)
	if err != nil {
		sugar.Errorw("node_init_failed", "err", err)
		return err
	}
	defer func() {
		if err := n.Close(); err != nil {
			sugar.Warnw("node_close_failed", "err", err)
		}
	}()

	if n.Relay != nil {
		sugar.Infow("p2p_addrs", "addrs", n.Relay.Addrs())
	}

	if err := n.Run(ctx); err != nil && ctx.Err() == nil {
		sugar.Errorw("node_failed", "err", err)
		return err
	}
	sugar.Info("node_stopped")
	return nil
}
