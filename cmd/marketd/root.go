package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/uhyunpark/marketplace/params"
)

var (
	configFile string
	envFile    string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "marketd",
	Short: "marketd - off-chain NFT/ERC20 order matching node",
	Long: `marketd matches signed orders for ERC20, ERC721 and ERC1155 assets,
tracks partial fills, and settles trades with protocol fees and royalties.`,
	Version:       "0.1.0-dev",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "conf", "", "configuration file path (yaml, toml or json)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", ".env file path (default ./.env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level")
}

func loadConfig() (params.Config, error) {
	cfg, err := params.Load(envFile, configFile)
	if err != nil {
		return params.Config{}, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}
