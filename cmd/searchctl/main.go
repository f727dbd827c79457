// Command searchctl is the operator CLI for a running dispatcher.
//
// Usage:
//
//	searchctl search -q "distributed systems" [--page 2]
//	searchctl add-url https://example.com
//	searchctl inlinks https://example.com/about
//	searchctl stats
//	searchctl events --topic search-events
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/internal/dispatcher"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/rpc"
)

var (
	cfgFile        string
	dispatcherAddr string
	jsonOutput     bool
	cfg            *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "searchctl",
	Short: "Query and feed a replicated crawl-and-search cluster",
	Long: `searchctl talks to a dispatcher over its RPC port.

Examples:
  searchctl search -q "go crawler"
  searchctl add-url https://go.dev
  searchctl stats --json`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger.Setup(config.LoggingConfig{Level: "warn"}, "searchctl")
		if dispatcherAddr == "" {
			dispatcherAddr = cfg.Dispatcher.AdvertiseAddr
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&dispatcherAddr, "dispatcher", "", "dispatcher RPC address (default from config)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw JSON")
}

func connect() (*dispatcher.Client, error) {
	c, err := rpc.Dial(dispatcherAddr)
	if err != nil {
		return nil, fmt.Errorf("connecting to dispatcher at %s: %w", dispatcherAddr, err)
	}
	return dispatcher.NewClient(c), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
