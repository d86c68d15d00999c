// services/quote-relay/cmd/quote-relay/main.go
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/YaganovValera/dxfeed-go/common/configloader"
	"github.com/YaganovValera/dxfeed-go/common/logger"
	"github.com/YaganovValera/dxfeed-go/common/shutdown"
	"github.com/YaganovValera/dxfeed-go/services/quote-relay/internal/app"
	"github.com/YaganovValera/dxfeed-go/services/quote-relay/internal/config"
)

// flagBindings: флаг → ключ конфига.
var flagBindings = map[string]string{
	"address":   "dxfeed.address",
	"symbols":   "feed.symbols",
	"kinds":     "feed.kinds",
	"simulate":  "feed.simulate",
	"log-level": "logging.level",
	"http-addr": "http.addr",
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "quote-relay: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "quote-relay",
		Short:         "Relays dxFeed market events to stdout, Kafka, Redis and WebSocket clients",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "path to config file (YAML)")
	pf.String("address", "", "dxFeed endpoint host:port")
	pf.StringSlice("symbols", nil, "symbols to subscribe, e.g. AAPL,MSFT")
	pf.String("kinds", "", "event kinds, e.g. quote,trade or all")
	pf.Bool("simulate", false, "use the built-in feed simulator instead of the native library")
	pf.String("log-level", "", "log level: debug|info|warn|error")
	pf.String("http-addr", "", "HTTP listen address")

	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			return configloader.PrintConfig(cmd.OutOrStdout(), cfg.Redacted())
		},
	})
	return root
}

func loadConfig(path string, flags *pflag.FlagSet) (*config.Config, error) {
	opts := make([]configloader.Option, 0, len(flagBindings))
	for name, key := range flagBindings {
		opts = append(opts, configloader.WithFlag(key, flags.Lookup(name)))
	}
	cfg, err := config.Load(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func run(cfg *config.Config) error {
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go shutdown.WaitForSignals(ctx, cancel, log)

	log.Info("starting service",
		zap.String("service.name", cfg.ServiceName),
		zap.String("service.version", cfg.ServiceVersion),
		zap.Bool("simulate", cfg.Feed.Simulate),
	)

	if err := app.Run(ctx, cfg, log); err != nil {
		log.Error("application exited with error", zap.Error(err))
		return err
	}
	log.Info("shutdown complete")
	return nil
}
