package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/glucosync/glucosync/internal/app"
	"github.com/glucosync/glucosync/pkg/config"
	"github.com/glucosync/glucosync/pkg/connector/registry"
	"github.com/glucosync/glucosync/pkg/logger"

	// Import all providers to register them
	_ "github.com/glucosync/glucosync/pkg/connector/providers/dexshare"
	_ "github.com/glucosync/glucosync/pkg/connector/providers/nutrition"
	_ "github.com/glucosync/glucosync/pkg/connector/providers/pumplog"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "glucosync",
		Short: "GlucoSync - diabetes data aggregation service",
		Long: `GlucoSync polls CGM share APIs, insulin pump logs and nutrition
trackers, normalizes their data into a common record stream, and emits
it to a configured sink on a per-provider schedule.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("GlucoSync v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "providers",
		Short: "List available provider kinds",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available providers:")
			for _, kind := range registry.ListProviders() {
				fmt.Printf("  - %s\n", kind)
			}
		},
	})

	var configFile string
	var apiAddr string

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync service",
		Long: `Run the sync service with the given configuration file. One
scheduler is started per enabled provider; the service runs until
interrupted.

Example:
  glucosync run --config config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(configFile, apiAddr)
		},
	}
	runCmd.Flags().StringVarP(&configFile, "config", "c", "config.yaml", "Configuration file")
	runCmd.Flags().StringVar(&apiAddr, "addr", "", "Status server listen address (overrides config)")
	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runService(configFile, apiAddr string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if apiAddr != "" {
		cfg.API.Addr = apiAddr
		cfg.API.Enabled = true
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		Encoding:    cfg.Log.Encoding,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.Get()
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to build service: %w", err)
	}

	a.Start(ctx)
	log.Info("glucosync started", zap.String("version", version))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", zap.String("signal", sig.String()))

	cancel()
	a.Stop(context.Background())
	return nil
}
