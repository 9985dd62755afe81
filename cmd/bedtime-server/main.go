// Package main runs the bedtime shared-state server: one JSON document, the
// legacy and v1 state endpoints, and WebSocket/SSE push to every client.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kingrea/bedtime/internal/config"
	"github.com/kingrea/bedtime/internal/hub"
	"github.com/kingrea/bedtime/internal/logging"
	"github.com/kingrea/bedtime/internal/server"
	"github.com/kingrea/bedtime/internal/store"
)

const (
	appName         = "bedtime-server"
	shutdownTimeout = 5 * time.Second
)

// Version is overridden at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		host       string
		port       int
	)

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Serve the shared bedtime plan",
		Long: `bedtime-server keeps the single shared plan document and pushes every
accepted write to connected clients over WebSocket (/ws) and SSE (/state/stream).

The document is kept in memory, in Postgres or in a NATS JetStream KV bucket,
as selected by server.store.backend in the config file or BEDTIME_STORE_BACKEND.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML, default ./bedtime.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&host, "host", config.DefaultHost, "Address to bind")
	cmd.Flags().IntVar(&port, "port", config.DefaultPort, "Port to bind (0 picks a free one)")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
		},
	})

	return cmd
}

func run(parent context.Context, cfg *config.Config) error {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, level)
	slog.SetDefault(logger)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(ctx, cfg.Server.Store)
	if err != nil {
		return err
	}
	logger.Info("store backend ready", "backend", cfg.Server.Store.Backend)

	metrics := server.NewMetrics()
	h := hub.New(hub.WithLogger(logger), hub.WithDropHook(metrics.MessageDropped))
	st, err := store.Open(ctx, backend, store.WithLogger(logger), store.WithHub(h))
	if err != nil {
		_ = backend.Close()
		return err
	}

	srv := server.NewServer(server.SettingsFromConfig(cfg), st,
		server.WithLogger(logger),
		server.WithMetrics(metrics),
		server.WithVersion(Version),
	)
	if err := srv.Start(ctx); err != nil {
		_ = st.Close()
		return err
	}
	logger.Info("bedtime server ready", "version", Version, "url", srv.BaseURL())

	<-ctx.Done()
	logger.Info("received shutdown signal")

	// Closing the store ends every push channel, which lets Shutdown finish.
	if err := st.Close(); err != nil {
		logger.Warn("store close failed", "error", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("bedtime server stopped")
	return nil
}
