// Package main is the bedtime terminal client.
//
// Running `bedtime` opens the planner UI against the configured store. The
// plan is mirrored in a local cache so the UI opens even when the store is
// unreachable; edits are pushed once it answers again.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kingrea/bedtime/internal/cache"
	"github.com/kingrea/bedtime/internal/config"
	"github.com/kingrea/bedtime/internal/logging"
	"github.com/kingrea/bedtime/internal/planner"
	"github.com/kingrea/bedtime/internal/stateapi"
	"github.com/kingrea/bedtime/internal/syncclient"
	"github.com/kingrea/bedtime/internal/tui"
	"github.com/kingrea/bedtime/internal/wire"
)

const appName = "bedtime"

// Version is overridden at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	logLevel   string
	apiBase    string
}

// load reads the config and applies flag overrides on top of file and
// environment values.
func (f *rootFlags) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if cmd.Flags().Changed("api") {
		cfg.Client.APIBase = strings.TrimRight(strings.TrimSpace(f.apiBase), "/")
		cfg.Client.PushURL = wire.PushURL(cfg.Client.APIBase)
	}
	return cfg, nil
}

func rootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Plan the evening before bed",
		Long: `bedtime shows tonight's tasks, how long until bed and how much slack is
left, and keeps the plan in sync with everyone else connected to the store.

Keys: n new task, e edit, b bedtime, s start/stop timer, d done, x delete,
S save, R reset, ? help, q quit.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			return runTUI(cmd.Context(), cfg)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML, default ./bedtime.yaml)")
	pf.StringVar(&flags.logLevel, "log-level", config.DefaultLogLevel, "Log level (debug, info, warn, error)")
	pf.StringVar(&flags.apiBase, "api", config.DefaultAPIBase, "Store base URL")

	cmd.AddCommand(
		statusCmd(flags),
		initCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
			},
		},
	)
	return cmd
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Write a commented default config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultFileName
			if len(args) == 1 {
				path = args[0]
			}
			wrote, err := config.EnsureFile(path)
			if err != nil {
				return err
			}
			if wrote {
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", path)
			}
			return nil
		},
	}
}

func runTUI(parent context.Context, cfg *config.Config) error {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logFile, err := logging.OpenFile(cfg.LogFilePath(), level)
	if err != nil {
		return err
	}
	defer logFile.Close()
	logger := logFile.Logger

	variant, err := stateapi.ParseVariant(cfg.Client.Variant)
	if err != nil {
		return err
	}
	policy, err := syncclient.ParsePolicy(cfg.Client.Policy)
	if err != nil {
		return err
	}
	cacheStore, err := cache.Open(cfg.Client.CacheDriver, cfg.CacheDir())
	if err != nil {
		return err
	}
	defer cacheStore.Close()

	api := stateapi.New(cfg.Client.APIBase,
		stateapi.WithVariant(variant),
		stateapi.WithPushURL(cfg.Client.PushURL),
		stateapi.WithLogger(logger),
	)
	client := syncclient.NewClient(api, cache.NewStateCache(cacheStore, planner.DefaultNormalizer),
		syncclient.WithPolicy(policy),
		syncclient.WithPushTimeout(cfg.Client.PushTimeout),
		syncclient.WithLogger(logger),
	)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Info("session opened", "version", Version, "api", cfg.Client.APIBase,
		"variant", variant, "policy", policy, "cache", cfg.Client.CacheDriver, "log", logFile.Path())
	go func() { _ = client.Run(ctx) }()

	app := tui.NewApp(client,
		tui.WithLogger(logger),
		tui.WithEndpoint(cfg.Client.APIBase),
		tui.WithManualSave(policy == syncclient.PolicyManual),
	)
	_, err = tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	cancel()
	<-client.Done()
	logger.Info("session closed")
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w (log: %s)", err, logFile.Path())
	}
	return nil
}
