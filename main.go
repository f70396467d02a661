package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/pixa/app"
	"github.com/mrsingh-rishi/pixa/config"
	"github.com/mrsingh-rishi/pixa/logging"
)

// Set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

type flags struct {
	configPath string
	envFile    string
	logLevel   string
	logFormat  string
	httpAddr   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:          "pixa",
		Short:        "Speech-to-speech assistant over MQTT",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cmd, f)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "path to a YAML config file")
	pf.StringVar(&f.envFile, "env-file", ".env", "dotenv file to load if present")
	pf.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&f.logFormat, "log-format", "", "log format (json, console)")
	pf.StringVar(&f.httpAddr, "http-addr", "", "status server address, empty string keeps the configured value")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cmd, f)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "pixa", Version)
		},
	})
	return root
}

// loadConfig applies flags over file and environment settings.
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	cfg, err := config.NewLoader().
		WithConfigPath(f.configPath).
		WithEnvFile(f.envFile).
		Load()
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if cmd.Flags().Changed("http-addr") {
		cfg.Server.HTTPAddr = f.httpAddr
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cobra.Command, f *flags) error {
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, Version, logger)
	if err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return err
	}
	if err := a.Run(ctx); err != nil {
		logger.Error("pixa exited with error", zap.Error(err))
		return err
	}
	return nil
}
