// Package cmd defines the CLI commands for the shadowprobe executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/shadowprobe/internal/app"
	"github.com/JakeFAU/shadowprobe/internal/catalog"
	"github.com/JakeFAU/shadowprobe/internal/config"
	"github.com/JakeFAU/shadowprobe/internal/logging"
)

// Runner is the slice of *app.App the commands use. Tests swap in their own.
type Runner interface {
	Run(ctx context.Context, req app.RunRequest) (*app.RunResult, error)
	Catalog() catalog.Catalog
	Close(ctx context.Context) error
}

// newApp is the application factory. It is a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runner, error) {
	return app.New(ctx, cfg, logger)
}

type rootOptions struct {
	cfgFile string
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "shadowprobe",
		Short: "Check which web services have an account for a username.",
		Long: `shadowprobe probes a catalog of web services concurrently and reports,
for each one, whether a profile page exists for the given username.

Each run issues at most one GET per site, honors robots.txt on request,
and writes the results as JSON or CSV.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().Bool("dev", true, "development logging (console encoder)")

	cmd.AddCommand(newProbeCmd(opts))
	cmd.AddCommand(newSitesCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads configuration with the command's flags bound over it and builds
// the logger.
func setup(cmd *cobra.Command, opts *rootOptions) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(opts.cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}
