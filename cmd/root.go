// Package cmd defines and implements the CLI commands for the novel-crawler
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/novel-crawler/internal/app"
	"github.com/JakeFAU/novel-crawler/internal/config"
	"github.com/JakeFAU/novel-crawler/internal/logging"
)

// rootOptions carries state shared by every subcommand.
type rootOptions struct {
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
}

// newApp is the application factory. It's a variable so tests can inject
// a launcher or store.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger, app.Options{})
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "novel-crawler",
		Short: "Crawls serialized-fiction sites into a novel store.",
		Long: `novel-crawler discovers novels and their chapter lists, then fetches every
pending chapter through a pool of fingerprinted browser sessions, decoding
font-obfuscated text before it is stored.`,
		SilenceUsage: true,

		// Config and logger are built before any subcommand runs.
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			opts.cfg = cfg
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML); env NOVELCRAWLER_* overrides")

	cmd.AddCommand(
		newRunCmd(opts, app.ModeAll),
		newRunCmd(opts, app.ModeNovels),
		newRunCmd(opts, app.ModeChapters),
		newAddCmd(opts),
		newDecodeCmd(opts),
		newCatalogCmd(opts),
	)
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}
