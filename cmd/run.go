package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/novel-crawler/internal/app"
	"github.com/JakeFAU/novel-crawler/internal/lock"
)

var runDescriptions = map[app.Mode]struct{ use, short string }{
	app.ModeAll:      {"run", "Process pending novels, then pending chapters"},
	app.ModeNovels:   {"novels", "Process pending novels only"},
	app.ModeChapters: {"chapters", "Process pending chapters only"},
}

func newRunCmd(opts *rootOptions, mode app.Mode) *cobra.Command {
	desc := runDescriptions[mode]
	return &cobra.Command{
		Use:   desc.use,
		Short: desc.short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd.Context(), opts, mode)
		},
	}
}

func runCrawl(parent context.Context, opts *rootOptions, mode app.Mode) error {
	logger := opts.logger
	runLock, err := lock.Acquire(opts.cfg.Lock.Path)
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	defer func() {
		if rerr := runLock.Release(); rerr != nil {
			logger.Warn("release run lock", zap.Error(rerr))
		}
	}()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, opts.cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer a.Close()

	serveCtx, stopServe := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(serveCtx)
	g.Go(func() error { return a.Serve(gctx) })

	sum, runErr := a.Run(ctx, mode)
	stopServe()
	if err := g.Wait(); err != nil {
		logger.Warn("ops server stopped with error", zap.Error(err))
	}

	logger.Info("crawl finished",
		zap.String("mode", string(mode)),
		zap.Int("novels_processed", sum.Novels.Processed),
		zap.Int("novels_failed", sum.Novels.Failed),
		zap.Int("chapters_processed", sum.Chapters.Processed),
		zap.Int("chapters_failed", sum.Chapters.Failed),
	)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("run %s: %w", mode, runErr)
	}
	return nil
}
