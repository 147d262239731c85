// Package headless drives Chrome through chromedp and adapts it to the
// browser package's Launcher, Process and Tab capabilities.
package headless

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/novel-crawler/internal/browser"
)

// Config controls how Chrome is launched.
type Config struct {
	Headless  bool
	ExecPath  string
	NoSandbox bool
	// StartTimeout bounds the initial browser handshake.
	StartTimeout time.Duration
}

// Launcher starts Chrome processes.
type Launcher struct {
	cfg    Config
	logger *zap.Logger
}

// NewLauncher creates a chromedp-backed browser.Launcher.
func NewLauncher(cfg Config, logger *zap.Logger) *Launcher {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{cfg: cfg, logger: logger.Named("chromedp")}
}

func (l *Launcher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.cfg.Headless),
		chromedp.Flag("disable-gpu", l.cfg.Headless),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-features", "TranslateUI"),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)
	if l.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	return opts
}

// Start launches Chrome and waits for the first target to attach.
func (l *Launcher) Start(ctx context.Context) (browser.Process, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(l.logger.Sugar().Debugf),
		chromedp.WithErrorf(l.logger.Sugar().Debugf),
	)

	startCtx, cancel := context.WithTimeout(browserCtx, l.cfg.StartTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(startCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	return &Process{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		logger:      l.logger,
	}, nil
}

// Process is a running Chrome instance. Each Tab is a separate target
// inside it.
type Process struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	closeOnce   sync.Once
	logger      *zap.Logger
}

// NewTab opens a target and applies the fingerprint, stealth script and
// request blocking to it before any navigation.
func (p *Process) NewTab(ctx context.Context, fp browser.Fingerprint, opts browser.TabOptions) (browser.Tab, error) {
	tabCtx, tabCancel := chromedp.NewContext(p.ctx)
	t := &Tab{
		ctx:        tabCtx,
		cancel:     tabCancel,
		navTimeout: opts.NavigationTimeout,
		meta:       newResponseMeta(),
	}
	if t.navTimeout <= 0 {
		t.navTimeout = 60 * time.Second
	}
	chromedp.ListenTarget(tabCtx, t.meta.captureEvent)
	if opts.OnConsoleError != nil {
		chromedp.ListenTarget(tabCtx, consoleListener(opts.OnConsoleError))
	}

	setupCtx, cancel := context.WithTimeout(tabCtx, 30*time.Second)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(setupCtx, setupActions(fp, opts.BlockedURLs)...); err != nil {
		tabCancel()
		return nil, fmt.Errorf("prepare tab: %w", err)
	}
	return t, nil
}

// Done is closed when Chrome exits or the connection drops.
func (p *Process) Done() <-chan struct{} {
	return p.ctx.Done()
}

// Close shuts Chrome down.
func (p *Process) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if cerr := chromedp.Cancel(p.ctx); cerr != nil {
			err = fmt.Errorf("cancel browser: %w", cerr)
		}
		p.cancel()
		p.allocCancel()
	})
	return err
}

func setupActions(fp browser.Fingerprint, blocked []string) []chromedp.Action {
	actions := []chromedp.Action{
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return applyFingerprint(ctx, fp)
		}),
	}
	if len(blocked) > 0 {
		actions = append(actions, network.SetBlockedURLs(blocked))
	}
	return actions
}
