// Package fetch loads a page through a pooled browser session, working
// around bot challenges, CAPTCHAs and soft blocks with bounded retries.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/novel-crawler/internal/browser"
	"github.com/JakeFAU/novel-crawler/internal/captcha"
	"github.com/JakeFAU/novel-crawler/internal/crawler"
	"github.com/JakeFAU/novel-crawler/internal/metrics"
	"github.com/JakeFAU/novel-crawler/internal/random"
)

// Pool is the part of browser.PoolManager the fetcher needs.
type Pool interface {
	Stats(s *browser.Session) browser.Stats
	Recycle(ctx context.Context, s *browser.Session) (*browser.Session, error)
}

// Config tunes retries and pacing.
type Config struct {
	Retries       int
	ChallengeWait time.Duration
	ChallengePoll time.Duration
	PacingMin     time.Duration
	PacingMax     time.Duration
	SettleMin     time.Duration
	SettleMax     time.Duration
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	BackoffJitter time.Duration
	BlockBase     time.Duration
	BlockJitter   time.Duration
	// MinHTMLLength rejects pages shorter than this many characters.
	MinHTMLLength int
	// GenericBlockMaxLength limits the generic block phrases to small pages.
	GenericBlockMaxLength int
}

// DefaultConfig returns the production retry policy.
func DefaultConfig() Config {
	return Config{
		Retries:               3,
		ChallengeWait:         20 * time.Second,
		ChallengePoll:         time.Second,
		PacingMin:             500 * time.Millisecond,
		PacingMax:             1500 * time.Millisecond,
		SettleMin:             1000 * time.Millisecond,
		SettleMax:             2000 * time.Millisecond,
		BackoffBase:           2 * time.Second,
		BackoffMax:            10 * time.Second,
		BackoffJitter:         2 * time.Second,
		BlockBase:             5 * time.Second,
		BlockJitter:           5 * time.Second,
		MinHTMLLength:         100,
		GenericBlockMaxLength: 5000,
	}
}

// Result is a successfully fetched page. Session is the session that should
// be used from now on; Recycled reports whether it replaced the caller's.
type Result struct {
	HTML     string
	Session  *browser.Session
	Recycled bool
}

// Fetcher runs the per-request retry state machine.
type Fetcher struct {
	cfg     Config
	pool    Pool
	solver  captcha.Solver
	sleeper crawler.Sleeper
	rand    crawler.Random
	logger  *zap.Logger
}

// New builds a Fetcher. A nil solver means CAPTCHAs are never solved.
func New(cfg Config, pool Pool, solver captcha.Solver, sleeper crawler.Sleeper, rnd crawler.Random, logger *zap.Logger) *Fetcher {
	def := DefaultConfig()
	if cfg.Retries <= 0 {
		cfg.Retries = def.Retries
	}
	if cfg.ChallengePoll <= 0 {
		cfg.ChallengePoll = def.ChallengePoll
	}
	if cfg.MinHTMLLength <= 0 {
		cfg.MinHTMLLength = def.MinHTMLLength
	}
	if cfg.GenericBlockMaxLength <= 0 {
		cfg.GenericBlockMaxLength = def.GenericBlockMaxLength
	}
	if solver == nil {
		solver = captcha.Unavailable{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:     cfg,
		pool:    pool,
		solver:  solver,
		sleeper: sleeper,
		rand:    rnd,
		logger:  logger.Named("fetch"),
	}
}

// Fetch loads url with sess. The returned Result carries the current session
// even when an error is returned, so callers never keep a recycled one.
func (f *Fetcher) Fetch(ctx context.Context, sess *browser.Session, url string) (Result, error) {
	res := Result{Session: sess}
	logger := f.logger.With(zap.String("url", url))

	if f.pool.Stats(sess).ShouldRecycle {
		if err := f.recycle(ctx, &res, "usage ceiling"); err != nil {
			return res, err
		}
	}

	var last error
	for attempt := 0; attempt < f.cfg.Retries; attempt++ {
		html, err := f.attempt(ctx, res.Session, url, logger.With(zap.Int("attempt", attempt+1)))
		if err == nil {
			metrics.ObserveFetchAttempt("success")
			f.humanize(ctx, res.Session)
			res.HTML = html
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, fmt.Errorf("fetch %s: %w", url, ctxErr)
		}

		var ferr *Error
		if !errors.As(err, &ferr) {
			ferr = &Error{Kind: KindNetwork, Err: err}
		}
		metrics.ObserveFetchAttempt(string(ferr.Kind))
		if !ferr.Retryable() {
			logger.Info("fetch failed permanently", zap.Int("status", ferr.Status), zap.Error(ferr))
			return res, ferr
		}
		last = ferr
		logger.Warn("fetch attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Int("retries", f.cfg.Retries),
			zap.String("kind", string(ferr.Kind)),
			zap.Error(ferr),
		)
		if attempt == f.cfg.Retries-1 {
			break
		}

		if ferr.Kind == KindBlocked {
			wait := time.Duration(attempt+1)*f.cfg.BlockBase + random.DurationBetween(f.rand, 0, f.cfg.BlockJitter)
			logger.Warn("block detected; backing off", zap.Duration("wait", wait))
			if err := f.sleeper.Sleep(ctx, wait); err != nil {
				return res, fmt.Errorf("fetch %s: %w", url, err)
			}
			if err := f.recycle(ctx, &res, "blocked"); err != nil {
				return res, err
			}
			continue
		}

		if err := f.sleeper.Sleep(ctx, f.backoff(attempt)); err != nil {
			return res, fmt.Errorf("fetch %s: %w", url, err)
		}
		if attempt >= 1 && !res.Recycled {
			if err := f.recycle(ctx, &res, "repeated failures"); err != nil {
				return res, err
			}
		}
	}
	return res, &ExhaustedError{Attempts: f.cfg.Retries, Last: last}
}

// backoff is min(base*2^attempt, max) plus jitter.
func (f *Fetcher) backoff(attempt int) time.Duration {
	d := f.cfg.BackoffMax
	if attempt < 16 {
		d = min(f.cfg.BackoffBase<<attempt, f.cfg.BackoffMax)
	}
	return d + random.DurationBetween(f.rand, 0, f.cfg.BackoffJitter)
}

func (f *Fetcher) recycle(ctx context.Context, res *Result, reason string) error {
	fresh, err := f.pool.Recycle(ctx, res.Session)
	if err != nil {
		return fmt.Errorf("recycle session: %w", err)
	}
	f.logger.Info("session recycled", zap.String("reason", reason), zap.String("session_id", fresh.ID))
	res.Session = fresh
	res.Recycled = true
	return nil
}
