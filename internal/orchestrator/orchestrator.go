// Package orchestrator drives the novel and chapter batches: it picks up
// PENDING items, moves each through PROCESSING to SUCCESS or ERROR, and paces
// requests against the target site.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/novel-crawler/internal/browser"
	"github.com/JakeFAU/novel-crawler/internal/crawler"
	"github.com/JakeFAU/novel-crawler/internal/metrics"
	"github.com/JakeFAU/novel-crawler/internal/random"
)

// Pool is the part of browser.PoolManager the runner needs.
type Pool interface {
	Acquire(ctx context.Context, forceNew bool) (*browser.Session, error)
	Recycle(ctx context.Context, s *browser.Session) (*browser.Session, error)
	Stats(s *browser.Session) browser.Stats
	CloseAll() error
}

// NovelDiscoverer recovers novel metadata and chapter links.
type NovelDiscoverer interface {
	DiscoverNovel(ctx context.Context, sess *browser.Session, novel crawler.Novel) (crawler.NovelResult, *browser.Session, error)
}

// ChapterDiscoverer recovers chapter text.
type ChapterDiscoverer interface {
	DiscoverChapter(ctx context.Context, sess *browser.Session, chapter crawler.Chapter) (crawler.ChapterResult, *browser.Session, error)
}

// Config paces the batches.
type Config struct {
	NovelDelayMin   time.Duration
	NovelDelayMax   time.Duration
	ChapterDelayMin time.Duration
	ChapterDelayMax time.Duration
	NovelPenalty    time.Duration
	ChapterPenalty  time.Duration
	// PenaltyRecycleProbability is the chance a novel failure forces a new session.
	PenaltyRecycleProbability float64
	// Topic receives chapter completion events. Empty disables publishing.
	Topic string
}

// DefaultConfig returns the production pacing.
func DefaultConfig() Config {
	return Config{
		NovelDelayMin:             2000 * time.Millisecond,
		NovelDelayMax:             4000 * time.Millisecond,
		ChapterDelayMin:           1500 * time.Millisecond,
		ChapterDelayMax:           3000 * time.Millisecond,
		NovelPenalty:              5000 * time.Millisecond,
		ChapterPenalty:            3000 * time.Millisecond,
		PenaltyRecycleProbability: 0.5,
	}
}

// BatchSummary counts the items of one batch.
type BatchSummary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Summary is the outcome of a full run.
type Summary struct {
	Novels   BatchSummary `json:"novels"`
	Chapters BatchSummary `json:"chapters"`
}

// ChapterEvent is published when a chapter reaches SUCCESS.
type ChapterEvent struct {
	ChapterID int64  `json:"chapter_id"`
	NovelID   int64  `json:"novel_id"`
	URL       string `json:"url"`
	Title     string `json:"title"`
}

// Runner processes batches sequentially with one borrowed session at a time.
type Runner struct {
	cfg       Config
	store     crawler.Store
	pool      Pool
	novels    NovelDiscoverer
	chapters  ChapterDiscoverer
	publisher crawler.Publisher
	sleeper   crawler.Sleeper
	rand      crawler.Random
	logger    *zap.Logger

	sess *browser.Session
}

// New builds a Runner. publisher may be nil.
func New(
	cfg Config,
	store crawler.Store,
	pool Pool,
	novels NovelDiscoverer,
	chapters ChapterDiscoverer,
	publisher crawler.Publisher,
	sleeper crawler.Sleeper,
	rnd crawler.Random,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:       cfg,
		store:     store,
		pool:      pool,
		novels:    novels,
		chapters:  chapters,
		publisher: publisher,
		sleeper:   sleeper,
		rand:      rnd,
		logger:    logger.Named("orchestrator"),
	}
}

// Run processes pending novels, then pending chapters (including those the
// novel batch just inserted), and closes every session before returning.
// Only setup failures and cancellation are returned as errors.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	defer r.Close()

	var sum Summary
	var err error
	sum.Novels, err = r.RunNovels(ctx)
	if err != nil {
		return sum, err
	}
	sum.Chapters, err = r.RunChapters(ctx)
	return sum, err
}

func (r *Runner) Close() {
	r.sess = nil
	if err := r.pool.CloseAll(); err != nil {
		r.logger.Warn("close sessions", zap.Error(err))
	}
}

// item is one unit of a batch.
type item struct {
	kind    string
	id      int64
	url     string
	process func(ctx context.Context, sess *browser.Session) (*browser.Session, error)
	setErr  func(ctx context.Context, msg string) error
	delay   func() time.Duration
	penalty time.Duration
	recycle bool
}

// RunNovels processes every PENDING novel once.
func (r *Runner) RunNovels(ctx context.Context) (BatchSummary, error) {
	novels, err := r.store.ListPendingNovels(ctx)
	if err != nil {
		return BatchSummary{}, fmt.Errorf("list pending novels: %w", err)
	}
	items := make([]item, 0, len(novels))
	for _, n := range novels {
		items = append(items, item{
			kind: "novel",
			id:   n.ID,
			url:  n.URL,
			process: func(ctx context.Context, sess *browser.Session) (*browser.Session, error) {
				return r.processNovel(ctx, sess, n)
			},
			setErr: func(ctx context.Context, msg string) error {
				return r.store.SetNovelStatus(ctx, n.ID, crawler.StatusError, msg)
			},
			delay: func() time.Duration {
				return random.DurationBetween(r.rand, r.cfg.NovelDelayMin, r.cfg.NovelDelayMax)
			},
			penalty: r.cfg.NovelPenalty,
			recycle: true,
		})
	}
	return r.runBatch(ctx, "novel", items)
}

// RunChapters processes every PENDING chapter once.
func (r *Runner) RunChapters(ctx context.Context) (BatchSummary, error) {
	chapters, err := r.store.ListPendingChapters(ctx)
	if err != nil {
		return BatchSummary{}, fmt.Errorf("list pending chapters: %w", err)
	}
	items := make([]item, 0, len(chapters))
	for _, c := range chapters {
		items = append(items, item{
			kind: "chapter",
			id:   c.ID,
			url:  c.URL,
			process: func(ctx context.Context, sess *browser.Session) (*browser.Session, error) {
				return r.processChapter(ctx, sess, c)
			},
			setErr: func(ctx context.Context, msg string) error {
				return r.store.SetChapterStatus(ctx, c.ID, crawler.StatusError, msg)
			},
			delay: func() time.Duration {
				return random.DurationBetween(r.rand, r.cfg.ChapterDelayMin, r.cfg.ChapterDelayMax)
			},
			penalty: r.cfg.ChapterPenalty,
		})
	}
	return r.runBatch(ctx, "chapter", items)
}

// outcome of one item.
type outcome int

const (
	outcomeSuccess outcome = iota
	// outcomeFailed is a discovery failure recorded as ERROR.
	outcomeFailed
	// outcomeCrashed is an unexpected failure (panic, store write) that
	// costs a penalty delay.
	outcomeCrashed
)

// errDiscovery marks failures returned by a discoverer.
type errDiscovery struct{ err error }

func (e errDiscovery) Error() string { return e.err.Error() }
func (e errDiscovery) Unwrap() error { return e.err }

func (r *Runner) runBatch(ctx context.Context, kind string, items []item) (BatchSummary, error) {
	var sum BatchSummary
	logger := r.logger.With(zap.String("kind", kind))
	logger.Info("batch started", zap.Int("pending", len(items)))

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			logger.Warn("batch interrupted", zap.Int("processed", sum.Processed), zap.Error(err))
			return sum, fmt.Errorf("%s batch interrupted: %w", kind, err)
		}

		res, err := r.runItem(ctx, it)
		switch {
		case errors.Is(err, browser.ErrStart):
			logger.Error("automation process unavailable", zap.Error(err))
			return sum, fmt.Errorf("%s batch: %w", kind, err)
		case err != nil:
			logger.Warn("batch interrupted", zap.Int64("id", it.id), zap.Int("processed", sum.Processed), zap.Error(err))
			return sum, fmt.Errorf("%s batch interrupted: %w", kind, err)
		}
		sum.Processed++
		switch res {
		case outcomeSuccess:
			sum.Succeeded++
			metrics.ObserveItem(kind, crawler.StatusSuccess.String())
			r.pause(ctx, it.delay())
		case outcomeFailed:
			sum.Failed++
			metrics.ObserveItem(kind, crawler.StatusError.String())
			r.pause(ctx, it.delay())
		case outcomeCrashed:
			sum.Failed++
			metrics.ObserveItem(kind, crawler.StatusError.String())
			r.penalize(ctx, it)
		}
	}

	logger.Info("batch finished",
		zap.Int("processed", sum.Processed),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
	)
	return sum, nil
}

// runItem takes one item through PROCESSING to a terminal status. A returned
// error wrapping browser.ErrStart aborts the batch. When ctx is cancelled
// mid-item the status is left as last persisted and ctx's error is returned.
func (r *Runner) runItem(ctx context.Context, it item) (res outcome, fatal error) {
	logger := r.logger.With(zap.String("kind", it.kind), zap.Int64("id", it.id), zap.String("url", it.url))

	defer func() {
		if p := recover(); p != nil {
			logger.Error("item panicked", zap.Any("panic", p), zap.Stack("stack"))
			r.markError(ctx, logger, it, fmt.Sprintf("panic: %v", p))
			res, fatal = outcomeCrashed, nil
		}
	}()

	sess, err := r.session(ctx)
	if err != nil {
		if errors.Is(err, browser.ErrStart) {
			return outcomeCrashed, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return outcomeCrashed, ctxErr
		}
		logger.Error("acquire session", zap.Error(err))
		r.markError(ctx, logger, it, err.Error())
		return outcomeCrashed, nil
	}

	next, err := it.process(ctx, sess)
	if next != nil {
		r.sess = next
	}
	var discoveryErr errDiscovery
	switch {
	case err == nil:
		return outcomeSuccess, nil
	case ctx.Err() != nil:
		logger.Warn("item interrupted", zap.Error(err))
		return outcomeCrashed, ctx.Err()
	case errors.Is(err, browser.ErrStart):
		r.markError(ctx, logger, it, err.Error())
		return outcomeCrashed, err
	case errors.As(err, &discoveryErr):
		logger.Warn("item failed", zap.Error(discoveryErr.err))
		r.markError(ctx, logger, it, discoveryErr.err.Error())
		return outcomeFailed, nil
	default:
		logger.Error("item crashed", zap.Error(err))
		r.markError(ctx, logger, it, err.Error())
		return outcomeCrashed, nil
	}
}

func (r *Runner) markError(ctx context.Context, logger *zap.Logger, it item, msg string) {
	if err := it.setErr(context.WithoutCancel(ctx), msg); err != nil {
		logger.Error("record item error", zap.Error(err))
	}
}

// session returns the session for the next item, recycling the current one
// first when it has reached its usage ceiling.
func (r *Runner) session(ctx context.Context) (*browser.Session, error) {
	if r.sess != nil && r.pool.Stats(r.sess).ShouldRecycle {
		next, err := r.pool.Recycle(ctx, r.sess)
		if err != nil {
			r.sess = nil
			return nil, fmt.Errorf("recycle session: %w", err)
		}
		r.sess = next
		return next, nil
	}
	sess, err := r.pool.Acquire(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("acquire session: %w", err)
	}
	r.sess = sess
	return sess, nil
}

func (r *Runner) processNovel(ctx context.Context, sess *browser.Session, novel crawler.Novel) (*browser.Session, error) {
	if err := r.store.SetNovelStatus(ctx, novel.ID, crawler.StatusProcessing, ""); err != nil {
		return sess, fmt.Errorf("mark novel processing: %w", err)
	}
	result, next, err := r.novels.DiscoverNovel(ctx, sess, novel)
	if err != nil {
		return next, errDiscovery{err}
	}
	inserted := 0
	for _, link := range result.Chapters {
		ok, err := r.store.InsertChapter(ctx, novel.ID, link)
		if err != nil {
			return next, fmt.Errorf("insert chapter: %w", err)
		}
		if ok {
			inserted++
		}
	}
	if err := r.store.CompleteNovel(ctx, novel.ID, result); err != nil {
		return next, fmt.Errorf("complete novel: %w", err)
	}
	r.logger.Info("novel completed",
		zap.Int64("novel_id", novel.ID),
		zap.Int("total_chapters", len(result.Chapters)),
		zap.Int("new_chapters", inserted),
	)
	return next, nil
}

func (r *Runner) processChapter(ctx context.Context, sess *browser.Session, chapter crawler.Chapter) (*browser.Session, error) {
	if err := r.store.SetChapterStatus(ctx, chapter.ID, crawler.StatusProcessing, ""); err != nil {
		return sess, fmt.Errorf("mark chapter processing: %w", err)
	}
	result, next, err := r.chapters.DiscoverChapter(ctx, sess, chapter)
	if err != nil {
		return next, errDiscovery{err}
	}
	if err := r.store.CompleteChapter(ctx, chapter.ID, result); err != nil {
		return next, fmt.Errorf("complete chapter: %w", err)
	}
	r.logger.Info("chapter completed",
		zap.Int64("chapter_id", chapter.ID),
		zap.Bool("decoded", result.Decoded),
		zap.Int("chars", len(result.Content)),
	)
	r.publish(ctx, chapter, result)
	return next, nil
}

func (r *Runner) publish(ctx context.Context, chapter crawler.Chapter, result crawler.ChapterResult) {
	if r.publisher == nil || r.cfg.Topic == "" {
		return
	}
	event := ChapterEvent{
		ChapterID: chapter.ID,
		NovelID:   chapter.NovelID,
		URL:       chapter.URL,
		Title:     result.Title,
	}
	if _, err := r.publisher.Publish(ctx, r.cfg.Topic, event); err != nil {
		r.logger.Warn("publish chapter event", zap.Int64("chapter_id", chapter.ID), zap.Error(err))
	}
}

func (r *Runner) penalize(ctx context.Context, it item) {
	r.pause(ctx, it.penalty)
	if !it.recycle || r.sess == nil || !random.Chance(r.rand, r.cfg.PenaltyRecycleProbability) {
		return
	}
	next, err := r.pool.Recycle(ctx, r.sess)
	if err != nil {
		r.logger.Warn("penalty recycle", zap.Error(err))
		r.sess = nil
		return
	}
	r.sess = next
}

func (r *Runner) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	if err := r.sleeper.Sleep(ctx, d); err != nil {
		r.logger.Debug("pause interrupted", zap.Error(err))
	}
}
