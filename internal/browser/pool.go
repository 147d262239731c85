package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/novel-crawler/internal/crawler"
	"github.com/JakeFAU/novel-crawler/internal/metrics"
	"github.com/JakeFAU/novel-crawler/internal/random"
)

// Config controls pool capacity and session lifetimes.
type Config struct {
	MaxSessions       int
	MinUses           int
	MaxUses           int
	NavigationTimeout time.Duration
	BlockedURLs       []string
}

// DefaultConfig returns the production pool settings.
func DefaultConfig() Config {
	return Config{
		MaxSessions:       3,
		MinUses:           10,
		MaxUses:           15,
		NavigationTimeout: 60 * time.Second,
		BlockedURLs:       DefaultBlockedURLs(),
	}
}

// DefaultBlockedURLs lists tracker and heavy media requests stripped from
// every session.
func DefaultBlockedURLs() []string {
	return []string{
		"*google-analytics.com*",
		"*googletagmanager.com*",
		"*doubleclick.net*",
		"*googlesyndication.com*",
		"*facebook.net*",
		"*hotjar.com*",
		"*scorecardresearch.com*",
		"*.mp4*",
		"*.webm*",
		"*.gif*",
	}
}

// PoolManager owns the automation process and its Sessions. Sessions are kept
// in creation order so eviction is FIFO.
type PoolManager struct {
	mu       sync.Mutex
	cfg      Config
	launcher Launcher
	proc     Process
	sessions []*Session
	clock    crawler.Clock
	rand     crawler.Random
	ids      crawler.IDGenerator
	logger   *zap.Logger
}

// NewPoolManager builds an empty pool. Nothing is started until Acquire.
func NewPoolManager(
	launcher Launcher,
	cfg Config,
	clock crawler.Clock,
	rnd crawler.Random,
	ids crawler.IDGenerator,
	logger *zap.Logger,
) *PoolManager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 3
	}
	if cfg.MinUses <= 0 {
		cfg.MinUses = 10
	}
	if cfg.MaxUses < cfg.MinUses {
		cfg.MaxUses = cfg.MinUses
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PoolManager{
		cfg:      cfg,
		launcher: launcher,
		clock:    clock,
		rand:     rnd,
		ids:      ids,
		logger:   logger.Named("pool"),
	}
}

// Acquire returns a Session. Unless forceNew is set, the oldest live Session
// still under its usage ceiling is reused and its counter incremented.
// Otherwise exhausted Sessions are evicted, the oldest Session is evicted if
// the pool is full, and a new Session with a fresh Fingerprint is created.
func (p *PoolManager) Acquire(ctx context.Context, forceNew bool) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquireLocked(ctx, forceNew)
}

func (p *PoolManager) acquireLocked(ctx context.Context, forceNew bool) (*Session, error) {
	if !forceNew {
		for _, s := range p.sessions {
			if !s.exhausted() {
				s.uses++
				return s, nil
			}
		}
	}

	kept := p.sessions[:0]
	for _, s := range p.sessions {
		if s.exhausted() {
			p.closeSession(s, "exhausted")
			continue
		}
		kept = append(kept, s)
	}
	p.sessions = kept

	if len(p.sessions) >= p.cfg.MaxSessions {
		oldest := p.sessions[0]
		p.sessions = p.sessions[1:]
		p.closeSession(oldest, "capacity")
	}

	s, err := p.createSession(ctx)
	if err != nil {
		return nil, err
	}
	p.sessions = append(p.sessions, s)
	metrics.SetLiveSessions(len(p.sessions))
	return s, nil
}

// Recycle removes s from the pool, closes it best-effort and returns a new
// Session.
func (p *PoolManager) Recycle(ctx context.Context, s *Session) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s != nil && p.indexLocked(s) >= 0 {
		p.removeLocked(s)
		p.closeSession(s, "recycle")
	}
	metrics.ObserveRecycle()
	return p.acquireLocked(ctx, true)
}

// Stats reports usage for s. A Session unknown to the pool should be recycled.
func (p *PoolManager) Stats(s *Session) Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s == nil || p.indexLocked(s) < 0 {
		st := Stats{ShouldRecycle: true}
		if s != nil {
			st.ID = s.ID
		}
		return st
	}
	return p.statsLocked(s)
}

// All reports Stats for every live Session, oldest first.
func (p *PoolManager) All() []Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Stats, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, p.statsLocked(s))
	}
	return out
}

// Len returns the number of live Sessions.
func (p *PoolManager) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// CloseAll closes every Session and the automation process. The next Acquire
// starts a fresh process.
func (p *PoolManager) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sessions {
		p.closeSession(s, "shutdown")
	}
	p.sessions = nil
	metrics.SetLiveSessions(0)
	if p.proc == nil {
		return nil
	}
	proc := p.proc
	p.proc = nil
	if err := proc.Close(); err != nil {
		return fmt.Errorf("close automation process: %w", err)
	}
	return nil
}

func (p *PoolManager) statsLocked(s *Session) Stats {
	return Stats{
		ID:            s.ID,
		Uses:          s.uses,
		MaxUses:       s.maxUses,
		ShouldRecycle: s.exhausted(),
		Age:           p.clock.Now().Sub(s.CreatedAt),
	}
}

func (p *PoolManager) createSession(ctx context.Context) (*Session, error) {
	proc, err := p.processLocked(ctx)
	if err != nil {
		return nil, err
	}
	id, err := p.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}
	fp := NewFingerprint(p.rand)
	logger := p.logger.With(zap.String("session_id", id))
	tab, err := proc.NewTab(ctx, fp, TabOptions{
		NavigationTimeout: p.cfg.NavigationTimeout,
		BlockedURLs:       p.cfg.BlockedURLs,
		OnConsoleError: func(msg string) {
			logger.Warn("browser console error", zap.String("message", msg))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s := &Session{
		ID:          id,
		Tab:         tab,
		Fingerprint: fp,
		CreatedAt:   p.clock.Now(),
		uses:        1,
		maxUses:     random.IntBetween(p.rand, p.cfg.MinUses, p.cfg.MaxUses),
	}
	logger.Info("session created",
		zap.Int("max_uses", s.maxUses),
		zap.String("user_agent", fp.UserAgent),
		zap.Int("viewport_width", fp.Viewport.Width),
		zap.String("timezone", fp.Timezone),
	)
	return s, nil
}

func (p *PoolManager) processLocked(ctx context.Context) (Process, error) {
	if p.proc != nil {
		return p.proc, nil
	}
	proc, err := p.launcher.Start(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStart, err)
	}
	p.proc = proc
	go p.watch(proc)
	p.logger.Info("automation process started")
	return proc, nil
}

// watch clears the pool when the process disconnects on its own.
func (p *PoolManager) watch(proc Process) {
	<-proc.Done()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.proc != proc {
		return
	}
	p.logger.Warn("automation process disconnected; clearing pool", zap.Int("sessions", len(p.sessions)))
	p.proc = nil
	p.sessions = nil
	metrics.SetLiveSessions(0)
}

func (p *PoolManager) indexLocked(s *Session) int {
	for i, cur := range p.sessions {
		if cur == s {
			return i
		}
	}
	return -1
}

func (p *PoolManager) removeLocked(s *Session) {
	if i := p.indexLocked(s); i >= 0 {
		p.sessions = append(p.sessions[:i], p.sessions[i+1:]...)
	}
}

func (p *PoolManager) closeSession(s *Session, reason string) {
	if s == nil || s.Tab == nil {
		return
	}
	if err := s.Tab.Close(); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Warn("session close failed",
			zap.String("session_id", s.ID),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return
	}
	p.logger.Debug("session closed", zap.String("session_id", s.ID), zap.String("reason", reason))
}
