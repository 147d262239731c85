// Package browser owns the pool of automation sessions: one browser process
// started lazily, a bounded set of tabs each with its own fingerprint, and
// usage-based recycling.
package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStart wraps failures to start the automation process. Callers treat
	// it as an unrecoverable setup failure.
	ErrStart = errors.New("start automation process")
	// ErrNoResponse is returned by Tab.Navigate when navigation produced no
	// document response.
	ErrNoResponse = errors.New("navigation produced no response")
)

// Tab is the capability the crawler needs from one automation-controlled
// browser tab.
type Tab interface {
	// Navigate loads url and returns the document status code.
	Navigate(ctx context.Context, url string) (int, error)
	Title(ctx context.Context) (string, error)
	BodyText(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Exists(ctx context.Context, selector string) (bool, error)
	// Attribute returns the named attribute of the first match of selector.
	Attribute(ctx context.Context, selector, name string) (string, bool, error)
	Evaluate(ctx context.Context, expression string, res any) error
	MouseMove(ctx context.Context, x, y float64, steps int) error
	Scroll(ctx context.Context, deltaY int) error
	Close() error
}

// TabOptions configures a new Tab.
type TabOptions struct {
	NavigationTimeout time.Duration
	// BlockedURLs are URL patterns (with * wildcards) the tab never loads.
	BlockedURLs []string
	// OnConsoleError receives console errors and uncaught exceptions.
	OnConsoleError func(message string)
}

// Process is a running automation process.
type Process interface {
	NewTab(ctx context.Context, fp Fingerprint, opts TabOptions) (Tab, error)
	// Done is closed when the process exits or disconnects.
	Done() <-chan struct{}
	Close() error
}

// Launcher starts automation processes.
type Launcher interface {
	Start(ctx context.Context) (Process, error)
}

// Session is one pooled tab. Callers borrow it from the PoolManager and must
// not use it after Recycle or CloseAll.
type Session struct {
	ID          string
	Tab         Tab
	Fingerprint Fingerprint
	CreatedAt   time.Time

	uses    int
	maxUses int
}

// Stats describes a Session's usage as seen by its pool.
type Stats struct {
	ID            string        `json:"id"`
	Uses          int           `json:"uses"`
	MaxUses       int           `json:"max_uses"`
	ShouldRecycle bool          `json:"should_recycle"`
	Age           time.Duration `json:"age"`
}

func (s *Session) exhausted() bool {
	return s.uses >= s.maxUses
}
