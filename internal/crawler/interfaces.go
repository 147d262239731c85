package crawler

import (
	"context"
	"time"
)

// Store is the read/write contract the core needs from the persistent store.
// Every method is a single atomic write or read; there is no multi-item
// transaction.
type Store interface {
	ListPendingNovels(ctx context.Context) ([]Novel, error)
	ListPendingChapters(ctx context.Context) ([]Chapter, error)
	SetNovelStatus(ctx context.Context, id int64, status Status, errText string) error
	// CompleteNovel persists discovered fields, total_chapters and SUCCESS.
	CompleteNovel(ctx context.Context, id int64, result NovelResult) error
	// InsertChapter adds a PENDING chapter; a duplicate url is a no-op that
	// reports inserted=false without an error.
	InsertChapter(ctx context.Context, novelID int64, link ChapterLink) (bool, error)
	SetChapterStatus(ctx context.Context, id int64, status Status, errText string) error
	// CompleteChapter persists title, content and SUCCESS.
	CompleteChapter(ctx context.Context, id int64, result ChapterResult) error
	Close()
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Sleeper waits for a duration or until the context is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Random is the injectable source behind jitter, fingerprints and
// probabilistic branches.
type Random interface {
	// Intn returns a value in [0, n). n <= 0 yields 0.
	Intn(n int) int
	Float64() float64
}

// IDGenerator produces opaque identifiers (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Seeder enqueues novel urls for discovery.
type Seeder interface {
	AddNovel(ctx context.Context, url string) (bool, error)
}
