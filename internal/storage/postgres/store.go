// Package postgres provides the Postgres-backed novel and chapter store.
package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/novel-crawler/internal/crawler"
)

//go:embed schema.sql
var schema string

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of *pgxpool.Pool the store needs; pgxmock satisfies it.
type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Ping(context.Context) error
	Close()
}

// Store implements crawler.Store on Postgres.
type Store struct {
	pool pool
}

var _ crawler.Store = (*Store)(nil)

// NewStore connects a pool using cfg.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Migrate creates the novels and chapters tables when absent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const listPendingNovels = `
SELECT id, url, COALESCE(title, ''), COALESCE(author, ''), status
FROM novels
WHERE status = $1
ORDER BY id`

// ListPendingNovels returns PENDING novels ordered by id.
func (s *Store) ListPendingNovels(ctx context.Context) ([]crawler.Novel, error) {
	rows, err := s.pool.Query(ctx, listPendingNovels, int(crawler.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("list pending novels: %w", err)
	}
	defer rows.Close()

	var out []crawler.Novel
	for rows.Next() {
		var (
			n      crawler.Novel
			status int
		)
		if err := rows.Scan(&n.ID, &n.URL, &n.Title, &n.Author, &status); err != nil {
			return nil, fmt.Errorf("scan novel: %w", err)
		}
		n.Status = crawler.Status(status)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate novels: %w", err)
	}
	return out, nil
}

const listPendingChapters = `
SELECT id, novel_id, url, COALESCE(title, ''), number, status
FROM chapters
WHERE status = $1
ORDER BY id`

// ListPendingChapters returns PENDING chapters ordered by id.
func (s *Store) ListPendingChapters(ctx context.Context) ([]crawler.Chapter, error) {
	rows, err := s.pool.Query(ctx, listPendingChapters, int(crawler.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("list pending chapters: %w", err)
	}
	defer rows.Close()

	var out []crawler.Chapter
	for rows.Next() {
		var (
			c      crawler.Chapter
			status int
		)
		if err := rows.Scan(&c.ID, &c.NovelID, &c.URL, &c.Title, &c.Number, &status); err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		c.Status = crawler.Status(status)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chapters: %w", err)
	}
	return out, nil
}

const setNovelStatus = `
UPDATE novels SET status = $2, error_message = NULLIF($3, ''), updated_at = now()
WHERE id = $1`

// SetNovelStatus records a status transition with an optional error message.
func (s *Store) SetNovelStatus(ctx context.Context, id int64, status crawler.Status, errText string) error {
	tag, err := s.pool.Exec(ctx, setNovelStatus, id, int(status), errText)
	if err != nil {
		return fmt.Errorf("set novel %d status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set novel %d status: %w", id, crawler.ErrNotFound)
	}
	return nil
}

const completeNovel = `
UPDATE novels
SET title = $2, author = $3, description = $4, cover_url = $5,
	total_chapters = $6, status = $7, error_message = NULL, updated_at = now()
WHERE id = $1`

// CompleteNovel persists discovered novel fields and marks it SUCCESS.
func (s *Store) CompleteNovel(ctx context.Context, id int64, result crawler.NovelResult) error {
	tag, err := s.pool.Exec(ctx, completeNovel,
		id,
		result.Title,
		result.Author,
		result.Description,
		result.CoverURL,
		len(result.Chapters),
		int(crawler.StatusSuccess),
	)
	if err != nil {
		return fmt.Errorf("complete novel %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete novel %d: %w", id, crawler.ErrNotFound)
	}
	return nil
}

const insertChapter = `
INSERT INTO chapters (novel_id, url, title, number, status)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (url) DO NOTHING`

// InsertChapter adds a PENDING chapter. A url already present is skipped.
func (s *Store) InsertChapter(ctx context.Context, novelID int64, link crawler.ChapterLink) (bool, error) {
	tag, err := s.pool.Exec(ctx, insertChapter,
		novelID,
		link.URL,
		link.Title,
		link.Number,
		int(crawler.StatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("insert chapter %q: %w", link.URL, err)
	}
	return tag.RowsAffected() > 0, nil
}

const setChapterStatus = `
UPDATE chapters SET status = $2, error_message = NULLIF($3, ''), updated_at = now()
WHERE id = $1`

// SetChapterStatus records a status transition with an optional error message.
func (s *Store) SetChapterStatus(ctx context.Context, id int64, status crawler.Status, errText string) error {
	tag, err := s.pool.Exec(ctx, setChapterStatus, id, int(status), errText)
	if err != nil {
		return fmt.Errorf("set chapter %d status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set chapter %d status: %w", id, crawler.ErrNotFound)
	}
	return nil
}

const completeChapter = `
UPDATE chapters
SET title = $2, content = $3, status = $4, error_message = NULL, updated_at = now()
WHERE id = $1`

// CompleteChapter persists chapter text and marks it SUCCESS.
func (s *Store) CompleteChapter(ctx context.Context, id int64, result crawler.ChapterResult) error {
	tag, err := s.pool.Exec(ctx, completeChapter, id, result.Title, result.Content, int(crawler.StatusSuccess))
	if err != nil {
		return fmt.Errorf("complete chapter %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete chapter %d: %w", id, crawler.ErrNotFound)
	}
	return nil
}

const addNovel = `
INSERT INTO novels (url, status) VALUES ($1, $2)
ON CONFLICT (url) DO NOTHING`

// AddNovel enqueues a novel url as PENDING. A url already present is skipped.
func (s *Store) AddNovel(ctx context.Context, url string) (bool, error) {
	tag, err := s.pool.Exec(ctx, addNovel, url, int(crawler.StatusPending))
	if err != nil {
		return false, fmt.Errorf("add novel %q: %w", url, err)
	}
	return tag.RowsAffected() > 0, nil
}
