// Package sqlite provides a single-file novel and chapter store for local runs.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JakeFAU/novel-crawler/internal/crawler"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const schema = `
CREATE TABLE IF NOT EXISTS novels (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	url            TEXT NOT NULL UNIQUE,
	title          TEXT,
	author         TEXT,
	description    TEXT,
	cover_url      TEXT,
	status         INTEGER NOT NULL DEFAULT 0,
	total_chapters INTEGER NOT NULL DEFAULT 0,
	error_message  TEXT,
	created_at     TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at     TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS chapters (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	novel_id      INTEGER NOT NULL REFERENCES novels(id) ON DELETE CASCADE,
	url           TEXT NOT NULL UNIQUE,
	title         TEXT,
	number        INTEGER NOT NULL DEFAULT 0,
	content       TEXT,
	status        INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	created_at    TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at    TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS novels_status_idx ON novels (status);
CREATE INDEX IF NOT EXISTS chapters_status_idx ON chapters (status);
`

// Store implements crawler.Store on a SQLite file.
type Store struct {
	db   *sql.DB
	path string
}

var _ crawler.Store = (*Store)(nil)

// Open creates or opens the database at path and applies the schema.
// ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// single writer; also keeps ":memory:" on one connection
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Ping checks the database is usable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	delay := busyRetryInitialBackoff
	var (
		res sql.Result
		err error
	)
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		res, err = s.db.ExecContext(ctx, query, args...)
		if err == nil || !isBusy(err) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay = min(delay*2, busyRetryMaxBackoff)
	}
	return res, err
}

func (s *Store) update(ctx context.Context, what string, id int64, query string, args ...any) error {
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s %d: %w", what, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %d: %w", what, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, crawler.ErrNotFound)
	}
	return nil
}

// AddNovel enqueues a novel url as PENDING. A url already present is skipped.
func (s *Store) AddNovel(ctx context.Context, url string) (bool, error) {
	res, err := s.exec(ctx, `INSERT OR IGNORE INTO novels (url, status) VALUES (?, ?)`, url, int(crawler.StatusPending))
	if err != nil {
		return false, fmt.Errorf("add novel %q: %w", url, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add novel %q: %w", url, err)
	}
	return n > 0, nil
}

// ListPendingNovels returns PENDING novels ordered by id.
func (s *Store) ListPendingNovels(ctx context.Context) ([]crawler.Novel, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, url, COALESCE(title, ''), COALESCE(author, ''), status
FROM novels WHERE status = ? ORDER BY id`, int(crawler.StatusPending))
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

// ListPendingChapters returns PENDING chapters ordered by id.
func (s *Store) ListPendingChapters(ctx context.Context) ([]crawler.Chapter, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, novel_id, url, COALESCE(title, ''), number, status
FROM chapters WHERE status = ? ORDER BY id`, int(crawler.StatusPending))
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

// GetNovel loads one novel by id.
func (s *Store) GetNovel(ctx context.Context, id int64) (crawler.Novel, error) {
	var (
		n      crawler.Novel
		status int
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, url, COALESCE(title, ''), COALESCE(author, ''), COALESCE(description, ''),
	COALESCE(cover_url, ''), status, total_chapters, COALESCE(error_message, '')
FROM novels WHERE id = ?`, id).Scan(
		&n.ID, &n.URL, &n.Title, &n.Author, &n.Description,
		&n.CoverURL, &status, &n.TotalChapters, &n.ErrorMessage,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.Novel{}, fmt.Errorf("get novel %d: %w", id, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.Novel{}, fmt.Errorf("get novel %d: %w", id, err)
	}
	n.Status = crawler.Status(status)
	return n, nil
}

// GetChapter loads one chapter by id.
func (s *Store) GetChapter(ctx context.Context, id int64) (crawler.Chapter, error) {
	var (
		c      crawler.Chapter
		status int
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, novel_id, url, COALESCE(title, ''), number, COALESCE(content, ''),
	status, COALESCE(error_message, '')
FROM chapters WHERE id = ?`, id).Scan(
		&c.ID, &c.NovelID, &c.URL, &c.Title, &c.Number, &c.Content, &status, &c.ErrorMessage,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.Chapter{}, fmt.Errorf("get chapter %d: %w", id, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.Chapter{}, fmt.Errorf("get chapter %d: %w", id, err)
	}
	c.Status = crawler.Status(status)
	return c, nil
}

// SetNovelStatus records a status transition with an optional error message.
func (s *Store) SetNovelStatus(ctx context.Context, id int64, status crawler.Status, errText string) error {
	return s.update(ctx, "set novel status", id, `
UPDATE novels SET status = ?, error_message = NULLIF(?, ''), updated_at = CURRENT_TIMESTAMP
WHERE id = ?`, int(status), errText, id)
}

// CompleteNovel persists discovered novel fields and marks it SUCCESS.
func (s *Store) CompleteNovel(ctx context.Context, id int64, result crawler.NovelResult) error {
	return s.update(ctx, "complete novel", id, `
UPDATE novels
SET title = ?, author = ?, description = ?, cover_url = ?, total_chapters = ?,
	status = ?, error_message = NULL, updated_at = CURRENT_TIMESTAMP
WHERE id = ?`,
		result.Title, result.Author, result.Description, result.CoverURL,
		len(result.Chapters), int(crawler.StatusSuccess), id)
}

// InsertChapter adds a PENDING chapter. A url already present is skipped.
func (s *Store) InsertChapter(ctx context.Context, novelID int64, link crawler.ChapterLink) (bool, error) {
	res, err := s.exec(ctx, `
INSERT OR IGNORE INTO chapters (novel_id, url, title, number, status)
VALUES (?, ?, ?, ?, ?)`, novelID, link.URL, link.Title, link.Number, int(crawler.StatusPending))
	if err != nil {
		return false, fmt.Errorf("insert chapter %q: %w", link.URL, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert chapter %q: %w", link.URL, err)
	}
	return n > 0, nil
}

// SetChapterStatus records a status transition with an optional error message.
func (s *Store) SetChapterStatus(ctx context.Context, id int64, status crawler.Status, errText string) error {
	return s.update(ctx, "set chapter status", id, `
UPDATE chapters SET status = ?, error_message = NULLIF(?, ''), updated_at = CURRENT_TIMESTAMP
WHERE id = ?`, int(status), errText, id)
}

// CompleteChapter persists chapter text and marks it SUCCESS.
func (s *Store) CompleteChapter(ctx context.Context, id int64, result crawler.ChapterResult) error {
	return s.update(ctx, "complete chapter", id, `
UPDATE chapters
SET title = ?, content = ?, status = ?, error_message = NULL, updated_at = CURRENT_TIMESTAMP
WHERE id = ?`, result.Title, result.Content, int(crawler.StatusSuccess), id)
}
