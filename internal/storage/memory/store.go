package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/novel-crawler/internal/crawler"
)

// Store implements crawler.Store with maps guarded by a mutex.
type Store struct {
	mu         sync.RWMutex
	nextNovel  int64
	nextChap   int64
	novels     map[int64]crawler.Novel
	chapters   map[int64]crawler.Chapter
	novelURLs  map[string]int64
	chapterURL map[string]int64
}

var _ crawler.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		novels:     make(map[int64]crawler.Novel),
		chapters:   make(map[int64]crawler.Chapter),
		novelURLs:  make(map[string]int64),
		chapterURL: make(map[string]int64),
	}
}

// AddNovel enqueues a novel url as PENDING. A url already present is skipped.
func (s *Store) AddNovel(_ context.Context, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.novelURLs[url]; ok {
		return false, nil
	}
	s.nextNovel++
	s.novels[s.nextNovel] = crawler.Novel{ID: s.nextNovel, URL: url, Status: crawler.StatusPending}
	s.novelURLs[url] = s.nextNovel
	return true, nil
}

// ListPendingNovels returns PENDING novels ordered by id.
func (s *Store) ListPendingNovels(_ context.Context) ([]crawler.Novel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Novel
	for _, n := range s.novels {
		if n.Status == crawler.StatusPending {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListPendingChapters returns PENDING chapters ordered by id.
func (s *Store) ListPendingChapters(_ context.Context) ([]crawler.Chapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Chapter
	for _, c := range s.chapters {
		if c.Status == crawler.StatusPending {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Novel returns a snapshot of one novel.
func (s *Store) Novel(id int64) (crawler.Novel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.novels[id]
	return n, ok
}

// Chapter returns a snapshot of one chapter.
func (s *Store) Chapter(id int64) (crawler.Chapter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chapters[id]
	return c, ok
}

// Chapters returns every chapter of a novel ordered by id.
func (s *Store) Chapters(novelID int64) []crawler.Chapter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Chapter
	for _, c := range s.chapters {
		if c.NovelID == novelID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetNovelStatus records a status transition with an optional error message.
func (s *Store) SetNovelStatus(_ context.Context, id int64, status crawler.Status, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.novels[id]
	if !ok {
		return fmt.Errorf("set novel %d status: %w", id, crawler.ErrNotFound)
	}
	n.Status = status
	n.ErrorMessage = errText
	s.novels[id] = n
	return nil
}

// CompleteNovel persists discovered novel fields and marks it SUCCESS.
func (s *Store) CompleteNovel(_ context.Context, id int64, result crawler.NovelResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.novels[id]
	if !ok {
		return fmt.Errorf("complete novel %d: %w", id, crawler.ErrNotFound)
	}
	n.Title = result.Title
	n.Author = result.Author
	n.Description = result.Description
	n.CoverURL = result.CoverURL
	n.TotalChapters = len(result.Chapters)
	n.Status = crawler.StatusSuccess
	n.ErrorMessage = ""
	s.novels[id] = n
	return nil
}

// InsertChapter adds a PENDING chapter. A url already present is skipped.
func (s *Store) InsertChapter(_ context.Context, novelID int64, link crawler.ChapterLink) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.novels[novelID]; !ok {
		return false, fmt.Errorf("insert chapter %q: novel %d: %w", link.URL, novelID, crawler.ErrNotFound)
	}
	if _, ok := s.chapterURL[link.URL]; ok {
		return false, nil
	}
	s.nextChap++
	s.chapters[s.nextChap] = crawler.Chapter{
		ID:      s.nextChap,
		NovelID: novelID,
		URL:     link.URL,
		Title:   link.Title,
		Number:  link.Number,
		Status:  crawler.StatusPending,
	}
	s.chapterURL[link.URL] = s.nextChap
	return true, nil
}

// SetChapterStatus records a status transition with an optional error message.
func (s *Store) SetChapterStatus(_ context.Context, id int64, status crawler.Status, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chapters[id]
	if !ok {
		return fmt.Errorf("set chapter %d status: %w", id, crawler.ErrNotFound)
	}
	c.Status = status
	c.ErrorMessage = errText
	s.chapters[id] = c
	return nil
}

// CompleteChapter persists chapter text and marks it SUCCESS.
func (s *Store) CompleteChapter(_ context.Context, id int64, result crawler.ChapterResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chapters[id]
	if !ok {
		return fmt.Errorf("complete chapter %d: %w", id, crawler.ErrNotFound)
	}
	c.Title = result.Title
	c.Content = result.Content
	c.Status = crawler.StatusSuccess
	c.ErrorMessage = ""
	s.chapters[id] = c
	return nil
}

// Close is a no-op.
func (s *Store) Close() {}
