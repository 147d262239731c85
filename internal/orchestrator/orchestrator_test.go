package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/novel-crawler/internal/browser"
	"github.com/JakeFAU/novel-crawler/internal/clock/fake"
	"github.com/JakeFAU/novel-crawler/internal/crawler"
	memorypublisher "github.com/JakeFAU/novel-crawler/internal/publisher/memory"
	"github.com/JakeFAU/novel-crawler/internal/random"
	"github.com/JakeFAU/novel-crawler/internal/storage/memory"
)

type fakePool struct {
	created    int
	acquires   int
	recycles   int
	closeAlls  int
	current    *browser.Session
	due        map[string]bool
	acquireErr error
}

func newFakePool() *fakePool {
	return &fakePool{due: map[string]bool{}}
}

func (p *fakePool) newSession() *browser.Session {
	p.created++
	p.current = &browser.Session{ID: fmt.Sprintf("sess-%d", p.created)}
	return p.current
}

func (p *fakePool) Acquire(context.Context, bool) (*browser.Session, error) {
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	p.acquires++
	if p.current == nil {
		return p.newSession(), nil
	}
	return p.current, nil
}

func (p *fakePool) Recycle(context.Context, *browser.Session) (*browser.Session, error) {
	p.recycles++
	return p.newSession(), nil
}

func (p *fakePool) Stats(s *browser.Session) browser.Stats {
	return browser.Stats{ID: s.ID, ShouldRecycle: p.due[s.ID]}
}

func (p *fakePool) CloseAll() error {
	p.closeAlls++
	p.current = nil
	return nil
}

type fakeNovels struct {
	results  map[string]crawler.NovelResult
	errs     map[string]error
	panics   map[string]any
	cancelOn map[string]context.CancelFunc
	seen     []*browser.Session
}

func (f *fakeNovels) DiscoverNovel(ctx context.Context, sess *browser.Session, n crawler.Novel) (crawler.NovelResult, *browser.Session, error) {
	f.seen = append(f.seen, sess)
	if cancel, ok := f.cancelOn[n.URL]; ok {
		cancel()
		return crawler.NovelResult{}, sess, ctx.Err()
	}
	if p, ok := f.panics[n.URL]; ok {
		panic(p)
	}
	if err, ok := f.errs[n.URL]; ok {
		return crawler.NovelResult{}, sess, err
	}
	return f.results[n.URL], sess, nil
}

type fakeChapters struct {
	errs   map[string]error
	panics map[string]any
	calls  []string
}

func (f *fakeChapters) DiscoverChapter(_ context.Context, sess *browser.Session, c crawler.Chapter) (crawler.ChapterResult, *browser.Session, error) {
	f.calls = append(f.calls, c.URL)
	if p, ok := f.panics[c.URL]; ok {
		panic(p)
	}
	if err, ok := f.errs[c.URL]; ok {
		return crawler.ChapterResult{}, sess, err
	}
	return crawler.ChapterResult{Title: c.Title, Content: "text of " + c.URL}, sess, nil
}

type harness struct {
	store    *memory.Store
	pool     *fakePool
	novels   *fakeNovels
	chapters *fakeChapters
	pub      *memorypublisher.Publisher
	clock    *fake.Clock
}

func newHarness() *harness {
	return &harness{
		store:    memory.NewStore(),
		pool:     newFakePool(),
		novels:   &fakeNovels{results: map[string]crawler.NovelResult{}, errs: map[string]error{}, panics: map[string]any{}},
		chapters: &fakeChapters{errs: map[string]error{}, panics: map[string]any{}},
		pub:      memorypublisher.New(),
		clock:    fake.New(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)),
	}
}

func (h *harness) runner(rnd crawler.Random) *Runner {
	cfg := DefaultConfig()
	cfg.Topic = "chapters"
	return New(cfg, h.store, h.pool, h.novels, h.chapters, h.pub, h.clock, rnd, nil)
}

func (h *harness) addNovel(t *testing.T, url string) int64 {
	t.Helper()
	_, err := h.store.AddNovel(context.Background(), url)
	require.NoError(t, err)
	pending, err := h.store.ListPendingNovels(context.Background())
	require.NoError(t, err)
	return pending[len(pending)-1].ID
}

func links(prefix string, n int) []crawler.ChapterLink {
	out := make([]crawler.ChapterLink, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, crawler.ChapterLink{URL: fmt.Sprintf("%s/chapter-%d", prefix, i), Title: fmt.Sprintf("Chapter %d", i), Number: i})
	}
	return out
}

func TestRunNovelWithTwelveChapters(t *testing.T) {
	t.Parallel()
	h := newHarness()
	id := h.addNovel(t, "https://site.test/nova")
	h.novels.results["https://site.test/nova"] = crawler.NovelResult{Title: "Nova", Author: "Ann", Chapters: links("https://site.test/nova", 12)}

	sum, err := h.runner(random.Constant{}).RunNovels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchSummary{Processed: 1, Succeeded: 1}, sum)

	novel, ok := h.store.Novel(id)
	require.True(t, ok)
	assert.Equal(t, crawler.StatusSuccess, novel.Status)
	assert.Equal(t, 12, novel.TotalChapters)
	assert.Equal(t, "Nova", novel.Title)

	chapters := h.store.Chapters(id)
	require.Len(t, chapters, 12)
	for i, c := range chapters {
		assert.Equal(t, crawler.StatusPending, c.Status)
		assert.Equal(t, i+1, c.Number)
	}
	assert.Equal(t, []time.Duration{2000 * time.Millisecond}, h.clock.Sleeps())
}

func TestRunProcessesNovelsThenChapters(t *testing.T) {
	t.Parallel()
	h := newHarness()
	id := h.addNovel(t, "https://site.test/nova")
	h.novels.results["https://site.test/nova"] = crawler.NovelResult{Title: "Nova", Chapters: links("https://site.test/nova", 3)}

	sum, err := h.runner(random.Constant{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{
		Novels:   BatchSummary{Processed: 1, Succeeded: 1},
		Chapters: BatchSummary{Processed: 3, Succeeded: 3},
	}, sum)

	for _, c := range h.store.Chapters(id) {
		assert.Equal(t, crawler.StatusSuccess, c.Status)
		assert.Equal(t, "text of "+c.URL, c.Content)
	}
	msgs := h.pub.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "chapters", msgs[0].Topic)
	assert.JSONEq(t,
		fmt.Sprintf(`{"chapter_id":1,"novel_id":%d,"url":"https://site.test/nova/chapter-1","title":"Chapter 1"}`, id),
		string(msgs[0].Data))

	assert.Equal(t, []time.Duration{
		2000 * time.Millisecond,
		1500 * time.Millisecond, 1500 * time.Millisecond, 1500 * time.Millisecond,
	}, h.clock.Sleeps())
	assert.Equal(t, 1, h.pool.closeAlls)
}

func TestDuplicateChapterLinksAreIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness()
	first := h.addNovel(t, "https://site.test/a")
	second := h.addNovel(t, "https://site.test/b")
	shared := links("https://site.test/shared", 2)
	h.novels.results["https://site.test/a"] = crawler.NovelResult{Chapters: shared}
	h.novels.results["https://site.test/b"] = crawler.NovelResult{Chapters: append(shared, links("https://site.test/b", 1)...)}

	sum, err := h.runner(random.Constant{}).RunNovels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Succeeded)

	assert.Len(t, h.store.Chapters(first), 2)
	assert.Len(t, h.store.Chapters(second), 1)
	n, _ := h.store.Novel(second)
	assert.Equal(t, crawler.StatusSuccess, n.Status)
	assert.Equal(t, 3, n.TotalChapters)
}

func TestDiscoveryFailureRecordsErrorAndContinues(t *testing.T) {
	t.Parallel()
	h := newHarness()
	bad := h.addNovel(t, "https://site.test/bad")
	good := h.addNovel(t, "https://site.test/good")
	h.novels.errs["https://site.test/bad"] = errors.New("all 3 attempts failed: Server error (503)")

	sum, err := h.runner(random.Constant{}).RunNovels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchSummary{Processed: 2, Succeeded: 1, Failed: 1}, sum)

	n, _ := h.store.Novel(bad)
	assert.Equal(t, crawler.StatusError, n.Status)
	assert.Equal(t, "all 3 attempts failed: Server error (503)", n.ErrorMessage)
	n, _ = h.store.Novel(good)
	assert.Equal(t, crawler.StatusSuccess, n.Status)
	assert.Equal(t, []time.Duration{2000 * time.Millisecond, 2000 * time.Millisecond}, h.clock.Sleeps())
}

func TestChapterPanicAppliesPenalty(t *testing.T) {
	t.Parallel()
	h := newHarness()
	id := h.addNovel(t, "https://site.test/nova")
	ctx := context.Background()
	for _, l := range links("https://site.test/nova", 2) {
		_, err := h.store.InsertChapter(ctx, id, l)
		require.NoError(t, err)
	}
	h.chapters.panics["https://site.test/nova/chapter-1"] = "boom"

	sum, err := h.runner(random.Constant{}).RunChapters(ctx)
	require.NoError(t, err)
	assert.Equal(t, BatchSummary{Processed: 2, Succeeded: 1, Failed: 1}, sum)

	chapters := h.store.Chapters(id)
	assert.Equal(t, crawler.StatusError, chapters[0].Status)
	assert.Equal(t, "panic: boom", chapters[0].ErrorMessage)
	assert.Equal(t, crawler.StatusSuccess, chapters[1].Status)
	assert.Equal(t, []time.Duration{3000 * time.Millisecond, 1500 * time.Millisecond}, h.clock.Sleeps())
	assert.Zero(t, h.pool.recycles, "chapter penalties never recycle")
}

func TestNovelPanicRecyclesByChance(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name     string
		f        float64
		recycles int
	}{
		{name: "recycle", f: 0.1, recycles: 1},
		{name: "keep", f: 0.9, recycles: 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness()
			id := h.addNovel(t, "https://site.test/nova")
			h.novels.panics["https://site.test/nova"] = errors.New("nil map")

			sum, err := h.runner(random.Constant{F: tc.f}).RunNovels(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, sum.Failed)
			assert.Equal(t, tc.recycles, h.pool.recycles)
			assert.Equal(t, []time.Duration{5000 * time.Millisecond}, h.clock.Sleeps())

			n, _ := h.store.Novel(id)
			assert.Equal(t, crawler.StatusError, n.Status)
		})
	}
}

func TestSessionRecycledWhenDue(t *testing.T) {
	t.Parallel()
	h := newHarness()
	h.addNovel(t, "https://site.test/a")
	h.addNovel(t, "https://site.test/b")
	r := h.runner(random.Constant{})

	_, err := r.RunNovels(context.Background())
	require.NoError(t, err)
	require.Len(t, h.novels.seen, 2)
	assert.Equal(t, "sess-1", h.novels.seen[0].ID)
	assert.Equal(t, "sess-1", h.novels.seen[1].ID)

	// sess-1 reaches its ceiling between runs.
	h.pool.due["sess-1"] = true
	h.addNovel(t, "https://site.test/c")
	_, err = r.RunNovels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sess-2", h.novels.seen[2].ID)
	assert.Equal(t, 1, h.pool.recycles)
}

func TestOnlyPendingItemsAreSelected(t *testing.T) {
	t.Parallel()
	h := newHarness()
	ctx := context.Background()
	failed := h.addNovel(t, "https://site.test/failed")
	require.NoError(t, h.store.SetNovelStatus(ctx, failed, crawler.StatusError, "earlier"))
	done := h.addNovel(t, "https://site.test/done")
	require.NoError(t, h.store.CompleteNovel(ctx, done, crawler.NovelResult{Title: "Done"}))

	sum, err := h.runner(random.Constant{}).RunNovels(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Processed)
	assert.Empty(t, h.novels.seen)

	n, _ := h.store.Novel(failed)
	assert.Equal(t, crawler.StatusError, n.Status)
	assert.Equal(t, "earlier", n.ErrorMessage)
}

func TestStartFailureAbortsRun(t *testing.T) {
	t.Parallel()
	h := newHarness()
	id := h.addNovel(t, "https://site.test/nova")
	h.pool.acquireErr = fmt.Errorf("%w: chrome not found", browser.ErrStart)

	_, err := h.runner(random.Constant{}).Run(context.Background())
	require.ErrorIs(t, err, browser.ErrStart)
	assert.Equal(t, 1, h.pool.closeAlls)

	n, _ := h.store.Novel(id)
	assert.Equal(t, crawler.StatusPending, n.Status)
}

func TestCancellationStopsBetweenItems(t *testing.T) {
	t.Parallel()
	h := newHarness()
	h.addNovel(t, "https://site.test/nova")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := h.runner(random.Constant{}).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sum.Novels.Processed)
	assert.Empty(t, h.novels.seen)
	assert.Equal(t, 1, h.pool.closeAlls)
}

func TestCancellationDuringDiscoveryLeavesItemProcessing(t *testing.T) {
	t.Parallel()
	h := newHarness()
	id := h.addNovel(t, "https://site.test/nova")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.novels.cancelOn = map[string]context.CancelFunc{"https://site.test/nova": cancel}

	sum, err := h.runner(random.Constant{}).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sum.Novels.Processed)
	assert.Zero(t, sum.Novels.Failed)
	assert.Equal(t, 1, h.pool.closeAlls)

	n, ok := h.store.Novel(id)
	require.True(t, ok)
	assert.Equal(t, crawler.StatusProcessing, n.Status)
	assert.Empty(t, n.ErrorMessage)
	assert.Empty(t, h.clock.Sleeps())
}

func TestPublishFailureDoesNotFailChapter(t *testing.T) {
	t.Parallel()
	h := newHarness()
	id := h.addNovel(t, "https://site.test/nova")
	_, err := h.store.InsertChapter(context.Background(), id, crawler.ChapterLink{URL: "https://site.test/nova/chapter-1"})
	require.NoError(t, err)
	h.pub.FailWith(errors.New("broker down"))

	sum, err := h.runner(random.Constant{}).RunChapters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)
}
