package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/novel-crawler/internal/crawler"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestNewStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewStore(context.Background(), Config{})
	require.Error(t, err)

	_, err = NewStoreWithPool(nil)
	require.Error(t, err)
}

func TestListPendingNovels(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	rows := mock.NewRows([]string{"id", "url", "title", "author", "status"}).
		AddRow(int64(1), "https://site.test/novel/1", "", "", 0).
		AddRow(int64(4), "https://site.test/novel/4", "Known", "Ann", 0)
	mock.ExpectQuery("FROM novels").WithArgs(int(crawler.StatusPending)).WillReturnRows(rows)

	got, err := store.ListPendingNovels(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, int64(1), got[0].ID)
	require.Equal(t, "Known", got[1].Title)
	require.Equal(t, crawler.StatusPending, got[1].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListPendingChapters(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	rows := mock.NewRows([]string{"id", "novel_id", "url", "title", "number", "status"}).
		AddRow(int64(7), int64(1), "https://site.test/novel/1/chapter-1", "Chapter 1", 1, 0)
	mock.ExpectQuery("FROM chapters").WithArgs(int(crawler.StatusPending)).WillReturnRows(rows)

	got, err := store.ListPendingChapters(context.Background())
	require.NoError(t, err)
	require.Equal(t, []crawler.Chapter{{
		ID:      7,
		NovelID: 1,
		URL:     "https://site.test/novel/1/chapter-1",
		Title:   "Chapter 1",
		Number:  1,
		Status:  crawler.StatusPending,
	}}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListPendingNovelsQueryError(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM novels").WithArgs(int(crawler.StatusPending)).WillReturnError(errors.New("boom"))

	_, err := store.ListPendingNovels(context.Background())
	require.ErrorContains(t, err, "list pending novels")
}

func TestSetNovelStatus(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE novels SET status").
		WithArgs(int64(3), int(crawler.StatusError), "Blocked by site").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.SetNovelStatus(context.Background(), 3, crawler.StatusError, "Blocked by site"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetChapterStatusMissingRow(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE chapters SET status").
		WithArgs(int64(99), int(crawler.StatusProcessing), "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.SetChapterStatus(context.Background(), 99, crawler.StatusProcessing, "")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestCompleteNovelWritesTotalChapters(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	result := crawler.NovelResult{
		Title:       "Nova",
		Author:      "Ann",
		Description: "A story.",
		CoverURL:    "https://site.test/cover.jpg",
		Chapters:    []crawler.ChapterLink{{URL: "a"}, {URL: "b"}, {URL: "c"}},
	}
	mock.ExpectExec("UPDATE novels").
		WithArgs(int64(1), "Nova", "Ann", "A story.", "https://site.test/cover.jpg", 3, int(crawler.StatusSuccess)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.CompleteNovel(context.Background(), 1, result))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertChapterReportsDuplicates(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	link := crawler.ChapterLink{URL: "https://site.test/novel/1/chapter-1", Title: "Chapter 1", Number: 1}
	mock.ExpectExec("INSERT INTO chapters").
		WithArgs(int64(1), link.URL, link.Title, link.Number, int(crawler.StatusPending)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO chapters").
		WithArgs(int64(1), link.URL, link.Title, link.Number, int(crawler.StatusPending)).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := store.InsertChapter(context.Background(), 1, link)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = store.InsertChapter(context.Background(), 1, link)
	require.NoError(t, err)
	require.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteChapter(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE chapters").
		WithArgs(int64(7), "Chapter 1", "Once upon a time.", int(crawler.StatusSuccess)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.CompleteChapter(context.Background(), 7, crawler.ChapterResult{Title: "Chapter 1", Content: "Once upon a time."})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS novels").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddNovel(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO novels").
		WithArgs("https://site.test/novel/9", int(crawler.StatusPending)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	added, err := store.AddNovel(context.Background(), "https://site.test/novel/9")
	require.NoError(t, err)
	require.True(t, added)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPing(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	require.NoError(t, store.Ping(context.Background()))
	require.ErrorContains(t, store.Ping(context.Background()), "connection refused")
	require.NoError(t, mock.ExpectationsWereMet())
}
