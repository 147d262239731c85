package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/novel-crawler/internal/browser"
	"github.com/JakeFAU/novel-crawler/internal/crawler"
	"github.com/JakeFAU/novel-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/novel-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/novel-crawler/internal/fetch"
	"github.com/JakeFAU/novel-crawler/internal/glyph"
	"github.com/JakeFAU/novel-crawler/internal/storage/memory"
)

type fakePages struct {
	pages    map[string]string
	err      error
	replaced *browser.Session
}

func (f *fakePages) Fetch(_ context.Context, sess *browser.Session, url string) (fetch.Result, error) {
	if f.replaced != nil {
		sess = f.replaced
	}
	if f.err != nil {
		return fetch.Result{Session: sess}, f.err
	}
	return fetch.Result{HTML: f.pages[url], Session: sess, Recycled: f.replaced != nil}, nil
}

type fakeAssets struct {
	bodies   map[string]string
	requests []collyfetcher.Request
}

func (f *fakeAssets) Fetch(_ context.Context, req collyfetcher.Request) (collyfetcher.Asset, error) {
	f.requests = append(f.requests, req)
	body, ok := f.bodies[req.URL]
	if !ok {
		return collyfetcher.Asset{}, errors.New("404")
	}
	return collyfetcher.Asset{URL: req.URL, StatusCode: 200, Body: []byte(body)}, nil
}

type fakeExtractor struct {
	article extract.Article
	err     error
}

func (f fakeExtractor) Extract(string, string) (extract.Article, error) {
	return f.article, f.err
}

type fakeDecoder struct {
	fonts  [][]byte
	texts  []string
	out    glyph.Result
	byFont map[string]glyph.Result
}

func (f *fakeDecoder) Decode(font []byte, text string) glyph.Result {
	f.fonts = append(f.fonts, font)
	f.texts = append(f.texts, text)
	if res, ok := f.byFont[string(font)]; ok {
		return res
	}
	return f.out
}

func testSession() *browser.Session {
	return &browser.Session{
		ID: "s1",
		Fingerprint: browser.Fingerprint{
			UserAgent: "Mozilla/5.0 Test",
			Languages: []string{"en-GB", "en"},
		},
	}
}

const novelPage = `<html><head><title>Nova</title></head><body>
<h1>Nova</h1><div class="author">Ann Lee</div>
<ul id="chapter-list">
<li><a href="/nova/chapter-1">Chapter 1</a></li>
<li><a href="/nova/chapter-2">Chapter 2</a></li>
</ul></body></html>`

func TestDiscoverNovel(t *testing.T) {
	t.Parallel()
	pages := &fakePages{pages: map[string]string{"https://site.test/nova": novelPage}}
	d := NewNovels(pages, nil)

	sess := testSession()
	res, got, err := d.DiscoverNovel(context.Background(), sess, crawler.Novel{ID: 1, URL: "https://site.test/nova"})
	require.NoError(t, err)
	assert.Same(t, sess, got)
	assert.Equal(t, "Nova", res.Title)
	assert.Equal(t, "Ann Lee", res.Author)
	require.Len(t, res.Chapters, 2)
	assert.Equal(t, "https://site.test/nova/chapter-2", res.Chapters[1].URL)
}

func TestDiscoverNovelReturnsReplacementSessionOnError(t *testing.T) {
	t.Parallel()
	replacement := &browser.Session{ID: "s2"}
	pages := &fakePages{err: errors.New("all 3 attempts failed: Blocked by site"), replaced: replacement}
	d := NewNovels(pages, nil)

	_, got, err := d.DiscoverNovel(context.Background(), testSession(), crawler.Novel{URL: "https://site.test/nova"})
	require.Error(t, err)
	assert.Same(t, replacement, got)
}

const chapterPage = `<html><head><style>
@font-face { font-family: "obf"; src: url("/fonts/obf.woff2") format("woff2"), url("/fonts/obf.woff") format("woff"); }
</style></head><body><div id="chapter-content"><p>sCvA</p></div></body></html>`

func TestDiscoverChapterDecodesWithPageFont(t *testing.T) {
	t.Parallel()
	pages := &fakePages{pages: map[string]string{"https://site.test/nova/chapter-1": chapterPage}}
	assets := &fakeAssets{bodies: map[string]string{"https://site.test/fonts/obf.woff": "FONT"}}
	decoder := &fakeDecoder{out: glyph.Result{Text: "Nova", Success: true, Mapped: 52}}
	blobs := memory.NewBlobStore()
	d := NewChapters(
		ChaptersConfig{ArchivePrefix: "raw"},
		pages,
		fakeExtractor{article: extract.Article{Title: "Chapter 1", Text: "sCvA"}},
		assets, decoder, blobs, nil, nil,
	)

	res, _, err := d.DiscoverChapter(context.Background(), testSession(), crawler.Chapter{ID: 7, URL: "https://site.test/nova/chapter-1"})
	require.NoError(t, err)
	assert.Equal(t, "Nova", res.Content)
	assert.True(t, res.Decoded)
	assert.Equal(t, "Chapter 1", res.Title)
	assert.Equal(t, "https://site.test/fonts/obf.woff", res.FontURL)

	require.Len(t, decoder.fonts, 1)
	assert.Equal(t, "FONT", string(decoder.fonts[0]))
	assert.Equal(t, []string{"sCvA"}, decoder.texts)

	require.Len(t, assets.requests, 1)
	assert.Equal(t, "Mozilla/5.0 Test", assets.requests[0].UserAgent)
	assert.Equal(t, "https://site.test/nova/chapter-1", assets.requests[0].Referer)
	assert.Equal(t, "en-GB,en;q=0.9", assets.requests[0].AcceptLanguage)

	paths := blobs.Paths()
	require.Len(t, paths, 1)
	assert.Regexp(t, `^raw/chapters/[0-9a-f]{64}\.html$`, paths[0])
	assert.Equal(t, "memory://"+paths[0], res.BlobURI)
}

func TestDiscoverChapterFindsFontInStylesheet(t *testing.T) {
	t.Parallel()
	page := `<html><head><link rel="stylesheet" href="/css/a.css"><link rel="stylesheet" href="/css/b.css"></head>
<body><div id="chapter-content"><p>sCvA</p></div></body></html>`
	pages := &fakePages{pages: map[string]string{"https://site.test/c/1": page}}
	assets := &fakeAssets{bodies: map[string]string{
		"https://site.test/css/b.css":   `@font-face { src: url(../fonts/f.ttf); }`,
		"https://site.test/fonts/f.ttf": "TTF",
	}}
	decoder := &fakeDecoder{out: glyph.Result{Text: "Nova", Success: true}}
	d := NewChapters(ChaptersConfig{}, pages, fakeExtractor{article: extract.Article{Text: "sCvA"}}, assets, decoder, nil, nil, nil)

	res, _, err := d.DiscoverChapter(context.Background(), testSession(), crawler.Chapter{URL: "https://site.test/c/1", Title: "Stored title"})
	require.NoError(t, err)
	assert.Equal(t, "https://site.test/fonts/f.ttf", res.FontURL)
	assert.Equal(t, "Stored title", res.Title)
	assert.Equal(t, "Nova", res.Content)
	assert.Empty(t, res.BlobURI)
}

func TestDiscoverChapterKeepsTextWhenDecodeFails(t *testing.T) {
	t.Parallel()
	page := `<html><head><style>@font-face { src: url(data:font/woff;base64,Rk9OVA==); }</style></head><body></body></html>`
	pages := &fakePages{pages: map[string]string{"https://site.test/c/1": page}}
	decoder := &fakeDecoder{out: glyph.Result{Text: "sCvA", Success: false}}
	d := NewChapters(ChaptersConfig{}, pages, fakeExtractor{article: extract.Article{Text: "sCvA"}}, nil, decoder, nil, nil, nil)

	res, _, err := d.DiscoverChapter(context.Background(), testSession(), crawler.Chapter{URL: "https://site.test/c/1"})
	require.NoError(t, err)
	assert.False(t, res.Decoded)
	assert.Equal(t, "sCvA", res.Content)
	assert.Equal(t, "data:", res.FontURL)
	require.Len(t, decoder.fonts, 1)
	assert.Equal(t, "FONT", string(decoder.fonts[0]))
}

func TestDiscoverChapterTriesFontsUntilDecoded(t *testing.T) {
	t.Parallel()
	page := `<html><head><style>
@font-face { font-family: "icons"; src: url(/fonts/icons.woff); }
@font-face { font-family: "obf"; src: url(/fonts/obf.woff); }
</style></head><body><div id="chapter-content"><p>sCvA</p></div></body></html>`
	pages := &fakePages{pages: map[string]string{"https://site.test/c/1": page}}
	assets := &fakeAssets{bodies: map[string]string{
		"https://site.test/fonts/icons.woff": "ICONS",
		"https://site.test/fonts/obf.woff":   "OBF",
	}}
	decoder := &fakeDecoder{
		out:    glyph.Result{Text: "sCvA"},
		byFont: map[string]glyph.Result{"OBF": {Text: "Nova", Success: true, Mapped: 52}},
	}
	d := NewChapters(ChaptersConfig{}, pages, fakeExtractor{article: extract.Article{Text: "sCvA"}}, assets, decoder, nil, nil, nil)

	res, _, err := d.DiscoverChapter(context.Background(), testSession(), crawler.Chapter{URL: "https://site.test/c/1"})
	require.NoError(t, err)
	assert.True(t, res.Decoded)
	assert.Equal(t, "Nova", res.Content)
	assert.Equal(t, "https://site.test/fonts/obf.woff", res.FontURL)
	require.Len(t, decoder.fonts, 2)
	assert.Equal(t, "ICONS", string(decoder.fonts[0]))
	assert.Equal(t, "OBF", string(decoder.fonts[1]))
}

func TestDiscoverChapterPrefersContentFontFromStylesheet(t *testing.T) {
	t.Parallel()
	page := `<html><head><link rel="stylesheet" href="/css/site.css"></head>
<body><div id="chapter-content"><p>sCvA</p></div></body></html>`
	pages := &fakePages{pages: map[string]string{"https://site.test/c/1": page}}
	assets := &fakeAssets{bodies: map[string]string{
		"https://site.test/css/site.css": `@font-face { font-family: icons; src: url(../fonts/icons.woff); }
@font-face { font-family: obf; src: url(../fonts/obf.woff); }
#chapter-content { font-family: "obf", serif; }`,
		"https://site.test/fonts/icons.woff": "ICONS",
		"https://site.test/fonts/obf.woff":   "OBF",
	}}
	decoder := &fakeDecoder{out: glyph.Result{Text: "Nova", Success: true}}
	d := NewChapters(ChaptersConfig{}, pages, fakeExtractor{article: extract.Article{Text: "sCvA"}}, assets, decoder, nil, nil, nil)

	res, _, err := d.DiscoverChapter(context.Background(), testSession(), crawler.Chapter{URL: "https://site.test/c/1"})
	require.NoError(t, err)
	assert.Equal(t, "https://site.test/fonts/obf.woff", res.FontURL)
	require.Len(t, decoder.fonts, 1)
	assert.Equal(t, "OBF", string(decoder.fonts[0]))
}

func TestDiscoverChapterWithoutFontSkipsDecoder(t *testing.T) {
	t.Parallel()
	pages := &fakePages{pages: map[string]string{"https://site.test/c/1": "<html><body><p>plain</p></body></html>"}}
	decoder := &fakeDecoder{}
	d := NewChapters(ChaptersConfig{}, pages, fakeExtractor{article: extract.Article{Text: "plain text"}}, &fakeAssets{}, decoder, nil, nil, nil)

	res, _, err := d.DiscoverChapter(context.Background(), testSession(), crawler.Chapter{URL: "https://site.test/c/1"})
	require.NoError(t, err)
	assert.Equal(t, "plain text", res.Content)
	assert.Empty(t, decoder.texts)
}

func TestDiscoverChapterExtractionFailure(t *testing.T) {
	t.Parallel()
	pages := &fakePages{pages: map[string]string{"https://site.test/c/1": "<html></html>"}}
	d := NewChapters(ChaptersConfig{}, pages, fakeExtractor{err: extract.ErrNoContent}, nil, nil, nil, nil, nil)

	_, _, err := d.DiscoverChapter(context.Background(), testSession(), crawler.Chapter{URL: "https://site.test/c/1"})
	require.ErrorIs(t, err, extract.ErrNoContent)
}
