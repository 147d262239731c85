// Package discovery turns fetched novel and chapter pages into persisted
// results: metadata and chapter links for novels, decoded text for chapters.
package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/novel-crawler/internal/browser"
	"github.com/JakeFAU/novel-crawler/internal/crawler"
	"github.com/JakeFAU/novel-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/novel-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/novel-crawler/internal/fetch"
	"github.com/JakeFAU/novel-crawler/internal/glyph"
	"github.com/JakeFAU/novel-crawler/internal/hash/sha256"
)

// PageFetcher loads a page through a browser session.
type PageFetcher interface {
	Fetch(ctx context.Context, sess *browser.Session, url string) (fetch.Result, error)
}

// AssetFetcher downloads stylesheets and fonts.
type AssetFetcher interface {
	Fetch(ctx context.Context, request collyfetcher.Request) (collyfetcher.Asset, error)
}

// TextDecoder resolves obfuscated text through a font.
type TextDecoder interface {
	Decode(font []byte, text string) glyph.Result
}

// Novels discovers novel metadata and chapter links.
type Novels struct {
	fetcher PageFetcher
	logger  *zap.Logger
}

// NewNovels builds a novel discoverer.
func NewNovels(fetcher PageFetcher, logger *zap.Logger) *Novels {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Novels{fetcher: fetcher, logger: logger.Named("novels")}
}

// DiscoverNovel fetches the novel index page. The returned session is the one
// to keep using, even on error.
func (n *Novels) DiscoverNovel(ctx context.Context, sess *browser.Session, novel crawler.Novel) (crawler.NovelResult, *browser.Session, error) {
	res, err := n.fetcher.Fetch(ctx, sess, novel.URL)
	if err != nil {
		return crawler.NovelResult{}, res.Session, err
	}
	result, err := extract.NovelPage(res.HTML, novel.URL)
	if err != nil {
		return crawler.NovelResult{}, res.Session, fmt.Errorf("parse novel page: %w", err)
	}
	if result.Title == "" {
		result.Title = novel.Title
	}
	n.logger.Info("novel discovered",
		zap.Int64("novel_id", novel.ID),
		zap.String("title", result.Title),
		zap.Int("chapters", len(result.Chapters)),
	)
	return result, res.Session, nil
}

// ChaptersConfig controls archiving.
type ChaptersConfig struct {
	// ArchivePrefix is the blob path prefix for raw chapter HTML.
	ArchivePrefix string
}

// Chapters discovers chapter text, decoding obfuscation fonts when present.
type Chapters struct {
	cfg       ChaptersConfig
	fetcher   PageFetcher
	extractor extract.Extractor
	assets    AssetFetcher
	decoder   TextDecoder
	blobs     crawler.BlobStore
	hasher    crawler.Hasher
	logger    *zap.Logger
}

// NewChapters builds a chapter discoverer. assets, decoder and blobs may be
// nil: fonts are then not resolved and raw pages are not archived.
func NewChapters(
	cfg ChaptersConfig,
	fetcher PageFetcher,
	extractor extract.Extractor,
	assets AssetFetcher,
	decoder TextDecoder,
	blobs crawler.BlobStore,
	hasher crawler.Hasher,
	logger *zap.Logger,
) *Chapters {
	if extractor == nil {
		extractor = extract.NewReadability()
	}
	if hasher == nil {
		hasher = sha256.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chapters{
		cfg:       cfg,
		fetcher:   fetcher,
		extractor: extractor,
		assets:    assets,
		decoder:   decoder,
		blobs:     blobs,
		hasher:    hasher,
		logger:    logger.Named("chapters"),
	}
}

// DiscoverChapter fetches the chapter page, extracts its text and decodes it.
// The returned session is the one to keep using, even on error.
func (c *Chapters) DiscoverChapter(ctx context.Context, sess *browser.Session, chapter crawler.Chapter) (crawler.ChapterResult, *browser.Session, error) {
	logger := c.logger.With(zap.Int64("chapter_id", chapter.ID), zap.String("url", chapter.URL))

	res, err := c.fetcher.Fetch(ctx, sess, chapter.URL)
	if err != nil {
		return crawler.ChapterResult{}, res.Session, err
	}
	sess = res.Session

	var result crawler.ChapterResult
	result.BlobURI = c.archive(ctx, logger, res.HTML)

	article, err := c.extractor.Extract(res.HTML, chapter.URL)
	if err != nil {
		return crawler.ChapterResult{}, sess, fmt.Errorf("extract chapter: %w", err)
	}
	result.Title = article.Title
	if result.Title == "" {
		result.Title = chapter.Title
	}
	result.Content = article.Text

	for _, fontURL := range c.fontURLs(ctx, logger, sess, res.HTML, chapter.URL) {
		if result.FontURL == "" {
			result.FontURL = fontLabel(fontURL)
		}
		if c.decoder == nil {
			break
		}
		font := c.loadFont(ctx, logger, sess, fontURL, chapter.URL)
		if len(font) == 0 {
			continue
		}
		decoded := c.decoder.Decode(font, article.Text)
		if decoded.Success {
			result.Content = decoded.Text
			result.Decoded = true
			result.FontURL = fontLabel(fontURL)
			break
		}
		logger.Warn("obfuscation font found but text not decoded",
			zap.String("font_url", fontLabel(fontURL)),
			zap.Int("mapped", decoded.Mapped),
		)
	}
	return result, sess, nil
}

func (c *Chapters) archive(ctx context.Context, logger *zap.Logger, html string) string {
	if c.blobs == nil {
		return ""
	}
	digest, err := c.hasher.Hash([]byte(html))
	if err != nil {
		logger.Warn("hash chapter html", zap.Error(err))
		return ""
	}
	key := sha256.ObjectKey(c.cfg.ArchivePrefix, "chapters", digest, ".html")
	uri, err := c.blobs.PutObject(ctx, key, "text/html; charset=utf-8", []byte(html))
	if err != nil {
		logger.Warn("archive chapter html", zap.String("key", key), zap.Error(err))
		return ""
	}
	return uri
}

// fontURLs lists the candidate obfuscation fonts for a page, best first:
// inline rules, then linked stylesheets when the page declares none.
func (c *Chapters) fontURLs(ctx context.Context, logger *zap.Logger, sess *browser.Session, html, pageURL string) []string {
	ref, err := extract.FindFont(html, pageURL)
	if err != nil {
		logger.Warn("scan page for font", zap.Error(err))
		return nil
	}
	if len(ref.Candidates) > 0 || c.assets == nil {
		return ref.Candidates
	}

	var faces []extract.FontFace
	var css strings.Builder
	for _, sheet := range ref.Stylesheets {
		base, err := url.Parse(sheet)
		if err != nil {
			continue
		}
		asset, err := c.assets.Fetch(ctx, assetRequest(sess, sheet, pageURL))
		if err != nil {
			logger.Debug("download stylesheet", zap.String("stylesheet", sheet), zap.Error(err))
			continue
		}
		faces = append(faces, extract.FontFaces(string(asset.Body), base)...)
		css.Write(asset.Body)
		css.WriteByte('\n')
	}
	if len(faces) == 0 {
		return nil
	}
	families := append(append([]string(nil), ref.Families...), extract.ContentFamilies(html, css.String())...)
	return extract.RankFonts(faces, families)
}

// loadFont returns the font bytes behind fontURL. Any failure is logged and
// yields no font.
func (c *Chapters) loadFont(ctx context.Context, logger *zap.Logger, sess *browser.Session, fontURL, pageURL string) []byte {
	if extract.IsDataURI(fontURL) {
		data, err := extract.DecodeDataURI(fontURL)
		if err != nil {
			logger.Warn("decode inline font", zap.Error(err))
			return nil
		}
		return data
	}
	if c.assets == nil {
		return nil
	}
	asset, err := c.assets.Fetch(ctx, assetRequest(sess, fontURL, pageURL))
	if err != nil {
		logger.Warn("download font", zap.String("font_url", fontURL), zap.Error(err))
		return nil
	}
	return asset.Body
}

// fontLabel keeps inline fonts out of persisted urls.
func fontLabel(fontURL string) string {
	if extract.IsDataURI(fontURL) {
		return "data:"
	}
	return fontURL
}

// assetRequest presents the session's client signals so asset requests look
// like they came from the page.
func assetRequest(sess *browser.Session, assetURL, referer string) collyfetcher.Request {
	req := collyfetcher.Request{URL: assetURL, Referer: referer}
	if sess != nil {
		req.UserAgent = sess.Fingerprint.UserAgent
		req.AcceptLanguage = sess.Fingerprint.AcceptLanguage()
	}
	return req
}
