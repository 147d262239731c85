package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/novel-crawler/internal/crawler"
)

// ChapterListSelectors locate chapter anchors on a novel page.
var ChapterListSelectors = []string{
	"#chapter-list a",
	"#list-chapter a",
	".chapter-list a",
	"ul.chapters a",
	".chapter-item a",
	"#chapters a",
}

var (
	authorSelectors      = []string{"[itemprop=author]", ".author a", ".author", ".info-author"}
	descriptionSelectors = []string{"[itemprop=description]", ".description", "#description", ".desc-text", ".summary"}
	coverSelectors       = []string{".book img", ".cover img", "img.cover", "[itemprop=image]"}
)

// NovelPage parses a novel landing page. Chapter links are absolute,
// deduplicated and in page order, numbered from 1.
func NovelPage(html, pageURL string) (crawler.NovelResult, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return crawler.NovelResult{}, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return crawler.NovelResult{}, fmt.Errorf("parse html: %w", err)
	}

	res := crawler.NovelResult{
		Title:       firstText(doc, "h1", ".book-title", ".title"),
		Author:      firstText(doc, authorSelectors...),
		Description: firstText(doc, descriptionSelectors...),
	}
	if res.Title == "" {
		res.Title = meta(doc, "og:title")
	}
	if res.Author == "" {
		res.Author = meta(doc, "author")
	}
	if res.Description == "" {
		res.Description = meta(doc, "og:description", "description")
	}
	res.CoverURL = resolve(base, meta(doc, "og:image"))
	if res.CoverURL == "" {
		for _, sel := range coverSelectors {
			if src, ok := doc.Find(sel).First().Attr("src"); ok {
				res.CoverURL = resolve(base, src)
				break
			}
		}
	}
	res.Chapters = ChapterLinks(doc, base)
	return res, nil
}

// ChapterLinks collects chapter anchors, falling back to any link whose
// path mentions "chapter".
func ChapterLinks(doc *goquery.Document, base *url.URL) []crawler.ChapterLink {
	var anchors *goquery.Selection
	for _, sel := range ChapterListSelectors {
		if found := doc.Find(sel); found.Length() > 0 {
			anchors = found
			break
		}
	}
	if anchors == nil {
		anchors = doc.Find(`a[href*="chapter"]`)
	}

	seen := map[string]bool{}
	var links []crawler.ChapterLink
	anchors.Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		abs := resolve(base, href)
		if abs == "" || seen[abs] {
			return
		}
		seen[abs] = true
		title := clean(a.Text())
		if title == "" {
			title, _ = a.Attr("title")
		}
		links = append(links, crawler.ChapterLink{URL: abs, Title: title, Number: len(links) + 1})
	})
	return links
}

func meta(doc *goquery.Document, names ...string) string {
	for _, name := range names {
		for _, attr := range []string{"property", "name"} {
			sel := fmt.Sprintf(`meta[%s=%q]`, attr, name)
			if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

// resolve makes ref absolute against base; fragments and non-http schemes
// yield "".
func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(strings.ToLower(ref), "javascript:") {
		return ""
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Fragment = ""
	return u.String()
}
