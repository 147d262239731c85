// Package extract turns rendered HTML into article text, novel metadata,
// chapter links and obfuscation font references.
package extract

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// ErrNoContent is returned when neither readability nor the selector
// fallback finds any text.
var ErrNoContent = errors.New("no content found")

// Article is the main content of a page.
type Article struct {
	Title   string
	Byline  string
	Excerpt string
	// HTML is the cleaned content markup.
	HTML string
	// Text is the content as paragraphs separated by blank lines.
	Text string
}

// Extractor pulls the main article out of a page.
type Extractor interface {
	Extract(html, pageURL string) (Article, error)
}

// ContentSelectors are tried in order when readability fails.
var ContentSelectors = []string{
	"#chapter-content",
	".chapter-content",
	"#content",
	".text-left",
	"article",
}

// Readability extracts with go-readability and falls back to
// ContentSelectors.
type Readability struct {
	// MinTextLength below which a readability result is treated as a miss.
	MinTextLength int
}

// NewReadability returns a Readability extractor.
func NewReadability() *Readability {
	return &Readability{MinTextLength: 50}
}

// Extract implements Extractor.
func (r *Readability) Extract(html, pageURL string) (Article, error) {
	art, err := r.readability(html, pageURL)
	if err == nil && len(art.Text) >= r.MinTextLength {
		return art, nil
	}
	fallback, ferr := BySelectors(html)
	if ferr != nil {
		if err != nil {
			return Article{}, fmt.Errorf("extract content: %w (readability: %w)", ferr, err)
		}
		if art.Text != "" {
			return art, nil
		}
		return Article{}, ferr
	}
	if fallback.Title == "" {
		fallback.Title = art.Title
	}
	return fallback, nil
}

func (r *Readability) readability(html, pageURL string) (Article, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return Article{}, fmt.Errorf("parse page url: %w", err)
	}
	parser := readability.NewParser()
	article, err := parser.Parse(strings.NewReader(html), u)
	if err != nil {
		return Article{}, fmt.Errorf("readability parse: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		return Article{}, fmt.Errorf("parse readability content: %w", err)
	}
	return Article{
		Title:   clean(article.Title),
		Byline:  clean(article.Byline),
		Excerpt: clean(article.Excerpt),
		HTML:    article.Content,
		Text:    paragraphs(doc.Selection),
	}, nil
}

// BySelectors extracts content from the first ContentSelectors match with
// any text.
func BySelectors(html string) (Article, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Article{}, fmt.Errorf("parse html: %w", err)
	}
	title := firstText(doc, "h1", ".chapter-title", "title")
	for _, sel := range ContentSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		text := paragraphs(node)
		if text == "" {
			continue
		}
		inner, _ := node.Html()
		return Article{Title: title, HTML: inner, Text: text}, nil
	}
	return Article{}, ErrNoContent
}

// paragraphs renders block children as text separated by blank lines.
func paragraphs(sel *goquery.Selection) string {
	var parts []string
	sel.Find("p").Each(func(_ int, p *goquery.Selection) {
		if t := clean(p.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) > 0 {
		return strings.Join(parts, "\n\n")
	}
	sel.Find("script,style,noscript").Remove()
	var lines []string
	for _, line := range strings.Split(sel.Text(), "\n") {
		if t := clean(line); t != "" {
			lines = append(lines, t)
		}
	}
	return strings.Join(lines, "\n\n")
}

func firstText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if t := clean(doc.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
