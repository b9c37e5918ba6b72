// Package parser extracts catalog entries and chapter text from HTML pages.
package parser

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-novels/models"
	"github.com/aluiziolira/go-scrape-novels/site"
)

// ErrNoContent is returned when the expected container is missing or empty.
var ErrNoContent = errors.New("parser: no content")

// archivePattern matches monthly archive links such as "2021年12月".
var archivePattern = regexp.MustCompile(`^\d{4}年\d{1,2}月$`)

// PageShape names the kind of page being extracted.
type PageShape int

const (
	ShapeListing PageShape = iota
	ShapeIndex
	ShapeCategories
	ShapeChapter
)

func (s PageShape) String() string {
	switch s {
	case ShapeListing:
		return "listing"
	case ShapeIndex:
		return "index"
	case ShapeCategories:
		return "categories"
	case ShapeChapter:
		return "chapter"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

// Link is a titled, absolute URL found on a page.
type Link struct {
	Title string
	URL   string
}

// ExtractListing returns the linked headings of a label or category page in
// document order, skipping pagination and navigation entries.
func ExtractListing(html, pageURL string, p site.Profile) ([]Link, error) {
	doc, base, err := load(html, pageURL)
	if err != nil {
		return nil, err
	}

	var links []Link
	doc.Find(p.ListingSelector).Each(func(_ int, heading *goquery.Selection) {
		a := heading.Find("a[href]").First()
		if a.Length() == 0 {
			return
		}
		title := strings.TrimSpace(a.Text())
		if title == "" || containsAny(title, p.ListingMarkers) {
			return
		}
		if abs, ok := resolve(base, a); ok {
			links = append(links, Link{Title: title, URL: abs})
		}
	})
	return links, nil
}

// ExtractIndex returns the book title and every chapter link inside the
// table-of-contents container. Links without text, such as image links, are
// skipped.
func ExtractIndex(html, pageURL string, p site.Profile) (string, []Link, error) {
	doc, base, err := load(html, pageURL)
	if err != nil {
		return "", nil, err
	}

	container := doc.Find(p.IndexSelector).First()
	if container.Length() == 0 {
		return "", nil, fmt.Errorf("index container %q: %w", p.IndexSelector, ErrNoContent)
	}
	title := strings.TrimSpace(doc.Find(p.IndexTitleSelector).First().Text())
	if title == "" {
		return "", nil, fmt.Errorf("book title %q: %w", p.IndexTitleSelector, ErrNoContent)
	}

	var links []Link
	container.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		text := strings.TrimSpace(a.Text())
		if text == "" {
			return
		}
		if abs, ok := resolve(base, a); ok {
			links = append(links, Link{Title: text, URL: abs})
		}
	})
	return title, links, nil
}

// ExtractCategories returns the category links of the site index page,
// skipping monthly archive entries. URLs are returned percent-decoded.
func ExtractCategories(html, pageURL string, p site.Profile) ([]Link, error) {
	doc, base, err := load(html, pageURL)
	if err != nil {
		return nil, err
	}

	container := doc.Find(p.CategoriesSelector).First()
	if container.Length() == 0 {
		return nil, fmt.Errorf("categories container %q: %w", p.CategoriesSelector, ErrNoContent)
	}

	var links []Link
	container.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		title := strings.TrimSpace(a.Text())
		if title == "" || IsArchiveTitle(title) {
			return
		}
		abs, ok := resolve(base, a)
		if !ok {
			return
		}
		if decoded, err := url.PathUnescape(abs); err == nil {
			abs = decoded
		}
		links = append(links, Link{Title: title, URL: abs})
	})
	return links, nil
}

// ExtractChapter returns the plain text of a chapter page. Scripts, styles
// and prev/next navigation blocks are dropped; each remaining text node is
// trimmed and the non-empty ones are joined by newlines.
func ExtractChapter(html string, p site.Profile) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var content *goquery.Selection
	for _, selector := range p.ContentSelectors {
		if s := doc.Find(selector).First(); s.Length() > 0 {
			content = s
			break
		}
	}
	if content == nil {
		return "", fmt.Errorf("content container: %w", ErrNoContent)
	}

	content.Find("script, style").Remove()

	var nav []*goquery.Selection
	content.Find("a").Each(func(_ int, a *goquery.Selection) {
		if !equalsAny(strings.TrimSpace(a.Text()), p.BodyNavMarkers) {
			return
		}
		if wrapper := a.ParentsUntilSelection(content).Filter("div, span").First(); wrapper.Length() > 0 {
			nav = append(nav, wrapper)
			return
		}
		nav = append(nav, a)
	})
	for _, s := range nav {
		s.Remove()
	}

	var parts []string
	collectText(content, &parts)
	if len(parts) == 0 {
		return "", fmt.Errorf("content text: %w", ErrNoContent)
	}
	return strings.Join(parts, "\n"), nil
}

// IsArchiveTitle reports whether title names a monthly archive.
func IsArchiveTitle(title string) bool {
	return archivePattern.MatchString(title)
}

// Sanitize keeps letters, numbers, spaces and underscores so the result is
// safe to use as a file name, then trims trailing spaces.
func Sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || r == ' ' || r == '_' {
			b.WriteRune(r)
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// ValidateChapter ensures a catalog record can be downloaded.
func ValidateChapter(r models.ChapterRecord) error {
	if r.ID <= 0 {
		return fmt.Errorf("chapter id must be positive, got %d", r.ID)
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("chapter %d missing title", r.ID)
	}
	u, err := url.Parse(r.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("chapter %d has invalid url %q", r.ID, r.URL)
	}
	return nil
}

func load(html, pageURL string) (*goquery.Document, *url.URL, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, base, nil
}

func resolve(base *url.URL, a *goquery.Selection) (string, bool) {
	href, ok := a.Attr("href")
	if !ok {
		return "", false
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if (abs.Scheme != "http" && abs.Scheme != "https") || abs.Host == "" {
		return "", false
	}
	return abs.String(), true
}

func collectText(s *goquery.Selection, parts *[]string) {
	s.Contents().Each(func(_ int, node *goquery.Selection) {
		if goquery.NodeName(node) == "#text" {
			if text := strings.TrimSpace(node.Text()); text != "" {
				*parts = append(*parts, text)
			}
			return
		}
		collectText(node, parts)
	})
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func equalsAny(s string, markers []string) bool {
	for _, m := range markers {
		if s == m {
			return true
		}
	}
	return false
}

// FileStem returns Sanitize(title), or "untitled" when nothing survives.
func FileStem(title string) string {
	if stem := Sanitize(title); stem != "" {
		return stem
	}
	return "untitled"
}
