// Package catalog discovers chapter and category listings and persists them
// as JSON files.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aluiziolira/go-scrape-novels/config"
	"github.com/aluiziolira/go-scrape-novels/models"
	"github.com/aluiziolira/go-scrape-novels/parser"
	"github.com/aluiziolira/go-scrape-novels/site"
	"github.com/mmcdole/gofeed"
)

var (
	// ErrEmptyCatalog is returned when a listing yields no chapters.
	ErrEmptyCatalog = errors.New("catalog: no chapters found")
	// ErrNoCategories is returned when the category index yields nothing usable.
	ErrNoCategories = errors.New("catalog: no categories found")
	// ErrNoStories is returned when a category page lists no stories.
	ErrNoStories = errors.New("catalog: no stories found")
)

// PageFetcher returns the raw body of a page.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Builder discovers listings on one site.
type Builder struct {
	fetcher PageFetcher
	profile site.Profile
	source  string
}

// NewBuilder returns a builder for profile. source selects how label
// catalogs are discovered: config.SourceLabel or config.SourceFeed.
func NewBuilder(fetcher PageFetcher, profile site.Profile, source string) *Builder {
	if source == "" {
		source = config.SourceLabel
	}
	return &Builder{fetcher: fetcher, profile: profile, source: source}
}

// Profile returns the site profile the builder scrapes.
func (b *Builder) Profile() site.Profile {
	return b.profile
}

// Build returns the title and ordered chapter records of a novel. An http(s)
// URL is read as a table-of-contents page; anything else is a label name.
// Ids are assigned from 1 in discovery order.
func (b *Builder) Build(ctx context.Context, nameOrURL string) (string, []models.ChapterRecord, error) {
	input := strings.TrimSpace(nameOrURL)
	if input == "" {
		return "", nil, fmt.Errorf("novel name cannot be empty")
	}

	var (
		title string
		links []parser.Link
		err   error
	)
	switch {
	case isHTTPURL(input):
		title, links, err = b.fromIndex(ctx, input)
	case b.source == config.SourceFeed:
		title = input
		links, err = b.fromFeed(ctx, input)
	default:
		title = input
		links, err = b.fromLabel(ctx, input)
	}
	if err != nil {
		return "", nil, err
	}
	if len(links) == 0 {
		return "", nil, fmt.Errorf("%s: %w", input, ErrEmptyCatalog)
	}

	records := number(links)
	slog.Info("catalog built",
		slog.String("site", b.profile.Name),
		slog.String("title", title),
		slog.Int("chapters", len(records)),
	)
	return title, records, nil
}

// RefreshCategories fetches the site's category index, skipping monthly archives.
func (b *Builder) RefreshCategories(ctx context.Context) ([]models.CategoryRecord, error) {
	if b.profile.CategoriesURL == "" {
		return nil, fmt.Errorf("site %s has no categories page", b.profile.Name)
	}
	slog.Info("fetching page", slog.String("shape", parser.ShapeCategories.String()), slog.String("url", b.profile.CategoriesURL))
	html, err := b.fetcher.Fetch(ctx, b.profile.CategoriesURL)
	if err != nil {
		return nil, fmt.Errorf("fetch categories: %w", err)
	}
	links, err := parser.ExtractCategories(html, b.profile.CategoriesURL, b.profile)
	if err != nil {
		return nil, fmt.Errorf("extract categories: %w", err)
	}
	if len(links) == 0 {
		return nil, ErrNoCategories
	}

	categories := make([]models.CategoryRecord, 0, len(links))
	for _, l := range links {
		categories = append(categories, models.CategoryRecord{Title: l.Title, URL: l.URL})
	}
	return categories, nil
}

// Stories lists every story on a category page.
func (b *Builder) Stories(ctx context.Context, categoryURL string) ([]models.StoryRecord, error) {
	listing, err := b.profile.ListingURL(categoryURL)
	if err != nil {
		return nil, err
	}
	html, err := b.fetcher.Fetch(ctx, listing)
	if err != nil {
		return nil, fmt.Errorf("fetch category page: %w", err)
	}
	links, err := parser.ExtractListing(html, listing, b.profile)
	if err != nil {
		return nil, fmt.Errorf("extract stories: %w", err)
	}
	if len(links) == 0 {
		return nil, ErrNoStories
	}

	stories := make([]models.StoryRecord, 0, len(links))
	for _, l := range links {
		stories = append(stories, models.StoryRecord{Title: l.Title, URL: l.URL})
	}
	return stories, nil
}

func (b *Builder) fromLabel(ctx context.Context, label string) ([]parser.Link, error) {
	listing, err := b.profile.LabelURL(label)
	if err != nil {
		return nil, err
	}
	slog.Info("fetching page", slog.String("shape", parser.ShapeListing.String()), slog.String("url", listing))

	html, err := b.fetcher.Fetch(ctx, listing)
	if err != nil {
		return nil, fmt.Errorf("fetch label page: %w", err)
	}
	return parser.ExtractListing(html, listing, b.profile)
}

func (b *Builder) fromIndex(ctx context.Context, indexURL string) (string, []parser.Link, error) {
	slog.Info("fetching page", slog.String("shape", parser.ShapeIndex.String()), slog.String("url", indexURL))

	html, err := b.fetcher.Fetch(ctx, indexURL)
	if err != nil {
		return "", nil, fmt.Errorf("fetch index page: %w", err)
	}
	title, links, err := parser.ExtractIndex(html, indexURL, b.profile)
	if err != nil {
		return "", nil, fmt.Errorf("extract index: %w", err)
	}
	return title, links, nil
}

// fromFeed pages through the Atom feed of a label until a short page.
func (b *Builder) fromFeed(ctx context.Context, label string) ([]parser.Link, error) {
	size := b.profile.FeedPageSize
	if size <= 0 {
		size = 150
	}

	fp := gofeed.NewParser()
	var links []parser.Link
	for start := 1; start <= b.profile.MaxResults; start += size {
		feedURL, err := b.profile.FeedURL(label, start, size)
		if err != nil {
			return nil, err
		}
		slog.Info("fetching label feed", slog.String("url", feedURL))

		body, err := b.fetcher.Fetch(ctx, feedURL)
		if err != nil {
			return nil, fmt.Errorf("fetch label feed: %w", err)
		}
		feed, err := fp.ParseString(body)
		if err != nil {
			return nil, fmt.Errorf("parse label feed: %w", err)
		}

		for _, item := range feed.Items {
			title := strings.TrimSpace(item.Title)
			if title == "" || !isHTTPURL(item.Link) {
				continue
			}
			links = append(links, parser.Link{Title: title, URL: item.Link})
		}
		if len(feed.Items) < size {
			break
		}
	}
	return links, nil
}

func number(links []parser.Link) []models.ChapterRecord {
	records := make([]models.ChapterRecord, 0, len(links))
	for i, l := range links {
		records = append(records, models.ChapterRecord{ID: i + 1, Title: l.Title, URL: l.URL})
	}
	return records
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
