package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-novels/config"
	"github.com/aluiziolira/go-scrape-novels/models"
	"github.com/aluiziolira/go-scrape-novels/scraper"
	"github.com/aluiziolira/go-scrape-novels/site"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubFetcher serves canned pages and records every requested URL.
type stubFetcher struct {
	pages     map[string]string
	requested []string
}

func (s *stubFetcher) Fetch(_ context.Context, url string) (string, error) {
	s.requested = append(s.requested, url)
	body, ok := s.pages[url]
	if !ok {
		return "", fmt.Errorf("unexpected url %s", url)
	}
	return body, nil
}

func testProfile() site.Profile {
	p := site.Builtin()[site.Book]
	p.LabelURLTemplate = "http://book.example.test/search/label/%s"
	p.FeedURLTemplate = "http://book.example.test/feeds/posts/default/-/%s"
	p.CategoriesURL = "http://blog.example.test/p/all.html"
	return p
}

const labelPage = `<html><body>
<h3 class="post-title entry-title"><a href="/c1">Ch1</a></h3>
<h3 class="post-title entry-title"><a href="/c2">Ch2</a></h3>
<h3 class="post-title entry-title"><a href="/c3">Ch3</a></h3>
<h3><a>下一页</a></h3>
</body></html>`

func TestBuildFromLabelPage(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffMax = time.Millisecond

	transport := httpmock.NewMockTransport()
	transport.RegisterRegexpResponder("GET", regexp.MustCompile(`^http://book\.example\.test/search/label/novel\?max-results=9999$`),
		httpmock.NewStringResponder(200, labelPage))

	fetcher, err := scraper.NewFetcher(cfg, scraper.WithTransport(transport))
	require.NoError(t, err)

	title, records, err := NewBuilder(fetcher, testProfile(), config.SourceLabel).Build(context.Background(), " novel ")
	require.NoError(t, err)

	assert.Equal(t, "novel", title)
	assert.Equal(t, []models.ChapterRecord{
		{ID: 1, Title: "Ch1", URL: "http://book.example.test/c1"},
		{ID: 2, Title: "Ch2", URL: "http://book.example.test/c2"},
		{ID: 3, Title: "Ch3", URL: "http://book.example.test/c3"},
	}, records)
}

func TestBuildFromIndexURL(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]string{
		"https://index.example.test/book/1/": `<h1>某书</h1><div id="list">
<a href="100.html">第一章</a><a href="101.html">第二章</a><a href="100.html">第一章</a></div>`,
	}}

	title, records, err := NewBuilder(fetcher, testProfile(), config.SourceLabel).Build(context.Background(), "https://index.example.test/book/1/")
	require.NoError(t, err)

	assert.Equal(t, "某书", title)
	require.Len(t, records, 3)
	for i, r := range records {
		assert.Equal(t, i+1, r.ID)
	}
	assert.Equal(t, "https://index.example.test/book/1/101.html", records[1].URL)
	assert.Equal(t, records[0].Title, records[2].Title, "titles are not de-duplicated")
}

func TestBuildIndexWithImageLinksLoadsBack(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]string{
		"https://index.example.test/book/2/": `<h1>某书</h1><div id="list">` +
			`<a href="100.html">第一章</a><a href="101.html"><img></a>` +
			`<a href="javascript:void(0)">加入书架</a><a href="102.html">第三章</a></div>`,
	}}

	title, records, err := NewBuilder(fetcher, testProfile(), config.SourceLabel).Build(context.Background(), "https://index.example.test/book/2/")
	require.NoError(t, err)
	require.Len(t, records, 2)

	dir := t.TempDir()
	_, err = Save(dir, title, records)
	require.NoError(t, err)

	loaded, err := Load(dir, title)
	require.NoError(t, err)
	assert.Equal(t, []models.ChapterRecord{
		{ID: 1, Title: "第一章", URL: "https://index.example.test/book/2/100.html"},
		{ID: 2, Title: "第三章", URL: "https://index.example.test/book/2/102.html"},
	}, loaded)
}

func TestBuildFromFeed(t *testing.T) {
	p := testProfile()
	p.FeedPageSize = 2

	entry := func(n int) string {
		return fmt.Sprintf(`<entry><id>tag:%d</id><title>Ch%d</title><link rel="alternate" type="text/html" href="http://book.example.test/c%d.html"/></entry>`, n, n, n)
	}
	feed := func(entries ...string) string {
		return `<?xml version="1.0" encoding="UTF-8"?><feed xmlns="http://www.w3.org/2005/Atom"><title>novel</title>` +
			strings.Join(entries, "") + `</feed>`
	}

	page1, err := p.FeedURL("novel", 1, 2)
	require.NoError(t, err)
	page2, err := p.FeedURL("novel", 3, 2)
	require.NoError(t, err)

	fetcher := &stubFetcher{pages: map[string]string{
		page1: feed(entry(1), entry(2)),
		page2: feed(entry(3)),
	}}

	title, records, err := NewBuilder(fetcher, p, config.SourceFeed).Build(context.Background(), "novel")
	require.NoError(t, err)

	assert.Equal(t, "novel", title)
	assert.Equal(t, []string{page1, page2}, fetcher.requested)
	require.Len(t, records, 3)
	assert.Equal(t, models.ChapterRecord{ID: 3, Title: "Ch3", URL: "http://book.example.test/c3.html"}, records[2])
}

func TestBuildFailures(t *testing.T) {
	labelURL, err := testProfile().LabelURL("empty")
	require.NoError(t, err)

	fetcher := &stubFetcher{pages: map[string]string{
		labelURL: `<html><body><h3><a href="/search?x">下一页</a></h3></body></html>`,
	}}
	b := NewBuilder(fetcher, testProfile(), config.SourceLabel)

	_, _, err = b.Build(context.Background(), "empty")
	assert.ErrorIs(t, err, ErrEmptyCatalog)

	_, _, err = b.Build(context.Background(), "unreachable")
	assert.Error(t, err)

	_, _, err = b.Build(context.Background(), "  ")
	assert.Error(t, err)
}

func TestRefreshCategories(t *testing.T) {
	p := testProfile()
	fetcher := &stubFetcher{pages: map[string]string{
		p.CategoriesURL: `<div class="post-body">
<a href="/search/label/%E9%83%BD%E5%B8%82">都市</a>
<a href="/2021/12/">2021年12月</a>
<a href="/search/label/%E6%A0%A1%E5%9B%AD">校园</a>
</div>`,
	}}

	categories, err := NewBuilder(fetcher, p, "").RefreshCategories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.CategoryRecord{
		{Title: "都市", URL: "http://blog.example.test/search/label/都市"},
		{Title: "校园", URL: "http://blog.example.test/search/label/校园"},
	}, categories)

	fetcher.pages[p.CategoriesURL] = `<div class="post-body"><a href="/2021/12/">2021年12月</a></div>`
	_, err = NewBuilder(fetcher, p, "").RefreshCategories(context.Background())
	assert.ErrorIs(t, err, ErrNoCategories)
}

func TestStories(t *testing.T) {
	p := testProfile()
	categoryURL := "http://blog.example.test/search/label/都市"
	listing, err := p.ListingURL(categoryURL)
	require.NoError(t, err)

	fetcher := &stubFetcher{pages: map[string]string{
		listing: `<h3><a href="/s1.html">故事一</a></h3><h3><a href="/s2.html">故事二</a></h3><h3><a href="/">主页</a></h3>`,
	}}

	stories, err := NewBuilder(fetcher, p, "").Stories(context.Background(), categoryURL)
	require.NoError(t, err)
	assert.Equal(t, []models.StoryRecord{
		{Title: "故事一", URL: "http://blog.example.test/s1.html"},
		{Title: "故事二", URL: "http://blog.example.test/s2.html"},
	}, stories)
}

func TestPathUsesSanitizedName(t *testing.T) {
	dir := filepath.Join("data", "chapters")
	assert.Equal(t, filepath.Join(dir, "我的小说_chapters.json"), Path(dir, "我的/小说?"))
	assert.Equal(t, filepath.Join(dir, "untitled_chapters.json"), Path(dir, "../"))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "chapters")
	records := []models.ChapterRecord{
		{ID: 1, Title: "第一章 <开端>", URL: "https://book.example.test/c1?a=1&b=2"},
		{ID: 2, Title: "第二章", URL: "https://book.example.test/c2"},
	}

	path, err := Save(dir, "烈火凤凰", records)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "烈火凤凰_chapters.json"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"title": "第一章 <开端>"`)
	assert.Contains(t, string(raw), "\n    {\n        \"id\": 1,")
	assert.Contains(t, string(raw), "a=1&b=2")

	loaded, err := Load(dir, "烈火凤凰")
	require.NoError(t, err)
	assert.Equal(t, records, loaded)
}

func TestLoadRejectsBrokenCatalogs(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(dir, "missing")
	assert.True(t, errors.Is(err, fs.ErrNotExist), "got %v", err)

	require.NoError(t, os.WriteFile(Path(dir, "gap"), []byte(`[{"id":1,"title":"a","url":"https://x.test/1"},{"id":3,"title":"b","url":"https://x.test/3"}]`), 0o644))
	_, err = Load(dir, "gap")
	assert.ErrorContains(t, err, "contiguous")

	require.NoError(t, os.WriteFile(Path(dir, "empty"), []byte(`[]`), 0o644))
	_, err = Load(dir, "empty")
	assert.ErrorIs(t, err, ErrEmptyCatalog)
}

func TestCategoriesRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "categories")
	categories := []models.CategoryRecord{{Title: "都市", URL: "https://blog.example.test/search/label/都市"}}

	path, err := SaveCategories(dir, categories)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, CategoriesFile), path)

	loaded, err := LoadCategories(dir)
	require.NoError(t, err)
	assert.Equal(t, categories, loaded)

	_, err = LoadCategories(t.TempDir())
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
