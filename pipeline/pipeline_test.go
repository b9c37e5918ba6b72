package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-novels/config"
	"github.com/aluiziolira/go-scrape-novels/models"
	"github.com/aluiziolira/go-scrape-novels/scraper"
	"github.com/aluiziolira/go-scrape-novels/site"
	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type mockFetcher struct {
	mu     sync.Mutex
	pages  map[string]string
	calls  map[string]int
	delays map[string]time.Duration
}

func newMockFetcher(pages map[string]string) *mockFetcher {
	return &mockFetcher{pages: pages, calls: make(map[string]int), delays: make(map[string]time.Duration)}
}

func (m *mockFetcher) Fetch(ctx context.Context, url string) (string, error) {
	m.mu.Lock()
	m.calls[url]++
	body, ok := m.pages[url]
	delay := m.delays[url]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if !ok {
		return "", fmt.Errorf("http status 404")
	}
	return body, nil
}

func (m *mockFetcher) callCount(url string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[url]
}

func chapterPage(text string) string {
	return fmt.Sprintf(`<html><body><div class="post-body"><p>%s</p></div></body></html>`, text)
}

func records(n int) ([]models.ChapterRecord, map[string]string) {
	recs := make([]models.ChapterRecord, 0, n)
	pages := make(map[string]string, n)
	for i := 1; i <= n; i++ {
		url := fmt.Sprintf("http://book.example.test/c%d.html", i)
		recs = append(recs, models.ChapterRecord{ID: i, Title: fmt.Sprintf("第%d章", i), URL: url})
		pages[url] = chapterPage(fmt.Sprintf("正文%d", i))
	}
	return recs, pages
}

func newTestDownloader(t *testing.T, f PageFetcher, cacheSize int, opts ...Option) *Downloader {
	t.Helper()
	d, err := NewDownloader(f, site.Builtin()[site.Book], cacheSize, opts...)
	if err != nil {
		t.Fatalf("new downloader: %v", err)
	}
	return d
}

func TestDownloadAllPreservesOrderAndSkipsFailures(t *testing.T) {
	recs, pages := records(4)
	delete(pages, recs[1].URL)
	pages[recs[2].URL] = `<html><body><p>no container</p></body></html>`

	metrics := scraper.NewMetrics()
	d := newTestDownloader(t, newMockFetcher(pages), 0, WithMetrics(metrics))

	chapters, result, err := d.DownloadAll(context.Background(), recs)
	if err != nil {
		t.Fatalf("download: %v", err)
	}

	want := []models.DownloadedChapter{
		{Title: "第1章", Content: "正文1"},
		{Title: "第4章", Content: "正文4"},
	}
	if len(chapters) != len(want) {
		t.Fatalf("chapters = %+v", chapters)
	}
	for i := range want {
		if chapters[i] != want[i] {
			t.Fatalf("chapter %d = %+v, want %+v", i, chapters[i], want[i])
		}
	}

	if result.Total != 4 || result.Succeeded != 2 || result.Failed != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.FailedURLs) != 2 || result.FailedURLs[0] != recs[1].URL || result.FailedURLs[1] != recs[2].URL {
		t.Fatalf("failed urls = %v", result.FailedURLs)
	}
	if got := testutil.ToFloat64(metrics.ChaptersTotal.WithLabelValues("failed")); got != 2 {
		t.Fatalf("failed metric = %v, want 2", got)
	}
}

func TestDownloadAllLogsEachSkippedChapter(t *testing.T) {
	recs, pages := records(5)
	skipped := []models.ChapterRecord{recs[0], recs[2], recs[4]}
	for _, r := range skipped {
		delete(pages, r.URL)
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	d := newTestDownloader(t, newMockFetcher(pages), 0, WithLogger(logger))

	if _, _, err := d.DownloadAll(context.Background(), recs); err != nil {
		t.Fatalf("download: %v", err)
	}

	type record struct {
		Msg string `json:"msg"`
		ID  int    `json:"id"`
		URL string `json:"url"`
	}
	var failures []record
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var r record
		if err := dec.Decode(&r); err != nil {
			t.Fatalf("decode log line: %v", err)
		}
		if r.Msg == "chapter download failed" {
			failures = append(failures, r)
		}
	}

	if len(failures) != len(skipped) {
		t.Fatalf("got %d failure records, want %d: %+v", len(failures), len(skipped), failures)
	}
	for i, want := range skipped {
		if failures[i].ID != want.ID || failures[i].URL != want.URL {
			t.Fatalf("failure %d = %+v, want id=%d url=%s", i, failures[i], want.ID, want.URL)
		}
	}
}

func TestDownloadAllParallelKeepsCatalogOrder(t *testing.T) {
	recs, pages := records(8)
	fetcher := newMockFetcher(pages)
	// Early chapters finish last.
	for i, r := range recs {
		fetcher.delays[r.URL] = time.Duration(len(recs)-i) * 5 * time.Millisecond
	}

	d := newTestDownloader(t, fetcher, 0, WithWorkers(4))
	chapters, result, err := d.DownloadAll(context.Background(), recs)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if result.Succeeded != 8 {
		t.Fatalf("succeeded = %d, want 8", result.Succeeded)
	}
	for i, ch := range chapters {
		if ch.Title != recs[i].Title || ch.Content != fmt.Sprintf("正文%d", i+1) {
			t.Fatalf("chapter %d out of order: %+v", i, ch)
		}
	}
}

func TestDownloadAllMemoizesDuplicateURLs(t *testing.T) {
	recs, pages := records(2)
	recs = append(recs, models.ChapterRecord{ID: 3, Title: "重复", URL: recs[0].URL})
	fetcher := newMockFetcher(pages)

	d := newTestDownloader(t, fetcher, 16)
	chapters, result, err := d.DownloadAll(context.Background(), recs)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if len(chapters) != 3 || chapters[2].Title != "重复" || chapters[2].Content != "正文1" {
		t.Fatalf("chapters = %+v", chapters)
	}
	if got := fetcher.callCount(recs[0].URL); got != 1 {
		t.Fatalf("duplicate url fetched %d times", got)
	}
	if result.CacheHits != 1 {
		t.Fatalf("cache hits = %d, want 1", result.CacheHits)
	}
}

func TestDownloadAllMemoIsPerRun(t *testing.T) {
	recs, pages := records(2)
	fetcher := newMockFetcher(pages)
	d := newTestDownloader(t, fetcher, 16)

	for run := 1; run <= 2; run++ {
		_, result, err := d.DownloadAll(context.Background(), recs)
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if result.CacheHits != 0 {
			t.Fatalf("run %d cache hits = %d, want 0", run, result.CacheHits)
		}
	}
	for _, r := range recs {
		if got := fetcher.callCount(r.URL); got != 2 {
			t.Fatalf("%s fetched %d times, want 2", r.URL, got)
		}
	}
}

func TestNewDownloaderRejectsNegativeCacheSize(t *testing.T) {
	if _, err := NewDownloader(newMockFetcher(nil), site.Builtin()[site.Book], -1); err == nil {
		t.Fatalf("expected error for negative cache size")
	}
}

func TestDownloadAllNothingDownloaded(t *testing.T) {
	recs, _ := records(3)
	d := newTestDownloader(t, newMockFetcher(map[string]string{}), 0)

	chapters, result, err := d.DownloadAll(context.Background(), recs)
	if !errors.Is(err, ErrNothingDownloaded) {
		t.Fatalf("expected ErrNothingDownloaded, got %v", err)
	}
	if chapters != nil || result.Failed != 3 {
		t.Fatalf("chapters=%v result=%+v", chapters, result)
	}

	if _, _, err := d.DownloadAll(context.Background(), nil); !errors.Is(err, ErrNothingDownloaded) {
		t.Fatalf("empty catalog: expected ErrNothingDownloaded, got %v", err)
	}
}

func TestDownloadAllStopsOnCancel(t *testing.T) {
	recs, pages := records(3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := newMockFetcher(pages)
	d := newTestDownloader(t, fetcher, 0)
	_, result, err := d.DownloadAll(ctx, recs)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result.Succeeded != 0 || fetcher.callCount(recs[0].URL) != 0 {
		t.Fatalf("work done after cancel: %+v", result)
	}
}

func TestDownloadOneThroughFetcher(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffMax = time.Millisecond

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://blog.example.test/s1.html",
		httpmock.NewStringResponder(200, `<div class="post-body">开头<br/>结尾<script>x()</script></div>`))

	fetcher, err := scraper.NewFetcher(cfg, scraper.WithTransport(transport))
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}

	d, err := NewDownloader(fetcher, site.Builtin()[site.Blog], 0)
	if err != nil {
		t.Fatalf("new downloader: %v", err)
	}
	ch, err := d.DownloadOne(context.Background(), models.ChapterRecord{ID: 1, Title: "故事", URL: "http://blog.example.test/s1.html"})
	if err != nil {
		t.Fatalf("download one: %v", err)
	}
	if ch.Title != "故事" || ch.Content != "开头\n结尾" {
		t.Fatalf("chapter = %+v", ch)
	}
}
