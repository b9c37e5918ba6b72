// Package pipeline downloads catalogued chapters and writes them out as novels.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-scrape-novels/models"
	"github.com/aluiziolira/go-scrape-novels/parser"
	"github.com/aluiziolira/go-scrape-novels/scraper"
	"github.com/aluiziolira/go-scrape-novels/site"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrNothingDownloaded is returned when every chapter of a run failed.
var ErrNothingDownloaded = errors.New("pipeline: no chapters downloaded")

// PageFetcher returns the raw body of a page.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Downloader fetches and extracts chapters in catalog order.
type Downloader struct {
	fetcher PageFetcher
	profile site.Profile
	workers int
	memo    int
	metrics *scraper.Metrics
	logger  *slog.Logger
}

// Option customises a Downloader.
type Option func(*Downloader)

// WithWorkers sets how many chapters are fetched at once. One keeps the
// download strictly sequential.
func WithWorkers(n int) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithMetrics counts chapter outcomes on m.
func WithMetrics(m *scraper.Metrics) Option {
	return func(d *Downloader) {
		d.metrics = m
	}
}

// WithLogger replaces the default logger, typically with one carrying a run id.
func WithLogger(l *slog.Logger) Option {
	return func(d *Downloader) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDownloader returns a downloader for chapters of profile. cacheSize
// bounds the per-run memo of extracted chapter text keyed by URL; zero
// disables it. The memo never outlives one DownloadAll call.
func NewDownloader(fetcher PageFetcher, profile site.Profile, cacheSize int, opts ...Option) (*Downloader, error) {
	if cacheSize < 0 {
		return nil, fmt.Errorf("content cache size cannot be negative")
	}
	d := &Downloader{
		fetcher: fetcher,
		profile: profile,
		workers: 1,
		memo:    cacheSize,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// With returns a copy of d with opts applied.
func (d *Downloader) With(opts ...Option) *Downloader {
	clone := *d
	for _, opt := range opts {
		opt(&clone)
	}
	return &clone
}

type outcome struct {
	chapter models.DownloadedChapter
	cached  bool
	err     error
	done    bool
}

// DownloadAll fetches every record and returns the chapters that succeeded
// in the order of records. A failed chapter is logged and skipped. When ctx
// is cancelled the chapters finished so far are returned with ctx.Err().
func (d *Downloader) DownloadAll(ctx context.Context, records []models.ChapterRecord) ([]models.DownloadedChapter, *models.DownloadResult, error) {
	result := &models.DownloadResult{
		StartTime: time.Now(),
		Total:     len(records),
	}

	var cache *lru.Cache[string, string]
	if d.memo > 0 {
		c, err := lru.New[string, string](d.memo)
		if err != nil {
			return nil, result, fmt.Errorf("create content cache: %w", err)
		}
		cache = c
	}

	outcomes := make([]outcome, len(records))
	if d.workers <= 1 || len(records) <= 1 {
		for i, r := range records {
			if ctx.Err() != nil {
				break
			}
			outcomes[i] = d.download(ctx, r, cache)
			d.logProgress(i+1, len(records), r)
		}
	} else {
		d.downloadParallel(ctx, records, outcomes, cache)
	}

	chapters := make([]models.DownloadedChapter, 0, len(records))
	for i, o := range outcomes {
		if !o.done {
			continue
		}
		if o.err != nil {
			result.Failed++
			result.FailedURLs = append(result.FailedURLs, records[i].URL)
			continue
		}
		if o.cached {
			result.CacheHits++
		}
		result.Succeeded++
		chapters = append(chapters, o.chapter)
	}
	result.EndTime = time.Now()

	d.logger.Info("download finished",
		slog.Int("total", result.Total),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
		slog.Int("cache_hits", result.CacheHits),
		slog.Duration("duration", result.Duration()),
	)

	if err := ctx.Err(); err != nil {
		return chapters, result, err
	}
	if len(chapters) == 0 {
		return nil, result, ErrNothingDownloaded
	}
	return chapters, result, nil
}

// DownloadOne fetches and extracts a single chapter.
func (d *Downloader) DownloadOne(ctx context.Context, record models.ChapterRecord) (models.DownloadedChapter, error) {
	o := d.download(ctx, record, nil)
	return o.chapter, o.err
}

func (d *Downloader) downloadParallel(ctx context.Context, records []models.ChapterRecord, outcomes []outcome, cache *lru.Cache[string, string]) {
	jobs := make(chan int)
	var (
		wg       sync.WaitGroup
		finished int64
	)

	for w := 0; w < d.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = d.download(ctx, records[i], cache)
				d.logProgress(int(atomic.AddInt64(&finished, 1)), len(records), records[i])
			}
		}()
	}

feed:
	for i := range records {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
}

func (d *Downloader) download(ctx context.Context, record models.ChapterRecord, cache *lru.Cache[string, string]) outcome {
	if cache != nil {
		if content, ok := cache.Get(record.URL); ok {
			d.metrics.IncChapter("cached")
			return outcome{
				chapter: models.DownloadedChapter{Title: record.Title, Content: content},
				cached:  true,
				done:    true,
			}
		}
	}

	content, err := d.fetchChapter(ctx, record.URL)
	if err != nil {
		d.metrics.IncChapter("failed")
		d.logger.Warn("chapter download failed",
			slog.Int("id", record.ID),
			slog.String("title", record.Title),
			slog.String("url", record.URL),
			slog.Any("error", err),
		)
		return outcome{err: err, done: true}
	}

	if cache != nil {
		cache.Add(record.URL, content)
	}
	d.metrics.IncChapter("downloaded")
	return outcome{
		chapter: models.DownloadedChapter{Title: record.Title, Content: content},
		done:    true,
	}
}

func (d *Downloader) fetchChapter(ctx context.Context, url string) (string, error) {
	d.logger.Debug("fetching page", slog.String("shape", parser.ShapeChapter.String()), slog.String("url", url))
	html, err := d.fetcher.Fetch(ctx, url)
	if err != nil {
		return "", fmt.Errorf("fetch chapter: %w", err)
	}
	content, err := parser.ExtractChapter(html, d.profile)
	if err != nil {
		return "", fmt.Errorf("extract chapter: %w", err)
	}
	return content, nil
}

func (d *Downloader) logProgress(position, total int, record models.ChapterRecord) {
	d.logger.Info("chapter processed",
		slog.String("progress", fmt.Sprintf("%d/%d", position, total)),
		slog.String("title", record.Title),
	)
}
