// Package cli runs the interactive download menu.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-novels/catalog"
	"github.com/aluiziolira/go-scrape-novels/config"
	"github.com/aluiziolira/go-scrape-novels/models"
	"github.com/aluiziolira/go-scrape-novels/parser"
	"github.com/aluiziolira/go-scrape-novels/pipeline"
	"github.com/aluiziolira/go-scrape-novels/scraper"
	"github.com/google/uuid"
)

// errQuit signals that input ended while a flow was prompting.
var errQuit = errors.New("cli: input closed")

const menu = `
==============================
 1. Download a novel (name or index URL)
 2. Download short stories by category
 3. Refresh short story categories
 4. Exit
 5. Append a single story to a book
 6. Resume a novel from its saved catalog
==============================
`

// Fetcher returns the raw body of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// App wires the catalog builders, downloaders and writers behind the menu.
type App struct {
	cfg     *config.Config
	in      *bufio.Reader
	out     io.Writer
	long    *catalog.Builder
	short   *catalog.Builder
	longDL  *pipeline.Downloader
	shortDL *pipeline.Downloader
	logger  *slog.Logger
}

// Option customises an App.
type Option func(*appOptions)

type appOptions struct {
	metrics *scraper.Metrics
	logger  *slog.Logger
}

// WithMetrics counts downloaded chapters on m.
func WithMetrics(m *scraper.Metrics) Option {
	return func(o *appOptions) {
		o.metrics = m
	}
}

// WithLogger replaces slog.Default for flow logs.
func WithLogger(l *slog.Logger) Option {
	return func(o *appOptions) {
		o.logger = l
	}
}

// New builds the menu application. Prompts are read from in and written to out.
func New(cfg *config.Config, fetcher Fetcher, in io.Reader, out io.Writer, opts ...Option) (*App, error) {
	o := appOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	longProfile, err := cfg.LongProfile()
	if err != nil {
		return nil, fmt.Errorf("long site: %w", err)
	}
	shortProfile, err := cfg.ShortProfile()
	if err != nil {
		return nil, fmt.Errorf("short site: %w", err)
	}

	dlOpts := []pipeline.Option{
		pipeline.WithWorkers(cfg.Workers),
		pipeline.WithMetrics(o.metrics),
		pipeline.WithLogger(o.logger),
	}
	longDL, err := pipeline.NewDownloader(fetcher, longProfile, cfg.ContentCacheSize, dlOpts...)
	if err != nil {
		return nil, err
	}
	shortDL, err := pipeline.NewDownloader(fetcher, shortProfile, cfg.ContentCacheSize, dlOpts...)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:     cfg,
		in:      bufio.NewReader(in),
		out:     out,
		long:    catalog.NewBuilder(fetcher, longProfile, cfg.CatalogSource),
		short:   catalog.NewBuilder(fetcher, shortProfile, cfg.CatalogSource),
		longDL:  longDL,
		shortDL: shortDL,
		logger:  o.logger,
	}, nil
}

// Run shows the menu until the operator exits, input ends or ctx is done.
// A failed flow is reported and the menu shown again.
func (a *App) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		fmt.Fprint(a.out, menu)
		choice, err := a.prompt("Choose an option: ")
		if err != nil {
			return nil
		}

		var flow func(context.Context, *slog.Logger) error
		name := ""
		switch choice {
		case "1":
			flow, name = a.longForm, "long_form"
		case "2":
			flow, name = a.shortStories, "short_story"
		case "3":
			flow, name = a.refreshCategories, "category_refresh"
		case "4":
			fmt.Fprintln(a.out, "Bye.")
			return nil
		case "5":
			flow, name = a.adHoc, "ad_hoc"
		case "6":
			flow, name = a.resume, "resume"
		default:
			fmt.Fprintf(a.out, "Invalid option %q, choose 1-6.\n", choice)
			continue
		}

		log := a.logger.With(slog.String("run_id", uuid.NewString()), slog.String("flow", name))
		err = flow(ctx, log)
		switch {
		case errors.Is(err, errQuit):
			return nil
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			log.Error("flow failed", slog.Any("error", err))
			fmt.Fprintf(a.out, "Failed: %v\n", err)
		}
	}
}

func (a *App) longForm(ctx context.Context, log *slog.Logger) error {
	input, err := a.prompt("Novel name or index URL: ")
	if err != nil || input == "" {
		return err
	}

	title, records, err := a.long.Build(ctx, input)
	if err != nil {
		return err
	}
	path, err := catalog.Save(a.cfg.CatalogDir, title, records)
	if err != nil {
		return err
	}
	log.Info("catalog saved", slog.String("path", path), slog.Int("chapters", len(records)))

	return a.download(ctx, log, title)
}

func (a *App) resume(ctx context.Context, log *slog.Logger) error {
	title, err := a.prompt("Novel name: ")
	if err != nil || title == "" {
		return err
	}
	return a.download(ctx, log, title)
}

// download reads the saved catalog of title back and writes the novel.
func (a *App) download(ctx context.Context, log *slog.Logger, title string) error {
	records, err := catalog.Load(a.cfg.CatalogDir, title)
	if err != nil {
		return err
	}

	chapters, result, err := a.longDL.With(pipeline.WithLogger(log)).DownloadAll(ctx, records)
	if err != nil {
		return err
	}
	path, err := pipeline.WriteNovel(a.cfg.DownloadPath, title, chapters, pipeline.ModeOverwrite, a.cfg.OutputFormat)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Saved %d/%d chapters to %s\n", result.Succeeded, result.Total, path)
	return nil
}

func (a *App) refreshCategories(ctx context.Context, log *slog.Logger) error {
	categories, err := a.short.RefreshCategories(ctx)
	if err != nil {
		return err
	}
	path, err := catalog.SaveCategories(a.cfg.CategoriesDir, categories)
	if err != nil {
		return err
	}

	log.Info("categories saved", slog.String("path", path), slog.Int("categories", len(categories)))
	fmt.Fprintf(a.out, "Saved %d categories to %s\n", len(categories), path)
	return nil
}

func (a *App) shortStories(ctx context.Context, log *slog.Logger) error {
	categories, err := catalog.LoadCategories(a.cfg.CategoriesDir)
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(a.out, "No saved categories, refresh them first (option 3).")
		return nil
	}
	if err != nil {
		return err
	}

	titles := make([]string, len(categories))
	for i, c := range categories {
		titles[i] = c.Title
	}
	idx, err := a.choose("Category (number or title, empty to go back): ", titles)
	if err != nil || idx < 0 {
		return err
	}
	category := categories[idx]

	stories, err := a.short.Stories(ctx, category.URL)
	if err != nil {
		return err
	}
	titles = make([]string, len(stories))
	for i, s := range stories {
		titles[i] = s.Title
	}
	idx, err = a.choose("Story (number or title, empty for all): ", titles)
	if err != nil {
		return err
	}
	if idx >= 0 {
		stories = stories[idx : idx+1]
	}

	records := make([]models.ChapterRecord, len(stories))
	for i, s := range stories {
		records[i] = models.ChapterRecord{ID: i + 1, Title: s.Title, URL: s.URL}
	}
	chapters, _, err := a.shortDL.With(pipeline.WithLogger(log)).DownloadAll(ctx, records)
	if err != nil {
		return err
	}

	dir := filepath.Join(a.cfg.DownloadPath, parser.FileStem(category.Title))
	written := 0
	for _, ch := range chapters {
		path, err := pipeline.WriteNovel(dir, ch.Title, []models.DownloadedChapter{ch}, pipeline.ModeOverwrite, a.cfg.OutputFormat)
		if err != nil {
			log.Error("story not written", slog.String("title", ch.Title), slog.Any("error", err))
			continue
		}
		written++
		log.Debug("story written", slog.String("path", path))
	}

	fmt.Fprintf(a.out, "Saved %d/%d stories to %s\n", written, len(records), dir)
	return nil
}

func (a *App) adHoc(ctx context.Context, log *slog.Logger) error {
	book, err := a.prompt("Book name: ")
	if err != nil || book == "" {
		return err
	}
	title, err := a.prompt("Chapter title: ")
	if err != nil {
		return err
	}
	link, err := a.prompt("Chapter URL: ")
	if err != nil {
		return err
	}

	record := models.ChapterRecord{ID: 1, Title: title, URL: link}
	if err := parser.ValidateChapter(record); err != nil {
		return err
	}

	chapter, err := a.downloaderFor(link).With(pipeline.WithLogger(log)).DownloadOne(ctx, record)
	if err != nil {
		return err
	}
	path, err := pipeline.WriteNovel(a.cfg.DownloadPath, book, []models.DownloadedChapter{chapter}, pipeline.ModeAppend, a.cfg.OutputFormat)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Appended %q to %s\n", title, path)
	return nil
}

// downloaderFor picks the downloader whose site serves rawURL. Unknown hosts
// use the long-form downloader, which knows both chapter layouts.
func (a *App) downloaderFor(rawURL string) *pipeline.Downloader {
	u, err := url.Parse(rawURL)
	if err != nil {
		return a.longDL
	}
	host := strings.ToLower(u.Hostname())
	if slices.Contains(a.long.Profile().Hosts(), host) {
		return a.longDL
	}
	if slices.Contains(a.short.Profile().Hosts(), host) {
		return a.shortDL
	}
	return a.longDL
}

// choose lists titles and reads a selection by 1-based number or exact
// title. Empty input returns -1: "back" or "all" depending on the caller.
// Invalid input re-prompts.
func (a *App) choose(label string, titles []string) (int, error) {
	for i, t := range titles {
		fmt.Fprintf(a.out, "%3d. %s\n", i+1, t)
	}
	for {
		input, err := a.prompt(label)
		if err != nil {
			return -1, err
		}
		if input == "" {
			return -1, nil
		}
		if n, err := strconv.Atoi(input); err == nil && n >= 1 && n <= len(titles) {
			return n - 1, nil
		}
		for i, t := range titles {
			if t == input {
				return i, nil
			}
		}
		fmt.Fprintf(a.out, "No entry matches %q.\n", input)
	}
}

// prompt writes label and returns the trimmed next line. It returns errQuit
// once input is exhausted.
func (a *App) prompt(label string) (string, error) {
	fmt.Fprint(a.out, label)
	line, err := a.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		fmt.Fprintln(a.out)
		return "", errQuit
	}
	return strings.TrimSpace(line), nil
}
