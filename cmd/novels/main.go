package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-scrape-novels/cli"
	"github.com/aluiziolira/go-scrape-novels/config"
	"github.com/aluiziolira/go-scrape-novels/scraper"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configDefault := "config.json"
	if value, ok := config.EnvString("NOVELS_CONFIG"); ok {
		configDefault = value
	}
	workersDefault := -1
	if value, ok, err := config.EnvInt("NOVELS_WORKERS"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid NOVELS_WORKERS: %v\n", err)
		os.Exit(1)
	} else if ok {
		workersDefault = value
	}
	attemptsDefault := -1
	if value, ok, err := config.EnvInt("NOVELS_MAX_ATTEMPTS"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid NOVELS_MAX_ATTEMPTS: %v\n", err)
		os.Exit(1)
	} else if ok {
		attemptsDefault = value
	}
	insecureDefault := false
	if value, ok, err := config.EnvBool("NOVELS_INSECURE"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid NOVELS_INSECURE: %v\n", err)
		os.Exit(1)
	} else if ok {
		insecureDefault = value
	}
	metricsDefault := ""
	if value, ok := config.EnvString("NOVELS_METRICS_ADDR"); ok {
		metricsDefault = value
	}
	downloadDefault := ""
	if value, ok := config.EnvString("NOVELS_DOWNLOAD_PATH"); ok {
		downloadDefault = value
	}

	configPath := flag.String("config", configDefault, "Path to config.json or config.yaml")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	workers := flag.Int("workers", workersDefault, "Chapters fetched concurrently, 1 keeps downloads sequential (-1 keeps the configured value)")
	maxAttempts := flag.Int("max-attempts", attemptsDefault, "Fetch attempts per URL, including the first (-1 keeps the configured value)")
	retryBackoffMs := flag.Int("retry-backoff", -1, "Delay before the first retry (milliseconds, -1 keeps the configured value)")
	insecure := flag.Bool("insecure", insecureDefault, "Skip TLS certificate verification")
	outputFormat := flag.String("format", "", "Output format: txt, jsonl, or dual (empty keeps the configured value)")
	source := flag.String("source", "", "Catalog source for novel names: label or feed (empty keeps the configured value)")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")
	downloadPath := flag.String("download-path", downloadDefault, "Output directory, overrides download_path from the config file")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := config.Load(*configPath)
	applyFlags(cfg, *verbose, *workers, *maxAttempts, *retryBackoffMs, *insecure, *outputFormat, *source, *metricsAddr, *downloadPath)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("starting",
		slog.Any("hosts", siteHosts(cfg)),
		slog.String("download_path", cfg.DownloadPath),
		slog.String("catalog_source", cfg.CatalogSource),
		slog.Int("workers", cfg.Workers),
		slog.Int("max_attempts", cfg.MaxAttempts),
	)

	fetcher, err := scraper.NewFetcher(cfg)
	if err != nil {
		slog.Error("initialising fetcher", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, stopping after the current fetch")
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && fetcher.Metrics != nil {
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(fetcher.Metrics.Registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	app, err := cli.New(cfg, fetcher, os.Stdin, os.Stdout, cli.WithMetrics(fetcher.Metrics))
	if err != nil {
		slog.Error("initialising menu", slog.Any("error", err))
		os.Exit(1)
	}

	startTime := time.Now()
	runErr := app.Run(ctx)

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(fetcher.Stats(), time.Since(startTime))

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("menu stopped", slog.Any("error", runErr))
		os.Exit(1)
	}
}

func applyFlags(cfg *config.Config, verbose bool, workers, maxAttempts, retryBackoffMs int, insecure bool, outputFormat, source, metricsAddr, downloadPath string) {
	cfg.Verbose = verbose
	if workers >= 0 {
		cfg.Workers = workers
	}
	if maxAttempts >= 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if retryBackoffMs >= 0 {
		cfg.RetryBackoff = time.Duration(retryBackoffMs) * time.Millisecond
		if cfg.RetryBackoffMax < cfg.RetryBackoff {
			cfg.RetryBackoffMax = cfg.RetryBackoff
		}
	}
	if insecure {
		cfg.VerifyTLS = false
	}
	if outputFormat != "" {
		cfg.OutputFormat = strings.ToLower(outputFormat)
	}
	if source != "" {
		cfg.CatalogSource = strings.ToLower(source)
	}
	cfg.MetricsAddr = metricsAddr
	if downloadPath != "" {
		cfg.DownloadPath = config.NormalizePath(downloadPath)
	}
}

// siteHosts lists the hosts of both configured sites. Validate has already
// resolved the profiles.
func siteHosts(cfg *config.Config) []string {
	long, _ := cfg.LongProfile()
	short, _ := cfg.ShortProfile()
	return append(long.Hosts(), short.Hosts()...)
}

func printSummary(stats scraper.Stats, duration time.Duration) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Session complete")
	fmt.Printf("  Requests:      %d\n", stats.Requests)
	successRate := 0.0
	if stats.Requests > 0 {
		successRate = float64(stats.Requests-stats.Errors) / float64(stats.Requests) * 100
	}
	fmt.Printf("  Success rate:  %.2f%%\n", successRate)
	fmt.Printf("  Errors:        %d\n", stats.Errors)
	fmt.Printf("  Retries:       %d\n", stats.Retries)
	if len(stats.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", stats.ErrorsByType)
	}
	fmt.Printf("  Duration:      %v\n", duration.Round(time.Millisecond))
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	// Logs go to stderr so they do not interleave with menu prompts on stdout.
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
