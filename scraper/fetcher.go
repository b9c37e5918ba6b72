package scraper

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-scrape-novels/config"
	"github.com/gocolly/colly/v2"
)

// RetryPolicy bounds how often and how patiently a URL is fetched.
// MaxAttempts counts every attempt, including the first.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	BackoffMax  time.Duration
}

// Delay returns the wait before the attempt following attempt (1-based).
// It doubles per attempt and is capped at BackoffMax.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := p.Backoff
	if base <= 0 {
		return 0
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := p.BackoffMax; max > 0 && (delay > max || delay <= 0) {
		delay = max
	}
	return delay
}

// Stats is a snapshot of fetcher counters.
type Stats struct {
	Requests     int
	Retries      int
	Errors       int
	ErrorsByType map[string]int
}

// Fetcher wraps a colly collector and the retry policy. Each attempt runs
// on a clone of the collector, so one Fetcher may serve several goroutines.
type Fetcher struct {
	collector *colly.Collector
	policy    RetryPolicy
	Metrics   *Metrics
	transport http.RoundTripper

	requestCount int64
	retryCount   int64
	errorCount   int64

	mu           sync.Mutex
	errorsByType map[string]int
}

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithTransport replaces the network transport. Used by tests to inject a mock.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) {
		if rt != nil {
			f.transport = rt
		}
	}
}

// WithMetrics shares a metrics bundle instead of creating a private one.
func WithMetrics(m *Metrics) Option {
	return func(f *Fetcher) {
		f.Metrics = m
	}
}

// NewFetcher builds a fetcher configured from cfg.
func NewFetcher(cfg *config.Config, opts ...Option) (*Fetcher, error) {
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("max attempts must be positive")
	}

	options := []colly.CollectorOption{
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(cfg.MaxBodySize),
	}
	if len(cfg.AllowedDomains) > 0 {
		options = append(options, colly.AllowedDomains(cfg.AllowedDomains...))
	}
	collector := colly.NewCollector(options...)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.ParseHTTPErrorResponse = true

	f := &Fetcher{
		collector: collector,
		policy: RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			Backoff:     cfg.RetryBackoff,
			BackoffMax:  cfg.RetryBackoffMax,
		},
		Metrics: NewMetrics(),
		transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   cfg.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			// #nosec G402 -- opt-in via verify_tls=false for hosts with broken chains.
			TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS},
		},
		errorsByType: make(map[string]int),
	}
	for _, opt := range opts {
		opt(f)
	}
	collector.WithTransport(newDecodingTransport(f.transport))

	if !cfg.VerifyTLS {
		slog.Warn("TLS certificate verification is disabled")
	}
	return f, nil
}

// Policy returns the retry policy in effect.
func (f *Fetcher) Policy() RetryPolicy {
	return f.policy
}

// Fetch returns the body of rawURL. Timeouts, connection failures, 429 and
// 5xx responses are retried up to the policy's attempt cap; other failures
// return immediately. The returned error wraps a *FetchError unless ctx
// was cancelled.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		lastErr  error
		attempts int
	)
	for attempts < f.policy.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		attempts++

		start := time.Now()
		atomic.AddInt64(&f.requestCount, 1)
		f.Metrics.IncRequest("started")

		body, status, err := f.fetchOnce(rawURL)
		f.Metrics.ObserveDuration(time.Since(start))
		if err == nil {
			f.Metrics.IncRequest("succeeded")
			slog.Debug("fetched page",
				slog.String("url", rawURL),
				slog.Int("attempt", attempts),
				slog.Int("bytes", len(body)),
			)
			return string(body), nil
		}

		lastErr = classifyError(err, status)
		category := errorTypeLabel(lastErr)
		f.recordError(category)

		if !IsRetryable(lastErr) || attempts >= f.policy.MaxAttempts {
			break
		}

		delay := f.policy.Delay(attempts)
		atomic.AddInt64(&f.retryCount, 1)
		f.Metrics.IncRetries()
		slog.Warn("fetch attempt failed, retrying",
			slog.String("url", rawURL),
			slog.Int("attempt", attempts),
			slog.Int("max_attempts", f.policy.MaxAttempts),
			slog.Duration("delay", delay),
			slog.String("category", category),
			slog.Any("error", lastErr),
		)
		if err := sleep(ctx, delay); err != nil {
			return "", err
		}
	}

	f.Metrics.IncRequest("failed")
	slog.Error("fetch failed",
		slog.String("url", rawURL),
		slog.Int("attempts", attempts),
		slog.String("category", errorTypeLabel(lastErr)),
		slog.Any("error", lastErr),
	)
	return "", &FetchError{URL: rawURL, Attempts: attempts, Err: lastErr}
}

// Stats returns a snapshot of the fetcher counters.
func (f *Fetcher) Stats() Stats {
	f.mu.Lock()
	byType := make(map[string]int, len(f.errorsByType))
	for k, v := range f.errorsByType {
		byType[k] = v
	}
	f.mu.Unlock()

	return Stats{
		Requests:     int(atomic.LoadInt64(&f.requestCount)),
		Retries:      int(atomic.LoadInt64(&f.retryCount)),
		Errors:       int(atomic.LoadInt64(&f.errorCount)),
		ErrorsByType: byType,
	}
}

func (f *Fetcher) fetchOnce(rawURL string) ([]byte, int, error) {
	c := f.collector.Clone()
	c.ParseHTTPErrorResponse = true

	var (
		body   []byte
		status int
	)
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})
	c.OnError(func(r *colly.Response, _ error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	if err := c.Visit(rawURL); err != nil {
		return nil, status, err
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return nil, status, fmt.Errorf("http status %d", status)
	}
	return body, status, nil
}

func (f *Fetcher) recordError(category string) {
	atomic.AddInt64(&f.errorCount, 1)
	f.mu.Lock()
	f.errorsByType[category]++
	f.mu.Unlock()
	f.Metrics.IncError(category)
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	if errors.Is(err, colly.ErrForbiddenDomain) ||
		errors.Is(err, colly.ErrRobotsTxtBlocked) ||
		errors.Is(err, colly.ErrMissingURL) {
		return ErrBlocked{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch {
		case statusCode == http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case statusCode == http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case statusCode == http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		case statusCode >= http.StatusInternalServerError:
			return ErrServer{Err: wrapped}
		case statusCode >= http.StatusMultipleChoices:
			return ErrClient{Err: wrapped}
		}
	}

	if err == nil {
		return nil
	}
	// Anything else with no HTTP status never reached the server.
	return ErrConnection{Err: err}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
