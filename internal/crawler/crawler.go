// Package crawler implements the Polite Crawler (C1): a per-host
// scheduler, conditional-request cache, jittered retry, and robots.txt
// compliance layer that every platform adapter's Discover/Download call
// goes through.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrorKind classifies a crawl failure so callers (and the scraper
// registry) can decide whether to retry, disable the source, or just log.
type ErrorKind string

const (
	KindTransient ErrorKind = "Transient"
	KindPermanent ErrorKind = "Permanent"
	KindBlocked   ErrorKind = "Blocked"
)

// CrawlError is returned by Fetcher.Get on any non-success outcome.
type CrawlError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *CrawlError) Error() string {
	return fmt.Sprintf("crawl %s: %s: %v", e.Kind, e.URL, e.Err)
}

func (e *CrawlError) Unwrap() error { return e.Err }

// transientStatus reports whether an HTTP status code warrants a retry.
func transientStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

// Response is a successfully fetched (or not-modified) document.
type Response struct {
	Body         []byte
	StatusCode   int
	NotModified  bool
	ETag         string
	LastModified string
}

// Scheduler enforces a minimum inter-request interval per host using a
// token-bucket limiter, the same primitive the teacher's per-IP
// RateLimiter uses, keyed by host instead of client IP.
type Scheduler struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	interval time.Duration
}

// NewScheduler builds a Scheduler with the given minimum per-host
// interval (spec.md §4.1 default: 30s).
func NewScheduler(interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{limiters: make(map[string]*rate.Limiter), interval: interval}
}

// Wait blocks until host's rate limiter admits the next request.
func (s *Scheduler) Wait(ctx context.Context, host string) error {
	s.mu.Lock()
	l, ok := s.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Every(s.interval), 1)
		s.limiters[host] = l
	}
	s.mu.Unlock()
	return l.Wait(ctx)
}

// Fetcher issues conditional, rate-limited, retried HTTP GETs.
type Fetcher struct {
	client    *http.Client
	scheduler *Scheduler
	cache     ConditionalCache
	robots    *RobotsChecker
	logger    *zap.Logger
}

// NewFetcher builds a Fetcher. cache and robots may be nil to disable
// those layers (used by tests).
func NewFetcher(scheduler *Scheduler, cache ConditionalCache, robots *RobotsChecker, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		client:    &http.Client{Timeout: 30 * time.Second},
		scheduler: scheduler,
		cache:     cache,
		robots:    robots,
		logger:    logger,
	}
}

// Get fetches rawURL, honoring robots.txt, the per-host schedule, the
// conditional-request cache, and the retry policy from spec.md §4.1: up
// to 5 attempts with exponential backoff plus full jitter, only for
// 408/429/5xx statuses and connection errors. On a 429, a Retry-After
// value in seconds is slept first; the backoff's computed delay still
// follows it.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &CrawlError{Kind: KindPermanent, URL: rawURL, Err: err}
	}

	if f.robots != nil {
		allowed, err := f.robots.Allowed(ctx, u)
		if err != nil {
			f.logger.Warn("robots.txt fetch failed, proceeding", zap.String("host", u.Host), zap.Error(err))
		} else if !allowed {
			return nil, &CrawlError{Kind: KindBlocked, URL: rawURL, Err: errors.New("disallowed by robots.txt")}
		}
	}

	var cached *cacheEntry
	if f.cache != nil {
		cached, _ = f.cache.Get(ctx, rawURL)
	}

	var resp *Response
	attempt := 0
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 20 * time.Second
	policy.RandomizationFactor = 1.0 // full jitter

	op := func() error {
		attempt++
		if f.scheduler != nil {
			if err := f.scheduler.Wait(ctx, u.Host); err != nil {
				return backoff.Permanent(err)
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return backoff.Permanent(&CrawlError{Kind: KindPermanent, URL: rawURL, Err: err})
		}
		if cached != nil {
			if cached.ETag != "" {
				req.Header.Set("If-None-Match", cached.ETag)
			}
			if cached.LastModified != "" {
				req.Header.Set("If-Modified-Since", cached.LastModified)
			}
		}

		httpResp, err := f.client.Do(req)
		if err != nil {
			if attempt >= 5 {
				return backoff.Permanent(&CrawlError{Kind: KindTransient, URL: rawURL, Err: err})
			}
			return err
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode == http.StatusNotModified {
			resp = &Response{StatusCode: http.StatusNotModified, NotModified: true, ETag: cached.ETag, LastModified: cached.LastModified}
			return nil
		}

		if httpResp.StatusCode >= 400 {
			if !transientStatus(httpResp.StatusCode) {
				return backoff.Permanent(&CrawlError{
					Kind: KindPermanent, URL: rawURL,
					Err: fmt.Errorf("status %d", httpResp.StatusCode),
				})
			}
			if attempt >= 5 {
				return backoff.Permanent(&CrawlError{Kind: KindTransient, URL: rawURL, Err: fmt.Errorf("status %d after %d attempts", httpResp.StatusCode, attempt)})
			}
			if httpResp.StatusCode == http.StatusTooManyRequests {
				if ra := httpResp.Header.Get("Retry-After"); ra != "" {
					if d, err := time.ParseDuration(ra + "s"); err == nil {
						time.Sleep(d)
					}
				}
			}
			return fmt.Errorf("status %d", httpResp.StatusCode)
		}

		body, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return err
		}
		resp = &Response{
			Body:         body,
			StatusCode:   httpResp.StatusCode,
			ETag:         httpResp.Header.Get("ETag"),
			LastModified: httpResp.Header.Get("Last-Modified"),
		}
		return nil
	}

	jitteredPolicy := &fullJitterBackoff{base: policy, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	if err := backoff.Retry(op, backoff.WithMaxRetries(jitteredPolicy, 4)); err != nil {
		var ce *CrawlError
		if errors.As(err, &ce) {
			return nil, ce
		}
		return nil, &CrawlError{Kind: KindTransient, URL: rawURL, Err: err}
	}

	if f.cache != nil && resp != nil && !resp.NotModified {
		_ = f.cache.Put(ctx, rawURL, resp.ETag, resp.LastModified, contentHash(resp.Body))
	}
	return resp, nil
}

// fullJitterBackoff wraps an ExponentialBackOff and replaces its interval
// with a uniform random draw in [0, interval], the "full jitter" variant
// spec.md §4.1 calls for rather than backoff's own equal-jitter default.
type fullJitterBackoff struct {
	base *backoff.ExponentialBackOff
	rng  *rand.Rand
}

func (f *fullJitterBackoff) NextBackOff() time.Duration {
	d := f.base.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	return time.Duration(f.rng.Int63n(int64(d) + 1))
}

func (f *fullJitterBackoff) Reset() { f.base.Reset() }
