package crawler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/surplustrust/platform/internal/crawler"
	"go.uber.org/zap"
)

func TestFetcher_successfulGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"abc"`)
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	f := crawler.NewFetcher(crawler.NewScheduler(time.Millisecond), nil, nil, zap.NewNop())
	resp, err := f.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(resp.Body) != "hello" {
		t.Errorf("body mismatch: %q", resp.Body)
	}
	if resp.ETag != `"abc"` {
		t.Errorf("etag mismatch: %q", resp.ETag)
	}
}

func TestFetcher_permanentStatusFailsFast(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := crawler.NewFetcher(crawler.NewScheduler(time.Millisecond), nil, nil, zap.NewNop())
	_, err := f.Get(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	ce, ok := err.(*crawler.CrawlError)
	if !ok {
		t.Fatalf("expected *CrawlError, got %T", err)
	}
	if ce.Kind != crawler.KindPermanent {
		t.Errorf("expected Permanent, got %s", ce.Kind)
	}
	if attempts != 1 {
		t.Errorf("expected no retries for permanent status, got %d attempts", attempts)
	}
}

func TestFetcher_transientStatusRetriesThenFails(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := crawler.NewFetcher(crawler.NewScheduler(time.Millisecond), nil, nil, zap.NewNop())
	_, err := f.Get(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	ce, ok := err.(*crawler.CrawlError)
	if !ok {
		t.Fatalf("expected *CrawlError, got %T", err)
	}
	if ce.Kind != crawler.KindTransient {
		t.Errorf("expected Transient, got %s", ce.Kind)
	}
	if attempts < 2 {
		t.Errorf("expected multiple attempts for transient status, got %d", attempts)
	}
}

func TestScheduler_enforcesMinimumInterval(t *testing.T) {
	s := crawler.NewScheduler(50 * time.Millisecond)
	start := time.Now()
	s.Wait(context.Background(), "example.com")
	s.Wait(context.Background(), "example.com")
	if time.Since(start) < 40*time.Millisecond {
		t.Error("expected second Wait to be throttled by the per-host interval")
	}
}
