package adapters

import (
	"context"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/surplustrust/platform/internal/crawler"
	"github.com/surplustrust/platform/internal/extraction"
)

// pdfLinkPattern matches href-style links ending in .pdf, case-insensitive.
var pdfLinkPattern = regexp.MustCompile(`(?i)href\s*=\s*["']([^"']+\.pdf)["']`)

// CalendarPDFAdapter targets foreclosure-calendar sites that publish a
// sale-date listing page with linked PDF notices, family (a) from
// spec.md §4.2. Discover scrapes the calendar page for PDF links;
// FetchStructured runs ExtractPDFText over each one.
type CalendarPDFAdapter struct {
	fetcher     *crawler.Fetcher
	calendarURL string
	logger      *zap.Logger
}

// NewCalendarPDFAdapter builds an adapter that discovers PDFs linked from
// calendarURL.
func NewCalendarPDFAdapter(fetcher *crawler.Fetcher, calendarURL string, logger *zap.Logger) *CalendarPDFAdapter {
	return &CalendarPDFAdapter{fetcher: fetcher, calendarURL: calendarURL, logger: logger}
}

func (a *CalendarPDFAdapter) Discover(ctx context.Context) ([]string, error) {
	resp, err := a.fetcher.Get(ctx, a.calendarURL)
	if err != nil {
		return nil, fmt.Errorf("fetch calendar page: %w", err)
	}
	if resp.NotModified {
		return nil, nil
	}

	matches := pdfLinkPattern.FindAllSubmatch(resp.Body, -1)
	urls := make([]string, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		link := resolveLink(a.calendarURL, string(m[1]))
		if seen[link] {
			continue
		}
		seen[link] = true
		urls = append(urls, link)
	}
	return urls, nil
}

func (a *CalendarPDFAdapter) Download(ctx context.Context, url string) ([]byte, error) {
	resp, err := a.fetcher.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (a *CalendarPDFAdapter) FetchStructured(ctx context.Context, url string, raw []byte) (string, error) {
	text, err := extraction.ExtractPDFText(raw)
	if err != nil {
		return "", fmt.Errorf("extract pdf text %s: %w", url, err)
	}
	return text, nil
}
