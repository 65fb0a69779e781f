package adapters

import (
	"bytes"
	"context"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/surplustrust/platform/internal/crawler"
	"github.com/surplustrust/platform/internal/extraction"
)

var pdfMagic = []byte("%PDF")

// GenericLinkAdapter targets county sites with no consistent platform,
// family (c) from spec.md §4.2: a listing page whose record links match
// a configurable pattern (e.g. "/case/\d+" or "*.pdf"), with no form
// postback and no structured document format to lean on.
type GenericLinkAdapter struct {
	fetcher     *crawler.Fetcher
	listingURL  string
	linkPattern *regexp.Regexp
	logger      *zap.Logger
}

// NewGenericLinkAdapter builds an adapter over listingURL, following
// anchors whose href matches linkPattern.
func NewGenericLinkAdapter(fetcher *crawler.Fetcher, listingURL string, linkPattern *regexp.Regexp, logger *zap.Logger) *GenericLinkAdapter {
	return &GenericLinkAdapter{fetcher: fetcher, listingURL: listingURL, linkPattern: linkPattern, logger: logger}
}

func (a *GenericLinkAdapter) Discover(ctx context.Context) ([]string, error) {
	resp, err := a.fetcher.Get(ctx, a.listingURL)
	if err != nil {
		return nil, fmt.Errorf("fetch listing page: %w", err)
	}
	if resp.NotModified {
		return nil, nil
	}

	anchors, err := extractAnchors(a.listingURL, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("extract anchors: %w", err)
	}

	urls := make([]string, 0, len(anchors))
	for _, href := range anchors {
		if a.linkPattern == nil || a.linkPattern.MatchString(href) {
			urls = append(urls, href)
		}
	}
	return urls, nil
}

func (a *GenericLinkAdapter) Download(ctx context.Context, url string) ([]byte, error) {
	resp, err := a.fetcher.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (a *GenericLinkAdapter) FetchStructured(ctx context.Context, url string, raw []byte) (string, error) {
	if bytes.HasPrefix(raw, pdfMagic) {
		text, err := extraction.ExtractPDFText(raw)
		if err != nil {
			return "", fmt.Errorf("extract pdf text %s: %w", url, err)
		}
		return text, nil
	}
	return stripTags(raw), nil
}
