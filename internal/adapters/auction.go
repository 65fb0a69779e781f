package adapters

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/surplustrust/platform/internal/crawler"
)

// auctionListing is the subset of an auction platform's scheduled-sale
// JSON feed the adapter needs to build a detail-page URL per listing.
type auctionListing struct {
	ID string `json:"id"`
}

// AuctionPlatformAdapter targets third-party auction platforms that
// publish scheduled sales through a JSON listings feed, family (d) from
// spec.md §4.2. Discover fetches the feed and turns each listing into a
// detail-page URL; Download and FetchStructured fetch and flatten that
// detail page like the generic family.
type AuctionPlatformAdapter struct {
	fetcher     *crawler.Fetcher
	feedURL     string
	detailURLFn func(listingID string) string
	logger      *zap.Logger
}

// NewAuctionPlatformAdapter builds an adapter over feedURL. detailURLFn
// maps a listing ID to its detail-page URL (platforms vary in how they
// construct this).
func NewAuctionPlatformAdapter(fetcher *crawler.Fetcher, feedURL string, detailURLFn func(string) string, logger *zap.Logger) *AuctionPlatformAdapter {
	return &AuctionPlatformAdapter{fetcher: fetcher, feedURL: feedURL, detailURLFn: detailURLFn, logger: logger}
}

func (a *AuctionPlatformAdapter) Discover(ctx context.Context) ([]string, error) {
	resp, err := a.fetcher.Get(ctx, a.feedURL)
	if err != nil {
		return nil, fmt.Errorf("fetch auction feed: %w", err)
	}
	if resp.NotModified {
		return nil, nil
	}

	var listings []auctionListing
	if err := json.Unmarshal(resp.Body, &listings); err != nil {
		return nil, fmt.Errorf("decode auction feed: %w", err)
	}

	urls := make([]string, 0, len(listings))
	for _, l := range listings {
		if l.ID == "" {
			continue
		}
		urls = append(urls, a.detailURLFn(l.ID))
	}
	return urls, nil
}

func (a *AuctionPlatformAdapter) Download(ctx context.Context, url string) ([]byte, error) {
	resp, err := a.fetcher.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (a *AuctionPlatformAdapter) FetchStructured(ctx context.Context, url string, raw []byte) (string, error) {
	return stripTags(raw), nil
}
