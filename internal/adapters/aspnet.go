package adapters

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/surplustrust/platform/internal/crawler"
)

// ASPNetFormAdapter targets county sites built on ASP.NET Web Forms,
// family (b) from spec.md §4.2: a search form whose postback carries
// __VIEWSTATE and __EVENTVALIDATION hidden fields that must be echoed
// back verbatim or the server rejects the submission. Discover loads the
// search page once to harvest those fields, then POSTs the search with
// them attached and scrapes the results page for record links.
type ASPNetFormAdapter struct {
	fetcher   *crawler.Fetcher
	client    *http.Client
	searchURL string
	// extraFields are additional form fields to submit alongside the
	// harvested view-state (search criteria, event targets).
	extraFields map[string]string
	logger      *zap.Logger
}

// NewASPNetFormAdapter builds an adapter against searchURL. extraFields
// supplies the county-specific search criteria posted with the form.
func NewASPNetFormAdapter(fetcher *crawler.Fetcher, searchURL string, extraFields map[string]string, logger *zap.Logger) *ASPNetFormAdapter {
	return &ASPNetFormAdapter{
		fetcher:     fetcher,
		client:      &http.Client{Timeout: 30 * time.Second},
		searchURL:   searchURL,
		extraFields: extraFields,
		logger:      logger,
	}
}

func (a *ASPNetFormAdapter) Discover(ctx context.Context) ([]string, error) {
	page, err := a.fetcher.Get(ctx, a.searchURL)
	if err != nil {
		return nil, fmt.Errorf("fetch search page: %w", err)
	}
	if page.NotModified {
		return nil, nil
	}

	fields, err := formFields(page.Body)
	if err != nil {
		return nil, fmt.Errorf("parse view-state fields: %w", err)
	}
	for k, v := range a.extraFields {
		fields[k] = v
	}

	form := url.Values{}
	for k, v := range fields {
		form.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.searchURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build search post: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post search form: %w", err)
	}
	defer resp.Body.Close()

	body := new(bytes.Buffer)
	if _, err := body.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("read search results: %w", err)
	}

	return extractAnchors(a.searchURL, body.Bytes())
}

func (a *ASPNetFormAdapter) Download(ctx context.Context, url string) ([]byte, error) {
	resp, err := a.fetcher.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (a *ASPNetFormAdapter) FetchStructured(ctx context.Context, url string, raw []byte) (string, error) {
	return stripTags(raw), nil
}
