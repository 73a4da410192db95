package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPFetcher downloads source images over HTTP.
type HTTPFetcher struct {
	client *resty.Client
}

// NewHTTPFetcher creates a fetcher whose requests are bounded by timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	client.SetHeader("User-Agent", "embedr-ingest/1.0")
	return &HTTPFetcher{client: client}
}

// Fetch writes the body of url to dest.
func (f *HTTPFetcher) Fetch(ctx context.Context, url, dest string) error {
	resp, err := f.client.R().
		SetContext(ctx).
		SetOutput(dest).
		Get(url)
	if err != nil {
		os.Remove(dest)
		return fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	if resp.IsError() {
		os.Remove(dest)
		return fmt.Errorf("failed to fetch %s: status %d", url, resp.StatusCode())
	}
	return nil
}
