package newsfeed

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/dpup/saferoute/server/internal/lib/incident"
)

// HTTPDoer is the subset of *http.Client the feed client needs
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// FeedClient fetches the JSON news feed
type FeedClient struct {
	url        string
	httpClient HTTPDoer
}

// NewFeedClient creates a client for the feed at url
func NewFeedClient(url string) *FeedClient {
	return NewFeedClientWithHTTPDoer(url, &http.Client{Timeout: 30 * time.Second})
}

// NewFeedClientWithHTTPDoer creates a client with an injected HTTP implementation
func NewFeedClientWithHTTPDoer(url string, doer HTTPDoer) *FeedClient {
	return &FeedClient{url: url, httpClient: doer}
}

// FetchResult is one feed download
type FetchResult struct {
	News     []incident.News
	Rejected []error
}

// Fetch downloads and converts the feed. Individual malformed items are
// returned in Rejected instead of failing the whole download.
func (c *FeedClient) Fetch(ctx context.Context) (FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return FetchResult{}, eris.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return FetchResult{}, eris.Wrap(err, "failed to download news feed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return FetchResult{}, eris.Errorf("news feed returned status %d: %s", resp.StatusCode, string(body))
	}

	var feed Feed
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return FetchResult{}, eris.Wrap(err, "failed to decode news feed")
	}

	news, rejected := convertItems(feed.Items)
	return FetchResult{News: news, Rejected: rejected}, nil
}
