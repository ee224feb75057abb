// Package catalog lists media items from the Google Photos Library API.
//
// Listing is paged and cursor driven. Search returns an Iterator that
// fetches one page at a time, so memory use stays bounded by the page size
// regardless of library size.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/paulschiretz/pgl-photosync/pkg/auth"
	"github.com/paulschiretz/pgl-photosync/pkg/buildinfo"
	"github.com/paulschiretz/pgl-photosync/pkg/plog"
	"github.com/paulschiretz/pgl-photosync/pkg/syncerr"
)

// PageSize is the number of items requested per page. The service caps it at 100.
const PageSize = 100

// DefaultBaseURL is the Library API endpoint.
const DefaultBaseURL = "https://photoslibrary.googleapis.com"

const searchPath = "/v1/mediaItems:search"

// maxErrorBody bounds how much of a failed response is quoted in errors.
const maxErrorBody = 4096

// Client issues search requests. The access token is obtained once, on
// Authorize or the first request, and reused for the rest of the run.
type Client struct {
	baseURL    string
	creds      auth.Credentials
	authOpts   []auth.Option
	httpClient *http.Client
	limiter    *rate.Limiter

	mu          sync.Mutex
	accessToken string
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API host, mainly for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAuthOptions is passed through to auth.NewProvider.
func WithAuthOptions(opts ...auth.Option) Option {
	return func(c *Client) { c.authOpts = append(c.authOpts, opts...) }
}

// WithRateLimit caps page requests per second. Zero or less disables the limit.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// NewClient creates a catalog client that authenticates with creds.
func NewClient(creds auth.Credentials, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		creds:      creds,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authorize obtains the access token if the client has none yet. Errors
// are classified as ErrAuth.
func (c *Client) Authorize(ctx context.Context) error {
	_, err := c.token(ctx)
	return err
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" {
		return c.accessToken, nil
	}
	provider, err := auth.NewProvider(c.creds, c.authOpts...)
	if err != nil {
		return "", err
	}
	tok, err := provider.Token(ctx)
	if err != nil {
		return "", err
	}
	c.accessToken = tok
	return tok, nil
}

// Search starts a new listing. Nothing is requested until the first Next.
func (c *Client) Search(filter Filter) *Iterator {
	return &Iterator{client: c, filter: filter}
}

// fetchPage performs a single search request.
func (c *Client) fetchPage(ctx context.Context, filter Filter, pageToken string) (*searchResponse, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(filter.request(pageToken))
	if err != nil {
		return nil, syncerr.Remote("encode search request", 0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+searchPath, bytes.NewReader(body))
	if err != nil {
		return nil, syncerr.Remote("build search request", 0, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", buildinfo.AppID+"/"+buildinfo.Version)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, syncerr.Remote("search media items", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		cause := fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(snippet)))
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			e := syncerr.Auth("search media items", cause)
			e.StatusCode = resp.StatusCode
			return nil, e
		}
		return nil, syncerr.Remote("search media items", resp.StatusCode, cause)
	}

	var page searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, syncerr.Remote("decode search response", resp.StatusCode, err)
	}
	return &page, nil
}

// Iterator walks the pages of one search. Only the current page and the
// next cursor are held.
//
//	it := client.Search(filter)
//	for it.Next(ctx) {
//		item := it.Item()
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	client *Client
	filter Filter

	page    []MediaItem
	pos     int
	cursor  string
	started bool
	current MediaItem
	pages   int
	err     error
}

// Next advances to the next item, fetching a new page when the current one
// is exhausted. It returns false at the end of the listing or on error.
func (it *Iterator) Next(ctx context.Context) bool {
	for {
		if it.err != nil {
			return false
		}
		if it.pos < len(it.page) {
			it.current = it.page[it.pos]
			it.pos++
			return true
		}
		if it.started && it.cursor == "" {
			return false
		}

		resp, err := it.client.fetchPage(ctx, it.filter, it.cursor)
		if err != nil {
			it.err = err
			return false
		}
		it.started = true
		it.pages++
		it.cursor = resp.NextPageToken
		it.pos = 0
		it.page = it.page[:0]
		for _, w := range resp.MediaItems {
			it.page = append(it.page, w.toItem())
		}
		plog.Debug("Fetched catalog page", "page", it.pages, "items", len(it.page), "hasMore", it.cursor != "")
	}
}

// Item returns the item the last successful Next advanced to.
func (it *Iterator) Item() MediaItem { return it.current }

// Err returns the error that stopped the iteration, if any.
func (it *Iterator) Err() error { return it.err }

// Pages returns how many pages have been fetched so far.
func (it *Iterator) Pages() int { return it.pages }
