// Package search talks to the recent-search endpoint and exposes its
// paginated results as a lazy sequence of posts.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/FranksOps/happytweet/internal/failure"
	"github.com/FranksOps/happytweet/internal/metrics"
	"github.com/FranksOps/happytweet/internal/query"
	"github.com/FranksOps/happytweet/internal/storage"
	"github.com/FranksOps/happytweet/pkg/httpclient"
	"github.com/FranksOps/happytweet/pkg/ratelimit"
)

const (
	// DefaultBaseURL is the v2 recent-search endpoint (last 7 days).
	DefaultBaseURL = "https://api.twitter.com/2/tweets/search/recent"
	// DefaultStatusURL prefixes post permalinks.
	DefaultStatusURL = "https://twitter.com"

	MinPageSize = 10
	MaxPageSize = 100

	maxBodySize = 10 << 20
)

var (
	// ErrConsumed is yielded when a Fetch sequence is ranged over a second time.
	ErrConsumed = errors.New("search: result sequence already consumed")
	// ErrPageLimit is yielded when MaxPages is reached, more pages remain and
	// AllowPartial is false.
	ErrPageLimit = errors.New("search: page limit reached before results were exhausted")
)

// Config configures a Client. Zero values fall back to defaults.
type Config struct {
	BaseURL   string
	StatusURL string
	// Token is the bearer credential; the "Bearer " prefix is optional.
	Token     string
	UserAgent string

	// PageSize is the per-request max_results, clamped to [10, 100]. Default 100.
	PageSize int
	// MaxResults caps the total number of posts yielded (0 = no cap).
	MaxResults int
	// MaxPages caps the number of requests per Fetch (0 = no cap).
	MaxPages int
	// AllowPartial ends the sequence cleanly at MaxPages instead of failing.
	AllowPartial bool

	// NetworkAttempts bounds attempts for transport errors and 5xx. Default 3.
	NetworkAttempts int
	// RateLimitRetries bounds retries after 429 responses. Default 3, negative disables.
	RateLimitRetries int
	// MaxRateLimitWait bounds a single wait for a rate-limit reset. Default 15m.
	MaxRateLimitWait time.Duration
	Backoff          ratelimit.BackoffConfig

	// RequestsPerSecond paces page requests. Default 1, negative disables.
	RequestsPerSecond float64
	Timeout           time.Duration
	// Transport overrides the HTTP transport, e.g. in tests.
	Transport http.RoundTripper

	// OnPage, if set, is called after each page is decoded.
	OnPage  func(PageInfo)
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// Sleep and Now are seams for tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// Client fetches posts from the recent-search endpoint.
type Client struct {
	cfg      Config
	http     *httpclient.Client
	limiter  *ratelimit.Limiter
	endpoint *url.URL
	logger   *slog.Logger
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg Config) (*Client, error) {
	if httpclient.BearerHeader(cfg.Token) == "" {
		return nil, failure.New(failure.KindAuth, "new search client", "no bearer token provided")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.StatusURL == "" {
		cfg.StatusURL = DefaultStatusURL
	}
	endpoint, err := url.Parse(cfg.BaseURL)
	if err != nil || !endpoint.IsAbs() {
		return nil, fmt.Errorf("search: invalid base url %q", cfg.BaseURL)
	}

	cfg.PageSize = clampPageSize(cfg.PageSize)
	if cfg.MaxResults < 0 {
		cfg.MaxResults = 0
	}
	if cfg.MaxPages < 0 {
		cfg.MaxPages = 0
	}
	if cfg.NetworkAttempts <= 0 {
		cfg.NetworkAttempts = 3
	}
	switch {
	case cfg.RateLimitRetries < 0:
		cfg.RateLimitRetries = 0
	case cfg.RateLimitRetries == 0:
		cfg.RateLimitRetries = 3
	}
	if cfg.MaxRateLimitWait <= 0 {
		cfg.MaxRateLimitWait = 15 * time.Minute
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Sleep == nil {
		cfg.Sleep = ratelimit.Sleep
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hc, err := httpclient.New(httpclient.Config{
		Timeout:     cfg.Timeout,
		BearerToken: cfg.Token,
		UserAgent:   cfg.UserAgent,
		Transport:   cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("search: failed to create client: %w", err)
	}

	return &Client{
		cfg:      cfg,
		http:     hc,
		limiter:  ratelimit.NewLimiter(cfg.RequestsPerSecond, 0.1),
		endpoint: endpoint,
		logger:   logger,
	}, nil
}

// Fetch returns the posts matching q as a lazy sequence. Each page is
// requested only when the previous one has been consumed. The sequence stops
// at the first error, which is yielded with a zero Post. It cannot be
// restarted: ranging over it again yields ErrConsumed.
func (c *Client) Fetch(ctx context.Context, q query.Query) iter.Seq2[storage.Post, error] {
	var used atomic.Bool

	return func(yield func(storage.Post, error) bool) {
		if !used.CompareAndSwap(false, true) {
			yield(storage.Post{}, ErrConsumed)
			return
		}
		if q.IsZero() {
			yield(storage.Post{}, failure.New(failure.KindInvalidQuery, "fetch", "empty query"))
			return
		}

		var (
			token string
			count int
			pages int
		)
		for {
			if err := c.limiter.Wait(ctx); err != nil {
				yield(storage.Post{}, err)
				return
			}

			page, err := c.FetchPage(ctx, SearchRequest{
				Query:           q.String(),
				MaxResults:      c.nextPageSize(count),
				PaginationToken: token,
			})
			if err != nil {
				yield(storage.Post{}, err)
				return
			}
			pages++
			c.cfg.Metrics.AddFetched(len(page.Posts))
			if c.cfg.OnPage != nil {
				c.cfg.OnPage(PageInfo{Number: pages, Posts: len(page.Posts), HasMore: page.NextToken != ""})
			}
			c.logger.Debug("page fetched", "page", pages, "posts", len(page.Posts), "has_more", page.NextToken != "")

			for _, p := range page.Posts {
				if c.capReached(count) {
					return
				}
				count++
				if !yield(p, nil) {
					return
				}
			}

			if page.NextToken == "" || c.capReached(count) {
				return
			}
			if c.cfg.MaxPages > 0 && pages >= c.cfg.MaxPages {
				if c.cfg.AllowPartial {
					c.logger.Warn("page limit reached, keeping partial results", "pages", pages, "posts", count)
					return
				}
				yield(storage.Post{}, ErrPageLimit)
				return
			}
			token = page.NextToken
		}
	}
}

// Collect drains Fetch. On error no posts are returned.
func (c *Client) Collect(ctx context.Context, q query.Query) ([]storage.Post, error) {
	var posts []storage.Post
	for p, err := range c.Fetch(ctx, q) {
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, nil
}

// FetchPage performs a single page request, retrying rate limits and
// transient failures per the client's policy.
func (c *Client) FetchPage(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	const op = "fetch page"

	if req.Query == "" {
		return nil, failure.New(failure.KindInvalidQuery, op, "empty query")
	}
	target := c.pageURL(req)

	bo := ratelimit.NewBackoff(c.cfg.Backoff)
	networkAttempts, rateLimitRetries := 0, 0

	for {
		page, wait, err := c.attempt(ctx, target)
		if err == nil {
			return page, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		switch failure.KindOf(err) {
		case failure.KindRateLimit:
			if rateLimitRetries >= c.cfg.RateLimitRetries {
				return nil, failure.Wrapf(failure.KindRateLimit, op, err, "gave up after %d retries", rateLimitRetries)
			}
			if wait < 0 {
				wait = bo.Next()
			}
			if wait > c.cfg.MaxRateLimitWait {
				return nil, failure.Wrapf(failure.KindRateLimit, op, err,
					"reset in %s exceeds the maximum wait of %s", wait.Round(time.Second), c.cfg.MaxRateLimitWait)
			}
			rateLimitRetries++
			c.cfg.Metrics.RecordRetry("rate_limit")
			c.logger.Warn("rate limited, waiting for reset", "wait", wait, "retry", rateLimitRetries)

		case failure.KindNetwork:
			networkAttempts++
			if networkAttempts >= c.cfg.NetworkAttempts {
				return nil, failure.Wrapf(failure.KindNetwork, op, err, "gave up after %d attempts", networkAttempts)
			}
			wait = bo.Next()
			c.cfg.Metrics.RecordRetry("network")
			c.logger.Warn("request failed, retrying", "err", err, "wait", wait, "attempt", networkAttempts)

		default:
			return nil, err
		}

		if err := c.cfg.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// attempt performs one HTTP round trip. For rate-limit errors wait carries
// the delay announced by the response headers, or -1 when none was given.
func (c *Client) attempt(ctx context.Context, target string) (page *SearchResponse, wait time.Duration, err error) {
	const op = "search request"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, failure.Wrap(failure.KindQuery, op, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		c.cfg.Metrics.ObserveRequest(0, time.Since(start))
		return nil, 0, failure.Wrap(failure.KindNetwork, op, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	c.cfg.Metrics.ObserveRequest(resp.StatusCode, time.Since(start))

	status := resp.StatusCode
	switch {
	case status == http.StatusTooManyRequests:
		wait = -1
		if d, ok := ratelimit.ResetDelay(resp.Header, c.cfg.Now()); ok {
			wait = d
		}
		return nil, wait, failure.New(failure.KindRateLimit, op, statusMessage(status, body))

	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, 0, failure.New(failure.KindAuth, op, statusMessage(status, body))

	case status >= 400 && status < 500:
		return nil, 0, failure.New(failure.KindQuery, op, statusMessage(status, body))

	case status >= 500:
		return nil, 0, failure.New(failure.KindNetwork, op, statusMessage(status, body))

	case status < 200 || status >= 300:
		return nil, 0, failure.New(failure.KindParse, op, "unexpected "+statusMessage(status, body))
	}

	if readErr != nil {
		return nil, 0, failure.Wrap(failure.KindNetwork, op, readErr)
	}

	var decoded apiResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, 0, failure.Wrapf(failure.KindParse, op, err, "malformed response body")
	}
	if msg := decoded.searchErrors(); msg != "" {
		return nil, 0, failure.New(failure.KindQuery, op, msg)
	}
	return decoded.toResponse(c.cfg.StatusURL), 0, nil
}

func (c *Client) pageURL(req SearchRequest) string {
	params := url.Values{}
	params.Set("query", req.Query)
	params.Set("max_results", strconv.Itoa(clampPageSize(req.MaxResults)))
	params.Set("tweet.fields", "created_at,lang,author_id")
	params.Set("expansions", "author_id")
	params.Set("user.fields", "username,profile_image_url")
	if req.PaginationToken != "" {
		params.Set("next_token", req.PaginationToken)
	}

	u := *c.endpoint
	u.RawQuery = params.Encode()
	return u.String()
}

func (c *Client) nextPageSize(count int) int {
	size := c.cfg.PageSize
	if c.cfg.MaxResults > 0 {
		if remaining := c.cfg.MaxResults - count; remaining < size {
			size = remaining
		}
	}
	return clampPageSize(size)
}

func (c *Client) capReached(count int) bool {
	return c.cfg.MaxResults > 0 && count >= c.cfg.MaxResults
}

func clampPageSize(n int) int {
	switch {
	case n <= 0:
		return MaxPageSize
	case n < MinPageSize:
		return MinPageSize
	case n > MaxPageSize:
		return MaxPageSize
	}
	return n
}

func statusMessage(status int, body []byte) string {
	msg := fmt.Sprintf("status %d", status)
	var problem apiProblem
	if json.Unmarshal(body, &problem) == nil {
		if detail := problem.String(); detail != "" {
			msg += ": " + detail
		}
	}
	return msg
}
