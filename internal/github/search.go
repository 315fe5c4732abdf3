// Package github implements the token-rotating, rate-limit-aware code
// search client and its companion raw content fetcher.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	gh "github.com/google/go-github/v68/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/scanforge/keysweep/internal/metrics"
	"github.com/scanforge/keysweep/internal/pace"
	"github.com/scanforge/keysweep/internal/proxy"
)

const (
	perPage  = 100
	maxPages = 10
	// maxResults is the search API's hard cap: 10 pages of 100.
	maxResults = perPage * maxPages

	pageDelayMin = 500 * time.Millisecond
	pageDelayMax = 1500 * time.Millisecond
)

// Item is one code-search hit, immutable once returned.
type Item struct {
	RepoFullName string
	Path         string
	SHA          string
	HTMLURL      string
	// PushedAt is the owning repository's last-push time; zero when the
	// search API omitted it.
	PushedAt time.Time
}

// Result aggregates one query's paginated hits.
type Result struct {
	TotalCount        int
	IncompleteResults bool
	Items             []Item
}

// Config controls the search client.
type Config struct {
	// Tokens is the rotation pool. Empty means unauthenticated.
	Tokens []string
	// Proxies is the forward-proxy pool, chosen at random per request.
	Proxies        []string
	Timeout        time.Duration
	MaxRetries     int
	RequestsPerSec float64
	// BaseURL overrides the API endpoint, for tests.
	BaseURL string
}

// SearchClient issues paginated code searches, rotating tokens per request
// and retrying throttled pages with exponential backoff.
type SearchClient struct {
	clients    []*gh.Client
	cursor     atomic.Uint64
	download   *http.Client
	limiter    *rate.Limiter
	sleeper    pace.Sleeper
	maxRetries int
	logger     *zap.Logger
}

// NewSearchClient builds the per-token client pool. With no tokens a single
// unauthenticated client is used.
func NewSearchClient(cfg Config, sleeper pace.Sleeper, logger *zap.Logger) (*SearchClient, error) {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 1.2
	}
	if sleeper == nil {
		sleeper = pace.TimerSleeper{}
	}

	transport, err := proxy.Transport(cfg.Proxies)
	if err != nil {
		return nil, err
	}

	var clients []*gh.Client
	if len(cfg.Tokens) == 0 {
		client, err := newAPIClient(&http.Client{Transport: transport, Timeout: cfg.Timeout}, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
		logger.Warn("no access tokens configured, searching unauthenticated")
	}
	for _, token := range cfg.Tokens {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: strings.TrimSpace(token)})
		httpClient := &http.Client{
			Transport: &oauth2.Transport{Source: src, Base: transport},
			Timeout:   cfg.Timeout,
		}
		client, err := newAPIClient(httpClient, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}

	return &SearchClient{
		clients:    clients,
		download:   &http.Client{Transport: transport, Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
		sleeper:    sleeper,
		maxRetries: cfg.MaxRetries,
		logger:     logger,
	}, nil
}

func newAPIClient(httpClient *http.Client, baseURL string) (*gh.Client, error) {
	client := gh.NewClient(httpClient)
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		parsed, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		client.BaseURL = parsed
	}
	return client, nil
}

// next returns the next client in round-robin order.
func (c *SearchClient) next() *gh.Client {
	n := c.cursor.Add(1) - 1
	return c.clients[int(n%uint64(len(c.clients)))]
}

// Search fetches up to 1,000 matching items for the query. A failed first
// page fails the whole query; later page failures yield partial results.
func (c *SearchClient) Search(ctx context.Context, query string) (Result, error) {
	var (
		all           []Item
		totalCount    int
		expectedTotal int
		pagesOK       int
		requests      int
		failed        int
		rateLimitHits int
	)

	for page := 1; page <= maxPages; page++ {
		pageResult, stats, err := c.searchPage(ctx, query, page)
		requests += stats.requests
		failed += stats.failed
		rateLimitHits += stats.rateLimitHits

		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			if page == 1 {
				metrics.ObserveSearchRequest("first_page_failed")
				return Result{}, fmt.Errorf("search %q: first page failed: %w", query, err)
			}
			// Later pages are simply omitted.
			continue
		}
		pagesOK++

		if page == 1 {
			totalCount = pageResult.GetTotal()
			expectedTotal = totalCount
			if expectedTotal > maxResults {
				expectedTotal = maxResults
			}
		}

		if len(pageResult.CodeResults) == 0 {
			if len(all) < expectedTotal {
				continue
			}
			break
		}

		for _, hit := range pageResult.CodeResults {
			all = append(all, toItem(hit))
		}
		if len(all) >= expectedTotal {
			break
		}

		if page < maxPages {
			c.sleeper.Pause(ctx, pace.Between(pageDelayMin, pageDelayMax))
		}
	}

	if missing := expectedTotal - len(all); missing > 0 && missing*10 > expectedTotal {
		c.logger.Warn("significant search data loss",
			zap.String("query", query),
			zap.Int("missing", missing),
			zap.Int("expected", expectedTotal),
		)
	}

	c.logger.Info("search complete",
		zap.String("query", query),
		zap.Int("pages_ok", pagesOK),
		zap.Int("items", len(all)),
		zap.Int("expected", expectedTotal),
		zap.Int("requests", requests),
		zap.Int("failed", failed),
		zap.Int("rate_limit_hits", rateLimitHits),
	)
	incomplete := len(all) < expectedTotal
	if incomplete {
		metrics.ObserveSearchRequest("partial")
	} else {
		metrics.ObserveSearchRequest("success")
	}

	return Result{
		TotalCount:        totalCount,
		IncompleteResults: incomplete,
		Items:             all,
	}, nil
}

type pageStats struct {
	requests      int
	failed        int
	rateLimitHits int
}

// searchPage fetches one page, retrying with backoff and token rotation.
func (c *SearchClient) searchPage(ctx context.Context, query string, page int) (*gh.CodeSearchResult, pageStats, error) {
	var stats pageStats
	var lastErr error

	opts := &gh.SearchOptions{
		ListOptions: gh.ListOptions{PerPage: perPage, Page: page},
	}

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, stats, err
		}

		stats.requests++
		result, resp, err := c.next().Search.Code(ctx, query, opts)
		if err == nil {
			warnIfNearlyExhausted(resp, c.logger)
			return result, stats, nil
		}
		if ctx.Err() != nil {
			return nil, stats, ctx.Err()
		}

		stats.failed++
		lastErr = err

		var wait time.Duration
		if isRateLimit(err) {
			stats.rateLimitHits++
			wait = rateLimitBackoff(attempt)
			if attempt >= 3 {
				c.logger.Warn("search rate limited",
					zap.Int("page", page),
					zap.Int("attempt", attempt),
					zap.Duration("wait", wait),
				)
			}
		} else {
			wait = transientBackoff(attempt)
			if attempt == c.maxRetries {
				c.logger.Error("search page failed",
					zap.Int("page", page),
					zap.Int("attempts", attempt),
					zap.Error(err),
				)
			}
		}
		metrics.ObserveSearchBackoff(wait)
		c.sleeper.Pause(ctx, wait)
	}

	return nil, stats, lastErr
}

// isRateLimit reports whether the error is a 403/429 throttle response.
func isRateLimit(err error) bool {
	var rle *gh.RateLimitError
	var arle *gh.AbuseRateLimitError
	if errors.As(err, &rle) || errors.As(err, &arle) {
		return true
	}
	var er *gh.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		code := er.Response.StatusCode
		return code == http.StatusForbidden || code == http.StatusTooManyRequests
	}
	return false
}

func warnIfNearlyExhausted(resp *gh.Response, logger *zap.Logger) {
	if resp == nil {
		return
	}
	if remaining := resp.Rate.Remaining; remaining > 0 && remaining < 3 {
		logger.Warn("search quota nearly exhausted", zap.Int("remaining", remaining))
	}
}

func toItem(hit *gh.CodeResult) Item {
	item := Item{
		Path:    hit.GetPath(),
		SHA:     hit.GetSHA(),
		HTMLURL: hit.GetHTMLURL(),
	}
	if repo := hit.GetRepository(); repo != nil {
		item.RepoFullName = repo.GetFullName()
		if pushed := repo.GetPushedAt(); !pushed.IsZero() {
			item.PushedAt = pushed.Time
		}
	}
	return item
}
