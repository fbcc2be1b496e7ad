// Package serp implements the paginated search provider client. It walks
// ranked result pages for a keyword, applies provider rate-limit backoff, and
// reports the first result whose host matches the tracked domain.
package serp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rankwatch/rankwatch/internal/metrics"
	"github.com/rankwatch/rankwatch/internal/rank"
)

const (
	defaultPerPage  = 10
	defaultMaxPages = 10
	defaultDelay    = 500 * time.Millisecond
	defaultTimeout  = 30 * time.Second

	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRateLimitReset     = "X-RateLimit-Reset"
)

// Config controls Client behavior.
type Config struct {
	// Endpoint is the provider search URL.
	Endpoint string
	// APIKey is sent as the X-API-KEY header.
	APIKey string
	// PerPage is the results-per-page request size (default 10).
	PerPage int
	// MaxPages bounds the search depth (default 10, i.e. top 100).
	MaxPages int
	// PageDelay is the baseline politeness interval between page requests,
	// applied independently of provider rate-limit headers (default 500 ms).
	PageDelay time.Duration
	// Timeout bounds each provider request (default 30 s).
	Timeout time.Duration
}

// Client issues paginated search requests against the provider API.
type Client struct {
	cfg    Config
	client *http.Client
	pacer  *rate.Limiter
	logger *zap.Logger
}

// New constructs a Client, applying defaults for unset knobs.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = defaultPerPage
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	pacing := rate.Every(cfg.PageDelay)
	if cfg.PageDelay <= 0 {
		pacing = rate.Inf
	}
	metrics.Init()
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		pacer:  rate.NewLimiter(pacing, 1),
		logger: logger,
	}
}

type searchRequest struct {
	Query       string `json:"q"`
	Locale      string `json:"gl"`
	Language    string `json:"hl"`
	Autocorrect bool   `json:"autocorrect"`
	Page        int    `json:"page"`
	Num         int    `json:"num"`
	Type        string `json:"type"`
}

type organicResult struct {
	Title    string `json:"title"`
	Link     string `json:"link"`
	Position int    `json:"position"`
}

type searchResponse struct {
	Organic []organicResult `json:"organic"`
}

// Search walks result pages 1..MaxPages for the keyword and returns the
// 1-based overall rank of the first result matching domain, stopping at the
// first hit. A nil ranking means the domain was absent from the full depth.
// Transport and non-2xx failures are returned as errors so the queue's retry
// policy can govern redelivery.
func (c *Client) Search(ctx context.Context, keyword, domain, locale string) (rank.SearchResult, error) {
	for page := 1; page <= c.cfg.MaxPages; page++ {
		if err := c.pacer.Wait(ctx); err != nil {
			return rank.SearchResult{}, fmt.Errorf("page pacing wait: %w", err)
		}

		body, headers, err := c.fetchPage(ctx, keyword, locale, page)
		if err != nil {
			return rank.SearchResult{}, err
		}

		for i, result := range body.Organic {
			if rank.HostMatches(result.Link, domain) {
				position := (page-1)*c.cfg.PerPage + i + 1
				metrics.ObserveSearchPages(page)
				c.logger.Debug("domain matched",
					zap.String("keyword", keyword),
					zap.String("link", result.Link),
					zap.Int("ranking", position),
				)
				return rank.SearchResult{Ranking: &position, RankingURL: result.Link}, nil
			}
		}

		if page < c.cfg.MaxPages {
			if err := c.waitForQuota(ctx, headers); err != nil {
				return rank.SearchResult{}, err
			}
		}
	}

	metrics.ObserveSearchPages(c.cfg.MaxPages)
	return rank.SearchResult{}, nil
}

func (c *Client) fetchPage(ctx context.Context, keyword, locale string, page int) (searchResponse, http.Header, error) {
	payload, err := json.Marshal(searchRequest{
		Query:       keyword,
		Locale:      locale,
		Language:    "en",
		Autocorrect: false,
		Page:        page,
		Num:         c.cfg.PerPage,
		Type:        "search",
	})
	if err != nil {
		return searchResponse{}, nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return searchResponse{}, nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return searchResponse{}, nil, fmt.Errorf("search request page %d: %w", page, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("close search response body", zap.Error(closeErr))
		}
	}()

	metrics.ObserveSearchRequest(resp.StatusCode)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		// Drain a little so the connection can be reused, then surface the
		// status for the queue's retry policy.
		_, _ = io.CopyN(io.Discard, resp.Body, 512)
		return searchResponse{}, nil, fmt.Errorf("search provider returned status %d on page %d", resp.StatusCode, page)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return searchResponse{}, nil, fmt.Errorf("decode search response page %d: %w", page, err)
	}
	return body, resp.Header, nil
}

// waitForQuota honors provider rate-limit headers: when the remaining quota
// hits zero it sleeps until the reported reset instant before the next page.
func (c *Client) waitForQuota(ctx context.Context, headers http.Header) error {
	if headers.Get(headerRateLimitRemaining) != "0" {
		return nil
	}
	resetSeconds, err := strconv.Atoi(headers.Get(headerRateLimitReset))
	if err != nil || resetSeconds <= 0 {
		return nil
	}
	delay := time.Duration(resetSeconds) * time.Second
	c.logger.Info("provider quota exhausted, backing off", zap.Duration("delay", delay))
	metrics.ObserveRateLimitDelay(delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
