// Package fetcher provides the outbound HTTP client shared by all source
// adapters: per-host rate limiting, bounded retry with jittered backoff, and
// an opt-in response cache tied to the scrape ledger.
package fetcher

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/citylens/citysync/internal/ledger"
)

// Options configures the HTTP client.
type Options struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRetries   int
	RateLimits   map[string]rate.Limit // per-host requests/second
	SecretParams []string              // query parameters scrubbed from logs and errors
}

// DefaultRateLimits returns the per-host limits for the known upstreams.
// Both RapidAPI-hosted endpoints are tightly metered.
func DefaultRateLimits() map[string]rate.Limit {
	return map[string]rate.Limit{
		"en.wikipedia.org":           5,
		"www.wikidata.org":           5,
		"api.openweathermap.org":     10,
		"aerodatabox.p.rapidapi.com": 2,
	}
}

// Client issues JSON GET requests with retry and rate limiting. URLs never
// reach a log line or an error message with their secret parameters intact.
type Client struct {
	client   *http.Client
	opts     Options
	limiters map[string]*rate.Limiter
	secrets  map[string]bool
}

// NewClient creates a new Client with the given options.
func NewClient(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "citysync/1.0"
	}
	limiters := make(map[string]*rate.Limiter, len(opts.RateLimits))
	for host, limit := range opts.RateLimits {
		limiters[host] = rate.NewLimiter(limit, int(math.Max(1, float64(limit))))
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: limiters,
		secrets:  ledger.SecretSet(opts.SecretParams),
	}
}

func (c *Client) limiterFor(rawURL string) *rate.Limiter {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rate.NewLimiter(10, 10)
	}
	if lim, ok := c.limiters[u.Host]; ok {
		return lim
	}
	return rate.NewLimiter(10, 10)
}

// GetJSON fetches rawURL and returns the raw response body. A 204 No Content
// yields a nil body and no error. Retries cover network errors, 429 and 5xx;
// other non-2xx statuses fail immediately.
func (c *Client) GetJSON(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	safeURL := ledger.Redact(rawURL, c.secrets)
	resp, err := c.doWithRetry(ctx, req, safeURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, eris.Errorf("fetcher: unexpected status %d from %s", resp.StatusCode, safeURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read body from %s", safeURL)
	}
	return body, nil
}

func (c *Client) doWithRetry(ctx context.Context, req *http.Request, safeURL string) (*http.Response, error) {
	lim := c.limiterFor(req.URL.String())

	var lastErr error
	for attempt := range c.opts.MaxRetries {
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limiter wait")
		}

		cloned := req.Clone(ctx)
		resp, err := c.client.Do(cloned)
		if err != nil {
			lastErr = err
			zap.L().Warn("http request failed, retrying",
				zap.String("url", safeURL),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			c.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			lastErr = eris.Errorf("fetcher: http %d from %s", resp.StatusCode, safeURL)
			zap.L().Warn("retryable status, backing off",
				zap.String("url", safeURL),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			c.backoff(ctx, attempt)
			continue
		}

		return resp, nil
	}

	return nil, eris.Wrap(lastErr, "fetcher: all retries exhausted")
}

func (c *Client) backoff(ctx context.Context, attempt int) {
	base := time.Second
	maxBackoff := 30 * time.Second
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int64N(int64(d) / 2))
	d = d + jitter

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
