package provider

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/rostersync/internal/domain"
	"github.com/timmy/rostersync/internal/logger"
	"github.com/timmy/rostersync/internal/source"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const sourceID = "provider"

// Config holds configuration for the provider client.
type Config struct {
	BaseURL  string
	APIKey   string
	PageSize int
	Timeout  time.Duration
	// RequestsPerSecond <= 0 disables the token bucket.
	RequestsPerSecond float64
	Burst             int
	MaxConcurrent     int
	Retry             RetryPolicy
}

// Client fetches canonical entity pages from the external directory API.
type Client struct {
	http     *resty.Client
	pageSize int
	retry    RetryPolicy
	limiter  *rate.Limiter
	gate     *semaphore.Weighted
	now      func() time.Time
}

// NewClient creates a new provider client.
// Parameters:
//   - cfg: provider configuration; BaseURL is required.
//
// Returns:
//   - *Client: configured client.
//   - error: non-nil if the configuration is unusable.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("provider base_url is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	c := &Client{
		pageSize: cfg.PageSize,
		retry:    cfg.Retry.withDefaults(),
		limiter:  rate.NewLimiter(limit, cfg.Burst),
		gate:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		now:      time.Now,
	}

	c.http = resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetLogger(logger.GetDefault().WithField("component", "provider-http")).
		OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			// every attempt, retries included, takes a token
			return c.limiter.Wait(req.Context())
		})
	if cfg.APIKey != "" {
		c.http.SetAuthToken(cfg.APIKey)
	}
	c.retry.apply(c.http, func() time.Time { return c.now() })

	return c, nil
}

// GetSourceID returns the source identifier.
func (c *Client) GetSourceID() string {
	return sourceID
}

// FetchPage fetches one page of kind starting at cursor.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - kind: entity kind, used as the resource path.
//   - cursor: opaque cursor or an absolute next-page URL; empty for the first page.
//   - opts: page size and incremental filter.
//
// Returns:
//   - source.Page: decoded records and the next cursor.
//   - error: transient errors are retried; the returned error is final.
func (c *Client) FetchPage(ctx context.Context, kind domain.EntityKind, cursor string, opts source.FetchOptions) (source.Page, error) {
	page := source.Page{Kind: kind, Cursor: cursor}
	if domain.Schema(kind) == nil {
		return page, fmt.Errorf("unknown entity kind %q", kind)
	}
	resource := string(kind)

	path := "/" + resource
	var query map[string]string
	if isAbsoluteURL(cursor) {
		path = cursor
	} else {
		limit := c.pageSize
		if opts.Limit > 0 {
			limit = opts.Limit
		}
		query = map[string]string{"limit": strconv.Itoa(limit)}
		if cursor != "" {
			query["cursor"] = cursor
		}
		if opts.UpdatedSince != nil {
			query["updated_since"] = opts.UpdatedSince.UTC().Format(time.RFC3339)
		}
	}

	resp, err := c.get(ctx, resource, path, query)
	if err != nil {
		return page, err
	}

	items, next, err := decodePage(resp.Body())
	if err != nil {
		return page, &APIError{
			Resource:   resource,
			StatusCode: resp.StatusCode(),
			Message:    err.Error(),
			Err:        ErrMalformedResponse,
		}
	}
	if next == "" {
		next = linkNext(resp.Header().Get("Link"))
	}

	observedAt := c.now().UTC()
	page.NextCursor = next
	page.Records = make([]*domain.RawRecord, 0, len(items))
	for _, item := range items {
		rec, err := decodeRecord(kind, item, observedAt)
		if err != nil {
			return page, err
		}
		page.Records = append(page.Records, rec)
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldEntityKind: kind,
		logger.FieldCount:      len(page.Records),
		"has_next":             next != "",
	}).Debug("Fetched provider page")

	return page, nil
}

// Pages returns the lazy page sequence for kind.
func (c *Client) Pages(ctx context.Context, kind domain.EntityKind, opts source.FetchOptions) iter.Seq2[source.Page, error] {
	return source.Pages(ctx, c, kind, opts)
}

// Ping performs a single authenticated request against the provider.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.get(withoutRetry(ctx), "ping", "/ping", nil)
	return err
}

// get issues a GET through the concurrency gate. Rate limiting and retries
// happen inside resty; the returned error is final.
func (c *Client) get(ctx context.Context, resource, path string, query map[string]string) (*resty.Response, error) {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.gate.Release(1)

	req := c.http.R().SetContext(ctx)
	if query != nil {
		req.SetQueryParams(query)
	}
	resp, err := req.Get(path)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, &APIError{Resource: resource, Message: err.Error(), Err: ErrProviderUnavailable}
	}
	if resp.IsSuccess() {
		return resp, nil
	}

	apiErr := &APIError{
		Resource:   resource,
		StatusCode: resp.StatusCode(),
		Message:    errorMessage(resp),
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		apiErr.RetryAfter = parseRetryAfter(resp.Header().Get("Retry-After"), c.now())
	}
	return nil, apiErr
}

func errorMessage(resp *resty.Response) string {
	body := strings.TrimSpace(string(resp.Body()))
	if len(body) > 256 {
		body = body[:256]
	}
	if body == "" {
		return resp.Status()
	}
	return body
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
