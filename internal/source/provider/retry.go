package provider

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/rostersync/internal/logger"
)

// RetryPolicy is an exponential backoff schedule with jitter.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	// Jitter is the fraction of the delay randomly added or removed, 0..1.
	Jitter float64
}

// DefaultRetryPolicy returns the provider client defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = d.Jitter
	}
	return p
}

// Backoff returns the delay before retry number attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		delay += delay * p.Jitter * (2*rand.Float64() - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// apply installs the policy on a resty client. resty owns the loop and the
// wait; the policy decides what is retried and how long to wait.
func (p RetryPolicy) apply(client *resty.Client, now func() time.Time) {
	client.
		SetRetryCount(p.MaxAttempts - 1).
		SetRetryWaitTime(p.BaseDelay).
		SetRetryMaxWaitTime(p.MaxDelay).
		AddRetryCondition(shouldRetry).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			return p.delayFor(resp, now()), nil
		}).
		AddRetryHook(logRetry)
}

// delayFor returns the wait before the next attempt: the provider's
// Retry-After on 429, otherwise the backoff curve. Never above MaxDelay.
func (p RetryPolicy) delayFor(resp *resty.Response, now time.Time) time.Duration {
	attempt := 1
	if resp != nil && resp.Request != nil && resp.Request.Attempt > 0 {
		attempt = resp.Request.Attempt
	}
	delay := p.Backoff(attempt)
	if resp != nil && resp.StatusCode() == http.StatusTooManyRequests {
		if after := parseRetryAfter(resp.Header().Get("Retry-After"), now); after > 0 {
			delay = after
		}
	}
	return min(delay, p.MaxDelay)
}

type noRetryKey struct{}

// withoutRetry marks ctx so requests made with it are attempted once.
func withoutRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRetryKey{}, true)
}

// shouldRetry classifies one attempt. Network failures, 5xx and 429 are
// transient; a failure before the request was sent (rate limiter, cancelled
// context) is not.
func shouldRetry(resp *resty.Response, err error) bool {
	if resp == nil || resp.Request == nil {
		return false
	}
	ctx := resp.Request.Context()
	if ctx.Err() != nil || ctx.Value(noRetryKey{}) != nil {
		return false
	}
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func logRetry(resp *resty.Response, err error) {
	if resp == nil || resp.Request == nil {
		return
	}
	entry := logger.FromContext(resp.Request.Context()).WithFields(logger.Fields{
		logger.FieldAttempt: resp.Request.Attempt,
		"url":               resp.Request.URL,
		"status":            resp.StatusCode(),
	})
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn("Provider request failed, retrying")
}
