// Package httpclient is the shared base every external API client
// (REE, AEMET, OpenWeatherMap) builds on: a timeout, a token-bucket rate
// limiter, and exponential-backoff retry with jitter on transient
// failures. Each concrete client owns its own instance — rate limiters
// are per-client-instance and shared across every caller of that client.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/aristath/chocofactory/internal/apperrors"
	"github.com/aristath/chocofactory/internal/utils"
)

// DefaultTimeout is applied to every request unless overridden.
const DefaultTimeout = 30 * time.Second

// MaxAttempts bounds retries on transient failures (network, 5xx, 429).
const MaxAttempts = 3

// RateLimit describes a requests-per-window budget, converted to a
// token-bucket rate.Limiter at construction time.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

// limiter builds a rate.Limiter that allows Requests tokens per Window,
// with a burst equal to the full window's allowance so a client that has
// been idle can use its whole budget at once.
func (r RateLimit) limiter() *rate.Limiter {
	perSecond := float64(r.Requests) / r.Window.Seconds()
	return rate.NewLimiter(rate.Limit(perSecond), r.Requests)
}

// Client is the shared HTTP plumbing. Concrete API clients embed or hold
// one of these and call Do for every outbound request.
type Client struct {
	http        *http.Client
	limiter     *rate.Limiter
	backoffOn429 func() backoff.BackOff
	log         zerolog.Logger
	name        string
}

// New builds a Client. on429 supplies the client's retry backoff policy —
// REE/AEMET/OWM each have a different documented 429 cooldown; pass nil to
// use the default exponential backoff. When set, it replaces the default
// for every retry of this client, not only retries after an HTTP 429.
func New(name string, rl RateLimit, timeout time.Duration, log zerolog.Logger, on429 func() backoff.BackOff) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		http:         &http.Client{Timeout: timeout},
		limiter:      rl.limiter(),
		backoffOn429: on429,
		log:          log.With().Str("client", name).Logger(),
		name:         name,
	}
}

// Do waits for a rate-limiter token, then issues req with retry on
// transient failures. build is called once per attempt to obtain a fresh
// *http.Request (request bodies can't be replayed otherwise). The final
// response body is fully read into memory and returned unclosed-response
// as bytes so callers never have to manage Close across retries.
func (c *Client) Do(ctx context.Context, build func() (*http.Request, error)) ([]byte, int, error) {
	defer utils.OperationTimer(c.name+"_request", c.log)()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("%w: rate limiter wait: %v", apperrors.ErrCancelled, err)
	}

	var (
		body       []byte
		statusCode int
	)

	operation := func() error {
		req, err := build()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%w: build request: %v", apperrors.ErrValidation, err))
		}
		req = req.WithContext(ctx)

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrTransientUpstream, err)
		}
		defer resp.Body.Close()

		statusCode = resp.StatusCode
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%w: read body: %v", apperrors.ErrTransientUpstream, err)
		}
		body = b

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return backoff.Permanent(fmt.Errorf("%w", apperrors.ErrAuthExpired))
		case resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: 429 rate limited", apperrors.ErrTransientUpstream)
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: http %d", apperrors.ErrTransientUpstream, resp.StatusCode)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("%w: http %d", apperrors.ErrValidation, resp.StatusCode))
		}
		return nil
	}

	bo := backoff.WithMaxRetries(c.retryPolicy(), MaxAttempts-1)
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return body, statusCode, err
	}

	return body, statusCode, nil
}

// retryPolicy returns the client's on429 policy when one was given, else
// the default exponential backoff with jitter. The same policy paces every
// retry, whatever the failure; the status of the failed attempt does not
// select between policies. Which failures are retried at all is decided in
// Do: retryable (5xx/429/network) versus permanent (4xx, auth) via
// backoff.Permanent above.
func (c *Client) retryPolicy() backoff.BackOff {
	if c.backoffOn429 != nil {
		return c.backoffOn429()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// Wait blocks until the rate limiter has a token available, without
// issuing a request, so non-HTTP work can be paced against the same
// budget. No code in this repository calls it at present; the backfill
// engine paces AEMET chunks with its own fixed sleep.
func (c *Client) Wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}
