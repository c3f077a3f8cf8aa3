// Package httpretry retries provider HTTP calls on throttling and transient
// server errors, with capped exponential backoff and full jitter. A
// Retry-After header from the provider takes precedence over the backoff.
package httpretry

import (
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ignite/audience-engine/internal/pkg/logger"
)

// HTTPDoer is satisfied by *http.Client and *RetryClient.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type RetryClient struct {
	client     HTTPDoer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	log        *logger.Entry

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRetryClient wraps client, which defaults to an http.Client with a 30s
// timeout. maxRetries counts attempts after the first and defaults to 3.
func NewRetryClient(client HTTPDoer, maxRetries int) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &RetryClient{
		client:     client,
		maxRetries: maxRetries,
		baseDelay:  500 * time.Millisecond,
		maxDelay:   10 * time.Second,
		log:        logger.With("component", "httpretry"),
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithBackoff overrides the base and maximum retry delays.
func (rc *RetryClient) WithBackoff(base, maxDelay time.Duration) *RetryClient {
	rc.baseDelay = base
	rc.maxDelay = maxDelay
	return rc
}

// Do sends req, retrying network errors and 429/5xx gateway responses.
// Client errors return at once. When retries run out the last response is
// returned unread so the caller can classify it.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	var lastErr error
	var wait time.Duration

	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: reset request body: %w", err)
				}
				req.Body = body
			}
			if wait <= 0 {
				wait = rc.backoff(attempt)
			}
			rc.log.Debug("retrying request", "attempt", attempt, "host", req.URL.Host,
				"path", req.URL.Path, "delay", wait.String())

			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			wait = 0
			continue
		}
		if !retryable(resp.StatusCode) || attempt == rc.maxRetries {
			return resp, nil
		}

		wait = retryAfter(resp.Header.Get("Retry-After"), rc.maxDelay)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: retryable status %d", resp.StatusCode)
	}
	return nil, lastErr
}

// backoff is uniform in [floor, min(maxDelay, base*2^(attempt-1))].
func (rc *RetryClient) backoff(attempt int) time.Duration {
	ceiling := rc.baseDelay << uint(attempt-1)
	if ceiling <= 0 || ceiling > rc.maxDelay {
		ceiling = rc.maxDelay
	}
	rc.mu.Lock()
	d := time.Duration(rc.rnd.Int63n(int64(ceiling) + 1))
	rc.mu.Unlock()

	floor := 50 * time.Millisecond
	if rc.baseDelay < floor {
		floor = rc.baseDelay
	}
	if d < floor {
		d = floor
	}
	return d
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryAfter parses a delta-seconds or HTTP-date Retry-After value, capped
// at limit. Zero means the header was absent or unusable.
func retryAfter(v string, limit time.Duration) time.Duration {
	if v == "" {
		return 0
	}
	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(v); err == nil {
		d = time.Until(at)
	}
	if d <= 0 {
		return 0
	}
	if d > limit {
		d = limit
	}
	return d
}
