// Package httpclient fetches remote documents with retries, Retry-After
// handling and optional client-side rate limiting.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"periscope/internal/core"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = time.Second
	DefaultUserAgent    = "Periscope/1.0"
	DefaultMaxBodyBytes = 10 * 1024 * 1024

	// maxRetryAfter bounds how long a server may ask us to wait.
	maxRetryAfter = 2 * time.Minute
)

// Options configures a Client.
type Options struct {
	Timeout      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	UserAgent    string
	MaxBodyBytes int64
	Limiter      *rate.Limiter // nil disables rate limiting
	HTTPClient   *http.Client  // overrides the default transport
	Logger       *zerolog.Logger
}

// Client fetches text documents over HTTP.
type Client struct {
	http       *http.Client
	maxRetries int
	retryDelay time.Duration
	userAgent  string
	maxBody    int64
	limiter    *rate.Limiter
	log        zerolog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// StatusError is returned for HTTP responses that are not 2xx.
type StatusError struct {
	URL        string
	StatusCode int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// New creates a Client, filling unset options with defaults.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "httpclient").Logger()
	}
	return &Client{
		http:       hc,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		userAgent:  opts.UserAgent,
		maxBody:    opts.MaxBodyBytes,
		limiter:    opts.Limiter,
		log:        log,
		sleep:      sleepContext,
	}
}

// FetchText downloads url and returns the body as a string. Transient
// failures are retried up to MaxRetries times with a fixed delay; a 429 with
// Retry-After waits the requested duration instead. Terminal failures return
// immediately.
func (c *Client) FetchText(ctx context.Context, url string) (string, error) {
	var body string
	attempt := 0

	backoff := retry.WithMaxRetries(uint64(c.maxRetries), retry.NewConstant(c.retryDelayOrMin()))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		text, err := c.fetchOnce(ctx, url)
		if err == nil {
			body = text
			return nil
		}
		if !isTransient(err) {
			return err
		}

		c.log.Debug().Str("url", url).Int("attempt", attempt).Err(err).Msg("transient fetch failure")

		var se *StatusError
		if errors.As(err, &se) && se.RetryAfter > 0 && attempt <= c.maxRetries {
			// The constant backoff still runs after this wait.
			if werr := c.sleep(ctx, se.RetryAfter); werr != nil {
				return werr
			}
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		return "", classify(url, err)
	}
	return body, nil
}

// retryDelayOrMin keeps go-retry happy, which rejects a zero base.
func (c *Client) retryDelayOrMin() time.Duration {
	if c.retryDelay <= 0 {
		return time.Nanosecond
	}
	return c.retryDelay
}

func (c *Client) fetchOnce(ctx context.Context, url string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", core.NonRetryable(core.KindValidation, "build request", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.9, */*;q=0.8")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", &StatusError{
			URL:        url,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(data), nil
}

// isTransient decides whether an attempt error may succeed on retry.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var ce *core.Error
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "timeout")
}

// classify tags the final error with a kind the orchestrator understands.
func classify(url string, err error) error {
	var ce *core.Error
	if errors.As(err, &ce) {
		return err
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusTooManyRequests:
			return core.Retryable(core.KindRateLimited, "fetch "+url, err)
		case se.Transient():
			return core.Retryable(core.KindTransient, "fetch "+url, err)
		default:
			return core.NonRetryable(core.KindValidation, "fetch "+url, err)
		}
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return core.Retryable(core.KindTimeout, "fetch "+url, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return core.Retryable(core.KindTransient, "fetch "+url, err)
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	var d time.Duration
	if secs, err := strconv.Atoi(value); err == nil {
		d = time.Duration(secs) * time.Second
	} else if t, err := http.ParseTime(value); err == nil {
		d = t.Sub(now)
	}
	if d < 0 {
		return 0
	}
	if d > maxRetryAfter {
		return maxRetryAfter
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
