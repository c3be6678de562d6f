// Package probe issues lightweight existence/metadata checks against remote
// URLs without downloading response bodies.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"mp4bot/internal/retry"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxRedirects = 4
	DefaultRetryDelay   = 15 * time.Second
)

// A Result is an immutable snapshot of one metadata check.
type Result struct {
	StatusCode int
	Status     string
	StatusOK   bool
	// ContentType is "" when the response carried no usable type header.
	ContentType string
	// ContentLength is the asset size in bytes, or -1 when unknown.
	ContentLength int64
	// MatchesExpectedType is meaningful only when an expected type was given.
	MatchesExpectedType bool
}

// ConnectionError is a transport-level failure reaching the resource.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error probing %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// StatusError is a non-2xx/3xx response outside the retryable-404 case.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status probing %s: %s", e.URL, e.Status)
}

// TypeMismatchError is a wrong content type. Never retried: the type will not
// change on retry.
type TypeMismatchError struct {
	URL      string
	Expected string
	Actual   string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("unexpected content type probing %s: want %q, got %q", e.URL, e.Expected, e.Actual)
}

// RetriesExhaustedError means the resource kept answering 404 past the retry
// budget, i.e. the upstream never finished generating the asset.
type RetriesExhaustedError struct {
	URL      string
	Attempts int
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("still 404 probing %s after %d attempts", e.URL, e.Attempts)
}

// ErrNoRedirect means a redirect-location lookup got a non-redirect answer.
var ErrNoRedirect = errors.New("response is not a redirect")

// retryable404 is internal to the probe loop; it marks the one status worth
// waiting out.
type retryable404 struct {
	url string
}

func (e *retryable404) Error() string {
	return fmt.Sprintf("got 404 probing %s", e.url)
}

type Config struct {
	Timeout      time.Duration
	MaxRedirects int
	// RetryDelay is the pause between attempts after a 404.
	RetryDelay time.Duration
	// UserAgent identifies the bot to remote hosts.
	UserAgent string
}

type Prober struct {
	client     *http.Client
	noRedirect *http.Client
	retryDelay time.Duration
	userAgent  string
	log        *zap.SugaredLogger
}

func New(config Config) *Prober {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxRedirects <= 0 {
		config.MaxRedirects = DefaultMaxRedirects
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultRetryDelay
	}
	maxRedirects := config.MaxRedirects
	return &Prober{
		client: &http.Client{
			Timeout: config.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		noRedirect: &http.Client{
			Timeout: config.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		retryDelay: config.RetryDelay,
		userAgent:  config.UserAgent,
		log:        zap.S().Named("probe"),
	}
}

// Probe issues HEAD requests against url until it gets a usable result. Only
// a 404 is retried, up to maxAttempts times with a fixed delay: it models
// "upstream hasn't finished generating the asset yet". Any other non-2xx/3xx
// status, a content-type mismatch, and transport errors fail immediately.
// The three terminal failures plus retry exhaustion are distinguishable via
// errors.As.
func (p *Prober) Probe(ctx context.Context, url string, expectedType string, maxAttempts int) (*Result, error) {
	result, err := retry.Do(ctx, retry.Config{
		MaxAttempts: maxAttempts,
		Delay:       p.retryDelay,
		IsRetryable: func(err error) bool {
			var r *retryable404
			return errors.As(err, &r)
		},
	}, func(ctx context.Context) (*Result, error) {
		return p.probeOnce(ctx, url, expectedType)
	})
	if err != nil {
		if errors.Is(err, retry.ErrAttemptsExhausted) {
			return nil, &RetriesExhaustedError{URL: url, Attempts: maxAttempts}
		}
		return nil, err
	}
	return result, nil
}

func (p *Prober) probeOnce(ctx context.Context, url string, expectedType string) (*Result, error) {
	p.log.Debugw("checking url", "url", url)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, &ConnectionError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "*/*")
	res, err := p.client.Do(req)
	if err != nil {
		return nil, &ConnectionError{URL: url, Err: err}
	}
	defer res.Body.Close()

	result := resultFromResponse(res, expectedType)
	if !result.StatusOK {
		if res.StatusCode == http.StatusNotFound {
			return nil, &retryable404{url: url}
		}
		return nil, &StatusError{URL: url, StatusCode: res.StatusCode, Status: res.Status}
	}
	if expectedType != "" && !result.MatchesExpectedType {
		return nil, &TypeMismatchError{URL: url, Expected: expectedType, Actual: result.ContentType}
	}
	return result, nil
}

// RedirectLocation issues one GET with redirect-following disabled and
// returns the Location header, or ErrNoRedirect if the response was not a
// redirect. The one network call in the otherwise pure direct-link rules:
// short-link providers cannot be expanded any other way.
func (p *Prober) RedirectLocation(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &ConnectionError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "*/*")
	res, err := p.noRedirect.Do(req)
	if err != nil {
		return "", &ConnectionError{URL: url, Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode <= 300 || res.StatusCode >= 400 {
		return "", ErrNoRedirect
	}
	loc := res.Header.Get("Location")
	if loc == "" {
		return "", ErrNoRedirect
	}
	return loc, nil
}

func resultFromResponse(res *http.Response, expectedType string) *Result {
	contentType := res.Header.Get("Content-Type")
	if contentType == "" {
		// Assets served through web-archive mirrors carry the original
		// headers under archival names.
		contentType = res.Header.Get("X-Archive-Orig-content-type")
	}
	contentLength := int64(-1)
	lengthHeader := res.Header.Get("Content-Length")
	if lengthHeader == "" {
		lengthHeader = res.Header.Get("X-Archive-Orig-content-length")
	}
	if lengthHeader != "" {
		if n, err := strconv.ParseInt(lengthHeader, 10, 64); err == nil {
			contentLength = n
		}
	}
	return &Result{
		StatusCode:          res.StatusCode,
		Status:              res.Status,
		StatusOK:            res.StatusCode >= 200 && res.StatusCode < 400,
		ContentType:         contentType,
		ContentLength:       contentLength,
		MatchesExpectedType: expectedType == "" || contentType == expectedType,
	}
}
