// Package httpkit builds the HTTP clients Dazzy uses for every outbound
// call (encyclopedia lookups, completion requests, health probes). All
// clients share one transport tuned with explicit dial and handshake
// timeouts so a stalled upstream never holds a coordinator task open
// indefinitely.
package httpkit

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/nugget/dazzy/internal/buildinfo"
)

// Transport defaults.
const (
	DefaultTimeout             = 30 * time.Second
	DefaultDialTimeout         = 10 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
	DefaultResponseHeader      = 15 * time.Second
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultMaxIdleConnsPerHost = 4
)

// ClientOption configures a client built by [NewClient].
type ClientOption func(*options)

type options struct {
	timeout   time.Duration
	userAgent string
	headers   http.Header
	base      http.RoundTripper
	retries   int
	backoff   time.Duration
	logger    *slog.Logger
}

// WithTimeout sets the overall request timeout. Zero disables it.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *options) { o.timeout = d }
}

// WithUserAgent overrides the default [buildinfo.UserAgent].
func WithUserAgent(ua string) ClientOption {
	return func(o *options) { o.userAgent = ua }
}

// WithHeader adds a header sent on every request that does not
// already carry it.
func WithHeader(key, value string) ClientOption {
	return func(o *options) {
		if o.headers == nil {
			o.headers = make(http.Header)
		}
		o.headers.Set(key, value)
	}
}

// WithBaseTransport replaces the shared transport. Tests use it to
// inject a fake round tripper.
func WithBaseTransport(rt http.RoundTripper) ClientOption {
	return func(o *options) { o.base = rt }
}

// WithRetry retries requests that fail before reaching the server
// (refused, unreachable). The delay doubles after each attempt.
func WithRetry(count int, delay time.Duration) ClientOption {
	return func(o *options) {
		o.retries = count
		o.backoff = delay
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) ClientOption {
	return func(o *options) { o.logger = l }
}

// NewTransport returns a transport with Dazzy's connection defaults.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   DefaultDialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeader,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		ForceAttemptHTTP2:     true,
	}
}

// NewClient builds an *http.Client with the shared defaults applied.
func NewClient(opts ...ClientOption) *http.Client {
	o := &options{
		timeout:   DefaultTimeout,
		userAgent: buildinfo.UserAgent(),
	}
	for _, opt := range opts {
		opt(o)
	}

	rt := o.base
	if rt == nil {
		rt = NewTransport()
	}

	headers := o.headers.Clone()
	if headers == nil {
		headers = make(http.Header)
	}
	if o.userAgent != "" {
		headers.Set("User-Agent", o.userAgent)
	}
	rt = &headerTransport{base: rt, headers: headers}

	if o.retries > 0 {
		rt = &retryTransport{base: rt, retries: o.retries, backoff: o.backoff, logger: o.logger}
	}

	return &http.Client{Timeout: o.timeout, Transport: rt}
}

type headerTransport struct {
	base    http.RoundTripper
	headers http.Header
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var clone *http.Request
	for key, values := range t.headers {
		if req.Header.Get(key) != "" {
			continue
		}
		if clone == nil {
			clone = req.Clone(req.Context())
		}
		clone.Header[key] = values
	}
	if clone != nil {
		req = clone
	}
	return t.base.RoundTrip(req)
}

type retryTransport struct {
	base    http.RoundTripper
	retries int
	backoff time.Duration
	logger  *slog.Logger
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	delay := t.backoff

	for attempt := 1; attempt <= t.retries && IsTransient(err); attempt++ {
		if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
			break
		}
		if t.logger != nil {
			t.logger.Debug("retrying request", "url", req.URL.Redacted(), "attempt", attempt, "error", err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
		delay *= 2

		next := req.Clone(req.Context())
		if req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, fmt.Errorf("rewind body: %w", bodyErr)
			}
			next.Body = body
		}
		resp, err = t.base.RoundTrip(next)
	}
	return resp, err
}

// IsTransient reports whether err is a connect-phase failure that is
// safe to retry. ECONNRESET is excluded: the server may have already
// processed the request.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.EHOSTUNREACH, syscall.ENETUNREACH:
			return true
		}
	}
	return false
}

// StatusError describes a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// CheckResponse returns a *StatusError for non-2xx responses, consuming
// and closing the body. Successful responses are left untouched.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &StatusError{StatusCode: resp.StatusCode, Body: ReadErrorBody(resp.Body, 512)}
}

// DrainAndClose reads up to limit bytes from rc and closes it so the
// connection returns to the pool.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	rc.Close()
}

// ReadErrorBody reads up to limit bytes for an error message and then
// drains and closes the remainder.
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	DrainAndClose(rc, 1024)
	if err != nil {
		return fmt.Sprintf("(failed to read error body: %v)", err)
	}
	return string(body)
}
