package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/FidelGB/ipsw-downloader/internal/logctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Options configures the HTTP client.
type Options struct {
	// ConnectTimeout bounds dialing and the TLS handshake.
	// Default: 60s
	ConnectTimeout time.Duration

	// ReadTimeout bounds the wait for response headers and every gap between
	// two body reads. The total duration of a request is not bounded.
	// Default: 600s
	ReadTimeout time.Duration

	// UserAgent is sent with every request when set.
	UserAgent string
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout: 60 * time.Second,
		ReadTimeout:    600 * time.Second,
		UserAgent:      "ipsw-downloader",
	}
}

// Client is a thin JSON and streaming wrapper over net/http. It never retries.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	defaults := DefaultOptions()
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaults.ConnectTimeout
	}

	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaults.ReadTimeout
	}

	dialer := &net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.ReadTimeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   10,
	}

	return &Client{
		client: &http.Client{Transport: otelhttp.NewTransport(transport)},
		opts:   opts,
	}
}

// FetchJSON performs a GET and decodes the JSON body into v.
func (c *Client) FetchJSON(ctx context.Context, url string, v any) error {
	logger := logctx.LoggerFromContext(ctx)

	resp, err := c.do(ctx, http.MethodGet, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		logger.Error("error getting url", "url", url, "status", resp.StatusCode)

		return &StatusError{Method: http.MethodGet, URL: url, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", url, err)
	}

	return nil
}

// ProbeSize performs a HEAD and returns the advertised Content-Length,
// or 0 when the server does not advertise one.
func (c *Client) ProbeSize(ctx context.Context, url string) (int64, error) {
	resp, err := c.do(ctx, http.MethodHead, url)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return 0, &StatusError{Method: http.MethodHead, URL: url, StatusCode: resp.StatusCode}
	}

	if resp.ContentLength < 0 {
		return 0, nil
	}

	return resp.ContentLength, nil
}

// Stream performs a GET and hands back the body unread. Reads fail with
// ErrReadTimeout once the body stays idle longer than ReadTimeout. Closing
// the body releases the connection.
func (c *Client) Stream(ctx context.Context, url string) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancel(ctx)

	resp, err := c.do(ctx, http.MethodGet, url)
	if err != nil {
		cancel()

		return nil, err
	}

	if !isSuccess(resp.StatusCode) {
		resp.Body.Close()
		cancel()

		return nil, &StatusError{Method: http.MethodGet, URL: url, StatusCode: resp.StatusCode}
	}

	return newIdleTimeoutBody(resp.Body, c.opts.ReadTimeout, cancel), nil
}

func (c *Client) do(ctx context.Context, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}

	return resp, nil
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

// idleTimeoutBody cancels the request once no Read completed within timeout.
type idleTimeoutBody struct {
	body     io.ReadCloser
	timeout  time.Duration
	timer    *time.Timer
	cancel   context.CancelFunc
	timedOut atomic.Bool
}

func newIdleTimeoutBody(body io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *idleTimeoutBody {
	b := &idleTimeoutBody{body: body, timeout: timeout, cancel: cancel}
	b.timer = time.AfterFunc(timeout, func() {
		b.timedOut.Store(true)
		cancel()
	})

	return b
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)

	if b.timedOut.Load() {
		return n, ErrReadTimeout
	}

	if n > 0 {
		b.timer.Reset(b.timeout)
	}

	return n, err
}

func (b *idleTimeoutBody) Close() error {
	b.timer.Stop()
	defer b.cancel()

	return b.body.Close()
}
