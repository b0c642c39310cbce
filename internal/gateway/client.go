// Package gateway translates record operations into calls against the
// backend REST API.
//
// Every call returns either a decoded value or a *types.APIError; transport
// and decode failures never escape as panics. Collection fetches additionally
// report their failures through the client's reporter so that callers can
// surface a non-blocking notice.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"

	"github.com/mesh-intelligence/assetdesk/pkg/types"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultTLSTimeout     = 5 * time.Second

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 16 << 20

	// RequestIDHeader carries the per-request id in both directions.
	RequestIDHeader = "X-Request-Id"
)

func defaultHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultConnectTimeout,
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultTLSTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// Reporter receives failures that are not returned to an interactive caller,
// such as a failed collection refresh.
type Reporter func(kind string, err error)

// Client is the shared HTTP side of every Gateway. It is safe for concurrent
// use.
type Client struct {
	base     *url.URL
	http     *http.Client
	metrics  *Metrics
	reporter Reporter

	mu    sync.RWMutex
	token string
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
	timeout    time.Duration
	token      string
	metrics    *Metrics
	reporter   Reporter
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = c }
}

// WithTimeout sets the overall timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.timeout = d }
}

// WithToken sets the initial bearer token.
func WithToken(token string) Option {
	return func(o *clientOptions) { o.token = token }
}

// WithMetrics records request counts and latency.
func WithMetrics(m *Metrics) Option {
	return func(o *clientOptions) { o.metrics = m }
}

// WithReporter installs the callback for failures reported without being
// returned to the caller.
func WithReporter(r Reporter) Option {
	return func(o *clientOptions) { o.reporter = r }
}

// NewClient creates a client for the API rooted at apiURL.
func NewClient(apiURL string, opts ...Option) (*Client, error) {
	o := clientOptions{timeout: types.DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	base, err := url.Parse(strings.TrimRight(apiURL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", types.ErrAPIURLInvalid, apiURL)
	}

	hc := o.httpClient
	if hc == nil {
		hc = defaultHTTPClient(o.timeout)
	}
	return &Client{
		base:     base,
		http:     hc,
		metrics:  o.metrics,
		reporter: o.reporter,
		token:    o.token,
	}, nil
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the bearer token. An empty token signs the client out.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) report(kind string, err error) {
	glog.Warningf("gateway %s: %v", kind, err)
	if c.reporter != nil {
		c.reporter(kind, err)
	}
}

// endpoint joins path segments onto the API base URL.
func (c *Client) endpoint(query url.Values, segments ...string) string {
	u := c.base.JoinPath(segments...)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// call describes one request.
type call struct {
	kind   string
	op     string
	method string
	url    string
	body   any
	out    any // decoded from a 2xx response when non-nil
}

// do performs rc and decodes the response into rc.out.
func (c *Client) do(ctx context.Context, rc call) error {
	requestID := ulid.Make().String()
	start := time.Now()

	err := c.roundTrip(ctx, rc, requestID)

	elapsed := time.Since(start)
	c.metrics.observe(rc.kind, rc.op, outcome(err), elapsed)
	if glog.V(2) {
		glog.Infof("gateway %s %s id=%s outcome=%s in %s", rc.method, rc.url, requestID, outcome(err), elapsed)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, rc call, requestID string) error {
	var reader io.Reader
	if rc.body != nil {
		b, err := json.Marshal(rc.body)
		if err != nil {
			return &types.APIError{RequestID: requestID, Err: fmt.Errorf("encoding request: %w", err)}
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, rc.method, rc.url, reader)
	if err != nil {
		return &types.APIError{RequestID: requestID, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(RequestIDHeader, requestID)
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &types.APIError{RequestID: requestID, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &types.APIError{Status: resp.StatusCode, RequestID: requestID, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeError(resp.StatusCode, body)
		apiErr.RequestID = requestID
		return apiErr
	}

	if rc.out != nil {
		if err := json.Unmarshal(body, rc.out); err != nil {
			return &types.APIError{Status: resp.StatusCode, RequestID: requestID, Err: fmt.Errorf("%w: %w", types.ErrDecode, err)}
		}
	}
	return nil
}

// decodeError builds an APIError from a non-2xx response. The backend sends
// either a bare JSON string or an object with a message and optional
// per-field messages.
func decodeError(status int, body []byte) *types.APIError {
	e := &types.APIError{Status: status}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return e
	}

	var msg string
	if json.Unmarshal(body, &msg) == nil {
		e.Message = msg
		return e
	}

	var obj struct {
		Message string            `json:"message"`
		Error   string            `json:"error"`
		Fields  map[string]string `json:"fields"`
		Errors  map[string]string `json:"errors"`
	}
	if json.Unmarshal(body, &obj) == nil {
		e.Message = obj.Message
		if e.Message == "" {
			e.Message = obj.Error
		}
		e.Fields = obj.Fields
		if len(e.Fields) == 0 {
			e.Fields = obj.Errors
		}
		return e
	}

	text := string(body)
	if len(text) > 200 {
		text = text[:200]
	}
	e.Message = text
	return e
}
