// Package flexgate sends process requests to a cpay/epcc style backend.
//
// Every call wraps the caller's payload in a fixed envelope, posts it as
// REQ_MESSAGE=<escaped-json> to <mount>/<process>.json and returns the parsed
// JSON response as-is. Any RESP_HEAD convention is left to the caller; see
// protocol.DecodeResponse.
package flexgate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/lyhniupi1/flexgate/protocol"
)

// Client dispatches process requests. It is safe for concurrent use; calls
// share nothing but the underlying http.Client.
type Client struct {
	base    *url.URL
	hc      *http.Client
	routes  *RouteTable
	timeout time.Duration
	escape  func(string) string
	head    func(process string) protocol.RequestHead
}

// NewClient returns a client that resolves routes against baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("flexgate: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("flexgate: base url %q must be absolute", baseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	// Credentials are always included: session cookies set by the backend
	// are replayed on later calls.
	jar, _ := cookiejar.New(nil)

	c := &Client{
		base:   base,
		hc:     &http.Client{Jar: jar},
		routes: DefaultRoutes,
		escape: protocol.EscapeURI,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

func (c *Client) BaseURL() string {
	return c.base.String()
}

func (c *Client) Routes() *RouteTable {
	return c.routes
}

// URL returns the absolute target of process.
func (c *Client) URL(process string) string {
	return c.base.ResolveReference(&url.URL{Path: c.routes.Path(process)}).String()
}

// NewRequest builds the outgoing request for process without sending it.
// A GET request never carries the envelope body.
func (c *Client) NewRequest(ctx context.Context, process string, params any, opts ...CallOption) (*http.Request, error) {
	if process == "" {
		return nil, ErrEmptyProcess
	}

	env := protocol.NewEnvelope(params)
	if c.head != nil {
		env.Head = c.head(process)
	}
	body, err := protocol.EncodeRequestBody(env, c.escape)
	if err != nil {
		return nil, fmt.Errorf("flexgate: %s: encode envelope: %w", process, err)
	}

	o := newRequestOptions(opts)
	var rd io.Reader
	if o.method != http.MethodGet {
		rd = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, o.method, c.URL(process), rd)
	if err != nil {
		return nil, fmt.Errorf("flexgate: %s: %w", process, err)
	}
	req.Header = o.header.Clone()
	return req, nil
}

// Dispatch sends params to process and returns the parsed JSON response.
func (c *Client) Dispatch(ctx context.Context, process string, params any, opts ...CallOption) (any, error) {
	var out any
	if err := c.DispatchInto(ctx, process, params, &out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// DispatchInto is Dispatch decoding the response into out.
//
// Errors are a *StatusError for non-2xx responses, ErrDecodeResponse when
// the body is not JSON, or the transport error from net/http.
func (c *Client) DispatchInto(ctx context.Context, process string, params any, out any, opts ...CallOption) error {
	if c == nil {
		return ErrNilClient
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := c.NewRequest(ctx, process, params, opts...)
	if err != nil {
		return err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("flexgate: %s: %w", process, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{Process: process, StatusCode: resp.StatusCode}
	}

	if err := protocol.ReadJSON(resp.Body, out); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDecodeResponse, process, err)
	}
	return nil
}

// Go runs Dispatch in its own goroutine.
func (c *Client) Go(ctx context.Context, process string, params any, opts ...CallOption) *Future {
	f := newFuture()
	go func() {
		v, err := c.Dispatch(ctx, process, params, opts...)
		f.complete(v, err)
	}()
	return f
}
