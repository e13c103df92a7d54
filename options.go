package flexgate

import (
	"net/http"
	"strings"
	"time"

	"github.com/lyhniupi1/flexgate/protocol"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client (which carries a cookie
// jar). A client without a Jar will not send session cookies back.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.hc = hc
		}
	}
}

// WithRoutes replaces DefaultRoutes.
func WithRoutes(t *RouteTable) Option {
	return func(c *Client) {
		if t != nil {
			c.routes = t
		}
	}
}

// WithTimeout bounds every request made by the client. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithEscaper replaces protocol.EscapeURI for the REQ_MESSAGE value.
func WithEscaper(escape func(string) string) Option {
	return func(c *Client) {
		if escape != nil {
			c.escape = escape
		}
	}
}

// WithRequestHead fills REQ_HEAD per call. Without it both fields are "".
func WithRequestHead(head func(process string) protocol.RequestHead) Option {
	return func(c *Client) {
		c.head = head
	}
}

// CallOption overrides request options for a single dispatch.
type CallOption func(*requestOptions)

type requestOptions struct {
	method string
	header http.Header
}

func defaultRequestOptions() *requestOptions {
	h := make(http.Header)
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	h.Set("Cache-Control", "no-cache")
	return &requestOptions{method: http.MethodPost, header: h}
}

func newRequestOptions(opts []CallOption) *requestOptions {
	o := defaultRequestOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

func WithMethod(method string) CallOption {
	return func(o *requestOptions) {
		method = strings.ToUpper(strings.TrimSpace(method))
		if method != "" {
			o.method = method
		}
	}
}

// WithHeader sets a header, replacing any default with the same key.
func WithHeader(key, value string) CallOption {
	return func(o *requestOptions) {
		o.header.Set(key, value)
	}
}

// WithHeaders sets every key in h, replacing defaults with the same key.
func WithHeaders(h http.Header) CallOption {
	return func(o *requestOptions) {
		for k, vs := range h {
			o.header.Del(k)
			for _, v := range vs {
				o.header.Add(k, v)
			}
		}
	}
}

// WithCache sets the Cache-Control directive ("no-cache" by default).
// An empty directive removes the header.
func WithCache(directive string) CallOption {
	return func(o *requestOptions) {
		if directive == "" {
			o.header.Del("Cache-Control")
			return
		}
		o.header.Set("Cache-Control", directive)
	}
}
