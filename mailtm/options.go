package mailtm

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API root, e.g. a test server.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithToken sets the bearer token without loading the account. Login is the
// usual way to get an authenticated client.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// ProxyTransport returns a transport that routes requests through proxyURL.
// An empty proxyURL returns a clone of http.DefaultTransport.
func ProxyTransport(proxyURL string) (*http.Transport, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL == "" {
		return tr, nil
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("parsing proxy url %q: %w", proxyURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("proxy url %q must include scheme and host", proxyURL)
	}
	tr.Proxy = http.ProxyURL(u)
	return tr, nil
}

// WithProxy routes all requests through the given proxy. It applies to the
// HTTP client in effect after all options run, so it may be combined with
// WithHTTPClient in either order. An invalid proxy URL is logged and ignored.
func WithProxy(proxyURL string) Option {
	return func(c *Client) {
		tr, err := ProxyTransport(proxyURL)
		if err != nil {
			c.logger.Warn("ignoring proxy", "error", err)
			return
		}
		c.proxy = tr
	}
}
