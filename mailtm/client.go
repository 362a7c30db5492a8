// Package mailtm is a thin client for the mail.tm disposable email REST API.
//
// A Client built with NewClient can list domains, create accounts and mint
// tokens. Login returns a Client bound to one account session, which is
// required for the message and account endpoints.
package mailtm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the root of the public mail.tm API.
const DefaultBaseURL = "https://api.mail.tm"

const defaultTimeout = 30 * time.Second

// ErrNoCredentials is returned by Login when neither an address/password
// pair nor a token is supplied.
var ErrNoCredentials = errors.New("mailtm: no account or token provided")

// ErrNotAuthenticated is returned by session endpoints when the client holds
// no bearer token.
var ErrNotAuthenticated = errors.New("mailtm: client is not authenticated")

// Credentials selects how Login authenticates. Address and Password take
// precedence over Token.
type Credentials struct {
	Address  string
	Password string
	Token    string
}

// Client talks to the mail.tm API. The zero value is not usable; build one
// with NewClient or Login.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	proxy      *http.Transport

	token   string
	account *Account
}

// NewClient creates an unauthenticated client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.proxy != nil {
		hc := *c.httpClient
		hc.Transport = c.proxy
		c.httpClient = &hc
	}
	return c
}

// Login creates a client bound to one account. With an address and password
// it mints a token first; with only a token it uses it as is. In both cases
// the account is loaded from /me before returning.
func Login(ctx context.Context, creds Credentials, opts ...Option) (*Client, error) {
	c := NewClient(opts...)

	token := creds.Token
	switch {
	case creds.Address != "" && creds.Password != "":
		c.logger.Debug("requesting token", "address", creds.Address)
		tr, err := c.Token(ctx, creds.Address, creds.Password)
		if err != nil {
			return nil, err
		}
		token = tr.Token
	case token != "":
		c.logger.Debug("using provided token")
	default:
		return nil, ErrNoCredentials
	}

	c.token = token
	acct, err := c.Me(ctx)
	if err != nil {
		c.token = ""
		return nil, err
	}
	c.account = acct
	return c, nil
}

// SessionToken returns the bearer token of the session, or "" for an
// unauthenticated client.
func (c *Client) SessionToken() string {
	return c.token
}

// Account returns the account loaded at login, or nil.
func (c *Client) Account() *Account {
	return c.account
}

// BaseURL returns the API root this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// get performs a GET request and decodes the JSON response into result.
func (c *Client) get(ctx context.Context, path string, query url.Values, result interface{}) error {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	_, err := c.do(ctx, http.MethodGet, path, nil, "", result)
	return err
}

// post sends body as JSON and decodes the JSON response into result.
func (c *Client) post(ctx context.Context, path string, body, result interface{}) error {
	_, err := c.do(ctx, http.MethodPost, path, body, "application/json", result)
	return err
}

// patch sends body as a JSON merge patch.
func (c *Client) patch(ctx context.Context, path string, body, result interface{}) error {
	_, err := c.do(ctx, http.MethodPatch, path, body, "application/merge-patch+json", result)
	return err
}

// delete issues a DELETE and requires 204 No Content.
func (c *Client) delete(ctx context.Context, path string) error {
	status, err := c.do(ctx, http.MethodDelete, path, nil, "", nil)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent {
		return &APIError{
			StatusCode: status,
			Method:     http.MethodDelete,
			Path:       path,
			Message:    "resource was not deleted",
		}
	}
	return nil
}

// requireAuth guards endpoints that only make sense within a session.
func (c *Client) requireAuth() error {
	if c.token == "" {
		return ErrNotAuthenticated
	}
	return nil
}

// do builds the request, attaches the bearer token when present, and maps
// the response: non-2xx statuses become *APIError (or *AuthError for 401),
// 2xx bodies are decoded into result when result is non-nil.
func (c *Client) do(
	ctx context.Context,
	method string,
	path string,
	body interface{},
	contentType string,
	result interface{},
) (int, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), bodyReader)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/ld+json, application/json")
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("executing request %s %s: %w", method, path, err)
	}

	respBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		return resp.StatusCode, fmt.Errorf("reading response body: %w", readErr)
	}

	c.logger.Debug("mail.tm request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, newResponseError(resp.StatusCode, method, path, respBody)
	}

	// No content to parse (e.g. 204).
	if result == nil || resp.StatusCode == http.StatusNoContent || len(respBody) == 0 {
		return resp.StatusCode, nil
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return resp.StatusCode, fmt.Errorf(
			"unmarshaling response from %s %s: %w",
			method, path, err,
		)
	}

	return resp.StatusCode, nil
}

// resolve joins a path onto the base URL. Absolute URLs are returned as is
// so that download links handed out by the API can be followed.
func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// authorize attaches the bearer token, but only to requests for the API's
// own scheme and host.
func (c *Client) authorize(req *http.Request) {
	if c.token == "" || !c.sameOrigin(req.URL) {
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
}

func (c *Client) sameOrigin(u *url.URL) bool {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(base.Scheme, u.Scheme) && strings.EqualFold(base.Host, u.Host)
}

// pageQuery returns the page query parameter, clamping to the first page.
func pageQuery(page int) url.Values {
	if page < 1 {
		page = 1
	}
	return url.Values{"page": {fmt.Sprint(page)}}
}

// segment escapes a single path segment such as a resource id.
func segment(id string) string {
	return url.PathEscape(id)
}
