package mailtm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Domains returns one page of the domains accounts can be created on.
func (c *Client) Domains(ctx context.Context, page int) ([]Domain, error) {
	var coll collection[Domain]
	if err := c.get(ctx, "/domains", pageQuery(page), &coll); err != nil {
		return nil, fmt.Errorf("fetching domains: %w", err)
	}
	if coll.Members == nil {
		return []Domain{}, nil
	}
	return coll.Members, nil
}

// Domain returns a single domain by id.
func (c *Client) Domain(ctx context.Context, id string) (*Domain, error) {
	var d Domain
	if err := c.get(ctx, "/domains/"+segment(id), nil, &d); err != nil {
		return nil, fmt.Errorf("fetching domain %s: %w", id, err)
	}
	return &d, nil
}

// CreateAccount registers a new mailbox. The address must be on one of the
// active domains.
func (c *Client) CreateAccount(ctx context.Context, address, password string) (*Account, error) {
	c.logger.Debug("creating account", "address", address)

	var acct Account
	body := accountRequest{Address: address, Password: password}
	if err := c.post(ctx, "/accounts", body, &acct); err != nil {
		return nil, fmt.Errorf("creating account %s: %w", address, err)
	}
	return &acct, nil
}

// Token exchanges an address and password for a bearer token. It does not
// change the client's own session.
func (c *Client) Token(ctx context.Context, address, password string) (*TokenResponse, error) {
	var tr TokenResponse
	body := accountRequest{Address: address, Password: password}
	if err := c.post(ctx, "/token", body, &tr); err != nil {
		return nil, fmt.Errorf("requesting token for %s: %w", address, err)
	}
	if tr.Token == "" {
		return nil, fmt.Errorf("requesting token for %s: response missing token", address)
	}
	return &tr, nil
}

// Me returns the account the session token belongs to.
func (c *Client) Me(ctx context.Context) (*Account, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	var acct Account
	if err := c.get(ctx, "/me", nil, &acct); err != nil {
		return nil, fmt.Errorf("fetching account details: %w", err)
	}
	return &acct, nil
}

// AccountByID returns an account by id. The API only allows reading the
// session's own account.
func (c *Client) AccountByID(ctx context.Context, id string) (*Account, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	var acct Account
	if err := c.get(ctx, "/accounts/"+segment(id), nil, &acct); err != nil {
		return nil, fmt.Errorf("fetching account %s: %w", id, err)
	}
	return &acct, nil
}

// DeleteAccount deletes an account. It succeeds only on 204 No Content.
func (c *Client) DeleteAccount(ctx context.Context, id string) error {
	if err := c.requireAuth(); err != nil {
		return err
	}
	c.logger.Debug("deleting account", "id", id)
	if err := c.delete(ctx, "/accounts/"+segment(id)); err != nil {
		return fmt.Errorf("deleting account %s: %w", id, err)
	}
	if c.account != nil && c.account.ID == id {
		c.account.IsDeleted = true
	}
	return nil
}

// Domains lists domains without an authenticated session.
func Domains(ctx context.Context, page int, opts ...Option) ([]Domain, error) {
	return NewClient(opts...).Domains(ctx, page)
}

// GetDomain fetches one domain without an authenticated session.
func GetDomain(ctx context.Context, id string, opts ...Option) (*Domain, error) {
	return NewClient(opts...).Domain(ctx, id)
}

// CreateAccount registers a mailbox without an authenticated session.
func CreateAccount(ctx context.Context, address, password string, opts ...Option) (*Account, error) {
	return NewClient(opts...).CreateAccount(ctx, address, password)
}

// GetToken mints a bearer token without an authenticated session.
func GetToken(ctx context.Context, address, password string, opts ...Option) (*TokenResponse, error) {
	return NewClient(opts...).Token(ctx, address, password)
}

// RandomAddress returns a fresh address on domain with a random local part.
func RandomAddress(domain string) string {
	local := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	return local + "@" + strings.TrimPrefix(domain, "@")
}

// RandomPassword returns a random password suitable for a throwaway account.
func RandomPassword() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
