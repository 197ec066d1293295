// Package identity calls the platform's identity service. Session
// establishment and profile management live there; the messaging core only
// resolves tokens and looks up users.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	domainuser "huddle/internal/domain/user"
)

// HTTPClient implements user.Resolver and user.Directory against the
// identity service's internal endpoints.
type HTTPClient struct {
	Client  *http.Client
	BaseURL string
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (c *HTTPClient) ResolveToken(ctx context.Context, token string) (*domainuser.User, error) {
	if c.BaseURL == "" {
		return nil, errors.New("identity: base url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/internal/sessions/current", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return c.doUserRequest(req, domainuser.ErrTokenInvalid)
}

func (c *HTTPClient) ByID(ctx context.Context, id string) (*domainuser.User, error) {
	if c.BaseURL == "" {
		return nil, errors.New("identity: base url not configured")
	}
	endpoint := c.BaseURL + "/internal/users/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.doUserRequest(req, domainuser.ErrNotFound)
}

func (c *HTTPClient) doUserRequest(req *http.Request, notFound error) (*domainuser.User, error) {
	resp, err := c.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity: request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnauthorized:
		return nil, notFound
	default:
		return nil, fmt.Errorf("identity: unexpected status %d", resp.StatusCode)
	}

	var body userResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("identity: decode response: %w", err)
	}
	if body.ID == "" {
		return nil, notFound
	}
	return &domainuser.User{ID: body.ID, Email: body.Email, Name: body.Name}, nil
}

func (c *HTTPClient) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return &http.Client{Timeout: 5 * time.Second}
}
