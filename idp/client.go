// Package idp is a REST client for the external identity provider accounts
// are migrated to. It implements [authbridge.IdentityProvider].
package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/authbridge"
)

var (
	// ErrTokenRejected is returned when the provider refuses an ID token.
	ErrTokenRejected = errors.New("identity provider rejected token")
	// ErrBadConfig is returned by New for an unusable base URL.
	ErrBadConfig = errors.New("invalid identity provider config")
)

// StatusError carries an unexpected provider response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("identity provider %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

const defaultTimeout = 5 * time.Second

// Config configures [Client]. APIKey, when set, is sent as a bearer token.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

var _ authbridge.IdentityProvider = (*Client)(nil)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(cfg Config) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: base url %q", ErrBadConfig, cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimSuffix(u.String(), "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type createIdentityRequest struct {
	Email    string            `json:"email"`
	Password string            `json:"password"`
	Profile  map[string]string `json:"profile,omitempty"`
}

type createIdentityResponse struct {
	ID string `json:"id"`
}

// CreateIdentity registers an account with the provider and returns its id.
func (c *Client) CreateIdentity(ctx context.Context, email, password string, profile map[string]string) (string, error) {
	var out createIdentityResponse
	err := c.doJSON(ctx, http.MethodPost, "/identities", createIdentityRequest{
		Email:    email,
		Password: password,
		Profile:  profile,
	}, &out, http.StatusCreated, http.StatusOK)
	if err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("identity provider returned an empty id")
	}
	return out.ID, nil
}

// DeleteIdentity removes id. A missing identity is not an error.
func (c *Client) DeleteIdentity(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/identities/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK, http.StatusNotFound:
		return nil
	default:
		return statusError(resp)
	}
}

type verifyPasswordRequest struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyPasswordResponse struct {
	Valid bool `json:"valid"`
}

// VerifyPassword reports whether password is accepted for the identity. A 401
// from the provider is a plain mismatch.
func (c *Client) VerifyPassword(ctx context.Context, externalID, email, password string) (bool, error) {
	body, err := encode(verifyPasswordRequest{ID: externalID, Email: email, Password: password})
	if err != nil {
		return false, err
	}
	resp, err := c.do(ctx, http.MethodPost, "/password/verify", body)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out verifyPasswordResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return false, fmt.Errorf("decode password verify response: %w", err)
		}
		return out.Valid, nil
	case http.StatusUnauthorized:
		return false, nil
	default:
		return false, statusError(resp)
	}
}

type verifyTokenRequest struct {
	Token string `json:"token"`
}

type verifyTokenResponse struct {
	Subject       string            `json:"sub"`
	Email         string            `json:"email"`
	EmailVerified bool              `json:"email_verified"`
	Profile       map[string]string `json:"profile,omitempty"`
}

// VerifyToken exchanges an ID token for the assertion it carries.
func (c *Client) VerifyToken(ctx context.Context, idToken string) (authbridge.Assertion, error) {
	body, err := encode(verifyTokenRequest{Token: idToken})
	if err != nil {
		return authbridge.Assertion{}, err
	}
	resp, err := c.do(ctx, http.MethodPost, "/token/verify", body)
	if err != nil {
		return authbridge.Assertion{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusBadRequest:
		return authbridge.Assertion{}, ErrTokenRejected
	default:
		return authbridge.Assertion{}, statusError(resp)
	}

	var out verifyTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return authbridge.Assertion{}, fmt.Errorf("decode token verify response: %w", err)
	}
	if out.Subject == "" || out.Email == "" {
		return authbridge.Assertion{}, ErrTokenRejected
	}
	return authbridge.Assertion{
		Subject:       out.Subject,
		Email:         out.Email,
		EmailVerified: out.EmailVerified,
		Profile:       out.Profile,
	}, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any, expected ...int) error {
	body, err := encode(in)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	for _, code := range expected {
		if resp.StatusCode == code {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("decode %s response: %w", path, err)
			}
			return nil
		}
	}
	return statusError(resp)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}

func encode(v any) (io.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return bytes.NewReader(b), nil
}

func statusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{
		Method: resp.Request.Method,
		Path:   resp.Request.URL.Path,
		Code:   resp.StatusCode,
		Body:   strings.TrimSpace(string(b)),
	}
}
