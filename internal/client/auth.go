package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/authflow/backend/internal/model"
)

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx response from the auth API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api returned status %d: %s", e.StatusCode, e.Message)
}

// AuthClient talks to the auth endpoints. Public calls go out on a plain
// client; authenticated calls go through the RefreshCoordinator.
type AuthClient struct {
	baseURL     string
	store       TokenStore
	plain       *http.Client
	api         *http.Client
	coordinator *RefreshCoordinator
}

// NewAuthClient wires a coordinator around base (http.DefaultTransport when nil).
func NewAuthClient(baseURL string, store TokenStore, base http.RoundTripper, opts CoordinatorOptions) *AuthClient {
	if base == nil {
		base = http.DefaultTransport
	}
	c := &AuthClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		store:   store,
		plain:   &http.Client{Transport: base, Timeout: defaultTimeout},
	}
	c.coordinator = NewRefreshCoordinator(base, store, c, opts)
	c.api = &http.Client{Transport: c.coordinator, Timeout: defaultTimeout}
	return c
}

// HTTPClient returns the authenticated client for calls to other endpoints.
func (c *AuthClient) HTTPClient() *http.Client {
	return c.api
}

func (c *AuthClient) Coordinator() *RefreshCoordinator {
	return c.coordinator
}

func (c *AuthClient) Close() {
	c.coordinator.Close()
}

func (c *AuthClient) Register(ctx context.Context, email, password, name string) error {
	req := model.RegisterRequest{Email: email, Password: password, Name: name}
	var resp model.MessageResponse
	return c.doJSON(ctx, c.plain, http.MethodPost, "/auth/register", req, &resp)
}

// Login signs in and saves the returned tokens.
func (c *AuthClient) Login(ctx context.Context, email, password string) (*model.LoginData, error) {
	req := model.LoginRequest{Email: email, Password: password}
	var resp model.LoginResponse
	if err := c.doJSON(ctx, c.plain, http.MethodPost, "/auth/login", req, &resp); err != nil {
		return nil, err
	}

	if err := c.store.Save(Tokens{
		AccessToken:  resp.Data.AccessToken,
		RefreshToken: resp.Data.RefreshToken,
		AtExpiry:     resp.Data.AtExpiry,
	}); err != nil {
		return nil, fmt.Errorf("saving tokens: %w", err)
	}
	return &resp.Data, nil
}

// Refresh implements Refresher. It does not touch the store.
func (c *AuthClient) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	req := model.RefreshRequest{RefreshToken: refreshToken}
	var resp model.RefreshResponse
	if err := c.doJSON(ctx, c.plain, http.MethodPost, "/auth/refresh", req, &resp); err != nil {
		return Tokens{}, err
	}
	return Tokens{
		AccessToken:  resp.Data.AccessToken,
		RefreshToken: resp.Data.RefreshToken,
		AtExpiry:     resp.Data.AtExpiry,
	}, nil
}

func (c *AuthClient) Me(ctx context.Context) (*model.PublicUser, error) {
	var resp model.MeResponse
	if err := c.doJSON(ctx, c.api, http.MethodGet, "/auth/me", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// Logout revokes the session on the server and always forgets it locally.
func (c *AuthClient) Logout(ctx context.Context) error {
	var resp model.MessageResponse
	err := c.doJSON(ctx, c.api, http.MethodPost, "/auth/logout", nil, &resp)
	if clearErr := c.store.Clear(); clearErr != nil && err == nil {
		err = fmt.Errorf("clearing tokens: %w", clearErr)
	}
	if errors.Is(err, ErrSessionExpired) {
		return nil
	}
	return err
}

func (c *AuthClient) doJSON(ctx context.Context, hc *http.Client, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var envelope model.ErrorResponse
		if json.Unmarshal(data, &envelope) == nil && envelope.Message != "" {
			apiErr.Message = envelope.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
