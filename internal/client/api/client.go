package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/iudanet/growlog/internal/faults"
	"github.com/iudanet/growlog/pkg/api"
)

// ErrUnauthorized indicates missing or expired credentials
var ErrUnauthorized = errors.New("unauthorized")

// Client is an HTTP client for the growlog server API
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// New creates a new API client
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetToken sets the JWT token for authenticated requests
func (c *Client) SetToken(token string) {
	c.token = token
}

// Register creates a new user account
func (c *Client) Register(ctx context.Context, username, password string) (*api.RegisterResponse, error) {
	req := api.RegisterRequest{
		Username: username,
		Password: password,
	}

	var resp api.RegisterResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/register", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("register request failed: %w", err)
	}
	return &resp, nil
}

// Login authenticates a user and returns a token
func (c *Client) Login(ctx context.Context, username, password string) (*api.TokenResponse, error) {
	req := api.LoginRequest{
		Username: username,
		Password: password,
	}

	var resp api.TokenResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/login", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}
	return &resp, nil
}

// Pull fetches server-side changes since the given cursor
func (c *Client) Pull(ctx context.Context, cursor string, sinceMs int64) (*api.PullResponse, error) {
	query := url.Values{}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if sinceMs > 0 {
		query.Set("since", strconv.FormatInt(sinceMs, 10))
	}

	var resp api.PullResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/sync/pull?"+query.Encode(), nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("pull request failed: %w", err)
	}
	return &resp, nil
}

// Push sends a batch of local mutations to the server.
// idempotencyKey защищает batch от двойного применения при retry.
func (c *Client) Push(ctx context.Context, req *api.PushRequest, idempotencyKey string) (*api.PushResponse, error) {
	headers := map[string]string{}
	if idempotencyKey != "" {
		headers[api.IdempotencyKeyHeader] = idempotencyKey
	}

	var resp api.PushResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/sync/push", headers, req, &resp); err != nil {
		return nil, fmt.Errorf("push request failed: %w", err)
	}
	return &resp, nil
}

// doRequest performs an HTTP request and decodes the JSON response
func (c *Client) doRequest(ctx context.Context, method, path string, headers map[string]string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// сеть недоступна — это всегда transient
		return fmt.Errorf("%w: %v", faults.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return classifyHTTPError(resp)
	}

	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// classifyHTTPError maps an HTTP error response onto the fault taxonomy
func classifyHTTPError(resp *http.Response) error {
	var errResp api.ErrorResponse
	message := resp.Status
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&errResp); err == nil && errResp.Error != "" {
		message = errResp.Error
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, message)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", faults.ErrConflict, message)
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", faults.ErrValidation, message)
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s", faults.ErrTransient, message)
	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, message)
	}
}
