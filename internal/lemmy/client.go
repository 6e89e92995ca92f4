// Package lemmy is a minimal client for the Lemmy v3 HTTP API: login,
// community lookup and link post creation.
package lemmy

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

	"golang.org/x/time/rate"
)

const (
	requestTimeout = 30 * time.Second
	maxErrorBody   = 512
)

var (
	// ErrUnauthorized is returned when the JWT is missing, expired or invalid.
	ErrUnauthorized = errors.New("lemmy: unauthorized")
	// ErrCommunityNotFound is returned when a community name does not resolve.
	ErrCommunityNotFound = errors.New("lemmy: community not found")
)

// APIError is a non-2xx response other than 401.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lemmy: %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Client is an HTTP client for one Lemmy instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Client for the instance at baseURL. Requests are
// spaced at most two per second.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Every(500*time.Millisecond), 2),
	}
}

type loginRequest struct {
	UsernameOrEmail string `json:"username_or_email"`
	Password        string `json:"password"`
}

type loginResponse struct {
	JWT string `json:"jwt"`
}

type communityResponse struct {
	CommunityView *struct {
		Community struct {
			ID int `json:"id"`
		} `json:"community"`
	} `json:"community_view"`
}

type createPostRequest struct {
	CommunityID int    `json:"community_id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
}

// Login exchanges credentials for a JWT.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var resp loginResponse
	err := c.do(ctx, "login", http.MethodPost, "/api/v3/user/login", "", loginRequest{
		UsernameOrEmail: username,
		Password:        password,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.JWT == "" {
		return "", errors.New("lemmy: login: no JWT token received")
	}
	return resp.JWT, nil
}

// CommunityID looks up the numeric id of a community by name.
func (c *Client) CommunityID(ctx context.Context, token, name string) (int, error) {
	var resp communityResponse
	path := "/api/v3/community?" + url.Values{"name": {name}}.Encode()
	if err := c.do(ctx, "get community", http.MethodGet, path, token, nil, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return 0, fmt.Errorf("%w: %q", ErrCommunityNotFound, name)
		}
		return 0, err
	}
	if resp.CommunityView == nil {
		return 0, fmt.Errorf("%w: %q", ErrCommunityNotFound, name)
	}
	return resp.CommunityView.Community.ID, nil
}

// CreatePost publishes a link post into a community.
func (c *Client) CreatePost(ctx context.Context, token string, communityID int, title, link string) error {
	return c.do(ctx, "create post", http.MethodPost, "/api/v3/post", token, createPostRequest{
		CommunityID: communityID,
		Name:        title,
		URL:         link,
	}, nil)
}

func (c *Client) do(ctx context.Context, op, method, path, token string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("lemmy: %s: %w", op, err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("lemmy: %s: marshal: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("lemmy: %s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("lemmy: %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", ErrUnauthorized, op)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("lemmy: %s: decode response: %w", op, err)
	}
	return nil
}
