// Package backend is the client for the history/auth service. It is pure
// pass-through JSON over four fixed endpoints, no logic of its own.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// User is the account record returned by register and login. Token
// authorizes the report endpoints.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Report is one saved diagnosis exchange.
type Report struct {
	ID              string    `json:"id,omitempty"`
	UserID          string    `json:"userId"`
	Condition       string    `json:"condition"`
	Severity        string    `json:"severity"`
	Summary         string    `json:"summary"`
	Recommendations []string  `json:"recommendations"`
	CreatedAt       time.Time `json:"createdAt,omitempty"`
}

func (c *Client) Register(ctx context.Context, username, password string) (*User, error) {
	var user User
	err := c.call(ctx, http.MethodPost, "/register", "", credentials{username, password}, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) Login(ctx context.Context, username, password string) (*User, error) {
	var user User
	err := c.call(ctx, http.MethodPost, "/login", "", credentials{username, password}, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) SaveReport(ctx context.Context, token string, report Report) (*Report, error) {
	var saved Report
	err := c.call(ctx, http.MethodPost, "/reports", token, report, &saved)
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

func (c *Client) ListReports(ctx context.Context, token, userID string) ([]Report, error) {
	var reports []Report
	path := "/reports?userId=" + url.QueryEscape(userID)
	err := c.call(ctx, http.MethodGet, path, token, nil, &reports)
	if err != nil {
		return nil, err
	}
	return reports, nil
}

func (c *Client) call(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("backend request failed with status %d: %s", resp.StatusCode, string(raw))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
