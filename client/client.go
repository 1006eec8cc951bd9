// Package client is a Go client for the presence API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
	Token   string
}

type Option func(*Client)

// WithToken sets the bearer token used for every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.Token = strings.TrimSpace(token)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.HTTP = httpClient
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EffectiveStatus mirrors the server's derived presence view.
type EffectiveStatus struct {
	UserID      string    `json:"user_id"`
	IsConnected bool      `json:"is_connected"`
	Status      string    `json:"status"`
	LastSeen    time.Time `json:"last_seen"`
	DeviceCount int       `json:"device_count"`
}

func (c *Client) Status(ctx context.Context, userID string) (EffectiveStatus, error) {
	var out EffectiveStatus
	err := c.get(ctx, "/api/presence/"+url.PathEscape(userID), &out)
	return out, err
}

func (c *Client) OnlineUsers(ctx context.Context) ([]string, error) {
	var out struct {
		Users []string `json:"users"`
	}
	if err := c.get(ctx, "/api/presence/online", &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

// SetStatus changes the authenticated user's manual status.
func (c *Client) SetStatus(ctx context.Context, status string) error {
	return c.post(ctx, "/api/status", map[string]string{"status": status}, nil)
}

func (c *Client) AddContact(ctx context.Context, contactID string) error {
	return c.post(ctx, "/api/contacts", map[string]string{"contact_id": contactID}, nil)
}

func (c *Client) Contacts(ctx context.Context) ([]string, error) {
	var out struct {
		Contacts []string `json:"contacts"`
	}
	if err := c.get(ctx, "/api/contacts", &out); err != nil {
		return nil, err
	}
	return out.Contacts, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
