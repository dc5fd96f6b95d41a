package yojaksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Yojak HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Record mirrors the API record model (partial).
type Record struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Status      string         `json:"status"`
	Title       string         `json:"title,omitempty"`
	Applicant   string         `json:"applicant,omitempty"`
	AssignedTo  *string        `json:"assigned_to,omitempty"`
	LinkedID    *string        `json:"linked_id,omitempty"`
	PublishAt   *string        `json:"publish_at,omitempty"`
	PublishedAt *string        `json:"published_at,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Submit creates a record through intake.
func (c *Client) Submit(ctx context.Context, recordType, title, applicant string) (Record, error) {
	body := map[string]any{
		"title":     title,
		"applicant": applicant,
	}
	var resp Record
	err := c.do(ctx, http.MethodPost, c.recordPath(recordType, "", ""), body, &resp)
	return resp, err
}

// Get fetches one record.
func (c *Client) Get(ctx context.Context, recordType, id string) (Record, error) {
	var resp Record
	err := c.do(ctx, http.MethodGet, c.recordPath(recordType, id, ""), nil, &resp)
	return resp, err
}

// List returns all records of a type.
func (c *Client) List(ctx context.Context, recordType string) ([]Record, error) {
	var resp struct {
		Items []Record `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.recordPath(recordType, "", ""), nil, &resp)
	return resp.Items, err
}

// Assign assigns a record to a staff member.
func (c *Client) Assign(ctx context.Context, recordType, id, staffID string) (Record, error) {
	var resp Record
	err := c.do(ctx, http.MethodPost, c.recordPath(recordType, id, "assign"), map[string]any{"staff_id": staffID}, &resp)
	return resp, err
}

// Resolve moves a record toward a terminal state, optionally linking a
// produced artifact.
func (c *Client) Resolve(ctx context.Context, recordType, id, status, linkedID string) (Record, error) {
	body := map[string]any{"status": status}
	if linkedID != "" {
		body["linked_id"] = linkedID
	}
	var resp Record
	err := c.do(ctx, http.MethodPost, c.recordPath(recordType, id, "resolve"), body, &resp)
	return resp, err
}

// Schedule stamps a content record with a publish time.
func (c *Client) Schedule(ctx context.Context, recordType, id, publishAt string) (Record, error) {
	var resp Record
	err := c.do(ctx, http.MethodPost, c.recordPath(recordType, id, "schedule"), map[string]any{"publish_at": publishAt}, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) recordPath(recordType, id, action string) string {
	p := "v0/records/" + url.PathEscape(recordType)
	if id != "" {
		p += "/" + url.PathEscape(id)
	}
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
