// Package client is a Go client for the flywheel reservation API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
	APIKey  string
	Project string
	AgentID string
}

type Option func(*Client)

func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.APIKey = strings.TrimSpace(key)
	}
}

func WithProject(project string) Option {
	return func(c *Client) {
		c.Project = strings.TrimSpace(project)
	}
}

// WithAgentID sets the X-Agent-ID header sent with every request.
func WithAgentID(agentID string) Option {
	return func(c *Client) {
		c.AgentID = strings.TrimSpace(agentID)
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

// APIError is a non-2xx response. Code is the server's error field, e.g.
// "not_holder" or "renewal_limit_reached".
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("flywheel: %d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("flywheel: %d %s: %s", e.Status, e.Code, e.Message)
}

// Create requests a reservation. A denied request is not an error: the result
// has Granted false and lists the conflicts.
func (c *Client) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if req.ProjectID == "" {
		req.ProjectID = c.Project
	}
	var out CreateResult
	err := c.do(ctx, http.MethodPost, "/api/reservations", nil, req, &out, http.StatusCreated, http.StatusConflict)
	return out, err
}

func (c *Client) Check(ctx context.Context, filePath string) (CheckResult, error) {
	q := c.query()
	q.Set("path", filePath)
	var out CheckResult
	err := c.do(ctx, http.MethodGet, "/api/reservations/check", q, nil, &out)
	return out, err
}

func (c *Client) Get(ctx context.Context, id string) (Reservation, error) {
	var out Reservation
	err := c.do(ctx, http.MethodGet, "/api/reservations/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

func (c *Client) Release(ctx context.Context, id string) error {
	var out struct {
		Released bool `json:"released"`
	}
	return c.do(ctx, http.MethodDelete, "/api/reservations/"+url.PathEscape(id), nil, nil, &out)
}

// Renew extends a reservation. additionalTTLSeconds <= 0 reuses its current TTL.
func (c *Client) Renew(ctx context.Context, id string, additionalTTLSeconds int) (RenewResult, error) {
	body := map[string]any{"additional_ttl_seconds": additionalTTLSeconds}
	var out RenewResult
	err := c.do(ctx, http.MethodPost, "/api/reservations/"+url.PathEscape(id)+"/renew", nil, body, &out)
	return out, err
}

func (c *Client) List(ctx context.Context, f ListFilter) (Page[Reservation], error) {
	q := f.values(c.query())
	if f.FilePath != "" {
		q.Set("path", f.FilePath)
	}
	var out Page[Reservation]
	err := c.do(ctx, http.MethodGet, "/api/reservations", q, nil, &out)
	return out, err
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	err := c.do(ctx, http.MethodGet, "/api/reservations/stats", c.query(), nil, &out)
	return out, err
}

func (c *Client) Conflicts(ctx context.Context, f ListFilter) (Page[ConflictRecord], error) {
	q := f.values(c.query())
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	var out Page[ConflictRecord]
	err := c.do(ctx, http.MethodGet, "/api/conflicts", q, nil, &out)
	return out, err
}

func (c *Client) Conflict(ctx context.Context, id string) (ConflictRecord, error) {
	var out ConflictRecord
	err := c.do(ctx, http.MethodGet, "/api/conflicts/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

func (c *Client) ResolveConflict(ctx context.Context, id, reason string) (ConflictRecord, error) {
	body := map[string]string{"resolved_by": c.AgentID, "reason": reason}
	var out ConflictRecord
	err := c.do(ctx, http.MethodPost, "/api/conflicts/"+url.PathEscape(id)+"/resolve", nil, body, &out)
	return out, err
}

func (c *Client) query() url.Values {
	q := url.Values{}
	if c.Project != "" {
		q.Set("project", c.Project)
	}
	return q
}

// do sends one request and decodes the body into out. ok lists the accepted
// statuses; it defaults to 200.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, payload, out any, ok ...int) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	endpoint := c.BaseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	c.applyHeaders(req)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if len(ok) == 0 {
		ok = []int{http.StatusOK}
	}
	for _, status := range ok {
		if resp.StatusCode == status {
			return json.NewDecoder(resp.Body).Decode(out)
		}
	}
	apiErr := &APIError{Status: resp.StatusCode}
	_ = json.NewDecoder(resp.Body).Decode(apiErr)
	if apiErr.Code == "" {
		apiErr.Code = strconv.Itoa(resp.StatusCode)
	}
	return apiErr
}

func (c *Client) applyHeaders(req *http.Request) {
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if c.AgentID != "" {
		req.Header.Set("X-Agent-ID", c.AgentID)
	}
}
