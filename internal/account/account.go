// Package account talks to the account service that owns user identity and
// the per-user response quota.
//
// The service is authoritative for the quota. This package only reads it,
// caches the last known value in a [QuotaCache], and accepts values pushed
// back by the chat backend. It never decrements the count itself.
package account

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

	"github.com/MrWong99/voicechat/internal/observe"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 512
)

// StatusError reports a non-200 answer from the account service.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("account: %s: server returned HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("account: %s: server returned HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// Status is a user's quota as reported by the service.
type Status struct {
	ResponsesUsed      int    `json:"responses_used"`
	ResponsesRemaining int    `json:"responses_remaining"`
	CurrentPlan        string `json:"current_plan"`
}

// User is the result of a register-or-login call.
type User struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Status
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for all requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithMetrics records request counters on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(cl *Client) {
		cl.metrics = m
	}
}

// Client is an account service client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	metrics    *observe.Metrics
}

// New creates a Client for the account service at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("account: baseURL must not be empty")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c, nil
}

// RegisterOrLogin creates the user on first sight and returns the stored
// record. When the service omits user_id, googleID is used.
func (c *Client) RegisterOrLogin(ctx context.Context, googleID, email string) (User, error) {
	if googleID == "" {
		return User{}, errors.New("account: googleID must not be empty")
	}
	body := map[string]string{"google_id": googleID, "email": email}
	var u User
	if err := c.call(ctx, http.MethodPost, "/register_or_login", "register_or_login", body, &u); err != nil {
		return User{}, err
	}
	if u.UserID == "" {
		u.UserID = googleID
	}
	if u.Email == "" {
		u.Email = email
	}
	return u, nil
}

// Status fetches the current quota of uid.
func (c *Client) Status(ctx context.Context, uid string) (Status, error) {
	var s Status
	err := c.call(ctx, http.MethodGet, "/user/"+url.PathEscape(uid)+"/status", "status", nil, &s)
	return s, err
}

// SelectPlan moves uid to plan and returns the updated status. Plans the
// catalogue does not know are rejected without a request.
func (c *Client) SelectPlan(ctx context.Context, uid, plan string) (Status, error) {
	p, ok := LookupPlan(plan)
	if !ok {
		return Status{}, fmt.Errorf("account: unknown plan %q", plan)
	}
	var s Status
	err := c.call(ctx, http.MethodPost, "/user/"+url.PathEscape(uid)+"/select_plan", "select_plan",
		map[string]string{"plan_id": p.ID}, &s)
	return s, err
}

func (c *Client) call(ctx context.Context, method, path, op string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("account: %s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("account: %s: create request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	observe.InjectHeaders(ctx, req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordProviderRequest(ctx, "account", op, "error")
		return fmt.Errorf("account: %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.RecordProviderRequest(ctx, "account", op, "error")
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(excerpt))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.metrics.RecordProviderRequest(ctx, "account", op, "error")
		return fmt.Errorf("account: %s: parse response: %w", op, err)
	}
	c.metrics.RecordProviderRequest(ctx, "account", op, "ok")
	return nil
}
