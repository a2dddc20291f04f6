// Package peloton is a read-only client for the Peloton REST API. It
// authenticates with username/password credentials, lists workout history,
// and exposes rides, achievements, and per-workout performance metrics as
// structured objects with lazily loaded fields.
package peloton

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Version of the client library, sent in the User-Agent header so the
// upstream service can tell us apart from the web ui.
const Version = "0.5.1"

const defaultBaseURL = "https://api.onepeloton.com"

// defaultPageSize matches the page size the Peloton website uses.
const defaultPageSize = 10

// APIError carries the classified fault context of a non-2xx response.
type APIError struct {
	Message    string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("peloton: %s (status %d)", e.Message, e.StatusCode)
}

// RedirectError reports an unexpected 3xx response.
type RedirectError struct{ APIError }

// ClientError reports a 4xx response.
type ClientError struct{ APIError }

// ServerError reports a 5xx response.
type ServerError struct{ APIError }

// ConstructionError reports a raw payload missing a field the entity cannot
// be built without.
type ConstructionError struct {
	Entity string
	Field  string
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("peloton: %s payload missing %q", e.Entity, e.Field)
}

// classify maps a response status to the matching error type. A 2xx status
// maps to nil.
func classify(status int, body []byte) error {
	base := APIError{Message: string(bytes.TrimSpace(body)), StatusCode: status, Body: string(body)}
	switch {
	case status >= 300 && status < 400:
		base.Message = "unexpected redirect"
		return &RedirectError{base}
	case status >= 400 && status < 500:
		return &ClientError{base}
	case status >= 500 && status < 600:
		return &ServerError{base}
	}
	return nil
}

// Fetcher is the capability the domain entities use to resolve lazily
// loaded fields. Client implements it against the live API; tests supply
// fakes.
type Fetcher interface {
	// WorkoutDetail returns the raw detail payload for a workout,
	// carrying leaderboard rank, leaderboard size, and achievements.
	WorkoutDetail(ctx context.Context, workoutID string) (map[string]any, error)
	// WorkoutMetrics returns the raw performance graph payload for a
	// workout.
	WorkoutMetrics(ctx context.Context, workoutID string) (map[string]any, error)
	// WorkoutsPage returns one page of the user's ride-joined workout
	// history and the total page count.
	WorkoutsPage(ctx context.Context, userID string, page, limit int) ([]map[string]any, int, error)
	// WorkoutByID returns the raw payload for a single workout.
	WorkoutByID(ctx context.Context, workoutID string) (map[string]any, error)
}

// Client talks to the Peloton API. The session is established lazily on the
// first request and kept in the http client's cookie jar.
type Client struct {
	username  string
	password  string
	baseURL   string
	userAgent string
	pageSize  int
	client    *http.Client

	mu     sync.Mutex
	userID string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint, primarily for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithPageSize sets the page size used when listing workouts.
func WithPageSize(n int) Option {
	return func(c *Client) { c.pageSize = n }
}

// WithHTTPClient replaces the underlying http client. A cookie jar is
// installed if the client has none, the session cookie lives there.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient creates a client for the given credentials. No network traffic
// happens until the first request.
func NewClient(username, password string, opts ...Option) (*Client, error) {
	c := &Client{
		username:  username,
		password:  password,
		baseURL:   defaultBaseURL,
		userAgent: "peloton-client-library/" + Version,
		pageSize:  defaultPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = &http.Client{
			Timeout: 30 * time.Second,
			// redirects are classified as errors, not followed
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	if c.client.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		c.client.Jar = jar
	}
	return c, nil
}

// UserID returns the authenticated user's id, or the empty string before
// the first successful request.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// authenticate performs the login handshake once. A failed handshake leaves
// the client unauthenticated so the next call retries it.
func (c *Client) authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID != "" {
		return nil
	}

	payload, err := json.Marshal(map[string]string{
		"username_or_email": c.username,
		"password":          c.password,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	c.headers(req)

	log.Debug().Str("uri", "/auth/login").Msg("request")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	log.Debug().Int("status", resp.StatusCode).Msg("response")
	if err := classify(resp.StatusCode, body); err != nil {
		return err
	}

	var session struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(body, &session); err != nil {
		return err
	}
	c.userID = session.UserID
	return nil
}

func (c *Client) headers(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
}

// get authenticates if needed, issues the request, and decodes the response
// into a raw mapping.
func (c *Client) get(ctx context.Context, uri string, query url.Values) (map[string]any, error) {
	if err := c.authenticate(ctx); err != nil {
		return nil, err
	}

	u := c.baseURL + uri
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	c.headers(req)

	log.Debug().Str("uri", uri).Msg("request")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	log.Debug().Int("status", resp.StatusCode).Msg("response")
	if err := classify(resp.StatusCode, body); err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// WorkoutDetail implements Fetcher.
func (c *Client) WorkoutDetail(ctx context.Context, workoutID string) (map[string]any, error) {
	return c.get(ctx, "/api/workout/"+url.PathEscape(workoutID), nil)
}

// WorkoutByID implements Fetcher. It shares the workout detail endpoint.
func (c *Client) WorkoutByID(ctx context.Context, workoutID string) (map[string]any, error) {
	return c.WorkoutDetail(ctx, workoutID)
}

// WorkoutMetrics implements Fetcher.
func (c *Client) WorkoutMetrics(ctx context.Context, workoutID string) (map[string]any, error) {
	query := url.Values{"every_n": {"1"}}
	return c.get(ctx, "/api/workout/"+url.PathEscape(workoutID)+"/performance_graph", query)
}

// WorkoutsPage implements Fetcher. Pages are joined with their rides, the
// second return value is the total page count.
func (c *Client) WorkoutsPage(ctx context.Context, userID string, page, limit int) ([]map[string]any, int, error) {
	query := url.Values{
		"page":  {strconv.Itoa(page)},
		"limit": {strconv.Itoa(limit)},
		"joins": {"ride"},
	}
	raw, err := c.get(ctx, "/api/user/"+url.PathEscape(userID)+"/workouts", query)
	if err != nil {
		return nil, 0, err
	}
	return mapSlice(raw, "data"), intField(raw, "page_count"), nil
}
