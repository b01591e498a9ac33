package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/gulfconsultants/portal/internal/account"
)

const (
	DefaultTimeout       = 30 * time.Second
	DefaultMaxRetries    = 3
	DefaultMaxConcurrent = 10
)

// DefaultRetryDelays is the backoff between attempts: 1s, 2s, 4s
var DefaultRetryDelays = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// Options configures a Client
type Options struct {
	Timeout       time.Duration // per attempt
	MaxRetries    int           // negative disables retries
	RetryDelays   []time.Duration
	MaxConcurrent int64
	Logger        zerolog.Logger
}

// Client is the request layer for the portal REST API. It carries the
// session's bearer token as default header state.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	timeout     time.Duration
	maxRetries  int
	retryDelays []time.Duration
	queue       *semaphore.Weighted
	logger      zerolog.Logger
	requestID   atomic.Uint64

	mu    sync.RWMutex
	token string
}

// New creates a new API client for baseURL (e.g. "https://portal.example.com")
func New(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if len(opts.RetryDelays) == 0 {
		opts.RetryDelays = DefaultRetryDelays
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}

	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{},
		timeout:     opts.Timeout,
		maxRetries:  opts.MaxRetries,
		retryDelays: opts.RetryDelays,
		queue:       semaphore.NewWeighted(opts.MaxConcurrent),
		logger:      opts.Logger.With().Str("component", "apiclient").Logger(),
	}
}

// SetHTTPClient sets a custom HTTP client. Its own Timeout should be zero;
// deadlines are applied per attempt.
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.httpClient = httpClient
}

// SetAuthToken sets the bearer token sent with every request
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// ClearAuthToken stops sending a bearer token
func (c *Client) ClearAuthToken() {
	c.SetAuthToken("")
}

// AuthToken returns the current bearer token
func (c *Client) AuthToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Do sends a JSON request and decodes a JSON response into out (when non-nil).
// Transient failures are retried; every failure is an *APIError.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	if err := c.queue.Acquire(ctx, 1); err != nil {
		return &APIError{Kind: KindNetwork, Message: msgNetwork, Err: err}
	}
	defer c.queue.Release(1)

	id := c.requestID.Add(1)
	log := c.logger.With().Uint64("request_id", id).Str("method", method).Str("path", path).Logger()

	var lastErr *APIError
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay(attempt - 1)
			log.Debug().Dur("delay", delay).Int("attempt", attempt+1).Msg("Retrying request")
			if err := sleep(ctx, delay); err != nil {
				return lastErr
			}
		}

		lastErr = c.attempt(ctx, method, path, payload, out)
		if lastErr == nil {
			log.Debug().Int("attempt", attempt+1).Msg("Request succeeded")
			return nil
		}

		log.Warn().Err(lastErr).Int("attempt", attempt+1).Str("kind", string(lastErr.Kind)).Msg("Request failed")
		if !lastErr.IsRetryable() || ctx.Err() != nil {
			break
		}
	}

	return lastErr
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, out any) *APIError {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, c.baseURL+path, reader)
	if err != nil {
		return &APIError{Kind: KindGeneric, Message: "Failed to create request.", Err: err}
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.AuthToken(); token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(ctx, attemptCtx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(ctx, attemptCtx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, errorDetail(data))
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &APIError{Status: resp.StatusCode, Kind: KindParse, Message: msgParse, Err: err}
	}
	return nil
}

func (c *Client) retryDelay(i int) time.Duration {
	if i < len(c.retryDelays) {
		return c.retryDelays[i]
	}
	return c.retryDelays[len(c.retryDelays)-1]
}

// transportError classifies a failure that produced no HTTP response. A
// deadline hit by the attempt (not by the caller) is a timeout.
func transportError(parent, attemptCtx context.Context, err error) *APIError {
	var netErr net.Error
	timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil
	if timedOut || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &APIError{Kind: KindTimeout, Message: msgTimeout, Err: fmt.Errorf("%w: %v", ErrTimeout, err)}
	}
	return &APIError{Kind: KindNetwork, Message: msgNetwork, Err: err}
}

// errorDetail extracts the server explanation from an error body shaped
// like {"error": "..."}, {"detail": "..."} or {"message": "..."}
func errorDetail(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Detail  any    `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if detail, ok := payload.Detail.(string); ok && detail != "" {
		return detail
	}
	if payload.Error != "" {
		return payload.Error
	}
	return payload.Message
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Credentials is the login request body
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration is the register request body
type Registration struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// AuthResponse is returned by login and register
type AuthResponse struct {
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	User        *account.User `json:"user"`
}

// Validate checks the response carries both a token and a user
func (r *AuthResponse) Validate() error {
	if r == nil || r.AccessToken == "" {
		return fmt.Errorf("%w: missing access token", ErrMalformedResponse)
	}
	if !r.User.Valid() {
		return fmt.Errorf("%w: missing user", ErrMalformedResponse)
	}
	return nil
}

// Login authenticates with email and password
func (c *Client) Login(ctx context.Context, creds Credentials) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.Do(ctx, http.MethodPost, "/api/auth/login", creds, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register creates a client account and returns its first session
func (c *Client) Register(ctx context.Context, reg Registration) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.Do(ctx, http.MethodPost, "/api/auth/register", reg, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CurrentUser calls the who-am-i endpoint with the current token
func (c *Client) CurrentUser(ctx context.Context) (*account.User, error) {
	var user account.User
	if err := c.Do(ctx, http.MethodGet, "/api/auth/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Logout tells the server the session is over. Tokens are stateless, so
// this is advisory and callers must discard the token regardless.
func (c *Client) Logout(ctx context.Context) error {
	return c.Do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}

// HealthStatus is the /health payload
type HealthStatus struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// Health checks that the API is reachable
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var status HealthStatus
	if err := c.Do(ctx, http.MethodGet, "/health", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}
