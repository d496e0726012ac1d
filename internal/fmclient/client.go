// Package fmclient is a typed client for the FileMaker Data API.
package fmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"git.cscs.ch/openchami/filemaker-mcp/internal/metrics"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultMaxRetries    = 3
	defaultRateLimit     = 10.0
	defaultRateBurst     = 5
	defaultRetryInterval = 250 * time.Millisecond
	maxResponseBytes     = 64 << 20
)

// Config holds Data API client configuration.
type Config struct {
	// Host is the server root, for example https://fms.example.org.
	Host     string
	Database string
	Username string
	Password string

	// Timeout is the per-request timeout. Defaults to 30s.
	Timeout time.Duration
	// MaxRetries is the number of extra attempts for transient failures.
	MaxRetries int
	// RetryInterval is the initial backoff interval. Defaults to 250ms.
	RetryInterval time.Duration
	// RateLimit caps outgoing requests per second. Defaults to 10.
	RateLimit float64
	RateBurst int

	// Transport allows injecting a custom round tripper (for tests).
	Transport http.RoundTripper
}

// Client issues authenticated Data API calls and renews its session token
// when the server rejects it.
type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger

	mu    sync.Mutex
	token string
}

type request struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
}

type envelope struct {
	Response json.RawMessage `json:"response"`
	Messages []Message       `json:"messages"`
}

// New creates a Data API client. No network call is made until the first
// request.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	host := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if host == "" {
		return nil, fmt.Errorf("fmclient: Host is required")
	}
	if strings.TrimSpace(cfg.Database) == "" {
		return nil, fmt.Errorf("fmclient: Database is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}
	cfg.Host = host

	return &Client{
		cfg:     cfg,
		baseURL: fmt.Sprintf("%s/fmi/data/v1/databases/%s", host, url.PathEscape(strings.TrimSpace(cfg.Database))),
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		log:     logger.With().Str("component", "fmclient").Logger(),
	}, nil
}

// Login opens a session eagerly. Calls made without Login authenticate lazily.
func (c *Client) Login(ctx context.Context) error {
	_, err := c.sessionToken(ctx)
	return err
}

// Logout closes the current session, if any.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	token := c.token
	c.token = ""
	c.mu.Unlock()
	if token == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/sessions/"+url.PathEscape(token), nil)
	if err != nil {
		return fmt.Errorf("building logout request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("closing session: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) sessionToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	token, err := c.authenticate(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	return token, nil
}

// renewSession replaces a rejected token. Concurrent callers holding the same
// stale token share a single re-authentication.
func (c *Client) renewSession(ctx context.Context, stale string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.token != stale {
		return c.token, nil
	}
	c.log.Debug().Msg("session token rejected, re-authenticating")
	c.token = ""
	token, err := c.authenticate(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	return token, nil
}

func (c *Client) authenticate(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sessions", strings.NewReader("{}"))
	if err != nil {
		return "", fmt.Errorf("building session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveRemoteRequest(http.MethodPost, 0, time.Since(started))
		return "", fmt.Errorf("connecting to FileMaker server at %s: %w", c.cfg.Host, err)
	}
	defer resp.Body.Close()
	metrics.ObserveRemoteRequest(http.MethodPost, resp.StatusCode, time.Since(started))

	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return "", fmt.Errorf("decoding session response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", &RemoteError{
			Op:       "authenticating",
			Status:   resp.StatusCode,
			Messages: env.Messages,
			Detail:   authFailureDetail(resp.StatusCode, c.cfg.Database),
		}
	}

	var session struct {
		Token string `json:"token"`
	}
	if len(env.Response) > 0 {
		if err := json.Unmarshal(env.Response, &session); err != nil {
			return "", fmt.Errorf("decoding session token: %w", err)
		}
	}
	if strings.TrimSpace(session.Token) == "" {
		token := strings.TrimSpace(resp.Header.Get("X-FM-Data-Access-Token"))
		if token == "" {
			return "", fmt.Errorf("authenticating: no token received from FileMaker")
		}
		session.Token = token
	}
	c.log.Debug().Msg("opened Data API session")
	return session.Token, nil
}

// do sends one logical request. A rejected session is renewed once; transient
// failures are retried with exponential backoff.
func (c *Client) do(ctx context.Context, req request, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: waiting for request slot: %w", req.op, err)
	}

	token, err := c.sessionToken(ctx)
	if err != nil {
		return err
	}

	err = c.doWithRetry(ctx, req, token, out)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		return err
	}

	token, err = c.renewSession(ctx, token)
	if err != nil {
		return err
	}
	return c.doWithRetry(ctx, req, token, out)
}

func (c *Client) doWithRetry(ctx context.Context, req request, token string, out any) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryInterval
	policy.MaxInterval = 20 * c.cfg.RetryInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.doOnce(ctx, req, token, out)
		switch {
		case err == nil:
			return struct{}{}, nil
		case isTransient(err):
			c.log.Debug().Err(err).Str("op", req.op).Msg("transient Data API failure, retrying")
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(c.cfg.MaxRetries+1)))
	return err
}

func (c *Client) doOnce(ctx context.Context, req request, token string, out any) error {
	target := c.baseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		encoded, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("%s: encoding request: %w", req.op, err)
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return fmt.Errorf("%s: building request: %w", req.op, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.ObserveRemoteRequest(req.method, 0, time.Since(started))
		return fmt.Errorf("%s: %w", req.op, err)
	}
	defer resp.Body.Close()
	metrics.ObserveRemoteRequest(req.method, resp.StatusCode, time.Since(started))

	env, decodeErr := decodeEnvelope(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyFailure(req.op, resp.StatusCode, env.Messages)
	}
	if decodeErr != nil {
		return fmt.Errorf("%s: decoding response: %w", req.op, decodeErr)
	}
	if out == nil || len(env.Response) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Response, out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", req.op, err)
	}
	return nil
}

func decodeEnvelope(r io.Reader) (envelope, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxResponseBytes))
	if err != nil {
		return envelope{}, err
	}
	var env envelope
	if len(bytes.TrimSpace(raw)) == 0 {
		return env, nil
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, err
	}
	return env, nil
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		switch remote.Status {
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
