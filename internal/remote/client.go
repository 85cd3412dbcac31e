// Package remote talks to the X API v2: it resolves usernames to ids and
// lists the complete set of accounts a user follows.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/0xPollos/twitter-follow-tracker-bot/internal/domain"
	pkglog "github.com/0xPollos/twitter-follow-tracker-bot/pkg/log"
)

const (
	endpointUserByUsername = "users_by_username"
	endpointFollowing      = "following"

	maxBodyBytes = 8 << 20
)

// Sleeper suspends for d, returning early with ctx.Err() if ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the real-time Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Observer receives per-request telemetry. Implemented by internal/metrics.
type Observer interface {
	ObserveRequest(endpoint string, status int)
	ObserveRateLimited(endpoint string)
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	BearerToken string
	PageSize    int

	// Timeout bounds each HTTP request; ignored when HTTPClient is set.
	Timeout time.Duration

	// RateLimitCooldown is how long to wait after an HTTP 429 before
	// retrying the same page.
	RateLimitCooldown time.Duration

	// MaxAttempts bounds retries of network errors and 5xx responses.
	MaxAttempts int

	// RequestsPerMinute paces outgoing requests; 0 disables pacing.
	RequestsPerMinute float64

	HTTPClient *http.Client
	Sleep      Sleeper
	Observer   Observer
}

// Client is an X API v2 client.
type Client struct {
	baseURL  string
	token    string
	pageSize int
	cooldown time.Duration
	attempts int
	http     *http.Client
	limiter  *rate.Limiter
	sleep    Sleeper
	observer Observer
}

// NewClient creates a Client, filling unset options with defaults.
func NewClient(opts Options) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		token:    opts.BearerToken,
		pageSize: opts.PageSize,
		cooldown: opts.RateLimitCooldown,
		attempts: opts.MaxAttempts,
		http:     opts.HTTPClient,
		sleep:    opts.Sleep,
		observer: opts.Observer,
		limiter:  rate.NewLimiter(rate.Inf, 1),
	}
	if c.baseURL == "" {
		c.baseURL = "https://api.x.com/2"
	}
	if c.pageSize <= 0 || c.pageSize > 1000 {
		c.pageSize = 1000
	}
	if c.cooldown <= 0 {
		c.cooldown = 900 * time.Second
	}
	if c.attempts <= 0 {
		c.attempts = 3
	}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.sleep == nil {
		c.sleep = SleepContext
	}
	if opts.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerMinute/60), 1)
	}
	return c
}

type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

type userEnvelope struct {
	Data *struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"data"`
	Errors []apiError `json:"errors"`
}

type followingEnvelope struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
	Meta *struct {
		NextToken string `json:"next_token"`
	} `json:"meta"`
}

func (e followingEnvelope) nextToken() string {
	if e.Meta == nil {
		return ""
	}
	return e.Meta.NextToken
}

// ResolveUser looks up the id of username. Every non-success response,
// rate limiting included, is returned as a *domain.RemoteError.
func (c *Client) ResolveUser(ctx context.Context, username string) (domain.TargetIdentity, error) {
	endpoint := c.baseURL + "/users/by/username/" + url.PathEscape(username)

	body, err := c.get(ctx, endpointUserByUsername, endpoint)
	if errors.Is(err, domain.ErrRateLimited) {
		return domain.TargetIdentity{}, &domain.RemoteError{Op: endpointUserByUsername, Status: http.StatusTooManyRequests, Err: err}
	}
	if err != nil {
		return domain.TargetIdentity{}, err
	}

	var env userEnvelope
	if err := decode(body, &env); err != nil {
		return domain.TargetIdentity{}, &domain.RemoteError{Op: endpointUserByUsername, Status: http.StatusOK, Err: err}
	}
	if env.Data == nil || env.Data.ID == "" {
		reason := "user not found"
		if len(env.Errors) > 0 {
			reason = strings.TrimSpace(env.Errors[0].Title + ": " + env.Errors[0].Detail)
		}
		return domain.TargetIdentity{}, &domain.RemoteError{Op: endpointUserByUsername, Status: http.StatusOK, Err: errors.New(reason)}
	}

	return domain.TargetIdentity{Username: username, ID: env.Data.ID}, nil
}

// FetchFollowing returns every id targetID follows, across all pages.
// A rate-limited page is retried with the same continuation token after
// the cooldown, so ids from earlier pages are neither lost nor refetched.
// The result is all-or-nothing: on error no partial set is returned.
func (c *Client) FetchFollowing(ctx context.Context, targetID string) (domain.IDSet, error) {
	l := pkglog.Ctx(ctx)
	ids := make(domain.IDSet)
	token := ""
	pages := 0

	for {
		env, err := c.fetchPage(ctx, targetID, token)
		if errors.Is(err, domain.ErrRateLimited) {
			l.Warn().
				Str(pkglog.FieldTargetID, targetID).
				Dur(pkglog.FieldCooldown, c.cooldown).
				Int("pages_done", pages).
				Msg("rate limit hit, cooling down before retrying page")
			if err := c.sleep(ctx, c.cooldown); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		pages++
		for _, u := range env.Data {
			ids.Add(u.ID)
		}

		next := env.nextToken()
		if next == "" {
			l.Debug().
				Str(pkglog.FieldTargetID, targetID).
				Int("pages", pages).
				Int(pkglog.FieldRemoteCount, ids.Len()).
				Msg("following fetched")
			return ids, nil
		}
		token = next
	}
}

func (c *Client) fetchPage(ctx context.Context, targetID, token string) (followingEnvelope, error) {
	q := url.Values{}
	q.Set("max_results", strconv.Itoa(c.pageSize))
	if token != "" {
		q.Set("pagination_token", token)
	}
	endpoint := c.baseURL + "/users/" + url.PathEscape(targetID) + "/following?" + q.Encode()

	var env followingEnvelope
	body, err := c.get(ctx, endpointFollowing, endpoint)
	if err != nil {
		return env, err
	}
	if err := decode(body, &env); err != nil {
		return env, &domain.RemoteError{Op: endpointFollowing, Status: http.StatusOK, Err: err}
	}
	return env, nil
}

// get performs an authenticated GET. Network errors and 5xx responses are
// retried with exponential backoff up to the attempt limit. A 429 returns
// domain.ErrRateLimited without retrying; any other non-2xx is a
// *domain.RemoteError.
func (c *Client) get(ctx context.Context, op, endpoint string) ([]byte, error) {
	l := pkglog.Ctx(ctx)
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // v4 default caps at 15m; v5 has no cap

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			wait := bo.NextBackOff()
			l.Warn().Err(lastErr).
				Str(pkglog.FieldEndpoint, op).
				Int(pkglog.FieldAttempt, attempt).
				Dur("backoff", wait).
				Msg("retrying remote request")
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}

		body, status, err := c.do(ctx, op, endpoint)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = &domain.RemoteError{Op: op, Err: err}
		case status == http.StatusTooManyRequests:
			c.observeRateLimited(op)
			return nil, domain.ErrRateLimited
		case status >= 200 && status < 300:
			return body, nil
		case status >= 500:
			lastErr = &domain.RemoteError{Op: op, Status: status, Err: errors.New(snippet(body))}
		default:
			return nil, &domain.RemoteError{Op: op, Status: status, Err: errors.New(snippet(body))}
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", c.attempts, lastErr)
}

func (c *Client) do(ctx context.Context, op, endpoint string) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.observeRequest(op, 0)
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	c.observeRequest(op, resp.StatusCode)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, nil
}

func (c *Client) observeRequest(op string, status int) {
	if c.observer != nil {
		c.observer.ObserveRequest(op, status)
	}
}

func (c *Client) observeRateLimited(op string) {
	if c.observer != nil {
		c.observer.ObserveRateLimited(op)
	}
}

func decode(body []byte, v interface{}) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 256 {
		s = s[:256] + "..."
	}
	if s == "" {
		return "empty response body"
	}
	return s
}
