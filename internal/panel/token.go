// Package panel implements the control-panel client: authentication, node
// listing, and user lookup against a marzneshin-shaped panel API.
//
// Design overview:
//   - PanelSession (internal/model) holds the current bearer token. Only
//     EnsureToken sets it, and it refreshes lazily — a token is only
//     fetched the moment an operation needs one that is missing.
//   - A 401 response anywhere clears the token and lets the next attempt
//     reauthenticate, matching the reference implementation's
//     "panel_data.token = None; continue" pattern.
//   - Authentication retries up to maxTokenAttempts times with a randomized
//     backoff; after that it gives up with ErrAuthExhausted.
package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/firasghr/xrayguard/internal/logger"
	"github.com/firasghr/xrayguard/internal/metrics"
	"github.com/firasghr/xrayguard/internal/model"
	"github.com/firasghr/xrayguard/internal/notify"
)

// Sentinel errors callers can detect with errors.Is, per spec.md §7's
// "Auth expired... escalate to AuthExhausted" error kind.
var (
	// ErrAuthExhausted is returned when authentication failed on every one
	// of maxTokenAttempts attempts.
	ErrAuthExhausted = errors.New("panel: authentication exhausted after all attempts")
	// ErrTokenExpired marks a 401 response that cleared the session token.
	ErrTokenExpired = errors.New("panel: token expired")
)

const (
	maxTokenAttempts = 20
	maxUserAttempts  = 5
)

// schemes is tried in order for every panel call: https first, falling back
// to http for panels that run with TLS disabled behind the proxy.
var schemes = []string{"https", "http"}

// Client talks to the panel's HTTP API on behalf of a PanelSession.
type Client struct {
	http    *http.Client
	log     *logger.Logger
	notify  notify.Sink
	metrics *metrics.Metrics
	sleep   func(time.Duration)
}

// NewClient builds a panel Client. httpClient should have TLS verification
// disabled per spec.md §4.1/§4.2 ("TLS verification is disabled"); see
// NewInsecureHTTPClient in httpclient.go. m may be nil; when set, every
// 401 response increments metrics.PanelAuthFailures (spec.md §7).
func NewClient(httpClient *http.Client, log *logger.Logger, sink notify.Sink, m *metrics.Metrics) *Client {
	return &Client{
		http:    httpClient,
		log:     log,
		notify:  sink,
		metrics: m,
		sleep:   time.Sleep,
	}
}

// EnsureToken returns session unchanged if it already holds a token.
// Otherwise it POSTs credentials to /api/admins/token, trying https then
// http, retrying up to 20 attempts with backoff
// sleep(random(2..5) * attempt) between attempts. On success it stores
// access_token on the session. After 20 failed attempts it reports
// ErrAuthExhausted and notifies.
func (c *Client) EnsureToken(ctx context.Context, session *model.PanelSession) error {
	if session.HasToken() {
		return nil
	}

	form := url.Values{
		"username": {session.Username},
		"password": {session.Password},
	}

	var lastErr error
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		for _, scheme := range schemes {
			tokenURL := fmt.Sprintf("%s://%s/api/admins/token", scheme, session.Domain)
			token, err := c.requestToken(ctx, tokenURL, form)
			if err != nil {
				lastErr = err
				c.log.Errorf("panel: token request %s failed: %v", tokenURL, err)
				continue
			}
			session.Token = token
			return nil
		}
		c.notify.Notify(fmt.Sprintf("panel: authentication attempt %d/%d failed: %v", attempt+1, maxTokenAttempts, lastErr))
		c.sleep(time.Duration(randInt(2, 5)*attempt) * time.Second)
	}

	msg := fmt.Sprintf("failed to get token after %d attempts: make sure the panel is running and the username and password are correct: %v", maxTokenAttempts, lastErr)
	c.log.Error(msg)
	c.notify.Notify(msg)
	return fmt.Errorf("%w: %s", ErrAuthExhausted, msg)
}

func (c *Client) requestToken(ctx context.Context, tokenURL string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("send token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("token endpoint returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("unmarshal token response: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned empty access_token")
	}
	return out.AccessToken, nil
}

// randInt returns a pseudo-random integer in [lo, hi].
func randInt(lo, hi int) int {
	return lo + rand.Intn(hi-lo+1)
}
