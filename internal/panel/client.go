package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/firasghr/xrayguard/internal/model"
)

type nodeDTO struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Port    int    `json:"port"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type userDTO struct {
	Name       string `json:"username"`
	ServiceIDs []int  `json:"service_ids"`
}

// ListHealthyNodes GETs /api/nodes?status=healthy with bearer auth. On 401
// it clears session.Token, reauthenticates through EnsureToken and keeps
// retrying within the same budget; ErrTokenExpired is returned (wrapped)
// only when the retries run out with a 401 as the last failure.
// Tolerates either a {items: [...]} envelope or a bare array, per spec.md
// §4.1/§6.
func (c *Client) ListHealthyNodes(ctx context.Context, session *model.PanelSession) ([]model.Node, error) {
	if err := c.EnsureToken(ctx, session); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		for _, scheme := range schemes {
			nodesURL := fmt.Sprintf("%s://%s/api/nodes?status=healthy", scheme, session.Domain)
			nodes, authExpired, err := c.requestNodes(ctx, nodesURL, session.Token)
			if authExpired {
				session.ClearToken()
				if tokenErr := c.EnsureToken(ctx, session); tokenErr != nil {
					return nil, tokenErr
				}
				lastErr = ErrTokenExpired
				continue
			}
			if err != nil {
				lastErr = err
				c.log.Errorf("panel: list nodes %s failed: %v", nodesURL, err)
				continue
			}
			return nodes, nil
		}
		c.sleep(time.Duration(randInt(2, 5)*attempt) * time.Second)
	}
	return nil, fmt.Errorf("panel: list nodes exhausted retries: %w", lastErr)
}

func (c *Client) requestNodes(ctx context.Context, nodesURL, token string) ([]model.Node, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, nodesURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build nodes request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("send nodes request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		if c.metrics != nil {
			c.metrics.IncrementPanelAuthFailures()
		}
		return nil, true, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, false, fmt.Errorf("read nodes response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("nodes endpoint returned HTTP %d", resp.StatusCode)
	}

	items, err := extractNodeItems(body)
	if err != nil {
		return nil, false, err
	}

	nodes := make([]model.Node, 0, len(items))
	for _, n := range items {
		nodes = append(nodes, model.Node{
			ID:      n.ID,
			Name:    n.Name,
			Address: n.Address,
			Port:    n.Port,
			Status:  n.Status,
			Message: n.Message,
		})
	}
	return nodes, false, nil
}

// extractNodeItems tolerates either a {items:[...]} envelope or a bare array.
func extractNodeItems(body []byte) ([]nodeDTO, error) {
	var envelope struct {
		Items []nodeDTO `json:"items"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Items != nil {
		return envelope.Items, nil
	}
	var bare []nodeDTO
	if err := json.Unmarshal(body, &bare); err != nil {
		return nil, fmt.Errorf("unmarshal nodes response: %w", err)
	}
	return bare, nil
}

// GetUser GETs /api/users/{username}. A 404 yields (nil, nil); a 401 clears
// the token and retries; up to 5 outer attempts with a 1-second sleep
// between them, per spec.md §4.1.
func (c *Client) GetUser(ctx context.Context, session *model.PanelSession, username string) (*model.UserRecord, error) {
	for attempt := 0; attempt < maxUserAttempts; attempt++ {
		if err := c.EnsureToken(ctx, session); err != nil {
			return nil, err
		}

		userURL := fmt.Sprintf("%s://%s/api/users/%s", schemeFor(attempt), session.Domain, username)
		record, status, err := c.requestUser(ctx, userURL, session.Token)
		switch {
		case status == http.StatusUnauthorized:
			if c.metrics != nil {
				c.metrics.IncrementPanelAuthFailures()
			}
			session.ClearToken()
		case status == http.StatusNotFound:
			return nil, nil
		case err != nil:
			c.log.Errorf("panel: get user %q failed: %v", username, err)
		default:
			return record, nil
		}
		c.sleep(time.Second)
	}
	return nil, nil
}

// schemeFor alternates https/http across outer attempts, one scheme per
// attempt; the token and node-list loops instead try both schemes within
// every attempt.
func schemeFor(attempt int) string {
	return schemes[attempt%len(schemes)]
}

func (c *Client) requestUser(ctx context.Context, userURL, token string) (*model.UserRecord, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build user request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("send user request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, resp.StatusCode, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read user response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, fmt.Errorf("user endpoint returned HTTP %d", resp.StatusCode)
	}

	var dto userDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("unmarshal user response: %w", err)
	}
	return &model.UserRecord{Name: dto.Name, ServiceIDs: dto.ServiceIDs}, resp.StatusCode, nil
}
