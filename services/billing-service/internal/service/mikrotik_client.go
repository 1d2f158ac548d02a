package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/grigta/hotspot/pkg/logger"
	"github.com/grigta/hotspot/services/billing-service/internal/models"
)

// MikroTikClient manages hotspot users over the RouterOS v7 REST API.
type MikroTikClient struct {
	client *http.Client
	logger logger.Logger
}

func NewMikroTikClient(timeout time.Duration, insecureSkipVerify bool, log logger.Logger) *MikroTikClient {
	return &MikroTikClient{
		client: newRouterHTTPClient(timeout, insecureSkipVerify),
		logger: log,
	}
}

type routerOSItem struct {
	ID   string `json:".id"`
	Name string `json:"name,omitempty"`
	User string `json:"user,omitempty"`
}

func (c *MikroTikClient) DeleteHotspotUser(ctx context.Context, conn models.RouterConnection, username string) (bool, error) {
	users, err := c.list(ctx, conn, "/rest/ip/hotspot/user", url.Values{"name": {username}})
	if err != nil {
		return false, err
	}
	if len(users) == 0 {
		return false, nil
	}

	// Drop live sessions first so the client is disconnected immediately.
	sessions, err := c.list(ctx, conn, "/rest/ip/hotspot/active", url.Values{"user": {username}})
	if err != nil {
		c.logger.Warn("Failed to list active hotspot sessions",
			logger.Field{Key: "router", Value: conn.IPAddress},
			logger.Field{Key: "user", Value: username},
			logger.Err(err),
		)
	}
	for _, session := range sessions {
		if err := c.remove(ctx, conn, "/rest/ip/hotspot/active/", session.ID); err != nil {
			c.logger.Warn("Failed to drop active hotspot session",
				logger.Field{Key: "router", Value: conn.IPAddress},
				logger.Field{Key: "session", Value: session.ID},
				logger.Err(err),
			)
		}
	}

	for _, user := range users {
		if err := c.remove(ctx, conn, "/rest/ip/hotspot/user/", user.ID); err != nil {
			return false, err
		}
	}

	return true, nil
}

func (c *MikroTikClient) list(ctx context.Context, conn models.RouterConnection, path string, query url.Values) ([]routerOSItem, error) {
	endpoint := baseURL(conn, 80, 443) + path + "?" + query.Encode()

	body, err := c.do(ctx, conn, http.MethodGet, endpoint)
	if err != nil {
		return nil, err
	}

	var items []routerOSItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("invalid RouterOS response: %w", err)
	}
	return items, nil
}

func (c *MikroTikClient) remove(ctx context.Context, conn models.RouterConnection, path, id string) error {
	_, err := c.do(ctx, conn, http.MethodDelete, baseURL(conn, 80, 443)+path+url.PathEscape(id))
	return err
}

func (c *MikroTikClient) do(ctx context.Context, conn models.RouterConnection, method, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(conn.APIUser, conn.APIPassword)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("RouterOS request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
			Detail  string `json:"detail"`
		}
		_ = json.Unmarshal(body, &apiErr)
		return nil, fmt.Errorf("RouterOS %s %s: status %d: %s %s", method, req.URL.Path, resp.StatusCode, apiErr.Message, apiErr.Detail)
	}

	return body, nil
}
