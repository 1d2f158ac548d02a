package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/grigta/hotspot/pkg/logger"
	"github.com/grigta/hotspot/services/billing-service/internal/models"
)

const defaultUniFiSite = "default"

// UniFiClient manages hotspot vouchers through a UniFi Network controller.
type UniFiClient struct {
	transport http.RoundTripper
	timeout   time.Duration
	logger    logger.Logger
}

func NewUniFiClient(timeout time.Duration, insecureSkipVerify bool, log logger.Logger) *UniFiClient {
	return &UniFiClient{
		transport: newRouterHTTPClient(timeout, insecureSkipVerify).Transport,
		timeout:   timeout,
		logger:    log,
	}
}

type unifiEnvelope struct {
	Meta struct {
		RC  string `json:"rc"`
		Msg string `json:"msg,omitempty"`
	} `json:"meta"`
	Data json.RawMessage `json:"data"`
}

type unifiVoucher struct {
	ID   string `json:"_id"`
	Code string `json:"code"`
}

func (c *UniFiClient) DeleteHotspotUser(ctx context.Context, conn models.RouterConnection, username string) (bool, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return false, err
	}
	client := &http.Client{Transport: c.transport, Timeout: c.timeout, Jar: jar}

	site := conn.Site
	if site == "" {
		site = defaultUniFiSite
	}
	base := baseURL(conn, 8080, 8443)

	if _, err := c.call(ctx, client, http.MethodPost, base+"/api/login", map[string]string{
		"username": conn.APIUser,
		"password": conn.APIPassword,
	}); err != nil {
		return false, fmt.Errorf("UniFi login failed: %w", err)
	}

	data, err := c.call(ctx, client, http.MethodGet, fmt.Sprintf("%s/api/s/%s/stat/voucher", base, site), nil)
	if err != nil {
		return false, err
	}

	var vouchers []unifiVoucher
	if err := json.Unmarshal(data, &vouchers); err != nil {
		return false, fmt.Errorf("invalid UniFi voucher list: %w", err)
	}

	want := normalizeVoucherCode(username)
	for _, v := range vouchers {
		if normalizeVoucherCode(v.Code) != want {
			continue
		}
		_, err := c.call(ctx, client, http.MethodPost, fmt.Sprintf("%s/api/s/%s/cmd/hotspot", base, site), map[string]string{
			"cmd": "delete-voucher",
			"_id": v.ID,
		})
		if err != nil {
			return false, err
		}
		return true, nil
	}

	return false, nil
}

func (c *UniFiClient) call(ctx context.Context, client *http.Client, method, endpoint string, payload interface{}) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("UniFi request failed: %w", err)
	}
	defer resp.Body.Close()

	var envelope unifiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("UniFi %s %s: status %d: unreadable body", method, req.URL.Path, resp.StatusCode)
	}
	if resp.StatusCode >= 300 || envelope.Meta.RC != "ok" {
		return nil, fmt.Errorf("UniFi %s %s: status %d: %s %s", method, req.URL.Path, resp.StatusCode, envelope.Meta.RC, envelope.Meta.Msg)
	}

	return envelope.Data, nil
}

// normalizeVoucherCode strips the dash and spaces the controller inserts
// into displayed codes.
func normalizeVoucherCode(code string) string {
	return strings.NewReplacer("-", "", " ", "").Replace(code)
}
