package service

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/grigta/hotspot/pkg/crypto"
	"github.com/grigta/hotspot/services/billing-service/internal/models"
)

var ErrUnsupportedProvider = errors.New("unsupported router provider")

// RouterProvider talks to one family of router management APIs.
type RouterProvider interface {
	// DeleteHotspotUser removes username from the router. Returns false
	// with a nil error when the router has no such user.
	DeleteHotspotUser(ctx context.Context, conn models.RouterConnection, username string) (bool, error)
}

// HotspotUserRemover is what the sweep and cancellation paths depend on.
type HotspotUserRemover interface {
	RemoveHotspotUser(ctx context.Context, router *models.Router, username string) (bool, error)
}

// ProviderRegistry dispatches to the provider configured on each router and
// decrypts the stored API password just before the call.
type ProviderRegistry struct {
	providers map[models.RouterProvider]RouterProvider
	encryptor *crypto.Encryptor
}

func NewProviderRegistry(encryptor *crypto.Encryptor) *ProviderRegistry {
	return &ProviderRegistry{
		providers: make(map[models.RouterProvider]RouterProvider),
		encryptor: encryptor,
	}
}

func (r *ProviderRegistry) Register(kind models.RouterProvider, provider RouterProvider) {
	r.providers[kind] = provider
}

func (r *ProviderRegistry) RemoveHotspotUser(ctx context.Context, router *models.Router, username string) (bool, error) {
	kind := router.Provider
	if kind == "" {
		kind = models.ProviderMikroTik
	}

	provider, ok := r.providers[kind]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnsupportedProvider, kind)
	}

	conn := router.Connection
	if r.encryptor != nil && conn.APIPassword != "" {
		password, err := r.encryptor.DecryptWithSalt(conn.APIPassword, router.ID.Hex())
		if err != nil {
			return false, fmt.Errorf("failed to decrypt router credentials: %w", err)
		}
		conn.APIPassword = password
	}

	return provider.DeleteHotspotUser(ctx, conn, username)
}

func newRouterHTTPClient(timeout time.Duration, insecureSkipVerify bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// Router management endpoints usually carry self-signed certificates.
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: insecureSkipVerify}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

func baseURL(conn models.RouterConnection, defaultHTTP, defaultHTTPS int) string {
	scheme := "http"
	port := conn.Port
	if conn.UseTLS {
		scheme = "https"
		if port == 0 {
			port = defaultHTTPS
		}
	} else if port == 0 {
		port = defaultHTTP
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(conn.IPAddress, strconv.Itoa(port)))
}
