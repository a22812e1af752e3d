package factory

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"yagpt-router/internal/config"
	"yagpt-router/internal/models"
	"yagpt-router/internal/provider"
	"yagpt-router/internal/provider/yandex"
)

const (
	defaultHTTPTimeout     = 60 * time.Second
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// NewUpstream constructs the upstream client from configuration. One-shot calls
// are bounded by the configured timeout; streaming calls live as long as the
// downstream request context.
func NewUpstream(cfg config.UpstreamConfig) (*yandex.Provider, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	transport := newTransport()
	client := &http.Client{Timeout: timeout, Transport: transport}
	streamClient := &http.Client{Transport: transport}

	p, err := yandex.New(cfg, client, streamClient)
	if err != nil {
		return nil, fmt.Errorf("initialise yandex provider: %w", err)
	}
	return p, nil
}

// NewRegistry fills the model catalog from configuration. Every entry shares
// the startup time as its creation timestamp.
func NewRegistry(cfg config.Config, created time.Time) (*provider.Registry, error) {
	registry := provider.NewRegistry()
	for _, m := range cfg.Models {
		if err := registry.Register(models.Model{
			ID:      m.ID,
			OwnedBy: m.OwnedBy,
			Created: created.Unix(),
		}); err != nil {
			return nil, fmt.Errorf("register model %q: %w", m.ID, err)
		}
	}
	return registry, nil
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
