// Package httpclient builds the HTTP clients used for upstream calls.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single upstream call end to end.
const DefaultTimeout = 30 * time.Second

// ClientConfig holds the transport settings for an upstream client.
type ClientConfig struct {
	// Timeout is the overall request timeout.
	Timeout time.Duration

	// MaxIdleConnsPerHost caps keep-alive connections to the upstream host.
	// The fetch queue issues one call at a time, so a small pool is enough.
	MaxIdleConnsPerHost int

	IdleConnTimeout       time.Duration
	DialTimeout           time.Duration
	KeepAlive             time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
}

// DefaultConfig returns settings tuned for a single serialized upstream.
func DefaultConfig() ClientConfig {
	return ClientConfig{
		Timeout:               DefaultTimeout,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		DialTimeout:           10 * time.Second,
		KeepAlive:             30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
	}
}

// WithTimeout returns a copy of DefaultConfig with the given overall timeout.
// Non-positive values keep the default.
func WithTimeout(timeout time.Duration) ClientConfig {
	cfg := DefaultConfig()
	if timeout > 0 {
		cfg.Timeout = timeout
		if cfg.ResponseHeaderTimeout > timeout {
			cfg.ResponseHeaderTimeout = timeout
		}
	}
	return cfg
}

// New creates an HTTP client from config. A nil config uses DefaultConfig.
func New(config *ClientConfig) *http.Client {
	if config == nil {
		cfg := DefaultConfig()
		config = &cfg
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAlive,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConnsPerHost,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   config.Timeout,
	}
}
