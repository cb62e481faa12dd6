// File: internal/network/httpclient.go
package network

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// Defaults for many small requests against a single routing backend.
const (
	DefaultDialTimeout         = 3 * time.Second
	DefaultKeepAlive           = 30 * time.Second
	DefaultTLSHandshakeTimeout = 5 * time.Second
	DefaultIdleConnTimeout     = 2 * time.Minute
	DefaultMaxConnsPerHost     = 16
	DefaultUserAgent           = "depotgraph"

	// headerGrace keeps the transport deadline behind the caller's per-call deadline.
	headerGrace = 2 * time.Second
)

// ClientConfig describes the HTTP client used to reach the routing backend.
type ClientConfig struct {
	// CallTimeout is the per-request budget the caller enforces through its context.
	CallTimeout     time.Duration
	DialTimeout     time.Duration
	KeepAlive       time.Duration
	MaxConnsPerHost int
	IdleConnTimeout time.Duration
	UserAgent       string

	// InsecureSkipVerify is only for self-hosted routers with private CAs.
	InsecureSkipVerify bool
	DisableHTTP2       bool

	Logger *zap.Logger
}

// Client wraps http.Client so it can be used as a drop in replacement.
// The caller must close every Response.Body.
type Client struct {
	*http.Client
}

// NewRoutingClientConfig sizes the connection pool to the expected number of
// concurrent lookups.
func NewRoutingClientConfig(callTimeout time.Duration, concurrency int) *ClientConfig {
	conns := DefaultMaxConnsPerHost
	if concurrency > 0 {
		conns = concurrency * 2
	}
	return &ClientConfig{
		CallTimeout:     callTimeout,
		DialTimeout:     DefaultDialTimeout,
		KeepAlive:       DefaultKeepAlive,
		MaxConnsPerHost: conns,
		IdleConnTimeout: DefaultIdleConnTimeout,
		UserAgent:       DefaultUserAgent,
	}
}

// NewHTTPTransport builds the transport for cfg. Every connection slot may stay idle.
func NewHTTPTransport(cfg *ClientConfig) *http.Transport {
	if cfg == nil {
		cfg = NewRoutingClientConfig(0, 0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dialer := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: cfg.KeepAlive}
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for self-hosted routers
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSClientConfig:     tlsConfig,
		TLSHandshakeTimeout: DefaultTLSHandshakeTimeout,
		MaxIdleConns:        cfg.MaxConnsPerHost,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		ForceAttemptHTTP2:   !cfg.DisableHTTP2,
	}
	if cfg.CallTimeout > 0 {
		transport.ResponseHeaderTimeout = cfg.CallTimeout + headerGrace
	}

	if cfg.DisableHTTP2 {
		tlsConfig.NextProtos = []string{"http/1.1"}
		return transport
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		logger.Warn("HTTP/2 unavailable for the routing client, using HTTP/1.1", zap.Error(err))
	}
	return transport
}

// userAgentTransport stamps outgoing requests. The public OSRM demo server's
// usage policy requires an identifying User-Agent.
type userAgentTransport struct {
	next      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.next.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.userAgent)
	return t.next.RoundTrip(clone)
}

// NewClient creates the routing client. Deadlines come from the caller's
// context; the client itself only bounds header latency.
func NewClient(cfg *ClientConfig) *Client {
	if cfg == nil {
		cfg = NewRoutingClientConfig(0, 0)
	}
	var rt http.RoundTripper = NewHTTPTransport(cfg)
	if cfg.UserAgent != "" {
		rt = &userAgentTransport{next: rt, userAgent: cfg.UserAgent}
	}
	return &Client{Client: &http.Client{Transport: rt}}
}
