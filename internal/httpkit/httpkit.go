// Package httpkit builds the outbound HTTP client used for model
// endpoint calls. It pins explicit dial, TLS and idle timeouts and
// stamps every request with the agent's User-Agent.
package httpkit

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nugget/amazo/internal/buildinfo"
	"github.com/nugget/amazo/internal/config"
)

// Default timeouts and connection pool limits for the shared transport.
const (
	// DefaultDialTimeout is the maximum time to establish a TCP connection.
	DefaultDialTimeout = 10 * time.Second

	// DefaultKeepAlive is the interval between TCP keep-alive probes.
	DefaultKeepAlive = 30 * time.Second

	// DefaultTLSHandshakeTimeout is the maximum time for the TLS handshake.
	DefaultTLSHandshakeTimeout = 10 * time.Second

	// DefaultIdleConnTimeout is how long idle connections stay in the pool.
	DefaultIdleConnTimeout = 90 * time.Second

	// DefaultMaxIdleConnsPerHost is the per-host idle connection limit.
	// One endpoint, one sequential caller.
	DefaultMaxIdleConnsPerHost = 2
)

// ClientOption configures a Client built by NewClient.
type ClientOption func(*clientConfig)

type clientConfig struct {
	timeout   time.Duration
	userAgent string
	transport http.RoundTripper
	logger    *slog.Logger
	traceWire bool
}

// WithTimeout sets the overall request timeout on the http.Client.
// Model completions on local hardware can take minutes, so callers
// usually pass the configured model timeout here.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.timeout = d }
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *clientConfig) { c.userAgent = ua }
}

// WithTransport overrides the default transport. Tests use this to
// route requests through httptest servers or failing fakes.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *clientConfig) { c.transport = rt }
}

// WithLogger enables request logging at the trace level through l.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *clientConfig) {
		c.logger = l
		c.traceWire = l != nil
	}
}

// NewTransport creates an http.Transport with explicit timeouts.
// There is no ResponseHeaderTimeout: a local model may think for a
// long time before the first byte, and the client timeout bounds it.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   DefaultDialTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout: DefaultTLSHandshakeTimeout,
		IdleConnTimeout:     DefaultIdleConnTimeout,
		MaxIdleConnsPerHost: DefaultMaxIdleConnsPerHost,
		ForceAttemptHTTP2:   true,
	}
}

// NewClient builds an *http.Client with the shared transport, a
// User-Agent and an overall timeout (five minutes unless overridden).
func NewClient(opts ...ClientOption) *http.Client {
	cfg := &clientConfig{
		timeout:   5 * time.Minute,
		userAgent: buildinfo.UserAgent(),
	}
	for _, o := range opts {
		o(cfg)
	}

	base := cfg.transport
	if base == nil {
		base = NewTransport()
	}

	var rt http.RoundTripper = &userAgentTransport{base: base, ua: cfg.userAgent}
	if cfg.traceWire {
		rt = &loggingTransport{base: rt, logger: cfg.logger}
	}

	return &http.Client{
		Timeout:   cfg.timeout,
		Transport: rt,
	}
}

// userAgentTransport injects the User-Agent header on every request
// unless one is already set.
type userAgentTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		// Clone the request to avoid mutating the original, per RoundTripper contract.
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}
	return t.base.RoundTrip(req)
}

// loggingTransport records method, URL, status and latency of each
// request at the trace level.
type loggingTransport struct {
	base   http.RoundTripper
	logger *slog.Logger
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	attrs := []slog.Attr{
		slog.String("method", req.Method),
		slog.String("url", req.URL.String()),
		slog.Duration("elapsed", time.Since(start).Round(time.Millisecond)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	} else {
		attrs = append(attrs, slog.Int("status", resp.StatusCode))
	}
	t.logger.LogAttrs(req.Context(), config.LevelTrace, "http request", attrs...)
	return resp, err
}
