// Package httpexec executes iteration requests over net/http and reports
// per-phase timings collected with httptrace.
package httpexec

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/stampede/internal/vu"
)

// Config contains HTTP client configuration.
type Config struct {
	// Timeout for a single request, including reading the body.
	Timeout time.Duration

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	// MaxConnsPerHost limits the total connections per host. Zero is unlimited.
	MaxConnsPerHost int
	IdleConnTimeout time.Duration

	DisableKeepAlives  bool
	InsecureSkipVerify bool

	UserAgent string
	// BaseURL is prepended to request URLs that have no scheme.
	BaseURL string
	// Headers are sent with every request unless the request overrides them.
	Headers map[string]string
}

// DefaultConfig returns defaults suited to load generation.
func DefaultConfig() Config {
	return Config{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		UserAgent:           "stampede/1.0",
	}
}

// Executor implements vu.RequestExecutor. It is shared by every VU so that
// connections are pooled across the run.
type Executor struct {
	cfg    Config
	client *http.Client
}

var _ vu.RequestExecutor = (*Executor)(nil)

// New creates an Executor. Zero fields in cfg take their DefaultConfig value.
func New(cfg Config) *Executor {
	def := DefaultConfig()
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = def.MaxIdleConns
	}
	if cfg.MaxIdleConnsPerHost == 0 {
		cfg.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = def.IdleConnTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Executor{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
	}
}

// Close releases idle connections.
func (e *Executor) Close() {
	e.client.CloseIdleConnections()
}

// Execute performs req and reads the full body.
func (e *Executor) Execute(ctx context.Context, req *vu.Request) (*vu.Response, error) {
	httpReq, err := e.build(ctx, req)
	if err != nil {
		return nil, err
	}

	var (
		tm                      vu.Timings
		connectStart, tlsStart  time.Time
		wroteRequest, firstByte time.Time
		mu                      sync.Mutex
	)
	trace := &httptrace.ClientTrace{
		ConnectStart: func(network, addr string) {
			mu.Lock()
			connectStart = time.Now()
			mu.Unlock()
		},
		ConnectDone: func(network, addr string, err error) {
			mu.Lock()
			if err == nil && !connectStart.IsZero() {
				tm.Connecting = time.Since(connectStart)
			}
			mu.Unlock()
		},
		TLSHandshakeStart: func() {
			mu.Lock()
			tlsStart = time.Now()
			mu.Unlock()
		},
		TLSHandshakeDone: func(state tls.ConnectionState, err error) {
			mu.Lock()
			if err == nil && !tlsStart.IsZero() {
				tm.TLSHandshaking = time.Since(tlsStart)
			}
			mu.Unlock()
		},
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			mu.Lock()
			wroteRequest = time.Now()
			mu.Unlock()
		},
		GotFirstResponseByte: func() {
			mu.Lock()
			firstByte = time.Now()
			if !wroteRequest.IsZero() {
				tm.Waiting = firstByte.Sub(wroteRequest)
			}
			mu.Unlock()
		},
	}
	httpReq = httpReq.WithContext(httptrace.WithClientTrace(httpReq.Context(), trace))

	start := time.Now()
	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	end := time.Now()
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	mu.Lock()
	if !firstByte.IsZero() {
		tm.Receiving = end.Sub(firstByte)
	}
	timings := tm
	mu.Unlock()

	return &vu.Response{
		Status:    httpResp.StatusCode,
		Duration:  end.Sub(start),
		Timings:   timings,
		Headers:   httpResp.Header,
		Body:      body,
		BytesSent: requestSize(httpReq, len(req.Body)),
	}, nil
}

func (e *Executor) build(ctx context.Context, req *vu.Request) (*http.Request, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, e.resolveURL(req.URL), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	httpReq.Header.Set("User-Agent", e.cfg.UserAgent)
	for k, v := range e.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

func (e *Executor) resolveURL(raw string) string {
	if e.cfg.BaseURL == "" || strings.Contains(raw, "://") {
		return raw
	}
	return strings.TrimRight(e.cfg.BaseURL, "/") + "/" + strings.TrimLeft(raw, "/")
}

// requestSize estimates the bytes written for the request line, headers
// and body.
func requestSize(r *http.Request, bodyLen int) int64 {
	n := len(r.Method) + len(r.URL.RequestURI()) + len(r.Proto) + 4
	n += len("Host: ") + len(r.URL.Host) + 2
	for k, vs := range r.Header {
		for _, v := range vs {
			n += len(k) + len(v) + 4
		}
	}
	return int64(n + 2 + bodyLen)
}
