package handler

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/labstack/echo/v4"

	"webproxy-go/internal/client"
	"webproxy-go/internal/config"
	"webproxy-go/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(t *testing.T, proxyCfg config.ProxyConfig) *ProxyHandler {
	t.Helper()
	cfg := &config.Config{
		Proxy: proxyCfg,
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
	}
	uc := client.NewUpstreamClient(cfg, testLogger(), nil)
	svc := service.NewProxyService(uc, cfg, testLogger())
	return NewProxyHandler(svc, cfg, testLogger())
}

func TestProxyHandler_Handle_RelaysUpstreamResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/users" {
			t.Errorf("upstream path = %q, want %q", r.URL.Path, "/v1/users")
		}
		if r.URL.RawQuery != "limit=5" {
			t.Errorf("upstream query = %q, want %q", r.URL.RawQuery, "limit=5")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Trace", "abc")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	h := newTestHandler(t, config.ProxyConfig{
		BaseURI:   upstream.URL,
		MountPath: "/proxy",
	})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/proxy/v1/users?limit=5", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Header().Get("X-Trace"); got != "abc" {
		t.Errorf("X-Trace = %q, want %q (upstream header relayed)", got, "abc")
	}
	if got := rec.Body.String(); got != `{"ok":true}` {
		t.Errorf("body = %q, want %q", got, `{"ok":true}`)
	}
}

func TestProxyHandler_Handle_RelaysUpstreamStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	defer upstream.Close()

	h := newTestHandler(t, config.ProxyConfig{
		BaseURI:   upstream.URL,
		MountPath: "/proxy",
	})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/proxy/v1/teapot", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d (upstream status relayed)", rec.Code, http.StatusTeapot)
	}
	if got := rec.Body.String(); got != "short and stout" {
		t.Errorf("body = %q, want upstream body verbatim", got)
	}
}

func TestProxyHandler_Handle_InjectedResponseHeadersWin(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Trace", "abc")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	h := newTestHandler(t, config.ProxyConfig{
		BaseURI:   upstream.URL,
		MountPath: "/proxy",
		ResponseHeaderSet: []config.Header{
			{Name: "X-Frame-Options", Value: "SAMEORIGIN"},
			{Name: "Access-Control-Allow-Origin", Value: "*"},
		},
	})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/proxy/v1/users", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if got := rec.Header().Get("X-Frame-Options"); got != "SAMEORIGIN" {
		t.Errorf("X-Frame-Options = %q, want injected %q to win over upstream", got, "SAMEORIGIN")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "*")
	}
	if got := rec.Header().Get("X-Trace"); got != "abc" {
		t.Errorf("X-Trace = %q, want unrelated upstream header kept", got)
	}
}

func TestProxyHandler_Handle_Preflight(t *testing.T) {
	var upstreamCalls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		upstreamCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	h := newTestHandler(t, config.ProxyConfig{
		BaseURI:   upstream.URL,
		MountPath: "/proxy",
		ResponseHeaderSet: []config.Header{
			{Name: "Access-Control-Allow-Origin", Value: "*"},
			{Name: "Access-Control-Allow-Headers", Value: "Content-Type"},
		},
	})

	e := echo.New()
	req := httptest.NewRequest(http.MethodOptions, "/proxy/v1/users", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "*")
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type" {
		t.Errorf("Access-Control-Allow-Headers = %q, want %q", got, "Content-Type")
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body = %q, want empty preflight body", rec.Body.String())
	}
	if n := upstreamCalls.Load(); n != 0 {
		t.Errorf("upstream called %d times during preflight, want 0", n)
	}
}

func TestProxyHandler_Handle_TransportFailureIs404(t *testing.T) {
	h := newTestHandler(t, config.ProxyConfig{
		BaseURI:   "http://127.0.0.1:1",
		MountPath: "/proxy",
		ResponseHeaderSet: []config.Header{
			{Name: "Access-Control-Allow-Origin", Value: "*"},
		},
	})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/proxy/v1/users", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body = %q, want empty body on transport failure", rec.Body.String())
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want no injected headers on failure", got)
	}
}

func TestProxyHandler_Handle_InjectedRequestHeadersOnly(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer abc" {
			t.Errorf("Authorization = %q, want injected %q", got, "Bearer abc")
		}
		if got := r.Header.Get("X-Client-Secret"); got != "" {
			t.Errorf("X-Client-Secret = %q, want inbound header not forwarded", got)
		}
		if got := r.Header.Get("Cookie"); got != "" {
			t.Errorf("Cookie = %q, want inbound header not forwarded", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	h := newTestHandler(t, config.ProxyConfig{
		BaseURI:          upstream.URL,
		MountPath:        "/proxy",
		RequestHeaderSet: []config.Header{{Name: "Authorization", Value: "Bearer abc"}},
	})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/proxy/v1/users", http.NoBody)
	req.Header.Set("X-Client-Secret", "leak-me-not")
	req.Header.Set("Cookie", "session=abc")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestProxyHandler_Handle_TruncatedUpstreamBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Declare more bytes than are written; returning early closes
		// the connection short of the promised length, so the relay's
		// body copy fails after the status is already on the wire.
		w.Header().Set("Content-Length", "1000")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial"))
	}))
	defer upstream.Close()

	cfg := &config.Config{
		Proxy: config.ProxyConfig{
			BaseURI:   upstream.URL,
			MountPath: "/proxy",
		},
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
	}
	uc := client.NewUpstreamClient(cfg, testLogger(), nil)
	svc := service.NewProxyService(uc, cfg, testLogger())

	var logBuf bytes.Buffer
	h := NewProxyHandler(svc, cfg, slog.New(slog.NewTextHandler(&logBuf, nil)))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/proxy/v1/blob", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	// The failure happens mid-stream: no error escapes, no alternate
	// status is written, and the partial body is the observable result.
	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v, want nil for mid-stream failure", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d (upstream status kept)", rec.Code, http.StatusOK)
	}
	if got := rec.Body.String(); got != "partial" {
		t.Errorf("body = %q, want the partial bytes received before the failure", got)
	}
	if !strings.Contains(logBuf.String(), "streaming response body") {
		t.Errorf("expected truncation to be logged, got: %q", logBuf.String())
	}
}

func TestProxyHandler_Handle_StreamsLargeBody(t *testing.T) {
	payload := make([]byte, 1<<20)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
	}))
	defer upstream.Close()

	h := newTestHandler(t, config.ProxyConfig{
		BaseURI:   upstream.URL,
		MountPath: "/proxy",
	})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/proxy/v1/blob", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Body.Len() != len(payload) {
		t.Fatalf("body length = %d, want %d", rec.Body.Len(), len(payload))
	}
	got := rec.Body.Bytes()
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("body differs from upstream at byte %d", i)
		}
	}
}
