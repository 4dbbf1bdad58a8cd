package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tidwall/gjson"
)

func TestHealthEndpoint(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore(), Deps{}))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !gjson.Get(rr.Body.String(), "ok").Bool() {
		t.Fatalf("expected ok=true, got %s", rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}
}

func TestHealthEndpointEchoesRequestID(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore(), Deps{}))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
}

func TestReadyEndpoint_Success(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore(), Deps{}))

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if gjson.Get(body, "status").String() != "ready" {
		t.Fatalf("expected status ready, got %s", body)
	}
	if gjson.Get(body, "checks.database.status").String() != "ok" {
		t.Fatalf("expected database ok, got %s", body)
	}
}

func TestReadyEndpoint_DatabaseFailure(t *testing.T) {
	fs := newFakeStore()
	fs.pingFn = func(context.Context) error {
		return errors.New("connection refused")
	}
	server := NewHTTPServer(newTestService(fs, Deps{}))

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	body := rr.Body.String()
	if gjson.Get(body, "ok").Bool() {
		t.Fatalf("expected ok=false")
	}
	if gjson.Get(body, "status").String() != "not_ready" {
		t.Fatalf("expected status not_ready, got %s", body)
	}
	if got := gjson.Get(body, "checks.database.error").String(); got != "connection refused" {
		t.Fatalf("expected database error, got %q", got)
	}
}

func TestReadyEndpoint_ExtraCheckFailure(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore(), Deps{
		Checks: []ReadyCheck{{
			Name:  "redis",
			Check: func(context.Context) error { return errors.New("dial tcp: timeout") },
		}},
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	body := rr.Body.String()
	if gjson.Get(body, "checks.database.status").String() != "ok" {
		t.Fatalf("expected database ok, got %s", body)
	}
	if gjson.Get(body, "checks.redis.status").String() != "error" {
		t.Fatalf("expected redis error, got %s", body)
	}
}

func TestUnknownRouteReturnsErrorEnvelope(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore(), Deps{}))

	req := httptest.NewRequest(http.MethodGet, "/api/nope", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	if code := gjson.Get(rr.Body.String(), "code").String(); code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %q", code)
	}
}

func TestWebSocketUnavailableWithoutHub(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore(), Deps{}))

	req := httptest.NewRequest(http.MethodGet, "/api/ws", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	if code := gjson.Get(rr.Body.String(), "code").String(); code != "REALTIME_UNAVAILABLE" {
		t.Fatalf("expected REALTIME_UNAVAILABLE, got %q", code)
	}
}
