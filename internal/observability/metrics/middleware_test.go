package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPMiddlewareRecordsStatus(t *testing.T) {
	rec := New()
	handler := HTTPMiddleware(rec, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest("POST", "/api/videos", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status passthrough, got %d", rr.Code)
	}
	var sb strings.Builder
	rec.Write(&sb)
	if !strings.Contains(sb.String(), `clipforge_http_requests_total{method="POST",path="/api/videos",status="202"} 1`) {
		t.Fatalf("expected request counter:\n%s", sb.String())
	}
}

func TestHTTPMiddlewareDefaultsStatusOK(t *testing.T) {
	rec := New()
	handler := HTTPMiddleware(rec, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest("GET", "/healthz", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var sb strings.Builder
	rec.Write(&sb)
	if !strings.Contains(sb.String(), `status="200"`) {
		t.Fatalf("expected implicit 200 recorded:\n%s", sb.String())
	}
}
