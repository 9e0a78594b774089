package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestObserveRequestNormalizesPaths(t *testing.T) {
	rec := New()
	rec.ObserveRequest("get", "/api/videos/9f2c1d3a4b5e6f708192a3b4c5d6e7f8", 200, 15*time.Millisecond)
	rec.ObserveRequest("GET", "/api/videos/1a2b3c4d5e6f708192a3b4c5d6e7f801", 200, 5*time.Millisecond)

	var sb strings.Builder
	rec.Write(&sb)
	body := sb.String()
	if !strings.Contains(body, `clipforge_http_requests_total{method="GET",path="/api/videos/:id",status="200"} 2`) {
		t.Fatalf("expected collapsed path label, got:\n%s", body)
	}
}

func TestJobLifecycleCounters(t *testing.T) {
	rec := New()
	rec.JobStarted()
	rec.JobStarted()
	if got := rec.ActiveJobs(); got != 2 {
		t.Fatalf("expected 2 active jobs, got %d", got)
	}
	rec.JobCompleted()
	rec.JobFailed()
	if got := rec.ActiveJobs(); got != 0 {
		t.Fatalf("expected gauge drained, got %d", got)
	}
	// A stray decrement must not push the gauge below zero.
	rec.JobFailed()
	if got := rec.ActiveJobs(); got != 0 {
		t.Fatalf("expected gauge clamped at zero, got %d", got)
	}

	events, _ := rec.JobCounts()
	if events["start"] != 2 || events["complete"] != 1 || events["fail"] != 2 {
		t.Fatalf("unexpected job events: %v", events)
	}
}

func TestRenditionCountersInExposition(t *testing.T) {
	rec := New()
	rec.RenditionCompleted("360p")
	rec.RenditionCompleted("360p")
	rec.RenditionFailed("720P")

	var sb strings.Builder
	rec.Write(&sb)
	body := sb.String()
	if !strings.Contains(body, `clipforge_renditions_total{quality="360p",outcome="complete"} 2`) {
		t.Fatalf("missing completed rendition counter:\n%s", body)
	}
	if !strings.Contains(body, `clipforge_renditions_total{quality="720p",outcome="fail"} 1`) {
		t.Fatalf("missing failed rendition counter with lowercased quality:\n%s", body)
	}
}

func TestHandlerContentType(t *testing.T) {
	rec := New()
	rec.JobStarted()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()
	rec.Handler().ServeHTTP(rr, req)

	if got := rr.Header().Get("Content-Type"); got != "text/plain; version=0.0.4" {
		t.Fatalf("unexpected content type %q", got)
	}
	if !strings.Contains(rr.Body.String(), "clipforge_transcode_active_jobs 1") {
		t.Fatalf("expected active jobs gauge in body:\n%s", rr.Body.String())
	}
}

func TestResetClearsState(t *testing.T) {
	rec := New()
	rec.JobStarted()
	rec.ObserveRequest("GET", "/healthz", 200, time.Millisecond)
	rec.Reset()

	if got := rec.ActiveJobs(); got != 0 {
		t.Fatalf("expected zero active jobs after reset, got %d", got)
	}
	var sb strings.Builder
	rec.Write(&sb)
	if strings.Contains(sb.String(), "healthz") {
		t.Fatalf("expected request counters cleared:\n%s", sb.String())
	}
}

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"/api/videos", "/api/videos"},
		{"/api/videos/", "/api/videos"},
		{"/api/videos/abc123def456", "/api/videos/:id"},
		{"/api/videos/0123456789abcdef0123", "/api/videos/:id"},
	}
	for _, tc := range cases {
		if got := normalizePath(tc.in); got != tc.want {
			t.Fatalf("normalizePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
