// Package metrics aggregates in-memory counters and gauges for HTTP traffic
// and transcode pipeline activity, exported in Prometheus text format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

type renditionLabel struct {
	quality string
	outcome string
}

// Recorder coordinates concurrent writers via a RWMutex while exposing a
// thread-safe gauge for active transcode jobs.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	jobEvents       map[string]uint64
	renditionEvents map[renditionLabel]uint64
	activeJobs      atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		jobEvents:       make(map[string]uint64),
		renditionEvents: make(map[renditionLabel]uint64),
	}
}

// Default returns the singleton Recorder shared across helper functions.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates totals for request count and cumulative
// duration by HTTP method, normalized path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: strconv.Itoa(status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// JobStarted records the beginning of a transcode job and increments the
// active job gauge.
func (r *Recorder) JobStarted() {
	r.recordJobEvent("start")
	r.activeJobs.Add(1)
}

// JobCompleted records a finished job and decrements the active job gauge.
func (r *Recorder) JobCompleted() {
	r.recordJobEvent("complete")
	r.decrementActiveJobs()
}

// JobFailed records a failed job and decrements the active job gauge
// (without letting it go negative if the job never started).
func (r *Recorder) JobFailed() {
	r.recordJobEvent("fail")
	r.decrementActiveJobs()
}

func (r *Recorder) recordJobEvent(status string) {
	r.mu.Lock()
	r.jobEvents[status]++
	r.mu.Unlock()
}

// RenditionCompleted counts one successfully published rendition.
func (r *Recorder) RenditionCompleted(quality string) {
	r.recordRenditionEvent(quality, "complete")
}

// RenditionFailed counts one skipped rendition.
func (r *Recorder) RenditionFailed(quality string) {
	r.recordRenditionEvent(quality, "fail")
}

func (r *Recorder) recordRenditionEvent(quality, outcome string) {
	label := renditionLabel{quality: normalizeName(quality), outcome: outcome}
	r.mu.Lock()
	r.renditionEvents[label]++
	r.mu.Unlock()
}

// ActiveJobs exposes the current number of in-flight transcode jobs.
func (r *Recorder) ActiveJobs() int64 {
	return r.activeJobs.Load()
}

// JobCounts returns copies of the job event counters and the active gauge,
// for tests and reporting.
func (r *Recorder) JobCounts() (events map[string]uint64, active int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events = make(map[string]uint64, len(r.jobEvents))
	for k, v := range r.jobEvents {
		events[k] = v
	}
	return events, r.activeJobs.Load()
}

// Reset clears all counters and gauges. Intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.jobEvents = make(map[string]uint64)
	r.renditionEvents = make(map[renditionLabel]uint64)
	r.activeJobs.Store(0)
}

// Handler serves the recorder's metrics for scraping.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the metrics in Prometheus text format, sorting label sets to
// provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	jobEvents := r.sortedJobEvents()
	renditionLabels := r.sortedRenditionLabels()

	fmt.Fprintln(w, "# HELP clipforge_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE clipforge_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "clipforge_http_requests_total{method=%q,path=%q,status=%q} %d\n",
			label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP clipforge_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE clipforge_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "clipforge_http_request_duration_seconds_sum{method=%q,path=%q,status=%q} %f\n",
			label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP clipforge_transcode_jobs_total Transcode job events by status")
	fmt.Fprintln(w, "# TYPE clipforge_transcode_jobs_total counter")
	for _, status := range jobEvents {
		fmt.Fprintf(w, "clipforge_transcode_jobs_total{status=%q} %d\n", status, r.jobEvents[status])
	}

	fmt.Fprintln(w, "# HELP clipforge_transcode_active_jobs Current number of in-flight transcode jobs")
	fmt.Fprintln(w, "# TYPE clipforge_transcode_active_jobs gauge")
	fmt.Fprintf(w, "clipforge_transcode_active_jobs %d\n", r.activeJobs.Load())

	fmt.Fprintln(w, "# HELP clipforge_renditions_total Rendition outcomes by quality")
	fmt.Fprintln(w, "# TYPE clipforge_renditions_total counter")
	for _, label := range renditionLabels {
		fmt.Fprintf(w, "clipforge_renditions_total{quality=%q,outcome=%q} %d\n",
			label.quality, label.outcome, r.renditionEvents[label])
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedJobEvents() []string {
	events := make([]string, 0, len(r.jobEvents))
	for event := range r.jobEvents {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}

func (r *Recorder) sortedRenditionLabels() []renditionLabel {
	labels := make([]renditionLabel, 0, len(r.renditionEvents))
	for label := range r.renditionEvents {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].quality != labels[j].quality {
			return labels[i].quality < labels[j].quality
		}
		return labels[i].outcome < labels[j].outcome
	})
	return labels
}

// normalizePath collapses identifier-looking path segments so metric
// cardinality stays bounded.
func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 16 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func (r *Recorder) decrementActiveJobs() {
	for {
		current := r.activeJobs.Load()
		if current <= 0 {
			return
		}
		if r.activeJobs.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// Handler exposes the default recorder for scraping.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
