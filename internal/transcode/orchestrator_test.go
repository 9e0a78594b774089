package transcode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"clipforge/internal/catalog"
	"clipforge/internal/media"
	"clipforge/internal/models"
	"clipforge/internal/objectstore"
	"clipforge/internal/observability/metrics"
)

type fakeProber struct {
	meta media.Metadata
	err  error
}

func (f *fakeProber) Probe(ctx context.Context, path string) (media.Metadata, error) {
	if f.err != nil {
		return media.Metadata{}, f.err
	}
	return f.meta, nil
}

// fakeRenderer writes playlist and segment files the way the encoder would,
// so the upload scan sees realistic rendition output.
type fakeRenderer struct {
	failLabels   map[string]bool
	failThumb    bool
	renderCalls  []string
	segmentCount int
}

func (f *fakeRenderer) Render(ctx context.Context, sourcePath string, quality media.Quality, outputDir string) error {
	f.renderCalls = append(f.renderCalls, quality.Label)
	if f.failLabels[quality.Label] {
		return fmt.Errorf("encoder exited with status 1")
	}
	stem := media.PlaylistName(quality.Label)
	if err := os.WriteFile(filepath.Join(outputDir, stem+".m3u8"), []byte("#EXTM3U\n"), 0o644); err != nil {
		return err
	}
	segments := f.segmentCount
	if segments <= 0 {
		segments = 2
	}
	for i := 0; i < segments; i++ {
		name := fmt.Sprintf("%s_%03d.ts", stem, i)
		if err := os.WriteFile(filepath.Join(outputDir, name), []byte("segment"), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeRenderer) ExtractThumbnail(ctx context.Context, sourcePath, outputPath string) error {
	if f.failThumb {
		return fmt.Errorf("no frame could be decoded")
	}
	return os.WriteFile(outputPath, []byte("jpeg"), 0o644)
}

type fakeObjects struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeObjects) Enabled() bool { return true }

func (f *fakeObjects) UploadFile(ctx context.Context, localPath, keyPrefix, contentType string) (objectstore.Object, error) {
	key := keyPrefix + "/" + filepath.Base(localPath)
	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.mu.Unlock()
	return objectstore.Object{Key: key, URL: "https://cdn.example/" + key}, nil
}

func (f *fakeObjects) UploadGenerated(ctx context.Context, localPath, keyPrefix, contentType string) (objectstore.Object, error) {
	key := keyPrefix + "/generated" + filepath.Ext(localPath)
	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.mu.Unlock()
	return objectstore.Object{Key: key, URL: "https://cdn.example/" + key}, nil
}

func (f *fakeObjects) Delete(ctx context.Context, key string) error { return nil }

func (f *fakeObjects) uploaded(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, k := range f.keys {
		if k == key {
			count++
		}
	}
	return count
}

type recordingPublisher struct {
	mu        sync.Mutex
	started   []string
	ready     []string
	completed [][]string
	failed    []string
}

func (r *recordingPublisher) JobStarted(ctx context.Context, videoID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, videoID)
	return nil
}

func (r *recordingPublisher) RenditionReady(ctx context.Context, videoID, quality, manifestURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = append(r.ready, quality)
	return nil
}

func (r *recordingPublisher) JobCompleted(ctx context.Context, videoID string, qualities []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, qualities)
	return nil
}

func (r *recordingPublisher) JobFailed(ctx context.Context, videoID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, reason)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

type pipelineFixture struct {
	store    catalog.Store
	objects  *fakeObjects
	renderer *fakeRenderer
	prober   *fakeProber
	events   *recordingPublisher
	orch     *Orchestrator
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	store, err := catalog.NewJSONStore("")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	fx := &pipelineFixture{
		store:    store,
		objects:  &fakeObjects{},
		renderer: &fakeRenderer{failLabels: map[string]bool{}},
		prober:   &fakeProber{meta: media.Metadata{DurationSeconds: 120, Width: 1920, Height: 1080}},
		events:   &recordingPublisher{},
	}
	fx.orch = NewOrchestrator(OrchestratorConfig{
		Catalog:  store,
		Objects:  fx.objects,
		Prober:   fx.prober,
		Renderer: fx.renderer,
		Events:   fx.events,
		Metrics:  metrics.New(),
	})
	return fx
}

func (fx *pipelineFixture) newJob(t *testing.T) (string, string) {
	t.Helper()
	video, err := fx.store.CreateVideo(catalog.CreateVideoParams{Title: "Clip", Filename: "clip.mp4", SizeBytes: 16})
	if err != nil {
		t.Fatalf("create video: %v", err)
	}
	source := filepath.Join(t.TempDir(), "source.mp4")
	if err := os.WriteFile(source, []byte("fake-source-data"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return video.ID, source
}

func TestProcessFullLadder(t *testing.T) {
	fx := newPipelineFixture(t)
	videoID, source := fx.newJob(t)

	fx.orch.Process(context.Background(), videoID, source)

	video, ok := fx.store.GetVideo(videoID)
	if !ok {
		t.Fatal("video record missing")
	}
	if video.ProcessingStatus != models.ProcessingStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (error %q)", video.ProcessingStatus, video.Error)
	}
	wantQualities := []string{"360p", "480p", "720p", "1080p"}
	if strings.Join(video.AvailableQualities, ",") != strings.Join(wantQualities, ",") {
		t.Fatalf("unexpected qualities %v", video.AvailableQualities)
	}
	if video.CompletedAt == nil {
		t.Fatal("expected CompletedAt to be set")
	}
	if video.DurationSeconds != 120 || video.Width != 1920 || video.Height != 1080 {
		t.Fatalf("probe metadata not committed: %+v", video)
	}
	if video.ManifestURL == "" || !strings.HasSuffix(video.ManifestURL, "/master.m3u8") {
		t.Fatalf("unexpected manifest URL %q", video.ManifestURL)
	}
	if video.ThumbnailURL == "" {
		t.Fatal("expected thumbnail URL")
	}

	// Master manifest is republished after every rendition.
	masterKey := "videos/" + videoID + "/hls/master.m3u8"
	if got := fx.objects.uploaded(masterKey); got != 4 {
		t.Fatalf("expected 4 master manifest uploads, got %d", got)
	}
	// Playlist and two segments per rendition keep their literal names.
	if got := fx.objects.uploaded("videos/" + videoID + "/hls/playlist_720p.m3u8"); got != 1 {
		t.Fatalf("expected 720p playlist upload, got %d", got)
	}
	if got := fx.objects.uploaded("videos/" + videoID + "/hls/playlist_720p_001.ts"); got != 1 {
		t.Fatalf("expected 720p segment upload, got %d", got)
	}

	if _, err := os.Stat(source); !os.IsNotExist(err) {
		t.Fatal("source file should be removed after processing")
	}

	if len(fx.events.started) != 1 || len(fx.events.completed) != 1 {
		t.Fatalf("unexpected lifecycle events: started=%v completed=%v", fx.events.started, fx.events.completed)
	}
	if strings.Join(fx.events.ready, ",") != "360p,480p,720p,1080p" {
		t.Fatalf("unexpected rendition events %v", fx.events.ready)
	}
}

func TestProcessSkipsFailedLabel(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.renderer.failLabels["720p"] = true
	videoID, source := fx.newJob(t)

	fx.orch.Process(context.Background(), videoID, source)

	video, _ := fx.store.GetVideo(videoID)
	if video.ProcessingStatus != models.ProcessingStatusCompleted {
		t.Fatalf("expected COMPLETED despite failed label, got %s", video.ProcessingStatus)
	}
	if strings.Join(video.AvailableQualities, ",") != "360p,480p,1080p" {
		t.Fatalf("unexpected qualities %v", video.AvailableQualities)
	}
	if video.Error != "" {
		t.Fatalf("skipped label must not mark the record failed: %q", video.Error)
	}
	// The full ladder is still attempted; the failed label is never retried.
	if strings.Join(fx.renderer.renderCalls, ",") != "360p,480p,720p,1080p" {
		t.Fatalf("unexpected render calls %v", fx.renderer.renderCalls)
	}
}

func TestProcessCompletesOnFirstRendition(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.renderer.failLabels["480p"] = true
	fx.renderer.failLabels["720p"] = true
	fx.renderer.failLabels["1080p"] = true
	videoID, source := fx.newJob(t)

	fx.orch.Process(context.Background(), videoID, source)

	video, _ := fx.store.GetVideo(videoID)
	if video.ProcessingStatus != models.ProcessingStatusCompleted {
		t.Fatalf("one successful rendition must complete the job, got %s", video.ProcessingStatus)
	}
	if strings.Join(video.AvailableQualities, ",") != "360p" {
		t.Fatalf("unexpected qualities %v", video.AvailableQualities)
	}
}

func TestProcessFailsWhenEveryLabelFails(t *testing.T) {
	fx := newPipelineFixture(t)
	for _, q := range media.Qualities() {
		fx.renderer.failLabels[q.Label] = true
	}
	videoID, source := fx.newJob(t)

	fx.orch.Process(context.Background(), videoID, source)

	video, _ := fx.store.GetVideo(videoID)
	if video.ProcessingStatus != models.ProcessingStatusFailed {
		t.Fatalf("expected FAILED, got %s", video.ProcessingStatus)
	}
	if !strings.Contains(video.Error, "no rendition") {
		t.Fatalf("unexpected error %q", video.Error)
	}
	if len(fx.events.failed) != 1 {
		t.Fatalf("expected one failure event, got %v", fx.events.failed)
	}
	// Thumbnail and metadata were still committed before the ladder ran.
	if video.ThumbnailURL == "" || video.DurationSeconds != 120 {
		t.Fatalf("pre-ladder commits should survive: %+v", video)
	}
}

func TestProcessFailsOnProbeError(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.prober.err = fmt.Errorf("ffprobe exited with status 1")
	videoID, source := fx.newJob(t)

	fx.orch.Process(context.Background(), videoID, source)

	video, _ := fx.store.GetVideo(videoID)
	if video.ProcessingStatus != models.ProcessingStatusFailed {
		t.Fatalf("expected FAILED, got %s", video.ProcessingStatus)
	}
	if !strings.Contains(video.Error, "probe source") {
		t.Fatalf("unexpected error %q", video.Error)
	}
	if _, err := os.Stat(source); !os.IsNotExist(err) {
		t.Fatal("source should be removed on failure too")
	}
}

func TestProcessFailsOnThumbnailError(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.renderer.failThumb = true
	videoID, source := fx.newJob(t)

	fx.orch.Process(context.Background(), videoID, source)

	video, _ := fx.store.GetVideo(videoID)
	if video.ProcessingStatus != models.ProcessingStatusFailed {
		t.Fatalf("expected FAILED, got %s", video.ProcessingStatus)
	}
	if !strings.Contains(video.Error, "thumbnail") {
		t.Fatalf("unexpected error %q", video.Error)
	}
}

func TestProcessEnforcesSourceSizeLimit(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.orch.maxSourceBytes = 4
	videoID, source := fx.newJob(t)

	fx.orch.Process(context.Background(), videoID, source)

	video, _ := fx.store.GetVideo(videoID)
	if video.ProcessingStatus != models.ProcessingStatusFailed {
		t.Fatalf("expected FAILED, got %s", video.ProcessingStatus)
	}
	if !strings.Contains(video.Error, "maximum size") {
		t.Fatalf("unexpected error %q", video.Error)
	}
}

func TestProcessLowResolutionSourceGetsBaseRendition(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.prober.meta = media.Metadata{DurationSeconds: 10, Width: 480, Height: 270}
	videoID, source := fx.newJob(t)

	fx.orch.Process(context.Background(), videoID, source)

	video, _ := fx.store.GetVideo(videoID)
	if video.ProcessingStatus != models.ProcessingStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", video.ProcessingStatus)
	}
	if strings.Join(video.AvailableQualities, ",") != "360p" {
		t.Fatalf("a sub-360p source still gets the base rendition, got %v", video.AvailableQualities)
	}
}
