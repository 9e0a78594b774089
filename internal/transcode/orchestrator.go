package transcode

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"clipforge/internal/catalog"
	"clipforge/internal/media"
	"clipforge/internal/models"
	"clipforge/internal/objectstore"
	"clipforge/internal/observability/metrics"
)

// OrchestratorConfig wires the collaborators of the transcode pipeline.
type OrchestratorConfig struct {
	Catalog           catalog.Store
	Objects           objectstore.Client
	Prober            media.Prober
	Renderer          media.Renderer
	Events            Publisher
	MaxSourceBytes    int64
	UploadConcurrency int
	Logger            *slog.Logger
	Metrics           *metrics.Recorder
}

const (
	defaultMaxSourceBytes    = 500 << 20 // 500 MiB
	defaultUploadConcurrency = 4
)

// Orchestrator runs the incremental transcode pipeline for one upload at a
// time: probe, thumbnail, then the quality ladder in ascending order. Each
// successful rendition is published and committed to the catalog immediately
// so playback can start before the full ladder finishes. Commits are final:
// nothing is rolled back when a later step fails.
type Orchestrator struct {
	catalog           catalog.Store
	objects           objectstore.Client
	prober            media.Prober
	renderer          media.Renderer
	events            Publisher
	maxSourceBytes    int64
	uploadConcurrency int
	logger            *slog.Logger
	metrics           *metrics.Recorder
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	maxBytes := cfg.MaxSourceBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxSourceBytes
	}
	concurrency := cfg.UploadConcurrency
	if concurrency <= 0 {
		concurrency = defaultUploadConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	events := cfg.Events
	if events == nil {
		events = NoopPublisher{}
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Orchestrator{
		catalog:           cfg.Catalog,
		objects:           cfg.Objects,
		prober:            cfg.Prober,
		renderer:          cfg.Renderer,
		events:            events,
		maxSourceBytes:    maxBytes,
		uploadConcurrency: concurrency,
		logger:            logger,
		metrics:           recorder,
	}
}

// Process runs the full pipeline for one uploaded file. It never returns a
// value: all outcomes are observed through the catalog record. The source
// temp file and the scratch directory are released on every exit path.
func (o *Orchestrator) Process(ctx context.Context, videoID, sourcePath string) {
	logger := o.logger.With("video_id", videoID)
	logger.Info("transcode started", "source", sourcePath)
	o.metrics.JobStarted()
	o.publishEvent(ctx, logger, func(ctx context.Context) error {
		return o.events.JobStarted(ctx, videoID)
	})

	defer func() {
		if err := os.Remove(sourcePath); err != nil && !os.IsNotExist(err) {
			logger.Warn("unable to remove source file", "path", sourcePath, "error", err)
		}
	}()

	info, err := os.Stat(sourcePath)
	if err != nil {
		o.failJob(ctx, logger, videoID, fmt.Errorf("source file missing: %w", err))
		return
	}
	if info.Size() > o.maxSourceBytes {
		o.failJob(ctx, logger, videoID, fmt.Errorf("source exceeds maximum size of %dMB", o.maxSourceBytes/1024/1024))
		return
	}

	scratch, err := os.MkdirTemp("", "clipforge-"+videoID+"-")
	if err != nil {
		o.failJob(ctx, logger, videoID, fmt.Errorf("create scratch directory: %w", err))
		return
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logger.Warn("unable to remove scratch directory", "path", scratch, "error", err)
		}
	}()
	hlsDir := filepath.Join(scratch, "hls")
	if err := os.MkdirAll(hlsDir, 0o755); err != nil {
		o.failJob(ctx, logger, videoID, fmt.Errorf("create hls directory: %w", err))
		return
	}

	meta, err := o.prober.Probe(ctx, sourcePath)
	if err != nil {
		o.failJob(ctx, logger, videoID, fmt.Errorf("probe source: %w", err))
		return
	}
	logger.Info("source probed",
		"duration_seconds", meta.DurationSeconds,
		"width", meta.Width,
		"height", meta.Height,
	)

	thumbnail, err := o.publishThumbnail(ctx, sourcePath, scratch)
	if err != nil {
		o.failJob(ctx, logger, videoID, err)
		return
	}

	// First commit: basic metadata is visible before any rendition exists.
	if _, err := o.catalog.UpdateVideo(videoID, catalog.VideoUpdate{
		DurationSeconds: &meta.DurationSeconds,
		Width:           &meta.Width,
		Height:          &meta.Height,
		ThumbnailURL:    &thumbnail.URL,
		Metadata:        map[string]string{catalog.MetadataThumbnailKey: thumbnail.Key},
	}); err != nil {
		o.failJob(ctx, logger, videoID, fmt.Errorf("commit source metadata: %w", err))
		return
	}

	aspect := sourceAspect(meta.Width, meta.Height)
	ladder := media.Ladder(meta.Height)
	labels := make([]string, 0, len(ladder))
	for _, q := range ladder {
		labels = append(labels, q.Label)
	}
	logger.Info("quality ladder selected", "qualities", strings.Join(labels, ","))

	var available []media.Quality
	statusCommitted := false
	for _, quality := range ladder {
		qlog := logger.With("quality", quality.Label)
		if !o.renderRendition(ctx, qlog, videoID, sourcePath, quality, hlsDir) {
			o.metrics.RenditionFailed(quality.Label)
			continue
		}
		o.metrics.RenditionCompleted(quality.Label)
		available = append(available, quality)
		o.commitRendition(ctx, qlog, videoID, available, aspect, hlsDir, &statusCommitted)
		qlog.Info("rendition available", "available", len(available), "ladder", len(ladder))
	}

	if len(available) == 0 {
		// Every label failed individually; the job itself already failed
		// nothing before the ladder, so the record must still flip to FAILED.
		o.failJob(ctx, logger, videoID, fmt.Errorf("no rendition could be generated"))
		return
	}

	o.metrics.JobCompleted()
	finished := make([]string, 0, len(available))
	for _, q := range available {
		finished = append(finished, q.Label)
	}
	o.publishEvent(ctx, logger, func(ctx context.Context) error {
		return o.events.JobCompleted(ctx, videoID, finished)
	})
	logger.Info("transcode finished", "qualities", strings.Join(finished, ","))
}

// renderRendition is the per-label failure isolation boundary: any encoder
// or upload error is logged and reported as a skipped label, never as a job
// failure.
func (o *Orchestrator) renderRendition(ctx context.Context, logger *slog.Logger, videoID, sourcePath string, quality media.Quality, hlsDir string) bool {
	if err := o.renderer.Render(ctx, sourcePath, quality, hlsDir); err != nil {
		logger.Error("rendition encode failed, skipping quality", "error", err)
		return false
	}
	if err := o.uploadRenditionFiles(ctx, videoID, quality, hlsDir); err != nil {
		logger.Error("rendition upload failed, skipping quality", "error", err)
		return false
	}
	return true
}

// uploadRenditionFiles publishes every file belonging to one rendition
// (variant playlist plus segments) under the video's HLS key prefix,
// keeping literal filenames so the playlists resolve.
func (o *Orchestrator) uploadRenditionFiles(ctx context.Context, videoID string, quality media.Quality, hlsDir string) error {
	entries, err := os.ReadDir(hlsDir)
	if err != nil {
		return fmt.Errorf("list rendition files: %w", err)
	}
	stem := media.PlaylistName(quality.Label)
	prefix := hlsKeyPrefix(videoID)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.uploadConcurrency)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), stem) {
			continue
		}
		localPath := filepath.Join(hlsDir, entry.Name())
		contentType := objectstore.ContentTypeForFile(entry.Name())
		group.Go(func() error {
			if _, err := o.objects.UploadFile(groupCtx, localPath, prefix, contentType); err != nil {
				return err
			}
			return nil
		})
	}
	return group.Wait()
}

// commitRendition rebuilds and publishes the master manifest and commits the
// catalog record for the renditions available so far. Errors here are logged
// only: an already-published rendition stays playable and prior commits are
// never reverted.
func (o *Orchestrator) commitRendition(ctx context.Context, logger *slog.Logger, videoID string, available []media.Quality, aspect float64, hlsDir string, statusCommitted *bool) {
	manifest := media.BuildMasterManifest(available, aspect)
	masterPath := filepath.Join(hlsDir, "master.m3u8")
	if err := os.WriteFile(masterPath, manifest, 0o644); err != nil {
		logger.Error("write master manifest failed", "error", err)
		return
	}
	object, err := o.objects.UploadFile(ctx, masterPath, hlsKeyPrefix(videoID), "application/vnd.apple.mpegurl")
	if err != nil {
		logger.Error("publish master manifest failed", "error", err)
		return
	}

	labels := make([]string, 0, len(available))
	for _, q := range available {
		labels = append(labels, q.Label)
	}
	update := catalog.VideoUpdate{
		AvailableQualities: labels,
		ManifestURL:        &object.URL,
		Metadata:           map[string]string{catalog.MetadataManifestKey: object.Key},
	}
	if !*statusCommitted {
		// The record flips to COMPLETED exactly once, on the first
		// successful rendition, and never reverts afterwards.
		status := models.ProcessingStatusCompleted
		completedAt := time.Now().UTC()
		update.ProcessingStatus = &status
		update.CompletedAt = &completedAt
	}
	if _, err := o.catalog.UpdateVideo(videoID, update); err != nil {
		logger.Error("commit rendition failed", "error", err)
		return
	}
	*statusCommitted = true

	quality := available[len(available)-1]
	o.publishEvent(ctx, logger, func(ctx context.Context) error {
		return o.events.RenditionReady(ctx, videoID, quality.Label, object.URL)
	})
}

func (o *Orchestrator) publishThumbnail(ctx context.Context, sourcePath, scratch string) (objectstore.Object, error) {
	thumbPath := filepath.Join(scratch, "thumbnail.jpg")
	if err := o.renderer.ExtractThumbnail(ctx, sourcePath, thumbPath); err != nil {
		return objectstore.Object{}, fmt.Errorf("extract thumbnail: %w", err)
	}
	object, err := o.objects.UploadGenerated(ctx, thumbPath, "thumbnails", "image/jpeg")
	if err != nil {
		return objectstore.Object{}, fmt.Errorf("publish thumbnail: %w", err)
	}
	return object, nil
}

// failJob marks the record FAILED. It is only reachable before the first
// rendition has been committed, so it can never demote a COMPLETED record.
func (o *Orchestrator) failJob(ctx context.Context, logger *slog.Logger, videoID string, cause error) {
	logger.Error("transcode failed", "error", cause)
	o.metrics.JobFailed()
	status := models.ProcessingStatusFailed
	message := cause.Error()
	if _, err := o.catalog.UpdateVideo(videoID, catalog.VideoUpdate{
		ProcessingStatus: &status,
		Error:            &message,
	}); err != nil {
		logger.Error("unable to mark video failed", "error", err)
	}
	o.publishEvent(ctx, logger, func(ctx context.Context) error {
		return o.events.JobFailed(ctx, videoID, message)
	})
}

func (o *Orchestrator) publishEvent(ctx context.Context, logger *slog.Logger, publish func(context.Context) error) {
	if err := publish(ctx); err != nil {
		logger.Warn("event publish failed", "error", err)
	}
}

func hlsKeyPrefix(videoID string) string {
	return "videos/" + videoID + "/hls"
}

func sourceAspect(width, height int) float64 {
	if width <= 0 || height <= 0 {
		return 16.0 / 9.0
	}
	return float64(width) / float64(height)
}
