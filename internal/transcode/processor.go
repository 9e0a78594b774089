package transcode

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"clipforge/internal/catalog"
	"clipforge/internal/models"
)

// ProcessorConfig configures the background transcode worker pool.
type ProcessorConfig struct {
	Orchestrator *Orchestrator
	Catalog      catalog.Store
	Workers      int
	QueueSize    int
	JobTimeout   time.Duration
	Logger       *slog.Logger
}

const (
	defaultWorkers    = 2
	defaultQueueSize  = 64
	defaultJobTimeout = 30 * time.Minute
)

type transcodeJob struct {
	videoID    string
	sourcePath string
}

// Processor owns the fire-and-forget entry point of the pipeline. Each
// upload becomes one queued job; at most Workers jobs encode concurrently,
// bounding local CPU, memory, and disk use, while jobs for different videos
// otherwise run fully independently.
type Processor struct {
	orchestrator *Orchestrator
	catalog      catalog.Store
	workers      int
	jobTimeout   time.Duration
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	queue chan transcodeJob
	wg    sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
	started  bool
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		orchestrator: cfg.Orchestrator,
		catalog:      cfg.Catalog,
		workers:      workers,
		jobTimeout:   jobTimeout,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		queue:        make(chan transcodeJob, queueSize),
		inFlight:     make(map[string]struct{}),
	}
}

// Start launches the worker pool and sweeps records orphaned by a previous
// process. Calling Start more than once is a no-op.
func (p *Processor) Start() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	go p.sweepInterrupted()
}

// Shutdown stops accepting work and waits for in-flight jobs to finish or
// the context to expire. Queued-but-unstarted jobs are dropped; their
// records are swept to FAILED on the next start.
func (p *Processor) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartTranscode enqueues a job for the given catalog record and source
// file. It is fire-and-forget: there is no return channel, and the caller
// observes all outcomes through the catalog record.
func (p *Processor) StartTranscode(videoID, sourcePath string) {
	if p == nil || strings.TrimSpace(videoID) == "" || strings.TrimSpace(sourcePath) == "" {
		return
	}
	select {
	case <-p.ctx.Done():
		return
	default:
	}
	select {
	case p.queue <- transcodeJob{videoID: videoID, sourcePath: sourcePath}:
	case <-p.ctx.Done():
	}
}

func (p *Processor) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.queue:
			if !p.beginWork(job.videoID) {
				continue
			}
			p.runJob(job)
			p.finishWork(job.videoID)
		}
	}
}

func (p *Processor) runJob(job transcodeJob) {
	ctx, cancel := context.WithTimeout(p.ctx, p.jobTimeout)
	defer cancel()
	p.orchestrator.Process(ctx, job.videoID, job.sourcePath)
}

func (p *Processor) beginWork(videoID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.inFlight[videoID]; exists {
		return false
	}
	p.inFlight[videoID] = struct{}{}
	return true
}

func (p *Processor) finishWork(videoID string) {
	p.mu.Lock()
	delete(p.inFlight, videoID)
	p.mu.Unlock()
}

// sweepInterrupted marks records left in PROCESSING by a previous process as
// FAILED: their source temp files are gone, so the jobs cannot resume.
// Records that already published at least one quality keep their COMPLETED
// status, since incremental commits are final.
func (p *Processor) sweepInterrupted() {
	if p.catalog == nil {
		return
	}
	for _, video := range p.catalog.ListVideos() {
		select {
		case <-p.ctx.Done():
			return
		default:
		}
		if video.ProcessingStatus != models.ProcessingStatusProcessing {
			continue
		}
		if len(video.AvailableQualities) > 0 {
			continue
		}
		status := models.ProcessingStatusFailed
		message := "processing interrupted by restart"
		if _, err := p.catalog.UpdateVideo(video.ID, catalog.VideoUpdate{
			ProcessingStatus: &status,
			Error:            &message,
		}); err != nil {
			p.logger.Error("failed to sweep interrupted video", "video_id", video.ID, "error", err)
			continue
		}
		p.logger.Warn("marked interrupted video failed", "video_id", video.ID)
	}
}
