package transcode

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Event types appended to the transcode event stream. The stream is a
// monotonic append-only log: rendition availability is only ever added,
// mirroring the no-rollback commit policy of the orchestrator.
const (
	EventJobStarted     = "job.started"
	EventRenditionReady = "rendition.ready"
	EventJobCompleted   = "job.completed"
	EventJobFailed      = "job.failed"
)

// Event is one entry in the transcode event stream.
type Event struct {
	Type        string    `json:"type"`
	VideoID     string    `json:"videoId"`
	Quality     string    `json:"quality,omitempty"`
	ManifestURL string    `json:"manifestUrl,omitempty"`
	Qualities   []string  `json:"qualities,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`
}

// Publisher emits pipeline lifecycle events for downstream consumers (feed
// invalidation, notifications). Publish failures never affect the pipeline.
type Publisher interface {
	JobStarted(ctx context.Context, videoID string) error
	RenditionReady(ctx context.Context, videoID, quality, manifestURL string) error
	JobCompleted(ctx context.Context, videoID string, qualities []string) error
	JobFailed(ctx context.Context, videoID, reason string) error
	Close() error
}

// NoopPublisher discards all events; used when no event stream is configured.
type NoopPublisher struct{}

func (NoopPublisher) JobStarted(ctx context.Context, videoID string) error { return nil }

func (NoopPublisher) RenditionReady(ctx context.Context, videoID, quality, manifestURL string) error {
	return nil
}

func (NoopPublisher) JobCompleted(ctx context.Context, videoID string, qualities []string) error {
	return nil
}

func (NoopPublisher) JobFailed(ctx context.Context, videoID, reason string) error { return nil }

func (NoopPublisher) Close() error { return nil }

// RedisPublisherConfig configures the Redis Streams event publisher.
type RedisPublisherConfig struct {
	Addr         string
	Username     string
	Password     string
	Stream       string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	Logger       *slog.Logger
}

const defaultEventStream = "clipforge:transcode"

type redisPublisher struct {
	client redis.UniversalClient
	stream string
	logger *slog.Logger
	now    func() time.Time
}

// NewRedisPublisher initialises a publisher backed by a Redis stream. The
// caller is responsible for ensuring the Redis instance is reachable.
func NewRedisPublisher(cfg RedisPublisherConfig) (Publisher, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = defaultEventStream
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        []string{addr},
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
	})
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &redisPublisher{
		client: client,
		stream: stream,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (p *redisPublisher) publish(ctx context.Context, event Event) error {
	if event.VideoID == "" {
		return fmt.Errorf("event video id is required")
	}
	event.At = p.now()
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{"payload": string(payload)},
	}).Err()
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (p *redisPublisher) JobStarted(ctx context.Context, videoID string) error {
	return p.publish(ctx, Event{Type: EventJobStarted, VideoID: videoID})
}

func (p *redisPublisher) RenditionReady(ctx context.Context, videoID, quality, manifestURL string) error {
	return p.publish(ctx, Event{
		Type:        EventRenditionReady,
		VideoID:     videoID,
		Quality:     quality,
		ManifestURL: manifestURL,
	})
}

func (p *redisPublisher) JobCompleted(ctx context.Context, videoID string, qualities []string) error {
	return p.publish(ctx, Event{Type: EventJobCompleted, VideoID: videoID, Qualities: qualities})
}

func (p *redisPublisher) JobFailed(ctx context.Context, videoID, reason string) error {
	return p.publish(ctx, Event{Type: EventJobFailed, VideoID: videoID, Reason: reason})
}

func (p *redisPublisher) Close() error {
	return p.client.Close()
}
