package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"clipforge/internal/models"
)

// PostgresConfig describes how the Postgres-backed catalog initialises its
// connection pool.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	ConnectTimeout      time.Duration
	ApplicationName     string
	OperationTimeout    time.Duration
}

const defaultPostgresOperationTimeout = 10 * time.Second

// PostgresStore persists catalog records in a single `videos` table:
//
//	CREATE TABLE IF NOT EXISTS videos (
//	    id                  TEXT PRIMARY KEY,
//	    title               TEXT NOT NULL,
//	    filename            TEXT NOT NULL DEFAULT '',
//	    size_bytes          BIGINT NOT NULL DEFAULT 0,
//	    processing_status   TEXT NOT NULL,
//	    available_qualities TEXT[] NOT NULL DEFAULT '{}',
//	    manifest_url        TEXT NOT NULL DEFAULT '',
//	    thumbnail_url       TEXT NOT NULL DEFAULT '',
//	    duration_seconds    INTEGER NOT NULL DEFAULT 0,
//	    width               INTEGER NOT NULL DEFAULT 0,
//	    height              INTEGER NOT NULL DEFAULT 0,
//	    metadata            JSONB NOT NULL DEFAULT '{}',
//	    error               TEXT NOT NULL DEFAULT '',
//	    created_at          TIMESTAMPTZ NOT NULL,
//	    updated_at          TIMESTAMPTZ NOT NULL,
//	    completed_at        TIMESTAMPTZ
//	);
type PostgresStore struct {
	pool      *pgxpool.Pool
	opTimeout time.Duration
	now       func() time.Time
}

// NewPostgresStore opens a Postgres-backed catalog. The caller must ensure
// the schema has been applied before invoking this constructor.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	opTimeout := cfg.OperationTimeout
	if opTimeout <= 0 {
		opTimeout = defaultPostgresOperationTimeout
	}
	return &PostgresStore{
		pool:      pool,
		opTimeout: opTimeout,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *PostgresStore) operationContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opTimeout)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const videoColumns = `id, title, filename, size_bytes, processing_status, available_qualities,
manifest_url, thumbnail_url, duration_seconds, width, height, metadata, error,
created_at, updated_at, completed_at`

func scanVideo(row pgx.Row) (models.Video, error) {
	var video models.Video
	var qualities []string
	var metadata map[string]string
	err := row.Scan(
		&video.ID,
		&video.Title,
		&video.Filename,
		&video.SizeBytes,
		&video.ProcessingStatus,
		&qualities,
		&video.ManifestURL,
		&video.ThumbnailURL,
		&video.DurationSeconds,
		&video.Width,
		&video.Height,
		&metadata,
		&video.Error,
		&video.CreatedAt,
		&video.UpdatedAt,
		&video.CompletedAt,
	)
	if err != nil {
		return models.Video{}, err
	}
	if len(qualities) > 0 {
		video.AvailableQualities = qualities
	}
	if len(metadata) > 0 {
		video.Metadata = metadata
	}
	return video, nil
}

func (s *PostgresStore) CreateVideo(params CreateVideoParams) (models.Video, error) {
	id, err := generateID()
	if err != nil {
		return models.Video{}, err
	}
	now := s.now()
	video := models.Video{
		ID:               id,
		Title:            params.Title,
		Filename:         params.Filename,
		SizeBytes:        params.SizeBytes,
		ProcessingStatus: models.ProcessingStatusProcessing,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if len(params.Metadata) > 0 {
		video.Metadata = params.Metadata
	}

	ctx, cancel := s.operationContext()
	defer cancel()
	_, err = s.pool.Exec(ctx, `INSERT INTO videos (`+videoColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		video.ID,
		video.Title,
		video.Filename,
		video.SizeBytes,
		video.ProcessingStatus,
		qualitiesParam(video.AvailableQualities),
		video.ManifestURL,
		video.ThumbnailURL,
		video.DurationSeconds,
		video.Width,
		video.Height,
		metadataParam(video.Metadata),
		video.Error,
		video.CreatedAt,
		video.UpdatedAt,
		video.CompletedAt,
	)
	if err != nil {
		return models.Video{}, fmt.Errorf("insert video: %w", err)
	}
	return video, nil
}

func (s *PostgresStore) GetVideo(id string) (models.Video, bool) {
	ctx, cancel := s.operationContext()
	defer cancel()
	row := s.pool.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1`, id)
	video, err := scanVideo(row)
	if err != nil {
		return models.Video{}, false
	}
	return video, true
}

func (s *PostgresStore) ListVideos() []models.Video {
	ctx, cancel := s.operationContext()
	defer cancel()
	rows, err := s.pool.Query(ctx, `SELECT `+videoColumns+` FROM videos ORDER BY created_at DESC, id`)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var videos []models.Video
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil
		}
		videos = append(videos, video)
	}
	if rows.Err() != nil {
		return nil
	}
	return videos
}

func (s *PostgresStore) UpdateVideo(id string, update VideoUpdate) (models.Video, error) {
	ctx, cancel := s.operationContext()
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Video{}, fmt.Errorf("begin update: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	row := tx.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1 FOR UPDATE`, id)
	video, err := scanVideo(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Video{}, ErrVideoNotFound
	} else if err != nil {
		return models.Video{}, fmt.Errorf("load video: %w", err)
	}

	applyUpdate(&video, update, s.now())

	_, err = tx.Exec(ctx, `UPDATE videos SET
	title = $2,
	processing_status = $3,
	available_qualities = $4,
	manifest_url = $5,
	thumbnail_url = $6,
	duration_seconds = $7,
	width = $8,
	height = $9,
	metadata = $10,
	error = $11,
	updated_at = $12,
	completed_at = $13
WHERE id = $1`,
		video.ID,
		video.Title,
		video.ProcessingStatus,
		qualitiesParam(video.AvailableQualities),
		video.ManifestURL,
		video.ThumbnailURL,
		video.DurationSeconds,
		video.Width,
		video.Height,
		metadataParam(video.Metadata),
		video.Error,
		video.UpdatedAt,
		video.CompletedAt,
	)
	if err != nil {
		return models.Video{}, fmt.Errorf("update video: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Video{}, fmt.Errorf("commit update: %w", err)
	}
	return video, nil
}

func (s *PostgresStore) DeleteVideo(id string) error {
	ctx, cancel := s.operationContext()
	defer cancel()
	tag, err := s.pool.Exec(ctx, `DELETE FROM videos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete video: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVideoNotFound
	}
	return nil
}

func (s *PostgresStore) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func qualitiesParam(qualities []string) []string {
	if qualities == nil {
		return []string{}
	}
	return qualities
}

func metadataParam(metadata map[string]string) map[string]string {
	if metadata == nil {
		return map[string]string{}
	}
	return metadata
}

var _ Store = (*PostgresStore)(nil)
