// Package catalog persists the video catalog records mutated by the
// transcode pipeline. Two implementations are provided: a JSON-file-backed
// store for development and single-node deployments, and a Postgres-backed
// store for production.
package catalog

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"clipforge/internal/models"
)

// ErrVideoNotFound is returned when an operation references a video that does
// not exist in the catalog.
var ErrVideoNotFound = errors.New("video not found")

const (
	// MetadataManifestKey stores the object-storage key of the master
	// manifest so it can be deleted together with the record.
	MetadataManifestKey = "object:manifest:master"
	// MetadataThumbnailKey stores the object-storage key of the cover image.
	MetadataThumbnailKey = "object:thumbnail:cover"
	// MetadataSourceNameKey records the normalized source filename.
	MetadataSourceNameKey = "source:filename"
)

// Store exposes the catalog operations required by the upload intake
// handlers and the transcode orchestrator. Record updates are plain
// last-writer-wins writes; exactly one transcode job owns a given record at
// a time, so no transactional isolation is required.
type Store interface {
	Ping(ctx context.Context) error
	CreateVideo(params CreateVideoParams) (models.Video, error)
	GetVideo(id string) (models.Video, bool)
	ListVideos() []models.Video
	UpdateVideo(id string, update VideoUpdate) (models.Video, error)
	DeleteVideo(id string) error
	Close(ctx context.Context) error
}

// CreateVideoParams captures the fields known at upload time. New records
// always start in PROCESSING state.
type CreateVideoParams struct {
	Title     string
	Filename  string
	SizeBytes int64
	Metadata  map[string]string
}

// VideoUpdate applies a partial update to a video record. Nil pointer fields
// are left untouched; a non-nil AvailableQualities replaces the stored list;
// Metadata entries are merged into the existing map (empty values delete the
// key).
type VideoUpdate struct {
	Title              *string
	ProcessingStatus   *models.ProcessingStatus
	AvailableQualities []string
	ManifestURL        *string
	ThumbnailURL       *string
	DurationSeconds    *int
	Width              *int
	Height             *int
	Metadata           map[string]string
	Error              *string
	CompletedAt        *time.Time
}

func generateID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

func applyUpdate(video *models.Video, update VideoUpdate, now time.Time) {
	if update.Title != nil {
		video.Title = *update.Title
	}
	if update.ProcessingStatus != nil {
		video.ProcessingStatus = *update.ProcessingStatus
	}
	if update.AvailableQualities != nil {
		video.AvailableQualities = append([]string(nil), update.AvailableQualities...)
	}
	if update.ManifestURL != nil {
		video.ManifestURL = *update.ManifestURL
	}
	if update.ThumbnailURL != nil {
		video.ThumbnailURL = *update.ThumbnailURL
	}
	if update.DurationSeconds != nil {
		video.DurationSeconds = *update.DurationSeconds
	}
	if update.Width != nil {
		video.Width = *update.Width
	}
	if update.Height != nil {
		video.Height = *update.Height
	}
	if len(update.Metadata) > 0 {
		if video.Metadata == nil {
			video.Metadata = make(map[string]string, len(update.Metadata))
		}
		for key, value := range update.Metadata {
			if value == "" {
				delete(video.Metadata, key)
				continue
			}
			video.Metadata[key] = value
		}
	}
	if update.Error != nil {
		video.Error = *update.Error
	}
	if update.CompletedAt != nil {
		completed := *update.CompletedAt
		video.CompletedAt = &completed
	}
	video.UpdatedAt = now
}

func cloneVideo(video models.Video) models.Video {
	cloned := video
	if video.AvailableQualities != nil {
		cloned.AvailableQualities = append([]string(nil), video.AvailableQualities...)
	}
	if video.Metadata != nil {
		meta := make(map[string]string, len(video.Metadata))
		for k, v := range video.Metadata {
			meta[k] = v
		}
		cloned.Metadata = meta
	}
	if video.CompletedAt != nil {
		completed := *video.CompletedAt
		cloned.CompletedAt = &completed
	}
	return cloned
}
