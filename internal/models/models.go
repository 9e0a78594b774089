package models

import "time"

// ProcessingStatus describes where a video sits in the transcode lifecycle.
type ProcessingStatus string

const (
	ProcessingStatusProcessing ProcessingStatus = "PROCESSING"
	ProcessingStatusCompleted  ProcessingStatus = "COMPLETED"
	ProcessingStatusFailed     ProcessingStatus = "FAILED"
)

// Video is the catalog record for a single uploaded video. The record is
// created by the upload intake path in PROCESSING state and mutated by the
// transcode orchestrator as renditions become available. It is safe to read
// concurrently while processing is under way: readers may observe any subset
// of the already-committed qualities.
//
// Invariant: ManifestURL is non-empty exactly when AvailableQualities is
// non-empty, which in turn holds exactly when ProcessingStatus is COMPLETED.
type Video struct {
	ID                 string            `json:"id"`
	Title              string            `json:"title"`
	Filename           string            `json:"filename"`
	SizeBytes          int64             `json:"sizeBytes"`
	ProcessingStatus   ProcessingStatus  `json:"processingStatus"`
	AvailableQualities []string          `json:"availableQualities,omitempty"`
	ManifestURL        string            `json:"manifestUrl,omitempty"`
	ThumbnailURL       string            `json:"thumbnailUrl,omitempty"`
	DurationSeconds    int               `json:"durationSeconds,omitempty"`
	Width              int               `json:"width,omitempty"`
	Height             int               `json:"height,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	Error              string            `json:"error,omitempty"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
	CompletedAt        *time.Time        `json:"completedAt,omitempty"`
}
