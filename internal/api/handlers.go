// Package api exposes the HTTP surface of the video catalog: upload intake,
// processing status, listing, and deletion.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"clipforge/internal/catalog"
	"clipforge/internal/models"
	"clipforge/internal/objectstore"
)

// TranscodeStarter is the fire-and-forget entry point of the pipeline. The
// call returns immediately; the caller observes progress through the catalog.
type TranscodeStarter interface {
	StartTranscode(videoID, sourcePath string)
}

type Handler struct {
	Store          catalog.Store
	Transcoder     TranscodeStarter
	Objects        objectstore.Client
	MaxUploadBytes int64
	SpoolDir       string
	Logger         *slog.Logger
}

func NewHandler(store catalog.Store, transcoder TranscodeStarter, objects objectstore.Client) *Handler {
	return &Handler{Store: store, Transcoder: transcoder, Objects: objects}
}

// Routes wires the handler onto a fresh mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.Healthz)
	mux.HandleFunc("/api/videos", h.Videos)
	mux.HandleFunc("/api/videos/", h.VideoByID)
	return mux
}

type videoResponse struct {
	ID                 string            `json:"id"`
	Title              string            `json:"title"`
	Filename           string            `json:"filename"`
	SizeBytes          int64             `json:"sizeBytes"`
	Status             string            `json:"status"`
	AvailableQualities []string          `json:"availableQualities"`
	ManifestURL        string            `json:"manifestUrl,omitempty"`
	ThumbnailURL       string            `json:"thumbnailUrl,omitempty"`
	DurationSeconds    int               `json:"durationSeconds,omitempty"`
	Width              int               `json:"width,omitempty"`
	Height             int               `json:"height,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	Error              string            `json:"error,omitempty"`
	CreatedAt          string            `json:"createdAt"`
	UpdatedAt          string            `json:"updatedAt"`
	CompletedAt        *string           `json:"completedAt,omitempty"`
}

func newVideoResponse(video models.Video) videoResponse {
	resp := videoResponse{
		ID:                 video.ID,
		Title:              video.Title,
		Filename:           video.Filename,
		SizeBytes:          video.SizeBytes,
		Status:             string(video.ProcessingStatus),
		AvailableQualities: make([]string, 0, len(video.AvailableQualities)),
		ManifestURL:        video.ManifestURL,
		ThumbnailURL:       video.ThumbnailURL,
		DurationSeconds:    video.DurationSeconds,
		Width:              video.Width,
		Height:             video.Height,
		Error:              video.Error,
		CreatedAt:          video.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:          video.UpdatedAt.Format(time.RFC3339Nano),
	}
	resp.AvailableQualities = append(resp.AvailableQualities, video.AvailableQualities...)
	if len(video.Metadata) > 0 {
		meta := make(map[string]string, len(video.Metadata))
		for k, v := range video.Metadata {
			if strings.HasPrefix(k, "object:") {
				continue
			}
			meta[k] = v
		}
		if len(meta) > 0 {
			resp.Metadata = meta
		}
	}
	if video.CompletedAt != nil {
		completed := video.CompletedAt.Format(time.RFC3339Nano)
		resp.CompletedAt = &completed
	}
	return resp
}

func (h *Handler) Videos(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		videos := h.Store.ListVideos()
		response := make([]videoResponse, 0, len(videos))
		for _, video := range videos {
			response = append(response, newVideoResponse(video))
		}
		writeJSON(w, http.StatusOK, response)
	case http.MethodPost:
		h.createVideo(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) VideoByID(w http.ResponseWriter, r *http.Request) {
	videoID := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/api/videos/"))
	if videoID == "" || strings.Contains(videoID, "/") {
		writeError(w, http.StatusNotFound, fmt.Errorf("video id missing"))
		return
	}
	video, ok := h.Store.GetVideo(videoID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("video %s not found", videoID))
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, newVideoResponse(video))
	case http.MethodDelete:
		h.deleteVideo(w, r, video)
	default:
		w.Header().Set("Allow", "GET, DELETE")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

// deleteVideo removes the catalog record and the published manifest and
// thumbnail objects. Segment objects are left to bucket lifecycle expiry.
func (h *Handler) deleteVideo(w http.ResponseWriter, r *http.Request, video models.Video) {
	if err := h.Store.DeleteVideo(video.ID); err != nil {
		if errors.Is(err, catalog.ErrVideoNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.removeObject(r.Context(), video, catalog.MetadataManifestKey)
	h.removeObject(r.Context(), video, catalog.MetadataThumbnailKey)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeObject(ctx context.Context, video models.Video, metadataKey string) {
	if h.Objects == nil || !h.Objects.Enabled() {
		return
	}
	key := strings.TrimSpace(video.Metadata[metadataKey])
	if key == "" {
		return
	}
	if err := h.Objects.Delete(ctx, key); err != nil {
		h.logger().Warn("unable to delete object", "video_id", video.ID, "key", key, "error", err)
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
