package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"clipforge/internal/models"
)

type dataset struct {
	Videos map[string]models.Video `json:"videos"`
}

// JSONStore keeps the catalog in memory and mirrors every mutation to a JSON
// file replaced atomically via rename. An empty path keeps the store purely
// in memory, which the tests rely on.
type JSONStore struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	now      func() time.Time
}

// NewJSONStore opens (or creates) the JSON-backed catalog at path.
func NewJSONStore(path string) (*JSONStore, error) {
	store := &JSONStore{
		filePath: path,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *JSONStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = dataset{Videos: make(map[string]models.Video)}
	if s.filePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("open catalog file: %w", err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = dataset{Videos: make(map[string]models.Video)}
			return nil
		}
		return fmt.Errorf("decode catalog file: %w", err)
	}
	if s.data.Videos == nil {
		s.data.Videos = make(map[string]models.Video)
	}
	return nil
}

func (s *JSONStore) persistLocked() error {
	if s.filePath == "" {
		return nil
	}
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "catalog-*.json")
	if err != nil {
		return fmt.Errorf("create temp catalog file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s.data); err != nil {
		return fmt.Errorf("encode catalog file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush catalog file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp catalog file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace catalog file: %w", err)
	}
	success = true
	return nil
}

func (s *JSONStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *JSONStore) CreateVideo(params CreateVideoParams) (models.Video, error) {
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
		video.Metadata = make(map[string]string, len(params.Metadata))
		for k, v := range params.Metadata {
			video.Metadata[k] = v
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Videos[id] = video
	if err := s.persistLocked(); err != nil {
		delete(s.data.Videos, id)
		return models.Video{}, err
	}
	return cloneVideo(video), nil
}

func (s *JSONStore) GetVideo(id string) (models.Video, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	video, ok := s.data.Videos[id]
	if !ok {
		return models.Video{}, false
	}
	return cloneVideo(video), true
}

func (s *JSONStore) ListVideos() []models.Video {
	s.mu.RLock()
	defer s.mu.RUnlock()
	videos := make([]models.Video, 0, len(s.data.Videos))
	for _, video := range s.data.Videos {
		videos = append(videos, cloneVideo(video))
	}
	sort.Slice(videos, func(i, j int) bool {
		if videos[i].CreatedAt.Equal(videos[j].CreatedAt) {
			return videos[i].ID < videos[j].ID
		}
		return videos[i].CreatedAt.After(videos[j].CreatedAt)
	})
	return videos
}

func (s *JSONStore) UpdateVideo(id string, update VideoUpdate) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	video, ok := s.data.Videos[id]
	if !ok {
		return models.Video{}, ErrVideoNotFound
	}
	previous := video
	applyUpdate(&video, update, s.now())
	s.data.Videos[id] = video
	if err := s.persistLocked(); err != nil {
		s.data.Videos[id] = previous
		return models.Video{}, err
	}
	return cloneVideo(video), nil
}

func (s *JSONStore) DeleteVideo(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	video, ok := s.data.Videos[id]
	if !ok {
		return ErrVideoNotFound
	}
	delete(s.data.Videos, id)
	if err := s.persistLocked(); err != nil {
		s.data.Videos[id] = video
		return err
	}
	return nil
}

func (s *JSONStore) Close(ctx context.Context) error {
	return nil
}

var _ Store = (*JSONStore)(nil)
