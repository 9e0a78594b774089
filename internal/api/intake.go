package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"clipforge/internal/catalog"
)

const defaultMaxUploadBytes = 500 << 20 // 500 MiB

// allowedUploadTypes is the intake content-type allowlist. Octet-stream is
// accepted because browsers fall back to it for unrecognized containers; the
// probe step rejects anything ffmpeg cannot read.
var allowedUploadTypes = map[string]struct{}{
	"video/mp4":                {},
	"video/x-msvideo":          {},
	"video/quicktime":          {},
	"video/webm":               {},
	"application/octet-stream": {},
}

type spooledUpload struct {
	tempPath     string
	size         int64
	originalName string
	contentType  string
}

func (h *Handler) createVideo(w http.ResponseWriter, r *http.Request) {
	contentType := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Type")))
	if !strings.HasPrefix(contentType, "multipart/form-data") {
		writeError(w, http.StatusUnsupportedMediaType, fmt.Errorf("multipart/form-data payload required"))
		return
	}
	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart payload"))
		return
	}

	title := ""
	metadata := make(map[string]string)
	var spooled *spooledUpload
	defer func() {
		if spooled != nil && spooled.tempPath != "" {
			_ = os.Remove(spooled.tempPath)
		}
	}()

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("read multipart data: %w", err))
			return
		}
		name := part.FormName()
		if name == "" {
			_ = part.Close()
			continue
		}
		if name == "file" {
			if spooled != nil {
				_ = part.Close()
				continue
			}
			saved, status, saveErr := h.spoolUpload(part)
			if saveErr != nil {
				writeError(w, status, saveErr)
				return
			}
			spooled = saved
			continue
		}
		payload, readErr := io.ReadAll(part)
		_ = part.Close()
		if readErr != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("read form field: %w", readErr))
			return
		}
		value := strings.TrimSpace(string(payload))
		switch name {
		case "title":
			title = value
		default:
			if strings.HasPrefix(name, "metadata[") && strings.HasSuffix(name, "]") {
				key := strings.TrimSpace(name[len("metadata[") : len(name)-1])
				if key != "" && value != "" {
					metadata[key] = value
				}
			}
		}
	}

	if spooled == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("file part is required"))
		return
	}
	if title == "" {
		title = strings.TrimSuffix(spooled.originalName, filepath.Ext(spooled.originalName))
		if title == "" {
			title = "Untitled"
		}
	}
	if spooled.originalName != "" {
		metadata[catalog.MetadataSourceNameKey] = spooled.originalName
	}

	video, err := h.Store.CreateVideo(catalog.CreateVideoParams{
		Title:     title,
		Filename:  sanitizeFilename(spooled.originalName),
		SizeBytes: spooled.size,
		Metadata:  metadata,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	h.Transcoder.StartTranscode(video.ID, spooled.tempPath)
	spooled.tempPath = ""

	h.logger().Info("upload accepted",
		"video_id", video.ID,
		"filename", video.Filename,
		"size_bytes", video.SizeBytes,
	)
	writeJSON(w, http.StatusAccepted, newVideoResponse(video))
}

// spoolUpload streams the file part to a temp file, enforcing the content
// type allowlist and size limit before anything touches the pipeline.
func (h *Handler) spoolUpload(part *multipart.Part) (*spooledUpload, int, error) {
	defer part.Close()

	contentType := strings.ToLower(strings.TrimSpace(part.Header.Get("Content-Type")))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = parsed
	}
	if _, ok := allowedUploadTypes[contentType]; !ok {
		return nil, http.StatusUnsupportedMediaType, fmt.Errorf("content type %s is not allowed", contentType)
	}

	maxBytes := h.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}

	dir := strings.TrimSpace(h.SpoolDir)
	tmp, err := os.CreateTemp(dir, "intake-*")
	if err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("create spool file: %w", err)
	}
	defer tmp.Close()

	written, err := io.Copy(tmp, io.LimitReader(part, maxBytes+1))
	if err != nil {
		_ = os.Remove(tmp.Name())
		return nil, http.StatusBadRequest, fmt.Errorf("save upload: %w", err)
	}
	if written > maxBytes {
		_ = os.Remove(tmp.Name())
		return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds maximum size of %dMB", maxBytes/1024/1024)
	}
	if written == 0 {
		_ = os.Remove(tmp.Name())
		return nil, http.StatusBadRequest, fmt.Errorf("uploaded file is empty")
	}

	return &spooledUpload{
		tempPath:     tmp.Name(),
		size:         written,
		originalName: filepath.Base(part.FileName()),
		contentType:  contentType,
	}, 0, nil
}

var filenameStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// sanitizeFilename folds accented characters to their base form and replaces
// anything outside a conservative character set, so the stored name is safe
// to embed in object keys and headers.
func sanitizeFilename(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "upload.bin"
	}
	if folded, _, err := transform.String(filenameStripper, base); err == nil {
		base = folded
	}
	var sb strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	cleaned := strings.Trim(sb.String(), "._")
	if cleaned == "" {
		return "upload.bin"
	}
	return cleaned
}
