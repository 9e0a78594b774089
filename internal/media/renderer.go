package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
)

// Renderer produces encoded artifacts from a source file. Implementations
// are invoked strictly sequentially within one transcode job.
type Renderer interface {
	// Render encodes one segmented rendition into outputDir, producing
	// playlist_<label>.m3u8 plus numbered playlist_<label>_NNN.ts segments.
	Render(ctx context.Context, sourcePath string, quality Quality, outputDir string) error
	// ExtractThumbnail writes a single JPEG still frame to outputPath.
	ExtractThumbnail(ctx context.Context, sourcePath, outputPath string) error
}

// FFmpeg drives the ffmpeg binary. The encoder is treated as a black box:
// a zero exit status means the rendition is complete on disk.
type FFmpeg struct {
	Binary         string
	SegmentSeconds int
	Logger         *slog.Logger
}

const defaultSegmentSeconds = 10

func (f *FFmpeg) binary() string {
	if f != nil && strings.TrimSpace(f.Binary) != "" {
		return f.Binary
	}
	return "ffmpeg"
}

func (f *FFmpeg) segmentSeconds() int {
	if f != nil && f.SegmentSeconds > 0 {
		return f.SegmentSeconds
	}
	return defaultSegmentSeconds
}

func (f *FFmpeg) logger() *slog.Logger {
	if f != nil && f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

func (f *FFmpeg) Render(ctx context.Context, sourcePath string, quality Quality, outputDir string) error {
	return f.run(ctx, quality.Label, f.renderArgs(sourcePath, quality, outputDir))
}

// renderArgs builds the encoder invocation for one rendition: aspect-ratio
// preserving scale (ffmpeg derives an even width from -2), fixed H.264/AAC
// bitrates from the ladder table, and VOD-style segmented HLS output.
func (f *FFmpeg) renderArgs(sourcePath string, quality Quality, outputDir string) []string {
	stem := PlaylistName(quality.Label)
	return []string{
		"-y",
		"-i", sourcePath,
		"-vf", fmt.Sprintf("scale=-2:%d", quality.Height),
		"-c:v", "libx264",
		"-b:v", fmt.Sprintf("%dk", quality.VideoBitrateKbps),
		"-c:a", "aac",
		"-b:a", fmt.Sprintf("%dk", AudioBitrateKbps),
		"-hls_time", fmt.Sprintf("%d", f.segmentSeconds()),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(outputDir, stem+"_%03d.ts"),
		filepath.Join(outputDir, stem+".m3u8"),
	}
}

func (f *FFmpeg) ExtractThumbnail(ctx context.Context, sourcePath, outputPath string) error {
	args := []string{
		"-y",
		"-i", sourcePath,
		"-ss", "00:00:01.000",
		"-vframes", "1",
		"-vf", "scale=1280:720",
		outputPath,
	}
	return f.run(ctx, "thumbnail", args)
}

func (f *FFmpeg) run(ctx context.Context, stage string, args []string) error {
	cmd := exec.CommandContext(ctx, f.binary(), args...)
	output := newLineWriter(f.logger(), stage)
	cmd.Stdout = output
	cmd.Stderr = output
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run %s (%s): %w", f.binary(), stage, err)
	}
	return nil
}

// lineWriter forwards encoder output line by line to the structured logger
// at debug level, keeping long transcodes observable without flooding info.
type lineWriter struct {
	logger *slog.Logger
	stage  string
}

func newLineWriter(logger *slog.Logger, stage string) *lineWriter {
	return &lineWriter{logger: logger, stage: stage}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		var line []byte
		if idx == -1 {
			line = p
			p = nil
		} else {
			line = p[:idx]
			p = p[idx+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		w.logger.Debug("encoder output", "stage", w.stage, "line", string(line))
	}
	return total, nil
}
