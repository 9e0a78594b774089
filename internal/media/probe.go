package media

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// Metadata holds the source attributes the pipeline needs before encoding.
type Metadata struct {
	DurationSeconds int
	Width           int
	Height          int
}

// Prober extracts source metadata. Implementations must never mutate the
// probed file.
type Prober interface {
	Probe(ctx context.Context, path string) (Metadata, error)
}

const (
	defaultProbeWidth  = 1920
	defaultProbeHeight = 1080
)

// FFprobe probes media files with the ffprobe binary. Unparsable output
// degrades to conservative defaults (1920x1080, duration 0) rather than
// failing the job; an error is returned only when neither invocation could
// run at all.
type FFprobe struct {
	Binary string
	Logger *slog.Logger
}

func (p *FFprobe) binary() string {
	if p != nil && strings.TrimSpace(p.Binary) != "" {
		return p.Binary
	}
	return "ffprobe"
}

func (p *FFprobe) logger() *slog.Logger {
	if p != nil && p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *FFprobe) Probe(ctx context.Context, path string) (Metadata, error) {
	durationOut, durationErr := p.run(ctx,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	resolutionOut, resolutionErr := p.run(ctx,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=p=0",
		path,
	)
	if durationErr != nil && resolutionErr != nil {
		return Metadata{}, fmt.Errorf("probe %s: %w", path, resolutionErr)
	}

	meta := Metadata{DurationSeconds: parseDuration(durationOut)}
	width, height, ok := parseResolution(resolutionOut)
	if !ok {
		p.logger().Warn("unable to parse source resolution, assuming 1920x1080", "path", path)
		width, height = defaultProbeWidth, defaultProbeHeight
	}
	meta.Width = width
	meta.Height = height
	return meta, nil
}

func (p *FFprobe) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, p.binary(), args...)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("run %s: %w", p.binary(), err)
	}
	return string(out), nil
}

func parseDuration(output string) int {
	line := firstLine(output)
	if line == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(line, 64)
	if err != nil || seconds < 0 {
		return 0
	}
	return int(seconds)
}

func parseResolution(output string) (int, int, bool) {
	line := firstLine(output)
	if !strings.Contains(line, ",") {
		return 0, 0, false
	}
	parts := strings.SplitN(line, ",", 2)
	width, werr := strconv.Atoi(strings.TrimSpace(parts[0]))
	height, herr := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(parts[1], ",")))
	if werr != nil || herr != nil || width <= 0 || height <= 0 {
		return 0, 0, false
	}
	return width, height, true
}

func firstLine(output string) string {
	line := output
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	return strings.TrimSpace(line)
}
