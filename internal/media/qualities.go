package media

import "math"

// Quality describes one output profile in the encoding ladder. Width is the
// nominal 16:9 width; the rendition and manifest derive the real width from
// the source aspect ratio.
type Quality struct {
	Label            string
	Height           int
	Width            int
	VideoBitrateKbps int
}

// AudioBitrateKbps is the fixed AAC audio bitrate shared by every rendition.
const AudioBitrateKbps = 128

var qualityLadder = []Quality{
	{Label: "360p", Height: 360, Width: 640, VideoBitrateKbps: 800},
	{Label: "480p", Height: 480, Width: 854, VideoBitrateKbps: 1400},
	{Label: "720p", Height: 720, Width: 1280, VideoBitrateKbps: 2800},
	{Label: "1080p", Height: 1080, Width: 1920, VideoBitrateKbps: 5000},
}

// Qualities returns the full ordered ladder, lowest height first.
func Qualities() []Quality {
	out := make([]Quality, len(qualityLadder))
	copy(out, qualityLadder)
	return out
}

// QualityForLabel resolves a ladder entry by its label.
func QualityForLabel(label string) (Quality, bool) {
	for _, q := range qualityLadder {
		if q.Label == label {
			return q, true
		}
	}
	return Quality{}, false
}

// Ladder selects the qualities to encode for a source with the given native
// height: every profile whose target height does not exceed the source, in
// ascending order. A source below the lowest profile still gets 360p so that
// every upload produces at least one playable rendition.
func Ladder(nativeHeight int) []Quality {
	var selected []Quality
	for _, q := range qualityLadder {
		if q.Height <= nativeHeight {
			selected = append(selected, q)
		}
	}
	if len(selected) == 0 {
		selected = append(selected, qualityLadder[0])
	}
	return selected
}

// ScaledWidth derives the encoded width for a target height from the source
// aspect ratio, bumped to the next even integer when the rounded value is
// odd (codec requirement). A non-positive aspect falls back to 16:9.
func ScaledWidth(height int, aspect float64) int {
	if aspect <= 0 {
		aspect = 16.0 / 9.0
	}
	width := int(math.Round(float64(height) * aspect))
	if width%2 != 0 {
		width++
	}
	return width
}

// PlaylistName returns the variant playlist filename stem for a label, e.g.
// "playlist_360p". Segment files share the stem with a numeric suffix.
func PlaylistName(label string) string {
	return "playlist_" + label
}
