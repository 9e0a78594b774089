package media

import (
	"fmt"
	"strings"
)

// BuildMasterManifest serializes the HLS master playlist for the renditions
// available so far. It is a pure function of its inputs: the same quality
// list and aspect ratio always yield byte-identical output, and entries
// appear exactly in the order given (completion order), never filtered or
// reordered.
//
// Widths track the true source aspect ratio rather than the nominal 16:9
// table widths, matching what the encoder's scale filter produced.
func BuildMasterManifest(qualities []Quality, sourceAspect float64) []byte {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n")
	for _, q := range qualities {
		width := ScaledWidth(q.Height, sourceAspect)
		bandwidth := q.VideoBitrateKbps*1000 + AudioBitrateKbps*1000
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n%s.m3u8\n",
			bandwidth, width, q.Height, PlaylistName(q.Label))
	}
	return []byte(b.String())
}
