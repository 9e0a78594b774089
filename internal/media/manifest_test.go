package media

import (
	"bytes"
	"testing"
)

func ladderSubset(t *testing.T, labels ...string) []Quality {
	t.Helper()
	out := make([]Quality, 0, len(labels))
	for _, label := range labels {
		q, ok := QualityForLabel(label)
		if !ok {
			t.Fatalf("unknown label %s", label)
		}
		out = append(out, q)
	}
	return out
}

func TestBuildMasterManifestSingleRendition(t *testing.T) {
	manifest := BuildMasterManifest(ladderSubset(t, "360p"), 16.0/9.0)
	want := "#EXTM3U\n" +
		"#EXT-X-VERSION:3\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=928000,RESOLUTION=640x360\n" +
		"playlist_360p.m3u8\n"
	if string(manifest) != want {
		t.Fatalf("unexpected manifest:\n%s\nwant:\n%s", manifest, want)
	}
}

func TestBuildMasterManifestFullLadder(t *testing.T) {
	manifest := string(BuildMasterManifest(ladderSubset(t, "360p", "480p", "720p", "1080p"), 16.0/9.0))
	want := "#EXTM3U\n" +
		"#EXT-X-VERSION:3\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=928000,RESOLUTION=640x360\n" +
		"playlist_360p.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=1528000,RESOLUTION=854x480\n" +
		"playlist_480p.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=2928000,RESOLUTION=1280x720\n" +
		"playlist_720p.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=5128000,RESOLUTION=1920x1080\n" +
		"playlist_1080p.m3u8\n"
	if manifest != want {
		t.Fatalf("unexpected manifest:\n%s\nwant:\n%s", manifest, want)
	}
}

func TestBuildMasterManifestPreservesGivenOrder(t *testing.T) {
	// Entries appear in completion order, even with a gap in the ladder.
	manifest := string(BuildMasterManifest(ladderSubset(t, "360p", "1080p"), 16.0/9.0))
	first := bytes.Index([]byte(manifest), []byte("playlist_360p"))
	second := bytes.Index([]byte(manifest), []byte("playlist_1080p"))
	if first < 0 || second < 0 || first > second {
		t.Fatalf("expected 360p before 1080p:\n%s", manifest)
	}
	if bytes.Contains([]byte(manifest), []byte("playlist_480p")) {
		t.Fatalf("skipped quality must not appear:\n%s", manifest)
	}
}

func TestBuildMasterManifestIsDeterministic(t *testing.T) {
	qualities := ladderSubset(t, "360p", "720p")
	a := BuildMasterManifest(qualities, 1.5)
	b := BuildMasterManifest(qualities, 1.5)
	if !bytes.Equal(a, b) {
		t.Fatal("manifest generation must be deterministic")
	}
}

func TestBuildMasterManifestUsesSourceAspect(t *testing.T) {
	// 4:3 source: 480 * 4/3 = 640.
	manifest := string(BuildMasterManifest(ladderSubset(t, "480p"), 4.0/3.0))
	if !bytes.Contains([]byte(manifest), []byte("RESOLUTION=640x480")) {
		t.Fatalf("expected 4:3 width:\n%s", manifest)
	}
}
