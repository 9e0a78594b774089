package media

import "testing"

func TestLadderSelectsByNativeHeight(t *testing.T) {
	cases := []struct {
		name   string
		height int
		want   []string
	}{
		{name: "full hd source", height: 1080, want: []string{"360p", "480p", "720p", "1080p"}},
		{name: "hd source", height: 720, want: []string{"360p", "480p", "720p"}},
		{name: "between profiles", height: 600, want: []string{"360p", "480p"}},
		{name: "below lowest profile", height: 270, want: []string{"360p"}},
		{name: "above ladder", height: 2160, want: []string{"360p", "480p", "720p", "1080p"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Ladder(tc.height)
			if len(got) != len(tc.want) {
				t.Fatalf("expected %d qualities, got %d", len(tc.want), len(got))
			}
			for i, label := range tc.want {
				if got[i].Label != label {
					t.Fatalf("position %d: expected %s, got %s", i, label, got[i].Label)
				}
			}
		})
	}
}

func TestLadderIsAscending(t *testing.T) {
	ladder := Ladder(1080)
	for i := 1; i < len(ladder); i++ {
		if ladder[i].Height <= ladder[i-1].Height {
			t.Fatalf("ladder not ascending at %d: %d <= %d", i, ladder[i].Height, ladder[i-1].Height)
		}
	}
}

func TestQualityForLabel(t *testing.T) {
	q, ok := QualityForLabel("720p")
	if !ok {
		t.Fatal("expected 720p to resolve")
	}
	if q.Height != 720 || q.VideoBitrateKbps != 2800 {
		t.Fatalf("unexpected profile %+v", q)
	}
	if _, ok := QualityForLabel("144p"); ok {
		t.Fatal("unknown label should not resolve")
	}
}

func TestScaledWidth(t *testing.T) {
	cases := []struct {
		name   string
		height int
		aspect float64
		want   int
	}{
		{name: "sixteen by nine", height: 360, aspect: 16.0 / 9.0, want: 640},
		{name: "odd rounds up to even", height: 480, aspect: 16.0 / 9.0, want: 854},
		{name: "vertical video", height: 360, aspect: 9.0 / 16.0, want: 204},
		{name: "zero aspect falls back", height: 720, aspect: 0, want: 1280},
		{name: "negative aspect falls back", height: 1080, aspect: -1, want: 1920},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ScaledWidth(tc.height, tc.aspect); got != tc.want {
				t.Fatalf("ScaledWidth(%d, %f) = %d, want %d", tc.height, tc.aspect, got, tc.want)
			}
		})
	}
}

func TestQualitiesReturnsCopy(t *testing.T) {
	first := Qualities()
	first[0].Label = "mutated"
	if Qualities()[0].Label != "360p" {
		t.Fatal("Qualities must not expose internal state")
	}
}
