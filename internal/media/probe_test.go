package media

import "testing"

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"123.456000\n", 123},
		{"0.5", 0},
		{"7", 7},
		{"", 0},
		{"N/A\n", 0},
		{"-3.0", 0},
	}
	for _, tc := range cases {
		if got := parseDuration(tc.in); got != tc.want {
			t.Fatalf("parseDuration(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseResolution(t *testing.T) {
	cases := []struct {
		in     string
		width  int
		height int
		ok     bool
	}{
		{"1920,1080\n", 1920, 1080, true},
		{"1280,720,\n", 1280, 720, true},
		{"640, 360", 640, 360, true},
		{"", 0, 0, false},
		{"1920\n", 0, 0, false},
		{"0,0", 0, 0, false},
		{"w,h", 0, 0, false},
	}
	for _, tc := range cases {
		width, height, ok := parseResolution(tc.in)
		if ok != tc.ok || width != tc.width || height != tc.height {
			t.Fatalf("parseResolution(%q) = (%d, %d, %v), want (%d, %d, %v)",
				tc.in, width, height, ok, tc.width, tc.height, tc.ok)
		}
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("abc\ndef"); got != "abc" {
		t.Fatalf("firstLine = %q", got)
	}
	if got := firstLine("  padded  \n"); got != "padded" {
		t.Fatalf("firstLine = %q", got)
	}
}
