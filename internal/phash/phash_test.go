package phash

import (
	"image"
	"image/color"
	"strings"
	"testing"
)

// gradient builds a horizontal gradient test image.
func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(x * 255 / w)
			img.Set(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func TestHashDeterministic(t *testing.T) {
	t.Parallel()

	img := gradient(100, 80)
	if Hash(img) != Hash(img) {
		t.Error("Hash must be deterministic")
	}
}

func TestHashGradient(t *testing.T) {
	t.Parallel()

	// Adjacent pairs in a rising gradient almost all compare the same
	// way; resampling may wobble a couple of edge bits.
	h := Hash(gradient(100, 80))
	if d := Distance(h, ^uint64(0)); d > 4 {
		t.Errorf("gradient hash = %016x, %d bits off all ones", h, d)
	}
}

func TestHashSimilarImagesAreClose(t *testing.T) {
	t.Parallel()

	a := gradient(100, 80)
	b := gradient(100, 80)
	// A small blemish must move few bits.
	b.Set(50, 40, color.NRGBA{R: 255, A: 255})

	d := Distance(Hash(a), Hash(b))
	if d > 8 {
		t.Errorf("distance between near-identical images = %d, want <= 8", d)
	}
}

func TestHashScaleInvariant(t *testing.T) {
	t.Parallel()

	// The same scene at different resolutions reduces to the same
	// 9x8 comparison grid.
	d := Distance(Hash(gradient(100, 80)), Hash(gradient(400, 320)))
	if d > 4 {
		t.Errorf("distance across scales = %d, want <= 4", d)
	}
}

func TestDistance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b uint64
		want int
	}{
		{"identical", 0xdeadbeef, 0xdeadbeef, 0},
		{"one bit", 0, 1, 1},
		{"all bits", 0, ^uint64(0), 64},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Distance(tt.a, tt.b); got != tt.want {
				t.Errorf("Distance(%#x, %#x) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	t.Parallel()

	for _, h := range []uint64{0, 1, 0xdeadbeefcafef00d, ^uint64(0)} {
		s := Format(h)
		if len(s) != 16 {
			t.Errorf("Format(%#x) = %q, want 16 digits", h, s)
		}
		got, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", s, err)
		}
		if got != h {
			t.Errorf("round trip of %#x came back as %#x", h, got)
		}
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "abc", "zzzzzzzzzzzzzzzz", "00ff00ff00ff00ff0"} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q) should fail", s)
		}
	}
}

func TestSHA256Hex(t *testing.T) {
	t.Parallel()

	got, err := SHA256Hex(strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("SHA256Hex() failed: %v", err)
	}
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got != want {
		t.Errorf("SHA256Hex(hello) = %s, want %s", got, want)
	}
}
