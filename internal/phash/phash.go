// Package phash fingerprints media content: a sha256 digest for exact
// identity and a 64-bit difference hash for perceptual similarity.
package phash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"io"
	"math/bits"
	"strconv"

	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// dHash compares adjacent pixels in a dhashWidth x dhashHeight
// grayscale reduction, one bit per comparison.
const (
	dhashWidth  = 9
	dhashHeight = 8
)

// Hash computes the difference hash of an image. Equal images always
// hash equally; visually similar images differ in few bits.
func Hash(img image.Image) uint64 {
	small := imaging.Grayscale(imaging.Resize(img, dhashWidth, dhashHeight, imaging.Lanczos))

	var h uint64
	for y := 0; y < dhashHeight; y++ {
		for x := 0; x < dhashWidth-1; x++ {
			left := small.NRGBAAt(x, y).R
			right := small.NRGBAAt(x+1, y).R
			h <<= 1
			if left < right {
				h |= 1
			}
		}
	}
	return h
}

// HashBytes decodes an image and hashes it.
func HashBytes(data []byte) (uint64, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return 0, fmt.Errorf("failed to decode image: %w", err)
	}
	return Hash(img), nil
}

// HashFile opens an image file and hashes it.
func HashFile(path string) (uint64, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return 0, fmt.Errorf("failed to open image: %w", err)
	}
	return Hash(img), nil
}

// Distance is the number of differing bits between two hashes.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Format renders a hash as 16 lowercase hex digits, the wire form.
func Format(h uint64) string {
	return fmt.Sprintf("%016x", h)
}

// Parse reads the wire form back. The input must be exactly 16 hex
// digits.
func Parse(s string) (uint64, error) {
	if len(s) != 16 {
		return 0, fmt.Errorf("perceptual hash must be 16 hex digits, got %q", s)
	}
	h, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid perceptual hash %q: %w", s, err)
	}
	return h, nil
}

// SHA256Hex streams r through sha256 and returns the lowercase hex
// digest.
func SHA256Hex(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to digest content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
