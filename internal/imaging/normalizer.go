// Package imaging turns raw upload bytes into an extraction-friendly image.
//
// The transform is deterministic and side-effect free: grayscale, histogram
// contrast stretch, sharpen, downscale-only resize, canonical JPEG re-encode.
// It replaces an earlier ImageMagick shell-out with a pure Go pipeline so the
// service has no runtime dependency on external binaries.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DecodeError reports bytes that no registered decoder accepts. Fatal for the
// job: there is nothing to retry locally.
type DecodeError struct {
	MIME  string
	Cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("undecodable image (declared %s): %v", e.MIME, e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// Normalizer applies the fixed enhancement pipeline.
type Normalizer struct {
	maxEdge int // longest output edge; never upscales
	quality int // JPEG re-encode quality
}

// NewNormalizer creates a normalizer. Zero arguments fall back to a 2000px
// edge bound and quality 95, matching what worked best for receipt scans.
func NewNormalizer(maxEdge, quality int) *Normalizer {
	if maxEdge <= 0 {
		maxEdge = 2000
	}
	if quality <= 0 || quality > 100 {
		quality = 95
	}
	return &Normalizer{maxEdge: maxEdge, quality: quality}
}

// Normalize decodes raw bytes and applies, in order: grayscale conversion,
// contrast normalization, sharpening, aspect-preserving downscale, JPEG
// re-encode. The declared MIME is only used for error reporting; the actual
// container is sniffed by image.Decode.
func (n *Normalizer) Normalize(raw []byte, mime string) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{MIME: mime, Cause: err}
	}

	gray := toGray(src)
	stretchContrast(gray)
	sharpened := sharpen(gray)
	out := n.downscale(sharpened)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: n.quality}); err != nil {
		return nil, fmt.Errorf("encoding normalized image: %w", err)
	}
	return buf.Bytes(), nil
}

// toGray converts any decoded image to 8-bit grayscale.
func toGray(src image.Image) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// stretchContrast normalizes the histogram in place, mapping the 2nd..98th
// percentile range onto the full 0..255 range. Clipping the tails avoids a
// handful of specular pixels dominating the stretch.
func stretchContrast(img *image.Gray) {
	var hist [256]int
	for _, px := range img.Pix {
		hist[px]++
	}
	total := len(img.Pix)
	if total == 0 {
		return
	}

	lowTarget := total * 2 / 100
	highTarget := total * 98 / 100

	lo, hi := 0, 255
	cum := 0
	for i := 0; i < 256; i++ {
		cum += hist[i]
		if cum >= lowTarget {
			lo = i
			break
		}
	}
	cum = 0
	for i := 0; i < 256; i++ {
		cum += hist[i]
		if cum >= highTarget {
			hi = i
			break
		}
	}
	if hi <= lo {
		return // flat image, nothing to stretch
	}

	scale := 255.0 / float64(hi-lo)
	for i, px := range img.Pix {
		v := float64(int(px)-lo) * scale
		img.Pix[i] = clamp8(v)
	}
}

// sharpen applies a mild 3x3 unsharp kernel, enough to crisp thermal-printer
// glyph edges without amplifying sensor noise.
func sharpen(src *image.Gray) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray(b)
	copy(dst.Pix, src.Pix)

	// kernel: center 5, cross -1
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*src.Stride + x
			v := 5*int(src.Pix[i]) -
				int(src.Pix[i-1]) - int(src.Pix[i+1]) -
				int(src.Pix[i-src.Stride]) - int(src.Pix[i+src.Stride])
			dst.Pix[i] = clamp8(float64(v))
		}
	}
	return dst
}

// downscale resizes so the longer edge fits maxEdge, preserving aspect ratio.
// Images already within the bound are returned untouched: the normalizer
// never upscales.
func (n *Normalizer) downscale(src *image.Gray) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	longer := w
	if h > w {
		longer = h
	}
	if longer <= n.maxEdge {
		return src
	}

	ratio := float64(n.maxEdge) / float64(longer)
	nw := int(float64(w)*ratio + 0.5)
	nh := int(float64(h)*ratio + 0.5)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewGray(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

func clamp8(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
