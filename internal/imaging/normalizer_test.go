package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

// encodePNG builds a synthetic receipt-like PNG: light background with a few
// darker bands, enough structure for the pipeline to chew on.
func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(230)
			if y%20 < 4 {
				v = 40
			}
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding fixture: %v", err)
	}
	return buf.Bytes()
}

func decodeDims(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a decodable jpeg: %v", err)
	}
	return cfg.Width, cfg.Height
}

func TestNormalizeProducesJPEG(t *testing.T) {
	n := NewNormalizer(2000, 95)
	out, err := n.Normalize(encodePNG(t, 400, 600), "image/png")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	w, h := decodeDims(t, out)
	if w != 400 || h != 600 {
		t.Errorf("dimensions = %dx%d, want unchanged 400x600", w, h)
	}
}

func TestNormalizeDownscalesLongEdge(t *testing.T) {
	n := NewNormalizer(500, 95)
	out, err := n.Normalize(encodePNG(t, 400, 1000), "image/png")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	w, h := decodeDims(t, out)
	if h != 500 {
		t.Errorf("long edge = %d, want 500", h)
	}
	if w != 200 {
		t.Errorf("short edge = %d, want 200 (aspect preserved)", w)
	}
}

func TestNormalizeNeverUpscales(t *testing.T) {
	n := NewNormalizer(2000, 95)
	out, err := n.Normalize(encodePNG(t, 120, 80), "image/png")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	w, h := decodeDims(t, out)
	if w != 120 || h != 80 {
		t.Errorf("dimensions = %dx%d, small image must pass through at %dx%d", w, h, 120, 80)
	}
}

func TestNormalizeDeterministic(t *testing.T) {
	n := NewNormalizer(2000, 95)
	src := encodePNG(t, 300, 300)

	a, err := n.Normalize(src, "image/png")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	b, err := n.Normalize(src, "image/png")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("same input produced different normalized bytes")
	}
}

func TestNormalizeRejectsUndecodableBytes(t *testing.T) {
	n := NewNormalizer(2000, 95)
	for _, raw := range [][]byte{
		nil,
		[]byte("definitely not an image"),
		{0xFF, 0xD8, 0x00}, // truncated jpeg magic
	} {
		_, err := n.Normalize(raw, "image/jpeg")
		if err == nil {
			t.Fatalf("Normalize(%q) accepted undecodable bytes", raw)
		}
		var decodeErr *DecodeError
		if !errors.As(err, &decodeErr) {
			t.Errorf("error type = %T, want *DecodeError", err)
		}
	}
}
