//go:build ocr

package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract recognizes text with a system Tesseract install via gosseract.
// One instance is not safe for concurrent use; the pipeline gives each worker
// its own engine.
type Tesseract struct {
	client *gosseract.Client
}

// NewEngine creates a Tesseract-backed engine. The language is a tesseract
// language code ("eng", "spa", or "eng+spa").
func NewEngine(language string) (Engine, error) {
	if language == "" {
		language = "eng"
	}
	client := gosseract.NewClient()
	if err := client.SetLanguage(language); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting ocr language: %w", err)
	}
	// Sparse text mode: receipts are mixed short blocks, not paragraphs.
	if err := client.SetPageSegMode(gosseract.PSM_SPARSE_TEXT); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting page segmentation mode: %w", err)
	}
	if err := client.SetWhitelist(charWhitelist); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting character whitelist: %w", err)
	}
	return &Tesseract{client: client}, nil
}

// Recognize runs OCR on image bytes, bounded by ctx. A deadline hit while
// tesseract is still working surfaces as *TimeoutError.
func (t *Tesseract) Recognize(ctx context.Context, image []byte) (Result, error) {
	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		if err := t.client.SetImageFromBytes(image); err != nil {
			done <- outcome{err: fmt.Errorf("setting image: %w", err)}
			return
		}
		text, err := t.client.Text()
		done <- outcome{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return Result{}, &TimeoutError{Cause: ctx.Err()}
	case out := <-done:
		if out.err != nil {
			return Result{}, &TimeoutError{Cause: out.err}
		}
		text := strings.TrimSpace(out.text)
		return Result{Text: text, Confidence: heuristicConfidence(text)}, nil
	}
}

// Close releases the tesseract handle.
func (t *Tesseract) Close() error {
	return t.client.Close()
}
