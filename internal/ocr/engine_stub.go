//go:build !ocr

package ocr

import (
	"context"
	"errors"
)

// ErrNotEnabled is returned when OCR is requested but support was not
// compiled in. Rebuild with -tags ocr (requires a system tesseract).
var ErrNotEnabled = errors.New("ocr support not enabled; rebuild with -tags ocr")

type stubEngine struct{}

// NewEngine returns the stub engine used when the "ocr" build tag is not set.
// Every recognition attempt fails soft, so text-free extractor variants keep
// working and text-based ones degrade to empty input.
func NewEngine(language string) (Engine, error) {
	return stubEngine{}, nil
}

func (stubEngine) Recognize(ctx context.Context, image []byte) (Result, error) {
	return Result{}, &TimeoutError{Cause: ErrNotEnabled}
}

func (stubEngine) Close() error { return nil }
