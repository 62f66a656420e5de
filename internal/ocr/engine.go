// Package ocr wraps local text recognition for receipt images.
//
// The Tesseract-backed engine lives behind the "ocr" build tag (it needs CGO
// and a system tesseract install); the default build gets a stub that always
// reports the engine as unavailable. Callers treat any engine failure as
// soft: extraction proceeds with empty text rather than aborting the job.
package ocr

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Result is the raw recognition output.
type Result struct {
	Text       string
	Confidence float64 // 0..1
}

// Engine recognizes text in a normalized receipt image.
type Engine interface {
	Recognize(ctx context.Context, image []byte) (Result, error)
	Close() error
}

// TimeoutError reports a recognition run that exceeded its deadline or was
// cancelled. Soft: the pipeline degrades to empty text instead of failing.
type TimeoutError struct {
	Cause error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("ocr timed out: %v", e.Cause)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// charWhitelist restricts recognition to glyphs that actually occur on
// receipts. Cutting the alphabet down measurably reduces misreads on noisy
// thermal paper.
const charWhitelist = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789" +
	".,:;-/#%$€£*()&@ "

var (
	reDate   = regexp.MustCompile(`\b\d{1,4}[-/.]\d{1,2}[-/.]\d{1,4}\b`)
	reCurr   = regexp.MustCompile(`\b(usd|eur|gbp|cad|aud|mxn|dop)\b|[$£€]`)
	reAmount = regexp.MustCompile(`\b\d{1,3}(,\d{3})*\.\d{2}\b|\b\d+\.\d{2}\b`)
)

// heuristicConfidence estimates recognition quality from text shape alone.
// Receipt artifacts (a date, a currency marker, money amounts, enough bulk)
// each add to a small base score.
func heuristicConfidence(txt string) float64 {
	if strings.TrimSpace(txt) == "" {
		return 0
	}
	low := strings.ToLower(txt)
	score := 0.2
	if reDate.MatchString(low) {
		score += 0.2
	}
	if reCurr.MatchString(low) {
		score += 0.15
	}
	if reAmount.MatchString(low) {
		score += 0.15
	}
	if len(txt) > 120 {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
