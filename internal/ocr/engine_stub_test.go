//go:build !ocr

package ocr

import (
	"context"
	"errors"
	"testing"
)

func TestStubEngineAlwaysDegrades(t *testing.T) {
	engine, err := NewEngine("eng")
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	defer engine.Close()

	_, err = engine.Recognize(context.Background(), []byte{0x01})
	if err == nil {
		t.Fatal("stub engine recognized text")
	}
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Errorf("error type = %T, want *TimeoutError", err)
	}
	if !errors.Is(err, ErrNotEnabled) {
		t.Errorf("error = %v, want wrapped ErrNotEnabled", err)
	}
}
