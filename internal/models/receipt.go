package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// JobState is the lifecycle state of one extraction job.
type JobState string

const (
	StatePending    JobState = "PENDING"
	StateProcessing JobState = "PROCESSING"
	StateCompleted  JobState = "COMPLETED"
	StateFailed     JobState = "FAILED"
)

// Terminal reports whether no further transitions can occur from s.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Progress derives the coarse progress indicator from the state. It is not a
// continuous measure: 0 for PENDING/FAILED, 50 for PROCESSING, 100 for COMPLETED.
func (s JobState) Progress() int {
	switch s {
	case StateProcessing:
		return 50
	case StateCompleted:
		return 100
	default:
		return 0
	}
}

// LineItem is one product line on a receipt.
// Quantity defaults to 1; a negative unit price is a parse error upstream,
// zero is a valid business value.
type LineItem struct {
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
}

// ExtractionResult is the raw structured output of exactly one extractor
// variant. Absent fields stay at their zero values; Items keeps provider
// order. The value is immutable once produced.
type ExtractionResult struct {
	MerchantName       string           `json:"merchantName,omitempty"`
	PurchaseDate       string           `json:"purchaseDate,omitempty"` // free-form, pre-validation
	Items              []LineItem       `json:"items"`
	DeclaredTotal      *decimal.Decimal `json:"declaredTotal,omitempty"`
	Currency           string           `json:"currency,omitempty"`
	ProviderConfidence float64          `json:"providerConfidence"` // 0..1
}

// ReconciledReceipt is the final, validated record: the extraction plus the
// computed total, the post-validation calendar date and the blended
// confidence. ComputedTotal is always present (zero for an empty item list);
// OverallConfidence is always within [0,1].
type ReconciledReceipt struct {
	MerchantName      string           `json:"merchantName,omitempty"`
	PurchaseDate      *time.Time       `json:"purchaseDate,omitempty"`
	Items             []LineItem       `json:"items"`
	DeclaredTotal     *decimal.Decimal `json:"declaredTotal,omitempty"`
	ComputedTotal     decimal.Decimal  `json:"computedTotal"`
	Discrepancy       *decimal.Decimal `json:"discrepancy,omitempty"`
	Currency          string           `json:"currency,omitempty"`
	OverallConfidence float64          `json:"overallConfidence"`
	Provider          string           `json:"provider,omitempty"`
	OCRText           string           `json:"ocrText,omitempty"`
	ProcessedAt       time.Time        `json:"processedAt"`
}

// Job is the persisted view of one asynchronous unit of work.
type Job struct {
	ID        string             `json:"id"`
	ImageRef  string             `json:"imageRef"`
	State     JobState           `json:"state"`
	Progress  int                `json:"progress"`
	Error     string             `json:"error,omitempty"`
	Receipt   *ReconciledReceipt `json:"receipt,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}
