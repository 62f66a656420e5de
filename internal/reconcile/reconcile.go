// Package reconcile computes arithmetic totals from line items and blends
// per-stage confidence scores.
//
// All money math is exact decimal arithmetic; binary floating point would
// drift at the cent level across many additions.
package reconcile

import (
	"github.com/shopspring/decimal"

	"github.com/veridoc/receipt-ocr-service/internal/models"
)

// ComputeTotal returns Σ(unitPrice × quantity) over the items, zero for an
// empty sequence. A quantity below 1 is treated as the default 1.
func ComputeTotal(items []models.LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		qty := item.Quantity
		if qty < 1 {
			qty = 1
		}
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(qty))))
	}
	return total
}

// Discrepancy returns |declared − computed|. A nonzero discrepancy (an
// unitemized tax or discount, say) is information for the caller, not an
// error.
func Discrepancy(declared, computed decimal.Decimal) decimal.Decimal {
	return declared.Sub(computed).Abs()
}

// CombineConfidence blends every confidence value actually produced in a run
// into the arithmetic mean. A stage that was skipped contributes neither a
// value nor a zero; an empty set yields 0. The result is clamped to [0,1].
func CombineConfidence(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	mean := sum / float64(len(scores))
	if mean < 0 {
		return 0
	}
	if mean > 1 {
		return 1
	}
	return mean
}
