package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/veridoc/receipt-ocr-service/internal/models"
)

// Fallback is the deterministic, no-dependency extractor: heuristic line
// scanning over OCR text. Accuracy is well below the model providers; it is
// used only when no model provider is configured. Empty or garbage text
// yields a valid empty extraction with confidence 0, never an error.
type Fallback struct{}

// NewFallback creates the heuristic extractor.
func NewFallback() *Fallback { return &Fallback{} }

func (p *Fallback) Name() string    { return "fallback" }
func (p *Fallback) NeedsText() bool { return true }

var (
	// "MILK 2% 3.99" / "Bread ..... $2.49"
	rePriceLine = regexp.MustCompile(`^(.*?)[\s.]*[$€£]?\s*(\d{1,3}(?:,\d{3})*\.\d{2})-?\s*$`)
	// "2 x Bread" / "2x Bread" / "2 @ 1.50"
	reQtyPrefix = regexp.MustCompile(`^(\d{1,3})\s*[xX@]\s*(.*)$`)
	reDateLine  = regexp.MustCompile(`\b(\d{4}[-/.]\d{1,2}[-/.]\d{1,2}|\d{1,2}[-/.]\d{1,2}[-/.]\d{2,4})\b`)
	reTotalName = regexp.MustCompile(`(?i)\b(total|amount\s+due|balance\s+due)\b`)
	reNoiseName = regexp.MustCompile(`(?i)\b(subtotal|sub-total|tax|itbis|iva|vat|tip|propina|cash|change|tender|visa|mastercard|debit|credit|card|auth|approved)\b`)
)

// Parse scans the OCR text line by line: a trailing money amount makes an
// item candidate, a "TOTAL" label claims the declared total, the first
// text-heavy line is the merchant and the first date-shaped token is the
// purchase date.
func (p *Fallback) Parse(_ context.Context, _ []byte, text string) (*models.ExtractionResult, error) {
	result := &models.ExtractionResult{Items: []models.LineItem{}}
	if strings.TrimSpace(text) == "" {
		return result, nil
	}

	var sawItems bool
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if result.PurchaseDate == "" {
			if m := reDateLine.FindString(line); m != "" {
				result.PurchaseDate = m
			}
		}

		m := rePriceLine.FindStringSubmatch(line)
		if m == nil {
			// No trailing amount; the first such line before any item
			// is the best merchant guess.
			if result.MerchantName == "" && !sawItems && looksLikeName(line) {
				result.MerchantName = line
			}
			continue
		}

		name := strings.Trim(strings.TrimSpace(m[1]), ".-:")
		amount, err := decimal.NewFromString(strings.ReplaceAll(m[2], ",", ""))
		if err != nil {
			continue
		}

		if reTotalName.MatchString(name) {
			// Last total-labeled line wins; receipts often print
			// running totals before the final one.
			t := amount
			result.DeclaredTotal = &t
			continue
		}
		if name == "" || reNoiseName.MatchString(name) {
			continue
		}

		qty := 1
		if qm := reQtyPrefix.FindStringSubmatch(name); qm != nil {
			if n, err := strconv.Atoi(qm[1]); err == nil && n > 0 {
				qty = n
				name = strings.TrimSpace(qm[2])
			}
		}
		if name == "" {
			continue
		}

		result.Items = append(result.Items, models.LineItem{
			Name:      name,
			UnitPrice: amount,
			Quantity:  qty,
		})
		sawItems = true
	}

	result.ProviderConfidence = p.confidence(result)
	return result, nil
}

// looksLikeName filters lines that are mostly digits or punctuation out of
// merchant detection.
func looksLikeName(line string) bool {
	letters := 0
	for _, r := range line {
		if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') {
			letters++
		}
	}
	return letters >= 3 && letters*2 >= len(line)
}

// confidence scores the heuristic result by how much it actually found,
// capped well below the model providers.
func (p *Fallback) confidence(r *models.ExtractionResult) float64 {
	var score float64
	if r.MerchantName != "" {
		score += 0.1
	}
	if r.PurchaseDate != "" {
		score += 0.1
	}
	if len(r.Items) > 0 {
		score += 0.15
	}
	if r.DeclaredTotal != nil {
		score += 0.15
	}
	return score
}
