package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"

	"github.com/veridoc/receipt-ocr-service/internal/models"
)

// extractionPrompt mandates the strict reply shape every model variant must
// honor. Shared across providers so they all return the same JSON contract.
const extractionPrompt = `You are an expert at reading purchase receipts. Extract the structured
data from the receipt and reply with ONLY a JSON object (no markdown, no
commentary) matching exactly this shape:

{
  "merchantName": "store or business name, null if unreadable",
  "purchaseDate": "date as printed on the receipt, null if absent",
  "items": [{"name": "line item description", "unitPrice": 3.99, "quantity": 1}],
  "declaredTotal": 12.34,
  "currency": "ISO 4217 code, e.g. USD",
  "confidence": 0.9
}

Rules:
1. NEVER invent data. Use null for anything you cannot read.
2. unitPrice is the price of ONE unit; quantity is a positive integer, 1 if not shown.
3. declaredTotal is the final total AS PRINTED, not computed by you.
4. items may be empty if no line items are legible.
5. confidence is your own 0..1 estimate of extraction quality.`

// replySchema is the JSON-Schema the providers' output is validated against
// before any field is trusted. Compiled once at package init.
var replySchema = mustCompileSchema(map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"properties": map[string]any{
		"merchantName": map[string]any{"type": []string{"string", "null"}},
		"purchaseDate": map[string]any{"type": []string{"string", "null"}},
		"items": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": true,
				"properties": map[string]any{
					"name":      map[string]any{"type": "string"},
					"unitPrice": map[string]any{"type": []string{"number", "string"}},
					"quantity":  map[string]any{"type": []string{"integer", "number", "null"}, "minimum": 1},
				},
				"required": []string{"name", "unitPrice"},
			},
		},
		"declaredTotal": map[string]any{"type": []string{"number", "string", "null"}},
		"currency":      map[string]any{"type": []string{"string", "null"}},
		"confidence":    map[string]any{"type": []string{"number", "null"}, "minimum": 0.0, "maximum": 1.0},
	},
	"required": []string{"items"},
})

func mustCompileSchema(m map[string]any) *jsonschema.Schema {
	b, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("reply.json", bytes.NewReader(b)); err != nil {
		panic(err)
	}
	schema, err := compiler.Compile("reply.json")
	if err != nil {
		panic(err)
	}
	return schema
}

// decodeReply validates a provider's raw reply against the schema and builds
// the typed result. Markdown code fences are stripped first; several models
// wrap JSON in them no matter what the prompt says.
func decodeReply(provider, raw string) (*models.ExtractionResult, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var generic any
	if err := json.Unmarshal([]byte(cleaned), &generic); err != nil {
		return nil, &SchemaError{Provider: provider, Cause: fmt.Errorf("invalid json: %w", err)}
	}
	if err := replySchema.Validate(generic); err != nil {
		return nil, &SchemaError{Provider: provider, Cause: err}
	}

	var reply struct {
		MerchantName  *string `json:"merchantName"`
		PurchaseDate  *string `json:"purchaseDate"`
		Items         []struct {
			Name      string      `json:"name"`
			UnitPrice interface{} `json:"unitPrice"`
			Quantity  interface{} `json:"quantity"`
		} `json:"items"`
		DeclaredTotal interface{} `json:"declaredTotal"`
		Currency      *string     `json:"currency"`
		Confidence    *float64    `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(cleaned), &reply); err != nil {
		return nil, &SchemaError{Provider: provider, Cause: err}
	}

	result := &models.ExtractionResult{
		Items: make([]models.LineItem, 0, len(reply.Items)),
	}
	if reply.MerchantName != nil {
		result.MerchantName = strings.TrimSpace(*reply.MerchantName)
	}
	if reply.PurchaseDate != nil {
		result.PurchaseDate = strings.TrimSpace(*reply.PurchaseDate)
	}
	if reply.Currency != nil {
		result.Currency = strings.ToUpper(strings.TrimSpace(*reply.Currency))
	}
	if reply.Confidence != nil {
		result.ProviderConfidence = clampUnit(*reply.Confidence)
	}

	for _, it := range reply.Items {
		price := parseDecimal(it.UnitPrice)
		if price.IsNegative() {
			return nil, &SchemaError{
				Provider: provider,
				Cause:    fmt.Errorf("negative unit price %s for item %q", price, it.Name),
			}
		}
		qty := 1
		if q := parseDecimal(it.Quantity); q.IsPositive() {
			qty = int(q.IntPart())
			if qty < 1 {
				qty = 1
			}
		}
		result.Items = append(result.Items, models.LineItem{
			Name:      strings.TrimSpace(it.Name),
			UnitPrice: price,
			Quantity:  qty,
		})
	}

	if reply.DeclaredTotal != nil {
		total := parseDecimal(reply.DeclaredTotal)
		result.DeclaredTotal = &total
	}

	return result, nil
}

// parseDecimal handles flexible number parsing from interface{}.
// Supports numbers, strings, and strings with thousands separators
// (e.g. "3,965.34").
func parseDecimal(v interface{}) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val)
	case int:
		return decimal.NewFromInt(int64(val))
	case int64:
		return decimal.NewFromInt(val)
	case string:
		if val == "" {
			return decimal.Zero
		}
		cleaned := strings.ReplaceAll(val, ",", "")
		d, err := decimal.NewFromString(cleaned)
		if err != nil {
			return decimal.Zero
		}
		return d
	case json.Number:
		d, err := decimal.NewFromString(string(val))
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
