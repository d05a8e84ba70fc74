// Package vision extracts structured invoice data from images with a
// vision LLM: a fast primary model, confidence-gated escalation to a
// stronger fallback, schema validation of every parse, and a shared
// rate gate across concurrent calls.
package vision

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Task kinds. The kind selects the tenant prompt, the response schema
// and the quality gates.
const (
	KindSales   = "sales"
	KindVendor  = "vendor"
	KindMapping = "mapping"
)

// Item is one extracted line item. The model's schema is loose by
// nature; typed accessors normalize on the way out.
type Item map[string]any

// Document is a parsed model response: one header plus line items.
type Document struct {
	Header map[string]any `json:"header"`
	Items  []Item         `json:"items"`
}

// Result is the outcome of one extraction.
type Result struct {
	Doc      *Document
	Kind     string
	Accuracy float64

	// ModelUsed names the model whose parse is in Doc. When the
	// fallback fails but the primary parse was usable, ModelUsed stays
	// the primary and the two fallback fields record the attempt.
	ModelUsed         string
	FallbackAttempted bool
	FallbackReason    string

	PromptTokens     int64
	CompletionTokens int64
	Cost             decimal.Decimal

	// CombinedBox is the review-UI box: receipt number and date merged
	// when their centers sit close together, else nil.
	CombinedBox *Box
	ReceiptBox  *Box
	DateBox     *Box
}

// Str returns a string field, tolerating numbers the model emitted
// unquoted.
func Str(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// Num returns a numeric field, tolerating strings.
func Num(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Confidence returns an item's confidence score, or -1 when the prompt
// opted out of per-item confidence.
func (it Item) Confidence() float64 {
	if v, ok := Num(it, "confidence"); ok {
		return v
	}
	return -1
}

// headerConfidence reads header.confidence.<field>, or -1 when absent.
func headerConfidence(header map[string]any, field string) float64 {
	conf, ok := header["confidence"].(map[string]any)
	if !ok {
		return -1
	}
	if v, ok := Num(conf, field); ok {
		return v
	}
	return -1
}

// placeholder reports whether an extracted value is an empty or "N/A"
// style placeholder.
func placeholder(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "N/A", "NA", "NONE", "NULL", "-":
		return true
	}
	return false
}
