// Package stock recomputes per-part on-hand quantities from vendor
// inflows and verified sales outflows, serialized per tenant by a
// database advisory lock. It also carries the tolerant parsers for
// handwritten mapping-sheet tokens.
package stock

import (
	"strconv"
	"strings"
)

// ParsePriority reads a handwritten priority token. Accepts P0..P3 and
// bare 0..3, any case, with surrounding noise trimmed. Out-of-range or
// unreadable tokens return nil; the sheet writer gets corrected in
// review, not guessed at.
func ParsePriority(raw string) *string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return nil
	}
	// Handwritten "Po" reads as P0: the letter O stands in for zero.
	s = strings.ReplaceAll(s, "O", "0")
	s = strings.TrimPrefix(s, "P")
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 3 {
		return nil
	}
	p := "P" + strconv.Itoa(n)
	return &p
}

// nullMarkers are the conventional handwritten symbols for "not
// counted": the letter O in either case, circle glyphs, or an explicit
// null.
var nullMarkers = map[string]bool{
	"O": true, "o": true, "○": true, "◯": true,
	"null": true, "NULL": true, "Null": true, "-": true,
}

// ParseStockToken reads a handwritten count or reorder figure.
// Numeric strings (including "10.0") parse to their integer value; "0"
// is a real zero; null markers and anything unreadable return nil.
func ParseStockToken(raw string) *int64 {
	s := strings.TrimSpace(raw)
	if s == "" || nullMarkers[s] {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &n
	}
	// Tolerate float-formatted integers.
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
		n := int64(f)
		return &n
	}
	return nil
}
