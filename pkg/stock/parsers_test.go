package stock

import (
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePriorityTokens(t *testing.T) {
	cases := map[string]string{
		"P0": "P0", "p2": "P2", "3": "P3", " P1 ": "P1",
		"Po": "P0", "PO": "P0", "o": "P0",
	}
	for in, want := range cases {
		got := ParsePriority(in)
		require.NotNil(t, got, "input %q", in)
		assert.Equal(t, want, *got, "input %q", in)
	}

	for _, in := range []string{"", "4", "P4", "-1", "high", "P"} {
		assert.Nil(t, ParsePriority(in), "input %q", in)
	}
}

func TestParseStockTokens(t *testing.T) {
	ten := int64(10)
	zero := int64(0)
	cases := map[string]*int64{
		"10":   &ten,
		"10.0": &ten,
		"0":    &zero,
		"O":    nil,
		"o":    nil,
		"○":    nil,
		"◯":    nil,
		"null": nil,
		"-":    nil,
		"":     nil,
		"ten":  nil,
		"1.5":  nil,
	}
	for in, want := range cases {
		got := ParseStockToken(in)
		if want == nil {
			assert.Nil(t, got, "input %q", in)
		} else {
			require.NotNil(t, got, "input %q", in)
			assert.Equal(t, *want, *got, "input %q", in)
		}
	}
}

func TestParsePriorityProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("in-range digits parse with or without prefix", prop.ForAll(
		func(n int, prefixed bool) bool {
			token := strconv.Itoa(n)
			if prefixed {
				token = "P" + token
			}
			got := ParsePriority(token)
			return got != nil && *got == "P"+strconv.Itoa(n)
		},
		gen.IntRange(0, 3),
		gen.Bool(),
	))

	properties.Property("out-of-range digits parse to nil", prop.ForAll(
		func(n int) bool {
			return ParsePriority(strconv.Itoa(n)) == nil
		},
		gen.IntRange(4, 10_000),
	))

	properties.TestingRun(t)
}

func TestParseStockTokenProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("integers round-trip", prop.ForAll(
		func(n int64) bool {
			got := ParseStockToken(strconv.FormatInt(n, 10))
			return got != nil && *got == n
		},
		gen.Int64Range(-1_000_000, 1_000_000),
	))

	properties.Property("float-formatted integers parse to their value", prop.ForAll(
		func(n int64) bool {
			got := ParseStockToken(strconv.FormatInt(n, 10) + ".0")
			return got != nil && *got == n
		},
		gen.Int64Range(0, 1_000_000),
	))

	properties.TestingRun(t)
}
