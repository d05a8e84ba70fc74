package vision

import (
	"strings"

	"github.com/shopspring/decimal"
)

// modelRate is USD per million tokens.
type modelRate struct {
	InputPerM  decimal.Decimal
	OutputPerM decimal.Decimal
}

// modelRates carries published per-model pricing. Unknown models cost
// zero rather than guessing.
var modelRates = map[string]modelRate{
	"gemini-2.0-flash": {
		InputPerM:  decimal.RequireFromString("0.10"),
		OutputPerM: decimal.RequireFromString("0.40"),
	},
	"gemini-2.5-flash": {
		InputPerM:  decimal.RequireFromString("0.30"),
		OutputPerM: decimal.RequireFromString("2.50"),
	},
	"gemini-2.5-pro": {
		InputPerM:  decimal.RequireFromString("1.25"),
		OutputPerM: decimal.RequireFromString("10.00"),
	},
}

var million = decimal.NewFromInt(1_000_000)

// Cost converts token counts into the ledger currency, rounded to 4
// decimals. usdRate is the fixed USD conversion from configuration.
func Cost(model string, promptTokens, completionTokens int64, usdRate float64) decimal.Decimal {
	rates, ok := modelRates[normalizeModel(model)]
	if !ok {
		return decimal.Zero
	}
	in := decimal.NewFromInt(promptTokens).Mul(rates.InputPerM).Div(million)
	out := decimal.NewFromInt(completionTokens).Mul(rates.OutputPerM).Div(million)
	return in.Add(out).Mul(decimal.NewFromFloat(usdRate)).Round(4)
}

// normalizeModel strips dated suffixes like -001 or -exp-0827 so
// pinned model ids share their family's rate.
func normalizeModel(model string) string {
	for family := range modelRates {
		if model == family || strings.HasPrefix(model, family+"-") {
			return family
		}
	}
	return model
}
