// Package price parses raw marketplace price text into minor-currency
// amounts with ISO currency codes.
package price

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Price is a parsed amount in minor currency units (cents).
type Price struct {
	Cents    int64  `json:"price"`
	Currency string `json:"currency"`
}

var priceRe = regexp.MustCompile(`([$£€])\s?([0-9,.]+)`)

var currencyBySymbol = map[string]string{
	"$": "USD",
	"£": "GBP",
	"€": "EUR",
}

// Parse extracts the first currency-symbol-prefixed amount from raw text.
// Unrecognized symbols default to USD. Absent or unparsable text returns
// ok=false; that is a normal outcome, not a failure.
func Parse(raw string) (Price, bool) {
	if raw == "" {
		return Price{}, false
	}

	m := priceRe.FindStringSubmatch(raw)
	if m == nil {
		return Price{}, false
	}

	currency, known := currencyBySymbol[m[1]]
	if !known {
		currency = "USD"
	}

	amount, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
	if err != nil || math.IsInf(amount, 0) || math.IsNaN(amount) {
		return Price{}, false
	}

	return Price{
		Cents:    int64(math.Round(amount * 100)),
		Currency: currency,
	}, true
}
