package extract

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"car-scraper/models"
)

// amount: "." groups thousands, "," starts up to two decimals. The trailing
// boundary keeps a following number on the same line out of the amount.
const amountPattern = `\b(?:\d{1,3}(?:\.\d{3})+|\d+)(?:,\d{1,2})?\b`

var priceRegexp = regexp.MustCompile(
	`(?i)(?:€|\bEUR)[ \t\x{00a0}]*(` + amountPattern + `)` +
		`|(` + amountPattern + `)[ \t\x{00a0}]*(?:€|EUR\b)`,
)

// Price finds the leftmost currency-tagged amount in text, with the currency
// symbol on either side. Text without a currency token yields ok=false.
//
//	"€ 15.900"    → 15900.00
//	"15.900,50 €" → 15900.50
func Price(text string) (models.Price, bool) {
	m := priceRegexp.FindStringSubmatch(text)
	if m == nil {
		return models.Price{}, false
	}
	raw := m[1]
	if raw == "" {
		raw = m[2]
	}
	amount, ok := parseAmount(raw)
	if !ok {
		return models.Price{}, false
	}
	return models.Price{Amount: amount, Currency: models.DefaultCurrency}, true
}

func parseAmount(raw string) (decimal.Decimal, bool) {
	cleaned := strings.ReplaceAll(raw, ".", "")
	cleaned = strings.Replace(cleaned, ",", ".", 1)
	d, err := decimal.NewFromString(cleaned)
	if err != nil || d.IsNegative() {
		return decimal.Decimal{}, false
	}
	return d.Round(2), true
}
