package normalize

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnparseablePrice is returned when no price can be read from the raw
// field.
var ErrUnparseablePrice = errors.New("unparseable price")

// currencySymbols maps symbols and codes found in raw price strings to
// ISO-ish currency codes.
var currencySymbols = map[string]string{
	"$":    "USD",
	"€":    "EUR",
	"£":    "GBP",
	"฿":    "THB",
	"₹":    "INR",
	"usd":  "USD",
	"eur":  "EUR",
	"gbp":  "GBP",
	"thb":  "THB",
	"baht": "THB",
	"inr":  "INR",
}

// suffixMultipliers expand shorthand amounts like "1.2M" or "450K".
var suffixMultipliers = map[string]float64{
	"k":       1_000,
	"m":       1_000_000,
	"million": 1_000_000,
}

// priceAmountPattern captures the numeric part and an optional suffix.
var priceAmountPattern = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)*)\s*(k|m|million)?\b`)

// ParsePrice extracts a numeric amount and currency code from a raw price
// string. Currency defaults to empty when no symbol or code is present.
func ParsePrice(raw string) (amount float64, currency string, err error) {
	s := strings.TrimSpace(strings.ToLower(raw))
	if s == "" {
		return 0, "", ErrUnparseablePrice
	}

	for token, code := range currencySymbols {
		if strings.Contains(s, token) {
			currency = code
			break
		}
	}

	match := priceAmountPattern.FindStringSubmatch(s)
	if match == nil {
		return 0, "", ErrUnparseablePrice
	}

	numeric := match[1]
	suffix := match[2]

	// Commas are thousands separators; the dot stays a decimal point.
	numeric = strings.ReplaceAll(numeric, ",", "")

	amount, parseErr := strconv.ParseFloat(numeric, 64)
	if parseErr != nil {
		return 0, "", ErrUnparseablePrice
	}

	if suffix != "" {
		amount *= suffixMultipliers[suffix]
	}

	if amount <= 0 {
		return 0, "", ErrUnparseablePrice
	}

	return amount, currency, nil
}

// countPattern matches a count like "3 bed" or "2.5 bath" in free text.
var countPattern = regexp.MustCompile(`(\d+)`)

// ExtractCount pulls the first integer out of free text such as
// "3 Bedrooms" or "beds: 2". Returns 0 when no number is present.
func ExtractCount(raw string) int {
	match := countPattern.FindString(raw)
	if match == "" {
		return 0
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 0
	}
	return n
}
