package validation

import (
	"regexp"
	"strings"
)

// Three-letter currency code, upper case (USD, EUR, GBP).
var currencyRe = regexp.MustCompile(`^[A-Z]{3}$`)

// Asset IDs are path segments: letters, digits, dot, dash, underscore, colon.
var assetIDRe = regexp.MustCompile(`^[A-Za-z0-9._:\-]{1,128}$`)

// NormalizeCurrency trims and upper-cases a currency code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsCurrencyCode reports whether code is a three-letter upper-case code.
func IsCurrencyCode(code string) bool {
	return currencyRe.MatchString(code)
}

func IsValidAssetID(id string) bool {
	return assetIDRe.MatchString(id)
}
