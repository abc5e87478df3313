// Package money renders monetary values for display. Pure presentation: the
// engine never computes on formatted strings.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Format renders d with a fixed number of decimals and explicit separators,
// e.g. Format(d, 2, ",", ".") renders 1234.5 as "1.234,50". Separators are
// caller-supplied instead of locale-derived so output stays deterministic.
func Format(d decimal.Decimal, decimals int32, decimalPoint, thousandsSep string) string {
	if decimals < 0 {
		decimals = 0
	}
	fixed := d.StringFixed(decimals)

	negative := strings.HasPrefix(fixed, "-")
	if negative {
		fixed = fixed[1:]
	}

	intPart := fixed
	fracPart := ""
	if idx := strings.IndexByte(fixed, '.'); idx >= 0 {
		intPart = fixed[:idx]
		fracPart = fixed[idx+1:]
	}

	var b strings.Builder
	if negative {
		b.WriteByte('-')
	}
	writeGrouped(&b, intPart, thousandsSep)
	if fracPart != "" {
		b.WriteString(decimalPoint)
		b.WriteString(fracPart)
	}
	return b.String()
}

func writeGrouped(b *strings.Builder, digits, sep string) {
	n := len(digits)
	for i := 0; i < n; i++ {
		if i > 0 && (n-i)%3 == 0 {
			b.WriteString(sep)
		}
		b.WriteByte(digits[i])
	}
}
