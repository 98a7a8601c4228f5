// Package units renders metric values for humans.
package units

import (
	"math"
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"
)

// Kind selects how a metric value is rendered.
type Kind int

const (
	KindNumber Kind = iota
	KindCurrency
	KindPercent
)

var (
	percentWords  = map[string]bool{"margin": true, "margins": true, "percent": true, "percentage": true, "pct": true, "rate": true, "rates": true}
	currencyWords = map[string]bool{"sales": true, "expense": true, "expenses": true, "revenue": true, "profit": true, "profits": true, "cost": true, "costs": true}
)

// KindOf infers the unit from a dotted metric path. Only whole path words
// count, so "reports.generated" is a plain number while "fuel.conversion_rate"
// is a percentage. Percent words win over currency words.
func KindOf(metric string) Kind {
	words := strings.FieldsFunc(strings.ToLower(metric), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	kind := KindNumber
	for _, w := range words {
		switch {
		case percentWords[w]:
			return KindPercent
		case currencyWords[w]:
			kind = KindCurrency
		}
	}
	return kind
}

// Format renders v according to the unit inferred from metric.
func Format(metric string, v float64) string {
	switch KindOf(metric) {
	case KindCurrency:
		return Currency(v)
	case KindPercent:
		return Percent(v)
	default:
		return Number(v)
	}
}

// Currency renders 1234.5 as "$1,234.50".
func Currency(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	sign := ""
	if v < 0 {
		sign, v = "-", -v
	}
	s := humanize.CommafWithDigits(v, 2)
	// CommafWithDigits trims trailing zeros.
	if i := strings.IndexByte(s, '.'); i < 0 {
		s += ".00"
	} else if len(s)-i == 2 {
		s += "0"
	}
	return sign + "$" + s
}

// Percent renders 12.345 as "12.3%".
func Percent(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return humanize.FtoaWithDigits(v, 1) + "%"
}

// Number renders 1234567.891 as "1,234,567.89".
func Number(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return humanize.CommafWithDigits(v, 2)
}
