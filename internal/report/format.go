package report

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Money formats v as dollars with thousands separators, rounded half away
// from zero to cents
func Money(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Ratio(v)
	}
	d := decimal.NewFromFloat(v).Round(2)
	sign := ""
	if d.IsNegative() {
		sign = "-"
	}
	fixed := d.Abs().StringFixed(2)
	whole, cents, _ := strings.Cut(fixed, ".")
	return sign + "$" + group(whole) + "." + cents
}

func group(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// Percent formats a value already expressed in percent
func Percent(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Ratio(v)
	}
	return decimal.NewFromFloat(v).StringFixed(2) + "%"
}

// Ratio formats a dimensionless metric, spelling out non-finite values
func Ratio(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsNaN(v):
		return "n/a"
	}
	return fmt.Sprintf("%.2f", v)
}

// jsonFloat keeps finite values numeric and renders the rest as strings,
// which encoding/json cannot represent
func jsonFloat(v float64) any {
	switch {
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	case math.IsNaN(v):
		return "NaN"
	}
	return v
}
