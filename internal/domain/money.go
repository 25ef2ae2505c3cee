package domain

import "github.com/shopspring/decimal"

// FormatCents renders a cent amount as dollars, e.g. 4000 -> "$40.00".
func FormatCents(cents int64) string {
	d := decimal.New(cents, -2)
	if d.IsNegative() {
		return "-$" + d.Neg().StringFixed(2)
	}
	return "$" + d.StringFixed(2)
}
