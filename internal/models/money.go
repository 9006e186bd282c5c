package models

import "github.com/shopspring/decimal"

// FormatCents renders an integer amount of cents as a decimal string, e.g. 150000 -> "1500.00".
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
