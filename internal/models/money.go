package models

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// PercentOf returns floor(amount * percent / 100).
func PercentOf(amount int64, percent decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(percent).Div(hundred).Floor().IntPart()
}

// ApplyRate returns amount * rate rounded half away from zero, rate being a fraction (0.1 = 10%).
func ApplyRate(amount int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(rate).Round(0).IntPart()
}

// Subtotal sums the line totals.
func Subtotal(items []OrderItem) int64 {
	var total int64
	for _, it := range items {
		total += it.Total
	}
	return total
}
