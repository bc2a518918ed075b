// Package pricing implements the price recalculation policy.
package pricing

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Recalculate returns oldPrice adjusted by percent:
//
//	newPrice = oldPrice * (1 + percent/100)
//
// Percent may be negative (markdown). The result is intentionally not
// clamped at zero: a markdown below -100% drives the price negative, and
// deciding what that should mean is left to the caller.
func Recalculate(oldPrice, percent decimal.Decimal) decimal.Decimal {
	return oldPrice.Mul(decimal.NewFromInt(1).Add(percent.Div(hundred)))
}
