// Package money centralizes the rounding policy for prices, costs and
// quantities. All rounding is half-up, matching the fiscal documents the
// sale ledger feeds.
package money

import "github.com/shopspring/decimal"

// Round rounds a monetary amount to 2 decimal places, half-up.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// RoundCost rounds a unit cost to 4 decimal places, half-up. Costs keep two
// extra places so small per-unit values survive multiplication.
func RoundCost(d decimal.Decimal) decimal.Decimal {
	return d.Round(4)
}

// RoundQty rounds an exploded quantity to 6 decimal places, half-up.
// Recipe quantities per unit can be tiny fractions; six places keeps the
// aggregation stable across selection order.
func RoundQty(d decimal.Decimal) decimal.Decimal {
	return d.Round(6)
}

// RoundIntakeQty rounds an order-intake quantity to 3 decimal places.
func RoundIntakeQty(d decimal.Decimal) decimal.Decimal {
	return d.Round(3)
}

// Percent returns part/whole as a percentage rounded to 2 decimal places.
// A zero whole yields zero rather than a division error.
func Percent(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return Round(part.Div(whole).Mul(decimal.NewFromInt(100)))
}
