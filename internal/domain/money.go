package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimal places kept for every stored amount.
const MoneyPlaces int32 = 2

// RoundMoney rounds to cents, half away from zero.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// NormalizeAmount rounds a caller supplied amount to cents and rejects anything that is
// not strictly positive afterwards.
func NormalizeAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	rounded := RoundMoney(amount)
	if !rounded.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidArgument)
	}
	return rounded, nil
}
