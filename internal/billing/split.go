package billing

import "github.com/shopspring/decimal"

// Split is a payment divided between payee and platform.
type Split struct {
	Payee    decimal.Decimal
	Platform decimal.Decimal
}

// SplitAmount gives the payee (1 - fee) of amount rounded to cents; the
// platform keeps the remainder so the parts always add up to amount.
func SplitAmount(amount, fee decimal.Decimal) Split {
	payee := amount.Mul(decimal.NewFromInt(1).Sub(fee)).Round(2)
	return Split{Payee: payee, Platform: amount.Sub(payee)}
}
