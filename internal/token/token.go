package token

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

var ErrNegative = errors.New("token amount must not be negative")

// Token describes how the ledger scales amounts: 1 token = 10^Decimals
// base units.
type Token struct {
	Symbol   string // e.g. "ZXC"
	Decimals int32  // e.g. 18
}

// Truncate drops precision the ledger cannot represent. Payouts round down,
// never in the player's favour by a fraction of a unit.
func (t Token) Truncate(amount decimal.Decimal) decimal.Decimal {
	return amount.Truncate(t.Decimals)
}

// ToBase converts a token amount to base units.
func (t Token) ToBase(amount decimal.Decimal) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, ErrNegative
	}
	return t.Truncate(amount).Shift(t.Decimals).BigInt(), nil
}

// FromBase converts base units to a token amount.
func (t Token) FromBase(units *big.Int) decimal.Decimal {
	if units == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(units, -t.Decimals)
}
