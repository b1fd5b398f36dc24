// Package ledger talks to the external token ledger. The ledger offers no
// idempotency, so every failure says whether the operation may still have
// taken effect.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Op names a ledger operation.
type Op string

const (
	OpCredit  Op = "credit"
	OpDebit   Op = "debit"
	OpBalance Op = "balance"
)

// Ledger is the token ledger used for settlement.
type Ledger interface {
	// Credit mints amount to the player.
	Credit(ctx context.Context, to string, amount decimal.Decimal) (txRef string, err error)
	// Debit moves amount from the player to the house.
	Debit(ctx context.Context, from, to string, amount decimal.Decimal) (txRef string, err error)
	BalanceOf(ctx context.Context, addr string) (decimal.Decimal, error)
}

// Error is a failed ledger operation. Ambiguous means the request may have
// reached the ledger and been applied even though no confirmation came back;
// TxRef is set when a transaction was already built.
type Error struct {
	Op        Op
	Ambiguous bool
	TxRef     string
	Err       error
}

func (e *Error) Error() string {
	state := "failed"
	if e.Ambiguous {
		state = "outcome unknown"
	}
	if e.TxRef != "" {
		return fmt.Sprintf("ledger %s %s (tx %s): %v", e.Op, state, e.TxRef, e.Err)
	}
	return fmt.Sprintf("ledger %s %s: %v", e.Op, state, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsAmbiguous reports whether err is a ledger error of unknown outcome.
func IsAmbiguous(err error) bool {
	var le *Error
	return errors.As(err, &le) && le.Ambiguous
}
