package apperrors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Validation errors
	CodeStakeInvalid    Code = "STAKE_INVALID"
	CodeSelectorInvalid Code = "SELECTOR_INVALID"
	CodePlayerInvalid   Code = "PLAYER_INVALID"
	CodeFamilyUnknown   Code = "FAMILY_UNKNOWN"
	CodeModeMismatch    Code = "MODE_MISMATCH"
	CodeRoundLocked     Code = "ROUND_LOCKED"
	CodeRoundOpen       Code = "ROUND_OPEN"
	CodeActionInvalid   Code = "ACTION_INVALID"

	// Funds
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"

	// Session errors
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeSessionNotFound Code = "SESSION_NOT_FOUND"
	CodeSessionNotOwned Code = "SESSION_NOT_OWNED"
	CodeSessionBusy     Code = "SESSION_BUSY"
	CodeSessionSettled  Code = "SESSION_SETTLED"

	// Ledger errors
	CodeLedgerFailed    Code = "LEDGER_FAILED"
	CodeLedgerAmbiguous Code = "LEDGER_AMBIGUOUS"

	// Idempotency
	CodeWagerInProgress Code = "WAGER_IN_PROGRESS"
	// CodeKeyReused means the key already names a different wager.
	CodeKeyReused Code = "IDEMPOTENCY_KEY_REUSED"

	CodeInternal Code = "INTERNAL"
)

// Kind groups codes by what the caller should do next.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindSession           Kind = "session"
	KindLedger            Kind = "ledger"
	KindConflict          Kind = "conflict"
	KindInternal          Kind = "internal"
)

// Kind returns the taxonomy group of the code.
func (c Code) Kind() Kind {
	switch c {
	case CodeStakeInvalid, CodeSelectorInvalid, CodePlayerInvalid, CodeFamilyUnknown,
		CodeModeMismatch, CodeRoundLocked, CodeRoundOpen, CodeActionInvalid:
		return KindValidation
	case CodeInsufficientFunds:
		return KindInsufficientFunds
	case CodeUnauthenticated, CodeSessionNotFound, CodeSessionNotOwned, CodeSessionBusy, CodeSessionSettled:
		return KindSession
	case CodeLedgerFailed, CodeLedgerAmbiguous:
		return KindLedger
	case CodeWagerInProgress, CodeKeyReused:
		return KindConflict
	}
	return KindInternal
}

// Retryable reports whether resubmitting the same request may succeed
// without the caller changing it.
func (c Code) Retryable() bool {
	switch c {
	case CodeLedgerFailed, CodeSessionBusy, CodeWagerInProgress, CodeRoundOpen:
		return true
	}
	return false
}

// GRPCCode maps a domain code to a gRPC status code.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeStakeInvalid, CodeSelectorInvalid, CodePlayerInvalid, CodeActionInvalid:
		return codes.InvalidArgument
	case CodeFamilyUnknown, CodeSessionNotFound:
		return codes.NotFound
	case CodeModeMismatch, CodeRoundLocked, CodeRoundOpen, CodeInsufficientFunds, CodeSessionSettled:
		return codes.FailedPrecondition
	case CodeUnauthenticated:
		return codes.Unauthenticated
	case CodeSessionNotOwned:
		return codes.PermissionDenied
	case CodeSessionBusy, CodeWagerInProgress, CodeLedgerAmbiguous:
		return codes.Aborted
	case CodeKeyReused:
		return codes.AlreadyExists
	case CodeLedgerFailed:
		return codes.Unavailable
	}
	return codes.Internal
}

// HTTPStatus maps a domain code to an HTTP status.
func (c Code) HTTPStatus() int {
	switch c.GRPCCode() {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.FailedPrecondition:
		if c == CodeInsufficientFunds {
			return http.StatusPaymentRequired
		}
		return http.StatusUnprocessableEntity
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Aborted, codes.AlreadyExists:
		return http.StatusConflict
	case codes.Unavailable:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
