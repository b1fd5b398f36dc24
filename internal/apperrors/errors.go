// Package apperrors is the typed error taxonomy surfaced to callers. Every
// failure of a settlement carries a Code so the caller can tell "retry"
// apart from "correct the input".
package apperrors

import (
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/status"
)

// Domain is the error domain reported in gRPC error details.
const Domain = "github.com/xtding233/wager-backend"

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func WrapWithMetadata(code Code, message string, metadata map[string]string, cause error) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata, Cause: cause}
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeInternal for foreign errors and CodeUnknown for nil.
func CodeOf(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// From returns err as an *Error, wrapping foreign errors as internal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(CodeInternal, "internal error", err)
}

// ToGRPCStatus converts the error to a gRPC status carrying ErrorInfo.
func (e *Error) ToGRPCStatus() error {
	grpcCode := e.Code.GRPCCode()
	st := status.New(grpcCode, e.Message)
	md := map[string]string{"kind": string(e.Code.Kind())}
	for k, v := range e.Metadata {
		md[k] = v
	}
	if e.Code.Retryable() {
		md["retryable"] = "true"
	}
	withDetails, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   string(e.Code),
		Domain:   Domain,
		Metadata: md,
	})
	if err != nil {
		return st.Err()
	}
	return withDetails.Err()
}

// FromGRPCStatus recovers a domain error from a status produced by
// ToGRPCStatus. Statuses without ErrorInfo map to CodeInternal.
func FromGRPCStatus(err error) *Error {
	st, ok := status.FromError(err)
	if !ok {
		return From(err)
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.Domain == Domain {
			md := make(map[string]string, len(info.Metadata))
			for k, v := range info.Metadata {
				if k != "kind" && k != "retryable" {
					md[k] = v
				}
			}
			if len(md) == 0 {
				md = nil
			}
			return &Error{Code: Code(info.Reason), Message: st.Message(), Metadata: md}
		}
	}
	return &Error{Code: CodeInternal, Message: st.Message()}
}

// Annotate returns err with key=value added to its metadata. The original
// error is left untouched; foreign errors are wrapped as internal first.
func Annotate(err error, key, value string) error {
	if err == nil {
		return nil
	}
	src := From(err)
	md := make(map[string]string, len(src.Metadata)+1)
	for k, v := range src.Metadata {
		md[k] = v
	}
	md[key] = value
	return &Error{Code: src.Code, Message: src.Message, Metadata: md, Cause: src.Cause}
}
