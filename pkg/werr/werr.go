// Package werr provides the structured error taxonomy shared by every
// wallet component. Kinds are stable; messages are diagnostic only.
package werr

import (
	"errors"
	"fmt"
	"sort"
)

// Kind is a stable, machine-readable error classification.
type Kind string

// Taxonomy kinds. Numeric exit codes are not exposed here because the
// CLI surface that would consume them is out of scope for this module;
// callers embedding this in a CLI can map Kind to their own exit codes.
const (
	KindInvalidStructure    Kind = "INVALID_STRUCTURE"
	KindInvalidHandle       Kind = "INVALID_HANDLE"
	KindWalletAlreadyOpen   Kind = "WALLET_ALREADY_OPEN"
	KindWalletAlreadyExists Kind = "WALLET_ALREADY_EXISTS"
	KindWalletNotFound      Kind = "WALLET_NOT_FOUND"
	KindWalletItemNotFound  Kind = "WALLET_ITEM_NOT_FOUND"
	KindWalletItemExists    Kind = "WALLET_ITEM_ALREADY_EXISTS"
	KindAccessFailed        Kind = "ACCESS_FAILED"
	KindUnknownStorageType  Kind = "UNKNOWN_STORAGE_TYPE"
	KindWalletQueryError    Kind = "WALLET_QUERY_ERROR"
	KindStorage             Kind = "STORAGE"
	KindIOError             Kind = "IO_ERROR"
)

// Error is the structured error type used throughout the wallet.
type Error struct {
	Kind    Kind              // Machine-readable classification
	Message string            // Human-readable message
	Details map[string]string // Additional context
	Cause   error             // Underlying error
}

func (e *Error) Error() string {
	msg := e.Message

	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			msg = fmt.Sprintf("%s (%s: %s)", msg, k, e.Details[k])
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is by comparing Kind, so errors.Is(err,
// werr.New(KindWalletNotFound, "")) matches regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and context to an underlying error, preserving the
// cause for errors.Unwrap/errors.As chains.
func Wrap(kind Kind, cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// WithDetails returns a copy of err with details attached, if err is (or
// wraps) an *Error; otherwise it wraps err as KindStorage.
func WithDetails(err error, details map[string]string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return &Error{Kind: e.Kind, Message: e.Message, Details: details, Cause: e.Cause}
	}
	return &Error{Kind: KindStorage, Message: err.Error(), Details: details, Cause: err}
}

// Is reports whether the first *Error in err's chain carries the given
// Kind; a Kind carried only by a deeper *Error is not matched.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
