package types

import (
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Result is the value-or-error shape returned across the storefront boundary.
// Exactly one of Data and Error is meaningful.
type Result[T any] struct {
	Data  *T        `json:"data,omitempty"`
	Error *APIError `json:"error,omitempty"`
}

// OK wraps data in a successful Result.
func OK[T any](data T) Result[T] {
	return Result[T]{Data: &data}
}

// Fail converts err into a failed Result.
func Fail[T any](err error) Result[T] {
	return Result[T]{Error: ErrorFrom(err)}
}

// Failed reports whether the result carries an error.
func (r Result[T]) Failed() bool {
	return r.Error != nil
}

// ErrorFrom maps err to the user-facing error shape. Messages of caller-facing
// codes are passed through; internal failures surface only the public message.
func ErrorFrom(err error) *APIError {
	if err == nil {
		return nil
	}

	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}

	meta := pkgerrors.MetadataFor(typed.Code())

	msg := meta.PublicMessage
	switch typed.Code() {
	case pkgerrors.CodeValidation,
		pkgerrors.CodeForbidden,
		pkgerrors.CodeUnauthorized,
		pkgerrors.CodeNotFound,
		pkgerrors.CodeConflict,
		pkgerrors.CodeDependency:
		if m := typed.Message(); m != "" {
			msg = m
		}
	}

	apiErr := &APIError{
		Code:    string(typed.Code()),
		Message: msg,
	}
	if meta.DetailsAllowed {
		if details := typed.Details(); details != nil {
			apiErr.Details = details
		}
	}
	return apiErr
}
