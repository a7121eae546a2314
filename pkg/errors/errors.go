package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Code classifies a failure for clients. The HTTP status, retry hint and
// what may be echoed back all hang off the code.
type Code string

const (
	CodeValidation             Code = "VALIDATION_ERROR"
	CodeUnauthorized           Code = "UNAUTHORIZED"
	CodeRequiresAuthentication Code = "REQUIRES_AUTHENTICATION"
	CodeNotFound               Code = "NOT_FOUND"
	CodeOutOfStock             Code = "OUT_OF_STOCK"
	CodePriceUnavailable       Code = "PRICE_UNAVAILABLE"
	CodeItemLimitExceeded      Code = "ITEM_LIMIT_EXCEEDED"
	CodeMergeConflict          Code = "MERGE_CONFLICT"
	CodeConflict               Code = "CONFLICT"
	CodeIdempotency            Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit              Code = "RATE_LIMIT_EXCEEDED"
	CodePayloadTooLarge        Code = "PAYLOAD_TOO_LARGE"
	CodeInternal               Code = "INTERNAL_ERROR"
	CodeDependency             Code = "DEPENDENCY_ERROR"
)

// exposure controls which parts of an Error reach the response body.
type exposure uint8

const (
	exposeMessage exposure = 1 << iota
	exposeDetails
)

type codeSpec struct {
	status    int
	retryable bool
	fallback  string
	exposes   exposure
}

var specs = map[Code]codeSpec{
	CodeValidation:             {http.StatusBadRequest, false, "validation failed", exposeMessage | exposeDetails},
	CodeUnauthorized:           {http.StatusUnauthorized, false, "authentication required", exposeMessage},
	CodeRequiresAuthentication: {http.StatusUnauthorized, false, "sign in to use this cart", exposeMessage | exposeDetails},
	CodeNotFound:               {http.StatusNotFound, false, "resource not found", exposeMessage},
	CodeOutOfStock:             {http.StatusConflict, false, "item out of stock", exposeDetails},
	CodePriceUnavailable:       {http.StatusConflict, true, "price unavailable", exposeDetails},
	CodeItemLimitExceeded:      {http.StatusUnprocessableEntity, false, "cart item limit reached", exposeDetails},
	CodeMergeConflict:          {http.StatusOK, false, "some items could not be merged", exposeDetails},
	CodeConflict:               {http.StatusConflict, false, "conflict detected", exposeMessage},
	CodeIdempotency:            {http.StatusConflict, false, "idempotency key reused", exposeMessage | exposeDetails},
	CodeRateLimit:              {http.StatusTooManyRequests, false, "rate limit exceeded", exposeMessage},
	CodePayloadTooLarge:        {http.StatusRequestEntityTooLarge, false, "request body too large", exposeMessage},
	CodeInternal:               {http.StatusInternalServerError, true, "internal server error", 0},
	CodeDependency:             {http.StatusServiceUnavailable, true, "dependency unavailable", exposeDetails},
}

func (c Code) spec() codeSpec {
	if s, ok := specs[c]; ok {
		return s
	}
	return specs[CodeInternal]
}

// Status is the HTTP status for c; unknown codes map to 500.
func (c Code) Status() int { return c.spec().status }

func (c Code) Retryable() bool { return c.spec().retryable }

// PublicMessage is the text shown when the error's own message is internal.
func (c Code) PublicMessage() string { return c.spec().fallback }

// ExposesMessage reports whether the wrapped message is safe to show clients.
func (c Code) ExposesMessage() bool { return c.spec().exposes&exposeMessage != 0 }

func (c Code) ExposesDetails() bool { return c.spec().exposes&exposeDetails != 0 }

// Error is a coded failure. The message is written for the client when the
// code exposes it and for logs otherwise.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches code and message to err. A nil err behaves like New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	default:
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the code carried by err, CodeInternal for untyped errors and "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	return As(err).Code()
}

// IsRetryable reports whether the failure is worth retrying by the caller.
func IsRetryable(err error) bool {
	return err != nil && CodeOf(err).Retryable()
}
