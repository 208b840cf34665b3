package gateway

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/roach88/querygate/internal/frame"
)

// ErrorCode categorizes a failed invocation.
type ErrorCode string

const (
	// ErrCodeMalformed means the body was not a usable query request.
	ErrCodeMalformed ErrorCode = "MALFORMED_REQUEST"

	// ErrCodeValidation means the statement was rejected before execution.
	ErrCodeValidation ErrorCode = "VALIDATION_FAILED"

	// ErrCodeExecution means the store rejected a validated statement.
	ErrCodeExecution ErrorCode = "EXECUTION_FAILED"

	// ErrCodeTimeout means the statement ran past the configured ceiling.
	ErrCodeTimeout ErrorCode = "QUERY_TIMEOUT"

	// ErrCodeTooLarge means the body exceeded the transport's size limit.
	ErrCodeTooLarge ErrorCode = "PAYLOAD_TOO_LARGE"

	// ErrCodeRateLimited means the caller was over its request rate.
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"

	// ErrCodeInternal means the gateway itself failed.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Reasons for malformed requests. Validation reasons come from the
// validate package.
const (
	ReasonInvalidJSON  = "invalid_json"
	ReasonMissingSQL   = "missing_sql"
	ReasonInvalidLimit = "invalid_limit"
)

// Refusal is why the transport turned a call away before its body could be
// used. A refused call is still logged.
type Refusal string

const (
	RefusalBodyTooLarge Refusal = "body_too_large"
	RefusalRateLimited  Refusal = "rate_limited"
	RefusalUnreadable   Refusal = "unreadable_body"
)

func refusalError(r Refusal) *Error {
	switch r {
	case RefusalBodyTooLarge:
		return &Error{Code: ErrCodeTooLarge, Reason: string(r), Message: "request body exceeds the size limit"}
	case RefusalRateLimited:
		return &Error{Code: ErrCodeRateLimited, Reason: string(r), Message: "too many requests; slow down"}
	default:
		return &Error{Code: ErrCodeMalformed, Reason: string(r), Message: "request body could not be read"}
	}
}

// Error is a failed invocation as seen by the caller.
type Error struct {
	Code ErrorCode

	// Reason is a stable machine-readable sub-code, e.g. "not_select".
	Reason string

	Message string

	// Detail carries raw engine text for execution failures.
	Detail string

	Err error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Status maps the error code to an HTTP status.
func (e *Error) Status() int {
	switch e.Code {
	case ErrCodeMalformed, ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeExecution:
		return http.StatusUnprocessableEntity
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Kind is the caller-facing error kind written to failure bodies.
func (e *Error) Kind() string {
	switch e.Code {
	case ErrCodeMalformed, ErrCodeTooLarge:
		return frame.KindMalformed
	case ErrCodeValidation:
		return frame.KindValidation
	case ErrCodeExecution:
		return frame.KindExecution
	case ErrCodeTimeout:
		return frame.KindTimeout
	case ErrCodeRateLimited:
		return frame.KindThrottled
	default:
		return frame.KindInternal
	}
}

// IsRejection reports whether err turned the request away before execution.
func IsRejection(err error) bool {
	var ge *Error
	if !errors.As(err, &ge) {
		return false
	}
	switch ge.Code {
	case ErrCodeMalformed, ErrCodeValidation, ErrCodeTooLarge, ErrCodeRateLimited:
		return true
	}
	return false
}
