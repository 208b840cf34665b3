package validate

import "fmt"

// Reason identifies why a statement was rejected.
type Reason string

const (
	// ReasonEmpty indicates the input contained no statement text.
	ReasonEmpty Reason = "empty_statement"

	// ReasonMultipleStatements indicates content after a statement terminator.
	ReasonMultipleStatements Reason = "multiple_statements"

	// ReasonNotSelect indicates the first token is not SELECT.
	ReasonNotSelect Reason = "not_select"

	// ReasonForbiddenKeyword indicates a data-definition or data-modification
	// keyword appeared outside string literals and comments.
	ReasonForbiddenKeyword Reason = "forbidden_keyword"

	// ReasonUnterminated indicates a string literal, quoted identifier or
	// block comment was never closed.
	ReasonUnterminated Reason = "unterminated_literal"
)

// Error is a statement rejection. It is always caller-visible.
type Error struct {
	// Reason is the machine-readable rejection code.
	Reason Reason

	// Message is a human-readable description.
	Message string

	// Keyword is the offending token for ReasonNotSelect and
	// ReasonForbiddenKeyword rejections.
	Keyword string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func reject(reason Reason, keyword, format string, args ...any) *Error {
	return &Error{
		Reason:  reason,
		Message: fmt.Sprintf(format, args...),
		Keyword: keyword,
	}
}
