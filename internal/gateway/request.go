package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	SQL    string  `json:"sql" validate:"required"`
	Limit  *int    `json:"limit" validate:"omitempty,gt=0"`
	Intent *string `json:"intent"`
}

// decodeRequest parses and shape-checks body. Unknown fields are ignored.
func decodeRequest(checker *validator.Validate, body []byte) (*QueryRequest, *Error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &Error{Code: ErrCodeMalformed, Reason: ReasonInvalidJSON, Message: "request body is empty"}
	}

	var req QueryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &Error{
			Code:    ErrCodeMalformed,
			Reason:  ReasonInvalidJSON,
			Message: fmt.Sprintf("request body is not a valid query request: %v", err),
			Err:     err,
		}
	}

	if err := checker.Struct(&req); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
			return nil, &Error{Code: ErrCodeMalformed, Reason: ReasonInvalidJSON, Message: err.Error(), Err: err}
		}
		fe := fieldErrs[0]
		switch fe.Field() {
		case "sql":
			return nil, &Error{Code: ErrCodeMalformed, Reason: ReasonMissingSQL, Message: "field \"sql\" is required", Err: err}
		case "limit":
			return nil, &Error{Code: ErrCodeMalformed, Reason: ReasonInvalidLimit, Message: "field \"limit\" must be a positive integer", Err: err}
		default:
			return nil, &Error{Code: ErrCodeMalformed, Reason: ReasonInvalidJSON,
				Message: fmt.Sprintf("field %q failed %s", fe.Field(), fe.Tag()), Err: err}
		}
	}
	return &req, nil
}

// newChecker returns a validator that reports json field names.
func newChecker() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
