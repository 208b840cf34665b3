// Package response holds the JSON envelopes the HTTP server writes.
package response

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// APIResponse is the standard success response shape.
type APIResponse struct {
	Data    any    `json:"data"`
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
	Path    string `json:"path"`
}

// QueryResponse is the success shape for /query. Data holds the full result
// when it fits the display threshold; otherwise Data is null and Preview
// holds the truncated text.
type QueryResponse struct {
	Data         any      `json:"data"`
	Preview      string   `json:"preview,omitempty"`
	Truncated    bool     `json:"truncated"`
	ResponseSize int      `json:"response_size"`
	Status       int      `json:"status"`
	Path         string   `json:"path"`
	LogID        string   `json:"log_id,omitempty"`
	Warnings     []string `json:"warnings"`
}

// APIError is the standard error response shape.
type APIError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Detail  string `json:"detail,omitempty"`

	// Preview replaces Detail when the failure body was too large to show.
	Preview      string `json:"preview,omitempty"`
	Truncated    bool   `json:"truncated,omitempty"`
	ResponseSize int    `json:"response_size,omitempty"`

	Path     string   `json:"path"`
	Status   int      `json:"status"`
	LogID    string   `json:"log_id,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// pathFromContext returns the request path from Echo context.
func pathFromContext(c echo.Context) string {
	if c == nil || c.Request() == nil {
		return ""
	}
	return c.Request().URL.Path
}

// OK sends a 200 response with data.
func OK(c echo.Context, data any, message string) error {
	return c.JSON(http.StatusOK, APIResponse{
		Data:    data,
		Status:  http.StatusOK,
		Message: message,
		Path:    pathFromContext(c),
	})
}

// Query sends a /query success body. Path is filled in from the request.
func Query(c echo.Context, body QueryResponse) error {
	body.Path = pathFromContext(c)
	if body.Status == 0 {
		body.Status = http.StatusOK
	}
	if body.Warnings == nil {
		body.Warnings = []string{}
	}
	return c.JSON(body.Status, body)
}

// Fail sends a fully populated APIError. Path is filled in from the request.
func Fail(c echo.Context, body APIError) error {
	body.Path = pathFromContext(c)
	return c.JSON(body.Status, body)
}

// Error sends a JSON error response using APIError.
func Error(c echo.Context, status int, message, errDetail string) error {
	return Fail(c, APIError{Message: message, Error: errDetail, Status: status})
}

// BadRequest sends 400 with message and error detail.
func BadRequest(c echo.Context, message, errDetail string) error {
	return Error(c, http.StatusBadRequest, message, errDetail)
}

// NotFound sends 404 with message and error detail.
func NotFound(c echo.Context, message, errDetail string) error {
	return Error(c, http.StatusNotFound, message, errDetail)
}

// TooManyRequests sends 429.
func TooManyRequests(c echo.Context) error {
	return Error(c, http.StatusTooManyRequests, "too many requests", "rate_limited")
}

// InternalError sends 500 with message and error detail.
func InternalError(c echo.Context, message, errDetail string) error {
	return Error(c, http.StatusInternalServerError, message, errDetail)
}
