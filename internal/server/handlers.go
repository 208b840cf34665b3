package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/roach88/querygate/internal/auditlog"
	"github.com/roach88/querygate/internal/gateway"
	"github.com/roach88/querygate/internal/response"
)

// IntentHeader carries the caller's intent when the body has none.
const IntentHeader = "X-Query-Intent"

const healthPingTimeout = 2 * time.Second

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Version  string `json:"version,omitempty"`
}

func (s *Server) handleQuery(c echo.Context) error {
	req := c.Request()
	inv := gateway.Invocation{
		Method:       req.Method,
		Endpoint:     req.URL.Path,
		IntentHeader: req.Header.Get(IntentHeader),
	}

	body, err := readBody(req.Body, s.bodyLimit)
	inv.Body = body
	switch {
	case errors.Is(err, errBodyTooLarge):
		inv.Refused = gateway.RefusalBodyTooLarge
	case err != nil:
		s.logger.Warn().Err(err).Msg("read request body")
		inv.Refused = gateway.RefusalUnreadable
	}
	if throttled, _ := c.Get(throttledKey).(bool); throttled {
		inv.Refused = gateway.RefusalRateLimited
	}

	out := s.gateway.Handle(req.Context(), inv)

	if out.Err != nil {
		apiErr := response.APIError{
			Message:  out.Err.Message,
			Error:    out.Err.Kind(),
			Reason:   out.Err.Reason,
			Detail:   out.Err.Detail,
			Status:   out.Status,
			LogID:    out.LogID,
			Warnings: out.Warnings,
		}
		// Oversized failure bodies follow the same display policy as results.
		if out.Framed.Truncated {
			apiErr.Detail = ""
			apiErr.Preview = out.Framed.Display
			apiErr.Truncated = true
			apiErr.ResponseSize = out.Framed.Size
		}
		return response.Fail(c, apiErr)
	}

	qr := response.QueryResponse{
		Truncated:    out.Framed.Truncated,
		ResponseSize: out.Framed.Size,
		Status:       out.Status,
		LogID:        out.LogID,
		Warnings:     out.Warnings,
	}
	if out.Framed.Truncated {
		qr.Preview = out.Framed.Display
	} else {
		qr.Data = json.RawMessage(out.Framed.Full)
	}
	return response.Query(c, qr)
}

var errBodyTooLarge = errors.New("request body too large")

// readBody reads at most limit bytes. A longer body returns the first limit
// bytes with errBodyTooLarge.
func readBody(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return body, err
	}
	if int64(len(body)) > limit {
		return body[:limit], errBodyTooLarge
	}
	return body, nil
}

func (s *Server) handleHealth(c echo.Context) error {
	status := HealthStatus{Status: "ok", Database: "ok", Version: s.version}
	if s.db == nil {
		status.Database = "unconfigured"
	} else {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthPingTimeout)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("health check: database unreachable")
			status.Database = "unreachable"
		}
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) handleLog(c echo.Context) error {
	if s.logs == nil {
		return response.InternalError(c, "audit log is not configured", "")
	}
	id := c.Param("id")
	entry, err := s.logs.Get(c.Request().Context(), id)
	switch {
	case errors.Is(err, auditlog.ErrEntryNotFound):
		return response.NotFound(c, "log entry not found", id)
	case auditlog.IsCorruptError(err):
		return response.InternalError(c, "audit log is corrupt; run --repair-log", err.Error())
	case err != nil:
		return response.InternalError(c, "could not read audit log", err.Error())
	}
	return response.OK(c, entry, "")
}
