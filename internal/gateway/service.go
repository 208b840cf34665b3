package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/roach88/querygate/internal/auditlog"
	"github.com/roach88/querygate/internal/executor"
	"github.com/roach88/querygate/internal/frame"
	"github.com/roach88/querygate/internal/intent"
	"github.com/roach88/querygate/internal/validate"
)

// Default row limits.
const (
	DefaultLimit = 1000
	MaxLimit     = 10000
)

// State is a step in the life of one invocation.
type State string

const (
	StateReceived        State = "received"
	StateValidated       State = "validated"
	StateRejected        State = "rejected"
	StateExecuted        State = "executed"
	StateExecutionFailed State = "execution_failed"
	StateFramed          State = "framed"
	StateLogged          State = "logged"
	StateResponded       State = "responded"
)

// Appender is the part of the audit log the gateway writes to.
type Appender interface {
	Append(ctx context.Context, e auditlog.Entry) (*auditlog.AppendResult, error)
}

// Invocation is one inbound call.
type Invocation struct {
	Method   string
	Endpoint string

	// Body is the raw request body, logged exactly as received.
	Body []byte

	// IntentHeader is the X-Query-Intent header. A body intent wins.
	IntentHeader string

	// Refused is set when the transport turned the call away. Body then
	// holds whatever was read before the refusal.
	Refused Refusal
}

// Outcome is everything the transport needs to answer the caller.
type Outcome struct {
	Status int
	Framed *frame.Framed

	// LogID is empty when the append failed.
	LogID string

	Warnings []string

	// Err is set for every non-200 outcome.
	Err *Error

	// States lists the transitions taken, in order.
	States []State

	RowCount int
}

func (o *Outcome) enter(s State) {
	o.States = append(o.States, s)
}

func (o *Outcome) warn(format string, args ...any) {
	o.Warnings = append(o.Warnings, fmt.Sprintf(format, args...))
}

// Deps wires a Service.
type Deps struct {
	Validator validate.Validator
	Executor  executor.Executor
	Framer    *frame.Framer
	Log       Appender
	IDs       auditlog.IDGenerator
	Now       func() time.Time
	Logger    zerolog.Logger

	DefaultLimit int
	MaxLimit     int
}

// Service runs invocations. It is safe for concurrent use.
type Service struct {
	validator    validate.Validator
	executor     executor.Executor
	framer       *frame.Framer
	log          Appender
	ids          auditlog.IDGenerator
	now          func() time.Time
	checker      *validator.Validate
	logger       zerolog.Logger
	defaultLimit int
	maxLimit     int
}

// New builds a Service. Zero-valued optional deps get defaults.
func New(d Deps) *Service {
	if d.Validator == nil {
		d.Validator = validate.Lexical{}
	}
	if d.Framer == nil {
		d.Framer = frame.New(0, 0)
	}
	if d.IDs == nil {
		d.IDs = auditlog.RandomIDs{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.MaxLimit <= 0 {
		d.MaxLimit = MaxLimit
	}
	if d.DefaultLimit <= 0 {
		d.DefaultLimit = DefaultLimit
	}
	if d.DefaultLimit > d.MaxLimit {
		d.DefaultLimit = d.MaxLimit
	}
	return &Service{
		validator:    d.Validator,
		executor:     d.Executor,
		framer:       d.Framer,
		log:          d.Log,
		ids:          d.IDs,
		now:          d.Now,
		checker:      newChecker(),
		logger:       d.Logger.With().Str("component", "gateway").Logger(),
		defaultLimit: d.DefaultLimit,
		maxLimit:     d.MaxLimit,
	}
}

// Handle runs one invocation to completion. It never returns nil.
func (s *Service) Handle(ctx context.Context, inv Invocation) *Outcome {
	start := s.now()
	out := &Outcome{Warnings: []string{}}
	out.enter(StateReceived)

	var (
		req  *QueryRequest
		gerr *Error
	)
	if inv.Refused != "" {
		gerr = refusalError(inv.Refused)
	} else {
		req, gerr = decodeRequest(s.checker, inv.Body)
	}

	rawIntent := inv.IntentHeader
	if req != nil && req.Intent != nil {
		rawIntent = *req.Intent
	}
	intentText, warning := intent.Normalize(rawIntent)
	if warning != "" {
		out.warn("%s", warning)
	}

	var payload frame.Payload
	if gerr == nil {
		payload, gerr = s.run(ctx, req, out)
	} else {
		out.enter(StateRejected)
	}
	if gerr != nil {
		out.Err = gerr
		out.Status = gerr.Status()
		payload = failurePayload(gerr)
	} else {
		out.Status = http.StatusOK
	}

	framed, err := s.framer.Frame(payload)
	if err != nil {
		out.Err = &Error{Code: ErrCodeInternal, Message: "could not serialize response", Err: err}
		out.Status = out.Err.Status()
		// A failure body only holds strings, so this cannot fail again.
		framed, _ = s.framer.Frame(failurePayload(out.Err))
	}
	out.Framed = framed
	out.enter(StateFramed)

	s.append(ctx, inv, start, intentText, out)
	out.enter(StateResponded)

	var ev *zerolog.Event
	switch {
	case out.Err == nil:
		ev = s.logger.Info()
	case IsRejection(out.Err):
		ev = s.logger.Info().Str("reason", out.Err.Reason)
	case out.Status >= 500:
		ev = s.logger.Error().Err(out.Err)
	default:
		ev = s.logger.Warn().Err(out.Err)
	}
	ev.Str("log_id", out.LogID).
		Int("status", out.Status).
		Int("rows", out.RowCount).
		Int("response_size", framed.Size).
		Bool("truncated", framed.Truncated).
		Dur("elapsed", s.now().Sub(start)).
		Msg("query handled")

	return out
}

// run validates and executes a decoded request.
func (s *Service) run(ctx context.Context, req *QueryRequest, out *Outcome) (frame.Payload, *Error) {
	stmt, err := s.validator.Validate(req.SQL)
	if err != nil {
		out.enter(StateRejected)
		var ve *validate.Error
		if errors.As(err, &ve) {
			return nil, &Error{Code: ErrCodeValidation, Reason: string(ve.Reason), Message: ve.Message, Err: err}
		}
		return nil, &Error{Code: ErrCodeValidation, Message: err.Error(), Err: err}
	}
	out.enter(StateValidated)

	limit := s.defaultLimit
	if req.Limit != nil {
		limit = *req.Limit
		if limit > s.maxLimit {
			out.warn("limit %d exceeds the maximum of %d; clamped", limit, s.maxLimit)
			limit = s.maxLimit
		}
	}

	if s.executor == nil {
		out.enter(StateExecutionFailed)
		return nil, &Error{Code: ErrCodeInternal, Message: "no database is configured"}
	}

	res, err := s.executor.Execute(ctx, stmt, limit)
	if err != nil {
		out.enter(StateExecutionFailed)
		var ee *executor.ExecutionError
		if !errors.As(err, &ee) {
			return nil, &Error{Code: ErrCodeInternal, Message: "query could not be run", Detail: err.Error(), Err: err}
		}
		code := ErrCodeExecution
		if ee.Timeout {
			code = ErrCodeTimeout
		}
		return nil, &Error{Code: code, Message: ee.Message, Detail: ee.RawEngineText, Err: err}
	}
	out.enter(StateExecuted)
	out.RowCount = res.RowCount()

	return frame.Success{Query: stmt.SQL, Result: res}, nil
}

// append writes the single log entry for this invocation.
func (s *Service) append(ctx context.Context, inv Invocation, start time.Time, intentText *string, out *Outcome) {
	if s.log == nil {
		out.warn("audit log is not configured; this call was not logged")
		return
	}

	ts := start.UTC()
	entry := auditlog.Entry{
		ID:           s.ids.NewID(ts),
		Timestamp:    ts,
		Method:       inv.Method,
		Endpoint:     inv.Endpoint,
		Intent:       intentText,
		RequestBody:  string(inv.Body),
		Response:     out.Framed.Full,
		ResponseSize: out.Framed.Size,
		Truncated:    out.Framed.Truncated,
		StatusCode:   out.Status,
	}

	res, err := s.log.Append(context.WithoutCancel(ctx), entry)
	if err != nil {
		s.logger.Error().Err(err).Str("id", entry.ID).Msg("audit log append failed")
		out.warn("audit log write failed: %v", err)
		return
	}
	if res.RecoveredBackup != "" {
		out.warn("audit log was unreadable; previous contents preserved at %s", res.RecoveredBackup)
	}
	out.LogID = entry.ID
	out.enter(StateLogged)
}

func failurePayload(e *Error) frame.Failure {
	return frame.Failure{Kind: e.Kind(), Reason: e.Reason, Message: e.Message, Detail: e.Detail}
}
