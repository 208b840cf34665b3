// Package server exposes the gateway over HTTP with echo.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/bytes"
	"github.com/rs/zerolog"

	"github.com/roach88/querygate/internal/auditlog"
	"github.com/roach88/querygate/internal/config"
	"github.com/roach88/querygate/internal/gateway"
)

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// EntryReader looks up logged invocations.
type EntryReader interface {
	Get(ctx context.Context, id string) (*auditlog.Entry, error)
}

// Deps wires a Server.
type Deps struct {
	Gateway *gateway.Service
	DB      Pinger
	Logs    EntryReader
	Logger  zerolog.Logger
	Version string
}

// Server holds the Echo app and dependencies.
type Server struct {
	Echo      *echo.Echo
	cfg       config.ServerConfig
	bodyLimit int64
	gateway   *gateway.Service
	db        Pinger
	logs      EntryReader
	logger    zerolog.Logger
	version   string
}

const (
	queryRoute       = "/query"
	defaultBodyLimit = 1 << 20
)

func isQueryRoute(c echo.Context) bool {
	return c.Path() == queryRoute
}

// New builds the Echo server and registers routes.
func New(cfg config.ServerConfig, d Deps) *Server {
	logger := d.Logger.With().Str("component", "server").Logger()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	bodyLimit, err := bytes.Parse(cfg.BodyLimit)
	if err != nil || bodyLimit <= 0 {
		logger.Warn().Err(err).Str("body_limit", cfg.BodyLimit).Msg("invalid body limit; using 1M")
		bodyLimit = defaultBodyLimit
	}

	e.Use(middleware.Recover())
	e.Use(requestLogger(logger))
	// /query enforces the limit itself so that oversized calls are logged.
	e.Use(middleware.BodyLimitWithConfig(middleware.BodyLimitConfig{
		Skipper: isQueryRoute,
		Limit:   strconv.FormatInt(bodyLimit, 10) + "B",
	}))
	if cfg.RateLimit > 0 {
		e.Use(newRateLimiter(cfg.RateLimit, cfg.RateBurst).middleware())
	}

	s := &Server{
		Echo:      e,
		cfg:       cfg,
		bodyLimit: bodyLimit,
		gateway:   d.Gateway,
		db:        d.DB,
		logs:      d.Logs,
		logger:    logger,
		version:   d.Version,
	}

	e.POST(queryRoute, s.handleQuery)
	e.GET("/health", s.handleHealth)
	e.GET("/logs/:id", s.handleLog)

	return s
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.Shutdown(sctx); err != nil {
			s.logger.Error().Err(err).Msg("shutdown")
		}
	}()

	s.logger.Info().Str("addr", s.cfg.Addr).Msg("listening")
	if err := s.Echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}

// requestLogger writes one zerolog line per request.
func requestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:       true,
		LogMethod:       true,
		LogURIPath:      true,
		LogLatency:      true,
		LogRemoteIP:     true,
		LogResponseSize: true,
		LogError:        true,
		HandleError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := logger.Info()
			if v.Error != nil || v.Status >= 500 {
				ev = logger.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("path", v.URIPath).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("client_ip", v.RemoteIP).
				Int64("bytes", v.ResponseSize).
				Msg("request processed")
			return nil
		},
	})
}
