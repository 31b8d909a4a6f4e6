// Package httpapi exposes the gateway over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/straja-ai/asclepius/internal/gateway"
	"github.com/straja-ai/asclepius/internal/logging"
)

// DefaultVersion is reported by /health when Config.Version is empty.
const DefaultVersion = "1.0.0"

// Character bounds of the /evaluate fields.
const (
	MaxQueryChars    = 1000
	MaxContextChars  = 10000
	MaxResponseChars = 5000
)

// DefaultBodyLimit admits a body with every field at its bound even when each
// character arrives as a surrogate-pair escape (12 bytes): 16000 × 12 plus
// envelope stays under 256K.
const DefaultBodyLimit = "256K"

// Processor runs one transaction through the pipeline.
type Processor interface {
	Process(ctx context.Context, tx gateway.Transaction) (*gateway.Report, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Addr      string
	BodyLimit string
	Version   string
}

// Server serves /evaluate, /health and /metrics. Until a gateway is
// installed with SetGateway, /evaluate answers 503.
type Server struct {
	echo     *echo.Echo
	logger   *zap.Logger
	config   Config
	validate *validator.Validate
	registry *prometheus.Registry
	gateway  atomic.Pointer[holder]
}

type holder struct{ p Processor }

// EvaluateRequest is the body of POST /evaluate. Pointers distinguish a
// missing field from an empty one; empty strings are valid.
type EvaluateRequest struct {
	Query    *string `json:"query" validate:"required,max=1000"`
	Context  *string `json:"context" validate:"required,max=10000"`
	Response *string `json:"response" validate:"required,max=5000"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ErrorResponse carries a message, or per-field details for 422.
type ErrorResponse struct {
	Detail any `json:"detail"`
}

// FieldError describes one rejected field.
type FieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// NewServer creates the HTTP server.
func NewServer(logger *zap.Logger, cfg Config) (*Server, error) {
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = DefaultBodyLimit
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}

	registry := prometheus.NewRegistry()
	metrics, err := newHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("register http metrics: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(metrics.middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:     e,
		logger:   logger,
		config:   cfg,
		validate: newValidator(),
		registry: registry,
	}
	s.registerRoutes(metrics)
	return s, nil
}

func (s *Server) registerRoutes(m *httpMetrics) {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(m.handler()))
	s.echo.POST("/evaluate", s.handleEvaluate)
}

// SetGateway installs the pipeline; requests before this answer 503.
func (s *Server) SetGateway(p Processor) {
	if p == nil {
		s.gateway.Store(nil)
		return
	}
	s.gateway.Store(&holder{p: p})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Registry is the Prometheus registry backing /metrics.
func (s *Server) Registry() *prometheus.Registry { return s.registry }

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "operational", Version: s.config.Version})
}

func (s *Server) handleEvaluate(c echo.Context) error {
	h := s.gateway.Load()
	if h == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Detail: "Gateway not initialized"})
	}

	var req EvaluateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Detail: []FieldError{{
			Loc: []string{"body"}, Msg: "request body must be a JSON object", Type: "json_invalid",
		}}})
	}
	if err := s.validate.Struct(req); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Detail: fieldErrors(err)})
	}

	requestID := c.Response().Header().Get(echo.HeaderXRequestID)
	report, err := h.p.Process(c.Request().Context(), gateway.Transaction{
		Query:     *req.Query,
		Context:   *req.Context,
		Response:  *req.Response,
		RequestID: requestID,
	})
	if err != nil {
		s.logger.Error("transaction rejected", zap.String("request_id", requestID), logging.Err(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Detail: "Internal processing error"})
	}
	if report.Status != gateway.StatusSuccess {
		return c.JSON(http.StatusServiceUnavailable, report)
	}
	return c.JSON(http.StatusOK, report)
}

func fieldErrors(err error) []FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Loc: []string{"body"}, Msg: "invalid request", Type: "value_error"}}
	}
	out := make([]FieldError, 0, len(verrs))
	for _, v := range verrs {
		fe := FieldError{Loc: []string{"body", v.Field()}, Msg: "Invalid value", Type: v.Tag()}
		switch v.Tag() {
		case "required":
			fe.Msg, fe.Type = "Field required", "missing"
		case "max":
			fe.Msg, fe.Type = "String should have at most "+v.Param()+" characters", "string_too_long"
		}
		out = append(out, fe)
	}
	return out
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.config.Addr))
	return s.echo.Start(s.config.Addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
