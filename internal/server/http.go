// Package server exposes the dispatch engine over HTTP. It is the
// transport layer the core is deliberately ignorant of: it binds request
// bodies, maps GatewayError kinds to status codes, and renders streams as
// server-sent events.
package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vocoip/mcp-test/internal/core"
	"github.com/vocoip/mcp-test/internal/dispatch"
	"github.com/vocoip/mcp-test/internal/observability"
)

// Server wraps the Echo server.
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options.
type Config struct {
	// MetricsEnabled exposes Prometheus metrics on /metrics.
	MetricsEnabled bool
}

// New creates a new HTTP server over the dispatcher.
func New(d *dispatch.Dispatcher, rec *observability.Recorder, cfg *Config) *Server {
	e := echo.New()
	e.HideBanner = true

	handler := NewHandler(d, rec)

	e.Use(middleware.Recover())
	e.Use(requestIDMiddleware())

	e.GET("/health", handler.Health)
	e.GET("/models", handler.ListModels)
	e.GET("/stats", handler.Stats)
	e.POST("/generate/:model", handler.Generate)
	e.POST("/generate_all", handler.GenerateAll)
	e.POST("/conversation", handler.Conversation)
	e.POST("/conversation_stream", handler.ConversationStream)

	if cfg != nil && cfg.MetricsEnabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// requestIDMiddleware assigns each request a UUID, carried in the request
// context (adapters forward it to backends) and echoed in a header.
func requestIDMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requestID := c.Request().Header.Get("X-Request-Id")
			if requestID == "" {
				requestID = uuid.NewString()
			}

			ctx := core.WithRequestID(c.Request().Context(), requestID)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Response().Header().Set("X-Request-Id", requestID)
			return next(c)
		}
	}
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements http.Handler, allowing Server to be used with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
