package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/juju/ratelimit"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/slighter12/jsonrpc-entrypoint/config"
	"github.com/slighter12/jsonrpc-entrypoint/jsonrpc"
	"github.com/slighter12/jsonrpc-entrypoint/logger"
)

type Server struct {
	config      *config.Config
	entrypoints []*jsonrpc.Entrypoint
	limiter     *ratelimit.Bucket
	echo        *echo.Echo
}

// NewServer builds the echo instance serving every entrypoint. Routes are
// registered immediately, so the server can be exercised through Handler
// without listening.
func NewServer(cfg *config.Config, entrypoints ...*jsonrpc.Entrypoint) *Server {
	s := &Server{
		config:      cfg,
		entrypoints: entrypoints,
		echo:        echo.New(),
	}
	if rl := cfg.Limits.RateLimit; rl.Enabled {
		s.limiter = ratelimit.NewBucketWithRate(rl.RatePerSecond, rl.Burst)
	}
	s.setupEcho()
	return s
}

func (s *Server) setupEcho() {
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Debug = s.config.Server.Debug

	s.echo.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			args := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				logger.Warn("HTTP request failed", append(args, "error", v.Error)...)
				return nil
			}
			logger.Debug("HTTP request", args...)
			return nil
		},
	}))
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderXRequestID},
	}))
	if s.limiter != nil {
		s.echo.Use(rateLimit(s.limiter))
	}
	RegisterRoutes(s.echo, s)
}

// rateLimit rejects requests with 429 once the shared bucket is empty.
func rateLimit(bucket *ratelimit.Bucket) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Method == http.MethodOptions {
				return next(c)
			}
			if bucket.TakeAvailable(1) == 0 {
				logger.Warn("Rate limit exceeded", "remote_addr", c.RealIP(), "path", c.Path())
				c.Response().Header().Set("Retry-After", "1")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

// Address returns the listen address derived from the configuration.
func (s *Server) Address() string {
	return net.JoinHostPort(s.config.Server.Host, strconv.Itoa(s.config.Server.Port))
}

// Start listens and serves until Shutdown is called.
func (s *Server) Start() error {
	addr := s.Address()
	logger.Info("JSON-RPC server starting to listen", "address", addr, "entrypoints", len(s.entrypoints))
	logger.Debug("JSON-RPC server configuration", "config", s.config)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones, then releases
// the schedulers of every entrypoint.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("JSON-RPC server shutting down")
	errs := []error{s.echo.Shutdown(ctx)}
	for _, ep := range s.entrypoints {
		errs = append(errs, ep.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) GetEntrypoints() []*jsonrpc.Entrypoint {
	return s.entrypoints
}

func (s *Server) GetConfig() *config.Config {
	return s.config
}
