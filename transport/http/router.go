package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/slighter12/jsonrpc-entrypoint/jsonrpc"
	"github.com/slighter12/jsonrpc-entrypoint/logger"
)

const defaultMaxBodyBytes = 1 << 20

// RegisterRoutes mounts the info route and, per entrypoint, the batch route,
// the per-method routes and the metadata route.
func RegisterRoutes(e *echo.Echo, s *Server) {
	e.GET("/", s.handleHTTPInfo)
	for _, ep := range s.entrypoints {
		e.POST(ep.Path(), s.handleCall(ep))
		e.GET(ep.Path(), s.handleDescribe(ep))
		e.OPTIONS(ep.Path(), s.handleOptions)
		e.POST(ep.Path()+"/:method", s.handleMethodCall(ep))
		e.OPTIONS(ep.Path()+"/:method", s.handleOptions)
	}
}

func (s *Server) handleHTTPInfo(c echo.Context) error {
	logger.Debug("HTTP info requested", "remote_addr", c.RealIP())
	entrypoints := make([]map[string]any, 0, len(s.entrypoints))
	for _, ep := range s.entrypoints {
		entrypoints = append(entrypoints, map[string]any{
			"name":    ep.Name(),
			"path":    ep.Path(),
			"methods": len(ep.Methods()),
		})
	}
	info := map[string]any{
		"name":        s.config.Name,
		"version":     s.config.Version,
		"description": s.config.Description,
		"type":        "jsonrpc-entrypoint",
		"entrypoints": entrypoints,
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleOptions(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func (s *Server) handleDescribe(ep *jsonrpc.Entrypoint) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, ep.Describe())
	}
}

func (s *Server) handleCall(ep *jsonrpc.Entrypoint) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := s.readBody(c)
		if err != nil {
			return err
		}
		reply, err := ep.Handle(c.Request(), body)
		if err != nil {
			return s.transportError(c, ep, err)
		}
		return s.writeReply(c, reply)
	}
}

func (s *Server) handleMethodCall(ep *jsonrpc.Entrypoint) echo.HandlerFunc {
	return func(c echo.Context) error {
		method := c.Param("method")
		if _, ok := ep.Resolve(method); !ok {
			return echo.ErrNotFound
		}
		body, err := s.readBody(c)
		if err != nil {
			return err
		}
		reply, err := ep.HandleMethod(c.Request(), method, body)
		if err != nil {
			return s.transportError(c, ep, err)
		}
		return s.writeReply(c, reply)
	}
}

// readBody reads the request body up to the configured limit. An oversized
// body fails with 413 carrying an InvalidRequest envelope.
func (s *Server) readBody(c echo.Context) ([]byte, error) {
	limit := s.config.Limits.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}

	limitedBody := http.MaxBytesReader(c.Response(), c.Request().Body, limit)
	defer limitedBody.Close()

	body, err := io.ReadAll(limitedBody)
	if err == nil {
		return body, nil
	}
	if _, ok := errors.AsType[*http.MaxBytesError](err); ok {
		logger.Warn("Request body too large", "limit_bytes", limit, "remote_addr", c.RealIP())
		return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, jsonrpc.InvalidRequest.Errorf("request body exceeds %d bytes", limit).Response())
	}
	logger.Error("Failed to read request body", "error", err)
	return nil, echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
}

// transportError maps a context resolver failure to an HTTP error. These
// never become JSON-RPC envelopes.
func (s *Server) transportError(c echo.Context, ep *jsonrpc.Entrypoint, err error) error {
	if transportErr, ok := errors.AsType[*jsonrpc.TransportError](err); ok {
		logger.Debug("Transport error", "entrypoint", ep.Path(), "status", transportErr.Status, "error", err)
		if transportErr.Status == http.StatusUnauthorized {
			c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
		}
		return echo.NewHTTPError(transportErr.Status, transportErr.Message)
	}
	if errors.Is(err, context.Canceled) {
		logger.Debug("Call canceled by client", "entrypoint", ep.Path())
		return echo.NewHTTPError(http.StatusServiceUnavailable, "request canceled")
	}
	logger.Error("Call failed outside the protocol", "entrypoint", ep.Path(), "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
}

// writeReply writes the payload, flushes it to the client and then runs the
// background tasks gathered while executing the call.
func (s *Server) writeReply(c echo.Context, reply *jsonrpc.Reply) error {
	if reply.NoContent() {
		c.Response().Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		c.Response().WriteHeader(http.StatusOK)
	} else if err := c.JSON(http.StatusOK, reply.Payload); err != nil {
		return err
	}

	if reply.Tasks.Len() == 0 {
		return nil
	}
	if err := http.NewResponseController(c.Response()).Flush(); err != nil {
		logger.Debug("Response flush unsupported", "error", err)
	}
	reply.Tasks.Run(context.WithoutCancel(c.Request().Context()))
	return nil
}
