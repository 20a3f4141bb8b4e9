// Package gateway is the network front door: it terminates websocket
// connections, wraps them as transport links and hands them to the
// server engine. HTTP concerns stop here; everything past the upgrade
// speaks envelopes.
package gateway

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/accordvoice/accord/internal/shared"
	"github.com/accordvoice/accord/internal/transport"
	"github.com/accordvoice/accord/internal/wire"
	"github.com/accordvoice/accord/server"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Server struct {
	lib         *server.Library
	requireAuth bool
	logger      *slog.Logger
}

func NewServer(lib *server.Library, requireAuth bool, logger *slog.Logger) *Server {
	return &Server{
		lib:         lib,
		requireAuth: requireAuth,
		logger:      logger.With("component", "gateway"),
	}
}

func (s *Server) RegisterRoutes(e *echo.Echo, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1")
	if limiter != nil {
		g.Use(limiter)
	}
	g.GET("/voice/:server", s.HandleVoice)
}

// HandleVoice upgrades one client connection and attaches it to the
// requested virtual server. The connect handshake itself stays inside
// the engine; a rejected handshake surfaces as a reply envelope on the
// already-upgraded socket, not as an HTTP status.
func (s *Server) HandleVoice(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("server"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid server id")
	}

	vs, err := s.lib.Server(shared.ServerID(id))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "no such server")
	}

	if s.requireAuth {
		if err := s.authorize(c, shared.ServerID(id)); err != nil {
			return err
		}
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return err
	}

	link := transport.NewWSLink(ws, wire.NewCodec(nil, nil), s.logger)
	if err := vs.AttachLink(link); err != nil {
		s.logger.Info("connection rejected", "server_id", id, "error", err)
		return nil
	}

	s.logger.Debug("client attached", "server_id", id, "remote", c.RealIP())
	return nil
}

// authorize checks the bearer token minted through the engine's
// authentication-token request. The token binds to one virtual server;
// presenting it against another one is a 403.
func (s *Server) authorize(c echo.Context, id shared.ServerID) error {
	token := bearerToken(c)
	if token == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
	}

	claims, err := s.lib.Issuer().Verify(token)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	if claims.Server != id {
		return echo.NewHTTPError(http.StatusForbidden, "token bound to another server")
	}
	return nil
}

func bearerToken(c echo.Context) string {
	if t := c.QueryParam("token"); t != "" {
		return t
	}
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
