// Package admin is the relay's read-only operational surface: a small Echo
// app exposing /health and /stats, run alongside the reactor pool rather
// than on it. It carries no business logic — the core's Non-goal excludes
// handlers beyond the minimal login/room/chat set in internal/handlers.
package admin

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"echomesh/internal/registry"
	"echomesh/internal/stream"
	"echomesh/internal/voice"
)

// Server is the Echo application backing the admin surface.
type Server struct {
	echo *echo.Echo

	reg       *registry.Registries
	streamSrv *stream.Server
	relay     *voice.Relay
	startedAt time.Time
}

// New constructs an Echo app with the admin routes registered. relay may be
// nil (e.g. in tests that don't stand up the datagram path); its stats are
// simply omitted from /stats in that case.
func New(reg *registry.Registries, streamSrv *stream.Server, relay *voice.Relay) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(20))))
	e.Use(requestLogger())

	s := &Server{echo: e, reg: reg, streamSrv: streamSrv, relay: relay, startedAt: time.Now()}
	s.registerRoutes()
	return s
}

func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			if req.URL.Path == "/health" {
				slog.Debug("admin request", "method", req.Method, "path", req.URL.Path,
					"status", c.Response().Status, "duration_ms", time.Since(start).Milliseconds())
			} else {
				slog.Info("admin request", "method", req.Method, "path", req.URL.Path,
					"status", c.Response().Status, "duration_ms", time.Since(start).Milliseconds(),
					"remote", c.RealIP())
			}
			return nil
		}
	}
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/stats", s.handleStats)
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

type statsResponse struct {
	OnlineUsers int         `json:"online_users"`
	ActiveRooms int         `json:"active_rooms"`
	Connections int         `json:"connections"`
	Uptime      string      `json:"uptime"`
	Voice       *voiceStats `json:"voice,omitempty"`
}

type voiceStats struct {
	Forwarded         uint64 `json:"forwarded"`
	ForwardedReadable string `json:"forwarded_readable"`
	DroppedNoRoom     uint64 `json:"dropped_no_room"`
	DroppedNoAddr     uint64 `json:"dropped_no_addr"`
}

func (s *Server) handleStats(c echo.Context) error {
	resp := statsResponse{
		OnlineUsers: s.reg.Users.Count(),
		ActiveRooms: s.reg.Rooms.Count(),
		Uptime:      humanize.RelTime(s.startedAt, time.Now(), "", ""),
	}
	if s.streamSrv != nil {
		resp.Connections = s.streamSrv.ConnectionCount()
	}
	if s.relay != nil {
		st := s.relay.Stats()
		resp.Voice = &voiceStats{
			Forwarded:         st.Forwarded,
			ForwardedReadable: humanize.Comma(int64(st.Forwarded)),
			DroppedNoRoom:     st.DroppedNoRoom,
			DroppedNoAddr:     st.DroppedNoAddr,
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// Run starts Echo on addr and blocks until ctx is cancelled or startup
// fails. tlsConfig, if non-nil, serves over HTTPS.
func (s *Server) Run(ctx context.Context, addr string, tlsConfig *tls.Config) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tlsConfig != nil {
			s.echo.TLSServer.Addr = addr
			s.echo.TLSServer.TLSConfig = tlsConfig
			err = s.echo.StartServer(s.echo.TLSServer)
		} else {
			err = s.echo.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down admin server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		slog.Info("admin server stopped")
		return nil
	}
}
