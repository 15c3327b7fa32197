// Package status serves the bot's health and counters over HTTP.
package status

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/m3rciful/holdingbot/core/buildinfo"
	"github.com/m3rciful/holdingbot/core/logger"
	"github.com/m3rciful/holdingbot/core/telegram/sender"
	"github.com/m3rciful/holdingbot/core/telegram/state"
	"github.com/m3rciful/holdingbot/internal/dialogue"
)

const pingTimeout = 2 * time.Second

// Sizer is implemented by in-process stores that can count sessions.
type Sizer interface {
	Len() int
}

// Options wires the data sources exposed by the server. Nil sources are
// left out of the responses.
type Options struct {
	Listen  string
	Backend string
	Pinger  state.Pinger
	Sizer   Sizer
	Machine *dialogue.Machine
	Sender  func() sender.Stats
}

// Server is the status HTTP endpoint.
type Server struct {
	opts   Options
	engine *gin.Engine
	srv    *http.Server
}

// New builds the gin engine with GET /healthz and GET /stats.
func New(opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), accessLog())

	s := &Server{opts: opts, engine: engine}
	engine.GET("/healthz", s.health)
	engine.GET("/stats", s.stats)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on opts.Listen and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return err
	}
	s.srv = &http.Server{Handler: s.engine, ReadHeaderTimeout: 5 * time.Second}

	logger.Info(ctx, "status", "status.listen",
		slog.String("status", "ok"),
		slog.String("listen", ln.Addr().String()),
	)
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "status", "status.serve",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()
	return nil
}

func (s *Server) health(c *gin.Context) {
	if s.opts.Pinger != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
		defer cancel()
		if err := s.opts.Pinger.Ping(ctx); err != nil {
			logger.Warn(ctx, "status", "status.health",
				slog.String("status", "fail"),
				slog.String("backend", s.opts.Backend),
				slog.String("err", err.Error()),
			)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) stats(c *gin.Context) {
	body := gin.H{
		"backend": s.opts.Backend,
		"build": gin.H{
			"version": buildinfo.Version,
			"commit":  buildinfo.Commit,
			"date":    buildinfo.Date,
		},
	}
	if s.opts.Machine != nil {
		body["dialogue"] = s.opts.Machine.Stats()
	}
	if s.opts.Sizer != nil {
		body["sessions"] = s.opts.Sizer.Len()
	}
	if s.opts.Sender != nil {
		body["sender"] = s.opts.Sender()
	}
	c.JSON(http.StatusOK, body)
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug(c.Request.Context(), "status", "status.request",
			slog.String("path", c.FullPath()),
			slog.Int("http_code", c.Writer.Status()),
			slog.Duration("duration", logger.RoundMS(time.Since(start))),
		)
	}
}
