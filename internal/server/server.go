// internal/server/server.go

// Package server exposes the v1 protocol over HTTP. The transport layer owns
// the envelope bookkeeping (timestamps, version stamp, status codes) and
// delegates every command to the dispatcher.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xkilldash9x/unflare/api/schemas"
	"github.com/xkilldash9x/unflare/internal/config"
	"go.uber.org/zap"
)

// Dispatcher executes one v1 command. The solver satisfies it; tests use a
// canned implementation.
type Dispatcher interface {
	Handle(ctx context.Context, req *schemas.V1Request) *schemas.V1Response
}

// Server is the HTTP front of the service.
type Server struct {
	cfg        config.ServerConfig
	dispatcher Dispatcher
	logger     *zap.Logger
	engine     *gin.Engine

	// Reported on GET / and stamped on every v1 envelope.
	version   string
	userAgent string

	now func() time.Time
}

// New assembles the router. version and userAgent are discovered at startup
// and only reported here.
func New(cfg config.ServerConfig, dispatcher Dispatcher, version, userAgent string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger.Named("server"),
		version:    version,
		userAgent:  userAgent,
		now:        time.Now,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(s.logger))
	if cfg.RateLimit.Enabled {
		s.logger.Info("Rate limiting enabled.",
			zap.Float64("rps", cfg.RateLimit.RPS),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		engine.Use(rateLimit(cfg.RateLimit))
	}

	engine.GET("/", s.handleIndex)
	engine.GET("/health", s.handleHealth)
	engine.POST("/v1", s.handleV1)

	s.engine = engine
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is canceled, then drains in-flight requests within the
// configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Address(),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening.", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down.", zap.Duration("timeout", s.cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, schemas.IndexResponse{
		Msg:       "unflare is ready!",
		Version:   s.version,
		UserAgent: s.userAgent,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, schemas.HealthResponse{Status: schemas.StatusOK})
}

// handleV1 decodes the command, runs it and stamps the envelope. Failures are
// reported inside the envelope with HTTP 500, never as a bare error page.
func (s *Server) handleV1(c *gin.Context) {
	start := s.now()

	req, err := schemas.DecodeV1Request(c.Request.Body)
	var res *schemas.V1Response
	if err != nil {
		s.logger.Warn("Rejecting malformed v1 request.", zap.Error(err))
		res = &schemas.V1Response{
			Status:  schemas.StatusError,
			Message: "Error: " + err.Error(),
		}
	} else {
		res = s.dispatcher.Handle(c.Request.Context(), req)
	}

	res.StartTimestamp = start.UnixMilli()
	res.EndTimestamp = s.now().UnixMilli()
	res.Version = s.version

	code := http.StatusOK
	if res.Status == schemas.StatusError {
		code = http.StatusInternalServerError
	}
	c.JSON(code, res)
}
