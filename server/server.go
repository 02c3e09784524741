package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hupe1980/agentweave/logging"
	"github.com/hupe1980/agentweave/runner"
)

// Options holds optional server dependencies.
type Options struct {
	// Logger receives request logs and handler diagnostics.
	Logger logging.Logger
}

// Server is the HTTP surface of the engine: one streaming endpoint per
// registered pattern, cancellation by execution id and health probes.
type Server struct {
	cfg    Config
	runner *runner.Runner
	logger logging.Logger
	engine *gin.Engine
}

// New wires the routes and middleware onto a fresh gin engine.
func New(cfg Config, r *runner.Runner, optFns ...func(o *Options)) *Server {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(requestLogMiddleware(opts.Logger))
	engine.Use(recoveryMiddleware(opts.Logger))

	s := &Server{
		cfg:    cfg,
		runner: r,
		logger: opts.Logger,
		engine: engine,
	}

	engine.GET("/health", s.handleHealth)
	engine.GET("/ready", s.handleReady)

	api := engine.Group("/api/v1")
	if cfg.RateLimit.Enabled {
		limiter := newClientLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		api.Use(rateLimitMiddleware(limiter, opts.Logger))
	}

	api.POST("/patterns/:pattern", s.handleRun)
	api.DELETE("/executions/:id", s.handleCancel)

	return s
}

// Handler exposes the underlying http.Handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then drains in-flight requests within
// the configured shutdown timeout. Streaming responses have no write
// deadline; slow consumers are bounded by the shutdown drain instead.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.cfg.Addr,
		Handler:     s.engine,
		ReadTimeout: s.cfg.ReadTimeout.Std(),
		IdleTimeout: s.cfg.IdleTimeout.Std(),
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("server.listen", "addr", s.cfg.Addr)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server.shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Std())
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// errorEnvelope is the non-streaming error body.
func errorEnvelope(msg string) gin.H {
	return gin.H{
		"error":     msg,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
}
