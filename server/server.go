// Package server exposes the retrieval pipelines over HTTP. It is a
// translation layer only: request decoding, settings merging, response
// encoding, and streaming. All orchestration lives in the flow runtime.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/ragflow/flow"
	"github.com/kbukum/ragflow/logger"
	"github.com/kbukum/ragflow/observability"
	"github.com/kbukum/ragflow/search"
)

// Config holds HTTP server settings.
type Config struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	Mode            string        `yaml:"mode" mapstructure:"mode"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Mode == "" {
		c.Mode = gin.ReleaseMode
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		// Streaming responses disable the deadline per connection; this
		// bounds only the JSON endpoints.
		c.WriteTimeout = 120 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 15 * time.Second
	}
}

// Deps collects what the handlers run against.
type Deps struct {
	Log      *logger.Logger
	Runs     *flow.RunManager
	Search   *flow.SearchPipeline
	RAG      *flow.RAGPipeline
	Defaults search.Settings
	Metrics  *observability.Metrics
	Health   []observability.HealthChecker
	Service  string
	Version  string
}

// Server wraps the gin engine and its configuration.
type Server struct {
	cfg    Config
	engine *gin.Engine
	deps   Deps
	log    *logger.Logger
}

// New builds the router. Routes:
//
//	POST /v1/retrieval/search  fan-out retrieval, JSON aggregate
//	POST /v1/retrieval/rag     retrieve + generate, JSON or SSE stream
//	GET  /healthz              component health
func New(cfg Config, deps Deps) *Server {
	cfg.ApplyDefaults()
	gin.SetMode(cfg.Mode)

	log := deps.Log
	if log == nil {
		log = logger.NewDefault(deps.Service)
	}
	log = log.WithComponent("server")

	s := &Server{cfg: cfg, deps: deps, log: log}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(s.requestMetrics())

	engine.GET("/healthz", s.handleHealth)
	v1 := engine.Group("/v1/retrieval")
	{
		v1.POST("/search", s.handleSearch)
		v1.POST("/rag", s.handleRAG)
	}

	s.engine = engine
	return s
}

// Handler returns the underlying HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", map[string]interface{}{"addr": addr})
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

	s.log.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return <-errCh
}

// requestMetrics records per-request counters and latency.
func (s *Server) requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.deps.Metrics == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		status := "success"
		if c.Writer.Status() >= http.StatusBadRequest {
			status = "error"
		}
		s.deps.Metrics.RecordOperation(c.Request.Context(), "server", c.FullPath(), status, time.Since(start))
	}
}
