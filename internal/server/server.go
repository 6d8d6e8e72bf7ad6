package server

import (
	"context"
	"net/http"
	"path/filepath"
	"time"

	"github.com/apex/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ai-gateway/palette-gateway/internal/config"
	"github.com/ai-gateway/palette-gateway/internal/guardrails"
	"github.com/ai-gateway/palette-gateway/internal/metrics"
	"github.com/ai-gateway/palette-gateway/internal/ollama"
	"github.com/ai-gateway/palette-gateway/internal/routing"
)

type Server struct {
	cfg      *config.Config
	engine   *gin.Engine
	router   *routing.Router
	guards   *guardrails.Guardrails
	ollama   *ollama.Client
	resolver *ollama.Resolver
	usage    *metrics.Usage
}

// New wires the HTTP routes. The router and the Ollama client/resolver are
// built by the caller so tests can substitute backends.
func New(cfg *config.Config, rt *routing.Router, oc *ollama.Client, res *ollama.Resolver) *Server {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), requestLogger())
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	srv := &Server{
		cfg:      cfg,
		engine:   r,
		router:   rt,
		guards:   guardrails.New(cfg.Guardrails.BannedWords, cfg.Guardrails.MaxPromptLength),
		ollama:   oc,
		resolver: res,
		usage:    metrics.NewUsage(),
	}
	srv.registerRoutes()
	return srv
}

func (s *Server) registerRoutes() {
	s.engine.GET("/", s.index)
	s.engine.GET("/healthz", s.healthz)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")
	api.GET("/models/ollama", s.ollamaModels)
	api.POST("/models/ollama/refresh", s.refreshOllama)
	api.GET("/providers", s.providers)
	api.GET("/chat", s.chat)
	api.POST("/chat", s.chat)

	s.engine.NoRoute(s.static)
}

// Handler exposes the engine, mostly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Usage returns the per-provider token totals seen by this server.
func (s *Server) Usage() *metrics.Usage { return s.usage }

func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("server.shutdown")
		}
	}()

	log.WithFields(log.Fields{
		"address": s.cfg.Address,
		"static":  s.cfg.StaticDir,
	}).Info("server.start")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) index(c *gin.Context) {
	c.File(filepath.Join(s.cfg.StaticDir, s.cfg.IndexFile))
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "tokens": s.usage.Tokens()})
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization", requestIDHeader)
	cfg.ExposeHeaders = []string{requestIDHeader}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
