package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	"github.com/gin-gonic/gin"

	"github.com/ai-gateway/palette-gateway/internal/config"
	"github.com/ai-gateway/palette-gateway/internal/metrics"
	"github.com/ai-gateway/palette-gateway/internal/observability"
	"github.com/ai-gateway/palette-gateway/internal/ollama"
	"github.com/ai-gateway/palette-gateway/internal/provider"
	"github.com/ai-gateway/palette-gateway/internal/provider/echo"
	"github.com/ai-gateway/palette-gateway/internal/routing"
	"github.com/ai-gateway/palette-gateway/internal/server"
)

func main() {
	log.SetHandler(text.New(os.Stderr))

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithError(err).WithField("log_level", cfg.LogLevel).Warn("unknown log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
	if level != log.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TelemetryURL != "" {
		tp, err := observability.Setup(ctx, cfg.TelemetryURL)
		if err != nil {
			log.WithError(err).Fatal("failed to set up tracing")
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				log.WithError(err).Warn("tracer shutdown")
			}
		}()
	}
	metrics.Register()

	oc := ollama.NewClient(cfg.OllamaURL)
	resolver := ollama.NewResolver(oc, cfg.OllamaFallbackModel)

	if err := server.New(cfg, newRouter(cfg, resolver), oc, resolver).Start(ctx); err != nil {
		log.WithError(err).Fatal("server error")
	}
	log.Info("server.stopped")
}

func newRouter(cfg *config.Config, resolver *ollama.Resolver) *routing.Router {
	rt := routing.New()
	if cfg.Offline {
		log.Warn("offline mode: every provider answers with echo")
		rt.RegisterDefault(func(spec provider.Spec, _ routing.Options) provider.Provider {
			if spec.Reasoning {
				return echo.New(echo.WithReasoning())
			}
			return echo.New()
		})
	} else {
		rt.RegisterDefault(routing.OpenAICompat)
	}

	rt.SetModelResolver(provider.Ollama, resolver)
	rt.SetBaseURL(provider.Ollama, strings.TrimRight(cfg.OllamaURL, "/")+"/v1")
	for _, k := range provider.Kinds() {
		if u := cfg.BaseURL(k.String()); u != "" {
			rt.SetBaseURL(k, u)
		}
	}
	return rt
}
