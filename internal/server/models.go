package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ai-gateway/palette-gateway/internal/metrics"
	"github.com/ai-gateway/palette-gateway/internal/provider"
)

// ollamaModels lists the local Ollama models on every call.
func (s *Server) ollamaModels(c *gin.Context) {
	names, err := s.ollama.Names(c.Request.Context())
	if err != nil {
		metrics.OllamaLookups.WithLabelValues("error").Inc()
		kind := provider.Classify(err)
		logger(c).WithError(err).WithField("kind", string(kind)).Error("ollama.tags.error")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "could not list Ollama models: " + provider.PublicMessage(err),
			"kind":    kind,
		})
		return
	}
	metrics.OllamaLookups.WithLabelValues("ok").Inc()
	c.JSON(http.StatusOK, gin.H{"success": true, "models": names})
}

// refreshOllama forgets the remembered default model and looks it up again.
func (s *Server) refreshOllama(c *gin.Context) {
	s.resolver.Invalidate()
	model := s.resolver.Resolve(c.Request.Context())
	_, cached := s.resolver.Cached()
	c.JSON(http.StatusOK, gin.H{"success": true, "model": model, "discovered": cached})
}

func (s *Server) providers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "providers": s.router.Providers()})
}
