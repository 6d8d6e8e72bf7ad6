package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ai-gateway/palette-gateway/internal/chat"
	"github.com/ai-gateway/palette-gateway/internal/metrics"
	"github.com/ai-gateway/palette-gateway/internal/provider"
	"github.com/ai-gateway/palette-gateway/internal/routing"
)

var tracer = otel.Tracer("palette-gateway/server")

// chatRequest is read from the query string on GET and from the JSON body
// on POST.
type chatRequest struct {
	ModelType       string             `form:"model_type" json:"model_type"`
	APIKey          string             `form:"api_key" json:"api_key"`
	Prompt          string             `form:"prompt" json:"prompt"`
	Model           string             `form:"model" json:"model"`
	EnableStreaming bool               `form:"enable_streaming" json:"enable_streaming"`
	Timeout         float64            `form:"timeout" json:"timeout"`
	Temperature     float32            `form:"temperature" json:"temperature"`
	MaxTokens       int                `form:"max_tokens" json:"max_tokens"`
	History         []provider.Message `form:"-" json:"history"`
}

func (r *chatRequest) mode() string {
	if r.EnableStreaming {
		return "stream"
	}
	return "single"
}

func (s *Server) bindChat(c *gin.Context) (*chatRequest, error) {
	var req chatRequest
	var err error
	if c.Request.Method == http.MethodGet {
		err = c.ShouldBindQuery(&req)
	} else {
		err = c.ShouldBindJSON(&req)
	}
	if err != nil {
		return nil, provider.Errorf(provider.ErrorInvalidRequest, "malformed chat request")
	}
	for _, m := range req.History {
		if !m.Role.Valid() {
			return nil, provider.Errorf(provider.ErrorInvalidRequest, "history role %q is not supported", string(m.Role))
		}
	}
	return &req, nil
}

func (s *Server) timeout(req *chatRequest) time.Duration {
	if req.Timeout > 0 {
		return time.Duration(req.Timeout * float64(time.Second))
	}
	return s.cfg.RequestTimeout
}

// chat proxies one prompt to the selected provider. Failures before the
// first byte is written become a 500 JSON body.
func (s *Server) chat(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "chat")
	defer span.End()

	req, err := s.bindChat(c)
	if err != nil {
		s.chatError(c, "unknown", "single", err)
		return
	}
	span.SetAttributes(
		attribute.String("chat.model_type", req.ModelType),
		attribute.Bool("chat.streaming", req.EnableStreaming),
	)

	kind, err := provider.ParseKind(req.ModelType)
	if err != nil {
		s.chatError(c, "unknown", req.mode(), err)
		return
	}
	if err := s.guards.CheckPrompt(req.Prompt); err != nil {
		s.chatError(c, kind.String(), req.mode(), err)
		return
	}

	p, opts, err := s.router.Open(ctx, routing.Options{
		Kind:    kind,
		APIKey:  req.APIKey,
		Model:   req.Model,
		Timeout: s.timeout(req),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open")
		s.chatError(c, kind.String(), req.mode(), err)
		return
	}
	span.SetAttributes(attribute.String("chat.model", opts.Model))

	var sessionOpts []chat.Option
	if req.Temperature > 0 {
		sessionOpts = append(sessionOpts, chat.WithTemperature(req.Temperature))
	}
	if req.MaxTokens > 0 {
		sessionOpts = append(sessionOpts, chat.WithMaxTokens(req.MaxTokens))
	}
	session := chat.New(p, opts.Model, sessionOpts...)

	logger(c).WithFields(log.Fields{
		"provider":  kind.String(),
		"model":     opts.Model,
		"streaming": req.EnableStreaming,
		"history":   len(req.History),
	}).Info("chat.request")

	if req.EnableStreaming {
		s.stream(ctx, c, kind, session, req)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout(req))
	defer cancel()
	reply, err := session.Ask(callCtx, req.Prompt, req.History...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ask")
		s.chatError(c, kind.String(), req.mode(), err)
		return
	}
	s.usage.AddTokens(kind.String(), reply.Usage.PromptTokens, reply.Usage.CompletionTokens)
	metrics.ChatRequests.WithLabelValues(kind.String(), req.mode(), "ok").Inc()

	body := gin.H{"success": true, "response": reply.Content}
	if reply.Reasoning != "" {
		body["reasoning"] = reply.Reasoning
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) stream(ctx context.Context, c *gin.Context, kind provider.Kind, session *chat.Session, req *chatRequest) {
	chunks, err := session.Stream(ctx, req.Prompt, req.History...)
	if err != nil {
		s.chatError(c, kind.String(), req.mode(), err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	outcome := "ok"
	c.Stream(func(w io.Writer) bool {
		chunk, ok := <-chunks
		if !ok {
			return false
		}
		if chunk.Err != nil {
			outcome = string(provider.Classify(chunk.Err))
			logger(c).WithError(chunk.Err).WithField("kind", outcome).Error("chat.stream.error")
			return false
		}
		frame, err := json.Marshal(gin.H{"chunk": chunk})
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
			return false
		}
		chunkType := string(chunk.Type)
		if chunkType == "" {
			chunkType = "plain"
		}
		metrics.StreamChunks.WithLabelValues(kind.String(), chunkType).Inc()
		return true
	})
	metrics.ChatRequests.WithLabelValues(kind.String(), req.mode(), outcome).Inc()
}

func (s *Server) chatError(c *gin.Context, kind, mode string, err error) {
	ek := provider.Classify(err)
	metrics.ChatRequests.WithLabelValues(kind, mode, string(ek)).Inc()
	logger(c).WithError(err).WithFields(log.Fields{
		"provider": kind,
		"kind":     string(ek),
	}).Error("chat.error")

	c.JSON(http.StatusInternalServerError, gin.H{
		"success": false,
		"error":   provider.PublicMessage(err),
		"kind":    ek,
	})
}
