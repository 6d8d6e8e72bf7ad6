// Package openaicompat talks to every supported provider through its
// OpenAI-compatible chat completions endpoint.
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ai-gateway/palette-gateway/internal/provider"
)

var tracer = otel.Tracer("github.com/ai-gateway/palette-gateway/internal/provider/openaicompat")

type Options struct {
	APIKey  string
	BaseURL string
	// Timeout bounds a whole completion, and for streams the wait for the
	// first response and for each following chunk. Zero means no limit.
	Timeout time.Duration
}

// Client is a provider.Provider backed by go-openai.
type Client struct {
	spec    provider.Spec
	api     *openai.Client
	timeout time.Duration
}

func New(spec provider.Spec, opts Options) *Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	cfg.BaseURL = spec.BaseURL
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &Client{spec: spec, api: openai.NewClientWithConfig(cfg), timeout: opts.Timeout}
}

func (c *Client) request(req *provider.Request) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
}

func (c *Client) startSpan(ctx context.Context, name string, req *provider.Request) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("provider.kind", c.spec.Kind.String()),
		attribute.String("provider.model", req.Model),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(provider.Classify(err)))
	}
	span.End()
}

func (c *Client) Complete(ctx context.Context, req *provider.Request) (_ *provider.Reply, err error) {
	ctx, span := c.startSpan(ctx, "provider.complete", req)
	defer func() { endSpan(span, err) }()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := c.api.CreateChatCompletion(ctx, c.request(req))
	if err != nil {
		return nil, translate(err)
	}
	if len(resp.Choices) == 0 {
		return nil, provider.Errorf(provider.ErrorUnknown, "%s returned no choices", c.spec.Name)
	}
	msg := resp.Choices[0].Message
	return &provider.Reply{
		Content:   msg.Content,
		Reasoning: msg.ReasoningContent,
		Usage: provider.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// idleTimer cancels a stream that stays silent for longer than its limit.
type idleTimer struct {
	limit  time.Duration
	timer  *time.Timer
	fired  atomic.Bool
	cancel context.CancelFunc
}

func newIdleTimer(limit time.Duration, cancel context.CancelFunc) *idleTimer {
	t := &idleTimer{limit: limit, cancel: cancel}
	if limit > 0 {
		t.timer = time.AfterFunc(limit, func() {
			t.fired.Store(true)
			cancel()
		})
	}
	return t
}

// arm restarts the countdown before a blocking read.
func (t *idleTimer) arm() {
	if t.timer != nil {
		t.timer.Reset(t.limit)
	}
}

// pause stops the countdown while the caller is not waiting on upstream.
func (t *idleTimer) pause() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *idleTimer) stop() {
	t.pause()
	t.cancel()
}

// timeoutErr reports err as a timeout when the idle limit caused it.
func (t *idleTimer) timeoutErr(err error) error {
	if !t.fired.Load() {
		return nil
	}
	return provider.Wrap(provider.ErrorTimeout, fmt.Errorf("no data from provider for %s: %w", t.limit, err))
}

func (c *Client) Stream(ctx context.Context, req *provider.Request) (<-chan provider.Chunk, error) {
	ctx, span := c.startSpan(ctx, "provider.stream", req)

	streamCtx, cancel := context.WithCancel(ctx)
	idle := newIdleTimer(c.timeout, cancel)

	stream, err := c.api.CreateChatCompletionStream(streamCtx, c.request(req))
	if err != nil {
		if terr := idle.timeoutErr(err); terr != nil {
			err = terr
		} else {
			err = translate(err)
		}
		idle.stop()
		endSpan(span, err)
		return nil, err
	}
	idle.pause()

	ch := make(chan provider.Chunk)
	go func() {
		var err error
		defer func() {
			idle.stop()
			stream.Close()
			close(ch)
			endSpan(span, err)
		}()

		send := func(chunk provider.Chunk) bool {
			select {
			case ch <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			idle.arm()
			resp, rerr := stream.Recv()
			idle.pause()
			if errors.Is(rerr, io.EOF) {
				return
			}
			if rerr != nil {
				if terr := idle.timeoutErr(rerr); terr != nil {
					err = terr
					send(provider.Chunk{Err: err})
					return
				}
				if ctx.Err() != nil {
					// client went away; nobody is reading
					return
				}
				err = translate(rerr)
				send(provider.Chunk{Err: err})
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta
			for _, chunk := range c.chunks(delta) {
				if !send(chunk) {
					return
				}
			}
		}
	}()
	return ch, nil
}

func (c *Client) chunks(delta openai.ChatCompletionStreamChoiceDelta) []provider.Chunk {
	if !c.spec.Reasoning {
		if delta.Content == "" {
			return nil
		}
		return []provider.Chunk{{Content: delta.Content}}
	}
	var out []provider.Chunk
	if delta.ReasoningContent != "" {
		out = append(out, provider.Chunk{Type: provider.ChunkReasoning, Content: delta.ReasoningContent})
	}
	if delta.Content != "" {
		out = append(out, provider.Chunk{Type: provider.ChunkContent, Content: delta.Content})
	}
	return out
}
