// Package chat keeps the conversation state for a single chat client: an
// optional system prompt, added context and the reasoning of the last reply.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ai-gateway/palette-gateway/internal/provider"
)

var (
	ErrSystemPromptSet = errors.New("only one system prompt can be set")
	ErrInvalidRole     = errors.New("role must be system, user or assistant")
)

type Option func(*Session)

func WithTemperature(t float32) Option {
	return func(s *Session) { s.temperature = t }
}

func WithMaxTokens(n int) Option {
	return func(s *Session) { s.maxTokens = n }
}

// Session is not shared across HTTP requests; the lock only guards against
// a stream goroutine updating the last reasoning while the caller reads it.
type Session struct {
	provider    provider.Provider
	model       string
	temperature float32
	maxTokens   int

	mu            sync.Mutex
	system        *provider.Message
	context       []provider.Message
	lastReasoning string
}

func New(p provider.Provider, model string, opts ...Option) *Session {
	s := &Session{provider: p, model: model}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Session) Model() string { return s.model }

// AddContext sets the system prompt or appends a user/assistant turn.
func (s *Session) AddContext(role provider.Role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch role {
	case provider.RoleSystem:
		if s.system != nil {
			return ErrSystemPromptSet
		}
		s.system = &provider.Message{Role: role, Content: content}
	case provider.RoleUser, provider.RoleAssistant:
		s.context = append(s.context, provider.Message{Role: role, Content: content})
	default:
		return ErrInvalidRole
	}
	return nil
}

// ClearContext drops added turns, and the system prompt too when asked.
func (s *Session) ClearContext(includeSystem bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.context = nil
	if includeSystem {
		s.system = nil
	}
}

// Messages assembles the outgoing conversation: system prompt, added
// context, caller history, then the prompt as the final user turn.
func (s *Session) Messages(prompt string, history ...provider.Message) []provider.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]provider.Message, 0, len(s.context)+len(history)+2)
	if s.system != nil {
		out = append(out, *s.system)
	}
	out = append(out, s.context...)
	out = append(out, history...)
	return append(out, provider.Message{Role: provider.RoleUser, Content: prompt})
}

func (s *Session) request(prompt string, history []provider.Message) *provider.Request {
	return &provider.Request{
		Model:       s.model,
		Messages:    s.Messages(prompt, history...),
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
	}
}

// Ask sends prompt and returns the complete answer.
func (s *Session) Ask(ctx context.Context, prompt string, history ...provider.Message) (*provider.Reply, error) {
	reply, err := s.provider.Complete(ctx, s.request(prompt, history))
	if err != nil {
		return nil, err
	}
	s.setReasoning(reply.Reasoning)
	return reply, nil
}

// Stream sends prompt and forwards reply chunks. Reasoning chunks are also
// collected into LastReasoning.
func (s *Session) Stream(ctx context.Context, prompt string, history ...provider.Message) (<-chan provider.Chunk, error) {
	in, err := s.provider.Stream(ctx, s.request(prompt, history))
	if err != nil {
		return nil, err
	}
	s.setReasoning("")

	out := make(chan provider.Chunk)
	go func() {
		defer close(out)
		var reasoning strings.Builder
		defer func() { s.setReasoning(reasoning.String()) }()

		for c := range in {
			if c.Type == provider.ChunkReasoning {
				reasoning.WriteString(c.Content)
			}
			select {
			case out <- c:
			case <-ctx.Done():
				// drain so the producer can exit
				for range in {
				}
				return
			}
		}
	}()
	return out, nil
}

// LastReasoning returns the reasoning text of the most recent reply.
func (s *Session) LastReasoning() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReasoning
}

func (s *Session) setReasoning(r string) {
	s.mu.Lock()
	s.lastReasoning = r
	s.mu.Unlock()
}
