package echo

import (
	"context"
	"strings"

	"github.com/ai-gateway/palette-gateway/internal/provider"
)

// Provider responds by echoing the last user message.
type Provider struct {
	reasoning bool
	fail      error
}

type Option func(*Provider)

// WithReasoning makes the provider behave like a reasoning backend: replies
// carry reasoning text and streams emit tagged chunks.
func WithReasoning() Option {
	return func(p *Provider) { p.reasoning = true }
}

// WithFailure makes every call return err.
func WithFailure(err error) Option {
	return func(p *Provider) { p.fail = err }
}

func New(opts ...Option) *Provider {
	p := &Provider{}
	for _, o := range opts {
		o(p)
	}
	return p
}

func lastUser(req *provider.Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == provider.RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}

func (p *Provider) reply(req *provider.Request) *provider.Reply {
	last := lastUser(req)
	r := &provider.Reply{
		Content: "Echo: " + last,
		Usage: provider.Usage{
			PromptTokens:     len(req.Messages),
			CompletionTokens: len(strings.Fields(last)) + 1,
		},
	}
	if p.reasoning {
		r.Reasoning = "Thinking about: " + last
	}
	return r
}

func (p *Provider) Complete(ctx context.Context, req *provider.Request) (*provider.Reply, error) {
	if p.fail != nil {
		return nil, p.fail
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.reply(req), nil
}

func (p *Provider) Stream(ctx context.Context, req *provider.Request) (<-chan provider.Chunk, error) {
	if p.fail != nil {
		return nil, p.fail
	}
	r := p.reply(req)
	var chunks []provider.Chunk
	if r.Reasoning != "" {
		chunks = append(chunks, provider.Chunk{Type: provider.ChunkReasoning, Content: r.Reasoning})
	}
	for _, w := range strings.SplitAfter(r.Content, " ") {
		if w == "" {
			continue
		}
		c := provider.Chunk{Content: w}
		if p.reasoning {
			c.Type = provider.ChunkContent
		}
		chunks = append(chunks, c)
	}

	ch := make(chan provider.Chunk)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
