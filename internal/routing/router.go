package routing

import (
	"context"
	"time"

	"github.com/ai-gateway/palette-gateway/internal/provider"
	"github.com/ai-gateway/palette-gateway/internal/provider/openaicompat"
)

// Options are the per-request constructor arguments for a chat client.
type Options struct {
	Kind    provider.Kind
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Factory builds a provider for already validated options.
type Factory func(spec provider.Spec, opts Options) provider.Provider

// ModelResolver supplies a default model when the catalog has none
// (Ollama, whose models are discovered at runtime).
type ModelResolver interface {
	Resolve(ctx context.Context) string
}

// Router maps provider kinds to factories.
type Router struct {
	factories map[provider.Kind]Factory
	fallback  Factory
	baseURLs  map[provider.Kind]string
	resolvers map[provider.Kind]ModelResolver
}

// OpenAICompat builds the go-openai backed client for any kind.
func OpenAICompat(spec provider.Spec, opts Options) provider.Provider {
	return openaicompat.New(spec, openaicompat.Options{
		APIKey:  opts.APIKey,
		BaseURL: opts.BaseURL,
		Timeout: opts.Timeout,
	})
}

func New() *Router {
	return &Router{
		factories: make(map[provider.Kind]Factory),
		baseURLs:  make(map[provider.Kind]string),
		resolvers: make(map[provider.Kind]ModelResolver),
	}
}

// Register associates a kind with a factory.
func (r *Router) Register(kind provider.Kind, f Factory) {
	r.factories[kind] = f
}

// RegisterDefault serves every kind without its own factory.
func (r *Router) RegisterDefault(f Factory) {
	r.fallback = f
}

// SetBaseURL overrides the catalog endpoint for kind.
func (r *Router) SetBaseURL(kind provider.Kind, url string) {
	r.baseURLs[kind] = url
}

// SetModelResolver installs a default-model lookup for kind.
func (r *Router) SetModelResolver(kind provider.Kind, res ModelResolver) {
	r.resolvers[kind] = res
}

func (r *Router) factoryFor(kind provider.Kind) Factory {
	if f, ok := r.factories[kind]; ok {
		return f
	}
	return r.fallback
}

// Open fills defaults, validates opts and builds the provider. It returns
// the options actually used so callers can report the effective model.
func (r *Router) Open(ctx context.Context, opts Options) (provider.Provider, Options, error) {
	spec, ok := provider.Lookup(opts.Kind)
	if !ok {
		return nil, opts, provider.Errorf(provider.ErrorInvalidRequest, "unsupported model_type %q", string(opts.Kind))
	}
	if opts.Model == "" {
		opts.Model = spec.DefaultModel
		if res, ok := r.resolvers[opts.Kind]; ok {
			opts.Model = res.Resolve(ctx)
		}
	}
	if opts.BaseURL == "" {
		opts.BaseURL = r.baseURLs[opts.Kind]
	}

	if opts.Model == "" {
		return nil, opts, provider.Errorf(provider.ErrorInvalidRequest, "model name is required")
	}
	if spec.RequiresKey && opts.APIKey == "" {
		return nil, opts, provider.Errorf(provider.ErrorInvalidRequest, "API key is required for %s", spec.Name)
	}

	f := r.factoryFor(opts.Kind)
	if f == nil {
		return nil, opts, provider.Errorf(provider.ErrorInvalidRequest, "no backend registered for %s", spec.Name)
	}
	return f(spec, opts), opts, nil
}

// Providers lists the catalog as served by this router.
func (r *Router) Providers() []provider.Spec {
	specs := provider.Catalog()
	out := specs[:0]
	for _, s := range specs {
		if r.factoryFor(s.Kind) != nil {
			out = append(out, s)
		}
	}
	return out
}
