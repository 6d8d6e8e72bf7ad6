package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// ChatRequests counts /api/chat calls by provider, mode and outcome.
	ChatRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "palette",
		Subsystem: "chat",
		Name:      "requests_total",
		Help:      "Chat requests handled, labeled by provider kind, mode (stream/single) and outcome (ok or error kind).",
	}, []string{"provider", "mode", "outcome"})

	// StreamChunks counts SSE frames written.
	StreamChunks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "palette",
		Subsystem: "chat",
		Name:      "stream_chunks_total",
		Help:      "Stream chunks forwarded to clients, labeled by provider kind and chunk type.",
	}, []string{"provider", "type"})

	// Tokens counts provider-reported token usage.
	Tokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "palette",
		Subsystem: "chat",
		Name:      "tokens_total",
		Help:      "Tokens reported by providers, labeled by provider kind and direction (prompt/completion).",
	}, []string{"provider", "direction"})

	// OllamaLookups counts Ollama tag listings by result.
	OllamaLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "palette",
		Subsystem: "ollama",
		Name:      "tag_lookups_total",
		Help:      "Ollama /api/tags lookups, labeled by result.",
	}, []string{"result"})
)

// Register registers gateway metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(ChatRequests, StreamChunks, Tokens, OllamaLookups)
	})
}

// Usage accumulates token counts per provider for the process lifetime.
type Usage struct {
	mu     sync.Mutex
	tokens map[string]int
}

func NewUsage() *Usage {
	return &Usage{tokens: make(map[string]int)}
}

// AddTokens records prompt and completion tokens for a provider.
func (u *Usage) AddTokens(provider string, prompt, completion int) {
	u.mu.Lock()
	u.tokens[provider] += prompt + completion
	u.mu.Unlock()

	Tokens.WithLabelValues(provider, "prompt").Add(float64(prompt))
	Tokens.WithLabelValues(provider, "completion").Add(float64(completion))
}

// Tokens returns a snapshot of totals per provider.
func (u *Usage) Tokens() map[string]int {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make(map[string]int, len(u.tokens))
	for k, v := range u.tokens {
		out[k] = v
	}
	return out
}
