package provider

import (
	"context"
	"encoding/json"
)

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the three chat roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message represents a chat message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion call against a provider.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

// ChunkType tags chunks from providers that separate reasoning from the answer.
type ChunkType string

const (
	ChunkReasoning ChunkType = "reasoning"
	ChunkContent   ChunkType = "content"
)

// Chunk is one streamed piece of a reply. Untagged chunks encode as a bare
// JSON string; tagged ones as {"type","content"}. A chunk carrying Err is
// always the last one on its channel.
type Chunk struct {
	Type    ChunkType
	Content string
	Err     error
}

func (c Chunk) MarshalJSON() ([]byte, error) {
	if c.Type == "" {
		return json.Marshal(c.Content)
	}
	return json.Marshal(struct {
		Type    ChunkType `json:"type"`
		Content string    `json:"content"`
	}{c.Type, c.Content})
}

// Usage counts tokens reported by the provider.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Reply is a complete, non-streamed answer.
type Reply struct {
	Content   string
	Reasoning string
	Usage     Usage
}

// Provider handles LLM operations.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*Reply, error)
	// Stream returns once the upstream call is established. The channel is
	// closed when the reply ends or ctx is cancelled.
	Stream(ctx context.Context, req *Request) (<-chan Chunk, error)
}
