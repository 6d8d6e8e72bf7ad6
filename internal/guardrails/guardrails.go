package guardrails

import (
	"strings"
	"unicode/utf8"

	"github.com/ai-gateway/palette-gateway/internal/provider"
)

// Guardrails performs simple prompt validation before any provider is called.
type Guardrails struct {
	banned []string
	maxLen int
}

// New builds guardrails from a banned word list and a maximum prompt length
// in runes. A maxLen of zero disables the length check.
func New(banned []string, maxLen int) *Guardrails {
	g := &Guardrails{maxLen: maxLen}
	for _, w := range banned {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			g.banned = append(g.banned, w)
		}
	}
	return g
}

// CheckPrompt returns an invalid_request error if the prompt is empty, too
// long or contains banned words.
func (g *Guardrails) CheckPrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return provider.Errorf(provider.ErrorInvalidRequest, "prompt is required")
	}
	if g.maxLen > 0 && utf8.RuneCountInString(prompt) > g.maxLen {
		return provider.Errorf(provider.ErrorInvalidRequest, "prompt exceeds %d characters", g.maxLen)
	}
	lower := strings.ToLower(prompt)
	for _, w := range g.banned {
		if strings.Contains(lower, w) {
			return provider.Errorf(provider.ErrorInvalidRequest, "input violates guardrails")
		}
	}
	return nil
}
