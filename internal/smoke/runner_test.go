package smoke

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-gateway/palette-gateway/internal/provider"
	"github.com/ai-gateway/palette-gateway/internal/provider/echo"
	"github.com/ai-gateway/palette-gateway/internal/routing"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func echoRouter() *routing.Router {
	rt := routing.New()
	rt.RegisterDefault(func(spec provider.Spec, _ routing.Options) provider.Provider {
		if spec.Reasoning {
			return echo.New(echo.WithReasoning())
		}
		return echo.New()
	})
	return rt
}

type fixedModel string

func (f fixedModel) Resolve(context.Context) string { return string(f) }

func TestKeyFor(t *testing.T) {
	key, ok := KeyFor(provider.GLM, env(map[string]string{"GLM_API_KEY": "k1"}))
	assert.True(t, ok)
	assert.Equal(t, "k1", key)

	key, ok = KeyFor(provider.Qwen, env(nil))
	assert.False(t, ok)
	assert.Equal(t, "https://bailian.console.aliyun.com/?apiKey=1", key)

	key, ok = KeyFor(provider.Ollama, env(nil))
	assert.True(t, ok)
	assert.Empty(t, key)
}

func TestSelectKinds(t *testing.T) {
	assert.Equal(t, provider.Kinds(), SelectKinds(""))
	assert.Equal(t, []provider.Kind{provider.GLM, provider.Ollama},
		SelectKinds("GLM, ollama,bogus,glm"))
}

func TestDefaultScenarios(t *testing.T) {
	s := DefaultScenarios()
	assert.Len(t, s.Basic, 3)
	assert.Len(t, s.Streaming, 2)
	assert.Len(t, s.Context, 5)
	assert.Len(t, s.ContextManagement.SystemPrompts, 3)
	assert.Len(t, s.ContextManagement.Seeded.Context, 2)
	assert.Len(t, s.ContextManagement.DuplicateSystem, 2)
	assert.NotEmpty(t, s.Reasoning)
}

func TestLoadScenariosFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte("basic: [ping]\n"), 0o644))

	s, err := LoadScenarios(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ping"}, s.Basic)

	_, err = ParseScenarios([]byte("context_management:\n  seeded:\n    context:\n      - role: tool\n        content: x\n"))
	assert.Error(t, err)
}

func TestRunAllSuites(t *testing.T) {
	var out bytes.Buffer
	r := &Runner{
		Router:    echoRouter(),
		Scenarios: DefaultScenarios(),
		Out:       &out,
		Getenv:    env(map[string]string{"DEEPSEEK_API_KEY": "k"}),
	}

	results := r.Run(context.Background(), []provider.Kind{provider.DeepSeek}, Suites())
	require.Len(t, results, len(Suites()))
	assert.False(t, Failed(results))

	text := out.String()
	assert.Contains(t, text, "assistant: Echo: Tell me a short joke.")
	assert.Contains(t, text, "expected error: only one system prompt can be set")
	assert.Contains(t, text, "reasoning: Thinking about: Why is the sky blue?")
}

func TestRunSkipsMissingKeys(t *testing.T) {
	var out bytes.Buffer
	rt := echoRouter()
	rt.SetModelResolver(provider.Ollama, fixedModel("llama3"))
	r := &Runner{Router: rt, Scenarios: DefaultScenarios(), Out: &out, Getenv: env(nil)}

	results := r.Run(context.Background(), []provider.Kind{provider.GPT, provider.Ollama}, []string{SuiteBasic, SuiteReasoning})
	require.Len(t, results, 4)

	assert.Contains(t, results[0].Skipped, "OPENAI_API_KEY")
	assert.Contains(t, results[0].Skipped, "https://platform.openai.com/api-keys")
	assert.Empty(t, results[2].Skipped)
	assert.NoError(t, results[2].Err)
	assert.Equal(t, "provider does not stream reasoning", results[3].Skipped)
	assert.Contains(t, out.String(), "(model llama3)")
}

func TestRunContinuesAfterFailure(t *testing.T) {
	var out bytes.Buffer
	rt := echoRouter()
	rt.Register(provider.GLM, func(provider.Spec, routing.Options) provider.Provider {
		return echo.New(echo.WithFailure(provider.Wrap(provider.ErrorAuth, errors.New("401"))))
	})
	r := &Runner{
		Router:    rt,
		Scenarios: DefaultScenarios(),
		Out:       &out,
		Getenv:    env(map[string]string{"GLM_API_KEY": "bad", "QWEN_API_KEY": "k"}),
	}

	results := r.Run(context.Background(), []provider.Kind{provider.GLM, provider.Qwen}, []string{SuiteBasic})
	require.Len(t, results, 2)
	assert.True(t, Failed(results))
	assert.Equal(t, provider.ErrorAuth, provider.Classify(results[0].Err))
	assert.NoError(t, results[1].Err)
	assert.Contains(t, out.String(), "check that GLM_API_KEY holds a valid key")
}
