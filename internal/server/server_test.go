package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-gateway/palette-gateway/internal/config"
	"github.com/ai-gateway/palette-gateway/internal/ollama"
	"github.com/ai-gateway/palette-gateway/internal/provider"
	"github.com/ai-gateway/palette-gateway/internal/provider/echo"
	"github.com/ai-gateway/palette-gateway/internal/routing"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func echoFactory(opts ...echo.Option) routing.Factory {
	return func(provider.Spec, routing.Options) provider.Provider { return echo.New(opts...) }
}

type fakeOllama struct {
	*httptest.Server
	hits atomic.Int32
}

func newFakeOllama(t *testing.T, models ...string) *fakeOllama {
	t.Helper()
	f := &fakeOllama{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		f.hits.Add(1)
		var entries []string
		for _, m := range models {
			entries = append(entries, fmt.Sprintf(`{"name":%q}`, m))
		}
		fmt.Fprintf(w, `{"models":[%s]}`, strings.Join(entries, ","))
	}))
	t.Cleanup(f.Close)
	return f
}

func deadURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

type harness struct {
	srv      *Server
	router   *routing.Router
	resolver *ollama.Resolver
	static   string
}

func newHarness(t *testing.T, ollamaURL string) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		StaticDir:           dir,
		IndexFile:           "index.html",
		OllamaFallbackModel: "llama2",
		RequestTimeout:      5 * time.Second,
		CORSOrigins:         []string{"*"},
		Guardrails:          config.Guardrails{BannedWords: []string{"forbidden"}, MaxPromptLength: 100},
	}
	rt := routing.New()
	rt.RegisterDefault(echoFactory())
	rt.Register(provider.DeepSeek, echoFactory(echo.WithReasoning()))

	oc := ollama.NewClient(ollamaURL)
	res := ollama.NewResolver(oc, cfg.OllamaFallbackModel)
	rt.SetModelResolver(provider.Ollama, res)

	return &harness{srv: New(cfg, rt, oc, res), router: rt, resolver: res, static: dir}
}

func (h *harness) do(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestChatGET(t *testing.T) {
	h := newHarness(t, deadURL(t))
	w := h.do(t, http.MethodGet, "/api/chat?model_type=gpt&api_key=k&prompt=hello", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"success": true, "response": "Echo: hello"}, decode(t, w))
}

func TestChatPOSTWithHistory(t *testing.T) {
	h := newHarness(t, deadURL(t))
	body := `{"model_type":"qwen","api_key":"k","prompt":"and now?","history":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`
	w := h.do(t, http.MethodPost, "/api/chat", body)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Echo: and now?", decode(t, w)["response"])
	// three prompt messages plus three completion tokens from echo
	assert.Equal(t, 6, h.srv.Usage().Tokens()["qwen"])
}

func TestChatReasoningReply(t *testing.T) {
	h := newHarness(t, deadURL(t))
	w := h.do(t, http.MethodPost, "/api/chat", `{"model_type":"deepseek","api_key":"k","prompt":"why"}`)

	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.Equal(t, "Echo: why", out["response"])
	assert.Equal(t, "Thinking about: why", out["reasoning"])
}

func TestChatErrors(t *testing.T) {
	h := newHarness(t, deadURL(t))
	cases := []struct {
		name   string
		target string
		msg    string
	}{
		{"unknown model type", "/api/chat?model_type=claude&api_key=k&prompt=hi", "unsupported model_type"},
		{"missing model type", "/api/chat?api_key=k&prompt=hi", "model_type"},
		{"missing key", "/api/chat?model_type=gpt&prompt=hi", "API key is required for GPT"},
		{"empty prompt", "/api/chat?model_type=gpt&api_key=k", "prompt is required"},
		{"banned word", "/api/chat?model_type=gpt&api_key=k&prompt=a+forbidden+topic", "violates guardrails"},
		{"too long", "/api/chat?model_type=gpt&api_key=k&prompt=" + strings.Repeat("x", 101), "exceeds 100"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := h.do(t, http.MethodGet, tc.target, "")
			require.Equal(t, http.StatusInternalServerError, w.Code)
			out := decode(t, w)
			assert.Equal(t, false, out["success"])
			assert.Equal(t, "invalid_request", out["kind"])
			assert.Contains(t, out["error"], tc.msg)
		})
	}
}

func TestChatMalformedJSON(t *testing.T) {
	h := newHarness(t, deadURL(t))
	w := h.do(t, http.MethodPost, "/api/chat", `{"model_type":`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "invalid_request", decode(t, w)["kind"])
}

func TestChatProviderErrorIsNormalized(t *testing.T) {
	h := newHarness(t, deadURL(t))
	h.router.Register(provider.GLM, echoFactory(echo.WithFailure(
		provider.Wrap(provider.ErrorAuth, errors.New("401 invalid key sk-secret")))))

	for _, stream := range []string{"false", "true"} {
		w := h.do(t, http.MethodGet, "/api/chat?model_type=glm&api_key=k&prompt=hi&enable_streaming="+stream, "")
		require.Equal(t, http.StatusInternalServerError, w.Code)
		out := decode(t, w)
		assert.Equal(t, "auth_error", out["kind"])
		assert.Equal(t, "authentication with the provider failed", out["error"])
		assert.NotContains(t, w.Body.String(), "sk-secret")
	}
}

func readFrames(t *testing.T, body io.Reader) []string {
	t.Helper()
	var frames []string
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		require.True(t, strings.HasPrefix(line, "data: "), line)
		frames = append(frames, strings.TrimPrefix(line, "data: "))
	}
	require.NoError(t, sc.Err())
	return frames
}

func TestChatStream(t *testing.T) {
	h := newHarness(t, deadURL(t))
	ts := httptest.NewServer(h.srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/chat?model_type=gpt&api_key=k&prompt=hi+there&enable_streaming=true")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, []string{
		`{"chunk":"Echo: "}`,
		`{"chunk":"hi "}`,
		`{"chunk":"there"}`,
	}, readFrames(t, resp.Body))
}

func TestChatStreamTaggedChunks(t *testing.T) {
	h := newHarness(t, deadURL(t))
	ts := httptest.NewServer(h.srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/chat", "application/json",
		strings.NewReader(`{"model_type":"deepseek","api_key":"k","prompt":"why","enable_streaming":true}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, []string{
		`{"chunk":{"type":"reasoning","content":"Thinking about: why"}}`,
		`{"chunk":{"type":"content","content":"Echo: "}}`,
		`{"chunk":{"type":"content","content":"why"}}`,
	}, readFrames(t, resp.Body))
}

// brokenStream sends its chunks and then fails.
type brokenStream struct {
	chunks []provider.Chunk
	err    error
}

func (b brokenStream) Complete(context.Context, *provider.Request) (*provider.Reply, error) {
	return nil, b.err
}

func (b brokenStream) Stream(ctx context.Context, _ *provider.Request) (<-chan provider.Chunk, error) {
	ch := make(chan provider.Chunk)
	go func() {
		defer close(ch)
		for _, c := range append(b.chunks, provider.Chunk{Err: b.err}) {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func TestChatStreamEndsOnProviderError(t *testing.T) {
	h := newHarness(t, deadURL(t))
	h.router.Register(provider.Ernie, func(provider.Spec, routing.Options) provider.Provider {
		return brokenStream{
			chunks: []provider.Chunk{{Content: "par"}, {Content: "tial"}},
			err:    provider.Wrap(provider.ErrorNetwork, errors.New("upstream reset by 10.0.0.7")),
		}
	})
	ts := httptest.NewServer(h.srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/chat?model_type=ernie&api_key=k&prompt=hi&enable_streaming=true")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "10.0.0.7")
	assert.NotContains(t, string(body), "error")

	frames := readFrames(t, strings.NewReader(string(body)))
	assert.Equal(t, []string{`{"chunk":"par"}`, `{"chunk":"tial"}`}, frames)
	for _, f := range frames {
		var frame map[string]json.RawMessage
		require.NoError(t, json.Unmarshal([]byte(f), &frame))
		assert.Len(t, frame, 1)
		assert.Contains(t, frame, "chunk")
	}
}

func TestOllamaModels(t *testing.T) {
	fake := newFakeOllama(t, "qwen2:7b", "llama3:latest")
	h := newHarness(t, fake.URL)

	w := h.do(t, http.MethodGet, "/api/models/ollama", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{
		"success": true,
		"models":  []any{"qwen2:7b", "llama3:latest"},
	}, decode(t, w))
}

func TestOllamaModelsUnreachable(t *testing.T) {
	h := newHarness(t, deadURL(t))

	w := h.do(t, http.MethodGet, "/api/models/ollama", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	out := decode(t, w)
	assert.Equal(t, false, out["success"])
	assert.NotEmpty(t, out["error"])
	assert.Equal(t, "network_error", out["kind"])
}

func TestOllamaDefaultModelIsMemoized(t *testing.T) {
	fake := newFakeOllama(t, "qwen2:7b")
	h := newHarness(t, fake.URL)

	var models []string
	h.router.Register(provider.Ollama, func(_ provider.Spec, opts routing.Options) provider.Provider {
		models = append(models, opts.Model)
		return echo.New()
	})

	for i := 0; i < 2; i++ {
		w := h.do(t, http.MethodGet, "/api/chat?model_type=ollama&prompt=hi", "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	assert.Equal(t, []string{"qwen2:7b", "qwen2:7b"}, models)
	assert.Equal(t, int32(1), fake.hits.Load())

	w := h.do(t, http.MethodPost, "/api/models/ollama/refresh", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "qwen2:7b", decode(t, w)["model"])
	assert.Equal(t, int32(2), fake.hits.Load())
}

func TestOllamaFallbackModel(t *testing.T) {
	h := newHarness(t, deadURL(t))
	var got string
	h.router.Register(provider.Ollama, func(_ provider.Spec, opts routing.Options) provider.Provider {
		got = opts.Model
		return echo.New()
	})

	w := h.do(t, http.MethodGet, "/api/chat?model_type=ollama&prompt=hi", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "llama2", got)
	_, cached := h.resolver.Cached()
	assert.False(t, cached)
}

func TestProviders(t *testing.T) {
	h := newHarness(t, deadURL(t))
	w := h.do(t, http.MethodGet, "/api/providers", "")
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Providers []provider.Spec `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Len(t, out.Providers, len(provider.Kinds()))
	assert.NotContains(t, w.Body.String(), "api_key")
}

func TestStaticFiles(t *testing.T) {
	h := newHarness(t, deadURL(t))
	require.NoError(t, os.WriteFile(filepath.Join(h.static, "index.html"), []byte("<h1>palette</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(h.static, "app.js"), []byte("console.log(1)"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(h.static, "assets"), 0o755))

	w := h.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<h1>palette</h1>", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")

	w = h.do(t, http.MethodGet, "/app.js", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "console.log(1)", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "javascript")

	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/missing.css", "").Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/assets/", "").Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodPost, "/app.js", "").Code)
}

func TestRequestID(t *testing.T) {
	h := newHarness(t, deadURL(t))
	w := h.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "abc")
	w = httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Header().Get(requestIDHeader))
}
