package provider

import (
	"fmt"
	"strings"
)

// Kind identifies a supported LLM backend.
type Kind string

const (
	GPT         Kind = "gpt"
	Ernie       Kind = "ernie"
	Qwen        Kind = "qwen"
	Ollama      Kind = "ollama"
	GLM         Kind = "glm"
	Minimax     Kind = "minimax"
	DeepSeek    Kind = "deepseek"
	SiliconFlow Kind = "siliconflow"
)

// Spec describes how to reach a provider and what it needs.
type Spec struct {
	Kind         Kind   `json:"kind"`
	Name         string `json:"name"`
	BaseURL      string `json:"-"`
	DefaultModel string `json:"default_model,omitempty"`
	RequiresKey  bool   `json:"requires_key"`
	KeyEnv       string `json:"-"`
	KeyURL       string `json:"-"`
	// Reasoning providers stream tagged reasoning/content chunks.
	Reasoning bool `json:"reasoning"`
}

var catalog = []Spec{
	{
		Kind: GLM, Name: "GLM",
		BaseURL:      "https://open.bigmodel.cn/api/paas/v4",
		DefaultModel: "glm-4",
		RequiresKey:  true,
		KeyEnv:       "GLM_API_KEY",
		KeyURL:       "https://open.bigmodel.cn/usercenter/proj-mgmt/apikeys",
	},
	{
		Kind: Qwen, Name: "Qwen",
		BaseURL:      "https://dashscope.aliyuncs.com/compatible-mode/v1",
		DefaultModel: "qwen-turbo",
		RequiresKey:  true,
		KeyEnv:       "QWEN_API_KEY",
		KeyURL:       "https://bailian.console.aliyun.com/?apiKey=1",
	},
	{
		Kind: Minimax, Name: "Minimax",
		BaseURL:      "https://api.minimax.chat/v1",
		DefaultModel: "abab6-chat",
		RequiresKey:  true,
		KeyEnv:       "MINIMAX_API_KEY",
		KeyURL:       "https://platform.minimaxi.com/user-center/basic-information/interface-key",
	},
	{
		Kind: GPT, Name: "GPT",
		BaseURL:      "https://api.openai.com/v1",
		DefaultModel: "gpt-4-turbo-preview",
		RequiresKey:  true,
		KeyEnv:       "OPENAI_API_KEY",
		KeyURL:       "https://platform.openai.com/api-keys",
	},
	{
		// default model comes from Ollama discovery
		Kind: Ollama, Name: "Ollama",
		BaseURL: "http://localhost:11434/v1",
	},
	{
		Kind: DeepSeek, Name: "DeepSeek",
		BaseURL:      "https://api.deepseek.com/v1",
		DefaultModel: "deepseek-chat",
		RequiresKey:  true,
		KeyEnv:       "DEEPSEEK_API_KEY",
		KeyURL:       "https://platform.deepseek.com/api-keys",
		Reasoning:    true,
	},
	{
		Kind: Ernie, Name: "Ernie",
		BaseURL:      "https://qianfan.baidubce.com/v2",
		DefaultModel: "ernie-4.0-8k",
		RequiresKey:  true,
		KeyEnv:       "ERNIE_API_KEY",
		KeyURL:       "https://console.bce.baidu.com/ai/#/ai/wenxinworkshop/app/list",
	},
	{
		Kind: SiliconFlow, Name: "SiliconFlow",
		BaseURL:      "https://api.siliconflow.cn/v1",
		DefaultModel: "deepseek-ai/DeepSeek-R1-Distill-Llama-70B",
		RequiresKey:  true,
		KeyEnv:       "SILICONFLOW_API_KEY",
		KeyURL:       "https://cloud.siliconflow.cn/account/ak",
		Reasoning:    true,
	},
}

// Catalog returns every known provider in a stable order.
func Catalog() []Spec {
	out := make([]Spec, len(catalog))
	copy(out, catalog)
	return out
}

// Kinds returns the kinds in catalog order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(catalog))
	for _, s := range catalog {
		out = append(out, s.Kind)
	}
	return out
}

// Lookup returns the spec for k.
func Lookup(k Kind) (Spec, bool) {
	for _, s := range catalog {
		if s.Kind == k {
			return s, true
		}
	}
	return Spec{}, false
}

// ParseKind validates a model_type value. Matching is case-insensitive and
// "openai" is accepted for gpt.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if k == "openai" {
		k = GPT
	}
	if k == "" {
		return "", Errorf(ErrorInvalidRequest, "model_type is required")
	}
	if _, ok := Lookup(k); !ok {
		return "", Errorf(ErrorInvalidRequest, "unsupported model_type %q", s)
	}
	return k, nil
}

func (k Kind) String() string { return string(k) }

// MustSpec is Lookup for kinds that came out of ParseKind.
func MustSpec(k Kind) Spec {
	s, ok := Lookup(k)
	if !ok {
		panic(fmt.Sprintf("provider: unknown kind %q", string(k)))
	}
	return s
}
