package smoke

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ai-gateway/palette-gateway/internal/provider"
)

//go:embed scenarios.yaml
var defaultScenarios []byte

// Suite names accepted by Run.
const (
	SuiteBasic             = "basic"
	SuiteStreaming         = "streaming"
	SuiteContext           = "context"
	SuiteContextManagement = "context_management"
	SuiteReasoning         = "reasoning"
)

// Suites lists every suite in run order.
func Suites() []string {
	return []string{SuiteBasic, SuiteStreaming, SuiteContext, SuiteContextManagement, SuiteReasoning}
}

type Turn struct {
	Prompt string `yaml:"prompt"`
	Note   string `yaml:"note"`
}

type SystemCase struct {
	System string `yaml:"system"`
	Prompt string `yaml:"prompt"`
}

type Seeded struct {
	System  string             `yaml:"system"`
	Context []provider.Message `yaml:"context"`
	Prompt  string             `yaml:"prompt"`
}

type ContextManagement struct {
	SystemPrompts   []SystemCase `yaml:"system_prompts"`
	Seeded          Seeded       `yaml:"seeded"`
	AfterClear      string       `yaml:"after_clear"`
	DuplicateSystem []string     `yaml:"duplicate_system"`
}

// Scenarios holds the prompts every suite sends.
type Scenarios struct {
	Basic             []string          `yaml:"basic"`
	Streaming         []string          `yaml:"streaming"`
	Context           []Turn            `yaml:"context"`
	ContextManagement ContextManagement `yaml:"context_management"`
	Reasoning         []string          `yaml:"reasoning"`
}

// ParseScenarios decodes scenarios from YAML.
func ParseScenarios(data []byte) (*Scenarios, error) {
	var s Scenarios
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenarios: %w", err)
	}
	for _, m := range s.ContextManagement.Seeded.Context {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("parse scenarios: invalid role %q", string(m.Role))
		}
	}
	return &s, nil
}

// DefaultScenarios returns the embedded scenarios.
func DefaultScenarios() *Scenarios {
	s, err := ParseScenarios(defaultScenarios)
	if err != nil {
		panic(err)
	}
	return s
}

// LoadScenarios reads scenarios from path, or the embedded set when path
// is empty.
func LoadScenarios(path string) (*Scenarios, error) {
	if path == "" {
		return DefaultScenarios(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenarios: %w", err)
	}
	return ParseScenarios(data)
}
