// Package smoke runs scripted conversations against live providers and
// prints the answers for a human to read.
package smoke

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/apex/log"
	"golang.org/x/time/rate"

	"github.com/ai-gateway/palette-gateway/internal/chat"
	"github.com/ai-gateway/palette-gateway/internal/provider"
	"github.com/ai-gateway/palette-gateway/internal/routing"
)

// KeyFor returns the API key for kind from its environment variable. When
// the variable is unset it returns the page where a key can be created and
// false. Providers that need no key always report true.
func KeyFor(kind provider.Kind, getenv func(string) string) (string, bool) {
	spec, ok := provider.Lookup(kind)
	if !ok {
		return "", false
	}
	if !spec.RequiresKey {
		return "", true
	}
	if key := getenv(spec.KeyEnv); key != "" {
		return key, true
	}
	return spec.KeyURL, false
}

// SelectKinds parses a comma separated model list. Empty means every kind;
// unknown names are skipped.
func SelectKinds(list string) []provider.Kind {
	if strings.TrimSpace(list) == "" {
		return provider.Kinds()
	}
	var kinds []provider.Kind
	seen := make(map[provider.Kind]bool)
	for _, name := range strings.Split(list, ",") {
		if strings.TrimSpace(name) == "" {
			continue
		}
		k, err := provider.ParseKind(name)
		if err != nil {
			log.WithField("model", name).Warn("smoke.unknown_model")
			continue
		}
		if !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Result is the outcome of one suite against one provider.
type Result struct {
	Kind    provider.Kind
	Suite   string
	Skipped string
	Err     error
}

type Runner struct {
	Router    *routing.Router
	Scenarios *Scenarios
	Out       io.Writer
	Getenv    func(string) string
	// Limiter paces provider calls; nil means no pacing.
	Limiter *rate.Limiter
	Timeout time.Duration
}

// Run executes suites for every kind. A failing suite is recorded and the
// run moves on to the next one.
func (r *Runner) Run(ctx context.Context, kinds []provider.Kind, suites []string) []Result {
	var results []Result
	for _, kind := range kinds {
		spec := provider.MustSpec(kind)
		fmt.Fprintf(r.Out, "\n==================== %s ====================\n", strings.ToUpper(spec.Name))

		key, ok := KeyFor(kind, r.Getenv)
		if !ok {
			reason := fmt.Sprintf("missing API key: set %s or create one at %s", spec.KeyEnv, key)
			fmt.Fprintf(r.Out, "skipping %s: %s\n", spec.Name, reason)
			for _, s := range suites {
				results = append(results, Result{Kind: kind, Suite: s, Skipped: reason})
			}
			continue
		}

		for _, suite := range suites {
			res := Result{Kind: kind, Suite: suite}
			if suite == SuiteReasoning && !spec.Reasoning {
				res.Skipped = "provider does not stream reasoning"
				results = append(results, res)
				continue
			}
			res.Err = r.runSuite(ctx, kind, key, suite)
			if res.Err != nil {
				ek := provider.Classify(res.Err)
				fmt.Fprintf(r.Out, "error in %s/%s (%s): %v\n", kind, suite, ek, res.Err)
				if ek == provider.ErrorAuth {
					fmt.Fprintf(r.Out, "check that %s holds a valid key\n", spec.KeyEnv)
				}
				log.WithError(res.Err).WithFields(log.Fields{
					"provider": kind.String(),
					"suite":    suite,
					"kind":     string(ek),
				}).Warn("smoke.suite.failed")
			}
			results = append(results, res)
			if ctx.Err() != nil {
				return results
			}
		}
	}
	return results
}

func (r *Runner) runSuite(ctx context.Context, kind provider.Kind, key, suite string) error {
	p, opts, err := r.Router.Open(ctx, routing.Options{Kind: kind, APIKey: key, Timeout: r.Timeout})
	if err != nil {
		return err
	}
	session := chat.New(p, opts.Model)
	fmt.Fprintf(r.Out, "\n=== %s %s (model %s) ===\n", strings.ToUpper(kind.String()), suite, opts.Model)

	switch suite {
	case SuiteBasic:
		return r.basic(ctx, session)
	case SuiteStreaming:
		return r.streaming(ctx, session)
	case SuiteContext:
		return r.replay(ctx, session)
	case SuiteContextManagement:
		return r.contextManagement(ctx, session)
	case SuiteReasoning:
		return r.reasoning(ctx, session)
	}
	return fmt.Errorf("unknown suite %q", suite)
}

func (r *Runner) wait(ctx context.Context) error {
	if r.Limiter == nil {
		return nil
	}
	return r.Limiter.Wait(ctx)
}

func (r *Runner) ask(ctx context.Context, s *chat.Session, prompt string, history ...provider.Message) (string, error) {
	if err := r.wait(ctx); err != nil {
		return "", err
	}
	reply, err := s.Ask(ctx, prompt, history...)
	if err != nil {
		return "", err
	}
	return reply.Content, nil
}

func (r *Runner) basic(ctx context.Context, s *chat.Session) error {
	for _, prompt := range r.Scenarios.Basic {
		fmt.Fprintf(r.Out, "\nuser: %s\n", prompt)
		answer, err := r.ask(ctx, s, prompt)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.Out, "assistant: %s\n", answer)
	}
	return nil
}

func (r *Runner) streaming(ctx context.Context, s *chat.Session) error {
	for _, prompt := range r.Scenarios.Streaming {
		fmt.Fprintf(r.Out, "\nuser: %s\nassistant: ", prompt)
		if err := r.wait(ctx); err != nil {
			return err
		}
		chunks, err := s.Stream(ctx, prompt)
		if err != nil {
			return err
		}
		for c := range chunks {
			if c.Err != nil {
				return c.Err
			}
			if c.Type == provider.ChunkReasoning {
				continue
			}
			fmt.Fprint(r.Out, c.Content)
		}
		fmt.Fprintln(r.Out)
	}
	return nil
}

// replay resends the growing history on each turn.
func (r *Runner) replay(ctx context.Context, s *chat.Session) error {
	var history []provider.Message
	for _, turn := range r.Scenarios.Context {
		fmt.Fprintf(r.Out, "\nuser: %s (%s)\n", turn.Prompt, turn.Note)
		answer, err := r.ask(ctx, s, turn.Prompt, history...)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.Out, "assistant: %s\n", answer)
		history = append(history,
			provider.Message{Role: provider.RoleUser, Content: turn.Prompt},
			provider.Message{Role: provider.RoleAssistant, Content: answer})
	}
	return nil
}

func (r *Runner) contextManagement(ctx context.Context, s *chat.Session) error {
	cm := r.Scenarios.ContextManagement

	fmt.Fprintln(r.Out, "1. system prompts")
	for _, c := range cm.SystemPrompts {
		s.ClearContext(true)
		if err := s.AddContext(provider.RoleSystem, c.System); err != nil {
			return err
		}
		fmt.Fprintf(r.Out, "\nsystem: %s\nuser: %s\n", c.System, c.Prompt)
		answer, err := r.ask(ctx, s, c.Prompt)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.Out, "assistant: %s\n", answer)
	}

	fmt.Fprintln(r.Out, "\n2. added context")
	s.ClearContext(true)
	if err := s.AddContext(provider.RoleSystem, cm.Seeded.System); err != nil {
		return err
	}
	for _, m := range cm.Seeded.Context {
		if err := s.AddContext(m.Role, m.Content); err != nil {
			return err
		}
	}
	answer, err := r.ask(ctx, s, cm.Seeded.Prompt)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.Out, "user: %s\nassistant: %s\n", cm.Seeded.Prompt, answer)

	fmt.Fprintln(r.Out, "\n3. cleared context")
	s.ClearContext(false)
	answer, err = r.ask(ctx, s, cm.AfterClear)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.Out, "user: %s\nassistant: %s\n", cm.AfterClear, answer)

	fmt.Fprintln(r.Out, "\n4. duplicate system prompt")
	s.ClearContext(true)
	var dupErr error
	for _, sys := range cm.DuplicateSystem {
		if dupErr = s.AddContext(provider.RoleSystem, sys); dupErr != nil {
			break
		}
	}
	if len(cm.DuplicateSystem) > 1 && !errors.Is(dupErr, chat.ErrSystemPromptSet) {
		return fmt.Errorf("duplicate system prompt was accepted")
	}
	if dupErr != nil {
		fmt.Fprintf(r.Out, "expected error: %v\n", dupErr)
	}
	return nil
}

func (r *Runner) reasoning(ctx context.Context, s *chat.Session) error {
	for _, prompt := range r.Scenarios.Reasoning {
		fmt.Fprintf(r.Out, "\nuser: %s\n", prompt)
		answer, err := r.ask(ctx, s, prompt)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.Out, "reasoning: %s\nanswer: %s\n", s.LastReasoning(), answer)
	}
	return nil
}

// Failed reports whether any result carries an error.
func Failed(results []Result) bool {
	for _, r := range results {
		if r.Err != nil {
			return true
		}
	}
	return false
}
