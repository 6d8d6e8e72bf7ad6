package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/ai-gateway/palette-gateway/internal/ollama"
	"github.com/ai-gateway/palette-gateway/internal/provider"
	"github.com/ai-gateway/palette-gateway/internal/routing"
	"github.com/ai-gateway/palette-gateway/internal/smoke"
)

func main() {
	log.SetHandler(cli.New(os.Stderr))
	_ = godotenv.Load()

	var (
		scenarios = flag.String("scenarios", "", "YAML file overriding the built-in scenarios")
		models    = flag.String("models", os.Getenv("TEST_MODELS"), "comma separated providers to test (default: all)")
		suites    = flag.StringSlice("suites", smoke.Suites(), "suites to run")
		pace      = flag.Duration("pace", 500*time.Millisecond, "minimum delay between provider calls")
		timeout   = flag.Duration("timeout", 120*time.Second, "per-call timeout")
		ollamaURL = flag.String("ollama-url", ollama.DefaultURL, "Ollama daemon address")
		verbose   = flag.BoolP("verbose", "v", false, "debug logging")
	)
	flag.Parse()
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	sc, err := smoke.LoadScenarios(*scenarios)
	if err != nil {
		log.WithError(err).Fatal("loading scenarios")
	}

	oc := ollama.NewClient(*ollamaURL)
	rt := routing.New()
	rt.RegisterDefault(routing.OpenAICompat)
	rt.SetModelResolver(provider.Ollama, ollama.NewResolver(oc, "llama2"))
	rt.SetBaseURL(provider.Ollama, strings.TrimRight(*ollamaURL, "/")+"/v1")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	r := &smoke.Runner{
		Router:    rt,
		Scenarios: sc,
		Out:       os.Stdout,
		Getenv:    os.Getenv,
		Timeout:   *timeout,
	}
	if *pace > 0 {
		r.Limiter = rate.NewLimiter(rate.Every(*pace), 1)
	}

	results := r.Run(ctx, smoke.SelectKinds(*models), *suites)
	if smoke.Failed(results) {
		os.Exit(1)
	}
}
