package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/KaramelBytes/dashloom-cli/internal/ai"
	cfgpkg "github.com/KaramelBytes/dashloom-cli/internal/config"
	"github.com/KaramelBytes/dashloom-cli/internal/dashspec"
	"github.com/KaramelBytes/dashloom-cli/internal/service"
	"github.com/KaramelBytes/dashloom-cli/internal/store"
	"github.com/KaramelBytes/dashloom-cli/internal/synth"
)

type runtimeOptions struct {
	ProviderFlag string
	OllamaHost   string
	// Attempts overrides the configured retry budget when positive.
	Attempts int
}

func runtimeConfig(cfg *cfgpkg.Global) ai.RuntimeConfig {
	rc := ai.RuntimeConfig{
		HTTPTimeout: 60 * time.Second,
		RetryMax:    3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    4 * time.Second,
	}
	if cfg == nil {
		return rc
	}
	if cfg.HTTPTimeoutSec > 0 {
		rc.HTTPTimeout = time.Duration(cfg.HTTPTimeoutSec) * time.Second
	}
	if cfg.RetryMaxAttempts > 0 {
		rc.RetryMax = cfg.RetryMaxAttempts
	}
	if cfg.RetryBaseDelayMs > 0 {
		rc.BaseDelay = time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond
	}
	if cfg.RetryMaxDelayMs > 0 {
		rc.MaxDelay = time.Duration(cfg.RetryMaxDelayMs) * time.Millisecond
	}
	return rc
}

func buildRuntime(cfg *cfgpkg.Global, opts runtimeOptions) (ai.Runtime, string, error) {
	rc := runtimeConfig(cfg)
	if opts.Attempts > 0 {
		rc.RetryMax = opts.Attempts
	}

	providerName := strings.ToLower(strings.TrimSpace(opts.ProviderFlag))
	if providerName == "" && cfg != nil && cfg.DefaultProvider != "" {
		providerName = strings.ToLower(cfg.DefaultProvider)
	}
	if providerName == "" {
		providerName = ai.ProviderOpenRouter
	}
	if providerName == "local" {
		providerName = ai.ProviderOllama
	}

	switch providerName {
	case ai.ProviderOpenRouter:
		rc.APIKey = os.Getenv("OPENROUTER_API_KEY")
		if rc.APIKey == "" && cfg != nil {
			rc.APIKey = cfg.APIKey
		}
	case ai.ProviderOpenAI:
		rc.APIKey = os.Getenv("OPENAI_API_KEY")
		if rc.APIKey == "" && cfg != nil {
			rc.APIKey = cfg.OpenAIAPIKey
		}
	case ai.ProviderOllama:
		host := strings.TrimSpace(opts.OllamaHost)
		if host == "" && cfg != nil {
			host = cfg.OllamaHost
		}
		if host == "" {
			host = "http://127.0.0.1:11434"
		}
		rc.Host = host
	}

	client, ok := ai.GetRuntime(providerName, rc)
	if !ok {
		return nil, providerName, fmt.Errorf("provider not supported: %s (use one of %s)", providerName, strings.Join(ai.Providers(), ", "))
	}
	return client, providerName, nil
}

func selectModel(cfg *cfgpkg.Global, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if cfg != nil && cfg.DefaultModel != "" {
		return cfg.DefaultModel
	}
	return "openai/gpt-4o-mini"
}

func serviceOptions(cfg *cfgpkg.Global) service.Options {
	opt := service.DefaultOptions()
	if cfg == nil {
		return opt
	}
	if cfg.SampleRows > 0 {
		opt.SampleRows = cfg.SampleRows
	}
	if cfg.MaxFilters > 0 {
		opt.MaxFilters = cfg.MaxFilters
	}
	opt.Validator.Limits = dashspec.Limits{
		MaxKPIs:        cfg.MaxKPIs,
		MaxCharts:      cfg.MaxCharts,
		MaxFunnelSteps: cfg.MaxFunnelSteps,
		MaxFilters:     cfg.MaxFilters,
	}
	if cfg.ValidatorMaxIssues > 0 {
		opt.Validator.MaxIssues = cfg.ValidatorMaxIssues
	}
	return opt
}

type generatorOptions struct {
	Enabled bool
	runtimeOptions
	Model string
}

// newGenerator returns nil when generation is disabled. The runtime gets a
// single attempt: a failed call falls back to the heuristic candidate
// instead of being retried.
func newGenerator(cfg *cfgpkg.Global, opts generatorOptions, logger *slog.Logger) (synth.Strategy, error) {
	if !opts.Enabled {
		return nil, nil
	}
	ro := opts.runtimeOptions
	ro.Attempts = 1
	rt, provider, err := buildRuntime(cfg, ro)
	if err != nil {
		return nil, err
	}
	g := &synth.Generator{
		Runtime: rt,
		Model:   selectModel(cfg, opts.Model),
		Limits:  serviceOptions(cfg).Validator.Limits,
		Logger:  logger,
	}
	if cfg != nil {
		g.Timeout = time.Duration(cfg.GeneratorTimeoutSec) * time.Second
		g.MaxTokens = cfg.MaxTokens
		g.Temperature = cfg.Temperature
	}
	logger.Debug("generator enabled", "provider", provider, "model", g.Model)
	return g, nil
}

// openService opens the store and builds the service. The returned close
// function releases the store.
func openService(ctx context.Context, cfg *cfgpkg.Global, gen synth.Strategy, logger *slog.Logger) (*service.Service, func(), error) {
	st, err := store.Open(ctx, cfg.DBPath, logger)
	if err != nil {
		return nil, nil, err
	}
	return service.New(st, gen, serviceOptions(cfg), logger), func() { _ = st.Close() }, nil
}
