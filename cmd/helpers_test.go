package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/KaramelBytes/dashloom-cli/internal/ai"
	cfgpkg "github.com/KaramelBytes/dashloom-cli/internal/config"
	"github.com/KaramelBytes/dashloom-cli/internal/logging"
	"github.com/KaramelBytes/dashloom-cli/internal/semantic"
)

func TestSelectModelPrecedence(t *testing.T) {
	cfg := &cfgpkg.Global{DefaultModel: "cfg-model"}
	if got := selectModel(cfg, "cli-model"); got != "cli-model" {
		t.Fatalf("expected CLI model, got %q", got)
	}
	if got := selectModel(cfg, ""); got != "cfg-model" {
		t.Fatalf("expected config model, got %q", got)
	}
	if got := selectModel(nil, ""); got != "openai/gpt-4o-mini" {
		t.Fatalf("expected fallback model, got %q", got)
	}
}

func TestBuildRuntimeDefaults(t *testing.T) {
	cfg := &cfgpkg.Global{DefaultProvider: "local", OllamaHost: "http://example"}
	client, provider, err := buildRuntime(cfg, runtimeOptions{})
	if err != nil {
		t.Fatalf("buildRuntime error: %v", err)
	}
	if provider != ai.ProviderOllama {
		t.Fatalf("expected ollama provider, got %q", provider)
	}
	if client == nil {
		t.Fatal("expected runtime client")
	}

	if _, _, err := buildRuntime(cfg, runtimeOptions{ProviderFlag: "anthropic"}); err == nil {
		t.Fatal("expected unsupported provider error")
	}
	if _, provider, err := buildRuntime(nil, runtimeOptions{ProviderFlag: "openai"}); err != nil || provider != ai.ProviderOpenAI {
		t.Fatalf("expected openai runtime, got %q (%v)", provider, err)
	}
}

func TestServiceOptionsFromConfig(t *testing.T) {
	cfg := &cfgpkg.Global{SampleRows: 120, MaxKPIs: 2, MaxFilters: 3, ValidatorMaxIssues: 5}
	opt := serviceOptions(cfg)
	if opt.SampleRows != 120 || opt.MaxFilters != 3 {
		t.Fatalf("unexpected sampling options: %+v", opt)
	}
	if opt.Validator.Limits.MaxKPIs != 2 || opt.Validator.MaxIssues != 5 {
		t.Fatalf("unexpected validator options: %+v", opt.Validator)
	}
}

func TestNewGeneratorDisabled(t *testing.T) {
	g, err := newGenerator(&cfgpkg.Global{}, generatorOptions{}, logging.NewDiscardLogger())
	if err != nil || g != nil {
		t.Fatalf("expected no generator, got %v (%v)", g, err)
	}
}

func TestNewGeneratorCallsRuntimeOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/chat" {
			hits.Add(1)
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"model is loading"}`))
	}))
	defer srv.Close()

	cfg := &cfgpkg.Global{
		DefaultProvider:  "ollama",
		OllamaHost:       srv.URL,
		RetryMaxAttempts: 3,
		RetryBaseDelayMs: 1,
		RetryMaxDelayMs:  2,
	}
	gen, err := newGenerator(cfg, generatorOptions{Enabled: true, Model: "llama3"}, logging.NewDiscardLogger())
	if err != nil || gen == nil {
		t.Fatalf("newGenerator: %v (%v)", gen, err)
	}
	rows := []any{
		map[string]any{"dia": "2024-03-01", "leads": 10.0},
		map[string]any{"dia": "2024-03-02", "leads": 12.0},
	}
	m, err := semantic.Introspect(rows, nil, semantic.DefaultOptions())
	if err != nil {
		t.Fatalf("Introspect: %v", err)
	}
	if _, err := gen.Candidate(context.Background(), m); err == nil {
		t.Fatal("expected generator error on 503")
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected exactly one runtime call, got %d", got)
	}

	// Other commands keep the configured retry budget.
	rt, _, err := buildRuntime(cfg, runtimeOptions{})
	if err != nil {
		t.Fatalf("buildRuntime: %v", err)
	}
	_, _ = rt.Generate(context.Background(), ai.GenerateRequest{Model: "llama3", Messages: []ai.Message{{Role: "user", Content: "oi"}}})
	if got := hits.Load(); got != 4 {
		t.Fatalf("expected three more calls with retries, got %d total", got)
	}
}

func TestParseDelimiter(t *testing.T) {
	cases := map[string]rune{"": 0, "tab": '\t', ";": ';', ",": ','}
	for in, want := range cases {
		got, err := parseDelimiter(in)
		if err != nil || got != want {
			t.Fatalf("parseDelimiter(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := parseDelimiter("ab"); err == nil {
		t.Fatal("expected error for multi-char delimiter")
	}
}
