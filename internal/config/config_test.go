package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsAndEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DASHLOOM_MAX_KPIS", "3")
	t.Setenv("DASHLOOM_API_KEY", "sk-env-123456")

	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.DefaultProvider != "openrouter" || c.SampleRows != 200 || c.ServerAddr != "127.0.0.1:8088" {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.MaxKPIs != 3 {
		t.Fatalf("env override not applied: max_kpis=%d", c.MaxKPIs)
	}
	if c.APIKey != "sk-env-123456" {
		t.Fatalf("env api key not applied")
	}
	if filepath.Base(c.DBPath) != "dashloom.db" {
		t.Fatalf("unexpected db path %q", c.DBPath)
	}
}

func TestSaveAndReloadFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "cfg", "config.yaml")

	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := c.Set("default_provider", "Local"); err != nil {
		t.Fatalf("Set provider: %v", err)
	}
	if err := c.Set("sample_rows", "120"); err != nil {
		t.Fatalf("Set sample_rows: %v", err)
	}
	if err := Save(c, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	back, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if back.DefaultProvider != "ollama" || back.SampleRows != 120 {
		t.Fatalf("unexpected reload: %+v", back)
	}
}

func TestSetRejectsInvalidValues(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cases := [][2]string{
		{"default_provider", "anthropic"},
		{"temperature", "3.5"},
		{"max_kpis", "many"},
		{"server_addr", "no port"},
		{"nope", "1"},
	}
	for _, kv := range cases {
		if err := c.Set(kv[0], kv[1]); err == nil {
			t.Errorf("expected error for %s=%s", kv[0], kv[1])
		}
	}
	if c.DefaultProvider != "openrouter" || c.Temperature != 0.2 {
		t.Fatalf("failed Set must not change config: %+v", c)
	}
}

func TestSampleRowsHardCap(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DASHLOOM_SAMPLE_ROWS", "10000")
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.SampleRows != HardMaxSampleRows {
		t.Fatalf("sample_rows=%d, want %d", c.SampleRows, HardMaxSampleRows)
	}
}

func TestGetMasksSecrets(t *testing.T) {
	c := &Global{APIKey: "sk-abcdefghijkl"}
	got, err := c.Get("api_key")
	if err != nil || got != "sk-****jkl" {
		t.Fatalf("unexpected masked key %q (%v)", got, err)
	}
	if len(Keys()) != 22 {
		t.Fatalf("unexpected key count %d", len(Keys()))
	}
}
