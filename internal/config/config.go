// Package config loads global dashloom settings from defaults, an optional
// yaml file and DASHLOOM_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/KaramelBytes/dashloom-cli/internal/utils"
)

// HardMaxSampleRows caps sample_rows regardless of configuration.
const HardMaxSampleRows = 500

// Global configuration structure.
type Global struct {
	DefaultProvider string  `mapstructure:"default_provider" yaml:"default_provider" validate:"oneof=openrouter ollama openai"`
	DefaultModel    string  `mapstructure:"default_model" yaml:"default_model" validate:"required"`
	APIKey          string  `mapstructure:"api_key" yaml:"api_key"`
	OpenAIAPIKey    string  `mapstructure:"openai_api_key" yaml:"openai_api_key"`
	OllamaHost      string  `mapstructure:"ollama_host" yaml:"ollama_host" validate:"omitempty,url"`
	MaxTokens       int     `mapstructure:"max_tokens" yaml:"max_tokens" validate:"gte=0"`
	Temperature     float64 `mapstructure:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`

	// HTTP/Retry configuration
	HTTPTimeoutSec   int `mapstructure:"http_timeout_sec" yaml:"http_timeout_sec" validate:"gte=0"`
	RetryMaxAttempts int `mapstructure:"retry_max_attempts" yaml:"retry_max_attempts" validate:"gte=0"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms" yaml:"retry_base_delay_ms" validate:"gte=0"`
	RetryMaxDelayMs  int `mapstructure:"retry_max_delay_ms" yaml:"retry_max_delay_ms" validate:"gte=0"`

	// Spec generation
	GeneratorEnabled    bool `mapstructure:"generator_enabled" yaml:"generator_enabled"`
	GeneratorTimeoutSec int  `mapstructure:"generator_timeout_sec" yaml:"generator_timeout_sec" validate:"gte=0"`
	SampleRows          int  `mapstructure:"sample_rows" yaml:"sample_rows" validate:"gte=0"`
	MaxKPIs             int  `mapstructure:"max_kpis" yaml:"max_kpis" validate:"gte=0"`
	MaxCharts           int  `mapstructure:"max_charts" yaml:"max_charts" validate:"gte=0"`
	MaxFunnelSteps      int  `mapstructure:"max_funnel_steps" yaml:"max_funnel_steps" validate:"gte=0"`
	MaxFilters          int  `mapstructure:"max_filters" yaml:"max_filters" validate:"gte=0"`
	ValidatorMaxIssues  int  `mapstructure:"validator_max_issues" yaml:"validator_max_issues" validate:"gte=0"`

	// Persistence and serving
	DBPath     string `mapstructure:"db_path" yaml:"db_path"`
	LogLevel   string `mapstructure:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error silent off"`
	ServerAddr string `mapstructure:"server_addr" yaml:"server_addr" validate:"required,hostname_port"`
}

var defaults = map[string]any{
	"default_provider":      "openrouter",
	"default_model":         "openai/gpt-4o-mini",
	"ollama_host":           "http://127.0.0.1:11434",
	"max_tokens":            2048,
	"temperature":           0.2,
	"http_timeout_sec":      60,
	"retry_max_attempts":    3,
	"retry_base_delay_ms":   500,
	"retry_max_delay_ms":    4000,
	"generator_enabled":     false,
	"generator_timeout_sec": 20,
	"sample_rows":           200,
	"max_kpis":              6,
	"max_charts":            4,
	"max_funnel_steps":      8,
	"max_filters":           8,
	"validator_max_issues":  12,
	"log_level":             "warn",
	"server_addr":           "127.0.0.1:8088",
}

// Dir returns ~/.dashloom.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".dashloom"), nil
}

// Save writes c to cfgFile, or to ~/.dashloom/config.yaml when cfgFile is
// empty.
func Save(c *Global, cfgFile string) error {
	path := cfgFile
	if path == "" {
		dir, err := Dir()
		if err != nil {
			return err
		}
		path = filepath.Join(dir, "config.yaml")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := utils.SafeWriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load loads configuration from file, env, and defaults.
// Precedence: flags (cfgFile) > env > config file > defaults.
func Load(cfgFile string) (*Global, error) {
	v := viper.New()
	v.SetEnvPrefix("DASHLOOM")
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	// AutomaticEnv only resolves keys viper already knows about.
	v.SetDefault("api_key", "")
	v.SetDefault("openai_api_key", "")
	v.SetDefault("db_path", "")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	} else {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		// optional read
		_ = v.ReadInConfig()
	}

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.DBPath == "" {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		c.DBPath = filepath.Join(dir, "dashloom.db")
	}
	if c.SampleRows > HardMaxSampleRows {
		c.SampleRows = HardMaxSampleRows
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Global) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Keys lists the settable keys in sorted order.
func Keys() []string {
	out := make([]string, 0, len(defaults)+3)
	for k := range defaults {
		out = append(out, k)
	}
	out = append(out, "api_key", "openai_api_key", "db_path")
	sort.Strings(out)
	return out
}

// Get returns the string form of key. Secrets are masked.
func (c *Global) Get(key string) (string, error) {
	switch key {
	case "api_key":
		return mask(c.APIKey), nil
	case "openai_api_key":
		return mask(c.OpenAIAPIKey), nil
	}
	p, err := c.field(key)
	if err != nil {
		return "", err
	}
	switch x := p.(type) {
	case *string:
		return *x, nil
	case *int:
		return strconv.Itoa(*x), nil
	case *float64:
		return strconv.FormatFloat(*x, 'f', -1, 64), nil
	case *bool:
		return strconv.FormatBool(*x), nil
	}
	return "", fmt.Errorf("unknown key: %s", key)
}

// Set parses val into key and re-validates the configuration.
func (c *Global) Set(key, val string) error {
	if key == "default_provider" {
		val = strings.ToLower(strings.TrimSpace(val))
		if val == "local" {
			val = "ollama"
		}
	}
	p, err := c.field(key)
	if err != nil {
		return err
	}
	prev := *c
	switch x := p.(type) {
	case *string:
		*x = val
	case *int:
		i, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid int for %s: %v", key, val)
		}
		*x = i
	case *float64:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid float for %s: %v", key, val)
		}
		*x = f
	case *bool:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid bool for %s: %v", key, val)
		}
		*x = b
	}
	if err := c.Validate(); err != nil {
		*c = prev
		return err
	}
	return nil
}

func (c *Global) field(key string) (any, error) {
	switch key {
	case "default_provider":
		return &c.DefaultProvider, nil
	case "default_model":
		return &c.DefaultModel, nil
	case "api_key":
		return &c.APIKey, nil
	case "openai_api_key":
		return &c.OpenAIAPIKey, nil
	case "ollama_host":
		return &c.OllamaHost, nil
	case "max_tokens":
		return &c.MaxTokens, nil
	case "temperature":
		return &c.Temperature, nil
	case "http_timeout_sec":
		return &c.HTTPTimeoutSec, nil
	case "retry_max_attempts":
		return &c.RetryMaxAttempts, nil
	case "retry_base_delay_ms":
		return &c.RetryBaseDelayMs, nil
	case "retry_max_delay_ms":
		return &c.RetryMaxDelayMs, nil
	case "generator_enabled":
		return &c.GeneratorEnabled, nil
	case "generator_timeout_sec":
		return &c.GeneratorTimeoutSec, nil
	case "sample_rows":
		return &c.SampleRows, nil
	case "max_kpis":
		return &c.MaxKPIs, nil
	case "max_charts":
		return &c.MaxCharts, nil
	case "max_funnel_steps":
		return &c.MaxFunnelSteps, nil
	case "max_filters":
		return &c.MaxFilters, nil
	case "validator_max_issues":
		return &c.ValidatorMaxIssues, nil
	case "db_path":
		return &c.DBPath, nil
	case "log_level":
		return &c.LogLevel, nil
	case "server_addr":
		return &c.ServerAddr, nil
	}
	return nil, fmt.Errorf("unknown key: %s", key)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 6 {
		return "******"
	}
	return s[:3] + "****" + s[len(s)-3:]
}
