package ai

import "sort"

// ModelInfo carries context size and illustrative pricing for a model.
type ModelInfo struct {
	Name          string
	ContextTokens int
	InputPerK     float64 // USD per 1K input tokens
	OutputPerK    float64 // USD per 1K output tokens
}

// Prices are illustrative; verify against the provider before relying on them.
var models = map[string]ModelInfo{
	"openai/gpt-4o-mini":          {Name: "openai/gpt-4o-mini", ContextTokens: 128000, InputPerK: 0.0006, OutputPerK: 0.0024},
	"openai/gpt-4o":               {Name: "openai/gpt-4o", ContextTokens: 128000, InputPerK: 0.005, OutputPerK: 0.015},
	"openai/gpt-4.1-mini":         {Name: "openai/gpt-4.1-mini", ContextTokens: 128000, InputPerK: 0.0005, OutputPerK: 0.0015},
	"anthropic/claude-3.5-sonnet": {Name: "anthropic/claude-3.5-sonnet", ContextTokens: 200000, InputPerK: 0.003, OutputPerK: 0.015},
	"google/gemini-1.5-flash":     {Name: "google/gemini-1.5-flash", ContextTokens: 1000000, InputPerK: 0.0002, OutputPerK: 0.0008},
	"deepseek/deepseek-r1:free":   {Name: "deepseek/deepseek-r1:free", ContextTokens: 128000},
	"gpt-4o-mini":                 {Name: "gpt-4o-mini", ContextTokens: 128000, InputPerK: 0.00015, OutputPerK: 0.0006},
	"gpt-4o":                      {Name: "gpt-4o", ContextTokens: 128000, InputPerK: 0.0025, OutputPerK: 0.01},
	"llama3.1:8b-instruct":        {Name: "llama3.1:8b-instruct", ContextTokens: 8192},
	"qwen2.5:7b-instruct":         {Name: "qwen2.5:7b-instruct", ContextTokens: 32768},
}

// LookupModel returns ModelInfo and ok flag.
func LookupModel(name string) (ModelInfo, bool) {
	mi, ok := models[name]
	return mi, ok
}

// EstimateCostUSD estimates the cost of a completion. Unknown models return
// ok=false.
func EstimateCostUSD(model string, u Usage) (float64, bool) {
	mi, ok := LookupModel(model)
	if !ok {
		return 0, false
	}
	return float64(u.PromptTokens)/1000*mi.InputPerK + float64(u.CompletionTokens)/1000*mi.OutputPerK, true
}

// FitsContext reports whether promptTokens plus maxTokens fit the model's
// window. Unknown models are assumed to fit.
func FitsContext(model string, promptTokens, maxTokens int) bool {
	mi, ok := LookupModel(model)
	if !ok || mi.ContextTokens == 0 {
		return true
	}
	return promptTokens+maxTokens <= mi.ContextTokens
}

// Catalog returns the known models sorted by name.
func Catalog() []ModelInfo {
	out := make([]ModelInfo, 0, len(models))
	for _, mi := range models {
		out = append(out, mi)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
