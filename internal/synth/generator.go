package synth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/KaramelBytes/dashloom-cli/internal/ai"
	"github.com/KaramelBytes/dashloom-cli/internal/dashspec"
	"github.com/KaramelBytes/dashloom-cli/internal/logging"
	"github.com/KaramelBytes/dashloom-cli/internal/metrics"
	"github.com/KaramelBytes/dashloom-cli/internal/semantic"
	"github.com/KaramelBytes/dashloom-cli/internal/utils"
)

// DefaultGeneratorTimeout bounds one external generation call.
const DefaultGeneratorTimeout = 20 * time.Second

// ParseError reports generator output that is not a JSON object.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "unusable generator output: " + e.Reason }

// Generator asks an LLM runtime for a candidate spec. The prompt carries
// column metadata only; sampled row values never leave the process.
type Generator struct {
	Runtime     ai.Runtime
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
	Limits      dashspec.Limits
	Logger      *slog.Logger
}

func (g *Generator) Name() string { return SourceGenerator }

// Candidate makes exactly one runtime call bounded by Timeout.
func (g *Generator) Candidate(ctx context.Context, m *semantic.Model) (*Candidate, error) {
	if g.Runtime == nil {
		return nil, errors.New("generator has no runtime")
	}
	logger := logging.OrDiscard(g.Logger)
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = DefaultGeneratorTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt, err := Prompt(m, g.Limits)
	if err != nil {
		return nil, err
	}
	maxTokens := g.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	if !ai.FitsContext(g.Model, utils.CountTokens(systemPrompt+prompt), maxTokens) {
		return nil, fmt.Errorf("prompt for %d columns does not fit %s", len(m.Columns), g.Model)
	}

	start := time.Now()
	resp, err := g.Runtime.Generate(ctx, ai.GenerateRequest{
		Model: g.Model,
		Messages: []ai.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:      maxTokens,
		Temperature:    g.Temperature,
		ResponseFormat: ai.JSONObject,
	})
	metrics.GeneratorLatency(time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("generate spec: %w", err)
	}
	if cost, ok := ai.EstimateCostUSD(g.Model, resp.Usage); ok {
		logger.Debug("generator usage", "model", g.Model, "total_tokens", resp.Usage.TotalTokens, "cost_usd", cost, "request_id", resp.RequestID)
	}
	doc, err := ExtractJSON(resp.Content())
	if err != nil {
		logger.Debug("unparseable generator output", "excerpt", utils.TruncateToTokenLimit(resp.Content(), 64))
		return nil, err
	}
	return &Candidate{Document: doc, Source: SourceGenerator}, nil
}

const systemPrompt = `You design analytics dashboards. Reply with one JSON object and nothing else.
Shape:
{"version":1,"title":string,"time":{"column":string,"type":"date"|"datetime"}|null,
 "columns":[{"name":string,"label":string}],
 "kpis":[{"label":string,"column":string,"agg":"sum"|"avg"|"count"|"count_distinct"|"truthy_count","format":string,"goal":"up"|"down"}],
 "funnel":{"steps":[{"label":string,"column":string}],"base_step":string}|null,
 "charts":[{"type":"line"|"bar"|"area"|"pie"|"stacked_bar","title":string,"x":string,"series":[{"y":string,"agg":string}]}],
 "filters":[{"column":string,"label":string,"type":"date_range"|"multi_select"|"search_select"|"toggle"}],
 "ui":{"tabs":[string],"defaultTab":string,"comparePeriods":bool}}
Only reference the listed column names. Never use columns whose role is id_secondary or ignore.`

type promptColumn struct {
	Name       string  `json:"name"`
	Type       string  `json:"type,omitempty"`
	Role       string  `json:"role"`
	Aggregator string  `json:"aggregator"`
	Format     string  `json:"format"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

type promptBody struct {
	Dataset     string          `json:"dataset,omitempty"`
	TimeColumn  string          `json:"time_column,omitempty"`
	FunnelOrder []string        `json:"funnel_order,omitempty"`
	Limits      dashspec.Limits `json:"limits"`
	Columns     []promptColumn  `json:"columns"`
}

// Prompt renders the user message for m. It contains column metadata and
// limits, never sampled values or statistics.
func Prompt(m *semantic.Model, limits dashspec.Limits) (string, error) {
	body := promptBody{Dataset: m.Dataset, TimeColumn: m.TimeColumn, Limits: limits}
	if body.Limits == (dashspec.Limits{}) {
		body.Limits = dashspec.DefaultLimits()
	}
	for _, st := range m.Funnel.Stages {
		body.FunnelOrder = append(body.FunnelOrder, st.Column)
	}
	for _, c := range m.Columns {
		body.Columns = append(body.Columns, promptColumn{
			Name:       c.Name,
			Type:       c.DBType,
			Role:       string(c.Role),
			Aggregator: string(c.Aggregator),
			Format:     string(c.Format),
			Label:      c.Label,
			Confidence: c.Confidence,
		})
	}
	b, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode prompt: %w", err)
	}
	return "Build a dashboard spec for this dataset:\n" + string(b), nil
}

// ExtractJSON finds the first JSON object in s, tolerating markdown fences
// and prose around it.
func ExtractJSON(s string) (map[string]any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, &ParseError{Reason: "empty response"}
	}
	for i := strings.IndexByte(s, '{'); i >= 0; {
		dec := json.NewDecoder(strings.NewReader(s[i:]))
		var obj map[string]any
		if err := dec.Decode(&obj); err == nil && obj != nil {
			return obj, nil
		}
		next := strings.IndexByte(s[i+1:], '{')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return nil, &ParseError{Reason: "no JSON object found"}
}
