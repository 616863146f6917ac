package synth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/KaramelBytes/dashloom-cli/internal/dashspec"
	"github.com/KaramelBytes/dashloom-cli/internal/logging"
	"github.com/KaramelBytes/dashloom-cli/internal/metrics"
	"github.com/KaramelBytes/dashloom-cli/internal/semantic"
)

// Outcome is a validated spec and how it was produced.
type Outcome struct {
	Spec           *dashspec.Spec `json:"spec"`
	Warnings       []string       `json:"warnings"`
	Errors         []string       `json:"errors"`
	Source         string         `json:"source"`
	Regenerated    bool           `json:"regenerated"`
	FallbackReason string         `json:"fallback_reason,omitempty"`
}

// Pipeline runs a strategy and validates its candidate. The heuristic
// builder backs every non-heuristic strategy.
type Pipeline struct {
	strategy Strategy
	options  dashspec.Options
	logger   *slog.Logger
}

// NewPipeline creates a Pipeline. A nil strategy uses the heuristic builder.
func NewPipeline(s Strategy, opt dashspec.Options, logger *slog.Logger) *Pipeline {
	logger = logging.OrDiscard(logger)
	heuristic := Heuristic{Limits: opt.Limits}
	switch s.(type) {
	case nil:
		s = heuristic
	case Heuristic, *fallback:
	default:
		s = Fallback(s, heuristic, logger)
	}
	return &Pipeline{strategy: s, options: opt, logger: logger}
}

// Synthesize produces a validated spec for m. cols is the authoritative
// column list; nil derives it from m.
func (p *Pipeline) Synthesize(ctx context.Context, m *semantic.Model, cols []dashspec.DatasetColumn) (*Outcome, error) {
	if m == nil {
		return nil, errors.New("synthesize: nil model")
	}
	if cols == nil {
		cols = dashspec.ColumnsFromModel(m)
	}
	c, err := p.strategy.Candidate(ctx, m)
	if err != nil {
		return nil, err
	}

	var res dashspec.Result
	if c.Spec != nil {
		res = dashspec.Validate(c.Spec, cols, p.options)
	} else {
		res = dashspec.ValidateDocument(c.Document, cols, p.options)
	}

	outcome := metrics.OutcomeClean
	switch {
	case res.Regenerated:
		outcome = metrics.OutcomeRegenerated
	case len(res.Warnings) > 0:
		outcome = metrics.OutcomeRepaired
	}
	metrics.Synthesized(c.Source)
	metrics.ValidationDone(outcome, len(res.Warnings))
	p.logger.Debug("spec synthesized", "source", c.Source, "validation", outcome, "warnings", len(res.Warnings), "fallback_reason", c.FallbackReason)

	return &Outcome{
		Spec:           res.Spec,
		Warnings:       res.Warnings,
		Errors:         res.Errors,
		Source:         c.Source,
		Regenerated:    res.Regenerated,
		FallbackReason: c.FallbackReason,
	}, nil
}

// Observe records classification metrics for m.
func Observe(m *semantic.Model) {
	for _, c := range m.Columns {
		metrics.ColumnClassified(string(c.Role))
	}
	if m.Funnel.Detected {
		metrics.FunnelDetected()
	}
}
