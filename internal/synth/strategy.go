// Package synth produces candidate dashboard specs from a semantic model and
// runs them through the validator.
package synth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/KaramelBytes/dashloom-cli/internal/ai"
	"github.com/KaramelBytes/dashloom-cli/internal/dashspec"
	"github.com/KaramelBytes/dashloom-cli/internal/logging"
	"github.com/KaramelBytes/dashloom-cli/internal/metrics"
	"github.com/KaramelBytes/dashloom-cli/internal/semantic"
)

// Sources recorded on a candidate.
const (
	SourceHeuristic = "heuristic"
	SourceGenerator = "generator"
)

// Candidate is an unvalidated spec. Exactly one of Spec and Document is set:
// heuristic output is typed, generator output is a decoded JSON document.
type Candidate struct {
	Spec           *dashspec.Spec
	Document       any
	Source         string
	FallbackReason string
}

// Strategy produces a candidate spec from a model.
type Strategy interface {
	Name() string
	Candidate(ctx context.Context, m *semantic.Model) (*Candidate, error)
}

// Heuristic builds candidates deterministically from the model.
type Heuristic struct {
	Limits dashspec.Limits
}

func (Heuristic) Name() string { return SourceHeuristic }

// Candidate never fails.
func (h Heuristic) Candidate(_ context.Context, m *semantic.Model) (*Candidate, error) {
	return &Candidate{Spec: dashspec.Build(m, h.Limits), Source: SourceHeuristic}, nil
}

type fallback struct {
	primary   Strategy
	secondary Strategy
	logger    *slog.Logger
}

// Fallback returns a strategy that runs primary and, when it fails, runs
// secondary within the same call. primary is never retried.
func Fallback(primary, secondary Strategy, logger *slog.Logger) Strategy {
	return &fallback{primary: primary, secondary: secondary, logger: logging.OrDiscard(logger)}
}

func (f *fallback) Name() string { return f.primary.Name() + "+" + f.secondary.Name() }

func (f *fallback) Candidate(ctx context.Context, m *semantic.Model) (*Candidate, error) {
	c, err := f.primary.Candidate(ctx, m)
	if err == nil {
		return c, nil
	}
	reason := FailureReason(err)
	metrics.SynthesisFallback(reason)
	f.logger.Warn("spec generation failed; falling back", "strategy", f.primary.Name(), "fallback", f.secondary.Name(), "reason", reason, "error", err)

	// the primary's deadline must not starve the fallback
	c, err = f.secondary.Candidate(context.WithoutCancel(ctx), m)
	if err != nil {
		return nil, err
	}
	c.FallbackReason = reason
	return c, nil
}

// FailureReason labels a strategy error for logs and metrics.
func FailureReason(err error) string {
	var pe *ParseError
	if errors.As(err, &pe) {
		return "malformed"
	}
	return ai.Kind(err)
}
