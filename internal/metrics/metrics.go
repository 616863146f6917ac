// Package metrics exposes prometheus counters for the dashboard pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Validation outcomes.
const (
	OutcomeClean       = "clean"
	OutcomeRepaired    = "repaired"
	OutcomeRegenerated = "regenerated"
)

// Patch outcomes.
const (
	PatchCommitted = "committed"
	PatchForbidden = "forbidden"
	PatchConflict  = "conflict"
	PatchInvalid   = "invalid"
	PatchNotFound  = "not_found"
)

var (
	columnsClassified = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashloom_columns_classified_total",
		Help: "Columns classified by semantic role",
	}, []string{"role"})

	funnelsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dashloom_funnels_detected_total",
		Help: "Introspections that detected a conversion funnel",
	})

	validations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashloom_validations_total",
		Help: "Spec validation passes by outcome",
	}, []string{"outcome"})

	validationWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dashloom_validation_warnings_total",
		Help: "Auto-fixes applied by the spec validator",
	})

	syntheses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashloom_syntheses_total",
		Help: "Spec syntheses by the strategy that produced the candidate",
	}, []string{"source"})

	synthesisFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashloom_synthesis_fallbacks_total",
		Help: "External generation failures that fell back to the heuristic builder",
	}, []string{"reason"})

	generatorLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dashloom_generator_latency_seconds",
		Help:    "External spec generation latency",
		Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
	})

	patches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashloom_patches_total",
		Help: "Patch requests by outcome",
	}, []string{"outcome"})
)

// ColumnClassified counts one classified column.
func ColumnClassified(role string) {
	columnsClassified.WithLabelValues(role).Inc()
}

// FunnelDetected counts one detected funnel.
func FunnelDetected() {
	funnelsDetected.Inc()
}

// ValidationDone records a validation outcome and its warning count.
func ValidationDone(outcome string, warnings int) {
	validations.WithLabelValues(outcome).Inc()
	validationWarnings.Add(float64(warnings))
}

// Synthesized counts a synthesis by source strategy.
func Synthesized(source string) {
	syntheses.WithLabelValues(source).Inc()
}

// SynthesisFallback counts a fallback by reason.
func SynthesisFallback(reason string) {
	synthesisFallbacks.WithLabelValues(reason).Inc()
}

// GeneratorLatency observes one external generation call.
func GeneratorLatency(d time.Duration) {
	generatorLatency.Observe(d.Seconds())
}

// PatchOutcome counts a patch request outcome.
func PatchOutcome(outcome string) {
	patches.WithLabelValues(outcome).Inc()
}
