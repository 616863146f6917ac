package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(patches.WithLabelValues(PatchConflict))
	PatchOutcome(PatchConflict)
	assert.Equal(t, before+1, testutil.ToFloat64(patches.WithLabelValues(PatchConflict)))

	warnBefore := testutil.ToFloat64(validationWarnings)
	ValidationDone(OutcomeRepaired, 3)
	assert.Equal(t, warnBefore+3, testutil.ToFloat64(validationWarnings))

	ColumnClassified("time")
	assert.GreaterOrEqual(t, testutil.ToFloat64(columnsClassified.WithLabelValues("time")), 1.0)

	GeneratorLatency(150 * time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(generatorLatency))
}
