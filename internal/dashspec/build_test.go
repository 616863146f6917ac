package dashspec

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/dashloom-cli/internal/semantic"
)

func leadRows() []any {
	channels := []string{"google", "meta", "google", "meta", "google", "tiktok", "google", "meta"}
	rows := make([]any, 0, len(channels))
	for i, ch := range channels {
		rows = append(rows, map[string]any{
			"lead_id":     fmt.Sprintf("L-%04d", i+1),
			"created_at":  fmt.Sprintf("2024-06-%02d", i+1),
			"canal":       ch,
			"custo":       float64(100 + i*7),
			"receita":     float64(i%3) * 250.5,
			"entrada":     "1",
			"qualificado": map[bool]string{true: "sim", false: ""}[i < 6],
			"venda":       map[bool]string{true: "1", false: "0"}[i < 2],
		})
	}
	return rows
}

func TestBuildFromModel(t *testing.T) {
	m, err := semantic.Introspect(leadRows(), nil, semantic.Options{Dataset: "leads_junho.csv"})
	require.NoError(t, err)

	s := Build(m, DefaultLimits())
	assert.Equal(t, 1, s.Version)
	assert.Equal(t, "Leads Junho", s.Title)
	require.NotNil(t, s.Time)
	assert.Equal(t, "created_at", s.Time.Column)

	require.NotEmpty(t, s.KPIs)
	assert.Equal(t, "receita", s.KPIs[0].Column)
	assert.Equal(t, GoalUp, s.KPIs[0].Goal)
	var custo KPI
	for _, k := range s.KPIs {
		if k.Column == "custo" {
			custo = k
		}
	}
	assert.Equal(t, GoalDown, custo.Goal)
	assert.LessOrEqual(t, len(s.KPIs), DefaultLimits().MaxKPIs)

	require.NotNil(t, s.Funnel)
	var steps []string
	for _, st := range s.Funnel.Steps {
		steps = append(steps, st.Column)
	}
	assert.Equal(t, []string{"entrada", "qualificado", "venda"}, steps)
	assert.Equal(t, "qualificado", s.Funnel.BaseStep)

	require.Len(t, s.Charts, 3)
	assert.Equal(t, ChartLine, s.Charts[0].Type)
	assert.Equal(t, "created_at", s.Charts[0].X)
	assert.Equal(t, "canal", s.Charts[2].X)

	for _, c := range s.Columns {
		assert.NotEqual(t, "lead_id", c.Name, "hidden identifier listed as column")
	}
	require.NotEmpty(t, s.Filters)
	assert.Equal(t, "created_at", s.Filters[0].Column)
	assert.Equal(t, []string{TabOverview, TabFunnel, TabTrends, TabDetails}, s.UI.Tabs)
	assert.True(t, s.UI.ComparePeriods)

	// a built spec validates cleanly against its own model columns
	res := Validate(s, ColumnsFromModel(m), DefaultOptions())
	assert.False(t, res.Regenerated)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, s, res.Spec)
}

func TestBuildIsDeterministic(t *testing.T) {
	m, err := semantic.Introspect(leadRows(), nil, semantic.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, Build(m, DefaultLimits()), Build(m, DefaultLimits()))
}

func TestBuildRespectsLimits(t *testing.T) {
	m, err := semantic.Introspect(leadRows(), nil, semantic.DefaultOptions())
	require.NoError(t, err)
	s := Build(m, Limits{MaxKPIs: 1, MaxCharts: 1, MaxFunnelSteps: 2, MaxFilters: 1})
	assert.Len(t, s.KPIs, 1)
	assert.Len(t, s.Charts, 1)
	require.NotNil(t, s.Funnel)
	assert.Len(t, s.Funnel.Steps, 2)
	assert.Len(t, s.Filters, 1)
}

func TestBuildWithoutFunnelOmitsSection(t *testing.T) {
	rows := []any{
		map[string]any{"dia": "2024-01-01", "leads_total": 3.0},
		map[string]any{"dia": "2024-01-02", "leads_total": 5.0},
	}
	m, err := semantic.Introspect(rows, nil, semantic.DefaultOptions())
	require.NoError(t, err)
	s := Build(m, DefaultLimits())
	assert.Nil(t, s.Funnel)
	assert.NotContains(t, s.UI.Tabs, TabFunnel)
}
