package semantic

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenarioARows() []any {
	leads := []float64{10, 12, 9, 15, 11, 8, 14, 13, 7, 16}
	cost := []float64{100.5, 98.25, 120.75, 87.1, 101.3, 99.9, 140.05, 133.2, 90.45, 110.6}
	sales := []float64{3, 5, 2, 4, 6, 3, 5, 7, 2, 4}
	rows := make([]any, 0, len(leads))
	for i := range leads {
		rows = append(rows, map[string]any{
			"dia":         fmt.Sprintf("2024-03-%02d", i+1),
			"leads_total": leads[i],
			"custo_total": cost[i],
			"venda_total": sales[i],
		})
	}
	return rows
}

func scenarioBRows() []any {
	flag := func(on bool) string {
		if on {
			return "1"
		}
		return ""
	}
	rows := make([]any, 0, 6)
	for i := 0; i < 6; i++ {
		rows = append(rows, map[string]any{
			"lead_id":       fmt.Sprintf("L-%04d", 1000+i),
			"created_at":    fmt.Sprintf("2024-05-%02dT10:00:00Z", i+1),
			"entrada":       "1",
			"qualificado":   flag(i < 5),
			"exp_agendada":  flag(i < 4),
			"exp_realizada": flag(i < 3),
			"venda":         flag(i < 2),
		})
	}
	return rows
}

func mixedRows() []any {
	channels := []string{"google", "meta", "google", "tiktok", "meta", "google", "meta", "google", "tiktok", "google"}
	statuses := []string{"aberto", "fechado", "aberto", "perdido", "aberto", "fechado", "aberto", "aberto", "perdido", "fechado"}
	rows := make([]any, 0, len(channels))
	for i := range channels {
		rows = append(rows, map[string]any{
			"order_id":       fmt.Sprintf("PED-%05d", 200+i),
			"customer_id":    fmt.Sprintf("C%03d", i%4),
			"tenant_id":      "acme",
			"password":       "hunter2",
			"canal":          channels[i],
			"status":         statuses[i],
			"taxa_conversao": []float64{0.1, 0.2, 0.1, 0.3, 0.2, 0.1, 0.2, 0.3, 0.1, 0.2}[i],
			"obs":            "cliente pediu retorno na semana seguinte para revisar a proposta comercial enviada por email",
			"dia":            fmt.Sprintf("2024-04-%02d", i+1),
		})
	}
	return rows
}

func roleOf(t *testing.T, m *Model, name string) Role {
	t.Helper()
	c, ok := m.Column(name)
	require.True(t, ok, "column %s missing", name)
	return c.Role
}

func TestScenarioDailyAggregates(t *testing.T) {
	m, err := Introspect(scenarioARows(), nil, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, "dia", m.TimeColumn)
	for _, name := range []string{"leads_total", "custo_total", "venda_total"} {
		assert.True(t, roleOf(t, m, name).IsMeasure(), "%s should be a measure", name)
	}
	assert.Equal(t, RoleCurrency, roleOf(t, m, "custo_total"))
	assert.ElementsMatch(t, []string{"leads_total", "custo_total", "venda_total"}, m.Metrics)
	assert.False(t, m.Funnel.Detected)
	require.NotNil(t, m.DateRange)
	assert.Equal(t, "2024-03-01", m.DateRange.Min)
	assert.Equal(t, "2024-03-10", m.DateRange.Max)
}

func TestScenarioLeadFunnel(t *testing.T) {
	m, err := Introspect(scenarioBRows(), nil, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, "lead_id", m.IDPrimary)
	assert.Equal(t, "created_at", m.TimeColumn)
	require.True(t, m.Funnel.Detected)
	require.Len(t, m.Funnel.Stages, 5)

	var order []string
	for i, s := range m.Funnel.Stages {
		order = append(order, s.Column)
		assert.Equal(t, i+1, s.Order)
	}
	assert.Equal(t, []string{"entrada", "qualificado", "exp_agendada", "exp_realizada", "venda"}, order)
	assert.Equal(t, "qualificado", m.Funnel.BaseStage)
	assert.InDelta(t, 0.9, m.Funnel.Confidence, 1e-9)

	id, _ := m.Column("lead_id")
	assert.Equal(t, AggCountDistinct, id.Aggregator)
	assert.True(t, id.IgnoreInUI)
}

func TestSparseTextIsNotStageFlag(t *testing.T) {
	notes := []string{"enviar ate sexta", "", "", "cliente pediu desconto", "", ""}
	rows := scenarioBRows()
	for i, r := range rows {
		r.(map[string]any)["proposta"] = notes[i]
	}
	m, err := Introspect(rows, nil, DefaultOptions())
	require.NoError(t, err)

	assert.NotEqual(t, RoleStageFlag, roleOf(t, m, "proposta"))
	for _, st := range m.Funnel.Stages {
		assert.NotEqual(t, "proposta", st.Column)
	}
	assert.Len(t, m.Funnel.Stages, 5)
}

func TestExactlyOneRoleAndKPIUsability(t *testing.T) {
	valid := map[Role]bool{
		RoleIgnore: true, RoleTime: true, RoleIDPrimary: true, RoleIDSecondary: true,
		RoleStageFlag: true, RoleStatusEnum: true, RoleCurrency: true, RoleRate: true,
		RoleMetric: true, RoleDimension: true, RoleTextLong: true, RoleText: true,
	}
	samples := map[string][]any{
		"daily":  scenarioARows(),
		"leads":  scenarioBRows(),
		"mixed":  mixedRows(),
		"arrays": {[]any{"a", 1.0}, []any{"b", 2.0}},
		"junk":   {"not json", 42.0, nil},
	}
	for name, rows := range samples {
		t.Run(name, func(t *testing.T) {
			m, err := Introspect(rows, nil, DefaultOptions())
			require.NoError(t, err)
			require.NotEmpty(t, m.Columns)
			for _, c := range m.Columns {
				assert.True(t, valid[c.Role], "%s has invalid role %q", c.Name, c.Role)
				assert.GreaterOrEqual(t, c.Confidence, 0.0)
				assert.LessOrEqual(t, c.Confidence, 1.0)
				if c.Role == RoleIDSecondary || c.Role == RoleIgnore {
					assert.False(t, c.UsableInKPI, "%s must not be usable in KPIs", c.Name)
					assert.False(t, c.UsableAsFilter, "%s must not be usable as filter", c.Name)
					assert.True(t, c.IgnoreInUI)
				}
			}
			primaries := m.ColumnsWithRole(RoleIDPrimary)
			assert.LessOrEqual(t, len(primaries), 1)
		})
	}
}

func TestMixedSampleRoles(t *testing.T) {
	m, err := Introspect(mixedRows(), nil, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, RoleIgnore, roleOf(t, m, "tenant_id"))
	assert.Equal(t, RoleIgnore, roleOf(t, m, "password"))
	assert.Equal(t, RoleIDSecondary, roleOf(t, m, "customer_id"))
	assert.Equal(t, RoleStatusEnum, roleOf(t, m, "status"))
	assert.Equal(t, RoleDimension, roleOf(t, m, "canal"))
	assert.Equal(t, RoleTextLong, roleOf(t, m, "obs"))
	assert.Equal(t, "dia", m.TimeColumn)

	// customer_id repeats, so the unique order_id takes the primary slot.
	assert.Equal(t, RoleIDPrimary, roleOf(t, m, "order_id"))
	assert.Equal(t, "order_id", m.IDPrimary)
}

func TestCascadeOrder(t *testing.T) {
	var names []string
	for _, r := range Cascade {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{
		"ignore", "time", "id", "stage_flag", "status_enum",
		"measure", "dimension", "text_long", "text",
	}, names)
}

func TestCascadePriorityTieBreaks(t *testing.T) {
	rows := make([]any, 0, 10)
	for i := 0; i < 10; i++ {
		rows = append(rows, map[string]any{
			// numeric rate with few distinct values: measure wins over dimension
			"taxa_conversao": []float64{0.1, 0.2, 0.1, 0.2, 0.1, 0.2, 0.1, 0.2, 0.1, 0.2}[i],
			// status-named 0/1 column: stage flag wins over status enum
			"status_pago": []string{"1", "0"}[i%2],
			// sensitive name wins over everything
			"token_data": "2024-01-01",
		})
	}
	m, err := Introspect(rows, nil, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, RoleRate, roleOf(t, m, "taxa_conversao"))
	assert.Equal(t, RoleStageFlag, roleOf(t, m, "status_pago"))
	assert.Equal(t, RoleIgnore, roleOf(t, m, "token_data"))
}

func TestDeclaredOnlyClassification(t *testing.T) {
	meta := []ColumnMeta{
		{Name: "created_at", Type: "timestamp"},
		{Name: "valor", Type: "numeric(12,2)", Label: "Valor (R$)"},
		{Name: "canal", Type: "text"},
		{Name: "ativo", Type: "boolean"},
	}
	m, err := Introspect(nil, meta, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, "created_at", m.TimeColumn)
	assert.Equal(t, RoleCurrency, roleOf(t, m, "valor"))
	assert.Equal(t, RoleDimension, roleOf(t, m, "canal"))
	assert.Equal(t, RoleStageFlag, roleOf(t, m, "ativo"))

	valor, _ := m.Column("valor")
	assert.Equal(t, "Valor (R$)", valor.Label)
	tc, _ := m.Column("created_at")
	assert.InDelta(t, 0.8, tc.Confidence, 1e-9)
	assert.Contains(t, m.Warnings, "no sample rows; classification used declared types only")
}

func TestIntrospectWithoutColumns(t *testing.T) {
	_, err := Introspect(nil, nil, DefaultOptions())
	assert.ErrorIs(t, err, ErrNoColumns)
}

func TestPlanFilters(t *testing.T) {
	m, err := Introspect(mixedRows(), nil, DefaultOptions())
	require.NoError(t, err)
	require.NotEmpty(t, m.Filters)

	assert.Equal(t, "dia", m.Filters[0].Column)
	assert.Equal(t, FilterDateRange, m.Filters[0].Type)
	cols := map[string]Filter{}
	for _, f := range m.Filters {
		cols[f.Column] = f
		assert.ElementsMatch(t, []string{AppliesKPIs, AppliesCharts, AppliesFunnel, AppliesTable}, f.AppliesTo)
	}
	assert.Equal(t, FilterMultiSelect, cols["canal"].Type)
	assert.Contains(t, cols, "status")
	assert.NotContains(t, cols, "customer_id")
	assert.NotContains(t, cols, "obs")

	capped := PlanFilters(m, 1)
	assert.Len(t, capped, 1)
}

func TestAssembleFunnelTieBreak(t *testing.T) {
	cols := []Column{
		{Name: "venda", Role: RoleStageFlag, StageRank: 80},
		{Name: "flag_b", Role: RoleStageFlag, StageRank: genericStageRank},
		{Name: "flag_a", Role: RoleStageFlag, StageRank: genericStageRank},
		{Name: "entrada", Role: RoleStageFlag, StageRank: 10},
	}
	cols[0].Stats.TruthyRate = 0.2
	cols[1].Stats.TruthyRate = 0.3
	cols[2].Stats.TruthyRate = 0.6
	cols[3].Stats.TruthyRate = 1

	f := AssembleFunnel(cols)
	require.True(t, f.Detected)
	var order []string
	for _, s := range f.Stages {
		order = append(order, s.Column)
	}
	assert.Equal(t, []string{"entrada", "venda", "flag_a", "flag_b"}, order)
	assert.Equal(t, "flag_a", f.BaseStage)

	single := AssembleFunnel(cols[:1])
	assert.False(t, single.Detected)
	assert.Zero(t, single.Confidence)
}

func TestNormalizeNameAndHumanize(t *testing.T) {
	assert.Equal(t, "situacao_do_lead", normalizeName("Situação do Lead"))
	assert.Equal(t, "_airbyte_id", normalizeName("_airbyte id"))
	assert.Equal(t, "Custo Total", Humanize("custo_total"))
	assert.Equal(t, 40, stageRank("reuniao_agendada"))
	assert.Equal(t, 50, stageRank("reuniao_realizada"))
	assert.True(t, LowerIsBetter("CPL"))
	assert.False(t, LowerIsBetter("receita"))
}
