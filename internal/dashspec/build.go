package dashspec

import (
	"fmt"
	"sort"
	"strings"

	"github.com/KaramelBytes/dashloom-cli/internal/semantic"
)

// Limits caps the sections the heuristic builder emits.
type Limits struct {
	MaxKPIs        int `json:"max_kpis"`
	MaxCharts      int `json:"max_charts"`
	MaxFunnelSteps int `json:"max_funnel_steps"`
	MaxFilters     int `json:"max_filters"`
}

// DefaultLimits returns the builder caps used when configuration is absent.
func DefaultLimits() Limits {
	return Limits{MaxKPIs: 6, MaxCharts: 4, MaxFunnelSteps: 8, MaxFilters: semantic.DefaultMaxFilters}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxKPIs <= 0 {
		l.MaxKPIs = d.MaxKPIs
	}
	if l.MaxCharts <= 0 {
		l.MaxCharts = d.MaxCharts
	}
	if l.MaxFunnelSteps <= 0 {
		l.MaxFunnelSteps = d.MaxFunnelSteps
	}
	if l.MaxFilters <= 0 {
		l.MaxFilters = d.MaxFilters
	}
	return l
}

const trendSeries = 3

// Build derives a dashboard deterministically from a semantic model. The
// same model always yields the same document.
func Build(m *semantic.Model, limits Limits) *Spec {
	limits = limits.withDefaults()
	s := &Spec{
		Version: 1,
		Title:   titleFor(m.Dataset),
		Columns: []ColumnRef{},
		KPIs:    []KPI{},
		Charts:  []Chart{},
	}

	if tc, ok := m.Column(m.TimeColumn); ok {
		typ := "date"
		if strings.Contains(strings.ToLower(tc.DBType), "timestamp") {
			typ = "datetime"
		}
		s.Time = &TimeSpec{Column: tc.Name, Type: typ}
	}

	for _, c := range m.Columns {
		if c.IgnoreInUI {
			continue
		}
		s.Columns = append(s.Columns, ColumnRef{Name: c.Name, Label: c.Label, Role: string(c.Role), Format: string(c.Format)})
	}

	metrics := rankedMetrics(m)
	s.KPIs = buildKPIs(m, metrics, limits.MaxKPIs)

	if m.Funnel.Detected {
		steps := make([]FunnelStep, 0, len(m.Funnel.Stages))
		for _, st := range m.Funnel.Stages {
			if len(steps) >= limits.MaxFunnelSteps {
				break
			}
			steps = append(steps, FunnelStep{Label: st.Label, Column: st.Column})
		}
		if len(steps) >= 2 {
			f := &FunnelSpec{Steps: steps}
			for _, st := range steps[1:] {
				if st.Column == m.Funnel.BaseStage {
					f.BaseStep = st.Column
				}
			}
			s.Funnel = f
		}
	}

	s.Charts = buildCharts(m, s, metrics, limits.MaxCharts)

	for _, f := range m.Filters {
		if len(s.Filters) >= limits.MaxFilters {
			break
		}
		s.Filters = append(s.Filters, FilterSpec{
			Column:    f.Column,
			Label:     f.Label,
			Type:      string(f.Type),
			AppliesTo: append([]string(nil), f.AppliesTo...),
		})
	}

	s.UI.ComparePeriods = s.Time != nil
	layoutUI(s)
	return s
}

func titleFor(dataset string) string {
	name := strings.TrimSpace(dataset)
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	if name == "" {
		return "Dashboard"
	}
	return semantic.Humanize(name)
}

// rankedMetrics orders measure columns by canonical KPI priority, keeping
// dataset order within a rank.
func rankedMetrics(m *semantic.Model) []semantic.Column {
	var out []semantic.Column
	for _, c := range m.Columns {
		if c.Role.IsMeasure() && c.UsableInKPI {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return semantic.KPIPriority(out[i].Name) < semantic.KPIPriority(out[j].Name)
	})
	return out
}

func buildKPIs(m *semantic.Model, metrics []semantic.Column, max int) []KPI {
	kpis := []KPI{}
	add := func(c semantic.Column) {
		if len(kpis) >= max {
			return
		}
		goal := GoalUp
		if semantic.LowerIsBetter(c.Name) {
			goal = GoalDown
		}
		kpis = append(kpis, KPI{Label: c.Label, Column: c.Name, Agg: string(c.Aggregator), Format: string(c.Format), Goal: goal})
	}
	for _, c := range metrics {
		add(c)
	}
	for _, st := range m.Funnel.Stages {
		if c, ok := m.Column(st.Column); ok && m.Funnel.Detected {
			add(c)
		}
	}
	if c, ok := m.Column(m.IDPrimary); ok && c.UsableInKPI {
		add(c)
	}
	return kpis
}

func buildCharts(m *semantic.Model, s *Spec, metrics []semantic.Column, max int) []Chart {
	charts := []Chart{}
	push := func(c Chart) {
		if len(charts) < max && len(c.Series) > 0 {
			charts = append(charts, c)
		}
	}

	if s.Time != nil && len(metrics) > 0 {
		c := Chart{Type: ChartLine, Title: "Trend over time", X: s.Time.Column}
		for i, mc := range metrics {
			if i >= trendSeries {
				break
			}
			c.Series = append(c.Series, Series{Y: mc.Name, Agg: string(mc.Aggregator), Label: mc.Label})
		}
		push(c)
	}

	if s.Time != nil && s.Funnel != nil {
		c := Chart{Type: ChartBar, Title: "Funnel stages over time", X: s.Time.Column}
		for _, st := range s.Funnel.Steps {
			c.Series = append(c.Series, Series{Y: st.Column, Agg: string(semantic.AggTruthyCount), Label: st.Label})
		}
		push(c)
	}

	for _, name := range m.Dimensions {
		dim, ok := m.Column(name)
		if !ok || !dim.UsableInChart {
			continue
		}
		var se Series
		switch {
		case len(metrics) > 0:
			se = Series{Y: metrics[0].Name, Agg: string(metrics[0].Aggregator), Label: metrics[0].Label}
		case m.IDPrimary != "":
			id, _ := m.Column(m.IDPrimary)
			se = Series{Y: id.Name, Agg: string(semantic.AggCountDistinct), Label: id.Label}
		default:
			continue
		}
		push(Chart{Type: ChartBar, Title: fmt.Sprintf("%s by %s", se.Label, dim.Label), X: dim.Name, Series: []Series{se}})
		break
	}
	return charts
}
