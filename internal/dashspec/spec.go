// Package dashspec defines the persisted dashboard document, the heuristic
// builder that derives one from a semantic model, and the self-healing
// validator that keeps it consistent with the dataset schema.
package dashspec

import (
	"strings"

	"github.com/KaramelBytes/dashloom-cli/internal/semantic"
)

// Spec is the dashboard document persisted per version.
type Spec struct {
	Version int          `json:"version"`
	Title   string       `json:"title"`
	Time    *TimeSpec    `json:"time,omitempty"`
	Columns []ColumnRef  `json:"columns"`
	KPIs    []KPI        `json:"kpis"`
	Funnel  *FunnelSpec  `json:"funnel,omitempty"`
	Charts  []Chart      `json:"charts"`
	Filters []FilterSpec `json:"filters,omitempty"`
	UI      UI           `json:"ui"`
}

// TimeSpec names the time axis.
type TimeSpec struct {
	Column string `json:"column"`
	Type   string `json:"type"`
}

type ColumnRef struct {
	Name   string `json:"name"`
	Label  string `json:"label,omitempty"`
	Role   string `json:"role,omitempty"`
	Format string `json:"format,omitempty"`
}

// Goal directions for KPIs.
const (
	GoalUp   = "up"
	GoalDown = "down"
)

type KPI struct {
	Label  string   `json:"label"`
	Column string   `json:"column"`
	Agg    string   `json:"agg"`
	Format string   `json:"format,omitempty"`
	Goal   string   `json:"goal,omitempty"`
	Target *float64 `json:"target,omitempty"`
}

type FunnelSpec struct {
	Steps    []FunnelStep `json:"steps"`
	BaseStep string       `json:"base_step,omitempty"`
}

type FunnelStep struct {
	Label  string `json:"label"`
	Column string `json:"column"`
}

// Chart types accepted by the renderer.
const (
	ChartLine       = "line"
	ChartBar        = "bar"
	ChartArea       = "area"
	ChartPie        = "pie"
	ChartStackedBar = "stacked_bar"
)

var chartTypes = map[string]bool{
	ChartLine: true, ChartBar: true, ChartArea: true, ChartPie: true, ChartStackedBar: true,
}

type Chart struct {
	Type   string   `json:"type"`
	Title  string   `json:"title"`
	X      string   `json:"x"`
	Series []Series `json:"series"`
}

type Series struct {
	Y     string `json:"y"`
	Agg   string `json:"agg,omitempty"`
	Label string `json:"label,omitempty"`
}

type FilterSpec struct {
	Column    string   `json:"column"`
	Label     string   `json:"label,omitempty"`
	Type      string   `json:"type"`
	AppliesTo []string `json:"applies_to,omitempty"`
}

// UI tab identifiers.
const (
	TabOverview = "overview"
	TabFunnel   = "funnel"
	TabTrends   = "trends"
	TabDetails  = "details"
)

type UI struct {
	Tabs           []string `json:"tabs"`
	DefaultTab     string   `json:"defaultTab"`
	ComparePeriods bool     `json:"comparePeriods"`
}

// DatasetColumn is one entry of the authoritative dataset schema.
type DatasetColumn struct {
	Name      string        `json:"name"`
	Type      string        `json:"type,omitempty"`
	Label     string        `json:"label,omitempty"`
	IsNumeric bool          `json:"is_numeric"`
	Role      semantic.Role `json:"role,omitempty"`
}

// isFlag reports whether the column can back a funnel step.
func (c DatasetColumn) isFlag() bool {
	return c.Role == semantic.RoleStageFlag || strings.Contains(strings.ToLower(c.Type), "bool")
}

// hidden reports roles that never feed a KPI, chart, filter or table.
func (c DatasetColumn) hidden() bool {
	return c.Role == semantic.RoleIDSecondary || c.Role == semantic.RoleIgnore
}

func (c DatasetColumn) isTemporal() bool {
	if c.Role == semantic.RoleTime {
		return true
	}
	t := strings.ToLower(c.Type)
	return strings.Contains(t, "date") || strings.Contains(t, "time")
}

func (c DatasetColumn) label() string {
	if c.Label != "" {
		return c.Label
	}
	return semantic.Humanize(c.Name)
}

// ColumnsFromModel derives the authoritative column list from a model.
func ColumnsFromModel(m *semantic.Model) []DatasetColumn {
	out := make([]DatasetColumn, 0, len(m.Columns))
	for _, c := range m.Columns {
		out = append(out, DatasetColumn{
			Name:      c.Name,
			Type:      c.DBType,
			Label:     c.Label,
			IsNumeric: c.Role.IsMeasure() || c.Stats.NumericParseRate > 0.8,
			Role:      c.Role,
		})
	}
	return out
}

// Clone returns a deep copy of s.
func (s *Spec) Clone() *Spec {
	if s == nil {
		return nil
	}
	out := *s
	if s.Time != nil {
		t := *s.Time
		out.Time = &t
	}
	out.Columns = append([]ColumnRef(nil), s.Columns...)
	out.KPIs = make([]KPI, len(s.KPIs))
	for i, k := range s.KPIs {
		if k.Target != nil {
			v := *k.Target
			k.Target = &v
		}
		out.KPIs[i] = k
	}
	if s.Funnel != nil {
		f := *s.Funnel
		f.Steps = append([]FunnelStep(nil), s.Funnel.Steps...)
		out.Funnel = &f
	}
	out.Charts = make([]Chart, len(s.Charts))
	for i, c := range s.Charts {
		c.Series = append([]Series(nil), c.Series...)
		out.Charts[i] = c
	}
	if s.Filters != nil {
		out.Filters = make([]FilterSpec, len(s.Filters))
		for i, f := range s.Filters {
			f.AppliesTo = append([]string(nil), f.AppliesTo...)
			out.Filters[i] = f
		}
	}
	out.UI.Tabs = append([]string(nil), s.UI.Tabs...)
	return &out
}

// References lists every column name the document points at.
func (s *Spec) References() []string {
	var refs []string
	if s.Time != nil {
		refs = append(refs, s.Time.Column)
	}
	for _, c := range s.Columns {
		refs = append(refs, c.Name)
	}
	for _, k := range s.KPIs {
		refs = append(refs, k.Column)
	}
	if s.Funnel != nil {
		for _, st := range s.Funnel.Steps {
			refs = append(refs, st.Column)
		}
	}
	for _, c := range s.Charts {
		refs = append(refs, c.X)
		for _, se := range c.Series {
			refs = append(refs, se.Y)
		}
	}
	for _, f := range s.Filters {
		refs = append(refs, f.Column)
	}
	return refs
}

// layoutUI recomputes tabs from the surviving sections.
func layoutUI(s *Spec) {
	tabs := []string{TabOverview}
	if s.Funnel != nil {
		tabs = append(tabs, TabFunnel)
	}
	if len(s.Charts) > 0 {
		tabs = append(tabs, TabTrends)
	}
	tabs = append(tabs, TabDetails)

	def := TabOverview
	for _, t := range tabs {
		if t == s.UI.DefaultTab {
			def = t
		}
	}
	s.UI = UI{Tabs: tabs, DefaultTab: def, ComparePeriods: s.Time != nil && s.UI.ComparePeriods}
}
