// Package semantic classifies profiled columns into semantic roles and
// assembles the SemanticModel consumed by dashboard synthesis.
package semantic

import (
	"github.com/KaramelBytes/dashloom-cli/internal/analysis"
)

// Role is the functional category assigned to a column.
type Role string

const (
	RoleIgnore      Role = "ignore"
	RoleTime        Role = "time"
	RoleIDPrimary   Role = "id_primary"
	RoleIDSecondary Role = "id_secondary"
	RoleStageFlag   Role = "stage_flag"
	RoleStatusEnum  Role = "status_enum"
	RoleCurrency    Role = "currency"
	RoleRate        Role = "rate"
	RoleMetric      Role = "metric"
	RoleDimension   Role = "dimension"
	RoleTextLong    Role = "text_long"
	RoleText        Role = "text"
)

// IsMeasure reports whether the role aggregates numerically.
func (r Role) IsMeasure() bool {
	return r == RoleMetric || r == RoleCurrency || r == RoleRate
}

// Aggregator is how a column is reduced in KPIs and charts.
type Aggregator string

const (
	AggSum           Aggregator = "sum"
	AggCount         Aggregator = "count"
	AggCountDistinct Aggregator = "count_distinct"
	AggAvg           Aggregator = "avg"
	AggTruthyCount   Aggregator = "truthy_count"
	AggNone          Aggregator = "none"
)

// Format is the display format hint for rendered values.
type Format string

const (
	FormatInteger  Format = "integer"
	FormatNumber   Format = "number"
	FormatCurrency Format = "currency"
	FormatPercent  Format = "percent"
	FormatDate     Format = "date"
	FormatBoolean  Format = "boolean"
	FormatText     Format = "text"
	FormatID       Format = "id"
)

// FilterType is the widget a filter renders as.
type FilterType string

const (
	FilterDateRange    FilterType = "date_range"
	FilterMultiSelect  FilterType = "multi_select"
	FilterSearchSelect FilterType = "search_select"
	FilterToggle       FilterType = "toggle"
)

// ColumnMeta is dataset column metadata supplied by the data-access layer.
type ColumnMeta struct {
	Name  string `json:"name" validate:"required,max=256"`
	Type  string `json:"declared_type,omitempty" validate:"max=64"`
	Label string `json:"display_label,omitempty" validate:"max=256"`
}

// Column is one classified column.
type Column struct {
	Name           string               `json:"name"`
	DBType         string               `json:"db_type,omitempty"`
	Role           Role                 `json:"semantic_role"`
	Label          string               `json:"label"`
	Aggregator     Aggregator           `json:"aggregator"`
	Format         Format               `json:"format"`
	Stats          analysis.ColumnStats `json:"stats"`
	Confidence     float64              `json:"confidence"`
	Notes          []string             `json:"notes,omitempty"`
	UsableAsFilter bool                 `json:"usable_as_filter"`
	UsableInKPI    bool                 `json:"usable_in_kpi"`
	UsableInChart  bool                 `json:"usable_in_chart"`
	IgnoreInUI     bool                 `json:"ignore_in_ui"`
	FilterType     FilterType           `json:"filter_type,omitempty"`
	StageRank      int                  `json:"stage_rank,omitempty"`
}

// FunnelStage is one ordered conversion step.
type FunnelStage struct {
	Column     string  `json:"column"`
	Label      string  `json:"label"`
	Order      int     `json:"order"`
	Rank       int     `json:"rank"`
	Prevalence float64 `json:"prevalence"`
}

// Funnel is the assembled conversion funnel.
type Funnel struct {
	Detected   bool          `json:"detected"`
	Stages     []FunnelStage `json:"stages"`
	Confidence float64       `json:"confidence"`
	BaseStage  string        `json:"base_stage,omitempty"`
}

// Filter is one planned dashboard filter.
type Filter struct {
	Column    string     `json:"column"`
	Label     string     `json:"label"`
	Type      FilterType `json:"type"`
	AppliesTo []string   `json:"applies_to"`
}

// DateRange spans the time column values seen in the sample.
type DateRange struct {
	Min string `json:"min"`
	Max string `json:"max"`
}

// Model is the per-request semantic model. It is never persisted.
type Model struct {
	Dataset     string     `json:"dataset,omitempty"`
	SampleRows  int        `json:"sample_rows"`
	Columns     []Column   `json:"columns"`
	TimeColumn  string     `json:"time_column,omitempty"`
	IDPrimary   string     `json:"id_primary,omitempty"`
	Funnel      Funnel     `json:"funnel"`
	Dimensions  []string   `json:"dimensions"`
	Metrics     []string   `json:"metrics"`
	Filters     []Filter   `json:"filters"`
	DateRange   *DateRange `json:"date_range,omitempty"`
	Confidence  float64    `json:"confidence"`
	Warnings    []string   `json:"warnings"`
	Assumptions []string   `json:"assumptions"`
}

// Column returns the classified column with the given name.
func (m *Model) Column(name string) (Column, bool) {
	for _, c := range m.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnsWithRole returns columns carrying role r, in dataset order.
func (m *Model) ColumnsWithRole(r Role) []Column {
	var out []Column
	for _, c := range m.Columns {
		if c.Role == r {
			out = append(out, c)
		}
	}
	return out
}
