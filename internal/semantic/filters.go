package semantic

// DefaultMaxFilters caps the planned filter list.
const DefaultMaxFilters = 8

// Contexts a filter can drive.
const (
	AppliesKPIs   = "kpis"
	AppliesCharts = "charts"
	AppliesFunnel = "funnel"
	AppliesTable  = "table"
)

func allContexts() []string {
	return []string{AppliesKPIs, AppliesCharts, AppliesFunnel, AppliesTable}
}

// PlanFilters returns the time range filter first, then one filter per
// usable dimension or status column in dataset order, capped at max.
func PlanFilters(m *Model, max int) []Filter {
	if max <= 0 {
		max = DefaultMaxFilters
	}
	out := []Filter{}
	if tc, ok := m.Column(m.TimeColumn); ok {
		out = append(out, Filter{Column: tc.Name, Label: tc.Label, Type: FilterDateRange, AppliesTo: allContexts()})
	}
	for _, c := range m.Columns {
		if len(out) >= max {
			break
		}
		if !c.UsableAsFilter || (c.Role != RoleDimension && c.Role != RoleStatusEnum) {
			continue
		}
		ft := c.FilterType
		if ft == "" {
			ft = FilterMultiSelect
		}
		out = append(out, Filter{Column: c.Name, Label: c.Label, Type: ft, AppliesTo: allContexts()})
	}
	return out
}
