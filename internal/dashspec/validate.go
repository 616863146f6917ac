package dashspec

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/KaramelBytes/dashloom-cli/internal/analysis"
	"github.com/KaramelBytes/dashloom-cli/internal/semantic"
)

// DefaultMaxIssues is the warning+error count above which a candidate is
// discarded and regenerated.
const DefaultMaxIssues = 12

// Options configures validation and regeneration.
type Options struct {
	MaxIssues int
	Limits    Limits
}

// DefaultOptions returns the validator defaults.
func DefaultOptions() Options {
	return Options{MaxIssues: DefaultMaxIssues, Limits: DefaultLimits()}
}

// Result is the outcome of one validation pass.
type Result struct {
	Spec        *Spec    `json:"spec"`
	Warnings    []string `json:"warnings"`
	Errors      []string `json:"errors"`
	Regenerated bool     `json:"regenerated"`
}

var countAggs = map[string]bool{
	string(semantic.AggCount):         true,
	string(semantic.AggCountDistinct): true,
	string(semantic.AggTruthyCount):   true,
}

var knownAggs = map[string]bool{
	string(semantic.AggSum):           true,
	string(semantic.AggAvg):           true,
	string(semantic.AggCount):         true,
	string(semantic.AggCountDistinct): true,
	string(semantic.AggTruthyCount):   true,
	"min":                             true,
	"max":                             true,
}

// Validate repairs candidate against the authoritative columns. The input is
// never mutated. Fatal errors, or more than MaxIssues findings, discard the
// candidate in favour of a spec regenerated from cols alone.
func Validate(candidate *Spec, cols []DatasetColumn, opt Options) Result {
	if opt.MaxIssues <= 0 {
		opt.MaxIssues = DefaultMaxIssues
	}
	res := Result{Warnings: []string{}, Errors: []string{}}
	if candidate == nil {
		res.Errors = append(res.Errors, "no candidate document")
		return regenerate(res, cols, "", opt)
	}
	res.Errors = append(res.Errors, nonFiniteFields(candidate)...)
	if len(res.Errors) > 0 {
		return regenerate(res, cols, candidate.Title, opt)
	}

	s := candidate.Clone()
	res.Warnings = append(res.Warnings, repair(s, cols)...)
	res.Spec = s
	if len(res.Warnings)+len(res.Errors) > opt.MaxIssues {
		return regenerate(res, cols, candidate.Title, opt)
	}
	return res
}

// ValidateDocument validates a decoded JSON-like document. Non-finite numbers
// anywhere in it, or a shape that does not decode into Spec, are fatal.
func ValidateDocument(doc any, cols []DatasetColumn, opt Options) Result {
	title := ""
	if m, ok := doc.(map[string]any); ok {
		title, _ = m["title"].(string)
	}
	res := Result{Warnings: []string{}, Errors: []string{}}
	for _, p := range NonFinitePaths(doc) {
		res.Errors = append(res.Errors, fmt.Sprintf("%s is not a finite number", p))
	}
	if len(res.Errors) > 0 {
		return regenerate(res, cols, title, opt)
	}
	s, err := FromDocument(doc)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return regenerate(res, cols, title, opt)
	}
	return Validate(s, cols, opt)
}

// Regenerate builds a spec from the dataset columns alone, classifying them
// from declared types and recorded roles. Columns recorded as secondary
// identifiers or ignored stay out of the result.
func Regenerate(cols []DatasetColumn, title string, limits Limits) *Spec {
	limits = limits.withDefaults()
	stats := make([]analysis.ColumnStats, 0, len(cols))
	meta := make([]semantic.ColumnMeta, 0, len(cols))
	for _, c := range cols {
		if c.hidden() {
			continue
		}
		stats = append(stats, hintedStats(c))
		meta = append(meta, semantic.ColumnMeta{Name: c.Name, Type: c.Type, Label: c.Label})
	}
	m := semantic.Classify(stats, meta, semantic.Options{Dataset: title, MaxFilters: limits.MaxFilters})
	s := Build(m, limits)
	if title != "" {
		s.Title = title
	}
	repair(s, cols)
	return s
}

func regenerate(res Result, cols []DatasetColumn, title string, opt Options) Result {
	res.Spec = Regenerate(cols, title, opt.Limits)
	res.Regenerated = true
	res.Warnings = append(res.Warnings, fmt.Sprintf("candidate discarded after %d warnings and %d errors; regenerated from dataset columns",
		len(res.Warnings), len(res.Errors)))
	return res
}

// hintedStats turns declared type and any recorded role into evidence.
func hintedStats(c DatasetColumn) analysis.ColumnStats {
	s := analysis.DeclaredStats(c.Name, c.Type)
	if c.IsNumeric && s.NumericParseRate == 0 {
		s.NumericParseRate = 1
	}
	switch {
	case c.Role == semantic.RoleTime:
		s.DateParseRate = 1
	case c.Role == semantic.RoleStageFlag:
		s.BooleanLikeRate, s.BooleanValueRate = 1, 1
		s.TruthyRate, s.DistinctCount = 0.5, 2
		s.NumericParseRate = 0
	case c.Role.IsMeasure():
		s.NumericParseRate = 1
	}
	return s
}

type columnIndex map[string]DatasetColumn

func indexColumns(cols []DatasetColumn) columnIndex {
	idx := make(columnIndex, len(cols))
	for _, c := range cols {
		idx[c.Name] = c
	}
	return idx
}

// repair applies the per-section rules in place and returns one warning per
// fix.
func repair(s *Spec, cols []DatasetColumn) []string {
	idx := indexColumns(cols)
	var w []string

	if s.Version < 1 {
		w = append(w, fmt.Sprintf("version %d is invalid; set to 1", s.Version))
		s.Version = 1
	}
	if s.Title == "" {
		s.Title = "Dashboard"
		w = append(w, "empty title replaced")
	}

	timeCol := repairTime(s, cols, idx, &w)

	kpis := make([]KPI, 0, len(s.KPIs))
	seen := map[string]bool{}
	for i, k := range s.KPIs {
		c, ok := idx[k.Column]
		if !ok {
			w = append(w, fmt.Sprintf("kpis[%d] references unknown column %q; removed", i, k.Column))
			continue
		}
		if c.hidden() {
			w = append(w, fmt.Sprintf("kpis[%d] references %s column %q; removed", i, c.Role, k.Column))
			continue
		}
		if k.Agg == "" || !knownAggs[k.Agg] {
			def := string(semantic.AggCount)
			if c.IsNumeric {
				def = string(semantic.AggSum)
			}
			w = append(w, fmt.Sprintf("kpis[%d] aggregation %q replaced with %s", i, k.Agg, def))
			k.Agg = def
		}
		if !countAggs[k.Agg] && !c.IsNumeric {
			w = append(w, fmt.Sprintf("kpis[%d] applies %s to non-numeric column %q; removed", i, k.Agg, k.Column))
			continue
		}
		key := k.Column + "|" + k.Agg
		if seen[key] {
			w = append(w, fmt.Sprintf("kpis[%d] duplicates %s of %q; removed", i, k.Agg, k.Column))
			continue
		}
		seen[key] = true
		if k.Label == "" {
			k.Label = c.label()
			w = append(w, fmt.Sprintf("kpis[%d] label backfilled", i))
		}
		if k.Goal != GoalUp && k.Goal != GoalDown {
			k.Goal = GoalUp
			if semantic.LowerIsBetter(k.Column) {
				k.Goal = GoalDown
			}
		}
		kpis = append(kpis, k)
	}
	s.KPIs = kpis

	if s.Funnel != nil {
		steps := make([]FunnelStep, 0, len(s.Funnel.Steps))
		for i, st := range s.Funnel.Steps {
			c, ok := idx[st.Column]
			switch {
			case !ok:
				w = append(w, fmt.Sprintf("funnel.steps[%d] references unknown column %q; removed", i, st.Column))
				continue
			case c.hidden():
				w = append(w, fmt.Sprintf("funnel.steps[%d] references %s column %q; removed", i, c.Role, st.Column))
				continue
			case !c.IsNumeric && !c.isFlag():
				w = append(w, fmt.Sprintf("funnel.steps[%d] column %q is not a stage or numeric column; removed", i, st.Column))
				continue
			}
			if st.Label == "" {
				st.Label = c.label()
			}
			steps = append(steps, st)
		}
		if len(steps) < 2 {
			w = append(w, fmt.Sprintf("funnel has %d valid steps; section removed", len(steps)))
			s.Funnel = nil
		} else {
			s.Funnel.Steps = steps
			if !hasStep(steps[1:], s.Funnel.BaseStep) {
				s.Funnel.BaseStep = ""
			}
		}
	}

	charts := make([]Chart, 0, len(s.Charts))
	for i, ch := range s.Charts {
		if !chartTypes[ch.Type] {
			w = append(w, fmt.Sprintf("charts[%d] type %q coerced to line", i, ch.Type))
			ch.Type = ChartLine
		}
		if x, ok := idx[ch.X]; !ok || x.hidden() {
			if timeCol == "" {
				w = append(w, fmt.Sprintf("charts[%d] x axis %q is invalid and no time column exists; removed", i, ch.X))
				continue
			}
			w = append(w, fmt.Sprintf("charts[%d] x axis %q replaced with %q", i, ch.X, timeCol))
			ch.X = timeCol
		}
		series := make([]Series, 0, len(ch.Series))
		for j, se := range ch.Series {
			c, ok := idx[se.Y]
			if !ok {
				w = append(w, fmt.Sprintf("charts[%d].series[%d] references unknown column %q; removed", i, j, se.Y))
				continue
			}
			if c.hidden() {
				w = append(w, fmt.Sprintf("charts[%d].series[%d] references %s column %q; removed", i, j, c.Role, se.Y))
				continue
			}
			if se.Agg != "" && !countAggs[se.Agg] && !c.IsNumeric {
				w = append(w, fmt.Sprintf("charts[%d].series[%d] applies %s to non-numeric column %q; removed", i, j, se.Agg, se.Y))
				continue
			}
			series = append(series, se)
		}
		if len(series) == 0 {
			w = append(w, fmt.Sprintf("charts[%d] has no valid series; removed", i))
			continue
		}
		ch.Series = series
		if ch.Title == "" {
			ch.Title = semantic.Humanize(series[0].Y)
		}
		charts = append(charts, ch)
	}
	s.Charts = charts

	columns := make([]ColumnRef, 0, len(s.Columns))
	for i, c := range s.Columns {
		dc, ok := idx[c.Name]
		if !ok {
			w = append(w, fmt.Sprintf("columns[%d] %q not in dataset; removed", i, c.Name))
			continue
		}
		if dc.hidden() {
			w = append(w, fmt.Sprintf("columns[%d] %q has role %s; removed", i, c.Name, dc.Role))
			continue
		}
		columns = append(columns, c)
	}
	s.Columns = columns

	if s.Filters != nil {
		filters := make([]FilterSpec, 0, len(s.Filters))
		for i, f := range s.Filters {
			c, ok := idx[f.Column]
			if !ok {
				w = append(w, fmt.Sprintf("filters[%d] references unknown column %q; removed", i, f.Column))
				continue
			}
			if c.hidden() {
				w = append(w, fmt.Sprintf("filters[%d] references %s column %q; removed", i, c.Role, f.Column))
				continue
			}
			if f.Type == string(semantic.FilterDateRange) && f.Column != timeCol {
				w = append(w, fmt.Sprintf("filters[%d] date range on %q without a matching time section; removed", i, f.Column))
				continue
			}
			filters = append(filters, f)
		}
		s.Filters = filters
	}

	layoutUI(s)
	return w
}

// repairTime validates the time section and returns the resolved column.
func repairTime(s *Spec, cols []DatasetColumn, idx columnIndex, w *[]string) string {
	if s.Time == nil {
		return ""
	}
	problem := "not in dataset"
	if c, ok := idx[s.Time.Column]; ok {
		if temporal(c) {
			if s.Time.Type == "" {
				s.Time.Type = "date"
			}
			return s.Time.Column
		}
		problem = "is not temporal"
	}
	for _, c := range cols {
		if temporal(c) {
			*w = append(*w, fmt.Sprintf("time column %q %s; using %q", s.Time.Column, problem, c.Name))
			s.Time = &TimeSpec{Column: c.Name, Type: "date"}
			return c.Name
		}
	}
	*w = append(*w, fmt.Sprintf("time column %q %s; time section removed", s.Time.Column, problem))
	s.Time = nil
	return ""
}

// temporal accepts a declared date type, a recorded time role, or a
// date-like name on a column that is neither numeric nor hidden.
func temporal(c DatasetColumn) bool {
	if c.isTemporal() {
		return true
	}
	return !c.IsNumeric && !c.hidden() && semantic.IsTemporalName(c.Name)
}

func hasStep(steps []FunnelStep, col string) bool {
	for _, st := range steps {
		if st.Column == col {
			return true
		}
	}
	return false
}

func nonFiniteFields(s *Spec) []string {
	var errs []string
	for i, k := range s.KPIs {
		if k.Target != nil && !isFinite(*k.Target) {
			errs = append(errs, fmt.Sprintf("/kpis/%d/target is not a finite number", i))
		}
	}
	return errs
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// NonFinitePaths walks a JSON-like value and returns the JSON Pointer of
// every NaN or infinite number.
func NonFinitePaths(v any) []string {
	var out []string
	walkNumbers(v, "", &out)
	return out
}

func walkNumbers(v any, path string, out *[]string) {
	switch x := v.(type) {
	case float64:
		if !isFinite(x) {
			*out = append(*out, pathOrRoot(path))
		}
	case float32:
		if !isFinite(float64(x)) {
			*out = append(*out, pathOrRoot(path))
		}
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walkNumbers(x[k], path+"/"+escapeToken(k), out)
		}
	case []any:
		for i, e := range x {
			walkNumbers(e, path+"/"+strconv.Itoa(i), out)
		}
	}
}

func pathOrRoot(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

func escapeToken(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '~':
			out = append(out, '~', '0')
		case '/':
			out = append(out, '~', '1')
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}

// Document converts s into a generic JSON document.
func (s *Spec) Document() (map[string]any, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode spec: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode spec document: %w", err)
	}
	return doc, nil
}

// FromDocument decodes a generic JSON document into a Spec.
func FromDocument(doc any) (*Spec, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var s Spec
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("document does not match dashboard shape: %w", err)
	}
	return &s, nil
}
