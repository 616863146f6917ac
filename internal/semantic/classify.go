package semantic

import (
	"errors"
	"fmt"
	"math"

	"github.com/KaramelBytes/dashloom-cli/internal/analysis"
)

// ErrNoColumns is returned when neither metadata nor rows yield a column.
var ErrNoColumns = errors.New("no columns in metadata or sample")

// Classification thresholds.
const (
	timeNamedDateRate    = 0.7
	timeValueDateRate    = 0.9
	idPrimaryRatio       = 0.9
	idCardinalityRatio   = 0.8
	idCardinalityRows    = 5
	stageBoolRate        = 0.5
	flagBoolRate         = 0.8
	stageValueRate       = 0.8
	flagMaxDistinct      = 5
	statusMinDistinct    = 2
	statusMaxDistinct    = 20
	measureNumericRate   = 0.8
	dimensionMaxDistinct = 500
	multiSelectMax       = 30
	textLongAvgLength    = 80
	declaredPenalty      = 0.8
	tinySampleRows       = 10
)

// Options tunes a classification pass.
type Options struct {
	Dataset    string
	MaxFilters int
	Profile    analysis.Options
}

// DefaultOptions returns the classification defaults.
func DefaultOptions() Options {
	return Options{MaxFilters: DefaultMaxFilters, Profile: analysis.DefaultOptions()}
}

// candidate is the evidence a rule sees for one column.
type candidate struct {
	meta  ColumnMeta
	stats analysis.ColumnStats
	norm  string
}

// pass is the accumulator threaded through one classification pass. Rules
// receive it by value and hand back the updated copy.
type pass struct {
	idPrimary   string
	assumptions []string
}

// Rule is one step of the classification cascade. apply reports whether the
// rule claims the column.
type Rule struct {
	Name  string
	apply func(c candidate, st pass) (Column, pass, bool)
}

// Cascade is the fixed rule priority. The first rule whose preconditions
// hold assigns the role.
var Cascade = []Rule{
	{Name: "ignore", apply: ruleIgnore},
	{Name: "time", apply: ruleTime},
	{Name: "id", apply: ruleID},
	{Name: "stage_flag", apply: ruleStageFlag},
	{Name: "status_enum", apply: ruleStatusEnum},
	{Name: "measure", apply: ruleMeasure},
	{Name: "dimension", apply: ruleDimension},
	{Name: "text_long", apply: ruleTextLong},
	{Name: "text", apply: ruleText},
}

// Introspect normalizes a raw row sample, profiles it and classifies the
// result. Metadata columns come first, followed by columns only seen in rows.
func Introspect(rows []any, meta []ColumnMeta, opt Options) (*Model, error) {
	records, sampled := analysis.NormalizeRows(rows)
	cols := mergeColumns(meta, sampled)
	if len(cols) == 0 {
		return nil, ErrNoColumns
	}
	metaByName := indexMeta(meta)

	var stats []analysis.ColumnStats
	if len(records) == 0 {
		for _, name := range cols {
			stats = append(stats, analysis.DeclaredStats(name, metaByName[name].Type))
		}
	} else {
		stats = analysis.Profile(records, cols, opt.Profile)
		for i, s := range stats {
			if s.NonNull == 0 && metaByName[s.Name].Type != "" {
				d := analysis.DeclaredStats(s.Name, metaByName[s.Name].Type)
				d.Rows = s.Rows
				d.NullRate = s.NullRate
				stats[i] = d
			}
		}
	}
	m := Classify(stats, meta, opt)
	if len(records) == 0 {
		m.Warnings = append(m.Warnings, "no sample rows; classification used declared types only")
	}
	return m, nil
}

// Classify assigns exactly one role per column and assembles the model.
func Classify(stats []analysis.ColumnStats, meta []ColumnMeta, opt Options) *Model {
	if opt.MaxFilters <= 0 {
		opt.MaxFilters = DefaultMaxFilters
	}
	metaByName := indexMeta(meta)
	m := &Model{
		Dataset:     opt.Dataset,
		Columns:     make([]Column, 0, len(stats)),
		Dimensions:  []string{},
		Metrics:     []string{},
		Warnings:    []string{},
		Assumptions: []string{},
	}

	var st pass
	for _, s := range stats {
		if s.Rows > m.SampleRows {
			m.SampleRows = s.Rows
		}
		mt, ok := metaByName[s.Name]
		if !ok {
			mt = ColumnMeta{Name: s.Name}
		}
		var col Column
		col, st = classifyColumn(candidate{meta: mt, stats: s, norm: normalizeName(s.Name)}, st)
		m.Columns = append(m.Columns, col)
	}
	m.IDPrimary = st.idPrimary
	m.Assumptions = append(m.Assumptions, st.assumptions...)

	m.TimeColumn = pickTimeColumn(m.Columns)
	if tc, ok := m.Column(m.TimeColumn); ok && tc.Stats.MinTime != "" {
		m.DateRange = &DateRange{Min: tc.Stats.MinTime, Max: tc.Stats.MaxTime}
	}
	for _, c := range m.Columns {
		switch {
		case c.Role.IsMeasure():
			m.Metrics = append(m.Metrics, c.Name)
		case c.Role == RoleDimension || c.Role == RoleStatusEnum:
			m.Dimensions = append(m.Dimensions, c.Name)
		}
	}
	m.Funnel = AssembleFunnel(m.Columns)
	m.Filters = PlanFilters(m, opt.MaxFilters)
	m.Confidence = meanConfidence(m.Columns)
	m.Warnings = append(m.Warnings, modelWarnings(m)...)
	return m
}

func classifyColumn(c candidate, st pass) (Column, pass) {
	for _, r := range Cascade {
		col, next, ok := r.apply(c, st)
		if !ok {
			continue
		}
		col.Name = c.stats.Name
		col.DBType = c.meta.Type
		col.Stats = c.stats
		col.Label = c.meta.Label
		if col.Label == "" {
			col.Label = Humanize(c.stats.Name)
		}
		if c.stats.Declared && col.Role != RoleIgnore {
			col.Confidence *= declaredPenalty
			col.Notes = append(col.Notes, "classified from declared type only")
		}
		col.Confidence = round3(col.Confidence)
		return col, next
	}
	// ruleText always matches; this is only reached with an empty cascade.
	return Column{Name: c.stats.Name, Role: RoleText, Aggregator: AggNone, Format: FormatText}, st
}

func ruleIgnore(c candidate, st pass) (Column, pass, bool) {
	if !ignoreLex.MatchString(c.norm) {
		return Column{}, st, false
	}
	return Column{
		Role:       RoleIgnore,
		Aggregator: AggNone,
		Format:     FormatText,
		Confidence: 1,
		Notes:      []string{"name matches sensitive or internal lexicon"},
		IgnoreInUI: true,
	}, st, true
}

func ruleTime(c candidate, st pass) (Column, pass, bool) {
	rate := c.stats.DateParseRate
	col := Column{
		Role:           RoleTime,
		Aggregator:     AggNone,
		Format:         FormatDate,
		UsableAsFilter: true,
		UsableInChart:  true,
		FilterType:     FilterDateRange,
	}
	switch {
	case timeLex.MatchString(c.norm) && rate > timeNamedDateRate:
		col.Confidence = 1
		col.Notes = []string{fmt.Sprintf("temporal name; %.0f%% of values parse as dates", rate*100)}
		return col, st, true
	case rate > timeValueDateRate:
		col.Confidence = 0.7
		col.Notes = []string{fmt.Sprintf("%.0f%% of values parse as dates without a temporal name", rate*100)}
		st.assumptions = appendCopy(st.assumptions, fmt.Sprintf("%s treated as temporal from values alone", c.stats.Name))
		return col, st, true
	}
	return Column{}, st, false
}

func ruleID(c candidate, st pass) (Column, pass, bool) {
	named := idLex.MatchString(c.norm)
	if named && st.idPrimary == "" && (c.stats.Declared || c.stats.DistinctRatio() >= idPrimaryRatio) {
		st.idPrimary = c.stats.Name
		return Column{
			Role:        RoleIDPrimary,
			Aggregator:  AggCountDistinct,
			Format:      FormatID,
			Confidence:  0.95,
			Notes:       []string{"identifier name with unique values"},
			UsableInKPI: true,
			IgnoreInUI:  true,
		}, st, true
	}
	secondary := Column{Role: RoleIDSecondary, Aggregator: AggNone, Format: FormatID, IgnoreInUI: true}
	if named {
		secondary.Confidence = 0.85
		secondary.Notes = []string{"identifier name; primary identifier already chosen or values repeat"}
		return secondary, st, true
	}
	if cardinalityID(c.stats) && !measureNamed(c.norm) {
		secondary.Confidence = 0.7
		secondary.Notes = []string{fmt.Sprintf("%d distinct identifier-shaped values in %d rows", c.stats.DistinctCount, c.stats.Rows)}
		return secondary, st, true
	}
	return Column{}, st, false
}

// cardinalityID detects unnamed identifiers: near-unique values shaped like
// sequence numbers or opaque tokens.
func cardinalityID(s analysis.ColumnStats) bool {
	if s.Rows < idCardinalityRows || float64(s.DistinctCount) <= idCardinalityRatio*float64(s.Rows) {
		return false
	}
	if s.BooleanLikeRate > stageBoolRate || s.DateParseRate > 0.5 {
		return false
	}
	sequence := s.NumericParseRate >= 0.9 && s.IntegerRate >= 0.9 && s.Monotonicity >= 0.9
	token := s.NumericParseRate < 0.5 && s.WhitespaceRate == 0 && s.AvgLength >= 6
	return sequence || token
}

func measureNamed(normalized string) bool {
	return currencyLex.MatchString(normalized) || rateLex.MatchString(normalized) ||
		countLex.MatchString(normalized) || dimensionLex.MatchString(normalized)
}

func ruleStageFlag(c candidate, st pass) (Column, pass, bool) {
	col := Column{
		Role:          RoleStageFlag,
		Aggregator:    AggTruthyCount,
		Format:        FormatInteger,
		UsableInKPI:   true,
		UsableInChart: true,
	}
	s := c.stats
	// Nulls are boolean-like; the values present must be flags too.
	if s.NonNull > 0 && s.BooleanValueRate < stageValueRate {
		return Column{}, st, false
	}
	if rank := stageRank(c.norm); rank > 0 && s.BooleanLikeRate > stageBoolRate {
		col.StageRank = rank
		col.Confidence = 0.9
		col.Notes = []string{fmt.Sprintf("funnel stage name; %.0f%% boolean-like values", s.BooleanLikeRate*100)}
		return col, st, true
	}
	if s.BooleanLikeRate > flagBoolRate && s.DistinctCount <= flagMaxDistinct && s.TruthyRate > 0 {
		col.StageRank = genericStageRank
		col.Confidence = 0.6
		col.Notes = []string{"boolean-like values without a stage name"}
		return col, st, true
	}
	return Column{}, st, false
}

func ruleStatusEnum(c candidate, st pass) (Column, pass, bool) {
	if !statusLex.MatchString(c.norm) {
		return Column{}, st, false
	}
	d := c.stats.DistinctCount
	if !c.stats.Declared && (d < statusMinDistinct || d > statusMaxDistinct) {
		return Column{}, st, false
	}
	return Column{
		Role:           RoleStatusEnum,
		Aggregator:     AggCount,
		Format:         FormatText,
		Confidence:     0.85,
		Notes:          []string{fmt.Sprintf("status name with %d distinct values", d)},
		UsableAsFilter: true,
		UsableInChart:  true,
		FilterType:     filterTypeFor(c.stats),
	}, st, true
}

func ruleMeasure(c candidate, st pass) (Column, pass, bool) {
	s := c.stats
	if s.NumericParseRate <= measureNumericRate || (s.NonNull == 0 && !s.Declared) {
		return Column{}, st, false
	}
	col := Column{UsableInKPI: true, UsableInChart: true}
	switch {
	case s.HasCurrency || currencyLex.MatchString(c.norm):
		col.Role, col.Aggregator, col.Format, col.Confidence = RoleCurrency, AggSum, FormatCurrency, 0.9
		if s.HasCurrency {
			col.Notes = []string{"numeric values carry currency symbols"}
		} else {
			col.Notes = []string{"numeric with monetary name"}
		}
	case rateLex.MatchString(c.norm):
		col.Role, col.Aggregator, col.Format, col.Confidence = RoleRate, AggAvg, FormatPercent, 0.85
		col.Notes = []string{"numeric with rate name"}
	case countLex.MatchString(c.norm):
		col.Role, col.Aggregator, col.Format, col.Confidence = RoleMetric, AggSum, FormatInteger, 0.9
		col.Notes = []string{"numeric with count name"}
	default:
		col.Role, col.Aggregator, col.Confidence = RoleMetric, AggSum, 0.6
		col.Format = FormatNumber
		if s.IntegerRate >= 0.99 {
			col.Format = FormatInteger
		}
		col.Notes = []string{fmt.Sprintf("%.0f%% of values numeric; no metric name matched", s.NumericParseRate*100)}
	}
	return col, st, true
}

func ruleDimension(c candidate, st pass) (Column, pass, bool) {
	s := c.stats
	if s.AvgLength > textLongAvgLength {
		return Column{}, st, false
	}
	col := Column{
		Role:           RoleDimension,
		Aggregator:     AggCount,
		Format:         FormatText,
		UsableAsFilter: true,
		UsableInChart:  true,
		FilterType:     filterTypeFor(s),
	}
	switch {
	case dimensionLex.MatchString(c.norm):
		col.Confidence = 0.85
		col.Notes = []string{"categorical name"}
	case s.DistinctCount >= 2 && s.DistinctCount <= dimensionMaxDistinct && float64(s.DistinctCount) <= 0.5*float64(s.NonNull):
		col.Confidence = 0.65
		col.Notes = []string{fmt.Sprintf("%d distinct values across %d non-null rows", s.DistinctCount, s.NonNull)}
	default:
		return Column{}, st, false
	}
	return col, st, true
}

func ruleTextLong(c candidate, st pass) (Column, pass, bool) {
	if c.stats.AvgLength <= textLongAvgLength {
		return Column{}, st, false
	}
	return Column{
		Role:       RoleTextLong,
		Aggregator: AggNone,
		Format:     FormatText,
		Confidence: 0.7,
		Notes:      []string{fmt.Sprintf("average length %.0f characters", c.stats.AvgLength)},
	}, st, true
}

func ruleText(c candidate, st pass) (Column, pass, bool) {
	col := Column{Role: RoleText, Aggregator: AggNone, Format: FormatText, Confidence: 0.3}
	if c.stats.NonNull == 0 && !c.stats.Declared {
		col.Confidence = 0.1
		col.Notes = []string{"no non-null values in sample"}
	} else {
		col.Notes = []string{"no stronger evidence; free text"}
	}
	return col, st, true
}

func filterTypeFor(s analysis.ColumnStats) FilterType {
	if s.DistinctCount == 2 && len(s.TopValues) == 2 &&
		analysis.IsBooleanLike(s.TopValues[0].Value) && analysis.IsBooleanLike(s.TopValues[1].Value) {
		return FilterToggle
	}
	if s.DistinctCount > multiSelectMax {
		return FilterSearchSelect
	}
	return FilterMultiSelect
}

// pickTimeColumn prefers the most confident temporal column, then the first.
func pickTimeColumn(cols []Column) string {
	best, conf := "", -1.0
	for _, c := range cols {
		if c.Role == RoleTime && c.Confidence > conf {
			best, conf = c.Name, c.Confidence
		}
	}
	return best
}

func modelWarnings(m *Model) []string {
	var w []string
	if m.SampleRows > 0 && m.SampleRows < tinySampleRows {
		w = append(w, fmt.Sprintf("sample has only %d rows; confidence is limited", m.SampleRows))
	}
	if m.TimeColumn == "" {
		w = append(w, "no time column detected")
	}
	if len(m.Metrics) == 0 {
		w = append(w, "no numeric metric columns detected")
	}
	if n := len(m.Funnel.Stages); n == 1 {
		w = append(w, "only one stage flag found; funnel not detected")
	}
	return w
}

func meanConfidence(cols []Column) float64 {
	if len(cols) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range cols {
		sum += c.Confidence
	}
	return round3(sum / float64(len(cols)))
}

func mergeColumns(meta []ColumnMeta, sampled []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, m := range meta {
		if m.Name == "" {
			continue
		}
		if _, ok := seen[m.Name]; ok {
			continue
		}
		seen[m.Name] = struct{}{}
		out = append(out, m.Name)
	}
	// The synthetic column only stands in when nothing else exists.
	if len(out) > 0 && len(sampled) == 1 && sampled[0] == analysis.SyntheticColumn {
		return out
	}
	for _, name := range sampled {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func indexMeta(meta []ColumnMeta) map[string]ColumnMeta {
	out := make(map[string]ColumnMeta, len(meta))
	for _, m := range meta {
		out[m.Name] = m
	}
	return out
}

func appendCopy(s []string, v string) []string {
	out := make([]string, len(s), len(s)+1)
	copy(out, s)
	return append(out, v)
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}
