package analysis

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"
)

// Options controls profiling of a row sample.
type Options struct {
	// MaxRows bounds the sample; rows beyond it are ignored.
	MaxRows int
	// TopK is the size of the value histogram kept per column.
	TopK int
	// SampleValues is how many distinct example values to keep.
	SampleValues int
	// Numeric parsing locale. Zero means auto-detect per value.
	DecimalSeparator   rune
	ThousandsSeparator rune
}

// HardMaxRows caps any configured sample size.
const HardMaxRows = 500

// DefaultOptions returns the sampling defaults used by introspection.
func DefaultOptions() Options {
	return Options{MaxRows: 200, TopK: 8, SampleValues: 5}
}

// ValueCount is one entry of a top-K histogram.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// ColumnStats holds per-column evidence computed from one sample.
type ColumnStats struct {
	Name     string `json:"name"`
	Rows     int    `json:"rows"`
	NonNull  int    `json:"non_null"`
	Declared bool   `json:"declared_only,omitempty"`

	NullRate         float64 `json:"null_rate"`
	DistinctCount    int     `json:"distinct_count"`
	BooleanLikeRate  float64 `json:"boolean_like_rate"`
	BooleanValueRate float64 `json:"boolean_value_rate"` // over non-null values
	TruthyRate       float64 `json:"truthy_rate"`
	NumericParseRate float64 `json:"numeric_parse_rate"`
	IntegerRate      float64 `json:"integer_rate"`
	DateParseRate    float64 `json:"date_parse_rate"`
	Monotonicity     float64 `json:"monotonicity"`
	WhitespaceRate   float64 `json:"whitespace_rate"`
	HasCurrency      bool    `json:"contains_currency_symbols"`
	AvgLength        float64 `json:"avg_length"`

	TopValues   []ValueCount `json:"top_values,omitempty"`
	TopCoverage float64      `json:"top_coverage"`

	NumericMin *float64 `json:"numeric_min,omitempty"`
	NumericMax *float64 `json:"numeric_max,omitempty"`
	NumericAvg *float64 `json:"numeric_avg,omitempty"`

	MinTime string `json:"min_time,omitempty"`
	MaxTime string `json:"max_time,omitempty"`

	SampleValues []string `json:"sample_values,omitempty"`
}

// DistinctRatio is distinct values over non-null values.
func (s ColumnStats) DistinctRatio() float64 {
	if s.NonNull == 0 {
		return 0
	}
	return float64(s.DistinctCount) / float64(s.NonNull)
}

type colAcc struct {
	nonNull  int
	boolLike int
	boolVal  int
	truthy   int
	numeric  int
	integer  int
	dates    int
	spaced   int
	currency bool
	totalLen int
	counts   map[string]int
	order    []string

	n        int
	mean     float64
	min, max float64

	seqPairs, seqUp int
	lastNum         *float64
	minT, maxT      string
}

// Profile computes ColumnStats for every name in columns over records.
func Profile(records []Record, columns []string, opt Options) []ColumnStats {
	if opt.MaxRows <= 0 {
		opt.MaxRows = DefaultOptions().MaxRows
	}
	if opt.MaxRows > HardMaxRows {
		opt.MaxRows = HardMaxRows
	}
	if opt.TopK <= 0 {
		opt.TopK = DefaultOptions().TopK
	}
	if opt.SampleValues <= 0 {
		opt.SampleValues = DefaultOptions().SampleValues
	}
	if len(records) > opt.MaxRows {
		records = records[:opt.MaxRows]
	}
	rows := len(records)

	out := make([]ColumnStats, 0, len(columns))
	for _, name := range columns {
		acc := &colAcc{counts: map[string]int{}, min: math.Inf(1), max: math.Inf(-1)}
		for _, rec := range records {
			acc.add(rec[name], opt)
		}
		out = append(out, acc.summarize(name, rows, opt))
	}
	return out
}

func (c *colAcc) add(v any, opt Options) {
	if IsBooleanLike(v) {
		c.boolLike++
	}
	if IsTruthy(v) {
		c.truthy++
	}
	if isNull(v) {
		return
	}
	c.nonNull++
	if IsBooleanLike(v) {
		c.boolVal++
	}
	s := displayValue(v)
	c.totalLen += utf8.RuneCountInString(s)
	if strings.ContainsAny(strings.TrimSpace(s), " \t") {
		c.spaced++
	}
	if _, ok := c.counts[s]; !ok {
		c.order = append(c.order, s)
	}
	c.counts[s]++
	if str, ok := v.(string); ok && HasCurrencySymbol(str) {
		c.currency = true
	}

	if t, ok := ParseTime(v); ok {
		c.dates++
		iso := t.Format("2006-01-02")
		if c.minT == "" || iso < c.minT {
			c.minT = iso
		}
		if c.maxT == "" || iso > c.maxT {
			c.maxT = iso
		}
		x := float64(t.Unix())
		c.trackSequence(x)
		return
	}
	if x, ok := ParseNumber(v, opt); ok {
		c.numeric++
		if x == math.Trunc(x) {
			c.integer++
		}
		c.n++
		c.mean += (x - c.mean) / float64(c.n)
		if x < c.min {
			c.min = x
		}
		if x > c.max {
			c.max = x
		}
		c.trackSequence(x)
	}
}

func (c *colAcc) trackSequence(x float64) {
	if c.lastNum != nil {
		c.seqPairs++
		if x >= *c.lastNum {
			c.seqUp++
		}
	}
	c.lastNum = &x
}

func (c *colAcc) summarize(name string, rows int, opt Options) ColumnStats {
	s := ColumnStats{Name: name, Rows: rows, NonNull: c.nonNull, DistinctCount: len(c.counts), HasCurrency: c.currency}
	if rows > 0 {
		s.NullRate = float64(rows-c.nonNull) / float64(rows)
		s.BooleanLikeRate = float64(c.boolLike) / float64(rows)
		s.TruthyRate = float64(c.truthy) / float64(rows)
	}
	if c.nonNull > 0 {
		nn := float64(c.nonNull)
		s.BooleanValueRate = float64(c.boolVal) / nn
		s.NumericParseRate = float64(c.numeric) / nn
		s.DateParseRate = float64(c.dates) / nn
		s.WhitespaceRate = float64(c.spaced) / nn
		s.AvgLength = float64(c.totalLen) / nn
	}
	if c.numeric > 0 {
		s.IntegerRate = float64(c.integer) / float64(c.numeric)
		lo, hi, avg := c.min, c.max, c.mean
		s.NumericMin, s.NumericMax, s.NumericAvg = &lo, &hi, &avg
	}
	if c.seqPairs > 0 {
		s.Monotonicity = float64(c.seqUp) / float64(c.seqPairs)
	}
	s.MinTime, s.MaxTime = c.minT, c.maxT

	tops := make([]ValueCount, 0, len(c.counts))
	for _, v := range c.order {
		tops = append(tops, ValueCount{Value: v, Count: c.counts[v]})
	}
	sort.SliceStable(tops, func(i, j int) bool { return tops[i].Count > tops[j].Count })
	if len(tops) > opt.TopK {
		tops = tops[:opt.TopK]
	}
	covered := 0
	for _, t := range tops {
		covered += t.Count
	}
	s.TopValues = tops
	if c.nonNull > 0 {
		s.TopCoverage = float64(covered) / float64(c.nonNull)
	}
	for _, v := range c.order {
		if len(s.SampleValues) >= opt.SampleValues {
			break
		}
		s.SampleValues = append(s.SampleValues, truncate(v, 80))
	}
	return s
}

// DeclaredStats synthesizes evidence from a declared database type alone. It
// backs classification when no rows are available.
func DeclaredStats(name, dbType string) ColumnStats {
	s := ColumnStats{Name: name, Declared: true}
	t := strings.ToLower(dbType)
	switch {
	case strings.Contains(t, "date") || strings.Contains(t, "time"):
		s.DateParseRate = 1
	case strings.Contains(t, "bool"):
		s.BooleanLikeRate, s.BooleanValueRate = 1, 1
		s.TruthyRate = 0.5
		s.DistinctCount = 2
	case strings.Contains(t, "int") || strings.Contains(t, "serial"):
		s.NumericParseRate, s.IntegerRate = 1, 1
	case strings.Contains(t, "num") || strings.Contains(t, "dec") || strings.Contains(t, "float") ||
		strings.Contains(t, "double") || strings.Contains(t, "real") || strings.Contains(t, "money"):
		s.NumericParseRate = 1
		s.HasCurrency = strings.Contains(t, "money")
	}
	return s
}

// IsNumericType reports whether a declared database type is numeric.
func IsNumericType(dbType string) bool {
	s := DeclaredStats("", dbType)
	return s.NumericParseRate > 0
}

func displayValue(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return Token(x)
	default:
		return stringify(x)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func sortedKeys(rec Record) []string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
