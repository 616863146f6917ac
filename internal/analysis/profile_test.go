package analysis

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var csvRows = []string{
	"dia;canal;custo (R$);leads_total;entrada;obs",
	"2024-03-01;google;R$ 1.000,50;10;1;",
	"2024-03-02;meta;R$ 980,00;12;1;primeiro contato",
	"2024-03-03;google;R$ 1.100,00;9;;",
	"2024-03-04;meta;R$ 1.050,25;11;1;",
	"2024-03-05;google;R$ 990,00;14;sim;",
	"2024-03-06;tiktok;R$ 1.020,00;8;;",
}

func writeCSV(t *testing.T, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.csv")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

func statsByName(stats []ColumnStats) map[string]ColumnStats {
	out := make(map[string]ColumnStats, len(stats))
	for _, s := range stats {
		out[s.Name] = s
	}
	return out
}

func TestLoadCSVAndProfile(t *testing.T) {
	path := writeCSV(t, csvRows)
	s, err := LoadCSV(path, LoadOptions{})
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if len(s.Records) != 6 {
		t.Fatalf("expected 6 records, got %d", len(s.Records))
	}
	if got := strings.Join(s.Columns, ","); got != "dia,canal,custo (R$),leads_total,entrada,obs" {
		t.Fatalf("unexpected columns %q", got)
	}

	stats := statsByName(Profile(s.Records, s.Columns, DefaultOptions()))

	dia := stats["dia"]
	if dia.DateParseRate != 1 {
		t.Fatalf("dia date rate = %v", dia.DateParseRate)
	}
	if dia.MinTime != "2024-03-01" || dia.MaxTime != "2024-03-06" {
		t.Fatalf("dia range = %s..%s", dia.MinTime, dia.MaxTime)
	}
	if dia.Monotonicity != 1 {
		t.Fatalf("dia monotonicity = %v", dia.Monotonicity)
	}

	custo := stats["custo (R$)"]
	if custo.NumericParseRate != 1 || !custo.HasCurrency {
		t.Fatalf("custo numeric=%v currency=%v", custo.NumericParseRate, custo.HasCurrency)
	}
	if custo.NumericMax == nil || math.Abs(*custo.NumericMax-1100) > 1e-9 {
		t.Fatalf("custo max = %v", custo.NumericMax)
	}

	canal := stats["canal"]
	if canal.DistinctCount != 3 {
		t.Fatalf("canal distinct = %d", canal.DistinctCount)
	}
	if len(canal.TopValues) == 0 || canal.TopValues[0].Value != "google" || canal.TopValues[0].Count != 3 {
		t.Fatalf("canal top = %+v", canal.TopValues)
	}
	if canal.TopCoverage != 1 {
		t.Fatalf("canal coverage = %v", canal.TopCoverage)
	}

	entrada := stats["entrada"]
	if entrada.BooleanLikeRate != 1 {
		t.Fatalf("entrada boolean rate = %v", entrada.BooleanLikeRate)
	}
	if math.Abs(entrada.TruthyRate-4.0/6.0) > 1e-9 {
		t.Fatalf("entrada truthy rate = %v", entrada.TruthyRate)
	}

	if entrada.BooleanValueRate != 1 {
		t.Fatalf("entrada boolean value rate = %v", entrada.BooleanValueRate)
	}

	obs := stats["obs"]
	if math.Abs(obs.NullRate-5.0/6.0) > 1e-9 {
		t.Fatalf("obs null rate = %v", obs.NullRate)
	}
	if math.Abs(obs.BooleanLikeRate-5.0/6.0) > 1e-9 || obs.BooleanValueRate != 0 {
		t.Fatalf("obs boolean rates = %v over rows, %v over values", obs.BooleanLikeRate, obs.BooleanValueRate)
	}
}

func TestLoadCSVRespectsMaxRows(t *testing.T) {
	path := writeCSV(t, csvRows)
	s, err := LoadCSV(path, LoadOptions{MaxRows: 3})
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if len(s.Records) != 3 || !s.Truncated {
		t.Fatalf("expected 3 truncated records, got %d (truncated=%v)", len(s.Records), s.Truncated)
	}
}

func TestNormalizeRowsShapes(t *testing.T) {
	raw := []any{
		`{"b": 1, "a": "x"}`,
		[]any{"p", "q"},
		map[string]any{"c": true},
	}
	records, cols := NormalizeRows(raw)
	if len(records) != 3 {
		t.Fatalf("records = %d", len(records))
	}
	want := "b,a,col_1,col_2,c"
	if got := strings.Join(cols, ","); got != want {
		t.Fatalf("columns = %q, want %q", got, want)
	}
	if records[1]["col_2"] != "q" {
		t.Fatalf("array row not keyed: %+v", records[1])
	}
}

func TestNormalizeRowsUnionsSparseKeys(t *testing.T) {
	raw := []any{
		map[string]any{"a": 1},
		map[string]any{"a": 2, "late": "x"},
	}
	_, cols := NormalizeRows(raw)
	if got := strings.Join(cols, ","); got != "a,late" {
		t.Fatalf("columns = %q", got)
	}
}

func TestNormalizeRowsSyntheticColumn(t *testing.T) {
	records, cols := NormalizeRows([]any{map[string]any{}, nil})
	if len(cols) != 1 || cols[0] != SyntheticColumn {
		t.Fatalf("expected synthetic column, got %v", cols)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d", len(records))
	}
}

func TestParseNumberLocales(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"1.234,56", 1234.56, true},
		{"1,234.56", 1234.56, true},
		{"R$ 2.500,00", 2500, true},
		{"$1,200", 1200, true},
		{"0,5", 0.5, true},
		{"12%", 12, true},
		{"-3.5", -3.5, true},
		{"abc", 0, false},
		{"", 0, false},
		{"2024-01-02", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseNumber(tc.in, Options{})
		if ok != tc.ok || (ok && math.Abs(got-tc.want) > 1e-9) {
			t.Errorf("ParseNumber(%q) = %v,%v want %v,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestParseTime(t *testing.T) {
	for _, s := range []string{"2024-01-02", "2024-01-02T10:00:00Z", "02/01/2024", "2024-01-02 10:11:12"} {
		if _, ok := ParseTime(s); !ok {
			t.Errorf("ParseTime(%q) failed", s)
		}
	}
	for _, v := range []any{"12345", "abc", 20240102.0, nil} {
		if _, ok := ParseTime(v); ok {
			t.Errorf("ParseTime(%v) should fail", v)
		}
	}
}

func TestVocabulary(t *testing.T) {
	for _, v := range []any{"1", "Sim", "YES", "x", true, 1.0} {
		if !IsTruthy(v) {
			t.Errorf("expected %v truthy", v)
		}
	}
	for _, v := range []any{"0", "não", "", nil, false, 0.0} {
		if !IsFalsy(v) {
			t.Errorf("expected %v falsy", v)
		}
	}
	if IsBooleanLike("maybe") {
		t.Errorf("maybe should not be boolean-like")
	}
}

func TestDeclaredStats(t *testing.T) {
	if s := DeclaredStats("created_at", "timestamp with time zone"); s.DateParseRate != 1 {
		t.Fatalf("timestamp not temporal: %+v", s)
	}
	if !IsNumericType("numeric(12,2)") || !IsNumericType("bigint") {
		t.Fatalf("numeric types not detected")
	}
	if IsNumericType("text") {
		t.Fatalf("text reported numeric")
	}
}

func TestDecodeRowsShapes(t *testing.T) {
	rows, err := DecodeRows([]byte(`{"rows":[{"a":1},{"a":2}]}`))
	if err != nil || len(rows) != 2 {
		t.Fatalf("rows wrapper: %v %v", rows, err)
	}
	rows, err = DecodeRows([]byte("{\"a\":1}\n{\"a\":2}\n"))
	if err != nil || len(rows) != 2 {
		t.Fatalf("ndjson: %v %v", rows, err)
	}
}
