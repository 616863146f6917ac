package analysis

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Sample is a bounded row sample plus the column names it was read with.
type Sample struct {
	Name    string
	Columns []string
	Records []Record
	// Truncated is set when the source had more rows than MaxRows.
	Truncated bool
}

// LoadOptions controls file sample loading.
type LoadOptions struct {
	MaxRows int
	// Delimiter for CSV. If 0, sniffed from the extension and header.
	Delimiter rune
	// Sheet selects an XLSX worksheet by name or 1-based position.
	Sheet string
}

// LoadFile dispatches on extension: .json/.ndjson are row documents,
// .xlsx is a workbook, everything else is read as delimited text.
func LoadFile(path string, opt LoadOptions) (*Sample, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".ndjson":
		return LoadJSON(path, opt)
	case ".xlsx":
		return LoadXLSX(path, opt)
	}
	return LoadCSV(path, opt)
}

// LoadCSV reads the header and up to MaxRows rows of a delimited file.
func LoadCSV(path string, opt LoadOptions) (*Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	return readCSV(f, filepath.Base(path), opt)
}

func readCSV(src io.Reader, name string, opt LoadOptions) (*Sample, error) {
	maxRows := boundRows(opt.MaxRows)
	data, err := io.ReadAll(io.LimitReader(src, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	delim := opt.Delimiter
	if delim == 0 {
		delim = sniffDelimiter(name, string(data))
	}
	r := csv.NewReader(strings.NewReader(string(data)))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.Comma = delim

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &Sample{Name: name}, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			h = arrayKey(i)
		}
		cols[i] = h
	}
	s := &Sample{Name: name, Columns: cols}
	for {
		rec, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read row %d: %w", len(s.Records)+1, err)
		}
		if len(s.Records) >= maxRows {
			s.Truncated = true
			break
		}
		row := make(Record, len(cols))
		for i, c := range cols {
			if i < len(rec) {
				row[c] = rec[i]
			} else {
				row[c] = nil
			}
		}
		s.Records = append(s.Records, row)
	}
	return s, nil
}

// LoadJSON reads a JSON array of rows, an object with a "rows" array, or
// newline-delimited JSON. Row shapes are normalized with NormalizeRows.
func LoadJSON(path string, opt LoadOptions) (*Sample, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read json: %w", err)
	}
	raw, err := DecodeRows(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	s := &Sample{Name: filepath.Base(path)}
	maxRows := boundRows(opt.MaxRows)
	if len(raw) > maxRows {
		raw = raw[:maxRows]
		s.Truncated = true
	}
	s.Records, s.Columns = NormalizeRows(raw)
	return s, nil
}

// DecodeRows accepts the JSON shapes handed over by data-access collaborators.
func DecodeRows(b []byte) ([]any, error) {
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, nil
	}
	var doc any
	if err := json.Unmarshal([]byte(trimmed), &doc); err == nil {
		switch x := doc.(type) {
		case []any:
			return x, nil
		case map[string]any:
			if rows, ok := x["rows"].([]any); ok {
				return rows, nil
			}
			if rows, ok := x["data"].([]any); ok {
				return rows, nil
			}
			return []any{x}, nil
		}
		return nil, fmt.Errorf("unsupported json document: %T", doc)
	}
	var rows []any
	for i, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(line), &v); err != nil {
			return nil, fmt.Errorf("decode line %d: %w", i+1, err)
		}
		rows = append(rows, v)
	}
	return rows, nil
}

func boundRows(n int) int {
	if n <= 0 {
		n = DefaultOptions().MaxRows
	}
	if n > HardMaxRows {
		n = HardMaxRows
	}
	return n
}

func sniffDelimiter(name, content string) rune {
	if strings.HasSuffix(strings.ToLower(name), ".tsv") {
		return '\t'
	}
	header := content
	if i := strings.IndexByte(content, '\n'); i >= 0 {
		header = content[:i]
	}
	best, bestN := ',', strings.Count(header, ",")
	for _, d := range []rune{';', '\t', '|'} {
		if n := strings.Count(header, string(d)); n > bestN {
			best, bestN = d, n
		}
	}
	return best
}
