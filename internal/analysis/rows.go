package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Record is one normalized sample row keyed by column name.
type Record map[string]any

// keyScanRows is how many leading rows contribute keys to the column list.
const keyScanRows = 25

// SyntheticColumn names the column emitted when no usable keys exist.
const SyntheticColumn = "value"

// NormalizeRows converts object rows, header-less array rows and JSON-encoded
// string rows into uniform records and derives the ordered column list.
func NormalizeRows(raw []any) ([]Record, []string) {
	records := make([]Record, 0, len(raw))
	for _, r := range raw {
		records = append(records, normalizeRow(r))
	}
	var cols []string
	seen := map[string]struct{}{}
	for i, rec := range records {
		if i >= keyScanRows {
			break
		}
		for _, k := range orderedKeys(raw[i], rec) {
			if strings.TrimSpace(k) == "" {
				continue
			}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			cols = append(cols, k)
		}
	}
	if len(cols) == 0 && len(raw) > 0 {
		for i, r := range raw {
			records[i] = Record{SyntheticColumn: stringify(r)}
		}
		cols = []string{SyntheticColumn}
	}
	return records, cols
}

func normalizeRow(r any) Record {
	switch x := r.(type) {
	case Record:
		return x
	case map[string]any:
		return Record(x)
	case map[string]string:
		out := make(Record, len(x))
		for k, v := range x {
			out[k] = v
		}
		return out
	case []any:
		out := make(Record, len(x))
		for i, v := range x {
			out[arrayKey(i)] = v
		}
		return out
	case []string:
		out := make(Record, len(x))
		for i, v := range x {
			out[arrayKey(i)] = v
		}
		return out
	case string:
		s := strings.TrimSpace(x)
		if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
			var decoded any
			if err := json.Unmarshal([]byte(s), &decoded); err == nil {
				switch decoded.(type) {
				case map[string]any, []any:
					return normalizeRow(decoded)
				}
			}
		}
		return Record{SyntheticColumn: x}
	case nil:
		return Record{}
	default:
		return Record{SyntheticColumn: x}
	}
}

// orderedKeys returns record keys in a stable order: array position for array
// rows, source order for JSON strings and sorted order for maps.
func orderedKeys(src any, rec Record) []string {
	switch x := src.(type) {
	case []any:
		return arrayKeys(len(x))
	case []string:
		return arrayKeys(len(x))
	case string:
		s := strings.TrimSpace(x)
		if strings.HasPrefix(s, "{") {
			if keys := jsonObjectKeys(s); len(keys) > 0 {
				return keys
			}
		}
		if strings.HasPrefix(s, "[") {
			return arrayKeys(len(rec))
		}
	}
	return sortedKeys(rec)
}

func arrayKey(i int) string { return fmt.Sprintf("col_%d", i+1) }

func arrayKeys(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = arrayKey(i)
	}
	return out
}

// jsonObjectKeys reads top-level keys in document order.
func jsonObjectKeys(s string) []string {
	dec := json.NewDecoder(strings.NewReader(s))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return keys
		}
		k, ok := tok.(string)
		if !ok {
			return keys
		}
		keys = append(keys, k)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return keys
		}
	}
	return keys
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
