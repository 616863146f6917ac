package analysis

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// currencyMarkers are stripped before numeric parsing and count as currency evidence.
var currencyMarkers = []string{"US$", "R$", "BRL", "USD", "EUR", "$", "€", "£"}

// HasCurrencySymbol reports whether s carries a currency marker.
func HasCurrencySymbol(s string) bool {
	for _, m := range currencyMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// ParseNumber parses locale-formatted numbers such as "1.234,56", "R$ 1,200.00"
// or "12%". A zero separator in opt means auto-detect per value.
func ParseNumber(v any, opt Options) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case bool:
		return 0, false
	}
	raw, ok := v.(string)
	if !ok {
		return 0, false
	}
	raw = strings.TrimSpace(raw)
	for _, m := range currencyMarkers {
		raw = strings.ReplaceAll(raw, m, "")
	}
	raw = strings.ReplaceAll(raw, "%", "")
	raw = strings.ReplaceAll(raw, "\u00A0", " ")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	dec := opt.DecimalSeparator
	thou := opt.ThousandsSeparator
	if dec == 0 {
		cpos := strings.LastIndex(raw, ",")
		dpos := strings.LastIndex(raw, ".")
		switch {
		case cpos >= 0 && dpos >= 0:
			if cpos > dpos {
				dec, thou = ',', '.'
			} else {
				dec, thou = '.', ','
			}
		case cpos >= 0:
			// "1,234" with exactly three trailing digits reads as thousands.
			if strings.Count(raw, ",") > 1 || (len(raw)-cpos-1 == 3 && !strings.HasPrefix(strings.TrimPrefix(raw, "-"), "0,")) {
				dec, thou = '.', ','
			} else {
				dec = ','
			}
		default:
			dec = '.'
		}
	}
	if thou == 0 {
		for _, sep := range []rune{',', '.', ' '} {
			if sep != dec {
				raw = strings.ReplaceAll(raw, string(sep), "")
			}
		}
	} else if thou != dec {
		raw = strings.ReplaceAll(raw, string(thou), "")
		raw = strings.ReplaceAll(raw, " ", "")
	}
	if dec != '.' {
		raw = strings.ReplaceAll(raw, string(dec), ".")
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

var timeLayouts = []string{
	time.RFC3339, time.RFC3339Nano, "2006-01-02", "2006/01/02", "02/01/2006",
	"2006-01-02 15:04", "2006-01-02 15:04:05", "2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000", "02/01/2006 15:04", "02/01/2006 15:04:05", "2006-01",
}

// ParseTime parses common ISO and day-first layouts. Plain numbers never parse.
func ParseTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		if t, isTime := v.(time.Time); isTime {
			return t, true
		}
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	if len(s) < 7 {
		return time.Time{}, false
	}
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
