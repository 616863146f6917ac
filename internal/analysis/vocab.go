package analysis

import (
	"fmt"
	"strings"
)

// Truthy and falsy tokens shared by stage-flag detection and anything that
// later aggregates truthy_count. Keep this the only definition.
var (
	TruthyTokens = []string{"1", "true", "t", "sim", "s", "yes", "y", "ok", "x", "verdadeiro"}
	FalsyTokens  = []string{"0", "false", "f", "não", "nao", "n", "no", "falso", ""}
)

var (
	truthySet = tokenSet(TruthyTokens)
	falsySet  = tokenSet(FalsyTokens)
)

func tokenSet(tokens []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		out[t] = struct{}{}
	}
	return out
}

// Token renders a raw cell value into the normalized lowercase form used by
// the vocabulary. nil renders as "".
func Token(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.ToLower(strings.TrimSpace(x))
	case bool:
		if x {
			return "true"
		}
		return "false"
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return strings.ToLower(fmt.Sprint(x))
	default:
		return strings.ToLower(strings.TrimSpace(fmt.Sprint(x)))
	}
}

// IsTruthy reports whether v is one of the truthy tokens.
func IsTruthy(v any) bool {
	_, ok := truthySet[Token(v)]
	return ok
}

// IsFalsy reports whether v is one of the falsy tokens. Nulls are falsy.
func IsFalsy(v any) bool {
	if isNull(v) {
		return true
	}
	_, ok := falsySet[Token(v)]
	return ok
}

// IsBooleanLike reports whether v belongs to either side of the vocabulary.
func IsBooleanLike(v any) bool {
	return IsTruthy(v) || IsFalsy(v)
}

func isNull(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	switch strings.TrimSpace(s) {
	case "", "null", "NULL", "None", "nil":
		return true
	}
	return false
}
