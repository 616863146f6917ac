// Package patch applies constrained JSON patches to stored dashboard specs.
package patch

import (
	"fmt"
	"strings"
)

// Pointer is a parsed JSON Pointer. The empty pointer addresses the whole
// document.
type Pointer []string

// ParsePointer parses an RFC 6901 pointer, unescaping ~1 and ~0.
func ParsePointer(s string) (Pointer, error) {
	if s == "" {
		return Pointer{}, nil
	}
	if !strings.HasPrefix(s, "/") {
		return nil, fmt.Errorf("pointer %q must start with /", s)
	}
	raw := strings.Split(s[1:], "/")
	p := make(Pointer, len(raw))
	for i, tok := range raw {
		t, err := unescape(tok)
		if err != nil {
			return nil, fmt.Errorf("pointer %q: %w", s, err)
		}
		p[i] = t
	}
	return p, nil
}

func unescape(tok string) (string, error) {
	if !strings.Contains(tok, "~") {
		return tok, nil
	}
	var b strings.Builder
	for i := 0; i < len(tok); i++ {
		if tok[i] != '~' {
			b.WriteByte(tok[i])
			continue
		}
		if i+1 >= len(tok) {
			return "", fmt.Errorf("dangling ~ in %q", tok)
		}
		switch tok[i+1] {
		case '0':
			b.WriteByte('~')
		case '1':
			b.WriteByte('/')
		default:
			return "", fmt.Errorf("invalid escape ~%c in %q", tok[i+1], tok)
		}
		i++
	}
	return b.String(), nil
}

// String renders p back into escaped pointer form.
func (p Pointer) String() string {
	if len(p) == 0 {
		return ""
	}
	var b strings.Builder
	r := strings.NewReplacer("~", "~0", "/", "~1")
	for _, tok := range p {
		b.WriteByte('/')
		b.WriteString(r.Replace(tok))
	}
	return b.String()
}

// HasPrefix reports whether q is p or an ancestor of p.
func (p Pointer) HasPrefix(q Pointer) bool {
	if len(q) > len(p) {
		return false
	}
	for i := range q {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

func (p Pointer) parent() (Pointer, string) {
	return p[:len(p)-1], p[len(p)-1]
}

// deniedRoots are top-level members that hold data-source bindings, tenant
// identity or secrets. Matching is case-insensitive on whole segments.
var deniedRoots = []string{
	"datasource",
	"data_source",
	"tenant_id",
	"tenantid",
	"tenant",
	"credentials",
	"secrets",
	"secret",
}

// Forbidden reports whether p falls under a denied prefix.
func Forbidden(p Pointer) bool {
	if len(p) == 0 {
		return false
	}
	head := strings.ToLower(p[0])
	for _, d := range deniedRoots {
		if head == d {
			return true
		}
	}
	return false
}
