package patch

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

// Op is the wire form of one patch operation.
type Op struct {
	Op    string          `json:"op" validate:"required,oneof=add remove replace move copy test"`
	Path  string          `json:"path" validate:"required,startswith=/"`
	Value json.RawMessage `json:"value,omitempty"`
	From  string          `json:"from,omitempty" validate:"required_if=Op move,required_if=Op copy"`
}

// Operation is one decoded patch operation. The set of implementations is
// closed: Add, Remove, Replace, Move, Copy and Test.
type Operation interface {
	Kind() string
	// Paths returns every pointer the operation reads or writes.
	Paths() []Pointer
	apply(doc any) (any, error)
}

// Add inserts Value at Path. "-" appends to an array; an index inserts.
type Add struct {
	Path  Pointer
	Value any
}

// Remove deletes the member at Path.
type Remove struct {
	Path Pointer
}

// Replace overwrites the existing member at Path.
type Replace struct {
	Path  Pointer
	Value any
}

// Move removes the member at From and adds it at Path.
type Move struct {
	From Pointer
	Path Pointer
}

// Copy adds a copy of the member at From at Path.
type Copy struct {
	From Pointer
	Path Pointer
}

// Test fails unless the member at Path deep-equals Value.
type Test struct {
	Path  Pointer
	Value any
}

func (Add) Kind() string     { return "add" }
func (Remove) Kind() string  { return "remove" }
func (Replace) Kind() string { return "replace" }
func (Move) Kind() string    { return "move" }
func (Copy) Kind() string    { return "copy" }
func (Test) Kind() string    { return "test" }

func (o Add) Paths() []Pointer     { return []Pointer{o.Path} }
func (o Remove) Paths() []Pointer  { return []Pointer{o.Path} }
func (o Replace) Paths() []Pointer { return []Pointer{o.Path} }
func (o Move) Paths() []Pointer    { return []Pointer{o.From, o.Path} }
func (o Copy) Paths() []Pointer    { return []Pointer{o.From, o.Path} }
func (o Test) Paths() []Pointer    { return []Pointer{o.Path} }

// Decode converts wire operations into typed ones.
func Decode(ops []Op) ([]Operation, error) {
	out := make([]Operation, 0, len(ops))
	for i, op := range ops {
		o, err := decodeOne(op)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		out = append(out, o)
	}
	return out, nil
}

func decodeOne(op Op) (Operation, error) {
	path, err := ParsePointer(op.Path)
	if err != nil {
		return nil, err
	}
	if len(path) == 0 {
		return nil, fmt.Errorf("%s on the whole document is not allowed", op.Op)
	}
	switch op.Op {
	case "add", "replace", "test":
		if len(op.Value) == 0 {
			return nil, fmt.Errorf("%s %s requires a value", op.Op, op.Path)
		}
		var v any
		if err := json.Unmarshal(op.Value, &v); err != nil {
			return nil, fmt.Errorf("%s %s: decode value: %w", op.Op, op.Path, err)
		}
		switch op.Op {
		case "add":
			return Add{Path: path, Value: v}, nil
		case "replace":
			return Replace{Path: path, Value: v}, nil
		default:
			return Test{Path: path, Value: v}, nil
		}
	case "remove":
		return Remove{Path: path}, nil
	case "move", "copy":
		from, err := ParsePointer(op.From)
		if err != nil {
			return nil, err
		}
		if len(from) == 0 {
			return nil, fmt.Errorf("%s from the whole document is not allowed", op.Op)
		}
		if op.Op == "move" {
			return Move{From: from, Path: path}, nil
		}
		return Copy{From: from, Path: path}, nil
	default:
		return nil, fmt.Errorf("unknown op %q", op.Op)
	}
}

func (o Add) apply(doc any) (any, error) {
	return mutate(doc, o.Path, func(parent any, key string) (any, error) {
		return insert(parent, key, deepCopy(o.Value))
	})
}

func (o Remove) apply(doc any) (any, error) {
	doc, _, err := take(doc, o.Path)
	return doc, err
}

func (o Replace) apply(doc any) (any, error) {
	return mutate(doc, o.Path, func(parent any, key string) (any, error) {
		switch c := parent.(type) {
		case map[string]any:
			if _, ok := c[key]; !ok {
				return nil, fmt.Errorf("replace %s: member does not exist", o.Path)
			}
			c[key] = deepCopy(o.Value)
			return c, nil
		case []any:
			i, err := index(key, len(c), false)
			if err != nil {
				return nil, fmt.Errorf("replace %s: %w", o.Path, err)
			}
			c[i] = deepCopy(o.Value)
			return c, nil
		default:
			return nil, fmt.Errorf("replace %s: parent is not a container", o.Path)
		}
	})
}

func (o Move) apply(doc any) (any, error) {
	if o.Path.HasPrefix(o.From) && len(o.Path) > len(o.From) {
		return nil, fmt.Errorf("move %s: cannot move into own child %s", o.From, o.Path)
	}
	doc, v, err := take(doc, o.From)
	if err != nil {
		return nil, err
	}
	return Add{Path: o.Path, Value: v}.apply(doc)
}

func (o Copy) apply(doc any) (any, error) {
	v, err := get(doc, o.From)
	if err != nil {
		return nil, fmt.Errorf("copy: %w", err)
	}
	return Add{Path: o.Path, Value: v}.apply(doc)
}

func (o Test) apply(doc any) (any, error) {
	v, err := get(doc, o.Path)
	if err != nil {
		return nil, fmt.Errorf("test: %w", err)
	}
	if !reflect.DeepEqual(v, o.Value) {
		return nil, fmt.Errorf("test %s: value does not match", o.Path)
	}
	return doc, nil
}

// mutate walks to the parent of p and replaces it with fn's result.
func mutate(doc any, p Pointer, fn func(parent any, key string) (any, error)) (any, error) {
	if len(p) == 1 {
		return fn(doc, p[0])
	}
	child, err := step(doc, p[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	updated, err := mutate(child, p[1:], fn)
	if err != nil {
		return nil, err
	}
	switch c := doc.(type) {
	case map[string]any:
		c[p[0]] = updated
	case []any:
		i, _ := index(p[0], len(c), false)
		c[i] = updated
	}
	return doc, nil
}

// take removes the member at p and returns it.
func take(doc any, p Pointer) (any, any, error) {
	var taken any
	doc, err := mutate(doc, p, func(parent any, key string) (any, error) {
		switch c := parent.(type) {
		case map[string]any:
			v, ok := c[key]
			if !ok {
				return nil, fmt.Errorf("remove %s: member does not exist", p)
			}
			taken = v
			delete(c, key)
			return c, nil
		case []any:
			i, err := index(key, len(c), false)
			if err != nil {
				return nil, fmt.Errorf("remove %s: %w", p, err)
			}
			taken = c[i]
			return append(c[:i:i], c[i+1:]...), nil
		default:
			return nil, fmt.Errorf("remove %s: parent is not a container", p)
		}
	})
	return doc, taken, err
}

func insert(parent any, key string, v any) (any, error) {
	switch c := parent.(type) {
	case map[string]any:
		c[key] = v
		return c, nil
	case []any:
		if key == "-" {
			return append(c, v), nil
		}
		i, err := index(key, len(c), true)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(c)+1)
		out = append(out, c[:i]...)
		out = append(out, v)
		return append(out, c[i:]...), nil
	default:
		return nil, fmt.Errorf("cannot add %q to a non-container", key)
	}
}

func get(doc any, p Pointer) (any, error) {
	cur := doc
	for i, tok := range p {
		next, err := step(cur, tok)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p[:i+1], err)
		}
		cur = next
	}
	return cur, nil
}

func step(node any, tok string) (any, error) {
	switch c := node.(type) {
	case map[string]any:
		v, ok := c[tok]
		if !ok {
			return nil, fmt.Errorf("member %q does not exist", tok)
		}
		return v, nil
	case []any:
		i, err := index(tok, len(c), false)
		if err != nil {
			return nil, err
		}
		return c[i], nil
	default:
		return nil, fmt.Errorf("cannot index scalar with %q", tok)
	}
}

// index parses an array index token. end allows i == n for inserts.
func index(tok string, n int, end bool) (int, error) {
	if tok == "" || (len(tok) > 1 && tok[0] == '0') {
		return 0, fmt.Errorf("invalid array index %q", tok)
	}
	i, err := strconv.Atoi(tok)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("invalid array index %q", tok)
	}
	if i > n || (i == n && !end) {
		return 0, fmt.Errorf("array index %d out of range (len %d)", i, n)
	}
	return i, nil
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = deepCopy(x)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = deepCopy(x)
		}
		return out
	default:
		return v
	}
}
