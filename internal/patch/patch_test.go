package patch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeOps(t *testing.T, raw string) []Operation {
	t.Helper()
	var wire []Op
	require.NoError(t, json.Unmarshal([]byte(raw), &wire))
	ops, err := Decode(wire)
	require.NoError(t, err)
	return ops
}

func sampleDoc() map[string]any {
	return map[string]any{
		"version": 1.0,
		"title":   "Leads",
		"kpis": []any{
			map[string]any{"label": "Leads", "column": "leads", "agg": "sum"},
		},
		"ui": map[string]any{"tabs": []any{"overview", "details"}},
	}
}

func TestParsePointer(t *testing.T) {
	cases := []struct {
		in   string
		want Pointer
		err  bool
	}{
		{"", Pointer{}, false},
		{"/kpis/0", Pointer{"kpis", "0"}, false},
		{"/a~1b/c~0d", Pointer{"a/b", "c~d"}, false},
		{"/", Pointer{""}, false},
		{"kpis", nil, true},
		{"/bad~2", nil, true},
		{"/dangling~", nil, true},
	}
	for _, c := range cases {
		got, err := ParsePointer(c.in)
		if c.err {
			assert.Error(t, err, c.in)
			continue
		}
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
		assert.Equal(t, c.in, got.String(), "round trip %q", c.in)
	}
}

func TestForbidden(t *testing.T) {
	denied := []string{"/datasource", "/dataSource/url", "/data_source", "/TENANT_ID", "/tenantId", "/tenant/name", "/credentials/0", "/secrets", "/secret"}
	for _, p := range denied {
		ptr, err := ParsePointer(p)
		require.NoError(t, err)
		assert.True(t, Forbidden(ptr), p)
	}
	allowed := []string{"/title", "/tenants", "/kpis/0/datasource", "/secretive"}
	for _, p := range allowed {
		ptr, err := ParsePointer(p)
		require.NoError(t, err)
		assert.False(t, Forbidden(ptr), p)
	}
}

func TestApplyAddRemoveRoundTrip(t *testing.T) {
	paths := []string{"/kpis/0", "/kpis/1", "/ui/compareperiods", "/kpis/0/goal"}
	for _, p := range paths {
		doc := sampleDoc()
		added, err := Apply(doc, decodeOps(t, `[{"op":"add","path":"`+p+`","value":{"x":1}}]`))
		require.NoError(t, err, p)
		assert.NotEqual(t, doc, added)
		restored, err := Apply(added, decodeOps(t, `[{"op":"remove","path":"`+p+`"}]`))
		require.NoError(t, err, p)
		assert.Equal(t, sampleDoc(), restored, p)
	}
}

func TestApplyArraySemantics(t *testing.T) {
	doc := map[string]any{"tabs": []any{"a", "b"}, "obj": map[string]any{}}
	out, err := Apply(doc, decodeOps(t, `[
		{"op":"add","path":"/tabs/-","value":"c"},
		{"op":"add","path":"/tabs/0","value":"z"},
		{"op":"add","path":"/obj/0","value":"literal"}
	]`))
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, []any{"z", "a", "b", "c"}, m["tabs"])
	assert.Equal(t, map[string]any{"0": "literal"}, m["obj"])
	assert.Equal(t, []any{"a", "b"}, doc["tabs"], "input must not change")

	_, err = Apply(doc, decodeOps(t, `[{"op":"add","path":"/tabs/5","value":"x"}]`))
	assert.Error(t, err)
	_, err = Apply(doc, decodeOps(t, `[{"op":"remove","path":"/tabs/01"}]`))
	assert.Error(t, err)
}

func TestApplyMoveCopyReplaceTest(t *testing.T) {
	doc := sampleDoc()
	out, err := Apply(doc, decodeOps(t, `[
		{"op":"test","path":"/title","value":"Leads"},
		{"op":"replace","path":"/title","value":"Leads 2024"},
		{"op":"copy","from":"/kpis/0","path":"/kpis/-"},
		{"op":"move","from":"/kpis/1","path":"/kpis/0"},
		{"op":"test","path":"/kpis/0/column","value":"leads"}
	]`))
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, "Leads 2024", m["title"])
	assert.Len(t, m["kpis"], 2)

	_, err = Apply(doc, decodeOps(t, `[{"op":"move","from":"/ui","path":"/ui/inner"}]`))
	assert.Error(t, err)
	_, err = Apply(doc, decodeOps(t, `[{"op":"replace","path":"/missing","value":1}]`))
	assert.Error(t, err)
}

func TestApplyTestFailureLeavesInputUntouched(t *testing.T) {
	doc := sampleDoc()
	_, err := Apply(doc, decodeOps(t, `[
		{"op":"replace","path":"/title","value":"Changed"},
		{"op":"test","path":"/version","value":2}
	]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
	assert.Equal(t, sampleDoc(), doc)
}

func TestApplyRejectsDeniedPathBeforeRunning(t *testing.T) {
	doc := sampleDoc()
	_, err := Apply(doc, decodeOps(t, `[
		{"op":"replace","path":"/title","value":"Changed"},
		{"op":"copy","from":"/secrets/key","path":"/title"}
	]`))
	var fe *ForbiddenError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "/secrets/key", fe.Path)
	assert.Equal(t, "Leads", doc["title"])
}

func TestDecodeErrors(t *testing.T) {
	bad := []Op{
		{Op: "add", Path: "/title"},
		{Op: "replace", Path: ""},
		{Op: "move", Path: "/a"},
		{Op: "frobnicate", Path: "/a"},
	}
	for _, op := range bad {
		_, err := Decode([]Op{op})
		assert.Error(t, err, "%+v", op)
	}
}

func TestRequestValidation(t *testing.T) {
	req := Request{DashboardID: "", Patch: []Op{{Op: "upsert", Path: "title"}, {Op: "move", Path: "/a"}}}
	err := req.Validate()
	require.Error(t, err)
	fields := FieldErrors(err)
	assert.Contains(t, fields, "DashboardID: required")
	assert.Contains(t, fields, "Patch[0].Op: oneof=add remove replace move copy test")
	assert.Contains(t, fields, "Patch[0].Path: startswith=/")
	assert.Contains(t, fields, "Patch[1].From: required_if=Op move")
}
