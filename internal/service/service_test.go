package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/dashloom-cli/internal/ai"
	"github.com/KaramelBytes/dashloom-cli/internal/apperr"
	"github.com/KaramelBytes/dashloom-cli/internal/patch"
	"github.com/KaramelBytes/dashloom-cli/internal/semantic"
	"github.com/KaramelBytes/dashloom-cli/internal/store"
	"github.com/KaramelBytes/dashloom-cli/internal/synth"
	"github.com/KaramelBytes/dashloom-cli/internal/testutil"
)

func setupService(t *testing.T, gen synth.Strategy) *Service {
	t.Helper()
	logger := testutil.NewTestLogger(t)
	st, err := store.Open(context.Background(), store.MemoryPath, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, gen, DefaultOptions(), logger)
}

func leadRows(n int) []any {
	rows := make([]any, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, map[string]any{
			"lead_id":     fmt.Sprintf("L-%05d", i+1),
			"created_at":  fmt.Sprintf("2024-03-%02d", i%28+1),
			"entrada":     "1",
			"qualificado": map[bool]string{true: "1", false: ""}[i%2 == 0],
			"venda":       map[bool]string{true: "1", false: ""}[i%5 == 0],
			"valor":       float64(i * 10),
		})
	}
	return rows
}

func TestIntrospectBoundsSample(t *testing.T) {
	svc := setupService(t, nil)
	m, err := svc.Introspect(context.Background(), IntrospectInput{Dataset: "leads", Rows: leadRows(900)})
	require.NoError(t, err)
	assert.Equal(t, DefaultOptions().SampleRows, m.SampleRows)
	assert.Equal(t, "created_at", m.TimeColumn)
	assert.Equal(t, "lead_id", m.IDPrimary)
}

func TestIntrospectWithoutColumns(t *testing.T) {
	svc := setupService(t, nil)
	_, err := svc.Introspect(context.Background(), IntrospectInput{})
	assert.Equal(t, apperr.NoColumns, apperr.CodeOf(err))

	_, err = svc.Introspect(context.Background(), IntrospectInput{Columns: []semantic.ColumnMeta{{Type: "text"}}})
	assert.Equal(t, apperr.Validation, apperr.CodeOf(err))
}

func TestCreatePatchAndHistory(t *testing.T) {
	ctx := context.Background()
	svc := setupService(t, nil)

	created, err := svc.Create(ctx, CreateInput{
		Name:    "leads_marco",
		Rows:    leadRows(40),
		Binding: map[string]string{"datasource": "warehouse", "tenant_id": "t-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, created.Dashboard.LatestVersion)
	assert.Equal(t, synth.SourceHeuristic, created.Outcome.Source)

	d, v, err := svc.Dashboard(ctx, created.Dashboard.ID)
	require.NoError(t, err)
	assert.Equal(t, "warehouse", d.Binding["datasource"])
	assert.Equal(t, 1, v.Version)

	one := 1
	resp, err := svc.Patch(ctx, patch.Request{
		DashboardID:     d.ID,
		ExpectedVersion: &one,
		Patch:           []patch.Op{{Op: "replace", Path: "/title", Value: []byte(`"Funil de março"`)}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Version)

	h, err := svc.History(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, h, 2)

	v1, err := svc.Version(ctx, d.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, created.Outcome.Spec.Title, v1.Spec.Title)

	_, err = svc.Version(ctx, d.ID, 9)
	assert.Equal(t, apperr.NotFound, apperr.CodeOf(err))

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].LatestVersion)
}

type failingRuntime struct{}

func (failingRuntime) Generate(context.Context, ai.GenerateRequest) (*ai.GenerateResponse, error) {
	return nil, &ai.ServerError{APIError: &ai.APIError{StatusCode: 503, Message: "unavailable"}}
}

func TestCreateWithGeneratorFallsBack(t *testing.T) {
	ctx := context.Background()
	svc := setupService(t, &synth.Generator{Runtime: failingRuntime{}, Model: "openai/gpt-4o-mini"})
	created, err := svc.Create(ctx, CreateInput{Name: "leads", Rows: leadRows(20), UseGenerator: true})
	require.NoError(t, err)
	assert.Equal(t, synth.SourceHeuristic, created.Outcome.Source)
	assert.Equal(t, "server", created.Outcome.FallbackReason)
}

func TestGeneratorRequestedButNotConfigured(t *testing.T) {
	svc := setupService(t, nil)
	created, err := svc.Create(context.Background(), CreateInput{Name: "leads", Rows: leadRows(20), UseGenerator: true})
	require.NoError(t, err)
	require.NotEmpty(t, created.Outcome.Warnings)
	assert.Contains(t, created.Outcome.Warnings[0], "generator not configured")
}
