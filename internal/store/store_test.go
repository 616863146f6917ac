package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/dashloom-cli/internal/dashspec"
	"github.com/KaramelBytes/dashloom-cli/internal/testutil"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), MemoryPath, testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleSpec(title string) *dashspec.Spec {
	return &dashspec.Spec{
		Version: 1,
		Title:   title,
		Columns: []dashspec.ColumnRef{{Name: "dia"}},
		KPIs:    []dashspec.KPI{{Label: "Leads", Column: "leads", Agg: "sum"}},
		Charts:  []dashspec.Chart{},
		UI:      dashspec.UI{Tabs: []string{"overview", "details"}, DefaultTab: "overview"},
	}
}

func createDashboard(t *testing.T, s *Store) *Dashboard {
	t.Helper()
	d, err := s.CreateDashboard(context.Background(), NewDashboard{
		Title:   "Leads",
		Dataset: "leads.csv",
		Columns: []dashspec.DatasetColumn{{Name: "dia", Type: "date"}, {Name: "leads", IsNumeric: true}},
		Binding: map[string]string{"datasource": "warehouse", "tenant_id": "acme"},
		Spec:    sampleSpec("Leads"),
		Author:  "tester",
	})
	require.NoError(t, err)
	return d
}

func TestSchemaMigrated(t *testing.T) {
	s := setupTestStore(t)
	v, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestCreateAndLoad(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	d := createDashboard(t, s)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, 1, d.LatestVersion)

	got, err := s.GetDashboard(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "Leads", got.Title)
	assert.Equal(t, "acme", got.Binding["tenant_id"])
	assert.Len(t, got.Columns, 2)
	assert.Equal(t, 1, got.LatestVersion)

	v, err := s.Latest(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Version)
	assert.Equal(t, "Leads", v.Spec.Title)
	assert.Equal(t, "tester", v.Author)

	list, err := s.ListDashboards(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAppendVersionSequence(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	d := createDashboard(t, s)

	v2, err := s.AppendVersion(ctx, d.ID, 2, sampleSpec("Leads v2"), "tester", "rename")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Spec.Version)

	_, err = s.AppendVersion(ctx, d.ID, 2, sampleSpec("again"), "tester", "")
	assert.ErrorIs(t, err, ErrVersionConflict)
	_, err = s.AppendVersion(ctx, d.ID, 4, sampleSpec("gap"), "tester", "")
	assert.ErrorIs(t, err, ErrVersionConflict)

	hist, err := s.History(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, 1, hist[0].Version)
	assert.Equal(t, "rename", hist[1].Notes)

	old, err := s.GetVersion(ctx, d.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "Leads", old.Spec.Title, "history must stay immutable")

	latest, err := s.Latest(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "Leads v2", latest.Spec.Title)
}

func TestNotFound(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.GetDashboard(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Latest(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.History(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.AppendVersion(ctx, "missing", 2, sampleSpec("x"), "", "")
	assert.ErrorIs(t, err, ErrNotFound)

	d := createDashboard(t, s)
	_, err = s.GetVersion(ctx, d.ID, 9)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentAppendsNeverDuplicateVersions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dash.db")
	s, err := Open(context.Background(), path, nil)
	require.NoError(t, err)
	defer s.Close()
	d := createDashboard(t, s)

	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = s.AppendVersion(context.Background(), d.ID, 2, sampleSpec("race"), "w", "")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrVersionConflict):
		default:
			// busy errors are acceptable losers as long as history stays intact
			t.Logf("append lost with: %v", err)
		}
	}
	assert.LessOrEqual(t, wins, 1)
	hist, err := s.History(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Len(t, hist, 1+wins)
}
