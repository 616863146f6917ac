// Package store persists dashboards and their append-only spec history in
// SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/KaramelBytes/dashloom-cli/internal/dashspec"
	"github.com/KaramelBytes/dashloom-cli/internal/logging"
)

var (
	// ErrNotFound is returned when a dashboard or version does not exist.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when an append does not follow the
	// current highest version.
	ErrVersionConflict = errors.New("version conflict")
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store is a SQLite-backed dashboard store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	path   string
}

// Dashboard is a stored dashboard header.
type Dashboard struct {
	ID      string                   `json:"id"`
	Title   string                   `json:"title"`
	Dataset string                   `json:"dataset,omitempty"`
	Columns []dashspec.DatasetColumn `json:"columns"`
	// Binding holds data-source and tenant identifiers. It never enters
	// the spec document.
	Binding       map[string]string `json:"-"`
	CreatedAt     time.Time         `json:"created_at"`
	LatestVersion int               `json:"latest_version"`
}

// Version is one immutable spec snapshot.
type Version struct {
	DashboardID string         `json:"dashboard_id"`
	Version     int            `json:"version"`
	Spec        *dashspec.Spec `json:"spec"`
	Author      string         `json:"author,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Entry summarizes a version without its snapshot.
type Entry struct {
	Version   int       `json:"version"`
	Author    string    `json:"author,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewDashboard is the input to CreateDashboard.
type NewDashboard struct {
	Title   string
	Dataset string
	Columns []dashspec.DatasetColumn
	Binding map[string]string
	Spec    *dashspec.Spec
	Author  string
	Notes   string
}

// Open opens or creates the database at path and applies migrations. Use
// MemoryPath for an ephemeral store.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	logger = logging.OrDiscard(logger)
	memory := path == MemoryPath
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// Each connection to :memory: is a separate database.
	if memory {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	if !memory {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Debug("store opened", "path", path)
	return &Store{db: db, logger: logger, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// withTx runs fn in a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed", "error", err, "rollback_error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// CreateDashboard stores a dashboard and its version 1 snapshot.
func (s *Store) CreateDashboard(ctx context.Context, in NewDashboard) (*Dashboard, error) {
	if in.Spec == nil {
		return nil, fmt.Errorf("create dashboard: spec is required")
	}
	cols, err := json.Marshal(nonNilColumns(in.Columns))
	if err != nil {
		return nil, fmt.Errorf("encode columns: %w", err)
	}
	binding := in.Binding
	if binding == nil {
		binding = map[string]string{}
	}
	bind, err := json.Marshal(binding)
	if err != nil {
		return nil, fmt.Errorf("encode binding: %w", err)
	}
	spec := in.Spec.Clone()
	spec.Version = 1
	body, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("encode spec: %w", err)
	}

	now := time.Now().UTC()
	d := &Dashboard{
		ID:            uuid.NewString(),
		Title:         in.Title,
		Dataset:       in.Dataset,
		Columns:       nonNilColumns(in.Columns),
		Binding:       binding,
		CreatedAt:     now,
		LatestVersion: 1,
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dashboards (id, title, dataset, columns_json, binding_json, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			d.ID, d.Title, d.Dataset, string(cols), string(bind), formatTime(now),
		); err != nil {
			return fmt.Errorf("insert dashboard: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO spec_versions (dashboard_id, version, spec_json, author, notes, created_at) VALUES (?, 1, ?, ?, ?, ?)`,
			d.ID, string(body), in.Author, in.Notes, formatTime(now),
		); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("dashboard created", "dashboard_id", d.ID, "title", d.Title)
	return d, nil
}

// GetDashboard loads a dashboard header with its latest version number.
func (s *Store) GetDashboard(ctx context.Context, id string) (*Dashboard, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT d.id, d.title, d.dataset, d.columns_json, d.binding_json, d.created_at,
		       COALESCE((SELECT MAX(v.version) FROM spec_versions v WHERE v.dashboard_id = d.id), 0)
		FROM dashboards d WHERE d.id = ?`, id)
	d, err := scanDashboard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dashboard %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get dashboard: %w", err)
	}
	return d, nil
}

// ListDashboards returns every dashboard, newest first.
func (s *Store) ListDashboards(ctx context.Context) ([]Dashboard, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.title, d.dataset, d.columns_json, d.binding_json, d.created_at,
		       COALESCE((SELECT MAX(v.version) FROM spec_versions v WHERE v.dashboard_id = d.id), 0)
		FROM dashboards d ORDER BY d.created_at DESC, d.id`)
	if err != nil {
		return nil, fmt.Errorf("list dashboards: %w", err)
	}
	defer rows.Close()

	var out []Dashboard
	for rows.Next() {
		d, err := scanDashboard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dashboard: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// Latest returns the highest version of a dashboard.
func (s *Store) Latest(ctx context.Context, id string) (*Version, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT dashboard_id, version, spec_json, author, notes, created_at
		FROM spec_versions WHERE dashboard_id = ? ORDER BY version DESC LIMIT 1`, id)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dashboard %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest version: %w", err)
	}
	return v, nil
}

// GetVersion returns one version of a dashboard.
func (s *Store) GetVersion(ctx context.Context, id string, version int) (*Version, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT dashboard_id, version, spec_json, author, notes, created_at
		FROM spec_versions WHERE dashboard_id = ? AND version = ?`, id, version)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dashboard %s version %d: %w", id, version, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	return v, nil
}

// History lists versions of a dashboard in ascending order.
func (s *Store) History(ctx context.Context, id string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, author, notes, created_at
		FROM spec_versions WHERE dashboard_id = ? ORDER BY version`, id)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var created string
		if err := rows.Scan(&e.Version, &e.Author, &e.Notes, &created); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("dashboard %s: %w", id, ErrNotFound)
	}
	return out, nil
}

// AppendVersion stores spec as version. It fails with ErrVersionConflict
// unless version is exactly one above the current highest version.
func (s *Store) AppendVersion(ctx context.Context, id string, version int, spec *dashspec.Spec, author, notes string) (*Version, error) {
	if spec == nil {
		return nil, fmt.Errorf("append version: spec is required")
	}
	snap := spec.Clone()
	snap.Version = version
	body, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode spec: %w", err)
	}
	now := time.Now().UTC()
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var current sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			`SELECT MAX(version) FROM spec_versions WHERE dashboard_id = ?`, id,
		).Scan(&current); err != nil {
			return fmt.Errorf("read current version: %w", err)
		}
		if !current.Valid {
			return fmt.Errorf("dashboard %s: %w", id, ErrNotFound)
		}
		if int(current.Int64) != version-1 {
			return fmt.Errorf("dashboard %s is at version %d, cannot append %d: %w", id, current.Int64, version, ErrVersionConflict)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO spec_versions (dashboard_id, version, spec_json, author, notes, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			id, version, string(body), author, notes, formatTime(now),
		); err != nil {
			if isConstraint(err) {
				return fmt.Errorf("dashboard %s version %d: %w", id, version, ErrVersionConflict)
			}
			return fmt.Errorf("insert version: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Version{DashboardID: id, Version: version, Spec: snap, Author: author, Notes: notes, CreatedAt: now}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDashboard(sc scanner) (*Dashboard, error) {
	var d Dashboard
	var cols, bind, created string
	if err := sc.Scan(&d.ID, &d.Title, &d.Dataset, &cols, &bind, &created, &d.LatestVersion); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(cols), &d.Columns); err != nil {
		return nil, fmt.Errorf("decode columns: %w", err)
	}
	if err := json.Unmarshal([]byte(bind), &d.Binding); err != nil {
		return nil, fmt.Errorf("decode binding: %w", err)
	}
	d.CreatedAt = parseTime(created)
	return &d, nil
}

func scanVersion(sc scanner) (*Version, error) {
	var v Version
	var body, created string
	if err := sc.Scan(&v.DashboardID, &v.Version, &body, &v.Author, &v.Notes, &created); err != nil {
		return nil, err
	}
	var spec dashspec.Spec
	if err := json.Unmarshal([]byte(body), &spec); err != nil {
		return nil, fmt.Errorf("decode spec: %w", err)
	}
	v.Spec = &spec
	v.CreatedAt = parseTime(created)
	return &v, nil
}

func nonNilColumns(cols []dashspec.DatasetColumn) []dashspec.DatasetColumn {
	if cols == nil {
		return []dashspec.DatasetColumn{}
	}
	return cols
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isConstraint(err error) bool {
	return strings.Contains(err.Error(), "constraint failed")
}
