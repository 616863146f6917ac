// Package service ties introspection, synthesis, persistence and patching
// together for the HTTP server and the CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/KaramelBytes/dashloom-cli/internal/analysis"
	"github.com/KaramelBytes/dashloom-cli/internal/apperr"
	"github.com/KaramelBytes/dashloom-cli/internal/dashspec"
	"github.com/KaramelBytes/dashloom-cli/internal/logging"
	"github.com/KaramelBytes/dashloom-cli/internal/patch"
	"github.com/KaramelBytes/dashloom-cli/internal/semantic"
	"github.com/KaramelBytes/dashloom-cli/internal/store"
	"github.com/KaramelBytes/dashloom-cli/internal/synth"
)

// Store is the persistence the service needs.
type Store interface {
	patch.Store
	CreateDashboard(ctx context.Context, in store.NewDashboard) (*store.Dashboard, error)
	ListDashboards(ctx context.Context) ([]store.Dashboard, error)
	History(ctx context.Context, id string) ([]store.Entry, error)
}

// Options configures sampling, classification and validation.
type Options struct {
	SampleRows int
	MaxFilters int
	Validator  dashspec.Options
}

// DefaultOptions returns the service defaults.
func DefaultOptions() Options {
	return Options{
		SampleRows: analysis.DefaultOptions().MaxRows,
		MaxFilters: semantic.DefaultMaxFilters,
		Validator:  dashspec.DefaultOptions(),
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// IntrospectInput is a dataset handed over by a data-access collaborator.
type IntrospectInput struct {
	Dataset string                `json:"dataset,omitempty" validate:"max=200"`
	Columns []semantic.ColumnMeta `json:"columns,omitempty" validate:"max=1000,dive"`
	Rows    []any                 `json:"rows"`
}

// CreateInput asks for a dashboard to be synthesized and stored.
type CreateInput struct {
	Name         string                `json:"name" validate:"required,max=200"`
	Columns      []semantic.ColumnMeta `json:"columns,omitempty" validate:"max=1000,dive"`
	Rows         []any                 `json:"rows"`
	UseGenerator bool                  `json:"use_generator,omitempty"`
	// Binding holds data-source and tenant settings kept outside the spec.
	Binding map[string]string `json:"binding,omitempty" validate:"max=32"`
	Author  string            `json:"author,omitempty" validate:"max=120"`
}

// Created is a stored dashboard with its synthesis outcome.
type Created struct {
	Dashboard *store.Dashboard `json:"dashboard"`
	Outcome   *synth.Outcome   `json:"outcome"`
	Model     *semantic.Model  `json:"model"`
}

// Service runs dashboard operations.
type Service struct {
	store     Store
	engine    *patch.Engine
	heuristic *synth.Pipeline
	generator *synth.Pipeline
	opts      Options
	logger    *slog.Logger
}

// New creates a Service. gen may be nil, in which case every synthesis uses
// the heuristic builder.
func New(st Store, gen synth.Strategy, opt Options, logger *slog.Logger) *Service {
	logger = logging.OrDiscard(logger)
	if opt.SampleRows <= 0 || opt.SampleRows > analysis.HardMaxRows {
		opt.SampleRows = DefaultOptions().SampleRows
	}
	if opt.MaxFilters <= 0 {
		opt.MaxFilters = semantic.DefaultMaxFilters
	}
	s := &Service{
		store:     st,
		engine:    patch.NewEngine(st, logger, opt.Validator),
		heuristic: synth.NewPipeline(nil, opt.Validator, logger),
		opts:      opt,
		logger:    logger,
	}
	if gen != nil {
		s.generator = synth.NewPipeline(gen, opt.Validator, logger)
	}
	return s
}

// Introspect classifies a bounded sample of in.Rows.
func (s *Service) Introspect(_ context.Context, in IntrospectInput) (*semantic.Model, error) {
	if err := validate.Struct(&in); err != nil {
		return nil, apperr.New(apperr.Validation, "invalid introspection request").WithDetails(patch.FieldErrors(err))
	}
	return s.introspect(in.Dataset, in.Columns, in.Rows)
}

// IntrospectSample classifies a sample loaded from a file. The sample's
// column order is kept.
func (s *Service) IntrospectSample(_ context.Context, sample *analysis.Sample) (*semantic.Model, error) {
	meta := make([]semantic.ColumnMeta, 0, len(sample.Columns))
	for _, c := range sample.Columns {
		meta = append(meta, semantic.ColumnMeta{Name: c})
	}
	rows := make([]any, 0, len(sample.Records))
	for _, r := range sample.Records {
		rows = append(rows, map[string]any(r))
	}
	m, err := s.introspect(sample.Name, meta, rows)
	if err != nil {
		return nil, err
	}
	if sample.Truncated {
		m.Warnings = append(m.Warnings, fmt.Sprintf("source truncated to %d sampled rows", len(rows)))
	}
	return m, nil
}

func (s *Service) introspect(dataset string, meta []semantic.ColumnMeta, rows []any) (*semantic.Model, error) {
	if len(rows) > s.opts.SampleRows {
		rows = rows[:s.opts.SampleRows]
	}
	opt := semantic.DefaultOptions()
	opt.Dataset = dataset
	opt.MaxFilters = s.opts.MaxFilters
	opt.Profile.MaxRows = s.opts.SampleRows
	m, err := semantic.Introspect(rows, meta, opt)
	if errors.Is(err, semantic.ErrNoColumns) {
		return nil, apperr.Wrap(apperr.NoColumns, "dataset has no columns", err)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "introspection failed", err)
	}
	synth.Observe(m)
	s.logger.Debug("dataset introspected", "dataset", dataset, "columns", len(m.Columns), "rows", m.SampleRows, "funnel", m.Funnel.Detected)
	return m, nil
}

// Synthesize produces a validated spec for m. useGenerator is ignored, with a
// warning, when no generator is configured.
func (s *Service) Synthesize(ctx context.Context, m *semantic.Model, useGenerator bool) (*synth.Outcome, error) {
	p := s.heuristic
	var notes []string
	if useGenerator {
		if s.generator != nil {
			p = s.generator
		} else {
			notes = append(notes, "generator not configured; heuristic builder used")
		}
	}
	out, err := p.Synthesize(ctx, m, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "synthesis failed", err)
	}
	out.Warnings = append(notes, out.Warnings...)
	return out, nil
}

// Create introspects in, synthesizes a spec and stores it as version 1.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Created, error) {
	if err := validate.Struct(&in); err != nil {
		return nil, apperr.New(apperr.Validation, "invalid dashboard request").WithDetails(patch.FieldErrors(err))
	}
	m, err := s.introspect(in.Name, in.Columns, in.Rows)
	if err != nil {
		return nil, err
	}
	return s.CreateFromModel(ctx, m, in.Name, in.UseGenerator, in.Binding, in.Author)
}

// CreateFromModel synthesizes a spec for m and stores it as version 1.
func (s *Service) CreateFromModel(ctx context.Context, m *semantic.Model, name string, useGenerator bool, binding map[string]string, author string) (*Created, error) {
	out, err := s.Synthesize(ctx, m, useGenerator)
	if err != nil {
		return nil, err
	}
	title := out.Spec.Title
	if title == "" {
		title = name
	}
	dash, err := s.store.CreateDashboard(ctx, store.NewDashboard{
		Title:   title,
		Dataset: name,
		Columns: dashspec.ColumnsFromModel(m),
		Binding: binding,
		Spec:    out.Spec,
		Author:  author,
		Notes:   "created by " + out.Source,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "store dashboard", err)
	}
	out.Spec.Version = 1
	return &Created{Dashboard: dash, Outcome: out, Model: m}, nil
}

// Dashboard returns a dashboard header and its live version.
func (s *Service) Dashboard(ctx context.Context, id string) (*store.Dashboard, *store.Version, error) {
	d, err := s.store.GetDashboard(ctx, id)
	if err != nil {
		return nil, nil, storeError(err, id)
	}
	v, err := s.store.Latest(ctx, id)
	if err != nil {
		return nil, nil, storeError(err, id)
	}
	return d, v, nil
}

// Version returns one stored snapshot.
func (s *Service) Version(ctx context.Context, id string, version int) (*store.Version, error) {
	v, err := s.store.GetVersion(ctx, id, version)
	if err != nil {
		return nil, storeError(err, fmt.Sprintf("%s@%d", id, version))
	}
	return v, nil
}

// History lists the versions of a dashboard in ascending order.
func (s *Service) History(ctx context.Context, id string) ([]store.Entry, error) {
	h, err := s.store.History(ctx, id)
	if err != nil {
		return nil, storeError(err, id)
	}
	return h, nil
}

// List returns every dashboard header.
func (s *Service) List(ctx context.Context) ([]store.Dashboard, error) {
	ds, err := s.store.ListDashboards(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list dashboards", err)
	}
	return ds, nil
}

// Patch applies req through the patch engine.
func (s *Service) Patch(ctx context.Context, req patch.Request) (*patch.Response, error) {
	return s.engine.Apply(ctx, req)
}

// Rollback makes an older snapshot live as a new version.
func (s *Service) Rollback(ctx context.Context, req patch.RollbackRequest) (*patch.Response, error) {
	return s.engine.Rollback(ctx, req)
}

// ValidateSpec repairs a candidate document against cols.
func (s *Service) ValidateSpec(doc any, cols []dashspec.DatasetColumn) dashspec.Result {
	return dashspec.ValidateDocument(doc, cols, s.opts.Validator)
}

func storeError(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.Wrap(apperr.NotFound, what+" not found", err)
	}
	return apperr.Wrap(apperr.Internal, "store failure", err)
}
