package patch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/KaramelBytes/dashloom-cli/internal/apperr"
	"github.com/KaramelBytes/dashloom-cli/internal/dashspec"
	"github.com/KaramelBytes/dashloom-cli/internal/logging"
	"github.com/KaramelBytes/dashloom-cli/internal/metrics"
	"github.com/KaramelBytes/dashloom-cli/internal/store"
)

// Store is the versioned persistence the engine commits to.
type Store interface {
	GetDashboard(ctx context.Context, id string) (*store.Dashboard, error)
	Latest(ctx context.Context, id string) (*store.Version, error)
	GetVersion(ctx context.Context, id string, version int) (*store.Version, error)
	AppendVersion(ctx context.Context, id string, version int, spec *dashspec.Spec, author, notes string) (*store.Version, error)
}

// Engine applies patches under optimistic version control.
type Engine struct {
	store   Store
	logger  *slog.Logger
	options dashspec.Options
}

// NewEngine creates an Engine. A nil logger discards output.
func NewEngine(s Store, logger *slog.Logger, opt dashspec.Options) *Engine {
	return &Engine{store: s, logger: logging.OrDiscard(logger), options: opt}
}

// Apply validates req, transforms the live spec and appends it as the next
// version. Failures carry an apperr code and leave the store untouched.
func (e *Engine) Apply(ctx context.Context, req Request) (*Response, error) {
	state := Idle
	if err := req.Validate(); err != nil {
		return nil, e.reject(req.DashboardID, state, metrics.PatchInvalid,
			apperr.New(apperr.Validation, "invalid patch request").WithDetails(FieldErrors(err)))
	}
	ops, err := Decode(req.Patch)
	if err != nil {
		return nil, e.reject(req.DashboardID, state, metrics.PatchInvalid,
			apperr.Wrap(apperr.Validation, "invalid patch operation", err))
	}
	if err := CheckPaths(ops); err != nil {
		var fe *ForbiddenError
		errors.As(err, &fe)
		return nil, e.reject(req.DashboardID, state, metrics.PatchForbidden,
			apperr.New(apperr.PathForbidden, err.Error()).WithDetails(map[string]any{"path": fe.Path, "op": fe.Op}))
	}
	state = PathValidated

	dash, current, err := e.load(ctx, req.DashboardID)
	if err != nil {
		return nil, e.reject(req.DashboardID, state, outcomeFor(err), err)
	}
	if err := checkExpected(req.ExpectedVersion, current.Version); err != nil {
		return nil, e.reject(req.DashboardID, state, metrics.PatchConflict, err)
	}

	doc, err := current.Spec.Document()
	if err != nil {
		return nil, e.reject(req.DashboardID, state, metrics.PatchInvalid, apperr.Wrap(apperr.Internal, "encode live spec", err))
	}
	patched, err := Apply(doc, ops)
	if err != nil {
		return nil, e.reject(req.DashboardID, state, metrics.PatchInvalid,
			apperr.Wrap(apperr.Validation, "patch could not be applied", err))
	}
	state = Transformed

	res := dashspec.ValidateDocument(patched, dash.Columns, e.options)
	if len(res.Errors) > 0 || res.Regenerated {
		return nil, e.reject(req.DashboardID, state, metrics.PatchInvalid,
			apperr.New(apperr.Validation, "patched spec failed validation").WithDetails(map[string]any{
				"errors":   res.Errors,
				"warnings": res.Warnings,
			}))
	}
	state = Validated

	next, err := e.store.AppendVersion(ctx, req.DashboardID, current.Version+1, res.Spec, req.Author, req.ChangeReason)
	if err != nil {
		err = translate(err, req.DashboardID)
		return nil, e.reject(req.DashboardID, state, outcomeFor(err), err)
	}
	state = Committed
	metrics.PatchOutcome(metrics.PatchCommitted)
	e.logger.Info("patch committed", "dashboard_id", req.DashboardID, "version", next.Version, "ops", len(ops), "state", state.String())

	return &Response{
		Version:         next.Version,
		PreviousVersion: current.Version,
		DiffSummary:     diffSummary(ops, current.Spec, next.Spec),
		NewSpec:         next.Spec,
		Warnings:        res.Warnings,
	}, nil
}

// Rollback appends a new version whose snapshot equals an older one. History
// is never rewritten.
func (e *Engine) Rollback(ctx context.Context, req RollbackRequest) (*Response, error) {
	state := Idle
	if err := req.Validate(); err != nil {
		return nil, e.reject(req.DashboardID, state, metrics.PatchInvalid,
			apperr.New(apperr.Validation, "invalid rollback request").WithDetails(FieldErrors(err)))
	}
	state = PathValidated
	dash, current, err := e.load(ctx, req.DashboardID)
	if err != nil {
		return nil, e.reject(req.DashboardID, state, outcomeFor(err), err)
	}
	if err := checkExpected(req.ExpectedVersion, current.Version); err != nil {
		return nil, e.reject(req.DashboardID, state, metrics.PatchConflict, err)
	}
	target, err := e.store.GetVersion(ctx, req.DashboardID, req.ToVersion)
	if err != nil {
		err = translate(err, req.DashboardID)
		return nil, e.reject(req.DashboardID, state, outcomeFor(err), err)
	}
	state = Transformed

	res := dashspec.Validate(target.Spec, dash.Columns, e.options)
	if len(res.Errors) > 0 || res.Regenerated {
		return nil, e.reject(req.DashboardID, state, metrics.PatchInvalid,
			apperr.Newf(apperr.Validation, "version %d no longer validates against the dataset", req.ToVersion).
				WithDetails(map[string]any{"errors": res.Errors, "warnings": res.Warnings}))
	}
	state = Validated

	notes := fmt.Sprintf("rollback to version %d", req.ToVersion)
	if req.Reason != "" {
		notes += ": " + req.Reason
	}
	next, err := e.store.AppendVersion(ctx, req.DashboardID, current.Version+1, res.Spec, req.Author, notes)
	if err != nil {
		err = translate(err, req.DashboardID)
		return nil, e.reject(req.DashboardID, state, outcomeFor(err), err)
	}
	metrics.PatchOutcome(metrics.PatchCommitted)
	e.logger.Info("rollback committed", "dashboard_id", req.DashboardID, "version", next.Version, "from_version", req.ToVersion)

	return &Response{
		Version:         next.Version,
		PreviousVersion: current.Version,
		DiffSummary:     append([]string{notes}, sectionDeltas(current.Spec, next.Spec)...),
		NewSpec:         next.Spec,
		Warnings:        res.Warnings,
	}, nil
}

func (e *Engine) load(ctx context.Context, id string) (*store.Dashboard, *store.Version, error) {
	dash, err := e.store.GetDashboard(ctx, id)
	if err != nil {
		return nil, nil, translate(err, id)
	}
	current, err := e.store.Latest(ctx, id)
	if err != nil {
		return nil, nil, translate(err, id)
	}
	return dash, current, nil
}

func (e *Engine) reject(id string, state State, outcome string, err error) error {
	metrics.PatchOutcome(outcome)
	e.logger.Warn("patch rejected", "dashboard_id", id, "state", state.String(), "code", apperr.CodeOf(err), "error", err)
	return err
}

func checkExpected(expected *int, current int) error {
	if expected == nil || *expected == current {
		return nil
	}
	return apperr.Newf(apperr.VersionConflict, "expected version %d but live version is %d", *expected, current).
		WithDetails(map[string]int{"expected_version": *expected, "current_version": current})
}

func translate(err error, id string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperr.Wrap(apperr.NotFound, fmt.Sprintf("dashboard %s not found", id), err)
	case errors.Is(err, store.ErrVersionConflict):
		return apperr.Wrap(apperr.VersionConflict, "a concurrent change committed first; refetch and retry", err)
	default:
		return apperr.Wrap(apperr.Internal, "store failure", err)
	}
}

func outcomeFor(err error) string {
	switch apperr.CodeOf(err) {
	case apperr.NotFound:
		return metrics.PatchNotFound
	case apperr.VersionConflict:
		return metrics.PatchConflict
	case apperr.PathForbidden:
		return metrics.PatchForbidden
	default:
		return metrics.PatchInvalid
	}
}

func diffSummary(ops []Operation, before, after *dashspec.Spec) []string {
	out := make([]string, 0, len(ops)+4)
	for _, op := range ops {
		switch o := op.(type) {
		case Move:
			out = append(out, fmt.Sprintf("move %s -> %s", o.From, o.Path))
		case Copy:
			out = append(out, fmt.Sprintf("copy %s -> %s", o.From, o.Path))
		default:
			out = append(out, fmt.Sprintf("%s %s", op.Kind(), op.Paths()[0]))
		}
	}
	return append(out, sectionDeltas(before, after)...)
}

func sectionDeltas(before, after *dashspec.Spec) []string {
	var out []string
	count := func(name string, a, b int) {
		if a != b {
			out = append(out, fmt.Sprintf("%s: %d -> %d", name, a, b))
		}
	}
	count("kpis", len(before.KPIs), len(after.KPIs))
	count("charts", len(before.Charts), len(after.Charts))
	count("filters", len(before.Filters), len(after.Filters))
	count("columns", len(before.Columns), len(after.Columns))
	count("funnel steps", funnelLen(before), funnelLen(after))
	if before.Title != after.Title {
		out = append(out, fmt.Sprintf("title: %q -> %q", before.Title, after.Title))
	}
	return out
}

func funnelLen(s *dashspec.Spec) int {
	if s.Funnel == nil {
		return 0
	}
	return len(s.Funnel.Steps)
}
