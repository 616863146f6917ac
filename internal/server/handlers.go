package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/KaramelBytes/dashloom-cli/internal/apperr"
	"github.com/KaramelBytes/dashloom-cli/internal/dashspec"
	"github.com/KaramelBytes/dashloom-cli/internal/patch"
	"github.com/KaramelBytes/dashloom-cli/internal/semantic"
	"github.com/KaramelBytes/dashloom-cli/internal/service"
	"github.com/KaramelBytes/dashloom-cli/internal/store"
)

type introspectResponse struct {
	OK    bool            `json:"ok"`
	Model *semantic.Model `json:"model"`
}

type createResponse struct {
	OK             bool             `json:"ok"`
	Dashboard      *store.Dashboard `json:"dashboard"`
	Version        int              `json:"version"`
	Spec           *dashspec.Spec   `json:"spec"`
	Warnings       []string         `json:"warnings"`
	Source         string           `json:"source"`
	Regenerated    bool             `json:"regenerated"`
	FallbackReason string           `json:"fallback_reason,omitempty"`
	Model          *semantic.Model  `json:"model"`
}

type dashboardResponse struct {
	OK        bool             `json:"ok"`
	Dashboard *store.Dashboard `json:"dashboard"`
	Version   int              `json:"version"`
	Spec      *dashspec.Spec   `json:"spec"`
}

type listResponse struct {
	OK         bool              `json:"ok"`
	Dashboards []store.Dashboard `json:"dashboards"`
}

type historyResponse struct {
	OK       bool          `json:"ok"`
	Versions []store.Entry `json:"versions"`
}

type versionResponse struct {
	OK bool `json:"ok"`
	*store.Version
}

type patchResponse struct {
	OK bool `json:"ok"`
	*patch.Response
}

// patchBody is the patch payload; the dashboard id comes from the path.
type patchBody struct {
	Patch           []patch.Op `json:"patch"`
	ExpectedVersion *int       `json:"expected_version,omitempty"`
	ChangeReason    string     `json:"change_reason"`
	Author          string     `json:"author,omitempty"`
}

type rollbackBody struct {
	ToVersion       int    `json:"to_version"`
	ExpectedVersion *int   `json:"expected_version,omitempty"`
	Reason          string `json:"reason"`
	Author          string `json:"author,omitempty"`
}

func (s *Server) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	var in service.IntrospectInput
	if !s.decode(w, r, &in) {
		return
	}
	m, err := s.backend.Introspect(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, introspectResponse{OK: true, Model: m})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in service.CreateInput
	if !s.decode(w, r, &in) {
		return
	}
	c, err := s.backend.Create(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{
		OK:             true,
		Dashboard:      c.Dashboard,
		Version:        c.Dashboard.LatestVersion,
		Spec:           c.Outcome.Spec,
		Warnings:       c.Outcome.Warnings,
		Source:         c.Outcome.Source,
		Regenerated:    c.Outcome.Regenerated,
		FallbackReason: c.Outcome.FallbackReason,
		Model:          c.Model,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ds, err := s.backend.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if ds == nil {
		ds = []store.Dashboard{}
	}
	writeJSON(w, http.StatusOK, listResponse{OK: true, Dashboards: ds})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	d, v, err := s.backend.Dashboard(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboardResponse{OK: true, Dashboard: d, Version: v.Version, Spec: v.Spec})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	h, err := s.backend.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{OK: true, Versions: h})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || n < 1 {
		s.fail(w, r, apperr.Newf(apperr.BadRequest, "version must be a positive integer, got %q", chi.URLParam(r, "version")))
		return
	}
	v, err := s.backend.Version(r.Context(), chi.URLParam(r, "id"), n)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, versionResponse{OK: true, Version: v})
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	var body patchBody
	if !s.decode(w, r, &body) {
		return
	}
	resp, err := s.backend.Patch(r.Context(), patch.Request{
		DashboardID:     chi.URLParam(r, "id"),
		Patch:           body.Patch,
		ExpectedVersion: body.ExpectedVersion,
		ChangeReason:    body.ChangeReason,
		Author:          body.Author,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, patchResponse{OK: true, Response: resp})
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var body rollbackBody
	if !s.decode(w, r, &body) {
		return
	}
	resp, err := s.backend.Rollback(r.Context(), patch.RollbackRequest{
		DashboardID:     chi.URLParam(r, "id"),
		ToVersion:       body.ToVersion,
		ExpectedVersion: body.ExpectedVersion,
		Reason:          body.Reason,
		Author:          body.Author,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, patchResponse{OK: true, Response: resp})
}

// decode reads one JSON value from the bounded body. It writes the failure
// envelope itself and reports false on error.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			s.fail(w, r, apperr.Newf(apperr.BadRequest, "request body exceeds %d bytes", tooLarge.Limit))
		case errors.Is(err, io.EOF):
			s.fail(w, r, apperr.New(apperr.BadRequest, "request body is empty"))
		default:
			s.fail(w, r, apperr.Wrap(apperr.BadRequest, "malformed JSON body", err))
		}
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	status := apperr.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "code", code, "error", err, "request_id", RequestID(r.Context()))
	} else {
		s.logger.Debug("request rejected", "path", r.URL.Path, "code", code, "error", err, "request_id", RequestID(r.Context()))
	}
	writeJSON(w, status, apperr.Envelope(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
