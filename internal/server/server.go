package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sokinpui/revise/internal/logging"
	"github.com/sokinpui/revise/internal/oracle"
	"github.com/sokinpui/revise/internal/planner"
	"github.com/sokinpui/revise/internal/security"
	"github.com/sokinpui/revise/internal/state"
	"github.com/sokinpui/revise/model"
	"github.com/sokinpui/revise/revise"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Service is the part of a revise session the HTTP host drives.
type Service interface {
	Propose(ctx context.Context, task string, offer security.PatchOffer) (*revise.Proposal, error)
	Apply(id string) (model.Summary, error)
	Discard(id string) error
	Undo() (model.Summary, state.UndoResult, error)
	Batches() [][]model.HistoryEntry
}

// Server exposes a Service over HTTP. Requests that touch the session run
// one at a time.
type Server struct {
	svc       Service
	gatherer  prometheus.Gatherer
	autoPatch bool

	mu sync.Mutex
}

// New creates a Server. gatherer may be nil, in which case /metrics is not
// served. autoPatch answers patch offers for requests that do not say.
func New(svc Service, gatherer prometheus.Gatherer, autoPatch bool) *Server {
	return &Server{svc: svc, gatherer: gatherer, autoPatch: autoPatch}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogging)

	r.Get("/healthz", s.handleHealthz)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/proposals", s.createProposal)
		r.Post("/proposals/{proposal_id}/apply", s.applyProposal)
		r.Delete("/proposals/{proposal_id}", s.discardProposal)
		r.Post("/undo", s.undo)
		r.Get("/history", s.history)
	})
	return r
}

// --- Views ---

type proposalRequest struct {
	Task      string `json:"task"`
	AutoPatch *bool  `json:"auto_patch,omitempty"`
}

type changeView struct {
	File        string        `json:"file"`
	Action      model.Action  `json:"action"`
	Explanation string        `json:"explanation,omitempty"`
	Verdict     model.Verdict `json:"verdict"`
	Patched     bool          `json:"patched,omitempty"`
	Diff        string        `json:"diff"`
}

type skipView struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
	Error  string `json:"error,omitempty"`
}

type proposalView struct {
	ID        string       `json:"id"`
	Task      string       `json:"task"`
	CreatedAt time.Time    `json:"created_at"`
	Changes   []changeView `json:"changes"`
	Skipped   []skipView   `json:"skipped"`
}

type undoView struct {
	Summary model.Summary `json:"summary"`
	BatchID string        `json:"batch_id"`
	Drifted []string      `json:"drifted,omitempty"`
}

type batchView struct {
	BatchID   string               `json:"batch_id"`
	Timestamp time.Time            `json:"timestamp"`
	Entries   []model.HistoryEntry `json:"entries"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorBody struct {
	Error apiError `json:"error"`
}

func newProposalView(p *revise.Proposal) (proposalView, error) {
	v := proposalView{
		ID:        p.ID,
		Task:      p.Task,
		CreatedAt: p.CreatedAt,
		Changes:   make([]changeView, 0, len(p.Changes)),
		Skipped:   make([]skipView, 0, len(p.Skipped)),
	}
	for _, c := range p.Changes {
		d, err := revise.Preview(c)
		if err != nil {
			return proposalView{}, err
		}
		v.Changes = append(v.Changes, changeView{
			File:        c.File,
			Action:      c.Action,
			Explanation: c.Explanation,
			Verdict:     c.Verdict,
			Patched:     c.Patched,
			Diff:        d,
		})
	}
	for _, sk := range p.Skipped {
		sv := skipView{File: sk.File, Reason: sk.Reason}
		if sk.Err != nil {
			sv.Error = sk.Err.Error()
		}
		v.Skipped = append(v.Skipped, sv)
	}
	return v, nil
}

// --- Handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) createProposal(w http.ResponseWriter, r *http.Request) {
	var req proposalRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	req.Task = strings.TrimSpace(req.Task)
	if req.Task == "" {
		writeErr(w, http.StatusBadRequest, "invalid_request", "task is required")
		return
	}
	autoPatch := s.autoPatch
	if req.AutoPatch != nil {
		autoPatch = *req.AutoPatch
	}

	s.mu.Lock()
	p, err := s.svc.Propose(r.Context(), req.Task, func(string, model.Verdict) bool { return autoPatch })
	s.mu.Unlock()
	if err != nil {
		writeProposeErr(w, err)
		return
	}

	view, err := newProposalView(p)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "preview_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) applyProposal(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "proposal_id"))

	s.mu.Lock()
	summary, err := s.svc.Apply(id)
	s.mu.Unlock()
	if err != nil {
		writeSessionErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) discardProposal(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "proposal_id"))

	s.mu.Lock()
	err := s.svc.Discard(id)
	s.mu.Unlock()
	if err != nil {
		writeSessionErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) undo(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	summary, result, err := s.svc.Undo()
	s.mu.Unlock()
	if err != nil {
		writeSessionErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, undoView{Summary: summary, BatchID: result.BatchID, Drifted: result.Drifted})
}

func (s *Server) history(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	batches := s.svc.Batches()
	s.mu.Unlock()

	out := make([]batchView, 0, len(batches))
	for _, b := range batches {
		if len(b) == 0 {
			continue
		}
		out = append(out, batchView{BatchID: b[0].BatchID, Timestamp: b[0].Timestamp, Entries: b})
	}
	writeJSON(w, http.StatusOK, map[string][]batchView{"batches": out})
}

// --- Helpers ---

func writeProposeErr(w http.ResponseWriter, err error) {
	var parseErr *planner.PlanParseError
	var timeoutErr *oracle.TimeoutError
	switch {
	case errors.As(err, &parseErr):
		writeErr(w, http.StatusUnprocessableEntity, "plan_unparseable", err.Error())
	case errors.As(err, &timeoutErr):
		writeErr(w, http.StatusGatewayTimeout, "oracle_timeout", err.Error())
	case errors.Is(err, context.Canceled):
		writeErr(w, http.StatusServiceUnavailable, "canceled", err.Error())
	default:
		writeSessionErr(w, err)
	}
}

func writeSessionErr(w http.ResponseWriter, err error) {
	var detailed *revise.DetailedError
	switch {
	case errors.Is(err, revise.ErrUnknownProposal):
		writeErr(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, state.ErrNothingToUndo):
		writeErr(w, http.StatusConflict, "nothing_to_undo", err.Error())
	case errors.As(err, &detailed):
		logging.Error("internal error", "error", detailed.Err, "stack", string(detailed.Stack))
		writeErr(w, http.StatusInternalServerError, "internal", detailed.Error())
	default:
		writeErr(w, http.StatusBadGateway, "oracle_failed", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func writeErr(w http.ResponseWriter, code int, errCode, message string) {
	writeJSON(w, code, apiErrorBody{Error: apiError{Code: errCode, Message: message}})
}

func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}
