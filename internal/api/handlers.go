package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/lifecycle-engine/internal/automation"
	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/pkg/httputil"
	"github.com/ignite/lifecycle-engine/internal/service/enrollment"
	"github.com/ignite/lifecycle-engine/internal/service/tagging"
	"github.com/ignite/lifecycle-engine/internal/worker"
)

// Handlers holds the collaborators behind every route.
type Handlers struct {
	engine      *automation.Engine
	enrollments *enrollment.Service
	dispatch    worker.Ticker
	nudges      worker.Ticker
	health      *HealthChecker
}

// NewHandlers wires the handlers. Either ticker may be nil, in which case
// its manual endpoint answers 503.
func NewHandlers(engine *automation.Engine, enrollments *enrollment.Service, dispatch, nudges worker.Ticker, health *HealthChecker) *Handlers {
	if health == nil {
		health = NewHealthChecker(nil, nil, nil)
	}
	return &Handlers{
		engine:      engine,
		enrollments: enrollments,
		dispatch:    dispatch,
		nudges:      nudges,
		health:      health,
	}
}

type tagRequest struct {
	SubjectID string `json:"subject_id"`
	Label     string `json:"label"`
	Value     string `json:"value"`
}

// ApplyTag writes a tag and returns everything it caused.
//
//	POST /api/tags
func (h *Handlers) ApplyTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	res, err := h.engine.ApplyTag(r.Context(), req.SubjectID, req.Label, req.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, res)
}

//	DELETE /api/subjects/{subjectID}/tags/{label}
func (h *Handlers) RemoveTag(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.RemoveTag(r.Context(), chi.URLParam(r, "subjectID"), chi.URLParam(r, "label"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]int{"removed": n})
}

//	GET /api/subjects/{subjectID}/score
func (h *Handlers) SubjectScore(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")
	score, err := h.engine.SubjectScore(r.Context(), subjectID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"subject_id": subjectID, "score": score.Value, "tier": score.Tier})
}

//	GET /api/subjects/{subjectID}/enrollments
func (h *Handlers) SubjectEnrollments(w http.ResponseWriter, r *http.Request) {
	list, err := h.enrollments.ForSubject(r.Context(), chi.URLParam(r, "subjectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []domain.Enrollment{}
	}
	httputil.OK(w, list)
}

type eventRequest struct {
	SubjectID string `json:"subject_id"`
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
}

//	POST /api/events
func (h *Handlers) LifecycleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SubjectID) == "" || strings.TrimSpace(req.Name) == "" {
		httputil.BadRequest(w, "subject_id and name are required")
		return
	}
	enrolled, err := h.engine.FireLifecycleEvent(r.Context(), req.SubjectID, req.Name, req.Namespace)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"enrolled": nonNil(enrolled)})
}

type engagementRequest struct {
	SubjectID  string `json:"subject_id"`
	Kind       string `json:"kind"`
	SequenceID string `json:"sequence_id"`
}

//	POST /api/engagement
func (h *Handlers) Engagement(w http.ResponseWriter, r *http.Request) {
	var req engagementRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	kind := domain.EngagementKind(strings.ToLower(strings.TrimSpace(req.Kind)))
	if req.SubjectID == "" || !kind.Valid() {
		httputil.BadRequest(w, "subject_id and a kind of reply or click are required")
		return
	}
	exited, err := h.engine.RecordEngagement(r.Context(), req.SubjectID, kind, req.SequenceID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"exited": nonNil(exited)})
}

type enrollRequest struct {
	SubjectID  string `json:"subject_id"`
	SequenceID string `json:"sequence_id"`
}

//	POST /api/enrollments
func (h *Handlers) Enroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.SubjectID == "" || req.SequenceID == "" {
		httputil.BadRequest(w, "subject_id and sequence_id are required")
		return
	}
	en, err := h.enrollments.Enroll(r.Context(), req.SubjectID, req.SequenceID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, en)
}

//	GET /api/enrollments/{id}
func (h *Handlers) GetEnrollment(w http.ResponseWriter, r *http.Request) {
	en, err := h.enrollments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, en)
}

// Exit ends the live enrollment for the pair. The reason defaults to manual.
//
//	DELETE /api/enrollments/{subjectID}/{sequenceID}?reason=
func (h *Handlers) Exit(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = enrollment.ReasonManual
	}
	en, err := h.enrollments.Exit(r.Context(), chi.URLParam(r, "subjectID"), chi.URLParam(r, "sequenceID"), reason)
	if err != nil {
		writeError(w, err)
		return
	}
	if en == nil {
		httputil.NotFound(w, "subject was never enrolled in this sequence")
		return
	}
	httputil.OK(w, en)
}

//	POST /api/enrollments/{id}/pause
func (h *Handlers) Pause(w http.ResponseWriter, r *http.Request) {
	en, err := h.enrollments.Pause(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, en)
}

//	POST /api/enrollments/{id}/resume
func (h *Handlers) Resume(w http.ResponseWriter, r *http.Request) {
	en, err := h.enrollments.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, en)
}

// RunDispatch runs one dispatch tick inline, for an external scheduler.
//
//	POST /api/ticks/dispatch
func (h *Handlers) RunDispatch(w http.ResponseWriter, r *http.Request) {
	runTick(w, r, h.dispatch)
}

//	POST /api/ticks/nudges
func (h *Handlers) RunNudges(w http.ResponseWriter, r *http.Request) {
	runTick(w, r, h.nudges)
}

func runTick(w http.ResponseWriter, r *http.Request, t worker.Ticker) {
	if t == nil {
		httputil.ErrorCode(w, http.StatusServiceUnavailable, "disabled", "tick is not configured")
		return
	}
	sum, err := t.Tick(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, sum)
}

// writeError maps service sentinels onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tagging.ErrEmptySubject), errors.Is(err, tagging.ErrEmptyLabel):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, enrollment.ErrNotFound), errors.Is(err, enrollment.ErrSequenceNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, enrollment.ErrConflict), errors.Is(err, enrollment.ErrAlreadyLive),
		errors.Is(err, enrollment.ErrInvalidTransition), errors.Is(err, worker.ErrTickBusy):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, enrollment.ErrSequenceInactive), errors.Is(err, enrollment.ErrNotActive):
		httputil.Unprocessable(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}

func nonNil(list []domain.Enrollment) []domain.Enrollment {
	if list == nil {
		return []domain.Enrollment{}
	}
	return list
}
