package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/questflow/api"
	"github.com/BaSui01/questflow/engine"
	"github.com/BaSui01/questflow/persistence"
	"github.com/BaSui01/questflow/types"
)

// SessionLauncher creates and starts one session; the binary wires it
// to its provider and persistence stack.
type SessionLauncher func(r *api.SessionRequest) error

// Handlers is the HTTP surface over running sessions and their
// timelines.
type Handlers struct {
	sessions *engine.SessionManager
	forks    *persistence.ForkManager
	stream   http.Handler
	launch   SessionLauncher
	resume   ActionResumer
	logger   *zap.Logger
}

// ActionResumer delivers a human action to a stalled session and
// relaunches it.
type ActionResumer func(sessionID, action string) error

// NewHandlers assembles the API handlers. forks and stream may be nil;
// their routes then answer 404.
func NewHandlers(sessions *engine.SessionManager, forks *persistence.ForkManager, stream http.Handler, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		sessions: sessions,
		forks:    forks,
		stream:   stream,
		logger:   logger.With(zap.String("component", "http_api")),
	}
}

// WithLauncher enables session creation over the API.
func (h *Handlers) WithLauncher(fn SessionLauncher) *Handlers {
	h.launch = fn
	return h
}

// WithResumer enables human-action delivery over the API.
func (h *Handlers) WithResumer(fn ActionResumer) *Handlers {
	h.resume = fn
	return h
}

// Router builds the route table.
func (h *Handlers) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	if h.launch != nil {
		mux.HandleFunc("POST /api/sessions", h.handleSessionCreate)
	}
	mux.HandleFunc("GET /api/sessions/{id}", h.handleSessionStatus)
	mux.HandleFunc("POST /api/sessions/{id}/stop", h.handleSessionStop)
	if h.resume != nil {
		mux.HandleFunc("POST /api/sessions/{id}/action", h.handleSessionAction)
	}
	if h.forks != nil {
		mux.HandleFunc("POST /api/sessions/{id}/forks", h.handleForkCreate)
		mux.HandleFunc("GET /api/sessions/{id}/forks", h.handleForkList)
		mux.HandleFunc("GET /api/sessions/{id}/forks/compare", h.handleForkCompare)
		mux.HandleFunc("POST /api/sessions/{id}/forks/{fork}/promote", h.handleForkPromote)
		mux.HandleFunc("DELETE /api/sessions/{id}/forks/{fork}", h.handleForkDelete)
	}
	if h.stream != nil {
		mux.Handle("GET /ws", h.stream)
	}
	return mux
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req api.SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, types.NewError(types.ErrInvalidRequest, "malformed request body").
			WithHTTPStatus(http.StatusBadRequest))
		return
	}
	if err := h.launch(&req); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": req.SessionID, "status": "started"})
}

func (h *Handlers) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, ok := h.sessions.Status(id)
	if !ok {
		h.writeError(w, types.NewError(types.ErrInvalidRequest, "unknown session").
			WithHTTPStatus(http.StatusNotFound))
		return
	}

	resp := api.SessionStatusResponse{
		SessionID: status.SessionID,
		Running:   status.Running,
		Reason:    string(status.Reason),
		LogLines:  status.LogLines,
	}
	if status.Err != nil {
		detail := api.NewErrorDetail(status.Err)
		resp.Error = &detail
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Stop(r.PathValue("id")); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (h *Handlers) handleSessionAction(w http.ResponseWriter, r *http.Request) {
	var req api.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Action == "" {
		h.writeError(w, types.NewError(types.ErrInvalidRequest, "action is required").
			WithHTTPStatus(http.StatusBadRequest))
		return
	}
	if err := h.resume(r.PathValue("id"), req.Action); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "resumed"})
}

func (h *Handlers) handleForkCreate(w http.ResponseWriter, r *http.Request) {
	var req api.ForkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, types.NewError(types.ErrInvalidRequest, "malformed request body").
			WithHTTPStatus(http.StatusBadRequest))
		return
	}

	meta, err := h.forks.CreateFork(r.Context(), r.PathValue("id"), req.Name, req.FromTurn)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, forkInfo(meta))
}

func (h *Handlers) handleForkList(w http.ResponseWriter, r *http.Request) {
	metas, err := h.forks.ListForks(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := api.ForkListResponse{Forks: make([]api.ForkInfo, 0, len(metas))}
	for _, m := range metas {
		resp.Forks = append(resp.Forks, forkInfo(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) handleForkCompare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cmp, err := h.forks.Compare(r.Context(), r.PathValue("id"), q.Get("a"), q.Get("b"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ForkCompareResponse{
		TurnsA:         cmp.TurnsA,
		TurnsB:         cmp.TurnsB,
		DivergedAtLine: cmp.DivergedAtLine,
		CommonLogLines: cmp.CommonLogLines,
	})
}

func (h *Handlers) handleForkPromote(w http.ResponseWriter, r *http.Request) {
	meta, err := h.forks.Promote(r.Context(), r.PathValue("id"), r.PathValue("fork"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, forkInfo(meta))
}

func (h *Handlers) handleForkDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.forks.DeleteFork(r.Context(), r.PathValue("id"), r.PathValue("fork")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	detail := api.NewErrorDetail(err)
	status := detail.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	// Validation-class engine codes map to 4xx even without an explicit
	// status on the error.
	if status == http.StatusInternalServerError {
		switch types.ErrorCode(detail.Code) {
		case types.ErrInvalidRequest, types.ErrInvalidSessionID, types.ErrInvalidForkID, types.ErrInvalidTurn:
			status = http.StatusBadRequest
		case types.ErrForkNotFound:
			status = http.StatusNotFound
		}
		detail.HTTPStatus = status
	}

	h.logger.Warn("request failed",
		zap.String("code", detail.Code),
		zap.Int("status", status))
	writeJSON(w, status, api.ErrorResponse{Error: detail})
}

func forkInfo(m *persistence.ForkMetadata) api.ForkInfo {
	return api.ForkInfo{
		ID:        m.ID,
		Name:      m.Name,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		TurnCount: m.TurnCount,
		Archived:  m.Archived,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
