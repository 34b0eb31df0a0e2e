package dryrunner

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/aiforce/discovery-mesh/internal/httpx"
)

// Handler exposes the orchestrator's HTTP surface. Session control
// routes are gated by the internal API key; repo listing and status stay
// open for operator convenience.
type Handler struct {
	orch *Orchestrator
	rec  *Recorder
	log  zerolog.Logger
}

func NewHandler(orch *Orchestrator, rec *Recorder, log zerolog.Logger) *Handler {
	return &Handler{orch: orch, rec: rec, log: log}
}

// Register mounts every route onto the server. The internal discoveries
// callback stays ungated: it is only reachable on the service network
// and the analyzer posts to it without credentials.
func (h *Handler) Register(srv *httpx.Server, apiKey string) {
	srv.Handle("POST /api/dryrun/start", httpx.RequireAPIKey(apiKey, http.HandlerFunc(h.handleStart)))
	srv.Handle("POST /api/dryrun/cleanup", httpx.RequireAPIKey(apiKey, http.HandlerFunc(h.handleCleanup)))
	srv.Handle("GET /api/dryrun/{session_id}/containers", httpx.RequireAPIKey(apiKey, http.HandlerFunc(h.handleContainers)))
	srv.Handle("GET /api/dryrun/{session_id}/discoveries", httpx.RequireAPIKey(apiKey, http.HandlerFunc(h.handleDiscoveries)))
	srv.HandleFunc("POST /api/dryrun/internal/discoveries", h.handleDiscoveryCallback)
	srv.HandleFunc("GET /api/repos", h.handleRepos)
	srv.HandleFunc("GET /api/status", h.handleStatus)
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.orch.StartSession(r.Context(), req.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidSessionID):
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrSessionActive):
			httpx.WriteError(w, http.StatusConflict, err.Error())
		default:
			h.log.Error().Err(err).Msg("Failed to start dry-run session")
			httpx.WriteError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.orch.Cleanup(r.Context(), req.SessionID)
	if err != nil {
		if errors.Is(err, ErrInvalidSessionID) {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error().Err(err).Str("session_id", req.SessionID).Msg("Cleanup failed")
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleContainers(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	containers, err := h.orch.SessionContainers(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, ErrInvalidSessionID) {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"containers": containers,
		"count":      len(containers),
	})
}

func (h *Handler) handleDiscoveryCallback(w http.ResponseWriter, r *http.Request) {
	var d Discovery
	if err := httpx.DecodeJSON(r, &d); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := d.Validate(); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.rec.Record(r.Context(), d); err != nil {
		h.log.Error().Err(err).Str("session_id", d.SessionID).Msg("Failed to record discovery")
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "accepted"})
}

func (h *Handler) handleDiscoveries(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	discoveries, err := h.rec.SessionResults(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, ErrInvalidSessionID) {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"session_id":  sessionID,
		"discoveries": discoveries,
		"count":       len(discoveries),
	})
}

func (h *Handler) handleRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := h.orch.SampleRepos()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list sample repos")
		httpx.WriteError(w, http.StatusInternalServerError, "cannot access sample repos directory")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"repos": repos,
		"count": len(repos),
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.orch.CurrentStatus(r.Context()))
}
