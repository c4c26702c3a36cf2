package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"educards-match/internal/app"
	"educards-match/internal/domain"
)

// API is the request/response surface for moderators: create, inspect and dispose
// matches. Live play goes through the websocket.
type API struct {
	registry *app.Registry
}

func NewAPI(registry *app.Registry) *API {
	return &API{registry: registry}
}

// Register mounts the API routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /matches", a.createMatch)
	mux.HandleFunc("GET /matches/{id}", a.getMatch)
	mux.HandleFunc("GET /matches/{id}/result", a.getResult)
	mux.HandleFunc("DELETE /matches/{id}", a.disposeMatch)
}

type createMatchRequest struct {
	Moderator domain.Identity   `json:"moderator"`
	QuizID    string            `json:"quizId"`
	Questions []domain.Question `json:"questions"`
}

func (a *API) createMatch(w http.ResponseWriter, r *http.Request) {
	var req createMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	snap, err := a.registry.CreateSession(r.Context(), app.CreateSessionRequest{
		Moderator: req.Moderator,
		QuizID:    req.QuizID,
		Questions: req.Questions,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (a *API) getMatch(w http.ResponseWriter, r *http.Request) {
	snap, err := a.registry.Snapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) getResult(w http.ResponseWriter, r *http.Request) {
	result, err := a.registry.Result(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) disposeMatch(w http.ResponseWriter, r *http.Request) {
	if err := a.registry.Dispose(r.Context(), r.PathValue("id"), r.URL.Query().Get("userId")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrQuizNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotModerator):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrMatchNotCompleted),
		errors.Is(err, domain.ErrSessionAlreadyCompleted),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	writeError(w, status, clientMessage(err))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorPayload{Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("write response failed")
	}
}
