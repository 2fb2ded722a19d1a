package httpapi

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/tetraminz/consultation_x/internal/consult"
	"github.com/tetraminz/consultation_x/internal/evaluate"
	"github.com/tetraminz/consultation_x/internal/llm"
	"github.com/tetraminz/consultation_x/internal/mode"
	"github.com/tetraminz/consultation_x/internal/persona"
	"github.com/tetraminz/consultation_x/internal/scenario"
	"github.com/tetraminz/consultation_x/internal/session"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// classify maps a service error to its HTTP status and tagged kind.
func classify(err error) (int, string, string) {
	var orderErr *session.TurnOrderError
	var parseErr *evaluate.ScoreParseError
	var consistencyErr *evaluate.ScoreConsistencyError

	switch {
	case errors.Is(err, scenario.ErrInvalidTrack):
		return http.StatusBadRequest, "invalid_track", err.Error()
	case errors.Is(err, scenario.ErrInvalidChannel):
		return http.StatusBadRequest, "invalid_channel", err.Error()
	case errors.Is(err, scenario.ErrInvalidDifficulty):
		return http.StatusBadRequest, "invalid_difficulty", err.Error()
	case errors.As(err, &orderErr):
		return http.StatusConflict, "turn_order", err.Error()
	case errors.Is(err, mode.ErrInvalidPayload), errors.Is(err, session.ErrEmptyTurn):
		return http.StatusBadRequest, "invalid_payload", err.Error()
	case errors.Is(err, mode.ErrVoiceUnavailable):
		return http.StatusUnprocessableEntity, "voice_unavailable", mode.ErrVoiceUnavailable.Error()
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, evaluate.ErrSessionNotComplete):
		return http.StatusConflict, "session_not_complete", err.Error()
	case errors.Is(err, session.ErrNotStarted):
		return http.StatusConflict, "not_started", err.Error()
	case errors.Is(err, session.ErrSessionClosed):
		return http.StatusConflict, "session_closed", err.Error()
	case errors.Is(err, consult.ErrSuperseded):
		return http.StatusConflict, "superseded", err.Error()
	case errors.Is(err, session.ErrConflict):
		return http.StatusConflict, "conflict", err.Error()
	case errors.As(err, &consistencyErr):
		return http.StatusBadGateway, "score_consistency", "grade may be unreliable: " + err.Error()
	case errors.As(err, &parseErr):
		return http.StatusBadGateway, "score_parse", err.Error()
	case errors.Is(err, persona.ErrPersonaGeneration):
		return http.StatusBadGateway, "persona_generation", err.Error()
	case errors.Is(err, llm.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout", err.Error()
	case errors.Is(err, llm.ErrMissingAPIKey):
		return http.StatusServiceUnavailable, "not_configured", err.Error()
	}
	return http.StatusInternalServerError, "internal", "internal error"
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind, message := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
	writeErrorBody(w, status, kind, message)
}

func writeErrorBody(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Message: message}})
}
