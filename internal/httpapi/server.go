// Package httpapi serves the practice operations over HTTP and websockets.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tetraminz/consultation_x/internal/consult"
	"github.com/tetraminz/consultation_x/internal/mode"
	"github.com/tetraminz/consultation_x/internal/session"
	"github.com/tetraminz/consultation_x/internal/voice"
)

const maxRequestBytes int64 = 8 << 20

type server struct {
	logger  *zap.Logger
	service *consult.Service
	audio   voice.AudioStore
}

// NewServer wires the routes. audio may be nil when voice is disabled.
func NewServer(logger *zap.Logger, addr string, service *consult.Service, audio voice.AudioStore) *http.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &server{logger: logger, service: service, audio: audio}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("POST /v1/scenarios", h.handleScenario)
	mux.HandleFunc("POST /v1/sessions", h.handleStartSession)
	mux.HandleFunc("GET /v1/sessions", h.handleListSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", h.handleGetSession)
	mux.HandleFunc("POST /v1/sessions/{id}/turns", h.handleRespond)
	mux.HandleFunc("POST /v1/sessions/{id}/end", h.handleEnd)
	mux.HandleFunc("POST /v1/sessions/{id}/abandon", h.handleAbandon)
	mux.HandleFunc("POST /v1/sessions/{id}/score", h.handleScore)
	mux.HandleFunc("GET /v1/sessions/{id}/events", h.handleEvents)
	mux.HandleFunc("GET /v1/sessions/{id}/ws", h.handleSessionWS)
	mux.HandleFunc("GET /v1/audio/{ref}", h.handleAudio)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *server) handleScenario(w http.ResponseWriter, r *http.Request) {
	var req consult.ScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sc, err := s.service.GenerateScenario(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req consult.StartRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Owner) == "" {
		writeErrorBody(w, http.StatusBadRequest, "invalid_request", "owner is required")
		return
	}
	sess, err := s.service.StartSession(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSessionView(sess))
}

func (s *server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	if owner == "" {
		writeErrorBody(w, http.StatusBadRequest, "invalid_request", "owner query parameter is required")
		return
	}
	sessions, err := s.service.ListSessions(r.Context(), owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, newSessionSummary(sess))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(sess))
}

func (s *server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var in consult.UserInput
	if !decodeBody(w, r, &in) {
		return
	}
	sess, err := s.service.Respond(r.Context(), r.PathValue("id"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(sess))
}

func (s *server) handleEnd(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.EndSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(sess))
}

func (s *server) handleAbandon(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.AbandonSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(sess))
}

func (s *server) handleScore(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.ScoreSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.service.Events(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *server) handleAudio(w http.ResponseWriter, r *http.Request) {
	if s.audio == nil {
		writeErrorBody(w, http.StatusNotFound, "not_found", "audio is not enabled")
		return
	}
	audio, err := s.audio.Load(r.Context(), r.PathValue("ref"))
	if err != nil {
		if errors.Is(err, voice.ErrAudioNotFound) {
			writeErrorBody(w, http.StatusNotFound, "not_found", "audio not found")
			return
		}
		writeErrorBody(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	w.Header().Set("Content-Type", audio.MIMEType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio.Data)
}

// decodeBody strictly decodes one JSON object. It writes the error response
// and returns false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeErrorBody(w, http.StatusBadRequest, "invalid_json", fmt.Sprintf("invalid json: %v", err))
		return false
	}
	if dec.More() {
		writeErrorBody(w, http.StatusBadRequest, "invalid_json", "invalid json: trailing content")
		return false
	}
	return true
}

// sessionView is a session plus its channel rendering.
type sessionView struct {
	session.Session
	Views []mode.View `json:"views"`
}

func newSessionView(sess session.Session) sessionView {
	out := sessionView{Session: sess, Views: []mode.View{}}
	adapter, err := mode.For(sess.Scenario.Channel)
	if err != nil {
		return out
	}
	for _, turn := range sess.Turns {
		out.Views = append(out.Views, adapter.Render(turn, sess.Scenario))
	}
	return out
}

type sessionSummary struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Channel   string            `json:"channel"`
	Status    session.Status    `json:"status"`
	EndReason session.EndReason `json:"end_reason,omitempty"`
	UserTurns int               `json:"user_turns"`
	Tier      string            `json:"tier,omitempty"`
	Aggregate *int              `json:"aggregate,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func newSessionSummary(sess session.Session) sessionSummary {
	out := sessionSummary{
		ID:        sess.ID,
		Title:     sess.Scenario.Title,
		Channel:   string(sess.Scenario.Channel),
		Status:    sess.Status,
		EndReason: sess.EndReason,
		UserTurns: sess.UserTurns(),
		CreatedAt: sess.CreatedAt,
	}
	if report, ok := sess.LatestReport(); ok {
		out.Tier = string(report.Tier)
		agg := report.Aggregate
		out.Aggregate = &agg
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func isWebSocketOriginAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	parsedOrigin, err := url.Parse(origin)
	if err != nil || strings.TrimSpace(parsedOrigin.Host) == "" {
		return false
	}
	return strings.EqualFold(parsedOrigin.Host, r.Host)
}
