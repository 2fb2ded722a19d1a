package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tetraminz/consultation_x/internal/consult"
	"github.com/tetraminz/consultation_x/internal/evaluate"
	"github.com/tetraminz/consultation_x/internal/llm"
	"github.com/tetraminz/consultation_x/internal/mode"
	"github.com/tetraminz/consultation_x/internal/persona"
	"github.com/tetraminz/consultation_x/internal/rubric"
	"github.com/tetraminz/consultation_x/internal/scenario"
	"github.com/tetraminz/consultation_x/internal/session"
	"github.com/tetraminz/consultation_x/internal/store/memstore"
	"github.com/tetraminz/consultation_x/internal/transcript"
	"github.com/tetraminz/consultation_x/internal/voice"
)

type fakePersona struct {
	err error
}

func (p fakePersona) NextTurn(_ context.Context, _ scenario.Scenario, turns []transcript.Turn) (persona.Reply, error) {
	if p.err != nil {
		return persona.Reply{}, p.err
	}
	return persona.Reply{Payload: transcript.Payload{Text: fmt.Sprintf("reply to turn %d", len(turns))}}, nil
}

func (fakePersona) OpeningLine(_ context.Context, sc scenario.Scenario) persona.Reply {
	return persona.Reply{Payload: transcript.Payload{Text: persona.CannedOpening(sc)}, Canned: true}
}

type fakeScorer struct {
	err error
}

func (f fakeScorer) Score(_ context.Context, s session.Session) (rubric.ScoreReport, error) {
	if f.err != nil {
		return rubric.ScoreReport{}, f.err
	}
	categories := make([]rubric.CategoryScore, 0, len(rubric.Categories))
	for _, c := range rubric.Categories {
		categories = append(categories, rubric.CategoryScore{Category: c, Score: 74})
	}
	return rubric.ScoreReport{ID: "report-1", SessionID: s.ID, Aggregate: 74, Tier: rubric.TierB, Categories: categories}, nil
}

type fakeAudio struct{}

func (fakeAudio) Save(context.Context, string, voice.Audio) (string, error) { return "a.wav", nil }

func (fakeAudio) Load(_ context.Context, ref string) (voice.Audio, error) {
	if ref != "a.wav" {
		return voice.Audio{}, fmt.Errorf("%s: %w", ref, voice.ErrAudioNotFound)
	}
	return voice.Audio{Data: []byte("RIFFdata"), MIMEType: "audio/wav"}, nil
}

func newTestHandler(t *testing.T, p consult.PersonaSimulator, scorer consult.Scorer) http.Handler {
	t.Helper()
	if p == nil {
		p = fakePersona{}
	}
	if scorer == nil {
		scorer = fakeScorer{}
	}
	store := memstore.New()
	t.Cleanup(func() { _ = store.Close() })
	svc, err := consult.New(consult.Deps{Store: store, Persona: p, Scorer: scorer}, consult.Config{})
	if err != nil {
		t.Fatalf("consult.New error: %v", err)
	}
	return NewServer(nil, ":0", svc, fakeAudio{}).Handler
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return body.Error
}

func startSession(t *testing.T, h http.Handler, channel string) sessionView {
	t.Helper()
	rr := do(t, h, http.MethodPost, "/v1/sessions", fmt.Sprintf(`{"owner":"trainee","track":"sales","channel":%q,"seed":5}`, channel))
	if rr.Code != http.StatusCreated {
		t.Fatalf("start session: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var view sessionView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return view
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, nil, nil)
	rr := do(t, h, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/healthz", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestScenarioPreview(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, nil, nil)
	rr := do(t, h, http.MethodPost, "/v1/scenarios", `{"track":"project_management","channel":"email","difficulty":"hard","seed":1}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var sc scenario.Scenario
	if err := json.Unmarshal(rr.Body.Bytes(), &sc); err != nil {
		t.Fatalf("decode scenario: %v", err)
	}
	if sc.Track != scenario.TrackProjectManagement || sc.Channel != scenario.ChannelEmail {
		t.Fatalf("scenario does not echo inputs: %+v", sc)
	}
}

func TestInputErrorsAreTagged(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, nil, nil)
	tests := []struct {
		body string
		code int
		kind string
	}{
		{body: `{"track":"marketing","channel":"email"}`, code: http.StatusBadRequest, kind: "invalid_track"},
		{body: `{"track":"sales","channel":"carrier pigeon"}`, code: http.StatusBadRequest, kind: "invalid_channel"},
		{body: `{"track":"sales","channel":"email","extra":1}`, code: http.StatusBadRequest, kind: "invalid_json"},
		{body: `{"track":"sales","channel":"email"} {}`, code: http.StatusBadRequest, kind: "invalid_json"},
	}
	for _, tc := range tests {
		rr := do(t, h, http.MethodPost, "/v1/scenarios", tc.body)
		if rr.Code != tc.code {
			t.Fatalf("%s: expected %d, got %d", tc.body, tc.code, rr.Code)
		}
		if got := decodeError(t, rr).Kind; got != tc.kind {
			t.Fatalf("%s: kind got %q want %q", tc.body, got, tc.kind)
		}
	}

	rr := do(t, h, http.MethodPost, "/v1/sessions", `{"track":"sales","channel":"email"}`)
	if rr.Code != http.StatusBadRequest || decodeError(t, rr).Kind != "invalid_request" {
		t.Fatalf("missing owner: got %d %s", rr.Code, rr.Body.String())
	}
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, nil, nil)
	view := startSession(t, h, "text_chat")
	if view.Status != session.StatusNotStarted {
		t.Fatalf("status got %q want not_started", view.Status)
	}
	base := "/v1/sessions/" + view.ID

	rr := do(t, h, http.MethodPost, base+"/score", "")
	if rr.Code != http.StatusConflict || decodeError(t, rr).Kind != "session_not_complete" {
		t.Fatalf("early score: got %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, h, http.MethodPost, base+"/turns", `{"text":"I already have an agent"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("turn: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if got, want := len(view.Views), 2; got != want {
		t.Fatalf("views got %d want %d", got, want)
	}
	if got, want := view.Views[0].Kind, mode.ViewBubble; got != want {
		t.Fatalf("view kind got %q want %q", got, want)
	}

	if rr := do(t, h, http.MethodPost, base+"/end", ""); rr.Code != http.StatusOK {
		t.Fatalf("end: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr = do(t, h, http.MethodPost, base+"/turns", `{"text":"one more thing"}`)
	if rr.Code != http.StatusConflict || decodeError(t, rr).Kind != "session_closed" {
		t.Fatalf("turn after end: got %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, h, http.MethodPost, base+"/score", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("score: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var report rubric.ScoreReport
	if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(report.Categories) != 6 || report.Tier != rubric.TierB {
		t.Fatalf("unexpected report: %+v", report)
	}

	rr = do(t, h, http.MethodGet, "/v1/sessions?owner=trainee", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rr.Code)
	}
	var list struct {
		Sessions []sessionSummary `json:"sessions"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Sessions) != 1 || list.Sessions[0].Tier != "B" || list.Sessions[0].Aggregate == nil || *list.Sessions[0].Aggregate != 74 {
		t.Fatalf("unexpected list: %+v", list.Sessions)
	}

	if rr := do(t, h, http.MethodGet, "/v1/sessions", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("list without owner: expected 400, got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, base+"/events", ""); rr.Code != http.StatusOK {
		t.Fatalf("events: expected 200, got %d", rr.Code)
	}
}

func TestTurnOrderAndNotFound(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, nil, nil)
	rr := do(t, h, http.MethodGet, "/v1/sessions/missing", "")
	if rr.Code != http.StatusNotFound || decodeError(t, rr).Kind != "not_found" {
		t.Fatalf("missing: got %d %s", rr.Code, rr.Body.String())
	}

	view := startSession(t, h, "email")
	rr = do(t, h, http.MethodPost, "/v1/sessions/"+view.ID+"/turns", `{"subject":"Hi","text":"  "}`)
	if rr.Code != http.StatusBadRequest || decodeError(t, rr).Kind != "invalid_payload" {
		t.Fatalf("empty email: got %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, h, http.MethodPost, "/v1/sessions/"+view.ID+"/abandon", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("abandon: expected 200, got %d", rr.Code)
	}
	rr = do(t, h, http.MethodPost, "/v1/sessions/"+view.ID+"/abandon", "")
	if rr.Code != http.StatusConflict || decodeError(t, rr).Kind != "session_closed" {
		t.Fatalf("second abandon: got %d %s", rr.Code, rr.Body.String())
	}
}

func TestExternalFailuresAreTagged(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, fakePersona{err: &persona.PersonaGenerationError{Attempts: 2, Cause: llm.ErrTimeout}}, nil)
	view := startSession(t, h, "text_chat")
	rr := do(t, h, http.MethodPost, "/v1/sessions/"+view.ID+"/turns", `{"text":"Hello?"}`)
	if rr.Code != http.StatusBadGateway || decodeError(t, rr).Kind != "persona_generation" {
		t.Fatalf("persona failure: got %d %s", rr.Code, rr.Body.String())
	}

	phone := startSession(t, h, "phone")
	rr = do(t, h, http.MethodPost, "/v1/sessions/"+phone.ID+"/turns", `{"audio":"UklGRg==","audio_mime":"audio/wav"}`)
	if rr.Code != http.StatusUnprocessableEntity || decodeError(t, rr).Kind != "voice_unavailable" {
		t.Fatalf("voice failure: got %d %s", rr.Code, rr.Body.String())
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		code int
		kind string
	}{
		{err: &session.TurnOrderError{Speaker: transcript.SpeakerUser, Expected: transcript.SpeakerPersona}, code: http.StatusConflict, kind: "turn_order"},
		{err: fmt.Errorf("wrap: %w", consult.ErrSuperseded), code: http.StatusConflict, kind: "superseded"},
		{err: session.ErrConflict, code: http.StatusConflict, kind: "conflict"},
		{err: session.ErrNotStarted, code: http.StatusConflict, kind: "not_started"},
		{err: &evaluate.ScoreParseError{Reason: "bad json"}, code: http.StatusBadGateway, kind: "score_parse"},
		{err: &evaluate.ScoreConsistencyError{ClaimedTier: rubric.TierA, ComputedTier: rubric.TierC}, code: http.StatusBadGateway, kind: "score_consistency"},
		{err: context.DeadlineExceeded, code: http.StatusGatewayTimeout, kind: "timeout"},
		{err: errors.New("boom"), code: http.StatusInternalServerError, kind: "internal"},
	}
	for _, tc := range tests {
		code, kind, message := classify(tc.err)
		if code != tc.code || kind != tc.kind {
			t.Fatalf("classify(%v) got %d/%s want %d/%s", tc.err, code, kind, tc.code, tc.kind)
		}
		if kind == "score_consistency" && !strings.HasPrefix(message, "grade may be unreliable") {
			t.Fatalf("consistency message got %q", message)
		}
		if kind == "internal" && message != "internal error" {
			t.Fatalf("internal errors must not leak details, got %q", message)
		}
	}
}

func TestAudioRoute(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, nil, nil)
	rr := do(t, h, http.MethodGet, "/v1/audio/a.wav", "")
	if rr.Code != http.StatusOK || rr.Header().Get("Content-Type") != "audio/wav" {
		t.Fatalf("audio: got %d %q", rr.Code, rr.Header().Get("Content-Type"))
	}
	if rr := do(t, h, http.MethodGet, "/v1/audio/b.wav", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("missing audio: expected 404, got %d", rr.Code)
	}
}

func TestSessionWebSocketStreamsSnapshots(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, nil, nil)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	view := startSession(t, h, "text_chat")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/sessions/" + view.ID + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer resp.Body.Close()
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first wsSnapshot
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first snapshot: %v", err)
	}
	if first.Type != "session" || first.Session.ID != view.ID || first.Session.Revision != 1 {
		t.Fatalf("unexpected first snapshot: %+v", first)
	}

	body, _ := json.Marshal(map[string]string{"text": "Hi, are you free Thursday?"})
	resp2, err := http.Post(srv.URL+"/v1/sessions/"+view.ID+"/turns", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post turn: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("post turn: expected 200, got %d", resp2.StatusCode)
	}

	var next wsSnapshot
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read update snapshot: %v", err)
	}
	if next.Session.Revision != 2 || len(next.Session.Turns) != 2 {
		t.Fatalf("unexpected update snapshot: revision=%d turns=%d", next.Session.Revision, len(next.Session.Turns))
	}
}

func TestSessionWebSocketUnknownSession(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, nil, nil)
	rr := do(t, h, http.MethodGet, "/v1/sessions/nope/ws", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
