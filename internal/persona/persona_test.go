package persona

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tetraminz/consultation_x/internal/llm"
	"github.com/tetraminz/consultation_x/internal/mode"
	"github.com/tetraminz/consultation_x/internal/scenario"
	"github.com/tetraminz/consultation_x/internal/transcript"
)

type stubProvider struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	requests []llm.Request
}

func (p *stubProvider) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := len(p.requests)
	p.requests = append(p.requests, req)
	if idx < len(p.errs) && p.errs[idx] != nil {
		return llm.Response{}, p.errs[idx]
	}
	if idx < len(p.replies) {
		return llm.Response{Content: p.replies[idx], Model: "stub"}, nil
	}
	return llm.Response{}, errors.New("stub exhausted")
}

func (p *stubProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func testScenario(t *testing.T, channel scenario.Channel) scenario.Scenario {
	t.Helper()
	sc, err := scenario.Generate(scenario.TrackSales, channel, scenario.Options{
		Rand: scenario.NewRand(21),
		Now:  func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	return sc
}

func userTurn(text string) transcript.Turn {
	return transcript.Turn{Speaker: transcript.SpeakerUser, Payload: transcript.Payload{Text: text}}
}

func TestNextTurnBuildsPromptAndCleansReply(t *testing.T) {
	t.Parallel()

	sc := testScenario(t, scenario.ChannelTextChat)
	provider := &stubProvider{replies: []string{"[" + sc.Persona.DisplayName + "]: Yeah, and they're fine. Why switch?"}}
	sim := New(provider, DefaultConfig(), nil)

	reply, err := sim.NextTurn(context.Background(), sc, []transcript.Turn{userTurn("I already have an agent")})
	if err != nil {
		t.Fatalf("NextTurn error: %v", err)
	}
	if got, want := reply.Payload.Text, "Yeah, and they're fine. Why switch?"; got != want {
		t.Fatalf("text got %q want %q", got, want)
	}
	if reply.Closing || reply.Attempts != 1 {
		t.Fatalf("unexpected reply meta: %+v", reply)
	}

	req := provider.requests[0]
	if got, want := req.Model, "llama-3.3-70b-versatile"; got != want {
		t.Fatalf("model got %q want %q", got, want)
	}
	if got, want := req.Temperature, 0.8; got != want {
		t.Fatalf("temperature got %v want %v", got, want)
	}
	for _, fragment := range []string{sc.Persona.DisplayName, sc.Persona.HiddenGoal, sc.Brief, (mode.Text{}).Register(), mode.ClosingMarker} {
		if !strings.Contains(req.System, fragment) {
			t.Fatalf("system prompt missing %q", fragment)
		}
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser {
		t.Fatalf("messages got %+v", req.Messages)
	}
}

func TestNextTurnRetriesOnceThenSucceeds(t *testing.T) {
	t.Parallel()

	sc := testScenario(t, scenario.ChannelTextChat)
	provider := &stubProvider{
		errs:    []error{&llm.StatusError{Provider: "groq", StatusCode: 429, Message: "slow down"}},
		replies: []string{"", "Fine. What would you charge?"},
	}
	sim := New(provider, DefaultConfig(), nil)

	reply, err := sim.NextTurn(context.Background(), sc, []transcript.Turn{userTurn("hi")})
	if err != nil {
		t.Fatalf("NextTurn error: %v", err)
	}
	if got, want := reply.Attempts, 2; got != want {
		t.Fatalf("attempts got %d want %d", got, want)
	}
}

func TestNextTurnDoesNotRetryRejectedRequest(t *testing.T) {
	t.Parallel()

	sc := testScenario(t, scenario.ChannelTextChat)
	rejected := &llm.StatusError{Provider: "groq", StatusCode: 401, Message: "invalid api key"}
	provider := &stubProvider{
		errs:    []error{rejected},
		replies: []string{"", "Fine. What would you charge?"},
	}

	_, err := New(provider, DefaultConfig(), nil).NextTurn(context.Background(), sc, []transcript.Turn{userTurn("hi")})
	if !errors.Is(err, ErrPersonaGeneration) || !errors.Is(err, rejected) {
		t.Fatalf("expected wrapped rejection, got %v", err)
	}
	if got, want := provider.calls(), 1; got != want {
		t.Fatalf("calls got %d want %d", got, want)
	}
}

func TestNextTurnFailsAfterTwoMalformedReplies(t *testing.T) {
	t.Parallel()

	sc := testScenario(t, scenario.ChannelTextChat)
	provider := &stubProvider{replies: []string{"As an AI language model I cannot pretend.", "   "}}
	sim := New(provider, DefaultConfig(), nil)

	_, err := sim.NextTurn(context.Background(), sc, []transcript.Turn{userTurn("hi")})
	if !errors.Is(err, ErrPersonaGeneration) {
		t.Fatalf("expected ErrPersonaGeneration, got %v", err)
	}
	var genErr *PersonaGenerationError
	if !errors.As(err, &genErr) || genErr.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %+v", genErr)
	}
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("cause should be ErrMalformed, got %v", err)
	}
	if got, want := provider.calls(), 2; got != want {
		t.Fatalf("calls got %d want %d", got, want)
	}
}

type slowProvider struct{}

func (slowProvider) Complete(ctx context.Context, _ llm.Request) (llm.Response, error) {
	<-ctx.Done()
	return llm.Response{}, ctx.Err()
}

func TestNextTurnTimesOut(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Timeout = 10 * time.Millisecond
	sim := New(slowProvider{}, cfg, nil)

	start := time.Now()
	_, err := sim.NextTurn(context.Background(), testScenario(t, scenario.ChannelTextChat), []transcript.Turn{userTurn("hi")})
	if !errors.Is(err, ErrPersonaGeneration) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout persona error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout not enforced, took %s", elapsed)
	}
}

func TestNextTurnDetectsClosingAndEmailSubject(t *testing.T) {
	t.Parallel()

	sc := testScenario(t, scenario.ChannelEmail)
	provider := &stubProvider{replies: []string{"Subject: Re: Listing photos\n\nHi,\n\nThat works, book it.\n\nThanks <<END>>"}}
	sim := New(provider, DefaultConfig(), nil)

	reply, err := sim.NextTurn(context.Background(), sc, []transcript.Turn{
		{Speaker: transcript.SpeakerUser, Payload: transcript.Payload{Subject: "Listing photos", Text: "Can we shoot Friday?"}},
		{Speaker: transcript.SpeakerUser, Payload: transcript.Payload{Text: "Correction: Saturday."}},
	})
	if err != nil {
		t.Fatalf("NextTurn error: %v", err)
	}
	if !reply.Closing {
		t.Fatalf("closing marker not detected")
	}
	if got, want := reply.Payload.Subject, "Re: Listing photos"; got != want {
		t.Fatalf("subject got %q want %q", got, want)
	}
	if strings.Contains(reply.Payload.Text, "<<END>>") || strings.HasPrefix(reply.Payload.Text, "Subject") {
		t.Fatalf("text not cleaned: %q", reply.Payload.Text)
	}

	msgs := provider.requests[0].Messages
	if len(msgs) != 1 {
		t.Fatalf("consecutive user emails must merge, got %d messages", len(msgs))
	}
	if !strings.HasPrefix(msgs[0].Content, "Subject: Listing photos") {
		t.Fatalf("subject missing from history: %q", msgs[0].Content)
	}
}

func TestOpeningLine(t *testing.T) {
	t.Parallel()

	sc := testScenario(t, scenario.ChannelPhoneCall)
	provider := &stubProvider{}
	sim := New(provider, DefaultConfig(), nil)

	reply := sim.OpeningLine(context.Background(), sc)
	if reply.Payload.Text != sc.OpeningLine || provider.calls() != 0 {
		t.Fatalf("scripted opening must be used without a model call: %+v", reply)
	}

	sc.OpeningLine = ""
	generated := &stubProvider{replies: []string{"Hey, got a sec? It's about the shoot."}}
	reply = New(generated, DefaultConfig(), nil).OpeningLine(context.Background(), sc)
	if got, want := reply.Payload.Text, "Hey, got a sec? It's about the shoot."; got != want {
		t.Fatalf("generated opening got %q want %q", got, want)
	}
	if got, want := generated.requests[0].Temperature, 0.9; got != want {
		t.Fatalf("opening temperature got %v want %v", got, want)
	}

	failing := &stubProvider{errs: []error{errors.New("down"), errors.New("down")}}
	reply = New(failing, DefaultConfig(), nil).OpeningLine(context.Background(), sc)
	if got, want := reply.Payload.Text, CannedOpening(sc); got != want {
		t.Fatalf("canned opening got %q want %q", got, want)
	}
	if !strings.HasPrefix(reply.Payload.Text, "Hi, this is "+sc.Persona.DisplayName+" from ") {
		t.Fatalf("canned opening format: %q", reply.Payload.Text)
	}
}

func TestHistoryPrependsCueForPhoneCalls(t *testing.T) {
	t.Parallel()

	msgs := History([]transcript.Turn{
		{Speaker: transcript.SpeakerPersona, Payload: transcript.Payload{Text: "Hi, it's Dana."}},
		userTurn("Hi Dana, how can I help?"),
	})
	if len(msgs) != 3 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if msgs[0].Role != llm.RoleUser || msgs[0].Content != openingCue || msgs[1].Role != llm.RoleAssistant {
		t.Fatalf("unexpected history: %+v", msgs)
	}
}

func TestCleanStripsLabels(t *testing.T) {
	t.Parallel()

	sc := testScenario(t, scenario.ChannelTextChat)
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "Client: Sure thing.", want: "Sure thing."},
		{raw: sc.Persona.FirstName + ": ok", want: "ok"},
		{raw: "\"Quoted reply\"", want: "Quoted reply"},
		{raw: "Note: keep this", want: "Note: keep this"},
	}
	for _, tt := range tests {
		payload, _, err := Clean(tt.raw, sc, mode.Text{})
		if err != nil {
			t.Fatalf("Clean(%q) error: %v", tt.raw, err)
		}
		if payload.Text != tt.want {
			t.Fatalf("Clean(%q) got %q want %q", tt.raw, payload.Text, tt.want)
		}
	}

	payload, closing, err := Clean("<<END>>", sc, mode.Phone{})
	if err != nil || !closing {
		t.Fatalf("bare closing marker: err=%v closing=%v", err, closing)
	}
	if payload.Text != "[The client hung up.]" {
		t.Fatalf("bare closing text got %q", payload.Text)
	}
}
