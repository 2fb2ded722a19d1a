package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tetraminz/consultation_x/internal/rubric"
	"github.com/tetraminz/consultation_x/internal/scenario"
	"github.com/tetraminz/consultation_x/internal/transcript"
)

type strictPolicy struct {
	first transcript.Speaker
}

func (p strictPolicy) FirstSpeaker() transcript.Speaker          { return p.first }
func (p strictPolicy) AllowsConsecutive(transcript.Speaker) bool { return false }

type draftsPolicy struct{}

func (draftsPolicy) FirstSpeaker() transcript.Speaker { return transcript.SpeakerUser }
func (draftsPolicy) AllowsConsecutive(s transcript.Speaker) bool {
	return s == transcript.SpeakerUser
}

var (
	userFirst    = strictPolicy{first: transcript.SpeakerUser}
	personaFirst = strictPolicy{first: transcript.SpeakerPersona}
	t0           = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
)

func newTestSession(t *testing.T) Session {
	t.Helper()
	sc, err := scenario.Generate(scenario.TrackSales, scenario.ChannelTextChat, scenario.Options{Rand: scenario.NewRand(1)})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	return New(sc, "owner-1", t0)
}

func text(s string) transcript.Payload { return transcript.Payload{Text: s} }

func TestAppendTurnStartsSession(t *testing.T) {
	t.Parallel()

	s := newTestSession(t)
	if got, want := s.Status, StatusNotStarted; got != want {
		t.Fatalf("initial status got %q want %q", got, want)
	}

	next, err := AppendTurn(s, transcript.SpeakerUser, text("Hi there"), userFirst, t0.Add(time.Second))
	if err != nil {
		t.Fatalf("AppendTurn error: %v", err)
	}
	if got, want := next.Status, StatusInProgress; got != want {
		t.Fatalf("status got %q want %q", got, want)
	}
	if next.StartedAt == nil || !next.StartedAt.Equal(t0.Add(time.Second)) {
		t.Fatalf("StartedAt not set on first turn: %v", next.StartedAt)
	}
	if got, want := len(s.Turns), 0; got != want {
		t.Fatalf("input session mutated: got %d turns want %d", got, want)
	}
}

func TestAppendTurnEnforcesFirstSpeaker(t *testing.T) {
	t.Parallel()

	s := newTestSession(t)
	_, err := AppendTurn(s, transcript.SpeakerUser, text("Hello?"), personaFirst, t0)
	var orderErr *TurnOrderError
	if !errors.As(err, &orderErr) {
		t.Fatalf("expected TurnOrderError, got %v", err)
	}
	if got, want := orderErr.Expected, transcript.SpeakerPersona; got != want {
		t.Fatalf("expected speaker got %q want %q", got, want)
	}
}

func TestAppendTurnRejectsSameSpeakerTwice(t *testing.T) {
	t.Parallel()

	s := newTestSession(t)
	s, err := AppendTurn(s, transcript.SpeakerUser, text("Hi"), userFirst, t0)
	if err != nil {
		t.Fatalf("AppendTurn error: %v", err)
	}
	s, err = AppendTurn(s, transcript.SpeakerPersona, text("Hey"), userFirst, t0)
	if err != nil {
		t.Fatalf("AppendTurn error: %v", err)
	}

	got, err := AppendTurn(s, transcript.SpeakerPersona, text("Hello again"), userFirst, t0)
	var orderErr *TurnOrderError
	if !errors.As(err, &orderErr) {
		t.Fatalf("expected TurnOrderError, got %v", err)
	}
	if len(got.Turns) != 2 {
		t.Fatalf("rejected append changed turns: got %d want 2", len(got.Turns))
	}
	for i, turn := range got.Turns {
		if turn.Index != i {
			t.Fatalf("turn %d has index %d", i, turn.Index)
		}
	}
}

func TestAppendTurnAllowsDrafts(t *testing.T) {
	t.Parallel()

	s := newTestSession(t)
	s, err := AppendTurn(s, transcript.SpeakerUser, text("First email"), draftsPolicy{}, t0)
	if err != nil {
		t.Fatalf("AppendTurn error: %v", err)
	}
	s, err = AppendTurn(s, transcript.SpeakerUser, text("Forgot the attachment"), draftsPolicy{}, t0)
	if err != nil {
		t.Fatalf("consecutive user turn should be allowed: %v", err)
	}
	if _, err := AppendTurn(s, transcript.SpeakerUser, text("   "), draftsPolicy{}, t0); !errors.Is(err, ErrEmptyTurn) {
		t.Fatalf("expected ErrEmptyTurn, got %v", err)
	}
}

func TestEndAndAbandon(t *testing.T) {
	t.Parallel()

	s := newTestSession(t)
	if _, err := End(s, EndUserEnded, t0); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}

	started, err := AppendTurn(s, transcript.SpeakerUser, text("Hi"), userFirst, t0)
	if err != nil {
		t.Fatalf("AppendTurn error: %v", err)
	}
	ended, err := End(started, EndUserEnded, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("End error: %v", err)
	}
	if got, want := ended.Status, StatusCompleted; got != want {
		t.Fatalf("status got %q want %q", got, want)
	}
	if got, want := ended.Elapsed(t0.Add(time.Hour)), time.Minute; got != want {
		t.Fatalf("Elapsed got %v want %v", got, want)
	}
	if _, err := AppendTurn(ended, transcript.SpeakerPersona, text("wait"), userFirst, t0); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if _, err := Abandon(ended, EndReplaced, t0); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("completed session must not be abandoned, got %v", err)
	}

	abandoned, err := Abandon(started, EndUserAbandoned, t0)
	if err != nil {
		t.Fatalf("Abandon error: %v", err)
	}
	if got, want := abandoned.Status, StatusAbandoned; got != want {
		t.Fatalf("status got %q want %q", got, want)
	}
}

func TestAttachReportRequiresCompleted(t *testing.T) {
	t.Parallel()

	s := newTestSession(t)
	if _, err := AttachReport(s, rubric.ScoreReport{ID: "r1"}, t0); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected error for not-started session, got %v", err)
	}

	s, _ = AppendTurn(s, transcript.SpeakerUser, text("Hi"), userFirst, t0)
	s, _ = End(s, EndUserEnded, t0)
	first, err := AttachReport(s, rubric.ScoreReport{ID: "r1"}, t0)
	if err != nil {
		t.Fatalf("AttachReport error: %v", err)
	}
	second, err := AttachReport(first, rubric.ScoreReport{ID: "r2"}, t0)
	if err != nil {
		t.Fatalf("AttachReport error: %v", err)
	}
	if got, want := len(first.Reports), 1; got != want {
		t.Fatalf("earlier value mutated: got %d reports want %d", got, want)
	}
	latest, ok := second.LatestReport()
	if !ok || latest.ID != "r2" {
		t.Fatalf("LatestReport got %+v ok=%v", latest, ok)
	}
}

func TestAttachReportIgnoresDuplicateID(t *testing.T) {
	t.Parallel()

	s, _ := AppendTurn(newTestSession(t), transcript.SpeakerUser, text("Hi"), userFirst, t0)
	s, _ = End(s, EndUserEnded, t0)
	once, err := AttachReport(s, rubric.ScoreReport{ID: "r1", Aggregate: 70}, t0)
	if err != nil {
		t.Fatalf("AttachReport error: %v", err)
	}
	twice, err := AttachReport(once, rubric.ScoreReport{ID: "r1", Aggregate: 70}, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("AttachReport error: %v", err)
	}
	if got, want := len(twice.Reports), 1; got != want {
		t.Fatalf("reports got %d want %d", got, want)
	}
	if !twice.UpdatedAt.Equal(once.UpdatedAt) {
		t.Fatalf("duplicate report touched UpdatedAt: %v", twice.UpdatedAt)
	}
	if !twice.HasReport("r1") || twice.HasReport("r2") {
		t.Fatalf("HasReport mismatch: %+v", twice.Reports)
	}
}

func TestLockerSerializesPerKey(t *testing.T) {
	t.Parallel()

	locker := NewLocker()
	ctx := context.Background()

	var mu sync.Mutex
	active := 0
	maxActive := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "s1")
			if err != nil {
				t.Errorf("Lock error: %v", err)
				return
			}
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("max concurrent holders got %d want 1", maxActive)
	}
	if got := locker.Len(); got != 0 {
		t.Fatalf("idle locker retained %d keys", got)
	}
}

func TestLockerHonorsContext(t *testing.T) {
	t.Parallel()

	locker := NewLocker()
	unlock, err := locker.Lock(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Lock error: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(ctx, "s1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	other, err := locker.Lock(context.Background(), "s2")
	if err != nil {
		t.Fatalf("independent key blocked: %v", err)
	}
	other()
}
