// Package storetest is a conformance suite every session.Store must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tetraminz/consultation_x/internal/rubric"
	"github.com/tetraminz/consultation_x/internal/scenario"
	"github.com/tetraminz/consultation_x/internal/session"
	"github.com/tetraminz/consultation_x/internal/transcript"
)

// Factory returns an empty store. Run closes it when the subtest ends.
type Factory func(t *testing.T) session.Store

type alternating struct{}

func (alternating) FirstSpeaker() transcript.Speaker          { return transcript.SpeakerUser }
func (alternating) AllowsConsecutive(transcript.Speaker) bool { return false }

var base = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(*testing.T, session.Store)
	}{
		{name: "RoundTripNTurnSession", fn: testRoundTrip},
		{name: "UpdateIsCompareAndSwap", fn: testCompareAndSwap},
		{name: "MissingSession", fn: testMissing},
		{name: "DeleteAndOwnerQueries", fn: testOwnerQueries},
		{name: "LLMEvents", fn: testLLMEvents},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newStore(t)
			t.Cleanup(func() { _ = store.Close() })
			tc.fn(t, store)
		})
	}
}

// CompletedSession builds a finished, graded session with n user turns.
func CompletedSession(t *testing.T, owner string, n int) session.Session {
	t.Helper()

	sc, err := scenario.Generate(scenario.TrackSales, scenario.ChannelTextChat, scenario.Options{
		Rand: scenario.NewRand(11),
		Now:  func() time.Time { return base },
	})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	s := session.New(sc, owner, base)
	at := base
	for i := 0; i < n; i++ {
		at = at.Add(time.Second)
		s, err = session.AppendTurn(s, transcript.SpeakerUser, transcript.Payload{Text: fmt.Sprintf("user turn %d?", i)}, alternating{}, at)
		if err != nil {
			t.Fatalf("AppendTurn error: %v", err)
		}
		at = at.Add(time.Second)
		s, err = session.AppendTurn(s, transcript.SpeakerPersona, transcript.Payload{Text: fmt.Sprintf("persona turn %d", i)}, alternating{}, at)
		if err != nil {
			t.Fatalf("AppendTurn error: %v", err)
		}
	}
	s, err = session.End(s, session.EndUserEnded, at.Add(time.Second))
	if err != nil {
		t.Fatalf("End error: %v", err)
	}

	categories := make([]rubric.CategoryScore, 0, len(rubric.Categories))
	for _, c := range rubric.Categories {
		categories = append(categories, rubric.CategoryScore{
			Category:   c,
			Score:      80,
			Feedback:   "steady",
			Strengths:  []string{"clear"},
			Weaknesses: []string{},
		})
	}
	s, err = session.AttachReport(s, rubric.ScoreReport{
		ID:                 "report-1",
		SessionID:          s.ID,
		Aggregate:          80,
		Tier:               rubric.TierAMinus,
		TierLabel:          rubric.TierAMinus.Label(),
		Categories:         categories,
		Strengths:          []string{"asked questions"},
		Improvements:       []string{"close harder"},
		KeyMoments:         []string{},
		ClientSatisfaction: 75,
		DealOutcome:        rubric.DealFollowUp,
		Summary:            "solid call",
		Model:              "stub",
		CreatedAt:          at.Add(2 * time.Second),
	}, at.Add(2*time.Second))
	if err != nil {
		t.Fatalf("AttachReport error: %v", err)
	}
	return s
}

func testRoundTrip(t *testing.T, store session.Store) {
	ctx := context.Background()
	want := CompletedSession(t, "owner-a", 7)

	created, err := store.Create(ctx, want)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if got, want := created.Revision, int64(1); got != want {
		t.Fatalf("created revision got %d want %d", got, want)
	}

	got, err := store.Get(ctx, want.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	want.Revision = 1
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
	if got, want := len(got.Turns), 14; got != want {
		t.Fatalf("turn count got %d want %d", got, want)
	}
}

func testCompareAndSwap(t *testing.T, store session.Store) {
	ctx := context.Background()
	s := CompletedSession(t, "owner-b", 1)

	created, err := store.Create(ctx, s)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := store.Create(ctx, s); err == nil {
		t.Fatalf("duplicate create must fail")
	}

	created.Scenario.Title = "renamed"
	updated, err := store.Update(ctx, created)
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if got, want := updated.Revision, int64(2); got != want {
		t.Fatalf("revision got %d want %d", got, want)
	}

	stale := created
	stale.Scenario.Title = "stale write"
	if _, err := store.Update(ctx, stale); !errors.Is(err, session.ErrConflict) {
		t.Fatalf("expected ErrConflict for stale revision, got %v", err)
	}

	got, err := store.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Scenario.Title != "renamed" {
		t.Fatalf("stale write leaked: title %q", got.Scenario.Title)
	}
}

func testMissing(t *testing.T, store session.Store) {
	ctx := context.Background()
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Get missing: expected ErrNotFound, got %v", err)
	}
	ghost := CompletedSession(t, "owner-c", 1)
	ghost.Revision = 1
	if _, err := store.Update(ctx, ghost); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Update missing: expected ErrNotFound, got %v", err)
	}
	if err := store.Delete(ctx, "missing"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Delete missing: expected ErrNotFound, got %v", err)
	}
}

func testOwnerQueries(t *testing.T, store session.Store) {
	ctx := context.Background()

	done := CompletedSession(t, "owner-d", 1)
	if _, err := store.Create(ctx, done); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	sc, err := scenario.Generate(scenario.TrackProjectManagement, scenario.ChannelEmail, scenario.Options{Rand: scenario.NewRand(5)})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	pending := session.New(sc, "owner-d", base.Add(time.Hour))
	if _, err := store.Create(ctx, pending); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := store.Create(ctx, session.New(sc, "someone-else", base)); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	all, err := store.ListByOwner(ctx, "owner-d")
	if err != nil {
		t.Fatalf("ListByOwner error: %v", err)
	}
	if got, want := len(all), 2; got != want {
		t.Fatalf("ListByOwner got %d want %d", got, want)
	}
	if all[0].ID != done.ID {
		t.Fatalf("ListByOwner must order by creation time")
	}

	active, err := store.ActiveByOwner(ctx, "owner-d")
	if err != nil {
		t.Fatalf("ActiveByOwner error: %v", err)
	}
	if len(active) != 1 || active[0].ID != pending.ID {
		t.Fatalf("ActiveByOwner got %+v want only the pending session", active)
	}

	if err := store.Delete(ctx, pending.ID); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	active, err = store.ActiveByOwner(ctx, "owner-d")
	if err != nil {
		t.Fatalf("ActiveByOwner error: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("deleted session still active: %+v", active)
	}
}

func testLLMEvents(t *testing.T, store session.Store) {
	ctx := context.Background()
	for attempt := 1; attempt <= 2; attempt++ {
		err := store.RecordLLMEvent(ctx, session.LLMEvent{
			SessionID:    "s-events",
			Stage:        "score",
			Attempt:      attempt,
			Model:        "stub",
			Status:       session.EventStatusError,
			RequestJSON:  `{"model":"stub"}`,
			ResponseText: "not json",
			Error:        "parse failed",
			CreatedAt:    base.Add(time.Duration(attempt) * time.Second),
		})
		if err != nil {
			t.Fatalf("RecordLLMEvent error: %v", err)
		}
	}
	if err := store.RecordLLMEvent(ctx, session.LLMEvent{SessionID: "other", Stage: "persona", Attempt: 1}); err != nil {
		t.Fatalf("RecordLLMEvent error: %v", err)
	}

	events, err := store.ListLLMEvents(ctx, "s-events")
	if err != nil {
		t.Fatalf("ListLLMEvents error: %v", err)
	}
	if got, want := len(events), 2; got != want {
		t.Fatalf("event count got %d want %d", got, want)
	}
	if events[0].Attempt != 1 || events[1].Attempt != 2 {
		t.Fatalf("events out of order: %+v", events)
	}
	if events[0].ID == 0 || events[0].ID == events[1].ID {
		t.Fatalf("events need distinct ids: %+v", events)
	}
	if events[1].ResponseText != "not json" || events[1].ParseOK {
		t.Fatalf("event fields not persisted: %+v", events[1])
	}
}
