package report

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/tetraminz/consultation_x/internal/rubric"
	"github.com/tetraminz/consultation_x/internal/scenario"
	"github.com/tetraminz/consultation_x/internal/session"
	"github.com/tetraminz/consultation_x/internal/store/storetest"
	"github.com/tetraminz/consultation_x/internal/transcript"
)

var t0 = time.Date(2026, 7, 2, 10, 0, 0, 0, time.UTC)

type userFirst struct{}

func (userFirst) FirstSpeaker() transcript.Speaker          { return transcript.SpeakerUser }
func (userFirst) AllowsConsecutive(transcript.Speaker) bool { return false }

func gradedSession(t *testing.T, owner string, scores [6]int) session.Session {
	t.Helper()
	sc, err := scenario.Generate(scenario.TrackSales, scenario.ChannelEmail, scenario.Options{Rand: scenario.NewRand(9)})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	s := session.New(sc, owner, t0)
	s, err = session.AppendTurn(s, transcript.SpeakerUser, transcript.Payload{Text: "Hello?"}, userFirst{}, t0)
	if err != nil {
		t.Fatalf("AppendTurn error: %v", err)
	}
	s, err = session.End(s, session.EndUserEnded, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("End error: %v", err)
	}
	categories := make([]rubric.CategoryScore, 0, 6)
	for i, c := range rubric.Categories {
		categories = append(categories, rubric.CategoryScore{Category: c, Score: scores[i]})
	}
	agg := rubric.Aggregate(categories)
	s, err = session.AttachReport(s, rubric.ScoreReport{
		ID:         "r-" + s.ID,
		SessionID:  s.ID,
		Aggregate:  agg,
		Tier:       rubric.TierFor(agg),
		TierLabel:  rubric.TierFor(agg).Label(),
		Categories: categories,
		Summary:    "needs | work",
	}, t0.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("AttachReport error: %v", err)
	}
	return s
}

func TestBuildAggregatesLatestReports(t *testing.T) {
	t.Parallel()

	strong := storetest.CompletedSession(t, "trainee", 2)
	weak := gradedSession(t, "trainee", [6]int{40, 60, 50, 55, 65, 60})

	sc, err := scenario.Generate(scenario.TrackSales, scenario.ChannelTextChat, scenario.Options{Rand: scenario.NewRand(2)})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	pending := session.New(sc, "trainee", t0)
	abandoned, err := session.AppendTurn(session.New(sc, "trainee", t0), transcript.SpeakerUser, transcript.Payload{Text: "Hi"}, userFirst{}, t0)
	if err != nil {
		t.Fatalf("AppendTurn error: %v", err)
	}
	abandoned, err = session.Abandon(abandoned, session.EndUserAbandoned, t0)
	if err != nil {
		t.Fatalf("Abandon error: %v", err)
	}

	got := Build([]session.Session{strong, weak, pending, abandoned})

	if got.TotalSessions != 4 || got.ScoredSessions != 2 {
		t.Fatalf("totals got %d/%d want 4/2", got.TotalSessions, got.ScoredSessions)
	}
	if got, want := got.ByStatus[session.StatusCompleted], 2; got != want {
		t.Fatalf("completed got %d want %d", got, want)
	}
	if got, want := got.ByEndReason[session.EndUserAbandoned], 1; got != want {
		t.Fatalf("abandoned reasons got %d want %d", got, want)
	}
	if got.AggregateMin != 55 || got.AggregateMax != 80 {
		t.Fatalf("range got %d-%d want 55-80", got.AggregateMin, got.AggregateMax)
	}
	if math.Abs(got.AggregateAvg-67.5) > 1e-9 {
		t.Fatalf("avg aggregate got %f want 67.5", got.AggregateAvg)
	}
	// 2 + 1 + 1 user turns over three started sessions.
	if math.Abs(got.UserTurnsAvg-4.0/3.0) > 1e-9 {
		t.Fatalf("avg user turns got %f", got.UserTurnsAvg)
	}
	if got, want := got.Weakest, rubric.Categories[0]; got != want {
		t.Fatalf("weakest got %q want %q", got, want)
	}
	if got, want := got.Strongest, rubric.Categories[4]; got != want {
		t.Fatalf("strongest got %q want %q", got, want)
	}
	if len(got.LowScores) != 1 || got.LowScores[0].SessionID != weak.ID {
		t.Fatalf("low scores got %+v", got.LowScores)
	}
	if got.TierCounts[rubric.TierAMinus] != 1 || got.TierCounts[rubric.TierD] != 1 {
		t.Fatalf("tier counts got %+v", got.TierCounts)
	}
}

func TestMarkdownAndFormat(t *testing.T) {
	t.Parallel()

	empty := Markdown(Build(nil))
	if !strings.Contains(empty, "## Scores\n- none") {
		t.Fatalf("empty markdown should say none:\n%s", empty)
	}

	s := Build([]session.Session{gradedSession(t, "x", [6]int{50, 60, 70, 80, 90, 60})})
	md := Markdown(s)
	for _, token := range []string{"scored_sessions: `1`", "| `C+` |", "## Low Scores", "needs / work", string(rubric.Categories[4])} {
		if !strings.Contains(md, token) {
			t.Fatalf("markdown missing %q:\n%s", token, md)
		}
	}
	plain := Format(s)
	for _, token := range []string{"total_sessions=1", "avg_aggregate=68.0", "strongest_category=" + string(rubric.Categories[4])} {
		if !strings.Contains(plain, token) {
			t.Fatalf("format missing %q:\n%s", token, plain)
		}
	}
}

func TestRenderScoreAndSummary(t *testing.T) {
	t.Parallel()

	s := storetest.CompletedSession(t, "trainee", 1)
	r, _ := s.LatestReport()
	card := RenderScore(r)
	for _, token := range []string{"Score Report", "A-  80/100", "Client satisfaction: 75/100", "Deal outcome: follow up", "asked questions", "graded by stub"} {
		if !strings.Contains(card, token) {
			t.Fatalf("score card missing %q:\n%s", token, card)
		}
	}
	for _, c := range rubric.Categories {
		if !strings.Contains(card, string(c)) {
			t.Fatalf("score card missing category %q", c)
		}
	}

	if out := RenderSummary(Build(nil)); !strings.Contains(out, "No graded sessions yet.") {
		t.Fatalf("empty summary got:\n%s", out)
	}
	out := RenderSummary(Build([]session.Session{s}))
	for _, token := range []string{"Training Progress", "Average 80.0 (A-)", "A-×1"} {
		if !strings.Contains(out, token) {
			t.Fatalf("summary missing %q:\n%s", token, out)
		}
	}
}

func TestScoreBarClamps(t *testing.T) {
	t.Parallel()

	if got := scoreBar(-5); strings.Contains(got, "█") {
		t.Fatalf("negative score should be empty bar, got %q", got)
	}
	if got := scoreBar(150); strings.Contains(got, "░") {
		t.Fatalf("score above 100 should be full bar, got %q", got)
	}
}
