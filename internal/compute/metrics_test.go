package compute

import (
	"testing"

	"github.com/tetraminz/consultation_x/internal/transcript"
)

func TestComputeMetrics(t *testing.T) {
	t.Parallel()

	turns := []transcript.Turn{
		{Speaker: transcript.SpeakerUser, Payload: transcript.Payload{Text: "Hi! How many listings do you shoot a month?"}},
		{Speaker: transcript.SpeakerPersona, Payload: transcript.Payload{Text: "About eight. Your competitor is cheaper though. What's your rate?"}},
		{Speaker: transcript.SpeakerUser, Payload: transcript.Payload{Text: "Sorry to hear that. Can we book a trial shoot tomorrow?"}},
	}

	got := ComputeMetrics(turns)

	if got.TurnCountTotal != 3 {
		t.Fatalf("TurnCountTotal got %d want %d", got.TurnCountTotal, 3)
	}
	if got.TurnCountUser != 2 {
		t.Fatalf("TurnCountUser got %d want %d", got.TurnCountUser, 2)
	}
	if got.TurnCountPersona != 1 {
		t.Fatalf("TurnCountPersona got %d want %d", got.TurnCountPersona, 1)
	}
	if got.QuestionMarksUser != 2 {
		t.Fatalf("QuestionMarksUser got %d want %d", got.QuestionMarksUser, 2)
	}
	if got.QuestionMarksPersona != 1 {
		t.Fatalf("QuestionMarksPersona got %d want %d", got.QuestionMarksPersona, 1)
	}
	if !got.MentionsPrice {
		t.Fatalf("MentionsPrice got false want true")
	}
	if !got.MentionsTimeline {
		t.Fatalf("MentionsTimeline got false want true")
	}
	if !got.MentionsNextStep {
		t.Fatalf("MentionsNextStep got false want true")
	}
	if !got.UserApologized {
		t.Fatalf("UserApologized got false want true")
	}
	if !got.UserAskedDiscoveryQ {
		t.Fatalf("UserAskedDiscoveryQ got false want true")
	}
	if !got.PersonaRaisedObjection {
		t.Fatalf("PersonaRaisedObjection got false want true")
	}
	if got.UserTalkRatio <= 0 || got.UserTalkRatio >= 1 {
		t.Fatalf("UserTalkRatio got %v want in (0,1)", got.UserTalkRatio)
	}
}

func TestComputeMetricsEmpty(t *testing.T) {
	t.Parallel()

	got := ComputeMetrics(nil)
	if got != (Metrics{}) {
		t.Fatalf("empty transcript metrics got %+v want zero", got)
	}
}
