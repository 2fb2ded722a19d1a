package compute

import (
	"strings"

	"github.com/tetraminz/consultation_x/internal/transcript"
)

// Metrics are deterministic values computed directly from a session transcript.
type Metrics struct {
	TurnCountTotal         int     `json:"turn_count_total"`
	TurnCountUser          int     `json:"turn_count_user"`
	TurnCountPersona       int     `json:"turn_count_persona"`
	QuestionMarksUser      int     `json:"question_marks_user"`
	QuestionMarksPersona   int     `json:"question_marks_persona"`
	WordCountUser          int     `json:"word_count_user"`
	WordCountPersona       int     `json:"word_count_persona"`
	UserTalkRatio          float64 `json:"user_talk_ratio"`
	MentionsPrice          bool    `json:"mentions_price"`
	MentionsTimeline       bool    `json:"mentions_timeline"`
	MentionsNextStep       bool    `json:"mentions_next_step"`
	UserApologized         bool    `json:"user_apologized"`
	UserAskedDiscoveryQ    bool    `json:"user_asked_discovery_question"`
	PersonaRaisedObjection bool    `json:"persona_raised_objection"`
}

// ComputeMetrics derives deterministic metrics from a conversation.
func ComputeMetrics(turns []transcript.Turn) Metrics {
	var metrics Metrics
	metrics.TurnCountTotal = len(turns)

	loweredLines := make([]string, 0, len(turns))
	userLines := make([]string, 0, len(turns))
	personaLines := make([]string, 0, len(turns))
	for _, turn := range turns {
		text := turn.Payload.Text
		questionMarks := strings.Count(text, "?")
		words := len(strings.Fields(text))
		lowered := strings.ToLower(text)

		switch turn.Speaker {
		case transcript.SpeakerUser:
			metrics.TurnCountUser++
			metrics.QuestionMarksUser += questionMarks
			metrics.WordCountUser += words
			userLines = append(userLines, lowered)
		case transcript.SpeakerPersona:
			metrics.TurnCountPersona++
			metrics.QuestionMarksPersona += questionMarks
			metrics.WordCountPersona += words
			personaLines = append(personaLines, lowered)
		}

		loweredLines = append(loweredLines, lowered)
	}

	if total := metrics.WordCountUser + metrics.WordCountPersona; total > 0 {
		metrics.UserTalkRatio = float64(metrics.WordCountUser) / float64(total)
	}

	allText := strings.Join(loweredLines, " ")
	userText := strings.Join(userLines, " ")
	personaText := strings.Join(personaLines, " ")
	metrics.MentionsPrice = containsAny(allText, "price", "pricing", "cost", "discount", "$", "rate", "fee")
	metrics.MentionsTimeline = containsAny(allText, "today", "tonight", "tomorrow", "turnaround", "deadline", "by end of", "hours")
	metrics.MentionsNextStep = containsAny(allText, "book", "schedule", "calendar", "confirm", "send over", "follow up", "trial")
	metrics.UserApologized = containsAny(userText, "sorry", "apologize", "apologies")
	metrics.UserAskedDiscoveryQ = containsAny(userText, "how many", "what are", "tell me about", "what matters", "what's most important", "how often")
	metrics.PersonaRaisedObjection = containsAny(personaText, "too expensive", "cheaper", "more than", "competitor", "not sure", "guarantee", "unacceptable")

	return metrics
}

func containsAny(text string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(text, needle) {
			return true
		}
	}
	return false
}
