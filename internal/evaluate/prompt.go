package evaluate

import (
	"fmt"
	"strings"
	"time"

	"github.com/tetraminz/consultation_x/internal/compute"
	"github.com/tetraminz/consultation_x/internal/rubric"
	"github.com/tetraminz/consultation_x/internal/session"
	"github.com/tetraminz/consultation_x/internal/transcript"
)

const systemInstruction = "You are an expert consultation trainer at a real estate media company. You grade recorded training conversations between a trainee and a simulated client. Be specific, quote the conversation, and score relative to the difficulty level: a perfect score on hard should be truly exceptional. Return only the JSON object requested."

// Prompt renders the grading request for a completed session.
func Prompt(s session.Session, now time.Time) string {
	sc := s.Scenario
	p := sc.Persona
	metrics := compute.ComputeMetrics(s.Turns)

	var b strings.Builder
	fmt.Fprintf(&b, "SCENARIO: %s\n", sc.Title)
	fmt.Fprintf(&b, "- Category: %s\n- Track: %s\n- Channel: %s\n- Difficulty: %s\n- Description: %s\n\n",
		sc.Category, sc.Track.Label(), sc.Channel.Label(), sc.Difficulty, sc.Brief)

	b.WriteString("CLIENT PROFILE:\n")
	fmt.Fprintf(&b, "- Name: %s\n", p.DisplayName)
	if p.Brokerage != "" {
		fmt.Fprintf(&b, "- Brokerage: %s\n", p.Brokerage)
	}
	fmt.Fprintf(&b, "- Personality: %s\n", p.Personality)
	fmt.Fprintf(&b, "- Property: %s sq ft %s in %s, listed at %s\n\n", p.SquareFootage, p.PropertyType, p.City, p.ListingPrice)

	b.WriteString("CLIENT'S HIDDEN GOAL (the trainee needed to uncover this):\n")
	b.WriteString(p.HiddenGoal)
	b.WriteString("\n\nSUCCESS CRITERIA:\n")
	for _, c := range sc.SuccessCriteria {
		fmt.Fprintf(&b, "- %s\n", c)
	}

	fmt.Fprintf(&b, "\nDURATION: %.1f minutes\n", s.Elapsed(now).Minutes())
	fmt.Fprintf(&b, "ENDED BY: %s\n", endedBy(s.EndReason))
	fmt.Fprintf(&b, "TOTAL MESSAGES: %d (trainee %d, client %d)\n", metrics.TurnCountTotal, metrics.TurnCountUser, metrics.TurnCountPersona)

	b.WriteString("\nOBSERVED FACTS (computed, not graded):\n")
	fmt.Fprintf(&b, "- Trainee questions asked: %d\n", metrics.QuestionMarksUser)
	fmt.Fprintf(&b, "- Trainee share of words: %.0f%%\n", metrics.UserTalkRatio*100)
	fmt.Fprintf(&b, "- Price discussed: %s\n", yesNo(metrics.MentionsPrice))
	fmt.Fprintf(&b, "- Timeline discussed: %s\n", yesNo(metrics.MentionsTimeline))
	fmt.Fprintf(&b, "- Next step discussed: %s\n", yesNo(metrics.MentionsNextStep))
	fmt.Fprintf(&b, "- Trainee apologized: %s\n", yesNo(metrics.UserApologized))
	fmt.Fprintf(&b, "- Client raised an objection: %s\n", yesNo(metrics.PersonaRaisedObjection))

	b.WriteString("\n--- FULL TRANSCRIPT ---\n\n")
	b.WriteString(transcript.Render(s.Turns, "TRAINEE", p.DisplayName))
	b.WriteString("\n\n--- END TRANSCRIPT ---\n\n")

	b.WriteString("RUBRIC. Score each category from 0 to 100:\n")
	for _, c := range rubric.Categories {
		fmt.Fprintf(&b, "- %s: %s\n", c, c.Describe())
	}
	b.WriteString("\nTIER SCALE (from the mean of the six category scores):\n")
	for _, t := range rubric.Tiers() {
		fmt.Fprintf(&b, "- %s %s\n", t, t.Label())
	}
	b.WriteString(`
Return a JSON object with exactly these fields:
- overall_score: integer 0-100, the mean of the category scores
- tier: the tier for overall_score
- category_scores: one entry per rubric category, each with category, score, feedback (2-3 sentences referencing specific moments), strengths and weaknesses
- strengths, improvements: three items each
- key_moments: specific good or bad moments
- client_satisfaction: integer 0-100
- deal_outcome: closed, lost or follow_up
- summary: 3-4 sentence overall assessment
`)
	return b.String()
}

func endedBy(reason session.EndReason) string {
	switch reason {
	case session.EndPersonaClosed:
		return "the client"
	case session.EndTurnLimit:
		return "turn limit"
	}
	return "the trainee"
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
