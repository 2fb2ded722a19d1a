package evaluate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tetraminz/consultation_x/internal/rubric"
)

// ScoreParseError means the grader's output does not match the report shape.
type ScoreParseError struct {
	Reason string
	Raw    string
	Cause  error
}

func (e *ScoreParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("score parse error: %s: %v", e.Reason, e.Cause)
	}
	return "score parse error: " + e.Reason
}

func (e *ScoreParseError) Unwrap() error { return e.Cause }

// ScoreConsistencyError means the grader's verdict contradicts its own
// category scores. The grade may be unreliable.
type ScoreConsistencyError struct {
	ClaimedTier    rubric.Tier
	ComputedTier   rubric.Tier
	ClaimedOverall int
	Aggregate      int
}

func (e *ScoreConsistencyError) Error() string {
	return fmt.Sprintf("score consistency error: grader claimed %s (%d) but category scores give %s (%d)",
		e.ClaimedTier, e.ClaimedOverall, e.ComputedTier, e.Aggregate)
}

type gradePayload struct {
	OverallScore       *int                  `json:"overall_score"`
	Tier               string                `json:"tier"`
	CategoryScores     []categoryGradeRecord `json:"category_scores"`
	Strengths          []string              `json:"strengths"`
	Improvements       []string              `json:"improvements"`
	KeyMoments         []string              `json:"key_moments"`
	ClientSatisfaction *int                  `json:"client_satisfaction"`
	DealOutcome        string                `json:"deal_outcome"`
	Summary            string                `json:"summary"`
}

type categoryGradeRecord struct {
	Category   string   `json:"category"`
	Score      *int     `json:"score"`
	Feedback   string   `json:"feedback"`
	Strengths  []string `json:"strengths"`
	Weaknesses []string `json:"weaknesses"`
}

// Grade is a decoded and validated grader response.
type Grade struct {
	ClaimedOverall     int
	ClaimedTier        rubric.Tier
	Categories         []rubric.CategoryScore
	Strengths          []string
	Improvements       []string
	KeyMoments         []string
	ClientSatisfaction int
	DealOutcome        rubric.DealOutcome
	Summary            string
}

// Decode strictly parses grader output. A surrounding markdown code fence is
// the only tolerated wrapper.
func Decode(raw string) (Grade, error) {
	text := stripCodeFence(raw)
	if text == "" {
		return Grade{}, &ScoreParseError{Reason: "empty response", Raw: raw}
	}

	decoder := json.NewDecoder(strings.NewReader(text))
	decoder.DisallowUnknownFields()
	var payload gradePayload
	if err := decoder.Decode(&payload); err != nil {
		return Grade{}, &ScoreParseError{Reason: "invalid json", Raw: raw, Cause: err}
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Grade{}, &ScoreParseError{Reason: "trailing content after json object", Raw: raw}
	}

	problems := make([]string, 0, 4)
	if payload.OverallScore == nil {
		problems = append(problems, "overall_score is missing")
	} else if !inPercentRange(*payload.OverallScore) {
		problems = append(problems, fmt.Sprintf("overall_score %d out of range", *payload.OverallScore))
	}
	tier, tierErr := rubric.ParseTier(payload.Tier)
	if tierErr != nil {
		problems = append(problems, tierErr.Error())
	}
	if payload.ClientSatisfaction == nil {
		problems = append(problems, "client_satisfaction is missing")
	} else if !inPercentRange(*payload.ClientSatisfaction) {
		problems = append(problems, fmt.Sprintf("client_satisfaction %d out of range", *payload.ClientSatisfaction))
	}
	outcome, outcomeOK := parseDealOutcome(payload.DealOutcome)
	if !outcomeOK {
		problems = append(problems, fmt.Sprintf("unknown deal_outcome %q", payload.DealOutcome))
	}
	if strings.TrimSpace(payload.Summary) == "" {
		problems = append(problems, "summary is empty")
	}

	byCategory := make(map[rubric.Category]rubric.CategoryScore, len(rubric.Categories))
	for _, record := range payload.CategoryScores {
		category, ok := rubric.ParseCategory(record.Category)
		if !ok {
			problems = append(problems, fmt.Sprintf("unknown category %q", record.Category))
			continue
		}
		if _, dup := byCategory[category]; dup {
			problems = append(problems, fmt.Sprintf("duplicate category %q", category))
			continue
		}
		if record.Score == nil {
			problems = append(problems, fmt.Sprintf("%s score is missing", category))
			continue
		}
		if !inPercentRange(*record.Score) {
			problems = append(problems, fmt.Sprintf("%s score %d out of range", category, *record.Score))
			continue
		}
		byCategory[category] = rubric.CategoryScore{
			Category:   category,
			Score:      *record.Score,
			Feedback:   strings.TrimSpace(record.Feedback),
			Strengths:  nonNil(record.Strengths),
			Weaknesses: nonNil(record.Weaknesses),
		}
	}
	categories := make([]rubric.CategoryScore, 0, len(rubric.Categories))
	for _, c := range rubric.Categories {
		score, ok := byCategory[c]
		if !ok {
			problems = append(problems, fmt.Sprintf("category %q is missing", c))
			continue
		}
		categories = append(categories, score)
	}

	if len(problems) > 0 {
		return Grade{}, &ScoreParseError{Reason: strings.Join(problems, "; "), Raw: raw}
	}

	return Grade{
		ClaimedOverall:     *payload.OverallScore,
		ClaimedTier:        tier,
		Categories:         categories,
		Strengths:          nonNil(payload.Strengths),
		Improvements:       nonNil(payload.Improvements),
		KeyMoments:         nonNil(payload.KeyMoments),
		ClientSatisfaction: *payload.ClientSatisfaction,
		DealOutcome:        outcome,
		Summary:            strings.TrimSpace(payload.Summary),
	}, nil
}

// Tolerance bounds how far the grader's own verdict may drift from the
// verdict computed from its category scores.
type Tolerance struct {
	TierSteps int
	Points    int
}

// Report turns a grade into a report, verifying the claimed verdict.
func (g Grade) Report(sessionID, model string, tol Tolerance, now time.Time) (rubric.ScoreReport, error) {
	aggregate := rubric.Aggregate(g.Categories)
	tier := rubric.TierFor(aggregate)

	if rubric.TierDistance(g.ClaimedTier, tier) > tol.TierSteps || absInt(g.ClaimedOverall-aggregate) > tol.Points {
		return rubric.ScoreReport{}, &ScoreConsistencyError{
			ClaimedTier:    g.ClaimedTier,
			ComputedTier:   tier,
			ClaimedOverall: g.ClaimedOverall,
			Aggregate:      aggregate,
		}
	}

	return rubric.ScoreReport{
		ID:                 uuid.NewString(),
		SessionID:          sessionID,
		Aggregate:          aggregate,
		Tier:               tier,
		TierLabel:          tier.Label(),
		Categories:         g.Categories,
		Strengths:          g.Strengths,
		Improvements:       g.Improvements,
		KeyMoments:         g.KeyMoments,
		ClientSatisfaction: g.ClientSatisfaction,
		DealOutcome:        g.DealOutcome,
		Summary:            g.Summary,
		Model:              model,
		CreatedAt:          now.UTC(),
	}, nil
}

func stripCodeFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	body, ok := strings.CutSuffix(text, "```")
	if !ok {
		return text
	}
	body = strings.TrimPrefix(body, "```")
	if newline := strings.IndexByte(body, '\n'); newline >= 0 {
		lang := strings.TrimSpace(body[:newline])
		if lang == "" || strings.EqualFold(lang, "json") {
			body = body[newline+1:]
		}
	}
	return strings.TrimSpace(body)
}

func parseDealOutcome(raw string) (rubric.DealOutcome, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "closed":
		return rubric.DealClosed, true
	case "lost":
		return rubric.DealLost, true
	case "follow_up", "follow-up", "follow-up needed", "follow up":
		return rubric.DealFollowUp, true
	}
	return "", false
}

func inPercentRange(v int) bool { return v >= 0 && v <= 100 }

func nonNil(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
