// Package rubric holds the fixed grading scale shared by sessions and the
// evaluator.
package rubric

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Category is one rubric dimension. The set is identical for every track
// and channel so reports stay comparable.
type Category string

const (
	CategorySolutionFinding Category = "Solution Finding"
	CategorySpeed           Category = "Speed & Responsiveness"
	CategoryEfficiency      Category = "Efficiency"
	CategoryCommunication   Category = "Communication"
	CategoryEmpathy         Category = "Empathy & Rapport"
	CategoryClosing         Category = "Closing & Next Steps"
)

// Categories lists the rubric in report order.
var Categories = []Category{
	CategorySolutionFinding,
	CategorySpeed,
	CategoryEfficiency,
	CategoryCommunication,
	CategoryEmpathy,
	CategoryClosing,
}

var categoryDescriptions = map[Category]string{
	CategorySolutionFinding: "Did they identify the real problem and offer a concrete, fitting solution?",
	CategorySpeed:           "Did they respond promptly and keep momentum without stalling?",
	CategoryEfficiency:      "Did they get to the point without wasting the client's time?",
	CategoryCommunication:   "Were they clear, professional and easy to follow in this channel?",
	CategoryEmpathy:         "Did they acknowledge feelings, listen and build trust?",
	CategoryClosing:         "Did they secure a specific commitment or next step?",
}

// Describe returns the grading question for a category.
func (c Category) Describe() string {
	return categoryDescriptions[c]
}

func ParseCategory(raw string) (Category, bool) {
	trimmed := strings.TrimSpace(raw)
	for _, c := range Categories {
		if strings.EqualFold(string(c), trimmed) {
			return c, true
		}
	}
	return "", false
}

// Tier is a letter grade. Tiers are ordered best first.
type Tier string

const (
	TierAPlus  Tier = "A+"
	TierA      Tier = "A"
	TierAMinus Tier = "A-"
	TierBPlus  Tier = "B+"
	TierB      Tier = "B"
	TierBMinus Tier = "B-"
	TierCPlus  Tier = "C+"
	TierC      Tier = "C"
	TierCMinus Tier = "C-"
	TierD      Tier = "D"
)

type tierBand struct {
	tier  Tier
	min   int
	label string
}

// tierTable is monotonic: a higher aggregate never maps to a lower tier.
var tierTable = []tierBand{
	{tier: TierAPlus, min: 90, label: "Elite Closer"},
	{tier: TierA, min: 85, label: "Strong Performer"},
	{tier: TierAMinus, min: 80, label: "Strong Performer"},
	{tier: TierBPlus, min: 77, label: "Solid"},
	{tier: TierB, min: 73, label: "Solid"},
	{tier: TierBMinus, min: 70, label: "Solid"},
	{tier: TierCPlus, min: 67, label: "Needs Improvement"},
	{tier: TierC, min: 63, label: "Needs Improvement"},
	{tier: TierCMinus, min: 60, label: "Needs Improvement"},
	{tier: TierD, min: 0, label: "Needs Training"},
}

// Tiers lists the scale best first.
func Tiers() []Tier {
	out := make([]Tier, len(tierTable))
	for i, band := range tierTable {
		out[i] = band.tier
	}
	return out
}

// TierFor maps an aggregate score in [0,100] to its tier.
func TierFor(aggregate int) Tier {
	for _, band := range tierTable {
		if aggregate >= band.min {
			return band.tier
		}
	}
	return TierD
}

func (t Tier) Label() string {
	for _, band := range tierTable {
		if band.tier == t {
			return band.label
		}
	}
	return ""
}

// Rank is the zero-based position on the scale, or -1 for unknown tiers.
func (t Tier) Rank() int {
	for i, band := range tierTable {
		if band.tier == t {
			return i
		}
	}
	return -1
}

func (t Tier) Valid() bool { return t.Rank() >= 0 }

func ParseTier(raw string) (Tier, error) {
	tier := Tier(strings.ToUpper(strings.TrimSpace(raw)))
	if !tier.Valid() {
		return "", fmt.Errorf("unknown tier %q", raw)
	}
	return tier, nil
}

// TierDistance is the number of steps between two valid tiers.
func TierDistance(a, b Tier) int {
	d := a.Rank() - b.Rank()
	if d < 0 {
		return -d
	}
	return d
}

// DealOutcome is the grader's read on where the conversation landed.
type DealOutcome string

const (
	DealClosed   DealOutcome = "closed"
	DealLost     DealOutcome = "lost"
	DealFollowUp DealOutcome = "follow_up"
)

func (d DealOutcome) Valid() bool {
	return d == DealClosed || d == DealLost || d == DealFollowUp
}

// CategoryScore is the grade for one rubric dimension.
type CategoryScore struct {
	Category   Category `json:"category"`
	Score      int      `json:"score"`
	Feedback   string   `json:"feedback"`
	Strengths  []string `json:"strengths"`
	Weaknesses []string `json:"weaknesses"`
}

// ScoreReport is an immutable grade for one completed session. Re-scoring
// produces a new report.
type ScoreReport struct {
	ID                 string          `json:"id"`
	SessionID          string          `json:"session_id"`
	Aggregate          int             `json:"aggregate"`
	Tier               Tier            `json:"tier"`
	TierLabel          string          `json:"tier_label"`
	Categories         []CategoryScore `json:"categories"`
	Strengths          []string        `json:"strengths"`
	Improvements       []string        `json:"improvements"`
	KeyMoments         []string        `json:"key_moments"`
	ClientSatisfaction int             `json:"client_satisfaction"`
	DealOutcome        DealOutcome     `json:"deal_outcome"`
	Summary            string          `json:"summary"`
	Model              string          `json:"model"`
	CreatedAt          time.Time       `json:"created_at"`
}

// Aggregate is the rounded mean of the category scores.
func Aggregate(scores []CategoryScore) int {
	if len(scores) == 0 {
		return 0
	}
	sum := 0
	for _, s := range scores {
		sum += s.Score
	}
	return int(math.Round(float64(sum) / float64(len(scores))))
}
