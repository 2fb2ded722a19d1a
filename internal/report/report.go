// Package report aggregates graded sessions into trainee progress summaries.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tetraminz/consultation_x/internal/rubric"
	"github.com/tetraminz/consultation_x/internal/session"
)

const lowScoreThreshold = 70

// Summary describes a set of sessions, usually one trainee's history.
type Summary struct {
	TotalSessions int
	ByStatus      map[session.Status]int
	ByChannel     map[string]int
	ByEndReason   map[session.EndReason]int

	ScoredSessions   int
	AggregateAvg     float64
	AggregateMin     int
	AggregateMax     int
	TierCounts       map[rubric.Tier]int
	CategoryAverages map[rubric.Category]float64
	Strongest        rubric.Category
	Weakest          rubric.Category
	UserTurnsAvg     float64

	LowScores []LowScoreItem
}

// LowScoreItem is a graded session below the solid band.
type LowScoreItem struct {
	SessionID string
	Title     string
	Aggregate int
	Tier      rubric.Tier
	Summary   string
}

// Build summarizes sessions. Only the newest report of each session counts.
func Build(sessions []session.Session) Summary {
	out := Summary{
		TotalSessions:    len(sessions),
		ByStatus:         map[session.Status]int{},
		ByChannel:        map[string]int{},
		ByEndReason:      map[session.EndReason]int{},
		TierCounts:       map[rubric.Tier]int{},
		CategoryAverages: map[rubric.Category]float64{},
	}

	categorySums := map[rubric.Category]int{}
	categoryCounts := map[rubric.Category]int{}
	aggregateSum := 0
	userTurns := 0
	started := 0
	for _, s := range sessions {
		out.ByStatus[s.Status]++
		out.ByChannel[string(s.Scenario.Channel)]++
		if s.EndReason != "" {
			out.ByEndReason[s.EndReason]++
		}
		if s.Status != session.StatusNotStarted {
			started++
			userTurns += s.UserTurns()
		}

		latest, ok := s.LatestReport()
		if !ok {
			continue
		}
		out.ScoredSessions++
		if out.ScoredSessions == 1 {
			out.AggregateMin = latest.Aggregate
			out.AggregateMax = latest.Aggregate
		}
		if latest.Aggregate < out.AggregateMin {
			out.AggregateMin = latest.Aggregate
		}
		if latest.Aggregate > out.AggregateMax {
			out.AggregateMax = latest.Aggregate
		}
		aggregateSum += latest.Aggregate
		out.TierCounts[latest.Tier]++
		for _, c := range latest.Categories {
			categorySums[c.Category] += c.Score
			categoryCounts[c.Category]++
		}
		if latest.Aggregate < lowScoreThreshold {
			out.LowScores = append(out.LowScores, LowScoreItem{
				SessionID: s.ID,
				Title:     s.Scenario.Title,
				Aggregate: latest.Aggregate,
				Tier:      latest.Tier,
				Summary:   strings.TrimSpace(latest.Summary),
			})
		}
	}

	if out.ScoredSessions > 0 {
		out.AggregateAvg = float64(aggregateSum) / float64(out.ScoredSessions)
	}
	if started > 0 {
		out.UserTurnsAvg = float64(userTurns) / float64(started)
	}

	first := true
	for _, c := range rubric.Categories {
		n := categoryCounts[c]
		if n == 0 {
			continue
		}
		avg := float64(categorySums[c]) / float64(n)
		out.CategoryAverages[c] = avg
		if first {
			out.Strongest, out.Weakest = c, c
			first = false
			continue
		}
		if avg > out.CategoryAverages[out.Strongest] {
			out.Strongest = c
		}
		if avg < out.CategoryAverages[out.Weakest] {
			out.Weakest = c
		}
	}

	sort.Slice(out.LowScores, func(i, j int) bool {
		if out.LowScores[i].Aggregate == out.LowScores[j].Aggregate {
			return out.LowScores[i].SessionID < out.LowScores[j].SessionID
		}
		return out.LowScores[i].Aggregate < out.LowScores[j].Aggregate
	})
	if len(out.LowScores) > 10 {
		out.LowScores = out.LowScores[:10]
	}
	return out
}

// Markdown renders the summary as a progress document.
func Markdown(s Summary) string {
	var b strings.Builder
	b.WriteString("# Training Progress\n\n")
	b.WriteString("## Totals\n")
	b.WriteString(fmt.Sprintf("- sessions: `%d`\n", s.TotalSessions))
	for _, status := range []session.Status{session.StatusNotStarted, session.StatusInProgress, session.StatusCompleted, session.StatusAbandoned} {
		b.WriteString(fmt.Sprintf("- %s: `%d`\n", status, s.ByStatus[status]))
	}
	b.WriteString(fmt.Sprintf("- avg_user_turns: `%.1f`\n\n", s.UserTurnsAvg))

	b.WriteString("## Scores\n")
	if s.ScoredSessions == 0 {
		b.WriteString("- none\n")
		return b.String()
	}
	b.WriteString(fmt.Sprintf("- scored_sessions: `%d`\n", s.ScoredSessions))
	b.WriteString(fmt.Sprintf("- avg_aggregate: `%.1f`\n", s.AggregateAvg))
	b.WriteString(fmt.Sprintf("- min_aggregate: `%d`\n", s.AggregateMin))
	b.WriteString(fmt.Sprintf("- max_aggregate: `%d`\n\n", s.AggregateMax))

	b.WriteString("## Tiers\n")
	b.WriteString("| tier | label | sessions |\n")
	b.WriteString("| --- | --- | ---: |\n")
	for _, tier := range rubric.Tiers() {
		if n := s.TierCounts[tier]; n > 0 {
			b.WriteString(fmt.Sprintf("| `%s` | %s | `%d` |\n", tier, tier.Label(), n))
		}
	}
	b.WriteString("\n")

	b.WriteString("## Categories\n")
	b.WriteString("| category | avg_score |\n")
	b.WriteString("| --- | ---: |\n")
	for _, c := range rubric.Categories {
		if avg, ok := s.CategoryAverages[c]; ok {
			b.WriteString(fmt.Sprintf("| %s | `%.1f` |\n", c, avg))
		}
	}
	b.WriteString(fmt.Sprintf("\n- strongest: %s\n- weakest: %s\n\n", s.Strongest, s.Weakest))

	b.WriteString("## Low Scores\n")
	if len(s.LowScores) == 0 {
		b.WriteString("- none\n")
	} else {
		b.WriteString("| session_id | scenario | aggregate | tier | summary |\n")
		b.WriteString("| --- | --- | ---: | --- | --- |\n")
		for _, item := range s.LowScores {
			b.WriteString(fmt.Sprintf("| `%s` | %s | `%d` | `%s` | %s |\n",
				item.SessionID,
				item.Title,
				item.Aggregate,
				item.Tier,
				strings.ReplaceAll(item.Summary, "|", "/"),
			))
		}
	}
	return b.String()
}

// Format renders the headline numbers as key=value lines.
func Format(s Summary) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("total_sessions=%d\n", s.TotalSessions))
	b.WriteString(fmt.Sprintf("completed=%d\n", s.ByStatus[session.StatusCompleted]))
	b.WriteString(fmt.Sprintf("abandoned=%d\n", s.ByStatus[session.StatusAbandoned]))
	b.WriteString(fmt.Sprintf("scored_sessions=%d\n", s.ScoredSessions))
	b.WriteString(fmt.Sprintf("avg_aggregate=%.1f\n", s.AggregateAvg))
	b.WriteString(fmt.Sprintf("avg_user_turns=%.1f\n", s.UserTurnsAvg))
	if s.Strongest != "" {
		b.WriteString(fmt.Sprintf("strongest_category=%s\n", s.Strongest))
		b.WriteString(fmt.Sprintf("weakest_category=%s\n", s.Weakest))
	}
	return b.String()
}
