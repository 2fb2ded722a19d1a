package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/tetraminz/consultation_x/internal/rubric"
)

var (
	colorGreen  = lipgloss.Color("#a6e3a1")
	colorYellow = lipgloss.Color("#f9e2af")
	colorPeach  = lipgloss.Color("#fab387")
	colorRed    = lipgloss.Color("#f38ba8")
	colorSubtle = lipgloss.Color("#6c7086")

	cardStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(colorSubtle).
			Padding(0, 1)
	titleStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(colorSubtle)
)

func tierColor(t rubric.Tier) lipgloss.Color {
	switch {
	case t.Rank() < 0:
		return colorSubtle
	case t.Rank() <= rubric.TierAMinus.Rank():
		return colorGreen
	case t.Rank() <= rubric.TierBMinus.Rank():
		return colorYellow
	case t.Rank() <= rubric.TierCMinus.Rank():
		return colorPeach
	}
	return colorRed
}

func scoreBar(score int) string {
	const width = 20
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	filled := score * width / 100
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// RenderScore draws one report as a terminal card.
func RenderScore(r rubric.ScoreReport) string {
	tier := lipgloss.NewStyle().Bold(true).Foreground(tierColor(r.Tier)).
		Render(fmt.Sprintf("%s  %d/100  %s", r.Tier, r.Aggregate, r.TierLabel))

	lines := []string{titleStyle.Render("Score Report"), tier, ""}
	for _, c := range r.Categories {
		lines = append(lines, fmt.Sprintf("%-24s %s %3d", c.Category, scoreBar(c.Score), c.Score))
	}
	lines = append(lines, "",
		fmt.Sprintf("Client satisfaction: %d/100", r.ClientSatisfaction),
		fmt.Sprintf("Deal outcome: %s", strings.ReplaceAll(string(r.DealOutcome), "_", " ")),
	)
	lines = appendList(lines, "Strengths", r.Strengths)
	lines = appendList(lines, "To improve", r.Improvements)
	lines = appendList(lines, "Key moments", r.KeyMoments)
	if summary := strings.TrimSpace(r.Summary); summary != "" {
		lines = append(lines, "", summary)
	}
	if r.Model != "" {
		lines = append(lines, "", mutedStyle.Render("graded by "+r.Model))
	}
	return cardStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// RenderSummary draws a progress summary.
func RenderSummary(s Summary) string {
	lines := []string{
		titleStyle.Render("Training Progress"),
		fmt.Sprintf("Sessions: %d  Scored: %d  Avg turns: %.1f", s.TotalSessions, s.ScoredSessions, s.UserTurnsAvg),
	}
	if s.ScoredSessions == 0 {
		lines = append(lines, mutedStyle.Render("No graded sessions yet."))
		return cardStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
	}

	avgTier := rubric.TierFor(int(s.AggregateAvg + 0.5))
	lines = append(lines,
		lipgloss.NewStyle().Foreground(tierColor(avgTier)).
			Render(fmt.Sprintf("Average %.1f (%s), range %d-%d", s.AggregateAvg, avgTier, s.AggregateMin, s.AggregateMax)),
		"",
	)
	for _, c := range rubric.Categories {
		avg, ok := s.CategoryAverages[c]
		if !ok {
			continue
		}
		marker := "  "
		switch c {
		case s.Strongest:
			marker = "+ "
		case s.Weakest:
			marker = "- "
		}
		lines = append(lines, fmt.Sprintf("%s%-24s %s %5.1f", marker, c, scoreBar(int(avg+0.5)), avg))
	}

	tiers := make([]string, 0, len(s.TierCounts))
	for _, tier := range rubric.Tiers() {
		if n := s.TierCounts[tier]; n > 0 {
			tiers = append(tiers, lipgloss.NewStyle().Foreground(tierColor(tier)).Render(fmt.Sprintf("%s×%d", tier, n)))
		}
	}
	lines = append(lines, "", "Tiers: "+strings.Join(tiers, " "))
	return cardStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func appendList(lines []string, title string, items []string) []string {
	if len(items) == 0 {
		return lines
	}
	lines = append(lines, "", titleStyle.Render(title))
	for _, item := range items {
		lines = append(lines, "• "+item)
	}
	return lines
}
