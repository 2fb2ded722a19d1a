package persona

import (
	"fmt"
	"strings"

	"github.com/tetraminz/consultation_x/internal/llm"
	"github.com/tetraminz/consultation_x/internal/mode"
	"github.com/tetraminz/consultation_x/internal/scenario"
	"github.com/tetraminz/consultation_x/internal/transcript"
)

const openingCue = "[The phone is ringing. You are the client and you initiated this call. Say your opening line.]"

// SystemPrompt is the fixed instruction that keeps the model in character.
func SystemPrompt(sc scenario.Scenario, adapter mode.Adapter) string {
	p := sc.Persona
	var b strings.Builder

	fmt.Fprintf(&b, "You are playing a real estate client in a %s with someone from a real estate media company. This is a training exercise but you must NEVER break character.\n\n", strings.ToLower(sc.Channel.Label()))

	b.WriteString("WHO YOU ARE:\n")
	fmt.Fprintf(&b, "- Name: %s\n", p.DisplayName)
	if p.Brokerage != "" {
		fmt.Fprintf(&b, "- Brokerage: %s\n", p.Brokerage)
	}
	fmt.Fprintf(&b, "- Personality: %s\n\n", p.Personality)

	b.WriteString("THE SITUATION:\n")
	b.WriteString(sc.Brief)
	b.WriteString("\n\n")

	b.WriteString("PROPERTY DETAILS:\n")
	fmt.Fprintf(&b, "- Location: %s\n- Type: %s\n- Size: %s sq ft\n- List Price: %s\n\n", p.City, p.PropertyType, p.SquareFootage, p.ListingPrice)

	b.WriteString("YOUR HIDDEN GOAL (never reveal it directly, the other person must figure it out):\n")
	b.WriteString(p.HiddenGoal)
	b.WriteString("\n\n")

	writeList(&b, "YOUR PAIN POINTS (bring these up naturally):", p.PainPoints)
	writeList(&b, "YOUR OBJECTIONS (use when appropriate, one at a time):", p.Objections)
	writeList(&b, "THINGS THAT WILL MAKE YOU ANGRY:", p.DealBreakers)

	b.WriteString("HOW TO BEHAVE:\n")
	b.WriteString("1. You are a real person, not an assistant. Never offer help or ask how you can assist.\n")
	fmt.Fprintf(&b, "2. %s\n", adapter.Register())
	b.WriteString("3. If they do a good job (smart questions, empathy), warm up gradually.\n")
	b.WriteString("4. If they are pushy, dismissive or robotic, get more difficult.\n")
	b.WriteString("5. Use your objections naturally, do not dump them all at once.\n")
	b.WriteString("6. If they uncover your hidden goal, start moving toward a resolution.\n")
	fmt.Fprintf(&b, "7. When the conversation is over, either because it went really well or really badly, finish your last message with %s.\n", mode.ClosingMarker)
	b.WriteString("8. NEVER say you are an AI. NEVER mention a simulation or training. Reply only with your own words, no name prefix.\n")
	fmt.Fprintf(&b, "9. Difficulty: %s (%s).\n", sc.Difficulty, difficultyGuidance(sc.Difficulty))

	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(title)
	b.WriteString("\n")
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	b.WriteString("\n")
}

func difficultyGuidance(d scenario.Difficulty) string {
	switch d {
	case scenario.DifficultyHard:
		return "be tough but fair"
	case scenario.DifficultyMedium:
		return "be reasonable"
	}
	return "be fairly easy to work with"
}

// History maps turns onto chat messages from the persona's point of view.
// Consecutive turns by the same speaker are merged.
func History(turns []transcript.Turn) []llm.Message {
	messages := make([]llm.Message, 0, len(turns)+1)
	for _, turn := range turns {
		role := llm.RoleUser
		if turn.Speaker == transcript.SpeakerPersona {
			role = llm.RoleAssistant
		}
		content := turn.Payload.Text
		if subject := strings.TrimSpace(turn.Payload.Subject); subject != "" {
			content = "Subject: " + subject + "\n\n" + content
		}
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content += "\n\n" + content
			continue
		}
		messages = append(messages, llm.Message{Role: role, Content: content})
	}
	if len(messages) > 0 && messages[0].Role == llm.RoleAssistant {
		messages = append([]llm.Message{{Role: llm.RoleUser, Content: openingCue}}, messages...)
	}
	return messages
}
