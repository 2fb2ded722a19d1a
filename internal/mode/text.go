package mode

import (
	"strings"
	"unicode/utf8"

	"github.com/tetraminz/consultation_x/internal/scenario"
	"github.com/tetraminz/consultation_x/internal/transcript"
)

// Text is an SMS-style chat: the trainee writes first, one bubble per turn.
type Text struct{}

var _ Adapter = Text{}

func (Text) Channel() scenario.Channel { return scenario.ChannelTextChat }

func (Text) FirstSpeaker() transcript.Speaker { return transcript.SpeakerUser }

func (Text) AllowsConsecutive(transcript.Speaker) bool { return false }

func (Text) Register() string {
	return "You are texting. Write like a busy professional on SMS: one to three short sentences, no greetings or sign-offs after the first message, occasional abbreviations are fine, never use markdown."
}

func (Text) ValidateUserPayload(p transcript.Payload) (transcript.Payload, error) {
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return p, payloadError("message is empty")
	}
	if n := utf8.RuneCountInString(text); n > maxTextChatLength {
		return p, payloadError("message is %d characters, limit is %d", n, maxTextChatLength)
	}
	return transcript.Payload{Text: text}, nil
}

func (Text) Render(turn transcript.Turn, sc scenario.Scenario) View {
	return View{
		Kind:      ViewBubble,
		Speaker:   turn.Speaker,
		Label:     speakerLabel(turn.Speaker, sc),
		Align:     align(turn.Speaker),
		Body:      turn.Payload.Text,
		Timestamp: turn.Timestamp,
	}
}

func (Text) Terminates(raw string) (string, bool) {
	return stripMarker(raw)
}

func (Text) ClosingNote() string { return "The client stopped replying." }
