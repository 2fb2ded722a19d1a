package mode

import (
	"strings"

	"github.com/tetraminz/consultation_x/internal/scenario"
	"github.com/tetraminz/consultation_x/internal/transcript"
)

// Email is a threaded exchange. The trainee may send a follow-up or revised
// email before the client answers.
type Email struct{}

var _ Adapter = Email{}

func (Email) Channel() scenario.Channel { return scenario.ChannelEmail }

func (Email) FirstSpeaker() transcript.Speaker { return transcript.SpeakerUser }

func (Email) AllowsConsecutive(speaker transcript.Speaker) bool {
	return speaker == transcript.SpeakerUser
}

func (Email) Register() string {
	return "You are replying by email. Start with a line \"Subject: ...\" then a blank line, then a complete, professional email body with a greeting and a sign-off using your first name. Two short paragraphs at most."
}

func (Email) ValidateUserPayload(p transcript.Payload) (transcript.Payload, error) {
	body := strings.TrimSpace(p.Text)
	if body == "" {
		return p, payloadError("email body is empty")
	}
	return transcript.Payload{Text: body, Subject: strings.TrimSpace(p.Subject)}, nil
}

func (Email) Render(turn transcript.Turn, sc scenario.Scenario) View {
	subject := turn.Payload.Subject
	if subject == "" {
		subject = "Re: " + sc.Title
	}
	return View{
		Kind:      ViewEmail,
		Speaker:   turn.Speaker,
		Label:     speakerLabel(turn.Speaker, sc),
		Align:     "left",
		Subject:   subject,
		Body:      turn.Payload.Text,
		Timestamp: turn.Timestamp,
	}
}

func (Email) Terminates(raw string) (string, bool) {
	return stripMarker(raw, "[thread resolved]")
}

func (Email) ClosingNote() string { return "The client marked the thread resolved." }

// SplitSubject separates a leading "Subject:" line from an email body.
func SplitSubject(raw string) (subject, body string) {
	text := strings.TrimSpace(raw)
	first, rest, found := strings.Cut(text, "\n")
	line := strings.TrimSpace(first)
	if len(line) >= len("subject:") && strings.EqualFold(line[:len("subject:")], "subject:") {
		subject = strings.TrimSpace(line[len("subject:"):])
		if !found {
			return subject, ""
		}
		return subject, strings.TrimSpace(rest)
	}
	return "", text
}
