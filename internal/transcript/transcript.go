package transcript

import (
	"fmt"
	"strings"
	"time"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerUser    Speaker = "user"
	SpeakerPersona Speaker = "persona"
)

func (s Speaker) Valid() bool {
	return s == SpeakerUser || s == SpeakerPersona
}

// Payload is the channel-specific content of a turn.
type Payload struct {
	Text          string `json:"text"`
	Subject       string `json:"subject,omitempty"`
	AudioRef      string `json:"audio_ref,omitempty"`
	VoiceFallback bool   `json:"voice_fallback,omitempty"`
}

// Turn is one utterance. Turns are never edited after they are appended.
type Turn struct {
	Index     int       `json:"index"`
	Speaker   Speaker   `json:"speaker"`
	Payload   Payload   `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Render formats turns chronologically as "[Speaker]: text" lines.
func Render(turns []Turn, userLabel, personaLabel string) string {
	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		label := userLabel
		if turn.Speaker == SpeakerPersona {
			label = personaLabel
		}
		text := turn.Payload.Text
		if subject := strings.TrimSpace(turn.Payload.Subject); subject != "" {
			text = "Subject: " + subject + "\n" + text
		}
		lines = append(lines, fmt.Sprintf("[%s]: %s", label, text))
	}
	return strings.Join(lines, "\n")
}

// CountBySpeaker returns how many turns the speaker produced.
func CountBySpeaker(turns []Turn, speaker Speaker) int {
	n := 0
	for _, turn := range turns {
		if turn.Speaker == speaker {
			n++
		}
	}
	return n
}

// Clone returns a copy that shares no backing array with turns.
func Clone(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}
