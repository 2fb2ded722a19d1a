// Package mode holds the per-channel policies layered on the shared session
// core: turn order, payload rules, rendering and completion triggers.
package mode

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tetraminz/consultation_x/internal/scenario"
	"github.com/tetraminz/consultation_x/internal/session"
	"github.com/tetraminz/consultation_x/internal/transcript"
)

// ClosingMarker is the token the persona appends when it ends the conversation.
const ClosingMarker = "<<END>>"

const maxTextChatLength = 1000

var ErrInvalidPayload = errors.New("invalid turn payload")

// Adapter is the channel policy. It satisfies session.Policy.
type Adapter interface {
	session.Policy
	Channel() scenario.Channel
	// Register is the writing-style instruction given to the persona.
	Register() string
	ValidateUserPayload(p transcript.Payload) (transcript.Payload, error)
	Render(turn transcript.Turn, sc scenario.Scenario) View
	// Terminates strips channel closing cues from raw persona output and
	// reports whether the persona ended the conversation.
	Terminates(raw string) (string, bool)
	ClosingNote() string
}

// View is the presentation of one turn.
type View struct {
	Kind      string             `json:"kind"`
	Speaker   transcript.Speaker `json:"speaker"`
	Label     string             `json:"label"`
	Align     string             `json:"align"`
	Subject   string             `json:"subject,omitempty"`
	Body      string             `json:"body"`
	AudioRef  string             `json:"audio_ref,omitempty"`
	Fallback  bool               `json:"voice_fallback,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

const (
	ViewBubble   = "bubble"
	ViewEmail    = "email"
	ViewCallLine = "call_line"
)

// For returns the adapter for channel, or a *scenario.InputError wrapping
// scenario.ErrInvalidChannel.
func For(channel scenario.Channel) (Adapter, error) {
	switch channel {
	case scenario.ChannelPhoneCall:
		return Phone{}, nil
	case scenario.ChannelTextChat:
		return Text{}, nil
	case scenario.ChannelEmail:
		return Email{}, nil
	}
	return nil, &scenario.InputError{Kind: scenario.ErrInvalidChannel, Value: string(channel)}
}

func speakerLabel(speaker transcript.Speaker, sc scenario.Scenario) string {
	if speaker == transcript.SpeakerPersona {
		return sc.Persona.DisplayName
	}
	return "You"
}

func align(speaker transcript.Speaker) string {
	if speaker == transcript.SpeakerUser {
		return "right"
	}
	return "left"
}

// stripMarker removes ClosingMarker and any of cues (case-insensitive).
func stripMarker(raw string, cues ...string) (string, bool) {
	closing := false
	text := raw
	if strings.Contains(text, ClosingMarker) {
		closing = true
		text = strings.ReplaceAll(text, ClosingMarker, "")
	}
	for _, cue := range cues {
		idx := indexFold(text, cue)
		if idx < 0 {
			continue
		}
		closing = true
		text = text[:idx] + text[idx+len(cue):]
	}
	return strings.TrimSpace(text), closing
}

// indexFold is a case-insensitive strings.Index whose result is a byte
// offset into s. Windows are taken from s itself, so offsets stay valid when
// folding would change a rune's encoded length.
func indexFold(s, substr string) int {
	n := len(substr)
	for i := 0; i+n <= len(s); i++ {
		if !utf8.RuneStart(s[i]) {
			continue
		}
		if strings.EqualFold(s[i:i+n], substr) {
			return i
		}
	}
	return -1
}

func payloadError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayload, fmt.Sprintf(format, args...))
}
