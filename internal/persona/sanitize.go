package persona

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tetraminz/consultation_x/internal/mode"
	"github.com/tetraminz/consultation_x/internal/scenario"
	"github.com/tetraminz/consultation_x/internal/transcript"
)

var ErrMalformed = errors.New("malformed persona response")

var breakCharacterPatterns = []string{
	"as an ai",
	"as a language model",
	"i'm an ai",
	"i am an ai",
	"ai assistant",
	"language model",
	"this simulation",
	"training simulation",
	"this roleplay",
	"role-play",
	"my programming",
	"i was programmed to",
	"how can i assist",
}

var labelPrefix = regexp.MustCompile(`^\s*\[?([A-Za-z][A-Za-z .'\-]{0,40})\]?\s*:\s*`)

// BreaksCharacter reports whether text reveals the persona is a model.
func BreaksCharacter(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range breakCharacterPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Clean turns raw model output into a persona payload for the channel.
func Clean(raw string, sc scenario.Scenario, adapter mode.Adapter) (transcript.Payload, bool, error) {
	text, closing := adapter.Terminates(raw)
	text = stripSpeakerLabel(text, sc.Persona)
	text = strings.Trim(text, "\"“” \n\t")

	if BreaksCharacter(text) {
		return transcript.Payload{}, closing, fmt.Errorf("%w: persona broke character", ErrMalformed)
	}

	var subject string
	if adapter.Channel() == scenario.ChannelEmail {
		subject, text = mode.SplitSubject(text)
	}

	if text == "" {
		if !closing {
			return transcript.Payload{}, false, fmt.Errorf("%w: empty reply", ErrMalformed)
		}
		text = "[" + adapter.ClosingNote() + "]"
	}
	return transcript.Payload{Text: text, Subject: subject}, closing, nil
}

func stripSpeakerLabel(text string, p scenario.Persona) string {
	m := labelPrefix.FindStringSubmatchIndex(text)
	if m == nil {
		return strings.TrimSpace(text)
	}
	label := strings.ToLower(strings.TrimSpace(text[m[2]:m[3]]))
	switch label {
	case strings.ToLower(p.DisplayName), strings.ToLower(p.FirstName), "client", "persona", "customer", "assistant":
		return strings.TrimSpace(text[m[1]:])
	}
	return strings.TrimSpace(text)
}
