package mode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tetraminz/consultation_x/internal/scenario"
	"github.com/tetraminz/consultation_x/internal/transcript"
	"github.com/tetraminz/consultation_x/internal/voice"
)

// Phone is a live call: the client speaks first when the trainee picks up.
type Phone struct{}

var _ Adapter = Phone{}

var ErrVoiceUnavailable = errors.New("voice input unavailable, type your reply instead")

func (Phone) Channel() scenario.Channel { return scenario.ChannelPhoneCall }

func (Phone) FirstSpeaker() transcript.Speaker { return transcript.SpeakerPersona }

func (Phone) AllowsConsecutive(transcript.Speaker) bool { return false }

func (Phone) Register() string {
	return "You are on a phone call. Talk like a real person: casual and natural, filler words sometimes, two to four sentences. Never write stage directions except [hangs up] when you end the call."
}

func (Phone) ValidateUserPayload(p transcript.Payload) (transcript.Payload, error) {
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return p, payloadError("nothing was said")
	}
	return transcript.Payload{Text: text}, nil
}

func (Phone) Render(turn transcript.Turn, sc scenario.Scenario) View {
	return View{
		Kind:      ViewCallLine,
		Speaker:   turn.Speaker,
		Label:     speakerLabel(turn.Speaker, sc),
		Align:     align(turn.Speaker),
		Body:      turn.Payload.Text,
		AudioRef:  turn.Payload.AudioRef,
		Fallback:  turn.Payload.VoiceFallback,
		Timestamp: turn.Timestamp,
	}
}

func (Phone) Terminates(raw string) (string, bool) {
	return stripMarker(raw, "[hangs up]", "*hangs up*")
}

func (Phone) ClosingNote() string { return "The client hung up." }

// PhoneVoice orchestrates speech for phone sessions. Every call is bounded
// and failures degrade to text.
type PhoneVoice struct {
	synth       voice.Synthesizer
	transcriber voice.Transcriber
	audio       voice.AudioStore
	params      voice.Params
	logger      *zap.Logger
}

type PhoneVoiceConfig struct {
	SynthesisTimeout     time.Duration
	TranscriptionTimeout time.Duration
	Voice                voice.Params
}

// NewPhoneVoice wraps synth and transcriber in watchdogs. Any collaborator
// may be nil; missing collaborators behave like failing ones.
func NewPhoneVoice(synth voice.Synthesizer, transcriber voice.Transcriber, audio voice.AudioStore, cfg PhoneVoiceConfig, logger *zap.Logger) *PhoneVoice {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SynthesisTimeout <= 0 {
		cfg.SynthesisTimeout = 15 * time.Second
	}
	if cfg.TranscriptionTimeout <= 0 {
		cfg.TranscriptionTimeout = 10 * time.Second
	}
	pv := &PhoneVoice{audio: audio, params: cfg.Voice, logger: logger}
	if synth != nil {
		pv.synth = voice.WithSynthesisTimeout(synth, cfg.SynthesisTimeout)
	}
	if transcriber != nil {
		pv.transcriber = voice.WithTranscriptionTimeout(transcriber, cfg.TranscriptionTimeout)
	}
	return pv
}

// PersonaAudio attaches synthesized speech to a persona payload. On any
// failure it returns the payload marked as a text-only fallback.
func (v *PhoneVoice) PersonaAudio(ctx context.Context, key string, p transcript.Payload) transcript.Payload {
	fallback := p
	fallback.AudioRef = ""
	fallback.VoiceFallback = true
	if v == nil || v.synth == nil || v.audio == nil {
		return fallback
	}

	audio, err := v.synth.Synthesize(ctx, p.Text, v.params)
	if err != nil {
		v.logger.Warn("persona speech synthesis failed, using text", zap.String("key", key), zap.Error(err))
		return fallback
	}
	ref, err := v.audio.Save(ctx, key, audio)
	if err != nil {
		v.logger.Warn("persona audio could not be stored, using text", zap.String("key", key), zap.Error(err))
		return fallback
	}
	p.AudioRef = ref
	p.VoiceFallback = false
	return p
}

// UserText transcribes a spoken reply. Every failure maps to
// ErrVoiceUnavailable so the caller can ask for typed input.
func (v *PhoneVoice) UserText(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if v == nil || v.transcriber == nil {
		return "", ErrVoiceUnavailable
	}
	out, err := v.transcriber.Transcribe(ctx, audio, mimeType)
	if err != nil {
		v.logger.Warn("transcription failed", zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrVoiceUnavailable, err)
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", fmt.Errorf("%w: %w", ErrVoiceUnavailable, voice.ErrEmptyTranscript)
	}
	return text, nil
}
