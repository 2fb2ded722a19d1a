// Package voice converts persona text to speech and trainee speech to text.
package voice

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptyTranscript = errors.New("transcript is empty or low confidence")
	ErrTimeout         = errors.New("voice call timed out")
	ErrEmptyAudio      = errors.New("audio is empty")
)

// Params selects the synthetic voice.
type Params struct {
	Name  string
	Style string
}

type Audio struct {
	Data     []byte
	MIMEType string
}

type Transcript struct {
	Text       string
	Confidence float64
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string, params Params) (Audio, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (Transcript, error)
}

// WithSynthesisTimeout bounds every call to s, even when s ignores ctx.
func WithSynthesisTimeout(s Synthesizer, timeout time.Duration) Synthesizer {
	return &synthWatchdog{next: s, timeout: timeout}
}

// WithTranscriptionTimeout bounds every call to t, even when t ignores ctx.
func WithTranscriptionTimeout(t Transcriber, timeout time.Duration) Transcriber {
	return &transcribeWatchdog{next: t, timeout: timeout}
}

type synthWatchdog struct {
	next    Synthesizer
	timeout time.Duration
}

func (w *synthWatchdog) Synthesize(ctx context.Context, text string, params Params) (Audio, error) {
	type result struct {
		audio Audio
		err   error
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		audio, err := w.next.Synthesize(ctx, text, params)
		done <- result{audio: audio, err: err}
	}()

	select {
	case r := <-done:
		return r.audio, r.err
	case <-ctx.Done():
		return Audio{}, watchdogError("synthesis", ctx.Err())
	}
}

type transcribeWatchdog struct {
	next    Transcriber
	timeout time.Duration
}

func (w *transcribeWatchdog) Transcribe(ctx context.Context, audio []byte, mimeType string) (Transcript, error) {
	type result struct {
		transcript Transcript
		err        error
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		transcript, err := w.next.Transcribe(ctx, audio, mimeType)
		done <- result{transcript: transcript, err: err}
	}()

	select {
	case r := <-done:
		return r.transcript, r.err
	case <-ctx.Done():
		return Transcript{}, watchdogError("transcription", ctx.Err())
	}
}

func watchdogError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}
