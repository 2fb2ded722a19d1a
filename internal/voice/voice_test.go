package voice

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func TestPCMToWAVHeader(t *testing.T) {
	t.Parallel()

	pcm := []byte{1, 2, 3, 4, 5, 6}
	wav := PCMToWAV(pcm, PCMSampleRate, PCMChannels, PCMBitsPerSample)

	if got, want := len(wav), 44+len(pcm); got != want {
		t.Fatalf("wav length got %d want %d", got, want)
	}
	if !bytes.Equal(wav[0:4], []byte("RIFF")) || !bytes.Equal(wav[8:12], []byte("WAVE")) || !bytes.Equal(wav[36:40], []byte("data")) {
		t.Fatalf("missing RIFF markers: %q", wav[:44])
	}
	if got, want := binary.LittleEndian.Uint32(wav[4:8]), uint32(36+len(pcm)); got != want {
		t.Fatalf("chunk size got %d want %d", got, want)
	}
	if got, want := binary.LittleEndian.Uint32(wav[24:28]), uint32(24000); got != want {
		t.Fatalf("sample rate got %d want %d", got, want)
	}
	if got, want := binary.LittleEndian.Uint32(wav[28:32]), uint32(48000); got != want {
		t.Fatalf("byte rate got %d want %d", got, want)
	}
	if !bytes.Equal(wav[44:], pcm) {
		t.Fatalf("pcm payload not appended")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	ctx := context.Background()

	ref, err := store.Save(ctx, "session/1:turn 0", Audio{Data: []byte("wavdata"), MIMEType: "audio/wav"})
	if err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if got, want := ref, "session_1_turn_0.wav"; got != want {
		t.Fatalf("ref got %q want %q", got, want)
	}

	audio, err := store.Load(ctx, ref)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got, want := string(audio.Data), "wavdata"; got != want {
		t.Fatalf("data got %q want %q", got, want)
	}
	if got, want := audio.MIMEType, "audio/wav"; got != want {
		t.Fatalf("mime got %q want %q", got, want)
	}

	if _, err := store.Load(ctx, "missing.wav"); !errors.Is(err, ErrAudioNotFound) {
		t.Fatalf("expected ErrAudioNotFound, got %v", err)
	}
	if _, err := store.Load(ctx, "../escape.wav"); err == nil {
		t.Fatalf("expected error for path traversal")
	}
	if _, err := store.Save(ctx, "empty", Audio{}); !errors.Is(err, ErrEmptyAudio) {
		t.Fatalf("expected ErrEmptyAudio, got %v", err)
	}
}

type stuckTranscriber struct {
	release chan struct{}
}

func (s stuckTranscriber) Transcribe(context.Context, []byte, string) (Transcript, error) {
	<-s.release
	return Transcript{Text: "too late", Confidence: 1}, nil
}

type stuckSynthesizer struct {
	release chan struct{}
}

func (s stuckSynthesizer) Synthesize(context.Context, string, Params) (Audio, error) {
	<-s.release
	return Audio{Data: []byte("late")}, nil
}

func TestWatchdogsBoundCallsThatIgnoreContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	transcriber := WithTranscriptionTimeout(stuckTranscriber{release: release}, 20*time.Millisecond)
	start := time.Now()
	if _, err := transcriber.Transcribe(context.Background(), []byte("audio"), "audio/wav"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("watchdog took %s", elapsed)
	}

	synth := WithSynthesisTimeout(stuckSynthesizer{release: release}, 20*time.Millisecond)
	if _, err := synth.Synthesize(context.Background(), "hello", Params{}); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

type fixedTranscriber struct{ out Transcript }

func (f fixedTranscriber) Transcribe(context.Context, []byte, string) (Transcript, error) {
	return f.out, nil
}

func TestWatchdogPassesThroughFastResults(t *testing.T) {
	t.Parallel()

	transcriber := WithTranscriptionTimeout(fixedTranscriber{out: Transcript{Text: "hi", Confidence: 0.9}}, time.Second)
	got, err := transcriber.Transcribe(context.Background(), []byte("a"), "audio/wav")
	if err != nil {
		t.Fatalf("Transcribe error: %v", err)
	}
	if got.Text != "hi" {
		t.Fatalf("text got %q want hi", got.Text)
	}
}

func TestDecodeTranscript(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{name: "confident", raw: `{"text":" I already have an agent. ","confidence":0.92}`, want: "I already have an agent."},
		{name: "low confidence", raw: `{"text":"mumble","confidence":0.1}`, wantErr: ErrEmptyTranscript},
		{name: "silence", raw: `{"text":"","confidence":0.99}`, wantErr: ErrEmptyTranscript},
	}
	for _, tt := range tests {
		got, err := decodeTranscript(tt.raw)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("%s: err got %v want %v", tt.name, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tt.name, err)
		}
		if got.Text != tt.want {
			t.Fatalf("%s: text got %q want %q", tt.name, got.Text, tt.want)
		}
	}

	if _, err := decodeTranscript(`{"text":"x","confidence":1,"extra":true}`); err == nil {
		t.Fatalf("unknown fields must be rejected")
	}
}
