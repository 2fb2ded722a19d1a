package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	DefaultTTSModel   = "gemini-2.5-flash-preview-tts"
	DefaultSTTModel   = "gemini-2.5-flash"
	DefaultVoiceName  = "Kore"
	minimumConfidence = 0.4
)

const transcriptSchemaJSON = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["text", "confidence"],
  "properties": {
    "text": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

var transcriptSchema = mustParseSchema(transcriptSchemaJSON)

// Gemini implements Synthesizer and Transcriber on the Gemini API.
type Gemini struct {
	client   *genai.Client
	ttsModel string
	sttModel string
	logger   *zap.Logger
}

var (
	_ Synthesizer = (*Gemini)(nil)
	_ Transcriber = (*Gemini)(nil)
)

func NewGemini(client *genai.Client, ttsModel, sttModel string, logger *zap.Logger) *Gemini {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(ttsModel) == "" {
		ttsModel = DefaultTTSModel
	}
	if strings.TrimSpace(sttModel) == "" {
		sttModel = DefaultSTTModel
	}
	return &Gemini{client: client, ttsModel: ttsModel, sttModel: sttModel, logger: logger}
}

func (g *Gemini) Synthesize(ctx context.Context, text string, params Params) (Audio, error) {
	ctx, span := otel.Tracer("voice").Start(ctx, "voice.Synthesize")
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return Audio{}, errors.New("nothing to synthesize")
	}
	voiceName := params.Name
	if voiceName == "" {
		voiceName = DefaultVoiceName
	}
	prompt := text
	if params.Style != "" {
		prompt = "Say this " + params.Style + ": " + text
	}
	span.SetAttributes(attribute.String("voice.name", voiceName), attribute.Int("voice.text_length", len(text)))

	resp, err := g.client.Models.GenerateContent(ctx, g.ttsModel, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voiceName},
			},
		},
	})
	if err != nil {
		span.RecordError(err)
		g.logger.Warn("speech synthesis failed", zap.Error(err))
		return Audio{}, fmt.Errorf("gemini tts: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Audio{}, ErrEmptyAudio
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		wav := PCMToWAV(part.InlineData.Data, PCMSampleRate, PCMChannels, PCMBitsPerSample)
		span.SetAttributes(attribute.Int("voice.audio_bytes", len(wav)))
		return Audio{Data: wav, MIMEType: "audio/wav"}, nil
	}
	return Audio{}, ErrEmptyAudio
}

func (g *Gemini) Transcribe(ctx context.Context, audio []byte, mimeType string) (Transcript, error) {
	ctx, span := otel.Tracer("voice").Start(ctx, "voice.Transcribe")
	defer span.End()

	if len(audio) == 0 {
		return Transcript{}, ErrEmptyAudio
	}
	if strings.TrimSpace(mimeType) == "" {
		mimeType = "audio/wav"
	}
	span.SetAttributes(attribute.Int("voice.audio_bytes", len(audio)), attribute.String("voice.mime_type", mimeType))

	temperature := float32(0)
	resp, err := g.client.Models.GenerateContent(ctx, g.sttModel, []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: "Transcribe the speech in this recording verbatim. Report your confidence between 0 and 1. Return an empty text if nothing intelligible was said."},
			{InlineData: &genai.Blob{Data: audio, MIMEType: mimeType}},
		},
	}}, &genai.GenerateContentConfig{
		Temperature:        &temperature,
		ResponseMIMEType:   "application/json",
		ResponseJsonSchema: transcriptSchema,
	})
	if err != nil {
		span.RecordError(err)
		g.logger.Warn("speech transcription failed", zap.Error(err))
		return Transcript{}, fmt.Errorf("gemini stt: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Transcript{}, ErrEmptyTranscript
	}

	var raw strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			raw.WriteString(part.Text)
		}
	}
	return decodeTranscript(raw.String())
}

func decodeTranscript(raw string) (Transcript, error) {
	var payload struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}
	decoder := json.NewDecoder(bytes.NewReader([]byte(raw)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&payload); err != nil {
		return Transcript{}, fmt.Errorf("decode transcript: %w", err)
	}
	out := Transcript{Text: strings.TrimSpace(payload.Text), Confidence: payload.Confidence}
	if out.Text == "" || out.Confidence < minimumConfidence {
		return out, ErrEmptyTranscript
	}
	return out, nil
}

func mustParseSchema(raw string) map[string]any {
	var schema map[string]any
	if err := json.Unmarshal([]byte(raw), &schema); err != nil {
		panic(fmt.Sprintf("invalid transcript schema: %v", err))
	}
	return schema
}
