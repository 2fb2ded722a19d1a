package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tetraminz/consultation_x/internal/consult"
	"github.com/tetraminz/consultation_x/internal/evaluate"
	"github.com/tetraminz/consultation_x/internal/llm"
	"github.com/tetraminz/consultation_x/internal/mode"
	"github.com/tetraminz/consultation_x/internal/persona"
	"github.com/tetraminz/consultation_x/internal/session"
	"github.com/tetraminz/consultation_x/internal/store"
	"github.com/tetraminz/consultation_x/internal/voice"
)

// app is a fully wired service plus the resources it owns.
type app struct {
	store   session.Store
	service *consult.Service
	audio   voice.AudioStore
}

func (a *app) Close() error {
	if a == nil || a.store == nil {
		return nil
	}
	return a.store.Close()
}

func (c *cli) openStore() (session.Store, error) {
	s, err := store.Open(c.cfg.Database.Driver, c.cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", c.cfg.Database.Driver, err)
	}
	return s, nil
}

// openApp validates the configuration and wires the practice service.
func (c *cli) openApp(ctx context.Context) (*app, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}
	st, err := c.openStore()
	if err != nil {
		return nil, err
	}
	a := &app{store: st}

	httpClient := &http.Client{Timeout: 2 * time.Minute}
	registry := llm.DefaultRegistry(httpClient)

	personaProvider, err := registry.New(ctx, c.cfg.Persona.Provider, c.cfg.APIKey(c.cfg.Persona.Provider))
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("persona provider: %w", err)
	}
	evaluatorProvider, err := registry.New(ctx, c.cfg.Evaluator.Provider, c.cfg.APIKey(c.cfg.Evaluator.Provider))
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("evaluator provider: %w", err)
	}

	phone, audio, err := c.openVoice(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.audio = audio

	svc, err := consult.New(consult.Deps{
		Store:   st,
		Persona: persona.New(personaProvider, c.cfg.PersonaSettings(), c.logger.Named("persona")),
		Scorer:  evaluate.New(evaluatorProvider, st, c.cfg.EvaluatorSettings(), c.logger.Named("evaluator")),
		Voice:   phone,
		Logger:  c.logger.Named("consult"),
	}, c.cfg.ConsultSettings())
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.service = svc
	return a, nil
}

// openVoice wires Gemini speech when enabled. Without a Gemini key phone
// sessions run text-only.
func (c *cli) openVoice(ctx context.Context) (*mode.PhoneVoice, voice.AudioStore, error) {
	if !c.cfg.Voice.Enabled {
		return nil, nil, nil
	}
	key := c.cfg.APIKey("gemini")
	if key == "" {
		c.logger.Warn("voice enabled but GEMINI_API_KEY is not set, phone calls will be text-only")
		return nil, nil, nil
	}
	gemini, err := llm.NewGeminiProvider(ctx, key)
	if err != nil {
		return nil, nil, fmt.Errorf("voice: %w", err)
	}
	audio, err := voice.NewFileStore(c.cfg.Voice.AudioDir)
	if err != nil {
		return nil, nil, fmt.Errorf("voice audio store: %w", err)
	}
	speech := voice.NewGemini(gemini.Client(), c.cfg.Voice.TTSModel, c.cfg.Voice.STTModel, c.logger.Named("voice"))
	phone := mode.NewPhoneVoice(speech, speech, audio, mode.PhoneVoiceConfig{
		SynthesisTimeout:     c.cfg.SynthesisTimeout(),
		TranscriptionTimeout: c.cfg.TranscriptionTimeout(),
		Voice:                voice.Params{Name: c.cfg.Voice.VoiceName},
	}, c.logger.Named("voice"))
	c.logger.Info("voice enabled", zap.String("tts_model", c.cfg.Voice.TTSModel), zap.String("stt_model", c.cfg.Voice.STTModel))
	return phone, audio, nil
}
