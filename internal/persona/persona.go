// Package persona plays the simulated client through a generative-text
// provider.
package persona

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/tetraminz/consultation_x/internal/llm"
	"github.com/tetraminz/consultation_x/internal/mode"
	"github.com/tetraminz/consultation_x/internal/scenario"
	"github.com/tetraminz/consultation_x/internal/transcript"
)

var ErrPersonaGeneration = errors.New("persona generation failed")

// PersonaGenerationError is returned after every attempt failed.
type PersonaGenerationError struct {
	Attempts int
	Cause    error
}

func (e *PersonaGenerationError) Error() string {
	return fmt.Sprintf("persona generation failed after %d attempt(s): %v", e.Attempts, e.Cause)
}

func (e *PersonaGenerationError) Unwrap() error { return e.Cause }

func (e *PersonaGenerationError) Is(target error) bool { return target == ErrPersonaGeneration }

type Config struct {
	Model              string
	Temperature        float64
	MaxTokens          int
	OpeningTemperature float64
	OpeningMaxTokens   int
	Timeout            time.Duration
	MaxAttempts        int
}

func DefaultConfig() Config {
	return Config{
		Model:              "llama-3.3-70b-versatile",
		Temperature:        0.8,
		MaxTokens:          300,
		OpeningTemperature: 0.9,
		OpeningMaxTokens:   200,
		Timeout:            20 * time.Second,
		MaxAttempts:        2,
	}
}

// Reply is one generated persona turn.
type Reply struct {
	Payload  transcript.Payload
	Closing  bool
	Model    string
	Attempts int
	Canned   bool
}

type Simulator struct {
	provider llm.Provider
	cfg      Config
	logger   *zap.Logger
}

// New builds a simulator on provider. Unset model, token limits, timeout and
// attempts fall back to DefaultConfig.
func New(provider llm.Provider, cfg Config, logger *zap.Logger) *Simulator {
	defaults := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.OpeningMaxTokens <= 0 {
		cfg.OpeningMaxTokens = defaults.OpeningMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{provider: provider, cfg: cfg, logger: logger}
}

// NextTurn generates the persona's reply to the transcript so far.
func (s *Simulator) NextTurn(ctx context.Context, sc scenario.Scenario, turns []transcript.Turn) (Reply, error) {
	adapter, err := mode.For(sc.Channel)
	if err != nil {
		return Reply{}, err
	}
	messages := History(turns)
	if len(messages) == 0 {
		return Reply{}, errors.New("persona needs at least one turn to reply to")
	}
	return s.generate(ctx, "persona.NextTurn", sc, adapter, llm.Request{
		Model:       s.cfg.Model,
		System:      SystemPrompt(sc, adapter),
		Messages:    messages,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
}

// OpeningLine returns the line the persona answers a call with. It never
// fails: the scenario's scripted line wins, then the model, then a canned line.
func (s *Simulator) OpeningLine(ctx context.Context, sc scenario.Scenario) Reply {
	if sc.OpeningLine != "" {
		return Reply{Payload: transcript.Payload{Text: sc.OpeningLine}, Canned: true}
	}

	adapter, err := mode.For(sc.Channel)
	if err == nil {
		reply, genErr := s.generate(ctx, "persona.OpeningLine", sc, adapter, llm.Request{
			Model:       s.cfg.Model,
			System:      SystemPrompt(sc, adapter),
			Messages:    []llm.Message{{Role: llm.RoleUser, Content: openingCue}},
			Temperature: s.cfg.OpeningTemperature,
			MaxTokens:   s.cfg.OpeningMaxTokens,
		})
		if genErr == nil {
			return reply
		}
		err = genErr
	}
	s.logger.Warn("opening line generation failed, using canned line", zap.Error(err))
	return Reply{Payload: transcript.Payload{Text: CannedOpening(sc)}, Canned: true}
}

// CannedOpening is the last-resort opening line.
func CannedOpening(sc scenario.Scenario) string {
	company := sc.Persona.Brokerage
	if company == "" {
		company = "my brokerage"
	}
	return fmt.Sprintf("Hi, this is %s from %s. Do you have a minute?", sc.Persona.DisplayName, company)
}

func (s *Simulator) generate(ctx context.Context, spanName string, sc scenario.Scenario, adapter mode.Adapter, req llm.Request) (Reply, error) {
	ctx, span := otel.Tracer("persona").Start(ctx, spanName)
	defer span.End()
	span.SetAttributes(
		attribute.String("scenario.id", sc.ID),
		attribute.String("scenario.channel", string(sc.Channel)),
		attribute.String("llm.model", req.Model),
	)

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		attempts = attempt
		started := time.Now()

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		resp, err := s.provider.Complete(callCtx, req)
		cancel()

		if err == nil {
			var payload transcript.Payload
			var closing bool
			payload, closing, err = Clean(resp.Content, sc, adapter)
			if err == nil {
				s.logger.Debug("persona turn generated",
					zap.String("scenario_id", sc.ID),
					zap.Int("attempt", attempt),
					zap.String("model", resp.Model),
					zap.Bool("closing", closing),
					zap.Duration("duration", time.Since(started)),
				)
				return Reply{Payload: payload, Closing: closing, Model: resp.Model, Attempts: attempt}, nil
			}
		}

		lastErr = err
		s.logger.Warn("persona attempt failed",
			zap.String("scenario_id", sc.ID),
			zap.Int("attempt", attempt),
			zap.String("model", req.Model),
			zap.Duration("duration", time.Since(started)),
			zap.Error(err),
		)
		if ctx.Err() != nil || llm.Permanent(err) {
			break
		}
	}

	genErr := &PersonaGenerationError{Attempts: attempts, Cause: lastErr}
	span.RecordError(genErr)
	span.SetStatus(codes.Error, genErr.Error())
	return Reply{}, genErr
}
