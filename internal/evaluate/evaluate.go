// Package evaluate grades completed sessions with a structured-output model.
package evaluate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/tetraminz/consultation_x/internal/llm"
	"github.com/tetraminz/consultation_x/internal/rubric"
	"github.com/tetraminz/consultation_x/internal/session"
)

const stageScore = "score"

var ErrSessionNotComplete = errors.New("session is not complete")

// EventRecorder persists one audit row per grading attempt.
type EventRecorder interface {
	RecordLLMEvent(ctx context.Context, event session.LLMEvent) error
}

type Config struct {
	Model          string
	MaxTokens      int
	Temperature    float64
	Timeout        time.Duration
	MaxAttempts    int
	TierTolerance  int
	ScoreTolerance int
}

func DefaultConfig() Config {
	return Config{
		Model:          "claude-sonnet-4-5",
		MaxTokens:      2000,
		Temperature:    0,
		Timeout:        60 * time.Second,
		MaxAttempts:    2,
		TierTolerance:  1,
		ScoreTolerance: 10,
	}
}

type Evaluator struct {
	provider llm.Provider
	events   EventRecorder
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
	group    singleflight.Group
}

type Option func(*Evaluator)

func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

// New builds an evaluator. Unset model, token limit, timeout and attempts fall
// back to DefaultConfig. events may be nil when no audit trail is wanted.
func New(provider llm.Provider, events EventRecorder, cfg Config, logger *zap.Logger, opts ...Option) *Evaluator {
	defaults := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.TierTolerance < 0 {
		cfg.TierTolerance = defaults.TierTolerance
	}
	if cfg.ScoreTolerance < 0 {
		cfg.ScoreTolerance = defaults.ScoreTolerance
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Evaluator{provider: provider, events: events, cfg: cfg, logger: logger, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Score grades a completed session. Concurrent calls for the same session
// revision share one grading run.
func (e *Evaluator) Score(ctx context.Context, s session.Session) (rubric.ScoreReport, error) {
	if s.Status != session.StatusCompleted {
		return rubric.ScoreReport{}, fmt.Errorf("score %s session %s: %w", s.Status, s.ID, ErrSessionNotComplete)
	}

	key := s.ID + "@" + strconv.FormatInt(s.Revision, 10)
	ch := e.group.DoChan(key, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.budget())
		defer cancel()
		return e.score(runCtx, s)
	})
	select {
	case <-ctx.Done():
		return rubric.ScoreReport{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return rubric.ScoreReport{}, res.Err
		}
		return res.Val.(rubric.ScoreReport), nil
	}
}

// budget bounds one shared grading run, which outlives any single caller.
func (e *Evaluator) budget() time.Duration {
	return time.Duration(e.cfg.MaxAttempts) * e.cfg.Timeout
}

type requestLog struct {
	Model       string        `json:"model"`
	System      string        `json:"system"`
	Messages    []llm.Message `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Schema      string        `json:"schema"`
}

func (e *Evaluator) score(ctx context.Context, s session.Session) (rubric.ScoreReport, error) {
	ctx, span := otel.Tracer("evaluate").Start(ctx, "evaluate.Score")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", s.ID), attribute.String("llm.model", e.cfg.Model))

	req := llm.Request{
		Model:       e.cfg.Model,
		System:      systemInstruction,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: Prompt(s, e.now())}},
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
		Schema:      &llm.JSONSchema{Name: scoreReportSchemaName, Schema: scoreReportSchema},
	}
	requestJSON, err := json.Marshal(requestLog{
		Model:       req.Model,
		System:      req.System,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Schema:      scoreReportSchemaName,
	})
	if err != nil {
		return rubric.ScoreReport{}, fmt.Errorf("marshal score request log: %w", err)
	}
	tol := Tolerance{TierSteps: e.cfg.TierTolerance, Points: e.cfg.ScoreTolerance}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		started := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		resp, callErr := e.provider.Complete(callCtx, req)
		cancel()

		event := session.LLMEvent{
			SessionID:   s.ID,
			Stage:       stageScore,
			Attempt:     attempt,
			Model:       req.Model,
			RequestJSON: string(requestJSON),
			CreatedAt:   e.now().UTC(),
		}

		var report rubric.ScoreReport
		attemptErr := callErr
		if callErr == nil {
			event.ResponseText = resp.Content
			if resp.Model != "" {
				event.Model = resp.Model
			}
			var grade Grade
			grade, attemptErr = Decode(resp.Content)
			if attemptErr == nil {
				event.ParseOK = true
				report, attemptErr = grade.Report(s.ID, event.Model, tol, e.now())
				event.ValidationOK = attemptErr == nil
			}
		}

		event.Status = session.EventStatusOK
		if attemptErr != nil {
			event.Status = session.EventStatusError
			event.Error = attemptErr.Error()
		}
		if e.events != nil {
			if err := e.events.RecordLLMEvent(ctx, event); err != nil {
				return rubric.ScoreReport{}, fmt.Errorf("write score llm event: %w", err)
			}
		}

		if attemptErr == nil {
			e.logger.Info("session scored",
				zap.String("session_id", s.ID),
				zap.Int("attempt", attempt),
				zap.String("model", event.Model),
				zap.Int("aggregate", report.Aggregate),
				zap.String("tier", string(report.Tier)),
				zap.Duration("duration", time.Since(started)),
			)
			span.SetAttributes(attribute.Int("score.aggregate", report.Aggregate), attribute.String("score.tier", string(report.Tier)))
			return report, nil
		}

		lastErr = attemptErr
		e.logger.Warn("scoring attempt failed",
			zap.String("session_id", s.ID),
			zap.Int("attempt", attempt),
			zap.String("model", req.Model),
			zap.Duration("duration", time.Since(started)),
			zap.Error(attemptErr),
		)
		if ctx.Err() != nil || llm.Permanent(callErr) {
			break
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return rubric.ScoreReport{}, fmt.Errorf("score session %s: %w", s.ID, lastErr)
}
