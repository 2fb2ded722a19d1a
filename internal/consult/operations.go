package consult

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tetraminz/consultation_x/internal/evaluate"
	"github.com/tetraminz/consultation_x/internal/mode"
	"github.com/tetraminz/consultation_x/internal/persona"
	"github.com/tetraminz/consultation_x/internal/rubric"
	"github.com/tetraminz/consultation_x/internal/scenario"
	"github.com/tetraminz/consultation_x/internal/session"
	"github.com/tetraminz/consultation_x/internal/transcript"
)

// ScenarioRequest carries raw, unparsed caller input.
type ScenarioRequest struct {
	Track      string `json:"track"`
	Channel    string `json:"channel"`
	Difficulty string `json:"difficulty,omitempty"`
	// Seed makes sampling reproducible when non-zero.
	Seed uint64 `json:"seed,omitempty"`
}

type StartRequest struct {
	Owner string `json:"owner"`
	ScenarioRequest
}

// UserInput is one trainee reply. Audio is accepted only on phone sessions.
type UserInput struct {
	Text      string `json:"text"`
	Subject   string `json:"subject,omitempty"`
	Audio     []byte `json:"audio,omitempty"`
	AudioMIME string `json:"audio_mime,omitempty"`
}

// GenerateScenario samples a scenario without starting a session.
func (s *Service) GenerateScenario(req ScenarioRequest) (scenario.Scenario, error) {
	return req.Generate(s.now)
}

// Generate parses the request and samples a scenario. now may be nil.
func (r ScenarioRequest) Generate(now func() time.Time) (scenario.Scenario, error) {
	track, err := scenario.ParseTrack(r.Track)
	if err != nil {
		return scenario.Scenario{}, err
	}
	channel, err := scenario.ParseChannel(r.Channel)
	if err != nil {
		return scenario.Scenario{}, err
	}
	difficulty, err := scenario.ParseDifficulty(r.Difficulty)
	if err != nil {
		return scenario.Scenario{}, err
	}
	opts := scenario.Options{Difficulty: difficulty, Now: now}
	if r.Seed != 0 {
		opts.Rand = scenario.NewRand(r.Seed)
	}
	return scenario.Generate(track, channel, opts)
}

// StartSession creates a session on a fresh scenario. The owner's previous
// unfinished sessions are replaced: in-progress ones are abandoned and ones
// that never started are deleted.
func (s *Service) StartSession(ctx context.Context, req StartRequest) (session.Session, error) {
	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		return session.Session{}, errors.New("owner is required")
	}
	sc, err := s.GenerateScenario(req.ScenarioRequest)
	if err != nil {
		return session.Session{}, err
	}
	adapter, err := mode.For(sc.Channel)
	if err != nil {
		return session.Session{}, err
	}

	sess := session.New(sc, owner, s.now())
	if adapter.FirstSpeaker() == transcript.SpeakerPersona {
		var payload transcript.Payload
		err := s.call(ctx, func(ctx context.Context) error {
			reply := s.persona.OpeningLine(ctx, sc)
			payload = s.voice.PersonaAudio(ctx, audioKey(sess.ID, 0), reply.Payload)
			return nil
		})
		if err != nil {
			return session.Session{}, fmt.Errorf("opening line: %w", err)
		}
		sess, err = session.AppendTurn(sess, transcript.SpeakerPersona, payload, adapter, s.now())
		if err != nil {
			return session.Session{}, err
		}
	}

	unlock, err := s.locks.Lock(ctx, ownerKey(owner))
	if err != nil {
		return session.Session{}, err
	}
	defer unlock()

	if err := s.replaceActive(ctx, owner); err != nil {
		return session.Session{}, err
	}
	created, err := s.store.Create(ctx, sess)
	if err != nil {
		return session.Session{}, fmt.Errorf("create session: %w", err)
	}
	s.logger.Info("session started",
		zap.String("session_id", created.ID),
		zap.String("owner", owner),
		zap.String("channel", string(sc.Channel)),
		zap.String("template", sc.TemplateID),
	)
	s.notify(created)
	return created, nil
}

func (s *Service) replaceActive(ctx context.Context, owner string) error {
	active, err := s.store.ActiveByOwner(ctx, owner)
	if err != nil {
		return fmt.Errorf("list active sessions: %w", err)
	}
	for _, prev := range active {
		if prev.Status == session.StatusNotStarted {
			if err := s.store.Delete(ctx, prev.ID); err != nil && !errors.Is(err, session.ErrNotFound) {
				return fmt.Errorf("delete session %s: %w", prev.ID, err)
			}
			continue
		}
		_, err := s.mutate(ctx, prev.ID, func(cur session.Session) (session.Session, error) {
			return session.Abandon(cur, session.EndReplaced, s.now())
		})
		if err != nil && !errors.Is(err, session.ErrSessionClosed) && !errors.Is(err, session.ErrNotFound) {
			return fmt.Errorf("replace session %s: %w", prev.ID, err)
		}
		s.logger.Info("session replaced", zap.String("session_id", prev.ID), zap.String("owner", owner))
	}
	return nil
}

// AppendTurn appends one turn as given, without asking the persona.
func (s *Service) AppendTurn(ctx context.Context, id string, speaker transcript.Speaker, payload transcript.Payload) (session.Session, error) {
	return s.mutate(ctx, id, func(cur session.Session) (session.Session, error) {
		adapter, err := mode.For(cur.Scenario.Channel)
		if err != nil {
			return cur, err
		}
		return session.AppendTurn(cur, speaker, payload, adapter, s.now())
	})
}

// Respond appends the trainee's reply and the persona's answer in one write.
// The persona call runs without the session lock; if the session changed in
// the meantime the answer is dropped and ErrSuperseded is returned.
func (s *Service) Respond(ctx context.Context, id string, in UserInput) (session.Session, error) {
	text := in.Text
	if len(in.Audio) > 0 {
		cur, err := s.store.Get(ctx, id)
		if err != nil {
			return session.Session{}, err
		}
		if cur.Scenario.Channel != scenario.ChannelPhoneCall {
			return session.Session{}, fmt.Errorf("%w: audio replies are only accepted on phone calls", mode.ErrInvalidPayload)
		}
		err = s.call(ctx, func(ctx context.Context) error {
			var err error
			text, err = s.voice.UserText(ctx, in.Audio, in.AudioMIME)
			return err
		})
		if err != nil {
			return session.Session{}, err
		}
	}

	draft, done, err := s.draftUserTurn(ctx, id, transcript.Payload{Text: text, Subject: in.Subject})
	if err != nil || done {
		return draft, err
	}

	var reply persona.Reply
	var payload transcript.Payload
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		reply, err = s.persona.NextTurn(ctx, draft.Scenario, draft.Turns)
		if err != nil {
			return err
		}
		payload = reply.Payload
		if draft.Scenario.Channel == scenario.ChannelPhoneCall {
			payload = s.voice.PersonaAudio(ctx, audioKey(draft.ID, len(draft.Turns)), payload)
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("persona reply failed", zap.String("session_id", id), zap.Error(err))
		return session.Session{}, err
	}

	return s.commitReply(ctx, draft, reply, payload)
}

// draftUserTurn validates and appends the user turn in memory. When the turn
// reaches the limit the session is ended and persisted right away and done
// is true.
func (s *Service) draftUserTurn(ctx context.Context, id string, payload transcript.Payload) (session.Session, bool, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return session.Session{}, false, err
	}
	defer unlock()

	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return session.Session{}, false, err
	}
	adapter, err := mode.For(cur.Scenario.Channel)
	if err != nil {
		return session.Session{}, false, err
	}
	payload, err = adapter.ValidateUserPayload(payload)
	if err != nil {
		return session.Session{}, false, err
	}
	draft, err := session.AppendTurn(cur, transcript.SpeakerUser, payload, adapter, s.now())
	if err != nil {
		return session.Session{}, false, err
	}
	if draft.UserTurns() < s.maxUserTurns(draft.Scenario) {
		return draft, false, nil
	}

	ended, err := session.End(draft, session.EndTurnLimit, s.now())
	if err != nil {
		return session.Session{}, false, err
	}
	saved, err := s.store.Update(ctx, ended)
	if err != nil {
		return session.Session{}, false, err
	}
	s.logger.Info("session reached turn limit", zap.String("session_id", id), zap.Int("user_turns", saved.UserTurns()))
	s.notify(saved)
	return saved, true, nil
}

func (s *Service) commitReply(ctx context.Context, draft session.Session, reply persona.Reply, payload transcript.Payload) (session.Session, error) {
	unlock, err := s.locks.Lock(ctx, draft.ID)
	if err != nil {
		return session.Session{}, err
	}
	defer unlock()

	cur, err := s.store.Get(ctx, draft.ID)
	if err != nil {
		return session.Session{}, err
	}
	if cur.Revision != draft.Revision || cur.Status.Terminal() {
		s.logger.Info("discarding late persona reply",
			zap.String("session_id", draft.ID),
			zap.Int64("draft_revision", draft.Revision),
			zap.Int64("revision", cur.Revision),
			zap.String("status", string(cur.Status)),
		)
		return session.Session{}, fmt.Errorf("session %s: %w", draft.ID, ErrSuperseded)
	}

	adapter, err := mode.For(draft.Scenario.Channel)
	if err != nil {
		return session.Session{}, err
	}
	next, err := session.AppendTurn(draft, transcript.SpeakerPersona, payload, adapter, s.now())
	if err != nil {
		return session.Session{}, err
	}
	if reply.Closing {
		next, err = session.End(next, session.EndPersonaClosed, s.now())
		if err != nil {
			return session.Session{}, err
		}
	}
	saved, err := s.store.Update(ctx, next)
	if err != nil {
		return session.Session{}, err
	}
	s.notify(saved)
	return saved, nil
}

// EndSession completes the session at the trainee's request.
func (s *Service) EndSession(ctx context.Context, id string) (session.Session, error) {
	return s.mutate(ctx, id, func(cur session.Session) (session.Session, error) {
		return session.End(cur, session.EndUserEnded, s.now())
	})
}

// AbandonSession closes the session without grading it.
func (s *Service) AbandonSession(ctx context.Context, id string) (session.Session, error) {
	return s.mutate(ctx, id, func(cur session.Session) (session.Session, error) {
		return session.Abandon(cur, session.EndUserAbandoned, s.now())
	})
}

// ScoreSession grades a completed session and stores the report on it.
func (s *Service) ScoreSession(ctx context.Context, id string) (rubric.ScoreReport, error) {
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return rubric.ScoreReport{}, err
	}
	if cur.Status != session.StatusCompleted {
		return rubric.ScoreReport{}, fmt.Errorf("score %s session %s: %w", cur.Status, id, evaluate.ErrSessionNotComplete)
	}

	var report rubric.ScoreReport
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		report, err = s.scorer.Score(ctx, cur)
		return err
	})
	if err != nil {
		s.logger.Warn("scoring failed", zap.String("session_id", id), zap.Error(err))
		return rubric.ScoreReport{}, err
	}

	_, err = s.mutate(ctx, id, func(latest session.Session) (session.Session, error) {
		if report.ID != "" && latest.HasReport(report.ID) {
			return latest, errUnchanged
		}
		return session.AttachReport(latest, report, s.now())
	})
	if err != nil {
		return rubric.ScoreReport{}, fmt.Errorf("store report: %w", err)
	}
	s.logger.Info("session scored",
		zap.String("session_id", id),
		zap.Int("aggregate", report.Aggregate),
		zap.String("tier", string(report.Tier)),
	)
	return report, nil
}

// GetSession loads one session by id.
func (s *Service) GetSession(ctx context.Context, id string) (session.Session, error) {
	return s.store.Get(ctx, id)
}

// ListSessions returns the owner's sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, owner string) ([]session.Session, error) {
	return s.store.ListByOwner(ctx, strings.TrimSpace(owner))
}

// Events returns the model-call audit trail of a session.
func (s *Service) Events(ctx context.Context, id string) ([]session.LLMEvent, error) {
	return s.store.ListLLMEvents(ctx, id)
}

// ImportTranscript replays recorded turns into a completed session on a
// fresh scenario so it can be scored like a live one.
func (s *Service) ImportTranscript(ctx context.Context, owner string, req ScenarioRequest, turns []transcript.Turn) (session.Session, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return session.Session{}, errors.New("owner is required")
	}
	if len(turns) == 0 {
		return session.Session{}, errors.New("transcript has no turns")
	}
	sc, err := s.GenerateScenario(req)
	if err != nil {
		return session.Session{}, err
	}
	adapter, err := mode.For(sc.Channel)
	if err != nil {
		return session.Session{}, err
	}
	sess := session.New(sc, owner, s.now())
	for _, turn := range turns {
		sess, err = session.AppendTurn(sess, turn.Speaker, turn.Payload, adapter, s.now())
		if err != nil {
			return session.Session{}, fmt.Errorf("replay turn %d: %w", turn.Index, err)
		}
	}
	sess, err = session.End(sess, session.EndUserEnded, s.now())
	if err != nil {
		return session.Session{}, err
	}
	return s.Import(ctx, sess)
}

// Import stores an externally built session, such as one read from CSV.
func (s *Service) Import(ctx context.Context, sess session.Session) (session.Session, error) {
	created, err := s.store.Create(ctx, sess)
	if err != nil {
		return session.Session{}, fmt.Errorf("import session: %w", err)
	}
	s.notify(created)
	return created, nil
}

func ownerKey(owner string) string {
	return "owner/" + owner
}

// audioKey names one synthesized persona line. Keys are unique per synthesis,
// even for two replies racing for the same turn index.
func audioKey(sessionID string, turnIndex int) string {
	return sessionID + "-" + strconv.Itoa(turnIndex) + "-" + uuid.NewString()
}
