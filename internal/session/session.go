package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tetraminz/consultation_x/internal/rubric"
	"github.com/tetraminz/consultation_x/internal/scenario"
	"github.com/tetraminz/consultation_x/internal/transcript"
)

// Status is a session lifecycle state.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusAbandoned  Status = "abandoned"
)

// Terminal reports whether no further turns may be appended.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// EndReason records why a session stopped.
type EndReason string

const (
	EndUserEnded     EndReason = "user_ended"
	EndPersonaClosed EndReason = "persona_closed"
	EndTurnLimit     EndReason = "turn_limit"
	EndReplaced      EndReason = "replaced"
	EndUserAbandoned EndReason = "user_abandoned"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrConflict      = errors.New("session was modified concurrently")
	ErrSessionClosed = errors.New("session is closed")
	ErrNotStarted    = errors.New("session has not started")
	ErrEmptyTurn     = errors.New("turn text is empty")
)

// TurnOrderError reports a turn that breaks the speaking order of the channel.
type TurnOrderError struct {
	Speaker  transcript.Speaker
	Expected transcript.Speaker
}

func (e *TurnOrderError) Error() string {
	return fmt.Sprintf("turn order: %s cannot speak now, expected %s", e.Speaker, e.Expected)
}

// Policy is the channel's speaking discipline.
type Policy interface {
	FirstSpeaker() transcript.Speaker
	AllowsConsecutive(speaker transcript.Speaker) bool
}

// Session is one practice attempt. Values are treated as immutable; every
// transition returns a new Session.
type Session struct {
	ID        string               `json:"id"`
	OwnerID   string               `json:"owner_id"`
	Scenario  scenario.Scenario    `json:"scenario"`
	Status    Status               `json:"status"`
	Turns     []transcript.Turn    `json:"turns"`
	Reports   []rubric.ScoreReport `json:"reports"`
	Revision  int64                `json:"revision"`
	EndReason EndReason            `json:"end_reason,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
	StartedAt *time.Time           `json:"started_at,omitempty"`
	EndedAt   *time.Time           `json:"ended_at,omitempty"`
}

// New creates a NotStarted session bound to sc.
func New(sc scenario.Scenario, ownerID string, now time.Time) Session {
	now = now.UTC()
	return Session{
		ID:        uuid.NewString(),
		OwnerID:   strings.TrimSpace(ownerID),
		Scenario:  sc,
		Status:    StatusNotStarted,
		Turns:     []transcript.Turn{},
		Reports:   []rubric.ScoreReport{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AppendTurn validates and appends a turn. On error s is returned unchanged.
func AppendTurn(s Session, speaker transcript.Speaker, payload transcript.Payload, policy Policy, now time.Time) (Session, error) {
	if s.Status.Terminal() {
		return s, fmt.Errorf("append turn to %s session: %w", s.Status, ErrSessionClosed)
	}
	if !speaker.Valid() {
		return s, fmt.Errorf("unknown speaker %q", speaker)
	}
	if strings.TrimSpace(payload.Text) == "" {
		return s, ErrEmptyTurn
	}

	if len(s.Turns) == 0 {
		if first := policy.FirstSpeaker(); speaker != first {
			return s, &TurnOrderError{Speaker: speaker, Expected: first}
		}
	} else {
		last := s.Turns[len(s.Turns)-1].Speaker
		if last == speaker && !policy.AllowsConsecutive(speaker) {
			return s, &TurnOrderError{Speaker: speaker, Expected: other(speaker)}
		}
	}

	now = now.UTC()
	next := s.Clone()
	next.Turns = append(next.Turns, transcript.Turn{
		Index:     len(s.Turns),
		Speaker:   speaker,
		Payload:   payload,
		Timestamp: now,
	})
	if next.Status == StatusNotStarted {
		next.Status = StatusInProgress
		next.StartedAt = &now
	}
	next.UpdatedAt = now
	return next, nil
}

// End completes an in-progress session.
func End(s Session, reason EndReason, now time.Time) (Session, error) {
	switch s.Status {
	case StatusInProgress:
	case StatusNotStarted:
		return s, ErrNotStarted
	default:
		return s, fmt.Errorf("end %s session: %w", s.Status, ErrSessionClosed)
	}
	now = now.UTC()
	next := s.Clone()
	next.Status = StatusCompleted
	next.EndReason = reason
	next.EndedAt = &now
	next.UpdatedAt = now
	return next, nil
}

// Abandon closes a session that will never be completed.
func Abandon(s Session, reason EndReason, now time.Time) (Session, error) {
	if s.Status.Terminal() {
		return s, fmt.Errorf("abandon %s session: %w", s.Status, ErrSessionClosed)
	}
	now = now.UTC()
	next := s.Clone()
	next.Status = StatusAbandoned
	next.EndReason = reason
	next.EndedAt = &now
	next.UpdatedAt = now
	return next, nil
}

// AttachReport appends a grade to a completed session. A report whose ID is
// already attached is ignored.
func AttachReport(s Session, report rubric.ScoreReport, now time.Time) (Session, error) {
	if s.Status != StatusCompleted {
		return s, fmt.Errorf("attach report to %s session: %w", s.Status, ErrSessionClosed)
	}
	if report.ID != "" && s.HasReport(report.ID) {
		return s, nil
	}
	next := s.Clone()
	next.Reports = append(next.Reports, report)
	next.UpdatedAt = now.UTC()
	return next, nil
}

// Clone returns a deep copy of the mutable slices.
func (s Session) Clone() Session {
	out := s
	out.Turns = make([]transcript.Turn, len(s.Turns))
	copy(out.Turns, s.Turns)
	out.Reports = make([]rubric.ScoreReport, len(s.Reports))
	copy(out.Reports, s.Reports)
	return out
}

// UserTurns counts the trainee's turns.
func (s Session) UserTurns() int {
	return transcript.CountBySpeaker(s.Turns, transcript.SpeakerUser)
}

// HasReport reports whether a grade with this ID is attached.
func (s Session) HasReport(id string) bool {
	for _, r := range s.Reports {
		if r.ID == id {
			return true
		}
	}
	return false
}

// LatestReport returns the newest grade, if any.
func (s Session) LatestReport() (rubric.ScoreReport, bool) {
	if len(s.Reports) == 0 {
		return rubric.ScoreReport{}, false
	}
	return s.Reports[len(s.Reports)-1], true
}

// Elapsed is the time between the first turn and the end, or now.
func (s Session) Elapsed(now time.Time) time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	if end.Before(*s.StartedAt) {
		return 0
	}
	return end.Sub(*s.StartedAt)
}

func other(speaker transcript.Speaker) transcript.Speaker {
	if speaker == transcript.SpeakerUser {
		return transcript.SpeakerPersona
	}
	return transcript.SpeakerUser
}
