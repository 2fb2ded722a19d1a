package session

import (
	"context"
	"time"
)

// Store is the durable session store. Update is a compare-and-swap on
// Revision: it succeeds only when the stored revision equals s.Revision and
// returns the session with its new revision.
type Store interface {
	Create(ctx context.Context, s Session) (Session, error)
	Get(ctx context.Context, id string) (Session, error)
	Update(ctx context.Context, s Session) (Session, error)
	Delete(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID string) ([]Session, error)
	// ActiveByOwner returns the owner's sessions that are not yet terminal.
	ActiveByOwner(ctx context.Context, ownerID string) ([]Session, error)
	RecordLLMEvent(ctx context.Context, event LLMEvent) error
	ListLLMEvents(ctx context.Context, sessionID string) ([]LLMEvent, error)
	Close() error
}

// LLMEvent audits one outbound model call.
type LLMEvent struct {
	ID           int64     `json:"id"`
	SessionID    string    `json:"session_id"`
	Stage        string    `json:"stage"`
	Attempt      int       `json:"attempt"`
	Model        string    `json:"model"`
	Status       string    `json:"status"`
	RequestJSON  string    `json:"request_json"`
	ResponseText string    `json:"response_text"`
	ParseOK      bool      `json:"parse_ok"`
	ValidationOK bool      `json:"validation_ok"`
	Error        string    `json:"error"`
	CreatedAt    time.Time `json:"created_at"`
}

const (
	EventStatusOK    = "ok"
	EventStatusError = "error"
)
