// Package memstore keeps sessions in process memory.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tetraminz/consultation_x/internal/session"
)

type Store struct {
	mu       sync.RWMutex
	sessions map[string]session.Session
	events   []session.LLMEvent
	nextID   int64
}

var _ session.Store = (*Store)(nil)

func New() *Store {
	return &Store{sessions: make(map[string]session.Session)}
}

func (s *Store) Create(ctx context.Context, sess session.Session) (session.Session, error) {
	if err := ctx.Err(); err != nil {
		return session.Session{}, err
	}
	id := strings.TrimSpace(sess.ID)
	if id == "" {
		return session.Session{}, fmt.Errorf("session id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[id]; exists {
		return session.Session{}, fmt.Errorf("create session %s: %w", id, session.ErrConflict)
	}
	stored := sess.Clone()
	stored.Revision = 1
	s.sessions[id] = stored
	return stored.Clone(), nil
}

func (s *Store) Get(ctx context.Context, id string) (session.Session, error) {
	if err := ctx.Err(); err != nil {
		return session.Session{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[strings.TrimSpace(id)]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *Store) Update(ctx context.Context, sess session.Session) (session.Session, error) {
	if err := ctx.Err(); err != nil {
		return session.Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[sess.ID]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	if current.Revision != sess.Revision {
		return session.Session{}, fmt.Errorf("update session %s at revision %d (stored %d): %w",
			sess.ID, sess.Revision, current.Revision, session.ErrConflict)
	}
	stored := sess.Clone()
	stored.Revision++
	s.sessions[sess.ID] = stored
	return stored.Clone(), nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return session.ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]session.Session, error) {
	return s.filter(ctx, ownerID, func(session.Session) bool { return true })
}

func (s *Store) ActiveByOwner(ctx context.Context, ownerID string) ([]session.Session, error) {
	return s.filter(ctx, ownerID, func(sess session.Session) bool { return !sess.Status.Terminal() })
}

func (s *Store) filter(ctx context.Context, ownerID string, keep func(session.Session) bool) ([]session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]session.Session, 0)
	for _, sess := range s.sessions {
		if sess.OwnerID == ownerID && keep(sess) {
			out = append(out, sess.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) RecordLLMEvent(ctx context.Context, event session.LLMEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	event.ID = s.nextID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, event)
	return nil
}

func (s *Store) ListLLMEvents(ctx context.Context, sessionID string) ([]session.LLMEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]session.LLMEvent, 0)
	for _, event := range s.events {
		if event.SessionID == sessionID {
			out = append(out, event)
		}
	}
	return out, nil
}

func (s *Store) Close() error { return nil }
