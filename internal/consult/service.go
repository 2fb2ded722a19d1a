// Package consult exposes the practice operations: it drives scenarios,
// sessions, the persona and the evaluator against the durable store.
package consult

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/tetraminz/consultation_x/internal/mode"
	"github.com/tetraminz/consultation_x/internal/persona"
	"github.com/tetraminz/consultation_x/internal/rubric"
	"github.com/tetraminz/consultation_x/internal/scenario"
	"github.com/tetraminz/consultation_x/internal/session"
	"github.com/tetraminz/consultation_x/internal/transcript"
)

// ErrSuperseded is returned when a slow external result arrives after the
// session moved on. The result is discarded.
var ErrSuperseded = errors.New("session changed while waiting for a reply")

// PersonaSimulator produces persona turns.
type PersonaSimulator interface {
	NextTurn(ctx context.Context, sc scenario.Scenario, turns []transcript.Turn) (persona.Reply, error)
	OpeningLine(ctx context.Context, sc scenario.Scenario) persona.Reply
}

// Scorer grades completed sessions.
type Scorer interface {
	Score(ctx context.Context, s session.Session) (rubric.ScoreReport, error)
}

type Config struct {
	// MaxConcurrentCalls bounds outbound model and speech calls process-wide.
	MaxConcurrentCalls int
	// MaxUserTurns overrides the scenario's limit when positive. Zero keeps
	// the limit carried by each scenario.
	MaxUserTurns int
}

// DefaultConfig allows eight outbound calls at once and keeps each
// scenario's own turn limit.
func DefaultConfig() Config {
	return Config{MaxConcurrentCalls: 8}
}

type Deps struct {
	Store   session.Store
	Persona PersonaSimulator
	Scorer  Scorer
	// Voice is optional; phone sessions fall back to text without it.
	Voice  *mode.PhoneVoice
	Logger *zap.Logger
	Now    func() time.Time
}

// Observer receives a snapshot after every durable write. It must not block.
type Observer func(session.Session)

type Service struct {
	store   session.Store
	persona PersonaSimulator
	scorer  Scorer
	voice   *mode.PhoneVoice
	logger  *zap.Logger
	now     func() time.Time
	cfg     Config

	locks *session.Locker
	calls *semaphore.Weighted

	obsMu     sync.Mutex
	observers map[string]map[uint64]Observer
	nextObsID uint64
}

// New wires a service. Store, Persona and Scorer are required; zero config
// fields take their DefaultConfig values.
func New(deps Deps, cfg Config) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("consult: store is required")
	}
	if deps.Persona == nil {
		return nil, errors.New("consult: persona simulator is required")
	}
	if deps.Scorer == nil {
		return nil, errors.New("consult: scorer is required")
	}
	defaults := DefaultConfig()
	if cfg.MaxConcurrentCalls <= 0 {
		cfg.MaxConcurrentCalls = defaults.MaxConcurrentCalls
	}
	if cfg.MaxUserTurns < 0 {
		cfg.MaxUserTurns = 0
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{
		store:     deps.Store,
		persona:   deps.Persona,
		scorer:    deps.Scorer,
		voice:     deps.Voice,
		logger:    deps.Logger,
		now:       deps.Now,
		cfg:       cfg,
		locks:     session.NewLocker(),
		calls:     semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls)),
		observers: make(map[string]map[uint64]Observer),
	}, nil
}

// Subscribe registers fn for snapshots of session id. The returned func
// removes the subscription.
func (s *Service) Subscribe(id string, fn Observer) func() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.nextObsID++
	key := s.nextObsID
	if s.observers[id] == nil {
		s.observers[id] = make(map[uint64]Observer)
	}
	s.observers[id][key] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.obsMu.Lock()
			defer s.obsMu.Unlock()
			delete(s.observers[id], key)
			if len(s.observers[id]) == 0 {
				delete(s.observers, id)
			}
		})
	}
}

func (s *Service) notify(sess session.Session) {
	s.obsMu.Lock()
	fns := make([]Observer, 0, len(s.observers[sess.ID]))
	for _, fn := range s.observers[sess.ID] {
		fns = append(fns, fn)
	}
	s.obsMu.Unlock()

	for _, fn := range fns {
		fn(sess.Clone())
	}
}

// call runs fn while holding one outbound-call slot.
func (s *Service) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.calls.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.calls.Release(1)
	return fn(ctx)
}

// errUnchanged lets a mutate callback report that nothing needs saving.
var errUnchanged = errors.New("session unchanged")

// mutate applies fn to the stored session under the session lock and
// persists the result.
func (s *Service) mutate(ctx context.Context, id string, fn func(cur session.Session) (session.Session, error)) (session.Session, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return session.Session{}, err
	}
	defer unlock()

	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return session.Session{}, err
	}
	next, err := fn(cur)
	if errors.Is(err, errUnchanged) {
		return cur, nil
	}
	if err != nil {
		return session.Session{}, err
	}
	saved, err := s.store.Update(ctx, next)
	if err != nil {
		return session.Session{}, err
	}
	s.notify(saved)
	return saved, nil
}

func (s *Service) maxUserTurns(sc scenario.Scenario) int {
	if s.cfg.MaxUserTurns > 0 {
		return s.cfg.MaxUserTurns
	}
	if sc.MaxUserTurns > 0 {
		return sc.MaxUserTurns
	}
	return scenario.DefaultMaxUserTurns
}
