// Package sqlitestore persists sessions in SQLite through database/sql.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tetraminz/consultation_x/internal/session"
)

const createSessionsTableSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	track TEXT NOT NULL,
	channel TEXT NOT NULL,
	status TEXT NOT NULL,
	revision INTEGER NOT NULL,
	data TEXT NOT NULL,
	created_at_utc TEXT NOT NULL,
	updated_at_utc TEXT NOT NULL
)`

const createLLMEventsTableSQL = `
CREATE TABLE IF NOT EXISTS llm_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at_utc TEXT NOT NULL,
	session_id TEXT NOT NULL,
	stage TEXT NOT NULL,
	attempt INTEGER NOT NULL,
	model TEXT NOT NULL,
	status TEXT NOT NULL,
	request_json TEXT NOT NULL,
	response_text TEXT NOT NULL,
	parse_ok INTEGER NOT NULL,
	validation_ok INTEGER NOT NULL,
	error_message TEXT NOT NULL
)`

var createIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_sessions_owner_status ON sessions(owner_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_llm_events_session ON llm_events(session_id, id)`,
}

var requiredColumns = map[string][]string{
	"sessions": {
		"id", "owner_id", "track", "channel", "status", "revision", "data", "created_at_utc", "updated_at_utc",
	},
	"llm_events": {
		"id", "created_at_utc", "session_id", "stage", "attempt", "model", "status",
		"request_json", "response_text", "parse_ok", "validation_ok", "error_message",
	},
}

const insertSessionSQL = `
INSERT INTO sessions (
	id,
	owner_id,
	track,
	channel,
	status,
	revision,
	data,
	created_at_utc,
	updated_at_utc
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

const updateSessionSQL = `
UPDATE sessions SET
	owner_id = ?,
	status = ?,
	revision = ?,
	data = ?,
	updated_at_utc = ?
WHERE id = ? AND revision = ?`

const insertLLMEventSQL = `
INSERT INTO llm_events (
	created_at_utc,
	session_id,
	stage,
	attempt,
	model,
	status,
	request_json,
	response_text,
	parse_ok,
	validation_ok,
	error_message
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Store is a session.Store backed by a single SQLite file.
type Store struct {
	db *sql.DB
}

var _ session.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("db path is required")
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite db dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps pragmas and in-memory databases stable.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	if _, err := db.Exec(createSessionsTableSQL); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}
	if _, err := db.Exec(createLLMEventsTableSQL); err != nil {
		return fmt.Errorf("create llm_events table: %w", err)
	}
	for table, columns := range requiredColumns {
		missing, err := missingColumns(db, table, columns)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return fmt.Errorf("incompatible %s schema, missing columns: %s", table, strings.Join(missing, ", "))
		}
	}
	for _, stmt := range createIndexesSQL {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

func missingColumns(db *sql.DB, table string, required []string) ([]string, error) {
	rows, err := db.Query(`PRAGMA table_info(` + table + `)`)
	if err != nil {
		return nil, fmt.Errorf("inspect %s schema: %w", table, err)
	}
	defer rows.Close()

	present := map[string]bool{}
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("scan %s schema: %w", table, err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s schema: %w", table, err)
	}

	missing := make([]string, 0)
	for _, col := range required {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	return missing, nil
}

func (s *Store) Create(ctx context.Context, sess session.Session) (session.Session, error) {
	if strings.TrimSpace(sess.ID) == "" {
		return session.Session{}, errors.New("session id is required")
	}
	stored := sess.Clone()
	stored.Revision = 1
	data, err := json.Marshal(stored)
	if err != nil {
		return session.Session{}, fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.db.ExecContext(ctx, insertSessionSQL,
		stored.ID,
		stored.OwnerID,
		string(stored.Scenario.Track),
		string(stored.Scenario.Channel),
		string(stored.Status),
		stored.Revision,
		string(data),
		formatTime(stored.CreatedAt),
		formatTime(stored.UpdatedAt),
	)
	if err != nil {
		return session.Session{}, fmt.Errorf("insert session %s: %w", stored.ID, err)
	}
	return stored, nil
}

func (s *Store) Get(ctx context.Context, id string) (session.Session, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sessions WHERE id = ?`, strings.TrimSpace(id)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, session.ErrNotFound
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("select session %s: %w", id, err)
	}
	return decodeSession(data)
}

func (s *Store) Update(ctx context.Context, sess session.Session) (session.Session, error) {
	stored := sess.Clone()
	stored.Revision = sess.Revision + 1
	data, err := json.Marshal(stored)
	if err != nil {
		return session.Session{}, fmt.Errorf("marshal session: %w", err)
	}

	result, err := s.db.ExecContext(ctx, updateSessionSQL,
		stored.OwnerID,
		string(stored.Status),
		stored.Revision,
		string(data),
		formatTime(stored.UpdatedAt),
		stored.ID,
		sess.Revision,
	)
	if err != nil {
		return session.Session{}, fmt.Errorf("update session %s: %w", sess.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return session.Session{}, fmt.Errorf("update session %s rows affected: %w", sess.ID, err)
	}
	if affected == 0 {
		var current int64
		err := s.db.QueryRowContext(ctx, `SELECT revision FROM sessions WHERE id = ?`, sess.ID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return session.Session{}, session.ErrNotFound
		}
		if err != nil {
			return session.Session{}, fmt.Errorf("select session revision %s: %w", sess.ID, err)
		}
		return session.Session{}, fmt.Errorf("update session %s at revision %d (stored %d): %w",
			sess.ID, sess.Revision, current, session.ErrConflict)
	}
	return stored, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session %s rows affected: %w", id, err)
	}
	if affected == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]session.Session, error) {
	return s.query(ctx, `
		SELECT data FROM sessions
		WHERE owner_id = ?
		ORDER BY created_at_utc, id`, ownerID)
}

func (s *Store) ActiveByOwner(ctx context.Context, ownerID string) ([]session.Session, error) {
	return s.query(ctx, `
		SELECT data FROM sessions
		WHERE owner_id = ? AND status IN (?, ?)
		ORDER BY created_at_utc, id`,
		ownerID, string(session.StatusNotStarted), string(session.StatusInProgress))
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]session.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	out := make([]session.Session, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sess, err := decodeSession(data)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func (s *Store) RecordLLMEvent(ctx context.Context, event session.LLMEvent) error {
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, insertLLMEventSQL,
		formatTime(createdAt),
		event.SessionID,
		event.Stage,
		event.Attempt,
		event.Model,
		event.Status,
		event.RequestJSON,
		event.ResponseText,
		boolToInt(event.ParseOK),
		boolToInt(event.ValidationOK),
		event.Error,
	)
	if err != nil {
		return fmt.Errorf("insert llm event: %w", err)
	}
	return nil
}

func (s *Store) ListLLMEvents(ctx context.Context, sessionID string) ([]session.LLMEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			id,
			created_at_utc,
			session_id,
			stage,
			attempt,
			model,
			status,
			request_json,
			response_text,
			parse_ok,
			validation_ok,
			error_message
		FROM llm_events
		WHERE session_id = ?
		ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query llm events: %w", err)
	}
	defer rows.Close()

	out := make([]session.LLMEvent, 0)
	for rows.Next() {
		var (
			event     session.LLMEvent
			createdAt string
			parseOK   int
			validOK   int
		)
		if err := rows.Scan(
			&event.ID,
			&createdAt,
			&event.SessionID,
			&event.Stage,
			&event.Attempt,
			&event.Model,
			&event.Status,
			&event.RequestJSON,
			&event.ResponseText,
			&parseOK,
			&validOK,
			&event.Error,
		); err != nil {
			return nil, fmt.Errorf("scan llm event: %w", err)
		}
		event.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse llm event time %q: %w", createdAt, err)
		}
		event.ParseOK = parseOK == 1
		event.ValidationOK = validOK == 1
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate llm events: %w", err)
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func decodeSession(data string) (session.Session, error) {
	var sess session.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return session.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}

// timeLayout has fixed width so stored values sort chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
