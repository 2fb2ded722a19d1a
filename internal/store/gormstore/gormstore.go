// Package gormstore persists sessions through gorm on SQLite or Postgres.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqliteDriver "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tetraminz/consultation_x/internal/session"
)

type sessionRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	OwnerID   string `gorm:"index:idx_sessions_owner_status,priority:1;not null"`
	Status    string `gorm:"index:idx_sessions_owner_status,priority:2;not null"`
	Track     string `gorm:"not null"`
	Channel   string `gorm:"not null"`
	Revision  int64  `gorm:"not null"`
	Data      string `gorm:"type:text;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (sessionRecord) TableName() string { return "sessions" }

type llmEventRecord struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	SessionID    string `gorm:"index;not null"`
	Stage        string `gorm:"not null"`
	Attempt      int    `gorm:"not null"`
	Model        string
	Status       string
	RequestJSON  string `gorm:"type:text"`
	ResponseText string `gorm:"type:text"`
	ParseOK      bool
	ValidationOK bool
	ErrorMessage string `gorm:"type:text"`
	CreatedAt    time.Time
}

func (llmEventRecord) TableName() string { return "llm_events" }

// Store is a session.Store on top of gorm.
type Store struct {
	db *gorm.DB
}

var _ session.Store = (*Store)(nil)

// Open connects with driver "sqlite" or "postgres" and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	db, err := openGorm(driver, dsn)
	if err != nil {
		return nil, err
	}
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("gorm db is required")
	}
	if err := db.AutoMigrate(&sessionRecord{}, &llmEventRecord{}); err != nil {
		return nil, fmt.Errorf("migrate session schema: %w", err)
	}
	return &Store{db: db}, nil
}

func openGorm(driver, dsn string) (*gorm.DB, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		driver = "sqlite"
	}
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		if driver != "sqlite" {
			return nil, fmt.Errorf("dsn is required for driver %q", driver)
		}
		dsn = "consultx.db"
	}

	config := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	switch driver {
	case "sqlite":
		if err := ensureSQLiteDirectory(dsn); err != nil {
			return nil, err
		}
		db, err := gorm.Open(sqliteDriver.Open(dsn), config)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlite handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	case "postgres":
		db, err := gorm.Open(postgres.Open(dsn), config)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}

func ensureSQLiteDirectory(dsn string) error {
	path, ok := sqliteFilePath(dsn)
	if !ok {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sqlite db dir: %w", err)
	}
	return nil
}

func sqliteFilePath(dsn string) (string, bool) {
	raw := strings.TrimSpace(dsn)
	lower := strings.ToLower(raw)
	if raw == "" || lower == ":memory:" || strings.HasPrefix(lower, "file::memory:") {
		return "", false
	}
	if strings.HasPrefix(lower, "file:") {
		parsed, err := url.Parse(raw)
		if err != nil {
			return stripQuery(strings.TrimPrefix(raw, "file:")), true
		}
		if strings.EqualFold(parsed.Query().Get("mode"), "memory") {
			return "", false
		}
		if parsed.Path != "" {
			return parsed.Path, true
		}
		return stripQuery(parsed.Opaque), parsed.Opaque != ""
	}
	return stripQuery(raw), true
}

func stripQuery(v string) string {
	if i := strings.Index(v, "?"); i >= 0 {
		return v[:i]
	}
	return v
}

func (s *Store) Create(ctx context.Context, sess session.Session) (session.Session, error) {
	if strings.TrimSpace(sess.ID) == "" {
		return session.Session{}, errors.New("session id is required")
	}
	stored := sess.Clone()
	stored.Revision = 1
	record, err := toRecord(stored)
	if err != nil {
		return session.Session{}, err
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return session.Session{}, fmt.Errorf("insert session %s: %w", stored.ID, err)
	}
	return stored, nil
}

func (s *Store) Get(ctx context.Context, id string) (session.Session, error) {
	var record sessionRecord
	err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(id)).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return session.Session{}, session.ErrNotFound
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("select session %s: %w", id, err)
	}
	return fromRecord(record)
}

func (s *Store) Update(ctx context.Context, sess session.Session) (session.Session, error) {
	stored := sess.Clone()
	stored.Revision = sess.Revision + 1
	record, err := toRecord(stored)
	if err != nil {
		return session.Session{}, err
	}

	var result session.Session
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&sessionRecord{}).
			Where("id = ? AND revision = ?", sess.ID, sess.Revision).
			Updates(map[string]any{
				"owner_id":   record.OwnerID,
				"status":     record.Status,
				"revision":   record.Revision,
				"data":       record.Data,
				"updated_at": record.UpdatedAt,
			})
		if res.Error != nil {
			return fmt.Errorf("update session %s: %w", sess.ID, res.Error)
		}
		if res.RowsAffected == 1 {
			result = stored
			return nil
		}

		var current sessionRecord
		err := tx.Select("revision").Where("id = ?", sess.ID).Take(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return session.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("select session revision %s: %w", sess.ID, err)
		}
		return fmt.Errorf("update session %s at revision %d (stored %d): %w",
			sess.ID, sess.Revision, current.Revision, session.ErrConflict)
	})
	if err != nil {
		return session.Session{}, err
	}
	return result, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&sessionRecord{})
	if res.Error != nil {
		return fmt.Errorf("delete session %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]session.Session, error) {
	var records []sessionRecord
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at, id").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	return fromRecords(records)
}

func (s *Store) ActiveByOwner(ctx context.Context, ownerID string) ([]session.Session, error) {
	var records []sessionRecord
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND status IN ?", ownerID, []string{string(session.StatusNotStarted), string(session.StatusInProgress)}).
		Order("created_at, id").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("query active sessions: %w", err)
	}
	return fromRecords(records)
}

func (s *Store) RecordLLMEvent(ctx context.Context, event session.LLMEvent) error {
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	record := llmEventRecord{
		SessionID:    event.SessionID,
		Stage:        event.Stage,
		Attempt:      event.Attempt,
		Model:        event.Model,
		Status:       event.Status,
		RequestJSON:  event.RequestJSON,
		ResponseText: event.ResponseText,
		ParseOK:      event.ParseOK,
		ValidationOK: event.ValidationOK,
		ErrorMessage: event.Error,
		CreatedAt:    createdAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("insert llm event: %w", err)
	}
	return nil
}

func (s *Store) ListLLMEvents(ctx context.Context, sessionID string) ([]session.LLMEvent, error) {
	var records []llmEventRecord
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("query llm events: %w", err)
	}
	out := make([]session.LLMEvent, 0, len(records))
	for _, r := range records {
		out = append(out, session.LLMEvent{
			ID:           r.ID,
			SessionID:    r.SessionID,
			Stage:        r.Stage,
			Attempt:      r.Attempt,
			Model:        r.Model,
			Status:       r.Status,
			RequestJSON:  r.RequestJSON,
			ResponseText: r.ResponseText,
			ParseOK:      r.ParseOK,
			ValidationOK: r.ValidationOK,
			Error:        r.ErrorMessage,
			CreatedAt:    r.CreatedAt.UTC(),
		})
	}
	return out, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecord(sess session.Session) (sessionRecord, error) {
	data, err := json.Marshal(sess)
	if err != nil {
		return sessionRecord{}, fmt.Errorf("marshal session: %w", err)
	}
	return sessionRecord{
		ID:        sess.ID,
		OwnerID:   sess.OwnerID,
		Status:    string(sess.Status),
		Track:     string(sess.Scenario.Track),
		Channel:   string(sess.Scenario.Channel),
		Revision:  sess.Revision,
		Data:      string(data),
		CreatedAt: sess.CreatedAt.UTC(),
		UpdatedAt: sess.UpdatedAt.UTC(),
	}, nil
}

func fromRecord(record sessionRecord) (session.Session, error) {
	var sess session.Session
	if err := json.Unmarshal([]byte(record.Data), &sess); err != nil {
		return session.Session{}, fmt.Errorf("decode session %s: %w", record.ID, err)
	}
	return sess, nil
}

func fromRecords(records []sessionRecord) ([]session.Session, error) {
	out := make([]session.Session, 0, len(records))
	for _, record := range records {
		sess, err := fromRecord(record)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}
