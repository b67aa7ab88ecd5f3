package repository

import (
	"database/sql"
	"strings"

	"nfcunha/vigil/core/models"
)

// EventLogFilter selects rows of the event log. Zero fields match everything.
type EventLogFilter struct {
	Type  string
	Level string
	Limit int
}

// EventLogRepository stores docker, webhook and self-healing events.
type EventLogRepository struct {
	db *sql.DB
}

func NewEventLogRepository(db *sql.DB) *EventLogRepository {
	return &EventLogRepository{db: db}
}

func (r *EventLogRepository) Create(log *models.EventLog) error {
	id, err := insert(r.db,
		`INSERT INTO event_logs (event_type, level, message, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		log.EventType, log.Level, log.Message, nullable(log.Metadata), log.CreatedAt.UTC())
	if err != nil {
		return err
	}
	log.ID = id
	return nil
}

// List returns the newest events matching f. The limit defaults to 50.
func (r *EventLogRepository) List(f EventLogFilter) ([]*models.EventLog, error) {
	var where []string
	var args []any
	if f.Type != "" {
		where = append(where, "event_type = ?")
		args = append(args, f.Type)
	}
	if f.Level != "" {
		where = append(where, "level = ?")
		args = append(args, f.Level)
	}

	var b strings.Builder
	b.WriteString("SELECT id, event_type, level, message, metadata, created_at FROM event_logs")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC LIMIT ?")
	args = append(args, clampLimit(f.Limit, 50))

	return queryAll(r.db, scanEventLog, b.String(), args...)
}

func (r *EventLogRepository) DeleteOlderThan(days int) (int64, error) {
	return deleteOlderThan(r.db, "event_logs", "created_at", days)
}

func scanEventLog(row rowScanner) (*models.EventLog, error) {
	var e models.EventLog
	var metadata sql.NullString
	if err := row.Scan(&e.ID, &e.EventType, &e.Level, &e.Message, &metadata, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Metadata = metadata.String
	return &e, nil
}
