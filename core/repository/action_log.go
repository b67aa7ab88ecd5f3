// Package repository provides the data access layer for audit logs and the patch log.
package repository

import (
	"database/sql"

	"nfcunha/vigil/core/models"
)

// ActionLogRepository handles persistence of action logs.
type ActionLogRepository struct {
	db *sql.DB
}

// NewActionLogRepository creates a new action log repository.
func NewActionLogRepository(db *sql.DB) *ActionLogRepository {
	return &ActionLogRepository{db: db}
}

// Create stores an action log in the database.
func (r *ActionLogRepository) Create(log *models.ActionLog) error {
	query := `
		INSERT INTO action_logs (
			action_type, resource_type, resource_id, resource_name,
			trigger_source, success, error_message, executed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	id, err := insert(r.db, query,
		log.ActionType,
		log.ResourceType,
		log.ResourceID,
		nullable(log.ResourceName),
		nullable(log.Trigger),
		log.Success,
		nullable(log.ErrorMessage),
		log.ExecutedAt.UTC(),
	)
	if err != nil {
		return err
	}
	log.ID = id

	return nil
}

const actionLogColumns = `id, action_type, resource_type, resource_id, resource_name,
		       trigger_source, success, error_message, executed_at`

// GetByResource retrieves action logs for one resource, matched by id or name.
func (r *ActionLogRepository) GetByResource(resourceType, resource string, limit int) ([]*models.ActionLog, error) {
	query := `SELECT ` + actionLogColumns + `
		FROM action_logs
		WHERE resource_type = ? AND (resource_id = ? OR resource_name = ?)
		ORDER BY executed_at DESC, id DESC
		LIMIT ?
	`
	return queryAll(r.db, scanActionLog, query, resourceType, resource, resource, clampLimit(limit, 50))
}

// GetRecent retrieves recent action logs across all resources.
func (r *ActionLogRepository) GetRecent(limit int) ([]*models.ActionLog, error) {
	query := `SELECT ` + actionLogColumns + `
		FROM action_logs
		ORDER BY executed_at DESC, id DESC
		LIMIT ?
	`
	return queryAll(r.db, scanActionLog, query, clampLimit(limit, 50))
}

// DeleteOlderThan removes action logs older than the given number of days.
func (r *ActionLogRepository) DeleteOlderThan(days int) (int64, error) {
	return deleteOlderThan(r.db, "action_logs", "executed_at", days)
}

func scanActionLog(row rowScanner) (*models.ActionLog, error) {
	log := &models.ActionLog{}
	var errorMsg, resourceName, trigger sql.NullString

	err := row.Scan(
		&log.ID,
		&log.ActionType,
		&log.ResourceType,
		&log.ResourceID,
		&resourceName,
		&trigger,
		&log.Success,
		&errorMsg,
		&log.ExecutedAt,
	)
	if err != nil {
		return nil, err
	}

	log.ErrorMessage = errorMsg.String
	log.ResourceName = resourceName.String
	log.Trigger = trigger.String
	return log, nil
}
