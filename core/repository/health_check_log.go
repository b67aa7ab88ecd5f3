package repository

import (
	"database/sql"

	"nfcunha/vigil/core/models"
)

// HealthCheckLogRepository handles persistence of service probe results.
type HealthCheckLogRepository struct {
	db *sql.DB
}

// NewHealthCheckLogRepository creates a new health check log repository.
func NewHealthCheckLogRepository(db *sql.DB) *HealthCheckLogRepository {
	return &HealthCheckLogRepository{db: db}
}

// Create stores a health check result in the database.
func (r *HealthCheckLogRepository) Create(log *models.HealthCheckLog) error {
	query := `
		INSERT INTO health_check_logs (
			service_name, container_name, status,
			http_status, latency_ms, error_message, checked_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	id, err := insert(r.db, query,
		log.ServiceName,
		nullable(log.ContainerName),
		log.Status,
		log.HTTPStatus,
		log.LatencyMs,
		nullable(log.ErrorMessage),
		log.CheckedAt.UTC(),
	)
	if err != nil {
		return err
	}
	log.ID = id

	return nil
}

// GetByService retrieves the newest probe results for a service.
func (r *HealthCheckLogRepository) GetByService(serviceName string, limit int) ([]*models.HealthCheckLog, error) {
	query := `
		SELECT id, service_name, container_name, status,
		       http_status, latency_ms, error_message, checked_at
		FROM health_check_logs
		WHERE service_name = ?
		ORDER BY checked_at DESC, id DESC
		LIMIT ?
	`
	return queryAll(r.db, scanHealthCheckLog, query, serviceName, clampLimit(limit, 50))
}

// DeleteOlderThan removes health check logs older than the given number of days.
func (r *HealthCheckLogRepository) DeleteOlderThan(days int) (int64, error) {
	return deleteOlderThan(r.db, "health_check_logs", "checked_at", days)
}

func scanHealthCheckLog(row rowScanner) (*models.HealthCheckLog, error) {
	log := &models.HealthCheckLog{}
	var containerName, errorMsg sql.NullString
	var httpStatus, latency sql.NullInt64

	err := row.Scan(
		&log.ID,
		&log.ServiceName,
		&containerName,
		&log.Status,
		&httpStatus,
		&latency,
		&errorMsg,
		&log.CheckedAt,
	)
	if err != nil {
		return nil, err
	}

	log.ContainerName = containerName.String
	log.HTTPStatus = int(httpStatus.Int64)
	log.LatencyMs = latency.Int64
	log.ErrorMessage = errorMsg.String
	return log, nil
}
