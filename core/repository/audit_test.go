package repository

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nfcunha/vigil/core/models"
	"nfcunha/vigil/database"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "vigil.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestActionLogRepository_CreateAndQuery(t *testing.T) {
	repo := NewActionLogRepository(openTestDB(t))
	now := time.Now().UTC()

	first := &models.ActionLog{
		ActionType:   models.ActionRestart,
		ResourceType: "container",
		ResourceID:   "abc",
		ResourceName: "api",
		Trigger:      models.TriggerSelfHealing,
		Success:      false,
		ErrorMessage: "boom",
		ExecutedAt:   now.Add(-time.Minute),
	}
	second := &models.ActionLog{
		ActionType:   models.ActionRestart,
		ResourceType: "container",
		ResourceID:   "abc",
		Success:      true,
		ExecutedAt:   now,
	}
	require.NoError(t, repo.Create(first))
	require.NoError(t, repo.Create(second))
	assert.NotZero(t, first.ID)

	recent, err := repo.GetRecent(10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, second.ID, recent[0].ID)
	assert.Equal(t, "boom", recent[1].ErrorMessage)
	assert.Equal(t, models.TriggerSelfHealing, recent[1].Trigger)
	assert.Equal(t, "api", recent[1].ResourceName)

	byResource, err := repo.GetByResource("container", "abc", 1)
	require.NoError(t, err)
	assert.Len(t, byResource, 1)
}

func TestActionLogRepository_DeleteOlderThan(t *testing.T) {
	repo := NewActionLogRepository(openTestDB(t))

	require.NoError(t, repo.Create(&models.ActionLog{
		ActionType: models.ActionRestart, ResourceType: "container", ResourceID: "old",
		ExecutedAt: time.Now().UTC().AddDate(0, 0, -40),
	}))
	require.NoError(t, repo.Create(&models.ActionLog{
		ActionType: models.ActionRestart, ResourceType: "container", ResourceID: "new",
		ExecutedAt: time.Now().UTC(),
	}))

	deleted, err := repo.DeleteOlderThan(30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	recent, err := repo.GetRecent(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "new", recent[0].ResourceID)
}

func TestHealthCheckLogRepository_CreateAndQuery(t *testing.T) {
	repo := NewHealthCheckLogRepository(openTestDB(t))

	require.NoError(t, repo.Create(&models.HealthCheckLog{
		ServiceName:  "api",
		Status:       "unhealthy",
		ErrorMessage: "no-response",
		LatencyMs:    3000,
		CheckedAt:    time.Now().UTC(),
	}))
	require.NoError(t, repo.Create(&models.HealthCheckLog{
		ServiceName: "web",
		Status:      "healthy",
		HTTPStatus:  200,
		CheckedAt:   time.Now().UTC(),
	}))

	logs, err := repo.GetByService("api", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "no-response", logs[0].ErrorMessage)
	assert.Equal(t, int64(3000), logs[0].LatencyMs)
}

func TestEventLogRepository_List(t *testing.T) {
	repo := NewEventLogRepository(openTestDB(t))
	now := time.Now().UTC()

	require.NoError(t, repo.Create(&models.EventLog{EventType: "docker", Level: "warning", Message: "die", CreatedAt: now.Add(-time.Minute)}))
	require.NoError(t, repo.Create(&models.EventLog{EventType: "docker", Level: "info", Message: "restart", CreatedAt: now}))
	require.NoError(t, repo.Create(&models.EventLog{EventType: "webhook", Level: "info", Message: "builder", Metadata: `{"a":1}`, CreatedAt: now}))

	all, err := repo.List(EventLogFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	webhooks, err := repo.List(EventLogFilter{Type: "webhook"})
	require.NoError(t, err)
	require.Len(t, webhooks, 1)
	assert.Equal(t, `{"a":1}`, webhooks[0].Metadata)

	dockerInfo, err := repo.List(EventLogFilter{Type: "docker", Level: "info"})
	require.NoError(t, err)
	require.Len(t, dockerInfo, 1)
	assert.Equal(t, "restart", dockerInfo[0].Message)

	newest, err := repo.List(EventLogFilter{Type: "docker", Limit: 1})
	require.NoError(t, err)
	require.Len(t, newest, 1)
	assert.Equal(t, "restart", newest[0].Message)
}

func TestActionLogRepository_GetByResourceMatchesName(t *testing.T) {
	repo := NewActionLogRepository(openTestDB(t))

	require.NoError(t, repo.Create(&models.ActionLog{
		ActionType: models.ActionRestart, ResourceType: "container", ResourceID: "abc123", ResourceName: "stack-api-1",
		Success: true, ExecutedAt: time.Now().UTC(),
	}))
	require.NoError(t, repo.Create(&models.ActionLog{
		ActionType: models.ActionPatchApply, ResourceType: "patch", ResourceID: "p1", ResourceName: "stack-api-1",
		Success: true, ExecutedAt: time.Now().UTC(),
	}))

	byName, err := repo.GetByResource("container", "stack-api-1", 10)
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, "abc123", byName[0].ResourceID)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 50, clampLimit(0, 50))
	assert.Equal(t, 50, clampLimit(-3, 50))
	assert.Equal(t, 7, clampLimit(7, 50))
	assert.Equal(t, MaxListLimit, clampLimit(10_000, 50))
}
