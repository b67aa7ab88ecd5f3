package service

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nfcunha/vigil/core/eventbus"
	"nfcunha/vigil/core/repository"
	"nfcunha/vigil/database"
	"nfcunha/vigil/utils/config"
)

func TestProber_ProbeAll(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "vigil.db"))
	require.NoError(t, err)
	defer db.Close()
	repo := repository.NewHealthCheckLogRepository(db)

	publisher, bus, m := newTestPublisher(t)
	sub := subscribe(t, bus, eventbus.ChannelHealthCheckFailed)

	services := []config.ServiceTarget{
		{Name: "api", URL: healthyServer(t, http.StatusOK, "ok").URL},
		{Name: "web", URL: healthyServer(t, http.StatusInternalServerError, "").URL, Container: "web-1"},
	}
	prober := NewProber(services, NewHealthChecker(time.Second), repo, publisher, m, time.Minute)

	prober.ProbeAll(context.Background())

	payload, err := eventbus.Decode[eventbus.HealthCheckFailedPayload](expectEvent(t, sub))
	require.NoError(t, err)
	assert.Equal(t, "web", payload.Service)
	assert.Equal(t, "web-1", payload.Container)
	assert.Equal(t, "status=500", payload.Reason)
	expectNoEvent(t, sub)

	logs, err := repo.GetByService("web", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "unhealthy", logs[0].Status)
	assert.Equal(t, http.StatusInternalServerError, logs[0].HTTPStatus)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.HealthProbes.WithLabelValues("api", "healthy")))
}

func TestProber_RunWithoutServicesReturns(t *testing.T) {
	publisher, _, m := newTestPublisher(t)
	prober := NewProber(nil, NewHealthChecker(time.Second), nil, publisher, m, time.Minute)

	done := make(chan struct{})
	go func() {
		prober.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("prober should return when no services are registered")
	}
}
