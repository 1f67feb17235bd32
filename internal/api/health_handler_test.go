package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/sparkpost-monitor/internal/queue"
)

type fakeBreaker struct{ state string }

func (f fakeBreaker) State() string { return f.state }

func TestHealthCheck_NoDependenciesConfigured(t *testing.T) {
	hc := NewHealthChecker(nil, nil, nil, nil)
	router := SetupRoutes(setupMinimalHandlers(t), hc)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// every dependency reports "not configured", which determineOverallStatus
	// treats as neither degraded nor unhealthy.
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "down", resp.Checks["database"].Status)
	assert.Equal(t, "not configured", resp.Checks["database"].Message)
}

func TestHealthCheck_Liveness(t *testing.T) {
	hc := NewHealthChecker(nil, nil, nil, nil)
	router := SetupRoutes(setupMinimalHandlers(t), hc)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alive", resp["status"])
}

func TestHealthCheck_ReadinessUnhealthyWhenDatabasePingFails(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing().WillReturnError(sql.ErrConnDone)

	q := &fakeQueue{counts: queue.Counts{Waiting: 1}}
	hc := NewHealthChecker(db, nil, q, fakeBreaker{state: "closed"})
	router := SetupRoutes(setupMinimalHandlers(t), hc)

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp["ready"].(bool))
	assert.Equal(t, "unhealthy", resp["status"])
}

func TestHealthCheck_QueueBacklogDegrades(t *testing.T) {
	q := &fakeQueue{counts: queue.Counts{Waiting: 50000}}
	hc := &HealthChecker{queue: q, breaker: fakeBreaker{state: "closed"}}
	checks := hc.runAllChecks(context.Background())

	assert.Equal(t, "degraded", checks["queue"].Status)
	assert.Equal(t, "up", checks["provider_circuit"].Status)
}

func TestHealthCheck_OpenCircuitDegrades(t *testing.T) {
	q := &fakeQueue{counts: queue.Counts{Waiting: 1}}
	hc := &HealthChecker{queue: q, breaker: fakeBreaker{state: "open"}}
	checks := hc.runAllChecks(context.Background())

	assert.Equal(t, "degraded", checks["provider_circuit"].Status)
}

func setupMinimalHandlers(t *testing.T) *Handlers {
	t.Helper()
	return NewHandlers(newFakeCampaigns(), newFakeSuppression(), &fakeRecipients{}, &fakeQueue{}, fakeRecords{}, fakeEvents{}, fakeChecker{}, fakeInFlight{}, 10)
}
