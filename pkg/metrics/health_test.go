package metrics

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func resetHealthChecker() {
	healthChecker.mu.Lock()
	healthChecker.components = make(map[string]ComponentHealth)
	healthChecker.mu.Unlock()
}

func TestRegisterComponent(t *testing.T) {
	resetHealthChecker()
	RegisterComponent("sender", true, "ok")

	health := GetHealth()
	require.Equal(t, "healthy", health.Status)
	require.Equal(t, "healthy", health.Components["sender"])
}

func TestGetHealthAllHealthy(t *testing.T) {
	resetHealthChecker()
	RegisterComponent("sender", true, "ok")
	RegisterComponent("scheduler", true, "ok")

	health := GetHealth()
	require.Equal(t, "healthy", health.Status)
	require.Len(t, health.Components, 2)
}

func TestGetHealthOneUnhealthy(t *testing.T) {
	resetHealthChecker()
	RegisterComponent("sender", true, "ok")
	RegisterComponent("scheduler", false, "database locked")

	health := GetHealth()
	require.Equal(t, "unhealthy", health.Status)
	require.Contains(t, health.Components["scheduler"], "database locked")
}

func TestHealthHandler(t *testing.T) {
	resetHealthChecker()
	RegisterComponent("sender", true, "ok")

	w := httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, 200, w.Code)

	var body HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "healthy", body.Status)
}

func TestHealthHandlerUnhealthy(t *testing.T) {
	resetHealthChecker()
	RegisterComponent("sender", false, "send failed")

	w := httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, 503, w.Code)
}

func TestLivenessHandler(t *testing.T) {
	w := httptest.NewRecorder()
	LivenessHandler()(w, httptest.NewRequest("GET", "/live", nil))
	require.Equal(t, 200, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "alive", body["status"])
}

func TestSetVersionAppearsInHealth(t *testing.T) {
	resetHealthChecker()
	SetVersion("1.2.3")
	defer SetVersion("")

	health := GetHealth()
	require.Equal(t, "1.2.3", health.Version)
}
