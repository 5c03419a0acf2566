package httpx

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftmill/draftmill/internal/domain/model"
)

func TestMonitorStartWithoutMailConfig(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(t, env, http.MethodPost, "/api/monitor/start", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation", body["error"])
	assert.Contains(t, body["message"], "mail intake is not configured")
}

func TestMonitorStopWhenNotRunning(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(t, env, http.MethodPost, "/api/monitor/stop", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "conflict", body["error"])
	assert.Contains(t, body["message"], "monitor not running")
}

func TestMonitorStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(t, env, http.MethodGet, "/api/monitor/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status model.MonitorStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Running)
	assert.Zero(t, status.ActiveJobs)
	assert.Equal(t, 60, status.CheckIntervalSeconds)
	assert.Nil(t, status.LastPoll)
}
