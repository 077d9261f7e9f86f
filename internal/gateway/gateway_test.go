// ABOUTME: Tests for the gateway orchestrator: heartbeat target resolution,
// ABOUTME: admin HTTP handlers, and Tailscale listener configuration helpers.

package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/herald-gateway/internal/agent"
	"github.com/2389/herald-gateway/internal/config"
	"github.com/2389/herald-gateway/internal/executor"
	"github.com/2389/herald-gateway/internal/heartbeat"
	"github.com/2389/herald-gateway/internal/history"
)

type stubRunner struct {
	result executor.Result
}

func (s *stubRunner) Execute(ctx context.Context, prompt string, chatID int64, onPartial executor.PartialFunc) executor.Result {
	return s.result
}

func newTestGateway(t *testing.T, cfg *config.Config) *Gateway {
	t.Helper()

	store, err := history.Open(filepath.Join(t.TempDir(), "herald.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	runner := &stubRunner{result: executor.Result{Success: true, Output: "HEARTBEAT_OK all clear"}}
	hbExec := heartbeat.NewExecutor(cfg.Heartbeat, runner)

	exec, err := executor.New(executor.Options{WorkingDir: t.TempDir()},
		func(agent.Options) agent.Session { return nil })
	require.NoError(t, err)

	g := &Gateway{
		config:    cfg,
		logger:    slog.Default(),
		startedAt: time.Now(),
		store:     store,
		exec:      exec,
	}
	g.hb = heartbeat.NewScheduler(cfg.Heartbeat, hbExec, g.heartbeatResolver(), nil)
	return g
}

func baseConfig(target string) *config.Config {
	return &config.Config{
		Heartbeat: heartbeat.Config{Target: target, AckMaxChars: 300},
	}
}

func TestHeartbeatResolverNoneNeverResolves(t *testing.T) {
	g := newTestGateway(t, baseConfig(heartbeat.TargetNone))

	_, ok := g.heartbeatResolver()()
	assert.False(t, ok)
}

func TestHeartbeatResolverLiteralChatID(t *testing.T) {
	g := newTestGateway(t, baseConfig("123456"))

	chatID, ok := g.heartbeatResolver()()
	assert.True(t, ok)
	assert.Equal(t, int64(123456), chatID)
}

func TestHeartbeatResolverInvalidTargetDisablesAlerts(t *testing.T) {
	g := newTestGateway(t, baseConfig("not-a-chat"))

	_, ok := g.heartbeatResolver()()
	assert.False(t, ok)
}

func TestHeartbeatResolverLastFollowsRecentChat(t *testing.T) {
	g := newTestGateway(t, baseConfig(heartbeat.TargetLast))
	resolve := g.heartbeatResolver()

	// No history yet: nothing to deliver to.
	_, ok := resolve()
	assert.False(t, ok)

	ctx := context.Background()
	require.NoError(t, g.store.SaveMessage(ctx, 555, history.RoleUser, "hello"))
	require.NoError(t, g.store.SaveMessage(ctx, 777, history.RoleUser, "hi there"))

	chatID, ok := resolve()
	assert.True(t, ok)
	assert.Equal(t, int64(777), chatID)
}

func TestHandleHealth(t *testing.T) {
	g := newTestGateway(t, baseConfig(heartbeat.TargetNone))

	rec := httptest.NewRecorder()
	g.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleStatus(t *testing.T) {
	cfg := baseConfig(heartbeat.TargetNone)
	cfg.Heartbeat.Enabled = true
	g := newTestGateway(t, cfg)

	rec := httptest.NewRecorder()
	g.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/admin/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["heartbeat_enabled"])
}

func TestHandleTriggerHeartbeat(t *testing.T) {
	g := newTestGateway(t, baseConfig(heartbeat.TargetNone))

	rec := httptest.NewRecorder()
	g.handleTriggerHeartbeat(rec, httptest.NewRequest(http.MethodPost, "/admin/heartbeat", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, false, body["should_deliver"])
}

func TestHandleReady(t *testing.T) {
	g := newTestGateway(t, baseConfig(heartbeat.TargetNone))

	rec := httptest.NewRecorder()
	g.handleReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["active_sessions"])
}

func TestHandleReset(t *testing.T) {
	g := newTestGateway(t, baseConfig(heartbeat.TargetNone))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/reset", strings.NewReader(`{"chat_id": 42}`))
	g.handleReset(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["reset"])
	assert.Equal(t, false, body["had_session"])
}

func TestHandleResetRequiresChatID(t *testing.T) {
	g := newTestGateway(t, baseConfig(heartbeat.TargetNone))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/reset", strings.NewReader(`{}`))
	g.handleReset(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleTriggerHeartbeatRejectsGet(t *testing.T) {
	g := newTestGateway(t, baseConfig(heartbeat.TargetNone))

	rec := httptest.NewRecorder()
	g.handleTriggerHeartbeat(rec, httptest.NewRequest(http.MethodGet, "/admin/heartbeat", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestResolveTailscaleStateDir(t *testing.T) {
	dir, err := resolveTailscaleStateDir("/custom/state")
	require.NoError(t, err)
	assert.Equal(t, "/custom/state", dir)

	dir, err = resolveTailscaleStateDir("")
	require.NoError(t, err)
	assert.Contains(t, dir, filepath.Join("herald-gateway", "tailscale"))
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	key, err := resolveTailscaleAuthKey("tskey-configured")
	require.NoError(t, err)
	assert.Equal(t, "tskey-configured", key)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err = resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)

	t.Setenv("TS_AUTHKEY", "")
	_, err = resolveTailscaleAuthKey("")
	assert.Error(t, err)
}
