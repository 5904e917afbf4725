package handlers

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/piculi-bot/piculi-engine/pkg/apperrors"
	"github.com/piculi-bot/piculi-engine/pkg/auth"
	"github.com/piculi-bot/piculi-engine/pkg/models"
	"github.com/piculi-bot/piculi-engine/pkg/services"
)

const testAdminToken = "admin-secret"

type adminFixture struct {
	mux       *http.ServeMux
	handler   *AdminHandler
	scheduler *mockScheduler
	groups    *mockGroupRepo
	settings  *mockSettingRepo
	actions   *mockActionLogRepo
	logFile   string
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	fx := &adminFixture{
		scheduler: &mockScheduler{},
		groups:    &mockGroupRepo{groups: map[string]bool{"ИВТб-2301": false}},
		settings:  &mockSettingRepo{settings: map[string]string{"scheduler_on": "1", "btn_search": "1"}},
		actions:   &mockActionLogRepo{},
		logFile:   filepath.Join(t.TempDir(), "engine.log"),
	}
	fx.handler = NewAdminHandler(
		fx.scheduler,
		&mockMaintenance{report: &services.MaintenanceReport{FilesDeleted: 2}},
		&mockDirectory{result: &services.DirectorySyncResult{Synced: true, Discovered: 10, Inserted: 3}},
		fx.groups, fx.settings, mockFileRepo{}, fx.actions,
		fx.logFile, zap.NewNop(),
	)
	fx.handler.now = func() time.Time { return time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC) }

	fx.mux = http.NewServeMux()
	fx.handler.RegisterRoutes(fx.mux, auth.NewMiddleware(testAdminToken, zap.NewNop()))
	return fx
}

func (fx *adminFixture) do(method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rec := httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, req)
	return rec
}

func TestAdminHandler_RequiresToken(t *testing.T) {
	fx := newAdminFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/scheduler/status", nil)
	rec := httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminHandler_SchedulerStatus(t *testing.T) {
	fx := newAdminFixture(t)
	fx.scheduler.status = models.SchedulerStatus{Running: true, Stats: models.RunStats{TotalRuns: 4, SuccessfulRuns: 3, FailedRuns: 1}}

	rec := fx.do(http.MethodGet, "/api/admin/scheduler/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status models.SchedulerStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.True(t, status.Running)
	assert.Equal(t, 4, status.Stats.TotalRuns)
	assert.Nil(t, status.LastRun)
}

func TestAdminHandler_RunPipeline(t *testing.T) {
	fx := newAdminFixture(t)
	fx.scheduler.result = &models.PipelineResult{RunID: "r1", Lessons: 120}

	rec := fx.do(http.MethodPost, "/api/admin/scheduler/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp runResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "r1", resp.Result.RunID)
	assert.Empty(t, resp.Error)
}

func TestAdminHandler_RunPipeline_Conflict(t *testing.T) {
	fx := newAdminFixture(t)
	fx.scheduler.err = apperrors.ErrPipelineRunning

	rec := fx.do(http.MethodPost, "/api/admin/scheduler/run", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAdminHandler_RunPipeline_PartialFailure(t *testing.T) {
	fx := newAdminFixture(t)
	fx.scheduler.result = &models.PipelineResult{RunID: "r2"}
	fx.scheduler.err = errors.New("occupancy refresh: db down")

	rec := fx.do(http.MethodPost, "/api/admin/scheduler/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp runResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "r2", resp.Result.RunID)
	assert.Contains(t, resp.Error, "db down")
}

func TestAdminHandler_RunPipeline_Stream(t *testing.T) {
	fx := newAdminFixture(t)
	fx.scheduler.steps = []string{"Downloading schedules", "Pipeline finished"}
	fx.scheduler.result = &models.PipelineResult{RunID: "r3"}

	rec := fx.do(http.MethodPost, "/api/admin/scheduler/run?stream=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	var lines []string
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 3)

	var first progressEvent
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Contains(t, first.Progress, "Downloading schedules")
	assert.Contains(t, first.Progress, "50%")

	var last runResponse
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &last))
	assert.Equal(t, "r3", last.Result.RunID)
}

func TestAdminHandler_Logs(t *testing.T) {
	fx := newAdminFixture(t)
	content := strings.Join([]string{
		`{"level":"info","logger":"pipeline","msg":"Pipeline started"}`,
		`{"level":"debug","msg":"HTTP request"}`,
		`{"level":"info","logger":"scheduler","msg":"Scheduler started"}`,
	}, "\n")
	require.NoError(t, os.WriteFile(fx.logFile, []byte(content), 0o644))

	rec := fx.do(http.MethodGet, "/api/admin/logs?lines=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp logsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Lines, 2)

	rec = fx.do(http.MethodGet, "/api/admin/logs?keyword=*", nil)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Lines, 3)
}

func TestAdminHandler_Logs_MissingFile(t *testing.T) {
	fx := newAdminFixture(t)

	rec := fx.do(http.MethodGet, "/api/admin/logs", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminHandler_Stats(t *testing.T) {
	fx := newAdminFixture(t)

	rec := fx.do(http.MethodGet, "/api/admin/stats?days=30", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 30, resp.Days)
	assert.Equal(t, 3, resp.Actions[models.ActionViewSchedule])
	assert.Equal(t, 1, resp.Groups)
	assert.Equal(t, 12, resp.Ledger[models.FileTypeSchedule])
	assert.Equal(t, time.Date(2026, 1, 21, 12, 0, 0, 0, time.UTC), fx.actions.since)
}

func TestAdminHandler_Maintenance(t *testing.T) {
	fx := newAdminFixture(t)

	rec := fx.do(http.MethodPost, "/api/admin/maintenance/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report services.MaintenanceReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, 2, report.FilesDeleted)
}

func TestAdminHandler_SyncGroups(t *testing.T) {
	fx := newAdminFixture(t)

	rec := fx.do(http.MethodPost, "/api/admin/groups/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res services.DirectorySyncResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, 3, res.Inserted)
}

func TestAdminHandler_SetTracking(t *testing.T) {
	fx := newAdminFixture(t)

	rec := fx.do(http.MethodPut, "/api/admin/groups/"+url.PathEscape("ИВТб-2301")+"/tracking", []byte(`{"tracked": true}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, fx.groups.groups["ИВТб-2301"])

	rec = fx.do(http.MethodPut, "/api/admin/groups/unknown/tracking", []byte(`{"tracked": true}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = fx.do(http.MethodPut, "/api/admin/groups/"+url.PathEscape("ИВТб-2301")+"/tracking", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminHandler_Settings(t *testing.T) {
	fx := newAdminFixture(t)

	rec := fx.do(http.MethodPut, "/api/admin/settings", []byte(`{"scheduler_on": "0"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	var settings map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&settings))
	assert.Equal(t, "0", settings["scheduler_on"])

	rec = fx.do(http.MethodPut, "/api/admin/settings", []byte(`{"nope": "1"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = fx.do(http.MethodPut, "/api/admin/settings", []byte(`{"btn_search": "yes"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "1", fx.settings.settings["btn_search"])
}
