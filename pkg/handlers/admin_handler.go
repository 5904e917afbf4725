package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/piculi-bot/piculi-engine/pkg/apperrors"
	"github.com/piculi-bot/piculi-engine/pkg/auth"
	"github.com/piculi-bot/piculi-engine/pkg/logging"
	"github.com/piculi-bot/piculi-engine/pkg/models"
	"github.com/piculi-bot/piculi-engine/pkg/repositories"
	"github.com/piculi-bot/piculi-engine/pkg/services"
)

// AdminHandler serves the operator endpoints under /api/admin.
type AdminHandler struct {
	scheduler     services.SchedulerService
	maintenance   services.MaintenanceService
	directory     services.DirectorySyncService
	groupRepo     repositories.TrackedGroupRepository
	settingRepo   repositories.BotSettingRepository
	fileRepo      repositories.ProcessedFileRepository
	actionLogRepo repositories.ActionLogRepository
	logFile       string
	logger        *zap.Logger
	now           func() time.Time
}

// NewAdminHandler creates a new admin handler. logFile is the path tailed by
// the logs endpoint.
func NewAdminHandler(
	scheduler services.SchedulerService,
	maintenance services.MaintenanceService,
	directory services.DirectorySyncService,
	groupRepo repositories.TrackedGroupRepository,
	settingRepo repositories.BotSettingRepository,
	fileRepo repositories.ProcessedFileRepository,
	actionLogRepo repositories.ActionLogRepository,
	logFile string,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		scheduler:     scheduler,
		maintenance:   maintenance,
		directory:     directory,
		groupRepo:     groupRepo,
		settingRepo:   settingRepo,
		fileRepo:      fileRepo,
		actionLogRepo: actionLogRepo,
		logFile:       logFile,
		logger:        logger,
		now:           time.Now,
	}
}

// RegisterRoutes registers the admin routes, all behind the admin token.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	base := "/api/admin"
	guard := authMiddleware.RequireAdmin

	mux.HandleFunc("GET "+base+"/scheduler/status", guard(h.SchedulerStatus))
	mux.HandleFunc("POST "+base+"/scheduler/run", guard(h.RunPipeline))
	mux.HandleFunc("GET "+base+"/logs", guard(h.Logs))
	mux.HandleFunc("GET "+base+"/stats", guard(h.Stats))
	mux.HandleFunc("POST "+base+"/maintenance/run", guard(h.RunMaintenance))
	mux.HandleFunc("GET "+base+"/groups", guard(h.ListGroups))
	mux.HandleFunc("POST "+base+"/groups/sync", guard(h.SyncGroups))
	mux.HandleFunc("PUT "+base+"/groups/{group}/tracking", guard(h.SetTracking))
	mux.HandleFunc("GET "+base+"/settings", guard(h.GetSettings))
	mux.HandleFunc("PUT "+base+"/settings", guard(h.UpdateSettings))
}

// SchedulerStatus handles GET /api/admin/scheduler/status
func (h *AdminHandler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if err := WriteJSON(w, http.StatusOK, h.scheduler.GetStatus()); err != nil {
		h.logger.Error("Failed to write scheduler status", zap.Error(err))
	}
}

type runResponse struct {
	Result *models.PipelineResult `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

type progressEvent struct {
	Progress string `json:"progress"`
}

// RunPipeline handles POST /api/admin/scheduler/run
//
// With ?stream=true the response is newline-delimited JSON: one
// {"progress": ...} object per rendered progress bar, then the final
// runResponse. Otherwise the run completes before a single JSON response.
func (h *AdminHandler) RunPipeline(w http.ResponseWriter, r *http.Request) {
	if stream, _ := strconv.ParseBool(r.URL.Query().Get("stream")); stream {
		h.streamRun(w, r)
		return
	}

	result, err := h.scheduler.RunNow(r.Context(), services.NopProgress{})
	switch {
	case errors.Is(err, apperrors.ErrPipelineRunning):
		writeError(w, http.StatusConflict, "pipeline_running", "A pipeline run is already in progress", h.logger)
		return
	case err != nil && result == nil:
		h.logger.Error("Pipeline run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Pipeline run failed", h.logger)
		return
	}

	resp := runResponse{Result: result}
	if err != nil {
		resp.Error = err.Error()
	}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to write run response", zap.Error(err))
	}
}

func (h *AdminHandler) streamRun(w http.ResponseWriter, r *http.Request) {
	stream, err := NewNDJSONWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "Streaming is not supported", h.logger)
		return
	}

	sink := services.NewBarProgress("Pipeline run", func(_ context.Context, text string) error {
		return stream.Event(progressEvent{Progress: text})
	})

	result, err := h.scheduler.RunNow(r.Context(), sink)
	resp := runResponse{Result: result}
	if err != nil {
		resp.Error = err.Error()
	}
	if err := stream.Event(resp); err != nil {
		h.logger.Debug("Failed to write final run event", zap.Error(err))
	}
}

type logsResponse struct {
	Lines []string `json:"lines"`
}

// Logs handles GET /api/admin/logs?lines=N&keyword=...
// Without keyword parameters the ingestion keywords apply; keyword=* returns
// every line.
func (h *AdminHandler) Logs(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("lines"))

	var keywords []string
	if values, ok := r.URL.Query()["keyword"]; ok {
		keywords = []string{}
		for _, v := range values {
			if v != "*" && strings.TrimSpace(v) != "" {
				keywords = append(keywords, v)
			}
		}
	}

	lines, err := logging.TailFile(h.logFile, logging.ClampTailLines(n), keywords)
	if errors.Is(err, apperrors.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "Log file not found", h.logger)
		return
	}
	if err != nil {
		h.logger.Error("Failed to read log file", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to read log file", h.logger)
		return
	}
	if lines == nil {
		lines = []string{}
	}

	if err := WriteJSON(w, http.StatusOK, logsResponse{Lines: lines}); err != nil {
		h.logger.Error("Failed to write logs response", zap.Error(err))
	}
}

type statsResponse struct {
	Days    int                     `json:"days"`
	Actions map[string]int          `json:"actions"`
	Groups  int                     `json:"groups"`
	Ledger  map[models.FileType]int `json:"ledger"`
}

// Stats handles GET /api/admin/stats?days=N (default 7).
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil || days <= 0 {
		days = 7
	}
	ctx := r.Context()

	actions, err := h.actionLogRepo.CountSince(ctx, h.now().AddDate(0, 0, -days))
	if err != nil {
		h.logger.Error("Failed to count actions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to load statistics", h.logger)
		return
	}
	groups, err := h.groupRepo.Count(ctx)
	if err != nil {
		h.logger.Error("Failed to count groups", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to load statistics", h.logger)
		return
	}
	ledger, err := h.fileRepo.Count(ctx)
	if err != nil {
		h.logger.Error("Failed to count ledger rows", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to load statistics", h.logger)
		return
	}

	resp := statsResponse{Days: days, Actions: actions, Groups: groups, Ledger: ledger}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to write stats response", zap.Error(err))
	}
}

// RunMaintenance handles POST /api/admin/maintenance/run
func (h *AdminHandler) RunMaintenance(w http.ResponseWriter, r *http.Request) {
	report := h.maintenance.Run(r.Context())
	if err := WriteJSON(w, http.StatusOK, report); err != nil {
		h.logger.Error("Failed to write maintenance report", zap.Error(err))
	}
}

// ListGroups handles GET /api/admin/groups
func (h *AdminHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.groupRepo.List(r.Context())
	if err != nil {
		h.logger.Error("Failed to list groups", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list groups", h.logger)
		return
	}
	if groups == nil {
		groups = []models.TrackedGroup{}
	}
	if err := WriteJSON(w, http.StatusOK, groups); err != nil {
		h.logger.Error("Failed to write groups response", zap.Error(err))
	}
}

// SyncGroups handles POST /api/admin/groups/sync
func (h *AdminHandler) SyncGroups(w http.ResponseWriter, r *http.Request) {
	res, err := h.directory.Sync(r.Context())
	if err != nil {
		h.logger.Error("Group directory sync failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to store groups", h.logger)
		return
	}
	if err := WriteJSON(w, http.StatusOK, res); err != nil {
		h.logger.Error("Failed to write sync response", zap.Error(err))
	}
}

type trackingRequest struct {
	Tracked *bool `json:"tracked"`
}

// SetTracking handles PUT /api/admin/groups/{group}/tracking
func (h *AdminHandler) SetTracking(w http.ResponseWriter, r *http.Request) {
	group := r.PathValue("group")

	var req trackingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Tracked == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Body must be {\"tracked\": true|false}", h.logger)
		return
	}

	err := h.groupRepo.SetTracked(r.Context(), group, *req.Tracked)
	if errors.Is(err, apperrors.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "Unknown group", h.logger)
		return
	}
	if err != nil {
		h.logger.Error("Failed to set group tracking", zap.String("group", group), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to update group", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, models.TrackedGroup{GroupName: group, IsTracked: *req.Tracked}); err != nil {
		h.logger.Error("Failed to write tracking response", zap.Error(err))
	}
}

// GetSettings handles GET /api/admin/settings
func (h *AdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settingRepo.GetAll(r.Context())
	if err != nil {
		h.logger.Error("Failed to load settings", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to load settings", h.logger)
		return
	}
	if err := WriteJSON(w, http.StatusOK, settings); err != nil {
		h.logger.Error("Failed to write settings response", zap.Error(err))
	}
}

// UpdateSettings handles PUT /api/admin/settings with a {"key": "value"}
// object. Only known keys with "0" or "1" values are accepted.
func (h *AdminHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "Body must be a non-empty object of settings", h.logger)
		return
	}
	for key, value := range req {
		if _, known := models.DefaultBotSettings[key]; !known {
			writeError(w, http.StatusBadRequest, "invalid_parameters", "Unknown setting: "+key, h.logger)
			return
		}
		if value != "0" && value != "1" {
			writeError(w, http.StatusBadRequest, "invalid_parameters", "Setting values must be \"0\" or \"1\"", h.logger)
			return
		}
	}

	for key, value := range req {
		if err := h.settingRepo.Set(r.Context(), key, value); err != nil {
			h.logger.Error("Failed to update setting", zap.String("key", key), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error", "Failed to update settings", h.logger)
			return
		}
	}
	h.logger.Info("Settings updated", zap.Any("settings", req))

	h.GetSettings(w, r)
}
