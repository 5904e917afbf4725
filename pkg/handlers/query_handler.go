package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/piculi-bot/piculi-engine/pkg/auth"
	"github.com/piculi-bot/piculi-engine/pkg/models"
	"github.com/piculi-bot/piculi-engine/pkg/repositories"
	"github.com/piculi-bot/piculi-engine/pkg/services"
)

// QueryHandler serves the read-only endpoints used by the chat front end.
// Every successful query is recorded as an action log entry.
type QueryHandler struct {
	schedules     services.ScheduleQueryService
	rooms         services.RoomQueryService
	actionLogRepo repositories.ActionLogRepository
	location      *time.Location
	logger        *zap.Logger
	now           func() time.Time
}

// NewQueryHandler creates a new query handler. loc decides what "today" is
// when a request carries no date.
func NewQueryHandler(
	schedules services.ScheduleQueryService,
	rooms services.RoomQueryService,
	actionLogRepo repositories.ActionLogRepository,
	loc *time.Location,
	logger *zap.Logger,
) *QueryHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &QueryHandler{
		schedules:     schedules,
		rooms:         rooms,
		actionLogRepo: actionLogRepo,
		location:      loc,
		logger:        logger,
		now:           time.Now,
	}
}

// RegisterRoutes registers the query routes on the given mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/schedule/{group}", auth.UserFromHeader(h.Schedule))
	mux.HandleFunc("GET /api/groups/search", auth.UserFromHeader(h.SearchGroups))
	mux.HandleFunc("GET /api/free-slots", auth.UserFromHeader(h.FreeSlots))
	mux.HandleFunc("GET /api/free-rooms", auth.UserFromHeader(h.FreeRooms))
	mux.HandleFunc("GET /api/buildings", auth.UserFromHeader(h.Buildings))
}

func (h *QueryHandler) today() time.Time {
	return h.now().In(h.location)
}

// Schedule handles GET /api/schedule/{group}?date=YYYY-MM-DD
func (h *QueryHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	group := strings.TrimSpace(r.PathValue("group"))
	if group == "" {
		writeError(w, http.StatusBadRequest, "invalid_group", "Group is required", h.logger)
		return
	}
	date, ok := ParseDate(w, r, h.today(), h.logger)
	if !ok {
		return
	}

	day, err := h.schedules.DaySchedule(r.Context(), group, date)
	if err != nil {
		h.internalError(w, "Failed to load schedule", err)
		return
	}
	if day.Lessons == nil {
		day.Lessons = []models.Lesson{}
	}
	if day.Windows == nil {
		day.Windows = []models.Window{}
	}

	h.logAction(r.Context(), models.ActionViewSchedule, fmt.Sprintf("group:%s, date:%s", group, date.Format(dateLayout)))
	if err := WriteJSON(w, http.StatusOK, day); err != nil {
		h.logger.Error("Failed to write schedule response", zap.Error(err))
	}
}

type searchResponse struct {
	Query  string   `json:"query"`
	Groups []string `json:"groups"`
}

// SearchGroups handles GET /api/groups/search?q=...&scope=tracked
// The default scope searches groups with lessons; scope=tracked searches
// every known group.
func (h *QueryHandler) SearchGroups(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "invalid_query", "q is required", h.logger)
		return
	}

	search := h.schedules.SearchGroups
	if r.URL.Query().Get("scope") == "tracked" {
		search = h.schedules.SearchTrackedGroups
	}
	groups, err := search(r.Context(), q)
	if err != nil {
		h.internalError(w, "Failed to search groups", err)
		return
	}

	h.logAction(r.Context(), models.ActionSearchGroups, "query:"+q)
	if err := WriteJSON(w, http.StatusOK, searchResponse{Query: q, Groups: groups}); err != nil {
		h.logger.Error("Failed to write search response", zap.Error(err))
	}
}

type freeSlotsResponse struct {
	Groups []string          `json:"groups"`
	Date   string            `json:"date"`
	Slots  []models.FreeSlot `json:"slots"`
}

// FreeSlots handles GET /api/free-slots?group=a&group=b&date=YYYY-MM-DD
func (h *QueryHandler) FreeSlots(w http.ResponseWriter, r *http.Request) {
	var groups []string
	for _, g := range r.URL.Query()["group"] {
		if g = strings.TrimSpace(g); g != "" {
			groups = append(groups, g)
		}
	}
	if len(groups) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_group", "At least one group is required", h.logger)
		return
	}
	date, ok := ParseDate(w, r, h.today(), h.logger)
	if !ok {
		return
	}

	slots, err := h.schedules.CommonFreeSlots(r.Context(), groups, date)
	if err != nil {
		h.internalError(w, "Failed to compute free slots", err)
		return
	}

	h.logAction(r.Context(), models.ActionCommonFreeSlots, fmt.Sprintf("groups:%v, date:%s", groups, date.Format(dateLayout)))
	resp := freeSlotsResponse{Groups: groups, Date: date.Format(dateLayout), Slots: slots}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to write free slots response", zap.Error(err))
	}
}

type freeRoomsResponse struct {
	Date     string   `json:"date"`
	Pair     int      `json:"pair"`
	Building string   `json:"building,omitempty"`
	Rooms    []string `json:"rooms"`
}

// FreeRooms handles GET /api/free-rooms?date=YYYY-MM-DD&pair=N&building=B
func (h *QueryHandler) FreeRooms(w http.ResponseWriter, r *http.Request) {
	date, ok := ParseDate(w, r, h.today(), h.logger)
	if !ok {
		return
	}
	pair, ok := ParsePair(w, r, h.logger)
	if !ok {
		return
	}
	building := strings.TrimSpace(r.URL.Query().Get("building"))

	rooms, err := h.rooms.FreeRooms(r.Context(), date, pair, building)
	if err != nil {
		h.internalError(w, "Failed to compute free rooms", err)
		return
	}

	h.logAction(r.Context(), models.ActionFreeRooms,
		fmt.Sprintf("building:%s, date:%s, pair:%d", building, date.Format(dateLayout), pair))
	resp := freeRoomsResponse{Date: date.Format(dateLayout), Pair: pair, Building: building, Rooms: rooms}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to write free rooms response", zap.Error(err))
	}
}

// Buildings handles GET /api/buildings
func (h *QueryHandler) Buildings(w http.ResponseWriter, r *http.Request) {
	buildings, err := h.rooms.Buildings(r.Context())
	if err != nil {
		h.internalError(w, "Failed to list buildings", err)
		return
	}
	if buildings == nil {
		buildings = []string{}
	}
	if err := WriteJSON(w, http.StatusOK, buildings); err != nil {
		h.logger.Error("Failed to write buildings response", zap.Error(err))
	}
}

func (h *QueryHandler) internalError(w http.ResponseWriter, message string, err error) {
	h.logger.Error(message, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", message, h.logger)
}

// logAction records an analytics entry. Failures are logged and ignored.
func (h *QueryHandler) logAction(ctx context.Context, action, details string) {
	entry := &models.ActionLog{
		UserID:  auth.GetUserID(ctx),
		Action:  action,
		Details: &details,
	}
	if err := h.actionLogRepo.Log(ctx, entry); err != nil {
		h.logger.Warn("Failed to record action", zap.String("action", action), zap.Error(err))
	}
}
