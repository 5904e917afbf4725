package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/piculi-bot/piculi-engine/pkg/auth"
	"github.com/piculi-bot/piculi-engine/pkg/models"
)

type queryFixture struct {
	mux       *http.ServeMux
	schedules *mockScheduleQuery
	rooms     *mockRoomQuery
	actions   *mockActionLogRepo
}

func newQueryFixture() *queryFixture {
	fx := &queryFixture{
		schedules: &mockScheduleQuery{},
		rooms:     &mockRoomQuery{},
		actions:   &mockActionLogRepo{},
	}
	loc, _ := time.LoadLocation("Europe/Moscow")
	h := NewQueryHandler(fx.schedules, fx.rooms, fx.actions, loc, zap.NewNop())
	// 22:30 UTC is already the next day in Moscow
	h.now = func() time.Time { return time.Date(2026, 2, 19, 22, 30, 0, 0, time.UTC) }

	fx.mux = http.NewServeMux()
	h.RegisterRoutes(fx.mux)
	return fx
}

func (fx *queryFixture) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set(auth.UserIDHeader, "42")
	rec := httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, req)
	return rec
}

func TestQueryHandler_Schedule(t *testing.T) {
	fx := newQueryFixture()
	pair := 1
	fx.schedules.day = &models.DaySchedule{
		Group:     "ИВТб-2301",
		Predicted: true,
		Lessons:   []models.Lesson{{GroupName: "ИВТб-2301", PairNumber: &pair}},
	}

	rec := fx.get("/api/schedule/" + url.PathEscape("ИВТб-2301") + "?date=2026-02-16")
	require.Equal(t, http.StatusOK, rec.Code)

	var day models.DaySchedule
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&day))
	assert.True(t, day.Predicted)
	require.Len(t, day.Lessons, 1)
	assert.NotNil(t, day.Windows)
	assert.Equal(t, time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC), fx.schedules.gotDate)

	require.Len(t, fx.actions.entries, 1)
	entry := fx.actions.entries[0]
	assert.Equal(t, int64(42), entry.UserID)
	assert.Equal(t, models.ActionViewSchedule, entry.Action)
	assert.Equal(t, "group:ИВТб-2301, date:2026-02-16", *entry.Details)
}

func TestQueryHandler_Schedule_DefaultsToLocalToday(t *testing.T) {
	fx := newQueryFixture()
	fx.schedules.day = &models.DaySchedule{}

	rec := fx.get("/api/schedule/a")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC), fx.schedules.gotDate)
}

func TestQueryHandler_Schedule_BadDate(t *testing.T) {
	fx := newQueryFixture()

	rec := fx.get("/api/schedule/a?date=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, fx.actions.entries)
}

func TestQueryHandler_ActionLogFailureDoesNotFailRequest(t *testing.T) {
	fx := newQueryFixture()
	fx.schedules.day = &models.DaySchedule{}
	fx.actions.err = errors.New("database is locked")

	rec := fx.get("/api/schedule/a")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQueryHandler_SearchGroups(t *testing.T) {
	fx := newQueryFixture()
	fx.schedules.found = []string{"ИВТб-2301"}
	fx.schedules.tracked = []string{"ИВТб-2301", "ИВТб-2302"}

	rec := fx.get("/api/groups/search?q=" + url.QueryEscape("ивт"))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp searchResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, []string{"ИВТб-2301"}, resp.Groups)

	rec = fx.get("/api/groups/search?scope=tracked&q=" + url.QueryEscape("ивт"))
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Groups, 2)

	rec = fx.get("/api/groups/search")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryHandler_FreeSlots(t *testing.T) {
	fx := newQueryFixture()
	fx.schedules.slots = []models.FreeSlot{{PairNumber: 3, TimeRange: "11:45 - 13:15"}}

	rec := fx.get("/api/free-slots?group=a&group=b&group=&date=2026-02-16")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp freeSlotsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, []string{"a", "b"}, fx.schedules.gotGroups)
	assert.Equal(t, "2026-02-16", resp.Date)
	assert.Equal(t, 3, resp.Slots[0].PairNumber)
	assert.Equal(t, models.ActionCommonFreeSlots, fx.actions.entries[0].Action)

	rec = fx.get("/api/free-slots?date=2026-02-16")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryHandler_FreeRooms(t *testing.T) {
	fx := newQueryFixture()
	fx.rooms.rooms = []string{"2-100", "2-101"}

	rec := fx.get("/api/free-rooms?date=2026-02-16&pair=3&building=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp freeRoomsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, []string{"2-100", "2-101"}, resp.Rooms)
	assert.Equal(t, 3, fx.rooms.gotPair)
	assert.Equal(t, "building:2, date:2026-02-16, pair:3", *fx.actions.entries[0].Details)

	rec = fx.get("/api/free-rooms?pair=9")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryHandler_Buildings(t *testing.T) {
	fx := newQueryFixture()
	fx.rooms.buildings = []string{"2", "15", "ФОК"}

	rec := fx.get("/api/buildings")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, []string{"2", "15", "ФОК"}, got)
	assert.Empty(t, fx.actions.entries)
}

func TestQueryHandler_InternalError(t *testing.T) {
	fx := newQueryFixture()
	fx.rooms.err = errors.New("db down")

	rec := fx.get("/api/buildings")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
