package models

import "time"

// ActionLog is an analytics record of a user-facing query.
type ActionLog struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Action    string    `json:"action"`
	Details   *string   `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Action names recorded by the query endpoints.
const (
	ActionViewSchedule    = "view_schedule"
	ActionSearchGroups    = "search_groups"
	ActionCommonFreeSlots = "check_common_windows"
	ActionFreeRooms       = "check_free_rooms"
)
