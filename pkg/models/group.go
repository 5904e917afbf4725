package models

// TrackedGroup is a group discovered on the schedule listing page.
// Rows are never deleted; only IsTracked is toggled.
type TrackedGroup struct {
	GroupName string `json:"group_name"`
	IsTracked bool   `json:"is_tracked"`
}
