package models

import "time"

// DaySchedule is one group's lessons on one date. Predicted is set when no
// concrete lessons exist and Lessons were inferred from weekday history.
type DaySchedule struct {
	Group     string    `json:"group"`
	Date      time.Time `json:"date"`
	Predicted bool      `json:"predicted"`
	Lessons   []Lesson  `json:"lessons"`
	Windows   []Window  `json:"windows"`
}

// Window is a run of empty pairs between two lessons of the same day.
type Window struct {
	FromPair int `json:"from_pair"`
	ToPair   int `json:"to_pair"`
}

// Size returns the number of empty pairs in the window.
func (w Window) Size() int {
	return w.ToPair - w.FromPair + 1
}

// FreeSlot is a pair free for every requested group.
type FreeSlot struct {
	PairNumber int    `json:"pair_number"`
	TimeRange  string `json:"time_range"`
}
