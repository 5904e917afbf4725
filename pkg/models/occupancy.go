package models

import (
	"sort"
	"strconv"
	"time"
)

// Occupancy records whether a room is in use during one pair of one day.
// GroupName holds the occupying group's label when the room is busy.
type Occupancy struct {
	ID         int64
	Building   string
	Room       string
	Date       time.Time
	PairNumber int
	IsFree     bool
	GroupName  *string
}

// SortBuildings orders building identifiers numerically. Identifiers that are
// not numbers go last, in lexical order.
func SortBuildings(buildings []string) {
	sort.SliceStable(buildings, func(i, j int) bool {
		a, errA := strconv.Atoi(buildings[i])
		b, errB := strconv.Atoi(buildings[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		}
		return buildings[i] < buildings[j]
	})
}
