package models

import "strings"

// MinPair and MaxPair bound the daily class slots.
const (
	MinPair = 1
	MaxPair = 7
)

// StandardPairs maps each pair number to its standard time range.
var StandardPairs = map[int]string{
	1: "08:20 - 09:50",
	2: "10:00 - 11:30",
	3: "11:45 - 13:15",
	4: "14:00 - 15:30",
	5: "15:45 - 17:15",
	6: "17:20 - 18:50",
	7: "18:55 - 20:25",
}

// timeSlots resolves a start time, or a full "start-end" range, to a pair.
var timeSlots = map[string]int{
	"08:20": 1, "08:20-09:50": 1,
	"10:00": 2, "10:00-11:30": 2,
	"11:45": 3, "11:45-13:15": 3,
	"14:00": 4, "14:00-15:30": 4,
	"15:45": 5, "15:45-17:15": 5,
	"17:20": 6, "17:20-18:50": 6,
	"18:55": 7, "18:55-20:25": 7,
}

// PairForStartTime returns the pair number for a start time such as "08:20".
// Unknown times return nil.
func PairForStartTime(start string) *int {
	n, ok := timeSlots[strings.TrimSpace(start)]
	if !ok {
		return nil
	}
	return &n
}

// PairTimeRange returns the standard time range of a pair, or "" if the
// number is outside 1..7.
func PairTimeRange(pair int) string {
	return StandardPairs[pair]
}

// ValidPair reports whether n is a known pair number.
func ValidPair(n int) bool {
	return n >= MinPair && n <= MaxPair
}
