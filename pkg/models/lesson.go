package models

import "time"

// Lesson is one parsed row of a group's schedule document.
// PairNumber is nil when the start time is not a standard slot.
type Lesson struct {
	ID         int64     `json:"id,omitempty"`
	GroupName  string    `json:"group_name"`
	Date       time.Time `json:"date"`
	PairNumber *int      `json:"pair_number"`
	StartTime  *string   `json:"start_time,omitempty"`
	EndTime    *string   `json:"end_time,omitempty"`
	Subject    *string   `json:"subject,omitempty"`
	ClassType  *string   `json:"class_type,omitempty"`
	Teacher    *string   `json:"teacher,omitempty"`
	Building   *string   `json:"building,omitempty"`
	Room       *string   `json:"room,omitempty"`
	Subgroup   *string   `json:"subgroup,omitempty"`
	RawInfo    string    `json:"raw_info"`
}

// LessonFields is the result of decomposing a free-text lesson description.
// Every field is independently nullable.
type LessonFields struct {
	Subject   *string `yaml:"subject,omitempty"`
	ClassType *string `yaml:"class_type,omitempty"`
	Teacher   *string `yaml:"teacher,omitempty"`
	Building  *string `yaml:"building,omitempty"`
	Room      *string `yaml:"room,omitempty"`
	Subgroup  *string `yaml:"subgroup,omitempty"`
}

// Fields returns the extracted fields of the lesson.
func (l *Lesson) Fields() LessonFields {
	return LessonFields{
		Subject:   l.Subject,
		ClassType: l.ClassType,
		Teacher:   l.Teacher,
		Building:  l.Building,
		Room:      l.Room,
		Subgroup:  l.Subgroup,
	}
}

// SetFields copies extracted fields onto the lesson.
func (l *Lesson) SetFields(f LessonFields) {
	l.Subject = f.Subject
	l.ClassType = f.ClassType
	l.Teacher = f.Teacher
	l.Building = f.Building
	l.Room = f.Room
	l.Subgroup = f.Subgroup
}

// PairFrequency is one aggregated row of same-weekday lesson history, used to
// predict a schedule when no concrete lessons exist for a date.
type PairFrequency struct {
	PairNumber *int
	Subject    *string
	ClassType  *string
	Teacher    *string
	Building   *string
	Room       *string
	Subgroup   *string
	Frequency  int
}
