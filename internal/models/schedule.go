package models

import "time"

// PeriodType distinguishes teaching slots from breaks.
type PeriodType string

const (
	PeriodClass PeriodType = "class"
	PeriodBreak PeriodType = "break"
)

// ScheduleSlot is one timetable row. The admin application owns writes; the
// gate reads projections of it only.
type ScheduleSlot struct {
	ID             string     `db:"id" json:"id"`
	DayOfWeek      int        `db:"day_of_week" json:"day_of_week"`
	StartMinute    int        `db:"start_minute" json:"start_minute"`
	EndMinute      int        `db:"end_minute" json:"end_minute"`
	Type           PeriodType `db:"type" json:"type"`
	ClassID        *string    `db:"class_id" json:"class_id,omitempty"`
	TeacherID      *string    `db:"teacher_id" json:"teacher_id,omitempty"`
	SubjectName    *string    `db:"subject_name" json:"subject_name,omitempty"`
	SubjectCode    *string    `db:"subject_code" json:"subject_code,omitempty"`
	Room           *string    `db:"room" json:"room,omitempty"`
	OrganizationID string     `db:"organization_id" json:"organization_id"`
}

// SlotOccurrence materialises a timetable slot onto a concrete day.
type SlotOccurrence struct {
	Slot      ScheduleSlot `json:"slot"`
	StartTime time.Time    `json:"start_time"`
	EndTime   time.Time    `json:"end_time"`
}

// Contains reports whether the instant falls inside the occurrence.
func (o *SlotOccurrence) Contains(t time.Time) bool {
	return o != nil && !t.Before(o.StartTime) && t.Before(o.EndTime)
}

// EntryWindow is the span during which entry scans are accepted for a slot.
type EntryWindow struct {
	Opens  time.Time `json:"opens"`
	Closes time.Time `json:"closes"`
}
