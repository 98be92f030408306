package models

import "time"

// SlotStatus is the in-memory status of a room's active slot.
type SlotStatus string

const (
	SlotWaitingForTeacher SlotStatus = "WAITING_FOR_TEACHER"
	SlotActive            SlotStatus = "SLOT_ACTIVE"
	SlotBreak             SlotStatus = "BREAK"
	SlotReVerification    SlotStatus = "RE_VERIFICATION"
	SlotClosed            SlotStatus = "SLOT_CLOSED"
	SlotCancelled         SlotStatus = "SLOT_CANCELLED"
)

// Terminal reports whether the slot can no longer change status.
func (s SlotStatus) Terminal() bool {
	return s == SlotClosed || s == SlotCancelled
}

// ActiveSlot is the per-room in-memory occupancy of one timetable slot. At
// most one exists per room; it is replaced when a new time range begins and
// never retroactively rewritten.
type ActiveSlot struct {
	SlotRef             string
	Room                string
	StartTime           time.Time
	EndTime             time.Time
	TeacherID           string
	ActualTeacherID     string
	SubjectName         string
	SubjectCode         string
	ClassID             string
	SessionID           string
	Status              SlotStatus
	IsOverridden        bool
	TeacherArrivedAt    *time.Time
	ReVerificationUntil *time.Time
	WarningTriggered    bool
}

// Clone returns a copy safe to hand outside the tracker's lock.
func (s *ActiveSlot) Clone() *ActiveSlot {
	if s == nil {
		return nil
	}
	cp := *s
	if s.TeacherArrivedAt != nil {
		t := *s.TeacherArrivedAt
		cp.TeacherArrivedAt = &t
	}
	if s.ReVerificationUntil != nil {
		t := *s.ReVerificationUntil
		cp.ReVerificationUntil = &t
	}
	return &cp
}
