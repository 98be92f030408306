package models

import "time"

// SystemMode is the process-wide daily mode. It is ephemeral and recomputed
// from the wall clock and the timetable; a restart re-derives it on the next
// tick.
type SystemMode string

const (
	ModeClosed          SystemMode = "CLOSED"
	ModeEarlyAccess     SystemMode = "EARLY_ACCESS_FIRST_SLOT"
	ModeSlotActive      SystemMode = "SLOT_ACTIVE"
	ModeBreak           SystemMode = "BREAK"
	ModePostClassAccess SystemMode = "POST_CLASS_FREE_ACCESS"
	ModeIdle            SystemMode = "IDLE"
)

// Valid returns true when the mode is a supported value.
func (m SystemMode) Valid() bool {
	switch m {
	case ModeClosed, ModeEarlyAccess, ModeSlotActive, ModeBreak, ModePostClassAccess, ModeIdle:
		return true
	default:
		return false
	}
}

// ModeTransition is one entry of the append-only mode history.
type ModeTransition struct {
	From        SystemMode `json:"from"`
	To          SystemMode `json:"to"`
	Timestamp   time.Time  `json:"timestamp"`
	Reason      string     `json:"reason"`
	TriggeredBy string     `json:"triggered_by"`
}

// GateAction names a capability gated by the current mode.
type GateAction string

const (
	ActionStudentEntry     GateAction = "student_entry"
	ActionTeacherCheckin   GateAction = "teacher_checkin"
	ActionCreateAttendance GateAction = "create_attendance"
	ActionMovementTracking GateAction = "movement_tracking"
)
