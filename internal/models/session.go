package models

import (
	"time"

	"github.com/lib/pq"
)

// SessionStatus is the persisted status of a session.
type SessionStatus string

const (
	SessionWaitingForTeacher SessionStatus = "WAITING_FOR_TEACHER"
	SessionActive            SessionStatus = "ACTIVE"
	SessionBreak             SessionStatus = "BREAK"
	SessionClosed            SessionStatus = "CLOSED"
	SessionCancelled         SessionStatus = "CANCELLED"
)

// Terminal reports whether the session reached a final status.
func (s SessionStatus) Terminal() bool {
	return s == SessionClosed || s == SessionCancelled
}

// Valid returns true when the status is a supported value.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionWaitingForTeacher, SessionActive, SessionBreak, SessionClosed, SessionCancelled:
		return true
	default:
		return false
	}
}

// Session is the persisted record of one concrete occurrence of a slot in a
// room on a given day. Exactly one non-terminal session exists per
// (room, slot, day); the partial unique index on gate_sessions enforces it.
type Session struct {
	ID                 string         `db:"id" json:"id"`
	SlotRef            *string        `db:"slot_ref" json:"slot_ref,omitempty"`
	ClassID            string         `db:"class_id" json:"class_id"`
	Room               string         `db:"room" json:"room"`
	DeviceID           string         `db:"device_id" json:"device_id"`
	TeacherID          string         `db:"teacher_id" json:"teacher_id"`
	ActualTeacherID    *string        `db:"actual_teacher_id" json:"actual_teacher_id,omitempty"`
	SubjectName        string         `db:"subject_name" json:"subject_name"`
	SubjectCode        *string        `db:"subject_code" json:"subject_code,omitempty"`
	StartTime          time.Time      `db:"start_time" json:"start_time"`
	EndTime            time.Time      `db:"end_time" json:"end_time"`
	TeacherArrivedAt   *time.Time     `db:"teacher_arrived_at" json:"teacher_arrived_at,omitempty"`
	Status             SessionStatus  `db:"status" json:"status"`
	IsOverridden       bool           `db:"is_overridden" json:"is_overridden"`
	PollerTriggered    bool           `db:"poller_triggered" json:"poller_triggered"`
	SnapshotAt         *time.Time     `db:"snapshot_at" json:"snapshot_at,omitempty"`
	SnapshotInside     *int           `db:"snapshot_inside" json:"snapshot_inside,omitempty"`
	SnapshotOutside    *int           `db:"snapshot_outside" json:"snapshot_outside,omitempty"`
	ReVerifiedStudents pq.StringArray `db:"re_verified_students" json:"re_verified_students"`
	OrganizationID     string         `db:"organization_id" json:"organization_id"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}

// RoomAvailability reports whether a room can host a new session.
type RoomAvailability struct {
	Available     bool       `json:"available"`
	ActiveSession *Session   `json:"active_session,omitempty"`
	OccupiedBy    string     `json:"occupied_by,omitempty"`
	OccupiedUntil *time.Time `json:"occupied_until,omitempty"`
}

// TeacherCheckInResult summarises a check-in attempt against a session.
type TeacherCheckInResult struct {
	Success    bool     `json:"success"`
	IsOverride bool     `json:"is_override"`
	Session    *Session `json:"session,omitempty"`
}
