package models

import "time"

// AttendanceStatus represents the stored status of an attendance record.
// Absence is never materialised; a missing row is the only representation.
type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "present"
	AttendanceLate    AttendanceStatus = "late"
	AttendanceAbsent  AttendanceStatus = "absent"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendancePresent, AttendanceLate, AttendanceAbsent:
		return true
	default:
		return false
	}
}

// AttendanceSource records which path created the record.
type AttendanceSource string

const (
	SourceTeacherArrival     AttendanceSource = "teacher_arrival"
	SourceLateEntry          AttendanceSource = "late_entry"
	SourceAutoReVerification AttendanceSource = "auto_re_verification"
	SourceManual             AttendanceSource = "manual"
)

// AttendanceRecord is the persisted attendance row, unique per
// (student, slot, date). Points are credited exactly once, at insert time.
type AttendanceRecord struct {
	ID             string           `db:"id" json:"id"`
	StudentID      string           `db:"student_id" json:"student_id"`
	SlotRef        string           `db:"slot_ref" json:"slot_ref"`
	Date           time.Time        `db:"date" json:"date"`
	RFIDTag        string           `db:"rfid_tag" json:"rfid_tag"`
	Timestamp      time.Time        `db:"timestamp" json:"timestamp"`
	Status         AttendanceStatus `db:"status" json:"status"`
	DeviceID       string           `db:"device_id" json:"device_id"`
	PointsEarned   int              `db:"points_earned" json:"points_earned"`
	SubjectCode    *string          `db:"subject_code" json:"subject_code,omitempty"`
	SubjectName    *string          `db:"subject_name" json:"subject_name,omitempty"`
	TeacherID      *string          `db:"teacher_id" json:"teacher_id,omitempty"`
	OrganizationID *string          `db:"organization_id" json:"organization_id,omitempty"`
	Source         AttendanceSource `db:"source" json:"source"`
	IsVerified     bool             `db:"is_verified" json:"is_verified"`
	VerifiedAt     *time.Time       `db:"verified_at" json:"verified_at,omitempty"`
	InRoomStatus   RoomPresence     `db:"in_room_status" json:"in_room_status"`
	LastMovementAt *time.Time       `db:"last_movement_at" json:"last_movement_at,omitempty"`
}

// SlotContext carries the slot attributes attendance writes are scoped to.
type SlotContext struct {
	SlotRef        string
	ClassID        string
	Room           string
	TeacherID      string
	SubjectName    string
	SubjectCode    string
	OrganizationID string
	// ReferenceTime anchors the late computation: the teacher's arrival when
	// known, otherwise the slot's scheduled start.
	ReferenceTime time.Time
}

// LateEntryResult is the outcome of a late-entry scan.
type LateEntryResult struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Status  AttendanceStatus `json:"status,omitempty"`
	Points  int              `json:"points,omitempty"`
}

// PollResult summarises one teacher-arrival snapshot run.
type PollResult struct {
	Success        bool             `json:"success"`
	MarkedPresent  int              `json:"marked_present"`
	NotifiedAbsent int              `json:"notified_absent"`
	Snapshot       *ArrivalSnapshot `json:"snapshot,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// ArrivalSnapshot captures the room partition at teacher arrival.
type ArrivalSnapshot struct {
	Timestamp    time.Time `json:"timestamp"`
	InsideCount  int       `json:"inside_count"`
	OutsideCount int       `json:"outside_count"`
}
