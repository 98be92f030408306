package models

import "time"

// RoomPresence is the IN/OUT flag tracked per (student, room), independent
// of attendance. It is the sole input to the arrival snapshot.
type RoomPresence string

const (
	PresenceIn      RoomPresence = "IN"
	PresenceOut     RoomPresence = "OUT"
	PresenceUnknown RoomPresence = "UNKNOWN"
)

// Toggle flips IN to OUT and anything else to IN.
func (p RoomPresence) Toggle() RoomPresence {
	if p == PresenceIn {
		return PresenceOut
	}
	return PresenceIn
}

// InRoomStatus is the persisted presence row, upserted per (student, room).
type InRoomStatus struct {
	StudentID   string       `db:"student_id" json:"student_id"`
	Room        string       `db:"room" json:"room"`
	Status      RoomPresence `db:"status" json:"status"`
	SlotRef     *string      `db:"slot_ref" json:"slot_ref,omitempty"`
	LastUpdated time.Time    `db:"last_updated" json:"last_updated"`
}
