package models

import "time"

// DevicePlacement locates a reader relative to the doorway.
type DevicePlacement string

const (
	PlacementOutside DevicePlacement = "outside"
	PlacementInside  DevicePlacement = "inside"
)

// Valid returns true when the placement is a supported value.
func (p DevicePlacement) Valid() bool {
	return p == PlacementOutside || p == PlacementInside
}

// Device is a registered RFID reader bound to one room and placement.
type Device struct {
	ID             string          `db:"id" json:"id"`
	Room           string          `db:"room" json:"room"`
	Placement      DevicePlacement `db:"placement" json:"placement"`
	OrganizationID string          `db:"organization_id" json:"organization_id"`
	Online         bool            `db:"online" json:"online"`
	LastSeenAt     *time.Time      `db:"last_seen_at" json:"last_seen_at,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// ScanLog is one raw hardware event, appended before any routing decision.
// Log writes are best effort and never block the scan response.
type ScanLog struct {
	ID        string    `db:"id" json:"id"`
	DeviceID  string    `db:"device_id" json:"device_id"`
	RFIDTag   string    `db:"rfid_tag" json:"rfid_tag"`
	Room      string    `db:"room" json:"room"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
}
