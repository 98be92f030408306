package models

import "time"

// Device protocol message types.
const (
	MsgAuthenticate  = "authenticate"
	MsgAuthenticated = "authenticated"
	MsgRFIDScan      = "rfid_scan"
	MsgScanResult    = "scan_result"
	MsgBuzzerAlert   = "buzzer_alert"
)

// Beep patterns the reader can play back.
const (
	BeepSingle = "single"
	BeepDouble = "double"
	BeepLong   = "long"
)

// Dashboard event names.
const (
	EventDeviceActivity = "device_activity"
	EventNewActivity    = "new_activity"
	EventTeacherArrived = "teacher_arrived"
	EventModeChanged    = "mode_changed"
	EventBreakWarning   = "break_warning"
)

// DeviceMessage is any inbound frame from a reader.
type DeviceMessage struct {
	Type      string `json:"type"`
	DeviceID  string `json:"deviceId"`
	RFIDTag   string `json:"rfidTag,omitempty"`
	DeviceKey string `json:"deviceKey,omitempty"`
}

// AuthResult acknowledges a device handshake.
type AuthResult struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ScanUser is the minimal identity echoed back to the reader display.
type ScanUser struct {
	Name string `json:"name"`
	Reg  string `json:"reg"`
}

// ScanResult is the terminal outcome of one scan, written back to the device.
type ScanResult struct {
	Type        string       `json:"type"`
	Success     bool         `json:"success"`
	Message     string       `json:"message"`
	Status      string       `json:"status,omitempty"`
	User        *ScanUser    `json:"user,omitempty"`
	Role        UserRole     `json:"role,omitempty"`
	Movement    RoomPresence `json:"movement,omitempty"`
	Points      int          `json:"points,omitempty"`
	BeepPattern string       `json:"beepPattern,omitempty"`
	IsOverride  bool         `json:"isOverride,omitempty"`
}

// BuzzerAlert is a server-initiated audible alert.
type BuzzerAlert struct {
	Type     string `json:"type"`
	Duration int    `json:"duration"`
	Message  string `json:"message"`
}

// DashboardEvent is one fire-and-forget frame on the dashboard channel.
type DashboardEvent struct {
	Event     string      `json:"event"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}
