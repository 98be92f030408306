package gateway

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-gate-api/internal/models"
	"github.com/noah-isme/sma-gate-api/internal/service"
	"github.com/noah-isme/sma-gate-api/pkg/config"
)

type deviceStore interface {
	GetByID(ctx context.Context, id string) (*models.Device, error)
	AppendScanLog(ctx context.Context, log *models.ScanLog) error
}

type userStore interface {
	GetByRFIDTag(ctx context.Context, tag string) (*models.User, error)
}

type modeGate interface {
	Current() models.SystemMode
	CanPerform(action models.GateAction) bool
	Force(ctx context.Context, mode models.SystemMode, reason, triggeredBy string)
}

type slotTracker interface {
	InitializeSlot(p service.InitializeSlotParams) *models.ActiveSlot
	SlotState(room string) *models.ActiveSlot
	AttachSession(room, sessionID string) bool
	HandleTeacherCheckin(ctx context.Context, room, teacherID string, now time.Time) service.CheckinOutcome
}

type sessionRegistry interface {
	CreateSession(ctx context.Context, sess *models.Session) (*models.Session, bool, error)
	GetSession(ctx context.Context, id string) (*models.Session, error)
	MarkStudentReVerified(ctx context.Context, sessionID, studentID string) (bool, error)
}

type attendanceLedger interface {
	MarkLateEntry(ctx context.Context, req service.MarkLateEntryRequest, ts time.Time) (*models.LateEntryResult, error)
	VerifyAttendance(ctx context.Context, studentID, slotRef, room string, ts time.Time) error
	ToggleMovement(ctx context.Context, studentID, slotRef, room string, ts time.Time) (models.RoomPresence, error)
	HasRecord(ctx context.Context, studentID, slotRef string, ts time.Time) (exists, verified bool, err error)
	CreateForwardRecord(ctx context.Context, student *models.User, slotCtx models.SlotContext, ts time.Time) (bool, error)
	UpdateInRoomStatus(ctx context.Context, studentID, room string, status models.RoomPresence, slotRef string, ts time.Time) error
	InRoomStatus(ctx context.Context, studentID, room string) (models.RoomPresence, error)
}

type scheduleProjection interface {
	CurrentTeacherSlot(ctx context.Context, teacherID string, now time.Time) (*models.SlotOccurrence, error)
	CurrentClassSlot(ctx context.Context, classID string, now time.Time) (*models.SlotOccurrence, error)
	NextSlotAfterBreak(ctx context.Context, breakID string, now time.Time) (*models.SlotOccurrence, error)
}

type arrivalPoller interface {
	TriggerPoll(ctx context.Context, sess *models.Session, arrivedAt time.Time) (*models.PollResult, error)
}

type broadcaster interface {
	Broadcast(event string, payload interface{})
}

// Router dispatches each hardware scan into the mode, slot, session and
// attendance machines based on the reader's placement and the card
// holder's role. Every scan terminates in exactly one ScanResult.
type Router struct {
	cfg      config.GateConfig
	devices  deviceStore
	users    userStore
	mode     modeGate
	tracker  slotTracker
	sessions sessionRegistry
	ledger   attendanceLedger
	schedule scheduleProjection
	poller   arrivalPoller
	bus      broadcaster
	metrics  *service.Metrics
	logger   *zap.Logger
}

// RouterDeps collects the router's collaborators.
type RouterDeps struct {
	Devices  deviceStore
	Users    userStore
	Mode     modeGate
	Tracker  slotTracker
	Sessions sessionRegistry
	Ledger   attendanceLedger
	Schedule scheduleProjection
	Poller   arrivalPoller
	Bus      broadcaster
	Metrics  *service.Metrics
}

// NewRouter constructs the scan router.
func NewRouter(cfg config.GateConfig, deps RouterDeps, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		cfg:      cfg,
		devices:  deps.Devices,
		users:    deps.Users,
		mode:     deps.Mode,
		tracker:  deps.Tracker,
		sessions: deps.Sessions,
		ledger:   deps.Ledger,
		schedule: deps.Schedule,
		poller:   deps.Poller,
		bus:      deps.Bus,
		metrics:  deps.Metrics,
		logger:   logger,
	}
}

// HandleScan routes one rfid_scan frame to a terminal result. Rejections
// are results, not errors; an error return means the scan could not be
// processed at all.
func (r *Router) HandleScan(ctx context.Context, deviceID, rfidTag string, now time.Time) *models.ScanResult {
	device, err := r.devices.GetByID(ctx, deviceID)
	if err != nil {
		r.logger.Warn("scan from unknown device", zap.String("device_id", deviceID))
		r.countScan("unknown", "unknown_device")
		return reject("unknown device", models.BeepLong)
	}

	room := r.normalizeRoom(device.Room)

	// Raw log is best effort; a logging failure never blocks the response.
	if err := r.devices.AppendScanLog(ctx, &models.ScanLog{
		DeviceID:  device.ID,
		RFIDTag:   rfidTag,
		Room:      room,
		Timestamp: now,
	}); err != nil {
		r.logger.Warn("scan log append failed", zap.String("device_id", device.ID), zap.Error(err))
	}

	user, err := r.users.GetByRFIDTag(ctx, rfidTag)
	if err != nil {
		r.logger.Info("scan with unknown tag",
			zap.String("device_id", device.ID),
			zap.String("room", room))
		r.countScan(string(device.Placement), "unknown_tag")
		return reject("unknown card", models.BeepLong)
	}

	var result *models.ScanResult
	switch device.Placement {
	case models.PlacementInside:
		result = r.handleInside(ctx, device, room, user, now)
	default:
		result = r.handleOutside(ctx, device, room, user, now)
	}

	result.User = &models.ScanUser{Name: user.FullName, Reg: user.RegNumber}
	result.Role = user.Role
	r.countScan(string(device.Placement), scanOutcome(result))
	r.broadcast(models.EventNewActivity, map[string]interface{}{
		"device_id": device.ID,
		"room":      room,
		"user":      user.FullName,
		"role":      user.Role,
		"success":   result.Success,
		"message":   result.Message,
		"timestamp": now,
	})
	return result
}

func (r *Router) normalizeRoom(room string) string {
	return canonicalRoom(r.cfg, room)
}

// canonicalRoom resolves a device's room through the alias table. Alias
// keys are stored uppercased, so the lookup is case-insensitive.
func canonicalRoom(cfg config.GateConfig, room string) string {
	if canonical, ok := cfg.RoomAliases[strings.ToUpper(strings.TrimSpace(room))]; ok {
		return canonical
	}
	return room
}

func (r *Router) countScan(placement, result string) {
	if r.metrics != nil {
		r.metrics.Scans.WithLabelValues(placement, result).Inc()
	}
}

func (r *Router) broadcast(event string, payload interface{}) {
	if r.bus != nil {
		r.bus.Broadcast(event, payload)
	}
}

func scanOutcome(res *models.ScanResult) string {
	if res.Success {
		if res.Status != "" {
			return res.Status
		}
		return "ok"
	}
	return "rejected"
}

func reject(message, beep string) *models.ScanResult {
	return &models.ScanResult{
		Type:        models.MsgScanResult,
		Success:     false,
		Message:     message,
		BeepPattern: beep,
	}
}

func accept(message, status, beep string) *models.ScanResult {
	return &models.ScanResult{
		Type:        models.MsgScanResult,
		Success:     true,
		Message:     message,
		Status:      status,
		BeepPattern: beep,
	}
}
