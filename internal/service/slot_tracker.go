package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-gate-api/internal/models"
	"github.com/noah-isme/sma-gate-api/pkg/config"
)

type sessionMirror interface {
	TeacherCheckIn(ctx context.Context, sessionID, teacherID string, at time.Time) (*models.Session, error)
	UpdateStatus(ctx context.Context, id string, status models.SessionStatus, at time.Time) error
	UpdateStatusWindow(ctx context.Context, id string, status models.SessionStatus, endTime, at time.Time) error
	ListNonTerminal(ctx context.Context) ([]models.Session, error)
}

type slotScheduleResolver interface {
	ActivePeriod(ctx context.Context, now time.Time) (*models.SlotOccurrence, error)
	NextSlotAfterBreak(ctx context.Context, breakID string, now time.Time) (*models.SlotOccurrence, error)
}

// InitializeSlotParams describes the slot occurrence to place in a room.
type InitializeSlotParams struct {
	SlotRef       string
	Room          string
	StartTime     time.Time
	EndTime       time.Time
	TeacherID     string
	SubjectName   string
	SubjectCode   string
	ClassID       string
	SessionID     string
	InitialStatus models.SlotStatus
}

// CheckinOutcome reports the effect of a teacher check-in on a room's slot.
type CheckinOutcome struct {
	Changed    bool
	IsOverride bool
	Slot       *models.ActiveSlot
}

// SlotTracker holds the in-memory per-room slot machine. The map is a cache
// over the session registry: every persisted-status change is mirrored into
// it, and Rehydrate rebuilds the map from live sessions after a restart.
// All mutation of a room's slot happens under one mutex, serialising
// concurrent scans for the same room.
type SlotTracker struct {
	cfg      config.GateConfig
	sessions sessionMirror
	schedule slotScheduleResolver
	metrics  *Metrics
	logger   *zap.Logger

	// OnBreakWarning fires once per break, a configured lead before its end.
	OnBreakWarning func(slot *models.ActiveSlot)

	mu    sync.Mutex
	slots map[string]*models.ActiveSlot
}

// NewSlotTracker constructs the tracker. A nil schedule disables the
// break roll-over: active slots then close at their end time.
func NewSlotTracker(cfg config.GateConfig, sessions sessionMirror, schedule slotScheduleResolver, metrics *Metrics, logger *zap.Logger) *SlotTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SlotTracker{
		cfg:      cfg,
		sessions: sessions,
		schedule: schedule,
		metrics:  metrics,
		logger:   logger,
		slots:    map[string]*models.ActiveSlot{},
	}
}

// InitializeSlot lazily places a slot occurrence in a room. When a live slot
// for the same occurrence already exists it is returned unchanged, so
// concurrent initialisation attempts collapse onto one entry. A terminal
// slot for the same occurrence is never resurrected.
func (t *SlotTracker) InitializeSlot(p InitializeSlotParams) *models.ActiveSlot {
	status := p.InitialStatus
	if status == "" {
		status = models.SlotWaitingForTeacher
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.slots[p.Room]; ok {
		if existing.SlotRef == p.SlotRef {
			return existing.Clone()
		}
		if !existing.Status.Terminal() && time.Now().Before(existing.EndTime) {
			// Room still occupied by a different live occurrence.
			return existing.Clone()
		}
	}

	slot := &models.ActiveSlot{
		SlotRef:     p.SlotRef,
		Room:        p.Room,
		StartTime:   p.StartTime,
		EndTime:     p.EndTime,
		TeacherID:   p.TeacherID,
		SubjectName: p.SubjectName,
		SubjectCode: p.SubjectCode,
		ClassID:     p.ClassID,
		SessionID:   p.SessionID,
		Status:      status,
	}
	t.slots[p.Room] = slot
	t.updateGaugeLocked()
	t.logger.Info("slot initialized",
		zap.String("room", p.Room),
		zap.String("slot_ref", p.SlotRef),
		zap.String("status", string(status)),
	)
	return slot.Clone()
}

// SlotState returns a copy of the room's slot, or nil.
func (t *SlotTracker) SlotState(room string) *models.ActiveSlot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slots[room].Clone()
}

// AttachSession links a persisted session to a slot that was initialized by
// a student scan before any session existed. The link is taken exactly once.
func (t *SlotTracker) AttachSession(room, sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot, ok := t.slots[room]
	if !ok || slot.SessionID != "" {
		return false
	}
	slot.SessionID = sessionID
	return true
}

// HandleTeacherCheckin transitions WAITING_FOR_TEACHER to SLOT_ACTIVE on the
// first valid check-in. Later check-ins report Changed=false.
func (t *SlotTracker) HandleTeacherCheckin(ctx context.Context, room, teacherID string, now time.Time) CheckinOutcome {
	t.mu.Lock()
	slot, ok := t.slots[room]
	if !ok || slot.Status != models.SlotWaitingForTeacher {
		state := slot.Clone()
		t.mu.Unlock()
		return CheckinOutcome{Changed: false, Slot: state}
	}

	arrived := now
	slot.Status = models.SlotActive
	slot.TeacherArrivedAt = &arrived
	slot.ActualTeacherID = teacherID
	slot.IsOverridden = teacherID != slot.TeacherID
	sessionID := slot.SessionID
	state := slot.Clone()
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.SlotTransitions.WithLabelValues(string(models.SlotActive)).Inc()
	}

	if sessionID != "" {
		if _, err := t.sessions.TeacherCheckIn(ctx, sessionID, teacherID, now); err != nil {
			t.logger.Error("session check-in mirror failed",
				zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	return CheckinOutcome{Changed: true, IsOverride: state.IsOverridden, Slot: state}
}

// CheckTime is the periodic tick driving every wall-clock transition:
// teacher-grace cancellation, the roll into a scheduled break, break
// warnings, break end, re-verification expiry and slot close. Safe to call
// when nothing is due.
func (t *SlotTracker) CheckTime(ctx context.Context, now time.Time) {
	type change struct {
		sessionID string
		status    models.SessionStatus
		endTime   time.Time
	}
	var mirrors []change
	var warnings []*models.ActiveSlot

	brk, resume := t.schedulePeriods(ctx, now)

	t.mu.Lock()
	for room, slot := range t.slots {
		switch slot.Status {
		case models.SlotWaitingForTeacher:
			if now.Sub(slot.StartTime) > t.cfg.TeacherGrace {
				slot.Status = models.SlotCancelled
				if slot.SessionID != "" {
					mirrors = append(mirrors, change{sessionID: slot.SessionID, status: models.SessionCancelled})
				}
				t.countTransitionLocked(models.SlotCancelled)
				t.logger.Info("slot cancelled, teacher never arrived",
					zap.String("room", room), zap.String("slot_ref", slot.SlotRef))
			} else if !now.Before(slot.EndTime) {
				slot.Status = models.SlotClosed
				if slot.SessionID != "" {
					mirrors = append(mirrors, change{sessionID: slot.SessionID, status: models.SessionClosed})
				}
				t.countTransitionLocked(models.SlotClosed)
			}

		case models.SlotBreak:
			if !slot.WarningTriggered && now.After(slot.EndTime.Add(-t.cfg.BreakWarningLead)) && now.Before(slot.EndTime) {
				slot.WarningTriggered = true
				warnings = append(warnings, slot.Clone())
			}
			if !now.Before(slot.EndTime) {
				until := slot.EndTime.Add(t.cfg.ReVerifyGrace)
				slot.Status = models.SlotReVerification
				slot.ReVerificationUntil = &until
				t.countTransitionLocked(models.SlotReVerification)
			}

		case models.SlotReVerification:
			if slot.ReVerificationUntil != nil && !now.Before(*slot.ReVerificationUntil) {
				slot.Status = models.SlotActive
				slot.ReVerificationUntil = nil
				if resume != nil && classContinues(slot, resume) {
					// The class resumes after the break: the slot rolls
					// forward onto the next occurrence's window.
					slot.SlotRef = resume.Slot.ID
					slot.StartTime = resume.StartTime
					slot.EndTime = resume.EndTime
					if slot.SessionID != "" {
						mirrors = append(mirrors, change{slot.SessionID, models.SessionActive, resume.EndTime})
					}
				} else if slot.SessionID != "" {
					mirrors = append(mirrors, change{sessionID: slot.SessionID, status: models.SessionActive})
				}
				t.countTransitionLocked(models.SlotActive)
			}

		case models.SlotActive:
			if !now.Before(slot.EndTime) {
				if brk != nil && resume != nil && classContinues(slot, resume) {
					// The same class continues after the scheduled break:
					// the room rolls into BREAK instead of closing. The
					// mirrored session keeps the extended end time so the
					// expiry sweep leaves it alone mid-break.
					slot.Status = models.SlotBreak
					slot.SlotRef = brk.Slot.ID
					slot.StartTime = brk.StartTime
					slot.EndTime = brk.EndTime
					slot.WarningTriggered = false
					if slot.SessionID != "" {
						mirrors = append(mirrors, change{slot.SessionID, models.SessionBreak, brk.EndTime})
					}
					t.countTransitionLocked(models.SlotBreak)
					t.logger.Info("slot rolled into break",
						zap.String("room", room), zap.String("break_ref", brk.Slot.ID))
				} else {
					slot.Status = models.SlotClosed
					if slot.SessionID != "" {
						mirrors = append(mirrors, change{sessionID: slot.SessionID, status: models.SessionClosed})
					}
					t.countTransitionLocked(models.SlotClosed)
				}
			}
		}

		// Terminal entries stay until their window passes so a cancelled
		// occurrence cannot be re-initialized, then the room frees up.
		if slot.Status.Terminal() && !now.Before(slot.EndTime) {
			delete(t.slots, room)
		}
	}
	t.updateGaugeLocked()
	t.mu.Unlock()

	for _, c := range mirrors {
		var err error
		if c.endTime.IsZero() {
			err = t.sessions.UpdateStatus(ctx, c.sessionID, c.status, now)
		} else {
			err = t.sessions.UpdateStatusWindow(ctx, c.sessionID, c.status, c.endTime, now)
		}
		if err != nil {
			t.logger.Error("session status mirror failed",
				zap.String("session_id", c.sessionID),
				zap.String("status", string(c.status)),
				zap.Error(err))
		}
	}
	if t.OnBreakWarning != nil {
		for _, slot := range warnings {
			t.OnBreakWarning(slot)
		}
	}
}

// schedulePeriods resolves what the timetable says now is: during a break it
// returns the break occurrence plus the slot that follows it, during a class
// period just that occurrence as the resume candidate. Resolution happens
// before the slot map is locked.
func (t *SlotTracker) schedulePeriods(ctx context.Context, now time.Time) (brk, resume *models.SlotOccurrence) {
	if t.schedule == nil {
		return nil, nil
	}
	period, err := t.schedule.ActivePeriod(ctx, now)
	if err != nil {
		t.logger.Warn("active period lookup failed", zap.Error(err))
		return nil, nil
	}
	if period == nil {
		return nil, nil
	}
	if period.Slot.Type != models.PeriodBreak {
		return nil, period
	}
	next, err := t.schedule.NextSlotAfterBreak(ctx, period.Slot.ID, now)
	if err != nil {
		t.logger.Warn("next slot lookup failed",
			zap.String("break_ref", period.Slot.ID), zap.Error(err))
		return period, nil
	}
	return period, next
}

// classContinues reports whether the occurrence is a class period for the
// same class the slot is tracking.
func classContinues(slot *models.ActiveSlot, occ *models.SlotOccurrence) bool {
	return occ.Slot.Type == models.PeriodClass &&
		slot.ClassID != "" &&
		occ.Slot.ClassID != nil &&
		*occ.Slot.ClassID == slot.ClassID
}

// Rehydrate rebuilds the slot map from live sessions. Called on startup so a
// restart does not lose rooms mid-class.
func (t *SlotTracker) Rehydrate(ctx context.Context) error {
	sessions, err := t.sessions.ListNonTerminal(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range sessions {
		s := sessions[i]
		if _, ok := t.slots[s.Room]; ok {
			continue
		}
		slot := &models.ActiveSlot{
			Room:         s.Room,
			ClassID:      s.ClassID,
			TeacherID:    s.TeacherID,
			SubjectName:  s.SubjectName,
			SessionID:    s.ID,
			StartTime:    s.StartTime,
			EndTime:      s.EndTime,
			Status:       slotStatusFor(s.Status),
			IsOverridden: s.IsOverridden,
		}
		if s.SlotRef != nil {
			slot.SlotRef = *s.SlotRef
		}
		if s.SubjectCode != nil {
			slot.SubjectCode = *s.SubjectCode
		}
		if s.ActualTeacherID != nil {
			slot.ActualTeacherID = *s.ActualTeacherID
		}
		slot.TeacherArrivedAt = s.TeacherArrivedAt
		t.slots[s.Room] = slot
	}
	t.updateGaugeLocked()
	t.logger.Info("slot map rehydrated", zap.Int("rooms", len(t.slots)))
	return nil
}

func slotStatusFor(s models.SessionStatus) models.SlotStatus {
	switch s {
	case models.SessionActive:
		return models.SlotActive
	case models.SessionBreak:
		return models.SlotBreak
	default:
		return models.SlotWaitingForTeacher
	}
}

func (t *SlotTracker) countTransitionLocked(to models.SlotStatus) {
	if t.metrics != nil {
		t.metrics.SlotTransitions.WithLabelValues(string(to)).Inc()
	}
}

func (t *SlotTracker) updateGaugeLocked() {
	if t.metrics == nil {
		return
	}
	live := 0
	for _, slot := range t.slots {
		if !slot.Status.Terminal() {
			live++
		}
	}
	t.metrics.ActiveSlots.Set(float64(live))
}
