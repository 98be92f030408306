package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-gate-api/internal/models"
)

// handleInside routes a scan at an inside-the-room reader. Teachers are
// rejected outright; the student path dispatches on the room's slot status.
func (r *Router) handleInside(ctx context.Context, device *models.Device, room string, user *models.User, now time.Time) *models.ScanResult {
	if user.Role == models.RoleTeacher {
		return reject("teachers check in at the outside reader", models.BeepLong)
	}

	if r.mode.Current() == models.ModeClosed {
		return r.emergencyExit(ctx, room, user, now)
	}

	state := r.tracker.SlotState(room)
	if state == nil {
		return r.freeMovement(ctx, room, user, now)
	}

	switch state.Status {
	case models.SlotBreak:
		if r.withinReVerifyWindow(state, now) {
			return r.reVerify(ctx, room, user, state, now)
		}
		return r.toggleResult(ctx, user, state.SlotRef, room, now)

	case models.SlotWaitingForTeacher:
		return r.toggleResult(ctx, user, state.SlotRef, room, now)

	case models.SlotActive, models.SlotReVerification:
		return r.insideActive(ctx, room, user, state, now)

	default:
		return reject("class has ended", models.BeepLong)
	}
}

func (r *Router) insideActive(ctx context.Context, room string, student *models.User, state *models.ActiveSlot, now time.Time) *models.ScanResult {
	exists, verified, err := r.ledger.HasRecord(ctx, student.ID, state.SlotRef, now)
	if err != nil {
		r.logger.Error("attendance lookup failed", zap.String("student_id", student.ID), zap.Error(err))
		return reject("attendance unavailable", models.BeepLong)
	}
	if !exists {
		return reject("scan outside first", models.BeepLong)
	}
	if !verified {
		if err := r.ledger.VerifyAttendance(ctx, student.ID, state.SlotRef, room, now); err != nil {
			r.logger.Error("verification failed", zap.String("student_id", student.ID), zap.Error(err))
			return reject("verification failed", models.BeepLong)
		}
		res := accept("attendance verified", "verified", models.BeepSingle)
		res.Movement = models.PresenceIn
		return res
	}
	return r.toggleResult(ctx, student, state.SlotRef, room, now)
}

// reVerify credits continued presence through a break: the student is
// latched on the session, marked IN, and the next slot's attendance is
// written ahead of time.
func (r *Router) reVerify(ctx context.Context, room string, student *models.User, state *models.ActiveSlot, now time.Time) *models.ScanResult {
	if state.SessionID != "" {
		if _, err := r.sessions.MarkStudentReVerified(ctx, state.SessionID, student.ID); err != nil {
			r.logger.Error("re-verification mark failed",
				zap.String("session_id", state.SessionID),
				zap.String("student_id", student.ID),
				zap.Error(err))
		}
	}
	if err := r.ledger.UpdateInRoomStatus(ctx, student.ID, room, models.PresenceIn, state.SlotRef, now); err != nil {
		r.logger.Error("re-verification presence update failed", zap.String("student_id", student.ID), zap.Error(err))
	}

	next, err := r.schedule.NextSlotAfterBreak(ctx, state.SlotRef, now)
	if err != nil {
		r.logger.Error("next slot lookup failed", zap.String("break_id", state.SlotRef), zap.Error(err))
	}
	if next != nil {
		slotCtx := slotContextFromOccurrence(next, r.cfg.OrganizationID)
		slotCtx.Room = room
		slotCtx.ReferenceTime = next.StartTime
		if _, err := r.ledger.CreateForwardRecord(ctx, student, slotCtx, now); err != nil {
			r.logger.Error("forward attendance failed",
				zap.String("student_id", student.ID),
				zap.String("slot_ref", next.Slot.ID),
				zap.Error(err))
		}
	}

	res := accept("presence confirmed for the next class", "re_verified", models.BeepSingle)
	res.Movement = models.PresenceIn
	return res
}

func (r *Router) withinReVerifyWindow(state *models.ActiveSlot, now time.Time) bool {
	opens := state.EndTime.Add(-r.cfg.ReVerifyWindow)
	return !now.Before(opens) && now.Before(state.EndTime)
}
