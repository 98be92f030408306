package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-gate-api/internal/models"
	"github.com/noah-isme/sma-gate-api/internal/service"
)

// handleOutside routes a scan at an outside-the-door reader. Mode is
// checked before role: free-access windows degrade every scan to a pure
// movement toggle, and CLOSED admits nothing but an emergency exit.
func (r *Router) handleOutside(ctx context.Context, device *models.Device, room string, user *models.User, now time.Time) *models.ScanResult {
	switch r.mode.Current() {
	case models.ModeClosed:
		return r.emergencyExit(ctx, room, user, now)
	case models.ModeEarlyAccess, models.ModePostClassAccess:
		return r.freeMovement(ctx, room, user, now)
	}

	if user.Role == models.RoleTeacher {
		return r.outsideTeacher(ctx, device, room, user, now)
	}
	return r.outsideStudent(ctx, device, room, user, now)
}

func (r *Router) outsideTeacher(ctx context.Context, device *models.Device, room string, teacher *models.User, now time.Time) *models.ScanResult {
	if !r.mode.CanPerform(models.ActionTeacherCheckin) {
		return reject("check-in is not available right now", models.BeepLong)
	}

	occ, err := r.schedule.CurrentTeacherSlot(ctx, teacher.ID, now)
	if err != nil {
		r.logger.Error("teacher slot lookup failed", zap.String("teacher_id", teacher.ID), zap.Error(err))
		return reject("schedule unavailable", models.BeepLong)
	}
	if occ == nil {
		return reject("no class scheduled for you right now", models.BeepLong)
	}

	if state := r.tracker.SlotState(room); state != nil &&
		state.SlotRef == occ.Slot.ID && state.Status != models.SlotWaitingForTeacher {
		return reject("class already checked in", models.BeepLong)
	}

	slot := r.ensureSlot(room, occ, models.SlotWaitingForTeacher)
	sess, err := r.ensureSession(ctx, room, slot, occ, device, now)
	if err != nil {
		r.logger.Error("session ensure failed", zap.String("room", room), zap.Error(err))
		return reject("could not open the class session", models.BeepLong)
	}

	outcome := r.tracker.HandleTeacherCheckin(ctx, room, teacher.ID, now)
	if !outcome.Changed {
		return reject("class already checked in", models.BeepLong)
	}

	r.mode.Force(ctx, models.ModeSlotActive, "teacher arrival", teacher.ID)

	var poll *models.PollResult
	if sess != nil {
		// Re-read so the snapshot attributes to the arriving teacher.
		if fresh, err := r.sessions.GetSession(ctx, sess.ID); err == nil {
			sess = fresh
		}
		poll, err = r.poller.TriggerPoll(ctx, sess, now)
		if err != nil {
			r.logger.Error("arrival poll failed", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}

	r.broadcast(models.EventTeacherArrived, map[string]interface{}{
		"room":        room,
		"teacher_id":  teacher.ID,
		"teacher":     teacher.FullName,
		"subject":     outcome.Slot.SubjectName,
		"is_override": outcome.IsOverride,
		"poll":        poll,
		"timestamp":   now,
	})

	message := "class started"
	if outcome.IsOverride {
		message = "class started (substitute teacher)"
	}
	res := accept(message, "checked_in", models.BeepDouble)
	res.IsOverride = outcome.IsOverride
	return res
}

func (r *Router) outsideStudent(ctx context.Context, device *models.Device, room string, student *models.User, now time.Time) *models.ScanResult {
	if !r.mode.CanPerform(models.ActionStudentEntry) {
		return reject("entry is not open", models.BeepLong)
	}
	if student.ClassID == nil {
		return reject("no class assigned", models.BeepLong)
	}

	occ, err := r.schedule.CurrentClassSlot(ctx, *student.ClassID, now)
	if err != nil {
		r.logger.Error("class slot lookup failed", zap.String("class_id", *student.ClassID), zap.Error(err))
		return reject("schedule unavailable", models.BeepLong)
	}
	if occ == nil {
		return reject("no class scheduled for you right now", models.BeepLong)
	}
	if occ.Slot.Room != nil && r.normalizeRoom(*occ.Slot.Room) != room {
		return reject("this is not your classroom", models.BeepLong)
	}

	state := r.tracker.SlotState(room)
	if state == nil || state.SlotRef != occ.Slot.ID {
		state = r.ensureSlot(room, occ, models.SlotWaitingForTeacher)
	}

	switch state.Status {
	case models.SlotWaitingForTeacher:
		return r.toggleResult(ctx, student, occ.Slot.ID, room, now)

	case models.SlotActive:
		exists, _, err := r.ledger.HasRecord(ctx, student.ID, occ.Slot.ID, now)
		if err != nil {
			r.logger.Error("attendance lookup failed", zap.String("student_id", student.ID), zap.Error(err))
			return reject("attendance unavailable", models.BeepLong)
		}
		if exists {
			return r.toggleResult(ctx, student, occ.Slot.ID, room, now)
		}
		// A late-entry row is only written while the global mode permits
		// attendance creation; otherwise the scan degrades to movement.
		if !r.mode.CanPerform(models.ActionCreateAttendance) {
			return r.toggleResult(ctx, student, occ.Slot.ID, room, now)
		}
		return r.lateEntry(ctx, device, room, student, state, occ, now)

	default:
		return reject("entry is closed for this class", models.BeepLong)
	}
}

func (r *Router) lateEntry(ctx context.Context, device *models.Device, room string, student *models.User, state *models.ActiveSlot, occ *models.SlotOccurrence, now time.Time) *models.ScanResult {
	slotCtx := slotContextFromOccurrence(occ, r.cfg.OrganizationID)
	slotCtx.Room = room
	slotCtx.ReferenceTime = state.StartTime
	if state.TeacherArrivedAt != nil {
		slotCtx.ReferenceTime = *state.TeacherArrivedAt
	}
	if state.ActualTeacherID != "" {
		slotCtx.TeacherID = state.ActualTeacherID
	}

	outcome, err := r.ledger.MarkLateEntry(ctx, service.MarkLateEntryRequest{
		Student:  student,
		SlotCtx:  slotCtx,
		DeviceID: device.ID,
		RFIDTag:  student.RFIDTag,
	}, now)
	if err != nil {
		r.logger.Error("late entry failed", zap.String("student_id", student.ID), zap.Error(err))
		return reject("attendance unavailable", models.BeepLong)
	}
	if !outcome.Success {
		return reject(outcome.Message, models.BeepLong)
	}

	beep := models.BeepSingle
	if outcome.Status == models.AttendanceLate {
		beep = models.BeepDouble
	}
	res := accept(outcome.Message, string(outcome.Status), beep)
	res.Points = outcome.Points
	res.Movement = models.PresenceIn
	return res
}

// emergencyExit lets a student who is still IN leave a closed building.
// Everything else is rejected.
func (r *Router) emergencyExit(ctx context.Context, room string, user *models.User, now time.Time) *models.ScanResult {
	if user.Role != models.RoleStudent {
		return reject("gate is closed", models.BeepLong)
	}
	status, err := r.ledger.InRoomStatus(ctx, user.ID, room)
	if err != nil {
		r.logger.Error("presence lookup failed", zap.String("student_id", user.ID), zap.Error(err))
		return reject("gate is closed", models.BeepLong)
	}
	if status != models.PresenceIn {
		return reject("gate is closed", models.BeepLong)
	}
	if err := r.ledger.UpdateInRoomStatus(ctx, user.ID, room, models.PresenceOut, "", now); err != nil {
		r.logger.Error("emergency exit update failed", zap.String("student_id", user.ID), zap.Error(err))
		return reject("gate is closed", models.BeepLong)
	}
	res := accept("emergency exit", "exit", models.BeepDouble)
	res.Movement = models.PresenceOut
	return res
}

// freeMovement is the early-access and post-class behaviour: presence is
// tracked, attendance is not.
func (r *Router) freeMovement(ctx context.Context, room string, user *models.User, now time.Time) *models.ScanResult {
	if !r.mode.CanPerform(models.ActionMovementTracking) {
		return reject("gate is closed", models.BeepLong)
	}
	return r.toggleResult(ctx, user, "", room, now)
}

func (r *Router) toggleResult(ctx context.Context, user *models.User, slotRef, room string, now time.Time) *models.ScanResult {
	movement, err := r.ledger.ToggleMovement(ctx, user.ID, slotRef, room, now)
	if err != nil {
		r.logger.Error("movement toggle failed", zap.String("user_id", user.ID), zap.Error(err))
		return reject("movement unavailable", models.BeepLong)
	}
	message := "welcome"
	if movement == models.PresenceOut {
		message = "see you soon"
	}
	res := accept(message, "movement", models.BeepSingle)
	res.Movement = movement
	return res
}

// ensureSlot lazily places the occurrence in the room's slot map.
func (r *Router) ensureSlot(room string, occ *models.SlotOccurrence, status models.SlotStatus) *models.ActiveSlot {
	params := service.InitializeSlotParams{
		SlotRef:       occ.Slot.ID,
		Room:          room,
		StartTime:     occ.StartTime,
		EndTime:       occ.EndTime,
		InitialStatus: status,
	}
	if occ.Slot.TeacherID != nil {
		params.TeacherID = *occ.Slot.TeacherID
	}
	if occ.Slot.SubjectName != nil {
		params.SubjectName = *occ.Slot.SubjectName
	}
	if occ.Slot.SubjectCode != nil {
		params.SubjectCode = *occ.Slot.SubjectCode
	}
	if occ.Slot.ClassID != nil {
		params.ClassID = *occ.Slot.ClassID
	}
	return r.tracker.InitializeSlot(params)
}

// ensureSession finds or creates the persisted session backing a slot and
// links its id into the slot map.
func (r *Router) ensureSession(ctx context.Context, room string, slot *models.ActiveSlot, occ *models.SlotOccurrence, device *models.Device, now time.Time) (*models.Session, error) {
	if slot.SessionID != "" {
		return r.sessions.GetSession(ctx, slot.SessionID)
	}

	slotRef := occ.Slot.ID
	sess := &models.Session{
		SlotRef:     &slotRef,
		Room:        room,
		DeviceID:    device.ID,
		StartTime:   occ.StartTime,
		EndTime:     occ.EndTime,
		Status:      models.SessionWaitingForTeacher,
		SubjectName: slot.SubjectName,
		TeacherID:   slot.TeacherID,
		ClassID:     slot.ClassID,
	}
	if slot.SubjectCode != "" {
		code := slot.SubjectCode
		sess.SubjectCode = &code
	}
	sess.OrganizationID = r.cfg.OrganizationID
	if occ.Slot.OrganizationID != "" {
		sess.OrganizationID = occ.Slot.OrganizationID
	}

	created, _, err := r.sessions.CreateSession(ctx, sess)
	if err != nil {
		return nil, err
	}
	r.tracker.AttachSession(room, created.ID)
	return created, nil
}

func slotContextFromOccurrence(occ *models.SlotOccurrence, defaultOrg string) models.SlotContext {
	ctx := models.SlotContext{
		SlotRef:        occ.Slot.ID,
		OrganizationID: defaultOrg,
		ReferenceTime:  occ.StartTime,
	}
	if occ.Slot.ClassID != nil {
		ctx.ClassID = *occ.Slot.ClassID
	}
	if occ.Slot.Room != nil {
		ctx.Room = *occ.Slot.Room
	}
	if occ.Slot.TeacherID != nil {
		ctx.TeacherID = *occ.Slot.TeacherID
	}
	if occ.Slot.SubjectName != nil {
		ctx.SubjectName = *occ.Slot.SubjectName
	}
	if occ.Slot.SubjectCode != nil {
		ctx.SubjectCode = *occ.Slot.SubjectCode
	}
	if occ.Slot.OrganizationID != "" {
		ctx.OrganizationID = occ.Slot.OrganizationID
	}
	return ctx
}
