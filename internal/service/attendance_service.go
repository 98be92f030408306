package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-gate-api/internal/models"
	"github.com/noah-isme/sma-gate-api/pkg/config"
	appErrors "github.com/noah-isme/sma-gate-api/pkg/errors"
)

type attendanceRepository interface {
	InsertIfAbsent(ctx context.Context, rec *models.AttendanceRecord) (bool, error)
	BulkInsertIfAbsent(ctx context.Context, recs []models.AttendanceRecord) (int, error)
	GetByKey(ctx context.Context, studentID, slotRef string, date time.Time) (*models.AttendanceRecord, error)
	SetVerified(ctx context.Context, id string, at time.Time) (bool, error)
	UpdateMovement(ctx context.Context, id string, status models.RoomPresence, at time.Time) error
}

type inRoomRepository interface {
	Upsert(ctx context.Context, row *models.InRoomStatus) error
	Get(ctx context.Context, studentID, room string) (*models.InRoomStatus, error)
	GetForStudents(ctx context.Context, room string, studentIDs []string) ([]models.InRoomStatus, error)
	ResetAll(ctx context.Context, at time.Time) (int64, error)
}

// AttendanceService is the idempotent attendance ledger. Every record is
// created through a conditional insert on (student, slot, date), so points
// are credited exactly once no matter how many times a scan is replayed.
type AttendanceService struct {
	repo      attendanceRepository
	inRoom    inRoomRepository
	cfg       config.GateConfig
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAttendanceService constructs the ledger.
func NewAttendanceService(repo attendanceRepository, inRoom inRoomRepository, cfg config.GateConfig, validate *validator.Validate, logger *zap.Logger) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendanceService{repo: repo, inRoom: inRoom, cfg: cfg, validator: validate, logger: logger}
}

// CreateFromSnapshot bulk-creates present records for the given students,
// skipping anyone already recorded for the slot and date. Returns how many
// rows were actually created.
func (s *AttendanceService) CreateFromSnapshot(ctx context.Context, students []models.User, slotCtx models.SlotContext, ts time.Time, source models.AttendanceSource) (int, error) {
	if len(students) == 0 {
		return 0, nil
	}
	recs := make([]models.AttendanceRecord, 0, len(students))
	for i := range students {
		recs = append(recs, s.buildRecord(&students[i], slotCtx, ts, models.AttendancePresent, s.cfg.PointsPresent, source, true))
	}
	inserted, err := s.repo.BulkInsertIfAbsent(ctx, recs)
	if err != nil {
		return 0, fmt.Errorf("snapshot attendance: %w", err)
	}
	return inserted, nil
}

// MarkLateEntryRequest carries a late-entry scan into the ledger.
type MarkLateEntryRequest struct {
	Student  *models.User       `validate:"required"`
	SlotCtx  models.SlotContext `validate:"required"`
	DeviceID string             `validate:"required"`
	RFIDTag  string             `validate:"required"`
}

// MarkLateEntry records attendance for a student entering after the teacher
// arrived. Elapsed time past the reference is compared strictly: more than
// the threshold is late, exactly on it is still present.
func (s *AttendanceService) MarkLateEntry(ctx context.Context, req MarkLateEntryRequest, ts time.Time) (*models.LateEntryResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid late entry")
	}

	status := models.AttendancePresent
	points := s.cfg.PointsPresent
	if ts.Sub(req.SlotCtx.ReferenceTime) > s.cfg.LateThreshold {
		status = models.AttendanceLate
		points = s.cfg.PointsLate
	}

	rec := s.buildRecord(req.Student, req.SlotCtx, ts, status, points, models.SourceLateEntry, false)
	rec.DeviceID = req.DeviceID
	rec.RFIDTag = req.RFIDTag

	inserted, err := s.repo.InsertIfAbsent(ctx, &rec)
	if err != nil {
		return nil, fmt.Errorf("late entry: %w", err)
	}
	if !inserted {
		return &models.LateEntryResult{Success: false, Message: "attendance already recorded"}, nil
	}

	s.upsertPresence(ctx, req.Student.ID, req.SlotCtx.Room, models.PresenceIn, req.SlotCtx.SlotRef, ts)

	message := "attendance recorded"
	if status == models.AttendanceLate {
		message = "late entry recorded"
	}
	return &models.LateEntryResult{Success: true, Message: message, Status: status, Points: points}, nil
}

// VerifyAttendance confirms a record from the inside reader. It fails when
// no record exists (the student must scan outside first) or when the record
// was already verified.
func (s *AttendanceService) VerifyAttendance(ctx context.Context, studentID, slotRef, room string, ts time.Time) error {
	rec, err := s.repo.GetByKey(ctx, studentID, slotRef, ts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrScanOutside
		}
		return fmt.Errorf("verify attendance: %w", err)
	}
	if rec.IsVerified {
		return appErrors.ErrVerified
	}
	ok, err := s.repo.SetVerified(ctx, rec.ID, ts)
	if err != nil {
		return fmt.Errorf("verify attendance: %w", err)
	}
	if !ok {
		return appErrors.ErrVerified
	}
	s.upsertPresence(ctx, studentID, room, models.PresenceIn, slotRef, ts)
	return nil
}

// ToggleMovement flips the student's IN/OUT presence and mirrors the new
// state onto any linked attendance record. slotRef may be empty during free
// access windows.
func (s *AttendanceService) ToggleMovement(ctx context.Context, studentID, slotRef, room string, ts time.Time) (models.RoomPresence, error) {
	current := models.PresenceUnknown
	if row, err := s.inRoom.Get(ctx, studentID, room); err == nil {
		current = row.Status
	} else if !errors.Is(err, sql.ErrNoRows) {
		return models.PresenceUnknown, fmt.Errorf("toggle movement: %w", err)
	}

	next := current.Toggle()
	s.upsertPresence(ctx, studentID, room, next, slotRef, ts)

	if slotRef != "" {
		if rec, err := s.repo.GetByKey(ctx, studentID, slotRef, ts); err == nil {
			if err := s.repo.UpdateMovement(ctx, rec.ID, next, ts); err != nil {
				s.logger.Warn("movement mirror failed", zap.String("record_id", rec.ID), zap.Error(err))
			}
		} else if !errors.Is(err, sql.ErrNoRows) {
			return models.PresenceUnknown, fmt.Errorf("toggle movement: %w", err)
		}
	}
	return next, nil
}

// CreateForwardRecord writes the next slot's attendance during break
// re-verification. At most one row per student and next-slot results.
func (s *AttendanceService) CreateForwardRecord(ctx context.Context, student *models.User, slotCtx models.SlotContext, ts time.Time) (bool, error) {
	rec := s.buildRecord(student, slotCtx, ts, models.AttendancePresent, s.cfg.PointsPresent, models.SourceAutoReVerification, true)
	inserted, err := s.repo.InsertIfAbsent(ctx, &rec)
	if err != nil {
		return false, fmt.Errorf("forward attendance: %w", err)
	}
	return inserted, nil
}

// HasRecord reports whether a record exists for the key, and whether it is
// verified.
func (s *AttendanceService) HasRecord(ctx context.Context, studentID, slotRef string, ts time.Time) (exists, verified bool, err error) {
	rec, err := s.repo.GetByKey(ctx, studentID, slotRef, ts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("lookup attendance: %w", err)
	}
	return true, rec.IsVerified, nil
}

// UpdateInRoomStatus sets presence directly, bypassing the toggle.
func (s *AttendanceService) UpdateInRoomStatus(ctx context.Context, studentID, room string, status models.RoomPresence, slotRef string, ts time.Time) error {
	var ref *string
	if slotRef != "" {
		ref = &slotRef
	}
	return s.inRoom.Upsert(ctx, &models.InRoomStatus{
		StudentID:   studentID,
		Room:        room,
		Status:      status,
		SlotRef:     ref,
		LastUpdated: ts,
	})
}

// InRoomStatus returns the student's presence in a room, UNKNOWN when never
// tracked.
func (s *AttendanceService) InRoomStatus(ctx context.Context, studentID, room string) (models.RoomPresence, error) {
	row, err := s.inRoom.Get(ctx, studentID, room)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PresenceUnknown, nil
		}
		return models.PresenceUnknown, fmt.Errorf("in-room status: %w", err)
	}
	return row.Status, nil
}

// PresenceForStudents bulk-reads the presence rows backing a snapshot.
func (s *AttendanceService) PresenceForStudents(ctx context.Context, room string, studentIDs []string) (map[string]models.RoomPresence, error) {
	rows, err := s.inRoom.GetForStudents(ctx, room, studentIDs)
	if err != nil {
		return nil, fmt.Errorf("bulk presence: %w", err)
	}
	out := make(map[string]models.RoomPresence, len(rows))
	for _, row := range rows {
		out[row.StudentID] = row.Status
	}
	return out, nil
}

// ResetAllInRoom wipes presence for the next day.
func (s *AttendanceService) ResetAllInRoom(ctx context.Context, at time.Time) (int64, error) {
	return s.inRoom.ResetAll(ctx, at)
}

func (s *AttendanceService) buildRecord(student *models.User, slotCtx models.SlotContext, ts time.Time, status models.AttendanceStatus, points int, source models.AttendanceSource, verified bool) models.AttendanceRecord {
	rec := models.AttendanceRecord{
		StudentID:    student.ID,
		SlotRef:      slotCtx.SlotRef,
		Date:         ts,
		RFIDTag:      student.RFIDTag,
		Timestamp:    ts,
		Status:       status,
		PointsEarned: points,
		Source:       source,
		IsVerified:   verified,
		InRoomStatus: models.PresenceIn,
	}
	if verified {
		v := ts
		rec.VerifiedAt = &v
	}
	moved := ts
	rec.LastMovementAt = &moved
	if slotCtx.SubjectCode != "" {
		rec.SubjectCode = &slotCtx.SubjectCode
	}
	if slotCtx.SubjectName != "" {
		rec.SubjectName = &slotCtx.SubjectName
	}
	if slotCtx.TeacherID != "" {
		rec.TeacherID = &slotCtx.TeacherID
	}
	if slotCtx.OrganizationID != "" {
		rec.OrganizationID = &slotCtx.OrganizationID
	}
	return rec
}

func (s *AttendanceService) upsertPresence(ctx context.Context, studentID, room string, status models.RoomPresence, slotRef string, ts time.Time) {
	if err := s.UpdateInRoomStatus(ctx, studentID, room, status, slotRef, ts); err != nil {
		s.logger.Warn("in-room upsert failed",
			zap.String("student_id", studentID),
			zap.String("room", room),
			zap.Error(err))
	}
}
