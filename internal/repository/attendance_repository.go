package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-gate-api/internal/models"
)

// AttendanceRepository persists attendance records. All creation goes
// through conditional inserts keyed on (student, slot, date) so replays and
// concurrent scans collapse onto a single row with a single points credit.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

const attendanceColumns = `id, student_id, slot_ref, date, rfid_tag, timestamp, status, device_id, points_earned,
subject_code, subject_name, teacher_id, organization_id, source, is_verified, verified_at, in_room_status, last_movement_at`

const attendanceInsert = `INSERT INTO attendance_records
(id, student_id, slot_ref, date, rfid_tag, timestamp, status, device_id, points_earned,
 subject_code, subject_name, teacher_id, organization_id, source, is_verified, verified_at, in_room_status, last_movement_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
ON CONFLICT (student_id, slot_ref, date) DO NOTHING
RETURNING id`

// InsertIfAbsent inserts a record unless one already exists for the same
// (student, slot, date). Returns false when the row already existed.
func (r *AttendanceRepository) InsertIfAbsent(ctx context.Context, rec *models.AttendanceRecord) (bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	var insertedID string
	err := r.db.QueryRowxContext(ctx, attendanceInsert, attendanceArgs(rec)...).Scan(&insertedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("insert attendance: %w", err)
	}
	return true, nil
}

// BulkInsertIfAbsent inserts many records, skipping existing keys, and
// returns how many rows were actually created.
func (r *AttendanceRepository) BulkInsertIfAbsent(ctx context.Context, recs []models.AttendanceRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin bulk attendance: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	inserted := 0
	for i := range recs {
		rec := &recs[i]
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		var insertedID string
		if err := tx.QueryRowxContext(ctx, attendanceInsert, attendanceArgs(rec)...).Scan(&insertedID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return 0, fmt.Errorf("bulk insert attendance: %w", err)
		}
		inserted++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit bulk attendance: %w", err)
	}
	committed = true
	return inserted, nil
}

// GetByKey fetches the record for a (student, slot, date) key.
func (r *AttendanceRepository) GetByKey(ctx context.Context, studentID, slotRef string, date time.Time) (*models.AttendanceRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM attendance_records WHERE student_id = $1 AND slot_ref = $2 AND date = $3", attendanceColumns)
	var rec models.AttendanceRecord
	if err := r.db.GetContext(ctx, &rec, query, studentID, slotRef, dateOnly(date)); err != nil {
		return nil, fmt.Errorf("get attendance: %w", err)
	}
	return &rec, nil
}

// SetVerified marks a record verified. The guarded WHERE keeps verification
// one-shot; zero rows means it was already verified.
func (r *AttendanceRepository) SetVerified(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `UPDATE attendance_records
SET is_verified = TRUE, verified_at = $2, in_room_status = $3, last_movement_at = $2
WHERE id = $1 AND is_verified = FALSE`
	res, err := r.db.ExecContext(ctx, query, id, at.UTC(), models.PresenceIn)
	if err != nil {
		return false, fmt.Errorf("verify attendance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("verify attendance rows: %w", err)
	}
	return n > 0, nil
}

// UpdateMovement mirrors an IN/OUT toggle onto the linked attendance record.
func (r *AttendanceRepository) UpdateMovement(ctx context.Context, id string, status models.RoomPresence, at time.Time) error {
	query := "UPDATE attendance_records SET in_room_status = $2, last_movement_at = $3 WHERE id = $1"
	if _, err := r.db.ExecContext(ctx, query, id, status, at.UTC()); err != nil {
		return fmt.Errorf("update attendance movement: %w", err)
	}
	return nil
}

func attendanceArgs(rec *models.AttendanceRecord) []interface{} {
	return []interface{}{
		rec.ID, rec.StudentID, rec.SlotRef, dateOnly(rec.Date), rec.RFIDTag, rec.Timestamp.UTC(), rec.Status,
		rec.DeviceID, rec.PointsEarned, rec.SubjectCode, rec.SubjectName, rec.TeacherID, rec.OrganizationID,
		rec.Source, rec.IsVerified, rec.VerifiedAt, rec.InRoomStatus, rec.LastMovementAt,
	}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
