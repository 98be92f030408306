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

// SessionRepository persists session lifecycles. Uniqueness of the live
// session per (room, slot, day) lives in the store itself: inserts go
// through ON CONFLICT DO NOTHING against a partial unique index, the same
// pattern the attendance ledger uses, so concurrent create attempts can
// never produce duplicates.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, slot_ref, class_id, room, device_id, teacher_id, actual_teacher_id, subject_name, subject_code,
start_time, end_time, teacher_arrived_at, status, is_overridden, poller_triggered, snapshot_at, snapshot_inside,
snapshot_outside, re_verified_students, organization_id, created_at, updated_at`

// InsertIfAbsent creates a session unless a live one already occupies the
// same (room, slot, day). Returns false when the insert was skipped.
func (r *SessionRepository) InsertIfAbsent(ctx context.Context, s *models.Session) (bool, error) {
	now := time.Now().UTC()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	if s.ReVerifiedStudents == nil {
		s.ReVerifiedStudents = []string{}
	}
	query := `INSERT INTO gate_sessions
(id, slot_ref, class_id, room, device_id, teacher_id, actual_teacher_id, subject_name, subject_code,
 start_time, end_time, teacher_arrived_at, status, is_overridden, poller_triggered, snapshot_at,
 snapshot_inside, snapshot_outside, re_verified_students, organization_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
ON CONFLICT (room, slot_ref, (start_time::date))
WHERE status IN ('WAITING_FOR_TEACHER', 'ACTIVE', 'BREAK') DO NOTHING
RETURNING id`
	var insertedID string
	err := r.db.QueryRowxContext(ctx, query,
		s.ID, s.SlotRef, s.ClassID, s.Room, s.DeviceID, s.TeacherID, s.ActualTeacherID, s.SubjectName, s.SubjectCode,
		s.StartTime.UTC(), s.EndTime.UTC(), s.TeacherArrivedAt, s.Status, s.IsOverridden, s.PollerTriggered,
		s.SnapshotAt, s.SnapshotInside, s.SnapshotOutside, s.ReVerifiedStudents, s.OrganizationID, s.CreatedAt, s.UpdatedAt,
	).Scan(&insertedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("insert session: %w", err)
	}
	return true, nil
}

// GetByID fetches one session.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := fmt.Sprintf("SELECT %s FROM gate_sessions WHERE id = $1", sessionColumns)
	var s models.Session
	if err := r.db.GetContext(ctx, &s, query, id); err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

// FindLive returns the non-terminal session for a (room, slot, day), if any.
func (r *SessionRepository) FindLive(ctx context.Context, room, slotRef string, day time.Time) (*models.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM gate_sessions
WHERE room = $1 AND slot_ref = $2 AND start_time::date = $3::date
AND status IN ('WAITING_FOR_TEACHER', 'ACTIVE', 'BREAK')`, sessionColumns)
	var s models.Session
	if err := r.db.GetContext(ctx, &s, query, room, slotRef, dateOnly(day)); err != nil {
		return nil, fmt.Errorf("find live session: %w", err)
	}
	return &s, nil
}

// FindLiveByRoom returns the newest non-terminal session in a room.
func (r *SessionRepository) FindLiveByRoom(ctx context.Context, room string) (*models.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM gate_sessions
WHERE room = $1 AND status IN ('WAITING_FOR_TEACHER', 'ACTIVE', 'BREAK')
ORDER BY start_time DESC LIMIT 1`, sessionColumns)
	var s models.Session
	if err := r.db.GetContext(ctx, &s, query, room); err != nil {
		return nil, fmt.Errorf("find live session by room: %w", err)
	}
	return &s, nil
}

// ListNonTerminal returns every live session, used to rehydrate the in-memory
// slot map after a restart.
func (r *SessionRepository) ListNonTerminal(ctx context.Context) ([]models.Session, error) {
	query := fmt.Sprintf("SELECT %s FROM gate_sessions WHERE status IN ('WAITING_FOR_TEACHER', 'ACTIVE', 'BREAK') ORDER BY start_time", sessionColumns)
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query); err != nil {
		return nil, fmt.Errorf("list live sessions: %w", err)
	}
	return sessions, nil
}

// TeacherCheckIn transitions WAITING_FOR_TEACHER to ACTIVE. The guarded
// WHERE makes the transition happen at most once; zero rows means someone
// already checked in.
func (r *SessionRepository) TeacherCheckIn(ctx context.Context, sessionID, teacherID string, at time.Time) (*models.Session, error) {
	query := fmt.Sprintf(`UPDATE gate_sessions
SET status = $3, teacher_arrived_at = $4, actual_teacher_id = $2, is_overridden = (teacher_id <> $2), updated_at = $4
WHERE id = $1 AND status = $5
RETURNING %s`, sessionColumns)
	var s models.Session
	if err := r.db.GetContext(ctx, &s, query, sessionID, teacherID, models.SessionActive, at.UTC(), models.SessionWaitingForTeacher); err != nil {
		return nil, fmt.Errorf("session teacher check-in: %w", err)
	}
	return &s, nil
}

// UpdateStatus mirrors an in-memory slot transition onto the session row.
func (r *SessionRepository) UpdateStatus(ctx context.Context, id string, status models.SessionStatus, at time.Time) error {
	query := "UPDATE gate_sessions SET status = $2, updated_at = $3 WHERE id = $1"
	if _, err := r.db.ExecContext(ctx, query, id, status, at.UTC()); err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return nil
}

// UpdateStatusWindow mirrors a transition that also moves the session's end
// time, as when a class rolls through a scheduled break onto its next
// occurrence.
func (r *SessionRepository) UpdateStatusWindow(ctx context.Context, id string, status models.SessionStatus, endTime, at time.Time) error {
	query := "UPDATE gate_sessions SET status = $2, end_time = $3, updated_at = $4 WHERE id = $1"
	if _, err := r.db.ExecContext(ctx, query, id, status, endTime.UTC(), at.UTC()); err != nil {
		return fmt.Errorf("update session window: %w", err)
	}
	return nil
}

// CloseExpired closes every active session whose end time has passed.
// Running it when nothing is due is a no-op.
func (r *SessionRepository) CloseExpired(ctx context.Context, now time.Time) (int64, error) {
	query := "UPDATE gate_sessions SET status = $1, updated_at = $2 WHERE status IN ($3, $4) AND end_time < $2"
	res, err := r.db.ExecContext(ctx, query, models.SessionClosed, now.UTC(), models.SessionActive, models.SessionBreak)
	if err != nil {
		return 0, fmt.Errorf("close expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("close expired rows: %w", err)
	}
	return n, nil
}

// CancelAbandoned cancels sessions still waiting for a teacher past the
// grace cutoff.
func (r *SessionRepository) CancelAbandoned(ctx context.Context, cutoff, now time.Time) (int64, error) {
	query := "UPDATE gate_sessions SET status = $1, updated_at = $2 WHERE status = $3 AND start_time < $4"
	res, err := r.db.ExecContext(ctx, query, models.SessionCancelled, now.UTC(), models.SessionWaitingForTeacher, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("cancel abandoned sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancel abandoned rows: %w", err)
	}
	return n, nil
}

// AddReVerified appends a student to the session's re-verified set exactly
// once. Returns false when the student was already present.
func (r *SessionRepository) AddReVerified(ctx context.Context, sessionID, studentID string) (bool, error) {
	query := `UPDATE gate_sessions
SET re_verified_students = array_append(re_verified_students, $2), updated_at = now()
WHERE id = $1 AND NOT ($2 = ANY(re_verified_students))`
	res, err := r.db.ExecContext(ctx, query, sessionID, studentID)
	if err != nil {
		return false, fmt.Errorf("add re-verified student: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add re-verified rows: %w", err)
	}
	return n > 0, nil
}

// ReVerified lists the students already re-verified for a session.
func (r *SessionRepository) ReVerified(ctx context.Context, sessionID string) ([]string, error) {
	s, err := r.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.ReVerifiedStudents, nil
}

// SetPollerTriggered latches the arrival snapshot counts. The guarded WHERE
// keeps the poller one-shot per session.
func (r *SessionRepository) SetPollerTriggered(ctx context.Context, sessionID string, at time.Time, inside, outside int) (bool, error) {
	query := `UPDATE gate_sessions
SET poller_triggered = TRUE, snapshot_at = $2, snapshot_inside = $3, snapshot_outside = $4, updated_at = $2
WHERE id = $1 AND poller_triggered = FALSE`
	res, err := r.db.ExecContext(ctx, query, sessionID, at.UTC(), inside, outside)
	if err != nil {
		return false, fmt.Errorf("set poller triggered: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set poller triggered rows: %w", err)
	}
	return n > 0, nil
}
