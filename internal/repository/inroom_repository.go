package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-gate-api/internal/models"
)

// InRoomRepository persists the per (student, room) presence flag.
type InRoomRepository struct {
	db *sqlx.DB
}

// NewInRoomRepository constructs the repository.
func NewInRoomRepository(db *sqlx.DB) *InRoomRepository {
	return &InRoomRepository{db: db}
}

// Upsert writes the presence row for a student/room pair.
func (r *InRoomRepository) Upsert(ctx context.Context, row *models.InRoomStatus) error {
	query := `INSERT INTO in_room_status (student_id, room, status, slot_ref, last_updated)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (student_id, room)
DO UPDATE SET status = EXCLUDED.status, slot_ref = EXCLUDED.slot_ref, last_updated = EXCLUDED.last_updated`
	if _, err := r.db.ExecContext(ctx, query, row.StudentID, row.Room, row.Status, row.SlotRef, row.LastUpdated.UTC()); err != nil {
		return fmt.Errorf("upsert in-room status: %w", err)
	}
	return nil
}

// Get fetches the presence row. Returns sql.ErrNoRows when none exists.
func (r *InRoomRepository) Get(ctx context.Context, studentID, room string) (*models.InRoomStatus, error) {
	query := "SELECT student_id, room, status, slot_ref, last_updated FROM in_room_status WHERE student_id = $1 AND room = $2"
	var row models.InRoomStatus
	if err := r.db.GetContext(ctx, &row, query, studentID, room); err != nil {
		return nil, fmt.Errorf("get in-room status: %w", err)
	}
	return &row, nil
}

// GetForStudents bulk-reads presence for a set of students in one room. It
// backs the arrival snapshot, one query for the whole class.
func (r *InRoomRepository) GetForStudents(ctx context.Context, room string, studentIDs []string) ([]models.InRoomStatus, error) {
	if len(studentIDs) == 0 {
		return nil, nil
	}
	query := "SELECT student_id, room, status, slot_ref, last_updated FROM in_room_status WHERE room = $1 AND student_id = ANY($2)"
	var rows []models.InRoomStatus
	if err := r.db.SelectContext(ctx, &rows, query, room, pq.Array(studentIDs)); err != nil {
		return nil, fmt.Errorf("bulk get in-room status: %w", err)
	}
	return rows, nil
}

// ResetAll flips every presence row back to UNKNOWN for the next day.
func (r *InRoomRepository) ResetAll(ctx context.Context, at time.Time) (int64, error) {
	query := "UPDATE in_room_status SET status = $1, slot_ref = NULL, last_updated = $2 WHERE status <> $1"
	res, err := r.db.ExecContext(ctx, query, models.PresenceUnknown, at.UTC())
	if err != nil {
		return 0, fmt.Errorf("reset in-room status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset in-room rows: %w", err)
	}
	return n, nil
}
