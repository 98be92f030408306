package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-gate-api/internal/models"
)

// ScheduleRepository provides read-only projections over the timetable. The
// admin application owns writes to schedule_slots.
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository creates a new schedule repository.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

const slotColumns = "id, day_of_week, start_minute, end_minute, type, class_id, teacher_id, subject_name, subject_code, room, organization_id"

// SlotsForDay returns all timetable rows for a weekday ordered by start.
func (r *ScheduleRepository) SlotsForDay(ctx context.Context, dayOfWeek int) ([]models.ScheduleSlot, error) {
	query := fmt.Sprintf("SELECT %s FROM schedule_slots WHERE day_of_week = $1 ORDER BY start_minute", slotColumns)
	var slots []models.ScheduleSlot
	if err := r.db.SelectContext(ctx, &slots, query, dayOfWeek); err != nil {
		return nil, fmt.Errorf("list slots for day: %w", err)
	}
	return slots, nil
}

// SlotByID fetches a single timetable row.
func (r *ScheduleRepository) SlotByID(ctx context.Context, id string) (*models.ScheduleSlot, error) {
	query := fmt.Sprintf("SELECT %s FROM schedule_slots WHERE id = $1", slotColumns)
	var slot models.ScheduleSlot
	if err := r.db.GetContext(ctx, &slot, query, id); err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return &slot, nil
}

// TeacherSlotsForDay returns a teacher's class slots for a weekday.
func (r *ScheduleRepository) TeacherSlotsForDay(ctx context.Context, teacherID string, dayOfWeek int) ([]models.ScheduleSlot, error) {
	query := fmt.Sprintf("SELECT %s FROM schedule_slots WHERE teacher_id = $1 AND day_of_week = $2 AND type = $3 ORDER BY start_minute", slotColumns)
	var slots []models.ScheduleSlot
	if err := r.db.SelectContext(ctx, &slots, query, teacherID, dayOfWeek, models.PeriodClass); err != nil {
		return nil, fmt.Errorf("list teacher slots: %w", err)
	}
	return slots, nil
}

// ClassSlotsForDay returns a class's slots for a weekday.
func (r *ScheduleRepository) ClassSlotsForDay(ctx context.Context, classID string, dayOfWeek int) ([]models.ScheduleSlot, error) {
	query := fmt.Sprintf("SELECT %s FROM schedule_slots WHERE class_id = $1 AND day_of_week = $2 AND type = $3 ORDER BY start_minute", slotColumns)
	var slots []models.ScheduleSlot
	if err := r.db.SelectContext(ctx, &slots, query, classID, dayOfWeek, models.PeriodClass); err != nil {
		return nil, fmt.Errorf("list class slots: %w", err)
	}
	return slots, nil
}
