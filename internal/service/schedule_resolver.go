package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-gate-api/internal/models"
	appErrors "github.com/noah-isme/sma-gate-api/pkg/errors"
)

type scheduleRepository interface {
	SlotsForDay(ctx context.Context, dayOfWeek int) ([]models.ScheduleSlot, error)
	SlotByID(ctx context.Context, id string) (*models.ScheduleSlot, error)
	TeacherSlotsForDay(ctx context.Context, teacherID string, dayOfWeek int) ([]models.ScheduleSlot, error)
	ClassSlotsForDay(ctx context.Context, classID string, dayOfWeek int) ([]models.ScheduleSlot, error)
}

type projectionCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// ScheduleResolver provides read-only projections over the timetable. The
// gate never writes through it. Day listings are cached briefly so the
// per-minute ticks and scan bursts do not hammer the store.
type ScheduleResolver struct {
	repo      scheduleRepository
	cache     projectionCache
	cacheTTL  time.Duration
	loc       *time.Location
	earlyLead time.Duration
	logger    *zap.Logger
}

// NewScheduleResolver constructs the resolver. cache may be nil.
func NewScheduleResolver(repo scheduleRepository, cache projectionCache, cacheTTL time.Duration, loc *time.Location, earlyLead time.Duration, logger *zap.Logger) *ScheduleResolver {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleResolver{repo: repo, cache: cache, cacheTTL: cacheTTL, loc: loc, earlyLead: earlyLead, logger: logger}
}

// ActivePeriod returns the slot (class or break) covering now, or nil.
func (s *ScheduleResolver) ActivePeriod(ctx context.Context, now time.Time) (*models.SlotOccurrence, error) {
	slots, err := s.daySlots(ctx, now)
	if err != nil {
		return nil, err
	}
	for i := range slots {
		occ := s.occurrence(slots[i], now)
		if occ.Contains(now) {
			return occ, nil
		}
	}
	return nil, nil
}

// CurrentTeacherSlot returns the teacher's in-progress or next class slot of
// the day, or nil when none remains.
func (s *ScheduleResolver) CurrentTeacherSlot(ctx context.Context, teacherID string, now time.Time) (*models.SlotOccurrence, error) {
	slots, err := s.repo.TeacherSlotsForDay(ctx, teacherID, s.weekday(now))
	if err != nil {
		return nil, fmt.Errorf("resolve teacher slots: %w", err)
	}
	return s.firstEndingAfter(slots, now), nil
}

// CurrentClassSlot returns the class's in-progress or next slot of the day.
func (s *ScheduleResolver) CurrentClassSlot(ctx context.Context, classID string, now time.Time) (*models.SlotOccurrence, error) {
	slots, err := s.repo.ClassSlotsForDay(ctx, classID, s.weekday(now))
	if err != nil {
		return nil, fmt.Errorf("resolve class slots: %w", err)
	}
	return s.firstEndingAfter(slots, now), nil
}

// FirstSlotOfDay returns today's earliest class slot, or nil.
func (s *ScheduleResolver) FirstSlotOfDay(ctx context.Context, now time.Time) (*models.SlotOccurrence, error) {
	slots, err := s.daySlots(ctx, now)
	if err != nil {
		return nil, err
	}
	for i := range slots {
		if slots[i].Type == models.PeriodClass {
			return s.occurrence(slots[i], now), nil
		}
	}
	return nil, nil
}

// LastSlotOfDay returns today's latest class slot, or nil.
func (s *ScheduleResolver) LastSlotOfDay(ctx context.Context, now time.Time) (*models.SlotOccurrence, error) {
	slots, err := s.daySlots(ctx, now)
	if err != nil {
		return nil, err
	}
	for i := len(slots) - 1; i >= 0; i-- {
		if slots[i].Type == models.PeriodClass {
			return s.occurrence(slots[i], now), nil
		}
	}
	return nil, nil
}

// NextSlotAfterBreak returns the first class slot starting at or after the
// break's end, or nil.
func (s *ScheduleResolver) NextSlotAfterBreak(ctx context.Context, breakID string, now time.Time) (*models.SlotOccurrence, error) {
	brk, err := s.repo.SlotByID(ctx, breakID)
	if err != nil {
		return nil, fmt.Errorf("resolve break slot: %w", err)
	}
	slots, err := s.daySlots(ctx, now)
	if err != nil {
		return nil, err
	}
	for i := range slots {
		if slots[i].Type == models.PeriodClass && slots[i].StartMinute >= brk.EndMinute {
			return s.occurrence(slots[i], now), nil
		}
	}
	return nil, nil
}

// IsFirstSlotOfToday reports whether the slot opens the day.
func (s *ScheduleResolver) IsFirstSlotOfToday(ctx context.Context, slotID string, now time.Time) (bool, error) {
	first, err := s.FirstSlotOfDay(ctx, now)
	if err != nil {
		return false, err
	}
	return first != nil && first.Slot.ID == slotID, nil
}

// EntryWindow computes the span entry scans are accepted for a slot. The
// day's first slot opens early by the configured lead.
func (s *ScheduleResolver) EntryWindow(ctx context.Context, slotID string, now time.Time) (*models.EntryWindow, error) {
	slot, err := s.repo.SlotByID(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("resolve entry window: %w", err)
	}
	occ := s.occurrence(*slot, now)
	opens := occ.StartTime
	isFirst, err := s.IsFirstSlotOfToday(ctx, slotID, now)
	if err != nil {
		return nil, err
	}
	if isFirst {
		opens = opens.Add(-s.earlyLead)
	}
	return &models.EntryWindow{Opens: opens, Closes: occ.EndTime}, nil
}

func (s *ScheduleResolver) daySlots(ctx context.Context, now time.Time) ([]models.ScheduleSlot, error) {
	day := s.weekday(now)
	key := fmt.Sprintf("gate:schedule:day:%d", day)

	var slots []models.ScheduleSlot
	if s.cache != nil {
		if err := s.cache.Get(ctx, key, &slots); err == nil {
			return slots, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("schedule cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	slots, err := s.repo.SlotsForDay(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("resolve day slots: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, slots, s.cacheTTL); err != nil {
			s.logger.Warn("schedule cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return slots, nil
}

func (s *ScheduleResolver) firstEndingAfter(slots []models.ScheduleSlot, now time.Time) *models.SlotOccurrence {
	for i := range slots {
		occ := s.occurrence(slots[i], now)
		if occ.EndTime.After(now) {
			return occ
		}
	}
	return nil
}

func (s *ScheduleResolver) weekday(now time.Time) int {
	return int(now.In(s.loc).Weekday())
}

// occurrence materialises a timetable slot onto now's calendar day.
func (s *ScheduleResolver) occurrence(slot models.ScheduleSlot, now time.Time) *models.SlotOccurrence {
	local := now.In(s.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	return &models.SlotOccurrence{
		Slot:      slot,
		StartTime: midnight.Add(time.Duration(slot.StartMinute) * time.Minute),
		EndTime:   midnight.Add(time.Duration(slot.EndMinute) * time.Minute),
	}
}
