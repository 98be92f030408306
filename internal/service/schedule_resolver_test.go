package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-gate-api/internal/models"
	appErrors "github.com/noah-isme/sma-gate-api/pkg/errors"
)

type mockScheduleRepo struct {
	slots       []models.ScheduleSlot
	dayCalls    int
	teacherCall int
}

func (m *mockScheduleRepo) SlotsForDay(_ context.Context, _ int) ([]models.ScheduleSlot, error) {
	m.dayCalls++
	return m.slots, nil
}

func (m *mockScheduleRepo) SlotByID(_ context.Context, id string) (*models.ScheduleSlot, error) {
	for i := range m.slots {
		if m.slots[i].ID == id {
			return &m.slots[i], nil
		}
	}
	return nil, errors.New("slot not found")
}

func (m *mockScheduleRepo) TeacherSlotsForDay(_ context.Context, teacherID string, _ int) ([]models.ScheduleSlot, error) {
	m.teacherCall++
	var out []models.ScheduleSlot
	for _, s := range m.slots {
		if s.TeacherID != nil && *s.TeacherID == teacherID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockScheduleRepo) ClassSlotsForDay(_ context.Context, classID string, _ int) ([]models.ScheduleSlot, error) {
	var out []models.ScheduleSlot
	for _, s := range m.slots {
		if s.ClassID != nil && *s.ClassID == classID {
			out = append(out, s)
		}
	}
	return out, nil
}

type mockProjectionCache struct {
	entries map[string][]byte
	sets    int
}

func (m *mockProjectionCache) Get(_ context.Context, key string, dest interface{}) error {
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *mockProjectionCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if m.entries == nil {
		m.entries = map[string][]byte{}
	}
	m.entries[key] = raw
	m.sets++
	return nil
}

// Monday timetable: class 08:00-08:45, break 08:45-09:00, class 09:00-09:45.
func mondaySlots() []models.ScheduleSlot {
	t1 := "t1"
	c1 := "c1"
	return []models.ScheduleSlot{
		{ID: "slot-1", DayOfWeek: 1, StartMinute: 480, EndMinute: 525, Type: models.PeriodClass, TeacherID: &t1, ClassID: &c1},
		{ID: "break-1", DayOfWeek: 1, StartMinute: 525, EndMinute: 540, Type: models.PeriodBreak},
		{ID: "slot-2", DayOfWeek: 1, StartMinute: 540, EndMinute: 585, Type: models.PeriodClass, TeacherID: &t1, ClassID: &c1},
	}
}

// 2026-03-02 is a Monday.
func mondayAt(hour, minute int) time.Time {
	return time.Date(2026, 3, 2, hour, minute, 0, 0, time.UTC)
}

func newTestResolver(repo *mockScheduleRepo, cache projectionCache) *ScheduleResolver {
	return NewScheduleResolver(repo, cache, time.Minute, time.UTC, 30*time.Minute, zap.NewNop())
}

func TestActivePeriodCoversBreaks(t *testing.T) {
	r := newTestResolver(&mockScheduleRepo{slots: mondaySlots()}, nil)

	inClass, err := r.ActivePeriod(context.Background(), mondayAt(8, 20))
	require.NoError(t, err)
	require.NotNil(t, inClass)
	assert.Equal(t, "slot-1", inClass.Slot.ID)

	inBreak, err := r.ActivePeriod(context.Background(), mondayAt(8, 50))
	require.NoError(t, err)
	require.NotNil(t, inBreak)
	assert.Equal(t, models.PeriodBreak, inBreak.Slot.Type)

	after, err := r.ActivePeriod(context.Background(), mondayAt(10, 0))
	require.NoError(t, err)
	assert.Nil(t, after)
}

func TestCurrentTeacherSlotSkipsEnded(t *testing.T) {
	r := newTestResolver(&mockScheduleRepo{slots: mondaySlots()}, nil)

	// The first class has ended; the next one is returned even though it
	// has not started yet.
	occ, err := r.CurrentTeacherSlot(context.Background(), "t1", mondayAt(8, 50))
	require.NoError(t, err)
	require.NotNil(t, occ)
	assert.Equal(t, "slot-2", occ.Slot.ID)

	occ, err = r.CurrentTeacherSlot(context.Background(), "t1", mondayAt(10, 0))
	require.NoError(t, err)
	assert.Nil(t, occ)
}

func TestFirstAndLastSlotSkipBreaks(t *testing.T) {
	r := newTestResolver(&mockScheduleRepo{slots: mondaySlots()}, nil)

	first, err := r.FirstSlotOfDay(context.Background(), mondayAt(7, 0))
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "slot-1", first.Slot.ID)

	last, err := r.LastSlotOfDay(context.Background(), mondayAt(7, 0))
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "slot-2", last.Slot.ID)
}

func TestNextSlotAfterBreak(t *testing.T) {
	r := newTestResolver(&mockScheduleRepo{slots: mondaySlots()}, nil)

	next, err := r.NextSlotAfterBreak(context.Background(), "break-1", mondayAt(8, 55))
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "slot-2", next.Slot.ID)
	assert.Equal(t, mondayAt(9, 0), next.StartTime)
}

func TestEntryWindowFirstSlotOpensEarly(t *testing.T) {
	r := newTestResolver(&mockScheduleRepo{slots: mondaySlots()}, nil)

	first, err := r.EntryWindow(context.Background(), "slot-1", mondayAt(7, 0))
	require.NoError(t, err)
	assert.Equal(t, mondayAt(7, 30), first.Opens)
	assert.Equal(t, mondayAt(8, 45), first.Closes)

	second, err := r.EntryWindow(context.Background(), "slot-2", mondayAt(7, 0))
	require.NoError(t, err)
	assert.Equal(t, mondayAt(9, 0), second.Opens)
	assert.Equal(t, mondayAt(9, 45), second.Closes)
}

func TestIsFirstSlotOfToday(t *testing.T) {
	r := newTestResolver(&mockScheduleRepo{slots: mondaySlots()}, nil)

	isFirst, err := r.IsFirstSlotOfToday(context.Background(), "slot-1", mondayAt(7, 0))
	require.NoError(t, err)
	assert.True(t, isFirst)

	isFirst, err = r.IsFirstSlotOfToday(context.Background(), "slot-2", mondayAt(7, 0))
	require.NoError(t, err)
	assert.False(t, isFirst)
}

func TestDaySlotsServedFromCache(t *testing.T) {
	repo := &mockScheduleRepo{slots: mondaySlots()}
	cache := &mockProjectionCache{}
	r := newTestResolver(repo, cache)

	_, err := r.ActivePeriod(context.Background(), mondayAt(8, 20))
	require.NoError(t, err)
	_, err = r.ActivePeriod(context.Background(), mondayAt(8, 25))
	require.NoError(t, err)

	assert.Equal(t, 1, repo.dayCalls)
	assert.Equal(t, 1, cache.sets)
}
