package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-gate-api/internal/models"
	"github.com/noah-isme/sma-gate-api/pkg/config"
)

type mockModeResolver struct {
	active *models.SlotOccurrence
	first  *models.SlotOccurrence
	last   *models.SlotOccurrence
}

func (m *mockModeResolver) ActivePeriod(ctx context.Context, now time.Time) (*models.SlotOccurrence, error) {
	return m.active, nil
}

func (m *mockModeResolver) FirstSlotOfDay(ctx context.Context, now time.Time) (*models.SlotOccurrence, error) {
	return m.first, nil
}

func (m *mockModeResolver) LastSlotOfDay(ctx context.Context, now time.Time) (*models.SlotOccurrence, error) {
	return m.last, nil
}

type mockResetter struct {
	calls int
}

func (m *mockResetter) ResetAllInRoom(ctx context.Context, at time.Time) (int64, error) {
	m.calls++
	return 3, nil
}

type mockBus struct {
	events []string
}

func (m *mockBus) Broadcast(event string, payload interface{}) {
	m.events = append(m.events, event)
}

func modeTestConfig() config.GateConfig {
	return config.GateConfig{
		OpenFrom:         6 * 60,
		OpenUntil:        18 * 60,
		EarlyAccessLead:  30 * time.Minute,
		PostClassWindow:  time.Hour,
		ModeHistoryLimit: 50,
	}
}

func occurrenceAt(periodType models.PeriodType, start, end time.Time) *models.SlotOccurrence {
	return &models.SlotOccurrence{
		Slot:      models.ScheduleSlot{ID: "p1", Type: periodType},
		StartTime: start,
		EndTime:   end,
	}
}

func TestModeClosedOutsideOperatingHours(t *testing.T) {
	resetter := &mockResetter{}
	coord := NewModeCoordinator(modeTestConfig(), time.UTC, &mockModeResolver{}, resetter, &mockBus{}, nil, zap.NewNop())
	// Start from a non-CLOSED mode so the transition fires.
	coord.Force(context.Background(), models.ModeIdle, "test", "test")

	night := time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC)
	require.NoError(t, coord.CheckTransitions(context.Background(), night))
	assert.Equal(t, models.ModeClosed, coord.Current())
	assert.Equal(t, 1, resetter.calls)
}

func TestModeDuringActivePeriod(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	resolver := &mockModeResolver{active: occurrenceAt(models.PeriodClass, now.Add(-15*time.Minute), now.Add(30*time.Minute))}
	coord := NewModeCoordinator(modeTestConfig(), time.UTC, resolver, &mockResetter{}, &mockBus{}, nil, zap.NewNop())

	require.NoError(t, coord.CheckTransitions(context.Background(), now))
	assert.Equal(t, models.ModeSlotActive, coord.Current())

	resolver.active = occurrenceAt(models.PeriodBreak, now, now.Add(20*time.Minute))
	require.NoError(t, coord.CheckTransitions(context.Background(), now))
	assert.Equal(t, models.ModeBreak, coord.Current())
}

func TestModeEarlyAccessWindow(t *testing.T) {
	firstStart := time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC)
	resolver := &mockModeResolver{first: occurrenceAt(models.PeriodClass, firstStart, firstStart.Add(45*time.Minute))}
	coord := NewModeCoordinator(modeTestConfig(), time.UTC, resolver, &mockResetter{}, &mockBus{}, nil, zap.NewNop())

	// Within the lead window.
	require.NoError(t, coord.CheckTransitions(context.Background(), firstStart.Add(-20*time.Minute)))
	assert.Equal(t, models.ModeEarlyAccess, coord.Current())

	// Too early: idle.
	require.NoError(t, coord.CheckTransitions(context.Background(), firstStart.Add(-45*time.Minute)))
	assert.Equal(t, models.ModeIdle, coord.Current())
}

func TestModePostClassWindow(t *testing.T) {
	lastEnd := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	resolver := &mockModeResolver{last: occurrenceAt(models.PeriodClass, lastEnd.Add(-45*time.Minute), lastEnd)}
	coord := NewModeCoordinator(modeTestConfig(), time.UTC, resolver, &mockResetter{}, &mockBus{}, nil, zap.NewNop())

	require.NoError(t, coord.CheckTransitions(context.Background(), lastEnd.Add(30*time.Minute)))
	assert.Equal(t, models.ModePostClassAccess, coord.Current())

	require.NoError(t, coord.CheckTransitions(context.Background(), lastEnd.Add(90*time.Minute)))
	assert.Equal(t, models.ModeClosed, coord.Current())
}

func TestModeTransitionsAreBroadcastAndLogged(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	resolver := &mockModeResolver{active: occurrenceAt(models.PeriodClass, now, now.Add(45*time.Minute))}
	bus := &mockBus{}
	coord := NewModeCoordinator(modeTestConfig(), time.UTC, resolver, &mockResetter{}, bus, nil, zap.NewNop())

	require.NoError(t, coord.CheckTransitions(context.Background(), now))
	// Idempotent when unchanged.
	require.NoError(t, coord.CheckTransitions(context.Background(), now.Add(time.Minute)))

	history := coord.History()
	require.Len(t, history, 1)
	assert.Equal(t, models.ModeClosed, history[0].From)
	assert.Equal(t, models.ModeSlotActive, history[0].To)
	assert.Equal(t, []string{models.EventModeChanged}, bus.events)
}

func TestForceJumpsWithoutTick(t *testing.T) {
	coord := NewModeCoordinator(modeTestConfig(), time.UTC, &mockModeResolver{}, &mockResetter{}, &mockBus{}, nil, zap.NewNop())

	coord.Force(context.Background(), models.ModeSlotActive, "teacher arrival", "t1")
	assert.Equal(t, models.ModeSlotActive, coord.Current())

	history := coord.History()
	require.Len(t, history, 1)
	assert.Equal(t, "teacher arrival", history[0].Reason)
	assert.Equal(t, "t1", history[0].TriggeredBy)
}

func TestCanPerformMatrix(t *testing.T) {
	coord := NewModeCoordinator(modeTestConfig(), time.UTC, &mockModeResolver{}, &mockResetter{}, &mockBus{}, nil, zap.NewNop())

	// CLOSED at construction.
	assert.False(t, coord.CanPerform(models.ActionStudentEntry))
	assert.False(t, coord.CanPerform(models.ActionTeacherCheckin))
	assert.False(t, coord.CanPerform(models.ActionMovementTracking))

	coord.Force(context.Background(), models.ModeEarlyAccess, "test", "test")
	assert.True(t, coord.CanPerform(models.ActionStudentEntry))
	assert.True(t, coord.CanPerform(models.ActionTeacherCheckin))
	assert.False(t, coord.CanPerform(models.ActionCreateAttendance))

	coord.Force(context.Background(), models.ModeSlotActive, "test", "test")
	assert.True(t, coord.CanPerform(models.ActionCreateAttendance))

	coord.Force(context.Background(), models.ModeIdle, "test", "test")
	assert.False(t, coord.CanPerform(models.ActionStudentEntry))
	assert.True(t, coord.CanPerform(models.ActionTeacherCheckin))
}
