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

type mockSessionMirror struct {
	checkins []string
	statuses map[string]models.SessionStatus
	windows  map[string]time.Time
	live     []models.Session
}

func (m *mockSessionMirror) TeacherCheckIn(ctx context.Context, sessionID, teacherID string, at time.Time) (*models.Session, error) {
	m.checkins = append(m.checkins, sessionID)
	return &models.Session{ID: sessionID, Status: models.SessionActive}, nil
}

func (m *mockSessionMirror) UpdateStatus(ctx context.Context, id string, status models.SessionStatus, at time.Time) error {
	if m.statuses == nil {
		m.statuses = map[string]models.SessionStatus{}
	}
	m.statuses[id] = status
	return nil
}

func (m *mockSessionMirror) UpdateStatusWindow(ctx context.Context, id string, status models.SessionStatus, endTime, at time.Time) error {
	if m.statuses == nil {
		m.statuses = map[string]models.SessionStatus{}
	}
	if m.windows == nil {
		m.windows = map[string]time.Time{}
	}
	m.statuses[id] = status
	m.windows[id] = endTime
	return nil
}

func (m *mockSessionMirror) ListNonTerminal(ctx context.Context) ([]models.Session, error) {
	return m.live, nil
}

type mockSlotSchedule struct {
	period *models.SlotOccurrence
	next   *models.SlotOccurrence
}

func (m *mockSlotSchedule) ActivePeriod(ctx context.Context, now time.Time) (*models.SlotOccurrence, error) {
	return m.period, nil
}

func (m *mockSlotSchedule) NextSlotAfterBreak(ctx context.Context, breakID string, now time.Time) (*models.SlotOccurrence, error) {
	return m.next, nil
}

func trackerTestConfig() config.GateConfig {
	return config.GateConfig{
		TeacherGrace:     15 * time.Minute,
		BreakWarningLead: 2 * time.Minute,
		ReVerifyGrace:    2 * time.Minute,
	}
}

func slotParams(start, end time.Time) InitializeSlotParams {
	return InitializeSlotParams{
		SlotRef:     "slot-1",
		Room:        "R101",
		StartTime:   start,
		EndTime:     end,
		TeacherID:   "t1",
		SubjectName: "Math",
		ClassID:     "c1",
		SessionID:   "sess-1",
	}
}

func TestTeacherCheckinTransitionsOnce(t *testing.T) {
	mirror := &mockSessionMirror{}
	tracker := NewSlotTracker(trackerTestConfig(), mirror, nil, nil, zap.NewNop())
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	tracker.InitializeSlot(slotParams(start, start.Add(45*time.Minute)))

	first := tracker.HandleTeacherCheckin(context.Background(), "R101", "t1", start.Add(3*time.Minute))
	require.True(t, first.Changed)
	assert.False(t, first.IsOverride)
	assert.Equal(t, models.SlotActive, first.Slot.Status)
	assert.Equal(t, []string{"sess-1"}, mirror.checkins)

	second := tracker.HandleTeacherCheckin(context.Background(), "R101", "t1", start.Add(4*time.Minute))
	assert.False(t, second.Changed)
	assert.Len(t, mirror.checkins, 1)
}

func TestTeacherCheckinOverride(t *testing.T) {
	tracker := NewSlotTracker(trackerTestConfig(), &mockSessionMirror{}, nil, nil, zap.NewNop())
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	tracker.InitializeSlot(slotParams(start, start.Add(45*time.Minute)))

	outcome := tracker.HandleTeacherCheckin(context.Background(), "R101", "t2", start.Add(time.Minute))
	require.True(t, outcome.Changed)
	assert.True(t, outcome.IsOverride)
	assert.Equal(t, "t2", outcome.Slot.ActualTeacherID)
	assert.Equal(t, "t1", outcome.Slot.TeacherID)
}

func TestGraceExpiryCancelsWaitingSlot(t *testing.T) {
	mirror := &mockSessionMirror{}
	tracker := NewSlotTracker(trackerTestConfig(), mirror, nil, nil, zap.NewNop())
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	tracker.InitializeSlot(slotParams(start, start.Add(45*time.Minute)))

	tracker.CheckTime(context.Background(), start.Add(16*time.Minute))

	state := tracker.SlotState("R101")
	require.NotNil(t, state)
	assert.Equal(t, models.SlotCancelled, state.Status)
	assert.Equal(t, models.SessionCancelled, mirror.statuses["sess-1"])

	// Cancelled never reverts.
	outcome := tracker.HandleTeacherCheckin(context.Background(), "R101", "t1", start.Add(17*time.Minute))
	assert.False(t, outcome.Changed)
}

func TestBreakWarningFiresOnce(t *testing.T) {
	tracker := NewSlotTracker(trackerTestConfig(), &mockSessionMirror{}, nil, nil, zap.NewNop())
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	end := start.Add(20 * time.Minute)
	tracker.InitializeSlot(InitializeSlotParams{
		SlotRef:       "break-1",
		Room:          "R101",
		StartTime:     start,
		EndTime:       end,
		InitialStatus: models.SlotBreak,
	})

	warned := 0
	tracker.OnBreakWarning = func(slot *models.ActiveSlot) { warned++ }

	tracker.CheckTime(context.Background(), end.Add(-90*time.Second))
	tracker.CheckTime(context.Background(), end.Add(-60*time.Second))
	assert.Equal(t, 1, warned)
}

func TestBreakReVerificationCycle(t *testing.T) {
	mirror := &mockSessionMirror{}
	tracker := NewSlotTracker(trackerTestConfig(), mirror, nil, nil, zap.NewNop())
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	end := start.Add(20 * time.Minute)
	tracker.InitializeSlot(InitializeSlotParams{
		SlotRef:       "break-1",
		Room:          "R101",
		StartTime:     start,
		EndTime:       end,
		SessionID:     "sess-b",
		InitialStatus: models.SlotBreak,
	})

	tracker.CheckTime(context.Background(), end)
	state := tracker.SlotState("R101")
	require.Equal(t, models.SlotReVerification, state.Status)
	require.NotNil(t, state.ReVerificationUntil)
	assert.Equal(t, end.Add(2*time.Minute), *state.ReVerificationUntil)

	tracker.CheckTime(context.Background(), end.Add(2*time.Minute))
	state = tracker.SlotState("R101")
	assert.Equal(t, models.SlotActive, state.Status)
	assert.Equal(t, models.SessionActive, mirror.statuses["sess-b"])
}

func TestActiveSlotClosesAtEnd(t *testing.T) {
	mirror := &mockSessionMirror{}
	tracker := NewSlotTracker(trackerTestConfig(), mirror, nil, nil, zap.NewNop())
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	end := start.Add(45 * time.Minute)
	tracker.InitializeSlot(slotParams(start, end))
	tracker.HandleTeacherCheckin(context.Background(), "R101", "t1", start.Add(time.Minute))

	tracker.CheckTime(context.Background(), end)
	assert.Equal(t, models.SessionClosed, mirror.statuses["sess-1"])
	// The terminal entry is evicted once its window has passed.
	assert.Nil(t, tracker.SlotState("R101"))
}

func TestActiveSlotRollsThroughBreak(t *testing.T) {
	c1 := "c1"
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	classEnd := start.Add(45 * time.Minute)
	breakEnd := classEnd.Add(15 * time.Minute)
	nextEnd := breakEnd.Add(45 * time.Minute)

	breakOcc := &models.SlotOccurrence{
		Slot:      models.ScheduleSlot{ID: "break-1", Type: models.PeriodBreak},
		StartTime: classEnd,
		EndTime:   breakEnd,
	}
	nextOcc := &models.SlotOccurrence{
		Slot:      models.ScheduleSlot{ID: "slot-2", Type: models.PeriodClass, ClassID: &c1},
		StartTime: breakEnd,
		EndTime:   nextEnd,
	}

	mirror := &mockSessionMirror{}
	schedule := &mockSlotSchedule{period: breakOcc, next: nextOcc}
	tracker := NewSlotTracker(trackerTestConfig(), mirror, schedule, nil, zap.NewNop())
	tracker.InitializeSlot(slotParams(start, classEnd))
	tracker.HandleTeacherCheckin(context.Background(), "R101", "t1", start.Add(time.Minute))

	warned := 0
	tracker.OnBreakWarning = func(slot *models.ActiveSlot) { warned++ }

	// Class end falls inside a scheduled break and the same class resumes
	// afterwards, so the room rolls into BREAK instead of closing.
	tracker.CheckTime(context.Background(), classEnd)
	state := tracker.SlotState("R101")
	require.NotNil(t, state)
	require.Equal(t, models.SlotBreak, state.Status)
	assert.Equal(t, "break-1", state.SlotRef)
	assert.Equal(t, breakEnd, state.EndTime)
	assert.Equal(t, models.SessionBreak, mirror.statuses["sess-1"])
	assert.Equal(t, breakEnd, mirror.windows["sess-1"])

	tracker.CheckTime(context.Background(), breakEnd.Add(-90*time.Second))
	assert.Equal(t, 1, warned)

	tracker.CheckTime(context.Background(), breakEnd)
	state = tracker.SlotState("R101")
	require.Equal(t, models.SlotReVerification, state.Status)

	// By re-verification expiry the next class period is underway.
	schedule.period = nextOcc
	tracker.CheckTime(context.Background(), breakEnd.Add(2*time.Minute))
	state = tracker.SlotState("R101")
	require.Equal(t, models.SlotActive, state.Status)
	assert.Equal(t, "slot-2", state.SlotRef)
	assert.Equal(t, nextEnd, state.EndTime)
	assert.Equal(t, models.SessionActive, mirror.statuses["sess-1"])
	assert.Equal(t, nextEnd, mirror.windows["sess-1"])

	schedule.period = nil
	tracker.CheckTime(context.Background(), nextEnd)
	assert.Equal(t, models.SessionClosed, mirror.statuses["sess-1"])
	assert.Nil(t, tracker.SlotState("R101"))
}

func TestActiveSlotClosesWhenClassDoesNotContinue(t *testing.T) {
	c2 := "c2"
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	classEnd := start.Add(45 * time.Minute)
	breakEnd := classEnd.Add(15 * time.Minute)

	mirror := &mockSessionMirror{}
	schedule := &mockSlotSchedule{
		period: &models.SlotOccurrence{
			Slot:      models.ScheduleSlot{ID: "break-1", Type: models.PeriodBreak},
			StartTime: classEnd,
			EndTime:   breakEnd,
		},
		next: &models.SlotOccurrence{
			Slot:      models.ScheduleSlot{ID: "slot-9", Type: models.PeriodClass, ClassID: &c2},
			StartTime: breakEnd,
			EndTime:   breakEnd.Add(45 * time.Minute),
		},
	}
	tracker := NewSlotTracker(trackerTestConfig(), mirror, schedule, nil, zap.NewNop())
	tracker.InitializeSlot(slotParams(start, classEnd))
	tracker.HandleTeacherCheckin(context.Background(), "R101", "t1", start.Add(time.Minute))

	// A different class owns the room after the break.
	tracker.CheckTime(context.Background(), classEnd)
	assert.Equal(t, models.SessionClosed, mirror.statuses["sess-1"])
	assert.Nil(t, tracker.SlotState("R101"))
}

func TestInitializeSlotCollapsesSameOccurrence(t *testing.T) {
	tracker := NewSlotTracker(trackerTestConfig(), &mockSessionMirror{}, nil, nil, zap.NewNop())
	start := time.Now().Add(time.Minute)
	p := slotParams(start, start.Add(45*time.Minute))

	first := tracker.InitializeSlot(p)
	second := tracker.InitializeSlot(p)
	assert.Equal(t, first.SlotRef, second.SlotRef)
	assert.Equal(t, first.Status, second.Status)
}

func TestAttachSessionOnce(t *testing.T) {
	tracker := NewSlotTracker(trackerTestConfig(), &mockSessionMirror{}, nil, nil, zap.NewNop())
	start := time.Now()
	p := slotParams(start, start.Add(45*time.Minute))
	p.SessionID = ""
	tracker.InitializeSlot(p)

	assert.True(t, tracker.AttachSession("R101", "sess-9"))
	assert.False(t, tracker.AttachSession("R101", "sess-10"))
	assert.Equal(t, "sess-9", tracker.SlotState("R101").SessionID)
}

func TestRehydrateRebuildsFromLiveSessions(t *testing.T) {
	slotRef := "slot-1"
	arrived := time.Date(2026, 3, 2, 9, 2, 0, 0, time.UTC)
	mirror := &mockSessionMirror{live: []models.Session{{
		ID:               "sess-1",
		SlotRef:          &slotRef,
		ClassID:          "c1",
		Room:             "R101",
		TeacherID:        "t1",
		SubjectName:      "Math",
		StartTime:        arrived.Add(-2 * time.Minute),
		EndTime:          arrived.Add(43 * time.Minute),
		TeacherArrivedAt: &arrived,
		Status:           models.SessionActive,
	}}}
	tracker := NewSlotTracker(trackerTestConfig(), mirror, nil, nil, zap.NewNop())

	require.NoError(t, tracker.Rehydrate(context.Background()))
	state := tracker.SlotState("R101")
	require.NotNil(t, state)
	assert.Equal(t, models.SlotActive, state.Status)
	assert.Equal(t, "sess-1", state.SessionID)
	assert.Equal(t, slotRef, state.SlotRef)
}
