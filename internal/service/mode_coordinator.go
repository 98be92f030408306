package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-gate-api/internal/models"
	"github.com/noah-isme/sma-gate-api/pkg/config"
)

type modeScheduleResolver interface {
	ActivePeriod(ctx context.Context, now time.Time) (*models.SlotOccurrence, error)
	FirstSlotOfDay(ctx context.Context, now time.Time) (*models.SlotOccurrence, error)
	LastSlotOfDay(ctx context.Context, now time.Time) (*models.SlotOccurrence, error)
}

type presenceResetter interface {
	ResetAllInRoom(ctx context.Context, at time.Time) (int64, error)
}

// Broadcaster fans an event out to dashboard consumers, fire and forget.
type Broadcaster interface {
	Broadcast(event string, payload interface{})
}

// ModeCoordinator owns the process-wide daily mode. The mode is ephemeral:
// it is recomputed from the wall clock and the timetable on every tick, and
// external events (teacher arrival) may force it without waiting.
type ModeCoordinator struct {
	cfg      config.GateConfig
	loc      *time.Location
	resolver modeScheduleResolver
	resetter presenceResetter
	bus      Broadcaster
	metrics  *Metrics
	logger   *zap.Logger

	mu      sync.Mutex
	current models.SystemMode
	history []models.ModeTransition
}

// NewModeCoordinator constructs the coordinator starting in CLOSED.
func NewModeCoordinator(cfg config.GateConfig, loc *time.Location, resolver modeScheduleResolver, resetter presenceResetter, bus Broadcaster, metrics *Metrics, logger *zap.Logger) *ModeCoordinator {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModeCoordinator{
		cfg:      cfg,
		loc:      loc,
		resolver: resolver,
		resetter: resetter,
		bus:      bus,
		metrics:  metrics,
		logger:   logger,
		current:  models.ModeClosed,
	}
}

// Current returns the mode as of the last transition.
func (m *ModeCoordinator) Current() models.SystemMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// History returns a copy of the transition log.
func (m *ModeCoordinator) History() []models.ModeTransition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ModeTransition, len(m.history))
	copy(out, m.history)
	return out
}

// CheckTransitions recomputes the mode from the clock and transitions when
// it changed. Calling it with an unchanged mode is a no-op.
func (m *ModeCoordinator) CheckTransitions(ctx context.Context, now time.Time) error {
	target, err := m.compute(ctx, now)
	if err != nil {
		return err
	}
	m.mu.Lock()
	changed := target != m.current
	m.mu.Unlock()
	if !changed {
		return nil
	}
	m.transition(ctx, target, now, "scheduled check", "system")
	return nil
}

// Force jumps the mode immediately, bypassing the next tick. Used by the
// scan router when a teacher arrival flips the day into SLOT_ACTIVE.
func (m *ModeCoordinator) Force(ctx context.Context, mode models.SystemMode, reason, triggeredBy string) {
	m.mu.Lock()
	changed := mode != m.current
	m.mu.Unlock()
	if !changed {
		return
	}
	m.transition(ctx, mode, time.Now(), reason, triggeredBy)
}

// CanPerform is the pure mode gate consulted by the scan router.
func (m *ModeCoordinator) CanPerform(action models.GateAction) bool {
	mode := m.Current()
	switch action {
	case models.ActionStudentEntry:
		return mode == models.ModeEarlyAccess || mode == models.ModeSlotActive ||
			mode == models.ModeBreak || mode == models.ModePostClassAccess
	case models.ActionTeacherCheckin:
		return mode != models.ModeClosed
	case models.ActionCreateAttendance:
		return mode == models.ModeSlotActive
	case models.ActionMovementTracking:
		return mode != models.ModeClosed
	default:
		return false
	}
}

func (m *ModeCoordinator) transition(ctx context.Context, to models.SystemMode, now time.Time, reason, triggeredBy string) {
	m.mu.Lock()
	from := m.current
	if from == to {
		m.mu.Unlock()
		return
	}
	m.current = to
	entry := models.ModeTransition{From: from, To: to, Timestamp: now.UTC(), Reason: reason, TriggeredBy: triggeredBy}
	m.history = append(m.history, entry)
	if limit := m.cfg.ModeHistoryLimit; limit > 0 && len(m.history) > limit {
		m.history = m.history[len(m.history)-limit:]
	}
	m.mu.Unlock()

	m.logger.Info("mode transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reason", reason),
		zap.String("triggered_by", triggeredBy),
	)
	if m.metrics != nil {
		m.metrics.ModeTransitions.WithLabelValues(string(from), string(to)).Inc()
	}
	if m.bus != nil {
		m.bus.Broadcast(models.EventModeChanged, entry)
	}

	// Entering CLOSED wipes presence so the next day starts clean.
	if to == models.ModeClosed && m.resetter != nil {
		if n, err := m.resetter.ResetAllInRoom(ctx, now); err != nil {
			m.logger.Error("in-room reset failed on close", zap.Error(err))
		} else if n > 0 {
			m.logger.Info("in-room presence reset", zap.Int64("rows", n))
		}
	}
}

func (m *ModeCoordinator) compute(ctx context.Context, now time.Time) (models.SystemMode, error) {
	local := now.In(m.loc)
	minutes := local.Hour()*60 + local.Minute()
	if minutes < m.cfg.OpenFrom || minutes >= m.cfg.OpenUntil {
		return models.ModeClosed, nil
	}

	active, err := m.resolver.ActivePeriod(ctx, now)
	if err != nil {
		return m.Current(), err
	}
	if active != nil {
		if active.Slot.Type == models.PeriodBreak {
			return models.ModeBreak, nil
		}
		return models.ModeSlotActive, nil
	}

	first, err := m.resolver.FirstSlotOfDay(ctx, now)
	if err != nil {
		return m.Current(), err
	}
	if first != nil && now.Before(first.StartTime) {
		if !now.Before(first.StartTime.Add(-m.cfg.EarlyAccessLead)) {
			return models.ModeEarlyAccess, nil
		}
		return models.ModeIdle, nil
	}

	last, err := m.resolver.LastSlotOfDay(ctx, now)
	if err != nil {
		return m.Current(), err
	}
	if last != nil && !now.Before(last.EndTime) {
		if now.Before(last.EndTime.Add(m.cfg.PostClassWindow)) {
			return models.ModePostClassAccess, nil
		}
		return models.ModeClosed, nil
	}

	return models.ModeIdle, nil
}
