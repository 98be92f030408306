package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-gate-api/internal/models"
	"github.com/noah-isme/sma-gate-api/pkg/config"
)

type sessionRepository interface {
	InsertIfAbsent(ctx context.Context, s *models.Session) (bool, error)
	GetByID(ctx context.Context, id string) (*models.Session, error)
	FindLive(ctx context.Context, room, slotRef string, day time.Time) (*models.Session, error)
	FindLiveByRoom(ctx context.Context, room string) (*models.Session, error)
	TeacherCheckIn(ctx context.Context, sessionID, teacherID string, at time.Time) (*models.Session, error)
	UpdateStatus(ctx context.Context, id string, status models.SessionStatus, at time.Time) error
	CloseExpired(ctx context.Context, now time.Time) (int64, error)
	CancelAbandoned(ctx context.Context, cutoff, now time.Time) (int64, error)
	AddReVerified(ctx context.Context, sessionID, studentID string) (bool, error)
	ReVerified(ctx context.Context, sessionID string) ([]string, error)
	SetPollerTriggered(ctx context.Context, sessionID string, at time.Time, inside, outside int) (bool, error)
}

// SessionService is the registry tracking session lifecycles. Creation is
// find-or-create against the store's partial unique index, so two readers
// racing on the same slot converge on a single session.
type SessionService struct {
	repo    sessionRepository
	cfg     config.GateConfig
	metrics *Metrics
	logger  *zap.Logger
}

// NewSessionService constructs the registry.
func NewSessionService(repo sessionRepository, cfg config.GateConfig, metrics *Metrics, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{repo: repo, cfg: cfg, metrics: metrics, logger: logger}
}

// CheckRoomAvailability reports whether a room can host a new session. A
// live session whose end time has passed is closed on the spot rather than
// waiting for the sweeper.
func (s *SessionService) CheckRoomAvailability(ctx context.Context, room string, now time.Time) (*models.RoomAvailability, error) {
	live, err := s.repo.FindLiveByRoom(ctx, room)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.RoomAvailability{Available: true}, nil
		}
		return nil, fmt.Errorf("room availability: %w", err)
	}
	if live.EndTime.Before(now) {
		if err := s.repo.UpdateStatus(ctx, live.ID, models.SessionClosed, now); err != nil {
			return nil, fmt.Errorf("close stale session: %w", err)
		}
		s.logger.Info("closed stale session on availability check",
			zap.String("session_id", live.ID),
			zap.String("room", room))
		return &models.RoomAvailability{Available: true}, nil
	}
	until := live.EndTime
	return &models.RoomAvailability{
		Available:     false,
		ActiveSession: live,
		OccupiedBy:    live.SubjectName,
		OccupiedUntil: &until,
	}, nil
}

// CreateSession inserts a session unless a live one already occupies the
// same (room, slot, day), in which case the existing one is returned. The
// boolean reports whether this call created the row.
func (s *SessionService) CreateSession(ctx context.Context, sess *models.Session) (*models.Session, bool, error) {
	inserted, err := s.repo.InsertIfAbsent(ctx, sess)
	if err != nil {
		return nil, false, fmt.Errorf("create session: %w", err)
	}
	if inserted {
		s.logger.Info("session created",
			zap.String("session_id", sess.ID),
			zap.String("room", sess.Room),
			zap.String("subject", sess.SubjectName))
		return sess, true, nil
	}

	slotRef := ""
	if sess.SlotRef != nil {
		slotRef = *sess.SlotRef
	}
	existing, err := s.repo.FindLive(ctx, sess.Room, slotRef, sess.StartTime)
	if err != nil {
		return nil, false, fmt.Errorf("create session reread: %w", err)
	}
	return existing, false, nil
}

// TeacherCheckIn moves a waiting session to ACTIVE. A second check-in
// against the same session loses the guarded update and comes back with
// Success false and the current row.
func (s *SessionService) TeacherCheckIn(ctx context.Context, sessionID, teacherID string, at time.Time) (*models.TeacherCheckInResult, error) {
	sess, err := s.repo.TeacherCheckIn(ctx, sessionID, teacherID, at)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			current, getErr := s.repo.GetByID(ctx, sessionID)
			if getErr != nil {
				return nil, fmt.Errorf("teacher check-in reread: %w", getErr)
			}
			return &models.TeacherCheckInResult{Success: false, IsOverride: current.IsOverridden, Session: current}, nil
		}
		return nil, fmt.Errorf("teacher check-in: %w", err)
	}
	if sess.IsOverridden {
		s.logger.Warn("session claimed by substitute teacher",
			zap.String("session_id", sess.ID),
			zap.String("scheduled_teacher", sess.TeacherID),
			zap.String("actual_teacher", teacherID))
	}
	return &models.TeacherCheckInResult{Success: true, IsOverride: sess.IsOverridden, Session: sess}, nil
}

// GetSession fetches a session by id.
func (s *SessionService) GetSession(ctx context.Context, id string) (*models.Session, error) {
	return s.repo.GetByID(ctx, id)
}

// FindLiveByRoom returns the newest non-terminal session in a room, nil
// when the room is free.
func (s *SessionService) FindLiveByRoom(ctx context.Context, room string) (*models.Session, error) {
	sess, err := s.repo.FindLiveByRoom(ctx, room)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find live session: %w", err)
	}
	return sess, nil
}

// UpdateStatus mirrors a slot transition onto the session row.
func (s *SessionService) UpdateStatus(ctx context.Context, id string, status models.SessionStatus, at time.Time) error {
	return s.repo.UpdateStatus(ctx, id, status, at)
}

// CloseSession marks a session CLOSED.
func (s *SessionService) CloseSession(ctx context.Context, id string, at time.Time) error {
	return s.repo.UpdateStatus(ctx, id, models.SessionClosed, at)
}

// CleanupExpiredSessions closes active or break sessions past their end
// time. Safe to run on a timer.
func (s *SessionService) CleanupExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.repo.CloseExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	if n > 0 {
		s.logger.Info("closed expired sessions", zap.Int64("count", n))
	}
	if s.metrics != nil {
		s.metrics.SessionsSwept.WithLabelValues("closed").Add(float64(n))
	}
	return n, nil
}

// CancelAbandonedSessions cancels sessions whose teacher never arrived
// within the grace window after the scheduled start.
func (s *SessionService) CancelAbandonedSessions(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-s.cfg.TeacherGrace)
	n, err := s.repo.CancelAbandoned(ctx, cutoff, now)
	if err != nil {
		return 0, fmt.Errorf("cancel abandoned sessions: %w", err)
	}
	if n > 0 {
		s.logger.Info("cancelled abandoned sessions", zap.Int64("count", n))
	}
	if s.metrics != nil {
		s.metrics.SessionsSwept.WithLabelValues("cancelled").Add(float64(n))
	}
	return n, nil
}

// MarkStudentReVerified adds a student to the session's re-verified set.
// Returns false when the student was already in it.
func (s *SessionService) MarkStudentReVerified(ctx context.Context, sessionID, studentID string) (bool, error) {
	added, err := s.repo.AddReVerified(ctx, sessionID, studentID)
	if err != nil {
		return false, fmt.Errorf("mark re-verified: %w", err)
	}
	return added, nil
}

// ReVerifiedStudents lists the students re-verified for a session.
func (s *SessionService) ReVerifiedStudents(ctx context.Context, sessionID string) ([]string, error) {
	return s.repo.ReVerified(ctx, sessionID)
}

// MarkPollerTriggered latches the arrival snapshot onto the session. The
// first caller wins; everyone else sees false.
func (s *SessionService) MarkPollerTriggered(ctx context.Context, sessionID string, at time.Time, inside, outside int) (bool, error) {
	ok, err := s.repo.SetPollerTriggered(ctx, sessionID, at, inside, outside)
	if err != nil {
		return false, fmt.Errorf("mark poller triggered: %w", err)
	}
	return ok, nil
}
