package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-gate-api/internal/models"
)

type pollerUserRepository interface {
	StudentsByClass(ctx context.Context, classID string) ([]models.User, error)
}

type snapshotLedger interface {
	CreateFromSnapshot(ctx context.Context, students []models.User, slotCtx models.SlotContext, ts time.Time, source models.AttendanceSource) (int, error)
	PresenceForStudents(ctx context.Context, room string, studentIDs []string) (map[string]models.RoomPresence, error)
}

type pollLatch interface {
	MarkPollerTriggered(ctx context.Context, sessionID string, at time.Time, inside, outside int) (bool, error)
}

type absenceNotifier interface {
	NotifyOutsideStudent(ctx context.Context, student models.User, session *models.Session) error
}

// PollerService takes the teacher-arrival snapshot: everyone inside the
// room at that moment is credited, everyone outside gets a notification.
// The session's poller latch keeps the snapshot one-shot, so a reconnecting
// teacher cannot trigger it twice.
type PollerService struct {
	users    pollerUserRepository
	ledger   snapshotLedger
	latch    pollLatch
	notifier absenceNotifier
	metrics  *Metrics
	logger   *zap.Logger
}

// NewPollerService constructs the poller.
func NewPollerService(users pollerUserRepository, ledger snapshotLedger, latch pollLatch, notifier absenceNotifier, metrics *Metrics, logger *zap.Logger) *PollerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PollerService{users: users, ledger: ledger, latch: latch, notifier: notifier, metrics: metrics, logger: logger}
}

// TriggerPoll runs the snapshot for a session at the teacher's arrival
// time. Returns a non-success result, not an error, when the snapshot was
// already taken.
func (s *PollerService) TriggerPoll(ctx context.Context, sess *models.Session, arrivedAt time.Time) (*models.PollResult, error) {
	if s.metrics != nil {
		timer := time.Now()
		defer func() {
			s.metrics.PollDuration.Observe(time.Since(timer).Seconds())
		}()
	}

	students, err := s.users.StudentsByClass(ctx, sess.ClassID)
	if err != nil {
		return nil, fmt.Errorf("poll roster: %w", err)
	}

	ids := make([]string, 0, len(students))
	for _, st := range students {
		ids = append(ids, st.ID)
	}
	presence, err := s.ledger.PresenceForStudents(ctx, sess.Room, ids)
	if err != nil {
		return nil, fmt.Errorf("poll presence: %w", err)
	}

	var inside, outside []models.User
	for _, st := range students {
		if presence[st.ID] == models.PresenceIn {
			inside = append(inside, st)
		} else {
			outside = append(outside, st)
		}
	}

	latched, err := s.latch.MarkPollerTriggered(ctx, sess.ID, arrivedAt, len(inside), len(outside))
	if err != nil {
		return nil, fmt.Errorf("poll latch: %w", err)
	}
	if !latched {
		return &models.PollResult{Success: false, Error: "snapshot already taken"}, nil
	}

	marked, err := s.ledger.CreateFromSnapshot(ctx, inside, slotContextFor(sess, arrivedAt), arrivedAt, models.SourceTeacherArrival)
	if err != nil {
		return nil, fmt.Errorf("poll snapshot attendance: %w", err)
	}

	notified := 0
	for _, st := range outside {
		if !st.Contactable() {
			continue
		}
		if err := s.notifier.NotifyOutsideStudent(ctx, st, sess); err != nil {
			s.countNotification("failed")
			s.logger.Warn("absence notification failed",
				zap.String("student_id", st.ID),
				zap.String("session_id", sess.ID),
				zap.Error(err))
			continue
		}
		s.countNotification("enqueued")
		notified++
	}

	s.logger.Info("arrival snapshot taken",
		zap.String("session_id", sess.ID),
		zap.String("room", sess.Room),
		zap.Int("inside", len(inside)),
		zap.Int("outside", len(outside)),
		zap.Int("marked_present", marked))

	return &models.PollResult{
		Success:        true,
		MarkedPresent:  marked,
		NotifiedAbsent: notified,
		Snapshot: &models.ArrivalSnapshot{
			Timestamp:    arrivedAt,
			InsideCount:  len(inside),
			OutsideCount: len(outside),
		},
	}, nil
}

func (s *PollerService) countNotification(outcome string) {
	if s.metrics != nil {
		s.metrics.Notifications.WithLabelValues(outcome).Inc()
	}
}

func slotContextFor(sess *models.Session, reference time.Time) models.SlotContext {
	ctx := models.SlotContext{
		ClassID:        sess.ClassID,
		Room:           sess.Room,
		TeacherID:      sess.TeacherID,
		SubjectName:    sess.SubjectName,
		OrganizationID: sess.OrganizationID,
		ReferenceTime:  reference,
	}
	// An override session belongs to the teacher who actually arrived.
	if sess.ActualTeacherID != nil && *sess.ActualTeacherID != "" {
		ctx.TeacherID = *sess.ActualTeacherID
	}
	if sess.SlotRef != nil {
		ctx.SlotRef = *sess.SlotRef
	}
	if sess.SubjectCode != nil {
		ctx.SubjectCode = *sess.SubjectCode
	}
	return ctx
}
