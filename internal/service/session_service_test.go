package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-gate-api/internal/models"
	"github.com/noah-isme/sma-gate-api/pkg/config"
)

type mockSessionRepo struct {
	sessions  map[string]*models.Session
	nextID    int
	closed    int64
	cancelled int64
	cutoff    time.Time
}

func (m *mockSessionRepo) liveFor(room, slotRef string) *models.Session {
	for _, s := range m.sessions {
		if s.Room == room && !s.Status.Terminal() && s.SlotRef != nil && *s.SlotRef == slotRef {
			return s
		}
	}
	return nil
}

func (m *mockSessionRepo) InsertIfAbsent(ctx context.Context, s *models.Session) (bool, error) {
	if m.sessions == nil {
		m.sessions = map[string]*models.Session{}
	}
	slotRef := ""
	if s.SlotRef != nil {
		slotRef = *s.SlotRef
	}
	if m.liveFor(s.Room, slotRef) != nil {
		return false, nil
	}
	m.nextID++
	if s.ID == "" {
		s.ID = string(rune('a' + m.nextID))
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return true, nil
}

func (m *mockSessionRepo) GetByID(ctx context.Context, id string) (*models.Session, error) {
	if s, ok := m.sessions[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSessionRepo) FindLive(ctx context.Context, room, slotRef string, day time.Time) (*models.Session, error) {
	if s := m.liveFor(room, slotRef); s != nil {
		cp := *s
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSessionRepo) FindLiveByRoom(ctx context.Context, room string) (*models.Session, error) {
	for _, s := range m.sessions {
		if s.Room == room && !s.Status.Terminal() {
			cp := *s
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockSessionRepo) ListNonTerminal(ctx context.Context) ([]models.Session, error) {
	var out []models.Session
	for _, s := range m.sessions {
		if !s.Status.Terminal() {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *mockSessionRepo) TeacherCheckIn(ctx context.Context, sessionID, teacherID string, at time.Time) (*models.Session, error) {
	s, ok := m.sessions[sessionID]
	if !ok || s.Status != models.SessionWaitingForTeacher {
		return nil, sql.ErrNoRows
	}
	s.Status = models.SessionActive
	s.TeacherArrivedAt = &at
	s.ActualTeacherID = &teacherID
	s.IsOverridden = s.TeacherID != teacherID
	cp := *s
	return &cp, nil
}

func (m *mockSessionRepo) UpdateStatus(ctx context.Context, id string, status models.SessionStatus, at time.Time) error {
	if s, ok := m.sessions[id]; ok {
		s.Status = status
	}
	return nil
}

func (m *mockSessionRepo) CloseExpired(ctx context.Context, now time.Time) (int64, error) {
	return m.closed, nil
}

func (m *mockSessionRepo) CancelAbandoned(ctx context.Context, cutoff, now time.Time) (int64, error) {
	m.cutoff = cutoff
	return m.cancelled, nil
}

func (m *mockSessionRepo) AddReVerified(ctx context.Context, sessionID, studentID string) (bool, error) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return false, sql.ErrNoRows
	}
	for _, id := range s.ReVerifiedStudents {
		if id == studentID {
			return false, nil
		}
	}
	s.ReVerifiedStudents = append(s.ReVerifiedStudents, studentID)
	return true, nil
}

func (m *mockSessionRepo) ReVerified(ctx context.Context, sessionID string) ([]string, error) {
	if s, ok := m.sessions[sessionID]; ok {
		return s.ReVerifiedStudents, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSessionRepo) SetPollerTriggered(ctx context.Context, sessionID string, at time.Time, inside, outside int) (bool, error) {
	s, ok := m.sessions[sessionID]
	if !ok || s.PollerTriggered {
		return false, nil
	}
	s.PollerTriggered = true
	s.SnapshotAt = &at
	s.SnapshotInside = &inside
	s.SnapshotOutside = &outside
	return true, nil
}

func waitingSession(id, room, slotRef string, start time.Time) *models.Session {
	ref := slotRef
	return &models.Session{
		ID:        id,
		SlotRef:   &ref,
		Room:      room,
		TeacherID: "t1",
		StartTime: start,
		EndTime:   start.Add(45 * time.Minute),
		Status:    models.SessionWaitingForTeacher,
	}
}

func TestCreateSessionReusesLiveRow(t *testing.T) {
	repo := &mockSessionRepo{}
	svc := NewSessionService(repo, config.GateConfig{}, nil, zap.NewNop())
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	first, created, err := svc.CreateSession(context.Background(), waitingSession("", "R101", "slot-1", start))
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := svc.CreateSession(context.Background(), waitingSession("", "R101", "slot-1", start))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, repo.sessions, 1)
}

func TestRoomAvailabilityLazyClose(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	sess := waitingSession("sess-1", "R101", "slot-1", start)
	sess.Status = models.SessionActive
	sess.SubjectName = "Math"
	repo := &mockSessionRepo{sessions: map[string]*models.Session{"sess-1": sess}}
	svc := NewSessionService(repo, config.GateConfig{}, nil, zap.NewNop())

	// Mid-session the room is occupied.
	availability, err := svc.CheckRoomAvailability(context.Background(), "R101", start.Add(20*time.Minute))
	require.NoError(t, err)
	assert.False(t, availability.Available)
	assert.Equal(t, "Math", availability.OccupiedBy)

	// Past the end time the stale session is closed on the spot.
	availability, err = svc.CheckRoomAvailability(context.Background(), "R101", start.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, availability.Available)
	assert.Equal(t, models.SessionClosed, repo.sessions["sess-1"].Status)
}

func TestTeacherCheckInAtMostOnce(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	repo := &mockSessionRepo{sessions: map[string]*models.Session{
		"sess-1": waitingSession("sess-1", "R101", "slot-1", start),
	}}
	svc := NewSessionService(repo, config.GateConfig{}, nil, zap.NewNop())

	first, err := svc.TeacherCheckIn(context.Background(), "sess-1", "t1", start.Add(3*time.Minute))
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.False(t, first.IsOverride)

	second, err := svc.TeacherCheckIn(context.Background(), "sess-1", "t2", start.Add(4*time.Minute))
	require.NoError(t, err)
	assert.False(t, second.Success)
}

func TestTeacherCheckInOverrideAttribution(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	repo := &mockSessionRepo{sessions: map[string]*models.Session{
		"sess-1": waitingSession("sess-1", "R101", "slot-1", start),
	}}
	svc := NewSessionService(repo, config.GateConfig{}, nil, zap.NewNop())

	res, err := svc.TeacherCheckIn(context.Background(), "sess-1", "t2", start.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.IsOverride)
	require.NotNil(t, res.Session.ActualTeacherID)
	assert.Equal(t, "t2", *res.Session.ActualTeacherID)
}

func TestCancelAbandonedUsesGraceCutoff(t *testing.T) {
	repo := &mockSessionRepo{cancelled: 2}
	svc := NewSessionService(repo, config.GateConfig{TeacherGrace: 15 * time.Minute}, nil, zap.NewNop())
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	n, err := svc.CancelAbandonedSessions(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, now.Add(-15*time.Minute), repo.cutoff)
}

func TestMarkStudentReVerifiedOnce(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	repo := &mockSessionRepo{sessions: map[string]*models.Session{
		"sess-1": waitingSession("sess-1", "R101", "break-1", start),
	}}
	svc := NewSessionService(repo, config.GateConfig{}, nil, zap.NewNop())

	added, err := svc.MarkStudentReVerified(context.Background(), "sess-1", "s1")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = svc.MarkStudentReVerified(context.Background(), "sess-1", "s1")
	require.NoError(t, err)
	assert.False(t, added)

	students, err := svc.ReVerifiedStudents(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, students)
}

func TestMarkPollerTriggeredOneShot(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	repo := &mockSessionRepo{sessions: map[string]*models.Session{
		"sess-1": waitingSession("sess-1", "R101", "slot-1", start),
	}}
	svc := NewSessionService(repo, config.GateConfig{}, nil, zap.NewNop())

	ok, err := svc.MarkPollerTriggered(context.Background(), "sess-1", start.Add(3*time.Minute), 18, 12)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.MarkPollerTriggered(context.Background(), "sess-1", start.Add(4*time.Minute), 19, 11)
	require.NoError(t, err)
	assert.False(t, ok)

	sess := repo.sessions["sess-1"]
	require.NotNil(t, sess.SnapshotInside)
	assert.Equal(t, 18, *sess.SnapshotInside)
}
