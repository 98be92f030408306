package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-gate-api/internal/models"
)

type mockRoster struct {
	students []models.User
}

func (m *mockRoster) StudentsByClass(ctx context.Context, classID string) ([]models.User, error) {
	return m.students, nil
}

type mockSnapshotLedger struct {
	presence map[string]models.RoomPresence
	marked   []string
	source   models.AttendanceSource
	slotCtx  models.SlotContext
}

func (m *mockSnapshotLedger) CreateFromSnapshot(ctx context.Context, students []models.User, slotCtx models.SlotContext, ts time.Time, source models.AttendanceSource) (int, error) {
	m.source = source
	m.slotCtx = slotCtx
	for _, st := range students {
		m.marked = append(m.marked, st.ID)
	}
	return len(students), nil
}

func (m *mockSnapshotLedger) PresenceForStudents(ctx context.Context, room string, studentIDs []string) (map[string]models.RoomPresence, error) {
	return m.presence, nil
}

type mockPollLatch struct {
	triggered bool
	inside    int
	outside   int
}

func (m *mockPollLatch) MarkPollerTriggered(ctx context.Context, sessionID string, at time.Time, inside, outside int) (bool, error) {
	if m.triggered {
		return false, nil
	}
	m.triggered = true
	m.inside = inside
	m.outside = outside
	return true, nil
}

type mockNotifier struct {
	notified []string
	failFor  map[string]bool
}

func (m *mockNotifier) NotifyOutsideStudent(ctx context.Context, student models.User, session *models.Session) error {
	if m.failFor[student.ID] {
		return errors.New("gateway down")
	}
	m.notified = append(m.notified, student.ID)
	return nil
}

func pollTestSession() *models.Session {
	slotRef := "slot-1"
	return &models.Session{
		ID:          "sess-1",
		SlotRef:     &slotRef,
		ClassID:     "c1",
		Room:        "R101",
		TeacherID:   "t1",
		SubjectName: "Math",
		Status:      models.SessionActive,
	}
}

func rosterOf(n int) []models.User {
	phone := "0800"
	out := make([]models.User, 0, n)
	for i := 0; i < n; i++ {
		id := "s" + string(rune('A'+i))
		out = append(out, models.User{ID: id, FullName: id, Role: models.RoleStudent, Phone: &phone})
	}
	return out
}

func TestTriggerPollPartitionsRoom(t *testing.T) {
	students := rosterOf(30)
	presence := map[string]models.RoomPresence{}
	for i, st := range students {
		if i < 18 {
			presence[st.ID] = models.PresenceIn
		} else if i < 24 {
			presence[st.ID] = models.PresenceOut
		}
		// The rest have no row at all and count as outside.
	}

	ledger := &mockSnapshotLedger{presence: presence}
	latch := &mockPollLatch{}
	notifier := &mockNotifier{}
	svc := NewPollerService(&mockRoster{students: students}, ledger, latch, notifier, nil, zap.NewNop())

	arrived := time.Date(2026, 3, 2, 9, 3, 0, 0, time.UTC)
	res, err := svc.TriggerPoll(context.Background(), pollTestSession(), arrived)
	require.NoError(t, err)
	require.True(t, res.Success)

	assert.Equal(t, 18, res.MarkedPresent)
	assert.Equal(t, 12, res.NotifiedAbsent)
	assert.Equal(t, models.SourceTeacherArrival, ledger.source)
	assert.Len(t, ledger.marked, 18)
	assert.Len(t, notifier.notified, 12)
	require.NotNil(t, res.Snapshot)
	assert.Equal(t, 18, res.Snapshot.InsideCount)
	assert.Equal(t, 12, res.Snapshot.OutsideCount)
	assert.Equal(t, 18, latch.inside)
	assert.Equal(t, 12, latch.outside)
}

func TestTriggerPollAttributesOverrideTeacher(t *testing.T) {
	students := rosterOf(2)
	ledger := &mockSnapshotLedger{presence: map[string]models.RoomPresence{
		students[0].ID: models.PresenceIn,
	}}
	svc := NewPollerService(&mockRoster{students: students}, ledger, &mockPollLatch{}, &mockNotifier{}, nil, zap.NewNop())

	substitute := "t2"
	sess := pollTestSession()
	sess.ActualTeacherID = &substitute
	sess.IsOverridden = true

	res, err := svc.TriggerPoll(context.Background(), sess, time.Now())
	require.NoError(t, err)
	require.True(t, res.Success)

	// Snapshot records belong to the teacher who actually arrived, not the
	// one on the timetable.
	assert.Equal(t, "t2", ledger.slotCtx.TeacherID)
}

func TestTriggerPollSkipsUncontactable(t *testing.T) {
	phone := "0800"
	students := []models.User{
		{ID: "s1", Role: models.RoleStudent, Phone: &phone},
		{ID: "s2", Role: models.RoleStudent}, // no phone
	}
	ledger := &mockSnapshotLedger{presence: map[string]models.RoomPresence{}}
	notifier := &mockNotifier{}
	svc := NewPollerService(&mockRoster{students: students}, ledger, &mockPollLatch{}, notifier, nil, zap.NewNop())

	res, err := svc.TriggerPoll(context.Background(), pollTestSession(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, res.MarkedPresent)
	assert.Equal(t, 1, res.NotifiedAbsent)
	assert.Equal(t, []string{"s1"}, notifier.notified)
}

func TestTriggerPollOneShot(t *testing.T) {
	students := rosterOf(3)
	ledger := &mockSnapshotLedger{presence: map[string]models.RoomPresence{
		students[0].ID: models.PresenceIn,
	}}
	latch := &mockPollLatch{}
	svc := NewPollerService(&mockRoster{students: students}, ledger, latch, &mockNotifier{}, nil, zap.NewNop())

	first, err := svc.TriggerPoll(context.Background(), pollTestSession(), time.Now())
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := svc.TriggerPoll(context.Background(), pollTestSession(), time.Now())
	require.NoError(t, err)
	assert.False(t, second.Success)
	// Attendance was written exactly once.
	assert.Len(t, ledger.marked, 1)
}

func TestTriggerPollNotificationFailureDoesNotBlock(t *testing.T) {
	students := rosterOf(2)
	ledger := &mockSnapshotLedger{presence: map[string]models.RoomPresence{}}
	notifier := &mockNotifier{failFor: map[string]bool{students[0].ID: true}}
	svc := NewPollerService(&mockRoster{students: students}, ledger, &mockPollLatch{}, notifier, nil, zap.NewNop())

	res, err := svc.TriggerPoll(context.Background(), pollTestSession(), time.Now())
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, 1, res.NotifiedAbsent)
}
