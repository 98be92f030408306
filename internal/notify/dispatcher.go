package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-gate-api/internal/models"
	"github.com/noah-isme/sma-gate-api/pkg/config"
	"github.com/noah-isme/sma-gate-api/pkg/jobs"
)

const jobTypeAbsenceNotice = "absence_notice"

type sender interface {
	Send(ctx context.Context, msg Message) error
}

// Dispatcher hands notifications to a background queue so the scan and
// poller paths never wait on the messaging gateway.
type Dispatcher struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewDispatcher wires a queue around the sender.
func NewDispatcher(s sender, cfg config.NotifyConfig, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := func(ctx context.Context, job jobs.Job) error {
		raw, ok := job.Payload.([]byte)
		if !ok {
			return fmt.Errorf("job %s: unexpected payload type %T", job.ID, job.Payload)
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return fmt.Errorf("job %s: decode payload: %w", job.ID, err)
		}
		return s.Send(ctx, msg)
	}
	queue := jobs.NewQueue("notifications", handler, jobs.Options{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,
	})
	return &Dispatcher{queue: queue, logger: logger}
}

// Start launches the queue workers.
func (d *Dispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop drains the workers.
func (d *Dispatcher) Stop() {
	d.queue.Stop()
}

// NotifyOutsideStudent enqueues an absence notice for a student who was
// outside the room when the teacher arrived.
func (d *Dispatcher) NotifyOutsideStudent(_ context.Context, student models.User, session *models.Session) error {
	phone := ""
	if student.Phone != nil {
		phone = *student.Phone
	}
	msg := Message{
		RecipientID: student.ID,
		Phone:       phone,
		Kind:        jobTypeAbsenceNotice,
		Title:       "Class has started",
		Body:        fmt.Sprintf("%s started in %s and you have not entered the room.", session.SubjectName, session.Room),
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode absence notice: %w", err)
	}
	return d.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    jobTypeAbsenceNotice,
		Payload: raw,
	})
}
