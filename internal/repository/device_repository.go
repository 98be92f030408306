package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-gate-api/internal/models"
)

// DeviceRepository persists the reader registry and the raw scan log.
type DeviceRepository struct {
	db *sqlx.DB
}

// NewDeviceRepository constructs the repository.
func NewDeviceRepository(db *sqlx.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// GetByID fetches one registered device. Returns sql.ErrNoRows for unknown ids.
func (r *DeviceRepository) GetByID(ctx context.Context, id string) (*models.Device, error) {
	query := "SELECT id, room, placement, organization_id, online, last_seen_at, created_at, updated_at FROM devices WHERE id = $1"
	var device models.Device
	if err := r.db.GetContext(ctx, &device, query, id); err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return &device, nil
}

// SetOnline flips a device's connectivity flag and stamps last_seen_at.
func (r *DeviceRepository) SetOnline(ctx context.Context, id string, online bool, at time.Time) error {
	query := "UPDATE devices SET online = $2, last_seen_at = $3, updated_at = $3 WHERE id = $1"
	if _, err := r.db.ExecContext(ctx, query, id, online, at.UTC()); err != nil {
		return fmt.Errorf("set device online: %w", err)
	}
	return nil
}

// AppendScanLog records one raw hardware event. Callers swallow errors so a
// broken log store never blocks the scan response.
func (r *DeviceRepository) AppendScanLog(ctx context.Context, log *models.ScanLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	query := "INSERT INTO device_scan_logs (id, device_id, rfid_tag, room, timestamp) VALUES ($1, $2, $3, $4, $5)"
	if _, err := r.db.ExecContext(ctx, query, log.ID, log.DeviceID, log.RFIDTag, log.Room, log.Timestamp.UTC()); err != nil {
		return fmt.Errorf("append scan log: %w", err)
	}
	return nil
}
