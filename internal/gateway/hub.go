package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-gate-api/internal/models"
	"github.com/noah-isme/sma-gate-api/internal/service"
	"github.com/noah-isme/sma-gate-api/pkg/config"
)

type deviceRegistry interface {
	GetByID(ctx context.Context, id string) (*models.Device, error)
	SetOnline(ctx context.Context, id string, online bool, at time.Time) error
}

type deviceHeartbeat interface {
	MarkDeviceOnline(ctx context.Context, deviceID string, ttl time.Duration) error
	MarkDeviceOffline(ctx context.Context, deviceID string) error
}

// DeviceHub owns the reader connections: one websocket per device, bound
// by an authenticate handshake before any scan is accepted.
type DeviceHub struct {
	cfg       config.GateConfig
	router    *Router
	devices   deviceRegistry
	heartbeat deviceHeartbeat
	bus       broadcaster
	metrics   *service.Metrics
	upgrader  websocket.Upgrader
	logger    *zap.Logger

	mu    sync.Mutex
	conns map[string]*deviceConn
}

type deviceConn struct {
	device *models.Device
	conn   *websocket.Conn
	mu     sync.Mutex
}

func (d *deviceConn) writeJSON(v interface{}) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn.WriteJSON(v)
}

// NewDeviceHub constructs the hub.
func NewDeviceHub(cfg config.GateConfig, router *Router, devices deviceRegistry, heartbeat deviceHeartbeat, bus broadcaster, metrics *service.Metrics, logger *zap.Logger) *DeviceHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeviceHub{
		cfg:       cfg,
		router:    router,
		devices:   devices,
		heartbeat: heartbeat,
		bus:       bus,
		metrics:   metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
		conns:  map[string]*deviceConn{},
	}
}

// HandleWS upgrades a reader connection. The first frame must be an
// authenticate message naming a registered device; everything after that
// is scans.
func (h *DeviceHub) HandleWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("device upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	dc, ok := h.handshake(c.Request.Context(), conn)
	if !ok {
		return
	}
	defer h.disconnect(dc)

	h.readLoop(c.Request.Context(), dc)
}

func (h *DeviceHub) handshake(ctx context.Context, conn *websocket.Conn) (*deviceConn, bool) {
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var msg models.DeviceMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return nil, false
	}
	conn.SetReadDeadline(time.Time{})

	if msg.Type != models.MsgAuthenticate || msg.DeviceID == "" {
		conn.WriteJSON(models.AuthResult{Type: models.MsgAuthenticated, Success: false, Message: "authenticate first"})
		return nil, false
	}

	device, err := h.devices.GetByID(ctx, msg.DeviceID)
	if err != nil {
		h.logger.Warn("handshake from unregistered device", zap.String("device_id", msg.DeviceID))
		conn.WriteJSON(models.AuthResult{Type: models.MsgAuthenticated, Success: false, Message: "unknown device"})
		return nil, false
	}

	dc := &deviceConn{device: device, conn: conn}
	h.register(ctx, dc)

	if err := dc.writeJSON(models.AuthResult{Type: models.MsgAuthenticated, Success: true}); err != nil {
		h.disconnect(dc)
		return nil, false
	}
	return dc, true
}

func (h *DeviceHub) readLoop(ctx context.Context, dc *deviceConn) {
	for {
		var msg models.DeviceMessage
		if err := dc.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case models.MsgRFIDScan:
			if msg.RFIDTag == "" {
				dc.writeJSON(reject("missing tag", models.BeepLong))
				continue
			}
			h.touch(ctx, dc.device.ID)
			result := h.router.HandleScan(ctx, dc.device.ID, msg.RFIDTag, time.Now())
			if err := dc.writeJSON(result); err != nil {
				return
			}
		case models.MsgAuthenticate:
			dc.writeJSON(models.AuthResult{Type: models.MsgAuthenticated, Success: true})
		default:
			h.logger.Debug("unknown device frame",
				zap.String("device_id", dc.device.ID),
				zap.String("type", msg.Type))
		}
	}
}

func (h *DeviceHub) register(ctx context.Context, dc *deviceConn) {
	h.mu.Lock()
	if old, ok := h.conns[dc.device.ID]; ok {
		old.conn.Close()
	}
	h.conns[dc.device.ID] = dc
	online := len(h.conns)
	h.mu.Unlock()

	if err := h.devices.SetOnline(ctx, dc.device.ID, true, time.Now()); err != nil {
		h.logger.Warn("device online update failed", zap.String("device_id", dc.device.ID), zap.Error(err))
	}
	h.touch(ctx, dc.device.ID)
	if h.metrics != nil {
		h.metrics.OnlineDevices.Set(float64(online))
	}
	if h.bus != nil {
		h.bus.Broadcast(models.EventDeviceActivity, map[string]interface{}{
			"device_id": dc.device.ID,
			"room":      dc.device.Room,
			"online":    true,
		})
	}
	h.logger.Info("device connected",
		zap.String("device_id", dc.device.ID),
		zap.String("room", dc.device.Room),
		zap.String("placement", string(dc.device.Placement)))
}

func (h *DeviceHub) disconnect(dc *deviceConn) {
	h.mu.Lock()
	if current, ok := h.conns[dc.device.ID]; !ok || current != dc {
		h.mu.Unlock()
		return
	}
	delete(h.conns, dc.device.ID)
	online := len(h.conns)
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.devices.SetOnline(ctx, dc.device.ID, false, time.Now()); err != nil {
		h.logger.Warn("device offline update failed", zap.String("device_id", dc.device.ID), zap.Error(err))
	}
	if err := h.heartbeat.MarkDeviceOffline(ctx, dc.device.ID); err != nil {
		h.logger.Warn("device heartbeat clear failed", zap.String("device_id", dc.device.ID), zap.Error(err))
	}
	if h.metrics != nil {
		h.metrics.OnlineDevices.Set(float64(online))
	}
	if h.bus != nil {
		h.bus.Broadcast(models.EventDeviceActivity, map[string]interface{}{
			"device_id": dc.device.ID,
			"room":      dc.device.Room,
			"online":    false,
		})
	}
	h.logger.Info("device disconnected", zap.String("device_id", dc.device.ID))
}

func (h *DeviceHub) touch(ctx context.Context, deviceID string) {
	if err := h.heartbeat.MarkDeviceOnline(ctx, deviceID, h.cfg.DeviceOnlineTTL); err != nil {
		h.logger.Warn("device heartbeat failed", zap.String("device_id", deviceID), zap.Error(err))
	}
}

// BuzzRoom plays an audible alert on every reader in a room, used for the
// end-of-break warning.
func (h *DeviceHub) BuzzRoom(room string, duration int, message string) {
	alert := models.BuzzerAlert{Type: models.MsgBuzzerAlert, Duration: duration, Message: message}

	room = canonicalRoom(h.cfg, room)
	h.mu.Lock()
	targets := make([]*deviceConn, 0, 2)
	for _, dc := range h.conns {
		if canonicalRoom(h.cfg, dc.device.Room) == room {
			targets = append(targets, dc)
		}
	}
	h.mu.Unlock()

	for _, dc := range targets {
		if err := dc.writeJSON(alert); err != nil {
			h.logger.Warn("buzzer alert failed", zap.String("device_id", dc.device.ID), zap.Error(err))
		}
	}
}

// Close drops every device connection, used on shutdown.
func (h *DeviceHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, dc := range h.conns {
		dc.conn.Close()
		delete(h.conns, id)
	}
}
