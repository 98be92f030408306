package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-gate-api/internal/models"
)

// DashboardHub fans events out to dashboard consumers. Delivery is fire
// and forget: a consumer that cannot keep up is dropped, never waited on.
type DashboardHub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*dashboardClient]struct{}
}

type dashboardClient struct {
	conn *websocket.Conn
	send chan models.DashboardEvent
}

// NewDashboardHub constructs the hub.
func NewDashboardHub(logger *zap.Logger) *DashboardHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger,
		clients: map[*dashboardClient]struct{}{},
	}
}

// Broadcast queues one event for every connected consumer.
func (h *DashboardHub) Broadcast(event string, payload interface{}) {
	msg := models.DashboardEvent{Event: event, Payload: payload, Timestamp: time.Now().UTC()}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			// Slow consumer: close and forget.
			delete(h.clients, client)
			close(client.send)
			h.logger.Warn("dropped slow dashboard consumer")
		}
	}
}

// HandleWS upgrades a dashboard connection and streams events until the
// peer goes away.
func (h *DashboardHub) HandleWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("dashboard upgrade failed", zap.Error(err))
		return
	}

	client := &dashboardClient{conn: conn, send: make(chan models.DashboardEvent, 32)}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(client)
	h.readLoop(client)
}

func (h *DashboardHub) writeLoop(client *dashboardClient) {
	defer client.conn.Close()
	for msg := range client.send {
		if err := client.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (h *DashboardHub) readLoop(client *dashboardClient) {
	defer h.remove(client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *DashboardHub) remove(client *dashboardClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	client.conn.Close()
}

// Close disconnects every consumer, used on shutdown.
func (h *DashboardHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
		client.conn.Close()
	}
}
