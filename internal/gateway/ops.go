package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-gate-api/internal/models"
	appErrors "github.com/noah-isme/sma-gate-api/pkg/errors"
	"github.com/noah-isme/sma-gate-api/pkg/response"
)

type opsMode interface {
	Current() models.SystemMode
	History() []models.ModeTransition
	Force(ctx context.Context, mode models.SystemMode, reason, triggeredBy string)
}

type opsSlotReader interface {
	SlotState(room string) *models.ActiveSlot
}

type opsSessionReader interface {
	CheckRoomAvailability(ctx context.Context, room string, now time.Time) (*models.RoomAvailability, error)
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ReVerifiedStudents(ctx context.Context, sessionID string) ([]string, error)
}

// OpsHandler is the read-mostly HTTP surface for dashboards and operators.
// It never routes scans; those only enter through the device hub.
type OpsHandler struct {
	mode     opsMode
	slots    opsSlotReader
	sessions opsSessionReader
}

// NewOpsHandler constructs the handler.
func NewOpsHandler(mode opsMode, slots opsSlotReader, sessions opsSessionReader) *OpsHandler {
	return &OpsHandler{mode: mode, slots: slots, sessions: sessions}
}

// Register mounts the routes on a router group.
func (h *OpsHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/mode", h.getMode)
	rg.POST("/mode", h.forceMode)
	rg.GET("/rooms/:room/slot", h.getSlot)
	rg.GET("/rooms/:room/availability", h.getAvailability)
	rg.GET("/sessions/:id", h.getSession)
	rg.GET("/sessions/:id/re-verified", h.getReVerified)
}

func (h *OpsHandler) getMode(c *gin.Context) {
	response.OK(c, gin.H{
		"mode":    h.mode.Current(),
		"history": h.mode.History(),
	})
}

type forceModeRequest struct {
	Mode        models.SystemMode `json:"mode" binding:"required"`
	Reason      string            `json:"reason" binding:"required"`
	TriggeredBy string            `json:"triggered_by" binding:"required"`
}

func (h *OpsHandler) forceMode(c *gin.Context) {
	var req forceModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.ErrValidation)
		return
	}
	if !req.Mode.Valid() {
		response.Error(c, appErrors.ErrValidation)
		return
	}
	h.mode.Force(c.Request.Context(), req.Mode, req.Reason, req.TriggeredBy)
	response.OK(c, gin.H{"mode": h.mode.Current()})
}

func (h *OpsHandler) getSlot(c *gin.Context) {
	slot := h.slots.SlotState(c.Param("room"))
	if slot == nil {
		response.JSON(c, http.StatusOK, gin.H{"room": c.Param("room"), "slot": nil})
		return
	}
	response.OK(c, slot)
}

func (h *OpsHandler) getAvailability(c *gin.Context) {
	availability, err := h.sessions.CheckRoomAvailability(c.Request.Context(), c.Param("room"), time.Now())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, availability)
}

func (h *OpsHandler) getSession(c *gin.Context) {
	sess, err := h.sessions.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, appErrors.ErrNotFound)
		return
	}
	response.OK(c, sess)
}

func (h *OpsHandler) getReVerified(c *gin.Context) {
	students, err := h.sessions.ReVerifiedStudents(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, appErrors.ErrNotFound)
		return
	}
	response.OK(c, gin.H{"re_verified_students": students})
}
