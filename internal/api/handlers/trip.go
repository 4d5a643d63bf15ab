package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// startTripRequest POST /api/trip/start 请求体
type startTripRequest struct {
	Destination string `json:"destination" binding:"required"`
	NextStop    string `json:"next_stop"`
}

// updateNextStopRequest PUT /api/trip/next-stop 请求体
type updateNextStopRequest struct {
	Address string `json:"address" binding:"required"`
}

// StartTrip 开始行程
// POST /api/trip/start
func (h *Handler) StartTrip(c *gin.Context) {
	var req startTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "destination is required"})
		return
	}

	result, err := h.engine.StartTrip(c.Request.Context(), req.Destination, req.NextStop)
	if err != nil {
		h.logger.Error("Failed to start trip", zap.Error(err))
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// StopTrip 手动结束行程
// POST /api/trip/stop
func (h *Handler) StopTrip(c *gin.Context) {
	state := h.engine.StopTrip(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"message": "Trip stopped",
		"data":    state,
	})
}

// ResetTrip 丢弃行程状态
// POST /api/trip/reset
func (h *Handler) ResetTrip(c *gin.Context) {
	h.engine.ResetTrip(c.Request.Context())
	if h.posRepo != nil {
		if err := h.posRepo.Clear(c.Request.Context()); err != nil {
			h.logger.Warn("Failed to clear position log", zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "Trip reset"})
}

// UpdateNextStop 设置或变更停靠点
// PUT /api/trip/next-stop
func (h *Handler) UpdateNextStop(c *gin.Context) {
	var req updateNextStopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address is required"})
		return
	}

	state, err := h.engine.UpdateNextStop(c.Request.Context(), req.Address)
	if err != nil {
		h.logger.Error("Failed to update next stop", zap.Error(err), zap.String("address", req.Address))
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": state})
}

// ClearNextStop 移除停靠点
// DELETE /api/trip/next-stop
func (h *Handler) ClearNextStop(c *gin.Context) {
	state := h.engine.ClearNextStop(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"message": "Next stop cleared",
		"data":    state,
	})
}

// GetTripState 当前行程状态
// GET /api/trip/state
func (h *Handler) GetTripState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"phase":       h.engine.Phase(),
			"phase_since": h.engine.PhaseSince(),
			"trip":        h.engine.State(),
		},
	})
}

// GetTripPositions 行程轨迹
// GET /api/trip/positions?since=RFC3339&limit=N
func (h *Handler) GetTripPositions(c *gin.Context) {
	if h.posRepo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Position log not configured"})
		return
	}

	since := time.Time{}
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid since timestamp"})
			return
		}
		since = parsed
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "1000"))

	positions, err := h.posRepo.ListSince(c.Request.Context(), since, limit)
	if err != nil {
		h.logger.Error("Failed to list positions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list positions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": positions})
}
