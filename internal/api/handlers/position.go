package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tripwatch/internal/models"
	"tripwatch/internal/position"
)

// ingestPositionRequest POST /api/position 请求体
// 浏览器侧定位回调原样上报
type ingestPositionRequest struct {
	Lat       float64    `json:"lat"`
	Lng       float64    `json:"lng"`
	AccuracyM float64    `json:"accuracy_m"`
	Timestamp *time.Time `json:"timestamp"`
}

// ingestPositionErrorRequest POST /api/position/error 请求体
type ingestPositionErrorRequest struct {
	Kind string `json:"kind" binding:"required"`
}

// IngestPosition 接收一次定位
// POST /api/position
func (h *Handler) IngestPosition(c *gin.Context) {
	var req ingestPositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid position payload"})
		return
	}

	coord := models.Coordinate{Lat: req.Lat, Lng: req.Lng}
	if !coord.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Coordinates out of range"})
		return
	}

	ts := time.Now()
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}
	fix := models.PositionFix{
		Coordinate: coord,
		AccuracyM:  req.AccuracyM,
		Timestamp:  ts,
	}

	h.feed.Publish(fix)

	// 轨迹入库失败不影响定位处理
	if h.posRepo != nil {
		if err := h.posRepo.Append(c.Request.Context(), &fix); err != nil {
			h.logger.Warn("Failed to append position log", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"message": "Position accepted"})
}

// IngestPositionError 接收一次定位失败
// POST /api/position/error
func (h *Handler) IngestPositionError(c *gin.Context) {
	var req ingestPositionErrorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind is required"})
		return
	}

	switch req.Kind {
	case position.FailKindPermissionDenied, position.FailKindUnavailable, position.FailKindTimeout:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown error kind"})
		return
	}

	h.feed.Fail(req.Kind)
	c.JSON(http.StatusOK, gin.H{"message": "Position error recorded"})
}
