package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tripwatch/internal/api/geocoder"
	"tripwatch/internal/api/osrm"
	"tripwatch/internal/fetch"
	"tripwatch/internal/metrics"
	"tripwatch/internal/position"
	"tripwatch/internal/repository"
	"tripwatch/internal/service"
	"tripwatch/pkg/ws"
)

// Handler HTTP 处理器
type Handler struct {
	logger   *zap.Logger
	engine   *service.TripEngine
	feed     *position.Feed
	posRepo  *repository.PositionRepository
	wsHub    *ws.Hub
	metrics  *metrics.Collector
	upgrader websocket.Upgrader
}

// NewHandler 创建处理器
// posRepo 可为 nil（未配置数据库时轨迹查询不可用）
func NewHandler(
	logger *zap.Logger,
	engine *service.TripEngine,
	feed *position.Feed,
	posRepo *repository.PositionRepository,
	wsHub *ws.Hub,
	metricsCollector *metrics.Collector,
) *Handler {
	return &Handler{
		logger:  logger,
		engine:  engine,
		feed:    feed,
		posRepo: posRepo,
		wsHub:   wsHub,
		metrics: metricsCollector,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// API 路由
	api := r.Group("/api")
	{
		// 行程命令
		api.POST("/trip/start", h.StartTrip)
		api.POST("/trip/stop", h.StopTrip)
		api.POST("/trip/reset", h.ResetTrip)
		api.PUT("/trip/next-stop", h.UpdateNextStop)
		api.DELETE("/trip/next-stop", h.ClearNextStop)

		// 行程查询
		api.GET("/trip/state", h.GetTripState)
		api.GET("/trip/positions", h.GetTripPositions)

		// 定位上报
		api.POST("/position", h.IngestPosition)
		api.POST("/position/error", h.IngestPositionError)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查与指标
	r.GET("/health", h.HealthCheck)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}
}

// statusForError 引擎错误到 HTTP 状态码的映射
func statusForError(err error) int {
	switch {
	case errors.Is(err, service.ErrAlreadyActive),
		errors.Is(err, service.ErrOperationInProgress):
		return http.StatusConflict
	case errors.Is(err, service.ErrNoActiveTrip),
		errors.Is(err, geocoder.ErrAddressNotFound):
		return http.StatusNotFound
	case errors.Is(err, geocoder.ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, position.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, position.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, position.ErrUnavailable),
		errors.Is(err, fetch.ErrTemporarilyUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, osrm.ErrRouteUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// HandleWebSocket WebSocket 处理
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	client.Register()

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"phase":      h.engine.Phase(),
		"ws_clients": h.wsHub.ClientCount(),
	})
}
