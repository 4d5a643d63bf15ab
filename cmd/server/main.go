package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tripwatch/internal/api/geocoder"
	"tripwatch/internal/api/handlers"
	"tripwatch/internal/api/osrm"
	"tripwatch/internal/config"
	"tripwatch/internal/metrics"
	"tripwatch/internal/position"
	"tripwatch/internal/repository"
	"tripwatch/internal/service"
	"tripwatch/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting Tripwatch", zap.String("port", cfg.ServerPort))

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接数据库（可选，未配置时不做快照与轨迹持久化）
	var snapRepo *repository.SnapshotRepository
	var posRepo *repository.PositionRepository
	if cfg.DatabaseURL != "" {
		db, err := repository.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Failed to connect database", zap.Error(err))
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
		logger.Info("Database migrated successfully")

		snapRepo = repository.NewSnapshotRepository(db, cfg.SnapshotNamespace)
		posRepo = repository.NewPositionRepository(db, cfg.SnapshotNamespace)
	} else {
		logger.Warn("DATABASE_URL not set, running without persistence")
	}

	// 指标采集
	collector := metrics.NewCollector()

	// 地理编码与路线客户端
	geoClient := geocoder.NewClient(geocoder.Config{
		AmapAPIKey:       cfg.AmapAPIKey,
		AmapBaseURL:      cfg.AmapBaseURL,
		NominatimBaseURL: cfg.NominatimBaseURL,
		MaxAttempts:      cfg.FetchMaxAttempts,
		RetryDelay:       cfg.FetchRetryDelay,
		Cooldown:         cfg.FetchCooldown,
	}, logger)
	routeClient := osrm.NewClient(osrm.Config{
		BaseURL:     cfg.OSRMBaseURL,
		MaxAttempts: cfg.FetchMaxAttempts,
		RetryDelay:  cfg.FetchRetryDelay,
		Cooldown:    cfg.FetchCooldown,
	}, logger)

	// 定位源
	feed := position.NewFeed(position.Config{
		CacheMaxAge: cfg.PositionCacheMaxAge,
		Timeout:     cfg.PositionTimeout,
	}, logger)

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger)
	go wsHub.Run()

	// 创建行程引擎
	var snapStore service.SnapshotStore
	if snapRepo != nil {
		snapStore = snapRepo
	}
	engine := service.NewTripEngine(
		cfg,
		logger,
		geoClient,
		routeClient,
		feed,
		snapStore,
		handlers.NewHubSink(wsHub),
		collector,
	)

	// 新 WebSocket 连接先收到当前行程快照
	wsHub.SetInitDataProvider(func() *ws.InitData {
		return &ws.InitData{
			Phase: engine.Phase(),
			Trip:  engine.State(),
		}
	})

	// 从快照恢复上次未完成的行程
	if err := engine.Restore(ctx); err != nil {
		logger.Warn("Failed to restore trip from snapshot", zap.Error(err))
	}

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(logger, engine, feed, posRepo, wsHub, collector)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// 注册路由
	handler.RegisterRoutes(router)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 落一次快照再退出，重启后可以恢复行程
	if st := engine.State(); st != nil && snapRepo != nil {
		saveCtx, saveCancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := snapRepo.Save(saveCtx, st); err != nil {
			logger.Error("Failed to save final snapshot", zap.Error(err))
		}
		saveCancel()
	}

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
