package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	ServerPort string
	Debug      bool

	// Database
	DatabaseURL string
	// SnapshotNamespace 快照存储命名空间
	SnapshotNamespace string

	// 地理编码
	AmapAPIKey       string
	AmapBaseURL      string
	NominatimBaseURL string

	// 路线估算
	OSRMBaseURL string

	// 重试与冷却（地理编码和路线客户端共用同一套参数）
	FetchMaxAttempts int
	FetchRetryDelay  time.Duration
	FetchCooldown    time.Duration

	// 定位源
	PositionCacheMaxAge time.Duration
	PositionTimeout     time.Duration

	// 行程引擎
	ArrivalThresholdKm   float64
	MinMovementMeters    float64
	MaxSpeedKmh          float64
	SpeedHistorySize     int
	MinSamplesForProgress int
	SnapshotInterval     time.Duration
	RouteRefreshInterval time.Duration
}

func Load() (*Config, error) {
	// 尝试加载 .env 文件（可选）
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:        getEnv("PORT", "4000"),
		Debug:             getEnvBool("DEBUG", false),
		// 留空表示不启用持久化（无快照恢复、无轨迹查询）
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		SnapshotNamespace: getEnv("SNAPSHOT_NAMESPACE", "tripwatch"),

		AmapAPIKey:       getEnv("AMAP_API_KEY", ""),
		AmapBaseURL:      getEnv("AMAP_BASE_URL", "https://restapi.amap.com"),
		NominatimBaseURL: getEnv("NOMINATIM_BASE_URL", "https://nominatim.openstreetmap.org"),

		OSRMBaseURL: getEnv("OSRM_BASE_URL", "https://router.project-osrm.org"),

		FetchMaxAttempts: getEnvInt("FETCH_MAX_ATTEMPTS", 3),
		FetchRetryDelay:  getEnvDuration("FETCH_RETRY_DELAY", time.Second),
		FetchCooldown:    getEnvDuration("FETCH_COOLDOWN", 30*time.Second),

		PositionCacheMaxAge: getEnvDuration("POSITION_CACHE_MAX_AGE", 30*time.Second),
		PositionTimeout:     getEnvDuration("POSITION_TIMEOUT", 15*time.Second),

		ArrivalThresholdKm:    getEnvFloat("ARRIVAL_THRESHOLD_KM", 0.05),
		MinMovementMeters:     getEnvFloat("MIN_MOVEMENT_METERS", 1.0),
		MaxSpeedKmh:           getEnvFloat("MAX_SPEED_KMH", 200.0),
		SpeedHistorySize:      getEnvInt("SPEED_HISTORY_SIZE", 10),
		MinSamplesForProgress: getEnvInt("MIN_SAMPLES_FOR_PROGRESS", 2),
		SnapshotInterval:      getEnvDuration("SNAPSHOT_INTERVAL", 15*time.Second),
		RouteRefreshInterval:  getEnvDuration("ROUTE_REFRESH_INTERVAL", 2*time.Minute),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		n, err := strconv.Atoi(value)
		if err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
