package osrm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"tripwatch/internal/fetch"
	"tripwatch/internal/geo"
	"tripwatch/internal/models"
)

// ErrRouteUnavailable 路线后端不可用或无可行路线
// 客户端只负责传播错误，降级（直线估算）由调用方决定
var ErrRouteUnavailable = errors.New("route unavailable")

// 道路类型速度阈值（km/h）
const (
	speedHighwayKmh   = 100
	speedPrimaryKmh   = 80
	speedSecondaryKmh = 50
)

// Config 路线估算客户端配置
type Config struct {
	BaseURL     string
	HTTPTimeout time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
	Cooldown    time.Duration
}

// Client OSRM 路线估算客户端
type Client struct {
	cfg        Config
	httpClient *http.Client
	fetcher    *fetch.Fetcher
	logger     *zap.Logger
}

// NewClient 创建路线估算客户端
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://router.project-osrm.org"
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		fetcher:    fetch.New(logger, cfg.MaxAttempts, cfg.RetryDelay, cfg.Cooldown),
		logger:     logger,
	}
}

// osrmResponse OSRM /route 响应
type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Distance float64 `json:"distance"` // 米
		Duration float64 `json:"duration"` // 秒
		Legs     []struct {
			Annotation struct {
				Speed []float64 `json:"speed"` // m/s
			} `json:"annotation"`
		} `json:"legs"`
	} `json:"routes"`
}

// Estimate 估算 origin→dest 的路线距离、时长和道路类型直方图
func (c *Client) Estimate(ctx context.Context, origin, dest models.Coordinate) (*models.RouteEstimate, error) {
	var estimate *models.RouteEstimate

	err := c.fetcher.Do(ctx, "route", func(ctx context.Context) error {
		e, err := c.fetchRoute(ctx, origin, dest)
		if err != nil {
			return err
		}
		estimate = e
		return nil
	})
	if err != nil {
		if errors.Is(err, fetch.ErrTemporarilyUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrRouteUnavailable, err)
	}

	c.logger.Debug("Estimated route",
		zap.Float64("distance_km", estimate.DistanceKm),
		zap.Float64p("duration_min", estimate.DurationMin),
		zap.Float64("average_speed_kmh", estimate.AverageSpeedKmh))

	return estimate, nil
}

func (c *Client) fetchRoute(ctx context.Context, origin, dest models.Coordinate) (*models.RouteEstimate, error) {
	// OSRM 要求经度在前，纬度在后
	apiURL := fmt.Sprintf(
		"%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=false&annotations=speed",
		c.cfg.BaseURL,
		origin.Lng, origin.Lat,
		dest.Lng, dest.Lat,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("osrm returned status %d", resp.StatusCode)
	}

	var result osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if result.Code != "Ok" || len(result.Routes) == 0 {
		return nil, fmt.Errorf("osrm no route: %s", result.Code)
	}

	route := result.Routes[0]
	distanceKm := route.Distance / 1000.0
	durationMin := route.Duration / 60.0

	avgSpeed := 0.0
	if route.Duration > 0 {
		avgSpeed = distanceKm / (route.Duration / 3600.0)
	}

	estimate := &models.RouteEstimate{
		DistanceKm:      distanceKm,
		DurationMin:     &durationMin,
		AverageSpeedKmh: avgSpeed,
		FetchedAt:       time.Now(),
	}

	// 根据分段限速注记构建道路类型直方图
	var speeds []float64
	for _, leg := range route.Legs {
		speeds = append(speeds, leg.Annotation.Speed...)
	}
	if len(speeds) > 0 {
		h := buildHistogram(speeds)
		estimate.RoadTypes = &h
	}

	return estimate, nil
}

// buildHistogram 将分段速度（m/s）按阈值分桶
func buildHistogram(speedsMs []float64) models.RoadTypeHistogram {
	var h models.RoadTypeHistogram
	for _, ms := range speedsMs {
		kmh := ms * 3.6
		switch {
		case kmh > speedHighwayKmh:
			h.Highway++
		case kmh > speedPrimaryKmh:
			h.Primary++
		case kmh > speedSecondaryKmh:
			h.Secondary++
		default:
			h.Residential++
		}
	}
	return h
}

// StraightLineEstimate 直线降级估算：距离为大圆距离，时长未知
func StraightLineEstimate(origin, dest models.Coordinate) *models.RouteEstimate {
	return &models.RouteEstimate{
		DistanceKm: geo.DistanceKm(origin, dest),
		FetchedAt:  time.Now(),
	}
}
