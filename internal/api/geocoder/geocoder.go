package geocoder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"tripwatch/internal/fetch"
	"tripwatch/internal/models"
)

var (
	// ErrInvalidAddress 空白地址，同步拒绝
	ErrInvalidAddress = errors.New("invalid address")
	// ErrAddressNotFound 所有地理编码后端均未返回结果
	ErrAddressNotFound = errors.New("address not found")
)

// errNoMatch 单个后端无匹配结果（空结果与非 2xx 同等处理，尝试下一个后端）
var errNoMatch = errors.New("no match")

// Config 地理编码客户端配置
type Config struct {
	AmapAPIKey       string
	AmapBaseURL      string
	NominatimBaseURL string
	HTTPTimeout      time.Duration
	MaxAttempts      int
	RetryDelay       time.Duration
	Cooldown         time.Duration
}

// Client 正向地理编码客户端
// 按固定优先级依次尝试后端：配置了高德 API Key 则先高德，再 Nominatim（OpenStreetMap）。
// 每个后端独立经过有界重试 + 冷却包装，首个成功即返回。
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger

	amapFetcher      *fetch.Fetcher
	nominatimFetcher *fetch.Fetcher

	// 缓存：避免重复请求相同地址
	cache   map[string]*models.GeocodedPlace
	cacheMu sync.RWMutex

	// Nominatim 请求限流（每秒最多 1 次）
	lastNominatimRequest time.Time
	nominatimMu          sync.Mutex
}

// NewClient 创建地理编码客户端
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.AmapBaseURL == "" {
		cfg.AmapBaseURL = "https://restapi.amap.com"
	}
	if cfg.NominatimBaseURL == "" {
		cfg.NominatimBaseURL = "https://nominatim.openstreetmap.org"
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}

	return &Client{
		cfg:              cfg,
		httpClient:       &http.Client{Timeout: cfg.HTTPTimeout},
		logger:           logger,
		amapFetcher:      fetch.New(logger, cfg.MaxAttempts, cfg.RetryDelay, cfg.Cooldown),
		nominatimFetcher: fetch.New(logger, cfg.MaxAttempts, cfg.RetryDelay, cfg.Cooldown),
		cache:            make(map[string]*models.GeocodedPlace),
	}
}

// Resolve 将自由文本地址解析为坐标 + 规范化地址
func (c *Client) Resolve(ctx context.Context, address string) (*models.GeocodedPlace, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, ErrInvalidAddress
	}

	cacheKey := strings.ToLower(address)

	c.cacheMu.RLock()
	if place, ok := c.cache[cacheKey]; ok {
		c.cacheMu.RUnlock()
		return place, nil
	}
	c.cacheMu.RUnlock()

	var backendErrs error
	sawNoMatch := false

	for _, b := range c.backends() {
		var place *models.GeocodedPlace
		err := b.fetcher.Do(ctx, "geocode/"+string(b.source), func(ctx context.Context) error {
			p, err := b.resolve(ctx, address)
			if err != nil {
				return err
			}
			place = p
			return nil
		})
		if err == nil {
			c.storeCache(cacheKey, place)
			c.logger.Debug("Geocoded address",
				zap.String("address", address),
				zap.String("backend", string(b.source)),
				zap.Float64("lat", place.Coordinate.Lat),
				zap.Float64("lng", place.Coordinate.Lng))
			return place, nil
		}

		if errors.Is(err, errNoMatch) {
			sawNoMatch = true
		}
		backendErrs = multierr.Append(backendErrs, fmt.Errorf("%s: %w", b.source, err))
	}

	c.logger.Warn("All geocoding backends failed",
		zap.String("address", address),
		zap.Error(backendErrs))

	// 仅当确有后端明确查无此地址时才归类为未找到；
	// 全部失败只是冷却/网络问题时把临时性错误原样向上传
	if sawNoMatch {
		return nil, multierr.Append(backendErrs, ErrAddressNotFound)
	}
	return nil, backendErrs
}

type backend struct {
	source  models.GeocodeSource
	fetcher *fetch.Fetcher
	resolve func(ctx context.Context, address string) (*models.GeocodedPlace, error)
}

// backends 返回优先级顺序的后端列表
func (c *Client) backends() []backend {
	var list []backend
	if c.cfg.AmapAPIKey != "" {
		list = append(list, backend{models.GeocodeSourceAmap, c.amapFetcher, c.resolveAmap})
	}
	list = append(list, backend{models.GeocodeSourceNominatim, c.nominatimFetcher, c.resolveNominatim})
	return list
}

func (c *Client) storeCache(key string, place *models.GeocodedPlace) {
	c.cacheMu.Lock()
	// 限制缓存大小
	if len(c.cache) > 10000 {
		c.cache = make(map[string]*models.GeocodedPlace)
	}
	c.cache[key] = place
	c.cacheMu.Unlock()
}

// ============ 高德地图实现 ============

// amapGeoResponse 高德正向地理编码响应
type amapGeoResponse struct {
	Status   string `json:"status"`
	Info     string `json:"info"`
	InfoCode string `json:"infocode"`
	Geocodes []struct {
		FormattedAddress string `json:"formatted_address"`
		Location         string `json:"location"` // "lng,lat"
	} `json:"geocodes"`
}

func (c *Client) resolveAmap(ctx context.Context, address string) (*models.GeocodedPlace, error) {
	apiURL := fmt.Sprintf(
		"%s/v3/geocode/geo?key=%s&address=%s&output=JSON",
		c.cfg.AmapBaseURL,
		url.QueryEscape(c.cfg.AmapAPIKey),
		url.QueryEscape(address),
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
		return nil, fmt.Errorf("amap api returned status %d: %w", resp.StatusCode, errNoMatch)
	}

	var result amapGeoResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if result.Status != "1" {
		return nil, fmt.Errorf("amap api error: %s (code: %s): %w", result.Info, result.InfoCode, errNoMatch)
	}
	if len(result.Geocodes) == 0 {
		return nil, errNoMatch
	}

	best := result.Geocodes[0]
	// 高德 location 格式为 "经度,纬度"
	parts := strings.Split(best.Location, ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid location %q: %w", best.Location, errNoMatch)
	}
	lng, err1 := strconv.ParseFloat(parts[0], 64)
	lat, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil {
		return nil, fmt.Errorf("parse location %q: %w", best.Location, errNoMatch)
	}

	return &models.GeocodedPlace{
		Coordinate: models.Coordinate{Lat: lat, Lng: lng},
		Label:      best.FormattedAddress,
		Source:     models.GeocodeSourceAmap,
	}, nil
}

// ============ Nominatim (OpenStreetMap) 实现 ============

// nominatimResult Nominatim 搜索结果条目（lat/lon 为字符串）
type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

func (c *Client) resolveNominatim(ctx context.Context, address string) (*models.GeocodedPlace, error) {
	// Nominatim 限流：每秒最多 1 次请求
	c.nominatimMu.Lock()
	elapsed := time.Since(c.lastNominatimRequest)
	if elapsed < time.Second {
		time.Sleep(time.Second - elapsed)
	}
	c.lastNominatimRequest = time.Now()
	c.nominatimMu.Unlock()

	apiURL := fmt.Sprintf(
		"%s/search?q=%s&format=json&limit=1",
		c.cfg.NominatimBaseURL,
		url.QueryEscape(address),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	// Nominatim 要求设置 User-Agent
	req.Header.Set("User-Agent", "Tripwatch/1.0 (trip progress tracker)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nominatim api returned status %d: %w", resp.StatusCode, errNoMatch)
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(results) == 0 {
		return nil, errNoMatch
	}

	best := results[0]
	lat, err1 := strconv.ParseFloat(best.Lat, 64)
	lng, err2 := strconv.ParseFloat(best.Lon, 64)
	if err1 != nil || err2 != nil {
		return nil, fmt.Errorf("parse coordinates %q,%q: %w", best.Lat, best.Lon, errNoMatch)
	}

	return &models.GeocodedPlace{
		Coordinate: models.Coordinate{Lat: lat, Lng: lng},
		Label:      best.DisplayName,
		Source:     models.GeocodeSourceNominatim,
	}, nil
}

// ============ 工具函数 ============

// ClearCache 清空缓存
func (c *Client) ClearCache() {
	c.cacheMu.Lock()
	c.cache = make(map[string]*models.GeocodedPlace)
	c.cacheMu.Unlock()
}

// CacheSize 获取缓存大小
func (c *Client) CacheSize() int {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	return len(c.cache)
}
