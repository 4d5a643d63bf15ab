package service

import (
	"math"
	"testing"
	"time"

	"tripwatch/internal/models"
)

func TestEstimateETAZeroRemaining(t *testing.T) {
	t.Parallel()
	eta := estimateETA(etaInput{RemainingKm: 0, Now: time.Now()})
	if eta == nil || *eta != 0 {
		t.Fatalf("eta = %v, want 0", eta)
	}
}

func TestEstimateETAFreshRouteDuration(t *testing.T) {
	t.Parallel()
	now := time.Now()
	duration := 60.0
	eta := estimateETA(etaInput{
		RemainingKm: 40,
		LegTotalKm:  80,
		Route: &models.RouteEstimate{
			DistanceKm:  80,
			DurationMin: &duration,
			FetchedAt:   now.Add(-time.Minute),
		},
		Now: now,
	})
	if eta == nil {
		t.Fatal("eta should not be nil")
	}
	// 路线时长 60 分钟，剩一半路程即 30 分钟；隐含速度 80 km/h 未触发修正
	if math.Abs(*eta-30) > 0.5 {
		t.Errorf("eta = %v min, want ~30", *eta)
	}
}

func TestEstimateETAStaleRouteFallsToHistogram(t *testing.T) {
	t.Parallel()
	now := time.Now()
	duration := 60.0
	eta := estimateETA(etaInput{
		RemainingKm: 30,
		LegTotalKm:  80,
		Route: &models.RouteEstimate{
			DistanceKm:  80,
			DurationMin: &duration,
			RoadTypes:   &models.RoadTypeHistogram{Highway: 10},
			FetchedAt:   now.Add(-10 * time.Minute), // 已过期
		},
		SpeedHistory: []models.SpeedSample{
			{SpeedKmh: 100, Timestamp: now.Add(-time.Minute)},
		},
		Now: now,
	})
	if eta == nil {
		t.Fatal("eta should not be nil")
	}
	// 直方图 120 与实测 100 按 40/60 混合 = 108 km/h，30 km 约 16.7 分钟
	if math.Abs(*eta-30.0/108.0*60) > 0.5 {
		t.Errorf("eta = %v min, want ~16.7", *eta)
	}
}

func TestEstimateETAHistogramWithoutSamples(t *testing.T) {
	t.Parallel()
	now := time.Now()
	eta := estimateETA(etaInput{
		RemainingKm: 30,
		Route: &models.RouteEstimate{
			RoadTypes: &models.RoadTypeHistogram{Residential: 5, Secondary: 5},
			FetchedAt: now.Add(-10 * time.Minute),
		},
		// 样本全部超龄，不参与均值
		SpeedHistory: []models.SpeedSample{
			{SpeedKmh: 100, Timestamp: now.Add(-20 * time.Minute)},
		},
		Now: now,
	})
	if eta == nil {
		t.Fatal("eta should not be nil")
	}
	// 只剩直方图速度 (40+75)/2 = 57.5，被 10-50 km 区间的 60 下限修正
	if math.Abs(*eta-30.0/60.0*60) > 0.5 {
		t.Errorf("eta = %v min, want ~30", *eta)
	}
}

func TestEstimateETAPlainAverage(t *testing.T) {
	t.Parallel()
	now := time.Now()
	eta := estimateETA(etaInput{
		RemainingKm:        30,
		StartTime:          now.Add(-time.Hour),
		DistanceTraveledKm: 90,
		Now:                now,
	})
	if eta == nil {
		t.Fatal("eta should not be nil")
	}
	// 朴素平均 90 km/h，30 km 即 20 分钟
	if math.Abs(*eta-20) > 0.5 {
		t.Errorf("eta = %v min, want ~20", *eta)
	}
}

func TestEstimateETAPlainAverageOutOfRange(t *testing.T) {
	t.Parallel()
	now := time.Now()
	// 平均 5 km/h 超出合理区间，退回默认 80 km/h
	eta := estimateETA(etaInput{
		RemainingKm:        60,
		StartTime:          now.Add(-time.Hour),
		DistanceTraveledKm: 5,
		Now:                now,
	})
	if eta == nil {
		t.Fatal("eta should not be nil")
	}
	if math.Abs(*eta-60.0/80.0*60) > 0.5 {
		t.Errorf("eta = %v min, want ~45", *eta)
	}
}

func TestClampSpeedForDistance(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name        string
		speed       float64
		remainingKm float64
		want        float64
	}{
		{"long trip floors at 80", 30, 100, 80},
		{"medium trip floors at 60", 30, 20, 60},
		{"short trip caps at 50", 120, 5, 50},
		{"sane speed untouched", 90, 100, 90},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := clampSpeedForDistance(tc.speed, tc.remainingKm); got != tc.want {
				t.Errorf("clampSpeedForDistance(%v, %v) = %v, want %v", tc.speed, tc.remainingKm, got, tc.want)
			}
		})
	}
}

func TestRecentSpeedWeightsNewest(t *testing.T) {
	t.Parallel()
	now := time.Now()
	history := []models.SpeedSample{
		{SpeedKmh: 40, Timestamp: now.Add(-2 * time.Minute)},
		{SpeedKmh: 100, Timestamp: now.Add(-10 * time.Second)},
	}
	// 权重 1:2，(40*1 + 100*2) / 3 = 80
	if got := recentSpeedKmh(history, now); math.Abs(got-80) > 1e-9 {
		t.Errorf("recentSpeedKmh = %v, want 80", got)
	}
}

func TestFormatETA(t *testing.T) {
	t.Parallel()
	cases := []struct {
		minutes float64
		want    string
	}{
		{0, "almost there"},
		{5, "almost there"},
		{12.4, "12 minutes"},
		{59, "59 minutes"},
		{60, "1 hours"},
		{90, "1h 30m"},
		{125, "2h 5m"},
	}
	for _, tc := range cases {
		if got := FormatETA(tc.minutes); got != tc.want {
			t.Errorf("FormatETA(%v) = %q, want %q", tc.minutes, got, tc.want)
		}
	}
}
