package geo

import (
	"math"
	"testing"

	"tripwatch/internal/models"
)

func TestDistanceKm(t *testing.T) {
	t.Parallel()

	// 同一点距离为 0
	p := models.Coordinate{Lat: 52.0, Lng: 5.0}
	if d := DistanceKm(p, p); d != 0 {
		t.Errorf("expected 0, got %f", d)
	}

	// 纬度相差 0.1 度约 11.1 km
	a := models.Coordinate{Lat: 52.0, Lng: 5.0}
	b := models.Coordinate{Lat: 52.1, Lng: 5.0}
	d := DistanceKm(a, b)
	if math.Abs(d-11.12) > 0.1 {
		t.Errorf("expected ~11.12 km, got %f", d)
	}

	// 对称性
	if math.Abs(DistanceKm(a, b)-DistanceKm(b, a)) > 1e-9 {
		t.Error("distance should be symmetric")
	}
}

func TestDistanceMeters(t *testing.T) {
	t.Parallel()

	a := models.Coordinate{Lat: 52.0, Lng: 5.0}
	b := models.Coordinate{Lat: 52.00001, Lng: 5.0}
	d := DistanceMeters(a, b)
	if d < 0.5 || d > 2.0 {
		t.Errorf("expected ~1.1 m, got %f", d)
	}
}

func TestClampPercent(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   float64
		want float64
	}{
		{-5, 0},
		{0, 0},
		{42.5, 42.5},
		{100, 100},
		{150, 100},
	}
	for _, c := range cases {
		if got := ClampPercent(c.in); got != c.want {
			t.Errorf("ClampPercent(%f) = %f, want %f", c.in, got, c.want)
		}
	}
}
