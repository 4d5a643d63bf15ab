package position

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"tripwatch/internal/models"
)

func testFeed(cacheMaxAge, timeout time.Duration) *Feed {
	return NewFeed(Config{CacheMaxAge: cacheMaxAge, Timeout: timeout}, zap.NewNop())
}

func TestCurrent_ReturnsFreshCachedFix(t *testing.T) {
	t.Parallel()

	f := testFeed(30*time.Second, time.Second)
	f.Publish(models.PositionFix{
		Coordinate: models.Coordinate{Lat: 52.0, Lng: 5.0},
		Timestamp:  time.Now(),
	})

	fix, err := f.Current(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fix.Coordinate.Lat != 52.0 {
		t.Errorf("unexpected fix: %+v", fix)
	}
}

func TestCurrent_WaitsForNextFixWhenStale(t *testing.T) {
	t.Parallel()

	f := testFeed(10*time.Millisecond, time.Second)
	f.Publish(models.PositionFix{
		Coordinate: models.Coordinate{Lat: 1.0, Lng: 1.0},
		Timestamp:  time.Now().Add(-time.Minute),
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		f.Publish(models.PositionFix{Coordinate: models.Coordinate{Lat: 2.0, Lng: 2.0}})
	}()

	fix, err := f.Current(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fix.Coordinate.Lat != 2.0 {
		t.Errorf("expected the fresh fix, got %+v", fix)
	}
}

func TestCurrent_TimesOut(t *testing.T) {
	t.Parallel()

	f := testFeed(time.Second, 20*time.Millisecond)
	_, err := f.Current(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestFail_PermissionDeniedIsPermanent(t *testing.T) {
	t.Parallel()

	f := testFeed(time.Second, time.Second)
	f.Fail(FailKindPermissionDenied)

	_, err := f.Current(context.Background())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if err := f.StartTracking(nil, nil); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied from StartTracking, got %v", err)
	}
}

func TestTracking_DeliversFixesAndErrors(t *testing.T) {
	t.Parallel()

	f := testFeed(time.Second, time.Second)

	var fixes []models.PositionFix
	var errs []error
	err := f.StartTracking(
		func(fix models.PositionFix) { fixes = append(fixes, fix) },
		func(err error) { errs = append(errs, err) },
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.Publish(models.PositionFix{Coordinate: models.Coordinate{Lat: 1.0, Lng: 1.0}})
	f.Fail(FailKindUnavailable)

	if len(fixes) != 1 {
		t.Errorf("expected 1 fix, got %d", len(fixes))
	}
	if len(errs) != 1 || !errors.Is(errs[0], ErrUnavailable) {
		t.Errorf("expected 1 ErrUnavailable, got %v", errs)
	}

	// 停止订阅后不再回调
	f.StopTracking()
	f.Publish(models.PositionFix{Coordinate: models.Coordinate{Lat: 2.0, Lng: 2.0}})
	if len(fixes) != 1 {
		t.Errorf("expected no delivery after StopTracking, got %d fixes", len(fixes))
	}
}

func TestNormalizeKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind string
		want error
	}{
		{FailKindPermissionDenied, ErrPermissionDenied},
		{FailKindTimeout, ErrTimeout},
		{FailKindUnavailable, ErrUnavailable},
		{"something-else", ErrUnavailable},
	}
	for _, c := range cases {
		if got := normalizeKind(c.kind); !errors.Is(got, c.want) {
			t.Errorf("normalizeKind(%q) = %v, want %v", c.kind, got, c.want)
		}
	}
}
