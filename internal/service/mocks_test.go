package service

import (
	"context"
	"sync"
	"sync/atomic"

	"tripwatch/internal/models"
)

// ============ 测试替身 ============

type mockResolver struct {
	mu     sync.Mutex
	places map[string]*models.GeocodedPlace
	errs   map[string]error
	// block 非空时 Resolve 会阻塞等待，用于构造并发场景
	block chan struct{}
	calls int32
}

func (m *mockResolver) Resolve(ctx context.Context, address string) (*models.GeocodedPlace, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.errs[address]; ok {
		return nil, err
	}
	if place, ok := m.places[address]; ok {
		return place, nil
	}
	return &models.GeocodedPlace{
		Coordinate: models.Coordinate{Lat: 52.5, Lng: 5.0},
		Label:      address,
		Source:     models.GeocodeSourceNominatim,
	}, nil
}

type mockRouter struct {
	mu       sync.Mutex
	estimate *models.RouteEstimate
	err      error
	calls    int32
}

func (m *mockRouter) Estimate(ctx context.Context, origin, dest models.Coordinate) (*models.RouteEstimate, error) {
	atomic.AddInt32(&m.calls, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.estimate == nil {
		return nil, nil
	}
	cp := *m.estimate
	return &cp, nil
}

type mockPositions struct {
	mu       sync.Mutex
	fix      *models.PositionFix
	err      error
	onFix    func(models.PositionFix)
	onError  func(error)
	tracking bool
	stops    int32
}

func (m *mockPositions) Current(ctx context.Context) (*models.PositionFix, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	fix := *m.fix
	return &fix, nil
}

func (m *mockPositions) StartTracking(onFix func(models.PositionFix), onError func(error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFix = onFix
	m.onError = onError
	m.tracking = true
	return nil
}

func (m *mockPositions) StopTracking() {
	atomic.AddInt32(&m.stops, 1)
	m.mu.Lock()
	m.tracking = false
	m.mu.Unlock()
}

// push 模拟定位源新的一次定位
func (m *mockPositions) push(fix models.PositionFix) {
	m.mu.Lock()
	cb := m.onFix
	m.fix = &fix
	m.mu.Unlock()
	if cb != nil {
		cb(fix)
	}
}

type mockStore struct {
	mu     sync.Mutex
	saved  *models.TripState
	snap   *models.TripSnapshot
	saves  int32
	clears int32
}

func (m *mockStore) Save(ctx context.Context, state *models.TripState) error {
	atomic.AddInt32(&m.saves, 1)
	m.mu.Lock()
	cp := *state
	m.saved = &cp
	m.mu.Unlock()
	return nil
}

func (m *mockStore) Load(ctx context.Context) (*models.TripSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, nil
}

func (m *mockStore) Clear(ctx context.Context) error {
	atomic.AddInt32(&m.clears, 1)
	return nil
}

type recordSink struct {
	mu        sync.Mutex
	progress  []models.ProgressUpdate
	stops     []models.NextStopProgress
	completes []*models.TripState
	locErrors []models.LocationError
}

func (s *recordSink) ProgressUpdate(u models.ProgressUpdate) {
	s.mu.Lock()
	s.progress = append(s.progress, u)
	s.mu.Unlock()
}

func (s *recordSink) NextStopProgress(p models.NextStopProgress) {
	s.mu.Lock()
	s.stops = append(s.stops, p)
	s.mu.Unlock()
}

func (s *recordSink) TripComplete(state *models.TripState) {
	s.mu.Lock()
	s.completes = append(s.completes, state)
	s.mu.Unlock()
}

func (s *recordSink) LocationError(e models.LocationError) {
	s.mu.Lock()
	s.locErrors = append(s.locErrors, e)
	s.mu.Unlock()
}

func (s *recordSink) lastProgress() *models.ProgressUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.progress) == 0 {
		return nil
	}
	u := s.progress[len(s.progress)-1]
	return &u
}

func (s *recordSink) progressCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.progress)
}
