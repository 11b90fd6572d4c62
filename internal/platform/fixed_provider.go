package platform

import (
	"context"
	"sync"
	"time"

	"github.com/danghamo/geotrack/internal/domain/position"
)

// FixedProvider reports one configured coordinate every interval.
// It stands in for a stationary bench device, so the displacement filter is not applied.
type FixedProvider struct {
	latitude  float64
	longitude float64
	accuracy  float64
	now       func() time.Time

	mu      sync.RWMutex
	granted bool
}

// NewFixedProvider creates a provider pinned to the given coordinate
func NewFixedProvider(latitude, longitude, accuracy float64, permissionGranted bool) *FixedProvider {
	return &FixedProvider{
		latitude:  latitude,
		longitude: longitude,
		accuracy:  accuracy,
		granted:   permissionGranted,
		now:       time.Now,
	}
}

// SetPermission grants or withdraws location permission for later calls
func (p *FixedProvider) SetPermission(granted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.granted = granted
}

func (p *FixedProvider) permitted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.granted
}

func (p *FixedProvider) fix() position.Fix {
	return position.Fix{
		Latitude:         p.latitude,
		Longitude:        p.longitude,
		Accuracy:         p.accuracy,
		CapturedAtMillis: p.now().UnixMilli(),
	}
}

func (p *FixedProvider) Subscribe(ctx context.Context, req Request) (Subscription, error) {
	if !p.permitted() {
		return nil, ErrPermissionDenied
	}
	if req.Interval <= 0 {
		req.Interval = time.Second
	}
	return startTicker(req.Interval, func() (position.Fix, bool, bool) {
		return p.fix(), true, false
	}), nil
}

func (p *FixedProvider) LastKnown(ctx context.Context) (*position.Fix, error) {
	if !p.permitted() {
		return nil, ErrPermissionDenied
	}
	f := p.fix()
	return &f, nil
}
