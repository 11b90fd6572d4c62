package platform

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/danghamo/geotrack/internal/domain/position"
)

// ReplayPoint is one line of a replay track file
type ReplayPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

// ReplayProvider walks a recorded track, one point per interval, looping at the end.
// Points closer than the requested displacement to the last delivered fix are skipped.
type ReplayProvider struct {
	points []ReplayPoint
	now    func() time.Time

	mu   sync.Mutex
	next int
	last *position.Fix
}

// LoadReplayFile parses a JSON-lines track; blank lines and lines starting with # are ignored
func LoadReplayFile(path string) ([]ReplayPoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay file: %w", err)
	}
	defer f.Close()

	var points []ReplayPoint
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var p ReplayPoint
		if err := json.Unmarshal([]byte(text), &p); err != nil {
			return nil, fmt.Errorf("replay file line %d: %w", line, err)
		}
		points = append(points, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read replay file: %w", err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("replay file %s has no points", path)
	}
	return points, nil
}

// NewReplayProvider creates a provider over an in-memory track
func NewReplayProvider(points []ReplayPoint) *ReplayProvider {
	return &ReplayProvider{points: points, now: time.Now}
}

func (p *ReplayProvider) Subscribe(ctx context.Context, req Request) (Subscription, error) {
	if len(p.points) == 0 {
		return nil, fmt.Errorf("replay provider has no points")
	}
	if req.Interval <= 0 {
		req.Interval = time.Second
	}
	return startTicker(req.Interval, func() (position.Fix, bool, bool) {
		return p.advance(req.MinDisplacementMeters)
	}), nil
}

func (p *ReplayProvider) advance(minDisplacement float64) (position.Fix, bool, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pt := p.points[p.next]
	p.next = (p.next + 1) % len(p.points)

	if p.last != nil && minDisplacement > 0 &&
		distanceMeters(p.last.Latitude, p.last.Longitude, pt.Latitude, pt.Longitude) < minDisplacement {
		return position.Fix{}, false, false
	}

	fix := position.Fix{
		Latitude:         pt.Latitude,
		Longitude:        pt.Longitude,
		Accuracy:         pt.Accuracy,
		CapturedAtMillis: p.now().UnixMilli(),
	}
	p.last = &fix
	return fix, true, false
}

func (p *ReplayProvider) LastKnown(ctx context.Context) (*position.Fix, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return nil, nil
	}
	f := *p.last
	return &f, nil
}

const earthRadiusMeters = 6371000.0

// distanceMeters is the haversine distance between two coordinates
func distanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(a))
}
