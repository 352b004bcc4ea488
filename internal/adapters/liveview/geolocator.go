package liveview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/samirrijal/civicmap/internal/core/domain"
)

// Geolocator implements ports.Geolocator by asking the browser for its
// position. Denial, timeout and a closed socket are all
// domain.ErrLocationUnavailable.
type Geolocator struct {
	ch      *Channel
	timeout time.Duration
}

func NewGeolocator(ch *Channel, timeout time.Duration) *Geolocator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Geolocator{ch: ch, timeout: timeout}
}

type geolocateArgs struct {
	EnableHighAccuracy bool `json:"enable_high_accuracy"`
	TimeoutMs          int  `json:"timeout_ms"`
}

func (g *Geolocator) CurrentPosition(ctx context.Context) (domain.GeoPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	data, err := g.ch.Request(ctx, CmdGeolocate, geolocateArgs{
		EnableHighAccuracy: true,
		TimeoutMs:          int(g.timeout / time.Millisecond),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.GeoPoint{}, fmt.Errorf("geolocation timed out: %w", domain.ErrLocationUnavailable)
		}
		return domain.GeoPoint{}, fmt.Errorf("%w: %w", domain.ErrLocationUnavailable, err)
	}

	var p domain.GeoPoint
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.GeoPoint{}, fmt.Errorf("geolocation reply: %v: %w", err, domain.ErrLocationUnavailable)
	}
	return p, nil
}
