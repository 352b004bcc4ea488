// Package location holds the shared current viewpoint of one client.
//
// The Store is the only writer-facing handle: the device, the place search and
// the map each call Set, every consumer subscribes. Writes are serialized and
// listeners run synchronously, in write order, before Set returns.
package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/samirrijal/civicmap/internal/core/domain"
	"github.com/samirrijal/civicmap/internal/core/ports"
	"github.com/samirrijal/civicmap/internal/pkg/metrics"
)

// Source names the producer of a viewpoint change.
type Source string

const (
	SourceUser    Source = "user"
	SourceDevice  Source = "device"
	SourceSearch  Source = "search"
	SourceMap     Source = "map"
	SourceRestore Source = "restore"
)

// Listener receives the new viewpoint, or nil after a clear. It must not call
// Set on the same store synchronously.
type Listener func(v *domain.Viewpoint, source Source)

// Store is a publish/subscribe holder for a single Viewpoint.
type Store struct {
	clientID string
	repo     ports.ViewpointRepository
	events   ports.EventPublisher
	logger   *slog.Logger

	writeMu sync.Mutex // serializes Set and the notifications it triggers

	mu        sync.RWMutex
	current   *domain.Viewpoint
	listeners map[int]Listener
	nextID    int

	locating atomic.Bool
}

// Option configures a Store.
type Option func(*Store)

// WithEvents publishes a ViewpointChanged event after every change.
func WithEvents(p ports.EventPublisher) Option {
	return func(s *Store) { s.events = p }
}

// WithLogger sets the logger used for non-fatal persistence failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates an empty store persisting to repo under clientID.
// A nil repo keeps the viewpoint in memory only.
func NewStore(clientID string, repo ports.ViewpointRepository, opts ...Option) *Store {
	s := &Store{
		clientID:  clientID,
		repo:      repo,
		logger:    slog.Default(),
		listeners: make(map[int]Listener),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("client_id", clientID)
	return s
}

// ClientID returns the client the store belongs to.
func (s *Store) ClientID() string { return s.clientID }

// Get returns a copy of the current viewpoint; false means empty.
func (s *Store) Get() (domain.Viewpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return domain.Viewpoint{}, false
	}
	return *s.current.Clone(), true
}

// Set replaces the viewpoint as a whole. A nil viewpoint clears the store and
// its persisted record.
func (s *Store) Set(ctx context.Context, v *domain.Viewpoint) {
	s.SetFrom(ctx, SourceUser, v)
}

// SetFrom is Set with the producer recorded for listeners and metrics.
func (s *Store) SetFrom(ctx context.Context, source Source, v *domain.Viewpoint) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := v.Clone()
	s.mu.Lock()
	s.current = next
	s.mu.Unlock()

	s.persist(ctx, next)
	metrics.ViewpointUpdates.WithLabelValues(string(source)).Inc()
	s.notify(next, source)
	s.publish(ctx, next, source)
}

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Restore loads the persisted viewpoint, if any, and notifies listeners.
// It does not write the record back.
func (s *Store) Restore(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	v, err := s.repo.Load(ctx, s.clientID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		s.logger.Warn("restore viewpoint failed", "error", err)
		return fmt.Errorf("restore viewpoint: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.current = v.Clone()
	snapshot := s.current.Clone()
	s.mu.Unlock()

	metrics.ViewpointUpdates.WithLabelValues(string(SourceRestore)).Inc()
	s.notify(snapshot, SourceRestore)
	return nil
}

// ResolveFromDevice asks the device for its position and stores it as
// "Current Location". On failure the store is left untouched and the error
// wraps domain.ErrLocationUnavailable. A call made while another is in flight
// returns domain.ErrAlreadyLocating and leaves the first to finish.
func (s *Store) ResolveFromDevice(ctx context.Context, geo ports.Geolocator) error {
	if geo == nil {
		return fmt.Errorf("geolocation is not supported: %w", domain.ErrLocationUnavailable)
	}
	if !s.locating.CompareAndSwap(false, true) {
		return domain.ErrAlreadyLocating
	}
	defer s.locating.Store(false)

	p, err := geo.CurrentPosition(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrLocationUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrLocationUnavailable, err)
		}
		s.logger.Info("device location unavailable", "error", err)
		return err
	}
	if !p.Valid() {
		return fmt.Errorf("device reported %v,%v: %w", p.Lat, p.Lng, domain.ErrLocationUnavailable)
	}

	s.SetFrom(ctx, SourceDevice, &domain.Viewpoint{
		Lat:   p.Lat,
		Lng:   p.Lng,
		Label: domain.LabelCurrentLocation,
	})
	return nil
}

// Locating reports whether a device resolution is in flight.
func (s *Store) Locating() bool { return s.locating.Load() }

func (s *Store) persist(ctx context.Context, v *domain.Viewpoint) {
	if s.repo == nil {
		return
	}
	var err error
	if v == nil {
		err = s.repo.Delete(ctx, s.clientID)
	} else {
		err = s.repo.Save(ctx, s.clientID, domain.Viewpoint{Lat: v.Lat, Lng: v.Lng, Label: v.Label})
	}
	if err != nil {
		s.logger.Warn("persist viewpoint failed", "error", err)
	}
}

func (s *Store) notify(v *domain.Viewpoint, source Source) {
	s.mu.RLock()
	ls := make([]Listener, 0, len(s.listeners))
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		ls = append(ls, s.listeners[id])
	}
	s.mu.RUnlock()

	for _, l := range ls {
		l(v.Clone(), source)
	}
}

func (s *Store) publish(ctx context.Context, v *domain.Viewpoint, source Source) {
	if s.events == nil {
		return
	}
	ev := &domain.ViewpointChanged{ClientID: s.clientID, Viewpoint: v.Clone(), Source: string(source)}
	if err := s.events.PublishViewpointChanged(ctx, ev); err != nil {
		s.logger.Warn("publish viewpoint change failed", "error", err)
	}
}
