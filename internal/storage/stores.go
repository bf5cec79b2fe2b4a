// Package storage provides the entity stores the dispatch engine mutates.
// The memory implementations are the default; persistence mechanics beyond
// atomic per-entity updates belong to the surrounding system.
package storage

import (
	"sort"
	"sync"

	"github.com/example/campus-dispatch/internal/models"
)

type DriverStore interface {
	Get(id string) (models.Driver, bool)
	Put(d models.Driver)
	List() []models.Driver
}

type RiderStore interface {
	Get(name string) (models.Rider, bool)
	Put(r models.Rider)
}

type RequestStore interface {
	Get(id string) (models.TripRequest, bool)
	Put(r models.TripRequest)
	Delete(id string)
	List() []models.TripRequest
}

type TripStore interface {
	Get(id string) (models.Trip, bool)
	Put(t models.Trip)
}

type RatingStore interface {
	Get(tripID string, kind models.RatingKind) (models.Rating, bool)
	Put(r models.Rating)
	BySubject(subject string) []models.Rating
}

// TripArchive receives terminal trips for long-term storage, best-effort.
type TripArchive interface {
	ArchiveTrip(t models.Trip) error
}

type MemoryDrivers struct {
	mu      sync.RWMutex
	drivers map[string]models.Driver
}

func NewMemoryDrivers() *MemoryDrivers {
	return &MemoryDrivers{drivers: make(map[string]models.Driver)}
}

func (m *MemoryDrivers) Get(id string) (models.Driver, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	return d, ok
}

func (m *MemoryDrivers) Put(d models.Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.ID] = d
}

func (m *MemoryDrivers) List() []models.Driver {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type MemoryRiders struct {
	mu     sync.RWMutex
	riders map[string]models.Rider
}

func NewMemoryRiders() *MemoryRiders {
	return &MemoryRiders{riders: make(map[string]models.Rider)}
}

func (m *MemoryRiders) Get(name string) (models.Rider, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.riders[name]
	return r, ok
}

func (m *MemoryRiders) Put(r models.Rider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.riders[r.Name] = r
}

type MemoryRequests struct {
	mu       sync.RWMutex
	requests map[string]models.TripRequest
}

func NewMemoryRequests() *MemoryRequests {
	return &MemoryRequests{requests: make(map[string]models.TripRequest)}
}

func (m *MemoryRequests) Get(id string) (models.TripRequest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	return copyRequest(r), ok
}

func (m *MemoryRequests) Put(r models.TripRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = copyRequest(r)
}

func (m *MemoryRequests) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.requests, id)
}

func (m *MemoryRequests) List() []models.TripRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.TripRequest, 0, len(m.requests))
	for _, r := range m.requests {
		out = append(out, copyRequest(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// copyRequest clones the declined-driver set so callers never share it.
func copyRequest(r models.TripRequest) models.TripRequest {
	if r.DeclinedBy != nil {
		set := make(map[string]struct{}, len(r.DeclinedBy))
		for k := range r.DeclinedBy {
			set[k] = struct{}{}
		}
		r.DeclinedBy = set
	}
	return r
}

type MemoryTrips struct {
	mu    sync.RWMutex
	trips map[string]models.Trip
}

func NewMemoryTrips() *MemoryTrips {
	return &MemoryTrips{trips: make(map[string]models.Trip)}
}

func (m *MemoryTrips) Get(id string) (models.Trip, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trips[id]
	return t, ok
}

func (m *MemoryTrips) Put(t models.Trip) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips[t.ID] = t
}

type MemoryRatings struct {
	mu      sync.RWMutex
	ratings map[string]models.Rating
}

func NewMemoryRatings() *MemoryRatings {
	return &MemoryRatings{ratings: make(map[string]models.Rating)}
}

func ratingKey(tripID string, kind models.RatingKind) string {
	return tripID + "|" + string(kind)
}

func (m *MemoryRatings) Get(tripID string, kind models.RatingKind) (models.Rating, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.ratings[ratingKey(tripID, kind)]
	return r, ok
}

func (m *MemoryRatings) Put(r models.Rating) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ratings[ratingKey(r.TripID, r.Kind)] = r
}

func (m *MemoryRatings) BySubject(subject string) []models.Rating {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Rating
	for _, r := range m.ratings {
		if r.Subject == subject {
			out = append(out, r)
		}
	}
	return out
}
