// Package dispatch owns the lifecycle of trip requests and active trips.
// All mutation of requests, trips, and driver availability goes through the
// engine so the availability invariant stays enforceable in one place:
// a driver is available exactly when it has no current trip.
package dispatch

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/example/campus-dispatch/internal/fare"
	"github.com/example/campus-dispatch/internal/models"
	"github.com/example/campus-dispatch/internal/observability"
	"github.com/example/campus-dispatch/internal/rating"
	"github.com/example/campus-dispatch/internal/routing"
	"github.com/example/campus-dispatch/internal/storage"
)

// Event describes a lifecycle change observers may care about. Delivery is
// best-effort; polling the query operations stays the source of truth.
type Event struct {
	Type      string    `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	TripID    string    `json:"trip_id,omitempty"`
	DriverID  string    `json:"driver_id,omitempty"`
	RiderName string    `json:"rider_name,omitempty"`
	Status    string    `json:"status,omitempty"`
	At        time.Time `json:"at"`
}

type Notifier interface {
	Notify(ev Event)
}

type Engine struct {
	planner    *routing.Planner
	fares      *fare.Calculator
	drivers    storage.DriverStore
	riders     storage.RiderStore
	requests   storage.RequestStore
	trips      storage.TripStore
	aggregator *rating.Aggregator
	archive    storage.TripArchive // optional
	notifiers  []Notifier
	logger     *slog.Logger

	dupWindow time.Duration

	// Now is injectable for duplicate-window tests.
	Now func() time.Time

	mu       sync.Mutex
	reqLocks map[string]*sync.Mutex
	drvLocks map[string]*sync.Mutex
	trpLocks map[string]*sync.Mutex
	recent   map[string]recentSubmission
}

type recentSubmission struct {
	requestID string
	at        time.Time
}

type Options struct {
	Planner    *routing.Planner
	Fares      *fare.Calculator
	Drivers    storage.DriverStore
	Riders     storage.RiderStore
	Requests   storage.RequestStore
	Trips      storage.TripStore
	Aggregator *rating.Aggregator
	Archive    storage.TripArchive
	Notifiers  []Notifier
	Logger     *slog.Logger
	DupWindow  time.Duration
}

func NewEngine(opts Options) *Engine {
	if opts.DupWindow <= 0 {
		opts.DupWindow = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		planner:    opts.Planner,
		fares:      opts.Fares,
		drivers:    opts.Drivers,
		riders:     opts.Riders,
		requests:   opts.Requests,
		trips:      opts.Trips,
		aggregator: opts.Aggregator,
		archive:    opts.Archive,
		notifiers:  opts.Notifiers,
		logger:     opts.Logger,
		dupWindow:  opts.DupWindow,
		Now:        time.Now,
		reqLocks:   make(map[string]*sync.Mutex),
		drvLocks:   make(map[string]*sync.Mutex),
		trpLocks:   make(map[string]*sync.Mutex),
		recent:     make(map[string]recentSubmission),
	}
}

type SubmitInput struct {
	RiderName  string          `json:"rider_name"`
	Pickup     string          `json:"pickup"`
	Dropoff    string          `json:"dropoff"`
	Passengers int             `json:"passengers"`
	Cart       models.CartSize `json:"cart"`
}

// Submit creates a pending trip request and then tries a best-effort
// synchronous auto-assignment. Auto-assign failure is never fatal: the
// request stays Pending for manual acceptance.
func (e *Engine) Submit(in SubmitInput) (models.TripRequest, error) {
	if in.RiderName == "" || in.Pickup == "" || in.Dropoff == "" {
		return models.TripRequest{}, fmt.Errorf("rider, pickup and dropoff are required: %w", ErrBadRequest)
	}
	if in.Passengers <= 0 {
		in.Passengers = 1
	}
	if in.Cart == "" {
		in.Cart = models.CartStandard
	}
	if in.Cart != models.CartStandard && in.Cart != models.CartLarge {
		return models.TripRequest{}, fmt.Errorf("cart size %q: %w", in.Cart, ErrBadRequest)
	}

	now := e.Now()
	key := in.RiderName + "|" + in.Pickup + "|" + in.Dropoff

	e.mu.Lock()
	for k, prev := range e.recent {
		if now.Sub(prev.at) > e.dupWindow {
			delete(e.recent, k)
		}
	}
	if prev, ok := e.recent[key]; ok && now.Sub(prev.at) <= e.dupWindow {
		if existing, found := e.requests.Get(prev.requestID); found {
			e.mu.Unlock()
			observability.DuplicatesSuppressed.Inc()
			return existing, nil
		}
	}
	req := models.TripRequest{
		ID:            newID(),
		RiderName:     in.RiderName,
		Pickup:        in.Pickup,
		Dropoff:       in.Dropoff,
		Passengers:    in.Passengers,
		Cart:          in.Cart,
		EstimatedFare: e.fares.Estimate(in.Pickup, in.Dropoff, in.Passengers, in.Cart),
		Status:        models.RequestPending,
		DeclinedBy:    make(map[string]struct{}),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	e.recent[key] = recentSubmission{requestID: req.ID, at: now}
	// store before releasing the suppression index so a racing duplicate
	// always finds the record it is being collapsed into
	e.requests.Put(req)
	e.mu.Unlock()
	if _, ok := e.riders.Get(in.RiderName); !ok {
		e.riders.Put(models.Rider{Name: in.RiderName})
	}
	observability.RequestsSubmitted.Inc()
	e.notify(Event{Type: "request_submitted", RequestID: req.ID, RiderName: req.RiderName, Status: string(req.Status), At: now})

	if trip, err := e.autoAssign(req.ID); err != nil {
		e.logger.Warn("auto-assign skipped", "request_id", req.ID, "error", err)
	} else {
		e.logger.Info("auto-assigned", "request_id", req.ID, "trip_id", trip.ID, "driver_id", trip.DriverID)
	}

	if latest, ok := e.requests.Get(req.ID); ok {
		return latest, nil
	}
	return req, nil
}

// autoAssign picks the available driver with the highest rolling rating,
// lowest id on ties, and runs the usual assignment bundle.
func (e *Engine) autoAssign(requestID string) (models.Trip, error) {
	var best *models.Driver
	for _, d := range e.drivers.List() {
		if !d.Available {
			continue
		}
		d := d
		if best == nil || d.Rating > best.Rating || (d.Rating == best.Rating && d.ID < best.ID) {
			best = &d
		}
	}
	if best == nil {
		return models.Trip{}, fmt.Errorf("no available drivers: %w", ErrConflict)
	}
	return e.assign(requestID, best.ID, "auto")
}

// Accept is a driver explicitly claiming a pending request. Preconditions
// are re-checked under the entity locks, so two concurrent accepts produce
// exactly one winner and a Conflict for the loser.
func (e *Engine) Accept(requestID, driverID string) (models.Trip, error) {
	return e.assign(requestID, driverID, "manual")
}

// assign performs the atomic bundle: create trip, mark request Accepted,
// flip the driver to busy. Lock order is fixed request-then-driver so the
// manual and auto paths cannot deadlock against each other.
func (e *Engine) assign(requestID, driverID, mode string) (models.Trip, error) {
	reqLock := e.lock(e.reqLocks, requestID)
	reqLock.Lock()
	defer reqLock.Unlock()

	req, ok := e.requests.Get(requestID)
	if !ok {
		return models.Trip{}, fmt.Errorf("request %s: %w", requestID, ErrNotFound)
	}
	if req.Status != models.RequestPending {
		observability.ConflictsTotal.Inc()
		return models.Trip{}, fmt.Errorf("request %s already %s: %w", requestID, req.Status, ErrConflict)
	}

	drvLock := e.lock(e.drvLocks, driverID)
	drvLock.Lock()
	defer drvLock.Unlock()

	drv, ok := e.drivers.Get(driverID)
	if !ok {
		return models.Trip{}, fmt.Errorf("driver %s: %w", driverID, ErrNotFound)
	}
	if !drv.Available {
		observability.ConflictsTotal.Inc()
		return models.Trip{}, fmt.Errorf("driver %s busy: %w", driverID, ErrConflict)
	}

	minutes := 0
	if route, err := e.planner.ShortestPath(req.Pickup, req.Dropoff); err == nil && route.Valid {
		minutes = route.Minutes
	}

	now := e.Now()
	trip := models.Trip{
		ID:         newID(),
		RequestID:  req.ID,
		DriverID:   drv.ID,
		RiderName:  req.RiderName,
		Pickup:     req.Pickup,
		Dropoff:    req.Dropoff,
		Passengers: req.Passengers,
		Cart:       req.Cart,
		Fare:       req.EstimatedFare,
		Status:     models.TripActive,
		Phase:      models.PhasePreRide,
		Minutes:    minutes,
		StartedAt:  now,
	}
	e.trips.Put(trip)

	req.Status = models.RequestAccepted
	req.UpdatedAt = now
	e.requests.Put(req)

	drv.Available = false
	drv.TripID = trip.ID
	drv.Updated = now
	e.drivers.Put(drv)

	observability.AssignmentsTotal.WithLabelValues(mode).Inc()
	e.notify(Event{Type: "trip_assigned", RequestID: req.ID, TripID: trip.ID, DriverID: drv.ID, RiderName: req.RiderName, Status: string(trip.Status), At: now})
	return trip, nil
}

// Decline records the driver in the request's declined set. The request
// stays Pending and visible to other drivers; availability is untouched.
func (e *Engine) Decline(requestID, driverID string) error {
	reqLock := e.lock(e.reqLocks, requestID)
	reqLock.Lock()
	defer reqLock.Unlock()

	req, ok := e.requests.Get(requestID)
	if !ok {
		return fmt.Errorf("request %s: %w", requestID, ErrNotFound)
	}
	if req.Status != models.RequestPending {
		return fmt.Errorf("request %s already %s: %w", requestID, req.Status, ErrConflict)
	}
	if _, ok := e.drivers.Get(driverID); !ok {
		return fmt.Errorf("driver %s: %w", driverID, ErrNotFound)
	}
	if req.DeclinedBy == nil {
		req.DeclinedBy = make(map[string]struct{})
	}
	req.DeclinedBy[driverID] = struct{}{}
	req.UpdatedAt = e.Now()
	e.requests.Put(req)
	return nil
}

// CancelRequest removes a still-pending request. A cancellation racing an
// acceptance loses to whichever commits first and surfaces a Conflict.
func (e *Engine) CancelRequest(requestID string) error {
	reqLock := e.lock(e.reqLocks, requestID)
	reqLock.Lock()
	defer reqLock.Unlock()

	req, ok := e.requests.Get(requestID)
	if !ok {
		return fmt.Errorf("request %s: %w", requestID, ErrNotFound)
	}
	if req.Status != models.RequestPending {
		observability.ConflictsTotal.Inc()
		return fmt.Errorf("request %s already %s: %w", requestID, req.Status, ErrConflict)
	}
	e.requests.Delete(requestID)
	e.notify(Event{Type: "request_cancelled", RequestID: requestID, RiderName: req.RiderName, At: e.Now()})
	return nil
}

// StartTrip moves an assigned trip into In Progress.
func (e *Engine) StartTrip(tripID string) (models.Trip, error) {
	trpLock := e.lock(e.trpLocks, tripID)
	trpLock.Lock()
	defer trpLock.Unlock()

	trip, ok := e.trips.Get(tripID)
	if !ok {
		return models.Trip{}, fmt.Errorf("trip %s: %w", tripID, ErrNotFound)
	}
	if !models.CanTransition(trip.Status, models.TripInProgress) {
		return models.Trip{}, fmt.Errorf("trip %s is %s: %w", tripID, trip.Status, ErrInvalidState)
	}
	trip.Status = models.TripInProgress
	e.trips.Put(trip)
	e.notify(Event{Type: "trip_started", TripID: trip.ID, DriverID: trip.DriverID, RiderName: trip.RiderName, Status: string(trip.Status), At: e.Now()})
	return trip, nil
}

// CompleteTrip finishes the trip, releases the driver, and bumps both
// participants' completed-trip counters.
func (e *Engine) CompleteTrip(tripID string) (models.Trip, error) {
	trpLock := e.lock(e.trpLocks, tripID)
	trpLock.Lock()
	defer trpLock.Unlock()

	trip, ok := e.trips.Get(tripID)
	if !ok {
		return models.Trip{}, fmt.Errorf("trip %s: %w", tripID, ErrNotFound)
	}
	if !models.CanTransition(trip.Status, models.TripCompleted) {
		return models.Trip{}, fmt.Errorf("trip %s is %s: %w", tripID, trip.Status, ErrInvalidState)
	}

	now := e.Now()
	trip.Status = models.TripCompleted
	trip.Phase = models.PhaseAtDropoff
	trip.EndedAt = &now
	e.trips.Put(trip)

	e.releaseDriver(trip, true, now)
	if rider, ok := e.riders.Get(trip.RiderName); ok {
		rider.TripsCompleted++
		e.riders.Put(rider)
	}
	e.archiveTrip(trip)
	observability.TripsCompleted.Inc()
	e.notify(Event{Type: "trip_completed", TripID: trip.ID, DriverID: trip.DriverID, RiderName: trip.RiderName, Status: string(trip.Status), At: now})
	return trip, nil
}

// CancelTrip is only permitted before the trip progresses past its initial
// status. An assigned driver is released symmetrically to completion.
func (e *Engine) CancelTrip(tripID string) (models.Trip, error) {
	trpLock := e.lock(e.trpLocks, tripID)
	trpLock.Lock()
	defer trpLock.Unlock()

	trip, ok := e.trips.Get(tripID)
	if !ok {
		return models.Trip{}, fmt.Errorf("trip %s: %w", tripID, ErrNotFound)
	}
	if !models.CanTransition(trip.Status, models.TripCancelled) {
		return models.Trip{}, fmt.Errorf("trip %s is %s: %w", tripID, trip.Status, ErrInvalidState)
	}

	now := e.Now()
	trip.Status = models.TripCancelled
	trip.EndedAt = &now
	e.trips.Put(trip)

	e.releaseDriver(trip, false, now)
	e.archiveTrip(trip)
	observability.TripsCancelled.Inc()
	e.notify(Event{Type: "trip_cancelled", TripID: trip.ID, DriverID: trip.DriverID, RiderName: trip.RiderName, Status: string(trip.Status), At: now})
	return trip, nil
}

// SetPhase advances the informational driver-location marker. Values outside
// the fixed set are rejected; terminal trips are immutable.
func (e *Engine) SetPhase(tripID string, phase models.Phase) (models.Trip, error) {
	if !models.ValidPhase(phase) {
		return models.Trip{}, fmt.Errorf("phase %q: %w", phase, ErrBadRequest)
	}
	trpLock := e.lock(e.trpLocks, tripID)
	trpLock.Lock()
	defer trpLock.Unlock()

	trip, ok := e.trips.Get(tripID)
	if !ok {
		return models.Trip{}, fmt.Errorf("trip %s: %w", tripID, ErrNotFound)
	}
	if trip.Terminal() {
		return models.Trip{}, fmt.Errorf("trip %s is %s: %w", tripID, trip.Status, ErrInvalidState)
	}
	trip.Phase = phase
	e.trips.Put(trip)
	return trip, nil
}

// SubmitRating validates and records a post-trip rating, then recomputes
// the subject's rolling average.
func (e *Engine) SubmitRating(r models.Rating) error {
	if r.Score < 1 || r.Score > 5 {
		return fmt.Errorf("score %d out of range: %w", r.Score, ErrBadRequest)
	}
	if r.Kind != models.RiderRatesDriver && r.Kind != models.DriverRatesRider {
		return fmt.Errorf("rating kind %q: %w", r.Kind, ErrBadRequest)
	}

	trpLock := e.lock(e.trpLocks, r.TripID)
	trpLock.Lock()
	defer trpLock.Unlock()

	trip, ok := e.trips.Get(r.TripID)
	if !ok {
		return fmt.Errorf("trip %s: %w", r.TripID, ErrNotFound)
	}
	if trip.Status != models.TripCompleted {
		return fmt.Errorf("trip %s is %s, ratings need a completed trip: %w", r.TripID, trip.Status, ErrInvalidState)
	}
	switch r.Kind {
	case models.RiderRatesDriver:
		if r.Author != trip.RiderName || r.Subject != trip.DriverID {
			return fmt.Errorf("rating participants do not match trip %s: %w", r.TripID, ErrInvalidState)
		}
	case models.DriverRatesRider:
		if r.Author != trip.DriverID || r.Subject != trip.RiderName {
			return fmt.Errorf("rating participants do not match trip %s: %w", r.TripID, ErrInvalidState)
		}
	}
	if _, exists := e.aggregator.Ratings.Get(r.TripID, r.Kind); exists {
		return fmt.Errorf("trip %s already rated: %w", r.TripID, ErrConflict)
	}

	r.CreatedAt = e.Now()
	e.aggregator.Record(r)
	return nil
}

// UpsertDriver merges an onboarding or status update from the collaborator-
// owned driver store. Availability cannot be forced while a trip is active.
func (e *Engine) UpsertDriver(d models.Driver) (models.Driver, error) {
	if d.ID == "" {
		return models.Driver{}, fmt.Errorf("driver id required: %w", ErrBadRequest)
	}
	drvLock := e.lock(e.drvLocks, d.ID)
	drvLock.Lock()
	defer drvLock.Unlock()

	existing, ok := e.drivers.Get(d.ID)
	if ok && existing.TripID != "" {
		d.Available = false
		d.TripID = existing.TripID
		d.TripsCompleted = existing.TripsCompleted
		d.Rating = existing.Rating
	} else if ok {
		d.TripID = ""
		d.TripsCompleted = existing.TripsCompleted
		if d.Rating == 0 {
			d.Rating = existing.Rating
		}
	} else if d.TripID != "" {
		// trip references are engine-owned; an onboarding record cannot
		// arrive already bound to a trip
		return models.Driver{}, fmt.Errorf("driver %s: unexpected trip reference %q: %w", d.ID, d.TripID, ErrBadRequest)
	}
	d.Updated = e.Now()
	e.drivers.Put(d)
	return d, nil
}

// Query operations, cheap enough for clients to poll.

func (e *Engine) Request(id string) (models.TripRequest, error) {
	req, ok := e.requests.Get(id)
	if !ok {
		return models.TripRequest{}, fmt.Errorf("request %s: %w", id, ErrNotFound)
	}
	return req, nil
}

func (e *Engine) Trip(id string) (models.Trip, error) {
	trip, ok := e.trips.Get(id)
	if !ok {
		return models.Trip{}, fmt.Errorf("trip %s: %w", id, ErrNotFound)
	}
	return trip, nil
}

func (e *Engine) Driver(id string) (models.Driver, error) {
	drv, ok := e.drivers.Get(id)
	if !ok {
		return models.Driver{}, fmt.Errorf("driver %s: %w", id, ErrNotFound)
	}
	return drv, nil
}

// PendingRequests lists requests still open for manual acceptance, oldest
// first.
func (e *Engine) PendingRequests() []models.TripRequest {
	all := e.requests.List()
	out := make([]models.TripRequest, 0, len(all))
	for _, r := range all {
		if r.Status == models.RequestPending {
			out = append(out, r)
		}
	}
	return out
}

func (e *Engine) EstimateRoute(from, to string) (routing.Route, error) {
	return e.planner.ShortestPath(from, to)
}

func (e *Engine) ValidateRoute(from, to string) routing.Validation {
	return e.planner.ValidateRoute(from, to)
}

func (e *Engine) AlternativeRoutes(from, to string, limit int) ([]routing.Route, error) {
	return e.planner.AlternativeRoutes(from, to, limit)
}

func (e *Engine) EstimateFare(from, to string, passengers int, cart models.CartSize) float64 {
	return e.fares.Estimate(from, to, passengers, cart)
}

// ClosestDriver finds the available driver nearest to pickup by planned
// travel time over the campus graph.
func (e *Engine) ClosestDriver(pickup string) *routing.Nearest {
	drivers := e.drivers.List()
	cands := make([]routing.Candidate, 0, len(drivers))
	for _, d := range drivers {
		if d.Available {
			cands = append(cands, routing.Candidate{DriverID: d.ID, Location: d.Location})
		}
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].DriverID < cands[j].DriverID })
	return e.planner.ClosestAvailableDriver(pickup, cands)
}

func (e *Engine) releaseDriver(trip models.Trip, completed bool, now time.Time) {
	drvLock := e.lock(e.drvLocks, trip.DriverID)
	drvLock.Lock()
	defer drvLock.Unlock()

	drv, ok := e.drivers.Get(trip.DriverID)
	if !ok || drv.TripID != trip.ID {
		return
	}
	drv.Available = true
	drv.TripID = ""
	if completed {
		drv.TripsCompleted++
	}
	drv.Updated = now
	e.drivers.Put(drv)
}

func (e *Engine) archiveTrip(trip models.Trip) {
	if e.archive == nil {
		return
	}
	if err := e.archive.ArchiveTrip(trip); err != nil {
		e.logger.Warn("trip archive failed", "trip_id", trip.ID, "error", err)
	}
}

func (e *Engine) notify(ev Event) {
	for _, n := range e.notifiers {
		n.Notify(ev)
	}
}

func (e *Engine) lock(table map[string]*sync.Mutex, id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	if l, ok := table[id]; ok {
		return l
	}
	l := &sync.Mutex{}
	table[id] = l
	return l
}

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
