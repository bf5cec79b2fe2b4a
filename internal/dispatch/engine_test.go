package dispatch

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/campus-dispatch/internal/campus"
	"github.com/example/campus-dispatch/internal/fare"
	"github.com/example/campus-dispatch/internal/models"
	"github.com/example/campus-dispatch/internal/rating"
	"github.com/example/campus-dispatch/internal/routing"
	"github.com/example/campus-dispatch/internal/storage"
)

type env struct {
	engine  *Engine
	drivers *storage.MemoryDrivers
	riders  *storage.MemoryRiders
	ratings *storage.MemoryRatings
	clock   *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newEnv(t *testing.T) *env {
	t.Helper()
	g := campus.NewGraph()
	for _, name := range []string{"A", "B", "C", "Island"} {
		g.AddLocation(campus.Location{Name: name})
	}
	for _, e := range []struct {
		a, b string
		w    int
	}{{"A", "B", 2}, {"B", "C", 3}} {
		if err := g.AddPath(e.a, e.b, e.w); err != nil {
			t.Fatal(err)
		}
	}
	planner := routing.NewPlanner(g)
	drivers := storage.NewMemoryDrivers()
	riders := storage.NewMemoryRiders()
	ratings := storage.NewMemoryRatings()

	engine := NewEngine(Options{
		Planner:    planner,
		Fares:      fare.NewCalculator(planner, fare.DefaultConfig()),
		Drivers:    drivers,
		Riders:     riders,
		Requests:   storage.NewMemoryRequests(),
		Trips:      storage.NewMemoryTrips(),
		Aggregator: rating.NewAggregator(ratings, drivers, riders),
	})
	clock := &fakeClock{now: time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)}
	engine.Now = clock.Now
	return &env{engine: engine, drivers: drivers, riders: riders, ratings: ratings, clock: clock}
}

func (e *env) addDriver(t *testing.T, id string, rating float64, location string) {
	t.Helper()
	e.drivers.Put(models.Driver{ID: id, Name: id, Location: location, Available: true, Rating: rating, Status: "active"})
}

func (e *env) submit(t *testing.T, rider string) models.TripRequest {
	t.Helper()
	req, err := e.engine.Submit(SubmitInput{RiderName: rider, Pickup: "A", Dropoff: "C", Passengers: 1})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return req
}

// checkInvariant asserts availability and current-trip reference agree for
// every stored driver.
func (e *env) checkInvariant(t *testing.T) {
	t.Helper()
	for _, d := range e.drivers.List() {
		if d.Available != (d.TripID == "") {
			t.Fatalf("invariant broken for %s: available=%v trip_id=%q", d.ID, d.Available, d.TripID)
		}
	}
}

func TestSubmitStaysPendingWithoutDrivers(t *testing.T) {
	e := newEnv(t)
	req := e.submit(t, "alice")
	if req.Status != models.RequestPending {
		t.Fatalf("expected Pending, got %s", req.Status)
	}
	if req.EstimatedFare != 5.50 {
		t.Fatalf("expected fare 5.50, got %.2f", req.EstimatedFare)
	}
}

func TestSubmitDuplicateSuppression(t *testing.T) {
	e := newEnv(t)
	first := e.submit(t, "alice")
	e.clock.Advance(10 * time.Second)
	second := e.submit(t, "alice")
	if second.ID != first.ID {
		t.Fatalf("expected duplicate to collapse, got %s and %s", first.ID, second.ID)
	}

	e.clock.Advance(31 * time.Second)
	third := e.submit(t, "alice")
	if third.ID == first.ID {
		t.Fatal("expected a fresh request outside the window")
	}
}

func TestSubmitDifferentRoutesAreNotDuplicates(t *testing.T) {
	e := newEnv(t)
	first := e.submit(t, "alice")
	other, err := e.engine.Submit(SubmitInput{RiderName: "alice", Pickup: "B", Dropoff: "C"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if other.ID == first.ID {
		t.Fatal("different pickup must not collapse")
	}
}

func TestSubmitAutoAssignsBestRatedDriver(t *testing.T) {
	e := newEnv(t)
	e.addDriver(t, "d-steady", 4.5, "B")
	e.addDriver(t, "d-star", 4.9, "A")

	req := e.submit(t, "alice")
	if req.Status != models.RequestAccepted {
		t.Fatalf("expected Accepted, got %s", req.Status)
	}
	star, _ := e.drivers.Get("d-star")
	if star.Available {
		t.Fatal("expected the 4.9 driver to be busy")
	}
	if star.TripID == "" {
		t.Fatal("expected the 4.9 driver to reference the trip")
	}
	trip, err := e.engine.Trip(star.TripID)
	if err != nil {
		t.Fatalf("trip: %v", err)
	}
	if trip.DriverID != "d-star" || trip.Status != models.TripActive {
		t.Fatalf("unexpected trip %+v", trip)
	}
	steady, _ := e.drivers.Get("d-steady")
	if !steady.Available {
		t.Fatal("the 4.5 driver must stay available")
	}
	e.checkInvariant(t)
}

func TestAutoAssignTieBreaksByLowestID(t *testing.T) {
	e := newEnv(t)
	e.addDriver(t, "d2", 4.5, "A")
	e.addDriver(t, "d1", 4.5, "B")

	req := e.submit(t, "alice")
	if req.Status != models.RequestAccepted {
		t.Fatalf("expected Accepted, got %s", req.Status)
	}
	d1, _ := e.drivers.Get("d1")
	if d1.Available {
		t.Fatal("expected d1 to win the tie")
	}
}

func TestManualAcceptThenConflict(t *testing.T) {
	e := newEnv(t)
	req := e.submit(t, "alice") // stays pending, no drivers yet
	e.addDriver(t, "d1", 4.0, "A")
	e.addDriver(t, "d2", 4.0, "B")

	trip, err := e.engine.Accept(req.ID, "d1")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if trip.DriverID != "d1" {
		t.Fatalf("expected d1, got %s", trip.DriverID)
	}

	if _, err := e.engine.Accept(req.ID, "d2"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	d2, _ := e.drivers.Get("d2")
	if !d2.Available {
		t.Fatal("losing driver must stay available")
	}
	e.checkInvariant(t)
}

func TestAcceptBusyDriverConflict(t *testing.T) {
	e := newEnv(t)
	first := e.submit(t, "alice")
	e.addDriver(t, "d1", 4.0, "A")
	if _, err := e.engine.Accept(first.ID, "d1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	second := e.submit(t, "bob")
	if _, err := e.engine.Accept(second.ID, "d1"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for busy driver, got %v", err)
	}
}

func TestAcceptUnknownRequestOrDriver(t *testing.T) {
	e := newEnv(t)
	req := e.submit(t, "alice")
	if _, err := e.engine.Accept("nope", "d1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := e.engine.Accept(req.ID, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentAcceptSingleWinner(t *testing.T) {
	e := newEnv(t)
	req := e.submit(t, "alice")

	const attempts = 8
	for i := 0; i < attempts; i++ {
		e.addDriver(t, fmt.Sprintf("d%d", i), 4.0, "A")
	}

	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(driverID string) {
			defer wg.Done()
			_, err := e.engine.Accept(req.ID, driverID)
			errs <- err
		}(fmt.Sprintf("d%d", i))
	}
	wg.Wait()
	close(errs)

	var wins, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != attempts-1 {
		t.Fatalf("expected exactly one winner, got wins=%d conflicts=%d", wins, conflicts)
	}

	final, err := e.engine.Request(req.ID)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if final.Status != models.RequestAccepted {
		t.Fatalf("expected Accepted, got %s", final.Status)
	}
	busy := 0
	for _, d := range e.drivers.List() {
		if !d.Available {
			busy++
		}
	}
	if busy != 1 {
		t.Fatalf("expected exactly one busy driver, got %d", busy)
	}
	e.checkInvariant(t)
}

func TestDeclineKeepsRequestPending(t *testing.T) {
	e := newEnv(t)
	req := e.submit(t, "alice")
	e.addDriver(t, "d1", 4.0, "A")

	if err := e.engine.Decline(req.ID, "d1"); err != nil {
		t.Fatalf("decline: %v", err)
	}
	after, _ := e.engine.Request(req.ID)
	if after.Status != models.RequestPending {
		t.Fatalf("expected Pending, got %s", after.Status)
	}
	if !after.Declined("d1") {
		t.Fatal("expected d1 in declined set")
	}
	d1, _ := e.drivers.Get("d1")
	if !d1.Available {
		t.Fatal("decline must not change availability")
	}
}

func TestCancelRequestLosesToAccept(t *testing.T) {
	e := newEnv(t)
	req := e.submit(t, "alice")
	e.addDriver(t, "d1", 4.0, "A")
	if _, err := e.engine.Accept(req.ID, "d1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := e.engine.CancelRequest(req.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCancelPendingRequest(t *testing.T) {
	e := newEnv(t)
	req := e.submit(t, "alice")
	if err := e.engine.CancelRequest(req.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := e.engine.Request(req.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after cancel, got %v", err)
	}
}

func TestCompleteReleasesDriver(t *testing.T) {
	e := newEnv(t)
	e.addDriver(t, "d1", 4.0, "A")
	req := e.submit(t, "alice") // auto-assigned to d1
	if req.Status != models.RequestAccepted {
		t.Fatalf("expected auto-assignment, got %s", req.Status)
	}
	d1, _ := e.drivers.Get("d1")

	done, err := e.engine.CompleteTrip(d1.TripID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != models.TripCompleted || done.EndedAt == nil {
		t.Fatalf("unexpected trip %+v", done)
	}

	d1, _ = e.drivers.Get("d1")
	if !d1.Available || d1.TripID != "" {
		t.Fatalf("driver not released: %+v", d1)
	}
	if d1.TripsCompleted != 1 {
		t.Fatalf("expected trip counter 1, got %d", d1.TripsCompleted)
	}
	rider, _ := e.riders.Get("alice")
	if rider.TripsCompleted != 1 {
		t.Fatalf("expected rider counter 1, got %d", rider.TripsCompleted)
	}
	e.checkInvariant(t)
}

func TestCompleteTwiceInvalidState(t *testing.T) {
	e := newEnv(t)
	e.addDriver(t, "d1", 4.0, "A")
	e.submit(t, "alice")
	d1, _ := e.drivers.Get("d1")

	if _, err := e.engine.CompleteTrip(d1.TripID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := e.engine.CompleteTrip(d1.TripID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestCancelAfterStartRejected(t *testing.T) {
	e := newEnv(t)
	e.addDriver(t, "d1", 4.0, "A")
	e.submit(t, "alice")
	d1, _ := e.drivers.Get("d1")

	if _, err := e.engine.StartTrip(d1.TripID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := e.engine.CancelTrip(d1.TripID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestCancelTripReleasesDriverWithoutCredit(t *testing.T) {
	e := newEnv(t)
	e.addDriver(t, "d1", 4.0, "A")
	e.submit(t, "alice")
	d1, _ := e.drivers.Get("d1")

	if _, err := e.engine.CancelTrip(d1.TripID); err != nil {
		t.Fatalf("cancel trip: %v", err)
	}
	d1, _ = e.drivers.Get("d1")
	if !d1.Available || d1.TripID != "" {
		t.Fatalf("driver not released: %+v", d1)
	}
	if d1.TripsCompleted != 0 {
		t.Fatalf("cancelled trip must not count, got %d", d1.TripsCompleted)
	}
	e.checkInvariant(t)
}

func TestSetPhase(t *testing.T) {
	e := newEnv(t)
	e.addDriver(t, "d1", 4.0, "A")
	e.submit(t, "alice")
	d1, _ := e.drivers.Get("d1")
	tripID := d1.TripID

	trip, err := e.engine.SetPhase(tripID, models.PhaseOnWay)
	if err != nil {
		t.Fatalf("set phase: %v", err)
	}
	if trip.Phase != models.PhaseOnWay {
		t.Fatalf("expected OnWay, got %s", trip.Phase)
	}

	if _, err := e.engine.SetPhase(tripID, models.Phase("Warp")); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}

	if _, err := e.engine.CompleteTrip(tripID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := e.engine.SetPhase(tripID, models.PhaseAtPickup); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on terminal trip, got %v", err)
	}
}

func TestRatingLifecycle(t *testing.T) {
	e := newEnv(t)
	e.addDriver(t, "d1", 0, "A")
	e.submit(t, "alice")
	d1, _ := e.drivers.Get("d1")
	tripID := d1.TripID

	r := models.Rating{TripID: tripID, Kind: models.RiderRatesDriver, Author: "alice", Subject: "d1", Score: 5}
	if err := e.engine.SubmitRating(r); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState before completion, got %v", err)
	}

	if _, err := e.engine.CompleteTrip(tripID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := e.engine.SubmitRating(r); err != nil {
		t.Fatalf("rate: %v", err)
	}
	if err := e.engine.SubmitRating(r); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate, got %v", err)
	}

	d1, _ = e.drivers.Get("d1")
	if d1.Rating != 5.00 {
		t.Fatalf("expected rolling rating 5.00, got %.2f", d1.Rating)
	}

	wrong := models.Rating{TripID: tripID, Kind: models.DriverRatesRider, Author: "intruder", Subject: "alice", Score: 1}
	if err := e.engine.SubmitRating(wrong); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for participant mismatch, got %v", err)
	}

	if err := e.engine.SubmitRating(models.Rating{TripID: tripID, Kind: models.RiderRatesDriver, Author: "alice", Subject: "d1", Score: 9}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest for out-of-range score, got %v", err)
	}
	if err := e.engine.SubmitRating(models.Rating{TripID: "ghost", Kind: models.RiderRatesDriver, Author: "a", Subject: "b", Score: 3}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertDriverCannotFreeBusyDriver(t *testing.T) {
	e := newEnv(t)
	e.addDriver(t, "d1", 4.0, "A")
	e.submit(t, "alice")

	updated, err := e.engine.UpsertDriver(models.Driver{ID: "d1", Name: "d1", Location: "C", Available: true})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if updated.Available || updated.TripID == "" {
		t.Fatalf("busy driver must stay busy: %+v", updated)
	}
	e.checkInvariant(t)
}

func TestUpsertNewDriverRejectsTripReference(t *testing.T) {
	e := newEnv(t)
	_, err := e.engine.UpsertDriver(models.Driver{ID: "dX", Name: "dX", Location: "A", Available: true, TripID: "bogus-trip"})
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
	if _, ok := e.drivers.Get("dX"); ok {
		t.Fatal("rejected upsert must not store a record")
	}

	clean, err := e.engine.UpsertDriver(models.Driver{ID: "dX", Name: "dX", Location: "A", Available: true})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !clean.Available || clean.TripID != "" {
		t.Fatalf("unexpected record %+v", clean)
	}
	e.checkInvariant(t)
}

func TestDuplicateIndexPruned(t *testing.T) {
	e := newEnv(t)
	e.submit(t, "alice")
	e.clock.Advance(31 * time.Second)
	if _, err := e.engine.Submit(SubmitInput{RiderName: "bob", Pickup: "A", Dropoff: "C"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	e.engine.mu.Lock()
	size := len(e.engine.recent)
	e.engine.mu.Unlock()
	if size != 1 {
		t.Fatalf("expected stale window entries evicted, got %d", size)
	}
}

func TestClosestDriverQuery(t *testing.T) {
	e := newEnv(t)
	e.addDriver(t, "d-far", 5.0, "A")      // 5 minutes to C
	e.addDriver(t, "d-near", 3.0, "B")     // 3 minutes to C
	e.addDriver(t, "d-cut", 5.0, "Island") // unreachable

	nearest := e.engine.ClosestDriver("C")
	if nearest == nil {
		t.Fatal("expected a driver")
	}
	if nearest.DriverID != "d-near" || nearest.Minutes != 3 {
		t.Fatalf("expected d-near/3, got %s/%d", nearest.DriverID, nearest.Minutes)
	}
}

func TestPendingRequestsListsOnlyPending(t *testing.T) {
	e := newEnv(t)
	first := e.submit(t, "alice")
	second, err := e.engine.Submit(SubmitInput{RiderName: "bob", Pickup: "B", Dropoff: "A"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	e.addDriver(t, "d1", 4.0, "A")
	if _, err := e.engine.Accept(first.ID, "d1"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	pending := e.engine.PendingRequests()
	if len(pending) != 1 || pending[0].ID != second.ID {
		t.Fatalf("expected only %s pending, got %+v", second.ID, pending)
	}
}

func TestSubmitValidation(t *testing.T) {
	e := newEnv(t)
	if _, err := e.engine.Submit(SubmitInput{Pickup: "A", Dropoff: "C"}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
	if _, err := e.engine.Submit(SubmitInput{RiderName: "x", Pickup: "A", Dropoff: "C", Cart: "gigantic"}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest for cart size, got %v", err)
	}
}

func TestSubmitUnknownLocationsFallBackToFlatFare(t *testing.T) {
	e := newEnv(t)
	req, err := e.engine.Submit(SubmitInput{RiderName: "alice", Pickup: "A", Dropoff: "Atlantis"})
	if err != nil {
		t.Fatalf("submit must not fail on unknown dropoff: %v", err)
	}
	if req.EstimatedFare != 8.00 {
		t.Fatalf("expected fallback fare 8.00, got %.2f", req.EstimatedFare)
	}
	if req.Status != models.RequestPending {
		t.Fatalf("expected Pending, got %s", req.Status)
	}
}
