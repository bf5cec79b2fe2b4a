package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/campus-dispatch/internal/campus"
	"github.com/example/campus-dispatch/internal/dispatch"
	"github.com/example/campus-dispatch/internal/fare"
	"github.com/example/campus-dispatch/internal/models"
	"github.com/example/campus-dispatch/internal/notify"
	"github.com/example/campus-dispatch/internal/rating"
	"github.com/example/campus-dispatch/internal/routing"
	"github.com/example/campus-dispatch/internal/storage"
)

func newTestServer(t *testing.T) (*Server, storage.DriverStore) {
	t.Helper()
	g := campus.DefaultCampus()
	planner := routing.NewPlanner(g)
	drivers := storage.NewMemoryDrivers()
	riders := storage.NewMemoryRiders()
	engine := dispatch.NewEngine(dispatch.Options{
		Planner:    planner,
		Fares:      fare.NewCalculator(planner, fare.DefaultConfig()),
		Drivers:    drivers,
		Riders:     riders,
		Requests:   storage.NewMemoryRequests(),
		Trips:      storage.NewMemoryTrips(),
		Aggregator: rating.NewAggregator(storage.NewMemoryRatings(), drivers, riders),
	})
	return NewServer(engine, g, notify.NewHub(nil), nil, nil), drivers
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestSubmitAcceptCompleteFlow(t *testing.T) {
	s, drivers := newTestServer(t)
	drivers.Put(models.Driver{ID: "d1", Name: "Sam", Location: "Library", Available: true, Rating: 4.8})

	rec := do(t, s, "POST", "/api/v1/requests", dispatch.SubmitInput{
		RiderName: "alice", Pickup: "Library", Dropoff: "Stadium",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit: expected 201, got %d: %s", rec.Code, rec.Body)
	}
	req := decode[models.TripRequest](t, rec)
	if req.Status != models.RequestAccepted {
		t.Fatalf("expected auto-assignment, got %s", req.Status)
	}

	d, _ := drivers.Get("d1")
	if d.Available || d.TripID == "" {
		t.Fatalf("driver not assigned: %+v", d)
	}
	tripID := d.TripID

	if rec := do(t, s, "POST", "/api/v1/trips/"+tripID+"/start", nil); rec.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	rec = do(t, s, "POST", "/api/v1/trips/"+tripID+"/complete", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	trip := decode[models.Trip](t, rec)
	if trip.Status != models.TripCompleted {
		t.Fatalf("expected Completed, got %s", trip.Status)
	}

	d, _ = drivers.Get("d1")
	if !d.Available || d.TripID != "" {
		t.Fatalf("driver not released: %+v", d)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	s, drivers := newTestServer(t)
	drivers.Put(models.Driver{ID: "d1", Available: true})
	drivers.Put(models.Driver{ID: "d2", Available: true})

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown request", "GET", "/api/v1/requests/nope", nil, http.StatusNotFound},
		{"unknown trip", "GET", "/api/v1/trips/nope", nil, http.StatusNotFound},
		{"unknown driver", "GET", "/api/v1/drivers/nope", nil, http.StatusNotFound},
		{"missing rider", "POST", "/api/v1/requests", dispatch.SubmitInput{Pickup: "Library", Dropoff: "Stadium"}, http.StatusBadRequest},
		{"unknown pickup for closest", "GET", "/api/v1/drivers/closest?pickup=Atlantis", nil, http.StatusNotFound},
		{"unknown route endpoint", "GET", "/api/v1/routes/estimate?from=Library&to=Atlantis", nil, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := do(t, s, tc.method, tc.path, tc.body); rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body)
			}
		})
	}

	// accept races map to 409 and premature completion to 422
	rec := do(t, s, "POST", "/api/v1/requests", dispatch.SubmitInput{RiderName: "bob", Pickup: "Library", Dropoff: "Stadium"})
	req := decode[models.TripRequest](t, rec)
	if rec := do(t, s, "POST", fmt.Sprintf("/api/v1/requests/%s/accept", req.ID), driverAction{DriverID: "d2"}); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body)
	}
	d, _ := drivers.Get("d1")
	if rec := do(t, s, "POST", "/api/v1/trips/"+d.TripID+"/complete", nil); rec.Code != http.StatusOK {
		t.Fatalf("complete: got %d: %s", rec.Code, rec.Body)
	}
	if rec := do(t, s, "POST", "/api/v1/trips/"+d.TripID+"/complete", nil); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body)
	}
}

func TestRouteAndFareEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, "GET", "/api/v1/routes/estimate?from=Library&to=Stadium", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("estimate: got %d: %s", rec.Code, rec.Body)
	}
	route := decode[routing.Route](t, rec)
	if !route.Valid || len(route.Stops) < 2 || route.Minutes <= 0 {
		t.Fatalf("unexpected route %+v", route)
	}

	rec = do(t, s, "GET", "/api/v1/routes/validate?from=Library&to=Stadium", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("validate: got %d: %s", rec.Code, rec.Body)
	}
	v := decode[routing.Validation](t, rec)
	if !v.Valid {
		t.Fatalf("expected valid, got %+v", v)
	}

	rec = do(t, s, "GET", "/api/v1/fares/estimate?from=Library&to=Stadium&passengers=3", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("fare: got %d: %s", rec.Code, rec.Body)
	}
	out := decode[map[string]float64](t, rec)
	if out["fare"] <= 0 {
		t.Fatalf("expected positive fare, got %v", out)
	}

	rec = do(t, s, "GET", "/api/v1/locations", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("locations: got %d", rec.Code)
	}
	locs := decode[[]campus.Location](t, rec)
	if len(locs) == 0 {
		t.Fatal("expected seeded locations")
	}
}

func TestWSRequiresUpgradeHandshake(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, "GET", "/ws/client-1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 from the upgrader, got %d", rec.Code)
	}
	// the upgrader writes the error response itself; the handler must not
	// write a second one
	if bytes.Contains(rec.Body.Bytes(), []byte("upgrade failed")) {
		t.Fatalf("unexpected duplicate error body: %s", rec.Body)
	}
}

func TestDriverStatusUpsert(t *testing.T) {
	s, drivers := newTestServer(t)

	rec := do(t, s, "POST", "/internal/driver/status", models.Driver{ID: "d9", Name: "Kim", Location: "Library", Available: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if _, ok := drivers.Get("d9"); !ok {
		t.Fatal("driver not stored")
	}

	if rec := do(t, s, "GET", "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz: got %d", rec.Code)
	}
}
