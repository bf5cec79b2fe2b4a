package models

import "time"

type CartSize string

const (
	CartStandard CartSize = "standard"
	CartLarge    CartSize = "large"
)

type RequestStatus string

const (
	RequestPending  RequestStatus = "Pending"
	RequestAccepted RequestStatus = "Accepted"
)

type TripStatus string

const (
	TripActive     TripStatus = "Active"
	TripInProgress TripStatus = "In Progress"
	TripCompleted  TripStatus = "Completed"
	TripCancelled  TripStatus = "Cancelled"
)

// TripTransitions is the trip state flow as code. Anything not listed here
// is rejected rather than written through.
var TripTransitions = map[TripStatus][]TripStatus{
	TripActive:     {TripInProgress, TripCompleted, TripCancelled},
	TripInProgress: {TripCompleted},
}

func CanTransition(from, to TripStatus) bool {
	for _, s := range TripTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Phase is the driver-location marker clients poll for display. It advances
// independently of trip status and carries no dispatch semantics.
type Phase string

const (
	PhasePreRide   Phase = "PreRide"
	PhaseOnWay     Phase = "OnWay"
	PhaseAtPickup  Phase = "AtPickup"
	PhaseAtDropoff Phase = "AtDropoff"
)

func ValidPhase(p Phase) bool {
	switch p {
	case PhasePreRide, PhaseOnWay, PhaseAtPickup, PhaseAtDropoff:
		return true
	}
	return false
}

type Driver struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Location       string    `json:"location"` // free-text, usually a campus location name
	Available      bool      `json:"available"`
	TripID         string    `json:"trip_id,omitempty"` // empty iff Available
	TripsCompleted int       `json:"trips_completed"`
	Rating         float64   `json:"rating"` // rolling average, 2 fraction digits
	Status         string    `json:"status"` // operational label, soft lifecycle only
	Updated        time.Time `json:"updated"`
}

type Rider struct {
	Name           string  `json:"name"`
	TripsCompleted int     `json:"trips_completed"`
	Rating         float64 `json:"rating"`
}

type TripRequest struct {
	ID            string              `json:"id"`
	RiderName     string              `json:"rider_name"`
	Pickup        string              `json:"pickup"`
	Dropoff       string              `json:"dropoff"`
	Passengers    int                 `json:"passengers"`
	Cart          CartSize            `json:"cart"`
	EstimatedFare float64             `json:"estimated_fare"`
	Status        RequestStatus       `json:"status"`
	DeclinedBy    map[string]struct{} `json:"-"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// Declined reports whether the given driver has declined this request.
func (r TripRequest) Declined(driverID string) bool {
	_, ok := r.DeclinedBy[driverID]
	return ok
}

type Trip struct {
	ID         string     `json:"id"`
	RequestID  string     `json:"request_id"`
	DriverID   string     `json:"driver_id"`
	RiderName  string     `json:"rider_name"`
	Pickup     string     `json:"pickup"`
	Dropoff    string     `json:"dropoff"`
	Passengers int        `json:"passengers"`
	Cart       CartSize   `json:"cart"`
	Fare       float64    `json:"fare"`
	Status     TripStatus `json:"status"`
	Phase      Phase      `json:"phase"`
	Minutes    int        `json:"minutes"` // planned travel time over the campus graph
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// Terminal reports whether the trip has reached a final status.
func (t Trip) Terminal() bool {
	return t.Status == TripCompleted || t.Status == TripCancelled
}

type RatingKind string

const (
	RiderRatesDriver RatingKind = "rider_rates_driver"
	DriverRatesRider RatingKind = "driver_rates_rider"
)

type Rating struct {
	TripID    string     `json:"trip_id"`
	Kind      RatingKind `json:"kind"`
	Author    string     `json:"author"`
	Subject   string     `json:"subject"`
	Score     int        `json:"score"` // 1..5
	Comment   string     `json:"comment,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
