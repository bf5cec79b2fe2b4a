package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsSubmitted    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "campus_dispatch", Name: "requests_submitted_total", Help: "Trip requests accepted for dispatch"})
	DuplicatesSuppressed = promauto.NewCounter(prometheus.CounterOpts{Namespace: "campus_dispatch", Name: "duplicates_suppressed_total", Help: "Trip requests collapsed into a recent identical submission"})
	AssignmentsTotal     = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "campus_dispatch", Name: "assignments_total", Help: "Successful driver assignments"}, []string{"mode"})
	ConflictsTotal       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "campus_dispatch", Name: "conflicts_total", Help: "Operations that lost a concurrent-mutation race"})
	TripsCompleted       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "campus_dispatch", Name: "trips_completed_total", Help: "Trips driven to completion"})
	TripsCancelled       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "campus_dispatch", Name: "trips_cancelled_total", Help: "Trips cancelled before progress"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "campus_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "campus_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
