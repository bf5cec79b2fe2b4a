// Package rating recomputes rolling average scores for drivers and riders.
package rating

import (
	"math"

	"github.com/example/campus-dispatch/internal/models"
	"github.com/example/campus-dispatch/internal/storage"
)

type Aggregator struct {
	Ratings storage.RatingStore
	Drivers storage.DriverStore
	Riders  storage.RiderStore
}

func NewAggregator(ratings storage.RatingStore, drivers storage.DriverStore, riders storage.RiderStore) *Aggregator {
	return &Aggregator{Ratings: ratings, Drivers: drivers, Riders: riders}
}

// Record stores the rating and recomputes the subject's rolling average over
// its full history. Recomputing from scratch keeps the stored value
// independent of submission order.
func (a *Aggregator) Record(r models.Rating) {
	a.Ratings.Put(r)

	avg := a.Average(r.Subject)
	switch r.Kind {
	case models.RiderRatesDriver:
		if d, ok := a.Drivers.Get(r.Subject); ok {
			d.Rating = avg
			a.Drivers.Put(d)
		}
	case models.DriverRatesRider:
		if rd, ok := a.Riders.Get(r.Subject); ok {
			rd.Rating = avg
			a.Riders.Put(rd)
		}
	}
}

// Average is the mean of every rating ever submitted for the subject,
// rounded to two decimal places. Zero when no ratings exist.
func (a *Aggregator) Average(subject string) float64 {
	ratings := a.Ratings.BySubject(subject)
	if len(ratings) == 0 {
		return 0
	}
	var sum int
	for _, r := range ratings {
		sum += r.Score
	}
	return math.Round(float64(sum)/float64(len(ratings))*100) / 100
}
