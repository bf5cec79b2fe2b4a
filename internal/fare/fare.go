// Package fare prices planned campus trips. Estimates are advisory: an
// unreachable or unknown route degrades to a flat fallback fare instead of
// failing, so fare lookups never block the request flow.
package fare

import (
	"math"

	"github.com/example/campus-dispatch/internal/models"
	"github.com/example/campus-dispatch/internal/routing"
)

type Config struct {
	Base        float64 // flat component of every fare
	PerMinute   float64 // rate applied to planned travel minutes
	GroupFactor float64 // multiplier when more than two passengers ride
	CartFactor  float64 // multiplier for a large cart
	Fallback    float64 // flat fare when no route can be planned
}

func DefaultConfig() Config {
	return Config{
		Base:        3.00,
		PerMinute:   0.50,
		GroupFactor: 1.25,
		CartFactor:  1.50,
		Fallback:    8.00,
	}
}

type Calculator struct {
	Planner *routing.Planner
	Config  Config
}

func NewCalculator(p *routing.Planner, cfg Config) *Calculator {
	return &Calculator{Planner: p, Config: cfg}
}

// Estimate returns a deterministic, non-negative, two-decimal fare for the
// given trip parameters. Routes that cannot be planned are priced at the
// configured flat fallback.
func (c *Calculator) Estimate(start, end string, passengers int, cart models.CartSize) float64 {
	route, err := c.Planner.ShortestPath(start, end)
	if err != nil || !route.Valid {
		return round2(c.Config.Fallback)
	}
	amount := c.Config.Base + float64(route.Minutes)*c.Config.PerMinute
	if passengers > 2 {
		amount *= c.Config.GroupFactor
	}
	if cart == models.CartLarge {
		amount *= c.Config.CartFactor
	}
	if amount < 0 {
		amount = 0
	}
	return round2(amount)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
