// Package campus holds the static weighted graph of named campus locations.
// The graph is seeded once at startup by the caller and read-only afterwards.
package campus

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

var ErrUnknownLocation = errors.New("unknown location")

type Category string

const (
	CategoryAcademic    Category = "academic"
	CategoryResidential Category = "residential"
	CategoryDining      Category = "dining"
	CategoryRecreation  Category = "recreation"
	CategoryHub         Category = "hub"
	CategoryLandmark    Category = "landmark"
)

// Location is a named point of interest. The name is the primary key.
type Location struct {
	Name     string   `json:"name"`
	Lat      float64  `json:"lat"`
	Lon      float64  `json:"lon"`
	Category Category `json:"category"`
}

// Graph is a directed weighted graph keyed by location name. Weights are
// travel time in whole minutes for a low-speed campus vehicle.
type Graph struct {
	mu        sync.RWMutex
	locations map[string]Location
	edges     map[string]map[string]int
}

func NewGraph() *Graph {
	return &Graph{
		locations: make(map[string]Location),
		edges:     make(map[string]map[string]int),
	}
}

func (g *Graph) AddLocation(loc Location) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.locations[loc.Name] = loc
}

// AddEdge registers a one-way edge. Both endpoints must already exist.
func (g *Graph) AddEdge(from, to string, minutes int) error {
	if minutes < 0 {
		return fmt.Errorf("edge %s->%s: negative weight %d", from, to, minutes)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.locations[from]; !ok {
		return fmt.Errorf("edge endpoint %q: %w", from, ErrUnknownLocation)
	}
	if _, ok := g.locations[to]; !ok {
		return fmt.Errorf("edge endpoint %q: %w", to, ErrUnknownLocation)
	}
	if g.edges[from] == nil {
		g.edges[from] = make(map[string]int)
	}
	g.edges[from][to] = minutes
	return nil
}

// AddPath registers the edge in both directions with the same weight.
func (g *Graph) AddPath(a, b string, minutes int) error {
	if err := g.AddEdge(a, b, minutes); err != nil {
		return err
	}
	return g.AddEdge(b, a, minutes)
}

func (g *Graph) Exists(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.locations[name]
	return ok
}

func (g *Graph) Location(name string) (Location, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	loc, ok := g.locations[name]
	if !ok {
		return Location{}, fmt.Errorf("%q: %w", name, ErrUnknownLocation)
	}
	return loc, nil
}

// Neighbors returns a copy of the outgoing edge map for a location.
func (g *Graph) Neighbors(name string) (map[string]int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.locations[name]; !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownLocation)
	}
	out := make(map[string]int, len(g.edges[name]))
	for to, w := range g.edges[name] {
		out[to] = w
	}
	return out, nil
}

// Locations returns all known locations sorted by name.
func (g *Graph) Locations() []Location {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Location, 0, len(g.locations))
	for _, loc := range g.locations {
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Distance is the straight-line distance in meters between two locations.
func Distance(a, b Location) float64 {
	const R = 6371000.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return R * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
