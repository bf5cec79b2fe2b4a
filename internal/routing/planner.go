// Package routing computes shortest travel times over the campus graph.
package routing

import (
	"container/heap"
	"fmt"
	"sort"

	"github.com/example/campus-dispatch/internal/campus"
)

// Route is the result of a shortest-path query. Valid is false when no path
// exists; callers must check it, an unreachable pair is not an error.
type Route struct {
	Stops   []string `json:"stops"`
	Minutes int      `json:"minutes"`
	Valid   bool     `json:"valid"`
}

type Planner struct {
	Graph *campus.Graph

	// Validation thresholds; zero values disable the warning.
	WarnMinutes        int
	WarnStraightMeters float64
}

func NewPlanner(g *campus.Graph) *Planner {
	return &Planner{Graph: g, WarnMinutes: 15, WarnStraightMeters: 3000}
}

// ShortestPath runs Dijkstra from start to end. start == end yields a
// one-stop route with zero minutes. Unknown locations are an error;
// an unreachable pair is Valid=false.
func (p *Planner) ShortestPath(start, end string) (Route, error) {
	if !p.Graph.Exists(start) {
		return Route{}, fmt.Errorf("start %q: %w", start, campus.ErrUnknownLocation)
	}
	if !p.Graph.Exists(end) {
		return Route{}, fmt.Errorf("end %q: %w", end, campus.ErrUnknownLocation)
	}
	if start == end {
		return Route{Stops: []string{start}, Minutes: 0, Valid: true}, nil
	}

	dist := map[string]int{start: 0}
	prev := map[string]string{}
	done := map[string]bool{}

	pq := &queue{{name: start, dist: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(*item)
		if done[cur.name] {
			continue
		}
		done[cur.name] = true
		if cur.name == end {
			break
		}
		neighbors, err := p.Graph.Neighbors(cur.name)
		if err != nil {
			return Route{}, err
		}
		for next, w := range neighbors {
			alt := cur.dist + w
			if d, seen := dist[next]; !seen || alt < d {
				dist[next] = alt
				prev[next] = cur.name
				heap.Push(pq, &item{name: next, dist: alt})
			}
		}
	}

	total, ok := dist[end]
	if !ok || !done[end] {
		return Route{Valid: false}, nil
	}

	stops := []string{end}
	for cur := end; cur != start; cur = prev[cur] {
		stops = append(stops, prev[cur])
	}
	for i, j := 0, len(stops)-1; i < j; i, j = i+1, j-1 {
		stops[i], stops[j] = stops[j], stops[i]
	}
	return Route{Stops: stops, Minutes: total, Valid: true}, nil
}

// AlternativeRoutes enumerates routes forced through each direct neighbor of
// start, sorted by total time and truncated to limit. It is a first-hop
// heuristic, not k-shortest-paths; infeasible candidates are skipped.
func (p *Planner) AlternativeRoutes(start, end string, limit int) ([]Route, error) {
	neighbors, err := p.Graph.Neighbors(start)
	if err != nil {
		return nil, err
	}
	if !p.Graph.Exists(end) {
		return nil, fmt.Errorf("end %q: %w", end, campus.ErrUnknownLocation)
	}
	routes := make([]Route, 0, len(neighbors))
	for via, w := range neighbors {
		if via == end {
			continue
		}
		rest, err := p.ShortestPath(via, end)
		if err != nil || !rest.Valid {
			continue
		}
		stops := append([]string{start}, rest.Stops...)
		routes = append(routes, Route{Stops: stops, Minutes: w + rest.Minutes, Valid: true})
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].Minutes < routes[j].Minutes })
	if limit > 0 && len(routes) > limit {
		routes = routes[:limit]
	}
	return routes, nil
}

// Validation is the result of a pre-flight route check. Errors make the
// route unusable; warnings are advisory only.
type Validation struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (p *Planner) ValidateRoute(start, end string) Validation {
	var v Validation
	if !p.Graph.Exists(start) {
		v.Errors = append(v.Errors, fmt.Sprintf("unknown location %q", start))
	}
	if !p.Graph.Exists(end) {
		v.Errors = append(v.Errors, fmt.Sprintf("unknown location %q", end))
	}
	if len(v.Errors) > 0 {
		return v
	}
	route, err := p.ShortestPath(start, end)
	if err != nil {
		v.Errors = append(v.Errors, err.Error())
		return v
	}
	if !route.Valid {
		v.Errors = append(v.Errors, fmt.Sprintf("no path from %q to %q", start, end))
		return v
	}
	v.Valid = true
	if p.WarnMinutes > 0 && route.Minutes > p.WarnMinutes {
		v.Warnings = append(v.Warnings, fmt.Sprintf("long trip: %d minutes", route.Minutes))
	}
	if p.WarnStraightMeters > 0 {
		a, _ := p.Graph.Location(start)
		b, _ := p.Graph.Location(end)
		if d := campus.Distance(a, b); d > p.WarnStraightMeters {
			v.Warnings = append(v.Warnings, fmt.Sprintf("long distance: %.0f meters straight-line", d))
		}
	}
	return v
}

// Candidate is an available driver considered for pickup proximity.
type Candidate struct {
	DriverID string
	Location string
}

// Nearest identifies the driver closest to a pickup point by planned minutes.
type Nearest struct {
	DriverID string `json:"driver_id"`
	Minutes  int    `json:"minutes"`
}

// ClosestAvailableDriver picks the candidate with the minimum valid travel
// time to pickup. Candidates with no valid path are excluded, never treated
// as zero-distance. Returns nil when nobody can reach the pickup.
func (p *Planner) ClosestAvailableDriver(pickup string, candidates []Candidate) *Nearest {
	var best *Nearest
	for _, c := range candidates {
		route, err := p.ShortestPath(c.Location, pickup)
		if err != nil || !route.Valid {
			continue
		}
		if best == nil || route.Minutes < best.Minutes {
			best = &Nearest{DriverID: c.DriverID, Minutes: route.Minutes}
		}
	}
	return best
}

type item struct {
	name  string
	dist  int
	index int
}

type queue []*item

func (q queue) Len() int            { return len(q) }
func (q queue) Less(i, j int) bool  { return q[i].dist < q[j].dist }
func (q queue) Swap(i, j int)       { q[i], q[j] = q[j], q[i]; q[i].index = i; q[j].index = j }
func (q *queue) Push(x any)         { it := x.(*item); it.index = len(*q); *q = append(*q, it) }
func (q *queue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return it
}
