package roadmap

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/graph/path"
)

// Route returns the intersection ids of a shortest path from one
// intersection to another, both ends included. Road lengths are the weights.
// Among equally short paths the lexicographically smallest id sequence wins,
// so the same map always yields the same route.
func (m *Map) Route(from, to string) ([]string, error) {
	src, ok := m.intersections[from]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIntersection, from)
	}
	dst, ok := m.intersections[to]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIntersection, to)
	}
	if src == dst {
		return []string{from}, nil
	}

	paths, weight := path.DijkstraAllFrom(m.graph.Node(src.node), m.graph).AllTo(dst.node)
	if len(paths) == 0 || math.IsInf(weight, 1) {
		return nil, fmt.Errorf("%w: %s to %s", ErrNoRoute, from, to)
	}
	var best []string
	for _, nodes := range paths {
		ids := make([]string, len(nodes))
		for i, n := range nodes {
			ids[i] = m.byNode[n.ID()].ID
		}
		if best == nil || slices.Compare(ids, best) < 0 {
			best = ids
		}
	}
	return best, nil
}

// RouteLength sums the straight-line lengths between consecutive waypoints
func (m *Map) RouteLength(route []string) float64 {
	var total float64
	for i := 1; i < len(route); i++ {
		a, okA := m.intersections[route[i-1]]
		b, okB := m.intersections[route[i]]
		if !okA || !okB {
			continue
		}
		total += math.Hypot(b.X-a.X, b.Y-a.Y)
	}
	return total
}
