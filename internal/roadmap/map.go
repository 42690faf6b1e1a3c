// Package roadmap loads road networks and answers routing and spatial
// lookups over them.
package roadmap

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/dhconnelly/rtreego"
	"gonum.org/v1/gonum/graph/simple"

	"traffic-sim/internal/collision"
)

var (
	// ErrInvalidMap is returned for documents that cannot be built into a Map
	ErrInvalidMap = errors.New("roadmap: invalid map")
	// ErrUnknownIntersection is returned for ids the map does not contain
	ErrUnknownIntersection = errors.New("roadmap: unknown intersection")
	// ErrNoRoute is returned when the destination is unreachable
	ErrNoRoute = errors.New("roadmap: no route")
)

const (
	// LookupRows and LookupCols size the click-lookup grid
	LookupRows = 128
	LookupCols = 128

	// DefaultMargin pads the derived world around the outermost intersections
	DefaultMargin = 50.0
)

// Intersection is a routable point
type Intersection struct {
	ID   string  `json:"id" msgpack:"id"`
	X    float64 `json:"x" msgpack:"x"`
	Y    float64 `json:"y" msgpack:"y"`
	node int64
}

// Road joins two intersections. Two-way roads are routable in both directions.
type Road struct {
	ID     string  `json:"id" msgpack:"id"`
	From   string  `json:"from" msgpack:"from"`
	To     string  `json:"to" msgpack:"to"`
	Name   string  `json:"name,omitempty" msgpack:"name,omitempty"`
	Lanes  int     `json:"lanes" msgpack:"lanes"`
	OneWay bool    `json:"one_way" msgpack:"one_way"`
	Length float64 `json:"length" msgpack:"length"`

	x0, y0, x1, y1 float64
}

// Map is an immutable road network
type Map struct {
	Name string

	bounds        collision.Bounds
	intersections map[string]*Intersection
	byNode        []*Intersection
	roads         map[string]*Road
	roadOrder     []string

	graph  *simple.WeightedDirectedGraph
	lookup *collision.Grid
	view   *rtreego.Rtree
}

// New validates doc and builds the graph and spatial indexes
func New(doc *Document) (*Map, error) {
	if doc == nil || len(doc.Intersections) == 0 {
		return nil, fmt.Errorf("%w: no intersections", ErrInvalidMap)
	}
	m := &Map{
		Name:          doc.Name,
		intersections: make(map[string]*Intersection, len(doc.Intersections)),
		roads:         make(map[string]*Road, len(doc.Roads)),
		graph:         simple.NewWeightedDirectedGraph(0, math.Inf(1)),
	}

	var proj *Projection
	if doc.Geo != nil {
		p, err := NewProjection(*doc.Geo)
		if err != nil {
			return nil, err
		}
		proj = p
	}

	for _, spec := range doc.Intersections {
		if spec.ID == "" {
			return nil, fmt.Errorf("%w: intersection without id", ErrInvalidMap)
		}
		if _, dup := m.intersections[spec.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate intersection %q", ErrInvalidMap, spec.ID)
		}
		x, y := spec.X, spec.Y
		if spec.Lat != nil || spec.Lon != nil {
			if spec.Lat == nil || spec.Lon == nil {
				return nil, fmt.Errorf("%w: intersection %q needs both lat and lon", ErrInvalidMap, spec.ID)
			}
			if proj == nil {
				return nil, fmt.Errorf("%w: intersection %q uses lat/lon but the map has no geo box", ErrInvalidMap, spec.ID)
			}
			x, y = proj.Project(*spec.Lat, *spec.Lon)
		}
		if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
			return nil, fmt.Errorf("%w: intersection %q has non-finite coordinates", ErrInvalidMap, spec.ID)
		}
		in := &Intersection{ID: spec.ID, X: x, Y: y, node: int64(len(m.byNode))}
		m.intersections[in.ID] = in
		m.byNode = append(m.byNode, in)
		m.graph.AddNode(simple.Node(in.node))
	}

	for _, spec := range doc.Roads {
		road, err := m.addRoad(spec)
		if err != nil {
			return nil, err
		}
		m.roads[road.ID] = road
		m.roadOrder = append(m.roadOrder, road.ID)
	}
	sort.Strings(m.roadOrder)

	if doc.Bounds != nil {
		if err := doc.Bounds.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMap, err)
		}
		m.bounds = *doc.Bounds
		for _, in := range m.byNode {
			if !m.bounds.Contains(in.X, in.Y) {
				return nil, fmt.Errorf("%w: intersection %q lies outside the map bounds", ErrInvalidMap, in.ID)
			}
		}
	} else {
		m.bounds = m.extent(DefaultMargin)
	}

	if err := m.index(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Map) addRoad(spec RoadSpec) (*Road, error) {
	from, ok := m.intersections[spec.From]
	if !ok {
		return nil, fmt.Errorf("%w: road %q starts at unknown intersection %q", ErrInvalidMap, spec.ID, spec.From)
	}
	to, ok := m.intersections[spec.To]
	if !ok {
		return nil, fmt.Errorf("%w: road %q ends at unknown intersection %q", ErrInvalidMap, spec.ID, spec.To)
	}
	id := spec.ID
	if id == "" {
		id = spec.From + "-" + spec.To
	}
	if _, dup := m.roads[id]; dup {
		return nil, fmt.Errorf("%w: duplicate road %q", ErrInvalidMap, id)
	}
	if _, clash := m.intersections[id]; clash {
		return nil, fmt.Errorf("%w: road id %q is also an intersection id", ErrInvalidMap, id)
	}
	if spec.Lanes < 0 {
		return nil, fmt.Errorf("%w: road %q has negative lanes", ErrInvalidMap, id)
	}
	length := math.Hypot(to.X-from.X, to.Y-from.Y)
	if length == 0 {
		return nil, fmt.Errorf("%w: road %q has zero length", ErrInvalidMap, id)
	}
	lanes := spec.Lanes
	if lanes == 0 {
		lanes = 1
	}
	road := &Road{
		ID:     id,
		From:   from.ID,
		To:     to.ID,
		Name:   spec.Name,
		Lanes:  lanes,
		OneWay: spec.OneWay,
		Length: length,
		x0:     from.X,
		y0:     from.Y,
		x1:     to.X,
		y1:     to.Y,
	}
	m.connect(from, to, length)
	if !road.OneWay {
		m.connect(to, from, length)
	}
	return road, nil
}

// connect keeps the shorter edge when two roads join the same pair
func (m *Map) connect(from, to *Intersection, length float64) {
	if w, ok := m.graph.Weight(from.node, to.node); ok && w <= length {
		return
	}
	m.graph.SetWeightedEdge(m.graph.NewWeightedEdge(simple.Node(from.node), simple.Node(to.node), length))
}

// extent is the bounding box of all intersections grown by margin
func (m *Map) extent(margin float64) collision.Bounds {
	b := collision.Bounds{
		MinX: math.Inf(1), MinY: math.Inf(1),
		MaxX: math.Inf(-1), MaxY: math.Inf(-1),
	}
	for _, in := range m.byNode {
		b.MinX = math.Min(b.MinX, in.X)
		b.MinY = math.Min(b.MinY, in.Y)
		b.MaxX = math.Max(b.MaxX, in.X)
		b.MaxY = math.Max(b.MaxY, in.Y)
	}
	b.MinX -= margin
	b.MinY -= margin
	b.MaxX += margin
	b.MaxY += margin
	return b
}

// Bounds returns the world rectangle
func (m *Map) Bounds() collision.Bounds { return m.bounds }

// Intersection looks up an intersection by id
func (m *Map) Intersection(id string) (*Intersection, bool) {
	in, ok := m.intersections[id]
	return in, ok
}

// Road looks up a road by id
func (m *Map) Road(id string) (*Road, bool) {
	r, ok := m.roads[id]
	return r, ok
}

// Intersections returns every intersection in document order
func (m *Map) Intersections() []*Intersection {
	out := make([]*Intersection, len(m.byNode))
	copy(out, m.byNode)
	return out
}

// Roads returns every road sorted by id
func (m *Map) Roads() []*Road {
	out := make([]*Road, 0, len(m.roadOrder))
	for _, id := range m.roadOrder {
		out = append(out, m.roads[id])
	}
	return out
}

// RandomIntersection picks an intersection id uniformly
func (m *Map) RandomIntersection(rng *rand.Rand) string {
	return m.byNode[rng.Intn(len(m.byNode))].ID
}
