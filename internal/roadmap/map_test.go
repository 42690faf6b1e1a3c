package roadmap

import (
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic-sim/internal/collision"
)

func defaultMap(t *testing.T) *Map {
	t.Helper()
	m, err := Default()
	require.NoError(t, err)
	return m
}

func build(t *testing.T, src string) (*Map, error) {
	t.Helper()
	doc, err := Parse([]byte(src), FormatYAML)
	if err != nil {
		return nil, err
	}
	return New(doc)
}

func TestDefaultMapLoads(t *testing.T) {
	m := defaultMap(t)
	assert.Equal(t, "Gridtown", m.Name)
	assert.Len(t, m.Intersections(), 9)
	assert.Len(t, m.Roads(), 13)
	assert.Equal(t, collision.Bounds{MaxX: 1000, MaxY: 1000}, m.Bounds())

	r, ok := m.Road("main-1")
	require.True(t, ok)
	assert.Equal(t, 2, r.Lanes)
	assert.InDelta(t, 350, r.Length, 1e-9)

	r, ok = m.Road("north-1")
	require.True(t, ok)
	assert.Equal(t, 1, r.Lanes, "lanes default to one")
}

func TestRouteShortest(t *testing.T) {
	m := defaultMap(t)

	route, err := m.Route("a1", "c3")
	require.NoError(t, err)
	assert.Equal(t, "a1", route[0])
	assert.Equal(t, "c3", route[len(route)-1])
	assert.InDelta(t, 1400, m.RouteLength(route), 1e-9)

	route, err = m.Route("b2", "b2")
	require.NoError(t, err)
	assert.Equal(t, []string{"b2"}, route)
}

func TestRouteTiesResolveStably(t *testing.T) {
	m := defaultMap(t)

	for i := 0; i < 20; i++ {
		route, err := m.Route("a1", "b2")
		require.NoError(t, err)
		require.Equal(t, []string{"a1", "a2", "b2"}, route, "call %d", i)

		route, err = m.Route("a1", "c3")
		require.NoError(t, err)
		require.Equal(t, []string{"a1", "a2", "a3", "b3", "c3"}, route, "call %d", i)
	}
}

func TestRouteRespectsOneWay(t *testing.T) {
	m := defaultMap(t)

	route, err := m.Route("c1", "b2")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "b2"}, route)
	assert.InDelta(t, 350*math.Sqrt2, m.RouteLength(route), 1e-9)

	route, err = m.Route("b2", "c1")
	require.NoError(t, err)
	assert.Len(t, route, 3, "the parkway cannot be driven backwards")
	assert.InDelta(t, 700, m.RouteLength(route), 1e-9)
}

func TestRouteErrors(t *testing.T) {
	m, err := build(t, `
name: islands
intersections:
  - {id: x, x: 0, y: 0}
  - {id: y, x: 100, y: 0}
  - {id: z, x: 50, y: 80}
roads:
  - {from: x, to: y, one_way: true}
`)
	require.NoError(t, err)

	_, err = m.Route("x", "y")
	assert.NoError(t, err)
	_, err = m.Route("y", "x")
	assert.True(t, errors.Is(err, ErrNoRoute))
	_, err = m.Route("x", "z")
	assert.True(t, errors.Is(err, ErrNoRoute))
	_, err = m.Route("x", "nowhere")
	assert.True(t, errors.Is(err, ErrUnknownIntersection))

	_, ok := m.Road("x-y")
	assert.True(t, ok, "road ids default to from-to")
}

func TestDerivedBounds(t *testing.T) {
	m, err := build(t, `
name: strip
intersections:
  - {id: w, x: 0, y: 0}
  - {id: e, x: 100, y: 0}
roads:
  - {from: w, to: e}
`)
	require.NoError(t, err)
	assert.Equal(t, collision.Bounds{MinX: -50, MinY: -50, MaxX: 150, MaxY: 50}, m.Bounds())
}

func TestInvalidDocuments(t *testing.T) {
	tests := map[string]string{
		"unknown field": `
name: bad
colour: red
intersections: [{id: a, x: 1, y: 1}]`,
		"no intersections": `
name: empty
intersections: []`,
		"duplicate intersection": `
name: bad
intersections: [{id: a, x: 1, y: 1}, {id: a, x: 2, y: 2}]`,
		"unknown endpoint": `
name: bad
intersections: [{id: a, x: 1, y: 1}]
roads: [{from: a, to: b}]`,
		"zero length": `
name: bad
intersections: [{id: a, x: 1, y: 1}, {id: b, x: 1, y: 1}]
roads: [{from: a, to: b}]`,
		"id clash": `
name: bad
intersections: [{id: a, x: 1, y: 1}, {id: b, x: 5, y: 1}]
roads: [{id: a, from: a, to: b}]`,
		"duplicate road": `
name: bad
intersections: [{id: a, x: 1, y: 1}, {id: b, x: 5, y: 1}]
roads: [{from: a, to: b}, {from: a, to: b}]`,
		"outside bounds": `
name: bad
bounds: {min_x: 0, min_y: 0, max_x: 10, max_y: 10}
intersections: [{id: a, x: 10, y: 1}]`,
		"lat without geo": `
name: bad
intersections: [{id: a, lat: 40.1, lon: -74.5}]`,
		"lat without lon": `
name: bad
geo: {bottom_lat: 40, left_lon: -75, top_lat: 41, right_lon: -74, width: 100, height: 100}
intersections: [{id: a, lat: 40.1}]`,
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := build(t, src)
			assert.True(t, errors.Is(err, ErrInvalidMap), "got %v", err)
		})
	}
}

func TestParseJSON(t *testing.T) {
	doc, err := Parse([]byte(`{
		"name": "json town",
		"intersections": [{"id": "a", "x": 0, "y": 0}, {"id": "b", "x": 0, "y": 40}],
		"roads": [{"id": "ab", "from": "a", "to": "b", "lanes": 3}]
	}`), FormatJSON)
	require.NoError(t, err)
	m, err := New(doc)
	require.NoError(t, err)

	r, ok := m.Road("ab")
	require.True(t, ok)
	assert.Equal(t, 3, r.Lanes)
	assert.False(t, r.OneWay)

	_, err = Parse([]byte(`{"name": "x", "extra": 1}`), FormatJSON)
	assert.True(t, errors.Is(err, ErrInvalidMap))
}

func TestLoadPicksFormatByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "town.yml")
	require.NoError(t, os.WriteFile(path, defaultDocument, 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Gridtown", m.Name)

	_, err = Load(filepath.Join(dir, "town.txt"))
	assert.True(t, errors.Is(err, ErrInvalidMap))

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestProjection(t *testing.T) {
	p, err := NewProjection(GeoBox{BottomLat: 40, LeftLon: -75, TopLat: 41, RightLon: -74, Width: 1000, Height: 800})
	require.NoError(t, err)

	x, y := p.Project(40, -75)
	assert.InDelta(t, 0, x, 1e-9)
	assert.InDelta(t, 0, y, 1e-9)

	x, y = p.Project(41, -74)
	assert.InDelta(t, 1000, x, 1e-9)
	assert.InDelta(t, 800, y, 1e-9)

	x, y = p.Project(40.5, -74.5)
	assert.InDelta(t, 500, x, 1e-9)
	assert.InDelta(t, 400, y, 1e-9)

	_, err = NewProjection(GeoBox{BottomLat: 41, LeftLon: -75, TopLat: 40, RightLon: -74, Width: 1, Height: 1})
	assert.True(t, errors.Is(err, ErrInvalidMap))
}

func TestGeoIntersections(t *testing.T) {
	m, err := build(t, `
name: geo
geo: {bottom_lat: 40, left_lon: -75, top_lat: 41, right_lon: -74, width: 1000, height: 1000}
bounds: {min_x: 0, min_y: 0, max_x: 1001, max_y: 1001}
intersections:
  - {id: sw, lat: 40, lon: -75}
  - {id: ne, lat: 41, lon: -74}
roads:
  - {from: sw, to: ne}
`)
	require.NoError(t, err)
	ne, ok := m.Intersection("ne")
	require.True(t, ok)
	assert.InDelta(t, 1000, ne.X, 1e-9)
	assert.InDelta(t, 1000, ne.Y, 1e-9)
}

func TestNearbyObjects(t *testing.T) {
	m := defaultMap(t)

	near := m.NearbyObjects(150, 150)
	assert.Contains(t, near, "a1")
	assert.Contains(t, near, "south-1")
	assert.Contains(t, near, "west-1")

	assert.Equal(t, []string{"south-1"}, m.NearbyObjects(300, 150))
	assert.Empty(t, m.NearbyObjects(50, 950))
	assert.Empty(t, m.NearbyObjects(-5, 10))
}

func TestRoadsWithin(t *testing.T) {
	m := defaultMap(t)

	var ids []string
	for _, r := range m.RoadsWithin(collision.Bounds{MaxX: 400, MaxY: 400}) {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"south-1", "west-1"}, ids)

	assert.Empty(t, m.RoadsWithin(collision.Bounds{MinX: 900, MinY: 900, MaxX: 950, MaxY: 950}))
	assert.Len(t, m.RoadsWithin(m.Bounds()), 13)
}

func TestRandomIntersection(t *testing.T) {
	m := defaultMap(t)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		id := m.RandomIntersection(rng)
		_, ok := m.Intersection(id)
		assert.True(t, ok)
	}
}
