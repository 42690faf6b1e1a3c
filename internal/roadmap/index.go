package roadmap

import (
	"fmt"
	"sort"

	"github.com/dhconnelly/rtreego"

	"traffic-sim/internal/collision"
)

// roadPad widens road boxes so axis-aligned roads still have area
const roadPad = 1.0

// roadEntry adapts a Road for the view tree
type roadEntry struct {
	road *Road
	rect rtreego.Rect
}

func (e *roadEntry) Bounds() rtreego.Rect { return e.rect }

func (m *Map) index() error {
	grid, err := collision.NewGrid(LookupRows, LookupCols, m.bounds)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMap, err)
	}
	for _, in := range m.byNode {
		grid.Insert(grid.IndexOf(in.X, in.Y), in.ID)
	}

	entries := make([]rtreego.Spatial, 0, len(m.roadOrder))
	for _, id := range m.roadOrder {
		r := m.roads[id]
		for _, idx := range grid.CellsAlongSegment(r.x0, r.y0, r.x1, r.y1) {
			grid.Insert(idx, r.ID)
		}
		rect, err := rtreego.NewRectFromPoints(
			rtreego.Point{min(r.x0, r.x1) - roadPad, min(r.y0, r.y1) - roadPad},
			rtreego.Point{max(r.x0, r.x1) + roadPad, max(r.y0, r.y1) + roadPad},
		)
		if err != nil {
			return fmt.Errorf("%w: road %q: %v", ErrInvalidMap, r.ID, err)
		}
		entries = append(entries, &roadEntry{road: r, rect: rect})
	}

	m.lookup = grid
	m.view = rtreego.NewTree(2, 25, 50, entries...)
	return nil
}

// NearbyObjects returns the ids of the intersections and roads that share
// the lookup cell under (x,y). Road and intersection ids never collide.
func (m *Map) NearbyObjects(x, y float64) []string {
	return m.lookup.Contents(m.lookup.IndexOf(x, y))
}

// RoadsWithin returns the roads whose box intersects the view rectangle,
// sorted by id.
func (m *Map) RoadsWithin(view collision.Bounds) []*Road {
	rect, err := rtreego.NewRectFromPoints(
		rtreego.Point{view.MinX, view.MinY},
		rtreego.Point{view.MaxX, view.MaxY},
	)
	if err != nil {
		return nil
	}
	hits := m.view.SearchIntersect(rect)
	out := make([]*Road, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.(*roadEntry).road)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
