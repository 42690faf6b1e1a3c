package collision

import (
	"fmt"
	"math"
)

// NoIndex is returned by Grid.IndexOf for positions outside the grid
const NoIndex = -1

// Grid is a fixed rows x cols partition of a bounded rectangle.
// Cells are allocated on first insertion; every slot gets its own Cell.
type Grid struct {
	bounds Bounds
	rows   int
	cols   int
	cellW  float64
	cellH  float64
	cells  []*Cell
}

// NewGrid creates a grid of rows x cols cells covering b
func NewGrid(rows, cols int, b Bounds) (*Grid, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: grid needs positive rows and cols, got %dx%d", ErrConfiguration, rows, cols)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &Grid{
		bounds: b,
		rows:   rows,
		cols:   cols,
		cellW:  b.Width() / float64(cols),
		cellH:  b.Height() / float64(rows),
		cells:  make([]*Cell, rows*cols),
	}, nil
}

// Rows returns the row count
func (g *Grid) Rows() int { return g.rows }

// Cols returns the column count
func (g *Grid) Cols() int { return g.cols }

// Len returns the number of slots (rows * cols)
func (g *Grid) Len() int { return len(g.cells) }

// Bounds returns the covered rectangle
func (g *Grid) Bounds() Bounds { return g.bounds }

// CellSize returns the width and height of one cell
func (g *Grid) CellSize() (w, h float64) { return g.cellW, g.cellH }

// IndexOf maps a position to its slot, or NoIndex outside [min,max) on either axis
func (g *Grid) IndexOf(x, y float64) int {
	if !g.bounds.Contains(x, y) {
		return NoIndex
	}
	col := int(math.Floor((x - g.bounds.MinX) / g.cellW))
	row := int(math.Floor((y - g.bounds.MinY) / g.cellH))
	// Rounding can push a coordinate just below max into the next column.
	if col >= g.cols {
		col = g.cols - 1
	}
	if row >= g.rows {
		row = g.rows - 1
	}
	idx := row*g.cols + col
	if idx < 0 || idx >= len(g.cells) {
		return NoIndex
	}
	return idx
}

// RowCol splits a slot index into row and column
func (g *Grid) RowCol(idx int) (row, col int) {
	return idx / g.cols, idx % g.cols
}

func (g *Grid) valid(idx int) bool {
	return idx >= 0 && idx < len(g.cells)
}

// Insert adds id to the cell at idx. NoIndex is ignored.
func (g *Grid) Insert(idx int, id string) {
	if !g.valid(idx) {
		return
	}
	c := g.cells[idx]
	if c == nil {
		c = NewCell(idx)
		g.cells[idx] = c
	}
	c.Add(id)
}

// Remove deletes id from the cell at idx. NoIndex is ignored.
func (g *Grid) Remove(idx int, id string) error {
	if !g.valid(idx) {
		return nil
	}
	c := g.cells[idx]
	if c == nil {
		return fmt.Errorf("%w: %q removed from unallocated cell %d", ErrInconsistentMembership, id, idx)
	}
	return c.Remove(id)
}

// Cell returns the cell at idx, or nil if it was never populated
func (g *Grid) Cell(idx int) *Cell {
	if !g.valid(idx) {
		return nil
	}
	return g.cells[idx]
}

// Contents returns the sorted ids held by the cell at idx
func (g *Grid) Contents(idx int) []string {
	c := g.Cell(idx)
	if c == nil {
		return nil
	}
	return c.IDs()
}

// Clear empties every allocated cell (keeps the allocations)
func (g *Grid) Clear() {
	for _, c := range g.cells {
		if c != nil {
			c.clear()
		}
	}
}

// cellRect returns the rectangle covered by slot (row, col)
func (g *Grid) cellRect(row, col int) Bounds {
	x0 := g.bounds.MinX + float64(col)*g.cellW
	y0 := g.bounds.MinY + float64(row)*g.cellH
	return Bounds{MinX: x0, MinY: y0, MaxX: x0 + g.cellW, MaxY: y0 + g.cellH}
}

// clampedCol converts x to a column clamped into the grid
func (g *Grid) clampedCol(x float64) int {
	col := int(math.Floor((x - g.bounds.MinX) / g.cellW))
	if col < 0 {
		col = 0
	} else if col >= g.cols {
		col = g.cols - 1
	}
	return col
}

// clampedRow converts y to a row clamped into the grid
func (g *Grid) clampedRow(y float64) int {
	row := int(math.Floor((y - g.bounds.MinY) / g.cellH))
	if row < 0 {
		row = 0
	} else if row >= g.rows {
		row = g.rows - 1
	}
	return row
}

// CellsAlongSegment returns the slots crossed by the segment (x0,y0)-(x1,y1),
// in row-major order. Parts of the segment outside the grid are ignored.
func (g *Grid) CellsAlongSegment(x0, y0, x1, y1 float64) []int {
	if !segmentIntersectsRect(x0, y0, x1, y1, g.bounds) {
		return nil
	}
	minC, maxC := g.clampedCol(math.Min(x0, x1)), g.clampedCol(math.Max(x0, x1))
	minR, maxR := g.clampedRow(math.Min(y0, y1)), g.clampedRow(math.Max(y0, y1))

	var result []int
	for row := minR; row <= maxR; row++ {
		for col := minC; col <= maxC; col++ {
			if segmentIntersectsRect(x0, y0, x1, y1, g.cellRect(row, col)) {
				result = append(result, row*g.cols+col)
			}
		}
	}
	return result
}

// segmentIntersectsRect clips the segment against r (Liang-Barsky) and
// reports whether any part of it remains.
func segmentIntersectsRect(x0, y0, x1, y1 float64, r Bounds) bool {
	dx := x1 - x0
	dy := y1 - y0
	t0, t1 := 0.0, 1.0
	clip := func(p, q float64) bool {
		if p == 0 {
			return q >= 0
		}
		t := q / p
		if p < 0 {
			if t > t1 {
				return false
			}
			if t > t0 {
				t0 = t
			}
		} else {
			if t < t0 {
				return false
			}
			if t < t1 {
				t1 = t
			}
		}
		return true
	}
	return clip(-dx, x0-r.MinX) &&
		clip(dx, r.MaxX-x0) &&
		clip(-dy, y0-r.MinY) &&
		clip(dy, r.MaxY-y0) &&
		t0 <= t1
}
