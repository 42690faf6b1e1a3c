package collision

import (
	"fmt"
	"sort"
)

// NodeID addresses a node in a SpatialTree's arena
type NodeID int

// NoNode marks an absent child or parent
const NoNode NodeID = -1

// root is always the first arena slot and is never pruned
const root NodeID = 0

// Quadrant names a child slot. Bit 0 is east, bit 1 is north, so a
// coordinate equal to the midpoint always goes to the higher index.
type Quadrant int

const (
	SouthWest Quadrant = iota
	SouthEast
	NorthWest
	NorthEast
)

func (q Quadrant) String() string {
	switch q {
	case SouthWest:
		return "SW"
	case SouthEast:
		return "SE"
	case NorthWest:
		return "NW"
	case NorthEast:
		return "NE"
	}
	return fmt.Sprintf("Quadrant(%d)", int(q))
}

type treeNode struct {
	bounds   Bounds
	midX     float64
	midY     float64
	cell     *Cell
	children [4]NodeID
	parent   NodeID
	slot     Quadrant // our index in parent.children
	live     bool
}

func (n *treeNode) empty() bool {
	if !n.cell.IsEmpty() {
		return false
	}
	for _, c := range n.children {
		if c != NoNode {
			return false
		}
	}
	return true
}

// SpatialTree is an adaptive quad-tree that subdivides lazily down to a
// minimum region size. Only leaves hold ids. Emptied nodes are recorded and
// detached in batches by Prune.
type SpatialTree struct {
	nodes     []treeNode
	free      []NodeID
	minRegion float64
	pending   map[NodeID]struct{}
	nextCell  int
}

// NewSpatialTree creates a tree covering b whose leaves are no larger than minRegion
func NewSpatialTree(b Bounds, minRegion float64) (*SpatialTree, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if !(minRegion > 0) {
		return nil, fmt.Errorf("%w: min region must be positive, got %g", ErrConfiguration, minRegion)
	}
	t := &SpatialTree{
		minRegion: minRegion,
		pending:   make(map[NodeID]struct{}),
	}
	t.alloc(b, NoNode, SouthWest)
	return t, nil
}

// alloc takes a slot from the free list or grows the arena
func (t *SpatialTree) alloc(b Bounds, parent NodeID, slot Quadrant) NodeID {
	n := treeNode{
		bounds:   b,
		midX:     b.MinX + b.Width()/2,
		midY:     b.MinY + b.Height()/2,
		cell:     NewCell(t.nextCell),
		children: [4]NodeID{NoNode, NoNode, NoNode, NoNode},
		parent:   parent,
		slot:     slot,
		live:     true,
	}
	t.nextCell++
	if k := len(t.free); k > 0 {
		id := t.free[k-1]
		t.free = t.free[:k-1]
		t.nodes[id] = n
		return id
	}
	t.nodes = append(t.nodes, n)
	return NodeID(len(t.nodes) - 1)
}

func (t *SpatialTree) node(id NodeID) *treeNode {
	if id < 0 || int(id) >= len(t.nodes) || !t.nodes[id].live {
		return nil
	}
	return &t.nodes[id]
}

// isLeaf reports whether a node is small enough to hold ids directly.
// Both sides must be within minRegion so thin worlds still split lengthwise.
func (t *SpatialTree) isLeaf(n *treeNode) bool {
	return n.bounds.Width() <= t.minRegion && n.bounds.Height() <= t.minRegion
}

// quadrantOf picks the child slot for (x,y); ties go east and north
func quadrantOf(n *treeNode, x, y float64) Quadrant {
	q := SouthWest
	if x >= n.midX {
		q |= SouthEast
	}
	if y >= n.midY {
		q |= NorthWest
	}
	return q
}

// quadrantBounds returns the rectangle covered by child q of n
func quadrantBounds(n *treeNode, q Quadrant) Bounds {
	b := Bounds{MinX: n.bounds.MinX, MinY: n.bounds.MinY, MaxX: n.midX, MaxY: n.midY}
	if q&SouthEast != 0 {
		b.MinX, b.MaxX = n.midX, n.bounds.MaxX
	}
	if q&NorthWest != 0 {
		b.MinY, b.MaxY = n.midY, n.bounds.MaxY
	}
	return b
}

// Insert adds id at (x,y), materialising nodes along the way, and returns
// the leaf that now holds it.
func (t *SpatialTree) Insert(x, y float64, id string) (NodeID, error) {
	if !t.nodes[root].bounds.Contains(x, y) {
		return NoNode, fmt.Errorf("%w: (%g, %g)", ErrOutOfBounds, x, y)
	}
	cur := root
	for {
		delete(t.pending, cur)
		n := &t.nodes[cur]
		if t.isLeaf(n) {
			n.cell.Add(id)
			return cur, nil
		}
		q := quadrantOf(n, x, y)
		next := n.children[q]
		if next == NoNode {
			b := quadrantBounds(n, q)
			next = t.alloc(b, cur, q)
			// alloc may grow the arena; re-read the parent slot
			t.nodes[cur].children[q] = next
		}
		cur = next
	}
}

// Find returns the leaf covering (x,y) without creating nodes
func (t *SpatialTree) Find(x, y float64) (NodeID, bool) {
	if !t.nodes[root].bounds.Contains(x, y) {
		return NoNode, false
	}
	cur := root
	for {
		n := &t.nodes[cur]
		if t.isLeaf(n) {
			return cur, true
		}
		next := n.children[quadrantOf(n, x, y)]
		if next == NoNode {
			return NoNode, false
		}
		cur = next
	}
}

// Remove deletes id from the leaf covering (x,y)
func (t *SpatialTree) Remove(x, y float64, id string) error {
	leaf, ok := t.Find(x, y)
	if !ok {
		return fmt.Errorf("%w: no leaf at (%g, %g) for %q", ErrInconsistentMembership, x, y, id)
	}
	return t.RemoveFromLeaf(leaf, id)
}

// RemoveFromLeaf deletes id from a known leaf. An emptied leaf is queued
// for the next Prune rather than detached immediately.
func (t *SpatialTree) RemoveFromLeaf(leaf NodeID, id string) error {
	n := t.node(leaf)
	if n == nil {
		return fmt.Errorf("%w: %q removed from dead node %d", ErrInconsistentMembership, id, leaf)
	}
	if err := n.cell.Remove(id); err != nil {
		return err
	}
	if leaf != root && n.empty() {
		t.pending[leaf] = struct{}{}
	}
	return nil
}

// Prune detaches every queued node that is still empty, walking up to
// ancestors that become empty as a result. Returns the number detached.
func (t *SpatialTree) Prune() int {
	if len(t.pending) == 0 {
		return 0
	}
	// Deterministic order keeps free-list reuse reproducible.
	queued := make([]NodeID, 0, len(t.pending))
	for id := range t.pending {
		queued = append(queued, id)
	}
	sort.Slice(queued, func(i, j int) bool { return queued[i] < queued[j] })
	for k := range t.pending {
		delete(t.pending, k)
	}

	detached := 0
	for _, id := range queued {
		cur := id
		for cur != root {
			n := t.node(cur)
			if n == nil || !n.empty() {
				break
			}
			parent := n.parent
			t.nodes[parent].children[n.slot] = NoNode
			t.nodes[cur] = treeNode{live: false, parent: NoNode}
			t.free = append(t.free, cur)
			detached++
			cur = parent
		}
	}
	return detached
}

// Clear drops every node except an empty root
func (t *SpatialTree) Clear() {
	b := t.nodes[root].bounds
	t.nodes = t.nodes[:0]
	t.free = t.free[:0]
	for k := range t.pending {
		delete(t.pending, k)
	}
	t.alloc(b, NoNode, SouthWest)
}

// Root returns the root node id
func (t *SpatialTree) Root() NodeID { return root }

// Len returns the number of live nodes
func (t *SpatialTree) Len() int { return len(t.nodes) - len(t.free) }

// PendingPrune returns how many nodes are queued for pruning
func (t *SpatialTree) PendingPrune() int { return len(t.pending) }

// MinRegion returns the leaf size threshold
func (t *SpatialTree) MinRegion() float64 { return t.minRegion }

// Cell returns the cell owned by node id, or nil for a dead node
func (t *SpatialTree) Cell(id NodeID) *Cell {
	n := t.node(id)
	if n == nil {
		return nil
	}
	return n.cell
}

// Contents returns the sorted ids held by node id
func (t *SpatialTree) Contents(id NodeID) []string {
	c := t.Cell(id)
	if c == nil {
		return nil
	}
	return c.IDs()
}

// Child returns the child in slot q, if materialised
func (t *SpatialTree) Child(id NodeID, q Quadrant) (NodeID, bool) {
	n := t.node(id)
	if n == nil || q < SouthWest || q > NorthEast {
		return NoNode, false
	}
	c := n.children[q]
	return c, c != NoNode
}

// Parent returns the parent of id (NoNode for the root)
func (t *SpatialTree) Parent(id NodeID) NodeID {
	n := t.node(id)
	if n == nil {
		return NoNode
	}
	return n.parent
}

// Bounds returns the rectangle covered by id
func (t *SpatialTree) Bounds(id NodeID) (Bounds, bool) {
	n := t.node(id)
	if n == nil {
		return Bounds{}, false
	}
	return n.bounds, true
}

// IsLeaf reports whether id is a live leaf
func (t *SpatialTree) IsLeaf(id NodeID) bool {
	n := t.node(id)
	return n != nil && t.isLeaf(n)
}
