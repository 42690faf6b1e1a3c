package collision

import (
	"errors"
	"fmt"
	"log"
)

// TreeSystem is the adaptive quad-tree broad phase
type TreeSystem struct {
	registry
	tree       *SpatialTree
	pruneEvery int
	updates    int
	pruned     int
}

// NewTreeSystem builds one SpatialTree over cfg.Bounds and indexes entities.
// cfg.Strategy is not consulted.
func NewTreeSystem(cfg Config, entities []Entity) (*TreeSystem, error) {
	cfg.Strategy = StrategyTree
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tree, err := NewSpatialTree(cfg.Bounds, cfg.MinRegion)
	if err != nil {
		return nil, err
	}
	s := &TreeSystem{
		registry:   newRegistry(cfg),
		tree:       tree,
		pruneEvery: cfg.PruneEvery,
	}
	for _, e := range entities {
		if err := s.Insert(e); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Strategy returns StrategyTree
func (s *TreeSystem) Strategy() Strategy { return StrategyTree }

// Tree exposes the underlying tree
func (s *TreeSystem) Tree() *SpatialTree { return s.tree }

// Pruned returns the total number of nodes detached so far
func (s *TreeSystem) Pruned() int { return s.pruned }

// Insert registers e and places it in the leaf under its position.
// Out-of-bounds entities are registered but left unindexed.
func (s *TreeSystem) Insert(e Entity) error {
	b := e.Collider()
	_, known := s.bodies[b.ID]
	if err := s.register(b); err != nil {
		return err
	}
	if known && b.Indexed() {
		if !s.update(b) {
			s.rebuild()
		}
		return nil
	}
	s.place(b)
	return nil
}

// place inserts b into the tree and records the leaf
func (s *TreeSystem) place(b *Body) {
	leaf, err := s.tree.Insert(b.X, b.Y, b.ID)
	if err != nil {
		if !errors.Is(err, ErrOutOfBounds) {
			log.Printf("collision: insert %q: %v", b.ID, err)
		}
		b.clearHandle()
		return
	}
	b.setHandle(Handle(leaf))
}

// Remove unregisters e and drops it from its leaf
func (s *TreeSystem) Remove(e Entity) error {
	b := e.Collider()
	if _, ok := s.bodies[b.ID]; !ok {
		return fmt.Errorf("collision: remove of unknown entity %q", b.ID)
	}
	delete(s.bodies, b.ID)
	if b.Indexed() {
		if err := s.tree.RemoveFromLeaf(NodeID(b.handle), b.ID); err != nil {
			b.clearHandle()
			s.corrupted(err)
			s.rebuild()
			return nil
		}
	}
	b.clearHandle()
	return nil
}

// NearbyObjects returns the ids in e's leaf
func (s *TreeSystem) NearbyObjects(e Entity) []string {
	return s.nearby(e.Collider(), nil)
}

func (s *TreeSystem) nearby(b *Body, buf []string) []string {
	if !b.Indexed() {
		return buf
	}
	c := s.tree.Cell(NodeID(b.handle))
	if c == nil {
		return buf
	}
	return c.AppendIDs(buf)
}

// UpdateObjects moves each entity to the leaf under its current position
// and prunes emptied nodes every pruneEvery calls.
func (s *TreeSystem) UpdateObjects(entities []Entity) {
	for i, e := range entities {
		b := e.Collider()
		if _, ok := s.bodies[b.ID]; !ok {
			s.admit(e, s.Insert)
			continue
		}
		if !s.update(b) {
			s.rebuild()
			s.admitAll(entities[i+1:], s.Insert)
			break
		}
	}
	s.updates++
	if s.updates%s.pruneEvery == 0 {
		s.pruned += s.tree.Prune()
	}
}

// update re-indexes one body; false means the index had to be abandoned
func (s *TreeSystem) update(b *Body) bool {
	leaf, found := s.tree.Find(b.X, b.Y)
	if found && b.Indexed() && Handle(leaf) == b.handle {
		return true
	}
	if b.Indexed() {
		if err := s.tree.RemoveFromLeaf(NodeID(b.handle), b.ID); err != nil {
			s.corrupted(err)
			return false
		}
		b.clearHandle()
	}
	s.place(b)
	return true
}

// ProcessCollisions throttles every entity by whether anything in its leaf overlaps it
func (s *TreeSystem) ProcessCollisions(entities []Entity) Report {
	return s.processCollisions(entities, s.nearby)
}

// rebuild re-inserts every registered body into a fresh tree
func (s *TreeSystem) rebuild() {
	s.tree.Clear()
	for _, b := range s.bodies {
		s.place(b)
	}
}
