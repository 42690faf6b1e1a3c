package collision

import "fmt"

// GridSystem is the uniform-grid broad phase
type GridSystem struct {
	registry
	grid *Grid
}

// NewGridSystem builds a cfg.Rows x cfg.Cols grid over cfg.Bounds and
// indexes entities. cfg.Strategy is not consulted.
func NewGridSystem(cfg Config, entities []Entity) (*GridSystem, error) {
	cfg.Strategy = StrategyGrid
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	grid, err := NewGrid(cfg.Rows, cfg.Cols, cfg.Bounds)
	if err != nil {
		return nil, err
	}
	s := &GridSystem{
		registry: newRegistry(cfg),
		grid:     grid,
	}
	for _, e := range entities {
		if err := s.Insert(e); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Strategy returns StrategyGrid
func (s *GridSystem) Strategy() Strategy { return StrategyGrid }

// Grid exposes the underlying grid
func (s *GridSystem) Grid() *Grid { return s.grid }

// Insert registers e and places it in the cell under its position.
// Out-of-bounds entities are registered but left unindexed.
func (s *GridSystem) Insert(e Entity) error {
	b := e.Collider()
	_, known := s.bodies[b.ID]
	if err := s.register(b); err != nil {
		return err
	}
	if known && b.Indexed() {
		// already placed, treat as a move
		if !s.update(b) {
			s.rebuild()
		}
		return nil
	}
	s.place(b, s.grid.IndexOf(b.X, b.Y))
	return nil
}

// place inserts b into slot idx and records it; NoIndex leaves b unindexed
func (s *GridSystem) place(b *Body, idx int) {
	if idx == NoIndex {
		b.clearHandle()
		return
	}
	s.grid.Insert(idx, b.ID)
	b.setHandle(Handle(idx))
}

// Remove unregisters e and drops it from its cell
func (s *GridSystem) Remove(e Entity) error {
	b := e.Collider()
	if _, ok := s.bodies[b.ID]; !ok {
		return fmt.Errorf("collision: remove of unknown entity %q", b.ID)
	}
	delete(s.bodies, b.ID)
	if b.Indexed() {
		if err := s.grid.Remove(int(b.handle), b.ID); err != nil {
			b.clearHandle()
			s.corrupted(err)
			s.rebuild()
			return nil
		}
	}
	b.clearHandle()
	return nil
}

// NearbyObjects returns the ids in e's cell
func (s *GridSystem) NearbyObjects(e Entity) []string {
	return s.nearby(e.Collider(), nil)
}

func (s *GridSystem) nearby(b *Body, buf []string) []string {
	if !b.Indexed() {
		return buf
	}
	c := s.grid.Cell(int(b.handle))
	if c == nil {
		return buf
	}
	return c.AppendIDs(buf)
}

// UpdateObjects moves each entity to the cell under its current position
func (s *GridSystem) UpdateObjects(entities []Entity) {
	for i, e := range entities {
		b := e.Collider()
		if _, ok := s.bodies[b.ID]; !ok {
			s.admit(e, s.Insert)
			continue
		}
		if !s.update(b) {
			// rebuild covers the registered bodies; newcomers still need inserting
			s.rebuild()
			s.admitAll(entities[i+1:], s.Insert)
			return
		}
	}
}

// update re-indexes one body; false means the index had to be abandoned
func (s *GridSystem) update(b *Body) bool {
	idx := s.grid.IndexOf(b.X, b.Y)
	if b.Indexed() && Handle(idx) == b.handle {
		return true
	}
	if !b.Indexed() && idx == NoIndex {
		return true
	}
	if b.Indexed() {
		if err := s.grid.Remove(int(b.handle), b.ID); err != nil {
			s.corrupted(err)
			return false
		}
	}
	s.place(b, idx)
	return true
}

// ProcessCollisions throttles every entity by whether anything in its cell overlaps it
func (s *GridSystem) ProcessCollisions(entities []Entity) Report {
	return s.processCollisions(entities, s.nearby)
}

// rebuild re-inserts every registered body from scratch
func (s *GridSystem) rebuild() {
	s.grid.Clear()
	for _, b := range s.bodies {
		s.place(b, s.grid.IndexOf(b.X, b.Y))
	}
}
