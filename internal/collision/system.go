package collision

import (
	"fmt"
	"log"
)

// System is the broad-phase contract shared by the grid and tree variants
type System interface {
	// Insert indexes a newly spawned entity
	Insert(e Entity) error
	// Remove drops a despawned entity from the index
	Remove(e Entity) error
	// NearbyObjects returns the ids sharing e's current partition (e included)
	NearbyObjects(e Entity) []string
	// UpdateObjects re-indexes entities whose partition changed
	UpdateObjects(entities []Entity)
	// ProcessCollisions runs the narrow phase and throttle for every entity
	ProcessCollisions(entities []Entity) Report
	// Strategy names the variant
	Strategy() Strategy
	// Len returns the number of registered entities
	Len() int
}

// New builds the system selected by cfg.Strategy and indexes entities
func New(cfg Config, entities []Entity) (System, error) {
	switch cfg.Strategy {
	case StrategyGrid:
		return NewGridSystem(cfg, entities)
	case StrategyTree:
		return NewTreeSystem(cfg, entities)
	}
	return nil, fmt.Errorf("%w: unknown strategy %q", ErrConfiguration, cfg.Strategy)
}

// registry is the state both variants share: the id -> body lookup used
// by the narrow phase, the throttle policy and the corruption handling.
type registry struct {
	bodies   map[string]*Body
	policy   Policy
	strict   bool
	rebuilds int
	buf      []string
}

func newRegistry(cfg Config) registry {
	return registry{
		bodies: make(map[string]*Body),
		policy: cfg.Policy,
		strict: cfg.Strict,
	}
}

// Len returns the number of registered entities
func (r *registry) Len() int { return len(r.bodies) }

// Rebuilds returns how many times the index recovered from corruption
func (r *registry) Rebuilds() int { return r.rebuilds }

// Lookup returns the registered body with the given id
func (r *registry) Lookup(id string) (*Body, bool) {
	b, ok := r.bodies[id]
	return b, ok
}

func (r *registry) register(b *Body) error {
	if b.ID == "" {
		return fmt.Errorf("collision: entity without id")
	}
	if prev, ok := r.bodies[b.ID]; ok && prev != b {
		return fmt.Errorf("collision: duplicate entity id %q", b.ID)
	}
	r.bodies[b.ID] = b
	return nil
}

// corrupted handles a stale-handle error: panic when strict, otherwise
// log and let the caller rebuild.
func (r *registry) corrupted(err error) {
	if r.strict {
		panic(err)
	}
	r.rebuilds++
	log.Printf("collision: %v, rebuilding index", err)
}

// admit inserts an entity UpdateObjects found unregistered
func (r *registry) admit(e Entity, insert func(Entity) error) {
	if err := insert(e); err != nil {
		log.Printf("collision: skipping unregistered entity: %v", err)
	}
}

// admitAll admits every entity not yet registered
func (r *registry) admitAll(entities []Entity, insert func(Entity) error) {
	for _, e := range entities {
		if _, ok := r.bodies[e.Collider().ID]; !ok {
			r.admit(e, insert)
		}
	}
}

// processCollisions evaluates each entity once against the ids sharing its
// partition. nearby must append candidate ids to buf.
func (r *registry) processCollisions(entities []Entity, nearby func(b *Body, buf []string) []string) Report {
	var rep Report
	for _, e := range entities {
		b := e.Collider()
		if !b.Indexed() {
			rep.Skipped++
			continue
		}
		rep.Evaluated++
		r.buf = nearby(b, r.buf[:0])
		hits := 0
		for _, id := range r.buf {
			if id == b.ID {
				continue
			}
			other, ok := r.bodies[id]
			if !ok {
				continue
			}
			if Overlaps(b, other) {
				hits++
			}
		}
		rep.Overlaps += hits
		if hits > 0 {
			r.policy.ThrottleDown(b)
			rep.ThrottledDown++
		} else {
			r.policy.ThrottleUp(b)
			rep.ThrottledUp++
		}
	}
	return rep
}
