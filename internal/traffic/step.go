package traffic

import "traffic-sim/internal/collision"

// Step runs one tick: throttle every car against the partition it was
// indexed in, move them, then re-index. Handles are fresh again on return.
func Step(sys collision.System, cars []*Car, dt float64) collision.Report {
	entities := make([]collision.Entity, len(cars))
	for i, c := range cars {
		entities[i] = c
	}
	rep := sys.ProcessCollisions(entities)
	for _, c := range cars {
		c.Advance(dt)
	}
	sys.UpdateObjects(entities)
	return rep
}
