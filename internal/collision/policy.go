package collision

import (
	"fmt"
	"math"
)

// Handle is an entity's non-owning reference to the partition holding it:
// a grid slot for GridSystem, a NodeID for TreeSystem.
type Handle int

// NoHandle marks an entity that is not currently indexed
const NoHandle Handle = -1

// Body is the collision-relevant state of a moving entity
type Body struct {
	ID            string
	X, Y          float64
	Width, Height float64
	Speed         float64
	SpeedLimit    float64

	// the zero value is unindexed; handle is only meaningful when indexed
	handle  Handle
	indexed bool
}

// NewBody creates an unindexed body
func NewBody(id string, x, y, width, height, speed, limit float64) Body {
	if speed > limit {
		speed = limit
	}
	return Body{
		ID:         id,
		X:          x,
		Y:          y,
		Width:      width,
		Height:     height,
		Speed:      speed,
		SpeedLimit: limit,
		handle:     NoHandle,
	}
}

// Collider lets *Body (and types embedding Body) satisfy Entity
func (b *Body) Collider() *Body { return b }

// Handle returns the cached partition handle, or NoHandle
func (b *Body) Handle() Handle {
	if !b.indexed {
		return NoHandle
	}
	return b.handle
}

// Indexed reports whether the body currently sits in a partition
func (b *Body) Indexed() bool { return b.indexed }

func (b *Body) setHandle(h Handle) {
	b.handle = h
	b.indexed = true
}

func (b *Body) clearHandle() {
	b.handle = NoHandle
	b.indexed = false
}

// LongAxis returns the larger bounding extent
func (b *Body) LongAxis() float64 {
	return math.Max(b.Width, b.Height)
}

// Entity is anything that exposes a collision Body
type Entity interface {
	Collider() *Body
}

// Overlaps is the narrow-phase test. Both axes are compared against the
// long axis of each box, so the result does not depend on orientation.
func Overlaps(a, b *Body) bool {
	reach := a.LongAxis() + b.LongAxis()
	return math.Abs(a.X-b.X)*2 < reach && math.Abs(a.Y-b.Y)*2 < reach
}

const (
	DefaultDownFactor = 0.9
	DefaultUpFactor   = 1.1
	DefaultMinSpeed   = 1.0
)

// Policy is the reactive throttle applied after the narrow phase
type Policy struct {
	DownFactor float64
	UpFactor   float64
	MinSpeed   float64
}

// DefaultPolicy returns the ×0.9 / ×1.1 throttle
func DefaultPolicy() Policy {
	return Policy{
		DownFactor: DefaultDownFactor,
		UpFactor:   DefaultUpFactor,
		MinSpeed:   DefaultMinSpeed,
	}
}

// Validate rejects factors that would not slow down / speed up
func (p Policy) Validate() error {
	if !(p.DownFactor > 0 && p.DownFactor < 1) {
		return fmt.Errorf("%w: down factor must be in (0,1), got %g", ErrConfiguration, p.DownFactor)
	}
	if !(p.UpFactor > 1) {
		return fmt.Errorf("%w: up factor must be > 1, got %g", ErrConfiguration, p.UpFactor)
	}
	if p.MinSpeed < 0 {
		return fmt.Errorf("%w: min speed must not be negative, got %g", ErrConfiguration, p.MinSpeed)
	}
	return nil
}

// ThrottleDown slows b, never below MinSpeed (or its limit, if lower)
func (p Policy) ThrottleDown(b *Body) {
	floor := math.Min(p.MinSpeed, b.SpeedLimit)
	b.Speed = math.Max(b.Speed*p.DownFactor, math.Min(floor, b.Speed))
}

// ThrottleUp speeds b up, capped at its speed limit
func (p Policy) ThrottleUp(b *Body) {
	b.Speed = math.Min(b.Speed*p.UpFactor, b.SpeedLimit)
}

// Report summarises one ProcessCollisions call
type Report struct {
	Evaluated     int // entities that had a partition
	Skipped       int // entities outside the index this tick
	ThrottledDown int
	ThrottledUp   int
	Overlaps      int // ordered (E,O) overlapping pairs seen
}

// Add accumulates another report
func (r *Report) Add(o Report) {
	r.Evaluated += o.Evaluated
	r.Skipped += o.Skipped
	r.ThrottledDown += o.ThrottledDown
	r.ThrottledUp += o.ThrottledUp
	r.Overlaps += o.Overlaps
}
