// Package traffic moves cars along road-map routes and drives the
// collision system once per tick.
package traffic

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"traffic-sim/internal/collision"
	"traffic-sim/internal/roadmap"
)

// planAttempts bounds how many random destinations a car tries before idling
const planAttempts = 8

// Planner is the slice of a road map cars need to navigate
type Planner interface {
	Intersection(id string) (*roadmap.Intersection, bool)
	Route(from, to string) ([]string, error)
	RandomIntersection(rng *rand.Rand) string
}

// Car is a vehicle driving between random intersections
type Car struct {
	collision.Body

	Origin  string   // intersection the current trip started at
	Dest    string   // intersection the current trip ends at
	Last    string   // most recently reached intersection
	Route   []string // waypoints still ahead, next target first
	Heading float64  // degrees clockwise from north
	Trips   int

	nav Planner
	rng *rand.Rand
}

// NewCar places a car on the intersection at and plans its first trip
func NewCar(nav Planner, rng *rand.Rand, at string, cfg Config) (*Car, error) {
	in, ok := nav.Intersection(at)
	if !ok {
		return nil, fmt.Errorf("%w: %q", roadmap.ErrUnknownIntersection, at)
	}
	c := &Car{
		Body:   collision.NewBody(uuid.NewString(), in.X, in.Y, cfg.CarWidth, cfg.CarHeight, cfg.Speed, cfg.SpeedLimit),
		Origin: at,
		Dest:   at,
		Last:   at,
		nav:    nav,
		rng:    rng,
	}
	c.plan()
	return c, nil
}

// plan picks a reachable destination from Last. A car with nowhere to go
// keeps an empty route and retries on its next Advance.
func (c *Car) plan() {
	c.Origin = c.Last
	for attempt := 0; attempt < planAttempts; attempt++ {
		dest := c.nav.RandomIntersection(c.rng)
		if dest == c.Last {
			continue
		}
		route, err := c.nav.Route(c.Last, dest)
		if err != nil {
			continue
		}
		c.Dest = dest
		c.Route = route[1:]
		return
	}
	c.Dest = c.Last
	c.Route = nil
}

// Advance moves the car speed*dt toward its next waypoint. Reaching a
// waypoint snaps the car onto it; reaching the destination starts a new trip.
func (c *Car) Advance(dt float64) {
	if len(c.Route) == 0 {
		c.plan()
		if len(c.Route) == 0 {
			return
		}
	}
	target, ok := c.nav.Intersection(c.Route[0])
	if !ok {
		c.Route = nil
		return
	}

	pos := mgl64.Vec2{c.X, c.Y}
	delta := mgl64.Vec2{target.X, target.Y}.Sub(pos)
	dist := delta.Len()
	step := c.Speed * dt
	if dist > 0 {
		c.Heading = Heading(delta)
	}

	if dist <= step {
		c.X, c.Y = target.X, target.Y
		c.Last = c.Route[0]
		c.Route = c.Route[1:]
		if len(c.Route) == 0 {
			c.Trips++
			c.plan()
		}
		return
	}

	pos = pos.Add(delta.Normalize().Mul(step))
	c.X, c.Y = pos.X(), pos.Y()
}

// Next returns the waypoint being driven toward, or "" when idle
func (c *Car) Next() string {
	if len(c.Route) == 0 {
		return ""
	}
	return c.Route[0]
}

// Heading converts a direction to degrees clockwise from north (+y)
func Heading(d mgl64.Vec2) float64 {
	deg := mgl64.RadToDeg(math.Atan2(d.Y(), d.X()))
	if deg > 90 {
		return 450 - deg
	}
	return 90 - deg
}

// Info is the per-car detail shown to viewers
type Info struct {
	ID         string   `json:"id"`
	Origin     string   `json:"origin"`
	Dest       string   `json:"dest"`
	Speed      float64  `json:"speed"`
	SpeedLimit float64  `json:"speedLimit"`
	Route      []string `json:"route"`
	Trips      int      `json:"trips"`
}

// Info snapshots the car's trip
func (c *Car) Info() Info {
	route := make([]string, len(c.Route))
	copy(route, c.Route)
	return Info{
		ID:         c.ID,
		Origin:     c.Origin,
		Dest:       c.Dest,
		Speed:      c.Speed,
		SpeedLimit: c.SpeedLimit,
		Route:      route,
		Trips:      c.Trips,
	}
}
