package traffic

import (
	"errors"
	"fmt"
	"math/rand"

	"traffic-sim/internal/collision"
	"traffic-sim/internal/roadmap"
)

// ErrUnknownCar is returned when despawning or inspecting a missing car
var ErrUnknownCar = errors.New("traffic: unknown car")

const (
	DefaultCars       = 20
	DefaultCarWidth   = 5.0
	DefaultCarHeight  = 15.0
	DefaultSpeed      = 20.0
	DefaultSpeedLimit = 30.0
	MaxCars           = 500
)

// Config holds the settings for one simulation run
type Config struct {
	Cars       int
	CarWidth   float64
	CarHeight  float64
	Speed      float64
	SpeedLimit float64
	Seed       int64

	Strategy collision.Strategy
	Strict   bool
}

// DefaultConfig returns the settings of a plain grid-backed run
func DefaultConfig() Config {
	return Config{
		Cars:       DefaultCars,
		CarWidth:   DefaultCarWidth,
		CarHeight:  DefaultCarHeight,
		Speed:      DefaultSpeed,
		SpeedLimit: DefaultSpeedLimit,
		Seed:       1,
		Strategy:   collision.StrategyGrid,
	}
}

// Validate rejects settings no car could be built from
func (c Config) Validate() error {
	if c.Cars < 0 || c.Cars > MaxCars {
		return fmt.Errorf("traffic: car count must be in [0,%d], got %d", MaxCars, c.Cars)
	}
	if !(c.CarWidth > 0) || !(c.CarHeight > 0) {
		return fmt.Errorf("traffic: car size must be positive, got %gx%g", c.CarWidth, c.CarHeight)
	}
	if !(c.SpeedLimit > 0) || c.Speed < 0 {
		return fmt.Errorf("traffic: need speed >= 0 and a positive limit, got %g/%g", c.Speed, c.SpeedLimit)
	}
	if _, err := collision.ParseStrategy(string(c.Strategy)); err != nil {
		return err
	}
	return nil
}

// Simulation owns the cars on one map and the collision system tracking them.
// It is not safe for concurrent use.
type Simulation struct {
	cfg  Config
	road *roadmap.Map
	sys  collision.System
	rng  *rand.Rand

	cars  []*Car
	byID  map[string]*Car
	tick  uint64
	total collision.Report
}

// NewSimulation spawns cfg.Cars cars on random intersections of m
func NewSimulation(m *roadmap.Map, cfg Config) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ccfg := collision.DefaultConfig(m.Bounds())
	ccfg.Strategy = cfg.Strategy
	ccfg.Strict = cfg.Strict
	sys, err := collision.New(ccfg, nil)
	if err != nil {
		return nil, err
	}
	s := &Simulation{
		cfg:  cfg,
		road: m,
		sys:  sys,
		rng:  rand.New(rand.NewSource(cfg.Seed)),
		byID: make(map[string]*Car),
	}
	for i := 0; i < cfg.Cars; i++ {
		if _, err := s.Spawn(""); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Spawn adds a car at the given intersection, or a random one if at is empty
func (s *Simulation) Spawn(at string) (*Car, error) {
	if len(s.cars) >= MaxCars {
		return nil, fmt.Errorf("traffic: car limit %d reached", MaxCars)
	}
	if at == "" {
		at = s.road.RandomIntersection(s.rng)
	}
	c, err := NewCar(s.road, s.rng, at, s.cfg)
	if err != nil {
		return nil, err
	}
	if err := s.sys.Insert(c); err != nil {
		return nil, err
	}
	s.cars = append(s.cars, c)
	s.byID[c.ID] = c
	return c, nil
}

// Despawn removes a car from the run and the collision index
func (s *Simulation) Despawn(id string) error {
	c, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCar, id)
	}
	if err := s.sys.Remove(c); err != nil {
		return err
	}
	delete(s.byID, id)
	for i, other := range s.cars {
		if other == c {
			s.cars = append(s.cars[:i], s.cars[i+1:]...)
			break
		}
	}
	return nil
}

// Step advances the run by dt seconds
func (s *Simulation) Step(dt float64) collision.Report {
	rep := Step(s.sys, s.cars, dt)
	s.tick++
	s.total.Add(rep)
	return rep
}

// Car looks up a car by id
func (s *Simulation) Car(id string) (*Car, bool) {
	c, ok := s.byID[id]
	return c, ok
}

// Cars returns the live cars in spawn order
func (s *Simulation) Cars() []*Car {
	out := make([]*Car, len(s.cars))
	copy(out, s.cars)
	return out
}

// Len returns the number of live cars
func (s *Simulation) Len() int { return len(s.cars) }

// Tick returns how many steps have run
func (s *Simulation) Tick() uint64 { return s.tick }

// Totals returns the collision reports summed over every step
func (s *Simulation) Totals() collision.Report { return s.total }

// Map returns the road map
func (s *Simulation) Map() *roadmap.Map { return s.road }

// System returns the collision system
func (s *Simulation) System() collision.System { return s.sys }

// Config returns the settings the run was built with
func (s *Simulation) Config() Config { return s.cfg }

// CarState is the renderable state of one car
type CarState struct {
	ID      string
	X, Y    float64
	Heading float64
	Speed   float64
	Width   float64
	Height  float64
}

// Snapshot is the state of every car at one tick
type Snapshot struct {
	Tick uint64
	Cars []CarState
}

// Snapshot captures the current car positions
func (s *Simulation) Snapshot() Snapshot {
	snap := Snapshot{Tick: s.tick, Cars: make([]CarState, len(s.cars))}
	for i, c := range s.cars {
		snap.Cars[i] = CarState{
			ID:      c.ID,
			X:       c.X,
			Y:       c.Y,
			Heading: c.Heading,
			Speed:   c.Speed,
			Width:   c.Width,
			Height:  c.Height,
		}
	}
	return snap
}
