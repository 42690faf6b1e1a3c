package collision

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrOutOfBounds is returned when a position lies outside the indexed world.
	ErrOutOfBounds = errors.New("collision: position out of bounds")
	// ErrInconsistentMembership signals a stale partition handle: an id was
	// removed from a partition that does not hold it.
	ErrInconsistentMembership = errors.New("collision: inconsistent membership")
	// ErrConfiguration is returned by constructors for unusable settings.
	ErrConfiguration = errors.New("collision: invalid configuration")
)

// Strategy names a broad-phase implementation
type Strategy string

const (
	StrategyGrid Strategy = "grid"
	StrategyTree Strategy = "tree"
)

const (
	DefaultRows       = 128
	DefaultCols       = 128
	DefaultMinRegion  = 32.0
	DefaultPruneEvery = 30
)

// Bounds is the half-open rectangle [MinX,MaxX) x [MinY,MaxY)
type Bounds struct {
	MinX float64 `json:"min_x" yaml:"min_x"`
	MinY float64 `json:"min_y" yaml:"min_y"`
	MaxX float64 `json:"max_x" yaml:"max_x"`
	MaxY float64 `json:"max_y" yaml:"max_y"`
}

// Width returns the horizontal extent
func (b Bounds) Width() float64 { return b.MaxX - b.MinX }

// Height returns the vertical extent
func (b Bounds) Height() float64 { return b.MaxY - b.MinY }

// Contains reports whether (x,y) lies inside the half-open rectangle.
// NaN coordinates are never contained.
func (b Bounds) Contains(x, y float64) bool {
	return x >= b.MinX && x < b.MaxX && y >= b.MinY && y < b.MaxY
}

// Validate rejects empty, inverted or non-finite rectangles
func (b Bounds) Validate() error {
	for _, v := range []float64{b.MinX, b.MinY, b.MaxX, b.MaxY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: bounds must be finite, got %+v", ErrConfiguration, b)
		}
	}
	if b.Width() <= 0 || b.Height() <= 0 {
		return fmt.Errorf("%w: bounds must have positive extents, got %gx%g", ErrConfiguration, b.Width(), b.Height())
	}
	return nil
}

// Config holds settings for a collision system
type Config struct {
	Bounds   Bounds
	Strategy Strategy

	// Grid resolution
	Rows int
	Cols int

	// Tree leaf size and how many UpdateObjects calls pass between prunes
	MinRegion  float64
	PruneEvery int

	Policy Policy

	// Strict panics on index corruption instead of rebuilding the index.
	Strict bool
}

// DefaultConfig returns grid-backed settings for the given world
func DefaultConfig(b Bounds) Config {
	return Config{
		Bounds:     b,
		Strategy:   StrategyGrid,
		Rows:       DefaultRows,
		Cols:       DefaultCols,
		MinRegion:  DefaultMinRegion,
		PruneEvery: DefaultPruneEvery,
		Policy:     DefaultPolicy(),
	}
}

// Validate checks the settings relevant to the selected strategy
func (c Config) Validate() error {
	if err := c.Bounds.Validate(); err != nil {
		return err
	}
	switch c.Strategy {
	case StrategyGrid:
		if c.Rows <= 0 || c.Cols <= 0 {
			return fmt.Errorf("%w: grid needs positive rows and cols, got %dx%d", ErrConfiguration, c.Rows, c.Cols)
		}
	case StrategyTree:
		if !(c.MinRegion > 0) {
			return fmt.Errorf("%w: tree needs a positive min region, got %g", ErrConfiguration, c.MinRegion)
		}
		if c.PruneEvery <= 0 {
			return fmt.Errorf("%w: prune cadence must be positive, got %d", ErrConfiguration, c.PruneEvery)
		}
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrConfiguration, c.Strategy)
	}
	return c.Policy.Validate()
}

// ParseStrategy maps a flag value onto a Strategy
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyGrid, StrategyTree:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("%w: unknown strategy %q", ErrConfiguration, s)
}
