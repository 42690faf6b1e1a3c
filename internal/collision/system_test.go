package collision

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func car(id string, x, y, speed, limit float64) *Body {
	b := NewBody(id, x, y, 5, 15, speed, limit)
	return &b
}

func entities(bodies ...*Body) []Entity {
	out := make([]Entity, len(bodies))
	for i, b := range bodies {
		out[i] = b
	}
	return out
}

func gridConfig() Config {
	cfg := DefaultConfig(square(100))
	cfg.Rows, cfg.Cols = 4, 4
	cfg.Strict = true
	return cfg
}

func treeConfig() Config {
	cfg := DefaultConfig(square(100))
	cfg.Strategy = StrategyTree
	cfg.MinRegion = 10
	cfg.PruneEvery = 3
	cfg.Strict = true
	return cfg
}

// forEachStrategy runs fn against both variants
func forEachStrategy(t *testing.T, fn func(t *testing.T, cfg Config)) {
	t.Run("grid", func(t *testing.T) { fn(t, gridConfig()) })
	t.Run("tree", func(t *testing.T) { fn(t, treeConfig()) })
}

func TestNewPicksStrategy(t *testing.T) {
	sys, err := New(gridConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, StrategyGrid, sys.Strategy())

	sys, err = New(treeConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, StrategyTree, sys.Strategy())

	cfg := gridConfig()
	cfg.Strategy = "octree"
	_, err = New(cfg, nil)
	assert.True(t, errors.Is(err, ErrConfiguration))

	cfg = gridConfig()
	cfg.Rows = 0
	_, err = New(cfg, nil)
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestIdenticalPositionsThrottleDown(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, cfg Config) {
		a := car("a", 40, 40, 20, 30)
		b := car("b", 40, 40, 20, 30)
		ents := entities(a, b)
		sys, err := New(cfg, ents)
		require.NoError(t, err)

		rep := sys.ProcessCollisions(ents)

		assert.InDelta(t, 18.0, a.Speed, 1e-9)
		assert.InDelta(t, 18.0, b.Speed, 1e-9)
		assert.Equal(t, 2, rep.ThrottledDown)
		assert.Equal(t, 0, rep.ThrottledUp)
		assert.Equal(t, 2, rep.Overlaps)
	})
}

func TestLoneEntityThrottlesUp(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, cfg Config) {
		a := car("a", 10, 10, 27, 30)
		far := car("far", 90, 90, 29, 30)
		ents := entities(a, far)
		sys, err := New(cfg, ents)
		require.NoError(t, err)

		rep := sys.ProcessCollisions(ents)

		assert.InDelta(t, 29.7, a.Speed, 1e-9)
		assert.Equal(t, 30.0, far.Speed, "capped at the limit, not 31.9")
		assert.Equal(t, 2, rep.ThrottledUp)
	})
}

func TestSamePartitionNoOverlapThrottlesUp(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, cfg Config) {
		// 25x25 grid cell, 50x50 tree leaf
		a := car("a", 1, 1, 20, 30)
		b := car("b", 5, 5, 20, 30)
		cfg.MinRegion = 50
		ents := entities(a, b)
		sys, err := New(cfg, ents)
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"a", "b"}, sys.NearbyObjects(a))

		// still sharing the partition, but 19*2 is past the 30 reach
		b.X, b.Y = 20, 1
		sys.ProcessCollisions(ents)
		assert.InDelta(t, 22.0, a.Speed, 1e-9)
		assert.InDelta(t, 22.0, b.Speed, 1e-9)
	})
}

func TestMinimumSpeedFloor(t *testing.T) {
	p := DefaultPolicy()
	b := car("slow", 0, 0, 1.05, 30)
	p.ThrottleDown(b)
	assert.Equal(t, DefaultMinSpeed, b.Speed)
	p.ThrottleDown(b)
	assert.Equal(t, DefaultMinSpeed, b.Speed)

	stopped := car("stopped", 0, 0, 0.5, 30)
	p.ThrottleDown(stopped)
	assert.Equal(t, 0.5, stopped.Speed, "never raised by a throttle down")
}

func TestOverlapsUsesLongAxis(t *testing.T) {
	a := car("a", 0, 0, 1, 1)
	b := car("b", 14.9, 0, 1, 1)
	assert.True(t, Overlaps(a, b), "15+15 reach covers 14.9*2")
	b.X = 15
	assert.False(t, Overlaps(a, b))
	b.X, b.Y = 0, 14.9
	assert.True(t, Overlaps(a, b))
}

func TestUpdateObjectsKeepsHandlesFresh(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, cfg Config) {
		rng := rand.New(rand.NewSource(7))
		bodies := make([]*Body, 50)
		for i := range bodies {
			bodies[i] = car(fmt.Sprintf("c%02d", i), rng.Float64()*100, rng.Float64()*100, 20, 30)
		}
		ents := entities(bodies...)
		sys, err := New(cfg, ents)
		require.NoError(t, err)

		for tick := 0; tick < 20; tick++ {
			sys.ProcessCollisions(ents)
			for _, b := range bodies {
				b.X = clampWorld(b.X + rng.Float64()*20 - 10)
				b.Y = clampWorld(b.Y + rng.Float64()*20 - 10)
			}
			sys.UpdateObjects(ents)

			for _, b := range bodies {
				require.True(t, b.Indexed(), "%s lost its handle", b.ID)
				assert.Contains(t, sys.NearbyObjects(b), b.ID)
			}
		}
		assert.Equal(t, len(bodies), sys.Len())
	})
}

func clampWorld(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 99.99 {
		return 99.99
	}
	return v
}

func TestUpdateObjectsIdempotent(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, cfg Config) {
		a := car("a", 10, 10, 20, 30)
		b := car("b", 60, 70, 20, 30)
		ents := entities(a, b)
		sys, err := New(cfg, ents)
		require.NoError(t, err)

		a.X, a.Y = 80, 20
		sys.UpdateObjects(ents)
		first := []Handle{a.Handle(), b.Handle()}
		firstNearby := [][]string{sys.NearbyObjects(a), sys.NearbyObjects(b)}

		sys.UpdateObjects(ents)
		assert.Equal(t, first, []Handle{a.Handle(), b.Handle()})
		assert.Equal(t, firstNearby, [][]string{sys.NearbyObjects(a), sys.NearbyObjects(b)})
	})
}

func TestOutOfBoundsEntityIsSkipped(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, cfg Config) {
		in := car("in", 10, 10, 20, 30)
		out := car("out", 150, 10, 20, 30)
		ents := entities(in, out)
		sys, err := New(cfg, ents)
		require.NoError(t, err)

		assert.False(t, out.Indexed())
		assert.Empty(t, sys.NearbyObjects(out))

		rep := sys.ProcessCollisions(ents)
		assert.Equal(t, 1, rep.Skipped)
		assert.Equal(t, 20.0, out.Speed, "speed untouched while outside the world")

		// coming back in re-indexes it
		out.X = 12
		sys.UpdateObjects(ents)
		assert.True(t, out.Indexed())
		assert.ElementsMatch(t, []string{"in", "out"}, sys.NearbyObjects(in))

		// leaving again drops it from its old partition
		out.X = 100
		sys.UpdateObjects(ents)
		assert.False(t, out.Indexed())
		assert.Equal(t, []string{"in"}, sys.NearbyObjects(in))
	})
}

func TestRemoveDespawns(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, cfg Config) {
		a := car("a", 10, 10, 20, 30)
		b := car("b", 10, 10, 20, 30)
		sys, err := New(cfg, entities(a, b))
		require.NoError(t, err)

		require.NoError(t, sys.Remove(b))
		assert.False(t, b.Indexed())
		assert.Equal(t, []string{"a"}, sys.NearbyObjects(a))
		assert.Equal(t, 1, sys.Len())

		assert.Error(t, sys.Remove(b), "second remove of the same entity")

		sys.ProcessCollisions(entities(a))
		assert.InDelta(t, 22.0, a.Speed, 1e-9)
	})
}

func TestDuplicateIDRejected(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, cfg Config) {
		_, err := New(cfg, entities(car("dup", 1, 1, 1, 2), car("dup", 2, 2, 1, 2)))
		assert.Error(t, err)
	})
}

func TestStrictModePanicsOnStaleHandle(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, cfg Config) {
		a := car("a", 10, 10, 20, 30)
		b := car("b", 80, 80, 20, 30)
		ents := entities(a, b)
		sys, err := New(cfg, ents)
		require.NoError(t, err)

		// corrupt: a claims to live where b lives
		a.handle = b.handle
		a.X = 50
		assert.Panics(t, func() { sys.UpdateObjects(ents) })
	})
}

func TestLenientModeRebuilds(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, cfg Config) {
		cfg.Strict = false
		a := car("a", 10, 10, 20, 30)
		b := car("b", 80, 80, 20, 30)
		ents := entities(a, b)
		sys, err := New(cfg, ents)
		require.NoError(t, err)

		// newcomer sits after the corrupted entry in the slice
		late := car("late", 12, 12, 20, 30)
		ents = append(ents, late)

		a.handle = b.handle
		a.X = 50
		assert.NotPanics(t, func() { sys.UpdateObjects(ents) })

		assert.Equal(t, 3, sys.Len())
		for _, body := range []*Body{a, b, late} {
			require.True(t, body.Indexed())
			assert.Contains(t, sys.NearbyObjects(body), body.ID)
		}
		assert.NotContains(t, sys.NearbyObjects(b), "a")

		type rebuilder interface{ Rebuilds() int }
		assert.Equal(t, 1, sys.(rebuilder).Rebuilds())
	})
}

func TestZeroValueBodyIsUnindexed(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, cfg Config) {
		a := car("a", 5, 5, 20, 30)
		sys, err := New(cfg, entities(a))
		require.NoError(t, err)

		z := &Body{ID: "z", X: 5, Y: 5, Width: 5, Height: 15, Speed: 20, SpeedLimit: 30}
		assert.False(t, z.Indexed())
		assert.Equal(t, NoHandle, z.Handle())
		assert.Empty(t, sys.NearbyObjects(z))

		rep := sys.ProcessCollisions(entities(z))
		assert.Equal(t, Report{Skipped: 1}, rep)
		assert.Equal(t, 20.0, z.Speed)

		sys.UpdateObjects(entities(a, z))
		require.True(t, z.Indexed())
		assert.ElementsMatch(t, []string{"a", "z"}, sys.NearbyObjects(a))
	})
}

func TestTreeSystemPrunesOnCadence(t *testing.T) {
	cfg := treeConfig()
	a := car("a", 5, 5, 20, 30)
	anchor := car("anchor", 90, 90, 20, 30)
	ents := entities(a, anchor)
	sys, err := NewTreeSystem(cfg, ents)
	require.NoError(t, err)
	tree := sys.Tree()

	_, ok := tree.Child(tree.Root(), SouthWest)
	require.True(t, ok)

	// move a into the north-east quadrant; its old branch empties
	a.X, a.Y = 95, 95
	sys.UpdateObjects(ents)
	assert.Equal(t, 1, tree.PendingPrune())
	_, ok = tree.Child(tree.Root(), SouthWest)
	assert.True(t, ok, "not detached before the cadence")

	sys.UpdateObjects(ents)
	_, ok = tree.Child(tree.Root(), SouthWest)
	assert.True(t, ok)

	sys.UpdateObjects(ents) // third call hits PruneEvery = 3
	_, ok = tree.Child(tree.Root(), SouthWest)
	assert.False(t, ok)
	assert.Equal(t, 4, sys.Pruned())
	assert.Contains(t, sys.NearbyObjects(a), "a")
}

func TestGridSystemMovesAcrossCells(t *testing.T) {
	a := car("a", 10, 10, 20, 30)
	b := car("b", 60, 10, 20, 30)
	ents := entities(a, b)
	sys, err := NewGridSystem(gridConfig(), ents)
	require.NoError(t, err)
	g := sys.Grid()

	require.Equal(t, Handle(g.IndexOf(10, 10)), a.Handle())
	a.X = 55
	sys.UpdateObjects(ents)

	assert.Equal(t, Handle(g.IndexOf(55, 10)), a.Handle())
	assert.Empty(t, g.Contents(g.IndexOf(10, 10)))
	assert.Equal(t, []string{"a", "b"}, g.Contents(g.IndexOf(55, 10)))
}

func TestEmbeddedBodySatisfiesEntity(t *testing.T) {
	type vehicle struct {
		Body
		Route []string
	}
	v := &vehicle{Body: NewBody("v", 5, 5, 5, 15, 10, 20)}
	sys, err := New(gridConfig(), []Entity{v})
	require.NoError(t, err)
	assert.Equal(t, []string{"v"}, sys.NearbyObjects(v))
}
