package main

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"traffic-sim/internal/collision"
	"traffic-sim/internal/traffic"
)

// mockBroadcaster captures sent messages for testing
type mockBroadcaster struct {
	mu       sync.Mutex
	messages []interface{}
	frames   [][]byte
}

func (m *mockBroadcaster) SendJSON(msg interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

func (m *mockBroadcaster) SendBinary(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, data)
}

func (m *mockBroadcaster) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages), len(m.frames)
}

func newTestGame(t *testing.T, strategy collision.Strategy) *Game {
	t.Helper()
	cfg := testDefaults()
	cfg.Strategy = strategy
	sim, err := traffic.NewSimulation(testMap(t), cfg)
	if err != nil {
		t.Fatalf("new simulation: %v", err)
	}
	return NewGame(sim, 0, nil)
}

func stepGame(g *Game, n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := 0; i < n; i++ {
		g.step(1.0 / float64(TickRate))
	}
}

func TestGameAddRemoveWatcher(t *testing.T) {
	g := newTestGame(t, collision.StrategyGrid)
	m := &mockBroadcaster{}

	if !g.AddWatcher("w1", m) {
		t.Fatal("first watcher rejected")
	}
	if g.WatcherCount() != 1 {
		t.Errorf("expected 1 watcher, got %d", g.WatcherCount())
	}
	g.RemoveWatcher("w1")
	if g.WatcherCount() != 0 {
		t.Errorf("expected 0 watchers, got %d", g.WatcherCount())
	}
}

func TestGameWatcherLimit(t *testing.T) {
	g := newTestGame(t, collision.StrategyGrid)
	for i := 0; i < maxWatchersPerSession; i++ {
		if !g.AddWatcher(GenerateID(4), &mockBroadcaster{}) {
			t.Fatalf("watcher %d rejected below the limit", i)
		}
	}
	if g.AddWatcher("one-too-many", &mockBroadcaster{}) {
		t.Error("watcher past the limit accepted")
	}
}

func TestGameBroadcastCadence(t *testing.T) {
	for _, strategy := range []collision.Strategy{collision.StrategyGrid, collision.StrategyTree} {
		t.Run(string(strategy), func(t *testing.T) {
			g := newTestGame(t, strategy)
			m := &mockBroadcaster{}
			g.AddWatcher("w", m)

			stepGame(g, BroadcastEvery*4)
			_, frames := m.counts()
			if frames != 4 {
				t.Fatalf("expected 4 state frames, got %d", frames)
			}

			var st SimState
			if err := msgpack.Unmarshal(m.frames[3], &st); err != nil {
				t.Fatalf("msgpack unmarshal: %v", err)
			}
			if st.Tick != uint64(BroadcastEvery*4) {
				t.Errorf("last frame tick = %d, want %d", st.Tick, BroadcastEvery*4)
			}
			if len(st.Cars) != testCars {
				t.Errorf("frame has %d cars, want %d", len(st.Cars), testCars)
			}
		})
	}
}

func TestGameNoWatchersNoFrames(t *testing.T) {
	g := newTestGame(t, collision.StrategyGrid)
	stepGame(g, BroadcastEvery*2)
	if g.Tick() != uint64(BroadcastEvery*2) {
		t.Errorf("tick = %d, want %d", g.Tick(), BroadcastEvery*2)
	}
}

func TestGameSpawnDespawnBroadcasts(t *testing.T) {
	g := newTestGame(t, collision.StrategyGrid)
	m := &mockBroadcaster{}
	g.AddWatcher("w", m)

	id, err := g.Spawn("b2")
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if g.CarCount() != testCars+1 {
		t.Errorf("car count = %d, want %d", g.CarCount(), testCars+1)
	}
	info, ok := g.CarInfo(id)
	if !ok || info.Origin != "b2" {
		t.Errorf("car info = %+v, %v", info, ok)
	}

	if err := g.Despawn(id); err != nil {
		t.Fatalf("despawn: %v", err)
	}
	if err := g.Despawn(id); !errors.Is(err, traffic.ErrUnknownCar) {
		t.Errorf("second despawn err = %v, want ErrUnknownCar", err)
	}

	msgs, _ := m.counts()
	if msgs != 2 {
		t.Fatalf("expected spawned and despawned messages, got %d", msgs)
	}
	if env := m.messages[0].(Envelope); env.T != MsgSpawned {
		t.Errorf("first message %s, want spawned", env.T)
	}
	if env := m.messages[1].(Envelope); env.T != MsgDespawned {
		t.Errorf("second message %s, want despawned", env.T)
	}
}

func TestGameRunAndStop(t *testing.T) {
	g := newTestGame(t, collision.StrategyGrid)
	go g.Run()
	time.Sleep(5 * TickDuration)
	g.Stop()

	tick := g.Tick()
	if tick == 0 {
		t.Fatal("game did not tick")
	}
	time.Sleep(3 * TickDuration)
	if g.Tick() != tick {
		t.Error("game kept ticking after Stop")
	}
	g.Stop() // second stop is a no-op
}

func TestGameStopBeforeRun(t *testing.T) {
	g := newTestGame(t, collision.StrategyGrid)
	g.Stop()

	done := make(chan struct{})
	go func() {
		g.Run()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after an earlier Stop")
	}
}

func TestGameStateReport(t *testing.T) {
	g := newTestGame(t, collision.StrategyGrid)
	st := g.State(collision.Report{ThrottledDown: 2, ThrottledUp: 3, Overlaps: 1, Skipped: 4})
	want := TickReport{Down: 2, Up: 3, Overlaps: 1, Skipped: 4}
	if st.Report != want {
		t.Errorf("report = %+v, want %+v", st.Report, want)
	}
}
