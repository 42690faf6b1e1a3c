package main

import (
	"log"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"traffic-sim/internal/collision"
	"traffic-sim/internal/traffic"
)

const (
	TickRate       = 30 // simulation steps per second
	BroadcastRate  = 10 // state broadcasts per second
	TickDuration   = time.Second / TickRate
	BroadcastEvery = TickRate / BroadcastRate
	StatsEvery     = TickRate // one tick_stats row per simulated second
)

const maxWatchersPerSession = 50

// Broadcaster interface for sending messages to clients
type Broadcaster interface {
	SendJSON(msg interface{})
	SendBinary(data []byte)
}

// Game runs one simulation on its own goroutine
type Game struct {
	mu       sync.Mutex
	sim      *traffic.Simulation
	watchers map[string]Broadcaster // clientID -> client
	running  bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	runID  int64
	stats  *Analytics
	window collision.Report
}

// NewGame wraps a simulation. runID and stats may be zero/nil when
// persistence is disabled.
func NewGame(sim *traffic.Simulation, runID int64, stats *Analytics) *Game {
	return &Game{
		sim:      sim,
		watchers: make(map[string]Broadcaster),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		runID:    runID,
		stats:    stats,
	}
}

// Run starts the tick loop
func (g *Game) Run() {
	g.mu.Lock()
	g.running = true
	g.mu.Unlock()
	defer close(g.done)

	ticker := time.NewTicker(TickDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.update()
		case <-g.stop:
			return
		}
	}
}

// Stop terminates the tick loop and waits for it to exit. A loop that
// has not started yet returns as soon as it does.
func (g *Game) Stop() {
	g.mu.Lock()
	wasRunning := g.running
	g.running = false
	g.stopOnce.Do(func() { close(g.stop) })
	g.mu.Unlock()
	if wasRunning {
		<-g.done
	}
}

// AddWatcher subscribes a client to state broadcasts
func (g *Game) AddWatcher(id string, b Broadcaster) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.watchers[id]; !ok && len(g.watchers) >= maxWatchersPerSession {
		return false
	}
	g.watchers[id] = b
	return true
}

// RemoveWatcher unsubscribes a client
func (g *Game) RemoveWatcher(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.watchers, id)
}

// WatcherCount returns the number of subscribed clients
func (g *Game) WatcherCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.watchers)
}

// Spawn adds a car and announces it to every watcher
func (g *Game) Spawn(at string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, err := g.sim.Spawn(at)
	if err != nil {
		return "", err
	}
	g.broadcastMsg(Envelope{T: MsgSpawned, Data: CarMsg{ID: c.ID}})
	return c.ID, nil
}

// Despawn removes a car and announces it to every watcher
func (g *Game) Despawn(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.sim.Despawn(id); err != nil {
		return err
	}
	g.broadcastMsg(Envelope{T: MsgDespawned, Data: CarMsg{ID: id}})
	return nil
}

// CarInfo returns the trip details of one car
func (g *Game) CarInfo(id string) (traffic.Info, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.sim.Car(id)
	if !ok {
		return traffic.Info{}, false
	}
	return c.Info(), true
}

// CarCount returns the number of live cars
func (g *Game) CarCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sim.Len()
}

// Tick returns the number of completed steps
func (g *Game) Tick() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sim.Tick()
}

// update runs one simulation tick
func (g *Game) update() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.step(1.0 / float64(TickRate))
}

// step advances the simulation; callers hold g.mu
func (g *Game) step(dt float64) {
	rep := g.sim.Step(dt)
	g.window.Add(rep)
	tick := g.sim.Tick()

	if tick%BroadcastEvery == 0 {
		g.broadcastState(rep)
	}
	if tick%StatsEvery == 0 {
		g.recordWindow(tick)
	}
}

// recordWindow hands the accumulated reports to the stats writer
func (g *Game) recordWindow(tick uint64) {
	if g.runID != 0 {
		var speed float64
		cars := g.sim.Cars()
		for _, c := range cars {
			speed += c.Speed
		}
		if len(cars) > 0 {
			speed /= float64(len(cars))
		}
		var rebuilds int
		if r, ok := g.sim.System().(interface{ Rebuilds() int }); ok {
			rebuilds = r.Rebuilds()
		}
		g.stats.Record(TickStatRow{
			RunID:         g.runID,
			Tick:          int64(tick),
			Cars:          len(cars),
			Evaluated:     g.window.Evaluated,
			Skipped:       g.window.Skipped,
			ThrottledDown: g.window.ThrottledDown,
			ThrottledUp:   g.window.ThrottledUp,
			Overlaps:      g.window.Overlaps,
			MeanSpeed:     speed,
			Rebuilds:      rebuilds,
		})
	}
	g.window = collision.Report{}
}

// State builds the broadcast frame for the current tick
func (g *Game) State(rep collision.Report) SimState {
	snap := g.sim.Snapshot()
	state := SimState{
		Tick: snap.Tick,
		Cars: make([]CarState, len(snap.Cars)),
		Report: TickReport{
			Down:     rep.ThrottledDown,
			Up:       rep.ThrottledUp,
			Overlaps: rep.Overlaps,
			Skipped:  rep.Skipped,
		},
	}
	for i, c := range snap.Cars {
		state.Cars[i] = CarState{
			ID:      c.ID,
			X:       c.X,
			Y:       c.Y,
			Heading: c.Heading,
			Speed:   c.Speed,
			Width:   c.Width,
			Height:  c.Height,
		}
	}
	return state
}

// broadcastState sends the msgpack frame to every watcher
func (g *Game) broadcastState(rep collision.Report) {
	if len(g.watchers) == 0 {
		return
	}
	data, err := msgpack.Marshal(g.State(rep))
	if err != nil {
		log.Printf("state marshal error: %v", err)
		return
	}
	for _, w := range g.watchers {
		w.SendBinary(data)
	}
}

// broadcastMsg sends a message to all watchers; callers hold g.mu
func (g *Game) broadcastMsg(msg Envelope) {
	for _, w := range g.watchers {
		w.SendJSON(msg)
	}
}
