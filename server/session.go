package main

import (
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"traffic-sim/internal/roadmap"
	"traffic-sim/internal/traffic"
)

const maxSessions = 100

// SessionIdleTimeout is how long a session survives without watchers
var SessionIdleTimeout = 2 * time.Minute

var (
	errTooManySessions = errors.New("too many active sessions")
	errSessionNotFound = errors.New("session not found")
	errSessionFull     = errors.New("session full")
)

// Session is one running simulation that clients can watch
type Session struct {
	ID       string
	Name     string
	Game     *Game
	RunID    int64
	Strategy string

	idle *time.Timer
}

// SessionManager handles creation and lookup of sessions
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	road  *roadmap.Map
	db    *DB
	stats *Analytics
}

// NewSessionManager creates a SessionManager whose runs all drive m.
// db and stats may be nil.
func NewSessionManager(m *roadmap.Map, db *DB, stats *Analytics) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
		road:     m,
		db:       db,
		stats:    stats,
	}
}

// CreateSession starts a new run. operatorID is 0 for anonymous runs.
func (sm *SessionManager) CreateSession(name string, cfg traffic.Config, operatorID int64) (*Session, error) {
	sm.mu.Lock()
	if len(sm.sessions) >= maxSessions {
		sm.mu.Unlock()
		return nil, errTooManySessions
	}
	sm.mu.Unlock()

	sim, err := traffic.NewSimulation(sm.road, cfg)
	if err != nil {
		return nil, err
	}

	id := GenerateUUID()
	var runID int64
	if sm.db != nil {
		runID, err = sm.db.StartRun(RunRow{
			SessionID:  id,
			Name:       name,
			Map:        sm.road.Name,
			Strategy:   string(cfg.Strategy),
			Cars:       cfg.Cars,
			Seed:       cfg.Seed,
			OperatorID: operatorID,
		})
		if err != nil {
			log.Printf("run %s not recorded: %v", id, err)
			runID = 0
		}
	}

	sess := &Session{
		ID:       id,
		Name:     name,
		Game:     NewGame(sim, runID, sm.stats),
		RunID:    runID,
		Strategy: string(cfg.Strategy),
	}

	sm.mu.Lock()
	if len(sm.sessions) >= maxSessions {
		sm.mu.Unlock()
		sm.finish(sess)
		return nil, errTooManySessions
	}
	sm.sessions[id] = sess
	sess.idle = time.AfterFunc(SessionIdleTimeout, func() { sm.reap(id) })
	n := len(sm.sessions)
	sm.mu.Unlock()

	sm.stats.SetActiveSessions(n)
	go sess.Game.Run()
	log.Printf("session %s (%q) started: %d cars, %s", id, name, cfg.Cars, cfg.Strategy)
	return sess, nil
}

// GetSession returns a session by ID
func (sm *SessionManager) GetSession(id string) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[id]
}

// MarkActive cancels a pending idle reap
func (sm *SessionManager) MarkActive(id string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if sess, ok := sm.sessions[id]; ok && sess.idle != nil {
		sess.idle.Stop()
	}
}

// Watch subscribes a client to a session's broadcasts
func (sm *SessionManager) Watch(id, clientID string, b Broadcaster) (*Session, error) {
	sess := sm.GetSession(id)
	if sess == nil {
		return nil, errSessionNotFound
	}
	if !sess.Game.AddWatcher(clientID, b) {
		return nil, errSessionFull
	}
	sm.MarkActive(id)
	sm.updateWatchers()
	return sess, nil
}

// Unwatch removes a client and schedules the session for reaping once
// nobody is left watching
func (sm *SessionManager) Unwatch(id, clientID string) {
	sess := sm.GetSession(id)
	if sess == nil {
		return
	}
	sess.Game.RemoveWatcher(clientID)
	if sess.Game.WatcherCount() == 0 {
		sm.mu.Lock()
		if sess.idle != nil {
			sess.idle.Stop()
		}
		sess.idle = time.AfterFunc(SessionIdleTimeout, func() { sm.reap(id) })
		sm.mu.Unlock()
	}
	sm.updateWatchers()
}

// reap removes a session that is still unwatched
func (sm *SessionManager) reap(id string) {
	sm.mu.Lock()
	sess, ok := sm.sessions[id]
	if !ok || sess.Game.WatcherCount() > 0 {
		sm.mu.Unlock()
		return
	}
	delete(sm.sessions, id)
	n := len(sm.sessions)
	sm.mu.Unlock()

	sm.finish(sess)
	sm.stats.SetActiveSessions(n)
	log.Printf("session %s reaped: no watchers", id)
}

// finish stops the tick loop and closes the run record
func (sm *SessionManager) finish(sess *Session) {
	sess.Game.Stop()
	if sm.db != nil && sess.RunID != 0 {
		if err := sm.db.FinishRun(sess.RunID, sess.Game.Tick()); err != nil {
			log.Printf("run %d not finished: %v", sess.RunID, err)
		}
	}
}

// StopAll finishes every session; used on shutdown
func (sm *SessionManager) StopAll() {
	sm.mu.Lock()
	all := make([]*Session, 0, len(sm.sessions))
	for id, sess := range sm.sessions {
		if sess.idle != nil {
			sess.idle.Stop()
		}
		all = append(all, sess)
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()

	for _, sess := range all {
		sm.finish(sess)
	}
	sm.stats.SetActiveSessions(0)
}

func (sm *SessionManager) updateWatchers() {
	sm.mu.RLock()
	n := 0
	for _, sess := range sm.sessions {
		n += sess.Game.WatcherCount()
	}
	sm.mu.RUnlock()
	sm.stats.SetWatchers(n)
}

// ListSessions returns info about all active sessions sorted by name
func (sm *SessionManager) ListSessions() []SessionInfo {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	list := make([]SessionInfo, 0, len(sm.sessions))
	for _, sess := range sm.sessions {
		list = append(list, SessionInfo{
			ID:       sess.ID,
			Name:     sess.Name,
			Strategy: sess.Strategy,
			Cars:     sess.Game.CarCount(),
			Watchers: sess.Game.WatcherCount(),
			Tick:     sess.Game.Tick(),
		})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// Count returns the number of live sessions
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// NewMapView flattens a road map into the watcher payload
func NewMapView(m *roadmap.Map) MapView {
	b := m.Bounds()
	view := MapView{
		Name:   m.Name,
		Bounds: [4]float64{b.MinX, b.MinY, b.MaxX, b.MaxY},
	}
	for _, in := range m.Intersections() {
		view.Intersections = append(view.Intersections, PointView{ID: in.ID, X: in.X, Y: in.Y})
	}
	for _, r := range m.Roads() {
		from, _ := m.Intersection(r.From)
		to, _ := m.Intersection(r.To)
		view.Roads = append(view.Roads, RoadView{
			ID:     r.ID,
			Name:   r.Name,
			Lanes:  r.Lanes,
			OneWay: r.OneWay,
			Line:   [4]float64{from.X, from.Y, to.X, to.Y},
		})
	}
	return view
}
