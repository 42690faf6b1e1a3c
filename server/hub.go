package main

import (
	"sync"

	"traffic-sim/internal/roadmap"
	"traffic-sim/internal/traffic"
)

const (
	maxConnsPerIP = 5
	maxTotalConns = 1000
)

// Hub manages all connected clients and routes them to sessions
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	sessions   *SessionManager
	// Connection limiting (mutex-protected, accessed from HTTP handlers)
	connMu     sync.Mutex
	ipConns    map[string]int
	totalConns int
	// Persistence; all nil when running without a database
	db    *DB
	auth  *Auth
	stats *Analytics

	road     *roadmap.Map
	mapView  MapView
	defaults traffic.Config
}

// NewHub creates a Hub serving runs on m. A nil db disables operator
// accounts and run history, and leaves control messages open to everyone.
func NewHub(db *DB, m *roadmap.Map, defaults traffic.Config) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		ipConns:    make(map[string]int),
		db:         db,
		road:       m,
		mapView:    NewMapView(m),
		defaults:   defaults,
	}
	if db != nil {
		h.auth = NewAuth(db)
		h.stats = NewAnalytics(db)
	}
	h.sessions = NewSessionManager(m, db, h.stats)
	return h
}

func (h *Hub) CanAccept(ip string) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= maxTotalConns {
		return false
	}
	if h.ipConns[ip] >= maxConnsPerIP {
		return false
	}
	return true
}

func (h *Hub) TrackConnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]++
	h.totalConns++
}

func (h *Hub) TrackDisconnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
}

// Run processes register/unregister events
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			if client.sessionID != "" {
				h.sessions.Unwatch(client.sessionID, client.id)
			}
		}
	}
}

// Shutdown stops every run and flushes pending statistics
func (h *Hub) Shutdown() {
	h.sessions.StopAll()
	if h.stats != nil {
		h.stats.Stop()
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TotalConns returns the tracked connection count
func (h *Hub) TotalConns() int {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	return h.totalConns
}
