package main

import (
	"log"
	"sync"
	"time"
)

const (
	statsQueueSize = 1024
	statsBatchSize = 50
	statsFlushIdle = 5 * time.Second
)

// Analytics persists tick-stat windows with batched background writes and
// keeps a few live counters for the status endpoint.
type Analytics struct {
	db      *DB
	samples chan TickStatRow
	stop    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once

	mu             sync.RWMutex
	activeSessions int
	watchers       int
	dropped        int
}

// NewAnalytics creates and starts the background writer. A nil db makes
// every Record a no-op.
func NewAnalytics(db *DB) *Analytics {
	a := &Analytics{
		db:      db,
		samples: make(chan TickStatRow, statsQueueSize),
		stop:    make(chan struct{}),
	}
	a.wg.Add(1)
	go a.writer()
	return a
}

// Record enqueues a window for async persistence (non-blocking)
func (a *Analytics) Record(s TickStatRow) {
	if a == nil || a.db == nil {
		return
	}
	select {
	case a.samples <- s:
	default:
		// Queue full; drop rather than stall the tick loop
		a.mu.Lock()
		a.dropped++
		a.mu.Unlock()
	}
}

// SetActiveSessions updates the live session count
func (a *Analytics) SetActiveSessions(n int) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.activeSessions = n
	a.mu.Unlock()
}

// SetWatchers updates the live viewer count
func (a *Analytics) SetWatchers(n int) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.watchers = n
	a.mu.Unlock()
}

// LiveMetrics returns (active sessions, watchers, dropped windows)
func (a *Analytics) LiveMetrics() (int, int, int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.activeSessions, a.watchers, a.dropped
}

// Stop flushes what is queued and shuts the writer down
func (a *Analytics) Stop() {
	a.once.Do(func() { close(a.stop) })
	a.wg.Wait()
}

// writer is the background goroutine that batches windows into the DB
func (a *Analytics) writer() {
	defer a.wg.Done()

	batch := make([]TickStatRow, 0, statsBatchSize)
	ticker := time.NewTicker(statsFlushIdle)
	defer ticker.Stop()

	for {
		select {
		case s := <-a.samples:
			batch = append(batch, s)
			if len(batch) >= statsBatchSize {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-a.stop:
			// Drain without closing; Record may still race with shutdown
			for {
				select {
				case s := <-a.samples:
					batch = append(batch, s)
					continue
				default:
				}
				break
			}
			a.flush(batch)
			return
		}
	}
}

// flush writes a batch of windows to the database
func (a *Analytics) flush(batch []TickStatRow) {
	if a.db == nil || len(batch) == 0 {
		return
	}
	if err := a.db.InsertTickStats(batch); err != nil {
		log.Printf("analytics: write %d windows: %v", len(batch), err)
	}
}
