package main

import (
	"testing"
	"time"
)

func newTestManager(t *testing.T, db *DB) *SessionManager {
	t.Helper()
	sm := NewSessionManager(testMap(t), db, nil)
	t.Cleanup(sm.StopAll)
	return sm
}

func TestSessionIDIsUUID(t *testing.T) {
	sm := newTestManager(t, nil)
	sess, err := sm.CreateSession("TestRun", testDefaults(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if !uuidRegex.MatchString(sess.ID) {
		t.Errorf("session ID %q is not a valid UUID v4", sess.ID)
	}
}

func TestSessionManagerCreateAndGet(t *testing.T) {
	sm := newTestManager(t, nil)
	sess, err := sm.CreateSession("Rush", testDefaults(), 0)
	if err != nil {
		t.Fatal(err)
	}

	got := sm.GetSession(sess.ID)
	if got == nil {
		t.Fatal("expected to find created session")
	}
	if got.Name != "Rush" || got.Strategy != "grid" {
		t.Errorf("session = %s/%s", got.Name, got.Strategy)
	}
	if sm.GetSession("nonexistent") != nil {
		t.Error("expected nil for non-existent session")
	}
}

func TestSessionManagerRejectsBadConfig(t *testing.T) {
	sm := newTestManager(t, nil)
	cfg := testDefaults()
	cfg.CarWidth = 0
	if _, err := sm.CreateSession("Broken", cfg, 0); err == nil {
		t.Fatal("expected config error")
	}
	if sm.Count() != 0 {
		t.Errorf("failed create left %d sessions", sm.Count())
	}
}

func TestSessionManagerListSorted(t *testing.T) {
	sm := newTestManager(t, nil)
	sm.CreateSession("Beta", testDefaults(), 0)
	sm.CreateSession("Alpha", testDefaults(), 0)

	list := sm.ListSessions()
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
	if list[0].Name != "Alpha" || list[1].Name != "Beta" {
		t.Errorf("list not sorted: %s, %s", list[0].Name, list[1].Name)
	}
}

func TestSessionManagerReapsUnwatched(t *testing.T) {
	prevIdleTimeout := SessionIdleTimeout
	SessionIdleTimeout = 20 * time.Millisecond
	defer func() {
		SessionIdleTimeout = prevIdleTimeout
	}()

	sm := newTestManager(t, nil)
	sess, _ := sm.CreateSession("Temp", testDefaults(), 0)
	if _, err := sm.Watch(sess.ID, "viewer", &mockBroadcaster{}); err != nil {
		t.Fatal(err)
	}

	// Watched sessions outlive the timeout
	time.Sleep(SessionIdleTimeout + 20*time.Millisecond)
	if sm.GetSession(sess.ID) == nil {
		t.Fatal("watched session was reaped")
	}

	sm.Unwatch(sess.ID, "viewer")
	time.Sleep(SessionIdleTimeout + 30*time.Millisecond)
	if sm.GetSession(sess.ID) != nil {
		t.Error("expected session to be removed after last watcher leaves")
	}
}

func TestSessionManagerRecordsRun(t *testing.T) {
	db := openTestDB(t)
	sm := NewSessionManager(testMap(t), db, nil)

	sess, err := sm.CreateSession("Logged", testDefaults(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if sess.RunID == 0 {
		t.Fatal("run not recorded")
	}
	time.Sleep(3 * TickDuration)
	sm.StopAll()

	runs, err := db.ListRuns(10)
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs = %v, %v", runs, err)
	}
	if runs[0].SessionID != sess.ID || runs[0].Map != "Gridtown" {
		t.Errorf("run = %+v", runs[0])
	}
	if runs[0].EndedAt == nil || runs[0].Ticks == 0 {
		t.Errorf("run not finished: %+v", runs[0])
	}
}

func TestNewMapView(t *testing.T) {
	view := NewMapView(testMap(t))
	var parkway *RoadView
	for i := range view.Roads {
		if view.Roads[i].ID == "parkway" {
			parkway = &view.Roads[i]
		}
	}
	if parkway == nil {
		t.Fatal("parkway missing from view")
	}
	// c1 -> b2
	if !parkway.OneWay || parkway.Line != [4]float64{150, 850, 500, 500} {
		t.Errorf("parkway = %+v", parkway)
	}
}

// ---------- Util functions ----------

func TestGenerateIDLength(t *testing.T) {
	id := GenerateID(4)
	if len(id) != 8 { // 4 bytes = 8 hex chars
		t.Errorf("expected 8 chars, got %d: %s", len(id), id)
	}

	id2 := GenerateID(8)
	if len(id2) != 16 {
		t.Errorf("expected 16 chars, got %d: %s", len(id2), id2)
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		v, min, max, want int
	}{
		{5, 0, 10, 5},
		{-1, 0, 10, 0},
		{15, 0, 10, 10},
		{0, 0, 10, 0},
		{10, 0, 10, 10},
	}
	for _, tt := range tests {
		got := Clamp(tt.v, tt.min, tt.max)
		if got != tt.want {
			t.Errorf("Clamp(%d, %d, %d) = %d, want %d", tt.v, tt.min, tt.max, got, tt.want)
		}
	}
}

func TestTruncateName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "def"},
		{"   ", "def"},
		{" Rush ", "Rush"},
		{"abcdefgh", "abcde"},
		{"ÄÖÜäöüß", "ÄÖÜäö"},
	}
	for _, tt := range tests {
		if got := TruncateName(tt.in, 5, "def"); got != tt.want {
			t.Errorf("TruncateName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
