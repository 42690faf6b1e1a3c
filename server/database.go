package main

import (
	"database/sql"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// OperatorRow represents an operator account
type OperatorRow struct {
	ID        int64
	Username  string
	PassHash  string
	CreatedAt time.Time
}

// RunRow represents one simulation run
type RunRow struct {
	ID         int64      `json:"id"`
	SessionID  string     `json:"sid"`
	Name       string     `json:"name"`
	Map        string     `json:"map"`
	Strategy   string     `json:"strategy"`
	Cars       int        `json:"cars"`
	Seed       int64      `json:"seed"`
	OperatorID int64      `json:"operatorId,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
	Ticks      int64      `json:"ticks"`
}

// TickStatRow is one aggregated window of collision reports
type TickStatRow struct {
	RunID         int64   `json:"runId"`
	Tick          int64   `json:"tick"`
	Cars          int     `json:"cars"`
	Evaluated     int     `json:"evaluated"`
	Skipped       int     `json:"skipped"`
	ThrottledDown int     `json:"throttledDown"`
	ThrottledUp   int     `json:"throttledUp"`
	Overlaps      int     `json:"overlaps"`
	MeanSpeed     float64 `json:"meanSpeed"`
	Rebuilds      int     `json:"rebuilds"`
}

// OpenDB opens (or creates) the SQLite database
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates tables if they don't exist
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS operators (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		pass_hash TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		name TEXT NOT NULL,
		map TEXT NOT NULL DEFAULT '',
		strategy TEXT NOT NULL,
		cars INTEGER NOT NULL DEFAULT 0,
		seed INTEGER NOT NULL DEFAULT 0,
		operator_id INTEGER REFERENCES operators(id),
		started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		ended_at DATETIME,
		ticks INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS tick_stats (
		run_id INTEGER NOT NULL REFERENCES runs(id),
		tick INTEGER NOT NULL,
		cars INTEGER NOT NULL DEFAULT 0,
		evaluated INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		throttled_down INTEGER NOT NULL DEFAULT 0,
		throttled_up INTEGER NOT NULL DEFAULT 0,
		overlaps INTEGER NOT NULL DEFAULT 0,
		mean_speed REAL NOT NULL DEFAULT 0,
		rebuilds INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (run_id, tick)
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id);
	`
	_, err := db.conn.Exec(schema)
	if err != nil {
		log.Printf("DB migration error: %v", err)
	}
	return err
}

// CreateOperator creates a new operator account (returns operator ID)
func (db *DB) CreateOperator(username, passHash string) (int64, error) {
	res, err := db.conn.Exec(
		"INSERT INTO operators (username, pass_hash) VALUES (?, ?)",
		username, passHash,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetOperatorByUsername returns an operator by username
func (db *DB) GetOperatorByUsername(username string) (*OperatorRow, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, pass_hash, created_at FROM operators WHERE username = ?",
		username,
	)
	o := &OperatorRow{}
	err := row.Scan(&o.ID, &o.Username, &o.PassHash, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}

// UsernameExists checks if a username is taken
func (db *DB) UsernameExists(username string) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM operators WHERE username = ?", username).Scan(&count)
	return count > 0, err
}

// GetSetting returns a stored setting, or "" when unset
func (db *DB) GetSetting(key string) string {
	var value string
	err := db.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil && err != sql.ErrNoRows {
		log.Printf("settings: read %s: %v", key, err)
	}
	return value
}

// SetSetting stores a setting, replacing any previous value
func (db *DB) SetSetting(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}

// StartRun records a new run and returns its ID
func (db *DB) StartRun(r RunRow) (int64, error) {
	var operator sql.NullInt64
	if r.OperatorID != 0 {
		operator = sql.NullInt64{Int64: r.OperatorID, Valid: true}
	}
	res, err := db.conn.Exec(
		`INSERT INTO runs (session_id, name, map, strategy, cars, seed, operator_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.Name, r.Map, r.Strategy, r.Cars, r.Seed, operator,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// FinishRun stamps the end time and final tick count
func (db *DB) FinishRun(id int64, ticks uint64) error {
	_, err := db.conn.Exec(
		"UPDATE runs SET ended_at = CURRENT_TIMESTAMP, ticks = ? WHERE id = ?",
		int64(ticks), id,
	)
	return err
}

// ListRuns returns the most recent runs first
func (db *DB) ListRuns(limit int) ([]RunRow, error) {
	rows, err := db.conn.Query(`
		SELECT id, session_id, name, map, strategy, cars, seed, operator_id, started_at, ended_at, ticks
		FROM runs
		ORDER BY id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []RunRow{}
	for rows.Next() {
		var (
			r        RunRow
			operator sql.NullInt64
			ended    sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Name, &r.Map, &r.Strategy, &r.Cars, &r.Seed,
			&operator, &r.StartedAt, &ended, &r.Ticks); err != nil {
			return nil, err
		}
		r.OperatorID = operator.Int64
		if ended.Valid {
			t := ended.Time
			r.EndedAt = &t
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// InsertTickStats writes a batch of tick windows in one transaction
func (db *DB) InsertTickStats(stats []TickStatRow) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO tick_stats
		(run_id, tick, cars, evaluated, skipped, throttled_down, throttled_up, overlaps, mean_speed, rebuilds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range stats {
		if _, err := stmt.Exec(s.RunID, s.Tick, s.Cars, s.Evaluated, s.Skipped,
			s.ThrottledDown, s.ThrottledUp, s.Overlaps, s.MeanSpeed, s.Rebuilds); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// TickStats returns the recorded windows of a run in tick order
func (db *DB) TickStats(runID int64, limit int) ([]TickStatRow, error) {
	rows, err := db.conn.Query(`
		SELECT run_id, tick, cars, evaluated, skipped, throttled_down, throttled_up, overlaps, mean_speed, rebuilds
		FROM tick_stats
		WHERE run_id = ?
		ORDER BY tick
		LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []TickStatRow{}
	for rows.Next() {
		var s TickStatRow
		if err := rows.Scan(&s.RunID, &s.Tick, &s.Cars, &s.Evaluated, &s.Skipped,
			&s.ThrottledDown, &s.ThrottledUp, &s.Overlaps, &s.MeanSpeed, &s.Rebuilds); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}
