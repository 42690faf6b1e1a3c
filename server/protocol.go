package main

import "encoding/json"

// Client -> Server message types
const (
	MsgList     = "list"    // list sessions
	MsgCreate   = "create"  // create a run (operator)
	MsgWatch    = "watch"   // subscribe to a run's state
	MsgLeave    = "leave"   // unsubscribe
	MsgSpawn    = "spawn"   // add a car (operator)
	MsgDespawn  = "despawn" // remove a car (operator)
	MsgInfo     = "info"    // car details
	MsgRegister = "register"
	MsgLogin    = "login"
	MsgAuth     = "auth" // resume with a stored token
)

// Server -> Client message types
const (
	MsgState     = "state" // binary, msgpack SimState
	MsgSessions  = "sessions"
	MsgCreated   = "created"
	MsgWatching  = "watching"
	MsgSpawned   = "spawned"
	MsgDespawned = "despawned"
	MsgCarInfo   = "car_info"
	MsgAuthOK    = "auth_ok"
	MsgError     = "error"
)

// Envelope wraps all outgoing messages with a type field
type Envelope struct {
	T    string      `json:"t"`
	Data interface{} `json:"d,omitempty"`
}

// InEnvelope is used for incoming messages; json.RawMessage avoids double-unmarshal
type InEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// CreateMsg asks for a new run. Zero fields fall back to the server defaults.
type CreateMsg struct {
	Name     string `json:"name"`
	Cars     *int   `json:"cars,omitempty"`
	Strategy string `json:"strategy,omitempty"`
	Seed     *int64 `json:"seed,omitempty"`
}

// WatchMsg subscribes to a session
type WatchMsg struct {
	SID string `json:"sid"`
}

// SpawnMsg adds a car at an intersection (random when empty)
type SpawnMsg struct {
	At string `json:"at,omitempty"`
}

// CarMsg names a car for despawn/info
type CarMsg struct {
	ID string `json:"id"`
}

// RegisterMsg creates an operator account
type RegisterMsg struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginMsg authenticates an operator
type LoginMsg struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthMsg resumes a session with a stored token
type AuthMsg struct {
	Token string `json:"token"`
}

// AuthOKMsg confirms authentication
type AuthOKMsg struct {
	Token      string `json:"token"`
	Username   string `json:"username"`
	OperatorID int64  `json:"oid"`
}

// CarState is broadcast per car
type CarState struct {
	ID      string  `msgpack:"id" json:"id"`
	X       float64 `msgpack:"x" json:"x"`
	Y       float64 `msgpack:"y" json:"y"`
	Heading float64 `msgpack:"h" json:"h"` // degrees clockwise from north
	Speed   float64 `msgpack:"s" json:"s"`
	Width   float64 `msgpack:"w" json:"w"`
	Height  float64 `msgpack:"l" json:"l"`
}

// TickReport summarises the throttle decisions of the broadcast tick
type TickReport struct {
	Down     int `msgpack:"d" json:"d"`
	Up       int `msgpack:"u" json:"u"`
	Overlaps int `msgpack:"o" json:"o"`
	Skipped  int `msgpack:"k,omitempty" json:"k,omitempty"`
}

// SimState is the full state broadcast
type SimState struct {
	Tick   uint64     `msgpack:"tick" json:"tick"`
	Cars   []CarState `msgpack:"c" json:"c"`
	Report TickReport `msgpack:"r" json:"r"`
}

// WatchingMsg confirms a subscription and carries the static map
type WatchingMsg struct {
	SID string  `json:"sid"`
	Map MapView `json:"map"`
}

// MapView is the road network as drawn by viewers
type MapView struct {
	Name          string      `json:"name"`
	Bounds        [4]float64  `json:"bounds"` // minX, minY, maxX, maxY
	Intersections []PointView `json:"intersections"`
	Roads         []RoadView  `json:"roads"`
}

// PointView is one intersection
type PointView struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// RoadView is one road segment
type RoadView struct {
	ID     string     `json:"id"`
	Name   string     `json:"name,omitempty"`
	Lanes  int        `json:"lanes"`
	OneWay bool       `json:"oneWay,omitempty"`
	Line   [4]float64 `json:"line"` // x0, y0, x1, y1
}

// SessionInfo is used in the session list
type SessionInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Strategy string `json:"strategy"`
	Cars     int    `json:"cars"`
	Watchers int    `json:"watchers"`
	Tick     uint64 `json:"tick"`
}

// ErrorMsg sends error to client
type ErrorMsg struct {
	Msg string `json:"msg"`
}
