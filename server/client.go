package main

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"traffic-sim/internal/collision"
	"traffic-sim/internal/traffic"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	sendBufSize       = 256
	maxMessagesPerSec = 50
	maxSessionNameLen = 30
	defaultRunName    = "Traffic run"
)

// Client represents a WebSocket connection
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	id         string
	sessionID  string
	remoteAddr string
	msgCount   int
	msgResetAt time.Time
	// Auth state
	operatorID int64  // 0 = anonymous viewer
	username   string // "" = anonymous
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		id:         GenerateID(8),
		remoteAddr: remoteAddr,
	}
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws error: %v", err)
			}
			break
		}

		// Rate limiting
		now := time.Now()
		if now.After(c.msgResetAt) {
			c.msgCount = 0
			c.msgResetAt = now.Add(time.Second)
		}
		c.msgCount++
		if c.msgCount > maxMessagesPerSec {
			log.Printf("rate limit exceeded for %s, disconnecting", c.remoteAddr)
			break
		}

		c.handleMessage(message)
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// Check for binary marker (0xFF prefix from SendBinary)
			var err error
			if len(message) > 0 && message[0] == 0xFF {
				err = c.conn.WriteMessage(websocket.BinaryMessage, message[1:])
			} else {
				err = c.conn.WriteMessage(websocket.TextMessage, message)
			}
			if err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendJSON sends a JSON message to the client
func (c *Client) SendJSON(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("marshal error: %v", err)
		return
	}
	c.SendRaw(data)
}

// SendRaw sends pre-marshaled bytes as a text message to the client
func (c *Client) SendRaw(data []byte) {
	defer func() { recover() }()
	select {
	case c.send <- data:
	default:
		// Client too slow, drop message
	}
}

// SendBinary sends pre-marshaled bytes as a binary WebSocket message
// Prefixes with 0xFF marker byte so WritePump can distinguish from text
func (c *Client) SendBinary(data []byte) {
	defer func() { recover() }()
	msg := make([]byte, len(data)+1)
	msg[0] = 0xFF // binary marker
	copy(msg[1:], data)
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) sendError(msg string) {
	c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: msg}})
}

// handleMessage routes incoming messages (single-pass decode via InEnvelope)
func (c *Client) handleMessage(raw []byte) {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("unmarshal error: %v", err)
		return
	}

	switch env.T {
	case MsgList:
		c.handleList()
	case MsgCreate:
		c.handleCreate(env.D)
	case MsgWatch:
		c.handleWatch(env.D)
	case MsgLeave:
		c.handleLeave()
	case MsgSpawn:
		c.handleSpawn(env.D)
	case MsgDespawn:
		c.handleDespawn(env.D)
	case MsgInfo:
		c.handleInfo(env.D)
	case MsgRegister:
		c.handleRegister(env.D)
	case MsgLogin:
		c.handleLogin(env.D)
	case MsgAuth:
		c.handleAuth(env.D)
	}
}

// canControl reports whether the client may change runs. Without a
// database there are no accounts and everyone is an operator.
func (c *Client) canControl() bool {
	if c.hub.auth == nil || c.operatorID != 0 {
		return true
	}
	c.sendError("login required")
	return false
}

// watched returns the session the client is watching
func (c *Client) watched() *Session {
	if c.sessionID == "" {
		c.sendError("not watching a session")
		return nil
	}
	sess := c.hub.sessions.GetSession(c.sessionID)
	if sess == nil {
		c.sendError("session not found")
	}
	return sess
}

func (c *Client) handleList() {
	sessions := c.hub.sessions.ListSessions()
	c.SendJSON(Envelope{T: MsgSessions, Data: sessions})
}

func (c *Client) handleCreate(data json.RawMessage) {
	if !c.canControl() {
		return
	}
	var msg CreateMsg
	if len(data) > 0 {
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("bad create message")
			return
		}
	}

	cfg := c.hub.defaults
	if msg.Cars != nil {
		cfg.Cars = Clamp(*msg.Cars, 0, traffic.MaxCars)
	}
	if msg.Strategy != "" {
		s, err := collision.ParseStrategy(msg.Strategy)
		if err != nil {
			c.sendError(err.Error())
			return
		}
		cfg.Strategy = s
	}
	if msg.Seed != nil {
		cfg.Seed = *msg.Seed
	}

	name := TruncateName(msg.Name, maxSessionNameLen, defaultRunName)
	sess, err := c.hub.sessions.CreateSession(name, cfg, c.operatorID)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.SendJSON(Envelope{T: MsgCreated, Data: map[string]string{"sid": sess.ID}})
}

func (c *Client) handleWatch(data json.RawMessage) {
	var msg WatchMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if c.sessionID == msg.SID && msg.SID != "" {
		c.SendJSON(Envelope{T: MsgWatching, Data: WatchingMsg{SID: msg.SID, Map: c.hub.mapView}})
		return
	}
	sess, err := c.hub.sessions.Watch(msg.SID, c.id, c)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	if c.sessionID != "" {
		c.hub.sessions.Unwatch(c.sessionID, c.id)
	}
	c.sessionID = sess.ID
	c.SendJSON(Envelope{T: MsgWatching, Data: WatchingMsg{SID: sess.ID, Map: c.hub.mapView}})
}

func (c *Client) handleLeave() {
	if c.sessionID != "" {
		c.hub.sessions.Unwatch(c.sessionID, c.id)
		c.sessionID = ""
	}
}

func (c *Client) handleSpawn(data json.RawMessage) {
	if !c.canControl() {
		return
	}
	sess := c.watched()
	if sess == nil {
		return
	}
	var msg SpawnMsg
	if len(data) > 0 {
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("bad spawn message")
			return
		}
	}
	// watchers, this client included, hear about it from the game
	if _, err := sess.Game.Spawn(msg.At); err != nil {
		c.sendError(err.Error())
	}
}

func (c *Client) handleDespawn(data json.RawMessage) {
	if !c.canControl() {
		return
	}
	sess := c.watched()
	if sess == nil {
		return
	}
	var msg CarMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("bad despawn message")
		return
	}
	if err := sess.Game.Despawn(msg.ID); err != nil {
		c.sendError(err.Error())
	}
}

func (c *Client) handleInfo(data json.RawMessage) {
	sess := c.watched()
	if sess == nil {
		return
	}
	var msg CarMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	info, ok := sess.Game.CarInfo(msg.ID)
	if !ok {
		c.sendError("car not found")
		return
	}
	c.SendJSON(Envelope{T: MsgCarInfo, Data: info})
}

func (c *Client) handleRegister(data json.RawMessage) {
	if c.hub.auth == nil {
		c.sendError("accounts disabled")
		return
	}
	var msg RegisterMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	creds, err := c.hub.auth.Register(msg.Username, msg.Password)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.authenticated(creds)
}

func (c *Client) handleLogin(data json.RawMessage) {
	if c.hub.auth == nil {
		c.sendError("accounts disabled")
		return
	}
	var msg LoginMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	creds, err := c.hub.auth.Login(msg.Username, msg.Password, c.remoteAddr)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.authenticated(creds)
}

func (c *Client) handleAuth(data json.RawMessage) {
	if c.hub.auth == nil {
		c.sendError("accounts disabled")
		return
	}
	var msg AuthMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	claims, err := c.hub.auth.ValidateToken(msg.Token)
	if err != nil {
		c.sendError("invalid token")
		return
	}
	c.authenticated(Credentials{OperatorID: claims.OperatorID, Username: claims.Username(), Token: msg.Token})
}

func (c *Client) authenticated(creds Credentials) {
	c.operatorID = creds.OperatorID
	c.username = creds.Username
	c.SendJSON(Envelope{T: MsgAuthOK, Data: AuthOKMsg{
		Token:      creds.Token,
		Username:   creds.Username,
		OperatorID: creds.OperatorID,
	}})
}
