package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const hmrSubprotocol = "devkit-hmr"

var upgrader = websocket.Upgrader{
	Subprotocols:    []string{hmrSubprotocol},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wireMessage is the envelope every message on the channel uses. Payload
// is kept as json.RawMessage on decode so the dispatcher can switch on
// Type before committing to a concrete struct.
type wireMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type connectedPayload struct{}

type updatePayload struct {
	Updates []wireUpdate `json:"updates"`
}

type wireUpdate struct {
	Type         string `json:"type"`
	Path         string `json:"path"`
	AcceptedPath string `json:"acceptedPath"`
	Timestamp    int64  `json:"timestamp"`
}

type fullReloadPayload struct {
	Path string `json:"path,omitempty"`
}

type prunePayload struct {
	Paths []string `json:"paths"`
}

type errorPayload struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

type customPayload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// conn wraps one upgraded websocket connection. Writes are serialized
// through a single goroutine reading off send, since *websocket.Conn
// forbids concurrent writers.
type conn struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
}

// Channel is the server side of the Message Channel: it fans outgoing
// updates out to every connected browser tab and dispatches incoming
// custom events to registered listeners.
type Channel struct {
	mu            sync.RWMutex
	conns         map[*conn]struct{}
	pendingErrors [][]byte

	listenersMu sync.RWMutex
	listeners   map[string][]func(data json.RawMessage)
}

func NewChannel() *Channel {
	return &Channel{
		conns:     map[*conn]struct{}{},
		listeners: map[string][]func(data json.RawMessage){},
	}
}

// Upgrade promotes an HTTP request to a websocket connection and begins
// serving it. Called from the router for the HMR endpoint path.
func (c *Channel) Upgrade(w http.ResponseWriter, r *http.Request) error {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	cn := &conn{ws: ws, send: make(chan []byte, 32), done: make(chan struct{})}

	c.mu.Lock()
	c.conns[cn] = struct{}{}
	c.mu.Unlock()

	connected, _ := json.Marshal(wireMessage{Type: "connected"})
	cn.send <- connected

	c.mu.Lock()
	pending := c.pendingErrors
	c.pendingErrors = nil
	c.mu.Unlock()
	for _, data := range pending {
		cn.send <- data
	}

	go c.writeLoop(cn)
	go c.readLoop(cn)
	return nil
}

func (c *Channel) writeLoop(cn *conn) {
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-cn.done:
			cn.ws.Close()
			return
		case msg := <-cn.send:
			cn.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := cn.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.drop(cn)
				return
			}
		case <-ping.C:
			cn.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := cn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.drop(cn)
				return
			}
		}
	}
}

func (c *Channel) readLoop(cn *conn) {
	defer c.drop(cn)
	for {
		_, data, err := cn.ws.ReadMessage()
		if err != nil {
			return
		}
		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "custom" {
			continue
		}
		var p customPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			continue
		}
		c.dispatch(p.Event, p.Data)
	}
}

func (c *Channel) drop(cn *conn) {
	c.mu.Lock()
	if _, ok := c.conns[cn]; ok {
		delete(c.conns, cn)
		close(cn.done)
	}
	c.mu.Unlock()
}

func (c *Channel) broadcast(msg wireMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for cn := range c.conns {
		select {
		case cn.send <- data:
		default:
			// slow consumer: drop rather than block the HMR engine.
			log.Warnf("channel: dropping update for a slow client")
		}
	}
}

// SendUpdate broadcasts a batch of js-update/css-update payloads.
func (c *Channel) SendUpdate(updates []HmrUpdate) {
	if len(updates) == 0 {
		return
	}
	out := make([]wireUpdate, len(updates))
	for i, u := range updates {
		out[i] = wireUpdate{Type: string(u.Kind), Path: u.Path, AcceptedPath: u.AcceptedPath, Timestamp: u.Timestamp}
	}
	payload, _ := json.Marshal(updatePayload{Updates: out})
	c.broadcast(wireMessage{Type: "update", Payload: payload})
}

// SendFullReload asks every connected client to reload. path scopes the
// reload to clients currently on that page; empty reloads unconditionally.
func (c *Channel) SendFullReload(path string) {
	payload, _ := json.Marshal(fullReloadPayload{Path: path})
	c.broadcast(wireMessage{Type: "full-reload", Payload: payload})
}

// SendPrune tells clients the listed module URLs are gone, so their
// disposed-but-unreplaced state (e.g. injected <style> tags) can be
// cleaned up.
func (c *Channel) SendPrune(paths []string) {
	if len(paths) == 0 {
		return
	}
	payload, _ := json.Marshal(prunePayload{Paths: paths})
	c.broadcast(wireMessage{Type: "prune", Payload: payload})
}

// SendError mirrors a pipeline failure onto the channel so the client
// runtime's overlay can show it without needing a page reload. If no
// client is connected yet, the message is buffered and flushed to the
// first connection that upgrades, rather than dropped.
func (c *Channel) SendError(message, stack string) {
	payload, _ := json.Marshal(errorPayload{Message: message, Stack: stack})
	data, err := json.Marshal(wireMessage{Type: "error", Payload: payload})
	if err != nil {
		return
	}

	c.mu.Lock()
	if len(c.conns) == 0 {
		c.pendingErrors = append(c.pendingErrors, data)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.broadcast(wireMessage{Type: "error", Payload: payload})
}

// On registers a listener for a custom client->server event, the way a
// plugin's configureServer hook wires application-specific messages.
func (c *Channel) On(event string, fn func(data json.RawMessage)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners[event] = append(c.listeners[event], fn)
}

func (c *Channel) dispatch(event string, data json.RawMessage) {
	c.listenersMu.RLock()
	fns := append([]func(data json.RawMessage){}, c.listeners[event]...)
	c.listenersMu.RUnlock()
	for _, fn := range fns {
		fn(data)
	}
}

// Close disconnects every client, used on server shutdown.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for cn := range c.conns {
		close(cn.done)
		cn.ws.Close()
	}
	c.conns = map[*conn]struct{}{}
	return nil
}
