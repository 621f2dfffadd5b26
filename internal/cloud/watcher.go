package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Outbound WebSocket messages (to backend)
	MsgTypePong MessageType = "pong"

	// Inbound WebSocket messages (from backend)
	MsgTypePing   MessageType = "ping"
	MsgTypeResync MessageType = "resync"
)

// Message represents a WebSocket message to/from the backend
type Message struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id,omitempty"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Watcher maintains the WebSocket agent channel to the backend and derives
// the online/offline reachability signal from its connection state. A
// successful connect is an offline-to-online transition; a read failure or
// failed dial means offline.
type Watcher struct {
	config Config
	log    zerolog.Logger

	conn     *websocket.Conn
	sendChan chan *Message
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	online   bool

	currentRetryDelay time.Duration

	onOnline func()
	onResync func()
}

// NewWatcher creates a reachability watcher for the agent channel
func NewWatcher(config Config, log zerolog.Logger) *Watcher {
	return &Watcher{
		config:            config,
		log:               log.With().Str("component", "watcher").Logger(),
		sendChan:          make(chan *Message, 16),
		stopChan:          make(chan struct{}),
		currentRetryDelay: config.InitialRetryDelay,
	}
}

// SetOnlineCallback sets the callback fired on each offline-to-online
// transition
func (w *Watcher) SetOnlineCallback(cb func()) {
	w.mu.Lock()
	w.onOnline = cb
	w.mu.Unlock()
}

// SetResyncCallback sets the callback fired when the backend pushes a
// resync hint
func (w *Watcher) SetResyncCallback(cb func()) {
	w.mu.Lock()
	w.onResync = cb
	w.mu.Unlock()
}

// IsOnline returns whether the agent channel is currently connected
func (w *Watcher) IsOnline() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

// Start begins the connection loop
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.connectionLoop(ctx)
}

// Stop disconnects and stops the connection loop
func (w *Watcher) Stop() {
	close(w.stopChan)
	w.wg.Wait()
}

// connectionLoop manages the WebSocket connection with exponential backoff
func (w *Watcher) connectionLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopChan:
			w.disconnect()
			return
		case <-ctx.Done():
			w.disconnect()
			return
		default:
		}

		if err := w.connect(); err != nil {
			w.log.Debug().Err(err).Msg("backend not reachable")
			if !w.waitWithBackoff() {
				w.disconnect()
				return
			}
			continue
		}

		// Reset retry delay on successful connection
		w.currentRetryDelay = w.config.InitialRetryDelay

		// Run read/write loops until disconnected
		w.runMessageLoops(ctx)

		w.log.Warn().Msg("disconnected from backend, reconnecting")
		w.setOnline(false)
		if !w.waitWithBackoff() {
			w.disconnect()
			return
		}
	}
}

// waitWithBackoff waits for the current retry delay with jitter. Returns
// false if the watcher was stopped while waiting.
func (w *Watcher) waitWithBackoff() bool {
	jitter := w.currentRetryDelay.Seconds() * w.config.JitterPercent * (rand.Float64()*2 - 1)
	delay := w.currentRetryDelay + time.Duration(jitter*float64(time.Second))

	// Increase delay for next time (exponential backoff)
	w.currentRetryDelay = time.Duration(float64(w.currentRetryDelay) * w.config.BackoffMultiplier)
	if w.currentRetryDelay > w.config.MaxRetryDelay {
		w.currentRetryDelay = w.config.MaxRetryDelay
	}

	select {
	case <-w.stopChan:
		return false
	case <-time.After(delay):
		return true
	}
}

// connect establishes the WebSocket connection and flips the online state
func (w *Watcher) connect() error {
	wsURL := fmt.Sprintf("%s?api_key=%s&agent_id=%s",
		w.config.WebSocketURL, w.config.Identity.APIKey, w.config.AgentID)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	w.log.Info().Str("url", w.config.WebSocketURL).Msg("connected to backend")
	w.setOnline(true)
	return nil
}

// setOnline updates the online flag and fires the transition callback on
// offline-to-online edges
func (w *Watcher) setOnline(online bool) {
	w.mu.Lock()
	transitioned := online && !w.online
	w.online = online
	cb := w.onOnline
	w.mu.Unlock()

	if transitioned && cb != nil {
		go cb()
	}
}

// disconnect closes the WebSocket connection
func (w *Watcher) disconnect() {
	w.mu.Lock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.online = false
	w.mu.Unlock()
}

// runMessageLoops runs the read and write loops until either exits
func (w *Watcher) runMessageLoops(ctx context.Context) {
	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.readLoop(done)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.writeLoop(ctx, done)
	}()

	wg.Wait()
}

// readLoop reads messages from the WebSocket
func (w *Watcher) readLoop(done chan struct{}) {
	defer close(done)

	for {
		w.mu.Lock()
		conn := w.conn
		w.mu.Unlock()

		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(w.config.ReadTimeout))

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				w.log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			w.log.Warn().Err(err).Msg("failed to parse message")
			continue
		}

		w.handleMessage(&msg)
	}
}

// writeLoop sends messages and keepalive pings over the WebSocket
func (w *Watcher) writeLoop(ctx context.Context, done chan struct{}) {
	ticker := time.NewTicker(w.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return

		case msg := <-w.sendChan:
			w.mu.Lock()
			conn := w.conn
			w.mu.Unlock()

			if conn == nil {
				continue
			}

			data, err := json.Marshal(msg)
			if err != nil {
				w.log.Warn().Err(err).Msg("failed to marshal message")
				continue
			}

			conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				w.log.Warn().Err(err).Msg("websocket write error")
				return
			}

		case <-ticker.C:
			w.mu.Lock()
			conn := w.conn
			w.mu.Unlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				w.log.Warn().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message
func (w *Watcher) handleMessage(msg *Message) {
	w.mu.Lock()
	onResync := w.onResync
	w.mu.Unlock()

	switch msg.Type {
	case MsgTypePing:
		w.sendPong(msg.ID)

	case MsgTypeResync:
		if onResync != nil {
			go onResync()
		}

	default:
		w.log.Debug().Str("type", string(msg.Type)).Msg("unknown message type")
	}
}

// sendPong sends a pong response to an application-level ping
func (w *Watcher) sendPong(pingID string) {
	payload, _ := json.Marshal(map[string]interface{}{"ping_id": pingID})

	msg := &Message{
		Type:      MsgTypePong,
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}

	select {
	case w.sendChan <- msg:
	default:
		w.log.Warn().Msg("send queue full, dropping pong")
	}
}
