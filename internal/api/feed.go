package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// maxFeedConnectionsTotal bounds total concurrent feed subscribers.
	maxFeedConnectionsTotal = 500
	// maxFeedConnectionsPerIP bounds per-IP feed subscriptions.
	maxFeedConnectionsPerIP = 10
	// feedTopN is how many ranks the feed pushes per tick.
	feedTopN = 10
)

var feedUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if IsAllowedOrigin(origin) {
			return true
		}
		log.Printf("⚠️ leaderboard feed: rejected connection from origin %q", origin)
		recordConnectionRejected("origin")
		return false
	},
}

type feedClient struct {
	conn *websocket.Conn
	ip   string
}

// Feed pushes the current top-N leaderboard to subscribed WebSocket
// clients at a fixed interval. It is a supplemental push surface: the
// ranked index's programmatic surface (RanksByRange / RanksByCustomer)
// is pull-only; the feed is layered on top of it, not a replacement.
//
// Generalized from a WebSocketHub broadcasting a single hard-coded
// payload to one broadcasting a caller-supplied snapshot function.
type Feed struct {
	snapshot func() interface{} // returns the payload to broadcast each tick

	clients    map[*websocket.Conn]*feedClient
	broadcast  chan []byte
	register   chan *feedClient
	unregister chan *websocket.Conn
	mu         sync.RWMutex

	limiter *WebSocketRateLimiter

	stop chan struct{}
	once sync.Once
}

// NewFeed constructs a Feed that calls snapshot() each tick to produce
// the broadcast payload (e.g. a read of RanksByRange(1, 10)).
func NewFeed(snapshot func() interface{}) *Feed {
	return &Feed{
		snapshot:   snapshot,
		clients:    make(map[*websocket.Conn]*feedClient),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *feedClient),
		unregister: make(chan *websocket.Conn),
		limiter:    NewWebSocketRateLimiter(maxFeedConnectionsPerIP),
		stop:       make(chan struct{}),
	}
}

// Run starts the hub loop and the periodic broadcast ticker. Blocks
// until Stop is called; run it in its own goroutine.
func (f *Feed) Run(tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-f.stop:
			return

		case client := <-f.register:
			f.mu.Lock()
			f.clients[client.conn] = client
			f.mu.Unlock()
			updateFeedConnections(f.ClientCount())

		case conn := <-f.unregister:
			f.mu.Lock()
			if client, ok := f.clients[conn]; ok {
				f.limiter.Release(client.ip)
				delete(f.clients, conn)
				conn.Close()
			}
			f.mu.Unlock()
			updateFeedConnections(f.ClientCount())

		case message := <-f.broadcast:
			f.mu.RLock()
			for conn := range f.clients {
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					conn.Close()
					go func(c *websocket.Conn) { f.unregister <- c }(conn)
				}
			}
			f.mu.RUnlock()
			incrementFeedMessages()

		case <-ticker.C:
			if f.ClientCount() == 0 {
				continue
			}
			f.publish()
		}
	}
}

// Stop shuts down the hub loop. Does not close existing connections;
// the process exit or reverse proxy tears those down.
func (f *Feed) Stop() {
	f.once.Do(func() { close(f.stop) })
}

func (f *Feed) publish() {
	payload := f.snapshot()
	data, err := json.Marshal(map[string]interface{}{
		"event": "leaderboard:top",
		"data":  payload,
	})
	if err != nil {
		return
	}
	select {
	case f.broadcast <- data:
	default:
		// broadcast channel full, drop this tick's update
	}
}

// ClientCount returns the number of connected feed clients.
func (f *Feed) ClientCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// HandleWebSocket upgrades and registers a new feed subscriber.
func (f *Feed) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := GetClientIP(r)

	if f.ClientCount() >= maxFeedConnectionsTotal {
		recordConnectionRejected("ws_total_limit")
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	if !f.limiter.Allow(ip) {
		recordConnectionRejected("ws_ip_limit")
		http.Error(w, "too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := feedUpgrader.Upgrade(w, r, nil)
	if err != nil {
		f.limiter.Release(ip)
		return
	}

	client := &feedClient{conn: conn, ip: ip}
	f.register <- client

	go func() {
		defer func() { f.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
