package shapeengine

import (
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"shapefinder/config"
	"shapefinder/internal/model"
)

// Hub fans shape events out to websocket clients. The newest event of each
// type per instrument and TF is kept and replayed to clients on connect.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry // keyed by ShapeEvent.LatestKey
	seq     int64

	// OnCount is called with the client count after every connect and disconnect.
	OnCount func(n int)
}

type latestEntry struct {
	ev  model.ShapeEvent
	buf []byte
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*Client]bool),
		latest:  make(map[string]latestEntry),
	}
}

// buildEnvelope wraps an event as {"channel":...,"data":...,"ts":...,"seq":N}.
func buildEnvelope(channel string, data []byte, now time.Time, seq int64) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+128)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}

// Broadcast sends ev to every client whose filter accepts it. Slow clients
// miss messages rather than block the caller.
func (h *Hub) Broadcast(ev model.ShapeEvent) {
	h.mu.Lock()
	h.seq++
	buf := buildEnvelope(ev.PubSubChannel(), ev.JSON(), time.Now().UTC(), h.seq)
	h.latest[ev.LatestKey()] = latestEntry{ev: ev, buf: buf}
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.accepts(&ev) {
			continue
		}
		select {
		case c.send <- buf:
		default:
		}
	}
}

// ServeHTTP upgrades the request to a websocket. Optional query parameters
// narrow the feed: tfs=60,300 and tokens=NSE:2885,NSE:1594.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[shapeengine] ws upgrade failed: %v", err)
		return
	}
	c := &Client{
		conn:   conn,
		send:   make(chan []byte, 256),
		hub:    h,
		filter: parseFilter(r.URL.Query().Get("tfs"), r.URL.Query().Get("tokens")),
	}
	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	// queue the initial state before any broadcast can reach the client
	for _, e := range h.latest {
		if !c.accepts(&e.ev) {
			continue
		}
		select {
		case c.send <- e.buf:
		default:
		}
	}
	h.mu.Unlock()

	log.Printf("[shapeengine] ws client connected (%d total)", count)
	h.count(count)

	go c.writePump()
	go c.readPump()
}

// RemoveClient unregisters c and closes its send queue.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	close(c.send)
	h.mu.Unlock()
	h.count(count)
}

func (h *Hub) count(n int) {
	if h.OnCount != nil {
		h.OnCount(n)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.conn.Close()
	}
}

// eventFilter limits a client to some TFs and instruments; empty sets match all.
type eventFilter struct {
	TFs    []int    `json:"tfs"`
	Tokens []string `json:"tokens"` // exchange:token
}

func parseFilter(tfs, tokens string) eventFilter {
	var f eventFilter
	if tfs != "" {
		f.TFs = config.ParseTFs(tfs)
	}
	for _, k := range strings.Split(tokens, ",") {
		if k = strings.TrimSpace(k); k != "" {
			f.Tokens = append(f.Tokens, k)
		}
	}
	return f
}

func (f eventFilter) match(ev *model.ShapeEvent) bool {
	if len(f.TFs) > 0 {
		ok := false
		for _, tf := range f.TFs {
			if tf == ev.TF {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.Tokens) == 0 {
		return true
	}
	key := ev.Key()
	for _, k := range f.Tokens {
		if k == key {
			return true
		}
	}
	return false
}
