package broadcast

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"papertrader/internal/logger"
	"papertrader/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Payload returns the already serialized state to fan out.
type Payload func() ([]byte, error)

type subscriber struct {
	send chan []byte
}

// Hub pushes the latest published state to every subscriber on a fixed interval.
// Slow subscribers miss frames instead of holding up the others.
type Hub struct {
	interval time.Duration
	payload  Payload
	log      *logger.Logger

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscriber
}

func NewHub(interval time.Duration, payload Payload, log *logger.Logger) *Hub {
	if interval <= 0 {
		interval = time.Second
	}
	return &Hub{
		interval: interval,
		payload:  payload,
		log:      log,
		subs:     make(map[uint64]*subscriber),
	}
}

func (h *Hub) logEntry() *logrus.Entry {
	return h.log.WithComponent("broadcast")
}

// Subscribe registers a channel subscriber. The returned function unsubscribes and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan []byte, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	sub := &subscriber{send: make(chan []byte, buffer)}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = sub
	count := len(h.subs)
	h.mu.Unlock()
	metrics.StreamClients.Set(float64(count))

	var once sync.Once
	return sub.send, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			count := len(h.subs)
			h.mu.Unlock()
			close(sub.send)
			metrics.StreamClients.Set(float64(count))
		})
	}
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Run ticks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Publish()
		}
	}
}

// Publish sends one frame to every subscriber.
func (h *Hub) Publish() {
	h.mu.Lock()
	empty := len(h.subs) == 0
	h.mu.Unlock()
	if empty {
		return
	}

	data, err := h.payload()
	if err != nil {
		h.logEntry().WithError(err).Warn("Не удалось сериализовать состояние.")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		select {
		case sub.send <- data:
		default:
		}
	}
}

// ServeWS upgrades the request and streams frames until the client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logEntry().WithError(err).Warn("Не удалось установить WS соединение.")
		return
	}
	frames, unsubscribe := h.Subscribe(4)
	h.logEntry().WithField("remote", r.RemoteAddr).Info("Подключён клиент потока состояния.")

	// First frame right away so clients do not wait a full interval.
	if data, err := h.payload(); err == nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, data)
	}

	go h.readPump(conn, unsubscribe)
	h.writePump(conn, frames)
	h.logEntry().WithField("remote", r.RemoteAddr).Info("Клиент потока состояния отключён.")
}

// readPump discards client messages and detects disconnects.
func (h *Hub) readPump(conn *websocket.Conn, unsubscribe func()) {
	defer unsubscribe()
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, frames <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case data, ok := <-frames:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
