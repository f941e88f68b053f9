// Package observer streams cabin stage events to local websocket observers.
package observer

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"cabincraft.ai/internal/protocol"
)

const (
	backlogMax  = 256
	clientQueue = 64
	pongWait    = 60 * time.Second
	pingEvery   = 25 * time.Second
	writeWait   = 5 * time.Second
)

// Hub fans stage events out to every connected observer. Late joiners get
// the backlog of the current run first.
type Hub struct {
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu      sync.Mutex
	seq     int
	backlog [][]byte
	clients map[uint64]chan []byte
	closed  bool
	dropped int
}

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only anyway
		},
		clients: map[uint64]chan []byte{},
	}
}

// Publish stamps type, version and (when zero) seq, then delivers ev to all
// observers without blocking. Slow observers lose events.
func (h *Hub) Publish(ev protocol.StageEvent) {
	if ev.Type == "" {
		ev.Type = protocol.TypeStage
	}
	if ev.ProtocolVersion == "" {
		ev.ProtocolVersion = protocol.Version
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if ev.Seq == 0 {
		h.seq++
		ev.Seq = h.seq
	} else if ev.Seq > h.seq {
		h.seq = ev.Seq
	}
	b, err := json.Marshal(ev)
	if err != nil {
		h.printf("marshal stage event: %v", err)
		return
	}
	h.backlog = append(h.backlog, b)
	if len(h.backlog) > backlogMax {
		h.backlog = h.backlog[len(h.backlog)-backlogMax:]
	}
	for _, ch := range h.clients {
		select {
		case ch <- b:
		default:
			h.dropped++
		}
	}
}

// Clients is the number of connected observers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Close disconnects every observer. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.clients {
		close(ch)
		delete(h.clients, id)
	}
}

func (h *Hub) join(id uint64) chan []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	ch := make(chan []byte, len(h.backlog)+clientQueue)
	for _, b := range h.backlog {
		ch <- b
	}
	h.clients[id] = ch
	return ch
}

func (h *Hub) leave(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[id]; ok {
		close(ch)
		delete(h.clients, id)
	}
}

// Handler upgrades loopback requests to a websocket and streams events as
// text frames. Anything the observer sends is read and discarded.
func (h *Hub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		id := h.nextID.Add(1)
		out := h.join(id)
		if out == nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "closed"), time.Now().Add(time.Second))
			return
		}
		defer h.leave(id)
		h.printf("observer %d connected from %s", id, r.RemoteAddr)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			ping := time.NewTicker(pingEvery)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ping.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
						cancel()
						return
					}
				case msg, ok := <-out:
					if !ok {
						_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
						cancel()
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		}

		cancel()
		select {
		case <-writerDone:
		case <-time.After(500 * time.Millisecond):
		}
		h.printf("observer %d disconnected", id)
	}
}

func (h *Hub) printf(format string, args ...any) {
	if h != nil && h.log != nil {
		h.log.Printf(format, args...)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
