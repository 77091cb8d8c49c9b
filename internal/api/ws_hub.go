package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sebastianusacom/banana-cases-sub000/internal/metrics"
	"github.com/sebastianusacom/banana-cases-sub000/internal/model"
	"github.com/sebastianusacom/banana-cases-sub000/internal/round"
)

// WSHub fans round snapshots out to WebSocket clients. Each client can
// subscribe to one table or, with no filter, to all of them.
type WSHub struct {
	clients    map[*websocket.Conn]string // conn -> table filter, "" = all
	broadcast  chan model.RoundSnapshot
	register   chan wsClient
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

type wsClient struct {
	conn  *websocket.Conn
	table string
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*websocket.Conn]string),
		broadcast:  make(chan model.RoundSnapshot, 256),
		register:   make(chan wsClient),
		unregister: make(chan *websocket.Conn),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *WSHub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.conn] = c.table
			h.mu.Unlock()
			metrics.WebSocketClients.Inc()
			slog.Info("ws client connected", "table", c.table, "total", len(h.clients))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				metrics.WebSocketClients.Dec()
			}
			h.mu.Unlock()

		case snap := <-h.broadcast:
			data, err := json.Marshal(snap)
			if err != nil {
				continue
			}
			h.mu.RLock()
			for conn, table := range h.clients {
				if table != "" && table != snap.TableID {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					conn.Close()
					delete(h.clients, conn)
					metrics.WebSocketClients.Dec()
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast queues a snapshot for all matching clients.
func (h *WSHub) Broadcast(snap model.RoundSnapshot) {
	select {
	case h.broadcast <- snap:
	default:
		// Drop if buffer full to avoid blocking the round loop.
	}
}

// PumpRounds forwards a table's snapshot stream into the hub until ctx is
// canceled. Run one per table in its own goroutine.
func PumpRounds(ctx context.Context, mgr *round.Manager, hub *WSHub) {
	snaps, cancel := mgr.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-snaps:
			hub.Broadcast(snap)
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws. An optional
// ?table= query parameter limits the stream to one table.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	h.register <- wsClient{conn: conn, table: r.URL.Query().Get("table")}

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() { h.unregister <- conn }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()
}
