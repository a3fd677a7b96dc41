package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/eventface/internal/models"
	"github.com/your-org/eventface/internal/observability"
	"github.com/your-org/eventface/pkg/dto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a connected WebSocket client.
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	eventCode string // optional filter
}

type message struct {
	eventCode string
	data      []byte
}

// Hub fans photo status notifications out to connected clients. All client
// bookkeeping happens on the Run goroutine.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub event loop until ctx is done. Call this in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.remove(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			observability.WSConnections.Inc()
			slog.Debug("ws client connected", "event_code", client.eventCode)

		case client := <-h.unregister:
			h.remove(client)
			slog.Debug("ws client disconnected")

		case msg := <-h.broadcast:
			for client := range h.clients {
				if client.eventCode != "" && client.eventCode != msg.eventCode {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// Client buffer full; drop it.
					h.remove(client)
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	observability.WSConnections.Dec()
}

// NotifyStatus broadcasts a terminal photo status to subscribed clients.
func (h *Hub) NotifyStatus(ctx context.Context, n models.StatusNotification) error {
	data, err := json.Marshal(dto.WSEvent{
		Type:      "photo_status",
		EventCode: n.EventCode,
		Data: dto.PhotoResponse{
			PhotoID:   n.PhotoID,
			EventCode: n.EventCode,
			Status:    string(n.Status),
			Reason:    string(n.FailureReason),
			FaceCount: n.FaceCount,
		},
		Timestamp: n.Timestamp.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- message{eventCode: n.EventCode, data: data}:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleWS upgrades the request. ?event_code= limits delivery to one event.
func (h *Hub) HandleWS(c *gin.Context) {
	eventCode := c.Query("event_code")
	if eventCode != "" && !models.ValidEventCode(eventCode) {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid event code", Code: "invalid_event_code"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	client := &Client{
		conn:      conn,
		send:      make(chan []byte, 64),
		eventCode: eventCode,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	for {
		// Incoming messages are ignored; the read only detects disconnects.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
