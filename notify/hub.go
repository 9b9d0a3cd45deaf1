package notify

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/warp/offer-engine/offer"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the CORS middleware in front of /ws
		return true
	},
}

// Hub pushes offer notifications to the connected browsers of each user.
type Hub struct {
	connections map[offer.UserID]map[*Connection]bool

	register   chan *Connection
	unregister chan *Connection

	broadcast chan *Message

	mu sync.RWMutex
}

type Connection struct {
	ws     *websocket.Conn
	userID offer.UserID
	send   chan *Message
	hub    *Hub
}

type Message struct {
	UserID  offer.UserID      `json:"user_id,omitempty"`
	Type    string            `json:"type"`
	Channel string            `json:"channel,omitempty"`
	OfferID offer.OfferID     `json:"offer_id,omitempty"`
	Data    map[string]string `json:"data"`
	SentAt  time.Time         `json:"sent_at"`
}

func NewHub() *Hub {
	return &Hub{
		connections: make(map[offer.UserID]map[*Connection]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *Message, 256),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// Close sockets outside the lock so the pumps can unregister
			h.mu.RLock()
			var conns []*Connection
			for _, m := range h.connections {
				for c := range m {
					conns = append(conns, c)
				}
			}
			h.mu.RUnlock()

			for _, c := range conns {
				_ = c.ws.Close()
			}
			return

		case conn := <-h.register:
			h.mu.Lock()
			if h.connections[conn.userID] == nil {
				h.connections[conn.userID] = make(map[*Connection]bool)
			}
			h.connections[conn.userID][conn] = true
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if connections, ok := h.connections[conn.userID]; ok {
				if _, exists := connections[conn]; exists {
					delete(connections, conn)
					close(conn.send)
					if len(connections) == 0 {
						delete(h.connections, conn.userID)
					}
				}
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			if connections, ok := h.connections[message.UserID]; ok {
				for conn := range connections {
					select {
					case conn.send <- message:
					default:
						// Slow consumer
						close(conn.send)
						delete(connections, conn)
					}
				}
				if len(connections) == 0 {
					delete(h.connections, message.UserID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Connected reports how many sockets a user has open.
func (h *Hub) Connected(userID offer.UserID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[userID])
}

func (h *Hub) Broadcast(userID offer.UserID, message *Message) {
	message.UserID = userID
	select {
	case h.broadcast <- message:
	default:
		log.Printf("[Hub] broadcast channel is full, dropping %s for user %s", message.Type, userID)
	}
}

// Send implements offer.NotificationSink. Users without an open socket
// simply miss the push; the offer state is always available over HTTP.
func (h *Hub) Send(_ context.Context, n offer.Notification) error {
	h.Broadcast(n.Recipient.ID, &Message{
		Type:    n.Template,
		Channel: "offer#" + string(n.OfferID),
		OfferID: n.OfferID,
		Data:    n.Fields,
		SentAt:  n.SentAt,
	})
	return nil
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request, userID offer.UserID) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Hub] websocket upgrade error: %v", err)
		return
	}

	conn := &Connection{
		ws:     ws,
		userID: userID,
		send:   make(chan *Message, 256),
		hub:    h,
	}

	h.register <- conn

	go conn.writePump()
	go conn.readPump()
}

const (
	writeWait = 10 * time.Second

	pongWait = 60 * time.Second

	pingPeriod = (pongWait * 9) / 10
)

func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.ws.Close()
	}()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Hub] websocket error: %v", err)
			}
			break
		}
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(message); err != nil {
				log.Printf("[Hub] websocket write error: %v", err)
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
