package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"coinflip-backend/internal/middleware"
	"coinflip-backend/internal/models"
)

const (
	writeWait      = 10 * time.Second
	broadcastQueue = 100
)

var errHubClosed = errors.New("websocket hub closed")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Message struct {
	Type    string      `json:"type"`
	WagerID string      `json:"wager_id,omitempty"`
	Data    interface{} `json:"data"`
}

// Client is one connection. A party may hold several.
type Client struct {
	PartyID string
	Conn    *websocket.Conn

	mu sync.Mutex
}

// send serializes writes: gorilla connections allow one concurrent writer.
func (cl *Client) send(msg *Message) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	_ = cl.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return cl.Conn.WriteJSON(msg)
}

// WebSocketHub fans wager events out to every connected client. It
// implements services.Broadcaster.
type WebSocketHub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	done       chan struct{}
	closeOnce  sync.Once
}

func NewWebSocketHub() *WebSocketHub {
	hub := &WebSocketHub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, broadcastQueue),
		done:       make(chan struct{}),
	}

	go hub.run()

	return hub
}

func (hub *WebSocketHub) run() {
	for {
		select {
		case <-hub.done:
			for client := range hub.clients {
				client.Conn.Close()
			}
			return

		case client := <-hub.register:
			hub.clients[client] = struct{}{}
			log.Printf("Client registered: %s", client.PartyID)

		case client := <-hub.unregister:
			if _, ok := hub.clients[client]; ok {
				delete(hub.clients, client)
				log.Printf("Client unregistered: %s", client.PartyID)
			}

		case message := <-hub.broadcast:
			hub.broadcastMessage(message)
		}
	}
}

func (hub *WebSocketHub) broadcastMessage(message *Message) {
	for client := range hub.clients {
		if err := client.send(message); err != nil {
			log.Printf("Dropping client %s after failed write: %v", client.PartyID, err)
			delete(hub.clients, client)
			client.Conn.Close()
		}
	}
}

func (hub *WebSocketHub) enter(client *Client) bool {
	select {
	case hub.register <- client:
		return true
	case <-hub.done:
		return false
	}
}

func (hub *WebSocketHub) leave(client *Client) {
	select {
	case hub.unregister <- client:
	case <-hub.done:
	}
}

// publish never blocks the caller; a full queue drops the event.
func (hub *WebSocketHub) publish(msg *Message) error {
	select {
	case <-hub.done:
		return errHubClosed
	default:
	}

	select {
	case hub.broadcast <- msg:
		return nil
	default:
		return fmt.Errorf("websocket queue full, dropped %s for wager %s", msg.Type, msg.WagerID)
	}
}

func (hub *WebSocketHub) Close() {
	hub.closeOnce.Do(func() { close(hub.done) })
}

func (hub *WebSocketHub) BroadcastWagerCreated(w *models.Wager) error {
	return hub.publish(&Message{Type: "WAGER_CREATED", WagerID: w.ID, Data: w})
}

func (hub *WebSocketHub) BroadcastWagerCancelled(w *models.Wager) error {
	return hub.publish(&Message{Type: "WAGER_CANCELLED", WagerID: w.ID, Data: w})
}

func (hub *WebSocketHub) BroadcastSettlement(r *models.SettlementResult) error {
	return hub.publish(&Message{Type: "WAGER_SETTLED", WagerID: r.WagerID, Data: r})
}

type WebSocketHandler struct {
	hub *WebSocketHub
}

func NewWebSocketHandler(hub *WebSocketHub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	partyID := middleware.PartyID(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade to WebSocket: %v", err)
		return
	}

	client := &Client{
		PartyID: partyID,
		Conn:    conn,
	}

	if !h.hub.enter(client) {
		conn.Close()
		return
	}

	defer func() {
		h.hub.leave(client)
		conn.Close()
	}()

	err = client.send(&Message{
		Type: "CONNECTED",
		Data: gin.H{
			"party_id":  partyID,
			"timestamp": time.Now().Unix(),
		},
	})
	if err != nil {
		return
	}

	for {
		var msg Message
		err := conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		h.handleMessage(client, &msg)
	}
}

func (h *WebSocketHandler) handleMessage(client *Client, msg *Message) {
	switch msg.Type {
	case "PING":
		h.sendPong(client)
	}
}

func (h *WebSocketHandler) sendPong(client *Client) {
	msg := &Message{
		Type: "PONG",
		Data: gin.H{
			"timestamp": time.Now().Unix(),
		},
	}

	if err := client.send(msg); err != nil {
		log.Printf("Failed to send pong to %s: %v", client.PartyID, err)
	}
}
