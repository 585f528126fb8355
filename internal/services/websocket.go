package services

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// Client represents a WebSocket client
type Client struct {
	ID       uint
	UserType string
	Conn     *websocket.Conn
	Send     chan []byte
	Hub      *Hub
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	mutex      sync.RWMutex
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte),
	}
}

// Run starts the hub
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			log.Printf("Client %d connected", client.ID)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mutex.Unlock()
			log.Printf("Client %d disconnected", client.ID)

		case message := <-h.broadcast:
			h.mutex.RLock()
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					close(client.Send)
					delete(h.clients, client)
				}
			}
			h.mutex.RUnlock()
		}
	}
}

// BroadcastToUser sends a message to a specific user
func (h *Hub) BroadcastToUser(userID uint, message []byte) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for client := range h.clients {
		if client.ID == userID {
			select {
			case client.Send <- message:
			default:
				close(client.Send)
				delete(h.clients, client)
			}
		}
	}
}

// BroadcastToUserType sends a message to all users of a specific type
func (h *Hub) BroadcastToUserType(userType string, message []byte) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for client := range h.clients {
		if client.UserType == userType {
			select {
			case client.Send <- message:
			default:
				close(client.Send)
				delete(h.clients, client)
			}
		}
	}
}

// GetConnectedClients returns the number of connected clients
func (h *Hub) GetConnectedClients() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// WebSocket message types
type WebSocketMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// BookingAssigned notifies the patient a provider claimed their booking
type BookingAssigned struct {
	BookingID    uint   `json:"bookingId"`
	ProviderID   uint   `json:"providerId"`
	ProviderName string `json:"providerName"`
}

// BookingStatusChanged notifies interested parties of a status transition
type BookingStatusChanged struct {
	BookingID uint   `json:"bookingId"`
	Status    string `json:"status"`
}

// PaymentUpdate notifies the patient about payment/refund progress
type PaymentUpdate struct {
	BookingID uint   `json:"bookingId"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
}

// DutyUpdate notifies hospital staff about duty fill progress
type DutyUpdate struct {
	DutyID uint   `json:"dutyId"`
	Status string `json:"status"`
	Filled int    `json:"filled"`
	Needed int    `json:"needed"`
}

// HandleWebSocket handles WebSocket connections
func HandleWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request, userID uint, userType string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &Client{
		ID:       userID,
		UserType: userType,
		Conn:     conn,
		Send:     make(chan []byte, 256),
		Hub:      hub,
	}

	client.Hub.register <- client

	// Start goroutines for reading and writing
	go client.writePump()
	go client.readPump()
}

// readPump pumps messages from the websocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var wsMessage WebSocketMessage
		if err := json.Unmarshal(message, &wsMessage); err != nil {
			log.Printf("Error unmarshaling WebSocket message: %v", err)
			continue
		}

		// Clients only subscribe; state changes go through the REST API.
		log.Printf("WebSocket message from client %d: %s", c.ID, wsMessage.Type)
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	defer c.Conn.Close()

	for message := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Printf("WebSocket write error: %v", err)
			return
		}
	}
	c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// SendBookingAssigned sends an assignment notification to the patient
func (h *Hub) SendBookingAssigned(patientID uint, assigned BookingAssigned) {
	message := WebSocketMessage{
		Type: "booking_assigned",
		Data: assigned,
	}

	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error marshaling booking assigned: %v", err)
		return
	}

	h.BroadcastToUser(patientID, data)
}

// SendBookingStatus sends a status change notification to a user
func (h *Hub) SendBookingStatus(userID uint, changed BookingStatusChanged) {
	message := WebSocketMessage{
		Type: "booking_status",
		Data: changed,
	}

	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error marshaling booking status: %v", err)
		return
	}

	h.BroadcastToUser(userID, data)
}

// SendPaymentUpdate sends a payment progress notification to the patient
func (h *Hub) SendPaymentUpdate(patientID uint, update PaymentUpdate) {
	message := WebSocketMessage{
		Type: "payment_update",
		Data: update,
	}

	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error marshaling payment update: %v", err)
		return
	}

	h.BroadcastToUser(patientID, data)
}

// SendDutyUpdate sends duty fill progress to the hospital
func (h *Hub) SendDutyUpdate(hospitalID uint, update DutyUpdate) {
	message := WebSocketMessage{
		Type: "duty_update",
		Data: update,
	}

	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error marshaling duty update: %v", err)
		return
	}

	h.BroadcastToUser(hospitalID, data)
}
