// Package websocket pushes events to browser clients. Clients authenticate
// during the handshake and may only join the rooms of tenants they own.
package websocket

import (
	"encoding/json"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/medevac/medevac/internal/platform/auth"
	"github.com/medevac/medevac/internal/platform/events"
)

const sendBuffer = 256

var (
	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "medevac",
		Subsystem: "ws",
		Name:      "clients",
		Help:      "Connected websocket clients.",
	})
	droppedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "medevac",
		Subsystem: "ws",
		Name:      "dropped_messages_total",
		Help:      "Messages dropped because a client's send buffer was full.",
	})
)

// Client is a single connection.
type Client struct {
	ID        string
	Principal auth.Principal
	Send      chan []byte

	rooms map[string]struct{}
}

func NewClient(id string, p auth.Principal) *Client {
	return &Client{
		ID:        id,
		Principal: p,
		Send:      make(chan []byte, sendBuffer),
		rooms:     make(map[string]struct{}),
	}
}

// Hub tracks clients and their room memberships.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]struct{}
	all    map[*Client]struct{}
	logger zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		all:    make(map[*Client]struct{}),
		logger: logger,
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[client]; ok {
		return
	}
	h.all[client] = struct{}{}
	connectedClients.Inc()
}

// Unregister removes the client from every room and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for room := range client.rooms {
		h.removeLocked(client, room)
	}
	delete(h.all, client)
	close(client.Send)
	connectedClients.Dec()
}

func (h *Hub) Join(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][client] = struct{}{}
	client.rooms[room] = struct{}{}
}

func (h *Hub) Leave(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client, room)
}

func (h *Hub) removeLocked(client *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(client.rooms, room)
}

// Deliver sends ev to its room, or to every client when the room is empty.
func (h *Hub) Deliver(ev events.Event) {
	if ev.Room == "" {
		h.BroadcastAll(ev)
		return
	}
	h.Broadcast(ev.Room, ev)
}

// Broadcast sends an event to all members of room.
func (h *Hub) Broadcast(room string, ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Str("event", ev.Name).Msg("marshal websocket event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.rooms[room] {
		h.send(client, data)
	}
}

// BroadcastAll sends an event to every connected client.
func (h *Hub) BroadcastAll(ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Str("event", ev.Name).Msg("marshal websocket event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.all {
		h.send(client, data)
	}
}

// send never blocks; a slow client misses the message.
func (h *Hub) send(client *Client, data []byte) {
	select {
	case client.Send <- data:
	default:
		droppedMessages.Inc()
	}
}

// reply queues a direct message to one client if it is still registered.
func (h *Hub) reply(client *Client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.all[client]; ok {
		h.send(client, data)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// RoomCount returns the number of clients in room.
func (h *Hub) RoomCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
