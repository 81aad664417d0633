// Package gateway is the websocket edge: one connection per client, a hub
// that fans payloads out by room or team, and the event router that maps
// inbound messages onto the signaling and chat services.
package gateway

import (
	"encoding/json"
	"sync"

	"github.com/dd-25/Meetup/pkg/log"
)

// scopedMessage is a payload addressed to a room or team scope.
type scopedMessage struct {
	scope   string // "room" or "team"
	scopeID string
	exclude string
	payload []byte
}

// Hub tracks live connections and their room/team subscriptions. A client
// whose send buffer is full gets evicted rather than stalling the fan-out.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client
	teams   map[string]map[string]*Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan *scopedMessage
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		teams:      make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *scopedMessage, 256),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			log.L().Debug().Str(log.FieldClientID, client.ID).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				h.detachLocked(client.ID)
				delete(h.clients, client.ID)
				client.closeSend()
			}
			h.mu.Unlock()
			log.L().Debug().Str(log.FieldClientID, client.ID).Msg("client unregistered")

		case msg := <-h.broadcast:
			h.deliver(msg)

		case <-h.done:
			return
		}
	}
}

func (h *Hub) deliver(msg *scopedMessage) {
	h.mu.RLock()
	var members map[string]*Client
	if msg.scope == "room" {
		members = h.rooms[msg.scopeID]
	} else {
		members = h.teams[msg.scopeID]
	}
	for clientID, client := range members {
		if clientID == msg.exclude {
			continue
		}
		if !client.enqueue(msg.payload) {
			// Slow client: drop the connection instead of the room.
			go h.Unregister(client)
			log.L().Warn().Str(log.FieldClientID, clientID).Msg("evicting slow client")
		}
	}
	h.mu.RUnlock()
}

func (h *Hub) detachLocked(clientID string) {
	for id, members := range h.rooms {
		delete(members, clientID)
		if len(members) == 0 {
			delete(h.rooms, id)
		}
	}
	for id, members := range h.teams {
		delete(members, clientID)
		if len(members) == 0 {
			delete(h.teams, id)
		}
	}
}

func (h *Hub) Register(client *Client)   { h.register <- client }
func (h *Hub) Unregister(client *Client) { h.unregister <- client }

func (h *Hub) JoinRoom(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[string]*Client)
	}
	h.rooms[roomID][client.ID] = client
}

func (h *Hub) LeaveRoom(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[roomID]; ok {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

func (h *Hub) JoinTeam(client *Client, teamID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.teams[teamID]; !ok {
		h.teams[teamID] = make(map[string]*Client)
	}
	h.teams[teamID][client.ID] = client
}

func (h *Hub) LeaveTeam(client *Client, teamID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.teams[teamID]; ok {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.teams, teamID)
		}
	}
}

// ToRoom fans a raw payload out to every room member.
func (h *Hub) ToRoom(roomID string, payload []byte) {
	h.broadcast <- &scopedMessage{scope: "room", scopeID: roomID, payload: payload}
}

// ToTeam fans a raw payload out to every team member.
func (h *Hub) ToTeam(teamID string, payload []byte) {
	h.broadcast <- &scopedMessage{scope: "team", scopeID: teamID, payload: payload}
}

// NotifyRoom sends an {event, data} envelope to room members, excluding one
// client (typically the originator).
func (h *Hub) NotifyRoom(roomID, excludeClientID, event string, data any) {
	payload, err := json.Marshal(Envelope{Event: event, Data: mustRaw(data)})
	if err != nil {
		log.L().Error().Err(err).Str("event", event).Msg("failed to marshal notification")
		return
	}
	h.broadcast <- &scopedMessage{scope: "room", scopeID: roomID, exclude: excludeClientID, payload: payload}
}

// RoomClientCount reports how many local connections subscribe to the room.
func (h *Hub) RoomClientCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (h *Hub) Stop() {
	close(h.done)
}

func mustRaw(data any) json.RawMessage {
	raw, err := json.Marshal(data)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
