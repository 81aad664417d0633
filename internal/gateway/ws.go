package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dd-25/Meetup/internal/auth"
	"github.com/dd-25/Meetup/internal/chat"
	"github.com/dd-25/Meetup/internal/media"
	"github.com/dd-25/Meetup/internal/sfu"
	"github.com/dd-25/Meetup/internal/signaling"
	"github.com/dd-25/Meetup/pkg/log"
)

// Client -> server events.
const (
	EventJoinRoom            = "join-room"
	EventCreateSendTransport = "create-send-transport"
	EventCreateRecvTransport = "create-recv-transport"
	EventConnectTransport    = "connect-transport"
	EventProduce             = "produce"
	EventConsume             = "consume"
	EventResumeConsumer      = "resume-consumer"
	EventGetProducers        = "get-producers"
	EventGetRTPCapabilities  = "get-rtp-capabilities"
	EventLeaveRoom           = "leave-room"
	EventJoinChatRoom        = "join-chat-room"
	EventLeaveChatRoom       = "leave-chat-room"
	EventJoinTeamChat        = "join-team-chat"
	EventSendChat            = "send-chat"
)

// Server -> client events.
const (
	EventRoomJoined         = "room-joined"
	EventTransportCreated   = "transport-created"
	EventTransportConnected = "transport-connected"
	EventProduced           = "produced"
	EventConsumed           = "consumed"
	EventConsumerResumed    = "consumer-resumed"
	EventProducerList       = "producer-list"
	EventRTPCapabilities    = "rtp-capabilities"
	EventRoomLeft           = "room-left"
	EventChatConfirmation   = "message-confirmation"
	EventError              = "error"
)

// Envelope is the wire frame for every websocket message, both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type errorPayload struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler upgrades connections and routes envelopes to the services.
type WSHandler struct {
	hub     *Hub
	session *signaling.Session
	chat    *chat.Service
}

func NewWSHandler(hub *Hub, session *signaling.Session, chatSvc *chat.Service) *WSHandler {
	return &WSHandler{hub: hub, session: session, chat: chatSvc}
}

// Handle is the gin endpoint for websocket upgrades. Auth middleware runs
// before it, so the identity is already on the request context.
func (h *WSHandler) Handle(c *gin.Context) {
	identity, ok := auth.IdentityFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.L().Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(uuid.NewString(), *identity, h.hub, conn)
	h.hub.Register(client)

	go client.WritePump()
	go h.readLoop(client)
}

func (h *WSHandler) readLoop(client *Client) {
	client.ReadPump(h.route)

	// Socket is gone: release media resources and presence markers.
	if err := h.session.Disconnect(context.Background(), client.ID); err != nil {
		log.L().Warn().Err(err).Str(log.FieldClientID, client.ID).Msg("disconnect cleanup failed")
	}
}

func (h *WSHandler) route(client *Client, message []byte) {
	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		client.SendEvent(EventError, errorPayload{Reason: "bad-request", Message: "invalid message format"})
		return
	}

	ctx := context.Background()

	switch env.Event {
	case EventJoinRoom:
		h.handleJoinRoom(ctx, client, env.Data)
	case EventCreateSendTransport:
		h.handleCreateTransport(ctx, client, sfu.DirectionSend)
	case EventCreateRecvTransport:
		h.handleCreateTransport(ctx, client, sfu.DirectionRecv)
	case EventConnectTransport:
		h.handleConnectTransport(ctx, client, env.Data)
	case EventProduce:
		h.handleProduce(ctx, client, env.Data)
	case EventConsume:
		h.handleConsume(ctx, client, env.Data)
	case EventResumeConsumer:
		h.handleResumeConsumer(ctx, client, env.Data)
	case EventGetProducers:
		h.handleGetProducers(ctx, client)
	case EventGetRTPCapabilities:
		h.handleGetRTPCapabilities(ctx, client)
	case EventLeaveRoom:
		h.handleLeaveRoom(ctx, client)
	case EventJoinChatRoom:
		h.handleChatScope(client, env.Data, h.hub.JoinRoom)
	case EventLeaveChatRoom:
		h.handleChatScope(client, env.Data, h.hub.LeaveRoom)
	case EventJoinTeamChat:
		h.hub.JoinTeam(client, client.Identity.TeamID)
	case EventSendChat:
		h.handleSendChat(ctx, client, env.Data)
	default:
		client.SendEvent(EventError, errorPayload{Reason: "bad-request", Message: "unknown event " + env.Event})
	}
}

func (h *WSHandler) handleJoinRoom(ctx context.Context, client *Client, data json.RawMessage) {
	var req struct {
		RoomID string `json:"roomId"`
		TeamID string `json:"teamId"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		client.SendEvent(EventError, errorPayload{Reason: "bad-request", Message: "invalid join-room payload"})
		return
	}

	teamID := req.TeamID
	if teamID == "" {
		teamID = client.Identity.TeamID
	}

	result, err := h.session.Join(ctx, client.ID, client.Identity.UserID, req.RoomID, teamID)
	if err != nil {
		client.SendEvent(EventError, errorPayload{Reason: reasonFor(err), Message: err.Error()})
		return
	}

	h.hub.JoinRoom(client, req.RoomID)
	client.SendEvent(EventRoomJoined, result)
}

func (h *WSHandler) handleCreateTransport(ctx context.Context, client *Client, dir sfu.Direction) {
	params, err := h.session.CreateTransport(ctx, client.ID, dir)
	if err != nil {
		client.SendEvent(EventError, errorPayload{Reason: reasonFor(err), Message: err.Error()})
		return
	}
	client.SendEvent(EventTransportCreated, map[string]any{
		"direction": string(dir),
		"params":    params,
	})
}

func (h *WSHandler) handleConnectTransport(ctx context.Context, client *Client, data json.RawMessage) {
	var req struct {
		TransportID string `json:"transportId"`
		SDP         string `json:"sdp"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		client.SendEvent(EventError, errorPayload{Reason: "bad-request", Message: "invalid connect-transport payload"})
		return
	}

	err := h.session.ConnectTransport(ctx, client.ID, req.TransportID, media.ConnectParams{SDP: req.SDP})
	if err != nil {
		client.SendEvent(EventError, errorPayload{Reason: reasonFor(err), Message: err.Error()})
		return
	}
	client.SendEvent(EventTransportConnected, map[string]string{"transportId": req.TransportID})
}

func (h *WSHandler) handleProduce(ctx context.Context, client *Client, data json.RawMessage) {
	var req struct {
		TransportID   string              `json:"transportId"`
		Kind          media.Kind          `json:"kind"`
		RTPParameters media.RTPParameters `json:"rtpParameters"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		client.SendEvent(EventError, errorPayload{Reason: "bad-request", Message: "invalid produce payload"})
		return
	}

	producerID, err := h.session.Produce(ctx, client.ID, req.TransportID, req.Kind, req.RTPParameters)
	if err != nil {
		client.SendEvent(EventError, errorPayload{Reason: reasonFor(err), Message: err.Error()})
		return
	}
	client.SendEvent(EventProduced, map[string]string{"producerId": producerID})
}

func (h *WSHandler) handleConsume(ctx context.Context, client *Client, data json.RawMessage) {
	var req struct {
		ProducerID      string                `json:"producerId"`
		RTPCapabilities media.RTPCapabilities `json:"rtpCapabilities"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		client.SendEvent(EventError, errorPayload{Reason: "bad-request", Message: "invalid consume payload"})
		return
	}

	params, err := h.session.Consume(ctx, client.ID, req.ProducerID, req.RTPCapabilities)
	if err != nil {
		client.SendEvent(EventError, errorPayload{Reason: reasonFor(err), Message: err.Error()})
		return
	}
	client.SendEvent(EventConsumed, params)
}

func (h *WSHandler) handleResumeConsumer(ctx context.Context, client *Client, data json.RawMessage) {
	var req struct {
		ConsumerID string `json:"consumerId"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		client.SendEvent(EventError, errorPayload{Reason: "bad-request", Message: "invalid resume-consumer payload"})
		return
	}

	if err := h.session.ResumeConsumer(ctx, client.ID, req.ConsumerID); err != nil {
		client.SendEvent(EventError, errorPayload{Reason: reasonFor(err), Message: err.Error()})
		return
	}
	client.SendEvent(EventConsumerResumed, map[string]string{"consumerId": req.ConsumerID})
}

func (h *WSHandler) handleGetProducers(ctx context.Context, client *Client) {
	ids, err := h.session.Producers(ctx, client.ID)
	if err != nil {
		client.SendEvent(EventError, errorPayload{Reason: reasonFor(err), Message: err.Error()})
		return
	}
	client.SendEvent(EventProducerList, map[string][]string{"producerIds": ids})
}

func (h *WSHandler) handleGetRTPCapabilities(ctx context.Context, client *Client) {
	caps, err := h.session.RTPCapabilities(ctx, client.ID)
	if err != nil {
		client.SendEvent(EventError, errorPayload{Reason: reasonFor(err), Message: err.Error()})
		return
	}
	client.SendEvent(EventRTPCapabilities, caps)
}

func (h *WSHandler) handleLeaveRoom(ctx context.Context, client *Client) {
	if err := h.session.Leave(ctx, client.ID); err != nil {
		client.SendEvent(EventError, errorPayload{Reason: reasonFor(err), Message: err.Error()})
		return
	}
	client.SendEvent(EventRoomLeft, map[string]string{"clientId": client.ID})
}

func (h *WSHandler) handleChatScope(client *Client, data json.RawMessage, apply func(*Client, string)) {
	var req struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == "" {
		client.SendEvent(EventError, errorPayload{Reason: "bad-request", Message: "room id required"})
		return
	}
	apply(client, req.RoomID)
}

func (h *WSHandler) handleSendChat(ctx context.Context, client *Client, data json.RawMessage) {
	var req chat.SendRequest
	if err := json.Unmarshal(data, &req); err != nil {
		client.SendEvent(EventError, errorPayload{Reason: "bad-request", Message: "invalid send-chat payload"})
		return
	}

	// Identity fields come from the verified token, never from the payload.
	req.SenderID = client.Identity.UserID
	req.TeamID = client.Identity.TeamID
	req.OrganizationID = client.Identity.OrganizationID

	conf, err := h.chat.Send(ctx, req)
	// The confirmation goes back regardless of outcome.
	client.SendEvent(EventChatConfirmation, conf)
	if err != nil {
		client.SendEvent(EventError, errorPayload{Reason: reasonFor(err), Message: err.Error()})
	}
}

// reasonFor maps service errors to stable, machine-distinguishable reasons.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, signaling.ErrNotInRoom):
		return "not-in-room"
	case errors.Is(err, signaling.ErrMissingParameters),
		errors.Is(err, chat.ErrMissingFields),
		errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrRoomRequired):
		return "bad-request"
	case errors.Is(err, sfu.ErrRoomNotFound):
		return "room-not-found"
	case errors.Is(err, sfu.ErrTransportNotFound):
		return "transport-not-found"
	case errors.Is(err, sfu.ErrConsumerNotFound):
		return "consumer-not-found"
	case errors.Is(err, sfu.ErrCannotConsume):
		return "cannot-consume"
	default:
		return "internal-error"
	}
}
