package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medevac/medevac/internal/platform/access"
	"github.com/medevac/medevac/internal/platform/auth"
	"github.com/medevac/medevac/internal/platform/events"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
	joinTimeout = 5 * time.Second
	maxMessage  = 4096
)

// Authorizer authenticates the handshake and checks room ownership.
// *access.Gate satisfies it.
type Authorizer interface {
	AuthenticateToken(ctx context.Context, token string) (auth.Principal, error)
	Owns(ctx context.Context, p auth.Principal, kind access.TenantKind, id string) (bool, error)
}

// ClientMessage is an inbound control message, e.g.
// {"event":"join:clinic","id":"<uuid>"}.
type ClientMessage struct {
	Event string `json:"event"`
	ID    string `json:"id,omitempty"`
}

// Handler upgrades authenticated HTTP requests and routes control messages.
type Handler struct {
	hub      *Hub
	authz    Authorizer
	upgrader gorillawebsocket.Upgrader
	logger   zerolog.Logger
}

func NewHandler(hub *Hub, authz Authorizer, allowedOrigins []string, logger zerolog.Logger) *Handler {
	return &Handler{
		hub:   hub,
		authz: authz,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	wildcard := false
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			wildcard = true
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || wildcard {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", h.HandleConnect)
}

// HandleConnect verifies the credential, then upgrades the connection. The
// token comes from the access_token query parameter (browsers cannot set
// headers on websocket requests) or the Authorization header.
func (h *Handler) HandleConnect(c echo.Context) error {
	token := c.QueryParam("access_token")
	if token == "" {
		t, err := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return err
		}
		token = t
	}
	p, err := h.authz.AuthenticateToken(c.Request().Context(), token)
	if err != nil {
		return err
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := NewClient(uuid.NewString(), p)
	h.hub.Register(client)
	h.logger.Debug().Str("client_id", client.ID).Str("principal_id", p.ID).Msg("websocket connected")

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(maxMessage)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.hub.reply(client, encode(errorEvent("malformed message")))
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
		reply := h.Process(ctx, client, msg)
		cancel()
		h.hub.reply(client, encode(reply))
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Process applies one control message and returns the reply for the client.
func (h *Handler) Process(ctx context.Context, client *Client, msg ClientMessage) events.Event {
	action, target, _ := strings.Cut(msg.Event, ":")

	switch action {
	case "ping":
		return events.Event{Name: "pong", Timestamp: time.Now().UTC()}
	case "join", "leave":
	default:
		return errorEvent("unknown event " + msg.Event)
	}

	if action == "leave" {
		room := roomName(target, msg.ID)
		if room == "" {
			return errorEvent("unknown room " + msg.Event + " " + msg.ID)
		}
		h.hub.Leave(client, room)
		return events.Event{Name: "left", Room: room, Timestamp: time.Now().UTC()}
	}

	room, err := h.room(ctx, client, target, msg.ID)
	if err != nil {
		h.logger.Warn().Err(err).Str("principal_id", client.Principal.ID).Msg("room authorization failed")
		return errorEvent("could not verify room membership")
	}
	if room == "" {
		return errorEvent("not allowed to " + msg.Event + " " + msg.ID)
	}

	h.hub.Join(client, room)
	return events.Event{Name: "joined", Room: room, Timestamp: time.Now().UTC()}
}

// room resolves and authorizes the room named by a join/leave target. An
// empty room means the principal may not use it.
func (h *Handler) room(ctx context.Context, client *Client, target, id string) (string, error) {
	if target == events.AdminRoom {
		if !client.Principal.IsAdmin() {
			return "", nil
		}
		return events.AdminRoom, nil
	}

	kind := access.TenantKind(target)
	if !kind.Valid() {
		return "", nil
	}
	tenantID, err := uuid.Parse(id)
	if err != nil {
		return "", nil
	}
	ok, err := h.authz.Owns(ctx, client.Principal, kind, tenantID.String())
	if err != nil || !ok {
		return "", err
	}
	return access.Room(kind, tenantID), nil
}

func roomName(target, id string) string {
	if target == events.AdminRoom {
		return events.AdminRoom
	}
	kind := access.TenantKind(target)
	tenantID, err := uuid.Parse(id)
	if !kind.Valid() || err != nil {
		return ""
	}
	return access.Room(kind, tenantID)
}

func errorEvent(message string) events.Event {
	data, _ := json.Marshal(map[string]string{"message": message})
	return events.Event{Name: "error", Data: data, Timestamp: time.Now().UTC()}
}

func encode(ev events.Event) []byte {
	data, _ := json.Marshal(ev)
	return data
}
