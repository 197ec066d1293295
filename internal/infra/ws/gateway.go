// Package ws is the realtime push gateway: one websocket per client,
// per-user rooms, presence transitions, and fan-out of chat events. With a
// broker bridge attached, events raised on one process reach sockets held by
// another.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	appchat "huddle/internal/app/chat"
	"huddle/internal/app/presence"
	domainchat "huddle/internal/domain/chat"
	domainuser "huddle/internal/domain/user"
)

// EventBridge forwards events to other gateway instances.
type EventBridge interface {
	Publish(ctx context.Context, evt appchat.Event) error
}

// Gateway owns the local connection rooms. It implements chat.Publisher.
type Gateway struct {
	Tracker  *presence.Tracker
	Presence domainchat.PresenceRepository
	Resolver domainuser.Resolver
	Bridge   EventBridge
	Logger   *slog.Logger

	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}

	upgrader websocket.Upgrader
}

func NewGateway(tracker *presence.Tracker, presenceRepo domainchat.PresenceRepository, resolver domainuser.Resolver, logger *slog.Logger) *Gateway {
	return &Gateway{
		Tracker:  tracker,
		Presence: presenceRepo,
		Resolver: resolver,
		Logger:   logger,
		rooms:    make(map[string]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Publish delivers an event to local sockets and forwards it across the
// bridge. Fire-and-forget: slow clients are dropped, never waited on.
func (g *Gateway) Publish(ctx context.Context, evt appchat.Event) {
	g.Deliver(evt)
	if g.Bridge == nil {
		return
	}
	if err := g.Bridge.Publish(ctx, evt); err != nil && g.Logger != nil {
		g.Logger.Error("event bridge publish failed", "type", evt.Type, "error", err)
	}
}

// Deliver fans an event out to local connections only. The broker consumer
// calls this for events that originated on other instances.
func (g *Gateway) Deliver(evt appchat.Event) {
	frame, err := json.Marshal(evt)
	if err != nil {
		if g.Logger != nil {
			g.Logger.Error("event encode failed", "type", evt.Type, "error", err)
		}
		return
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(evt.Users) == 0 {
		for _, room := range g.rooms {
			for cl := range room {
				cl.enqueue(frame)
			}
		}
		return
	}
	for _, userID := range evt.Users {
		for cl := range g.rooms[userID] {
			cl.enqueue(frame)
		}
	}
}

// HandleWS upgrades the connection, authenticates it and joins the user's
// room. Auth failures are answered with a structured rejection frame, never
// a silent drop.
func (g *Gateway) HandleWS(c *gin.Context) {
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if g.Logger != nil {
			g.Logger.Warn("websocket upgrade failed", "error", err, "remote", c.Request.RemoteAddr)
		}
		return
	}

	usr, err := g.authenticate(c.Request)
	if err != nil {
		rejectConnection(conn, "authentication required")
		return
	}

	cl := newClient(conn, usr.ID)
	leave := g.join(c.Request.Context(), usr.ID, cl)
	if g.Logger != nil {
		g.Logger.Info("client connected", "user_id", usr.ID)
	}

	go cl.writePump()
	cl.readPump()

	leave()
	if g.Logger != nil {
		g.Logger.Info("client disconnected", "user_id", usr.ID)
	}
}

// authenticate resolves the bearer token taken from, in priority order, an
// explicit auth query field, the Authorization header, or the session cookie.
func (g *Gateway) authenticate(r *http.Request) (*domainuser.User, error) {
	token := extractToken(r)
	if token == "" {
		return nil, domainuser.ErrTokenInvalid
	}
	return g.Resolver.ResolveToken(r.Context(), token)
}

// join adds the connection to the user's room and returns the unsubscribe
// handle. First connection flips the user online; last one flips them
// offline. Presence changes go to every connected client, since any viewer
// may be watching this user's status.
func (g *Gateway) join(ctx context.Context, userID string, cl *client) func() {
	g.mu.Lock()
	if g.rooms[userID] == nil {
		g.rooms[userID] = make(map[*client]struct{})
	}
	g.rooms[userID][cl] = struct{}{}
	g.mu.Unlock()

	if g.Tracker.Register(userID) {
		g.announcePresence(ctx, userID, appchat.PresenceOnline)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			if room, ok := g.rooms[userID]; ok {
				delete(room, cl)
				if len(room) == 0 {
					delete(g.rooms, userID)
				}
			}
			g.mu.Unlock()
			cl.close()

			if g.Tracker.Unregister(userID) {
				g.announcePresence(context.Background(), userID, appchat.PresenceOffline)
			}
		})
	}
}

func (g *Gateway) announcePresence(ctx context.Context, userID, status string) {
	now := time.Now().UTC()
	if g.Presence != nil {
		if err := g.Presence.SetLastSeen(ctx, userID, now); err != nil && g.Logger != nil {
			g.Logger.Error("persist last seen failed", "user_id", userID, "error", err)
		}
	}
	g.Publish(ctx, appchat.Event{
		Type:    appchat.EventPresenceUpdate,
		Payload: appchat.PresencePayload{UserID: userID, Status: status, LastSeenAt: now},
	})
}

// RoomSize reports the live connection count for a user.
func (g *Gateway) RoomSize(userID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms[userID])
}

func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("auth"); token != "" {
		return token
	}
	if header := r.Header.Get("Authorization"); len(header) > 7 && header[:7] == "Bearer " {
		return header[7:]
	}
	if cookie, err := r.Cookie("session"); err == nil {
		return cookie.Value
	}
	return ""
}

func rejectConnection(conn *websocket.Conn, reason string) {
	frame, _ := json.Marshal(map[string]any{
		"type":    "connection:rejected",
		"payload": map[string]string{"error": reason},
	})
	deadline := time.Now().Add(5 * time.Second)
	conn.SetWriteDeadline(deadline)
	_ = conn.WriteMessage(websocket.TextMessage, frame)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
	conn.Close()
}
