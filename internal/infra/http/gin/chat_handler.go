package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	appchat "huddle/internal/app/chat"
	"huddle/internal/app/dto"
	domainchat "huddle/internal/domain/chat"
	domainuser "huddle/internal/domain/user"
)

// ChatHTTP exposes the messaging endpoints.
type ChatHTTP interface {
	ListConversations(c *gin.Context)
	ListMessages(c *gin.Context)
	ConversationWith(c *gin.Context)
	SendMessage(c *gin.Context)
	MarkRead(c *gin.Context)
	DeleteConversation(c *gin.Context)
	Block(c *gin.Context)
	Unblock(c *gin.Context)
}

// ChatHandler bridges HTTP with the chat service.
type ChatHandler struct {
	Service *appchat.Service
	Logger  *slog.Logger
	Env     string
}

// ListConversations returns the caller's visible threads.
func (h ChatHandler) ListConversations(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	items, err := h.Service.ListConversations(c.Request.Context(), p.ID)
	if err != nil {
		h.respondError(c, err, "list conversations")
		return
	}
	c.JSON(http.StatusOK, dto.ConversationList{Items: items})
}

// ListMessages returns one history page of a conversation by id.
func (h ChatHandler) ListMessages(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	before, limit, err := pageParams(c)
	if err != nil {
		h.respondError(c, err, "parse page params")
		return
	}
	page, err := h.Service.History(c.Request.Context(), p.ID, domainchat.ConversationID(id), before, limit)
	if err != nil {
		h.respondError(c, err, "list messages", "conversation_id", id)
		return
	}
	c.JSON(http.StatusOK, page)
}

// ConversationWith gets or lazily creates the thread with another user and
// returns its first page.
func (h ChatHandler) ConversationWith(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	target := strings.TrimSpace(c.Param("userId"))
	if target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user id is required"})
		return
	}
	before, limit, err := pageParams(c)
	if err != nil {
		h.respondError(c, err, "parse page params")
		return
	}
	thread, err := h.Service.ConversationWith(c.Request.Context(), p.ID, target, before, limit)
	if err != nil {
		h.respondError(c, err, "open conversation", "peer_id", target)
		return
	}
	c.JSON(http.StatusOK, thread)
}

// SendMessage posts a message to another user.
func (h ChatHandler) SendMessage(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	target := strings.TrimSpace(c.Param("userId"))
	if target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user id is required"})
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.Service.Send(c.Request.Context(), p.ID, target, req.Body)
	if err != nil {
		h.respondError(c, err, "send message", "peer_id", target)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// MarkRead marks all of the caller's unread messages in the conversation.
func (h ChatHandler) MarkRead(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	result, err := h.Service.MarkRead(c.Request.Context(), p.ID, domainchat.ConversationID(id))
	if err != nil {
		h.respondError(c, err, "mark read", "conversation_id", id)
		return
	}
	c.JSON(http.StatusOK, result)
}

// DeleteConversation hides the thread for the caller only.
func (h ChatHandler) DeleteConversation(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if err := h.Service.Delete(c.Request.Context(), p.ID, domainchat.ConversationID(id)); err != nil {
		h.respondError(c, err, "delete conversation", "conversation_id", id)
		return
	}
	c.Status(http.StatusNoContent)
}

// Block records a directed block against another user.
func (h ChatHandler) Block(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	target := strings.TrimSpace(c.Param("userId"))
	var req struct {
		Reason string `json:"reason"`
	}
	// The body is optional; a bare POST blocks without a reason.
	_ = c.ShouldBindJSON(&req)
	if err := h.Service.Block(c.Request.Context(), p.ID, target, strings.TrimSpace(req.Reason)); err != nil {
		h.respondError(c, err, "block user", "peer_id", target)
		return
	}
	c.Status(http.StatusNoContent)
}

// Unblock removes the caller's block edge toward another user.
func (h ChatHandler) Unblock(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	target := strings.TrimSpace(c.Param("userId"))
	if err := h.Service.Unblock(c.Request.Context(), p.ID, target); err != nil {
		h.respondError(c, err, "unblock user", "peer_id", target)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h ChatHandler) respondError(c *gin.Context, err error, action string, attrs ...any) {
	switch {
	case errors.Is(err, domainchat.ErrEmptyBody),
		errors.Is(err, domainchat.ErrBodyTooLong),
		errors.Is(err, domainchat.ErrSelfConversation),
		errors.Is(err, domainchat.ErrSelfBlock),
		errors.Is(err, domainchat.ErrInvalidCursor):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domainchat.ErrBlockedByUser):
		c.JSON(http.StatusForbidden, gin.H{"error": "you have blocked this user"})
	case errors.Is(err, domainchat.ErrBlockedByPeer):
		c.JSON(http.StatusForbidden, gin.H{"error": "this user is not accepting your messages"})
	case errors.Is(err, domainchat.ErrConversationNotFound),
		errors.Is(err, domainchat.ErrNotParticipant),
		errors.Is(err, domainuser.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		if h.Logger != nil {
			h.Logger.Error("chat request failed", append([]any{"action", action, "error", err}, attrs...)...)
		}
		body := gin.H{"error": "internal error"}
		if h.Env == "dev" || h.Env == "local" {
			body["detail"] = err.Error()
		}
		c.JSON(http.StatusInternalServerError, body)
	}
}

// pageParams parses the before cursor and page limit. The cursor is a
// message createdAt in RFC3339Nano; anything else is a validation error.
func pageParams(c *gin.Context) (time.Time, int, error) {
	var before time.Time
	if raw := strings.TrimSpace(c.Query("before")); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return time.Time{}, 0, domainchat.ErrInvalidCursor
		}
		before = parsed
	}
	limit := appchat.DefaultPageSize
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			return time.Time{}, 0, domainchat.ErrInvalidCursor
		}
		limit = value
	}
	return before, limit, nil
}

var _ ChatHTTP = (*ChatHandler)(nil)
