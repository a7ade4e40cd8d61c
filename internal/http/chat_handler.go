package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"marketplace-chat/internal/service"
)

// ChatHandler expone conversaciones, mensajes y lecturas por REST.
type ChatHandler struct {
	logger        *zap.Logger
	conversations *service.ConversationService
	messages      *service.MessageService
	reads         *service.ReadStateService
	inbox         *service.InboxService
}

// NewChatHandler crea una instancia de ChatHandler con dependencias necesarias.
func NewChatHandler(
	logger *zap.Logger,
	conversations *service.ConversationService,
	messages *service.MessageService,
	reads *service.ReadStateService,
	inbox *service.InboxService,
) *ChatHandler {
	return &ChatHandler{
		logger:        logger,
		conversations: conversations,
		messages:      messages,
		reads:         reads,
		inbox:         inbox,
	}
}

// ResolveConversation maneja POST /conversations.
func (h *ChatHandler) ResolveConversation(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req struct {
		CounterpartID string  `json:"counterpart_id" binding:"required"`
		ProjectID     *string `json:"project_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid resolve conversation request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	conv, err := h.conversations.Resolve(c.Request.Context(), userID, req.CounterpartID, req.ProjectID)
	if err != nil {
		respondError(c, h.logger, "resolve conversation", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

// ListConversations maneja GET /conversations.
func (h *ChatHandler) ListConversations(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	summaries, err := h.inbox.ListConversations(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, "list conversations", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

// SearchConversations maneja GET /conversations/search?q=.
func (h *ChatHandler) SearchConversations(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	summaries, err := h.inbox.Search(c.Request.Context(), userID, c.Query("q"))
	if err != nil {
		respondError(c, h.logger, "search conversations", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

// TotalUnread maneja GET /conversations/unread.
func (h *ChatHandler) TotalUnread(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	total, err := h.inbox.TotalUnread(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, "total unread", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": total})
}

// ListMessages maneja GET /conversations/:id/messages?limit=&before=.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	var before *time.Time
	if raw := strings.TrimSpace(c.Query("before")); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before, expected RFC3339"})
			return
		}
		before = &ts
	}

	msgs, err := h.messages.History(c.Request.Context(), c.Param("id"), userID, limit, before)
	if err != nil {
		respondError(c, h.logger, "list messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// SendMessage maneja POST /conversations/:id/messages.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req struct {
		Body           string  `json:"body"`
		Kind           string  `json:"kind"`
		AttachmentRef  *string `json:"attachment_ref"`
		AttachmentName *string `json:"attachment_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid send message request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	msg, err := h.messages.Send(c.Request.Context(), service.SendInput{
		ConversationID: c.Param("id"),
		SenderID:       userID,
		Body:           req.Body,
		Kind:           req.Kind,
		AttachmentRef:  req.AttachmentRef,
		AttachmentName: req.AttachmentName,
	})
	if err != nil {
		respondError(c, h.logger, "send message", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// MarkRead maneja POST /conversations/:id/read.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	marked, err := h.reads.MarkRead(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondError(c, h.logger, "mark read", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": marked})
}

// DeleteMessage maneja DELETE /admin/messages/:id.
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	if err := h.messages.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, h.logger, "delete message", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func currentUserID(c *gin.Context) (string, bool) {
	claims, ok := GetAuthClaims(c)
	if !ok || claims.UserID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		c.Abort()
		return "", false
	}
	return claims.UserID, true
}
