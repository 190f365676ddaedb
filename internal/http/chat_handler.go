package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"securechat/internal/service"
)

// ChatHandler expone por HTTP las conversaciones y el historial.
type ChatHandler struct {
	logger   *zap.Logger
	delivery *service.DeliveryService
}

// NewChatHandler crea una instancia de ChatHandler con dependencias necesarias.
func NewChatHandler(logger *zap.Logger, delivery *service.DeliveryService) *ChatHandler {
	return &ChatHandler{
		logger:   logger,
		delivery: delivery,
	}
}

// ListConversations maneja GET /conversations.
func (h *ChatHandler) ListConversations(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	views, err := h.delivery.ListConversations(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err, "could not list conversations")
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": views})
}

// StartConversation maneja POST /conversations.
func (h *ChatHandler) StartConversation(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req struct {
		ParticipantID string `json:"participantId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid start conversation request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	conv, err := h.delivery.StartConversation(c.Request.Context(), userID, req.ParticipantID)
	if err != nil {
		h.writeError(c, err, "could not start conversation")
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

// ConversationMessages maneja GET /conversations/:id/messages.
func (h *ChatHandler) ConversationMessages(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	messages, err := h.delivery.ConversationMessages(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.writeError(c, err, "could not fetch messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// History maneja GET /messages/:userId?since=RFC3339.
func (h *ChatHandler) History(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var since *time.Time
	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		since = &t
	}

	messages, err := h.delivery.History(c.Request.Context(), userID, c.Param("userId"), since)
	if err != nil {
		h.writeError(c, err, "could not fetch messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// PostMessage maneja POST /messages. Los mensajes enviados por HTTP no se autodestruyen.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req struct {
		ConversationID string `json:"conversationId" binding:"required"`
		Content        string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid post message request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	res, err := h.delivery.SendToConversation(c.Request.Context(), userID, req.ConversationID, req.Content)
	if err != nil {
		h.writeError(c, err, "could not post message")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": res.Payload})
}

func (h *ChatHandler) writeError(c *gin.Context, err error, fallback string) {
	writeServiceError(h.logger, c, err, fallback)
}

func requireUser(c *gin.Context) (string, bool) {
	userID, ok := GetAuthUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return userID, true
}

// writeServiceError traduce los errores de servicio a status HTTP. El detalle
// de errores internos solo va al log.
func writeServiceError(logger *zap.Logger, c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrInvalidMessage),
		errors.Is(err, service.ErrInvalidParticipant),
		errors.Is(err, service.ErrAssistantConversation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrMessageTooLong):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	case errors.Is(err, service.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
	default:
		logger.Error(fallback, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
