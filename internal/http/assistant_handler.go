package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"securechat/internal/service"
)

// AssistantHandler expone el intercambio con el asistente.
type AssistantHandler struct {
	logger    *zap.Logger
	assistant *service.AssistantService
}

func NewAssistantHandler(logger *zap.Logger, assistant *service.AssistantService) *AssistantHandler {
	return &AssistantHandler{
		logger:    logger,
		assistant: assistant,
	}
}

// PostMessage maneja POST /ai/message.
func (h *AssistantHandler) PostMessage(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid assistant message request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	exchange, err := h.assistant.Exchange(c.Request.Context(), userID, req.Content)
	if err != nil {
		writeServiceError(h.logger, c, err, "could not process assistant message")
		return
	}
	c.JSON(http.StatusCreated, exchange)
}

// Conversation maneja GET /ai/conversation.
func (h *AssistantHandler) Conversation(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	messages, err := h.assistant.Conversation(c.Request.Context(), userID)
	if err != nil {
		writeServiceError(h.logger, c, err, "could not fetch assistant conversation")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"assistantId": h.assistant.AssistantID(),
		"messages":    messages,
	})
}
