package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter configura el router de Gin con middlewares y rutas base.
func NewRouter(
	logger *zap.Logger,
	verifier TokenVerifier,
	gateway *Gateway,
	chatH *ChatHandler,
	assistantH *AssistantHandler,
) *gin.Engine {
	r := gin.New()

	// Middlewares basicos: logging y recovery. El content-type JSON solo aplica a la API.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// El gateway autentica por su cuenta: el token puede venir por query o subprotocolo.
	r.GET("/ws", gateway.Handle)

	api := r.Group("", jsonContentTypeMiddleware(), JWTAuthMiddleware(verifier))

	api.GET("/conversations", chatH.ListConversations)
	api.POST("/conversations", chatH.StartConversation)
	api.GET("/conversations/:id/messages", chatH.ConversationMessages)

	api.GET("/messages/:userId", chatH.History)
	api.POST("/messages", chatH.PostMessage)

	ai := api.Group("/ai")
	ai.POST("/message", assistantH.PostMessage)
	ai.GET("/conversation", assistantH.Conversation)

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
