package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"securechat/internal/domain"
	"securechat/internal/presence"
	"securechat/internal/service"
)

// bearerSubprotocol permite a navegadores enviar el token como
// Sec-WebSocket-Protocol: bearer, <token>.
const bearerSubprotocol = "bearer"

const eventTimeout = 10 * time.Second

// TokenVerifier resuelve un access token a un user id.
type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

// Gateway autentica y mantiene las conexiones websocket y traduce sus eventos
// a llamadas del DeliveryService.
type Gateway struct {
	logger          *zap.Logger
	verifier        TokenVerifier
	registry        *presence.Registry
	delivery        *service.DeliveryService
	lifetime        time.Duration
	maxMessageBytes int64
	upgrader        websocket.Upgrader
}

// NewGateway crea el gateway. lifetime es el tiempo de vida de los mensajes
// enviados por socket (cero desactiva la autodestrucción).
func NewGateway(
	logger *zap.Logger,
	verifier TokenVerifier,
	registry *presence.Registry,
	delivery *service.DeliveryService,
	lifetime time.Duration,
	maxMessageBytes int64,
) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		logger:          logger,
		verifier:        verifier,
		registry:        registry,
		delivery:        delivery,
		lifetime:        lifetime,
		maxMessageBytes: maxMessageBytes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{bearerSubprotocol},
			// El token es la credencial; no hay cookies que proteger con Origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handle maneja GET /ws. Rechaza con 401 antes del upgrade si el token no es válido.
func (g *Gateway) Handle(c *gin.Context) {
	if g.verifier == nil || g.registry == nil || g.delivery == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "gateway not configured"})
		return
	}

	token := extractToken(c.Request)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	userID, err := g.verifier.VerifyToken(token)
	if err != nil || userID == "" {
		g.logger.Debug("websocket auth rejected", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// El upgrader ya respondió con el error HTTP.
		g.logger.Warn("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	client := newWSClient(g.logger, userID, conn)
	g.connect(client)
	go client.writePump()

	client.readPump(g.maxMessageBytes, func(in domain.InboundEvent) {
		g.dispatch(client, in)
	})

	g.disconnect(client)
}

func (g *Gateway) connect(client *wsClient) {
	if prev := g.registry.Register(client.userID, client); prev != nil {
		g.logger.Info("websocket connection superseded", zap.String("user_id", client.userID))
		_ = prev.Close()
	}
	_ = client.Send(domain.OnlineUsersEvent(g.registry.OnlineIDs()))
	g.registry.BroadcastExcept(client.userID, domain.UserConnectedEvent(client.userID))
	g.logger.Info("websocket connected", zap.String("user_id", client.userID))
}

func (g *Gateway) disconnect(client *wsClient) {
	_ = client.Close()
	// Si otra conexión ya ocupó el lugar, el usuario sigue en línea.
	if g.registry.Unregister(client.userID, client) {
		g.registry.BroadcastExcept(client.userID, domain.UserDisconnectedEvent(client.userID))
	}
	g.logger.Info("websocket disconnected", zap.String("user_id", client.userID))
}

func (g *Gateway) dispatch(client *wsClient, in domain.InboundEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	switch in.Name {
	case domain.EventSendMessage:
		var req domain.SendMessageRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			_ = client.Send(domain.ErrorEvent("invalid payload"))
			return
		}
		_, err := g.delivery.SendMessage(ctx, service.SendMessageCommand{
			SenderID:    client.userID,
			RecipientID: req.RecipientID,
			Content:     req.Content,
			Lifetime:    g.lifetime,
		})
		if err != nil {
			_ = client.Send(domain.ErrorEvent(g.sendErrorMessage(client.userID, err)))
		}

	case domain.EventTyping:
		var req domain.TypingRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			_ = client.Send(domain.ErrorEvent("invalid payload"))
			return
		}
		g.delivery.NotifyTyping(service.TypingCommand{FromUserID: client.userID, ToUserID: req.RecipientID})

	case domain.EventMarkAsRead:
		var req domain.MessageRef
		if err := json.Unmarshal(in.Data, &req); err != nil {
			_ = client.Send(domain.ErrorEvent("invalid payload"))
			return
		}
		if _, err := g.delivery.MarkAsRead(ctx, service.MarkAsReadCommand{MessageID: req.MessageID, ReaderID: client.userID}); err != nil {
			g.logger.Error("mark as read failed", zap.String("user_id", client.userID), zap.Error(err))
			_ = client.Send(domain.ErrorEvent("failed to mark message as read"))
		}

	default:
		_ = client.Send(domain.ErrorEvent("unknown event"))
	}
}

func (g *Gateway) sendErrorMessage(userID string, err error) string {
	switch {
	case errors.Is(err, service.ErrRateLimited):
		return "rate limit exceeded"
	case errors.Is(err, service.ErrInvalidMessage),
		errors.Is(err, service.ErrInvalidParticipant):
		return "invalid message"
	case errors.Is(err, service.ErrMessageTooLong):
		return "message too long"
	default:
		g.logger.Error("send message failed", zap.String("user_id", userID), zap.Error(err))
		return "failed to send message"
	}
}

// Shutdown cierra todas las conexiones vivas.
func (g *Gateway) Shutdown() int {
	if g == nil || g.registry == nil {
		return 0
	}
	return g.registry.CloseAll()
}

// extractToken busca el token en ?token=, Authorization: Bearer o Sec-WebSocket-Protocol.
func extractToken(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	protocols := websocket.Subprotocols(r)
	for i, p := range protocols {
		if strings.EqualFold(p, bearerSubprotocol) && i+1 < len(protocols) {
			return protocols[i+1]
		}
	}
	return ""
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("Bearer "):])
}
