package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"securechat/internal/clock"
	"securechat/internal/crypto"
	"securechat/internal/domain"
	"securechat/internal/events"
	"securechat/internal/presence"
	"securechat/internal/repository"
	"securechat/internal/scheduler"
)

// MaxContentLength limita el texto plano de un mensaje (64 KiB).
const MaxContentLength = 64 * 1024

var (
	ErrDeliveryNotConfigured = errors.New("delivery service not configured")
	ErrInvalidMessage        = errors.New("invalid message")
	ErrMessageTooLong        = errors.New("message too long")
	ErrRateLimited           = errors.New("rate limited")
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrInvalidParticipant    = errors.New("invalid participant")
	ErrAssistantConversation = errors.New("assistant conversations use the assistant endpoint")
)

// SendMessageCommand es la intención de envío. Lifetime cero desactiva la autodestrucción.
type SendMessageCommand struct {
	SenderID    string
	RecipientID string
	Content     string
	Lifetime    time.Duration
}

type MarkAsReadCommand struct {
	MessageID string
	ReaderID  string
}

type TypingCommand struct {
	FromUserID string
	ToUserID   string
}

// SendResult resume el resultado de un envío.
type SendResult struct {
	Payload   domain.MessagePayload
	Delivered bool
	Destruct  *scheduler.Handle
}

// ConversationView es una conversación con el último mensaje descifrado.
type ConversationView struct {
	domain.Conversation
	PeerID      string                 `json:"peer_id"`
	Peer        *domain.User           `json:"peer,omitempty"`
	LastMessage *domain.MessagePayload `json:"last_message,omitempty"`
}

// DeliveryService coordina resolución de conversación, cifrado, persistencia,
// fan-out y señales de lectura/escritura.
type DeliveryService struct {
	logger        *zap.Logger
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	users         repository.UserRepository
	codec         *crypto.Codec
	presence      *presence.Registry
	scheduler     *scheduler.Scheduler
	publisher     events.Publisher
	limiter       SendRateLimiter
	clock         clock.Clock
}

func NewDeliveryService(
	logger *zap.Logger,
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	users repository.UserRepository,
	codec *crypto.Codec,
	registry *presence.Registry,
	sched *scheduler.Scheduler,
	publisher events.Publisher,
	limiter SendRateLimiter,
	clk clock.Clock,
) *DeliveryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if limiter == nil {
		limiter = unlimited{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &DeliveryService{
		logger:        logger,
		conversations: conversations,
		messages:      messages,
		users:         users,
		codec:         codec,
		presence:      registry,
		scheduler:     sched,
		publisher:     publisher,
		limiter:       limiter,
		clock:         clk,
	}
}

func (s *DeliveryService) configured() bool {
	return s != nil && s.conversations != nil && s.messages != nil && s.codec != nil && s.presence != nil
}

// SendMessage recorre Received -> ConversationResolved -> Encrypted -> Persisted
// -> Delivered/Queued y arma la autodestrucción si hay tiempo de vida.
// Si falla antes de Persisted no queda ningún mensaje ni puntero actualizado.
func (s *DeliveryService) SendMessage(ctx context.Context, cmd SendMessageCommand) (SendResult, error) {
	if !s.configured() {
		return SendResult{}, ErrDeliveryNotConfigured
	}
	cmd.SenderID = strings.TrimSpace(cmd.SenderID)
	cmd.RecipientID = strings.TrimSpace(cmd.RecipientID)
	if err := validateContent(cmd.SenderID, cmd.RecipientID, cmd.Content); err != nil {
		return SendResult{}, err
	}
	if !s.limiter.Allow(cmd.SenderID) {
		return SendResult{}, ErrRateLimited
	}

	conv, err := s.conversations.FindOrCreate(ctx, cmd.SenderID, cmd.RecipientID, false)
	if err != nil {
		return SendResult{}, fmt.Errorf("resolve conversation: %w", err)
	}

	ciphertext, err := s.codec.EncryptString(cmd.Content)
	if err != nil {
		return SendResult{}, fmt.Errorf("encrypt message: %w", err)
	}

	msg := domain.Message{
		ConversationID: conv.ID,
		SenderID:       cmd.SenderID,
		RecipientID:    cmd.RecipientID,
		Content:        ciphertext,
		IsEncrypted:    true,
		CreatedAt:      s.clock.Now(),
	}
	msg.SetLifetime(cmd.Lifetime)

	saved, err := s.messages.Create(ctx, msg)
	if err != nil {
		return SendResult{}, fmt.Errorf("persist message: %w", err)
	}

	payload := domain.NewMessagePayload(saved, cmd.Content)
	result := SendResult{Payload: payload}

	// Sin cola offline: si el destinatario no está, lo verá solo vía historial.
	result.Delivered = s.presence.SendTo(saved.RecipientID, domain.NewEvent(domain.EventReceiveMessage, payload))
	s.presence.SendTo(saved.SenderID, domain.NewEvent(domain.EventMessageSent, payload))

	s.publish(ctx, events.Lifecycle{
		Type:           events.TypeMessageSent,
		MessageID:      saved.ID,
		ConversationID: saved.ConversationID,
		SenderID:       saved.SenderID,
		RecipientID:    saved.RecipientID,
		At:             saved.CreatedAt,
	})

	if saved.SelfDestructAt != nil && s.scheduler != nil {
		result.Destruct = s.scheduler.Arm(saved.ID, saved.RecipientID, saved.SenderID, saved.SelfDestructAt.Sub(saved.CreatedAt))
	}

	s.logger.Debug("message sent",
		zap.String("message_id", saved.ID),
		zap.String("conversation_id", saved.ConversationID),
		zap.Bool("delivered", result.Delivered),
	)
	return result, nil
}

// MarkAsRead solo actúa si readerID es el destinatario; en cualquier otro caso
// es un no-op silencioso.
func (s *DeliveryService) MarkAsRead(ctx context.Context, cmd MarkAsReadCommand) (bool, error) {
	if !s.configured() {
		return false, ErrDeliveryNotConfigured
	}
	msg, err := s.messages.GetByID(ctx, cmd.MessageID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load message: %w", err)
	}
	if msg.RecipientID != cmd.ReaderID {
		return false, nil
	}

	ok, err := s.messages.MarkRead(ctx, cmd.MessageID, cmd.ReaderID)
	if err != nil {
		return false, fmt.Errorf("mark read: %w", err)
	}
	if !ok {
		return false, nil
	}

	s.presence.SendTo(msg.SenderID, domain.MessageReadEvent(msg.ID))
	s.publish(ctx, events.Lifecycle{
		Type:           events.TypeMessageRead,
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		RecipientID:    msg.RecipientID,
		At:             s.clock.Now(),
	})
	return true, nil
}

// NotifyTyping es una señal pura: se descarta si el destinatario no está conectado.
func (s *DeliveryService) NotifyTyping(cmd TypingCommand) bool {
	if s == nil || s.presence == nil {
		return false
	}
	if cmd.FromUserID == "" || cmd.ToUserID == "" {
		return false
	}
	return s.presence.SendTo(cmd.ToUserID, domain.NewEvent(domain.EventUserTyping, domain.TypingSignal{UserID: cmd.FromUserID}))
}

// History devuelve los mensajes visibles entre dos usuarios, descifrados.
func (s *DeliveryService) History(ctx context.Context, userID, peerID string, since *time.Time) ([]domain.MessagePayload, error) {
	if !s.configured() {
		return nil, ErrDeliveryNotConfigured
	}
	userID = strings.TrimSpace(userID)
	peerID = strings.TrimSpace(peerID)
	if userID == "" || peerID == "" {
		return nil, ErrInvalidParticipant
	}
	messages, err := s.messages.ListBetween(ctx, userID, peerID, since)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return decryptPayloads(s.logger, s.codec, messages), nil
}

// ListConversations devuelve las conversaciones del usuario, la más reciente primero.
func (s *DeliveryService) ListConversations(ctx context.Context, userID string) ([]ConversationView, error) {
	if !s.configured() {
		return nil, ErrDeliveryNotConfigured
	}
	convs, err := s.conversations.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	views := make([]ConversationView, 0, len(convs))
	for _, conv := range convs {
		view := ConversationView{Conversation: conv, PeerID: conv.Peer(userID)}
		view.Peer = s.lookupUser(ctx, view.PeerID)
		if conv.LastMessageID != "" {
			msg, err := s.messages.GetByID(ctx, conv.LastMessageID)
			switch {
			case err == nil:
				payload := decryptPayload(s.logger, s.codec, msg)
				view.LastMessage = &payload
			case errors.Is(err, repository.ErrNotFound):
				// Destruido o expirado.
			default:
				return nil, fmt.Errorf("load last message: %w", err)
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// StartConversation busca o crea la conversación humana entre dos usuarios.
func (s *DeliveryService) StartConversation(ctx context.Context, userID, participantID string) (domain.Conversation, error) {
	if !s.configured() {
		return domain.Conversation{}, ErrDeliveryNotConfigured
	}
	userID = strings.TrimSpace(userID)
	participantID = strings.TrimSpace(participantID)
	if userID == "" || participantID == "" || userID == participantID {
		return domain.Conversation{}, ErrInvalidParticipant
	}
	conv, err := s.conversations.FindOrCreate(ctx, userID, participantID, false)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("start conversation: %w", err)
	}
	return conv, nil
}

// ConversationMessages devuelve el historial de una conversación de la que userID es miembro.
func (s *DeliveryService) ConversationMessages(ctx context.Context, userID, conversationID string) ([]domain.MessagePayload, error) {
	conv, err := s.memberConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	return s.History(ctx, userID, conv.Peer(userID), nil)
}

// SendToConversation envía sin socket dentro de una conversación existente.
// No arma autodestrucción.
func (s *DeliveryService) SendToConversation(ctx context.Context, userID, conversationID, content string) (SendResult, error) {
	conv, err := s.memberConversation(ctx, userID, conversationID)
	if err != nil {
		return SendResult{}, err
	}
	if conv.IsAIConversation {
		return SendResult{}, ErrAssistantConversation
	}
	return s.SendMessage(ctx, SendMessageCommand{
		SenderID:    userID,
		RecipientID: conv.Peer(userID),
		Content:     content,
	})
}

func (s *DeliveryService) memberConversation(ctx context.Context, userID, conversationID string) (domain.Conversation, error) {
	if !s.configured() {
		return domain.Conversation{}, ErrDeliveryNotConfigured
	}
	conv, err := s.conversations.GetByID(ctx, strings.TrimSpace(conversationID))
	if errors.Is(err, repository.ErrNotFound) {
		return domain.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("load conversation: %w", err)
	}
	if !conv.HasParticipant(userID) {
		return domain.Conversation{}, ErrConversationNotFound
	}
	return conv, nil
}

// lookupUser resuelve el perfil del par en el directorio local. Las identidades
// son externas, así que un usuario ausente no es un error.
func (s *DeliveryService) lookupUser(ctx context.Context, userID string) *domain.User {
	if s.users == nil || userID == "" {
		return nil
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("user lookup failed", zap.String("user_id", userID), zap.Error(err))
		}
		return nil
	}
	return &user
}

func (s *DeliveryService) publish(ctx context.Context, event events.Lifecycle) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish lifecycle event failed",
			zap.String("type", event.Type),
			zap.String("message_id", event.MessageID),
			zap.Error(err),
		)
	}
}

func validateContent(senderID, recipientID, content string) error {
	if senderID == "" || recipientID == "" || senderID == recipientID {
		return ErrInvalidParticipant
	}
	if strings.TrimSpace(content) == "" {
		return ErrInvalidMessage
	}
	if len(content) > MaxContentLength {
		return ErrMessageTooLong
	}
	return nil
}
