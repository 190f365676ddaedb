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
	"securechat/internal/llm"
	"securechat/internal/repository"
)

// AssistantFallbackReply sustituye la respuesta cuando el proveedor LLM falla.
const AssistantFallbackReply = "I apologize, but I'm having trouble processing your request at the moment. Please try again later."

var ErrAssistantNotConfigured = errors.New("assistant service not configured")

// AssistantExchange agrupa el mensaje del usuario y la respuesta del asistente en texto plano.
type AssistantExchange struct {
	UserMessage domain.MessagePayload `json:"userMessage"`
	Reply       domain.MessagePayload `json:"aiResponse"`
}

// AssistantService implementa el intercambio síncrono con el asistente.
// No hay push por socket ni autodestrucción en este camino.
type AssistantService struct {
	logger        *zap.Logger
	llm           llm.LLMClient
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	codec         *crypto.Codec
	assistant     domain.User
	clock         clock.Clock
	timeout       time.Duration
}

func NewAssistantService(
	logger *zap.Logger,
	llmClient llm.LLMClient,
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	codec *crypto.Codec,
	assistant domain.User,
	clk clock.Clock,
) *AssistantService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &AssistantService{
		logger:        logger,
		llm:           llmClient,
		conversations: conversations,
		messages:      messages,
		codec:         codec,
		assistant:     assistant,
		clock:         clk,
		timeout:       60 * time.Second,
	}
}

func (s *AssistantService) configured() bool {
	return s != nil && s.conversations != nil && s.messages != nil && s.codec != nil && s.assistant.ID != ""
}

// AssistantID devuelve el id del usuario asistente.
func (s *AssistantService) AssistantID() string {
	if s == nil {
		return ""
	}
	return s.assistant.ID
}

// Exchange persiste el mensaje del usuario (ya leído), consulta al LLM y persiste la respuesta.
func (s *AssistantService) Exchange(ctx context.Context, userID, content string) (AssistantExchange, error) {
	if !s.configured() {
		return AssistantExchange{}, ErrAssistantNotConfigured
	}
	userID = strings.TrimSpace(userID)
	if err := validateContent(userID, s.assistant.ID, content); err != nil {
		return AssistantExchange{}, err
	}

	conv, err := s.conversations.FindOrCreate(ctx, userID, s.assistant.ID, true)
	if err != nil {
		return AssistantExchange{}, fmt.Errorf("resolve assistant conversation: %w", err)
	}

	userMsg, err := s.persist(ctx, domain.Message{
		ConversationID: conv.ID,
		SenderID:       userID,
		RecipientID:    s.assistant.ID,
		IsRead:         true,
		CreatedAt:      s.clock.Now(),
	}, content)
	if err != nil {
		return AssistantExchange{}, err
	}

	reply := s.generate(ctx, content)

	replyAt := s.clock.Now()
	if !replyAt.After(userMsg.CreatedAt) {
		replyAt = userMsg.CreatedAt.Add(time.Millisecond)
	}
	replyMsg, err := s.persist(ctx, domain.Message{
		ConversationID: conv.ID,
		SenderID:       s.assistant.ID,
		RecipientID:    userID,
		IsAIMessage:    true,
		CreatedAt:      replyAt,
	}, reply)
	if err != nil {
		return AssistantExchange{}, err
	}

	return AssistantExchange{
		UserMessage: domain.NewMessagePayload(userMsg, content),
		Reply:       domain.NewMessagePayload(replyMsg, reply),
	}, nil
}

// Conversation devuelve el historial descifrado entre el usuario y el asistente.
func (s *AssistantService) Conversation(ctx context.Context, userID string) ([]domain.MessagePayload, error) {
	if !s.configured() {
		return nil, ErrAssistantNotConfigured
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidParticipant
	}
	convID, err := s.aiConversationID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if convID == "" {
		return []domain.MessagePayload{}, nil
	}
	messages, err := s.messages.ListBetween(ctx, userID, s.assistant.ID, nil)
	if err != nil {
		return nil, fmt.Errorf("list assistant messages: %w", err)
	}
	// El par también puede tener una conversación humana con el asistente; esa no se mezcla.
	kept := messages[:0]
	for _, m := range messages {
		if m.ConversationID == convID {
			kept = append(kept, m)
		}
	}
	return decryptPayloads(s.logger, s.codec, kept), nil
}

// aiConversationID busca la conversación de asistente sin crearla; "" si aún no existe.
func (s *AssistantService) aiConversationID(ctx context.Context, userID string) (string, error) {
	convs, err := s.conversations.ListByUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("list assistant conversations: %w", err)
	}
	for _, c := range convs {
		if c.IsAIConversation && c.HasParticipant(s.assistant.ID) {
			return c.ID, nil
		}
	}
	return "", nil
}

func (s *AssistantService) generate(ctx context.Context, prompt string) string {
	if s.llm == nil {
		return AssistantFallbackReply
	}
	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reply, err := s.llm.Generate(genCtx, prompt)
	if err != nil || strings.TrimSpace(reply) == "" {
		s.logger.Warn("assistant generation failed, using fallback", zap.Error(err))
		return AssistantFallbackReply
	}
	return reply
}

func (s *AssistantService) persist(ctx context.Context, msg domain.Message, plaintext string) (domain.Message, error) {
	ciphertext, err := s.codec.EncryptString(plaintext)
	if err != nil {
		return domain.Message{}, fmt.Errorf("encrypt message: %w", err)
	}
	msg.Content = ciphertext
	msg.IsEncrypted = true
	saved, err := s.messages.Create(ctx, msg)
	if err != nil {
		return domain.Message{}, fmt.Errorf("persist message: %w", err)
	}
	return saved, nil
}
