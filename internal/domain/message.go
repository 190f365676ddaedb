package domain

import "time"

// Message es el registro persistido; Content siempre es el blob cifrado en base64.
type Message struct {
	ID                string     `json:"id"`
	ConversationID    string     `json:"conversation_id"`
	SenderID          string     `json:"sender_id"`
	RecipientID       string     `json:"recipient_id"`
	Content           string     `json:"-"`
	IsEncrypted       bool       `json:"is_encrypted"`
	IsRead            bool       `json:"is_read"`
	IsAIMessage       bool       `json:"is_ai_message"`
	CreatedAt         time.Time  `json:"created_at"`
	SelfDestructTimer *int       `json:"self_destruct_timer,omitempty"`
	SelfDestructAt    *time.Time `json:"self_destruct_at,omitempty"`
}

// SetLifetime fija el temporizador y el instante de destrucción a partir de CreatedAt.
func (m *Message) SetLifetime(lifetime time.Duration) {
	if lifetime <= 0 {
		m.SelfDestructTimer = nil
		m.SelfDestructAt = nil
		return
	}
	seconds := int(lifetime / time.Second)
	at := m.CreatedAt.Add(lifetime)
	m.SelfDestructTimer = &seconds
	m.SelfDestructAt = &at
}

// ExpiredAt indica si el mensaje ya no debe ser visible en el instante dado.
func (m Message) ExpiredAt(now time.Time) bool {
	return m.SelfDestructAt != nil && !now.Before(*m.SelfDestructAt)
}

// MessagePayload es la vista en texto plano que se entrega a los clientes.
type MessagePayload struct {
	ID                string     `json:"id"`
	ConversationID    string     `json:"conversationId"`
	SenderID          string     `json:"senderId"`
	RecipientID       string     `json:"recipientId"`
	Content           string     `json:"content"`
	IsRead            bool       `json:"isRead"`
	IsAIMessage       bool       `json:"isAIMessage"`
	CreatedAt         time.Time  `json:"createdAt"`
	SelfDestructTimer *int       `json:"selfDestructTimer"`
	SelfDestructAt    *time.Time `json:"selfDestructAt"`
	DecryptError      string     `json:"decryptError,omitempty"`
}

// NewMessagePayload combina los metadatos del mensaje con el contenido descifrado.
func NewMessagePayload(msg Message, plaintext string) MessagePayload {
	return MessagePayload{
		ID:                msg.ID,
		ConversationID:    msg.ConversationID,
		SenderID:          msg.SenderID,
		RecipientID:       msg.RecipientID,
		Content:           plaintext,
		IsRead:            msg.IsRead,
		IsAIMessage:       msg.IsAIMessage,
		CreatedAt:         msg.CreatedAt,
		SelfDestructTimer: msg.SelfDestructTimer,
		SelfDestructAt:    msg.SelfDestructAt,
	}
}
