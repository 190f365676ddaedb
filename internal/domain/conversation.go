package domain

import "time"

// Conversation representa la relación 1:1 entre dos identidades.
type Conversation struct {
	ID               string    `json:"id"`
	Participants     [2]string `json:"participants"`
	IsAIConversation bool      `json:"is_ai_conversation"`
	LastMessageID    string    `json:"last_message_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NormalizePair ordena el par para que (a,b) y (b,a) tengan la misma clave.
func NormalizePair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// NewConversationParticipants devuelve el par normalizado.
func NewConversationParticipants(a, b string) [2]string {
	low, high := NormalizePair(a, b)
	return [2]string{low, high}
}

// HasParticipant indica si el usuario pertenece a la conversación.
func (c Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.Participants[0] == userID || c.Participants[1] == userID)
}

// Peer devuelve el otro participante.
func (c Conversation) Peer(userID string) string {
	if c.Participants[0] == userID {
		return c.Participants[1]
	}
	return c.Participants[0]
}
