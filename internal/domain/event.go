package domain

import "encoding/json"

// Nombres de eventos del canal en tiempo real.
const (
	EventSendMessage = "send_message"
	EventTyping      = "typing"
	EventMarkAsRead  = "mark_as_read"

	EventOnlineUsers      = "online_users"
	EventUserConnected    = "user_connected"
	EventUserDisconnected = "user_disconnected"
	EventReceiveMessage   = "receive_message"
	EventMessageSent      = "message_sent"
	EventMessageDeleted   = "message_deleted"
	EventUserTyping       = "user_typing"
	EventMessageRead      = "message_read"
	EventError            = "error"
)

// Event es el sobre que viaja por la conexión: {"event": ..., "data": ...}.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

type MessageRef struct {
	MessageID string `json:"messageId"`
}

type TypingSignal struct {
	UserID string `json:"userId"`
}

// UserRef identifica al usuario que se conectó o desconectó.
type UserRef struct {
	UserID string `json:"userId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func NewEvent(name string, data any) Event {
	return Event{Name: name, Data: data}
}

func MessageDeletedEvent(messageID string) Event {
	return NewEvent(EventMessageDeleted, MessageRef{MessageID: messageID})
}

func MessageReadEvent(messageID string) Event {
	return NewEvent(EventMessageRead, MessageRef{MessageID: messageID})
}

func ErrorEvent(message string) Event {
	return NewEvent(EventError, ErrorPayload{Message: message})
}

func OnlineUsersEvent(userIDs []string) Event {
	return NewEvent(EventOnlineUsers, userIDs)
}

func UserConnectedEvent(userID string) Event {
	return NewEvent(EventUserConnected, UserRef{UserID: userID})
}

func UserDisconnectedEvent(userID string) Event {
	return NewEvent(EventUserDisconnected, UserRef{UserID: userID})
}

// InboundEvent es un evento recibido del cliente; Data se decodifica según Name.
type InboundEvent struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

type SendMessageRequest struct {
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
}

type TypingRequest struct {
	RecipientID string `json:"recipientId"`
}
