// Package events publica el ciclo de vida de los mensajes hacia NATS JetStream.
// Solo viajan metadatos: nunca contenido, ni cifrado ni en claro.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

const SubjectPrefix = "securechat.events"

const (
	TypeMessageSent    = "sent"
	TypeMessageRead    = "read"
	TypeMessageDeleted = "deleted"
)

// Lifecycle describe una transición de un mensaje.
type Lifecycle struct {
	Type           string    `json:"type"`
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId,omitempty"`
	SenderID       string    `json:"senderId,omitempty"`
	RecipientID    string    `json:"recipientId,omitempty"`
	At             time.Time `json:"at"`
}

// Publisher publica eventos de ciclo de vida. Los fallos no deben abortar la
// operación que los origina.
type Publisher interface {
	Publish(ctx context.Context, event Lifecycle) error
}

// NopPublisher descarta los eventos; se usa cuando NATS no está configurado.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Lifecycle) error { return nil }

type jsPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NatsPublisher publica en JetStream bajo securechat.events.<type>.
type NatsPublisher struct {
	nc     *nats.Conn
	js     jsPublisher
	logger *zap.Logger
}

// NewNatsPublisher conecta a NATS y se asegura de que el stream exista.
func NewNatsPublisher(ctx context.Context, logger *zap.Logger, url, streamName string) (*NatsPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("securechat"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := js.Stream(ctx, streamName); err != nil {
		logger.Info("nats stream not found, creating", zap.String("stream", streamName))
		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        streamName,
			Description: "Message lifecycle events",
			Subjects:    []string{SubjectPrefix + ".>"},
			MaxAge:      24 * time.Hour,
			Storage:     jetstream.FileStorage,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create stream %q: %w", streamName, err)
		}
	}

	return &NatsPublisher{nc: nc, js: js, logger: logger}, nil
}

func (p *NatsPublisher) Publish(ctx context.Context, event Lifecycle) error {
	if p == nil || p.js == nil {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal lifecycle event: %w", err)
	}
	subject := Subject(event.Type)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to %q: %w", subject, err)
	}
	return nil
}

// Close cierra la conexión a NATS.
func (p *NatsPublisher) Close() {
	if p != nil && p.nc != nil {
		p.nc.Close()
	}
}

// Subject devuelve el subject NATS para un tipo de evento.
func Subject(eventType string) string {
	return SubjectPrefix + "." + eventType
}
