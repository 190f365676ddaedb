// Package scheduler arma y dispara los temporizadores de autodestrucción.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"securechat/internal/clock"
	"securechat/internal/domain"
	"securechat/internal/events"
)

// DefaultDelay es el tiempo de vida de los mensajes enviados por socket.
const DefaultDelay = 30 * time.Second

const deleteTimeout = 5 * time.Second

// Deleter borra un mensaje; borrar uno inexistente no es un error.
type Deleter interface {
	Delete(ctx context.Context, messageID string) (bool, error)
}

// Notifier entrega un evento a un usuario si está conectado.
type Notifier interface {
	SendTo(userID string, event domain.Event) bool
}

// Handle identifica un temporizador armado.
type Handle struct {
	MessageID   string
	SenderID    string
	RecipientID string
	FireAt      time.Time

	timer clock.Timer
}

// Scheduler mantiene un temporizador independiente por mensaje. Un reinicio del
// proceso pierde los temporizadores pendientes; el barrido de expirados cubre las filas.
type Scheduler struct {
	logger    *zap.Logger
	clock     clock.Clock
	deleter   Deleter
	notifier  Notifier
	publisher events.Publisher

	mu      sync.Mutex
	pending map[*Handle]struct{}
	stopped bool
}

func New(logger *zap.Logger, clk clock.Clock, deleter Deleter, notifier Notifier, publisher events.Publisher) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Scheduler{
		logger:    logger,
		clock:     clk,
		deleter:   deleter,
		notifier:  notifier,
		publisher: publisher,
		pending:   make(map[*Handle]struct{}),
	}
}

// Arm programa la destrucción de messageID tras delay. Devuelve nil si el
// scheduler ya fue detenido.
func (s *Scheduler) Arm(messageID, recipientID, senderID string, delay time.Duration) *Handle {
	if delay < 0 {
		delay = 0
	}
	h := &Handle{
		MessageID:   messageID,
		SenderID:    senderID,
		RecipientID: recipientID,
		FireAt:      s.clock.Now().Add(delay),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.pending[h] = struct{}{}
	h.timer = s.clock.AfterFunc(delay, func() { s.fire(h) })
	return h
}

// Cancel detiene un temporizador pendiente. Devuelve false si ya disparó o fue cancelado.
func (s *Scheduler) Cancel(h *Handle) bool {
	if h == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[h]; !ok {
		return false
	}
	delete(s.pending, h)
	h.timer.Stop()
	return true
}

// Pending devuelve cuántos temporizadores siguen armados.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancela todos los temporizadores pendientes y rechaza nuevos.
func (s *Scheduler) Stop() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	n := 0
	for h := range s.pending {
		if h.timer.Stop() {
			n++
		}
		delete(s.pending, h)
	}
	return n
}

func (s *Scheduler) fire(h *Handle) {
	s.mu.Lock()
	if _, ok := s.pending[h]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, h)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
	defer cancel()

	existed, err := s.deleter.Delete(ctx, h.MessageID)
	if err != nil {
		// La notificación sale igual: los clientes llevan su propia cuenta atrás.
		s.logger.Error("self-destruct delete failed",
			zap.String("message_id", h.MessageID),
			zap.Error(err),
		)
	}

	event := domain.MessageDeletedEvent(h.MessageID)
	s.notifier.SendTo(h.SenderID, event)
	if h.RecipientID != h.SenderID {
		s.notifier.SendTo(h.RecipientID, event)
	}

	// Si el barrido de vencidos ya borró la fila, el evento sale igual: nadie más lo publica.
	if err == nil {
		if pubErr := s.publisher.Publish(ctx, events.Lifecycle{
			Type:        events.TypeMessageDeleted,
			MessageID:   h.MessageID,
			SenderID:    h.SenderID,
			RecipientID: h.RecipientID,
			At:          s.clock.Now(),
		}); pubErr != nil {
			s.logger.Warn("publish deleted event failed", zap.String("message_id", h.MessageID), zap.Error(pubErr))
		}
	}

	s.logger.Debug("message self-destructed",
		zap.String("message_id", h.MessageID),
		zap.Bool("existed", existed),
	)
}
