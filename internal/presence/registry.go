// Package presence mantiene qué usuarios tienen una conexión viva y cómo alcanzarlos.
package presence

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"securechat/internal/domain"
)

// Conn es el handle de una conexión viva. Send no debe bloquear.
type Conn interface {
	UserID() string
	Send(event domain.Event) error
	Close() error
}

// Registry asocia cada usuario con su conexión activa; la última conexión gana.
// Es estado de proceso: no se persiste ni se comparte entre instancias.
type Registry struct {
	logger *zap.Logger
	mu     sync.RWMutex
	conns  map[string]Conn
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger: logger,
		conns:  make(map[string]Conn),
	}
}

// Register guarda conn para userID y devuelve la conexión reemplazada, si había.
// No cierra la anterior; eso le corresponde al gateway.
func (r *Registry) Register(userID string, conn Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.conns[userID]
	r.conns[userID] = conn
	if prev == conn {
		return nil
	}
	return prev
}

// Unregister elimina la entrada solo si sigue apuntando a conn, para que una
// desconexión tardía no expulse a una conexión más nueva.
func (r *Registry) Unregister(userID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.conns[userID]
	if !ok || current != conn {
		return false
	}
	delete(r.conns, userID)
	return true
}

func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[userID]
	return conn, ok
}

// OnlineIDs devuelve una foto ordenada de los usuarios conectados.
func (r *Registry) OnlineIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// SendTo entrega event al usuario si está conectado. Devuelve false si no lo está
// o si el envío falló; ninguno de los dos casos es un error para el llamador.
func (r *Registry) SendTo(userID string, event domain.Event) bool {
	conn, ok := r.Lookup(userID)
	if !ok {
		return false
	}
	if err := conn.Send(event); err != nil {
		r.logger.Warn("presence send failed",
			zap.String("user_id", userID),
			zap.String("event", event.Name),
			zap.Error(err),
		)
		return false
	}
	return true
}

// BroadcastExcept entrega event a todas las conexiones salvo la de exclude.
// Los envíos se hacen fuera del lock.
func (r *Registry) BroadcastExcept(exclude string, event domain.Event) int {
	r.mu.RLock()
	targets := make([]Conn, 0, len(r.conns))
	for id, conn := range r.conns {
		if id != exclude {
			targets = append(targets, conn)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(event); err != nil {
			r.logger.Warn("presence broadcast failed",
				zap.String("user_id", conn.UserID()),
				zap.String("event", event.Name),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}
	return delivered
}

// CloseAll cierra y olvida todas las conexiones. Se usa al apagar el proceso.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]Conn)
	r.mu.Unlock()

	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			r.logger.Debug("presence close failed", zap.String("user_id", conn.UserID()), zap.Error(err))
		}
	}
	return len(conns)
}

// Len devuelve el número de usuarios conectados.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
