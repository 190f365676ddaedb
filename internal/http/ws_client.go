package http

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"go.uber.org/zap"

	"securechat/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 256
)

var (
	errClientClosed   = errors.New("websocket client closed")
	errSendBufferFull = errors.New("websocket send buffer full")
)

// wsClient es el handle de una conexión websocket registrado en presence.
// Las escrituras pasan por un canal con buffer y una única goroutine (writePump).
type wsClient struct {
	logger *zap.Logger
	userID string
	conn   *websocket.Conn

	send      chan domain.Event
	done      chan struct{}
	closeOnce sync.Once
}

func newWSClient(logger *zap.Logger, userID string, conn *websocket.Conn) *wsClient {
	return &wsClient{
		logger: logger,
		userID: userID,
		conn:   conn,
		send:   make(chan domain.Event, sendBufferSize),
		done:   make(chan struct{}),
	}
}

func (c *wsClient) UserID() string { return c.userID }

// Send encola el evento sin bloquear. Un cliente lento pierde eventos en vez de frenar al resto.
func (c *wsClient) Send(event domain.Event) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- event:
		return nil
	case <-c.done:
		return errClientClosed
	default:
		return errSendBufferFull
	}
}

// Close es idempotente; writePump envía el frame de cierre y libera el socket.
func (c *wsClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

// readPump bloquea hasta que el cliente se desconecta o falla la lectura.
func (c *wsClient) readPump(maxMessageBytes int64, handle func(domain.InboundEvent)) {
	defer c.Close()

	if maxMessageBytes > 0 {
		c.conn.SetReadLimit(maxMessageBytes)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}
		var in domain.InboundEvent
		if err := json.Unmarshal(data, &in); err != nil || in.Name == "" {
			_ = c.Send(domain.ErrorEvent("invalid payload"))
			continue
		}
		handle(in)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case event := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(event); err != nil {
				c.logger.Debug("websocket write error", zap.String("user_id", c.userID), zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.flush()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// flush escribe lo que quedó en el buffer antes de cerrar.
func (c *wsClient) flush() {
	for {
		select {
		case event := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		default:
			return
		}
	}
}
