package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"securechat/internal/clock"
)

// Un contador por remitente y bloque de ventana; el TTL sólo limpia la clave.
const redisSendAllowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`

const redisSendTimeout = 500 * time.Millisecond

// redisSendRateLimiter comparte el contador de envíos entre réplicas.
// La ventana es fija y se alinea al reloj, así todas las instancias cuentan sobre la misma clave.
type redisSendRateLimiter struct {
	log    *zap.Logger
	client redisEvaler
	clock  clock.Clock
	window time.Duration
	max    int
	prefix string
}

type redisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// NewRedisSendRateLimiter devuelve nil sin cliente para que el llamador caiga al limitador en memoria.
// max no positivo desactiva el límite igual que en memoria.
func NewRedisSendRateLimiter(log *zap.Logger, client *redis.Client, clk clock.Clock, window time.Duration, max int) SendRateLimiter {
	if client == nil {
		return nil
	}
	if max <= 0 {
		return unlimited{}
	}
	return newRedisSendRateLimiter(log, client, clk, window, max)
}

func newRedisSendRateLimiter(log *zap.Logger, client redisEvaler, clk clock.Clock, window time.Duration, max int) *redisSendRateLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if window < time.Millisecond {
		window = time.Minute
	}
	return &redisSendRateLimiter{
		log:    log,
		client: client,
		clock:  clk,
		window: window,
		max:    max,
		prefix: "securechat:send:",
	}
}

func (l *redisSendRateLimiter) Allow(senderID string) bool {
	if l == nil || l.client == nil {
		return true
	}
	senderID = strings.TrimSpace(senderID)
	if senderID == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisSendTimeout)
	defer cancel()

	count, err := l.client.Eval(ctx, redisSendAllowScript, []string{l.key(senderID)}, l.window.Milliseconds()).Int()
	if err != nil {
		// Redis caído no bloquea el chat.
		l.log.Warn("send rate limiter unavailable, allowing", zap.String("sender_id", senderID), zap.Error(err))
		return true
	}
	return count <= l.max
}

func (l *redisSendRateLimiter) key(senderID string) string {
	bucket := l.clock.Now().UnixMilli() / l.window.Milliseconds()
	return l.prefix + senderID + ":" + strconv.FormatInt(bucket, 10)
}
