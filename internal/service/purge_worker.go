package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"securechat/internal/clock"
	"securechat/internal/repository"
)

// PurgeWorker elimina periódicamente los mensajes vencidos que ningún
// temporizador borró (p. ej. tras un reinicio del proceso).
type PurgeWorker struct {
	logger   *zap.Logger
	messages repository.MessageRepository
	clock    clock.Clock
	interval time.Duration
}

func NewPurgeWorker(logger *zap.Logger, messages repository.MessageRepository, clk clock.Clock, interval time.Duration) *PurgeWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &PurgeWorker{logger: logger, messages: messages, clock: clk, interval: interval}
}

// RunOnce borra las filas vencidas al instante actual del reloj.
func (w *PurgeWorker) RunOnce(ctx context.Context) (int64, error) {
	n, err := w.messages.PurgeExpired(ctx, w.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.logger.Info("expired messages purged", zap.Int64("count", n))
	}
	return n, nil
}

// Run bloquea hasta que ctx se cancela. Un intervalo no positivo desactiva el worker.
func (w *PurgeWorker) Run(ctx context.Context) {
	if w == nil || w.messages == nil || w.interval <= 0 {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("purge expired messages failed", zap.Error(err))
			}
		}
	}
}
