package service

import (
	"go.uber.org/zap"

	"securechat/internal/crypto"
	"securechat/internal/domain"
)

const decryptErrorMessage = "unable to decrypt message"

// decryptPayload nunca falla: un blob corrupto se marca en el payload para no
// tumbar la lectura de una lista completa.
func decryptPayload(logger *zap.Logger, codec *crypto.Codec, msg domain.Message) domain.MessagePayload {
	if !msg.IsEncrypted {
		return domain.NewMessagePayload(msg, msg.Content)
	}
	plaintext, err := codec.DecryptString(msg.Content)
	if err != nil {
		logger.Warn("message decryption failed",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		payload := domain.NewMessagePayload(msg, "")
		payload.DecryptError = decryptErrorMessage
		return payload
	}
	return domain.NewMessagePayload(msg, plaintext)
}

func decryptPayloads(logger *zap.Logger, codec *crypto.Codec, messages []domain.Message) []domain.MessagePayload {
	out := make([]domain.MessagePayload, 0, len(messages))
	for _, msg := range messages {
		out = append(out, decryptPayload(logger, codec, msg))
	}
	return out
}
