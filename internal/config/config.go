package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort    string `env:"HTTP_PORT" envDefault:"5000"`
	DatabaseURL string `env:"DATABASE_URL"`

	EncryptionKey       string `env:"ENCRYPTION_KEY,required,notEmpty"`
	EncryptionCipher    string `env:"ENCRYPTION_CIPHER" envDefault:"aes-256-gcm"`
	EncryptionStrictKey bool   `env:"ENCRYPTION_STRICT_KEY" envDefault:"false"`

	JWTSecret           string `env:"JWT_SECRET,required,notEmpty"`
	JWTAccessTTLMinutes int    `env:"JWT_ACCESS_TTL_MINUTES" envDefault:"60"`

	LLMAPIKey       string `env:"LLM_API_KEY"`
	LLMBaseURL      string `env:"LLM_BASE_URL" envDefault:"https://api.openai.com/v1"`
	LLMModel        string `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	LLMSystemPrompt string `env:"LLM_SYSTEM_PROMPT" envDefault:"You are a helpful assistant inside a private chat app. Answer briefly."`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	NatsURL    string `env:"NATS_URL"`
	NatsStream string `env:"NATS_STREAM" envDefault:"SECURECHAT_EVENTS"`

	SelfDestructSeconds   int `env:"SELF_DESTRUCT_SECONDS" envDefault:"30"`
	SendRateLimit         int `env:"SEND_RATE_LIMIT" envDefault:"30"`
	SendRateWindowSeconds int `env:"SEND_RATE_WINDOW_SECONDS" envDefault:"10"`
	PurgeIntervalSeconds  int `env:"PURGE_INTERVAL_SECONDS" envDefault:"60"`

	AssistantEmail string `env:"ASSISTANT_EMAIL" envDefault:"ai-assistant@securechat.ai"`
	AssistantName  string `env:"ASSISTANT_NAME" envDefault:"AI Assistant"`

	WSMaxMessageBytes int64 `env:"WS_MAX_MESSAGE_BYTES" envDefault:"65536"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SelfDestructAfter devuelve el tiempo de vida de los mensajes enviados por socket.
func (c *Config) SelfDestructAfter() time.Duration {
	if c.SelfDestructSeconds <= 0 {
		return 0
	}
	return time.Duration(c.SelfDestructSeconds) * time.Second
}

func (c *Config) SendRateWindow() time.Duration {
	return time.Duration(c.SendRateWindowSeconds) * time.Second
}

func (c *Config) PurgeInterval() time.Duration {
	return time.Duration(c.PurgeIntervalSeconds) * time.Second
}
