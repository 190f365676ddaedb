// Package crypto cifra y descifra el contenido de los mensajes en reposo.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16

	// MaxPlaintextSize limita el tamaño de un mensaje (1MB).
	MaxPlaintextSize = 1024 * 1024
)

const (
	CipherAESGCM           = "aes-256-gcm"
	CipherChaCha20Poly1305 = "chacha20-poly1305"
)

var (
	ErrAuthenticationFailure = errors.New("ciphertext authentication failed")
	ErrInvalidKey            = errors.New("invalid encryption key")
	ErrUnsupportedCipher     = errors.New("unsupported cipher")
	ErrMessageTooLarge       = errors.New("message too large")
)

// Codec implementa cifrado autenticado con un secreto compartido de proceso.
// El blob producido es nonce || ciphertext || tag.
type Codec struct {
	aead   cipher.AEAD
	cipher string
}

// New construye un Codec para el algoritmo indicado con una clave de 32 bytes.
func New(cipherName string, key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}
	name := strings.ToLower(strings.TrimSpace(cipherName))
	if name == "" {
		name = CipherAESGCM
	}

	var (
		aead cipher.AEAD
		err  error
	)
	switch name {
	case CipherAESGCM:
		block, blockErr := aes.NewCipher(key)
		if blockErr != nil {
			return nil, fmt.Errorf("aes cipher: %w", blockErr)
		}
		aead, err = cipher.NewGCM(block)
	case CipherChaCha20Poly1305:
		aead, err = chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCipher, cipherName)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s: %w", name, err)
	}
	return &Codec{aead: aead, cipher: name}, nil
}

// NewFromConfig normaliza el material de clave configurado y construye el Codec.
// En modo estricto una clave que no decodifica a 32 bytes es un error de arranque.
func NewFromConfig(logger *zap.Logger, keyMaterial, cipherName string, strict bool) (*Codec, error) {
	key, normalized, err := NormalizeKey(keyMaterial, strict)
	if err != nil {
		return nil, err
	}
	if normalized && logger != nil {
		logger.Warn("encryption key is not 32 bytes; using truncated/zero-padded key",
			zap.String("cipher", cipherName))
	}
	return New(cipherName, key)
}

// NormalizeKey decodifica la clave en base64. Si no mide 32 bytes la trunca o
// rellena con ceros, salvo en modo estricto. normalized indica si hubo ajuste.
func NormalizeKey(material string, strict bool) (key []byte, normalized bool, err error) {
	material = strings.TrimSpace(material)
	if material == "" {
		return nil, false, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}

	decoded, decodeErr := decodeBase64(material)
	if decodeErr != nil {
		if strict {
			return nil, false, fmt.Errorf("%w: %v", ErrInvalidKey, decodeErr)
		}
		decoded = []byte(material)
	}
	if len(decoded) == KeySize {
		return decoded, false, nil
	}
	if strict {
		return nil, false, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKey, KeySize, len(decoded))
	}

	key = make([]byte, KeySize)
	copy(key, decoded)
	return key, true, nil
}

func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// Cipher devuelve el nombre del algoritmo activo.
func (c *Codec) Cipher() string {
	return c.cipher
}

// Encrypt cifra plaintext con un nonce aleatorio nuevo en cada llamada.
func (c *Codec) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) > MaxPlaintextSize {
		return nil, ErrMessageTooLarge
	}
	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt valida el tag y devuelve el texto plano.
func (c *Codec) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) < NonceSize+TagSize {
		return nil, ErrAuthenticationFailure
	}
	plaintext, err := c.aead.Open(nil, blob[:NonceSize], blob[NonceSize:], nil)
	if err != nil {
		return nil, ErrAuthenticationFailure
	}
	return plaintext, nil
}

// EncryptString cifra texto y devuelve el blob en base64, el formato persistido.
func (c *Codec) EncryptString(plaintext string) (string, error) {
	blob, err := c.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(blob), nil
}

// DecryptString descifra un blob en base64. Un base64 inválido cuenta como blob malformado.
func (c *Codec) DecryptString(encoded string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrAuthenticationFailure
	}
	plaintext, err := c.Decrypt(blob)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
