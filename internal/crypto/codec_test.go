package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"testing"
)

func testKey() []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestCodec_RoundTripAllCiphers(t *testing.T) {
	for _, name := range []string{CipherAESGCM, CipherChaCha20Poly1305} {
		t.Run(name, func(t *testing.T) {
			codec, err := New(name, testKey())
			if err != nil {
				t.Fatalf("new codec: %v", err)
			}
			for _, plaintext := range []string{"hello", "", "ñandú 🔐", string(bytes.Repeat([]byte("x"), 4096))} {
				encoded, err := codec.EncryptString(plaintext)
				if err != nil {
					t.Fatalf("encrypt: %v", err)
				}
				got, err := codec.DecryptString(encoded)
				if err != nil {
					t.Fatalf("decrypt: %v", err)
				}
				if got != plaintext {
					t.Fatalf("roundtrip mismatch: got %q want %q", got, plaintext)
				}
			}
		})
	}
}

func TestCodec_NonceIsFreshPerCall(t *testing.T) {
	codec, err := New(CipherAESGCM, testKey())
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		blob, err := codec.Encrypt([]byte("same plaintext"))
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		if seen[string(blob)] {
			t.Fatalf("identical ciphertext produced twice")
		}
		seen[string(blob)] = true
		nonce := string(blob[:NonceSize])
		if seen["nonce:"+nonce] {
			t.Fatalf("nonce reused")
		}
		seen["nonce:"+nonce] = true
	}
}

func TestCodec_BlobLayoutIsNonceCiphertextTag(t *testing.T) {
	key := testKey()
	codec, err := New(CipherAESGCM, key)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	plaintext := []byte("layout check")
	blob, err := codec.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if len(blob) != NonceSize+len(plaintext)+TagSize {
		t.Fatalf("unexpected blob length %d", len(blob))
	}

	block, _ := aes.NewCipher(key)
	gcm, _ := cipher.NewGCM(block)
	out, err := gcm.Open(nil, blob[:NonceSize], blob[NonceSize:], nil)
	if err != nil {
		t.Fatalf("stdlib gcm could not open blob: %v", err)
	}
	if !bytes.Equal(out, plaintext) {
		t.Fatalf("unexpected plaintext %q", out)
	}
}

func TestCodec_DecryptRejectsTamperedOrMalformed(t *testing.T) {
	codec, err := New(CipherChaCha20Poly1305, testKey())
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	blob, err := codec.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	tampered := append([]byte(nil), blob...)
	tampered[len(tampered)-1] ^= 0xff

	cases := map[string][]byte{
		"tampered tag": tampered,
		"too short":    blob[:NonceSize+TagSize-1],
		"empty":        nil,
	}
	for name, input := range cases {
		if _, err := codec.Decrypt(input); !errors.Is(err, ErrAuthenticationFailure) {
			t.Fatalf("%s: expected ErrAuthenticationFailure, got %v", name, err)
		}
	}

	if _, err := codec.DecryptString("%%% not base64"); !errors.Is(err, ErrAuthenticationFailure) {
		t.Fatalf("expected ErrAuthenticationFailure for bad base64, got %v", err)
	}
}

func TestCodec_WrongKeyFails(t *testing.T) {
	a, _ := New(CipherAESGCM, testKey())
	other := testKey()
	other[0] ^= 1
	b, _ := New(CipherAESGCM, other)

	encoded, err := a.EncryptString("hello")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := b.DecryptString(encoded); !errors.Is(err, ErrAuthenticationFailure) {
		t.Fatalf("expected ErrAuthenticationFailure, got %v", err)
	}
}

func TestCodec_RejectsBadConstruction(t *testing.T) {
	if _, err := New(CipherAESGCM, []byte("short")); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := New("rot13", testKey()); !errors.Is(err, ErrUnsupportedCipher) {
		t.Fatalf("expected ErrUnsupportedCipher, got %v", err)
	}
	codec, err := New("", testKey())
	if err != nil || codec.Cipher() != CipherAESGCM {
		t.Fatalf("expected default aes-256-gcm, got %v %v", codec, err)
	}
}

func TestCodec_RejectsOversizedPlaintext(t *testing.T) {
	codec, _ := New(CipherAESGCM, testKey())
	if _, err := codec.Encrypt(make([]byte, MaxPlaintextSize+1)); !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestNormalizeKey(t *testing.T) {
	exact := base64.StdEncoding.EncodeToString(testKey())
	key, normalized, err := NormalizeKey(exact, true)
	if err != nil || normalized || !bytes.Equal(key, testKey()) {
		t.Fatalf("exact key: got %v normalized=%v err=%v", key, normalized, err)
	}

	short := base64.StdEncoding.EncodeToString([]byte("short-key"))
	key, normalized, err = NormalizeKey(short, false)
	if err != nil || !normalized || len(key) != KeySize {
		t.Fatalf("short key: got len=%d normalized=%v err=%v", len(key), normalized, err)
	}
	if !bytes.Equal(key[:9], []byte("short-key")) || !bytes.Equal(key[9:], make([]byte, KeySize-9)) {
		t.Fatalf("expected zero padding, got %v", key)
	}

	long := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 48))
	key, normalized, err = NormalizeKey(long, false)
	if err != nil || !normalized || !bytes.Equal(key, bytes.Repeat([]byte{7}, KeySize)) {
		t.Fatalf("long key: got %v normalized=%v err=%v", key, normalized, err)
	}

	again, _, _ := NormalizeKey(long, false)
	if !bytes.Equal(key, again) {
		t.Fatalf("normalization must be deterministic")
	}

	if _, _, err := NormalizeKey(short, true); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("strict short key: expected ErrInvalidKey, got %v", err)
	}
	if _, _, err := NormalizeKey("not base64 !!", true); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("strict bad base64: expected ErrInvalidKey, got %v", err)
	}
	if _, _, err := NormalizeKey("   ", false); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("empty key: expected ErrInvalidKey, got %v", err)
	}
}

func TestNewFromConfig_LenientKeyStillRoundTrips(t *testing.T) {
	codec, err := NewFromConfig(nil, "c2hvcnQ=", CipherAESGCM, false)
	if err != nil {
		t.Fatalf("new from config: %v", err)
	}
	encoded, err := codec.EncryptString("hello")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	other, _ := NewFromConfig(nil, "c2hvcnQ=", CipherAESGCM, false)
	if got, err := other.DecryptString(encoded); err != nil || got != "hello" {
		t.Fatalf("expected consistent derived key, got %q %v", got, err)
	}
}
