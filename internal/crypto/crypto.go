// Package crypto encrypts per-business secrets at rest.
//
// Storage format: base64(iv[12 bytes] + ciphertext). The IV is random per
// encryption, so the same plaintext never produces the same ciphertext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/smallbiznis/einvois/internal/config"
	"go.uber.org/fx"
)

const ivLength = 12

var (
	ErrInvalidKey        = errors.New("invalid_encryption_key")
	ErrInvalidCiphertext = errors.New("invalid_ciphertext")
)

var Module = fx.Module("crypto",
	fx.Provide(NewCipher),
)

// Cipher performs AES-256-GCM encryption with a fixed key.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from the hex-encoded 32-byte key in config.
func NewCipher(cfg config.Config) (*Cipher, error) {
	return NewCipherFromHexKey(cfg.EncryptionKey)
}

func NewCipherFromHexKey(hexKey string) (*Cipher, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: want 32 bytes, got %d", ErrInvalidKey, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &Cipher{aead: aead}, nil
}

func (c *Cipher) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, ivLength)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	sealed := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	combined := append(iv, sealed...)
	return base64.StdEncoding.EncodeToString(combined), nil
}

func (c *Cipher) Decrypt(encoded string) (string, error) {
	combined, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	if len(combined) < ivLength {
		return "", ErrInvalidCiphertext
	}

	iv := combined[:ivLength]
	plaintext, err := c.aead.Open(nil, iv, combined[ivLength:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return string(plaintext), nil
}
