/**
 * @description
 * This package implements the field codec: authenticated symmetric encryption for
 * the sensitive account columns (PII and balance). Every encrypted value is a
 * fresh 96-bit nonce plus AES-256-GCM ciphertext with its 128-bit tag, persisted
 * as `base64(nonce) + ":" + base64(ciphertext||tag)`.
 *
 * @dependencies
 * - crypto/aes, crypto/cipher, crypto/rand: Standard Go AEAD primitives.
 * - github.com/shopspring/decimal: Exact decimal amounts routed through the codec.
 *
 * @notes
 * - Decryption fails closed: a malformed value, bad base64, or a tag mismatch
 *   returns an error wrapping ErrDecryptFailed and never partial plaintext. A
 *   decryption failure can mean tampering or a wrong key and must surface.
 */

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// KeySize is the required key length in bytes (AES-256).
	KeySize = 32

	nonceSize = 12
	separator = ":"
)

// ErrDecryptFailed wraps every decryption failure: format, decoding, or tag
// authentication. Callers must treat it as fatal, not as absent data.
var ErrDecryptFailed = errors.New("field decryption failed")

// Codec encrypts and decrypts individual string and decimal fields under one
// process-wide static key. It is safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec builds a Codec from a raw 32-byte key.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("aes key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Codec{aead: aead}, nil
}

// NewCodecFromBase64 builds a Codec from a base64-encoded key, the form the key
// arrives in from configuration.
func NewCodecFromBase64(keyB64 string) (*Codec, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(keyB64))
	if err != nil {
		return nil, fmt.Errorf("aes key is not valid base64: %w", err)
	}
	return NewCodec(key)
}

// EncryptField encrypts one plaintext field. Nil passes through so optional
// columns stay null. Each call draws a fresh random nonce; two encryptions of
// the same plaintext never serialize identically.
func (c *Codec) EncryptField(plaintext *string) (*string, error) {
	if plaintext == nil {
		return nil, nil
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce generation failed: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(*plaintext), nil)
	out := base64.StdEncoding.EncodeToString(nonce) + separator + base64.StdEncoding.EncodeToString(sealed)
	return &out, nil
}

// DecryptField reverses EncryptField. Nil passes through.
func (c *Codec) DecryptField(stored *string) (*string, error) {
	if stored == nil {
		return nil, nil
	}

	parts := strings.SplitN(*stored, separator, 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: missing nonce separator", ErrDecryptFailed)
	}

	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: bad nonce encoding: %v", ErrDecryptFailed, err)
	}
	if len(nonce) != nonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes, got %d", ErrDecryptFailed, nonceSize, len(nonce))
	}

	sealed, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: bad ciphertext encoding: %v", ErrDecryptFailed, err)
	}

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}

	out := string(plaintext)
	return &out, nil
}

// EncryptAmount serializes a decimal through the string codec, preserving its
// exact representation (scale included).
func (c *Codec) EncryptAmount(amount decimal.Decimal) (string, error) {
	plain := amount.String()
	enc, err := c.EncryptField(&plain)
	if err != nil {
		return "", err
	}
	return *enc, nil
}

// DecryptAmount reverses EncryptAmount.
func (c *Codec) DecryptAmount(stored string) (decimal.Decimal, error) {
	plain, err := c.DecryptField(&stored)
	if err != nil {
		return decimal.Decimal{}, err
	}
	amount, err := decimal.NewFromString(*plain)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: stored amount is not a decimal: %v", ErrDecryptFailed, err)
	}
	return amount, nil
}
