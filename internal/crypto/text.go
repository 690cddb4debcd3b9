package crypto

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"

	"github.com/haukened/stash/internal/domain"
)

// TextCipher encrypts short strings with the TEXT key into base64 envelopes.
type TextCipher struct {
	keys KeySource
}

// NewTextCipher returns a TextCipher using ks for key material.
func NewTextCipher(ks KeySource) *TextCipher {
	return &TextCipher{keys: ks}
}

// Encrypt seals the UTF-8 bytes of plaintext and returns the standard,
// padded base64 encoding of IV || ciphertext || tag. Every call uses a fresh
// random IV.
func (c *TextCipher) Encrypt(ctx context.Context, plaintext string) (string, error) {
	key, err := c.keys.GetOrCreate(ctx, domain.PurposeText)
	if err != nil {
		return "", err
	}
	aead, err := key.AEAD()
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrKeyStore, err)
	}
	out := make([]byte, IVSize, IVSize+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return "", err
	}
	out = aead.Seal(out, out[:IVSize], []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Line breaks and other whitespace inside encoded
// are ignored. Input that is not base64 or is shorter than the IV fails with
// ErrMalformed; a tag mismatch fails with ErrAuthentication.
func (c *TextCipher) Decrypt(ctx context.Context, encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(stripSpace(encoded))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrMalformed, err)
	}
	if len(raw) < IVSize {
		return "", fmt.Errorf("%w: %d bytes is shorter than iv", domain.ErrMalformed, len(raw))
	}
	key, err := c.keys.GetOrCreate(ctx, domain.PurposeText)
	if err != nil {
		return "", err
	}
	aead, err := key.AEAD()
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrKeyStore, err)
	}
	plain, err := aead.Open(nil, raw[:IVSize], raw[IVSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrAuthentication, err)
	}
	return string(plain), nil
}

func stripSpace(s string) string {
	if strings.IndexFunc(s, unicode.IsSpace) < 0 {
		return s
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
