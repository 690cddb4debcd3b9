// Package keys provides lazily created, purpose-bound symmetric keys backed by
// a protected key store. Raw key material never leaves this package; callers
// receive an opaque Key handle that yields cipher primitives.
package keys

import (
	"crypto/aes"
	"crypto/cipher"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// Key is an opaque handle to a stored AES-256 key.
type Key struct {
	alias    string
	material []byte
}

// Alias returns the key store alias the key was loaded from.
func (k *Key) Alias() string { return k.alias }

// Block returns a fresh AES block cipher for the key.
func (k *Key) Block() (cipher.Block, error) {
	return aes.NewCipher(k.material)
}

// AEAD returns a fresh AES-GCM instance with a 12-byte nonce and 16-byte tag.
func (k *Key) AEAD() (cipher.AEAD, error) {
	b, err := k.Block()
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(b)
}

// String never includes key material.
func (k *Key) String() string { return "Key(" + k.alias + ")" }

// GoString never includes key material.
func (k *Key) GoString() string { return k.String() }
