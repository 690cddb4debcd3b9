package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Stored material is prefixed with a format byte.
const (
	formatRaw     byte = 0x00
	formatWrapped byte = 0x01
)

const wrapInfoPrefix = "stash key wrap v1|"

// MinMasterKeySize is the shortest accepted master key.
const MinMasterKeySize = 32

var (
	errWrappedNoMaster = errors.New("stored key is wrapped but no master key is configured")
	errBadFormat       = errors.New("unrecognised stored key format")
)

// wrapper seals key material at rest under a key-encryption key derived per
// alias from a master key.
type wrapper struct {
	master []byte
}

func newWrapper(master []byte) (*wrapper, error) {
	if len(master) == 0 {
		return nil, nil
	}
	if len(master) < MinMasterKeySize {
		return nil, fmt.Errorf("master key must be at least %d bytes, got %d", MinMasterKeySize, len(master))
	}
	m := make([]byte, len(master))
	copy(m, master)
	return &wrapper{master: m}, nil
}

func (w *wrapper) aead(alias string) (cipher.AEAD, error) {
	kek := make([]byte, KeySize)
	r := hkdf.New(sha256.New, w.master, nil, []byte(wrapInfoPrefix+alias))
	if _, err := io.ReadFull(r, kek); err != nil {
		return nil, err
	}
	b, err := aes.NewCipher(kek)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(b)
}

// seal encodes material for storage. A nil wrapper stores it raw.
func (w *wrapper) seal(alias string, material []byte) ([]byte, error) {
	if w == nil {
		return append([]byte{formatRaw}, material...), nil
	}
	g, err := w.aead(alias)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 1+g.NonceSize(), 1+g.NonceSize()+len(material)+g.Overhead())
	out[0] = formatWrapped
	if _, err := rand.Read(out[1:]); err != nil {
		return nil, err
	}
	return g.Seal(out, out[1:1+g.NonceSize()], material, []byte(alias)), nil
}

// open decodes stored material. Raw entries are accepted with or without a
// master key; the Manager rewraps them when a master key is set.
func (w *wrapper) open(alias string, stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, errBadFormat
	}
	switch stored[0] {
	case formatRaw:
		return stored[1:], nil
	case formatWrapped:
		if w == nil {
			return nil, errWrappedNoMaster
		}
		g, err := w.aead(alias)
		if err != nil {
			return nil, err
		}
		body := stored[1:]
		if len(body) < g.NonceSize()+g.Overhead() {
			return nil, errBadFormat
		}
		return g.Open(nil, body[:g.NonceSize()], body[g.NonceSize():], []byte(alias))
	}
	return nil, errBadFormat
}
