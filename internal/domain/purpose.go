// Package domain purpose.go enumerates key usage purposes.
package domain

import "fmt"

// KeyPurpose isolates keys by usage so text secrets and file payloads never
// share a key.
type KeyPurpose uint8

// Key purposes.
const (
	// PurposeText keys encrypt short in-memory strings.
	PurposeText KeyPurpose = iota + 1
	// PurposeFile keys encrypt file streams.
	PurposeFile
)

// Alias returns the stable key store alias for the purpose.
func (p KeyPurpose) Alias() (string, error) {
	switch p {
	case PurposeText:
		return "text_key", nil
	case PurposeFile:
		return "file_key", nil
	}
	return "", fmt.Errorf("%w: %d", ErrUnknownPurpose, uint8(p))
}

// String returns the upper-case purpose name.
func (p KeyPurpose) String() string {
	switch p {
	case PurposeText:
		return "TEXT"
	case PurposeFile:
		return "FILE"
	}
	return fmt.Sprintf("PURPOSE(%d)", uint8(p))
}
