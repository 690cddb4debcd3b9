// Package domain errors.go contains sentinel errors
package domain

import "errors"

// Key management errors are configuration failures and are never retried.
var (
	// ErrKeyStore indicates the protected key store could not be opened, read
	// or written, or that key generation failed.
	ErrKeyStore = errors.New("key store unavailable")

	// ErrUnknownPurpose indicates a key purpose outside the enumerated set.
	ErrUnknownPurpose = errors.New("unknown key purpose")
)

// Cryptographic errors. ErrAuthentication and ErrMalformed are kept distinct so
// callers can tell tampering apart from input that was never an envelope.
var (
	// ErrAuthentication indicates a GCM tag mismatch: tampered ciphertext,
	// wrong key, or corrupted data.
	ErrAuthentication = errors.New("message authentication failed")

	// ErrMalformed indicates input that cannot be an envelope at all, such as
	// a truncated IV header or invalid base64.
	ErrMalformed = errors.New("malformed envelope")

	// ErrTooLarge indicates a stream exceeding the GCM plaintext limit.
	ErrTooLarge = errors.New("payload exceeds gcm limit")
)

// Storage errors.
var (
	// ErrNotFound indicates the named file does not exist at the location.
	ErrNotFound = errors.New("file not found")

	// ErrPolicyViolation indicates encryption of a public location was
	// attempted without explicit opt-in.
	ErrPolicyViolation = errors.New("encryption of public files is disabled")

	// ErrInvalidName indicates a file name or sub-directory that would escape
	// its location root.
	ErrInvalidName = errors.New("invalid file name")

	// ErrNotPlainText indicates appendText on a file without a plain-text extension.
	ErrNotPlainText = errors.New("file is not a plain text file")

	// ErrUnsupportedLocation indicates a location the selected backend cannot serve.
	ErrUnsupportedLocation = errors.New("unsupported storage location")
)
