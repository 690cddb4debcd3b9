package crypto

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/haukened/stash/internal/domain"
	"github.com/haukened/stash/internal/iopool"
	"github.com/haukened/stash/internal/keys"
)

// KeySource resolves purpose-bound keys.
type KeySource interface {
	GetOrCreate(ctx context.Context, purpose domain.KeyPurpose) (*keys.Key, error)
}

// StreamConfig parameterises a StreamCipher.
type StreamConfig struct {
	// PipeBuffer bounds the bytes buffered between producer and consumer.
	PipeBuffer int
	Logger     *slog.Logger
}

// StreamCipher encrypts and decrypts byte streams with the FILE key.
type StreamCipher struct {
	keys    KeySource
	pipeBuf int
	log     *slog.Logger
}

// NewStreamCipher returns a StreamCipher using ks for key material.
func NewStreamCipher(ks KeySource, cfg StreamConfig) *StreamCipher {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &StreamCipher{keys: ks, pipeBuf: cfg.PipeBuffer, log: log.With("domain", "crypto")}
}

// Encrypt returns a stream yielding IV || ciphertext || tag for everything
// read from plain. The returned reader is available immediately; encryption
// runs concurrently as it is consumed. Failures of plain, of the cipher or
// cancellation of ctx surface as the error of a subsequent Read. Closing the
// returned reader stops the producer. Encrypt does not close plain.
func (s *StreamCipher) Encrypt(ctx context.Context, plain io.Reader) (io.ReadCloser, error) {
	key, err := s.keys.GetOrCreate(ctx, domain.PurposeFile)
	if err != nil {
		return nil, err
	}
	block, err := key.Block()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyStore, err)
	}
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}

	p := newPipe(s.pipeBuf)
	stop := context.AfterFunc(ctx, func() { p.abort(ctx.Err()) })
	go func() {
		defer stop()
		err := func() error {
			if _, err := p.Write(iv); err != nil {
				return err
			}
			sw := newSealer(block, iv, p)
			if _, err := io.Copy(sw, iopool.ContextReader(ctx, plain)); err != nil {
				return err
			}
			return sw.Close()
		}()
		if err != nil && !errors.Is(err, io.ErrClosedPipe) {
			s.log.Debug("encrypt stream aborted", "err", err)
		}
		p.finish(err)
	}()
	return p.r, nil
}

// Decrypt reads the IV from src and returns a stream of the authenticated
// plaintext. The tag is verified when src is exhausted; a mismatch surfaces as
// ErrAuthentication from Read in place of io.EOF. Closing the returned reader
// closes src. A src shorter than the IV fails with ErrMalformed and is closed.
func (s *StreamCipher) Decrypt(ctx context.Context, src io.ReadCloser) (io.ReadCloser, error) {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(src, iv); err != nil {
		_ = src.Close()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: stream shorter than iv", domain.ErrMalformed)
		}
		return nil, err
	}
	key, err := s.keys.GetOrCreate(ctx, domain.PurposeFile)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	block, err := key.Block()
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyStore, err)
	}
	return &readCloser{
		Reader: newOpener(block, iv, iopool.ContextReader(ctx, src)),
		close:  src.Close,
	}, nil
}
