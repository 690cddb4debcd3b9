// Package crypto implements the authenticated envelope used for both text and
// file payloads: AES-256-GCM with a random 12-byte IV prepended to the
// ciphertext and a 16-byte tag appended. The stream variant produces output
// identical to a one-shot GCM seal without buffering the payload.
package crypto

import (
	"crypto/cipher"
	"crypto/subtle"
	"fmt"
	"io"

	"github.com/haukened/stash/internal/domain"
)

// Envelope constants.
const (
	IVSize  = 12
	TagSize = 16
)

// MaxPlaintext is the GCM limit for a single message, (2^32 - 2) blocks.
const MaxPlaintext = (1<<32 - 2) * 16

const chunkSize = 32 * 1024

type gcmState struct {
	ctr  cipher.Stream
	gh   *ghash
	mask [16]byte
}

func newGCMState(block cipher.Block, iv []byte) *gcmState {
	var h [16]byte
	block.Encrypt(h[:], h[:])

	var j0 [16]byte
	copy(j0[:], iv)
	j0[15] = 1
	st := &gcmState{gh: newGHASH(h[:])}
	block.Encrypt(st.mask[:], j0[:])

	// inc32(J0); MaxPlaintext keeps the low word from wrapping, so the full
	// width counter of cipher.NewCTR matches GCM.
	j0[15] = 2
	st.ctr = cipher.NewCTR(block, j0[:])
	return st
}

func (st *gcmState) tag() [16]byte {
	t := st.gh.sum()
	subtle.XORBytes(t[:], t[:], st.mask[:])
	return t
}

// sealer encrypts everything written to it and writes ciphertext to dst.
// Close appends the tag; it does not close dst.
type sealer struct {
	dst io.Writer
	st  *gcmState
	buf []byte
}

func newSealer(block cipher.Block, iv []byte, dst io.Writer) *sealer {
	return &sealer{dst: dst, st: newGCMState(block, iv)}
}

func (s *sealer) Write(p []byte) (int, error) {
	if s.st.gh.total+uint64(len(p)) > MaxPlaintext {
		return 0, domain.ErrTooLarge
	}
	written := 0
	for len(p) > 0 {
		n := min(len(p), chunkSize)
		if cap(s.buf) < n {
			s.buf = make([]byte, chunkSize)
		}
		out := s.buf[:n]
		s.st.ctr.XORKeyStream(out, p[:n])
		s.st.gh.write(out)
		if _, err := s.dst.Write(out); err != nil {
			return written, err
		}
		written += n
		p = p[n:]
	}
	return written, nil
}

func (s *sealer) Close() error {
	t := s.st.tag()
	_, err := s.dst.Write(t[:])
	return err
}

// opener decrypts ciphertext||tag read from src. The final TagSize bytes are
// held back until src reports EOF and then verified; plaintext already
// returned is unauthenticated until Read reports io.EOF.
type opener struct {
	src     io.Reader
	st      *gcmState
	chunk   []byte
	pending []byte
	plain   []byte
	out     []byte
	err     error
}

func newOpener(block cipher.Block, iv []byte, src io.Reader) *opener {
	return &opener{
		src:   src,
		st:    newGCMState(block, iv),
		chunk: make([]byte, chunkSize),
	}
}

func (o *opener) Read(p []byte) (int, error) {
	for len(o.out) == 0 {
		if o.err != nil {
			return 0, o.err
		}
		o.fill()
	}
	n := copy(p, o.out)
	o.out = o.out[n:]
	return n, nil
}

func (o *opener) fill() {
	n, err := o.src.Read(o.chunk)
	o.pending = append(o.pending, o.chunk[:n]...)
	if ready := len(o.pending) - TagSize; ready > 0 {
		if o.st.gh.total+uint64(ready) > MaxPlaintext {
			o.err = domain.ErrTooLarge
			return
		}
		ct := o.pending[:ready]
		o.st.gh.write(ct)
		if cap(o.plain) < ready {
			o.plain = make([]byte, ready)
		}
		o.plain = o.plain[:ready]
		o.st.ctr.XORKeyStream(o.plain, ct)
		o.out = o.plain
		o.pending = append(o.pending[:0], o.pending[ready:]...)
	}
	switch {
	case err == io.EOF:
		o.err = o.verify()
	case err != nil:
		o.err = err
	}
}

func (o *opener) verify() error {
	if len(o.pending) < TagSize {
		return fmt.Errorf("%w: ciphertext shorter than tag", domain.ErrAuthentication)
	}
	t := o.st.tag()
	if subtle.ConstantTimeCompare(t[:], o.pending) != 1 {
		o.out = nil
		return fmt.Errorf("%w: tag mismatch", domain.ErrAuthentication)
	}
	return io.EOF
}
