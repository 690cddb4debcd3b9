package crypto

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/stash/internal/domain"
	"github.com/haukened/stash/internal/keys"
)

func newTestKeys(t *testing.T) *keys.Manager {
	t.Helper()
	m, err := keys.NewManager(keys.NewMemoryStore(), keys.Config{})
	require.NoError(t, err)
	return m
}

type failingKeys struct{ err error }

func (f failingKeys) GetOrCreate(context.Context, domain.KeyPurpose) (*keys.Key, error) {
	return nil, f.err
}

// trackingCloser records Close on a reader.
type trackingCloser struct {
	io.Reader
	closed bool
}

func (t *trackingCloser) Close() error { t.closed = true; return nil }

func TestStreamRoundTrip(t *testing.T) {
	sc := NewStreamCipher(newTestKeys(t), StreamConfig{PipeBuffer: 4096})
	ctx := context.Background()

	for _, size := range []int{0, 1, 4095, 4096, 4097, 1 << 20} {
		plain := make([]byte, size)
		_, _ = rand.Read(plain)

		enc, err := sc.Encrypt(ctx, bytes.NewReader(plain))
		require.NoError(t, err)
		sealed, err := io.ReadAll(enc)
		require.NoError(t, err)
		require.NoError(t, enc.Close())
		assert.Len(t, sealed, IVSize+size+TagSize)

		src := &trackingCloser{Reader: bytes.NewReader(sealed)}
		dec, err := sc.Decrypt(ctx, src)
		require.NoError(t, err)
		got, err := io.ReadAll(dec)
		require.NoError(t, err)
		assert.Equal(t, plain, got)
		require.NoError(t, dec.Close())
		assert.True(t, src.closed)
	}
}

func TestStreamMatchesTextEnvelope(t *testing.T) {
	km := newTestKeys(t)
	sc := NewStreamCipher(km, StreamConfig{})
	enc, err := sc.Encrypt(context.Background(), strings.NewReader("same format"))
	require.NoError(t, err)
	sealed, err := io.ReadAll(enc)
	require.NoError(t, err)

	// the stream envelope opens with a one-shot AEAD under the FILE key
	k, err := km.GetOrCreate(context.Background(), domain.PurposeFile)
	require.NoError(t, err)
	aead, err := k.AEAD()
	require.NoError(t, err)
	plain, err := aead.Open(nil, sealed[:IVSize], sealed[IVSize:], nil)
	require.NoError(t, err)
	assert.Equal(t, "same format", string(plain))
}

func TestStreamFreshIVPerCall(t *testing.T) {
	sc := NewStreamCipher(newTestKeys(t), StreamConfig{})
	var ivs [][]byte
	for i := 0; i < 2; i++ {
		enc, err := sc.Encrypt(context.Background(), strings.NewReader("x"))
		require.NoError(t, err)
		b, err := io.ReadAll(enc)
		require.NoError(t, err)
		ivs = append(ivs, b[:IVSize])
	}
	assert.NotEqual(t, ivs[0], ivs[1])
}

func TestStreamDecryptShortInput(t *testing.T) {
	sc := NewStreamCipher(newTestKeys(t), StreamConfig{})
	src := &trackingCloser{Reader: bytes.NewReader([]byte{1, 2, 3})}
	_, err := sc.Decrypt(context.Background(), src)
	assert.ErrorIs(t, err, domain.ErrMalformed)
	assert.True(t, src.closed)
}

func TestStreamDecryptTampered(t *testing.T) {
	sc := NewStreamCipher(newTestKeys(t), StreamConfig{})
	enc, err := sc.Encrypt(context.Background(), strings.NewReader("do not touch"))
	require.NoError(t, err)
	sealed, err := io.ReadAll(enc)
	require.NoError(t, err)
	sealed[IVSize+2] ^= 0xff

	dec, err := sc.Decrypt(context.Background(), io.NopCloser(bytes.NewReader(sealed)))
	require.NoError(t, err)
	_, err = io.ReadAll(dec)
	assert.ErrorIs(t, err, domain.ErrAuthentication)
}

func TestStreamSourceErrorReachesConsumer(t *testing.T) {
	sc := NewStreamCipher(newTestKeys(t), StreamConfig{})
	boom := errors.New("source failed")
	enc, err := sc.Encrypt(context.Background(), io.MultiReader(strings.NewReader("partial"), errReader{boom}))
	require.NoError(t, err)
	_, err = io.ReadAll(enc)
	assert.ErrorIs(t, err, boom)
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

func TestStreamCancellation(t *testing.T) {
	sc := NewStreamCipher(newTestKeys(t), StreamConfig{PipeBuffer: 4096})
	ctx, cancel := context.WithCancel(context.Background())
	// an endless source only stops through cancellation
	enc, err := sc.Encrypt(ctx, zeroReader{})
	require.NoError(t, err)
	buf := make([]byte, 1024)
	_, err = io.ReadFull(enc, buf)
	require.NoError(t, err)
	cancel()
	_, err = io.Copy(io.Discard, enc)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStreamCancelWithoutReadingStopsProducers(t *testing.T) {
	sc := NewStreamCipher(newTestKeys(t), StreamConfig{PipeBuffer: 4096})
	// warm the key cache so only producers are left running
	warm, err := sc.Encrypt(context.Background(), strings.NewReader(""))
	require.NoError(t, err)
	_, err = io.ReadAll(warm)
	require.NoError(t, err)
	baseline := runtime.NumGoroutine()

	ctx, cancel := context.WithCancel(context.Background())
	sources := make([]*countingReader, 50)
	for i := range sources {
		sources[i] = &countingReader{}
		_, err := sc.Encrypt(ctx, sources[i])
		require.NoError(t, err)
	}
	// every producer fills its buffer and blocks on the unread pipe
	require.Eventually(t, func() bool {
		for _, src := range sources {
			if src.reads.Load() == 0 {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= baseline+1
	}, 5*time.Second, 10*time.Millisecond)
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) { clear(p); return len(p), nil }

func TestStreamConsumerCloseStopsProducer(t *testing.T) {
	sc := NewStreamCipher(newTestKeys(t), StreamConfig{PipeBuffer: 4096})
	src := &countingReader{}
	enc, err := sc.Encrypt(context.Background(), src)
	require.NoError(t, err)
	_, err = io.ReadFull(enc, make([]byte, 100))
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	// once the producer notices the closed pipe it stops reading the source
	require.Eventually(t, func() bool {
		before := src.reads.Load()
		time.Sleep(20 * time.Millisecond)
		return src.reads.Load() == before
	}, 5*time.Second, 10*time.Millisecond)
}

// countingReader is an endless zero source that counts reads.
type countingReader struct{ reads atomic.Int64 }

func (c *countingReader) Read(p []byte) (int, error) {
	c.reads.Add(1)
	clear(p)
	return len(p), nil
}

func TestStreamKeyFailure(t *testing.T) {
	sc := NewStreamCipher(failingKeys{err: domain.ErrKeyStore}, StreamConfig{})
	_, err := sc.Encrypt(context.Background(), strings.NewReader("x"))
	assert.ErrorIs(t, err, domain.ErrKeyStore)

	src := &trackingCloser{Reader: bytes.NewReader(make([]byte, 64))}
	_, err = sc.Decrypt(context.Background(), src)
	assert.ErrorIs(t, err, domain.ErrKeyStore)
	assert.True(t, src.closed)
}
