package crypto

import (
	"bufio"
	"io"
)

// DefaultPipeBuffer is the producer-side buffer used when none is configured.
const DefaultPipeBuffer = 64 * 1024

// pipe couples an io.Pipe with a fixed-size write buffer. The producer blocks
// once the buffer is full and the consumer has not drained the pipe, so memory
// stays bounded regardless of payload size.
type pipe struct {
	r  *io.PipeReader
	w  *io.PipeWriter
	bw *bufio.Writer
}

func newPipe(size int) *pipe {
	if size <= 0 {
		size = DefaultPipeBuffer
	}
	r, w := io.Pipe()
	return &pipe{r: r, w: w, bw: bufio.NewWriterSize(w, size)}
}

func (p *pipe) Write(b []byte) (int, error) { return p.bw.Write(b) }

// finish flushes buffered output when err is nil and closes the write side.
// The consumer sees io.EOF on success and err otherwise.
func (p *pipe) finish(err error) {
	if err == nil {
		err = p.bw.Flush()
	}
	_ = p.w.CloseWithError(err)
}

// abort closes the write side with err without touching the buffer. A
// producer blocked in Write returns, and the consumer sees err. Safe to call
// concurrently with Write; the first close wins.
func (p *pipe) abort(err error) {
	_ = p.w.CloseWithError(err)
}

// readCloser pairs a reader with the closer of its upstream source.
type readCloser struct {
	io.Reader
	close func() error
}

func (rc *readCloser) Close() error { return rc.close() }
