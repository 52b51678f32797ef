package streams

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/ruteri/mpc-helper/interfaces"
)

// DefaultChunkSize is the read size used when adapting readers to streams.
const DefaultChunkSize = 32 * 1024

var ErrStreamClosed = errors.New("stream closed")

type sliceStream struct {
	mu     sync.Mutex
	chunks [][]byte
	closed bool
}

// FromBytes returns a stream yielding each chunk in order.
func FromBytes(chunks ...[]byte) interfaces.BodyStream {
	return &sliceStream{chunks: chunks}
}

// Empty returns a stream with no chunks.
func Empty() interfaces.BodyStream {
	return FromBytes()
}

func (s *sliceStream) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStreamClosed
	}
	if len(s.chunks) == 0 {
		return nil, io.EOF
	}
	chunk := s.chunks[0]
	s.chunks = s.chunks[1:]
	return chunk, nil
}

func (s *sliceStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.chunks = nil
	return nil
}

type channelStream struct {
	ch        <-chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

// FromChannel returns a stream fed by ch. The stream ends when ch is closed.
func FromChannel(ch <-chan []byte) interfaces.BodyStream {
	return &channelStream{ch: ch, closed: make(chan struct{})}
}

func (s *channelStream) Next(ctx context.Context) ([]byte, error) {
	select {
	case chunk, ok := <-s.ch:
		if !ok {
			return nil, io.EOF
		}
		return chunk, nil
	case <-s.closed:
		return nil, ErrStreamClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *channelStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

type readerStream struct {
	r         io.ReadCloser
	chunkSize int

	mu  sync.Mutex
	eof bool
}

// FromReader returns a stream reading chunks of at most chunkSize bytes from r.
// Closing the stream closes r, which unblocks a pending read.
func FromReader(r io.ReadCloser, chunkSize int) interfaces.BodyStream {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &readerStream{r: r, chunkSize: chunkSize}
}

func (s *readerStream) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eof {
		return nil, io.EOF
	}

	buf := make([]byte, s.chunkSize)
	for {
		n, err := s.r.Read(buf)
		if n > 0 {
			if errors.Is(err, io.EOF) {
				s.eof = true
			}
			return buf[:n], nil
		}
		if errors.Is(err, io.EOF) {
			s.eof = true
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
	}
}

func (s *readerStream) Close() error {
	return s.r.Close()
}

// ReadAll drains s and closes it.
func ReadAll(ctx context.Context, s interfaces.BodyStream) ([]byte, error) {
	defer s.Close()

	var buf bytes.Buffer
	for {
		chunk, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
		buf.Write(chunk)
	}
}

// Reader adapts a stream to io.ReadCloser, for use as an HTTP request body.
type Reader struct {
	ctx    context.Context
	stream interfaces.BodyStream
	buf    []byte
}

func NewReader(ctx context.Context, s interfaces.BodyStream) *Reader {
	return &Reader{ctx: ctx, stream: s}
}

func (r *Reader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		chunk, err := r.stream.Next(r.ctx)
		if err != nil {
			return 0, err
		}
		r.buf = chunk
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *Reader) Close() error {
	return r.stream.Close()
}

// Tracked reports when the consumer of a stream is done with it.
type Tracked struct {
	inner interfaces.BodyStream

	once sync.Once
	done chan struct{}
	err  error
}

// Track wraps s. Done is closed when the stream reaches io.EOF, fails, or is
// closed before reaching the end; Err reports which.
func Track(s interfaces.BodyStream) *Tracked {
	return &Tracked{inner: s, done: make(chan struct{})}
}

func (t *Tracked) finish(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

func (t *Tracked) Next(ctx context.Context) ([]byte, error) {
	chunk, err := t.inner.Next(ctx)
	switch {
	case errors.Is(err, io.EOF):
		t.finish(nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// the consumer may retry with another context
	case err != nil:
		t.finish(err)
	}
	return chunk, err
}

func (t *Tracked) Close() error {
	err := t.inner.Close()
	t.finish(ErrStreamClosed)
	return err
}

func (t *Tracked) Done() <-chan struct{} { return t.done }

// Err is nil if the stream was read to the end. Only valid after Done is closed.
func (t *Tracked) Err() error {
	<-t.done
	return t.err
}
