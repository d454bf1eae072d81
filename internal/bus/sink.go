package bus

import (
	"context"
	"errors"
	"sync"
)

// ErrSinkClosed is returned by Push after the consumer closed the sink.
var ErrSinkClosed = errors.New("bus: stream sink closed")

// defaultSinkBuffer bounds how far a producer may run ahead of a slow consumer.
const defaultSinkBuffer = 64

// StreamSink carries incremental reply chunks from the agent back to the
// publisher of an inbound message. The buffer is bounded, so a stalled
// consumer applies backpressure to the producer instead of growing memory.
type StreamSink struct {
	ch        chan StreamChunk
	closed    chan struct{}
	closeOnce sync.Once
}

// NewStreamSink returns a sink buffering up to size chunks.
// size <= 0 selects the default.
func NewStreamSink(size int) *StreamSink {
	if size <= 0 {
		size = defaultSinkBuffer
	}
	return &StreamSink{
		ch:     make(chan StreamChunk, size),
		closed: make(chan struct{}),
	}
}

// Push delivers one chunk to the consumer. It blocks while the buffer is
// full and fails once the sink is closed or ctx is done.
func (s *StreamSink) Push(ctx context.Context, chunk StreamChunk) error {
	select {
	case <-s.closed:
		return ErrSinkClosed
	default:
	}
	select {
	case s.ch <- chunk:
		return nil
	case <-s.closed:
		return ErrSinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// C returns the consumer side of the sink.
func (s *StreamSink) C() <-chan StreamChunk {
	return s.ch
}

// Done is closed when the sink has been closed.
func (s *StreamSink) Done() <-chan struct{} {
	return s.closed
}

// Close wakes any blocked producer. The consumer calls it when it stops
// reading, such as on timeout or client disconnect. Safe to call more
// than once.
func (s *StreamSink) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}
