package convsocket

import (
	"context"
	"iter"
	"sync"
)

// Stream is a pull-based subscription. Messages are buffered; a consumer that
// falls behind by more than the buffer ends the stream with ErrBufferFull
// rather than blocking the client.
type Stream struct {
	msgs chan *SocketMessage
	done chan struct{}

	mu          sync.Mutex
	err         error
	unsubscribe func()

	closeOnce sync.Once
}

const defaultStreamBuffer = 100

// Stream subscribes a new Stream to the client. buffer <= 0 uses a default.
// The stream ends with ErrDisconnected when the client is disconnected.
func (c *Client) Stream(buffer int) *Stream {
	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}
	s := &Stream{
		msgs: make(chan *SocketMessage, buffer),
		done: make(chan struct{}),
	}
	// Hold s.mu so an overflow racing the registration sees unsubscribe.
	s.mu.Lock()
	s.unsubscribe = c.subs.add(s.push, func() { s.finish(ErrDisconnected) })
	s.mu.Unlock()
	return s
}

// Next returns the next message. It returns nil and the stream's error once
// the stream has ended and its buffer is drained; the error is nil after Close.
func (s *Stream) Next(ctx context.Context) (*SocketMessage, error) {
	select {
	case msg := <-s.msgs:
		return msg, nil
	default:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-s.msgs:
		return msg, nil
	case <-s.done:
		// Drain anything that raced with the close.
		select {
		case msg := <-s.msgs:
			return msg, nil
		default:
		}
		return nil, s.Err()
	}
}

// Messages returns an iterator over the stream. A terminal error is yielded
// once as the last element.
func (s *Stream) Messages(ctx context.Context) iter.Seq2[*SocketMessage, error] {
	return func(yield func(*SocketMessage, error) bool) {
		for {
			msg, err := s.Next(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if msg == nil {
				return
			}
			if !yield(msg, nil) {
				return
			}
		}
	}
}

// Err returns why the stream ended, or nil.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close unsubscribes the stream. Buffered messages can still be read.
func (s *Stream) Close() {
	s.finish(nil)
	s.detach()
}

// push runs on the client's control loop and must not block.
func (s *Stream) push(msg *SocketMessage) {
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.msgs <- msg:
	default:
		s.finish(ErrBufferFull)
		s.detach()
	}
}

func (s *Stream) detach() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (s *Stream) finish(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}
