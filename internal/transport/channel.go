package transport

import (
	"context"
	"sync"

	"gate/internal/errs"
)

// ChannelSubscriber is a Subscriber backed by a buffered Go channel, the
// concrete stand-in for the external pub/sub bus's inbound stream. Poll
// drains whatever is currently buffered without blocking, matching the
// non-blocking poll contract of the real bus.
type ChannelSubscriber struct {
	ch     chan Fragment
	mu     sync.Mutex
	closed bool
}

// NewChannelSubscriber creates a subscriber with the given buffer depth.
func NewChannelSubscriber(buffer int) *ChannelSubscriber {
	return &ChannelSubscriber{ch: make(chan Fragment, buffer)}
}

// Publish enqueues one fragment for the next Poll to pick up. Used by tests
// and by any process feeding commands into this gateway over the same
// binary (no real wire hop).
func (s *ChannelSubscriber) Publish(frag Fragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.ErrNotConnected
	}
	select {
	case s.ch <- frag:
		return nil
	default:
		return errs.ErrAdminAction
	}
}

// Poll drains every fragment currently buffered without blocking.
func (s *ChannelSubscriber) Poll(ctx context.Context) ([]Fragment, error) {
	var out []Fragment
	for {
		select {
		case frag := <-s.ch:
			out = append(out, frag)
		default:
			return out, nil
		}
	}
}

func (s *ChannelSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.ch)
	return nil
}

// ChannelPublisher is a rawPublisher backed by a buffered Go channel — the
// concrete stand-in for one bus destination. A full channel surfaces
// errs.ErrAdminAction (retried by the caller); a closed publisher surfaces
// errs.ErrNotConnected (swallowed by the caller).
type ChannelPublisher struct {
	ch     chan []byte
	mu     sync.Mutex
	closed bool
}

// NewChannelPublisher creates a publisher with the given buffer depth.
func NewChannelPublisher(buffer int) *ChannelPublisher {
	return &ChannelPublisher{ch: make(chan []byte, buffer)}
}

func (p *ChannelPublisher) Offer(ctx context.Context, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errs.ErrNotConnected
	}
	select {
	case p.ch <- payload:
		return nil
	default:
		return errs.ErrAdminAction
	}
}

// Drain returns every payload currently buffered, for tests to assert on
// what was offered.
func (p *ChannelPublisher) Drain() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out [][]byte
	for {
		select {
		case payload := <-p.ch:
			out = append(out, payload)
		default:
			return out
		}
	}
}

func (p *ChannelPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.ch)
	return nil
}
