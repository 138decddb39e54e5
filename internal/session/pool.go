// Package session implements the gateway's exchange session pools: an
// ordered multiset of (session, last_acquire, min_interval) slots with FIFO
// round-robin acquisition and a per-session leaky-bucket rate limit.
package session

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// Session is one acquirable unit of exchange connectivity — a REST client
// bound to a specific local address (public pool) or API-key account
// (private pool).
type Session struct {
	HTTP       *resty.Client
	LocalAddr  string // bound source IP, empty for private/account sessions
	AccountTag string // API-key account identifier, empty for public sessions
}

type slot struct {
	session     *Session
	lastAcquire time.Time
	minInterval time.Duration
}

// Pool is a FIFO ordered multiset of session slots. Acquire dequeues the
// head, sleeps out any remaining min-interval, stamps last_acquire, and
// only then re-enqueues at the tail — giving each session a leaky-bucket
// rate of 1/min_interval while the overall pool rate is N/min_interval.
//
// The queue is a buffered channel: a slot stays out of the queue for the
// whole dequeue-sleep-stamp sequence, so a concurrent Acquire can never
// obtain the same slot and read its stale last_acquire mid-sleep. Callers
// that outnumber the slots block on the channel in arrival order.
type Pool struct {
	queue chan *slot

	mu     sync.Mutex
	closed bool
}

// NewPool creates a pool from the given sessions, each rate-limited to
// minInterval between acquisitions. Fresh slots carry a zero last_acquire
// so the first acquisition of each session is immediate.
func NewPool(sessions []*Session, minInterval time.Duration) *Pool {
	queue := make(chan *slot, len(sessions))
	for _, s := range sessions {
		queue <- &slot{session: s, minInterval: minInterval}
	}
	return &Pool{queue: queue}
}

// Acquire dequeues the head slot, sleeps out any remaining min-interval,
// stamps last_acquire, then re-enqueues the slot at the tail and returns
// its session. A caller canceled mid-sleep hands the slot back unstamped.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("session pool is closed")
	}
	p.mu.Unlock()

	if cap(p.queue) == 0 {
		return nil, fmt.Errorf("session pool is empty")
	}

	var head *slot
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case head = <-p.queue:
	}

	remaining := time.Until(head.lastAcquire.Add(head.minInterval))
	if remaining > 0 {
		select {
		case <-ctx.Done():
			p.queue <- head
			return nil, ctx.Err()
		case <-time.After(remaining):
		}
	}

	head.lastAcquire = time.Now()
	p.queue <- head
	return head.session, nil
}

// Close marks the pool closed; every later Acquire fails. The sessions'
// HTTP clients are not torn down, and in-flight Acquire calls holding a
// slot finish normally.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// NewPublicSession creates a session whose outbound HTTP connections bind to
// a specific local address, satisfied by a custom net.Dialer wired into
// resty's transport.
func NewPublicSession(localAddr, baseURL string, timeout time.Duration) (*Session, error) {
	dialer := &net.Dialer{Timeout: timeout}
	if localAddr != "" {
		tcpAddr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(localAddr, "0"))
		if err != nil {
			return nil, fmt.Errorf("resolve local address %s: %w", localAddr, err)
		}
		dialer.LocalAddr = tcpAddr
	}

	transport := &http.Transport{DialContext: dialer.DialContext}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetTransport(transport)

	return &Session{HTTP: client, LocalAddr: localAddr}, nil
}

// NewPrivateSession creates a session for one API-key account.
func NewPrivateSession(accountTag, baseURL string, timeout time.Duration) *Session {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)
	return &Session{HTTP: client, AccountTag: accountTag}
}
