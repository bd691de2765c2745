// Package hub fans ledger messages out to every live session of a principal.
//
// All registry state is owned by the goroutine running Run; callers talk to
// it over channels.
package hub

import (
	"context"
	"errors"

	"spesesync/internal/protocol"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 16

// ErrStopped is returned once Run has returned.
var ErrStopped = errors.New("hub: stopped")

// Subscription is one session's view of a principal's broadcasts. C is
// closed when the subscriber is removed, either by Unsubscribe or because it
// fell behind.
type Subscription struct {
	Principal string
	C         <-chan protocol.Inbound

	id uint64
	ch chan protocol.Inbound
}

type request struct {
	subscribe   *subscribeReq
	unsubscribe *Subscription
	broadcast   *broadcastReq
}

type subscribeReq struct {
	principal string
	reply     chan *Subscription
}

type broadcastReq struct {
	principal string
	msg       protocol.Inbound
}

// Hub is a per-principal broadcast registry.
type Hub struct {
	requests chan request
	done     chan struct{}
	buffer   int
	onDrop   func(principal string)
}

// Option configures a Hub.
type Option func(*Hub)

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithDropHook is called from the owner goroutine whenever a lagging
// subscriber is removed.
func WithDropHook(fn func(principal string)) Option {
	return func(h *Hub) { h.onDrop = fn }
}

func New(opts ...Option) *Hub {
	h := &Hub{
		requests: make(chan request),
		done:     make(chan struct{}),
		buffer:   DefaultBuffer,
		onDrop:   func(string) {},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run owns the registry until ctx is cancelled. On return every open
// subscription is closed.
func (h *Hub) Run(ctx context.Context) {
	subs := make(map[string]map[uint64]*Subscription)
	var nextID uint64

	defer func() {
		close(h.done)
		for _, group := range subs {
			for _, s := range group {
				close(s.ch)
			}
		}
	}()

	remove := func(s *Subscription) {
		group, ok := subs[s.Principal]
		if !ok {
			return
		}
		if _, ok := group[s.id]; !ok {
			return
		}
		delete(group, s.id)
		close(s.ch)
		if len(group) == 0 {
			delete(subs, s.Principal)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-h.requests:
			switch {
			case req.subscribe != nil:
				nextID++
				ch := make(chan protocol.Inbound, h.buffer)
				s := &Subscription{Principal: req.subscribe.principal, C: ch, id: nextID, ch: ch}
				if subs[s.Principal] == nil {
					subs[s.Principal] = make(map[uint64]*Subscription)
				}
				subs[s.Principal][s.id] = s
				req.subscribe.reply <- s

			case req.unsubscribe != nil:
				remove(req.unsubscribe)

			case req.broadcast != nil:
				for _, s := range subs[req.broadcast.principal] {
					select {
					case s.ch <- req.broadcast.msg:
					default:
						h.onDrop(s.Principal)
						remove(s)
					}
				}
			}
		}
	}
}

func (h *Hub) send(ctx context.Context, req request) error {
	select {
	case h.requests <- req:
		return nil
	case <-h.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a new subscriber for principal.
func (h *Hub) Subscribe(ctx context.Context, principal string) (*Subscription, error) {
	reply := make(chan *Subscription, 1)
	if err := h.send(ctx, request{subscribe: &subscribeReq{principal: principal, reply: reply}}); err != nil {
		return nil, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-h.done:
		return nil, ErrStopped
	}
}

// Unsubscribe removes s. Removing an already removed subscription is a no-op.
func (h *Hub) Unsubscribe(ctx context.Context, s *Subscription) error {
	return h.send(ctx, request{unsubscribe: s})
}

// Broadcast queues msg for every subscriber of principal. Subscribers whose
// queue is full are dropped instead of blocking the others.
func (h *Hub) Broadcast(ctx context.Context, principal string, msg protocol.Inbound) error {
	return h.send(ctx, request{broadcast: &broadcastReq{principal: principal, msg: msg}})
}
