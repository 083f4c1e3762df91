// Package bytestream implements the suspend-on-backpressure byte broadcaster
// shared by the PTY Supervisor and the SSH Shell client: both fan one
// ordered byte stream out to any number of subscribers (the Event Gateway's
// terminal websockets), and both have no replay source behind them, so a
// full subscriber buffer must suspend the publisher rather than drop bytes.
// This is the opposite tradeoff from the approval channel's subscriber
// queues, which drop-on-full because the approval slot table is
// authoritative and backs correctness on its own.
//
// Suspending the publisher must never mean suspending the whole Broadcast:
// one subscriber stuck behind a dead websocket (write side gone, read side
// parked in a blocking read with no deadline) must not hold up delivery to
// any other subscriber, must not block Subscribe/unsubscribe, and must be
// force-unblockable by CloseAll so the PTY/SSH reader goroutine feeding
// Publish is guaranteed to return within a bounded shutdown.
package bytestream

import "sync"

// Broadcast fans a sequence of byte chunks out to any number of
// subscribers, preserving arrival order per subscriber.
type Broadcast struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

const subscriberBuffer = 256

// subscriber owns the public channel handed back by Subscribe. Its pump
// goroutine is the sole writer to out, so it is also the only goroutine
// allowed to close it — that ownership is what makes closing out race-free
// without Broadcast holding a lock across any blocking send.
type subscriber struct {
	out  chan []byte
	in   chan []byte
	stop chan struct{}
}

func newSubscriber() *subscriber {
	s := &subscriber{
		out:  make(chan []byte, subscriberBuffer),
		in:   make(chan []byte, subscriberBuffer),
		stop: make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		select {
		case chunk := <-s.in:
			select {
			case s.out <- chunk:
			case <-s.stop:
				return
			}
		case <-s.stop:
			return
		}
	}
}

// New creates an empty Broadcast.
func New() *Broadcast {
	return &Broadcast{subs: make(map[*subscriber]struct{})}
}

// Subscribe returns a channel of chunks and an unsubscribe function. A
// Broadcast that has already been closed hands back an already-closed
// channel.
func (b *Broadcast) Subscribe() (<-chan []byte, func()) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		ch := make(chan []byte)
		close(ch)
		return ch, func() {}
	}
	sub := newSubscriber()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		_, ok := b.subs[sub]
		delete(b.subs, sub)
		b.mu.Unlock()
		if ok {
			close(sub.stop)
		}
	}
	return sub.out, unsubscribe
}

// Publish delivers chunk to every current subscriber. The broadcast lock is
// only ever held to snapshot the subscriber list, never across a send: each
// subscriber is handed the chunk by its own goroutine, so a subscriber whose
// buffer is full only ever suspends that one handoff, not delivery to its
// siblings. Publish itself still blocks until every subscriber has accepted
// the chunk (or unsubscribed) — that is the "suspend the publisher on a
// full subscriber buffer" contract, now scoped per subscriber instead of
// held as one global lock.
func (b *Broadcast) Publish(chunk []byte) {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(len(subs))
	for _, s := range subs {
		go func(s *subscriber) {
			defer wg.Done()
			select {
			case s.in <- chunk:
			case <-s.stop:
			}
		}(s)
	}
	wg.Wait()
}

// CloseAll closes every current subscriber channel and marks the Broadcast
// closed; further Subscribe calls get an already-closed channel. Closing
// stop unblocks any pump (and any in-flight Publish handoff) immediately,
// which is what bounds PTY/SSH shutdown even if a subscriber never reads.
func (b *Broadcast) CloseAll() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*subscriber]struct{})
	b.mu.Unlock()

	for s := range subs {
		close(s.stop)
	}
}
