package internal

import (
	"sync"

	"golang.org/x/exp/slices"
)

// This file defines the channel-based publish-subscribe primitive that the rest of the
// library builds its observable state on.
//
// The pattern is: AddListener returns a new receive-only channel; RemoveListener
// unsubscribes that channel and closes its sending end; Broadcast sends a value to every
// subscribed channel; Close unsubscribes and closes all of them.

// ListenerChannelBufferLength is the buffer size for subscriber channels, so that
// Broadcast rarely blocks. Consumers are still expected to keep reading their channels.
const ListenerChannelBufferLength = 16

// Broadcaster is a generic fan-out of values to any number of listener channels.
type Broadcaster[V any] struct {
	listeners []channelPair[V]
	lock      sync.Mutex
}

// A subscriber is tracked as both ends of its channel: we send on sendCh, but the
// receive end is what the caller holds, and it is the only identity we can match
// against in RemoveListener (chan V and <-chan V never compare equal).
type channelPair[V any] struct {
	sendCh    chan<- V
	receiveCh <-chan V
}

// NewBroadcaster creates a Broadcaster for the specified value type.
func NewBroadcaster[V any]() *Broadcaster[V] {
	return &Broadcaster[V]{}
}

// AddListener subscribes a new listener and returns its receive channel.
func (b *Broadcaster[V]) AddListener() <-chan V {
	ch := make(chan V, ListenerChannelBufferLength)
	var receiveCh <-chan V = ch
	b.lock.Lock()
	defer b.lock.Unlock()
	b.listeners = append(b.listeners, channelPair[V]{sendCh: ch, receiveCh: receiveCh})
	return receiveCh
}

// RemoveListener unsubscribes a listener. The parameter is the channel that was
// returned by AddListener; its sending end is closed.
func (b *Broadcaster[V]) RemoveListener(ch <-chan V) {
	b.lock.Lock()
	defer b.lock.Unlock()
	ls := b.listeners
	for i, l := range ls {
		if l.receiveCh == ch {
			copy(ls[i:], ls[i+1:])
			ls[len(ls)-1] = channelPair[V]{}
			b.listeners = ls[:len(ls)-1]
			close(l.sendCh)
			break
		}
	}
}

// HasListeners returns true if there are any current subscribers.
func (b *Broadcaster[V]) HasListeners() bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	return len(b.listeners) > 0
}

// Broadcast sends a value to all current subscribers.
func (b *Broadcaster[V]) Broadcast(value V) {
	b.lock.Lock()
	ls := slices.Clone(b.listeners)
	b.lock.Unlock()
	for _, l := range ls {
		l.sendCh <- value
	}
}

// Close closes all current subscriber channels and discards them.
func (b *Broadcaster[V]) Close() {
	b.lock.Lock()
	defer b.lock.Unlock()
	for _, l := range b.listeners {
		close(l.sendCh)
	}
	b.listeners = nil
}
