package firewatch

import (
	"sync"

	"github.com/Ratio-et-Ars/firewatch/internal"
)

// Notifier is an observable value holder: a current value plus change notifications.
//
// Get returns the current value; Set replaces it and synchronously broadcasts the new
// value to all listeners. Listener channels follow the same pattern as elsewhere in
// this module: AddListener returns a new receive-only channel, RemoveListener
// unsubscribes and closes it, and Close closes every listener channel. The channels are
// buffered, but a listener that stops reading will eventually block publishers, so
// consumers should keep draining or unsubscribe.
//
// Synchronizers own their notifiers and are the only writers; external consumers
// should treat a Notifier obtained from a synchronizer as read-only.
type Notifier[V any] struct {
	broadcaster *internal.Broadcaster[V]
	value       V
	lock        sync.RWMutex
}

// NewNotifier creates a Notifier holding the given initial value. Creating the notifier
// does not broadcast the initial value; only later Set calls notify listeners.
func NewNotifier[V any](initial V) *Notifier[V] {
	return &Notifier[V]{
		broadcaster: internal.NewBroadcaster[V](),
		value:       initial,
	}
}

// Get returns the current value.
func (n *Notifier[V]) Get() V {
	n.lock.RLock()
	defer n.lock.RUnlock()
	return n.value
}

// Set replaces the current value and broadcasts it to all listeners. Every call
// broadcasts, including calls that set an equal value; deduplication is the publisher's
// concern.
func (n *Notifier[V]) Set(value V) {
	n.lock.Lock()
	n.value = value
	n.lock.Unlock()
	n.broadcaster.Broadcast(value)
}

// AddListener subscribes to changes and returns the listener's receive channel. The
// current value is not replayed; only subsequent Set calls are delivered.
func (n *Notifier[V]) AddListener() <-chan V {
	return n.broadcaster.AddListener()
}

// RemoveListener unsubscribes a channel previously returned by AddListener and closes
// it.
func (n *Notifier[V]) RemoveListener(ch <-chan V) {
	n.broadcaster.RemoveListener(ch)
}

// Close closes all listener channels. The current value remains readable with Get.
func (n *Notifier[V]) Close() {
	n.broadcaster.Close()
}
