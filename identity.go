package firewatch

import (
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/Ratio-et-Ars/firewatch/internal"
)

// IdentityHolder is the standard implementation of interfaces.IdentitySource: a
// mutable, observable slot for the current principal identifier. The application layer
// that owns authentication writes it; synchronizers only read it.
type IdentityHolder struct {
	notifier *Notifier[ldvalue.OptionalString]
}

// NewIdentityHolder creates an IdentityHolder with no identity set.
func NewIdentityHolder() *IdentityHolder {
	return &IdentityHolder{notifier: NewNotifier(ldvalue.OptionalString{})}
}

// SetIdentity sets the current identity. Setting the identity that is already current
// is a no-op and notifies no one.
func (h *IdentityHolder) SetIdentity(id string) {
	h.set(ldvalue.NewOptionalString(id))
}

// ClearIdentity removes the current identity, returning the holder to the
// unauthenticated state.
func (h *IdentityHolder) ClearIdentity() {
	h.set(ldvalue.OptionalString{})
}

func (h *IdentityHolder) set(id ldvalue.OptionalString) {
	if h.notifier.Get() == id {
		return
	}
	h.notifier.Set(id)
}

// Current is a standard method of interfaces.IdentitySource.
func (h *IdentityHolder) Current() ldvalue.OptionalString {
	return h.notifier.Get()
}

// AddListener is a standard method of interfaces.IdentitySource.
func (h *IdentityHolder) AddListener() <-chan ldvalue.OptionalString {
	return h.notifier.AddListener()
}

// RemoveListener is a standard method of interfaces.IdentitySource.
func (h *IdentityHolder) RemoveListener(ch <-chan ldvalue.OptionalString) {
	h.notifier.RemoveListener(ch)
}

// Close closes all listener channels.
func (h *IdentityHolder) Close() {
	h.notifier.Close()
}

// Trigger is the standard implementation of interfaces.DependencySource: a manual
// trigger with no payload. Firing it invalidates any collection synchronizer that lists
// it as a dependency, causing a full re-attach.
type Trigger struct {
	broadcaster *internal.Broadcaster[struct{}]
}

// NewTrigger creates a Trigger.
func NewTrigger() *Trigger {
	return &Trigger{broadcaster: internal.NewBroadcaster[struct{}]()}
}

// Fire notifies all listeners.
func (t *Trigger) Fire() {
	t.broadcaster.Broadcast(struct{}{})
}

// AddListener is a standard method of interfaces.DependencySource.
func (t *Trigger) AddListener() <-chan struct{} {
	return t.broadcaster.AddListener()
}

// RemoveListener is a standard method of interfaces.DependencySource.
func (t *Trigger) RemoveListener(ch <-chan struct{}) {
	t.broadcaster.RemoveListener(ch)
}

// Close closes all listener channels.
func (t *Trigger) Close() {
	t.broadcaster.Close()
}
