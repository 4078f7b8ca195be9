package firewatch

import (
	"sync"
	"time"

	"github.com/Ratio-et-Ars/firewatch/interfaces"
	"github.com/Ratio-et-Ars/firewatch/internal"
)

// statusTracker maintains a synchronizer's SyncStatus and publishes deduplicated
// transitions on a notifier. Both synchronizer types share it.
type statusTracker struct {
	notifier *Notifier[interfaces.SyncStatus]
	lock     sync.Mutex
}

func newStatusTracker() *statusTracker {
	return &statusTracker{
		notifier: NewNotifier(interfaces.SyncStatus{
			State:      interfaces.SyncStateInitializing,
			StateSince: time.Now(),
		}),
	}
}

// update records a state transition and/or a new error. A call that changes neither the
// state nor the error publishes nothing.
func (t *statusTracker) update(newState interfaces.SyncState, newError interfaces.SyncErrorInfo) {
	if status, changed := t.maybeUpdate(newState, newError); changed {
		t.notifier.Set(status)
	}
}

func (t *statusTracker) maybeUpdate(
	newState interfaces.SyncState,
	newError interfaces.SyncErrorInfo,
) (interfaces.SyncStatus, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	oldStatus := t.notifier.Get()
	if newState == oldStatus.State && newError.Kind == "" {
		return interfaces.SyncStatus{}, false
	}

	stateSince := oldStatus.StateSince
	if newState != oldStatus.State {
		stateSince = time.Now()
	}
	lastError := oldStatus.LastError
	if newError.Kind != "" {
		lastError = newError
	}
	return interfaces.SyncStatus{
		State:      newState,
		StateSince: stateSince,
		LastError:  lastError,
	}, true
}

func (t *statusTracker) close() {
	t.notifier.Close()
}

// CommandTracker publishes the progress of a synchronizer's write operations. Each
// write broadcasts a pending status when it is issued and a succeeded or failed status
// when it completes; failed statuses carry the error message. Listener channels follow
// the usual AddListener/RemoveListener pattern.
type CommandTracker struct {
	broadcaster *internal.Broadcaster[interfaces.CommandStatus]
}

func newCommandTracker() *CommandTracker {
	return &CommandTracker{broadcaster: internal.NewBroadcaster[interfaces.CommandStatus]()}
}

// AddListener subscribes to command status notifications.
func (t *CommandTracker) AddListener() <-chan interfaces.CommandStatus {
	return t.broadcaster.AddListener()
}

// RemoveListener unsubscribes a channel previously returned by AddListener.
func (t *CommandTracker) RemoveListener(ch <-chan interfaces.CommandStatus) {
	t.broadcaster.RemoveListener(ch)
}

// begin broadcasts the pending status and returns the completion callback for the
// operation.
func (t *CommandTracker) begin(kind interfaces.CommandKind) func(error) {
	t.broadcaster.Broadcast(interfaces.CommandStatus{
		Kind:  kind,
		State: interfaces.CommandPending,
		Time:  time.Now(),
	})
	return func(err error) {
		t.finish(kind, err)
	}
}

// finish broadcasts a completion status without a preceding pending status. It is used
// directly for operations that fail before they can be issued.
func (t *CommandTracker) finish(kind interfaces.CommandKind, err error) {
	status := interfaces.CommandStatus{
		Kind:  kind,
		State: interfaces.CommandSucceeded,
		Time:  time.Now(),
	}
	if err != nil {
		status.State = interfaces.CommandFailed
		status.Message = err.Error()
	}
	t.broadcaster.Broadcast(status)
}

func (t *CommandTracker) close() {
	t.broadcaster.Close()
}
