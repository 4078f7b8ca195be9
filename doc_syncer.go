package firewatch

import (
	"context"
	"sync"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/Ratio-et-Ars/firewatch/interfaces"
)

// DocSyncer is the single-entity synchronizer: it mirrors one backend document,
// selected by the current identity, into an observable value.
//
// The synchronizer attaches as soon as it is constructed and re-attaches on every
// identity change, each time fully canceling the previous subscription before opening a
// new one, so at most one subscription is ever active. The mirrored value is nil
// whenever no identity is set or the remote document does not exist.
//
// All state transitions are performed by one internal goroutine; the exported
// observable surface (Value, Loading, Status, Commands) is safe for concurrent use.
type DocSyncer[R interfaces.Record] struct {
	backend interfaces.Backend
	config  DocSyncerConfig[R]

	value    *Notifier[*R]
	loading  *Notifier[bool]
	status   *statusTracker
	commands *CommandTracker

	identityCh <-chan ldvalue.OptionalString

	// The following fields are owned by the run goroutine.
	sub     interfaces.DocumentSubscription
	snapsCh <-chan interfaces.DocumentSnapshot
	errsCh  <-chan error
	lastRaw ldvalue.Value
	hasRaw  bool

	closeCh   chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewDocSyncer creates a DocSyncer and immediately attaches it for the identity
// source's current value.
func NewDocSyncer[R interfaces.Record](
	backend interfaces.Backend,
	config DocSyncerConfig[R],
) (*DocSyncer[R], error) {
	if backend == nil {
		return nil, errNilBackend
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	s := &DocSyncer[R]{
		backend:    backend,
		config:     config,
		value:      NewNotifier[*R](nil),
		loading:    NewNotifier(false),
		status:     newStatusTracker(),
		commands:   newCommandTracker(),
		identityCh: config.Identity.AddListener(),
		closeCh:    make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Value returns the observable current record. It holds nil when no identity is set or
// the remote document does not exist.
func (s *DocSyncer[R]) Value() *Notifier[*R] { return s.value }

// Loading returns the observable loading flag. It is true from the start of an attach
// until an authoritative (write-pendency-free) snapshot or terminal condition is
// observed.
func (s *DocSyncer[R]) Loading() *Notifier[bool] { return s.loading }

// Status returns the observable attachment status.
func (s *DocSyncer[R]) Status() *Notifier[interfaces.SyncStatus] { return s.status.notifier }

// Commands returns the tracker publishing the progress of this synchronizer's write
// operations.
func (s *DocSyncer[R]) Commands() *CommandTracker { return s.commands }

// Set writes the record to the resolved document with merge semantics. Like all write
// operations it requires a current identity, delegates directly to the backend, and
// never mutates the observable value; the effect arrives through the subscription.
func (s *DocSyncer[R]) Set(ctx context.Context, record R) error {
	return s.runCommand(interfaces.CommandSet, func(path string) error {
		return s.backend.SetDocument(ctx, path, s.config.Serialize(record), true)
	})
}

// Update writes the record's fields into the resolved document, failing if the document
// does not exist.
func (s *DocSyncer[R]) Update(ctx context.Context, record R) error {
	return s.runCommand(interfaces.CommandUpdate, func(path string) error {
		return s.backend.UpdateDocument(ctx, path, s.config.Serialize(record))
	})
}

// Patch writes a partial field map into the resolved document, failing if the document
// does not exist.
func (s *DocSyncer[R]) Patch(ctx context.Context, fields ldvalue.Value) error {
	return s.runCommand(interfaces.CommandPatch, func(path string) error {
		return s.backend.UpdateDocument(ctx, path, fields)
	})
}

// Delete removes the resolved document.
func (s *DocSyncer[R]) Delete(ctx context.Context) error {
	return s.runCommand(interfaces.CommandDelete, func(path string) error {
		return s.backend.DeleteDocument(ctx, path)
	})
}

// Close cancels any active subscription, detaches from the identity source, and closes
// all observable channels. It blocks until the synchronizer has fully stopped.
func (s *DocSyncer[R]) Close() error {
	s.closeOnce.Do(func() {
		close(s.closeCh)
	})
	<-s.doneCh
	return nil
}

func (s *DocSyncer[R]) runCommand(kind interfaces.CommandKind, op func(path string) error) error {
	if s.isClosed() {
		s.commands.finish(kind, ErrClosed)
		return ErrClosed
	}
	identity := s.config.Identity.Current()
	if !identity.IsDefined() {
		s.commands.finish(kind, ErrNotAuthenticated)
		return ErrNotAuthenticated
	}
	done := s.commands.begin(kind)
	err := op(s.config.Resolve(identity.StringValue()))
	done(err)
	return err
}

func (s *DocSyncer[R]) isClosed() bool {
	select {
	case <-s.closeCh:
		return true
	default:
		return false
	}
}

func (s *DocSyncer[R]) run() {
	defer close(s.doneCh)
	defer s.cleanup()

	s.attach(s.config.Identity.Current())
	for {
		select {
		case <-s.closeCh:
			return
		case identity, ok := <-s.identityCh:
			if !ok {
				return
			}
			// Coalesce a burst of identity changes into one attach for the latest.
			identity = latestValue(identity, s.identityCh)
			s.attach(identity)
		case snap, ok := <-s.snapsCh:
			if !ok {
				s.snapsCh = nil
				continue
			}
			s.handleSnapshot(snap)
		case err, ok := <-s.errsCh:
			if !ok {
				s.errsCh = nil
				continue
			}
			s.handleStreamError(err)
		}
	}
}

// attach tears down the current subscription and re-resolves for the given identity.
// It runs only on the run goroutine.
func (s *DocSyncer[R]) attach(identity ldvalue.OptionalString) {
	s.loading.Set(true)
	s.detach()
	s.hasRaw = false

	if !identity.IsDefined() {
		s.publishAbsent()
		s.loading.Set(false)
		s.status.update(interfaces.SyncStateQuiescent, interfaces.SyncErrorInfo{})
		return
	}

	path := s.config.Resolve(identity.StringValue())
	s.config.Loggers.Debugf("attaching to document %q", path)
	s.probeCache(identity, path)

	if s.config.Mode == Live {
		sub, err := s.backend.WatchDocument(path, interfaces.WatchOptions{IncludeMetadata: true})
		if err != nil {
			s.handleAttachError(err)
			return
		}
		s.sub = sub
		s.snapsCh = sub.Snapshots()
		s.errsCh = sub.Errors()
		return
	}

	snap, err := s.backend.GetDocument(context.Background(), path)
	if s.config.Identity.Current() != identity {
		// Superseded while the fetch was in flight; the queued identity trigger will
		// re-attach, so this result must not be published.
		return
	}
	if err != nil {
		s.config.Loggers.Warnf("one-shot read of %q failed: %s", path, err)
		s.status.update(interfaces.SyncStateInterrupted, interfaces.SyncErrorInfo{
			Kind:    interfaces.SyncErrorKindNetwork,
			Message: err.Error(),
			Time:    time.Now(),
		})
	} else if snap.Exists {
		s.publishSnapshot(snap)
		s.status.update(interfaces.SyncStateActive, interfaces.SyncErrorInfo{})
	} else {
		s.publishAbsent()
		s.status.update(interfaces.SyncStateActive, interfaces.SyncErrorInfo{})
	}
	s.loading.Set(false)
}

// probeCache attempts a cache-only read so that a possibly-stale value is visible
// immediately. A miss or failure is absorbed; it only skips the pre-publish.
func (s *DocSyncer[R]) probeCache(identity ldvalue.OptionalString, path string) {
	snap, err := s.backend.GetDocumentCached(context.Background(), path)
	if err != nil || !snap.Exists {
		return
	}
	if s.config.Identity.Current() != identity {
		return
	}
	if s.publishSnapshot(snap) {
		s.loading.Set(false)
	}
}

func (s *DocSyncer[R]) handleSnapshot(snap interfaces.DocumentSnapshot) {
	if !snap.Exists {
		if snap.HasPendingWrites {
			// A transient absence with a local write still in flight must not stomp the
			// current value; the acknowledged snapshot follows.
			return
		}
		// Non-existence with no pending writes is authoritative.
		s.hasRaw = false
		s.publishAbsent()
		s.loading.Set(false)
		s.status.update(interfaces.SyncStateActive, interfaces.SyncErrorInfo{})
		return
	}

	if s.hasRaw && snap.Fields.Equal(s.lastRaw) {
		// Unchanged data; skip the redundant notification but still let an
		// acknowledged snapshot settle the loading flag.
		if !snap.HasPendingWrites {
			s.loading.Set(false)
			s.status.update(interfaces.SyncStateActive, interfaces.SyncErrorInfo{})
		}
		return
	}

	if !s.publishSnapshot(snap) {
		if !snap.HasPendingWrites {
			s.loading.Set(false)
		}
		return
	}
	if !snap.HasPendingWrites {
		s.loading.Set(false)
		s.status.update(interfaces.SyncStateActive, interfaces.SyncErrorInfo{})
	}
}

// publishSnapshot materializes and publishes an existing document's snapshot,
// remembering its raw fields for the redundancy check. It returns false if
// materialization failed, in which case the previously published state is untouched.
func (s *DocSyncer[R]) publishSnapshot(snap interfaces.DocumentSnapshot) bool {
	record, err := s.config.Materialize(snap.ID, snap.Fields)
	if err != nil {
		s.config.Loggers.Errorf("failed to materialize document %q: %s", snap.ID, err)
		s.status.update(interfaces.SyncStateInterrupted, interfaces.SyncErrorInfo{
			Kind:    interfaces.SyncErrorKindMaterialization,
			Message: err.Error(),
			Time:    time.Now(),
		})
		return false
	}
	s.lastRaw = snap.Fields
	s.hasRaw = true
	s.value.Set(&record)
	return true
}

func (s *DocSyncer[R]) publishAbsent() {
	if s.value.Get() != nil {
		s.value.Set(nil)
	}
}

func (s *DocSyncer[R]) handleAttachError(err error) {
	s.config.Loggers.Warnf("could not open document subscription: %s", err)
	s.loading.Set(false)
	s.status.update(interfaces.SyncStateInterrupted, interfaces.SyncErrorInfo{
		Kind:    interfaces.SyncErrorKindNetwork,
		Message: err.Error(),
		Time:    time.Now(),
	})
}

func (s *DocSyncer[R]) handleStreamError(err error) {
	s.config.Loggers.Warnf("document subscription reported an error: %s", err)
	s.loading.Set(false)
	s.status.update(interfaces.SyncStateInterrupted, interfaces.SyncErrorInfo{
		Kind:    interfaces.SyncErrorKindStream,
		Message: err.Error(),
		Time:    time.Now(),
	})
}

func (s *DocSyncer[R]) detach() {
	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
		s.snapsCh = nil
		s.errsCh = nil
	}
}

func (s *DocSyncer[R]) cleanup() {
	s.detach()
	s.config.Identity.RemoveListener(s.identityCh)
	s.status.update(interfaces.SyncStateQuiescent, interfaces.SyncErrorInfo{})
	s.value.Close()
	s.loading.Close()
	s.status.close()
	s.commands.close()
}
