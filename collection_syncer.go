package firewatch

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/Ratio-et-Ars/firewatch/interfaces"
	"github.com/Ratio-et-Ars/firewatch/internal"
)

// CollectionSyncer is the collection synchronizer: it mirrors an ordered query result,
// bounded by a live window that grows page by page, into an observable list.
//
// The query is derived from the current identity (via the configured resolver), an
// optional query modifier, and the current window limit. Identity changes, dependency
// notifications, and modifier changes cause a full re-attach: the subscription is
// canceled, the list cleared, and everything re-resolved from scratch. Window growth
// (LoadMore/ResetPages) instead resizes in place: the same query is re-issued at the
// new limit without clearing the list, so pagination never blanks the UI.
//
// Alongside the aggregate list, the syncer maintains a per-item notifier registry so
// that a consumer rendering one item can observe just that item. Entries are created on
// demand and reused; the registry never shrinks while the syncer is alive.
type CollectionSyncer[R interfaces.Record] struct {
	backend interfaces.Backend
	config  CollectionSyncerConfig[R]

	items       *Notifier[[]R]
	loading     *Notifier[bool]
	initialized *Notifier[bool]
	hasMore     *Notifier[bool]
	status      *statusTracker
	commands    *CommandTracker

	registry     map[string]*Notifier[*R]
	registryLock sync.Mutex

	// limit and modifier are the sources of truth for query construction; they are
	// written by external calls (LoadMore, ResetPages, SetModifier) and read on the run
	// goroutine when the next (re)subscription is issued.
	limit     int
	modifier  interfaces.QueryModifier
	stateLock sync.Mutex

	resizing        internal.AtomicBoolean
	pendingResize   internal.AtomicBoolean
	pendingReattach internal.AtomicBoolean
	wakeCh          chan struct{}

	identityCh <-chan ldvalue.OptionalString
	depCh      chan struct{}
	depSubs    []depSub

	// The following fields are owned by the run goroutine.
	sub     interfaces.QuerySubscription
	snapsCh <-chan interfaces.QuerySnapshot
	errsCh  <-chan error

	closeCh   chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

type depSub struct {
	source interfaces.DependencySource
	ch     <-chan struct{}
}

// NewCollectionSyncer creates a CollectionSyncer and immediately attaches it for the
// identity source's current value.
func NewCollectionSyncer[R interfaces.Record](
	backend interfaces.Backend,
	config CollectionSyncerConfig[R],
) (*CollectionSyncer[R], error) {
	if backend == nil {
		return nil, errNilBackend
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	pageSize := config.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
		config.PageSize = pageSize
	}
	s := &CollectionSyncer[R]{
		backend:     backend,
		config:      config,
		items:       NewNotifier[[]R](nil),
		loading:     NewNotifier(false),
		initialized: NewNotifier(false),
		hasMore:     NewNotifier(false),
		status:      newStatusTracker(),
		commands:    newCommandTracker(),
		registry:    make(map[string]*Notifier[*R]),
		limit:       pageSize,
		modifier:    config.Modifier,
		wakeCh:      make(chan struct{}, 1),
		identityCh:  config.Identity.AddListener(),
		depCh:       make(chan struct{}, 1),
		closeCh:     make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	for _, source := range config.Dependencies {
		ch := source.AddListener()
		s.depSubs = append(s.depSubs, depSub{source: source, ch: ch})
		go s.forwardDependency(ch)
	}
	go s.run()
	return s, nil
}

// Items returns the observable current list, in backend-provided order.
func (s *CollectionSyncer[R]) Items() *Notifier[[]R] { return s.items }

// Loading returns the observable loading flag.
func (s *CollectionSyncer[R]) Loading() *Notifier[bool] { return s.loading }

// Initialized returns the observable initialization flag. It is reset by a full
// re-attach but not by a window resize.
func (s *CollectionSyncer[R]) Initialized() *Notifier[bool] { return s.initialized }

// HasMore returns the observable pagination flag: true while the last received page was
// exactly as large as the requested window, meaning more data may exist.
func (s *CollectionSyncer[R]) HasMore() *Notifier[bool] { return s.hasMore }

// Status returns the observable attachment status.
func (s *CollectionSyncer[R]) Status() *Notifier[interfaces.SyncStatus] { return s.status.notifier }

// Commands returns the tracker publishing the progress of this synchronizer's write
// operations.
func (s *CollectionSyncer[R]) Commands() *CommandTracker { return s.commands }

// ItemNotifier returns the per-item notifier for the given document id, creating it if
// it does not exist yet. Entries are never removed while the syncer is alive, so a
// consumer can hold the notifier across updates that remove and re-add the item.
func (s *CollectionSyncer[R]) ItemNotifier(id string) *Notifier[*R] {
	s.registryLock.Lock()
	defer s.registryLock.Unlock()
	n := s.registry[id]
	if n == nil {
		n = NewNotifier[*R](nil)
		s.registry[id] = n
	}
	return n
}

// SetModifier replaces the active query modifier and triggers a full re-attach. Setting
// the identical modifier (same function) is a no-op.
func (s *CollectionSyncer[R]) SetModifier(modifier interfaces.QueryModifier) {
	s.stateLock.Lock()
	if sameModifier(s.modifier, modifier) {
		s.stateLock.Unlock()
		return
	}
	s.modifier = modifier
	s.stateLock.Unlock()
	s.requestReattach()
}

// Refresh forces a full re-attach with the current identity, modifier, and window,
// clearing the current list first.
func (s *CollectionSyncer[R]) Refresh() {
	s.requestReattach()
}

// LoadMore grows the window by one page size and re-issues the query at the new limit.
// It is a no-op when HasMore is false or when a previous resize has not completed yet.
func (s *CollectionSyncer[R]) LoadMore() {
	if !s.hasMore.Get() {
		return
	}
	if s.resizing.GetAndSet(true) {
		return
	}
	s.stateLock.Lock()
	s.limit += s.config.PageSize
	s.stateLock.Unlock()
	s.requestResize()
}

// ResetPages restores the window to a single page and re-issues the query, ending the
// current page session. HasMore is set back to true; the next snapshot recomputes it.
func (s *CollectionSyncer[R]) ResetPages() {
	s.stateLock.Lock()
	s.limit = s.config.PageSize
	s.stateLock.Unlock()
	s.setFlag(s.hasMore, true)
	if !s.resizing.GetAndSet(true) {
		s.requestResize()
	}
	// If a resize was already in flight, the new limit is picked up when that resize's
	// request is processed; the limit itself is the source of truth.
}

// Add creates a document in the resolved collection with a backend-assigned id and
// returns that id. Like all write operations it requires a current identity and never
// mutates the observable list directly.
func (s *CollectionSyncer[R]) Add(ctx context.Context, record R) (string, error) {
	var id string
	err := s.runCommand(interfaces.CommandAdd, func(collectionPath string) error {
		var err error
		id, err = s.backend.AddDocument(ctx, collectionPath, s.config.Serialize(record))
		return err
	})
	return id, err
}

// Set writes the record to its document within the resolved collection with merge
// semantics, creating the document if necessary.
func (s *CollectionSyncer[R]) Set(ctx context.Context, record R) error {
	return s.runCommand(interfaces.CommandSet, func(collectionPath string) error {
		return s.backend.SetDocument(ctx, collectionPath+"/"+record.RecordID(), s.config.Serialize(record), true)
	})
}

// Update writes the record's fields into its existing document, failing if the document
// does not exist.
func (s *CollectionSyncer[R]) Update(ctx context.Context, record R) error {
	return s.runCommand(interfaces.CommandUpdate, func(collectionPath string) error {
		return s.backend.UpdateDocument(ctx, collectionPath+"/"+record.RecordID(), s.config.Serialize(record))
	})
}

// Patch writes a partial field map into an existing document of the resolved
// collection.
func (s *CollectionSyncer[R]) Patch(ctx context.Context, id string, fields ldvalue.Value) error {
	return s.runCommand(interfaces.CommandPatch, func(collectionPath string) error {
		return s.backend.UpdateDocument(ctx, collectionPath+"/"+id, fields)
	})
}

// Delete removes a document of the resolved collection.
func (s *CollectionSyncer[R]) Delete(ctx context.Context, id string) error {
	return s.runCommand(interfaces.CommandDelete, func(collectionPath string) error {
		return s.backend.DeleteDocument(ctx, collectionPath+"/"+id)
	})
}

// Close cancels any active subscription, detaches from the identity source and all
// dependency sources, and closes every observable channel including the per-item
// registry. It blocks until the synchronizer has fully stopped.
func (s *CollectionSyncer[R]) Close() error {
	s.closeOnce.Do(func() {
		close(s.closeCh)
	})
	<-s.doneCh
	return nil
}

func (s *CollectionSyncer[R]) runCommand(kind interfaces.CommandKind, op func(collectionPath string) error) error {
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

func (s *CollectionSyncer[R]) isClosed() bool {
	select {
	case <-s.closeCh:
		return true
	default:
		return false
	}
}

func (s *CollectionSyncer[R]) forwardDependency(ch <-chan struct{}) {
	for range ch {
		select {
		case s.depCh <- struct{}{}:
		default: // a notification is already pending; bursts coalesce here
		}
	}
}

func (s *CollectionSyncer[R]) requestReattach() {
	s.pendingReattach.Set(true)
	s.wake()
}

func (s *CollectionSyncer[R]) requestResize() {
	s.pendingResize.Set(true)
	s.wake()
}

func (s *CollectionSyncer[R]) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *CollectionSyncer[R]) run() {
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
			identity = latestValue(identity, s.identityCh)
			drainTriggers(s.depCh)
			s.attach(identity)
		case <-s.depCh:
			drainTriggers(s.depCh)
			s.attach(s.config.Identity.Current())
		case <-s.wakeCh:
			// A full re-attach supersedes a pending resize: it re-subscribes at the
			// current limit anyway.
			if s.pendingReattach.GetAndSet(false) {
				s.pendingResize.Set(false)
				s.resizing.Set(false)
				s.attach(s.config.Identity.Current())
				continue
			}
			if s.pendingResize.GetAndSet(false) {
				s.resize(s.config.Identity.Current())
			}
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

// attach is the full re-attach: cancel, clear, re-resolve, resubscribe. It runs only on
// the run goroutine.
func (s *CollectionSyncer[R]) attach(identity ldvalue.OptionalString) {
	s.loading.Set(true)
	s.setFlag(s.initialized, false)
	s.detach()
	if len(s.items.Get()) > 0 {
		s.items.Set(nil)
	}

	if !identity.IsDefined() {
		s.setFlag(s.initialized, true)
		s.setFlag(s.hasMore, false)
		s.loading.Set(false)
		s.status.update(interfaces.SyncStateQuiescent, interfaces.SyncErrorInfo{})
		return
	}

	s.setFlag(s.hasMore, true)
	s.openSubscription(identity)
}

// resize re-issues the query at the current window limit without clearing the list or
// resetting the initialization flag. The resizing guard is released once the new
// subscription (or one-shot read) has been issued.
func (s *CollectionSyncer[R]) resize(identity ldvalue.OptionalString) {
	defer s.resizing.Set(false)
	if !identity.IsDefined() {
		return
	}
	s.loading.Set(true)
	s.detach()
	s.openSubscription(identity)
}

func (s *CollectionSyncer[R]) openSubscription(identity ldvalue.OptionalString) {
	query := s.buildQuery(identity)
	s.config.Loggers.Debugf("subscribing to collection %q with limit %d", query.Collection, query.Limit)

	if s.config.Mode == Live {
		sub, err := s.backend.WatchQuery(query)
		if err != nil {
			s.handleStreamError(err)
			return
		}
		s.sub = sub
		s.snapsCh = sub.Snapshots()
		s.errsCh = sub.Errors()
		return
	}

	snap, err := s.backend.RunQuery(context.Background(), query)
	if s.config.Identity.Current() != identity {
		// Superseded while the read was in flight; the queued trigger re-attaches.
		return
	}
	if err != nil {
		s.config.Loggers.Warnf("one-shot query of %q failed: %s", query.Collection, err)
		s.setFlag(s.initialized, true)
		s.status.update(interfaces.SyncStateInterrupted, interfaces.SyncErrorInfo{
			Kind:    interfaces.SyncErrorKindNetwork,
			Message: err.Error(),
			Time:    time.Now(),
		})
	} else {
		s.handleSnapshot(snap)
	}
	s.loading.Set(false)
}

// buildQuery constructs the bounded query: modifier applied to the resolved base
// collection, then the current window limit.
func (s *CollectionSyncer[R]) buildQuery(identity ldvalue.OptionalString) interfaces.Query {
	s.stateLock.Lock()
	limit := s.limit
	modifier := s.modifier
	s.stateLock.Unlock()

	query := interfaces.Query{Collection: s.config.Resolve(identity.StringValue())}
	if modifier != nil {
		query = modifier(query)
	}
	query.Limit = limit
	return query
}

// handleSnapshot is the shared snapshot handler for live emissions, one-shot results,
// and resize results.
func (s *CollectionSyncer[R]) handleSnapshot(snap interfaces.QuerySnapshot) {
	records := make([]R, 0, len(snap.Docs))
	for _, doc := range snap.Docs {
		record, err := s.config.Materialize(doc.ID, doc.Fields)
		if err != nil {
			s.config.Loggers.Errorf("failed to materialize document %q: %s", doc.ID, err)
			s.status.update(interfaces.SyncStateInterrupted, interfaces.SyncErrorInfo{
				Kind:    interfaces.SyncErrorKindMaterialization,
				Message: err.Error(),
				Time:    time.Now(),
			})
			continue
		}
		records = append(records, record)
		s.ItemNotifier(doc.ID).Set(&record)
	}

	s.stateLock.Lock()
	limit := s.limit
	s.stateLock.Unlock()

	s.items.Set(records)
	s.setFlag(s.hasMore, len(snap.Docs) == limit)
	s.loading.Set(false)
	s.setFlag(s.initialized, true)
	s.status.update(interfaces.SyncStateActive, interfaces.SyncErrorInfo{})
}

func (s *CollectionSyncer[R]) handleStreamError(err error) {
	s.config.Loggers.Warnf("collection subscription reported an error: %s", err)
	s.setFlag(s.initialized, true)
	s.loading.Set(false)
	s.status.update(interfaces.SyncStateInterrupted, interfaces.SyncErrorInfo{
		Kind:    interfaces.SyncErrorKindStream,
		Message: err.Error(),
		Time:    time.Now(),
	})
}

// setFlag publishes a boolean notifier only on actual change, so that repeated
// snapshots do not spam flag listeners.
func (s *CollectionSyncer[R]) setFlag(n *Notifier[bool], value bool) {
	if n.Get() != value {
		n.Set(value)
	}
}

func (s *CollectionSyncer[R]) detach() {
	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
		s.snapsCh = nil
		s.errsCh = nil
	}
}

func (s *CollectionSyncer[R]) cleanup() {
	s.detach()
	s.config.Identity.RemoveListener(s.identityCh)
	for _, dep := range s.depSubs {
		dep.source.RemoveListener(dep.ch)
	}
	s.status.update(interfaces.SyncStateQuiescent, interfaces.SyncErrorInfo{})
	s.registryLock.Lock()
	for _, n := range s.registry {
		n.Close()
	}
	s.registryLock.Unlock()
	s.items.Close()
	s.loading.Close()
	s.initialized.Close()
	s.hasMore.Close()
	s.status.close()
	s.commands.close()
}

// sameModifier reports whether two modifiers are the same function, which is the
// reference-identity check used by SetModifier to suppress redundant re-attaches.
func sameModifier(a, b interfaces.QueryModifier) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
