package fwmem

import (
	"strings"
	"sync"

	"github.com/Ratio-et-Ars/firewatch/interfaces"
)

// Subscriptions deliver on buffered channels so that the store never stalls on a
// briefly busy consumer; a consumer that stops reading entirely will eventually block
// writers, which matches the broadcaster contract used throughout this module.

type documentSubscription struct {
	store           *Store
	path            string
	includeMetadata bool
	snapshots       chan interfaces.DocumentSnapshot
	errors          chan error
	closed          bool
	sendLock        sync.Mutex
}

func newDocumentSubscription(store *Store, path string, includeMetadata bool) *documentSubscription {
	return &documentSubscription{
		store:           store,
		path:            path,
		includeMetadata: includeMetadata,
		snapshots:       make(chan interfaces.DocumentSnapshot, subscriptionBufferLength),
		errors:          make(chan error, subscriptionBufferLength),
	}
}

func (s *documentSubscription) Snapshots() <-chan interfaces.DocumentSnapshot { return s.snapshots }

func (s *documentSubscription) Errors() <-chan error { return s.errors }

func (s *documentSubscription) Close() {
	s.store.removeDocumentSubscription(s)
	s.sendLock.Lock()
	defer s.sendLock.Unlock()
	if !s.closed {
		s.closed = true
		close(s.snapshots)
		close(s.errors)
	}
}

func (s *documentSubscription) push(snap interfaces.DocumentSnapshot) {
	s.sendLock.Lock()
	defer s.sendLock.Unlock()
	if !s.closed {
		s.snapshots <- snap
	}
}

func (s *documentSubscription) pushError(err error) {
	s.sendLock.Lock()
	defer s.sendLock.Unlock()
	if !s.closed {
		s.errors <- err
	}
}

type querySubscription struct {
	store     *Store
	query     interfaces.Query
	snapshots chan interfaces.QuerySnapshot
	errors    chan error
	lastKey   string
	hasLast   bool
	closed    bool
	sendLock  sync.Mutex
}

func newQuerySubscription(store *Store, query interfaces.Query) *querySubscription {
	return &querySubscription{
		store:     store,
		query:     query,
		snapshots: make(chan interfaces.QuerySnapshot, subscriptionBufferLength),
		errors:    make(chan error, subscriptionBufferLength),
	}
}

func (s *querySubscription) Snapshots() <-chan interfaces.QuerySnapshot { return s.snapshots }

func (s *querySubscription) Errors() <-chan error { return s.errors }

func (s *querySubscription) Close() {
	s.store.removeQuerySubscription(s)
	s.sendLock.Lock()
	defer s.sendLock.Unlock()
	if !s.closed {
		s.closed = true
		close(s.snapshots)
		close(s.errors)
	}
}

// pushIfChanged delivers a result snapshot unless it is identical to the last one that
// was delivered, so that unrelated writes in the same collection do not produce
// redundant notifications.
func (s *querySubscription) pushIfChanged(snap interfaces.QuerySnapshot) {
	key := resultKey(snap)
	s.sendLock.Lock()
	defer s.sendLock.Unlock()
	if s.closed || (s.hasLast && s.lastKey == key) {
		return
	}
	s.lastKey = key
	s.hasLast = true
	s.snapshots <- snap
}

func (s *querySubscription) pushError(err error) {
	s.sendLock.Lock()
	defer s.sendLock.Unlock()
	if !s.closed {
		s.errors <- err
	}
}

func resultKey(snap interfaces.QuerySnapshot) string {
	var b strings.Builder
	for _, doc := range snap.Docs {
		b.WriteString(doc.ID)
		b.WriteByte('=')
		b.WriteString(doc.Fields.JSONString())
		b.WriteByte('\n')
	}
	return b.String()
}
