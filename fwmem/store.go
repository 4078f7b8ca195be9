// Package fwmem provides an in-memory implementation of the firewatch backend
// contract, with live snapshot push, a TTL-based read cache backing cache-preferring
// reads, and simulated write pendency.
//
// The store is suitable as a local backend for applications that do not need
// persistence, and doubles as the standard test fixture for code built on firewatch:
// tests can seed server-side data, hold write acknowledgements to observe pendency
// metadata, and inject subscription errors.
package fwmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
	"github.com/oklog/ulid/v2"
	"github.com/patrickmn/go-cache"

	"github.com/Ratio-et-Ars/firewatch/interfaces"
)

const (
	readCacheTTL             = 5 * time.Minute
	readCacheSweepInterval   = 10 * time.Minute
	subscriptionBufferLength = 64
)

// Store is an in-memory document store implementing interfaces.Backend.
//
// Documents live under slash-separated paths whose last element is the document id.
// Mutations made through the Backend methods are treated as local writes: they populate
// the read cache and, while HoldWrites is in effect, are delivered to document
// subscribers with HasPendingWrites set until ReleaseWrites. Data seeded with Seed is
// treated as server-originated: it is pushed to subscribers but never enters the read
// cache, as if it had never been read locally.
type Store struct {
	docs      map[string]ldvalue.Value
	pending   map[string]bool
	holding   bool
	readCache *cache.Cache
	docSubs   map[string][]*documentSubscription
	querySubs []*querySubscription
	loggers   ldlog.Loggers
	lock      sync.Mutex
}

// New creates an empty Store.
func New(loggers ldlog.Loggers) *Store {
	return &Store{
		docs:      make(map[string]ldvalue.Value),
		pending:   make(map[string]bool),
		readCache: cache.New(readCacheTTL, readCacheSweepInterval),
		docSubs:   make(map[string][]*documentSubscription),
		loggers:   loggers,
	}
}

// GetDocumentCached is a standard method of interfaces.Backend. It answers only from
// the read cache, which is populated by server-preferring reads and local writes.
func (s *Store) GetDocumentCached(_ context.Context, path string) (interfaces.DocumentSnapshot, error) {
	if fields, found := s.readCache.Get(path); found {
		return interfaces.DocumentSnapshot{
			ID:     documentID(path),
			Exists: true,
			Fields: fields.(ldvalue.Value),
		}, nil
	}
	if s.loggers.IsDebugEnabled() {
		s.loggers.Debugf("cache miss for %q", path)
	}
	return interfaces.DocumentSnapshot{}, interfaces.ErrCacheMiss
}

// GetDocument is a standard method of interfaces.Backend.
func (s *Store) GetDocument(_ context.Context, path string) (interfaces.DocumentSnapshot, error) {
	s.lock.Lock()
	fields, ok := s.docs[path]
	s.lock.Unlock()
	if !ok {
		return interfaces.DocumentSnapshot{ID: documentID(path)}, nil
	}
	s.readCache.Set(path, fields, cache.DefaultExpiration)
	return interfaces.DocumentSnapshot{ID: documentID(path), Exists: true, Fields: fields}, nil
}

// WatchDocument is a standard method of interfaces.Backend. The current state is
// delivered immediately, then again on every change.
func (s *Store) WatchDocument(path string, options interfaces.WatchOptions) (interfaces.DocumentSubscription, error) {
	sub := newDocumentSubscription(s, path, options.IncludeMetadata)
	s.lock.Lock()
	s.docSubs[path] = append(s.docSubs[path], sub)
	initial := s.snapshotLocked(path, sub.includeMetadata)
	s.lock.Unlock()
	sub.push(initial)
	return sub, nil
}

// RunQuery is a standard method of interfaces.Backend.
func (s *Store) RunQuery(_ context.Context, query interfaces.Query) (interfaces.QuerySnapshot, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.evaluateLocked(query), nil
}

// WatchQuery is a standard method of interfaces.Backend. The current result is
// delivered immediately, then again whenever it changes.
func (s *Store) WatchQuery(query interfaces.Query) (interfaces.QuerySubscription, error) {
	sub := newQuerySubscription(s, query)
	s.lock.Lock()
	s.querySubs = append(s.querySubs, sub)
	initial := s.evaluateLocked(query)
	s.lock.Unlock()
	sub.pushIfChanged(initial)
	return sub, nil
}

// AddDocument is a standard method of interfaces.Backend. Assigned ids are ULIDs, so
// the default id ordering of a collection is creation order.
func (s *Store) AddDocument(_ context.Context, collectionPath string, fields ldvalue.Value) (string, error) {
	id := ulid.Make().String()
	s.applyLocalWrite(collectionPath+"/"+id, fields)
	return id, nil
}

// SetDocument is a standard method of interfaces.Backend.
func (s *Store) SetDocument(_ context.Context, path string, fields ldvalue.Value, merge bool) error {
	if merge {
		s.lock.Lock()
		existing, ok := s.docs[path]
		s.lock.Unlock()
		if ok {
			merged, err := mergeFields(existing, fields)
			if err != nil {
				return err
			}
			fields = merged
		}
	}
	s.applyLocalWrite(path, fields)
	return nil
}

// UpdateDocument is a standard method of interfaces.Backend.
func (s *Store) UpdateDocument(_ context.Context, path string, fields ldvalue.Value) error {
	s.lock.Lock()
	existing, ok := s.docs[path]
	s.lock.Unlock()
	if !ok {
		return fmt.Errorf("cannot update %q: no such document", path)
	}
	merged, err := mergeFields(existing, fields)
	if err != nil {
		return err
	}
	s.applyLocalWrite(path, merged)
	return nil
}

// DeleteDocument is a standard method of interfaces.Backend.
func (s *Store) DeleteDocument(_ context.Context, path string) error {
	s.readCache.Delete(path)
	s.lock.Lock()
	delete(s.docs, path)
	if s.holding {
		s.pending[path] = true
	}
	s.lock.Unlock()
	s.notifyDocument(path)
	s.notifyQueries(parentPath(path))
	return nil
}

// Seed installs server-originated document data: subscribers are notified, but the
// read cache is not populated and no write pendency is simulated.
func (s *Store) Seed(path string, fields ldvalue.Value) {
	s.lock.Lock()
	s.docs[path] = fields
	delete(s.pending, path)
	s.lock.Unlock()
	s.notifyDocument(path)
	s.notifyQueries(parentPath(path))
}

// SeedRemove removes a document as a server-originated change, with the same
// non-local semantics as Seed.
func (s *Store) SeedRemove(path string) {
	s.lock.Lock()
	delete(s.docs, path)
	delete(s.pending, path)
	s.lock.Unlock()
	s.notifyDocument(path)
	s.notifyQueries(parentPath(path))
}

// HoldWrites makes subsequent local writes stay unacknowledged: their snapshots are
// delivered with HasPendingWrites set until ReleaseWrites is called.
func (s *Store) HoldWrites() {
	s.lock.Lock()
	s.holding = true
	s.lock.Unlock()
}

// ReleaseWrites acknowledges all held writes, re-delivering each affected document's
// snapshot without pendency metadata.
func (s *Store) ReleaseWrites() {
	s.lock.Lock()
	s.holding = false
	paths := make([]string, 0, len(s.pending))
	for path := range s.pending {
		paths = append(paths, path)
	}
	s.pending = make(map[string]bool)
	s.lock.Unlock()
	for _, path := range paths {
		s.notifyDocument(path)
	}
}

// FailSubscriptions delivers an error on every active document and query
// subscription's error channel, simulating a broken stream.
func (s *Store) FailSubscriptions(err error) {
	s.lock.Lock()
	var docSubs []*documentSubscription
	for _, subs := range s.docSubs {
		docSubs = append(docSubs, subs...)
	}
	querySubs := append([]*querySubscription(nil), s.querySubs...)
	s.lock.Unlock()
	for _, sub := range docSubs {
		sub.pushError(err)
	}
	for _, sub := range querySubs {
		sub.pushError(err)
	}
}

// Close cancels every active subscription.
func (s *Store) Close() {
	s.lock.Lock()
	var docSubs []*documentSubscription
	for _, subs := range s.docSubs {
		docSubs = append(docSubs, subs...)
	}
	querySubs := append([]*querySubscription(nil), s.querySubs...)
	s.lock.Unlock()
	for _, sub := range docSubs {
		sub.Close()
	}
	for _, sub := range querySubs {
		sub.Close()
	}
}

// applyLocalWrite installs document data written through the Backend mutation methods:
// the read cache is refreshed and pendency is tracked while writes are held.
func (s *Store) applyLocalWrite(path string, fields ldvalue.Value) {
	s.readCache.Set(path, fields, cache.DefaultExpiration)
	s.lock.Lock()
	s.docs[path] = fields
	if s.holding {
		s.pending[path] = true
	}
	s.lock.Unlock()
	s.notifyDocument(path)
	s.notifyQueries(parentPath(path))
}

// snapshotLocked builds the current snapshot of a document. The caller must hold the
// store lock.
func (s *Store) snapshotLocked(path string, includeMetadata bool) interfaces.DocumentSnapshot {
	fields, exists := s.docs[path]
	snap := interfaces.DocumentSnapshot{
		ID:     documentID(path),
		Exists: exists,
		Fields: fields,
	}
	if includeMetadata {
		snap.HasPendingWrites = s.pending[path]
	}
	return snap
}

func (s *Store) notifyDocument(path string) {
	s.lock.Lock()
	subs := append([]*documentSubscription(nil), s.docSubs[path]...)
	snaps := make([]interfaces.DocumentSnapshot, len(subs))
	for i, sub := range subs {
		snaps[i] = s.snapshotLocked(path, sub.includeMetadata)
	}
	s.lock.Unlock()
	for i, sub := range subs {
		sub.push(snaps[i])
	}
}

func (s *Store) notifyQueries(collectionPath string) {
	s.lock.Lock()
	var subs []*querySubscription
	var results []interfaces.QuerySnapshot
	for _, sub := range s.querySubs {
		if sub.query.Collection == collectionPath {
			subs = append(subs, sub)
			results = append(results, s.evaluateLocked(sub.query))
		}
	}
	s.lock.Unlock()
	for i, sub := range subs {
		sub.pushIfChanged(results[i])
	}
}

func (s *Store) removeDocumentSubscription(sub *documentSubscription) {
	s.lock.Lock()
	defer s.lock.Unlock()
	subs := s.docSubs[sub.path]
	for i, candidate := range subs {
		if candidate == sub {
			s.docSubs[sub.path] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

func (s *Store) removeQuerySubscription(sub *querySubscription) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for i, candidate := range s.querySubs {
		if candidate == sub {
			s.querySubs = append(s.querySubs[:i], s.querySubs[i+1:]...)
			break
		}
	}
}

func mergeFields(existing, patch ldvalue.Value) (ldvalue.Value, error) {
	merged, err := jsonpatch.MergePatch([]byte(existing.JSONString()), []byte(patch.JSONString()))
	if err != nil {
		return ldvalue.Null(), err
	}
	return ldvalue.Parse(merged), nil
}

func documentID(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

func parentPath(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return ""
}
