package interfaces

import (
	"context"
	"errors"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
)

// ErrCacheMiss is returned by Backend.GetDocumentCached when the backend has no locally
// cached data for the requested document. Synchronizers absorb this error silently; it
// only means the optimistic pre-publish is skipped.
var ErrCacheMiss = errors.New("no cached data for document")

// DocumentSnapshot is one immutable observation of a single document.
//
// A snapshot for a document that does not exist has Exists set to false and a null
// Fields value. HasPendingWrites reports whether the snapshot reflects local writes
// that the server has not yet acknowledged; it is only meaningful on snapshots
// delivered by a subscription opened with WatchOptions.IncludeMetadata.
type DocumentSnapshot struct {
	// ID is the document's own identifier, derived from the last element of its path.
	ID string
	// Exists is true if the document was present in the store.
	Exists bool
	// Fields is the document's raw field map. It is a JSON object value, or null if the
	// document does not exist.
	Fields ldvalue.Value
	// HasPendingWrites is true if the snapshot includes local writes that have not been
	// acknowledged by the server.
	HasPendingWrites bool
}

// QuerySnapshot is one immutable observation of a query result: the matching documents
// in the order the backend returned them.
type QuerySnapshot struct {
	Docs []DocumentSnapshot
}

// WatchOptions configures a live document subscription.
type WatchOptions struct {
	// IncludeMetadata requests snapshots for local not-yet-acknowledged writes, with
	// HasPendingWrites set accordingly. Without it, the backend may deliver only
	// server-acknowledged state.
	IncludeMetadata bool
}

// DocumentSubscription is a live stream of snapshots for one document.
//
// The Snapshots channel delivers the current state immediately on subscription and then
// again on every change. The Errors channel reports stream-level failures; a failure
// does not necessarily end the stream (backends may reconnect and resume delivering
// snapshots). Close cancels the subscription and closes both channels.
type DocumentSubscription interface {
	Snapshots() <-chan DocumentSnapshot
	Errors() <-chan error
	Close()
}

// QuerySubscription is a live stream of result snapshots for one query, with the same
// channel semantics as DocumentSubscription.
type QuerySubscription interface {
	Snapshots() <-chan QuerySnapshot
	Errors() <-chan error
	Close()
}

// Backend is the document-store collaborator consumed by the synchronizers.
//
// Documents are addressed by slash-separated paths whose last element is the document
// id ("users/u1/notes/n2"); collections are addressed by the path prefix ("users/u1/
// notes"). Reads of a missing document succeed with Exists set to false; an error
// return means the read itself failed.
type Backend interface {
	// GetDocumentCached is a cache-preferring read: it answers from locally cached data
	// without contacting the server, returning ErrCacheMiss when there is none.
	GetDocumentCached(ctx context.Context, path string) (DocumentSnapshot, error)

	// GetDocument is a server-preferring read of the document's current state.
	GetDocument(ctx context.Context, path string) (DocumentSnapshot, error)

	// WatchDocument opens a live snapshot stream for the document.
	WatchDocument(path string, options WatchOptions) (DocumentSubscription, error)

	// RunQuery executes the query once and returns the matching documents.
	RunQuery(ctx context.Context, query Query) (QuerySnapshot, error)

	// WatchQuery opens a live result stream for the query.
	WatchQuery(query Query) (QuerySubscription, error)

	// AddDocument creates a document in the collection with a backend-assigned id and
	// returns that id.
	AddDocument(ctx context.Context, collectionPath string, fields ldvalue.Value) (string, error)

	// SetDocument writes the document's fields, creating the document if necessary.
	// With merge set, fields are deep-merged into any existing data instead of
	// replacing it.
	SetDocument(ctx context.Context, path string, fields ldvalue.Value, merge bool) error

	// UpdateDocument merges fields into an existing document, failing if the document
	// does not exist.
	UpdateDocument(ctx context.Context, path string, fields ldvalue.Value) error

	// DeleteDocument removes the document. Deleting a missing document is not an error.
	DeleteDocument(ctx context.Context, path string) error
}
