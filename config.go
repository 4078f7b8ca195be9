package firewatch

import (
	"errors"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/Ratio-et-Ars/firewatch/interfaces"
)

// SubscribeMode selects how a synchronizer tracks its backend location.
type SubscribeMode int

const (
	// Live keeps an open snapshot stream, so remote changes arrive as they happen.
	Live SubscribeMode = iota
	// OneShot performs a single server-preferring read per attach; the state only
	// changes again on the next trigger.
	OneShot
)

// DefaultPageSize is the window growth unit used by CollectionSyncer when
// CollectionSyncerConfig.PageSize is not set.
const DefaultPageSize = 20

// Materializer is the pure function that converts a document's raw field map into a
// domain record. The id is the document's own location-derived identifier, never a
// value from the field map; implementations are expected to store it in the record so
// that RecordID returns it.
type Materializer[R interfaces.Record] func(id string, fields ldvalue.Value) (R, error)

// Serializer is the pure function that converts a domain record back into a raw field
// map for writing. The result must omit the record's id; the backend owns identifier
// placement.
type Serializer[R interfaces.Record] func(record R) ldvalue.Value

// DocSyncerConfig is the configuration for a single-entity synchronizer. Resolve,
// Materialize, Serialize, and Identity are required.
type DocSyncerConfig[R interfaces.Record] struct {
	// Resolve maps an identity to the path of the document to mirror. It must be pure:
	// it is re-evaluated on every identity change and must not cache across them.
	Resolve func(identity string) string

	// Materialize builds a domain record from a raw snapshot.
	Materialize Materializer[R]

	// Serialize converts a record into the field map written by Set and Update.
	Serialize Serializer[R]

	// Identity is the observable identity slot that the synchronizer follows.
	Identity interfaces.IdentitySource

	// Mode selects live streaming or one-shot reads. The default is Live.
	Mode SubscribeMode

	// Loggers receives log output. If not set, log output goes to standard defaults.
	Loggers ldlog.Loggers
}

func (c DocSyncerConfig[R]) validate() error {
	if c.Resolve == nil {
		return errors.New("DocSyncerConfig.Resolve is required")
	}
	if c.Materialize == nil {
		return errors.New("DocSyncerConfig.Materialize is required")
	}
	if c.Serialize == nil {
		return errors.New("DocSyncerConfig.Serialize is required")
	}
	if c.Identity == nil {
		return errors.New("DocSyncerConfig.Identity is required")
	}
	return nil
}

// CollectionSyncerConfig is the configuration for a collection synchronizer. Resolve,
// Materialize, Serialize, and Identity are required.
type CollectionSyncerConfig[R interfaces.Record] struct {
	// Resolve maps an identity to the path of the base collection. It must be pure; it
	// is re-evaluated on every identity change.
	Resolve func(identity string) string

	// Materialize builds a domain record from each raw document in a result snapshot.
	Materialize Materializer[R]

	// Serialize converts a record into the field map written by Add, Set, and Update.
	Serialize Serializer[R]

	// Identity is the observable identity slot that the synchronizer follows.
	Identity interfaces.IdentitySource

	// Dependencies are additional trigger sources. A notification from any of them
	// causes a full re-attach, the same as an identity change. Bursts of near-
	// simultaneous notifications are coalesced into a single re-attach.
	Dependencies []interfaces.DependencySource

	// Modifier optionally transforms the base collection query (filters, ordering). It
	// can be replaced later with SetModifier.
	Modifier interfaces.QueryModifier

	// Mode selects live streaming or one-shot reads. The default is Live.
	Mode SubscribeMode

	// PageSize is the window growth unit for live pagination. If not positive,
	// DefaultPageSize is used.
	PageSize int

	// Loggers receives log output. If not set, log output goes to standard defaults.
	Loggers ldlog.Loggers
}

func (c CollectionSyncerConfig[R]) validate() error {
	if c.Resolve == nil {
		return errors.New("CollectionSyncerConfig.Resolve is required")
	}
	if c.Materialize == nil {
		return errors.New("CollectionSyncerConfig.Materialize is required")
	}
	if c.Serialize == nil {
		return errors.New("CollectionSyncerConfig.Serialize is required")
	}
	if c.Identity == nil {
		return errors.New("CollectionSyncerConfig.Identity is required")
	}
	return nil
}
