package interfaces

import (
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
)

// IdentitySource is an observable slot holding the current authenticated principal's
// identifier, or an undefined value when no principal is authenticated. Synchronizers
// only read the slot and subscribe to its change notifications; they never write it.
//
// The listener contract follows the usual channel pattern: AddListener returns a new
// receive-only channel that will be sent every subsequent identity value, and
// RemoveListener unsubscribes that same channel and closes it.
type IdentitySource interface {
	Current() ldvalue.OptionalString
	AddListener() <-chan ldvalue.OptionalString
	RemoveListener(ch <-chan ldvalue.OptionalString)
}

// DependencySource is an auxiliary trigger source for a collection synchronizer: any
// value delivered on a listener channel invalidates the current subscription and causes
// a full re-attach. The channel pattern is the same as for IdentitySource.
type DependencySource interface {
	AddListener() <-chan struct{}
	RemoveListener(ch <-chan struct{})
}
