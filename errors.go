package firewatch

import "errors"

// ErrNotAuthenticated is returned by write operations (and published as the failure of
// the corresponding command) when no identity is currently set, so no storage location
// can be resolved. It is a failure of that one operation only, never fatal to the
// synchronizer.
var ErrNotAuthenticated = errors.New("operation requires an authenticated identity")

// ErrClosed is returned by operations invoked after a synchronizer has been closed.
var ErrClosed = errors.New("synchronizer has been closed")

var errNilBackend = errors.New("backend must not be nil")
