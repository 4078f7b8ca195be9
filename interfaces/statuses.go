package interfaces

import (
	"fmt"
	"time"
)

// SyncState is an enumeration of possible states for a synchronizer's attachment to the
// backend.
type SyncState string

const (
	// SyncStateInitializing means the synchronizer is resolving its location and has
	// not yet received an authoritative snapshot.
	SyncStateInitializing SyncState = "INITIALIZING"

	// SyncStateActive means the synchronizer has received data and, in live mode, is
	// receiving updates.
	SyncStateActive SyncState = "ACTIVE"

	// SyncStateInterrupted means the most recent fetch or stream delivery failed. The
	// last good value is retained; a later trigger can re-attach and recover.
	SyncStateInterrupted SyncState = "INTERRUPTED"

	// SyncStateQuiescent means the synchronizer deliberately has no subscription:
	// either no identity is set, or the synchronizer has been closed.
	SyncStateQuiescent SyncState = "QUIESCENT"
)

// SyncErrorKind is an enumeration of categories for errors reported in SyncStatus.
type SyncErrorKind string

const (
	// SyncErrorKindUnknown indicates an error of unspecified origin.
	SyncErrorKindUnknown SyncErrorKind = "UNKNOWN"

	// SyncErrorKindNetwork means a one-shot read or subscription open failed.
	SyncErrorKindNetwork SyncErrorKind = "NETWORK_ERROR"

	// SyncErrorKindStream means an established live subscription reported an error.
	SyncErrorKindStream SyncErrorKind = "STREAM_ERROR"

	// SyncErrorKindMaterialization means a raw document could not be converted into a
	// domain record.
	SyncErrorKindMaterialization SyncErrorKind = "MATERIALIZATION_ERROR"
)

// SyncErrorInfo describes an error condition that affected a synchronizer. The zero
// value, with an empty Kind, means no error has occurred.
type SyncErrorInfo struct {
	Kind    SyncErrorKind
	Message string
	Time    time.Time
}

// String returns a concise description of the error, for logging.
func (e SyncErrorInfo) String() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s(%s)", e.Kind, e.Message)
}

// SyncStatus is the state of a synchronizer's attachment to the backend, as published
// on its status observable.
type SyncStatus struct {
	// State is the basic state of the attachment.
	State SyncState

	// StateSince is the time that the value of State most recently changed.
	StateSince time.Time

	// LastError is the most recent error encountered since the synchronizer was
	// created. It is not cleared when the synchronizer recovers.
	LastError SyncErrorInfo
}

// String returns a concise description of the status, for logging.
func (s SyncStatus) String() string {
	return fmt.Sprintf("Status(%s,%s,%s)", s.State, s.StateSince.Format(time.RFC3339), s.LastError)
}

// CommandKind identifies which write entry point a CommandStatus refers to.
type CommandKind string

const (
	// CommandAdd is a collection add with a backend-assigned id.
	CommandAdd CommandKind = "ADD"
	// CommandSet is a merge-set write.
	CommandSet CommandKind = "SET"
	// CommandUpdate is a full-record update of an existing document.
	CommandUpdate CommandKind = "UPDATE"
	// CommandPatch is a partial-field update of an existing document.
	CommandPatch CommandKind = "PATCH"
	// CommandDelete is a document deletion.
	CommandDelete CommandKind = "DELETE"
)

// CommandState is the progress of one write operation.
type CommandState string

const (
	// CommandPending means the write has been issued and has not yet completed.
	CommandPending CommandState = "PENDING"
	// CommandSucceeded means the write completed successfully.
	CommandSucceeded CommandState = "SUCCEEDED"
	// CommandFailed means the write failed; Message describes the failure.
	CommandFailed CommandState = "FAILED"
)

// CommandStatus is one progress notification for a write operation, as published on a
// synchronizer's command observable. Write failures never mutate the synchronizer's
// aggregate state and are never retried automatically; this is how they are surfaced.
type CommandStatus struct {
	Kind    CommandKind
	State   CommandState
	Message string
	Time    time.Time
}
