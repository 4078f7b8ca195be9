// Package firewatch is a reactive synchronization layer between application state and a
// remote document store.
//
// The package provides two synchronizers built from the same primitives. DocSyncer
// mirrors a single document selected by the current identity; CollectionSyncer mirrors
// an ordered, size-bounded query result with live pagination. Both observe an identity
// source, resolve a storage location from the current identity, maintain exactly one
// backend subscription at a time, and publish typed domain records on observable value
// holders (Notifier). All state changes flow through the subscription: write operations
// are plain backend calls whose effects become visible only when the backend delivers
// the resulting snapshot.
//
// The backend itself is a collaborator behind the interfaces.Backend contract. The
// fwmem package provides an in-memory backend (also used as a test fixture), and the
// fwhttp package provides a backend speaking HTTP with server-sent-event streaming.
package firewatch
