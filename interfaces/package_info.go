// Package interfaces contains the types that define the boundary between the firewatch
// synchronizers and their collaborators: the document-store backend, the identity
// source, auxiliary trigger sources, and the status types that the synchronizers
// publish.
//
// Applications normally interact with these types indirectly, through the configuration
// structs and observable surface of the main firewatch package. A custom backend (for a
// store that is not covered by the fwmem or fwhttp packages) is written by implementing
// Backend.
package interfaces
