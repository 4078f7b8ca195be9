// Package internal contains support code that is shared by other firewatch packages but
// is not part of the public API.
package internal
