// Package contentsvc implements the ephemeral content store: message bodies
// keyed by a random id, a date-bucketed index, and the lazy expiry sweep
// that trims bodies past the retention window.
package contentsvc
