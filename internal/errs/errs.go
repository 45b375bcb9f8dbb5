// Package errs defines the error taxonomy shared by the directory and
// content services. Callers classify failures with errors.Is against the
// sentinels below; services wrap them with context via fmt.Errorf and %w.
package errs

import "errors"

var (
	// ErrNotFound reports a lookup miss: user, channel, or content absent.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists reports a duplicate registration or subscription.
	ErrAlreadyExists = errors.New("already exists")

	// ErrStorage reports an unrecoverable fault in the backing store. It is
	// never retried; the calling operation aborts.
	ErrStorage = errors.New("storage failure")

	// ErrUpstream reports a failure talking to the push platform (token
	// refresh, profile lookup, or template delivery). Propagated, not retried.
	ErrUpstream = errors.New("upstream failure")

	// ErrPermissionDenied reports a requester that is not allowed to perform
	// the operation. Only produced when owner enforcement is enabled.
	ErrPermissionDenied = errors.New("permission denied")
)
