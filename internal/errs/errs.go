// Package errs declares the sentinel errors for the gateway's error
// taxonomy, so handlers can branch on error kind with errors.Is instead of
// string matching.
package errs

import "errors"

var (
	// ErrTimeout surfaces as "Timeout error" in the error event; not retried.
	ErrTimeout = errors.New("timeout error")

	// ErrRateLimited is logged as "Rate limit exceeded"; the gateway never
	// retries a rate-limit error, it logs and moves on.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrNotFound marks an order that cannot be resolved: a driver's
	// CancelOrder returns it for an order the exchange does not know, and the
	// scheduler reports it for a registry miss or a get_orders whose lookups
	// all miss. driver.FetchOrder signals a miss with (nil, nil) instead.
	ErrNotFound = errors.New("order not found")

	// ErrNotConnected is a transport condition treated as success-equivalent.
	ErrNotConnected = errors.New("transport not connected")

	// ErrAdminAction is a transient transport condition retried until success.
	ErrAdminAction = errors.New("transport admin action")
)
