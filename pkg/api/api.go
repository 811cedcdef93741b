// Package api holds the small shared surface every zrm component depends on:
// the error taxonomy and common interface conventions.
package api

// Closer is implemented by every entity the middleware hands out. Close
// releases transport resources (unsubscribe/undeclare); it must be safe to
// call multiple times and safe even if the entity never fully initialized.
type Closer interface {
	Close() error
}
