package browser

import "context"

// Runtime launches browser process handles.
type Runtime interface {
	NewHandle(ctx context.Context, cfg HandleConfig) (Handle, error)
	Close() error
}

// Handle is the port implemented by browser driver adapters. A handle
// owns exactly one external browser process and its profile directory
// lock; it is not safe for concurrent use by more than one caller.
type Handle interface {
	ID() string
	Navigate(ctx context.Context, url string) error
	Refresh(ctx context.Context) error

	// FindElement resolves a CSS selector to an element reference.
	// Returns ErrNotPresent when no node matches.
	FindElement(ctx context.Context, selector string) (Element, error)

	// EvaluateScript runs a script in the page. Element arguments are
	// encoded per the driver's wire convention. The result is the
	// script's return value decoded as a string.
	EvaluateScript(ctx context.Context, script string, args ...any) (string, error)

	// Snapshot captures URL, title, and page source in one pass.
	Snapshot(ctx context.Context) (Snapshot, error)

	// Close terminates the browser process and releases the profile
	// directory lock. Idempotent.
	Close() error
}
