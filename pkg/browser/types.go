package browser

import "time"

// HandleConfig configures one browser process handle.
type HandleConfig struct {
	// OwnerID identifies the principal the handle is launched for. The
	// profile directory is derived from it when ProfileDir is empty.
	OwnerID string `json:"owner_id"`

	// ProfileDir is the persistent user-data directory. At most one live
	// browser process may use it at a time.
	ProfileDir string `json:"profile_dir"`

	// EntryURL is navigated to right after launch when non-empty.
	EntryURL string `json:"entry_url,omitempty"`

	// Headless launches the browser without a display.
	Headless bool `json:"headless"`

	// PageLoadTimeout bounds navigation and refresh waits.
	PageLoadTimeout time.Duration `json:"page_load_timeout,omitempty"`
}

// DefaultHandleConfig returns the recommended handle defaults.
func DefaultHandleConfig() HandleConfig {
	return HandleConfig{
		Headless:        true,
		PageLoadTimeout: 30 * time.Second,
	}
}

// Element is an opaque reference to a DOM node held by the driver.
type Element struct {
	ID string `json:"element_id"`
}

// Snapshot is a cheap, read-only view of the current page used by
// heuristic evaluation. It is captured in one round of driver calls so
// individual heuristics never touch the driver themselves.
type Snapshot struct {
	URL    string    `json:"url,omitempty"`
	Title  string    `json:"title,omitempty"`
	Source string    `json:"source,omitempty"`
	Taken  time.Time `json:"taken"`
}
