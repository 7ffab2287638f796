package bridge

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// State is the lifecycle position of a link session.
type State string

const (
	StateUninitialized    State = "uninitialized"
	StateLaunching        State = "launching"
	StateAwaitingScan     State = "awaiting_scan"
	StateAuthenticated    State = "authenticated"
	StateNotAuthenticated State = "not_authenticated"
	StateClosed           State = "closed"
	StateError            State = "error"
)

// Terminal reports whether no further bridge activity happens in s.
func (s State) Terminal() bool {
	return s == StateClosed
}

// Session is one attempt to link an external account. Only the bridge
// mutates it; callers read views through the store.
type Session struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
	State   State  `json:"state"`

	// Artifact is the current authentication QR image (PNG). Non-empty
	// only while the session is awaiting a scan.
	Artifact []byte `json:"artifact,omitempty"`

	// LastError carries the diagnostic for the most recent failure
	// transition. Cleared on success transitions.
	LastError string `json:"lastError,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewSession creates a session in the uninitialized state.
func NewSession(ownerID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		OwnerID:   ownerID,
		State:     StateUninitialized,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// setState applies a transition and keeps the artifact and error
// invariants: the artifact survives only in awaiting_scan, and the last
// error is wiped by any non-error transition.
func (s *Session) setState(state State) {
	s.State = state
	if state != StateAwaitingScan {
		s.Artifact = nil
	}
	if state != StateError {
		s.LastError = ""
	}
	s.UpdatedAt = time.Now().UTC()
}

// setError records a failure transition with its diagnostic.
func (s *Session) setError(diag string) {
	s.State = StateError
	s.Artifact = nil
	s.LastError = diag
	s.UpdatedAt = time.Now().UTC()
}

// setArtifact replaces the QR payload and moves to awaiting_scan.
func (s *Session) setArtifact(artifact []byte) {
	s.State = StateAwaitingScan
	s.Artifact = artifact
	s.LastError = ""
	s.UpdatedAt = time.Now().UTC()
}

// Clone returns a copy safe to hand to callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Artifact != nil {
		out.Artifact = append([]byte(nil), s.Artifact...)
	}
	return &out
}
