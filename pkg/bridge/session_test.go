package bridge_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/castellanosj/warelay/pkg/bridge"
)

func TestNewSessionStartsUninitialized(t *testing.T) {
	sess := bridge.NewSession("alice")
	assert.Len(t, sess.ID, 26, "session ids are ULIDs")
	assert.Equal(t, "alice", sess.OwnerID)
	assert.Equal(t, bridge.StateUninitialized, sess.State)
	assert.Empty(t, sess.Artifact)
	assert.False(t, sess.CreatedAt.IsZero())
	assert.Equal(t, sess.CreatedAt, sess.UpdatedAt)
}

func TestSessionIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for range 64 {
		id := bridge.NewSession("alice").ID
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestCloneIsolatesArtifact(t *testing.T) {
	sess := bridge.NewSession("alice")
	sess.Artifact = []byte("qr")

	clone := sess.Clone()
	clone.Artifact[0] = 'X'
	clone.State = bridge.StateClosed

	assert.Equal(t, []byte("qr"), sess.Artifact)
	assert.Equal(t, bridge.StateUninitialized, sess.State)
}

func TestCloneNil(t *testing.T) {
	var sess *bridge.Session
	assert.Nil(t, sess.Clone())
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, bridge.StateClosed.Terminal())
	for _, s := range []bridge.State{
		bridge.StateUninitialized,
		bridge.StateLaunching,
		bridge.StateAwaitingScan,
		bridge.StateAuthenticated,
		bridge.StateNotAuthenticated,
		bridge.StateError,
	} {
		assert.False(t, s.Terminal(), string(s))
	}
}
