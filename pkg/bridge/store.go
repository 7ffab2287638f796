package bridge

import (
	"context"
	"errors"
)

// ErrNotFound means the referenced session does not exist or was
// purged. Surfaced to callers unchanged.
var ErrNotFound = errors.New("session not found")

// Store persists session records so unrelated processes can observe
// status without holding the browser handle. One record per session id;
// Save upserts.
type Store interface {
	Save(ctx context.Context, session *Session) error
	Load(ctx context.Context, id string) (*Session, error)
}
