package browser

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Registry tracks live browser handles keyed by owner. It enforces the
// two scarce-resource rules: at most one live handle per owner/profile
// directory, and at most maxLive browser processes overall. Additional
// launches block on the ceiling until the caller's context expires.
type Registry struct {
	runtime Runtime
	sem     *semaphore.Weighted

	mu    sync.Mutex
	slots map[string]*slot
}

// slot serializes handle lifecycle per owner. The mutex is held for the
// full launch so two concurrent Acquires for one owner cannot race a
// second process onto the same profile directory.
type slot struct {
	mu     sync.Mutex
	handle Handle
}

// NewRegistry creates a registry over the given runtime. maxLive bounds
// concurrently live browser processes; values below one mean a single
// process.
func NewRegistry(runtime Runtime, maxLive int64) *Registry {
	if maxLive < 1 {
		maxLive = 1
	}
	return &Registry{
		runtime: runtime,
		sem:     semaphore.NewWeighted(maxLive),
		slots:   make(map[string]*slot),
	}
}

func (r *Registry) slotFor(ownerID string) *slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[ownerID]
	if !ok {
		s = &slot{}
		r.slots[ownerID] = s
	}
	return s
}

// Acquire returns the live handle for cfg.OwnerID, launching one if
// needed. The second return value reports whether an existing handle was
// reused. Launching counts against the live-process ceiling; waiting for
// a slot is aborted by ctx.
func (r *Registry) Acquire(ctx context.Context, cfg HandleConfig) (Handle, bool, error) {
	if r == nil || r.runtime == nil {
		return nil, false, ErrHandleClosed
	}
	s := r.slotFor(cfg.OwnerID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		return s.handle, true, nil
	}
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, false, err
	}
	h, err := r.runtime.NewHandle(ctx, cfg)
	if err != nil {
		r.sem.Release(1)
		metricLaunchFailures.Inc()
		return nil, false, err
	}
	s.handle = h
	metricHandlesLaunched.Inc()
	metricHandlesLive.Inc()
	return h, false, nil
}

// Get returns the live handle for an owner, if any.
func (r *Registry) Get(ownerID string) (Handle, bool) {
	if r == nil {
		return nil, false
	}
	s := r.slotFor(ownerID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return nil, false
	}
	return s.handle, true
}

// Replace disposes the owner's current handle and launches a fresh one
// against the same profile directory, without giving up the ceiling
// slot. Used after a driver crash.
func (r *Registry) Replace(ctx context.Context, cfg HandleConfig) (Handle, error) {
	if r == nil || r.runtime == nil {
		return nil, ErrHandleClosed
	}
	s := r.slotFor(cfg.OwnerID)
	s.mu.Lock()
	defer s.mu.Unlock()

	held := s.handle != nil
	if held {
		_ = s.handle.Close()
		s.handle = nil
		metricHandlesTerminated.Inc()
		metricHandlesLive.Dec()
	} else if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	h, err := r.runtime.NewHandle(ctx, cfg)
	if err != nil {
		r.sem.Release(1)
		metricLaunchFailures.Inc()
		return nil, err
	}
	s.handle = h
	metricHandlesLaunched.Inc()
	metricHandlesLive.Inc()
	return h, nil
}

// Release closes and forgets the owner's handle. No-op when the owner
// has no live handle.
func (r *Registry) Release(ownerID string) error {
	if r == nil {
		return nil
	}
	s := r.slotFor(ownerID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return nil
	}
	err := s.handle.Close()
	s.handle = nil
	r.sem.Release(1)
	metricHandlesTerminated.Inc()
	metricHandlesLive.Dec()
	return err
}

// Close releases every live handle and the runtime.
func (r *Registry) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	owners := make([]string, 0, len(r.slots))
	for owner := range r.slots {
		owners = append(owners, owner)
	}
	r.mu.Unlock()

	var lastErr error
	for _, owner := range owners {
		if err := r.Release(owner); err != nil {
			lastErr = err
		}
	}
	if r.runtime != nil {
		if err := r.runtime.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
