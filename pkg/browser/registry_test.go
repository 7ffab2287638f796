package browser_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellanosj/warelay/pkg/browser"
)

type stubHandle struct {
	id string

	mu     sync.Mutex
	closed bool
}

func (h *stubHandle) ID() string                           { return h.id }
func (h *stubHandle) Navigate(context.Context, string) error { return nil }
func (h *stubHandle) Refresh(context.Context) error          { return nil }

func (h *stubHandle) FindElement(context.Context, string) (browser.Element, error) {
	return browser.Element{}, browser.ErrNotPresent
}

func (h *stubHandle) EvaluateScript(context.Context, string, ...any) (string, error) {
	return "", nil
}

func (h *stubHandle) Snapshot(context.Context) (browser.Snapshot, error) {
	return browser.Snapshot{Taken: time.Now()}, nil
}

func (h *stubHandle) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}

func (h *stubHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

type stubRuntime struct {
	mu       sync.Mutex
	launches int
	fail     bool
}

func (r *stubRuntime) NewHandle(_ context.Context, cfg browser.HandleConfig) (browser.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.launches++
	if r.fail {
		return nil, browser.NewLaunchError("spawn", fmt.Errorf("no driver"))
	}
	return &stubHandle{id: fmt.Sprintf("%s-%d", cfg.OwnerID, r.launches)}, nil
}

func (r *stubRuntime) Close() error { return nil }

func cfgFor(owner string) browser.HandleConfig {
	cfg := browser.DefaultHandleConfig()
	cfg.OwnerID = owner
	return cfg
}

func TestAcquireReusesOwnerHandle(t *testing.T) {
	rt := &stubRuntime{}
	reg := browser.NewRegistry(rt, 4)

	first, reused, err := reg.Acquire(context.Background(), cfgFor("alice"))
	require.NoError(t, err)
	assert.False(t, reused)

	second, reused, err := reg.Acquire(context.Background(), cfgFor("alice"))
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Equal(t, first.ID(), second.ID())
	assert.Equal(t, 1, rt.launches)
}

func TestAcquireBlocksAtCeiling(t *testing.T) {
	rt := &stubRuntime{}
	reg := browser.NewRegistry(rt, 1)

	_, _, err := reg.Acquire(context.Background(), cfgFor("alice"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err = reg.Acquire(ctx, cfgFor("bob"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReleaseFreesCeilingSlot(t *testing.T) {
	rt := &stubRuntime{}
	reg := browser.NewRegistry(rt, 1)

	h, _, err := reg.Acquire(context.Background(), cfgFor("alice"))
	require.NoError(t, err)
	require.NoError(t, reg.Release("alice"))
	assert.True(t, h.(*stubHandle).isClosed())

	_, _, err = reg.Acquire(context.Background(), cfgFor("bob"))
	require.NoError(t, err)
}

func TestReleaseUnknownOwnerIsNoop(t *testing.T) {
	reg := browser.NewRegistry(&stubRuntime{}, 1)
	assert.NoError(t, reg.Release("nobody"))
}

func TestReplaceKeepsCeilingSlot(t *testing.T) {
	rt := &stubRuntime{}
	reg := browser.NewRegistry(rt, 1)

	old, _, err := reg.Acquire(context.Background(), cfgFor("alice"))
	require.NoError(t, err)

	fresh, err := reg.Replace(context.Background(), cfgFor("alice"))
	require.NoError(t, err)
	assert.NotEqual(t, old.ID(), fresh.ID())
	assert.True(t, old.(*stubHandle).isClosed())

	got, ok := reg.Get("alice")
	require.True(t, ok)
	assert.Equal(t, fresh.ID(), got.ID())
}

func TestAcquireLaunchFailureReleasesSlot(t *testing.T) {
	rt := &stubRuntime{fail: true}
	reg := browser.NewRegistry(rt, 1)

	_, _, err := reg.Acquire(context.Background(), cfgFor("alice"))
	require.Error(t, err)
	assert.True(t, browser.IsLaunchError(err))

	// The failed launch must not leak the ceiling slot.
	rt.mu.Lock()
	rt.fail = false
	rt.mu.Unlock()
	_, _, err = reg.Acquire(context.Background(), cfgFor("alice"))
	require.NoError(t, err)
}

func TestCloseReleasesEverything(t *testing.T) {
	rt := &stubRuntime{}
	reg := browser.NewRegistry(rt, 4)

	a, _, err := reg.Acquire(context.Background(), cfgFor("alice"))
	require.NoError(t, err)
	b, _, err := reg.Acquire(context.Background(), cfgFor("bob"))
	require.NoError(t, err)

	require.NoError(t, reg.Close())
	assert.True(t, a.(*stubHandle).isClosed())
	assert.True(t, b.(*stubHandle).isClosed())
}

func TestConcurrentAcquireSingleLaunch(t *testing.T) {
	rt := &stubRuntime{}
	reg := browser.NewRegistry(rt, 4)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, _, err := reg.Acquire(context.Background(), cfgFor("alice"))
			if err == nil {
				ids[i] = h.ID()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, rt.launches, "one owner, one process, regardless of racing callers")
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}
