package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/castellanosj/warelay/pkg/browser"
	"github.com/castellanosj/warelay/pkg/logging"
)

// Config tunes the bridge state machine.
type Config struct {
	// EntryURL is the target application's login page.
	EntryURL string
	// OpenTimeout bounds the wait for the first artifact or
	// authentication signal during Open.
	OpenTimeout time.Duration
	// PollTimeout bounds one Poll's wait for a new signal.
	PollTimeout time.Duration
	// PollInterval is the cadence of the internal signal wait.
	PollInterval time.Duration
	// RetryBudget is the number of automatic relaunches after a driver
	// crash or launch failure, per operation.
	RetryBudget int
	// ArtifactRefresh is the minimum interval between QR re-extractions
	// while a session already holds a fresh artifact. Zero disables the
	// throttle.
	ArtifactRefresh time.Duration
	// ProfileRoot is where per-owner profile directories live. Empty
	// lets the runtime adapter pick.
	ProfileRoot string
	// Headless launches browsers without a display.
	Headless bool
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.EntryURL) == "" {
		c.EntryURL = "https://web.whatsapp.com/"
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.RetryBudget < 0 {
		c.RetryBudget = 0
	} else if c.RetryBudget == 0 {
		c.RetryBudget = 1
	}
	return c
}

// Bridge drives sessions through their lifecycle. It is the only
// component that mutates session records or touches browser handles.
type Bridge struct {
	cfg       Config
	registry  *browser.Registry
	store     Store
	detector  *Detector
	extractor *Extractor
	log       *logging.Logger

	mu         sync.Mutex
	locks      map[string]*sync.Mutex
	ownerLocks map[string]*sync.Mutex
	owners     map[string]string
	limiters   map[string]*rate.Limiter
}

// New creates a bridge over the given registry and store.
func New(cfg Config, registry *browser.Registry, store Store, log *logging.Logger) *Bridge {
	if log == nil {
		log = logging.Discard()
	}
	return &Bridge{
		cfg:        cfg.withDefaults(),
		registry:   registry,
		store:      store,
		detector:   NewDetector(nil),
		extractor:  NewExtractor(),
		log:        log,
		locks:      make(map[string]*sync.Mutex),
		ownerLocks: make(map[string]*sync.Mutex),
		owners:     make(map[string]string),
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Open starts (or re-enters) a link session for an owner. When the
// owner already has a live, non-closed session its current view is
// returned instead of launching a second browser against the same
// profile directory. A session left in the error state is relaunched
// against the same record.
func (b *Bridge) Open(ctx context.Context, ownerID string) (*Session, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, errors.New("owner id required")
	}

	// Opens for one owner are serialized: racing callers must converge
	// on a single session and a single handle for the shared profile
	// directory.
	ownerLock := b.ownerLockFor(ownerID)
	ownerLock.Lock()
	defer ownerLock.Unlock()

	if existing := b.liveSession(ctx, ownerID); existing != nil {
		if existing.State != StateError {
			return existing, nil
		}
		return b.reopen(ctx, existing)
	}

	opCtx, cancel := b.withTimeout(ctx, b.cfg.OpenTimeout)
	defer cancel()

	handle, err := b.acquireWithRetry(opCtx, ownerID)
	if err != nil {
		b.log.Error(logging.CategorySession, "open_failed", err.Error(), map[string]any{"owner_id": ownerID})
		return nil, err
	}

	sess := NewSession(ownerID)
	sess.setState(StateLaunching)
	if err := b.persist(sess); err != nil {
		return nil, err
	}
	b.track(sess)
	b.log.Info(logging.CategorySession, "session_launching", "browser handle acquired", map[string]any{
		"session_id": sess.ID,
		"owner_id":   ownerID,
	})

	lock := b.lockFor(sess.ID)
	lock.Lock()
	defer lock.Unlock()
	b.runLifecycle(opCtx, sess, handle)
	return sess.Clone(), nil
}

// Poll re-enters an existing session: refreshes the page, re-runs
// detection, and refreshes the artifact when the canvas re-rendered.
// Deadline expiry yields a not-authenticated view, never an error, and
// leaves the handle alive for the next attempt.
func (b *Bridge) Poll(ctx context.Context, id string) (*Session, error) {
	lock := b.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := b.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.State.Terminal() {
		return sess, nil
	}
	if sess.State == StateError {
		// Left for explicit Close, or a fresh Open to relaunch.
		return sess, nil
	}

	opCtx, cancel := b.withTimeout(ctx, b.cfg.PollTimeout)
	defer cancel()

	handle, reused, err := b.registry.Acquire(opCtx, b.handleConfig(sess.OwnerID))
	if err != nil {
		return b.failSession(sess, fmt.Errorf("reacquire handle: %w", err))
	}
	b.trackOwner(sess)

	if reused {
		if err := handle.Refresh(opCtx); err != nil {
			if handle, err = b.recover(opCtx, sess, err); err != nil {
				return b.failSession(sess, err)
			}
		}
	}

	b.runLifecycle(opCtx, sess, handle)
	return sess.Clone(), nil
}

// Close releases the session's browser handle and marks it closed.
// Idempotent: closing a closed session is a no-op success.
func (b *Bridge) Close(ctx context.Context, id string) error {
	lock := b.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := b.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if sess.State.Terminal() {
		return nil
	}

	b.mu.Lock()
	ownsHandle := b.owners[sess.OwnerID] == sess.ID
	if ownsHandle {
		delete(b.owners, sess.OwnerID)
	}
	delete(b.limiters, sess.ID)
	b.mu.Unlock()

	if ownsHandle {
		if err := b.registry.Release(sess.OwnerID); err != nil {
			b.log.Warn(logging.CategoryDriver, "release_failed", err.Error(), map[string]any{"session_id": sess.ID})
		}
	}

	sess.setState(StateClosed)
	if err := b.persist(sess); err != nil {
		return err
	}

	// The session is terminal; drop its serialization state so a
	// long-lived daemon does not accumulate one mutex per lifetime.
	b.mu.Lock()
	delete(b.locks, sess.ID)
	b.mu.Unlock()

	b.log.Info(logging.CategorySession, "session_closed", "handle released", map[string]any{
		"session_id": sess.ID,
		"owner_id":   sess.OwnerID,
	})
	return nil
}

// Shutdown releases every live handle. Session records are left as-is
// for the next process to re-enter.
func (b *Bridge) Shutdown() error {
	return b.registry.Close()
}

// reopen relaunches a session that was left in the error state.
func (b *Bridge) reopen(ctx context.Context, sess *Session) (*Session, error) {
	lock := b.lockFor(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	opCtx, cancel := b.withTimeout(ctx, b.cfg.OpenTimeout)
	defer cancel()

	handle, err := b.registry.Replace(opCtx, b.handleConfig(sess.OwnerID))
	if err != nil {
		return b.failSession(sess, err)
	}
	sess.setState(StateLaunching)
	if err := b.persist(sess); err != nil {
		return nil, err
	}
	b.track(sess)
	b.runLifecycle(opCtx, sess, handle)
	return sess.Clone(), nil
}

// runLifecycle drives one bounded wait for a signal, absorbing driver
// crashes up to the retry budget. It leaves sess in its next state and
// persists it.
func (b *Bridge) runLifecycle(ctx context.Context, sess *Session, handle browser.Handle) {
	err := b.await(ctx, sess, handle)
	for attempt := 0; err != nil && browser.IsDriverError(err) && attempt < b.cfg.RetryBudget; attempt++ {
		var rerr error
		if handle, rerr = b.recover(ctx, sess, err); rerr != nil {
			err = rerr
			break
		}
		err = b.await(ctx, sess, handle)
	}
	if err != nil {
		_, _ = b.failSession(sess, err)
	}
}

// await is the single suspension point: it re-evaluates the page on a
// fixed cadence until a signal appears or the deadline passes. Deadline
// expiry is folded into the not-authenticated outcome.
func (b *Bridge) await(ctx context.Context, sess *Session, handle browser.Handle) error {
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		settled, err := b.classify(ctx, sess, handle)
		if err != nil {
			if isContextErr(err) {
				return b.timeoutOutcome(sess)
			}
			return err
		}
		if settled {
			return nil
		}
		select {
		case <-ctx.Done():
			return b.timeoutOutcome(sess)
		case <-ticker.C:
		}
	}
}

// classify runs one detector-then-extractor pass. It returns settled
// when the session reached a reportable state for this operation.
func (b *Bridge) classify(ctx context.Context, sess *Session, handle browser.Handle) (bool, error) {
	authenticated, signal, err := b.detector.Detect(ctx, handle)
	if err != nil {
		return false, err
	}
	if authenticated {
		sess.setState(StateAuthenticated)
		if err := b.persist(sess); err != nil {
			return false, err
		}
		b.log.Info(logging.CategoryDetector, "authenticated", "positive signal", map[string]any{
			"session_id": sess.ID,
			"heuristic":  signal,
		})
		return true, nil
	}

	if sess.State == StateAwaitingScan && !b.limiterFor(sess.ID).Allow() {
		// Artifact still fresh; skip another round of script
		// evaluation.
		return true, nil
	}

	artifact, err := b.extractor.Extract(ctx, handle)
	if err != nil {
		if browser.IsNotPresent(err) {
			// No canvas and no auth signal yet; keep waiting.
			return false, nil
		}
		return false, err
	}
	if bytes.Equal(artifact, sess.Artifact) {
		return true, nil
	}
	sess.setArtifact(artifact)
	if err := b.persist(sess); err != nil {
		return false, err
	}
	b.log.Info(logging.CategorySession, "artifact_refreshed", "qr extracted", map[string]any{
		"session_id": sess.ID,
		"bytes":      len(artifact),
	})
	return true, nil
}

// recover disposes a crashed handle and relaunches one against the same
// profile directory.
func (b *Bridge) recover(ctx context.Context, sess *Session, cause error) (browser.Handle, error) {
	browser.MetricDriverErrors.Inc()
	b.log.Warn(logging.CategoryDriver, "driver_error", cause.Error(), map[string]any{"session_id": sess.ID})
	handle, err := b.registry.Replace(ctx, b.handleConfig(sess.OwnerID))
	if err != nil {
		return nil, fmt.Errorf("relaunch after driver error: %w (cause: %v)", err, cause)
	}
	return handle, nil
}

// timeoutOutcome records a bounded wait that elapsed without a signal.
// Launching and awaiting sessions settle to not-authenticated; an
// already-held artifact keeps its state.
func (b *Bridge) timeoutOutcome(sess *Session) error {
	if sess.State == StateAwaitingScan || sess.State == StateAuthenticated {
		return nil
	}
	sess.setState(StateNotAuthenticated)
	return b.persist(sess)
}

func (b *Bridge) failSession(sess *Session, cause error) (*Session, error) {
	if isContextErr(cause) {
		if err := b.timeoutOutcome(sess); err != nil {
			return nil, err
		}
		return sess.Clone(), nil
	}
	sess.setError(cause.Error())
	if err := b.persist(sess); err != nil {
		return nil, err
	}
	b.log.Error(logging.CategorySession, "session_error", cause.Error(), map[string]any{
		"session_id": sess.ID,
		"owner_id":   sess.OwnerID,
	})
	return sess.Clone(), nil
}

func (b *Bridge) acquireWithRetry(ctx context.Context, ownerID string) (browser.Handle, error) {
	cfg := b.handleConfig(ownerID)
	handle, _, err := b.registry.Acquire(ctx, cfg)
	for attempt := 0; err != nil && browser.IsLaunchError(err) && attempt < b.cfg.RetryBudget; attempt++ {
		b.log.Warn(logging.CategoryDriver, "launch_retry", err.Error(), map[string]any{"owner_id": ownerID})
		handle, _, err = b.registry.Acquire(ctx, cfg)
	}
	return handle, err
}

// persist writes session state durably. Writes use their own deadline:
// a caller that timed out must still observe the transition later.
func (b *Bridge) persist(sess *Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.store.Save(ctx, sess); err != nil {
		return fmt.Errorf("persist session %s: %w", sess.ID, err)
	}
	return nil
}

// liveSession returns the owner's current non-closed session, if any.
func (b *Bridge) liveSession(ctx context.Context, ownerID string) *Session {
	b.mu.Lock()
	id, ok := b.owners[ownerID]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	sess, err := b.store.Load(ctx, id)
	if err != nil || sess.State.Terminal() {
		b.mu.Lock()
		if b.owners[ownerID] == id {
			delete(b.owners, ownerID)
		}
		b.mu.Unlock()
		return nil
	}
	return sess
}

func (b *Bridge) track(sess *Session) {
	b.mu.Lock()
	b.owners[sess.OwnerID] = sess.ID
	b.mu.Unlock()
}

func (b *Bridge) trackOwner(sess *Session) {
	b.mu.Lock()
	if _, ok := b.owners[sess.OwnerID]; !ok {
		b.owners[sess.OwnerID] = sess.ID
	}
	b.mu.Unlock()
}

func (b *Bridge) ownerLockFor(ownerID string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	lock, ok := b.ownerLocks[ownerID]
	if !ok {
		lock = &sync.Mutex{}
		b.ownerLocks[ownerID] = lock
	}
	return lock
}

func (b *Bridge) lockFor(id string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	lock, ok := b.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		b.locks[id] = lock
	}
	return lock
}

func (b *Bridge) limiterFor(id string) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	limiter, ok := b.limiters[id]
	if !ok {
		limit := rate.Inf
		if b.cfg.ArtifactRefresh > 0 {
			limit = rate.Every(b.cfg.ArtifactRefresh)
		}
		limiter = rate.NewLimiter(limit, 1)
		b.limiters[id] = limiter
	}
	return limiter
}

func (b *Bridge) handleConfig(ownerID string) browser.HandleConfig {
	cfg := browser.DefaultHandleConfig()
	cfg.OwnerID = ownerID
	cfg.EntryURL = b.cfg.EntryURL
	cfg.Headless = b.cfg.Headless
	if b.cfg.ProfileRoot != "" {
		cfg.ProfileDir = filepath.Join(b.cfg.ProfileRoot, sanitizePathPart(ownerID))
	}
	return cfg
}

func sanitizePathPart(part string) string {
	out := strings.Builder{}
	for _, r := range part {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out.WriteRune(r)
		default:
			out.WriteRune('_')
		}
	}
	if out.Len() == 0 {
		return "owner"
	}
	return out.String()
}

func (b *Bridge) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
