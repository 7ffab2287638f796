package webdriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"sync"
	"time"

	"github.com/castellanosj/warelay/pkg/browser"
)

// handle owns one driver process and its remote browser session.
type handle struct {
	id       string
	cfg      browser.HandleConfig
	client   *client
	cmd      *exec.Cmd
	waitDone chan struct{}

	operationTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

func (h *handle) ID() string {
	if h == nil {
		return ""
	}
	return h.id
}

func (h *handle) Navigate(ctx context.Context, url string) error {
	if err := h.ensureOpen(); err != nil {
		return err
	}
	ctx, cancel := h.withOperationTimeout(ctx)
	defer cancel()
	_, err := h.client.do(ctx, http.MethodPost, h.path("/url"), map[string]string{"url": url})
	return h.mapError("navigate", err)
}

func (h *handle) Refresh(ctx context.Context) error {
	if err := h.ensureOpen(); err != nil {
		return err
	}
	ctx, cancel := h.withOperationTimeout(ctx)
	defer cancel()
	_, err := h.client.do(ctx, http.MethodPost, h.path("/refresh"), map[string]any{})
	return h.mapError("refresh", err)
}

func (h *handle) FindElement(ctx context.Context, selector string) (browser.Element, error) {
	if err := h.ensureOpen(); err != nil {
		return browser.Element{}, err
	}
	ctx, cancel := h.withOperationTimeout(ctx)
	defer cancel()
	value, err := h.client.do(ctx, http.MethodPost, h.path("/element"), map[string]string{
		"using": "css selector",
		"value": selector,
	})
	if err != nil {
		return browser.Element{}, h.mapError("find_element", err)
	}
	var node map[string]string
	if err := json.Unmarshal(value, &node); err != nil {
		return browser.Element{}, fmt.Errorf("decode element: %w", err)
	}
	id, ok := node[elementKey]
	if !ok || id == "" {
		return browser.Element{}, browser.ErrNotPresent
	}
	return browser.Element{ID: id}, nil
}

func (h *handle) EvaluateScript(ctx context.Context, script string, args ...any) (string, error) {
	if err := h.ensureOpen(); err != nil {
		return "", err
	}
	ctx, cancel := h.withOperationTimeout(ctx)
	defer cancel()

	wireArgs := make([]any, 0, len(args))
	for _, arg := range args {
		if el, ok := arg.(browser.Element); ok {
			wireArgs = append(wireArgs, elementRef{id: el.ID})
			continue
		}
		wireArgs = append(wireArgs, arg)
	}
	value, err := h.client.do(ctx, http.MethodPost, h.path("/execute/sync"), map[string]any{
		"script": script,
		"args":   encodeScriptArgs(wireArgs),
	})
	if err != nil {
		return "", h.mapError("evaluate_script", err)
	}
	var result string
	if err := json.Unmarshal(value, &result); err != nil {
		// Non-string results come back as their raw JSON encoding.
		return string(value), nil
	}
	return result, nil
}

func (h *handle) Snapshot(ctx context.Context) (browser.Snapshot, error) {
	if err := h.ensureOpen(); err != nil {
		return browser.Snapshot{}, err
	}
	ctx, cancel := h.withOperationTimeout(ctx)
	defer cancel()

	snap := browser.Snapshot{Taken: time.Now()}
	url, err := h.stringGet(ctx, "/url")
	if err != nil {
		return browser.Snapshot{}, h.mapError("snapshot", err)
	}
	snap.URL = url
	title, err := h.stringGet(ctx, "/title")
	if err != nil {
		return browser.Snapshot{}, h.mapError("snapshot", err)
	}
	snap.Title = title
	source, err := h.stringGet(ctx, "/source")
	if err != nil {
		return browser.Snapshot{}, h.mapError("snapshot", err)
	}
	snap.Source = source
	return snap, nil
}

// Close deletes the remote session and terminates the driver process.
// Safe to call more than once.
func (h *handle) Close() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = h.client.do(ctx, http.MethodDelete, "/session/"+h.id, nil)

	if h.cmd != nil && h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
	if h.waitDone != nil {
		<-h.waitDone
	}
	return nil
}

func (h *handle) ensureOpen() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return browser.ErrHandleClosed
	}
	return nil
}

func (h *handle) path(suffix string) string {
	return "/session/" + h.id + suffix
}

func (h *handle) stringGet(ctx context.Context, suffix string) (string, error) {
	value, err := h.client.do(ctx, http.MethodGet, h.path(suffix), nil)
	if err != nil {
		return "", err
	}
	var out string
	if err := json.Unmarshal(value, &out); err != nil {
		return "", fmt.Errorf("decode %s: %w", suffix, err)
	}
	return out, nil
}

func (h *handle) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	timeout := h.operationTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// mapError folds wire and transport failures into the closed taxonomy.
func (h *handle) mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var we *wireError
	if errors.As(err, &we) {
		switch we.Code {
		case "no such element":
			return browser.ErrNotPresent
		case "invalid session id", "no such window", "session not created":
			return browser.NewDriverError(op, we)
		default:
			return fmt.Errorf("%s: %w", op, we)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	// Anything else means the process stopped answering.
	return browser.NewDriverError(op, err)
}
