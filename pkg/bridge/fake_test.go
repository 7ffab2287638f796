package bridge_test

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/castellanosj/warelay/pkg/browser"
)

// qrBytes is the PNG payload the fake canvas serializes to.
var qrBytes = []byte("\x89PNG-fake-qr-payload")

var qrDataURL = "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrBytes)

const (
	loginSource = `<html><head><title>WhatsApp</title></head><body><div class="landing-window"><canvas aria-label="Scan this QR code"></canvas></div></body></html>`
	chatSource  = `<html><head><title>WhatsApp</title></head><body><span data-icon="chat"></span><div id="pane-side"></div></body></html>`
	blankSource = `<html><head><title>Loading</title></head><body><div class="spinner"></div></body></html>`
)

// fakePage is the page a fakeHandle reports. canvasData, when non-empty,
// is the data URL returned by script evaluation against the canvas.
type fakePage struct {
	url        string
	title      string
	source     string
	canvasData string
}

func loginPage() fakePage {
	return fakePage{
		url:        "https://web.whatsapp.com/",
		title:      "WhatsApp",
		source:     loginSource,
		canvasData: qrDataURL,
	}
}

func chatPage() fakePage {
	return fakePage{
		url:    "https://web.whatsapp.com/",
		title:  "WhatsApp",
		source: chatSource,
	}
}

func blankPage() fakePage {
	return fakePage{
		url:    "https://web.whatsapp.com/",
		title:  "Loading",
		source: blankSource,
	}
}

// fakeHandle is an in-memory stand-in for a driver-backed browser
// handle. Pages and failures are scripted by the test.
type fakeHandle struct {
	mu   sync.Mutex
	id   string
	page fakePage

	snapErr    error
	findErr    error
	scriptErr  error
	refreshErr error

	closed    bool
	refreshes int
}

func (h *fakeHandle) setPage(p fakePage) {
	h.mu.Lock()
	h.page = p
	h.mu.Unlock()
}

// breakDriver makes every subsequent driver call fail as an unreachable
// process.
func (h *fakeHandle) breakDriver() {
	h.mu.Lock()
	defer h.mu.Unlock()
	err := browser.NewDriverError("fake", fmt.Errorf("invalid session id"))
	h.snapErr = err
	h.findErr = err
	h.scriptErr = err
	h.refreshErr = err
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Navigate(context.Context, string) error { return nil }

func (h *fakeHandle) Refresh(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refreshes++
	return h.refreshErr
}

func (h *fakeHandle) FindElement(_ context.Context, selector string) (browser.Element, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.findErr != nil {
		return browser.Element{}, h.findErr
	}
	if selector == "canvas" && h.page.canvasData != "" {
		return browser.Element{ID: "node-1"}, nil
	}
	return browser.Element{}, browser.ErrNotPresent
}

func (h *fakeHandle) EvaluateScript(_ context.Context, _ string, _ ...any) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.scriptErr != nil {
		return "", h.scriptErr
	}
	return h.page.canvasData, nil
}

func (h *fakeHandle) Snapshot(context.Context) (browser.Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.snapErr != nil {
		return browser.Snapshot{}, h.snapErr
	}
	return browser.Snapshot{
		URL:    h.page.url,
		Title:  h.page.title,
		Source: h.page.source,
		Taken:  time.Now(),
	}, nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// fakeRuntime hands out scripted handles and counts launches.
type fakeRuntime struct {
	mu       sync.Mutex
	launches int
	handles  []*fakeHandle

	// nextPage seeds each new handle; defaults to the login page.
	nextPage fakePage
	// broken makes new handles fail every driver call.
	broken bool
	// launchFailures makes that many leading launches fail outright.
	launchFailures int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{nextPage: loginPage()}
}

func (r *fakeRuntime) NewHandle(_ context.Context, _ browser.HandleConfig) (browser.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.launches++
	if r.launchFailures > 0 {
		r.launchFailures--
		return nil, browser.NewLaunchError("spawn", fmt.Errorf("binary not found"))
	}
	h := &fakeHandle{
		id:   fmt.Sprintf("handle-%d", r.launches),
		page: r.nextPage,
	}
	if r.broken {
		err := browser.NewDriverError("fake", fmt.Errorf("invalid session id"))
		h.snapErr = err
		h.findErr = err
		h.scriptErr = err
		h.refreshErr = err
	}
	r.handles = append(r.handles, h)
	return h, nil
}

func (r *fakeRuntime) Close() error { return nil }

func (r *fakeRuntime) launchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.launches
}

func (r *fakeRuntime) lastHandle() *fakeHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.handles) == 0 {
		return nil
	}
	return r.handles[len(r.handles)-1]
}

func (r *fakeRuntime) setBroken(broken bool) {
	r.mu.Lock()
	r.broken = broken
	r.mu.Unlock()
}

func (r *fakeRuntime) setNextPage(p fakePage) {
	r.mu.Lock()
	r.nextPage = p
	r.mu.Unlock()
}
