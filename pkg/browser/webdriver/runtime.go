package webdriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/castellanosj/warelay/pkg/browser"
)

// Runtime launches one driver process per handle and speaks the W3C
// wire protocol to it.
type Runtime struct {
	cfg Config
}

// NewRuntime creates a WebDriver runtime adapter.
func NewRuntime(cfg Config) (*Runtime, error) {
	merged := cfg.withDefaults()
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return &Runtime{cfg: merged}, nil
}

// NewHandle spawns a driver process bound to the profile directory and
// opens a browser session through it.
func (r *Runtime) NewHandle(ctx context.Context, handleCfg browser.HandleConfig) (browser.Handle, error) {
	if r == nil {
		return nil, browser.ErrHandleClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	profileDir, err := resolveProfileDir(handleCfg)
	if err != nil {
		return nil, browser.NewLaunchError("profile", err)
	}

	port, err := freePort()
	if err != nil {
		return nil, browser.NewLaunchError("port", err)
	}

	// The process must outlive the caller's deadline: Open's timeout
	// bounds the wait, not the handle lifetime.
	cmd := exec.Command(r.cfg.DriverPath, fmt.Sprintf("--port=%d", port))
	if err := cmd.Start(); err != nil {
		return nil, browser.NewLaunchError("spawn", err)
	}
	waitDone := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(waitDone)
	}()

	cli := newClient(fmt.Sprintf("http://127.0.0.1:%d", port))
	if err := cli.ready(ctx, r.cfg.ConnectTimeout); err != nil {
		_ = cmd.Process.Kill()
		<-waitDone
		return nil, browser.NewLaunchError("connect", err)
	}

	sessionID, err := r.createSession(ctx, cli, profileDir, handleCfg.Headless)
	if err != nil {
		_ = cmd.Process.Kill()
		<-waitDone
		return nil, browser.NewLaunchError("session", err)
	}

	h := &handle{
		id:               sessionID,
		cfg:              handleCfg,
		client:           cli,
		cmd:              cmd,
		waitDone:         waitDone,
		operationTimeout: r.cfg.OperationTimeout,
	}
	if url := strings.TrimSpace(handleCfg.EntryURL); url != "" {
		if err := h.Navigate(ctx, url); err != nil {
			_ = h.Close()
			return nil, browser.NewLaunchError("navigate", err)
		}
	}
	return h, nil
}

// Close releases runtime resources. Handles own their processes, so
// there is nothing runtime-wide to tear down.
func (r *Runtime) Close() error {
	return nil
}

func (r *Runtime) createSession(ctx context.Context, cli *client, profileDir string, headless bool) (string, error) {
	args := []string{
		"--no-sandbox",
		"--disable-dev-shm-usage",
		"--user-data-dir=" + profileDir,
	}
	if headless {
		args = append(args, "--headless=new")
	}
	args = append(args, r.cfg.ExtraArgs...)

	chromeOpts := map[string]any{"args": args}
	if strings.TrimSpace(r.cfg.BrowserPath) != "" {
		chromeOpts["binary"] = r.cfg.BrowserPath
	}
	body := map[string]any{
		"capabilities": map[string]any{
			"alwaysMatch": map[string]any{
				"browserName":        "chrome",
				"goog:chromeOptions": chromeOpts,
			},
		},
	}

	value, err := cli.do(ctx, http.MethodPost, "/session", body)
	if err != nil {
		return "", err
	}
	var created struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(value, &created); err != nil {
		return "", fmt.Errorf("decode session: %w", err)
	}
	if created.SessionID == "" {
		return "", errors.New("driver returned empty session id")
	}
	return created.SessionID, nil
}

func resolveProfileDir(cfg browser.HandleConfig) (string, error) {
	dir := strings.TrimSpace(cfg.ProfileDir)
	if dir == "" {
		if strings.TrimSpace(cfg.OwnerID) == "" {
			return "", errors.New("owner_id or profile_dir required")
		}
		dir = filepath.Join(os.TempDir(), "warelay", "profiles", sanitizeOwnerID(cfg.OwnerID))
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create profile dir: %w", err)
	}
	return dir, nil
}

func sanitizeOwnerID(ownerID string) string {
	out := strings.Builder{}
	for _, r := range ownerID {
		switch {
		case r >= 'a' && r <= 'z':
			out.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			out.WriteRune(r)
		case r >= '0' && r <= '9':
			out.WriteRune(r)
		case r == '-' || r == '_':
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

func freePort() (int, error) {
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := l.Addr().(*net.TCPAddr).Port
	if err := l.Close(); err != nil {
		return 0, err
	}
	return port, nil
}
