package webdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// elementKey is the W3C WebDriver element identifier property.
const elementKey = "element-6066-11e4-a52e-4f735466cecf"

// wireError is a structured error returned by the remote end. Transport
// failures are reported as plain errors instead, so callers can tell a
// dead driver from a well-formed refusal.
type wireError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *wireError) Error() string {
	return fmt.Sprintf("webdriver: %s: %s", e.Code, e.Message)
}

// client speaks the W3C WebDriver JSON wire protocol to one driver
// process.
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string) *client {
	return &client{
		baseURL: baseURL,
		// Timeout left to per-request contexts; script evaluation can
		// legitimately take the full operation deadline.
		http: &http.Client{},
	}
}

// do performs one wire call and returns the decoded "value" member.
func (c *client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("driver unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var envelope struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var we wireError
		if err := json.Unmarshal(envelope.Value, &we); err == nil && we.Code != "" {
			return nil, &we
		}
		return nil, fmt.Errorf("webdriver: status %d", resp.StatusCode)
	}
	return envelope.Value, nil
}

// ready polls GET /status until the driver reports readiness or the
// deadline passes.
func (c *client) ready(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	if timeout <= 0 {
		deadline = time.Now().Add(5 * time.Second)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	var lastErr error
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		value, err := c.do(ctx, http.MethodGet, "/status", nil)
		if err == nil {
			var status struct {
				Ready bool `json:"ready"`
			}
			if json.Unmarshal(value, &status) == nil && status.Ready {
				return nil
			}
			lastErr = fmt.Errorf("driver not ready")
		} else {
			lastErr = err
		}
		time.Sleep(100 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for driver")
	}
	return fmt.Errorf("connect driver: %w", lastErr)
}

// encodeScriptArgs rewrites element arguments into wire form.
func encodeScriptArgs(args []any) []any {
	if len(args) == 0 {
		return []any{}
	}
	encoded := make([]any, 0, len(args))
	for _, arg := range args {
		switch v := arg.(type) {
		case elementRef:
			encoded = append(encoded, map[string]string{elementKey: v.id})
		default:
			encoded = append(encoded, v)
		}
	}
	return encoded
}

// elementRef marks a script argument as a held element reference.
type elementRef struct {
	id string
}
