package bridge

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/castellanosj/warelay/pkg/browser"
)

// canvasSelector locates the element the target renders the login QR
// into. There is exactly one canvas on the pre-login screen.
const canvasSelector = "canvas"

// canvasToPNG serializes the canvas pixel buffer into a PNG data URL.
const canvasToPNG = `var canvas = arguments[0]; return canvas.toDataURL('image/png');`

const dataURLPrefix = "data:image/png;base64,"

// Extractor pulls the authentication QR image out of the live page. It
// performs no retries; backoff is the bridge's concern.
type Extractor struct{}

// NewExtractor returns a QR extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract returns the current QR image as PNG bytes. A missing canvas,
// or a canvas that cannot be serialized yet, both return ErrNotPresent:
// the caller cannot distinguish "too early" from "already logged in",
// and does not need to. Driver failures pass through unchanged.
func (e *Extractor) Extract(ctx context.Context, handle browser.Handle) ([]byte, error) {
	el, err := handle.FindElement(ctx, canvasSelector)
	if err != nil {
		if browser.IsDriverError(err) {
			return nil, err
		}
		return nil, browser.ErrNotPresent
	}

	dataURL, err := handle.EvaluateScript(ctx, canvasToPNG, el)
	if err != nil {
		if browser.IsDriverError(err) {
			return nil, err
		}
		// Evaluation throwing (security restriction, unpainted canvas)
		// folds into the same benign outcome as no canvas at all.
		return nil, browser.ErrNotPresent
	}

	payload, err := decodeDataURL(dataURL)
	if err != nil {
		return nil, browser.ErrNotPresent
	}
	return payload, nil
}

func decodeDataURL(dataURL string) ([]byte, error) {
	trimmed := strings.TrimSpace(dataURL)
	if !strings.HasPrefix(trimmed, dataURLPrefix) {
		return nil, fmt.Errorf("unexpected canvas payload")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(trimmed, dataURLPrefix))
	if err != nil {
		return nil, fmt.Errorf("decode canvas payload: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty canvas payload")
	}
	return raw, nil
}
