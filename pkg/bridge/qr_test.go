package bridge_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellanosj/warelay/pkg/bridge"
	"github.com/castellanosj/warelay/pkg/browser"
)

func TestExtractReturnsPNGBytes(t *testing.T) {
	h := &fakeHandle{id: "qr", page: loginPage()}

	payload, err := bridge.NewExtractor().Extract(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, qrBytes, payload)
}

func TestExtractNoCanvas(t *testing.T) {
	h := &fakeHandle{id: "qr", page: chatPage()}

	_, err := bridge.NewExtractor().Extract(context.Background(), h)
	assert.ErrorIs(t, err, browser.ErrNotPresent)
}

func TestExtractScriptThrowFoldsToNotPresent(t *testing.T) {
	h := &fakeHandle{id: "qr", page: loginPage()}
	h.scriptErr = errors.New("javascript error: canvas is tainted")

	_, err := bridge.NewExtractor().Extract(context.Background(), h)
	assert.ErrorIs(t, err, browser.ErrNotPresent,
		"a canvas that cannot serialize reads the same as no canvas")
}

func TestExtractMalformedPayloadFoldsToNotPresent(t *testing.T) {
	page := loginPage()
	page.canvasData = "data:image/jpeg;base64,AAAA"
	h := &fakeHandle{id: "qr", page: page}

	_, err := bridge.NewExtractor().Extract(context.Background(), h)
	assert.ErrorIs(t, err, browser.ErrNotPresent)
}

func TestExtractEmptyPayloadFoldsToNotPresent(t *testing.T) {
	page := loginPage()
	page.canvasData = "data:image/png;base64,"
	h := &fakeHandle{id: "qr", page: page}

	_, err := bridge.NewExtractor().Extract(context.Background(), h)
	assert.ErrorIs(t, err, browser.ErrNotPresent)
}

func TestExtractDriverErrorPassesThrough(t *testing.T) {
	h := &fakeHandle{id: "qr", page: loginPage()}
	h.breakDriver()

	_, err := bridge.NewExtractor().Extract(context.Background(), h)
	require.Error(t, err)
	assert.True(t, browser.IsDriverError(err))
	assert.False(t, browser.IsNotPresent(err))
}
