package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		events = append(events, e)
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestLoggerWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	log, err := NewLogger(dir)
	require.NoError(t, err)
	defer log.Close()

	require.NoError(t, log.Info(CategorySession, "session_launching", "browser handle acquired", map[string]any{
		"owner_id": "alice",
	}))
	require.NoError(t, log.Close())

	events := readEvents(t, filepath.Join(dir, "warelay.jsonl"))
	require.Len(t, events, 1)
	assert.Equal(t, LevelInfo, events[0].Level)
	assert.Equal(t, CategorySession, events[0].Category)
	assert.Equal(t, "session_launching", events[0].EventType)
	assert.Equal(t, "alice", events[0].Details["owner_id"])
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestErrorsMirroredToErrorLog(t *testing.T) {
	dir := t.TempDir()
	log, err := NewLogger(dir)
	require.NoError(t, err)

	require.NoError(t, log.Info(CategoryDriver, "launch", "ok", nil))
	require.NoError(t, log.Error(CategoryDriver, "driver_error", "invalid session id", nil))
	require.NoError(t, log.Close())

	service := readEvents(t, filepath.Join(dir, "warelay.jsonl"))
	assert.Len(t, service, 2)

	errors := readEvents(t, filepath.Join(dir, "errors.jsonl"))
	require.Len(t, errors, 1)
	assert.Equal(t, "driver_error", errors[0].EventType)
}

func TestMinLevelFiltersDebug(t *testing.T) {
	dir := t.TempDir()
	log, err := NewLogger(dir)
	require.NoError(t, err)

	require.NoError(t, log.Debug(CategoryDetector, "heuristic_miss", "no signal", nil))
	log.SetMinLevel(LevelDebug)
	require.NoError(t, log.Debug(CategoryDetector, "heuristic_miss", "no signal", nil))
	require.NoError(t, log.Close())

	events := readEvents(t, filepath.Join(dir, "warelay.jsonl"))
	assert.Len(t, events, 1, "debug events pass only after lowering the floor")
}

func TestDiscardLoggerDropsEverything(t *testing.T) {
	log := Discard()
	assert.NoError(t, log.Error(CategorySession, "session_error", "boom", nil))
	assert.NoError(t, log.Close())
}

func TestCloseIsSafeTwice(t *testing.T) {
	log, err := NewLogger(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, log.Close())
	assert.NoError(t, log.Close())
}
