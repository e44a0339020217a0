package hotreload

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func TestDisabledWatcherStartIsNoop(t *testing.T) {
	w, err := New(Config{Enabled: false}, "/nonexistent", func(string) error { return nil }, testLogger())
	require.NoError(t, err)
	require.NoError(t, w.Start())
	require.NoError(t, w.Stop())
	assert.False(t, w.Stats().IsWatching)
}

func TestWatcherDetectsFileChange(t *testing.T) {
	dir := t.TempDir()
	maskFile := filepath.Join(dir, "core_mask")
	require.NoError(t, os.WriteFile(maskFile, []byte("0x1"), 0644))

	applied := make(chan string, 4)
	setMask := func(mask string) error {
		applied <- mask
		return nil
	}

	w, err := New(Config{
		Enabled:          true,
		WatchInterval:    50 * time.Millisecond,
		DebounceInterval: 10 * time.Millisecond,
	}, maskFile, setMask, testLogger())
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(maskFile, []byte("0x3\n"), 0644))

	select {
	case mask := <-applied:
		assert.Equal(t, "0x3", mask)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for core mask reload")
	}

	stats := w.Stats()
	assert.EqualValues(t, 1, stats.SuccessfulReloads)
	assert.Equal(t, "0x3", stats.CurrentMask)
}

func TestWatcherSkipsUnchangedContent(t *testing.T) {
	dir := t.TempDir()
	maskFile := filepath.Join(dir, "core_mask")
	require.NoError(t, os.WriteFile(maskFile, []byte("0x1"), 0644))

	calls := make(chan string, 4)
	setMask := func(mask string) error {
		calls <- mask
		return nil
	}

	w, err := New(Config{
		Enabled:          true,
		WatchInterval:    20 * time.Millisecond,
		DebounceInterval: 10 * time.Millisecond,
	}, maskFile, setMask, testLogger())
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	time.Sleep(150 * time.Millisecond)
	select {
	case mask := <-calls:
		t.Fatalf("unexpected reload with unchanged content: %s", mask)
	default:
	}
}

func TestWatcherReportsSetMaskFailure(t *testing.T) {
	dir := t.TempDir()
	maskFile := filepath.Join(dir, "core_mask")
	require.NoError(t, os.WriteFile(maskFile, []byte("0x1"), 0644))

	w, err := New(Config{
		Enabled:          true,
		WatchInterval:    50 * time.Millisecond,
		DebounceInterval: 10 * time.Millisecond,
	}, maskFile, func(string) error {
		return assert.AnError
	}, testLogger())
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(maskFile, []byte("0xF"), 0644))

	require.Eventually(t, func() bool {
		return w.Stats().FailedReloads > 0
	}, 2*time.Second, 20*time.Millisecond)

	stats := w.Stats()
	assert.Contains(t, stats.LastError, "apply core mask")
}
