package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, int64(18000), cfg.Ledger.InitialAllowance)
	assert.Equal(t, 1500, cfg.Pomodoro.FocusSeconds)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
listen: 127.0.0.1:9000
tick_interval: 250ms
pomodoro:
  focus_seconds: 600
  draw_from_unallocated: true
ledger:
  initial_allowance: 60
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, 250*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, 600, cfg.Pomodoro.FocusSeconds)
	assert.Equal(t, 300, cfg.Pomodoro.BreakSeconds, "unset keys keep defaults")
	assert.True(t, cfg.Pomodoro.DrawFromUnallocated)
	assert.Equal(t, int64(60), cfg.Ledger.InitialAllowance)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":      "pomodoro: [",
		"zero focus":    "pomodoro:\n  focus_seconds: 0\n",
		"negative seed": "ledger:\n  initial_allowance: -1\n",
		"empty listen":  "listen: \"\"\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.Pomodoro.BreakSeconds = 120

	require.NoError(t, Save(path, cfg))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)

	assert.Error(t, Save(path, nil))
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Save(path, DefaultConfig()))

	got := make(chan *Config, 4)
	w := NewWatcher(path, func(c *Config) {
		select {
		case got <- c:
		default:
		}
	})
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	updated := DefaultConfig()
	updated.Pomodoro.FocusSeconds = 42
	// Rewrite until the watcher is registered and reports the change.
	deadline := time.After(5 * time.Second)
	for {
		require.NoError(t, Save(path, updated))
		select {
		case c := <-got:
			assert.Equal(t, 42, c.Pomodoro.FocusSeconds)
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("watcher did not report the change")
		}
	}
}
