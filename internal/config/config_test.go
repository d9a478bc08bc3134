package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "gemini-2.5-pro", cfg.Models.PlannerAgent)
	assert.Equal(t, 2, cfg.Concurrency)
}

func TestLoadFromPartialFileAppliesFloors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invisibrow.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"models": {"plannerAgent": "gemini-2.5-flash"},
		"concurrency": 0
	}`), 0644))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-flash", cfg.Models.PlannerAgent)
	assert.Equal(t, "gemini-2.5-flash", cfg.Models.ExecutorAgent, "unset keys take defaults")
	assert.Equal(t, 2, cfg.Concurrency, "zero concurrency floors to default")
}

func TestLoadFromInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invisibrow.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0644))
	_, err := LoadFrom(path)
	assert.Error(t, err)
}

func TestDataDirHonorsOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvDataDir, dir)
	got, err := DataDir()
	require.NoError(t, err)
	assert.Equal(t, dir, got)
}

func TestDataDirXDGFallback(t *testing.T) {
	t.Setenv(EnvDataDir, "")
	t.Setenv("XDG_DATA_HOME", "/xdg/data")
	got, err := DataDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/xdg/data", "invisibrow"), got)
}

func TestUITestMode(t *testing.T) {
	t.Setenv(EnvUITest, "")
	assert.False(t, UITestMode())
	t.Setenv(EnvUITest, "1")
	assert.True(t, UITestMode())
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invisibrow.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"concurrency": 3}`), 0644))

	reloaded := make(chan Config, 1)
	w, err := Watch(path, func(cfg Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte(`{"concurrency": 5}`), 0644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 5, cfg.Concurrency)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never fired")
	}
}
