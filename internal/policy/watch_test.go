package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: block\n"), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	eval, err := NewEvaluator(cfg)
	require.NoError(t, err)

	w := NewWatcher(path, eval, nil)
	changed := make(chan Config, 4)
	w.OnChange(func(c Config) { changed <- c })
	require.NoError(t, w.Start())
	t.Cleanup(func() { w.Close() })

	require.NoError(t, os.WriteFile(path, []byte("mode: warn\n"), 0o644))

	select {
	case c := <-changed:
		assert.Equal(t, ModeWarn, c.Mode)
	case <-time.After(5 * time.Second):
		t.Fatal("policy was not reloaded")
	}
	assert.Equal(t, ModeWarn, eval.Config().Mode)
}

func TestWatcher_InvalidEditKeepsPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: warn\n"), 0o644))

	eval, err := NewEvaluator(Config{Mode: ModeWarn})
	require.NoError(t, err)
	w := NewWatcher(path, eval, nil)

	require.NoError(t, os.WriteFile(path, []byte("mode: nope\n"), 0o644))
	w.Reload()

	select {
	case err := <-w.Errors():
		assert.Contains(t, err.Error(), "reload policy")
	default:
		t.Fatal("expected a reload error")
	}
	assert.Equal(t, ModeWarn, eval.Config().Mode)
	require.NoError(t, w.Close())
}
