package runtimecfg

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type retainerBlock struct {
	Capacity int    `yaml:"capacity"`
	Policy   string `yaml:"policy"`
}

func TestManagerLoad(t *testing.T) {
	t.Run("missing_file_returns_zero_value", func(t *testing.T) {
		dir := t.TempDir()
		mgr := NewManager(filepath.Join(dir, "missing.yaml"))
		u, err := mgr.Load()
		require.NoError(t, err)
		assert.Empty(t, u.Checksum)
	})

	t.Run("decodes_retainer_block", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "runtime.yaml")
		require.NoError(t, os.WriteFile(path, []byte("retainer:\n  capacity: 64\n  policy: spill\n"), 0o644))

		mgr := NewManager(path)
		u, err := mgr.Load()
		require.NoError(t, err)
		assert.NotEmpty(t, u.Checksum)

		var rb retainerBlock
		require.NoError(t, u.Decode(u.Retainer, &rb))
		assert.Equal(t, 64, rb.Capacity)
		assert.Equal(t, "spill", rb.Policy)
	})
}

func TestManagerWatchEmitsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retainer:\n  capacity: 1\n"), 0o644))

	mgr := NewManager(path)
	_, err := mgr.Load()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, errs := mgr.Watch(ctx)

	require.NoError(t, os.WriteFile(path, []byte("retainer:\n  capacity: 99\n"), 0o644))

	select {
	case u := <-updates:
		var rb retainerBlock
		require.NoError(t, u.Decode(u.Retainer, &rb))
		assert.Equal(t, 99, rb.Capacity)
	case err := <-errs:
		t.Fatalf("unexpected watch error: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for runtime config update")
	}

	require.NoError(t, mgr.Stop())
}
