package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWatchDirectory_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contactsYAML), 0o644))
	d, err := LoadDirectory(path)
	require.NoError(t, err)
	d.WithDefault(Contact{Email: "ops@chain.com"})

	w, err := WatchDirectory(context.Background(), d, path, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	updated := "contacts:\n  store_1: {email: night-shift@store.com}\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	require.Eventually(t, func() bool {
		v, _ := d.Lookup("store_1", ContactEmail)
		return v == "night-shift@store.com"
	}, 5*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, w.Reloads(), int64(1))

	v, ok := d.Lookup("store_9", ContactEmail)
	assert.True(t, ok)
	assert.Equal(t, "ops@chain.com", v, "configured default survives a file without one")
}

func TestWatchDirectory_KeepsContactsOnBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contactsYAML), 0o644))
	d, err := LoadDirectory(path)
	require.NoError(t, err)

	w, err := WatchDirectory(context.Background(), d, path, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	require.NoError(t, os.WriteFile(path, []byte("contacts: [oops"), 0o644))
	require.Eventually(t, func() bool { return w.Failures() > 0 }, 5*time.Second, 20*time.Millisecond)

	v, _ := d.Lookup("store_1", ContactEmail)
	assert.Equal(t, "store1@store.com", v)
}

func TestWatchDirectory_IgnoresSiblingsAndStops(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "contacts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contactsYAML), 0o644))
	d, err := LoadDirectory(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	w, err := WatchDirectory(ctx, d, path, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, w.Reloads())
	assert.Zero(t, w.Failures())

	cancel()
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestWatchDirectory_MissingParent(t *testing.T) {
	_, err := WatchDirectory(context.Background(), NewDirectory(nil), filepath.Join(t.TempDir(), "nope", "contacts.yaml"), nil)
	assert.Error(t, err)
}
