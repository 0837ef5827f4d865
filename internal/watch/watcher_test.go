package watch

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebuildFiresOnSourceChange(t *testing.T) {
	dir := t.TempDir()

	var rebuilds atomic.Int32
	w, err := NewWatcher(dir, func() { rebuilds.Add(1) })
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.conc"), []byte("fn main(){}"), 0644))

	require.Eventually(t, func() bool {
		return rebuilds.Load() >= 1
	}, 3*time.Second, 50*time.Millisecond)
}

func TestNonSourceFilesIgnored(t *testing.T) {
	dir := t.TempDir()

	var rebuilds atomic.Int32
	w, err := NewWatcher(dir, func() { rebuilds.Add(1) })
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	time.Sleep(800 * time.Millisecond)
	assert.Equal(t, int32(0), rebuilds.Load())
}

func TestSourceFileFilter(t *testing.T) {
	assert.True(t, isSourceFile("a/b/main.conc"))
	assert.True(t, isSourceFile("Concerto.toml"))
	assert.False(t, isSourceFile("main.go"))
	assert.False(t, isSourceFile("README.md"))
}
