package sync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, relPath, content string) {
	t.Helper()
	absPath := filepath.Join(root, filepath.FromSlash(relPath))
	require.NoError(t, os.MkdirAll(filepath.Dir(absPath), 0o755))
	require.NoError(t, os.WriteFile(absPath, []byte(content), 0o644))
}

func TestScanMissingRootIsEmpty(t *testing.T) {
	s := NewScanner(filepath.Join(t.TempDir(), "does-not-exist"))
	state, err := s.Scan()
	require.NoError(t, err)
	assert.Empty(t, state.Files)
}

func TestScanListsFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "aaa")
	writeFile(t, root, "week1/b.pdf", "bbbb")

	state, err := NewScanner(root).Scan()
	require.NoError(t, err)

	require.Len(t, state.Files, 2)
	assert.True(t, state.Has("a.txt"))
	assert.True(t, state.Has("week1/b.pdf"))
	assert.EqualValues(t, 4, state.Files["week1/b.pdf"].Size)
}

func TestScanOrderIsStable(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b.txt", "b")
	writeFile(t, root, "a.txt", "a")
	writeFile(t, root, "sub/c.txt", "c")

	for range 5 {
		state, err := NewScanner(root).Scan()
		require.NoError(t, err)
		var paths []string
		for _, obs := range state.Ordered {
			paths = append(paths, obs.RelPath)
		}
		assert.Equal(t, []string{"a.txt", "b.txt", "sub/c.txt"}, paths)
	}
}

func TestScanSkipsInternalDirAndNoise(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep.txt", "x")
	writeFile(t, root, InternalDirName+"/manifest.db", "db")
	writeFile(t, root, ".DS_Store", "junk")
	writeFile(t, root, "notes.tmp", "junk")

	state, err := NewScanner(root).Scan()
	require.NoError(t, err)

	assert.Len(t, state.Files, 1)
	assert.True(t, state.Has("keep.txt"))
}

func TestScanHonorsIgnoreFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ignoreFileName, "drafts/\n*.log\n")
	writeFile(t, root, "keep.txt", "x")
	writeFile(t, root, "drafts/wip.txt", "x")
	writeFile(t, root, "debug.log", "x")

	state, err := NewScanner(root).Scan()
	require.NoError(t, err)

	assert.Len(t, state.Files, 1)
	assert.True(t, state.Has("keep.txt"))
}

func TestScanIndexesByNormalizedName(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "week1/Lecture Notes.PDF", "x")

	state, err := NewScanner(root).Scan()
	require.NoError(t, err)

	obs := state.ByName["lecture notes.pdf"]
	require.Len(t, obs, 1)
	assert.Equal(t, "week1/Lecture Notes.PDF", obs[0].RelPath)
}

func TestScannerHashMemoized(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "hello")

	s := NewScanner(root)
	first, err := s.Hash("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", first)

	again, err := s.Hash("a.txt")
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestScannerHashMissingFile(t *testing.T) {
	s := NewScanner(t.TempDir())
	_, err := s.Hash("nope.txt")
	assert.Error(t, err)
}
