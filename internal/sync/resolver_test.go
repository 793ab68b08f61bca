package sync

import (
	"testing"
	"time"

	"github.com/lmsync/lmsync/internal/lms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileItem(id int64, filename string, size int64) *lms.Item {
	return &lms.Item{
		Ref:         lms.FileRef(id),
		Kind:        lms.KindFile,
		DisplayName: filename,
		Filename:    filename,
		Size:        size,
		ModifiedAt:  time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
		URL:         "https://lms.test/files/download",
	}
}

func pageItem(id int64, title string) *lms.Item {
	return &lms.Item{
		Ref:         lms.ShortcutRef(id),
		Kind:        lms.KindPage,
		DisplayName: title,
		Filename:    title + ".html",
		URL:         "https://lms.test/pages/" + title,
	}
}

func scanState(t *testing.T, s *Scanner) *LocalState {
	t.Helper()
	state, err := s.Scan()
	require.NoError(t, err)
	return state
}

func TestResolveManifestTierWins(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "tracked.pdf", "data")
	s := NewScanner(root)

	item := fileItem(1, "tracked.pdf", 4)
	manifest := map[lms.ItemRef]*Entry{
		item.Ref: {Ref: item.Ref, Name: "tracked.pdf", LocalPath: "tracked.pdf", Size: 4},
	}

	bindings := NewResolver(s, 0.85).Resolve([]*lms.Item{item}, manifest, scanState(t, s))
	require.Len(t, bindings, 1)
	assert.Equal(t, MatchManifest, bindings[0].Tier)
	assert.Equal(t, "tracked.pdf", bindings[0].RelPath)
	assert.NotNil(t, bindings[0].Local)
}

func TestResolveAdoptsByNameAndSize(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Lecture 1.pdf", "12345")
	s := NewScanner(root)

	item := fileItem(2, "lecture 1.pdf", 5)
	bindings := NewResolver(s, 0.85).Resolve([]*lms.Item{item}, nil, scanState(t, s))

	require.Len(t, bindings, 1)
	assert.Equal(t, MatchNameSize, bindings[0].Tier)
	assert.Equal(t, "Lecture 1.pdf", bindings[0].RelPath)
}

func TestResolveAdoptsByContentHash(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "renamed-by-student.pdf", "hello")
	s := NewScanner(root)

	item := fileItem(3, "original.pdf", 5)
	item.Digest = "5d41402abc4b2a76b9719d911017c592" // md5("hello")

	bindings := NewResolver(s, 0.85).Resolve([]*lms.Item{item}, nil, scanState(t, s))
	require.Len(t, bindings, 1)
	assert.Equal(t, MatchHash, bindings[0].Tier)
	assert.Equal(t, "renamed-by-student.pdf", bindings[0].RelPath)
}

func TestResolveAdoptsBySimilarName(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "lecture notes week 1.pdf", "irrelevant bytes")
	s := NewScanner(root)

	item := fileItem(4, "lecture notes week 12.pdf", 999)
	bindings := NewResolver(s, 0.85).Resolve([]*lms.Item{item}, nil, scanState(t, s))

	require.Len(t, bindings, 1)
	assert.Equal(t, MatchSimilarName, bindings[0].Tier)
	assert.Equal(t, "lecture notes week 1.pdf", bindings[0].RelPath)
}

func TestResolveBelowThresholdIsNew(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "completely different.pdf", "x")
	s := NewScanner(root)

	item := fileItem(5, "syllabus.pdf", 999)
	bindings := NewResolver(s, 0.85).Resolve([]*lms.Item{item}, nil, scanState(t, s))

	require.Len(t, bindings, 1)
	assert.Equal(t, MatchNone, bindings[0].Tier)
	assert.Nil(t, bindings[0].Local)
	assert.Equal(t, "syllabus.pdf", bindings[0].RelPath)
}

func TestResolveNeverClaimsFileTwice(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "notes.pdf", "12345")
	s := NewScanner(root)

	a := fileItem(6, "notes.pdf", 5)
	b := fileItem(7, "notes.pdf", 5)
	bindings := NewResolver(s, 0.85).Resolve([]*lms.Item{a, b}, nil, scanState(t, s))

	require.Len(t, bindings, 2)
	claimed := 0
	for _, bd := range bindings {
		if bd.Local != nil {
			claimed++
		}
	}
	assert.Equal(t, 1, claimed)
}

func TestResolveSyntheticMatchesByNameOnly(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Course Intro.html", "<html>whatever</html>")
	s := NewScanner(root)

	item := pageItem(42, "Course Intro")
	bindings := NewResolver(s, 0.85).Resolve([]*lms.Item{item}, nil, scanState(t, s))

	require.Len(t, bindings, 1)
	assert.Equal(t, MatchNameSize, bindings[0].Tier)
	assert.NotNil(t, bindings[0].Local)
}

func TestResolveUsesPathHintForNewItems(t *testing.T) {
	s := NewScanner(t.TempDir())

	item := fileItem(8, "slides.pdf", 10)
	item.PathHint = "Week 2"
	bindings := NewResolver(s, 0.85).Resolve([]*lms.Item{item}, nil, scanState(t, s))

	require.Len(t, bindings, 1)
	assert.Equal(t, "Week 2/slides.pdf", bindings[0].RelPath)
}

func TestResolveHealsTrackedRenameByHash(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "renamed by student.pdf", "hello")
	s := NewScanner(root)

	item := fileItem(9, "original.pdf", 5)
	item.Digest = "5d41402abc4b2a76b9719d911017c592" // md5("hello")
	manifest := map[lms.ItemRef]*Entry{
		item.Ref: {
			Ref: item.Ref, Name: "original.pdf", LocalPath: "original.pdf", Size: 5,
			Digest:       item.Digest,
			DownloadedAt: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	bindings := NewResolver(s, 0.85).Resolve([]*lms.Item{item}, manifest, scanState(t, s))
	require.Len(t, bindings, 1)
	assert.Equal(t, MatchHash, bindings[0].Tier)
	assert.Equal(t, "renamed by student.pdf", bindings[0].RelPath)
	require.NotNil(t, bindings[0].Local)
	assert.NotNil(t, bindings[0].Entry)
}

func TestResolveHealsTrackedMoveByName(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Week 3/notes.pdf", "moved elsewhere")
	s := NewScanner(root)

	item := fileItem(10, "notes.pdf", 15)
	manifest := map[lms.ItemRef]*Entry{
		item.Ref: {Ref: item.Ref, Name: "notes.pdf", LocalPath: "notes.pdf", Size: 15},
	}

	bindings := NewResolver(s, 0.85).Resolve([]*lms.Item{item}, manifest, scanState(t, s))
	require.Len(t, bindings, 1)
	assert.Equal(t, MatchNameSize, bindings[0].Tier)
	assert.Equal(t, "Week 3/notes.pdf", bindings[0].RelPath)
}

func TestResolveHealUsesItemDigestWhenEntryHasNone(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "renamed.pdf", "hello")
	s := NewScanner(root)

	// Entries from before a digest was recorded still heal when the
	// source publishes one and the size is unchanged.
	item := fileItem(11, "original.pdf", 5)
	item.Digest = "5d41402abc4b2a76b9719d911017c592"
	manifest := map[lms.ItemRef]*Entry{
		item.Ref: {Ref: item.Ref, Name: "original.pdf", LocalPath: "original.pdf", Size: 5},
	}

	bindings := NewResolver(s, 0.85).Resolve([]*lms.Item{item}, manifest, scanState(t, s))
	require.Len(t, bindings, 1)
	assert.Equal(t, MatchHash, bindings[0].Tier)
	assert.Equal(t, "renamed.pdf", bindings[0].RelPath)
}

func TestResolveHealedFileBeatsUntrackedClaim(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "handout v2.pdf", "12345")
	s := NewScanner(root)

	tracked := fileItem(12, "handout.pdf", 5)
	untracked := fileItem(13, "handout v2.pdf", 5)
	manifest := map[lms.ItemRef]*Entry{
		tracked.Ref: {Ref: tracked.Ref, Name: "handout v2.pdf", LocalPath: "handout v2 (old).pdf", Size: 5},
	}

	bindings := NewResolver(s, 0.85).Resolve([]*lms.Item{untracked, tracked}, manifest, scanState(t, s))
	require.Len(t, bindings, 2)
	for _, b := range bindings {
		if b.Item.Ref == tracked.Ref {
			assert.Equal(t, "handout v2.pdf", b.RelPath, "tracked item heals first")
		} else {
			assert.Nil(t, b.Local, "untracked item must not steal the healed file")
		}
	}
}

func TestResolveEqualCandidatesBindDeterministically(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "copy-a.pdf", "hello")
	writeFile(t, root, "copy-b.pdf", "hello")
	s := NewScanner(root)

	item := fileItem(14, "original.pdf", 5)
	item.Digest = "5d41402abc4b2a76b9719d911017c592"

	seen := map[string]bool{}
	for range 50 {
		bindings := NewResolver(s, 0.85).Resolve([]*lms.Item{item}, nil, scanState(t, s))
		require.Len(t, bindings, 1)
		require.NotNil(t, bindings[0].Local)
		seen[bindings[0].RelPath] = true
	}
	assert.Equal(t, map[string]bool{"copy-a.pdf": true}, seen,
		"equal candidates must bind in walk order on every pass")
}

func TestNameSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"abc", "abc", 1, 1},
		{"", "", 1, 1},
		{"lecture 1.pdf", "lecture 2.pdf", 0.9, 0.99},
		{"syllabus.pdf", "totally-else.txt", 0, 0.5},
	}
	for _, tt := range tests {
		got := nameSimilarity(tt.a, tt.b)
		assert.GreaterOrEqual(t, got, tt.min, "%q vs %q", tt.a, tt.b)
		assert.LessOrEqual(t, got, tt.max, "%q vs %q", tt.a, tt.b)
	}
}
