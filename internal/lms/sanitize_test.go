package lms

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "lecture01.pdf", "lecture01.pdf"},
		{"empty", "", "untitled"},
		{"invalid chars", `week<1>: "notes"/draft?.pdf`, "week1 notesdraft.pdf"},
		{"url encoded", "S%C3%B8ren+notes.pdf", "Søren notes.pdf"},
		{"trailing dots and spaces", "report. _", "report"},
		{"only invalid", `<>:"/\|?*`, "untitled"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SanitizeFilename(tc.in))
		})
	}
}

func TestSanitizeFilename_LongName_KeepsExtension(t *testing.T) {
	long := strings.Repeat("a", 200) + ".pdf"
	got := SanitizeFilename(long)
	assert.LessOrEqual(t, len(got), maxFilenameLength)
	assert.True(t, strings.HasSuffix(got, ".pdf"))
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "lecture 1.pdf", NormalizeName("  Lecture+1.PDF "))
	assert.Equal(t, "søren.pdf", NormalizeName("S%C3%B8ren.pdf"))
	assert.Equal(t, "", NormalizeName(""))
	// Case and quoting-insensitive: both sides normalize to the same key.
	assert.Equal(t, NormalizeName("My%20File.TXT"), NormalizeName("my file.txt"))
}

func TestItemRefKey_PartitionsIDSpaces(t *testing.T) {
	f := FileRef(42)
	s := ShortcutRef(42)
	assert.NotEqual(t, f.Key(), s.Key())
	assert.Equal(t, "f:42", f.Key())
	assert.Equal(t, "s:42", s.Key())
	assert.True(t, s.Synthetic)
	assert.False(t, f.Synthetic)
}
