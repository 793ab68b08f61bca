package sync

import (
	"testing"

	"github.com/lmsync/lmsync/internal/lms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPlaceholderPage(t *testing.T) {
	page := pageItem(1, "Week 1 <Intro>")
	page.URL = "https://lms.test/pages/week-1"

	content, err := RenderPlaceholder(page)
	require.NoError(t, err)

	html := string(content)
	assert.Contains(t, html, "Week 1 &lt;Intro&gt;", "title is escaped")
	assert.Contains(t, html, "https://lms.test/pages/week-1")
}

func TestRenderPlaceholderShortcut(t *testing.T) {
	link := &lms.Item{
		Ref:  lms.ShortcutRef(2),
		Kind: lms.KindExternalURL,
		URL:  "https://example.edu/portal",
	}

	content, err := RenderPlaceholder(link)
	require.NoError(t, err)
	assert.Equal(t, "[InternetShortcut]\r\nURL=https://example.edu/portal\r\n", string(content))
}

func TestRenderPlaceholderRejectsPhysical(t *testing.T) {
	_, err := RenderPlaceholder(fileItem(3, "doc.pdf", 1))
	assert.Error(t, err)
}

func TestRenderPlaceholderRequiresURL(t *testing.T) {
	page := pageItem(4, "No Link")
	page.URL = ""
	_, err := RenderPlaceholder(page)
	assert.ErrorIs(t, err, lms.ErrNoURL)
}
