package sync

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/lmsync/lmsync/internal/lms"
)

// Synthetic items are materialized from static templates rather than
// downloaded. Pages become a small HTML document pointing at the hosted
// page; links and embedded tools become an InternetShortcut. The .url
// format is written on every platform so the item's target name never
// depends on the host OS.

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="0; url={{.URL}}">
<title>{{.Title}}</title>
</head>
<body>
<h1>{{.Title}}</h1>
<p>This page is hosted by your course. <a href="{{.URL}}">Open it here</a>.</p>
</body>
</html>
`))

// RenderPlaceholder produces the on-disk bytes for a synthetic item.
func RenderPlaceholder(item *lms.Item) ([]byte, error) {
	if !item.IsSynthetic() {
		return nil, fmt.Errorf("placeholder for physical item %s", item.Ref)
	}
	if item.URL == "" {
		return nil, fmt.Errorf("placeholder for %s: %w", item.Ref, lms.ErrNoURL)
	}

	switch item.Kind {
	case lms.KindPage:
		var buf bytes.Buffer
		err := pageTemplate.Execute(&buf, struct {
			Title string
			URL   string
		}{Title: item.DisplayName, URL: item.URL})
		if err != nil {
			return nil, fmt.Errorf("render page placeholder: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return []byte(fmt.Sprintf("[InternetShortcut]\r\nURL=%s\r\n", item.URL)), nil
	}
}
