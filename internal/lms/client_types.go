package lms

import "time"

const (
	HeaderUserAgent = "User-Agent"
	HeaderAuth      = "Authorization"
)

// apiFile is the wire form of a physical file as reported by the source.
type apiFile struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	UpdatedAt   string `json:"updated_at"`
	URL         string `json:"url"`
	FolderID    int64  `json:"folder_id"`
	MD5         string `json:"md5"`
}

// apiModule is one unit of the remote hierarchy.
type apiModule struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// apiModuleItem is one entry inside a module. Type is one of File, Page,
// ExternalUrl, ExternalTool (plus headers and quizzes, which are skipped).
type apiModuleItem struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Type        string `json:"type"`
	ContentID   int64  `json:"content_id"`
	ExternalURL string `json:"external_url"`
	HTMLURL     string `json:"html_url"`
	PageURL     string `json:"page_url"`
}

// parseRemoteTime parses the source's ISO timestamps; unparseable or absent
// values collapse to the zero time, which the diff engine treats as
// "no reliable signal".
func parseRemoteTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
