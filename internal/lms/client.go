package lms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"runtime"
	"strings"

	"github.com/imroc/req/v3"
	"github.com/lmsync/lmsync/internal/version"
)

const perPage = 100

var userAgent = fmt.Sprintf("lmsync/%s (%s; %s; %s)", version.Version, version.Revision, runtime.GOOS, runtime.GOARCH)

// linkNext extracts the rel="next" URL from a Link header.
var linkNext = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// Client talks to a Canvas-compatible REST API and normalizes its course
// content into Item descriptors. It implements Source.
type Client struct {
	http    *req.Client
	baseURL string
}

var _ Source = (*Client)(nil)

// NewClient builds a source client for the given base URL and bearer token.
func NewClient(baseURL, token string) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, ErrNoBaseURL
	}
	if token == "" {
		return nil, ErrNoToken
	}
	if !strings.HasPrefix(baseURL, "http") {
		baseURL = "https://" + baseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	httpClient := req.C().
		SetUserAgent(userAgent).
		SetCommonHeader(HeaderAuth, "Bearer "+token)

	return &Client{
		http:    httpClient,
		baseURL: baseURL,
	}, nil
}

// ListItems returns all trackable items of one scope: physical files plus
// synthetic descriptors for pages, external links and embedded tools found
// in the module hierarchy. Synthetic items always carry zero size and a
// ShortcutRef identity.
func (c *Client) ListItems(ctx context.Context, scopeID string) ([]*Item, error) {
	files, filesErr := c.listFiles(ctx, scopeID)
	if filesErr != nil {
		// A restricted files tab is survivable; module items below still
		// reference the files individually.
		var srcErr *SourceError
		if errors.As(filesErr, &srcErr) && srcErr.Code == CodeAccessDenied {
			slog.Warn("lms: files listing restricted, falling back to module scan", "scope", scopeID)
			files = nil
		} else {
			return nil, fmt.Errorf("list files: %w", filesErr)
		}
	}

	fileByID := make(map[int64]*apiFile, len(files))
	for _, f := range files {
		fileByID[f.ID] = f
	}

	items := make([]*Item, 0, len(files))
	seen := make(map[ItemRef]struct{}, len(files))
	pathHints := make(map[int64]string)

	modules, err := c.listModules(ctx, scopeID)
	if err != nil {
		var srcErr *SourceError
		if filesErr != nil || !errors.As(err, &srcErr) || srcErr.Code != CodeAccessDenied {
			return nil, fmt.Errorf("list modules: %w", err)
		}
		// Files succeeded and modules are restricted: flat listing only.
		slog.Warn("lms: module listing restricted, flat layout", "scope", scopeID)
		modules = nil
	}

	for _, mod := range modules {
		modItems, err := c.listModuleItems(ctx, scopeID, mod.ID)
		if err != nil {
			return nil, fmt.Errorf("list module %d items: %w", mod.ID, err)
		}
		hint := SanitizeFilename(mod.Name)

		for _, mi := range modItems {
			switch ItemKind(mi.Type) {
			case KindFile:
				if mi.ContentID == 0 {
					slog.Warn("lms: file item missing content id", "scope", scopeID, "title", mi.Title)
					continue
				}
				if _, ok := pathHints[mi.ContentID]; !ok {
					pathHints[mi.ContentID] = hint
				}
				if _, ok := fileByID[mi.ContentID]; !ok {
					// Restricted files tab: fetch the descriptor individually.
					f, err := c.getFile(ctx, scopeID, mi.ContentID)
					if err != nil {
						slog.Warn("lms: fetch file descriptor failed", "scope", scopeID, "id", mi.ContentID, "error", err)
						continue
					}
					fileByID[f.ID] = f
					files = append(files, f)
				}
			case KindPage, KindExternalURL, KindExternalTool:
				item := c.syntheticItem(mi, hint)
				if item == nil {
					continue
				}
				if _, dup := seen[item.Ref]; dup {
					continue
				}
				seen[item.Ref] = struct{}{}
				items = append(items, item)
			}
		}
	}

	for _, f := range files {
		ref := FileRef(f.ID)
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		name := f.Filename
		if name == "" {
			name = f.DisplayName
		}
		items = append(items, &Item{
			Ref:         ref,
			Kind:        KindFile,
			DisplayName: f.DisplayName,
			Filename:    name,
			PathHint:    pathHints[f.ID],
			Size:        f.Size,
			ModifiedAt:  parseRemoteTime(f.UpdatedAt),
			URL:         f.URL,
			Digest:      f.MD5,
		})
	}

	return items, nil
}

// syntheticItem normalizes a non-file module item into a synthetic
// descriptor. Items without any usable reference URL are dropped.
func (c *Client) syntheticItem(mi *apiModuleItem, hint string) *Item {
	var refURL string
	switch ItemKind(mi.Type) {
	case KindPage:
		refURL = mi.HTMLURL
	case KindExternalURL:
		refURL = mi.ExternalURL
	case KindExternalTool:
		// Tool launch URLs require a signed POST; the host page handles the
		// launch, so that is what the placeholder points at.
		refURL = mi.HTMLURL
		if refURL == "" {
			refURL = mi.ExternalURL
		}
	}
	if refURL == "" {
		slog.Warn("lms: item has no reference url", "type", mi.Type, "title", mi.Title)
		return nil
	}

	filename := SanitizeFilename(mi.Title) + PlaceholderExt(ItemKind(mi.Type))
	return &Item{
		Ref:         ShortcutRef(mi.ID),
		Kind:        ItemKind(mi.Type),
		DisplayName: mi.Title,
		Filename:    filename,
		PathHint:    hint,
		Size:        0,
		URL:         refURL,
	}
}

// PlaceholderExt returns the local file extension used when materializing a
// synthetic item of the given kind.
func PlaceholderExt(kind ItemKind) string {
	if kind == KindPage {
		return ".html"
	}
	return ".url"
}

// Fetch streams the payload of a physical item into dst and returns the
// byte count. Calling Fetch on a synthetic item is a programming error.
func (c *Client) Fetch(ctx context.Context, item *Item, dst io.Writer) (int64, error) {
	if item.IsSynthetic() {
		return 0, ErrNotFile
	}
	if item.URL == "" {
		return 0, ErrNoURL
	}

	resp, err := c.http.R().
		SetContext(ctx).
		DisableAutoReadResponse().
		Get(item.URL)
	if err != nil {
		return 0, NewSourceError(CodeNetworkError, err.Error(), 0)
	}
	defer resp.Body.Close()

	if resp.IsErrorState() {
		return 0, NewSourceError(classifyStatus(resp.GetStatusCode()), resp.Status, resp.GetStatusCode())
	}

	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		return n, NewSourceError(CodeNetworkError, err.Error(), 0)
	}
	return n, nil
}

func (c *Client) listFiles(ctx context.Context, scopeID string) ([]*apiFile, error) {
	var all []*apiFile
	err := c.getPaginated(ctx, c.apiPath("courses", scopeID, "files"), func() any {
		return &[]*apiFile{}
	}, func(page any) {
		all = append(all, *page.(*[]*apiFile)...)
	})
	return all, err
}

func (c *Client) getFile(ctx context.Context, scopeID string, fileID int64) (*apiFile, error) {
	var file apiFile
	if err := c.getJSON(ctx, c.apiPath("courses", scopeID, "files", fmt.Sprint(fileID)), &file); err != nil {
		return nil, err
	}
	return &file, nil
}

func (c *Client) listModules(ctx context.Context, scopeID string) ([]*apiModule, error) {
	var all []*apiModule
	err := c.getPaginated(ctx, c.apiPath("courses", scopeID, "modules"), func() any {
		return &[]*apiModule{}
	}, func(page any) {
		all = append(all, *page.(*[]*apiModule)...)
	})
	return all, err
}

func (c *Client) listModuleItems(ctx context.Context, scopeID string, moduleID int64) ([]*apiModuleItem, error) {
	var all []*apiModuleItem
	err := c.getPaginated(ctx, c.apiPath("courses", scopeID, "modules", fmt.Sprint(moduleID), "items"), func() any {
		return &[]*apiModuleItem{}
	}, func(page any) {
		all = append(all, *page.(*[]*apiModuleItem)...)
	})
	return all, err
}

func (c *Client) apiPath(parts ...string) string {
	return c.baseURL + "/api/v1/" + path.Join(parts...)
}

// getJSON performs one GET and decodes the response, classifying HTTP
// failures into source error codes.
func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetSuccessResult(out).
		Get(rawURL)
	if err != nil {
		return NewSourceError(CodeNetworkError, err.Error(), 0)
	}
	if resp.IsErrorState() {
		return NewSourceError(classifyStatus(resp.GetStatusCode()), resp.Status, resp.GetStatusCode())
	}
	return nil
}

// getPaginated walks a paginated collection endpoint by following the
// Link rel="next" header until exhausted.
func (c *Client) getPaginated(ctx context.Context, rawURL string, newPage func() any, collect func(any)) error {
	next := withPerPage(rawURL)
	for next != "" {
		page := newPage()
		resp, err := c.http.R().
			SetContext(ctx).
			SetSuccessResult(page).
			Get(next)
		if err != nil {
			return NewSourceError(CodeNetworkError, err.Error(), 0)
		}
		if resp.IsErrorState() {
			return NewSourceError(classifyStatus(resp.GetStatusCode()), resp.Status, resp.GetStatusCode())
		}
		collect(page)

		next = ""
		if m := linkNext.FindStringSubmatch(resp.Header.Get("Link")); m != nil {
			next = m[1]
		}
	}
	return nil
}

func withPerPage(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set("per_page", fmt.Sprint(perPage))
	u.RawQuery = q.Encode()
	return u.String()
}
