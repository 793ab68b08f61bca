package lms

import (
	"fmt"
	"time"
)

// ItemKind is the remote item type as reported by the source.
type ItemKind string

const (
	KindFile         ItemKind = "File"
	KindPage         ItemKind = "Page"
	KindExternalURL  ItemKind = "ExternalUrl"
	KindExternalTool ItemKind = "ExternalTool"
)

// ItemRef identifies one remote item within a scope. Physical files and
// synthetic shortcuts (pages, links, embedded tools) live in separate id
// spaces, so the pair (ID, Synthetic) is the identity, never the bare id.
type ItemRef struct {
	ID        int64
	Synthetic bool
}

// FileRef returns the identity of a physical file.
func FileRef(id int64) ItemRef {
	return ItemRef{ID: id}
}

// ShortcutRef returns the identity of a synthetic item, derived from the
// source item's own id.
func ShortcutRef(id int64) ItemRef {
	return ItemRef{ID: id, Synthetic: true}
}

// Key returns a stable string form usable as a map/db key.
func (r ItemRef) Key() string {
	if r.Synthetic {
		return fmt.Sprintf("s:%d", r.ID)
	}
	return fmt.Sprintf("f:%d", r.ID)
}

func (r ItemRef) String() string {
	return r.Key()
}

// Item is a normalized remote descriptor for one trackable item in a scope.
type Item struct {
	Ref         ItemRef
	Kind        ItemKind
	DisplayName string
	// Filename is the canonical remote filename. For synthetic items it is
	// derived from the title plus the placeholder extension.
	Filename string
	// PathHint is the subfolder suggested by the remote hierarchy (e.g. the
	// module the item appears under). Empty means the scope root.
	PathHint string
	// Size is always 0 for synthetic items; rendered content carries no
	// stable size signal.
	Size int64
	// ModifiedAt is zero when the source withholds it or when the item is
	// synthetic (host timestamps on rendered content are noise).
	ModifiedAt time.Time
	// Digest is the remote MD5 content hash when the source publishes one,
	// empty otherwise. Always empty for synthetic items.
	Digest string
	// URL is the content download URL for physical files, or the reference
	// URL embedded into the placeholder for synthetic items.
	URL string
}

// IsSynthetic reports whether the item is tracked as a materialized
// placeholder rather than a byte transfer.
func (i *Item) IsSynthetic() bool {
	return i.Ref.Synthetic
}

// TargetName returns the sanitized local filename for the item.
func (i *Item) TargetName() string {
	return SanitizeFilename(i.Filename)
}
