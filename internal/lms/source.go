package lms

import (
	"context"
	"io"
)

// Source is the content source adapter consumed by the sync engine.
//
// ListItems must emit synthetic descriptors (pages, links, embedded tools)
// with ShortcutRef identities and zero size. Fetch is valid for physical
// descriptors only.
type Source interface {
	ListItems(ctx context.Context, scopeID string) ([]*Item, error)
	Fetch(ctx context.Context, item *Item, dst io.Writer) (int64, error)
}
