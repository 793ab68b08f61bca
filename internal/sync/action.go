package sync

import (
	"github.com/google/uuid"
	"github.com/lmsync/lmsync/internal/lms"
)

// Category is the classification of one remote item after analysis.
type Category string

const (
	// CategoryNew marks items never seen before with no local counterpart.
	CategoryNew Category = "new"
	// CategoryUpdated marks items with a newer remote revision than the
	// tracked one.
	CategoryUpdated Category = "updated"
	// CategoryMissingLocally marks tracked items whose local file is gone
	// without evidence of a completed download.
	CategoryMissingLocally Category = "missing_locally"
	// CategoryLocallyDeleted marks tracked items the user removed after a
	// completed download; never restored without explicit confirmation.
	CategoryLocallyDeleted Category = "locally_deleted"
	// CategoryIgnored marks items the user excluded from syncing.
	CategoryIgnored Category = "ignored"
	// CategoryUnchanged marks items already in their desired state.
	CategoryUnchanged Category = "unchanged"
)

// Categories lists all categories in display order.
var Categories = []Category{
	CategoryNew,
	CategoryUpdated,
	CategoryMissingLocally,
	CategoryLocallyDeleted,
	CategoryIgnored,
	CategoryUnchanged,
}

var actionNamespace = uuid.MustParse("8f4f8f06-0de5-4d2f-9a1b-5c6e3f70b7a1")

// actionID derives a stable identifier from the item identity, so repeated
// analyses of the same folder hand the caller the same ids.
func actionID(ref lms.ItemRef) string {
	return uuid.NewSHA1(actionNamespace, []byte(ref.Key())).String()
}

// Action is one ephemeral unit of planned work for a single identity.
type Action struct {
	ID       string
	Category Category
	Item     *lms.Item
	// Entry is the tracked manifest record the action relates to, nil when
	// the identity is untracked.
	Entry *Entry
	// RelPath is the computed target path relative to the folder root.
	RelPath string
	// Tier records the resolver evidence behind the binding.
	Tier MatchTier
	// CommitOnly marks an adopted file that needs a manifest record but no
	// data movement (the bytes already match on disk).
	CommitOnly bool
}

// NeedsTransfer reports whether executing the action moves data: a download
// for physical items, placeholder materialization for synthetic ones.
func (a *Action) NeedsTransfer() bool {
	switch a.Category {
	case CategoryNew, CategoryUpdated, CategoryMissingLocally, CategoryLocallyDeleted:
		return true
	}
	return false
}

// Plan is the full outcome of analyzing one scope against one folder.
type Plan struct {
	ScopeID string
	Actions []*Action
	// RemoteGone lists tracked entries the source no longer reports. They
	// are surfaced for review, never acted on automatically.
	RemoteGone []*Entry
	// Warnings carries non-fatal resolver ambiguity notes.
	Warnings []string
}

// ByCategory returns the plan's actions in one category.
func (p *Plan) ByCategory(c Category) []*Action {
	var out []*Action
	for _, a := range p.Actions {
		if a.Category == c {
			out = append(out, a)
		}
	}
	return out
}

// Counts returns the number of actions per category.
func (p *Plan) Counts() map[Category]int {
	counts := make(map[Category]int, len(Categories))
	for _, a := range p.Actions {
		counts[a.Category]++
	}
	return counts
}

// Pending returns the actions that move data plus commit-only adoptions,
// i.e. everything execution would touch.
func (p *Plan) Pending() []*Action {
	var out []*Action
	for _, a := range p.Actions {
		if a.NeedsTransfer() || a.CommitOnly {
			out = append(out, a)
		}
	}
	return out
}
