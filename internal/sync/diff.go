package sync

import (
	"fmt"
	"path/filepath"

	"github.com/lmsync/lmsync/internal/lms"
)

// Diff classifies resolved bindings into a plan. It is pure: no I/O, no
// manifest writes, so analysis can run repeatedly before anything executes.
// Every binding lands in exactly one category.
func Diff(scopeID string, bindings []*Binding, manifest map[lms.ItemRef]*Entry) *Plan {
	plan := &Plan{ScopeID: scopeID}

	var rawNew []*Action
	var rawMissing []*Action

	seen := make(map[lms.ItemRef]struct{}, len(bindings))
	for _, b := range bindings {
		seen[b.Item.Ref] = struct{}{}
		a := classify(b)
		switch a.Category {
		case CategoryNew:
			rawNew = append(rawNew, a)
		case CategoryMissingLocally, CategoryLocallyDeleted:
			rawMissing = append(rawMissing, a)
		default:
			plan.Actions = append(plan.Actions, a)
		}
		if b.Tier == MatchSimilarName {
			plan.Warnings = append(plan.Warnings,
				fmt.Sprintf("%q adopted by name similarity as %s", b.Item.TargetName(), b.RelPath))
		}
	}

	rawNew, rawMissing = collapseReuploads(plan, rawNew, rawMissing)
	plan.Actions = append(plan.Actions, rawNew...)
	plan.Actions = append(plan.Actions, rawMissing...)

	dedupeByTarget(plan)

	// Tracked entries the source stopped reporting. Ignored entries stay
	// quiet; everything else is surfaced for review.
	for ref, entry := range manifest {
		if _, ok := seen[ref]; !ok && !entry.Ignored {
			plan.RemoteGone = append(plan.RemoteGone, entry)
		}
	}

	return plan
}

func classify(b *Binding) *Action {
	a := &Action{
		ID:      actionID(b.Item.Ref),
		Item:    b.Item,
		Entry:   b.Entry,
		RelPath: b.RelPath,
		Tier:    b.Tier,
	}

	if b.Entry != nil && b.Entry.Ignored {
		a.Category = CategoryIgnored
		return a
	}

	if b.Item.IsSynthetic() {
		// Host timestamps on rendered content are noise; presence on disk
		// is the only signal.
		switch {
		case b.Local != nil:
			a.Category = CategoryUnchanged
			a.CommitOnly = b.Entry == nil || b.RelPath != b.Entry.LocalPath
		case b.Entry != nil:
			a.Category = absentCategory(b.Entry)
		default:
			a.Category = CategoryNew
		}
		return a
	}

	if b.Entry == nil {
		if b.Local != nil {
			// Adopted by the resolver. Equal sizes (or a hash match) mean
			// the bytes are already right; a fuzzy name match with a size
			// mismatch means the remote revision differs.
			if b.Tier == MatchHash || b.Local.Size == b.Item.Size {
				a.Category = CategoryUnchanged
				a.CommitOnly = true
			} else {
				a.Category = CategoryUpdated
			}
			return a
		}
		a.Category = CategoryNew
		return a
	}

	// Either signal alone marks a change; a disagreement between them
	// errs toward the extra download rather than a silent miss.
	remoteNewer := !b.Item.ModifiedAt.IsZero() && b.Item.ModifiedAt.After(b.Entry.RemoteModifiedAt)
	sizeChanged := b.Item.Size != b.Entry.Size
	if remoteNewer || sizeChanged {
		a.Category = CategoryUpdated
		return a
	}

	if b.Local != nil {
		a.Category = CategoryUnchanged
		// A healed rename still needs its new path written back.
		a.CommitOnly = b.RelPath != b.Entry.LocalPath
		return a
	}
	a.Category = absentCategory(b.Entry)
	return a
}

// absentCategory decides what a tracked-but-absent file means: a completed
// download that later vanished is a deliberate local deletion; an entry that
// never finished downloading is plain missing.
func absentCategory(entry *Entry) Category {
	if !entry.DownloadedAt.IsZero() {
		return CategoryLocallyDeleted
	}
	return CategoryMissingLocally
}

// collapseReuploads detects the remote re-upload pattern: the old item was
// deleted upstream and a new one with the same name took its place. The
// missing entry and the new descriptor collapse into one Updated action
// targeting the old path, instead of a MissingLocally plus a duplicate New.
func collapseReuploads(plan *Plan, rawNew, rawMissing []*Action) (newOut, missingOut []*Action) {
	newByName := make(map[string]*Action, len(rawNew))
	for _, a := range rawNew {
		if !a.Item.IsSynthetic() {
			newByName[lms.NormalizeName(a.Item.TargetName())] = a
		}
	}

	consumed := make(map[*Action]bool)
	for _, m := range rawMissing {
		norm := lms.NormalizeName(filepath.Base(m.Entry.LocalPath))
		if n, ok := newByName[norm]; ok && !m.Item.IsSynthetic() {
			consumed[n] = true
			delete(newByName, norm)
			plan.Actions = append(plan.Actions, &Action{
				ID:       n.ID,
				Category: CategoryUpdated,
				Item:     n.Item,
				Entry:    m.Entry,
				RelPath:  m.Entry.LocalPath,
				Tier:     MatchNameSize,
			})
			continue
		}
		missingOut = append(missingOut, m)
	}

	for _, a := range rawNew {
		if !consumed[a] {
			newOut = append(newOut, a)
		}
	}
	return newOut, missingOut
}

// dedupeByTarget merges transfer actions that resolved to the same target
// path and size, which happens when one file is linked from several places
// in the remote hierarchy.
func dedupeByTarget(plan *Plan) {
	type targetKey struct {
		path string
		size int64
	}
	kept := plan.Actions[:0]
	byTarget := make(map[targetKey]*Action)
	for _, a := range plan.Actions {
		if !a.NeedsTransfer() {
			kept = append(kept, a)
			continue
		}
		key := targetKey{path: a.RelPath, size: a.Item.Size}
		if _, dup := byTarget[key]; dup {
			continue
		}
		byTarget[key] = a
		kept = append(kept, a)
	}
	plan.Actions = kept
}
