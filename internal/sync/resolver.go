package sync

import (
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/lmsync/lmsync/internal/lms"
)

// MatchTier records which evidence bound a remote item to a local file.
type MatchTier int

const (
	// MatchNone means no local candidate was found.
	MatchNone MatchTier = iota
	// MatchManifest means the manifest already tracks the item.
	MatchManifest
	// MatchNameSize means an untracked file had the same normalized name
	// and the same size.
	MatchNameSize
	// MatchHash means an untracked file had the same content hash.
	MatchHash
	// MatchSimilarName means an untracked file's name was similar above
	// the configured threshold.
	MatchSimilarName
)

func (t MatchTier) String() string {
	switch t {
	case MatchManifest:
		return "manifest"
	case MatchNameSize:
		return "name+size"
	case MatchHash:
		return "hash"
	case MatchSimilarName:
		return "similar-name"
	default:
		return "none"
	}
}

// Binding is one resolved association between a remote item and local state.
type Binding struct {
	Item    *lms.Item
	Entry   *Entry     // manifest entry, nil when untracked
	Local   *LocalFile // matched local observation, nil when absent
	Tier    MatchTier
	RelPath string // the path the item should live at
}

// Resolver heals the manifest against reality: for each remote item it finds
// the local file that most plausibly corresponds to it, so renames on either
// side do not cascade into duplicate downloads.
type Resolver struct {
	scanner   *Scanner
	threshold float64
}

// NewResolver builds a resolver over one scanned folder. threshold is the
// minimal name-similarity ratio for the fuzzy tier, in (0, 1].
func NewResolver(scanner *Scanner, threshold float64) *Resolver {
	return &Resolver{scanner: scanner, threshold: threshold}
}

// Resolve binds every remote item to its local counterpart, consuming
// candidates so no local file is claimed twice. Tiers are tried in order of
// evidence strength: manifest identity, normalized name plus size, content
// hash, then fuzzy name similarity. Synthetic items never match by hash or
// size since their bytes are generated locally.
func (r *Resolver) Resolve(items []*lms.Item, manifest map[lms.ItemRef]*Entry, local *LocalState) []*Binding {
	bindings := make([]*Binding, 0, len(items))
	claimed := make(map[string]bool)

	// Manifest-tracked paths are never candidates for healing another item.
	for _, entry := range manifest {
		claimed[entry.LocalPath] = true
	}

	// Identity tier first so tracked items keep their paths before any
	// untracked file is handed out.
	var unresolved []*lms.Item
	var healable []*Binding
	for _, item := range items {
		if entry, ok := manifest[item.Ref]; ok {
			b := &Binding{Item: item, Entry: entry, Tier: MatchManifest, RelPath: entry.LocalPath}
			if obs, ok := local.Files[entry.LocalPath]; ok {
				b.Local = obs
			} else if !entry.Ignored {
				healable = append(healable, b)
			}
			bindings = append(bindings, b)
			continue
		}
		unresolved = append(unresolved, item)
	}

	// Tracked files gone from their recorded path may have been renamed or
	// moved by the user. They get first pick of the unclaimed candidates,
	// matched against what the manifest recorded at download time.
	for _, b := range healable {
		obs, tier := r.healTracked(b.Item, b.Entry, local, claimed)
		if obs == nil {
			continue
		}
		b.Local, b.Tier, b.RelPath = obs, tier, obs.RelPath
		claimed[obs.RelPath] = true
		slog.Debug("resolver: healed tracked item to moved file",
			"item", b.Item.Ref.Key(), "old", b.Entry.LocalPath, "new", obs.RelPath, "tier", tier.String())
	}

	for _, item := range unresolved {
		b := r.resolveUntracked(item, local, claimed)
		if b.Local != nil {
			claimed[b.Local.RelPath] = true
			slog.Debug("resolver: healed item to existing file",
				"item", item.Ref.Key(), "path", b.Local.RelPath, "tier", b.Tier.String())
		}
		bindings = append(bindings, b)
	}

	return bindings
}

// healTracked finds the file a tracked-but-absent entry moved to, keyed by
// the name, size, and digest recorded when it was downloaded. Tiers mirror
// resolveUntracked: exact name, content hash, then fuzzy name.
func (r *Resolver) healTracked(item *lms.Item, entry *Entry, local *LocalState, claimed map[string]bool) (*LocalFile, MatchTier) {
	norm := lms.NormalizeName(entry.Name)
	for _, obs := range local.ByName[norm] {
		if !claimed[obs.RelPath] {
			return obs, MatchNameSize
		}
	}

	if entry.Ref.Synthetic {
		return nil, MatchNone
	}

	// Entries recorded before a digest was known still heal by hash when
	// the remote revision is the one on disk.
	digest := entry.Digest
	if digest == "" && entry.Size == item.Size {
		digest = item.Digest
	}
	if digest != "" && entry.Size > 0 {
		for _, obs := range local.Ordered {
			if claimed[obs.RelPath] || obs.Size != entry.Size {
				continue
			}
			hash, err := r.scanner.Hash(obs.RelPath)
			if err != nil {
				slog.Warn("resolver: hash failed", "path", obs.RelPath, "error", err)
				continue
			}
			if hash == digest {
				return obs, MatchHash
			}
		}
	}

	ext := strings.ToLower(filepath.Ext(entry.Name))
	var best *LocalFile
	var bestRatio float64
	for _, obs := range local.Ordered {
		if claimed[obs.RelPath] {
			continue
		}
		base := filepath.Base(obs.RelPath)
		if strings.ToLower(filepath.Ext(base)) != ext {
			continue
		}
		ratio := nameSimilarity(norm, lms.NormalizeName(base))
		if ratio > r.threshold && ratio > bestRatio {
			best, bestRatio = obs, ratio
		}
	}
	if best != nil {
		return best, MatchSimilarName
	}
	return nil, MatchNone
}

func (r *Resolver) resolveUntracked(item *lms.Item, local *LocalState, claimed map[string]bool) *Binding {
	target := item.TargetName()
	norm := lms.NormalizeName(target)

	// Tier 2: same normalized name, same size. Synthetics match on name
	// alone since their on-disk size is not comparable.
	for _, obs := range local.ByName[norm] {
		if claimed[obs.RelPath] {
			continue
		}
		if item.IsSynthetic() || obs.Size == item.Size {
			return &Binding{Item: item, Local: obs, Tier: MatchNameSize, RelPath: obs.RelPath}
		}
	}

	if !item.IsSynthetic() {
		// Tier 3: content hash. Only files with the remote size are worth
		// hashing, and only when the source published a digest.
		if item.Digest != "" {
			for _, obs := range local.Ordered {
				if claimed[obs.RelPath] || obs.Size != item.Size {
					continue
				}
				hash, err := r.scanner.Hash(obs.RelPath)
				if err != nil {
					slog.Warn("resolver: hash failed", "path", obs.RelPath, "error", err)
					continue
				}
				if hash == item.Digest {
					return &Binding{Item: item, Local: obs, Tier: MatchHash, RelPath: obs.RelPath}
				}
			}
		}

		// Tier 4: fuzzy filename similarity, same extension only.
		ext := strings.ToLower(filepath.Ext(target))
		var best *LocalFile
		var bestRatio float64
		for _, obs := range local.Ordered {
			if claimed[obs.RelPath] {
				continue
			}
			base := filepath.Base(obs.RelPath)
			if strings.ToLower(filepath.Ext(base)) != ext {
				continue
			}
			ratio := nameSimilarity(norm, lms.NormalizeName(base))
			if ratio > r.threshold && ratio > bestRatio {
				best, bestRatio = obs, ratio
			}
		}
		if best != nil {
			return &Binding{Item: item, Local: best, Tier: MatchSimilarName, RelPath: best.RelPath}
		}
	}

	return &Binding{Item: item, Tier: MatchNone, RelPath: defaultRelPath(item)}
}

// defaultRelPath is where a brand-new item lands: under its module path
// hint when the source provided one.
func defaultRelPath(item *lms.Item) string {
	name := item.TargetName()
	if item.PathHint != "" {
		return item.PathHint + "/" + name
	}
	return name
}

// nameSimilarity is a normalized Levenshtein ratio in [0, 1]; 1 means equal.
func nameSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := max(len(a), len(b))
	if longest == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}
