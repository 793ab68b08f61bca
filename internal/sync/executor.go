package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/lmsync/lmsync/internal/lms"
	"github.com/lmsync/lmsync/internal/utils"
	"golang.org/x/sync/errgroup"
)

const maxConflictRenames = 1000

// ResultStatus is the terminal outcome of one executed action.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusSkipped ResultStatus = "skipped"
	StatusFailed  ResultStatus = "failed"
)

// Result is the per-action outcome of an execution batch.
type Result struct {
	Action     *Action
	Status     ResultStatus
	Bytes      int64
	Attempts   int
	SkipReason string
	Err        error
}

// Executor runs a confirmed action set against one folder with bounded
// worker concurrency. Payloads stream into a temp dir inside the folder's
// internal dir, so the final placement is an atomic same-filesystem rename
// and no partial file ever appears at a target path.
type Executor struct {
	source   lms.Source
	manifest *Manifest
	rootDir  string
	status   *StatusBus
	opts     Options

	// aborted flips when a local I/O failure makes further writes to this
	// folder pointless; remaining actions are skipped, not failed.
	aborted atomic.Bool
}

func NewExecutor(source lms.Source, manifest *Manifest, rootDir string, status *StatusBus, opts Options) *Executor {
	return &Executor{
		source:   source,
		manifest: manifest,
		rootDir:  rootDir,
		status:   status,
		opts:     opts.normalized(),
	}
}

// Run executes the batch and returns one result per action, in no
// particular order. Per-action failures never abort the batch; only a
// local I/O failure stops the folder's remaining work. A cancelled context
// reports unstarted actions as skipped.
func (e *Executor) Run(ctx context.Context, actions []*Action) ([]*Result, error) {
	if len(actions) == 0 {
		return nil, nil
	}

	tempDir := filepath.Join(e.rootDir, InternalDirName, "tmp")
	if err := utils.EnsureDir(tempDir); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	for _, a := range actions {
		e.status.Publish(a, PhaseQueued, 0, 0, nil)
	}

	jobs := make(chan *Action)
	results := make([]*Result, 0, len(actions))
	var mu stdsync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for range e.opts.Workers {
		g.Go(func() error {
			for a := range jobs {
				res := e.runOne(gctx, a, tempDir)
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}
			return nil
		})
	}

feed:
	for _, a := range actions {
		select {
		case jobs <- a:
		case <-gctx.Done():
			break feed
		}
	}
	close(jobs)
	_ = g.Wait()

	// Anything never handed to a worker is reported, not dropped.
	handled := make(map[string]struct{}, len(results))
	for _, r := range results {
		handled[r.Action.ID] = struct{}{}
	}
	for _, a := range actions {
		if _, ok := handled[a.ID]; !ok {
			res := e.skip(a, "cancelled before start")
			results = append(results, res)
		}
	}

	return results, nil
}

func (e *Executor) skip(a *Action, reason string) *Result {
	e.status.Publish(a, PhaseSkipped, 0, 0, nil)
	return &Result{Action: a, Status: StatusSkipped, SkipReason: reason}
}

func (e *Executor) runOne(ctx context.Context, a *Action, tempDir string) *Result {
	if ctx.Err() != nil {
		return e.skip(a, "cancelled")
	}
	if e.aborted.Load() {
		return e.skip(a, "folder aborted")
	}

	e.status.Publish(a, PhaseStarted, 0, 0, nil)

	var (
		bytes    int64
		attempts int
		err      error
	)
	switch {
	case a.CommitOnly:
		attempts = 1
		err = e.commitAdoption(a)
	case a.Item.IsSynthetic():
		attempts = 1
		bytes, err = e.materialize(a, tempDir)
	default:
		bytes, attempts, err = e.download(ctx, a, tempDir)
	}

	if err != nil {
		kind := Classify(err)
		switch kind {
		case KindLocalIO:
			e.aborted.Store(true)
			slog.Error("sync: local write failed, aborting folder",
				"path", a.RelPath, "error", err)
		case KindResourceGone:
			// The remote object vanished for good; keeping the entry would
			// retry it forever.
			if a.Entry != nil {
				if rmErr := e.manifest.Remove(a.Entry.Ref); rmErr != nil {
					slog.Warn("sync: untrack gone item", "ref", a.Entry.Ref, "error", rmErr)
				}
			}
		}
		e.status.Publish(a, PhaseFailed, bytes, attempts, err)
		return &Result{Action: a, Status: StatusFailed, Bytes: bytes, Attempts: attempts, Err: err}
	}

	e.status.Publish(a, PhaseSucceeded, bytes, attempts, nil)
	slog.Info("sync: action done", "category", a.Category, "path", a.RelPath,
		"size", humanize.Bytes(uint64(bytes)), "attempts", attempts)
	return &Result{Action: a, Status: StatusSuccess, Bytes: bytes, Attempts: attempts}
}

// commitAdoption records a resolver-adopted file without moving bytes. A
// healed rename keeps its original download timestamp.
func (e *Executor) commitAdoption(a *Action) error {
	downloadedAt := time.Now().UTC()
	if a.Entry != nil && !a.Entry.DownloadedAt.IsZero() {
		downloadedAt = a.Entry.DownloadedAt
	}
	return e.manifest.Upsert(&Entry{
		Ref:              a.Item.Ref,
		Name:             a.Item.TargetName(),
		LocalPath:        a.RelPath,
		Size:             a.Item.Size,
		Digest:           a.Item.Digest,
		RemoteModifiedAt: a.Item.ModifiedAt,
		DownloadedAt:     downloadedAt,
	})
}

// materialize writes a synthetic placeholder through the temp dir and
// places it atomically.
func (e *Executor) materialize(a *Action, tempDir string) (int64, error) {
	content, err := RenderPlaceholder(a.Item)
	if err != nil {
		return 0, err
	}

	tempPath := filepath.Join(tempDir, a.ID)
	if err := os.WriteFile(tempPath, content, 0o644); err != nil {
		return 0, fmt.Errorf("write placeholder: %w", err)
	}

	relPath, err := e.place(a, tempPath)
	if err != nil {
		return 0, err
	}
	return int64(len(content)), e.commit(a, relPath, time.Now().UTC())
}

// download streams the payload with retries, verifies it, and places it.
func (e *Executor) download(ctx context.Context, a *Action, tempDir string) (int64, int, error) {
	tempPath := filepath.Join(tempDir, a.ID)
	attempts := 0

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.opts.RetryBaseWait
	bo.MaxInterval = e.opts.RetryMaxWait
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(e.opts.MaxAttempts-1)), ctx)

	var written int64
	err := backoff.Retry(func() error {
		attempts++
		n, ferr := e.fetchOnce(ctx, a.Item, tempPath)
		if ferr != nil {
			if !Retryable(ferr) {
				return backoff.Permanent(ferr)
			}
			slog.Warn("sync: transient fetch failure, will retry",
				"path", a.RelPath, "attempt", attempts, "error", ferr)
			return ferr
		}
		written = n
		return nil
	}, policy)
	if err != nil {
		return 0, attempts, err
	}

	relPath, err := e.place(a, tempPath)
	if err != nil {
		return 0, attempts, err
	}
	return written, attempts, e.commit(a, relPath, time.Now().UTC())
}

// fetchOnce performs a single transfer attempt into tempPath and verifies
// the payload before accepting it.
func (e *Executor) fetchOnce(ctx context.Context, item *lms.Item, tempPath string) (int64, error) {
	f, err := os.Create(tempPath)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}

	n, fetchErr := e.source.Fetch(ctx, item, f)
	closeErr := f.Close()
	if fetchErr != nil {
		return n, fetchErr
	}
	if closeErr != nil {
		return n, fmt.Errorf("close temp file: %w", closeErr)
	}

	if item.Size > 0 && n != item.Size {
		// Truncated stream; counts as a network fault and is retried.
		return n, lms.NewSourceError(lms.CodeNetworkError,
			fmt.Sprintf("short payload: got %d bytes, want %d", n, item.Size), 0)
	}
	if item.Digest != "" {
		hash, err := utils.FileHash(tempPath)
		if err != nil {
			return n, fmt.Errorf("hash payload: %w", err)
		}
		if hash != item.Digest {
			return n, lms.NewSourceError(lms.CodeNetworkError,
				"payload checksum mismatch", 0)
		}
	}
	return n, nil
}

// place moves a verified temp file to its final path. An unmanaged file
// already at the target is preserved by renaming the incoming one. Returns
// the relative path actually used.
func (e *Executor) place(a *Action, tempPath string) (string, error) {
	relPath := a.RelPath
	absPath := filepath.Join(e.rootDir, filepath.FromSlash(relPath))

	// Any resolver-bound path is this item's own file, including one a
	// user renamed that the heal tiers tracked down.
	managed := a.Tier != MatchNone
	if !managed && utils.FileExists(absPath) {
		relPath = disambiguate(e.rootDir, relPath)
		absPath = filepath.Join(e.rootDir, filepath.FromSlash(relPath))
		slog.Info("sync: target exists, using disambiguated name",
			"wanted", a.RelPath, "using", relPath)
	}

	if err := utils.EnsureParent(absPath); err != nil {
		return "", fmt.Errorf("create target dir: %w", err)
	}
	if err := os.Rename(tempPath, absPath); err != nil {
		return "", fmt.Errorf("place file: %w", err)
	}
	return relPath, nil
}

// commit records the completed action in the manifest. This is the final
// step: the manifest never claims a file that is not on disk.
func (e *Executor) commit(a *Action, relPath string, now time.Time) error {
	size := a.Item.Size
	if a.Item.IsSynthetic() {
		size = 0
	}
	return e.manifest.Upsert(&Entry{
		Ref:              a.Item.Ref,
		Name:             a.Item.TargetName(),
		LocalPath:        relPath,
		Size:             size,
		Digest:           a.Item.Digest,
		RemoteModifiedAt: a.Item.ModifiedAt,
		DownloadedAt:     now,
	})
}

// disambiguate finds a free "name (N).ext" variant under root. After too
// many collisions a random suffix guarantees termination.
func disambiguate(root, relPath string) string {
	dir := filepath.Dir(relPath)
	ext := filepath.Ext(relPath)
	stem := filepath.Base(relPath)
	stem = stem[:len(stem)-len(ext)]

	join := func(name string) string {
		if dir == "." {
			return name
		}
		return dir + "/" + name
	}

	for i := 1; i < maxConflictRenames; i++ {
		candidate := join(fmt.Sprintf("%s (%d)%s", stem, i, ext))
		if !utils.FileExists(filepath.Join(root, filepath.FromSlash(candidate))) {
			return candidate
		}
	}
	return join(fmt.Sprintf("%s (%s)%s", stem, uuid.NewString()[:8], ext))
}
