package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lmsync/lmsync/internal/lms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, src *fakeSource) (*Session, string) {
	t.Helper()
	root := t.TempDir()
	session, err := NewSession(src, "course-1", root, fastOptions())
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session, root
}

func TestSessionLifecycle(t *testing.T) {
	item := fileItem(1, "doc.pdf", 5)
	src := newFakeSource(item)
	src.payloads[item.Ref] = []byte("12345")

	session, root := newTestSession(t, src)
	assert.Equal(t, StateIdle, session.State())

	plan, err := session.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingConfirmation, session.State())
	require.Len(t, plan.Actions, 1)
	assert.Equal(t, CategoryNew, plan.Actions[0].Category)

	require.NoError(t, session.Confirm(plan.Pending()))
	summary, err := session.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, session.State())

	assert.Equal(t, 1, summary.Succeeded)
	assert.EqualValues(t, 5, summary.Bytes)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, plan.Counts(), summary.Counts)
	assert.FileExists(t, filepath.Join(root, "doc.pdf"))
}

func TestSessionExecuteRequiresConfirmation(t *testing.T) {
	src := newFakeSource(fileItem(1, "doc.pdf", 5))
	session, _ := newTestSession(t, src)

	_, err := session.Execute(context.Background())
	assert.ErrorIs(t, err, ErrSessionState)

	_, err = session.Analyze(context.Background())
	require.NoError(t, err)

	_, err = session.Execute(context.Background())
	assert.ErrorIs(t, err, ErrNotConfirmed)
}

func TestSessionConfirmRejectsForeignActions(t *testing.T) {
	item := fileItem(1, "doc.pdf", 5)
	src := newFakeSource(item)
	session, _ := newTestSession(t, src)

	_, err := session.Analyze(context.Background())
	require.NoError(t, err)

	foreign := newAction(fileItem(999, "other.pdf", 1), CategoryNew)
	err = session.Confirm([]*Action{foreign})
	assert.Error(t, err)
}

func TestSessionAnalyzeIsRepeatable(t *testing.T) {
	item := fileItem(1, "doc.pdf", 5)
	src := newFakeSource(item)
	session, _ := newTestSession(t, src)

	first, err := session.Analyze(context.Background())
	require.NoError(t, err)
	second, err := session.Analyze(context.Background())
	require.NoError(t, err)

	require.Equal(t, len(first.Actions), len(second.Actions))
	assert.Equal(t, first.Actions[0].ID, second.Actions[0].ID)
	assert.Equal(t, StateAwaitingConfirmation, session.State())
}

func TestSessionCallerFiltersSelection(t *testing.T) {
	a := fileItem(1, "keep.pdf", 4)
	b := fileItem(2, "skip.pdf", 4)
	src := newFakeSource(a, b)
	src.payloads[a.Ref] = []byte("aaaa")
	src.payloads[b.Ref] = []byte("bbbb")

	session, root := newTestSession(t, src)
	plan, err := session.Analyze(context.Background())
	require.NoError(t, err)

	var selected []*Action
	for _, act := range plan.Pending() {
		if act.Item.Ref == a.Ref {
			selected = append(selected, act)
		}
	}
	require.NoError(t, session.Confirm(selected))

	summary, err := session.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.FileExists(t, filepath.Join(root, "keep.pdf"))
	assert.NoFileExists(t, filepath.Join(root, "skip.pdf"))
}

func TestSessionSummaryCarriesFailures(t *testing.T) {
	ok := fileItem(1, "good.pdf", 2)
	bad := fileItem(2, "bad.pdf", 2)
	src := newFakeSource(ok, bad)
	src.payloads[ok.Ref] = []byte("ok")
	src.failures[bad.Ref] = []error{
		lms.NewSourceError(lms.CodeAccessDenied, "forbidden", 403),
	}

	session, _ := newTestSession(t, src)
	plan, err := session.Analyze(context.Background())
	require.NoError(t, err)
	require.NoError(t, session.Confirm(plan.Pending()))

	summary, err := session.Execute(context.Background())
	require.NoError(t, err, "per-action failures never abort the batch")

	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	failure := summary.Failures[0]
	assert.Equal(t, bad.Ref, failure.Ref)
	assert.Equal(t, KindAccessDenied, failure.Kind)
	assert.Equal(t, 1, failure.Attempts)
	assert.NotEmpty(t, failure.Message)
}

func TestSessionEmitsProgressEvents(t *testing.T) {
	item := fileItem(1, "doc.pdf", 5)
	src := newFakeSource(item)
	src.payloads[item.Ref] = []byte("12345")

	session, _ := newTestSession(t, src)
	events := session.Events()

	plan, err := session.Analyze(context.Background())
	require.NoError(t, err)
	require.NoError(t, session.Confirm(plan.Pending()))
	_, err = session.Execute(context.Background())
	require.NoError(t, err)

	var phases []EventPhase
	for len(events) > 0 {
		ev := <-events
		phases = append(phases, ev.Phase)
		assert.Equal(t, plan.Actions[0].ID, ev.ActionID)
	}
	assert.Equal(t, []EventPhase{PhaseQueued, PhaseStarted, PhaseSucceeded}, phases)
}

func TestSessionSecondPassIsUnchanged(t *testing.T) {
	item := fileItem(1, "doc.pdf", 5)
	src := newFakeSource(item)
	src.payloads[item.Ref] = []byte("12345")

	session, _ := newTestSession(t, src)
	plan, err := session.Analyze(context.Background())
	require.NoError(t, err)
	require.NoError(t, session.Confirm(plan.Pending()))
	_, err = session.Execute(context.Background())
	require.NoError(t, err)

	// A fresh analysis after execution sees everything in place.
	plan, err = session.Analyze(context.Background())
	require.NoError(t, err)
	require.Len(t, plan.Actions, 1)
	assert.Equal(t, CategoryUnchanged, plan.Actions[0].Category)
	assert.False(t, plan.Actions[0].CommitOnly)
}

type memRecorder struct {
	records []*BatchSummary
}

func (r *memRecorder) RecordSummary(binding ScopeBinding, summary *BatchSummary) error {
	r.records = append(r.records, summary)
	return nil
}

func TestRunnerAggregatesScopes(t *testing.T) {
	a := fileItem(1, "a.pdf", 1)
	b := fileItem(2, "b.pdf", 1)
	src := newFakeSource(a, b)
	src.payloads[a.Ref] = []byte("a")
	src.payloads[b.Ref] = []byte("b")

	rec := &memRecorder{}
	runner := NewRunner(src, fastOptions(), func(p *Plan) []*Action { return p.Pending() }, rec)
	runner.Concurrency = 2

	folders := []ScopeBinding{
		{ScopeID: "c1", ScopeName: "Course 1", Folder: t.TempDir()},
		{ScopeID: "c2", ScopeName: "Course 2", Folder: t.TempDir()},
	}
	summary, err := runner.Run(context.Background(), folders)
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Succeeded, "both items land in both scopes")
	assert.Len(t, rec.records, 2)

	for _, binding := range folders {
		assert.FileExists(t, filepath.Join(binding.Folder, "a.pdf"))
		assert.FileExists(t, filepath.Join(binding.Folder, "b.pdf"))
	}
}

func TestSessionOwnsManifestExclusively(t *testing.T) {
	src := newFakeSource()
	session, root := newTestSession(t, src)

	// The manifest handle lives for the whole session and is released by
	// Close; a second session on the same folder after Close works fine.
	require.NoError(t, session.Close())

	again, err := NewSession(src, "course-1", root, fastOptions())
	require.NoError(t, err)
	require.NoError(t, again.Close())

	_, err = os.Stat(filepath.Join(root, InternalDirName, "manifest.db"))
	assert.NoError(t, err)
}
