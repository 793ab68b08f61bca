package sync

import (
	"context"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/lmsync/lmsync/internal/lms"
	"golang.org/x/sync/errgroup"
)

// SessionState is the lifecycle phase of one sync session.
type SessionState string

const (
	StateIdle                 SessionState = "idle"
	StateAnalyzing            SessionState = "analyzing"
	StateAwaitingConfirmation SessionState = "awaiting_confirmation"
	StateExecuting            SessionState = "executing"
	StateCompleted            SessionState = "completed"
	StateCancelled            SessionState = "cancelled"
)

// BatchSummary aggregates the outcome of one executed batch.
type BatchSummary struct {
	ScopeID    string           `json:"scope_id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Counts     map[Category]int `json:"counts"`
	Succeeded  int              `json:"succeeded"`
	Skipped    int              `json:"skipped"`
	Failed     int              `json:"failed"`
	Bytes      int64            `json:"bytes"`
	Failures   []*Failure       `json:"failures,omitempty"`
}

func (s *BatchSummary) Elapsed() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// merge folds another scope's summary into an aggregate one.
func (s *BatchSummary) merge(other *BatchSummary) {
	if s.Counts == nil {
		s.Counts = make(map[Category]int)
	}
	for c, n := range other.Counts {
		s.Counts[c] += n
	}
	s.Succeeded += other.Succeeded
	s.Skipped += other.Skipped
	s.Failed += other.Failed
	s.Bytes += other.Bytes
	s.Failures = append(s.Failures, other.Failures...)
}

// Session drives one folder/scope pair through analyze, confirm, execute.
// Analysis is read-only and repeatable; execution requires an explicit
// confirmation of the (possibly caller-filtered) action set. The session
// exclusively owns the folder's manifest for its duration.
type Session struct {
	mu        stdsync.Mutex
	state     SessionState
	source    lms.Source
	scopeID   string
	rootDir   string
	manifest  *Manifest
	scanner   *Scanner
	status    *StatusBus
	opts      Options
	plan      *Plan
	confirmed []*Action
	started   time.Time
}

// NewSession opens the folder's manifest and prepares a session in Idle.
// Close must be called to release the manifest.
func NewSession(source lms.Source, scopeID, rootDir string, opts Options) (*Session, error) {
	manifest, err := NewManifest(rootDir)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	return &Session{
		state:    StateIdle,
		source:   source,
		scopeID:  scopeID,
		rootDir:  rootDir,
		manifest: manifest,
		scanner:  NewScanner(rootDir),
		status:   NewStatusBus(),
		opts:     opts.normalized(),
	}, nil
}

// State returns the current lifecycle phase.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Events subscribes to execution progress events.
func (s *Session) Events() <-chan *Event {
	return s.status.Subscribe()
}

// Manifest exposes the session's manifest for ignore toggles and manual
// purges between analyses.
func (s *Session) Manifest() *Manifest {
	return s.manifest
}

func (s *Session) transition(from []SessionState, to SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range from {
		if s.state == f {
			s.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrSessionState, s.state, to)
}

// Analyze lists the scope, scans the folder and produces a plan. It writes
// nothing and can be repeated; each repetition replaces the previous plan
// and drops any prior confirmation.
func (s *Session) Analyze(ctx context.Context) (*Plan, error) {
	err := s.transition([]SessionState{StateIdle, StateAwaitingConfirmation, StateCompleted}, StateAnalyzing)
	if err != nil {
		return nil, err
	}

	plan, err := s.analyze(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if ctx.Err() != nil {
			s.state = StateCancelled
		} else {
			s.state = StateIdle
		}
		return nil, err
	}
	s.state = StateAwaitingConfirmation
	s.plan = plan
	s.confirmed = nil
	return plan, nil
}

func (s *Session) analyze(ctx context.Context) (*Plan, error) {
	items, err := s.source.ListItems(ctx, s.scopeID)
	if err != nil {
		return nil, fmt.Errorf("list remote items: %w", err)
	}

	state, err := s.manifest.GetState()
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}

	local, err := s.scanner.Scan()
	if err != nil {
		return nil, fmt.Errorf("scan folder: %w", err)
	}

	resolver := NewResolver(s.scanner, s.opts.SimilarityThreshold)
	bindings := resolver.Resolve(items, state, local)
	plan := Diff(s.scopeID, bindings, state)

	slog.Debug("sync: analysis complete", "scope", s.scopeID,
		"items", len(items), "tracked", len(state), "local", len(local.Files))
	return plan, nil
}

// Confirm accepts the action set to execute. Actions must come from the
// current plan; the caller expresses selection purely by filtering the
// slice before confirming.
func (s *Session) Confirm(actions []*Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAwaitingConfirmation {
		return fmt.Errorf("%w: confirm in %s", ErrSessionState, s.state)
	}
	if actions == nil {
		// An explicit empty selection is still a confirmation.
		actions = []*Action{}
	}

	known := make(map[string]struct{}, len(s.plan.Actions))
	for _, a := range s.plan.Actions {
		known[a.ID] = struct{}{}
	}
	for _, a := range actions {
		if _, ok := known[a.ID]; !ok {
			return fmt.Errorf("action %s not part of the current plan", a.ID)
		}
	}

	s.confirmed = actions
	return nil
}

// Execute runs the confirmed action set and returns the batch summary.
// The session always produces a summary, even under partial failure.
func (s *Session) Execute(ctx context.Context) (*BatchSummary, error) {
	s.mu.Lock()
	if s.state != StateAwaitingConfirmation {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: execute in %s", ErrSessionState, s.state)
	}
	if s.confirmed == nil {
		s.mu.Unlock()
		return nil, ErrNotConfirmed
	}
	s.state = StateExecuting
	actions := s.confirmed
	s.started = time.Now()
	s.mu.Unlock()

	exec := NewExecutor(s.source, s.manifest, s.rootDir, s.status, s.opts)
	results, err := exec.Run(ctx, actions)

	summary := s.summarize(results)

	s.mu.Lock()
	if ctx.Err() != nil {
		s.state = StateCancelled
	} else {
		s.state = StateCompleted
	}
	s.mu.Unlock()

	if err != nil {
		return summary, fmt.Errorf("execute batch: %w", err)
	}
	return summary, nil
}

func (s *Session) summarize(results []*Result) *BatchSummary {
	summary := &BatchSummary{
		ScopeID:    s.scopeID,
		StartedAt:  s.started,
		FinishedAt: time.Now(),
	}
	if s.plan != nil {
		summary.Counts = s.plan.Counts()
	} else {
		summary.Counts = make(map[Category]int)
	}
	for _, r := range results {
		switch r.Status {
		case StatusSuccess:
			summary.Succeeded++
			summary.Bytes += r.Bytes
		case StatusSkipped:
			summary.Skipped++
		case StatusFailed:
			summary.Failed++
			summary.Failures = append(summary.Failures, &Failure{
				Ref:         r.Action.Item.Ref,
				DisplayName: r.Action.Item.DisplayName,
				Kind:        Classify(r.Err),
				Attempts:    r.Attempts,
				Err:         r.Err,
				Message:     r.Err.Error(),
			})
		}
	}
	return summary
}

// Close releases the manifest and terminates event subscriptions.
func (s *Session) Close() error {
	s.status.Close()
	return s.manifest.Close()
}

// ScopeBinding pairs one remote scope with one local folder.
type ScopeBinding struct {
	ScopeID   string
	ScopeName string
	Folder    string
}

// Confirmer reviews a plan and returns the actions to execute. Returning
// plan.Pending() unmodified accepts everything actionable.
type Confirmer func(*Plan) []*Action

// Recorder persists batch outcomes. Implemented by the registry.
type Recorder interface {
	RecordSummary(binding ScopeBinding, summary *BatchSummary) error
}

// Runner syncs several scope bindings, each with its own session, with
// bounded scope-level concurrency. Folders are independent partitions;
// there is no ordering across them.
type Runner struct {
	source      lms.Source
	opts        Options
	confirm     Confirmer
	recorder    Recorder
	Concurrency int
}

func NewRunner(source lms.Source, opts Options, confirm Confirmer, recorder Recorder) *Runner {
	return &Runner{
		source:      source,
		opts:        opts,
		confirm:     confirm,
		recorder:    recorder,
		Concurrency: 1,
	}
}

// Run syncs all bindings and returns one aggregated summary. Per-scope
// failures are folded into the aggregate; the first hard session error is
// returned alongside it.
func (r *Runner) Run(ctx context.Context, bindings []ScopeBinding) (*BatchSummary, error) {
	aggregate := &BatchSummary{
		StartedAt: time.Now(),
		Counts:    make(map[Category]int),
	}
	var mu stdsync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.Concurrency, 1))

	for _, binding := range bindings {
		g.Go(func() error {
			summary, err := r.runScope(gctx, binding)
			if summary != nil {
				mu.Lock()
				aggregate.merge(summary)
				mu.Unlock()
			}
			return err
		})
	}

	err := g.Wait()
	aggregate.FinishedAt = time.Now()
	return aggregate, err
}

func (r *Runner) runScope(ctx context.Context, binding ScopeBinding) (*BatchSummary, error) {
	session, err := NewSession(r.source, binding.ScopeID, binding.Folder, r.opts)
	if err != nil {
		return nil, fmt.Errorf("scope %s: %w", binding.ScopeID, err)
	}
	defer session.Close()

	plan, err := session.Analyze(ctx)
	if err != nil {
		return nil, fmt.Errorf("scope %s: %w", binding.ScopeID, err)
	}

	selected := r.confirm(plan)
	if err := session.Confirm(selected); err != nil {
		return nil, fmt.Errorf("scope %s: %w", binding.ScopeID, err)
	}

	summary, err := session.Execute(ctx)
	if summary != nil && r.recorder != nil {
		if recErr := r.recorder.RecordSummary(binding, summary); recErr != nil {
			slog.Warn("sync: record history", "scope", binding.ScopeID, "error", recErr)
		}
	}
	if err != nil {
		return summary, fmt.Errorf("scope %s: %w", binding.ScopeID, err)
	}
	return summary, nil
}
