// Package reconciler runs the fetch, diff, apply and notify cycle for one
// tracked account and drives it on a fixed interval.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/0xPollos/twitter-follow-tracker-bot/internal/archive"
	"github.com/0xPollos/twitter-follow-tracker-bot/internal/domain"
	"github.com/0xPollos/twitter-follow-tracker-bot/internal/lock"
	"github.com/0xPollos/twitter-follow-tracker-bot/internal/metrics"
	"github.com/0xPollos/twitter-follow-tracker-bot/internal/notifier"
	"github.com/0xPollos/twitter-follow-tracker-bot/internal/repository"
	pkglog "github.com/0xPollos/twitter-follow-tracker-bot/pkg/log"
)

// State is the externally observable phase of the cycle.
type State string

const (
	StateIdle      State = "idle"
	StateFetching  State = "fetching"
	StateDiffing   State = "diffing"
	StateApplying  State = "applying"
	StateNotifying State = "notifying"
)

// Fetcher lists the complete remote follow-set of a target.
type Fetcher interface {
	FetchFollowing(ctx context.Context, targetID string) (domain.IDSet, error)
}

// Config holds the loop settings.
type Config struct {
	Interval time.Duration
	LockTTL  time.Duration
}

// Option customises a Reconciler.
type Option func(*Reconciler)

// WithLocker guards each cycle with a distributed lock.
func WithLocker(l lock.Locker) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.locker = l
		}
	}
}

// WithArchive exports the diff of every changed cycle.
func WithArchive(a *archive.Archive) Option {
	return func(r *Reconciler) { r.archive = a }
}

// WithMetrics records cycle outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// Reconciler keeps the stored snapshot of one target in line with the
// remote follow-set.
type Reconciler struct {
	target   domain.TargetIdentity
	fetcher  Fetcher
	store    repository.SnapshotStore
	notifier notifier.Notifier
	locker   lock.Locker
	archive  *archive.Archive
	metrics  *metrics.Metrics
	now      func() time.Time
	cfg      Config

	mu    sync.RWMutex
	state State
	last  *domain.CycleResult

	quit     chan struct{}
	stopOnce sync.Once
	runOnce  sync.Once
	doneCh   chan struct{}
}

// ErrAlreadyStarted is returned by Run when the loop has already been started.
var ErrAlreadyStarted = errors.New("reconciler already started")

// New creates a Reconciler for target.
func New(target domain.TargetIdentity, fetcher Fetcher, store repository.SnapshotStore, n notifier.Notifier, cfg Config, opts ...Option) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 300 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	if n == nil {
		n = notifier.LogNotifier{}
	}
	r := &Reconciler{
		target:   target,
		fetcher:  fetcher,
		store:    store,
		notifier: n,
		locker:   lock.NopLocker{},
		now:      time.Now,
		cfg:      cfg,
		state:    StateIdle,
		quit:     make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Target returns the tracked account.
func (r *Reconciler) Target() domain.TargetIdentity { return r.target }

// State returns the current phase.
func (r *Reconciler) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// LastResult returns the most recent cycle result, if any cycle has finished.
func (r *Reconciler) LastResult() (domain.CycleResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return domain.CycleResult{}, false
	}
	return *r.last, true
}

// Diff returns the ids to add (in remote, not in snapshot) and to remove
// (in snapshot, not in remote).
func Diff(remote, snapshot domain.IDSet) (added, removed domain.IDSet) {
	return remote.Minus(snapshot), snapshot.Minus(remote)
}

// Start launches the loop in a background goroutine. The first cycle runs
// immediately. A Reconciler runs at most one loop; later calls are no-ops.
func (r *Reconciler) Start(ctx context.Context) {
	r.runOnce.Do(func() { go r.run(ctx) })
}

// Stop signals the loop to stop and returns immediately.
// Call Done() to wait for it to exit.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.quit) })
}

// Done returns a channel that is closed when the loop has fully stopped.
func (r *Reconciler) Done() <-chan struct{} {
	return r.doneCh
}

// Run blocks running cycles until ctx is cancelled or Stop is called.
// It returns ErrAlreadyStarted if the loop was already started.
func (r *Reconciler) Run(ctx context.Context) error {
	started := false
	r.runOnce.Do(func() { started = true })
	if !started {
		return ErrAlreadyStarted
	}
	r.run(ctx)
	return nil
}

// run waits the full interval after each cycle ends, however long it took.
func (r *Reconciler) run(ctx context.Context) {
	defer close(r.doneCh)

	for {
		r.RunCycle(ctx)

		timer := time.NewTimer(r.cfg.Interval)
		select {
		case <-r.quit:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// RunCycle performs one reconciliation. Fetch and store failures abort the
// cycle before anything is notified and are returned; the loop logs them
// and waits for the next tick. A cycle whose lock is held elsewhere is
// skipped without error.
func (r *Reconciler) RunCycle(ctx context.Context) (domain.CycleResult, error) {
	res := domain.CycleResult{
		CycleID:   uuid.NewString(),
		Target:    r.target,
		StartedAt: r.now().UTC(),
	}

	l := pkglog.Ctx(ctx).With().
		Str(pkglog.FieldCycleID, res.CycleID).
		Str(pkglog.FieldTargetUsername, r.target.Username).
		Str(pkglog.FieldTargetID, r.target.ID).
		Logger()
	ctx = pkglog.WithLogger(ctx, l)

	release, ok, err := r.locker.Acquire(ctx, r.target.ID, r.cfg.LockTTL)
	if err != nil {
		return r.finish(ctx, res, fmt.Errorf("acquire cycle lock: %w", err))
	}
	if !ok {
		res.Skipped = true
		return r.finish(ctx, res, nil)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			l.Warn().Err(err).Msg("failed to release cycle lock")
		}
	}()

	err = r.reconcile(ctx, &res)
	return r.finish(ctx, res, err)
}

func (r *Reconciler) reconcile(ctx context.Context, res *domain.CycleResult) error {
	defer r.setState(StateIdle)

	r.setState(StateFetching)
	remote, err := r.fetcher.FetchFollowing(ctx, r.target.ID)
	if err != nil {
		return fmt.Errorf("fetch following: %w", err)
	}
	res.RemoteCount = remote.Len()

	snapshot, err := r.store.LoadSnapshot(ctx, r.target.ID)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	res.SnapshotCount = snapshot.Len()

	r.setState(StateDiffing)
	added, removed := Diff(remote, snapshot)
	if added.Len() == 0 && removed.Len() == 0 {
		return nil
	}

	r.setState(StateApplying)
	observedAt := r.now().UTC()
	if err := r.store.InsertIfAbsent(ctx, r.target.ID, added, observedAt); err != nil {
		return fmt.Errorf("apply additions: %w", err)
	}
	if err := r.store.DeleteMany(ctx, r.target.ID, removed); err != nil {
		return fmt.Errorf("apply removals: %w", err)
	}
	res.Added = added.Sorted()
	res.Removed = removed.Sorted()

	r.setState(StateNotifying)
	for _, id := range res.Added {
		r.notifier.Notify(ctx, r.event(domain.ChangeFollowed, id, observedAt, res.CycleID))
	}
	for _, id := range res.Removed {
		r.notifier.Notify(ctx, r.event(domain.ChangeUnfollowed, id, observedAt, res.CycleID))
	}
	return nil
}

func (r *Reconciler) event(kind domain.ChangeKind, id string, at time.Time, cycleID string) domain.ChangeEvent {
	return domain.ChangeEvent{
		Kind:       kind,
		Target:     r.target,
		FollowedID: id,
		ObservedAt: at,
		CycleID:    cycleID,
	}
}

func (r *Reconciler) finish(ctx context.Context, res domain.CycleResult, err error) (domain.CycleResult, error) {
	l := pkglog.Ctx(ctx)
	res.FinishedAt = r.now().UTC()
	elapsed := res.FinishedAt.Sub(res.StartedAt)

	result := metrics.ResultOK
	switch {
	case err != nil:
		result = metrics.ResultError
		res.Error = err.Error()
		l.Error().Err(err).
			Int(pkglog.FieldRemoteCount, res.RemoteCount).
			Int(pkglog.FieldSnapshotCount, res.SnapshotCount).
			Dur(pkglog.FieldDuration, elapsed).
			Msg("cycle failed")
	case res.Skipped:
		result = metrics.ResultSkipped
		l.Info().Msg("cycle skipped, lock held by another instance")
	default:
		l.Info().
			Int(pkglog.FieldAdded, len(res.Added)).
			Int(pkglog.FieldRemoved, len(res.Removed)).
			Int(pkglog.FieldRemoteCount, res.RemoteCount).
			Dur(pkglog.FieldDuration, elapsed).
			Msg("cycle complete")
		r.archive.Write(ctx, res)
	}

	if r.metrics != nil {
		r.metrics.ObserveCycle(r.target.Username, result, elapsed)
		if err == nil && !res.Skipped {
			r.metrics.ObserveChanges(r.target.Username, len(res.Added), len(res.Removed), res.RemoteCount)
		}
	}

	r.mu.Lock()
	r.last = &res
	r.mu.Unlock()
	return res, err
}

func (r *Reconciler) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}
