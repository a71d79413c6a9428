// Package orchestrator decides where session state is loaded from at boot
// and propagates every later change to the local cache, the optional file
// backend and the remote store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"pipesync/internal/auth"
	"pipesync/internal/cache"
	"pipesync/internal/logging"
	"pipesync/internal/services"
	"pipesync/internal/state"
	"pipesync/pkg/models"
)

// SnapshotStore is the reactive state the orchestrator persists.
type SnapshotStore interface {
	Snapshot() models.Snapshot
	Subscribe(fn state.Listener) func()
	Hydrate(snap models.Snapshot)
	HydrateRemote(p models.RemotePayload)
}

// Options are the timing knobs of change propagation.
type Options struct {
	// DebounceDelay coalesces bursts of changes into one local write.
	DebounceDelay time.Duration
	// MinInterval is the minimum time between two remote save attempts.
	// The interval is measured from boot, so the first save after boot also
	// waits MinInterval.
	MinInterval time.Duration
	// RetryDelay is the wait after a failed save. Must exceed MinInterval.
	RetryDelay time.Duration
}

// DefaultOptions returns the timing used when none is configured.
func DefaultOptions() Options {
	return Options{
		DebounceDelay: 400 * time.Millisecond,
		MinInterval:   2 * time.Second,
		RetryDelay:    10 * time.Second,
	}
}

// Params are the collaborators of an Orchestrator. Remote and FileBackend
// are optional.
type Params struct {
	Store       SnapshotStore
	Cache       *cache.SnapshotCache
	Remote      services.RemoteStore
	FileBackend services.FileBackend
	Identity    auth.Identity
	Clock       Clock
	Options     Options
	Logger      *logging.Logger
	Meter       metric.Meter
}

// Status is the observable state of the session.
type Status struct {
	IsLoading bool               `json:"isLoading"`
	Cloud     models.CloudStatus `json:"cloudSyncStatus"`
}

type pendingSave struct {
	payload   models.RemotePayload
	signature string
}

// Orchestrator is the sync engine of one session.
type Orchestrator struct {
	store       SnapshotStore
	cache       *cache.SnapshotCache
	remote      services.RemoteStore
	fileBackend services.FileBackend
	clock       Clock
	opts        Options
	logger      *logging.Logger
	metrics     *syncMetrics

	mu            sync.Mutex
	identity      auth.Identity
	booted        bool
	closed        bool
	loading       bool
	cloud         models.CloudStatus
	latest        models.Snapshot
	debounceTimer Timer
	flushTimer    Timer
	pending       *pendingSave
	inFlight      bool
	flushDone     chan struct{}
	cancelFlush   context.CancelFunc
	pulling       bool
	lastFlushAt   time.Time
	lastSavedSig  string
	// debounceSeq and flushSeq identify the current timer of each kind, so a
	// callback that lost a race with Stop does nothing.
	debounceSeq uint64
	flushSeq    uint64
	// epoch invalidates the bookkeeping of a save overtaken by a pull or an
	// identity change.
	epoch       uint64
	unsubscribe func()
	listeners   map[int]func(models.CloudStatus)
	nextID      int
}

// New creates an Orchestrator. Call Boot before use.
func New(p Params) (*Orchestrator, error) {
	if p.Store == nil || p.Cache == nil {
		return nil, errors.New("orchestrator needs a snapshot store and a cache")
	}
	if p.Options == (Options{}) {
		p.Options = DefaultOptions()
	}
	if p.Options.RetryDelay <= p.Options.MinInterval {
		return nil, fmt.Errorf("retry delay %s must exceed min interval %s", p.Options.RetryDelay, p.Options.MinInterval)
	}
	if p.Clock == nil {
		p.Clock = RealClock()
	}
	if p.Logger == nil {
		p.Logger = logging.Discard()
	}
	m, err := newSyncMetrics(p.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	return &Orchestrator{
		store:       p.Store,
		cache:       p.Cache,
		remote:      p.Remote,
		fileBackend: p.FileBackend,
		clock:       p.Clock,
		opts:        p.Options,
		logger:      p.Logger.With("component", "orchestrator"),
		metrics:     m,
		identity:    p.Identity,
		cloud:       models.CloudStatus{State: models.SyncIdle},
		listeners:   make(map[int]func(models.CloudStatus)),
	}, nil
}

// Boot hydrates the store from the highest-precedence tier that has data
// and starts propagating changes.
func (o *Orchestrator) Boot(ctx context.Context) error {
	o.mu.Lock()
	if o.booted {
		o.mu.Unlock()
		return errors.New("orchestrator already booted")
	}
	o.booted = true
	o.loading = true
	ident := o.identity
	o.mu.Unlock()

	today := models.DateOf(o.clock.Now())
	lastOpened, err := o.cache.LastOpened()
	if err != nil {
		o.logger.Warn("failed to read last-opened date", "error", err)
	}

	snap, fromRemote := o.loadInitial(ctx, ident)
	snap.Routines = models.NormalizeRoutines(snap.Routines, lastOpened, today)

	var sig string
	if fromRemote {
		if sig, err = snap.Remote().Signature(); err != nil {
			o.logger.Warn("failed to sign loaded payload", "error", err)
		}
	}

	o.store.Hydrate(snap)
	if err := o.cache.SetLastOpened(today); err != nil {
		o.logger.Warn("failed to record last-opened date", "error", err)
	}

	o.mu.Lock()
	o.lastSavedSig = sig
	// The interval clock starts at boot.
	o.lastFlushAt = o.clock.Now()
	o.latest = o.store.Snapshot()
	o.loading = false
	o.mu.Unlock()

	unsubscribe := o.store.Subscribe(o.onChange)
	o.mu.Lock()
	o.unsubscribe = unsubscribe
	o.mu.Unlock()
	o.logger.Info("session booted",
		"pipelines", len(snap.Pipelines),
		"routines", len(snap.Routines),
		"from_remote", fromRemote)
	o.notify()
	return nil
}

func (o *Orchestrator) loadInitial(ctx context.Context, ident auth.Identity) (models.Snapshot, bool) {
	if ident.Authenticated() && o.remote != nil {
		o.setCloudState(models.SyncLoading)
		payload, err := o.remote.Load(ctx, ident.UserID)
		o.setCloudState(models.SyncIdle)
		switch {
		case err != nil:
			o.logger.Warn("remote load failed, falling back", "error", err)
		case payload != nil && !payload.Empty():
			snap := models.Snapshot{Pipelines: payload.Pipelines, Routines: payload.Routines}
			if cached, ok, err := o.cache.Load(); err == nil && ok {
				snap.History = cached.History
			}
			return snap, true
		}
	}

	if o.fileBackend != nil {
		snap, err := o.fileBackend.Load(ctx)
		switch {
		case err != nil:
			o.logger.Warn("file backend load failed, falling back", "error", err)
		case snap != nil:
			return *snap, false
		}
	}

	snap, _, err := o.cache.Load()
	if errors.Is(err, cache.ErrCorrupt) {
		o.logger.Warn("discarded corrupt local cache", "error", err)
	} else if err != nil {
		o.logger.Warn("local cache unreadable", "error", err)
	}
	return snap, false
}

// onChange runs for every snapshot mutation.
func (o *Orchestrator) onChange(snap models.Snapshot) {
	defer o.recoverPanic("change")

	payload := snap.Remote()
	sig, sigErr := payload.Signature()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.latest = snap
	if o.debounceTimer != nil {
		o.debounceTimer.Stop()
	}
	o.debounceSeq++
	seq := o.debounceSeq
	o.debounceTimer = o.clock.AfterFunc(o.opts.DebounceDelay, func() { o.writeLocal(seq) })

	if !o.identity.Authenticated() || o.remote == nil {
		return
	}
	if sigErr != nil {
		o.logger.Error("failed to sign payload", "error", sigErr)
		return
	}
	o.registerLocked(payload, sig)
}

// registerLocked makes payload the pending save unless the remote already
// holds it. While a pull runs nothing is registered; the pull re-registers
// the latest snapshot when it ends.
func (o *Orchestrator) registerLocked(payload models.RemotePayload, sig string) {
	if o.pulling {
		return
	}
	if sig == o.lastSavedSig && !o.inFlight {
		o.pending = nil
		o.stopFlushTimerLocked()
		o.metrics.suppressed.Add(context.Background(), 1)
		return
	}
	o.pending = &pendingSave{payload: payload, signature: sig}
	if o.inFlight || o.flushTimer != nil {
		return
	}
	o.armFlushLocked(o.waitLocked())
}

func (o *Orchestrator) waitLocked() time.Duration {
	wait := o.opts.MinInterval - o.clock.Now().Sub(o.lastFlushAt)
	if wait < 0 {
		return 0
	}
	return wait
}

func (o *Orchestrator) armFlushLocked(d time.Duration) {
	o.flushSeq++
	seq := o.flushSeq
	o.flushTimer = o.clock.AfterFunc(d, func() { o.flush(seq) })
}

func (o *Orchestrator) stopFlushTimerLocked() {
	o.flushSeq++
	if o.flushTimer != nil {
		o.flushTimer.Stop()
		o.flushTimer = nil
	}
}

// writeLocal persists the latest snapshot once the debounce window closes.
func (o *Orchestrator) writeLocal(seq uint64) {
	defer o.recoverPanic("local write")

	o.mu.Lock()
	if o.closed || seq != o.debounceSeq {
		o.mu.Unlock()
		return
	}
	o.debounceTimer = nil
	snap := o.latest
	fb := o.fileBackend
	o.mu.Unlock()

	if err := o.cache.Save(snap); err != nil {
		o.logger.Error("failed to write local cache", "error", err)
	}
	if fb != nil {
		go func() {
			defer o.recoverPanic("file backend save")
			if err := fb.Save(context.Background(), snap); err != nil {
				o.logger.Debug("file backend save failed", "error", err)
			}
		}()
	}
}

// flush sends the pending payload to the remote store.
func (o *Orchestrator) flush(seq uint64) {
	defer o.recoverPanic("flush")

	o.mu.Lock()
	if seq != o.flushSeq {
		o.mu.Unlock()
		return
	}
	o.flushTimer = nil
	if o.closed || o.pulling || o.inFlight || o.pending == nil || o.remote == nil || !o.identity.Authenticated() {
		o.mu.Unlock()
		return
	}
	p := *o.pending
	userID := o.identity.UserID
	epoch := o.epoch
	ctx, cancel := context.WithCancel(context.Background())
	o.cancelFlush = cancel
	o.inFlight = true
	done := make(chan struct{})
	o.flushDone = done
	o.cloud = models.CloudStatus{State: models.SyncSaving, LastSavedAt: o.cloud.LastSavedAt}
	o.mu.Unlock()
	o.notify()

	start := o.clock.Now()
	err := o.remote.Save(ctx, userID, p.payload)
	cancel()
	o.metrics.recordSave(context.Background(), o.clock.Now().Sub(start), err)

	o.mu.Lock()
	o.inFlight = false
	o.flushDone = nil
	close(done)
	o.cancelFlush = nil
	if epoch != o.epoch {
		// Overtaken by a pull or identity change; only newer work matters.
		if o.pending != nil && o.flushTimer == nil && o.identity.Authenticated() && !o.closed && !o.pulling {
			o.armFlushLocked(o.waitLocked())
		}
		o.mu.Unlock()
		return
	}

	now := o.clock.Now()
	o.lastFlushAt = now
	if err != nil {
		// A failed save leaves the remote in an unknown state.
		o.lastSavedSig = ""
		o.cloud = models.CloudStatus{State: models.SyncError, LastSavedAt: o.cloud.LastSavedAt, LastError: err.Error()}
		if !o.closed {
			o.armFlushLocked(o.opts.RetryDelay)
		}
		o.mu.Unlock()
		o.logger.Warn("remote save failed, will retry", "error", err, "retry_in", o.opts.RetryDelay)
		o.notify()
		return
	}

	o.lastSavedSig = p.signature
	o.cloud = models.CloudStatus{State: models.SyncIdle, LastSavedAt: &now}
	if o.pending != nil && o.pending.signature != p.signature {
		if !o.closed {
			o.armFlushLocked(o.waitLocked())
		}
	} else {
		o.pending = nil
	}
	o.mu.Unlock()
	o.logger.Debug("remote save complete", "user_id", userID)
	o.notify()
}

// supersedeLocked drops pending and in-flight save bookkeeping.
func (o *Orchestrator) supersedeLocked() {
	o.epoch++
	o.stopFlushTimerLocked()
	o.pending = nil
	if o.cancelFlush != nil {
		o.cancelFlush()
		o.cancelFlush = nil
	}
}

// SetIdentity applies a new session identity. Leaving an authenticated
// session cancels all remote save work.
func (o *Orchestrator) SetIdentity(id auth.Identity) {
	o.mu.Lock()
	prev := o.identity
	o.identity = id
	if prev == id {
		o.mu.Unlock()
		return
	}
	if !id.Authenticated() || prev.UserID != id.UserID {
		o.supersedeLocked()
		o.lastSavedSig = ""
		o.cloud = models.CloudStatus{State: models.SyncIdle}
	}
	o.mu.Unlock()
	o.logger.Info("identity changed", "user_id", id.UserID, "guest", id.Guest)
	o.notify()
}

// Identity returns the current session identity.
func (o *Orchestrator) Identity() auth.Identity {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.identity
}

// SyncFromCloud replaces local pipelines and routines with the remote copy.
// Remote saves are held off from the start of the pull until it ends, and a
// save already in flight is cancelled and waited for before loading.
func (o *Orchestrator) SyncFromCloud(ctx context.Context) models.PullResult {
	o.mu.Lock()
	ident := o.identity
	remote := o.remote
	if !ident.Authenticated() {
		o.mu.Unlock()
		return models.PullResult{RequiresAuth: true, Message: "Sign in to sync from the cloud."}
	}
	if remote == nil {
		o.mu.Unlock()
		return models.PullResult{Message: "Cloud sync is not configured."}
	}
	if o.pulling {
		o.mu.Unlock()
		return models.PullResult{Message: "A cloud sync is already running."}
	}
	o.pulling = true
	interrupted := o.inFlight
	o.supersedeLocked()
	if interrupted {
		// The cancelled save may have been partly applied.
		o.lastSavedSig = ""
	}
	done := o.flushDone
	o.mu.Unlock()
	defer o.endPull()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return models.PullResult{Message: "Cloud sync failed: " + ctx.Err().Error()}
		}
	}

	o.mu.Lock()
	prevCloud := o.cloud
	if prevCloud.State == models.SyncSaving {
		prevCloud.State = models.SyncIdle
	}
	o.mu.Unlock()

	o.setCloudState(models.SyncLoading)
	payload, err := remote.Load(ctx, ident.UserID)
	if err != nil {
		o.restoreCloud(prevCloud)
		if errors.Is(err, services.ErrNotConfigured) {
			return models.PullResult{Message: "Cloud sync is not configured."}
		}
		o.logger.Warn("pull from cloud failed", "error", err)
		return models.PullResult{Message: "Cloud sync failed: " + err.Error()}
	}
	if payload == nil || payload.Empty() {
		o.restoreCloud(prevCloud)
		return models.PullResult{Message: "No cloud data found for this account."}
	}

	today := models.DateOf(o.clock.Now())
	pulled := models.RemotePayload{
		Pipelines: payload.Pipelines,
		Routines:  models.NormalizeRoutines(payload.Routines, today, today),
	}
	sig, err := pulled.Signature()
	if err != nil {
		o.restoreCloud(prevCloud)
		return models.PullResult{Message: "Cloud sync failed: " + err.Error()}
	}

	o.mu.Lock()
	if o.identity != ident || o.closed {
		o.mu.Unlock()
		return models.PullResult{Message: "Session changed during sync."}
	}
	o.supersedeLocked()
	now := o.clock.Now()
	o.lastSavedSig = sig
	o.lastFlushAt = now
	o.cloud = models.CloudStatus{State: models.SyncIdle, LastSavedAt: &now}
	o.mu.Unlock()
	o.notify()

	o.store.HydrateRemote(pulled)

	o.logger.Info("pulled state from cloud", "pipelines", len(pulled.Pipelines), "routines", len(pulled.Routines))
	return models.PullResult{
		OK:      true,
		Message: fmt.Sprintf("Loaded %d pipelines and %d routines from the cloud.", len(pulled.Pipelines), len(pulled.Routines)),
	}
}

// endPull lifts the pull guard and registers whatever the store holds now.
// After a successful pull that is the pulled state, which is suppressed.
func (o *Orchestrator) endPull() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pulling = false
	if o.closed || o.remote == nil || !o.identity.Authenticated() {
		return
	}
	payload := o.latest.Remote()
	sig, err := payload.Signature()
	if err != nil {
		o.logger.Error("failed to sign payload", "error", err)
		return
	}
	o.registerLocked(payload, sig)
}

// Status returns the current status.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statusLocked()
}

func (o *Orchestrator) statusLocked() Status {
	c := o.cloud
	if c.LastSavedAt != nil {
		t := *c.LastSavedAt
		c.LastSavedAt = &t
	}
	return Status{IsLoading: o.loading, Cloud: c}
}

// OnStatus registers fn for cloud status changes and returns a function that
// removes it.
func (o *Orchestrator) OnStatus(fn func(models.CloudStatus)) func() {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = fn
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		delete(o.listeners, id)
		o.mu.Unlock()
	}
}

func (o *Orchestrator) setCloudState(s models.SyncState) {
	o.mu.Lock()
	o.cloud.State = s
	o.mu.Unlock()
	o.notify()
}

func (o *Orchestrator) restoreCloud(c models.CloudStatus) {
	o.mu.Lock()
	o.cloud = c
	o.mu.Unlock()
	o.notify()
}

// notify calls status listeners outside the lock.
func (o *Orchestrator) notify() {
	o.mu.Lock()
	st := o.statusLocked().Cloud
	fns := make([]func(models.CloudStatus), 0, len(o.listeners))
	for _, fn := range o.listeners {
		fns = append(fns, fn)
	}
	o.mu.Unlock()

	for _, fn := range fns {
		func() {
			defer o.recoverPanic("status listener")
			fn(st)
		}()
	}
}

func (o *Orchestrator) recoverPanic(where string) {
	if r := recover(); r != nil {
		o.logger.Error("recovered from panic", "where", where, "panic", r)
	}
}

// Close stops propagation and cancels outstanding timers. Pending remote
// work is dropped; the local cache is flushed one last time.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	unsubscribe := o.unsubscribe
	flushLocal := o.debounceTimer != nil
	if o.debounceTimer != nil {
		o.debounceTimer.Stop()
		o.debounceTimer = nil
	}
	o.debounceSeq++
	snap := o.latest
	o.supersedeLocked()
	o.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if flushLocal {
		if err := o.cache.Save(snap); err != nil {
			o.logger.Error("failed to write local cache", "error", err)
		}
	}
}
