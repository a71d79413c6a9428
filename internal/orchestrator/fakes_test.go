package orchestrator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"pipesync/internal/cache"
	"pipesync/pkg/models"
)

// fakeClock fires timers synchronously from Advance, in deadline order.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	seq    int
}

type fakeTimer struct {
	c       *fakeClock
	when    time.Time
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, when: c.now.Add(d), seq: c.seq, f: f}
	c.seq++
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	for i, other := range t.c.timers {
		if other == t {
			t.c.timers = append(t.c.timers[:i], t.c.timers[i+1:]...)
			break
		}
	}
	return true
}

// Advance moves time forward by d, firing every timer that comes due,
// including timers armed by the callbacks themselves.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool {
			if c.timers[i].when.Equal(c.timers[j].when) {
				return c.timers[i].seq < c.timers[j].seq
			}
			return c.timers[i].when.Before(c.timers[j].when)
		})
		if len(c.timers) == 0 || c.timers[0].when.After(target) {
			c.now = target
			c.mu.Unlock()
			return
		}
		t := c.timers[0]
		c.timers = c.timers[1:]
		t.fired = true
		if t.when.After(c.now) {
			c.now = t.when
		}
		c.mu.Unlock()
		t.f()
	}
}

func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

type saveCall struct {
	at      time.Time
	userID  string
	payload models.RemotePayload
}

// fakeRemote records saves and can fail or block on demand.
type fakeRemote struct {
	clock *fakeClock

	mu          sync.Mutex
	saves       []saveCall
	failNext    int
	loadPayload *models.RemotePayload
	loadErr     error
	loads       int
	// onLoad runs at the start of Load, outside the lock.
	onLoad func()
	// When gate is set, Save signals started and waits for gate.
	gate    chan error
	started chan struct{}
}

func newFakeRemote(clock *fakeClock) *fakeRemote {
	return &fakeRemote{clock: clock}
}

func (r *fakeRemote) Load(_ context.Context, _ string) (*models.RemotePayload, error) {
	r.mu.Lock()
	hook := r.onLoad
	r.mu.Unlock()
	if hook != nil {
		hook()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads++
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	if r.loadPayload == nil {
		return nil, nil
	}
	p := models.Snapshot{Pipelines: r.loadPayload.Pipelines, Routines: r.loadPayload.Routines}.Remote()
	return &p, nil
}

func (r *fakeRemote) Save(ctx context.Context, userID string, payload models.RemotePayload) error {
	r.mu.Lock()
	gate, started := r.gate, r.started
	r.mu.Unlock()
	if gate != nil {
		started <- struct{}{}
		if err := <-gate; err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves = append(r.saves, saveCall{at: r.clock.Now(), userID: userID, payload: payload})
	if r.failNext > 0 {
		r.failNext--
		return errors.New("connection reset by peer")
	}
	return nil
}

func (r *fakeRemote) calls() []saveCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]saveCall, len(r.saves))
	copy(out, r.saves)
	return out
}

// manualClock never fires on its own. Stop always reports false, as if the
// timer had already fired, and tests invoke callbacks with fire.
type manualClock struct {
	mu    sync.Mutex
	now   time.Time
	funcs []func()
}

type lateTimer struct{}

func (lateTimer) Stop() bool { return false }

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(_ time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.funcs = append(c.funcs, f)
	return lateTimer{}
}

func (c *manualClock) armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.funcs)
}

func (c *manualClock) fire(i int) {
	c.mu.Lock()
	f := c.funcs[i]
	c.mu.Unlock()
	f()
}

// fakeFileBackend records posted snapshots.
type fakeFileBackend struct {
	mu    sync.Mutex
	load  *models.Snapshot
	err   error
	saved []models.Snapshot
}

func (f *fakeFileBackend) Load(context.Context) (*models.Snapshot, error) {
	return f.load, f.err
}

func (f *fakeFileBackend) Save(_ context.Context, snap models.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, snap)
	return f.err
}

func (f *fakeFileBackend) saves() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

// countingKV counts writes of the snapshot key.
type countingKV struct {
	*cache.MemoryKV
	mu     sync.Mutex
	writes []string
}

func newCountingKV() *countingKV {
	return &countingKV{MemoryKV: cache.NewMemoryKV()}
}

func (k *countingKV) Set(key, value string) error {
	if key == cache.KeyState {
		k.mu.Lock()
		k.writes = append(k.writes, value)
		k.mu.Unlock()
	}
	return k.MemoryKV.Set(key, value)
}

func (k *countingKV) stateWrites() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]string, len(k.writes))
	copy(out, k.writes)
	return out
}
