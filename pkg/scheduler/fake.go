package scheduler

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced Scheduler. Callbacks run synchronously on the
// goroutine calling Advance or FireNext, never while the fake's lock is held.
type Fake struct {
	mu        sync.Mutex
	now       time.Time
	seq       int
	pending   []*fakeTimer
	scheduled []time.Duration
}

type fakeTimer struct {
	f     *Fake
	at    time.Time
	delay time.Duration
	seq   int
	fn    func()
	done  bool
}

var _ Scheduler = &Fake{}

func NewFake(start time.Time) *Fake {
	if start.IsZero() {
		start = time.Unix(0, 0)
	}
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	if d < 0 {
		d = 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{f: f, at: f.now.Add(d), delay: d, seq: f.seq, fn: fn}
	f.pending = append(f.pending, t)
	f.scheduled = append(f.scheduled, d)
	return t
}

func (t *fakeTimer) Stop() bool {
	f := t.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	f.removeLocked(t)
	return true
}

func (f *Fake) removeLocked(t *fakeTimer) {
	for i, p := range f.pending {
		if p == t {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			return
		}
	}
}

// nextLocked returns the earliest pending timer, ties broken by creation order.
func (f *Fake) nextLocked() *fakeTimer {
	if len(f.pending) == 0 {
		return nil
	}
	sort.SliceStable(f.pending, func(i, j int) bool {
		if f.pending[i].at.Equal(f.pending[j].at) {
			return f.pending[i].seq < f.pending[j].seq
		}
		return f.pending[i].at.Before(f.pending[j].at)
	})
	return f.pending[0]
}

// Advance moves the clock forward by d and fires every timer that becomes due,
// including timers scheduled by callbacks within the window.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()
	for {
		f.mu.Lock()
		t := f.nextLocked()
		if t == nil || t.at.After(target) {
			f.now = target
			f.mu.Unlock()
			return
		}
		f.now = t.at
		t.done = true
		f.removeLocked(t)
		f.mu.Unlock()
		t.fn()
	}
}

// FireNext jumps to the earliest pending timer and runs it. It reports false
// when nothing is pending.
func (f *Fake) FireNext() bool {
	f.mu.Lock()
	t := f.nextLocked()
	if t == nil {
		f.mu.Unlock()
		return false
	}
	f.now = t.at
	t.done = true
	f.removeLocked(t)
	f.mu.Unlock()
	t.fn()
	return true
}

// RunAll fires pending timers until none remain or limit callbacks have run.
func (f *Fake) RunAll(limit int) int {
	n := 0
	for n < limit && f.FireNext() {
		n++
	}
	return n
}

func (f *Fake) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// Scheduled returns the delay of every AfterFunc call so far, in call order.
func (f *Fake) Scheduled() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.scheduled...)
}
