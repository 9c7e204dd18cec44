package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced Clock. Timers and tickers fire synchronously
// from Advance, in deadline order.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	nextSeq int
	timers  map[int]*fakeTimer
	tickers map[int]*fakeTicker
}

// NewFake returns a Fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{
		now:     start,
		timers:  make(map[int]*fakeTimer),
		tickers: make(map[int]*fakeTicker),
	}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSeq++
	t := &fakeTimer{clock: f, id: f.nextSeq, deadline: f.now.Add(d), fn: fn}
	f.timers[t.id] = t
	return t
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSeq++
	t := &fakeTicker{
		clock:    f,
		id:       f.nextSeq,
		period:   d,
		deadline: f.now.Add(d),
		ch:       make(chan time.Time, 1),
	}
	f.tickers[t.id] = t
	return t
}

// PendingTimers reports how many AfterFunc timers have not fired or been stopped.
func (f *Fake) PendingTimers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// Advance moves the clock forward by d, firing everything that comes due.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()
	f.runUntil(target)
}

// Set moves the clock to t. Moving backwards only changes Now.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	if !t.After(f.now) {
		f.now = t
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	f.runUntil(t)
}

func (f *Fake) runUntil(target time.Time) {
	for {
		f.mu.Lock()
		due := f.nextDueLocked(target)
		if due == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		f.now = due.at
		switch {
		case due.timer != nil:
			delete(f.timers, due.timer.id)
			fn := due.timer.fn
			f.mu.Unlock()
			fn()
		case due.ticker != nil:
			tk := due.ticker
			tk.deadline = tk.deadline.Add(tk.period)
			at := f.now
			f.mu.Unlock()
			select {
			case tk.ch <- at:
			default:
			}
		}
	}
}

type dueItem struct {
	at     time.Time
	seq    int
	timer  *fakeTimer
	ticker *fakeTicker
}

func (f *Fake) nextDueLocked(target time.Time) *dueItem {
	var items []dueItem
	for _, t := range f.timers {
		if !t.deadline.After(target) {
			items = append(items, dueItem{at: t.deadline, seq: t.id, timer: t})
		}
	}
	for _, t := range f.tickers {
		if !t.deadline.After(target) {
			items = append(items, dueItem{at: t.deadline, seq: t.id, ticker: t})
		}
	}
	if len(items) == 0 {
		return nil
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].at.Equal(items[j].at) {
			return items[i].seq < items[j].seq
		}
		return items[i].at.Before(items[j].at)
	})
	return &items[0]
}

type fakeTimer struct {
	clock    *Fake
	id       int
	deadline time.Time
	fn       func()
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if _, ok := t.clock.timers[t.id]; !ok {
		return false
	}
	delete(t.clock.timers, t.id)
	return true
}

type fakeTicker struct {
	clock    *Fake
	id       int
	period   time.Duration
	deadline time.Time
	ch       chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	delete(t.clock.tickers, t.id)
}
