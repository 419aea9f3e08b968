package sync

import (
	"context"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// fetchTimeout is the maximum time allowed for a single fetch operation.
const fetchTimeout = 10 * time.Second

// defaultInterval is used when a loop is created with a non-positive interval.
const defaultInterval = 2 * time.Second

// FetchFunc re-reads the data behind one view.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Snapshot is a tea.Msg carrying the outcome of one fetch that differed from
// the previously emitted value, or failed.
type Snapshot[T any] struct {
	Loop  string
	Value T
	Err   error
	At    time.Time
}

// Loop re-runs a fetch on a fixed interval, or immediately when triggered,
// and emits a Snapshot whenever the result changes.
type Loop[T any] struct {
	name     string
	interval time.Duration
	fetch    FetchFunc[T]
	equal    func(a, b T) bool

	resultCh  chan Snapshot[T]
	triggerCh chan struct{}

	mu      gosync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	// last and hasLast are only touched by the loop goroutine.
	last    T
	hasLast bool
}

// NewLoop creates a stopped Loop. A nil equal emits every successful fetch.
func NewLoop[T any](name string, interval time.Duration, fetch FetchFunc[T], equal func(a, b T) bool) *Loop[T] {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Loop[T]{
		name:      name,
		interval:  interval,
		fetch:     fetch,
		equal:     equal,
		resultCh:  make(chan Snapshot[T]),
		triggerCh: make(chan struct{}, 1),
	}
}

// Name returns the loop's name as given to NewLoop.
func (l *Loop[T]) Name() string { return l.name }

// Interval returns the polling interval.
func (l *Loop[T]) Interval() time.Duration { return l.interval }

// Start launches the polling goroutine. The first fetch runs immediately.
// Starting a running loop is a no-op.
func (l *Loop[T]) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return
	}
	l.running = true
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	l.hasLast = false

	go l.run(l.ctx, l.done)
}

// Stop cancels the timer and any in-flight fetch, then waits for the
// goroutine to exit. No snapshot is delivered after Stop returns.
func (l *Loop[T]) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	cancel()
	<-done
}

// Running reports whether the loop has been started and not stopped.
func (l *Loop[T]) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Refresh asks for an immediate fetch. Pending triggers coalesce.
func (l *Loop[T]) Refresh() {
	select {
	case l.triggerCh <- struct{}{}:
	default:
		// A trigger is already pending.
	}
}

// Results exposes the snapshot stream.
func (l *Loop[T]) Results() <-chan Snapshot[T] {
	return l.resultCh
}

// Follow refreshes the loop whenever an event on events satisfies match.
// It stops when the loop stops or events is closed.
func (l *Loop[T]) Follow(events <-chan Event, match func(Event) bool) {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	ctx := l.ctx
	l.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if match == nil || match(e) {
					l.Refresh()
				}
			}
		}
	}()
}

// WaitForNext returns a tea.Cmd that blocks until the next snapshot. The
// command yields nil once the loop has stopped.
func (l *Loop[T]) WaitForNext() tea.Cmd {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()

	return func() tea.Msg {
		if done == nil {
			return nil
		}
		select {
		case snap := <-l.resultCh:
			return snap
		case <-done:
			return nil
		}
	}
}

func (l *Loop[T]) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.poll(ctx)
		case <-l.triggerCh:
			l.poll(ctx)
		}
	}
}

// poll performs one fetch and emits the result if it is new.
func (l *Loop[T]) poll(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	value, err := l.fetch(fetchCtx)
	if ctx.Err() != nil {
		// Stopped mid-fetch; the view is gone.
		return
	}

	snap := Snapshot[T]{Loop: l.name, At: time.Now()}
	if err != nil {
		snap.Err = err
	} else {
		if l.hasLast && l.equal != nil && l.equal(l.last, value) {
			return
		}
		l.last, l.hasLast = value, true
		snap.Value = value
	}

	select {
	case l.resultCh <- snap:
	case <-ctx.Done():
	}
}
