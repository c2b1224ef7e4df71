package connect

import (
	"sync"
	"time"
)

// Interrupter is anything a deadlineTimer can fire an interrupt
// against: a Command mid-query, or a Connection when the expiring
// timer has no owning command (spec.md §4.4 "Command-timeout
// orchestration").
type Interrupter interface {
	Interrupt(reason string)
}

// deadlineTimer sleeps in 1-second increments so an interrupt can be
// observed promptly by cooperative cancellation elsewhere, rather than
// blocking a full timeout duration in one time.Sleep. Grounded
// directly on spec.md §4.4's timer description; no pack repo
// implements second-granularity cooperative timeouts.
type deadlineTimer struct {
	mu       sync.Mutex
	deadline time.Time
	target   Interrupter
	reason   string
	stopCh   chan struct{}
	fired    bool
}

// newDeadlineTimer starts a timer that calls target.Interrupt(reason)
// no earlier than d from now, waking once per second to check for
// cancellation and for cooperative rearm.
func newDeadlineTimer(d time.Duration, target Interrupter, reason string) *deadlineTimer {
	t := &deadlineTimer{
		deadline: time.Now().Add(d),
		target:   target,
		reason:   reason,
		stopCh:   make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *deadlineTimer) run() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case now := <-ticker.C:
			t.mu.Lock()
			deadline := t.deadline
			t.mu.Unlock()
			if !now.Before(deadline) {
				t.fire()
				return
			}
		}
	}
}

func (t *deadlineTimer) fire() {
	t.mu.Lock()
	if t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	t.mu.Unlock()
	t.target.Interrupt(t.reason)
}

// Stop cancels the timer before it fires. Stopping an already-fired
// timer is a no-op, matching spec.md's "interrupt is idempotent".
func (t *deadlineTimer) Stop() {
	select {
	case <-t.stopCh:
	default:
		close(t.stopCh)
	}
}

// Extend pushes the deadline out by d, used when a command is
// rearmed for a new batch without allocating a fresh timer.
func (t *deadlineTimer) Extend(d time.Duration) {
	t.mu.Lock()
	t.deadline = time.Now().Add(d)
	t.fired = false
	t.mu.Unlock()
}
