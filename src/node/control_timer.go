package node

import (
	"time"
)

type timerFactory func(time.Duration) <-chan time.Time

// ControlTimer paces proposals. It ticks once per period until it is stopped
// or shut down.
type ControlTimer struct {
	timerFactory timerFactory
	tickCh       chan struct{} //sends a signal to listening process
	stopCh       chan struct{} //receives instruction to stop the timer
	shutdownCh   chan struct{} //receives instruction to exit Run loop
}

// NewControlTimer ...
func NewControlTimer(timerFactory timerFactory) *ControlTimer {
	return &ControlTimer{
		timerFactory: timerFactory,
		tickCh:       make(chan struct{}),
		stopCh:       make(chan struct{}, 1),
		shutdownCh:   make(chan struct{}),
	}
}

// NewFixedControlTimer ticks exactly once per period.
func NewFixedControlTimer() *ControlTimer {
	fixedTimeout := func(d time.Duration) <-chan time.Time {
		if d == 0 {
			return nil
		}
		return time.After(d)
	}
	return NewControlTimer(fixedTimeout)
}

// Run ticks every period until Stop or Shutdown is called.
func (c *ControlTimer) Run(period time.Duration) {
	timer := c.timerFactory(period)
	for {
		select {
		case <-timer:
			select {
			case c.tickCh <- struct{}{}:
				timer = c.timerFactory(period)
			case <-c.stopCh:
				timer = nil
			case <-c.shutdownCh:
				return
			}
		case <-c.stopCh:
			timer = nil
		case <-c.shutdownCh:
			return
		}
	}
}

// Stop pauses the timer for good. It never blocks, so the goroutine that
// consumes ticks may call it.
func (c *ControlTimer) Stop() {
	select {
	case c.stopCh <- struct{}{}:
	default:
	}
}

// Shutdown makes Run return.
func (c *ControlTimer) Shutdown() {
	close(c.shutdownCh)
}
