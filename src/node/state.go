package node

import (
	"sync"
	"sync/atomic"
)

// State captures the state of a node: Running, EpochClosed, Halted or
// Shutdown.
type State uint32

const (
	// Running is the initial state. The node proposes and commits blocks.
	Running State = iota
	// EpochClosed means the epoch was closed; input is rejected.
	EpochClosed
	// Halted means the core hit a protocol invariant violation and stopped.
	Halted
	// Shutdown is shutdown
	Shutdown
)

// String ...
func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case EpochClosed:
		return "EpochClosed"
	case Halted:
		return "Halted"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// WGLIMIT is the maximum number of goroutines that can be launched through
// state.goFunc
const WGLIMIT = 64

type state struct {
	state   State
	wg      sync.WaitGroup
	wgCount int32
}

func (b *state) getState() State {
	stateAddr := (*uint32)(&b.state)
	return State(atomic.LoadUint32(stateAddr))
}

func (b *state) setState(s State) {
	stateAddr := (*uint32)(&b.state)
	atomic.StoreUint32(stateAddr, uint32(s))
}

// goFunc starts a goroutine and adds it to the waitgroup. It reports false,
// without starting anything, when WGLIMIT goroutines are already running.
func (b *state) goFunc(f func()) bool {
	if atomic.AddInt32(&b.wgCount, 1) > WGLIMIT {
		atomic.AddInt32(&b.wgCount, -1)
		return false
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer atomic.AddInt32(&b.wgCount, -1)
		f()
	}()
	return true
}

func (b *state) waitRoutines() {
	b.wg.Wait()
}
