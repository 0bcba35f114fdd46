package archive

import (
	"context"
	"sync"
	"time"
)

// rolloverGate blocks readers and writers of the active file while it is
// being rolled over, and counts the readers inside so a rollover can wait
// for them to leave.
type rolloverGate struct {
	mu      sync.Mutex
	open    chan struct{} // closed while the gate is open
	shut    bool
	readers int
	drained chan struct{} // closed when readers reaches zero
}

func newRolloverGate() *rolloverGate {
	open := make(chan struct{})
	close(open)
	return &rolloverGate{open: open}
}

// Wait blocks until the gate is open
func (g *rolloverGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	open := g.open
	g.mu.Unlock()

	select {
	case <-open:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shut closes the gate; it is a no-op when already shut
func (g *rolloverGate) Shut() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.shut {
		return
	}
	g.shut = true
	g.open = make(chan struct{})
}

// Release opens the gate
func (g *rolloverGate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.shut {
		return
	}
	g.shut = false
	close(g.open)
}

func (g *rolloverGate) IsShut() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.shut
}

// EnterReader registers a reader, waiting for the gate to open first
func (g *rolloverGate) EnterReader(ctx context.Context) error {
	for {
		g.mu.Lock()
		if !g.shut {
			g.readers++
			g.mu.Unlock()
			return nil
		}
		open := g.open
		g.mu.Unlock()

		select {
		case <-open:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ExitReader unregisters a reader
func (g *rolloverGate) ExitReader() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.readers > 0 {
		g.readers--
	}
	if g.readers == 0 && g.drained != nil {
		close(g.drained)
		g.drained = nil
	}
}

// WaitForReaders waits up to timeout for every reader to exit and reports
// whether they did
func (g *rolloverGate) WaitForReaders(timeout time.Duration) bool {
	g.mu.Lock()
	if g.readers == 0 {
		g.mu.Unlock()
		return true
	}
	if g.drained == nil {
		g.drained = make(chan struct{})
	}
	drained := g.drained
	g.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-drained:
		return true
	case <-timer.C:
		return false
	}
}

func (g *rolloverGate) Readers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.readers
}
