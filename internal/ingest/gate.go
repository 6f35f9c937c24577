package ingest

import (
	"context"
	"errors"
	"sync"
)

// ErrIngestInProgress is returned when an ingestion is already running.
var ErrIngestInProgress = errors.New("ingestion already in progress")

// GateState is the ingestion gate's current state.
type GateState int

const (
	// GateIdle means no ingestion is running; queries may proceed.
	GateIdle GateState = iota

	// GateIngesting means the index is being rebuilt; queries must wait.
	GateIngesting
)

func (s GateState) String() string {
	switch s {
	case GateIdle:
		return "idle"
	case GateIngesting:
		return "ingesting"
	default:
		return "unknown"
	}
}

// Gate serializes index rebuilds against reads.
//
// At most one ingestion runs at a time; a second AcquireForIngest fails fast
// with ErrIngestInProgress instead of queueing. Readers call Wait, which
// blocks until the gate is idle or the context is done. State transitions
// wake all waiters, no polling.
type Gate struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state GateState
}

// NewGate creates an idle Gate.
func NewGate() *Gate {
	g := &Gate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// State returns the current gate state.
func (g *Gate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// AcquireForIngest transitions the gate to ingesting. Returns
// ErrIngestInProgress if an ingestion is already running.
func (g *Gate) AcquireForIngest() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == GateIngesting {
		return ErrIngestInProgress
	}
	g.state = GateIngesting
	return nil
}

// Release returns the gate to idle and wakes all waiting readers. Releasing
// an idle gate is a no-op.
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == GateIdle {
		return
	}
	g.state = GateIdle
	g.cond.Broadcast()
}

// Wait blocks until the gate is idle or ctx is done. Returns ctx.Err() when
// canceled; a caller holding a request deadline gets a timely error rather
// than waiting out a long rebuild.
func (g *Gate) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	if g.state == GateIdle {
		g.mu.Unlock()
		return nil
	}

	// Wake the cond when the context fires so the waiter can observe
	// cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			g.mu.Lock()
			g.cond.Broadcast()
			g.mu.Unlock()
		case <-done:
		}
	}()

	for g.state != GateIdle {
		if err := ctx.Err(); err != nil {
			g.mu.Unlock()
			return err
		}
		g.cond.Wait()
	}
	g.mu.Unlock()
	return nil
}
