// Package dispatcher routes actions to stores.
//
// Dispatch is synchronous: every store registered for an action's name
// handles it, in registration order, before Dispatch returns. A handler that
// dispatches again is served re-entrantly, so nested actions complete before
// the outer one does.
//
// Work arriving from other goroutines (network results, media events) is
// queued as a turn with Post or Enqueue and executed one at a time by Step
// or Run, which keeps all store mutations on a single goroutine.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/Wyydra/loop/internal/core/domain"
	"github.com/rs/zerolog/log"
)

// Store receives the actions it registered for.
type Store interface {
	Handle(action domain.Action) error
}

type Dispatcher struct {
	mu     sync.RWMutex
	stores map[domain.ActionName][]Store

	qmu   sync.Mutex
	queue []func() error
	ready chan struct{}
}

func New() *Dispatcher {
	return &Dispatcher{
		stores: make(map[domain.ActionName][]Store),
		ready:  make(chan struct{}, 1),
	}
}

// Register subscribes store to the given action names. Registering the same
// store twice for a name is a no-op.
func (d *Dispatcher) Register(store Store, names ...domain.ActionName) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, name := range names {
		registered := false
		for _, s := range d.stores[name] {
			if s == store {
				registered = true
				break
			}
		}
		if !registered {
			d.stores[name] = append(d.stores[name], store)
		}
	}
}

// Dispatch delivers action to its stores. The first handler error stops
// delivery and is returned.
func (d *Dispatcher) Dispatch(action domain.Action) error {
	d.mu.RLock()
	stores := append([]Store(nil), d.stores[action.Name()]...)
	d.mu.RUnlock()

	log.Debug().Str("action", string(action.Name())).Int("stores", len(stores)).Msg("Dispatching action")

	for _, s := range stores {
		if err := s.Handle(action); err != nil {
			return fmt.Errorf("dispatch %s: %w", action.Name(), err)
		}
	}
	return nil
}

// Post queues action to be dispatched on a later turn.
func (d *Dispatcher) Post(action domain.Action) {
	d.push(func() error {
		return d.Dispatch(action)
	})
}

// Enqueue queues fn to run on a later turn.
func (d *Dispatcher) Enqueue(fn func()) {
	d.push(func() error {
		fn()
		return nil
	})
}

func (d *Dispatcher) push(turn func() error) {
	d.qmu.Lock()
	d.queue = append(d.queue, turn)
	d.qmu.Unlock()

	select {
	case d.ready <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) pop() (func() error, bool) {
	d.qmu.Lock()
	defer d.qmu.Unlock()

	if len(d.queue) == 0 {
		return nil, false
	}
	turn := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	return turn, true
}

// Step waits for the next queued turn and runs it.
func (d *Dispatcher) Step(ctx context.Context) error {
	for {
		if turn, ok := d.pop(); ok {
			return turn()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.ready:
		}
	}
}

// Run executes turns until ctx is done. Handler errors are logged and do not
// stop the loop.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		err := d.Step(ctx)
		if ctx.Err() != nil {
			log.Info().Msg("Dispatcher stopped")
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("Turn failed")
		}
	}
}
