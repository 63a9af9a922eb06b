// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package journal

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/luxfi/log"

	"github.com/luxfi/zledger/payload"
)

// Observer is notified after an entry has been durably appended.
type Observer interface {
	Notify(ctx context.Context, entry Entry, ev payload.Event) error
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, entry Entry, ev payload.Event) error

func (f ObserverFunc) Notify(ctx context.Context, entry Entry, ev payload.Event) error {
	return f(ctx, entry, ev)
}

type observerRegistration struct {
	observer Observer

	// required observers fail the append when their notification fails.
	// Best-effort observers only log.
	required bool
}

// ObserverGroup fans appended entries out to registered observers.
type ObserverGroup struct {
	mu        sync.RWMutex
	observers map[string]observerRegistration
	logger    log.Logger
}

// NewObserverGroup returns an empty group. The logger may be nil.
func NewObserverGroup(logger log.Logger) *ObserverGroup {
	return &ObserverGroup{
		observers: make(map[string]observerRegistration),
		logger:    logger,
	}
}

// RegisterObserver adds an observer under a unique name.
func (g *ObserverGroup) RegisterObserver(name string, observer Observer, required bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.observers[name]; ok {
		return fmt.Errorf("observer %q already registered", name)
	}
	g.observers[name] = observerRegistration{
		observer: observer,
		required: required,
	}
	return nil
}

// DeregisterObserver removes the named observer. Removing an unknown
// name is a no-op.
func (g *ObserverGroup) DeregisterObserver(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.observers, name)
}

// notify delivers the entry to every observer in name order. The first
// failing required observer aborts delivery and its error is returned.
func (g *ObserverGroup) notify(ctx context.Context, entry Entry, ev payload.Event) error {
	g.mu.RLock()
	names := make([]string, 0, len(g.observers))
	for name := range g.observers {
		names = append(names, name)
	}
	sort.Strings(names)
	registrations := make([]observerRegistration, len(names))
	for i, name := range names {
		registrations[i] = g.observers[name]
	}
	g.mu.RUnlock()

	for i, reg := range registrations {
		if err := reg.observer.Notify(ctx, entry, ev); err != nil {
			if reg.required {
				return fmt.Errorf("observer %q: %w", names[i], err)
			}
			if g.logger != nil {
				g.logger.Warn("journal observer failed",
					log.String("observer", names[i]),
					log.Uint64("seq", entry.Seq),
					log.Err(err),
				)
			}
		}
	}
	return nil
}
