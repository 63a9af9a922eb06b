// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

// Package transfer is the value-transfer capability invoked when a record
// completes. Implementations must be idempotent-safe at the caller level:
// the engine issues each transfer exactly once per completion.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
)

// ErrFailedTransfer is returned when a transfer cannot be executed.
var ErrFailedTransfer = errors.New("failed to transfer")

// Transferer executes a value transfer to a principal.
type Transferer interface {
	Transfer(ctx context.Context, to ids.NodeID, amount uint64) error
}

// Ledger credits payouts per principal. Balances are 256-bit so repeated
// payouts never overflow.
type Ledger struct {
	mu       sync.RWMutex
	balances map[ids.NodeID]*uint256.Int
	total    uint256.Int
	logger   log.Logger
}

// NewLedger returns an empty payout ledger. The logger may be nil.
func NewLedger(logger log.Logger) *Ledger {
	return &Ledger{
		balances: make(map[ids.NodeID]*uint256.Int),
		logger:   logger,
	}
}

// Transfer credits amount to the recipient's balance. A zero amount is a
// valid no-op credit.
func (l *Ledger) Transfer(_ context.Context, to ids.NodeID, amount uint64) error {
	if to == (ids.NodeID{}) {
		return fmt.Errorf("%w: empty recipient", ErrFailedTransfer)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bal, ok := l.balances[to]
	if !ok {
		bal = new(uint256.Int)
		l.balances[to] = bal
	}
	amt := uint256.NewInt(amount)
	bal.Add(bal, amt)
	l.total.Add(&l.total, amt)

	if l.logger != nil {
		l.logger.Debug("credited payout",
			log.Stringer("to", to),
			log.Uint64("amount", amount),
		)
	}
	return nil
}

// Balance returns a copy of the recipient's balance, zero when the
// recipient was never credited.
func (l *Ledger) Balance(to ids.NodeID) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	bal, ok := l.balances[to]
	if !ok {
		return new(uint256.Int)
	}
	return bal.Clone()
}

// Total returns a copy of the sum of all credits.
func (l *Ledger) Total() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total.Clone()
}

// Len returns the number of principals holding a balance.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.balances)
}

// Failing rejects every transfer. Used to exercise failure handling.
type Failing struct{}

func (Failing) Transfer(context.Context, ids.NodeID, uint64) error {
	return fmt.Errorf("%w: transfers disabled", ErrFailedTransfer)
}
