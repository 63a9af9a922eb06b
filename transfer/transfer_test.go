// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package transfer

import (
	"context"
	"sync"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"
)

func TestLedgerTransfer(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	ledger := NewLedger(nil)
	alice := ids.GenerateTestNodeID()
	bob := ids.GenerateTestNodeID()

	require.NoError(ledger.Transfer(ctx, alice, 100))
	require.NoError(ledger.Transfer(ctx, alice, 25))
	require.NoError(ledger.Transfer(ctx, bob, 0))

	require.Equal(uint256.NewInt(125), ledger.Balance(alice))
	require.True(ledger.Balance(bob).IsZero())
	require.True(ledger.Balance(ids.GenerateTestNodeID()).IsZero())
	require.Equal(uint256.NewInt(125), ledger.Total())
	require.Equal(2, ledger.Len())

	// Balances are copies, mutating one must not affect the ledger.
	bal := ledger.Balance(alice)
	bal.Add(bal, uint256.NewInt(1000))
	require.Equal(uint256.NewInt(125), ledger.Balance(alice))
}

func TestLedgerEmptyRecipient(t *testing.T) {
	require := require.New(t)

	ledger := NewLedger(nil)
	err := ledger.Transfer(context.Background(), ids.NodeID{}, 10)
	require.ErrorIs(err, ErrFailedTransfer)
	require.Equal(0, ledger.Len())
}

func TestLedgerConcurrentCredits(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	ledger := NewLedger(nil)
	to := ids.GenerateTestNodeID()

	const (
		workers = 8
		credits = 50
	)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < credits; j++ {
				_ = ledger.Transfer(ctx, to, 3)
			}
		}()
	}
	wg.Wait()

	require.Equal(uint256.NewInt(workers*credits*3), ledger.Balance(to))
}

func TestFailingTransferer(t *testing.T) {
	require := require.New(t)

	var tr Transferer = Failing{}
	err := tr.Transfer(context.Background(), ids.GenerateTestNodeID(), 1)
	require.ErrorIs(err, ErrFailedTransfer)
}
