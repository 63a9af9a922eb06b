// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package acl

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/zledger/store"
)

func TestKinds(t *testing.T) {
	require.True(t, KindReadOnce.Readable())
	require.True(t, KindReadPersistent.Readable())
	require.False(t, KindComputeOnly.Readable())
	require.False(t, KindNone.Readable())

	require.True(t, KindReadOnce.AllowsCompute())
	require.True(t, KindComputeOnly.AllowsCompute())
	require.False(t, KindNone.AllowsCompute())

	require.Equal(t, "read-once", KindReadOnce.String())
	require.Equal(t, "read-persistent", KindReadPersistent.String())
	require.Equal(t, "compute-only", KindComputeOnly.String())
	require.Equal(t, "none", KindNone.String())
	require.False(t, Kind(42).Valid())
}

func TestRegisterOwner(t *testing.T) {
	ledger := New(nil)
	owner := ids.GenerateTestNodeID()
	other := ids.GenerateTestNodeID()
	slot := store.SlotID(1, "reward")

	_, err := ledger.Owner(slot)
	require.ErrorIs(t, err, ErrUnknownSlot)

	require.NoError(t, ledger.RegisterOwner(slot, owner))
	require.NoError(t, ledger.RegisterOwner(slot, owner))

	err = ledger.RegisterOwner(slot, other)
	require.ErrorIs(t, err, ErrUnauthorized)

	got, err := ledger.Owner(slot)
	require.NoError(t, err)
	require.Equal(t, owner, got)
}

func TestGrantAuthorization(t *testing.T) {
	ledger := New(nil)
	owner := ids.GenerateTestNodeID()
	delegate := ids.GenerateTestNodeID()
	reader := ids.GenerateTestNodeID()
	stranger := ids.GenerateTestNodeID()
	slot := store.SlotID(1, "reward")

	require.NoError(t, ledger.RegisterOwner(slot, owner))

	// Only the slot owner can issue the first grant.
	_, err := ledger.Grant(stranger, reader, slot, KindReadOnce, false)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = ledger.Grant(owner, delegate, slot, KindReadPersistent, true)
	require.NoError(t, err)

	// A delegable holder can issue further grants; its grantee cannot.
	g, err := ledger.Grant(delegate, reader, slot, KindReadOnce, false)
	require.NoError(t, err)
	require.Equal(t, delegate, g.Issuer)
	require.Equal(t, KindReadOnce, ledger.Check(reader, slot))

	_, err = ledger.Grant(reader, stranger, slot, KindReadOnce, false)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = ledger.Grant(owner, reader, ids.GenerateTestID(), KindReadOnce, false)
	require.ErrorIs(t, err, ErrUnknownSlot)

	_, err = ledger.Grant(owner, reader, slot, KindNone, false)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestGrantIdempotent(t *testing.T) {
	ledger := New(nil)
	owner := ids.GenerateTestNodeID()
	reader := ids.GenerateTestNodeID()
	slot := store.SlotID(1, "reward")

	require.NoError(t, ledger.RegisterOwner(slot, owner))

	first, err := ledger.Grant(owner, reader, slot, KindReadPersistent, false)
	require.NoError(t, err)

	// Repeating the same grant is a no-op returning the existing grant.
	second, err := ledger.Grant(owner, reader, slot, KindReadPersistent, false)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	// Changing the kind replaces the grant under a fresh id.
	replaced, err := ledger.Grant(owner, reader, slot, KindReadOnce, false)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, replaced.ID)
	require.Equal(t, KindReadOnce, ledger.Check(reader, slot))
}

func TestRevoke(t *testing.T) {
	ledger := New(nil)
	owner := ids.GenerateTestNodeID()
	delegate := ids.GenerateTestNodeID()
	reader := ids.GenerateTestNodeID()
	stranger := ids.GenerateTestNodeID()
	slot := store.SlotID(1, "reward")

	require.NoError(t, ledger.RegisterOwner(slot, owner))
	_, err := ledger.Grant(owner, delegate, slot, KindComputeOnly, true)
	require.NoError(t, err)
	_, err = ledger.Grant(delegate, reader, slot, KindReadPersistent, false)
	require.NoError(t, err)

	err = ledger.Revoke(stranger, reader, slot)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Equal(t, KindReadPersistent, ledger.Check(reader, slot))

	require.NoError(t, ledger.Revoke(owner, reader, slot))
	require.Equal(t, KindNone, ledger.Check(reader, slot))

	// Revoking an absent grant is a no-op for an authorized issuer.
	require.NoError(t, ledger.Revoke(owner, reader, slot))

	err = ledger.Revoke(stranger, reader, slot)
	require.ErrorIs(t, err, ErrUnauthorized)

	err = ledger.Revoke(owner, reader, ids.GenerateTestID())
	require.ErrorIs(t, err, ErrUnknownSlot)
}

func TestRevokeByOriginalIssuer(t *testing.T) {
	ledger := New(nil)
	owner := ids.GenerateTestNodeID()
	delegate := ids.GenerateTestNodeID()
	reader := ids.GenerateTestNodeID()
	slot := store.SlotID(2, "postal")

	require.NoError(t, ledger.RegisterOwner(slot, owner))
	_, err := ledger.Grant(owner, delegate, slot, KindReadOnce, true)
	require.NoError(t, err)
	_, err = ledger.Grant(delegate, reader, slot, KindReadPersistent, false)
	require.NoError(t, err)

	// The delegate loses its own grant but can still revoke what it issued.
	require.NoError(t, ledger.Revoke(owner, delegate, slot))
	require.NoError(t, ledger.Revoke(delegate, reader, slot))
	require.Equal(t, KindNone, ledger.Check(reader, slot))
}

func TestConsumeRead(t *testing.T) {
	ledger := New(nil)
	owner := ids.GenerateTestNodeID()
	reader := ids.GenerateTestNodeID()
	slot := store.SlotID(1, "reward")

	require.NoError(t, ledger.RegisterOwner(slot, owner))

	// No grant at all.
	_, err := ledger.ConsumeRead(reader, slot)
	require.ErrorIs(t, err, ErrPermissionDenied)

	// Compute-only does not permit disclosure and is not consumed.
	_, err = ledger.Grant(owner, reader, slot, KindComputeOnly, false)
	require.NoError(t, err)
	_, err = ledger.ConsumeRead(reader, slot)
	require.ErrorIs(t, err, ErrPermissionDenied)
	require.Equal(t, KindComputeOnly, ledger.Check(reader, slot))

	// A persistent grant survives any number of disclosures.
	_, err = ledger.Grant(owner, reader, slot, KindReadPersistent, false)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		g, err := ledger.ConsumeRead(reader, slot)
		require.NoError(t, err)
		require.Equal(t, KindReadPersistent, g.Kind)
	}
	require.Equal(t, KindReadPersistent, ledger.Check(reader, slot))

	// A read-once grant permits exactly one disclosure.
	_, err = ledger.Grant(owner, reader, slot, KindReadOnce, false)
	require.NoError(t, err)
	_, err = ledger.ConsumeRead(reader, slot)
	require.NoError(t, err)
	_, err = ledger.ConsumeRead(reader, slot)
	require.ErrorIs(t, err, ErrPermissionDenied)
	require.Equal(t, KindNone, ledger.Check(reader, slot))
}

func TestRevokeThenConsume(t *testing.T) {
	ledger := New(nil)
	owner := ids.GenerateTestNodeID()
	reader := ids.GenerateTestNodeID()
	slot := store.SlotID(1, "reward")

	require.NoError(t, ledger.RegisterOwner(slot, owner))
	_, err := ledger.Grant(owner, reader, slot, KindReadPersistent, false)
	require.NoError(t, err)

	require.NoError(t, ledger.Revoke(owner, reader, slot))
	_, err = ledger.ConsumeRead(reader, slot)
	require.ErrorIs(t, err, ErrPermissionDenied)
}

func TestReadOnceSingleWinner(t *testing.T) {
	ledger := New(nil)
	owner := ids.GenerateTestNodeID()
	reader := ids.GenerateTestNodeID()
	slot := store.SlotID(1, "reward")

	require.NoError(t, ledger.RegisterOwner(slot, owner))
	_, err := ledger.Grant(owner, reader, slot, KindReadOnce, false)
	require.NoError(t, err)

	const attempts = 16
	var (
		wg        sync.WaitGroup
		successes atomic.Int64
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := ledger.ConsumeRead(reader, slot); err == nil {
				successes.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, int64(1), successes.Load())
	require.Equal(t, KindNone, ledger.Check(reader, slot))
}

func TestRevokeDiscloseRace(t *testing.T) {
	owner := ids.GenerateTestNodeID()
	reader := ids.GenerateTestNodeID()
	slot := store.SlotID(1, "reward")

	for i := 0; i < 50; i++ {
		ledger := New(nil)
		require.NoError(t, ledger.RegisterOwner(slot, owner))
		_, err := ledger.Grant(owner, reader, slot, KindReadPersistent, false)
		require.NoError(t, err)

		var (
			wg         sync.WaitGroup
			consumeErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, consumeErr = ledger.ConsumeRead(reader, slot)
		}()
		go func() {
			defer wg.Done()
			_ = ledger.Revoke(owner, reader, slot)
		}()
		wg.Wait()

		// The disclosure either ran before the revocation or failed
		// closed; after the revocation no further disclosure succeeds.
		if consumeErr != nil {
			require.ErrorIs(t, consumeErr, ErrPermissionDenied)
		}
		_, err = ledger.ConsumeRead(reader, slot)
		require.ErrorIs(t, err, ErrPermissionDenied)
		require.Equal(t, KindNone, ledger.Check(reader, slot))
	}
}

func TestGrantsListing(t *testing.T) {
	ledger := New(nil)
	owner := ids.GenerateTestNodeID()
	slot := store.SlotID(1, "reward")

	require.NoError(t, ledger.RegisterOwner(slot, owner))
	require.Empty(t, ledger.Grants(slot))

	grantees := []ids.NodeID{
		ids.GenerateTestNodeID(),
		ids.GenerateTestNodeID(),
		ids.GenerateTestNodeID(),
	}
	for _, grantee := range grantees {
		_, err := ledger.Grant(owner, grantee, slot, KindReadPersistent, false)
		require.NoError(t, err)
	}

	listed := ledger.Grants(slot)
	require.Len(t, listed, len(grantees))
	for i := 1; i < len(listed); i++ {
		require.Less(t, listed[i-1].Grantee.String(), listed[i].Grantee.String())
	}
}
