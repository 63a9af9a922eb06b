// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"

	"github.com/luxfi/zledger/acl"
	"github.com/luxfi/zledger/fhe"
	"github.com/luxfi/zledger/store"
)

const testField = "reward"

type fixture struct {
	store   *store.Store
	ledger  *acl.Ledger
	backend *fhe.MemoryBackend
	broker  *Broker
	owner   ids.NodeID
	slot    ids.ID
}

func newFixture(t *testing.T, value uint64) *fixture {
	t.Helper()
	require := require.New(t)
	ctx := context.Background()

	f := &fixture{
		store:   store.New(),
		ledger:  acl.New(nil),
		backend: fhe.NewMemoryBackend(),
		owner:   ids.GenerateTestNodeID(),
	}
	f.broker = New(f.ledger, f.backend, f.store, nil, nil)

	require.NoError(f.store.CreateRecord(1, store.Schema{testField: fhe.TypeUint64}))
	f.slot = store.SlotID(1, testField)
	require.NoError(f.ledger.RegisterOwner(f.slot, f.owner))

	ct, err := f.backend.EncryptUint(ctx, value, fhe.TypeUint64)
	require.NoError(err)
	require.NoError(f.store.Put(1, testField, ct))
	return f
}

func TestDiscloseReadOnce(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	f := newFixture(t, 100)

	alice := ids.GenerateTestNodeID()
	grant, err := f.ledger.Grant(f.owner, alice, f.slot, acl.KindReadOnce, false)
	require.NoError(err)

	d, err := f.broker.Disclose(ctx, alice, f.slot)
	require.NoError(err)
	require.Equal(uint64(100), d.Value)
	require.Equal(grant.ID, d.Grant)
	require.Equal(alice, d.Principal)
	require.Equal(ids.ID{}, d.Request)

	// The grant was spent with the first disclosure.
	_, err = f.broker.Disclose(ctx, alice, f.slot)
	require.ErrorIs(err, ErrPermissionDenied)
}

func TestDisclosePersistentAndComputeOnly(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	f := newFixture(t, 42)

	reader := ids.GenerateTestNodeID()
	_, err := f.ledger.Grant(f.owner, reader, f.slot, acl.KindReadPersistent, false)
	require.NoError(err)
	for i := 0; i < 3; i++ {
		d, err := f.broker.Disclose(ctx, reader, f.slot)
		require.NoError(err)
		require.Equal(uint64(42), d.Value)
	}

	computer := ids.GenerateTestNodeID()
	_, err = f.ledger.Grant(f.owner, computer, f.slot, acl.KindComputeOnly, false)
	require.NoError(err)
	_, err = f.broker.Disclose(ctx, computer, f.slot)
	require.ErrorIs(err, ErrPermissionDenied)
}

func TestDiscloseUnknownSlot(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 1)

	_, err := f.broker.Disclose(context.Background(), f.owner, ids.GenerateTestID())
	require.ErrorIs(err, store.ErrNotFound)
}

func TestDiscloseRevoked(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	f := newFixture(t, 7)

	alice := ids.GenerateTestNodeID()
	_, err := f.ledger.Grant(f.owner, alice, f.slot, acl.KindReadPersistent, false)
	require.NoError(err)
	require.NoError(f.ledger.Revoke(f.owner, alice, f.slot))

	_, err = f.broker.Disclose(ctx, alice, f.slot)
	require.ErrorIs(err, ErrPermissionDenied)
}

func TestDiscloseTransient(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	f := newFixture(t, 1)

	ct, err := f.backend.EncryptUint(ctx, 1, fhe.TypeBool)
	require.NoError(err)

	principal := ids.GenerateTestNodeID()
	slot := ids.GenerateTestID()
	d, err := f.broker.DiscloseTransient(ctx, principal, slot, ct)
	require.NoError(err)
	require.Equal(uint64(1), d.Value)
	require.Equal(principal, d.Principal)
	require.Equal(slot, d.Slot)
	require.Equal(ids.ID{}, d.Grant)

	_, err = f.broker.DiscloseTransient(ctx, principal, slot, fhe.Ciphertext{})
	require.ErrorIs(err, fhe.ErrInvalidCiphertext)
}

func TestDiscloseReadOnceSingleWinner(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	f := newFixture(t, 55)

	alice := ids.GenerateTestNodeID()
	_, err := f.ledger.Grant(f.owner, alice, f.slot, acl.KindReadOnce, false)
	require.NoError(err)

	const attempts = 16
	var (
		start     = make(chan struct{})
		wg        sync.WaitGroup
		succeeded atomic.Int64
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := f.broker.Disclose(ctx, alice, f.slot); err == nil {
				succeeded.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(int64(1), succeeded.Load())
}

// grantVoters issues read-persistent grants to n fresh principals so they
// are eligible to vote.
func (f *fixture) grantVoters(t *testing.T, n int) []ids.NodeID {
	t.Helper()
	voters := make([]ids.NodeID, n)
	for i := range voters {
		voters[i] = ids.GenerateTestNodeID()
		_, err := f.ledger.Grant(f.owner, voters[i], f.slot, acl.KindReadPersistent, false)
		require.NoError(t, err)
	}
	return voters
}

func TestThresholdDisclosure(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	f := newFixture(t, 100)
	voters := f.grantVoters(t, 3)

	requestID, err := f.broker.RequestDisclosure(f.slot, 3)
	require.NoError(err)

	// Two distinct votes leave the session open.
	for _, voter := range voters[:2] {
		state, err := f.broker.Vote(ctx, voter, requestID)
		require.NoError(err)
		require.Equal(StateOpen, state)
	}

	// A duplicate vote is rejected and never counted twice.
	state, err := f.broker.Vote(ctx, voters[0], requestID)
	require.ErrorIs(err, ErrAlreadyVoted)
	require.Equal(StateOpen, state)
	info, err := f.broker.Status(requestID)
	require.NoError(err)
	require.Equal(2, info.Votes)

	// The third distinct vote crosses the threshold and discloses.
	state, err = f.broker.Vote(ctx, voters[2], requestID)
	require.NoError(err)
	require.Equal(StateDisclosed, state)

	for _, voter := range voters {
		d, err := f.broker.Result(ctx, voter, requestID)
		require.NoError(err)
		require.Equal(uint64(100), d.Value)
		require.Equal(requestID, d.Request)
		require.Equal(voter, d.Principal)
	}

	// Non-voters get nothing, even with their own live grant.
	outsider := f.grantVoters(t, 1)[0]
	_, err = f.broker.Result(ctx, outsider, requestID)
	require.ErrorIs(err, ErrPermissionDenied)

	// Voting is closed after disclosure.
	state, err = f.broker.Vote(ctx, outsider, requestID)
	require.ErrorIs(err, ErrInvalidTransition)
	require.Equal(StateDisclosed, state)
}

func TestThresholdRequestIdempotent(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 1)

	requestID, err := f.broker.RequestDisclosure(f.slot, 3)
	require.NoError(err)

	again, err := f.broker.RequestDisclosure(f.slot, 3)
	require.NoError(err)
	require.Equal(requestID, again)

	_, err = f.broker.RequestDisclosure(f.slot, 5)
	require.ErrorIs(err, ErrInvalidTransition)

	_, err = f.broker.RequestDisclosure(ids.GenerateTestID(), 3)
	require.ErrorIs(err, store.ErrNotFound)

	_, err = f.broker.RequestDisclosure(f.slot, 0)
	require.ErrorIs(err, ErrInvalidThreshold)
}

func TestVoteRequiresGrant(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	f := newFixture(t, 1)

	requestID, err := f.broker.RequestDisclosure(f.slot, 2)
	require.NoError(err)

	stranger := ids.GenerateTestNodeID()
	_, err = f.broker.Vote(ctx, stranger, requestID)
	require.ErrorIs(err, ErrPermissionDenied)

	_, err = f.broker.Vote(ctx, stranger, ids.GenerateTestID())
	require.ErrorIs(err, ErrUnknownRequest)
}

func TestThresholdConcurrentVotes(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	f := newFixture(t, 9)
	voters := f.grantVoters(t, 8)

	requestID, err := f.broker.RequestDisclosure(f.slot, 3)
	require.NoError(err)

	var (
		start     = make(chan struct{})
		wg        sync.WaitGroup
		disclosed atomic.Int64
	)
	for _, voter := range voters {
		wg.Add(1)
		go func(voter ids.NodeID) {
			defer wg.Done()
			<-start
			state, err := f.broker.Vote(ctx, voter, requestID)
			if err == nil && state == StateDisclosed {
				disclosed.Add(1)
			}
		}(voter)
	}
	close(start)
	wg.Wait()

	// Exactly one vote observes the threshold crossing.
	require.Equal(int64(1), disclosed.Load())

	info, err := f.broker.Status(requestID)
	require.NoError(err)
	require.Equal(StateDisclosed, info.State)
	require.Equal(3, info.Votes)
}

// flakyBackend fails a fixed number of decrypts before recovering.
type flakyBackend struct {
	*fhe.MemoryBackend
	failures atomic.Int64
}

func (b *flakyBackend) Decrypt(ctx context.Context, ct fhe.Ciphertext, proof []byte) (uint64, error) {
	if b.failures.Add(-1) >= 0 {
		return 0, fhe.ErrBackendFailure
	}
	return b.MemoryBackend.Decrypt(ctx, ct, proof)
}

func TestThresholdBackendFailure(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	st := store.New()
	ledger := acl.New(nil)
	backend := &flakyBackend{MemoryBackend: fhe.NewMemoryBackend()}
	backend.failures.Store(1)
	b := New(ledger, backend, st, nil, nil)

	owner := ids.GenerateTestNodeID()
	require.NoError(st.CreateRecord(1, store.Schema{testField: fhe.TypeUint64}))
	slot := store.SlotID(1, testField)
	require.NoError(ledger.RegisterOwner(slot, owner))
	ct, err := backend.EncryptUint(ctx, 64, fhe.TypeUint64)
	require.NoError(err)
	require.NoError(st.Put(1, testField, ct))

	voter := ids.GenerateTestNodeID()
	_, err = ledger.Grant(owner, voter, slot, acl.KindReadPersistent, false)
	require.NoError(err)

	requestID, err := b.RequestDisclosure(slot, 1)
	require.NoError(err)

	// The crossing vote fails on decryption, the session stays satisfied.
	state, err := b.Vote(ctx, voter, requestID)
	require.ErrorIs(err, fhe.ErrBackendFailure)
	require.Equal(StateSatisfied, state)

	info, err := b.Status(requestID)
	require.NoError(err)
	require.Equal(StateSatisfied, info.State)

	// The retry is caller-driven, through Result.
	d, err := b.Result(ctx, voter, requestID)
	require.NoError(err)
	require.Equal(uint64(64), d.Value)

	info, err = b.Status(requestID)
	require.NoError(err)
	require.Equal(StateDisclosed, info.State)
}

func TestResultBeforeThreshold(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	f := newFixture(t, 5)
	voters := f.grantVoters(t, 2)

	requestID, err := f.broker.RequestDisclosure(f.slot, 2)
	require.NoError(err)

	state, err := f.broker.Vote(ctx, voters[0], requestID)
	require.NoError(err)
	require.Equal(StateOpen, state)

	_, err = f.broker.Result(ctx, voters[0], requestID)
	require.ErrorIs(err, ErrNotDisclosed)

	_, err = f.broker.Result(ctx, voters[1], requestID)
	require.ErrorIs(err, ErrPermissionDenied)
}

func TestRestoreSession(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	f := newFixture(t, 77)
	voters := f.grantVoters(t, 2)
	outsider := ids.GenerateTestNodeID()

	requestID, err := f.broker.RequestDisclosure(f.slot, 2)
	require.NoError(err)

	// Restored votes skip grant checks and never decrypt.
	require.NoError(f.broker.RestoreVote(voters[0], requestID))
	require.ErrorIs(f.broker.RestoreVote(voters[0], requestID), ErrAlreadyVoted)
	require.ErrorIs(f.broker.RestoreDisclosed(requestID), ErrInvalidTransition)
	require.NoError(f.broker.RestoreVote(voters[1], requestID))

	info, err := f.broker.Status(requestID)
	require.NoError(err)
	require.Equal(StateSatisfied, info.State)

	require.ErrorIs(f.broker.RestoreVote(outsider, requestID), ErrInvalidTransition)
	require.ErrorIs(f.broker.RestoreDisclosed(ids.GenerateTestID()), ErrUnknownRequest)

	require.NoError(f.broker.RestoreDisclosed(requestID))
	info, err = f.broker.Status(requestID)
	require.NoError(err)
	require.Equal(StateDisclosed, info.State)

	// The parked plaintext is recovered on first retrieval, voters only.
	_, err = f.broker.Result(ctx, outsider, requestID)
	require.ErrorIs(err, ErrPermissionDenied)

	d, err := f.broker.Result(ctx, voters[0], requestID)
	require.NoError(err)
	require.Equal(uint64(77), d.Value)
	require.Equal(requestID, d.Request)

	// Retiring the session frees the slot for a new request.
	again, err := f.broker.RequestDisclosure(f.slot, 3)
	require.NoError(err)
	require.NotEqual(requestID, again)
}
