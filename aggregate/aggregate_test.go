// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package aggregate

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"

	"github.com/luxfi/zledger/fhe"
)

var testProof = []byte("test authorization")

func newTestAccumulator() (*Accumulator, *fhe.MemoryBackend) {
	backend := fhe.NewMemoryBackend()
	return NewAccumulator(fhe.NewEvaluator(backend, nil), nil), backend
}

func TestCreateSubject(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	a, _ := newTestAccumulator()
	owner := ids.GenerateTestNodeID()

	require.NoError(a.CreateSubject(ctx, "courier-7", owner, fhe.TypeUint64))

	err := a.CreateSubject(ctx, "courier-7", owner, fhe.TypeUint64)
	require.ErrorIs(err, ErrAlreadyExists)

	err = a.CreateSubject(ctx, "bools", owner, fhe.TypeBool)
	require.ErrorIs(err, fhe.ErrTypeMismatch)

	err = a.CreateSubject(ctx, "", owner, fhe.TypeUint64)
	require.ErrorIs(err, ErrUnknownSubject)

	got, err := a.Owner("courier-7")
	require.NoError(err)
	require.Equal(owner, got)

	require.Equal([]string{"courier-7"}, a.Subjects())
}

func TestAccumulate(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	a, backend := newTestAccumulator()
	owner := ids.GenerateTestNodeID()

	require.NoError(a.CreateSubject(ctx, "courier-7", owner, fhe.TypeUint64))

	for _, v := range []uint64{100, 150, 50} {
		ct, err := backend.EncryptUint(ctx, v, fhe.TypeUint64)
		require.NoError(err)
		_, _, err = a.Accumulate(ctx, "courier-7", ct)
		require.NoError(err)
	}

	total, count, err := a.Handles("courier-7")
	require.NoError(err)

	totalValue, err := backend.Decrypt(ctx, total, testProof)
	require.NoError(err)
	require.Equal(uint64(300), totalValue)

	countValue, err := backend.Decrypt(ctx, count, testProof)
	require.NoError(err)
	require.Equal(uint64(3), countValue)
}

func TestAccumulateTypeChecked(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	a, backend := newTestAccumulator()

	require.NoError(a.CreateSubject(ctx, "courier-7", ids.GenerateTestNodeID(), fhe.TypeUint64))

	narrow, err := backend.EncryptUint(ctx, 5, fhe.TypeUint16)
	require.NoError(err)
	_, _, err = a.Accumulate(ctx, "courier-7", narrow)
	require.ErrorIs(err, fhe.ErrTypeMismatch)

	ct, err := backend.EncryptUint(ctx, 5, fhe.TypeUint64)
	require.NoError(err)
	_, _, err = a.Accumulate(ctx, "unknown", ct)
	require.ErrorIs(err, ErrUnknownSubject)
}

func TestBySlot(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	a, backend := newTestAccumulator()

	require.NoError(a.CreateSubject(ctx, "courier-7", ids.GenerateTestNodeID(), fhe.TypeUint64))

	// Slot ids are stable while handles change with every accumulate.
	totalSlot := TotalSlot("courier-7")
	countSlot := CountSlot("courier-7")
	require.NotEqual(totalSlot, countSlot)

	ct, err := backend.EncryptUint(ctx, 10, fhe.TypeUint64)
	require.NoError(err)
	newTotal, newCount, err := a.Accumulate(ctx, "courier-7", ct)
	require.NoError(err)

	got, err := a.BySlot(totalSlot)
	require.NoError(err)
	require.Equal(newTotal, got)

	got, err = a.BySlot(countSlot)
	require.NoError(err)
	require.Equal(newCount, got)

	_, err = a.BySlot(ids.GenerateTestID())
	require.ErrorIs(err, ErrUnknownSubject)
}

func TestAccumulateConcurrent(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	a, backend := newTestAccumulator()

	require.NoError(a.CreateSubject(ctx, "courier-7", ids.GenerateTestNodeID(), fhe.TypeUint64))

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ct, err := backend.EncryptUint(ctx, 5, fhe.TypeUint64)
			if err != nil {
				return
			}
			_, _, _ = a.Accumulate(ctx, "courier-7", ct)
		}()
	}
	wg.Wait()

	total, count, err := a.Handles("courier-7")
	require.NoError(err)

	totalValue, err := backend.Decrypt(ctx, total, testProof)
	require.NoError(err)
	require.Equal(uint64(workers*5), totalValue)

	countValue, err := backend.Decrypt(ctx, count, testProof)
	require.NoError(err)
	require.Equal(uint64(workers), countValue)
}

func TestRestoreSubject(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	a, backend := newTestAccumulator()
	owner := ids.GenerateTestNodeID()

	total, err := backend.EncryptUint(ctx, 250, fhe.TypeUint64)
	require.NoError(err)
	count, err := backend.EncryptUint(ctx, 2, fhe.TypeUint64)
	require.NoError(err)

	require.NoError(a.RestoreSubject("courier-7", owner, total, count))
	require.ErrorIs(a.RestoreSubject("courier-7", owner, total, count), ErrAlreadyExists)
	require.ErrorIs(a.RestoreSubject("", owner, total, count), ErrUnknownSubject)
	require.ErrorIs(a.RestoreSubject("courier-8", owner, fhe.Ciphertext{}, count), fhe.ErrInvalidCiphertext)

	// A restored subject accumulates like a freshly created one.
	ct, err := backend.EncryptUint(ctx, 50, fhe.TypeUint64)
	require.NoError(err)
	_, _, err = a.Accumulate(ctx, "courier-7", ct)
	require.NoError(err)

	got, _, err := a.Handles("courier-7")
	require.NoError(err)
	totalValue, err := backend.Decrypt(ctx, got, testProof)
	require.NoError(err)
	require.Equal(uint64(300), totalValue)
}

func TestRestoreHandles(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	a, backend := newTestAccumulator()

	require.NoError(a.CreateSubject(ctx, "courier-7", ids.GenerateTestNodeID(), fhe.TypeUint64))

	total, err := backend.EncryptUint(ctx, 300, fhe.TypeUint64)
	require.NoError(err)
	count, err := backend.EncryptUint(ctx, 3, fhe.TypeUint64)
	require.NoError(err)

	require.ErrorIs(a.RestoreHandles("unknown", total, count), ErrUnknownSubject)
	require.NoError(a.RestoreHandles("courier-7", total, count))

	gotTotal, gotCount, err := a.Handles("courier-7")
	require.NoError(err)
	require.Equal(total, gotTotal)
	require.Equal(count, gotCount)

	// Types are pinned at creation.
	narrow, err := backend.EncryptUint(ctx, 1, fhe.TypeUint16)
	require.NoError(err)
	require.ErrorIs(a.RestoreHandles("courier-7", narrow, count), fhe.ErrTypeMismatch)
}
