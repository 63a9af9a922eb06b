// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/luxfi/ids"
)

var memoryHandlePrefix = []byte("fhe/memory/handle/")

// MemoryBackend is an in-memory implementation of Backend for tests and
// local runs. Plaintexts are held in a map guarded by a mutex; it provides
// the Backend contract, not confidentiality. Handles are hashes of an
// insertion counter, so a backend fed the same call sequence produces the
// same handles.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[ids.ID]memoryValue
	nonce  uint64
}

type memoryValue struct {
	typ   Type
	value uint64
}

// NewMemoryBackend creates an empty memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		values: make(map[ids.ID]memoryValue),
	}
}

// insert stores value under a fresh handle. The caller must hold the write
// lock.
func (b *MemoryBackend) insert(v memoryValue) Ciphertext {
	b.nonce++

	buf := make([]byte, len(memoryHandlePrefix)+8)
	copy(buf, memoryHandlePrefix)
	binary.BigEndian.PutUint64(buf[len(memoryHandlePrefix):], b.nonce)
	handle := ids.ID(sha256.Sum256(buf))

	b.values[handle] = v
	return Ciphertext{Handle: handle, Type: v.typ}
}

// resolve returns the value behind ct. The caller must hold at least the
// read lock.
func (b *MemoryBackend) resolve(ct Ciphertext) (memoryValue, error) {
	v, ok := b.values[ct.Handle]
	if !ok {
		return memoryValue{}, fmt.Errorf("%w: unknown handle %s", ErrInvalidCiphertext, ct.Handle)
	}
	if v.typ != ct.Type {
		return memoryValue{}, fmt.Errorf("%w: handle %s holds %s, not %s", ErrTypeMismatch, ct.Handle, v.typ, ct.Type)
	}
	return v, nil
}

func (b *MemoryBackend) EncryptUint(_ context.Context, value uint64, t Type) (Ciphertext, error) {
	if !t.Valid() {
		return Ciphertext{}, fmt.Errorf("%w: unknown type %s", ErrTypeMismatch, t)
	}
	if value > t.MaxValue() {
		return Ciphertext{}, fmt.Errorf("%w: value %d exceeds %s range", ErrTypeMismatch, value, t)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.insert(memoryValue{typ: t, value: value}), nil
}

func (b *MemoryBackend) Add(_ context.Context, x, y Ciphertext) (Ciphertext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	xv, err := b.resolve(x)
	if err != nil {
		return Ciphertext{}, err
	}
	yv, err := b.resolve(y)
	if err != nil {
		return Ciphertext{}, err
	}
	if xv.typ != yv.typ {
		return Ciphertext{}, fmt.Errorf("%w: add %s vs %s", ErrTypeMismatch, xv.typ, yv.typ)
	}

	sum := xv.value + yv.value
	if xv.typ != TypeUint64 {
		sum &= xv.typ.MaxValue()
	}

	return b.insert(memoryValue{typ: xv.typ, value: sum}), nil
}

func (b *MemoryBackend) Compare(_ context.Context, op CmpOp, x, y Ciphertext) (Ciphertext, error) {
	if !op.Valid() {
		return Ciphertext{}, fmt.Errorf("%w: unsupported comparison operator %s", ErrTypeMismatch, op)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	xv, err := b.resolve(x)
	if err != nil {
		return Ciphertext{}, err
	}
	yv, err := b.resolve(y)
	if err != nil {
		return Ciphertext{}, err
	}
	if xv.typ != yv.typ {
		return Ciphertext{}, fmt.Errorf("%w: compare %s vs %s", ErrTypeMismatch, xv.typ, yv.typ)
	}

	var result uint64
	if op.Apply(xv.value, yv.value) {
		result = 1
	}

	return b.insert(memoryValue{typ: TypeBool, value: result}), nil
}

func (b *MemoryBackend) Select(_ context.Context, cond, ifTrue, ifFalse Ciphertext) (Ciphertext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	condV, err := b.resolve(cond)
	if err != nil {
		return Ciphertext{}, err
	}
	if condV.typ != TypeBool {
		return Ciphertext{}, fmt.Errorf("%w: select condition must be %s, got %s", ErrTypeMismatch, TypeBool, condV.typ)
	}
	trueV, err := b.resolve(ifTrue)
	if err != nil {
		return Ciphertext{}, err
	}
	falseV, err := b.resolve(ifFalse)
	if err != nil {
		return Ciphertext{}, err
	}
	if trueV.typ != falseV.typ {
		return Ciphertext{}, fmt.Errorf("%w: select branches %s vs %s", ErrTypeMismatch, trueV.typ, falseV.typ)
	}

	picked := falseV
	if condV.value != 0 {
		picked = trueV
	}

	return b.insert(memoryValue{typ: picked.typ, value: picked.value}), nil
}

func (b *MemoryBackend) Decrypt(_ context.Context, ct Ciphertext, proof []byte) (uint64, error) {
	if len(proof) == 0 {
		return 0, fmt.Errorf("%w: empty proof", ErrInvalidProof)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	v, err := b.resolve(ct)
	if err != nil {
		return 0, err
	}
	return v.value, nil
}

// Len returns the number of ciphertexts held by the backend.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.values)
}

// FailingBackend is a test implementation of Backend whose every operation
// fails with ErrBackendFailure.
type FailingBackend struct{}

func (FailingBackend) EncryptUint(context.Context, uint64, Type) (Ciphertext, error) {
	return Ciphertext{}, fmt.Errorf("%w: encrypt refused", ErrBackendFailure)
}

func (FailingBackend) Add(context.Context, Ciphertext, Ciphertext) (Ciphertext, error) {
	return Ciphertext{}, fmt.Errorf("%w: add refused", ErrBackendFailure)
}

func (FailingBackend) Compare(context.Context, CmpOp, Ciphertext, Ciphertext) (Ciphertext, error) {
	return Ciphertext{}, fmt.Errorf("%w: compare refused", ErrBackendFailure)
}

func (FailingBackend) Select(context.Context, Ciphertext, Ciphertext, Ciphertext) (Ciphertext, error) {
	return Ciphertext{}, fmt.Errorf("%w: select refused", ErrBackendFailure)
}

func (FailingBackend) Decrypt(context.Context, Ciphertext, []byte) (uint64, error) {
	return 0, fmt.Errorf("%w: decrypt refused", ErrBackendFailure)
}
