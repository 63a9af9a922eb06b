// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTypeProperties(t *testing.T) {
	tests := []struct {
		typ      Type
		name     string
		bitSize  int
		maxValue uint64
		integer  bool
	}{
		{typ: TypeBool, name: "ebool", bitSize: 1, maxValue: 1, integer: false},
		{typ: TypeUint8, name: "euint8", bitSize: 8, maxValue: 255, integer: true},
		{typ: TypeUint16, name: "euint16", bitSize: 16, maxValue: 65535, integer: true},
		{typ: TypeUint32, name: "euint32", bitSize: 32, maxValue: 1<<32 - 1, integer: true},
		{typ: TypeUint64, name: "euint64", bitSize: 64, maxValue: ^uint64(0), integer: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.True(t, tt.typ.Valid())
			require.Equal(t, tt.name, tt.typ.String())
			require.Equal(t, tt.bitSize, tt.typ.BitSize())
			require.Equal(t, tt.maxValue, tt.typ.MaxValue())
			require.Equal(t, tt.integer, tt.typ.Integer())
		})
	}

	unknown := Type(99)
	require.False(t, unknown.Valid())
	require.Zero(t, unknown.BitSize())
}

func TestCmpOpApply(t *testing.T) {
	tests := []struct {
		op       CmpOp
		a, b     uint64
		expected bool
	}{
		{op: CmpLE, a: 2, b: 3, expected: true},
		{op: CmpLE, a: 3, b: 3, expected: true},
		{op: CmpLE, a: 4, b: 3, expected: false},
		{op: CmpLT, a: 2, b: 3, expected: true},
		{op: CmpLT, a: 3, b: 3, expected: false},
		{op: CmpGE, a: 3, b: 3, expected: true},
		{op: CmpGE, a: 2, b: 3, expected: false},
		{op: CmpGT, a: 4, b: 3, expected: true},
		{op: CmpGT, a: 3, b: 3, expected: false},
		{op: CmpEQ, a: 3, b: 3, expected: true},
		{op: CmpEQ, a: 2, b: 3, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			require.Equal(t, tt.expected, tt.op.Apply(tt.a, tt.b))
		})
	}

	require.True(t, CmpLE.Valid())
	require.False(t, CmpOp(42).Valid())
}

func TestEncryptBool(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()

	ctTrue, err := EncryptBool(ctx, backend, true)
	require.NoError(t, err)
	require.Equal(t, TypeBool, ctTrue.Type)

	ctFalse, err := EncryptBool(ctx, backend, false)
	require.NoError(t, err)
	require.NotEqual(t, ctTrue.Handle, ctFalse.Handle)

	v, err := backend.Decrypt(ctx, ctTrue, []byte("proof"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), v)

	v, err = backend.Decrypt(ctx, ctFalse, []byte("proof"))
	require.NoError(t, err)
	require.Zero(t, v)
}
