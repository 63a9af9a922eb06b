// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fhe defines the cryptographic capability the ledger engine
// evaluates against: typed ciphertext handles, the permitted homomorphic
// operations (addition, comparison, conditional selection), and the
// decryption entry point reserved for the disclosure broker.
package fhe

import (
	"context"
	"errors"
	"fmt"

	"github.com/luxfi/ids"
)

var (
	// ErrTypeMismatch is returned when operand types or widths do not agree.
	ErrTypeMismatch = errors.New("operand type mismatch")

	// ErrBackendFailure is returned when the cryptographic backend fails.
	// It is fatal for the enclosing operation and is never retried.
	ErrBackendFailure = errors.New("cryptographic backend failure")

	// ErrInvalidCiphertext is returned when a handle does not resolve to a
	// ciphertext known to the backend.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")

	// ErrInvalidProof is returned when a decryption is attempted without an
	// authorization proof.
	ErrInvalidProof = errors.New("invalid authorization proof")
)

// Type is the declared semantic type of an encrypted value.
type Type uint8

const (
	TypeBool Type = iota
	TypeUint8
	TypeUint16
	TypeUint32
	TypeUint64
)

func (t Type) String() string {
	switch t {
	case TypeBool:
		return "ebool"
	case TypeUint8:
		return "euint8"
	case TypeUint16:
		return "euint16"
	case TypeUint32:
		return "euint32"
	case TypeUint64:
		return "euint64"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Valid returns true if t is a declared type.
func (t Type) Valid() bool {
	return t <= TypeUint64
}

// Integer returns true if t is an integer type.
func (t Type) Integer() bool {
	return t >= TypeUint8 && t <= TypeUint64
}

// BitSize returns the plaintext width of t in bits.
func (t Type) BitSize() int {
	switch t {
	case TypeBool:
		return 1
	case TypeUint8:
		return 8
	case TypeUint16:
		return 16
	case TypeUint32:
		return 32
	case TypeUint64:
		return 64
	default:
		return 0
	}
}

// MaxValue returns the largest plaintext representable by t.
func (t Type) MaxValue() uint64 {
	if t == TypeUint64 {
		return ^uint64(0)
	}
	return (uint64(1) << t.BitSize()) - 1
}

// CmpOp identifies a comparison operator.
type CmpOp uint8

const (
	CmpLE CmpOp = iota
	CmpLT
	CmpGE
	CmpGT
	CmpEQ
)

func (op CmpOp) String() string {
	switch op {
	case CmpLE:
		return "le"
	case CmpLT:
		return "lt"
	case CmpGE:
		return "ge"
	case CmpGT:
		return "gt"
	case CmpEQ:
		return "eq"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(op))
	}
}

// Valid returns true if op is a declared operator.
func (op CmpOp) Valid() bool {
	return op <= CmpEQ
}

// Apply evaluates op over plaintext operands.
func (op CmpOp) Apply(a, b uint64) bool {
	switch op {
	case CmpLE:
		return a <= b
	case CmpLT:
		return a < b
	case CmpGE:
		return a >= b
	case CmpGT:
		return a > b
	case CmpEQ:
		return a == b
	default:
		return false
	}
}

// Ciphertext is an opaque handle over an encrypted value together with its
// declared type. The bytes behind the handle live inside the backend;
// holding a Ciphertext grants no ability to read the plaintext.
type Ciphertext struct {
	Handle ids.ID
	Type   Type
}

// Empty returns true if the handle is unset.
func (c Ciphertext) Empty() bool {
	return c.Handle == (ids.ID{})
}

func (c Ciphertext) String() string {
	return fmt.Sprintf("%s:%s", c.Type, c.Handle)
}

// Backend is the trusted cryptographic capability consumed by the engine.
// All operations are synchronous and must be safe for concurrent use.
// Operations return fresh handles; an existing ciphertext is never mutated.
// A failure inside the backend wraps ErrBackendFailure and must be treated
// as fatal for the enclosing engine call.
type Backend interface {
	// EncryptUint encrypts value under the declared type. Boolean values
	// must be 0 or 1.
	EncryptUint(ctx context.Context, value uint64, t Type) (Ciphertext, error)

	// Add returns a ciphertext of the sum of a and b, modulo the operand
	// width. Operand types must match.
	Add(ctx context.Context, a, b Ciphertext) (Ciphertext, error)

	// Compare returns an encrypted boolean holding op(a, b).
	Compare(ctx context.Context, op CmpOp, a, b Ciphertext) (Ciphertext, error)

	// Select returns ifTrue when cond decrypts to true and ifFalse
	// otherwise, without revealing cond.
	Select(ctx context.Context, cond, ifTrue, ifFalse Ciphertext) (Ciphertext, error)

	// Decrypt returns the plaintext behind ct. The proof is the broker's
	// authorization evidence; backends reject an empty proof.
	Decrypt(ctx context.Context, ct Ciphertext, proof []byte) (uint64, error)
}

// ThresholdDecryptor is an optional backend capability: decryption through
// reconstruction of key shares held by a quorum of custodians. Backends
// without custodian key splitting do not implement it.
type ThresholdDecryptor interface {
	// ThresholdDecrypt decrypts ct using a quorum of custodian shares and
	// reports which custodians participated.
	ThresholdDecrypt(ctx context.Context, ct Ciphertext, proof []byte) (uint64, CustodianBits, error)
}

// EncryptBool encrypts a boolean through b.
func EncryptBool(ctx context.Context, b Backend, value bool) (Ciphertext, error) {
	var v uint64
	if value {
		v = 1
	}
	return b.EncryptUint(ctx, v, TypeBool)
}
