// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"context"
	"fmt"

	log "github.com/luxfi/log"
)

// Evaluator validates operand shapes before delegating to a Backend. The
// engine routes every homomorphic operation through an Evaluator so that a
// malformed request is rejected with ErrTypeMismatch without touching the
// backend.
type Evaluator struct {
	backend Backend
	logger  log.Logger
}

// NewEvaluator creates an Evaluator over backend. The logger may be nil.
func NewEvaluator(backend Backend, logger log.Logger) *Evaluator {
	return &Evaluator{
		backend: backend,
		logger:  logger,
	}
}

// Backend returns the wrapped backend.
func (e *Evaluator) Backend() Backend {
	return e.backend
}

// Add returns a ciphertext of a+b, modulo the operand width. Both operands
// must carry the same integer type.
func (e *Evaluator) Add(ctx context.Context, a, b Ciphertext) (Ciphertext, error) {
	if a.Empty() || b.Empty() {
		return Ciphertext{}, fmt.Errorf("%w: empty operand handle", ErrInvalidCiphertext)
	}
	if a.Type != b.Type {
		return Ciphertext{}, fmt.Errorf("%w: add %s vs %s", ErrTypeMismatch, a.Type, b.Type)
	}
	if !a.Type.Integer() {
		return Ciphertext{}, fmt.Errorf("%w: add requires integer operands, got %s", ErrTypeMismatch, a.Type)
	}

	out, err := e.backend.Add(ctx, a, b)
	if err != nil {
		return Ciphertext{}, err
	}

	if e.logger != nil {
		e.logger.Debug("evaluated homomorphic add",
			log.Stringer("type", a.Type),
			log.Stringer("result", out.Handle),
		)
	}
	return out, nil
}

// Compare returns an encrypted boolean holding op(a, b). Both operands must
// carry the same integer type.
func (e *Evaluator) Compare(ctx context.Context, op CmpOp, a, b Ciphertext) (Ciphertext, error) {
	if !op.Valid() {
		return Ciphertext{}, fmt.Errorf("%w: unsupported comparison operator %s", ErrTypeMismatch, op)
	}
	if a.Empty() || b.Empty() {
		return Ciphertext{}, fmt.Errorf("%w: empty operand handle", ErrInvalidCiphertext)
	}
	if a.Type != b.Type {
		return Ciphertext{}, fmt.Errorf("%w: compare %s vs %s", ErrTypeMismatch, a.Type, b.Type)
	}
	if !a.Type.Integer() {
		return Ciphertext{}, fmt.Errorf("%w: compare requires integer operands, got %s", ErrTypeMismatch, a.Type)
	}

	out, err := e.backend.Compare(ctx, op, a, b)
	if err != nil {
		return Ciphertext{}, err
	}

	if e.logger != nil {
		e.logger.Debug("evaluated homomorphic compare",
			log.Stringer("op", op),
			log.Stringer("type", a.Type),
			log.Stringer("result", out.Handle),
		)
	}
	return out, nil
}

// Select returns ifTrue when cond holds and ifFalse otherwise, without
// revealing cond. The condition must be boolean and both branches must
// carry the same type.
func (e *Evaluator) Select(ctx context.Context, cond, ifTrue, ifFalse Ciphertext) (Ciphertext, error) {
	if cond.Empty() || ifTrue.Empty() || ifFalse.Empty() {
		return Ciphertext{}, fmt.Errorf("%w: empty operand handle", ErrInvalidCiphertext)
	}
	if cond.Type != TypeBool {
		return Ciphertext{}, fmt.Errorf("%w: select condition must be %s, got %s", ErrTypeMismatch, TypeBool, cond.Type)
	}
	if ifTrue.Type != ifFalse.Type {
		return Ciphertext{}, fmt.Errorf("%w: select branches %s vs %s", ErrTypeMismatch, ifTrue.Type, ifFalse.Type)
	}

	out, err := e.backend.Select(ctx, cond, ifTrue, ifFalse)
	if err != nil {
		return Ciphertext{}, err
	}

	if e.logger != nil {
		e.logger.Debug("evaluated homomorphic select",
			log.Stringer("type", ifTrue.Type),
			log.Stringer("result", out.Handle),
		)
	}
	return out, nil
}
