// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package zledger

import (
	"errors"
	"fmt"

	"github.com/luxfi/zledger/acl"
	"github.com/luxfi/zledger/aggregate"
	"github.com/luxfi/zledger/broker"
	"github.com/luxfi/zledger/fhe"
	"github.com/luxfi/zledger/lifecycle"
	"github.com/luxfi/zledger/store"
	"github.com/luxfi/zledger/transfer"
)

// Failure codes. Every engine error maps onto exactly one; an operation that
// fails leaves no partial plaintext behind the code.
const (
	CodeInternal int32 = iota + 1
	CodeUnknownField
	CodeNotFound
	CodePermissionDenied
	CodeTypeMismatch
	CodeInvalidTransition
	CodeBackendFailure
	CodeConditionNotMet
	CodeFailedTransfer
)

// ErrConditionNotMet is returned when an encrypted predicate evaluates to
// false. The guarded operation has no effect and may be retried with
// different arguments.
var ErrConditionNotMet = errors.New("condition not met")

// Error is the coded form of an engine failure, stable across clients.
type Error struct {
	Code    int32
	Message string
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("zledger error %d: %s", e.Code, e.Message)
}

// Classify maps err onto its failure code. Errors outside the taxonomy are
// internal. A nil error classifies to nil.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	code := CodeInternal
	switch {
	case errors.Is(err, store.ErrUnknownField):
		code = CodeUnknownField
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, acl.ErrUnknownSlot),
		errors.Is(err, lifecycle.ErrNotFound),
		errors.Is(err, broker.ErrUnknownRequest),
		errors.Is(err, aggregate.ErrUnknownSubject):
		code = CodeNotFound
	case errors.Is(err, acl.ErrPermissionDenied),
		errors.Is(err, acl.ErrUnauthorized),
		errors.Is(err, lifecycle.ErrUnauthorized),
		errors.Is(err, fhe.ErrInvalidProof):
		code = CodePermissionDenied
	case errors.Is(err, fhe.ErrTypeMismatch):
		code = CodeTypeMismatch
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrAlreadyAssigned),
		errors.Is(err, broker.ErrInvalidTransition),
		errors.Is(err, broker.ErrInvalidThreshold),
		errors.Is(err, broker.ErrAlreadyVoted),
		errors.Is(err, broker.ErrNotDisclosed),
		errors.Is(err, store.ErrAlreadyExists),
		errors.Is(err, aggregate.ErrAlreadyExists):
		code = CodeInvalidTransition
	case errors.Is(err, fhe.ErrBackendFailure),
		errors.Is(err, fhe.ErrInvalidCiphertext):
		code = CodeBackendFailure
	case errors.Is(err, ErrConditionNotMet):
		code = CodeConditionNotMet
	case errors.Is(err, transfer.ErrFailedTransfer):
		code = CodeFailedTransfer
	}
	return &Error{Code: code, Message: err.Error()}
}
