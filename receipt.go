// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package zledger

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"
)

const (
	CodecVersion   = 0
	MaxReceiptSize = 4 * KiB
)

var (
	ErrInvalidReceipt   = errors.New("invalid receipt")
	ErrInvalidSignature = errors.New("invalid signature")
)

// UnsignedReceipt attests that a record was completed: which principal
// completed it, the reward disclosed to them, the custodians that took part
// in the disclosure, and the journal sequence anchoring the receipt. A
// rewarded completion anchors to its reward disclosure entry; an unrewarded
// one anchors to the completion entry.
type UnsignedReceipt struct {
	Record     uint64 `serialize:"true"`
	Assignee   []byte `serialize:"true"`
	Reward     uint64 `serialize:"true"`
	Seq        uint64 `serialize:"true"`
	Custodians []byte `serialize:"true"`
}

// NewUnsignedReceipt creates a new unsigned receipt
func NewUnsignedReceipt(record uint64, assignee []byte, reward, seq uint64, custodians []byte) (*UnsignedReceipt, error) {
	r := &UnsignedReceipt{
		Record:     record,
		Assignee:   assignee,
		Reward:     reward,
		Seq:        seq,
		Custodians: custodians,
	}
	if err := r.Verify(); err != nil {
		return nil, err
	}
	return r, nil
}

// Verify verifies the unsigned receipt
func (u *UnsignedReceipt) Verify() error {
	if len(u.Assignee) == 0 {
		return fmt.Errorf("%w: empty assignee", ErrInvalidReceipt)
	}
	b, err := Codec.Marshal(CodecVersion, u)
	if err != nil {
		return fmt.Errorf("failed to marshal unsigned receipt: %w", err)
	}
	if len(b) > MaxReceiptSize {
		return fmt.Errorf("%w: receipt size %d exceeds maximum %d", ErrInvalidReceipt, len(b), MaxReceiptSize)
	}
	return nil
}

// Bytes returns the byte representation of the unsigned receipt
func (u *UnsignedReceipt) Bytes() []byte {
	b, _ := Codec.Marshal(CodecVersion, u)
	return b
}

// ID returns the hash of the unsigned receipt
func (u *UnsignedReceipt) ID() ids.ID {
	return ids.ID(ComputeHash256Array(u.Bytes()))
}

// Receipt is a signed completion attestation. An engine without a signing
// key issues receipts with an empty signature.
type Receipt struct {
	UnsignedReceipt *UnsignedReceipt `serialize:"true"`
	Signature       []byte           `serialize:"true"`
}

// NewReceipt creates a new receipt
func NewReceipt(unsigned *UnsignedReceipt, signature []byte) (*Receipt, error) {
	r := &Receipt{
		UnsignedReceipt: unsigned,
		Signature:       signature,
	}
	if err := r.Verify(); err != nil {
		return nil, err
	}
	return r, nil
}

// Verify verifies the receipt format
func (r *Receipt) Verify() error {
	if r.UnsignedReceipt == nil {
		return fmt.Errorf("%w: unsigned receipt is nil", ErrInvalidReceipt)
	}
	if err := r.UnsignedReceipt.Verify(); err != nil {
		return err
	}
	if len(r.Signature) != 0 && len(r.Signature) != SignatureLen {
		return fmt.Errorf("%w: signature length %d", ErrInvalidSignature, len(r.Signature))
	}
	return nil
}

// VerifySignature verifies the receipt against the issuer's public key.
func (r *Receipt) VerifySignature(pk *bls.PublicKey) error {
	if len(r.Signature) == 0 {
		return fmt.Errorf("%w: receipt is unsigned", ErrInvalidSignature)
	}
	sig, err := bls.SignatureFromBytes(r.Signature)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}
	if !bls.Verify(pk, sig, r.UnsignedReceipt.Bytes()) {
		return ErrInvalidSignature
	}
	return nil
}

// Bytes returns the byte representation of the receipt
func (r *Receipt) Bytes() []byte {
	b, _ := Codec.Marshal(CodecVersion, r)
	return b
}

// ID returns the ID of the receipt (hash of the unsigned receipt)
func (r *Receipt) ID() ids.ID {
	return r.UnsignedReceipt.ID()
}

// ParseReceipt parses a receipt from bytes
func ParseReceipt(b []byte) (*Receipt, error) {
	r := &Receipt{}
	if _, err := Codec.Unmarshal(b, r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}
	if err := r.Verify(); err != nil {
		return nil, err
	}
	return r, nil
}

// Equal returns true if two receipts are equal
func (r *Receipt) Equal(other *Receipt) bool {
	if r == nil || other == nil {
		return r == other
	}
	if r.UnsignedReceipt == nil || other.UnsignedReceipt == nil {
		return r.UnsignedReceipt == other.UnsignedReceipt
	}
	if r.UnsignedReceipt.Record != other.UnsignedReceipt.Record {
		return false
	}
	if !bytes.Equal(r.UnsignedReceipt.Assignee, other.UnsignedReceipt.Assignee) {
		return false
	}
	if r.UnsignedReceipt.Reward != other.UnsignedReceipt.Reward {
		return false
	}
	if r.UnsignedReceipt.Seq != other.UnsignedReceipt.Seq {
		return false
	}
	if !bytes.Equal(r.UnsignedReceipt.Custodians, other.UnsignedReceipt.Custodians) {
		return false
	}
	return bytes.Equal(r.Signature, other.Signature)
}
