// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package zledger

import (
	"bytes"
	"fmt"

	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"
)

// UnsignedDisclosureReceipt attests that a value was disclosed: which slot,
// to which principal, the value revealed, the custodians that took part for
// threshold disclosures, and the journal sequence recording the event.
type UnsignedDisclosureReceipt struct {
	Slot       ids.ID `serialize:"true"`
	Principal  []byte `serialize:"true"`
	Value      uint64 `serialize:"true"`
	Seq        uint64 `serialize:"true"`
	Custodians []byte `serialize:"true"`
}

// NewUnsignedDisclosureReceipt creates a new unsigned disclosure receipt
func NewUnsignedDisclosureReceipt(slot ids.ID, principal []byte, value, seq uint64, custodians []byte) (*UnsignedDisclosureReceipt, error) {
	r := &UnsignedDisclosureReceipt{
		Slot:       slot,
		Principal:  principal,
		Value:      value,
		Seq:        seq,
		Custodians: custodians,
	}
	if err := r.Verify(); err != nil {
		return nil, err
	}
	return r, nil
}

// Verify verifies the unsigned disclosure receipt
func (u *UnsignedDisclosureReceipt) Verify() error {
	if len(u.Principal) == 0 {
		return fmt.Errorf("%w: empty principal", ErrInvalidReceipt)
	}
	b, err := Codec.Marshal(CodecVersion, u)
	if err != nil {
		return fmt.Errorf("failed to marshal unsigned disclosure receipt: %w", err)
	}
	if len(b) > MaxReceiptSize {
		return fmt.Errorf("%w: receipt size %d exceeds maximum %d", ErrInvalidReceipt, len(b), MaxReceiptSize)
	}
	return nil
}

// Bytes returns the byte representation of the unsigned disclosure receipt
func (u *UnsignedDisclosureReceipt) Bytes() []byte {
	b, _ := Codec.Marshal(CodecVersion, u)
	return b
}

// ID returns the hash of the unsigned disclosure receipt
func (u *UnsignedDisclosureReceipt) ID() ids.ID {
	return ids.ID(ComputeHash256Array(u.Bytes()))
}

// DisclosureReceipt is a signed disclosure attestation. An engine without a
// signing key issues receipts with an empty signature.
type DisclosureReceipt struct {
	UnsignedDisclosureReceipt *UnsignedDisclosureReceipt `serialize:"true"`
	Signature                 []byte                     `serialize:"true"`
}

// NewDisclosureReceipt creates a new disclosure receipt
func NewDisclosureReceipt(unsigned *UnsignedDisclosureReceipt, signature []byte) (*DisclosureReceipt, error) {
	r := &DisclosureReceipt{
		UnsignedDisclosureReceipt: unsigned,
		Signature:                 signature,
	}
	if err := r.Verify(); err != nil {
		return nil, err
	}
	return r, nil
}

// Verify verifies the disclosure receipt format
func (r *DisclosureReceipt) Verify() error {
	if r.UnsignedDisclosureReceipt == nil {
		return fmt.Errorf("%w: unsigned disclosure receipt is nil", ErrInvalidReceipt)
	}
	if err := r.UnsignedDisclosureReceipt.Verify(); err != nil {
		return err
	}
	if len(r.Signature) != 0 && len(r.Signature) != SignatureLen {
		return fmt.Errorf("%w: signature length %d", ErrInvalidSignature, len(r.Signature))
	}
	return nil
}

// VerifySignature verifies the disclosure receipt against the issuer's
// public key.
func (r *DisclosureReceipt) VerifySignature(pk *bls.PublicKey) error {
	if len(r.Signature) == 0 {
		return fmt.Errorf("%w: receipt is unsigned", ErrInvalidSignature)
	}
	sig, err := bls.SignatureFromBytes(r.Signature)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}
	if !bls.Verify(pk, sig, r.UnsignedDisclosureReceipt.Bytes()) {
		return ErrInvalidSignature
	}
	return nil
}

// Bytes returns the byte representation of the disclosure receipt
func (r *DisclosureReceipt) Bytes() []byte {
	b, _ := Codec.Marshal(CodecVersion, r)
	return b
}

// ID returns the ID of the disclosure receipt (hash of the unsigned
// disclosure receipt)
func (r *DisclosureReceipt) ID() ids.ID {
	return r.UnsignedDisclosureReceipt.ID()
}

// ParseDisclosureReceipt parses a disclosure receipt from bytes
func ParseDisclosureReceipt(b []byte) (*DisclosureReceipt, error) {
	r := &DisclosureReceipt{}
	if _, err := Codec.Unmarshal(b, r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal disclosure receipt: %w", err)
	}
	if err := r.Verify(); err != nil {
		return nil, err
	}
	return r, nil
}

// Equal returns true if two disclosure receipts are equal
func (r *DisclosureReceipt) Equal(other *DisclosureReceipt) bool {
	if r == nil || other == nil {
		return r == other
	}
	if r.UnsignedDisclosureReceipt == nil || other.UnsignedDisclosureReceipt == nil {
		return r.UnsignedDisclosureReceipt == other.UnsignedDisclosureReceipt
	}
	if r.UnsignedDisclosureReceipt.Slot != other.UnsignedDisclosureReceipt.Slot {
		return false
	}
	if !bytes.Equal(r.UnsignedDisclosureReceipt.Principal, other.UnsignedDisclosureReceipt.Principal) {
		return false
	}
	if r.UnsignedDisclosureReceipt.Value != other.UnsignedDisclosureReceipt.Value {
		return false
	}
	if r.UnsignedDisclosureReceipt.Seq != other.UnsignedDisclosureReceipt.Seq {
		return false
	}
	if !bytes.Equal(r.UnsignedDisclosureReceipt.Custodians, other.UnsignedDisclosureReceipt.Custodians) {
		return false
	}
	return bytes.Equal(r.Signature, other.Signature)
}
