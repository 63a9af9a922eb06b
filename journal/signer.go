// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package journal

import (
	"github.com/luxfi/crypto/bls"
)

// Signer signs journal entries so the log can be audited offline.
type Signer interface {
	// Sign returns the signature over the entry's signing bytes.
	Sign(msg []byte) (*bls.Signature, error)

	// PublicKey returns the public key matching the signing key.
	PublicKey() *bls.PublicKey
}

// LocalSigner signs with an in-memory BLS secret key.
type LocalSigner struct {
	sk *bls.SecretKey
	pk *bls.PublicKey
}

// NewLocalSigner returns a Signer backed by sk.
func NewLocalSigner(sk *bls.SecretKey) *LocalSigner {
	return &LocalSigner{
		sk: sk,
		pk: sk.PublicKey(),
	}
}

func (s *LocalSigner) Sign(msg []byte) (*bls.Signature, error) {
	return s.sk.Sign(msg)
}

func (s *LocalSigner) PublicKey() *bls.PublicKey {
	return s.pk
}
