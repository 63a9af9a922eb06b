// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package zledger

import "crypto/sha256"

// Constants
const (
	// KiB is 1024 bytes
	KiB = 1024

	// SignatureLen is the length of a BLS signature
	SignatureLen = 96

	// PublicKeyLen is the length of a BLS public key
	PublicKeyLen = 48
)

// ComputeHash256 computes SHA256 hash
func ComputeHash256(data []byte) []byte {
	hash := ComputeHash256Array(data)
	return hash[:]
}

// ComputeHash256Array computes SHA256 hash as a fixed-size array
func ComputeHash256Array(data []byte) [sha256.Size]byte {
	return sha256.Sum256(data)
}
