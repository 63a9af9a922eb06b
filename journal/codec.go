// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package journal

import (
	"github.com/luxfi/geth/rlp"
)

// CodecVersion is the serialization version of journal entries.
const CodecVersion uint16 = 0

// CodecImpl is used for serializing/deserializing journal entries
type CodecImpl struct{}

// Codec is the default codec instance
var Codec = &CodecImpl{}

// Marshal serializes the value
func (c *CodecImpl) Marshal(version uint16, v interface{}) ([]byte, error) {
	return rlp.EncodeToBytes(v)
}

// Unmarshal deserializes the bytes
func (c *CodecImpl) Unmarshal(b []byte, v interface{}) (uint16, error) {
	err := rlp.DecodeBytes(b, v)
	return CodecVersion, err
}
