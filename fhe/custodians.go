// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"fmt"
	"math/bits"
)

// CustodianBits records which key custodians contributed a share to a
// threshold decryption, by custodian index. The zero value is an empty set.
type CustodianBits []byte

// NewCustodianBits creates an empty custodian set.
func NewCustodianBits() CustodianBits {
	return make(CustodianBits, 0)
}

// Add marks custodian i as a contributor.
func (c *CustodianBits) Add(i int) {
	if i < 0 {
		return
	}
	byteIndex := i / 8
	bitIndex := i % 8

	for len(*c) <= byteIndex {
		*c = append(*c, 0)
	}

	(*c)[byteIndex] |= 1 << uint(bitIndex) //nolint:gosec // bitIndex is always 0-7
}

// Contains returns true if custodian i contributed.
func (c CustodianBits) Contains(i int) bool {
	if i < 0 {
		return false
	}
	byteIndex := i / 8
	if byteIndex >= len(c) {
		return false
	}
	bitIndex := i % 8
	return (c[byteIndex] & (1 << uint(bitIndex))) != 0 //nolint:gosec // bitIndex is always 0-7
}

// Len returns the number of contributing custodians.
func (c CustodianBits) Len() int {
	count := 0
	for _, b := range c {
		count += bits.OnesCount8(b)
	}
	return count
}

// BitLen returns the number of custodian indices representable without
// growing the set.
func (c CustodianBits) BitLen() int {
	return len(c) * 8
}

// Indices returns the contributing custodian indices in ascending order.
func (c CustodianBits) Indices() []int {
	indices := make([]int, 0, c.Len())
	for i := 0; i < c.BitLen(); i++ {
		if c.Contains(i) {
			indices = append(indices, i)
		}
	}
	return indices
}

// Equal returns true if both sets mark the same custodians. Trailing zero
// bytes are ignored.
func (c CustodianBits) Equal(other CustodianBits) bool {
	if len(c) != len(other) {
		c = c.trim()
		other = other.trim()
		if len(c) != len(other) {
			return false
		}
	}

	for i := range c {
		if c[i] != other[i] {
			return false
		}
	}
	return true
}

// trim removes trailing zero bytes.
func (c CustodianBits) trim() CustodianBits {
	i := len(c) - 1
	for i >= 0 && c[i] == 0 {
		i--
	}
	return c[:i+1]
}

func (c CustodianBits) String() string {
	if len(c) == 0 {
		return "{}"
	}
	return fmt.Sprintf("%v", c.Indices())
}
