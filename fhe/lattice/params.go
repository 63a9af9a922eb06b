// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package lattice

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
)

// Profile selects the scheme parameters the backend instantiates.
type Profile uint8

const (
	// ProfileTest uses a small, insecure ring for fast tests and local
	// development. Never deploy it.
	ProfileTest Profile = iota

	// ProfileSecure targets 128-bit security.
	ProfileSecure
)

func (p Profile) String() string {
	switch p {
	case ProfileTest:
		return "test"
	case ProfileSecure:
		return "secure"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

// CompareBound is the exclusive upper bound on operand values for which
// comparison outcomes are exact. The sign circuit distinguishes normalized
// differences down to 2^-30; normalizing by CompareBound keeps a unit
// difference well above that floor. Operands at or above the bound push the
// normalized difference outside [-1, 1], where the circuit degrades without
// detection.
const CompareBound = 1 << 21

// MaxPlainValue is the exclusive upper bound on plaintext values the
// backend accepts. Larger integers would fall below the scheme precision
// and decrypt inexactly.
const MaxPlainValue = 1 << 40

func (p Profile) literal() (ckks.ParametersLiteral, error) {
	switch p {
	case ProfileTest:
		return ckks.ParametersLiteral{
			LogN:            10,
			LogQ:            []int{55, 55, 45, 45, 45, 45, 45, 45, 45, 45, 45, 45},
			LogP:            []int{60, 60},
			LogDefaultScale: 90,
		}, nil
	case ProfileSecure:
		return ckks.ParametersLiteral{
			LogN:            15,
			LogQ:            []int{55, 55, 45, 45, 45, 45, 45, 45, 45, 45, 45, 45},
			LogP:            []int{60, 60},
			LogDefaultScale: 90,
		}, nil
	default:
		return ckks.ParametersLiteral{}, fmt.Errorf("unknown parameter profile %d", uint8(p))
	}
}
