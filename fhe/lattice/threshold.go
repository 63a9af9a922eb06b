// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package lattice

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/multiparty"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"

	"github.com/luxfi/zledger/fhe"
)

// custody holds the Shamir shares of the scheme secret key across n
// custodians, any k of which reconstruct the key. Shares are dealt once at
// setup and never leave the set.
type custody struct {
	params    ckks.Parameters
	threshold int
	points    []multiparty.ShamirPublicPoint
	shares    []multiparty.ShamirSecretShare
	combiners []multiparty.Combiner
}

// dealCustody splits sk across n custodians with reconstruction
// threshold k.
func dealCustody(params ckks.Parameters, sk *rlwe.SecretKey, n, k int) (*custody, error) {
	if n < 1 {
		return nil, fmt.Errorf("custodian count %d, need at least 1", n)
	}
	if k < 1 || k > n {
		return nil, fmt.Errorf("threshold %d outside [1, %d]", k, n)
	}

	thresholdizer := multiparty.NewThresholdizer(params)
	gen, err := thresholdizer.GenShamirPolynomial(k, sk)
	if err != nil {
		return nil, fmt.Errorf("generating shamir polynomial: %w", err)
	}

	c := &custody{
		params:    params,
		threshold: k,
		points:    make([]multiparty.ShamirPublicPoint, n),
		shares:    make([]multiparty.ShamirSecretShare, n),
		combiners: make([]multiparty.Combiner, n),
	}
	for i := 0; i < n; i++ {
		c.points[i] = multiparty.ShamirPublicPoint(i + 1)
	}
	for i := 0; i < n; i++ {
		dealt := thresholdizer.AllocateThresholdSecretShare()
		thresholdizer.GenShamirSecretShare(c.points[i], gen, &dealt)

		c.shares[i] = thresholdizer.AllocateThresholdSecretShare()
		thresholdizer.AggregateShares(c.shares[i], dealt, &c.shares[i])

		c.combiners[i] = multiparty.NewCombiner(params, c.points[i], c.points, k)
	}
	return c, nil
}

// reconstruct combines the shares of the first k custodians into the
// scheme secret key and reports the participating set.
func (c *custody) reconstruct() (*rlwe.SecretKey, fhe.CustodianBits) {
	active := c.points[:c.threshold]

	bits := fhe.NewCustodianBits()
	ringQP := c.params.RingQP()
	recSk := rlwe.NewSecretKey(c.params)
	for i := 0; i < c.threshold; i++ {
		additive := rlwe.NewSecretKey(c.params)
		c.combiners[i].GenAdditiveShare(active, c.points[i], c.shares[i], additive)
		ringQP.Add(additive.Value, recSk.Value, recSk.Value)
		bits.Add(i)
	}
	return recSk, bits
}

// size returns the number of custodians.
func (c *custody) size() int {
	return len(c.points)
}
