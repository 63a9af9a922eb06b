// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

// Package lattice implements the cryptographic backend over the CKKS
// scheme: encrypted integers in slot zero, homomorphic addition, exact
// integer comparison through a minimax sign circuit, oblivious selection,
// and disclosure through a k-of-n custodian quorum holding Shamir shares
// of the scheme key.
package lattice

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/tuneinsight/lattigo/v6/circuits/ckks/bootstrapping"
	"github.com/tuneinsight/lattigo/v6/circuits/ckks/comparison"
	"github.com/tuneinsight/lattigo/v6/circuits/ckks/minimax"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/ring"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/zledger/fhe"
)

var handlePrefix = []byte("fhe/lattice/handle/")

// Config parameterizes the backend.
type Config struct {
	// Profile selects the scheme parameters. Defaults to ProfileTest.
	Profile Profile

	// Custodians is the number of key custodians the secret key is split
	// across. Defaults to 1.
	Custodians int

	// Threshold is the number of custodian shares a disclosure needs.
	// Defaults to Custodians.
	Threshold int

	// Logger may be nil.
	Logger log.Logger
}

type entry struct {
	ct  *rlwe.Ciphertext
	typ fhe.Type
}

// Backend implements the cryptographic capability over CKKS. Plaintext
// integers are encoded in slot zero of a full slot vector; values round
// exactly on decryption as long as they stay below MaxPlainValue. The
// scheme secret key exists only inside the custodian shares and the
// bootstrapper; decryption reconstructs it from a quorum on every call.
type Backend struct {
	params    ckks.Parameters
	encoder   *ckks.Encoder
	encryptor *rlwe.Encryptor
	eval      *ckks.Evaluator
	cmp       *comparison.Evaluator
	custody   *custody
	logger    log.Logger

	// lattigo evaluators are not safe for concurrent use; all operations
	// serialize on one lock.
	mu     sync.Mutex
	values map[ids.ID]entry
	nonce  uint64
}

var (
	_ fhe.Backend            = (*Backend)(nil)
	_ fhe.ThresholdDecryptor = (*Backend)(nil)
)

// New generates keys for the configured profile, deals the custodian
// shares, and returns a ready backend.
func New(cfg Config) (*Backend, error) {
	n := cfg.Custodians
	if n == 0 {
		n = 1
	}
	k := cfg.Threshold
	if k == 0 {
		k = n
	}

	literal, err := cfg.Profile.literal()
	if err != nil {
		return nil, err
	}
	params, err := ckks.NewParametersFromLiteral(literal)
	if err != nil {
		return nil, fmt.Errorf("building parameters: %w", err)
	}

	kgen := rlwe.NewKeyGenerator(params)
	sk, pk := kgen.GenKeyPairNew()

	var galKeys []*rlwe.GaloisKey
	if params.RingType() == ring.Standard {
		galKeys = append(galKeys, kgen.GenGaloisKeyNew(params.GaloisElementForComplexConjugation(), sk))
	}
	evk := rlwe.NewMemEvaluationKeySet(kgen.GenRelinearizationKeyNew(sk), galKeys...)
	eval := ckks.NewEvaluator(params, evk)

	btp := bootstrapping.NewSecretKeyBootstrapper(params, sk)
	cmp := comparison.NewEvaluator(params, minimax.NewEvaluator(params, eval, btp))

	cust, err := dealCustody(params, sk, n, k)
	if err != nil {
		return nil, err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("lattice backend ready",
			log.Stringer("profile", cfg.Profile),
			log.Int("logN", params.LogN()),
			log.Int("custodians", n),
			log.Int("threshold", k),
		)
	}
	return &Backend{
		params:    params,
		encoder:   ckks.NewEncoder(params),
		encryptor: rlwe.NewEncryptor(params, pk),
		eval:      eval,
		cmp:       cmp,
		custody:   cust,
		logger:    cfg.Logger,
		values:    make(map[ids.ID]entry),
	}, nil
}

// insert stores ct under a fresh handle. The caller must hold b.mu.
func (b *Backend) insert(ct *rlwe.Ciphertext, typ fhe.Type) fhe.Ciphertext {
	b.nonce++

	buf := make([]byte, len(handlePrefix)+8)
	copy(buf, handlePrefix)
	binary.BigEndian.PutUint64(buf[len(handlePrefix):], b.nonce)
	handle := ids.ID(sha256.Sum256(buf))

	b.values[handle] = entry{ct: ct, typ: typ}
	return fhe.Ciphertext{Handle: handle, Type: typ}
}

// resolve returns the ciphertext behind ct. The caller must hold b.mu.
func (b *Backend) resolve(ct fhe.Ciphertext) (entry, error) {
	e, ok := b.values[ct.Handle]
	if !ok {
		return entry{}, fmt.Errorf("%w: unknown handle %s", fhe.ErrInvalidCiphertext, ct.Handle)
	}
	if e.typ != ct.Type {
		return entry{}, fmt.Errorf("%w: handle %s holds %s, not %s", fhe.ErrTypeMismatch, ct.Handle, e.typ, ct.Type)
	}
	return e, nil
}

// encrypt encrypts value into slot zero. The caller must hold b.mu.
func (b *Backend) encrypt(value float64) (*rlwe.Ciphertext, error) {
	slots := make([]float64, b.params.MaxSlots())
	slots[0] = value

	pt := ckks.NewPlaintext(b.params, b.params.MaxLevel())
	if err := b.encoder.Encode(slots, pt); err != nil {
		return nil, fmt.Errorf("%w: encode: %v", fhe.ErrBackendFailure, err)
	}
	ct, err := b.encryptor.EncryptNew(pt)
	if err != nil {
		return nil, fmt.Errorf("%w: encrypt: %v", fhe.ErrBackendFailure, err)
	}
	return ct, nil
}

func (b *Backend) EncryptUint(_ context.Context, value uint64, t fhe.Type) (fhe.Ciphertext, error) {
	if !t.Valid() {
		return fhe.Ciphertext{}, fmt.Errorf("%w: unknown type %s", fhe.ErrTypeMismatch, t)
	}
	if value > t.MaxValue() {
		return fhe.Ciphertext{}, fmt.Errorf("%w: value %d exceeds %s range", fhe.ErrTypeMismatch, value, t)
	}
	if value >= MaxPlainValue {
		return fhe.Ciphertext{}, fmt.Errorf("%w: value %d exceeds the scheme precision domain", fhe.ErrTypeMismatch, value)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ct, err := b.encrypt(float64(value))
	if err != nil {
		return fhe.Ciphertext{}, err
	}
	return b.insert(ct, t), nil
}

func (b *Backend) Add(_ context.Context, x, y fhe.Ciphertext) (fhe.Ciphertext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	xe, err := b.resolve(x)
	if err != nil {
		return fhe.Ciphertext{}, err
	}
	ye, err := b.resolve(y)
	if err != nil {
		return fhe.Ciphertext{}, err
	}
	if xe.typ != ye.typ {
		return fhe.Ciphertext{}, fmt.Errorf("%w: add %s vs %s", fhe.ErrTypeMismatch, xe.typ, ye.typ)
	}

	sum, err := b.eval.AddNew(xe.ct, ye.ct)
	if err != nil {
		return fhe.Ciphertext{}, fmt.Errorf("%w: add: %v", fhe.ErrBackendFailure, err)
	}
	return b.insert(sum, xe.typ), nil
}

// step evaluates step((minuend - subtrahend + offset) / CompareBound),
// which is exactly 1 or 0 for integer operands below CompareBound when
// offset is a half unit away from every attainable difference. The caller
// must hold b.mu.
func (b *Backend) step(minuend, subtrahend *rlwe.Ciphertext, offset float64) (*rlwe.Ciphertext, error) {
	diff, err := b.eval.SubNew(minuend, subtrahend)
	if err != nil {
		return nil, fmt.Errorf("%w: compare: %v", fhe.ErrBackendFailure, err)
	}
	if err := b.eval.Mul(diff, 1.0/CompareBound, diff); err != nil {
		return nil, fmt.Errorf("%w: compare: %v", fhe.ErrBackendFailure, err)
	}
	if err := b.eval.Add(diff, offset/CompareBound, diff); err != nil {
		return nil, fmt.Errorf("%w: compare: %v", fhe.ErrBackendFailure, err)
	}
	if err := b.eval.Rescale(diff, diff); err != nil {
		return nil, fmt.Errorf("%w: compare: %v", fhe.ErrBackendFailure, err)
	}
	out, err := b.cmp.Step(diff)
	if err != nil {
		return nil, fmt.Errorf("%w: sign circuit: %v", fhe.ErrBackendFailure, err)
	}
	return out, nil
}

func (b *Backend) Compare(_ context.Context, op fhe.CmpOp, x, y fhe.Ciphertext) (fhe.Ciphertext, error) {
	if !op.Valid() {
		return fhe.Ciphertext{}, fmt.Errorf("%w: unsupported comparison operator %s", fhe.ErrTypeMismatch, op)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	xe, err := b.resolve(x)
	if err != nil {
		return fhe.Ciphertext{}, err
	}
	ye, err := b.resolve(y)
	if err != nil {
		return fhe.Ciphertext{}, err
	}
	if xe.typ != ye.typ {
		return fhe.Ciphertext{}, fmt.Errorf("%w: compare %s vs %s", fhe.ErrTypeMismatch, xe.typ, ye.typ)
	}

	var out *rlwe.Ciphertext
	switch op {
	case fhe.CmpLE:
		out, err = b.step(ye.ct, xe.ct, 0.5)
	case fhe.CmpLT:
		out, err = b.step(ye.ct, xe.ct, -0.5)
	case fhe.CmpGE:
		out, err = b.step(xe.ct, ye.ct, 0.5)
	case fhe.CmpGT:
		out, err = b.step(xe.ct, ye.ct, -0.5)
	case fhe.CmpEQ:
		// x = y iff x <= y and x >= y.
		var le, ge *rlwe.Ciphertext
		if le, err = b.step(ye.ct, xe.ct, 0.5); err != nil {
			break
		}
		if ge, err = b.step(xe.ct, ye.ct, 0.5); err != nil {
			break
		}
		if out, err = b.eval.MulRelinNew(le, ge); err != nil {
			err = fmt.Errorf("%w: compare: %v", fhe.ErrBackendFailure, err)
			break
		}
		if rerr := b.eval.Rescale(out, out); rerr != nil {
			err = fmt.Errorf("%w: compare: %v", fhe.ErrBackendFailure, rerr)
		}
	}
	if err != nil {
		return fhe.Ciphertext{}, err
	}
	return b.insert(out, fhe.TypeBool), nil
}

func (b *Backend) Select(_ context.Context, cond, ifTrue, ifFalse fhe.Ciphertext) (fhe.Ciphertext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ce, err := b.resolve(cond)
	if err != nil {
		return fhe.Ciphertext{}, err
	}
	if ce.typ != fhe.TypeBool {
		return fhe.Ciphertext{}, fmt.Errorf("%w: select condition must be %s, got %s", fhe.ErrTypeMismatch, fhe.TypeBool, ce.typ)
	}
	te, err := b.resolve(ifTrue)
	if err != nil {
		return fhe.Ciphertext{}, err
	}
	fe, err := b.resolve(ifFalse)
	if err != nil {
		return fhe.Ciphertext{}, err
	}
	if te.typ != fe.typ {
		return fhe.Ciphertext{}, fmt.Errorf("%w: select branches %s vs %s", fhe.ErrTypeMismatch, te.typ, fe.typ)
	}

	// cond * (ifTrue - ifFalse) + ifFalse
	diff, err := b.eval.SubNew(te.ct, fe.ct)
	if err != nil {
		return fhe.Ciphertext{}, fmt.Errorf("%w: select: %v", fhe.ErrBackendFailure, err)
	}
	prod, err := b.eval.MulRelinNew(ce.ct, diff)
	if err != nil {
		return fhe.Ciphertext{}, fmt.Errorf("%w: select: %v", fhe.ErrBackendFailure, err)
	}
	if err := b.eval.Rescale(prod, prod); err != nil {
		return fhe.Ciphertext{}, fmt.Errorf("%w: select: %v", fhe.ErrBackendFailure, err)
	}
	out, err := b.eval.AddNew(prod, fe.ct)
	if err != nil {
		return fhe.Ciphertext{}, fmt.Errorf("%w: select: %v", fhe.ErrBackendFailure, err)
	}
	return b.insert(out, te.typ), nil
}

func (b *Backend) Decrypt(ctx context.Context, ct fhe.Ciphertext, proof []byte) (uint64, error) {
	value, _, err := b.ThresholdDecrypt(ctx, ct, proof)
	return value, err
}

// ThresholdDecrypt reconstructs the scheme key from the custodian quorum
// and decrypts ct. The quorum is re-combined on every call; no complete
// key is retained between disclosures.
func (b *Backend) ThresholdDecrypt(_ context.Context, ct fhe.Ciphertext, proof []byte) (uint64, fhe.CustodianBits, error) {
	if len(proof) == 0 {
		return 0, nil, fmt.Errorf("%w: empty proof", fhe.ErrInvalidProof)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.resolve(ct)
	if err != nil {
		return 0, nil, err
	}

	sk, bits := b.custody.reconstruct()
	dec := rlwe.NewDecryptor(b.params, sk)

	slots := make([]float64, b.params.MaxSlots())
	if err := b.encoder.Decode(dec.DecryptNew(e.ct), slots); err != nil {
		return 0, nil, fmt.Errorf("%w: decode: %v", fhe.ErrBackendFailure, err)
	}

	f := math.Round(slots[0])
	if f < 0 {
		f = 0
	}
	value := uint64(f)
	if e.typ != fhe.TypeUint64 {
		value &= e.typ.MaxValue()
	}

	if b.logger != nil {
		b.logger.Debug("quorum decryption",
			log.Stringer("handle", ct.Handle),
			log.Int("custodians", bits.Len()),
		)
	}
	return value, bits, nil
}

// Custodians returns the size of the custodian set.
func (b *Backend) Custodians() int {
	return b.custody.size()
}

// Len returns the number of ciphertexts held by the backend.
func (b *Backend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.values)
}
