// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

// Package aggregate maintains per-subject encrypted running totals and
// counts. Accumulators only ever grow: the single mutation is homomorphic
// addition, and no intermediate sum is ever exposed. Disclosure of totals
// and counts happens elsewhere, gated per slot.
package aggregate

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/zledger/fhe"
)

var (
	// ErrUnknownSubject is returned when a subject was never created.
	ErrUnknownSubject = errors.New("unknown subject")

	// ErrAlreadyExists is returned when a subject is created twice.
	ErrAlreadyExists = errors.New("subject already exists")
)

var slotPrefix = []byte("aggregate/slot/")

const (
	slotTagTotal uint8 = iota
	slotTagCount
)

func subjectSlot(subject string, tag uint8) ids.ID {
	buf := make([]byte, len(slotPrefix)+4+len(subject)+1)
	offset := copy(buf, slotPrefix)
	binary.BigEndian.PutUint32(buf[offset:], uint32(len(subject))) //nolint:gosec
	offset += 4
	offset += copy(buf[offset:], subject)
	buf[offset] = tag
	return ids.ID(sha256.Sum256(buf))
}

// TotalSlot returns the stable slot id of a subject's encrypted total.
func TotalSlot(subject string) ids.ID {
	return subjectSlot(subject, slotTagTotal)
}

// CountSlot returns the stable slot id of a subject's encrypted count.
func CountSlot(subject string) ids.ID {
	return subjectSlot(subject, slotTagCount)
}

type counter struct {
	owner ids.NodeID
	total fhe.Ciphertext
	count fhe.Ciphertext
}

type slotRef struct {
	subject string
	tag     uint8
}

// Accumulator tracks encrypted totals and counts per subject.
type Accumulator struct {
	evaluator *fhe.Evaluator
	logger    log.Logger

	mu       sync.Mutex
	subjects map[string]*counter
	slots    map[ids.ID]slotRef
}

// NewAccumulator returns an empty accumulator. The logger may be nil.
func NewAccumulator(evaluator *fhe.Evaluator, logger log.Logger) *Accumulator {
	return &Accumulator{
		evaluator: evaluator,
		logger:    logger,
		subjects:  make(map[string]*counter),
		slots:     make(map[ids.ID]slotRef),
	}
}

// CreateSubject registers a subject with an owner controlling grants over
// its slots. Total starts as an encrypted zero of valueType, count as an
// encrypted zero count.
func (a *Accumulator) CreateSubject(ctx context.Context, subject string, owner ids.NodeID, valueType fhe.Type) error {
	if subject == "" {
		return fmt.Errorf("%w: empty subject", ErrUnknownSubject)
	}
	if !valueType.Integer() {
		return fmt.Errorf("%w: totals require an integer type, got %s", fhe.ErrTypeMismatch, valueType)
	}

	backend := a.evaluator.Backend()
	total, err := backend.EncryptUint(ctx, 0, valueType)
	if err != nil {
		return err
	}
	count, err := backend.EncryptUint(ctx, 0, fhe.TypeUint64)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.subjects[subject]; ok {
		return fmt.Errorf("%w: %q", ErrAlreadyExists, subject)
	}
	a.subjects[subject] = &counter{
		owner: owner,
		total: total,
		count: count,
	}
	a.slots[TotalSlot(subject)] = slotRef{subject: subject, tag: slotTagTotal}
	a.slots[CountSlot(subject)] = slotRef{subject: subject, tag: slotTagCount}

	if a.logger != nil {
		a.logger.Debug("created aggregate subject",
			log.String("subject", subject),
			log.Stringer("owner", owner),
		)
	}
	return nil
}

// Accumulate adds value to the subject's total and one to its count,
// returning the new handles. The value's type must match the total's.
func (a *Accumulator) Accumulate(ctx context.Context, subject string, value fhe.Ciphertext) (fhe.Ciphertext, fhe.Ciphertext, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, ok := a.subjects[subject]
	if !ok {
		return fhe.Ciphertext{}, fhe.Ciphertext{}, fmt.Errorf("%w: %q", ErrUnknownSubject, subject)
	}

	total, err := a.evaluator.Add(ctx, c.total, value)
	if err != nil {
		return fhe.Ciphertext{}, fhe.Ciphertext{}, err
	}
	one, err := a.evaluator.Backend().EncryptUint(ctx, 1, c.count.Type)
	if err != nil {
		return fhe.Ciphertext{}, fhe.Ciphertext{}, err
	}
	count, err := a.evaluator.Add(ctx, c.count, one)
	if err != nil {
		return fhe.Ciphertext{}, fhe.Ciphertext{}, err
	}

	c.total = total
	c.count = count
	return total, count, nil
}

// RestoreSubject reinstalls a subject from recorded state without touching
// the backend.
func (a *Accumulator) RestoreSubject(subject string, owner ids.NodeID, total, count fhe.Ciphertext) error {
	if subject == "" {
		return fmt.Errorf("%w: empty subject", ErrUnknownSubject)
	}
	if total.Empty() || count.Empty() {
		return fmt.Errorf("%w: empty aggregate handle", fhe.ErrInvalidCiphertext)
	}
	if !total.Type.Integer() || !count.Type.Integer() {
		return fmt.Errorf("%w: totals require an integer type", fhe.ErrTypeMismatch)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.subjects[subject]; ok {
		return fmt.Errorf("%w: %q", ErrAlreadyExists, subject)
	}
	a.subjects[subject] = &counter{
		owner: owner,
		total: total,
		count: count,
	}
	a.slots[TotalSlot(subject)] = slotRef{subject: subject, tag: slotTagTotal}
	a.slots[CountSlot(subject)] = slotRef{subject: subject, tag: slotTagCount}
	return nil
}

// RestoreHandles replaces the subject's current handles with recorded ones.
// Types are pinned at creation and may not drift.
func (a *Accumulator) RestoreHandles(subject string, total, count fhe.Ciphertext) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, ok := a.subjects[subject]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSubject, subject)
	}
	if total.Empty() || count.Empty() {
		return fmt.Errorf("%w: empty aggregate handle", fhe.ErrInvalidCiphertext)
	}
	if total.Type != c.total.Type || count.Type != c.count.Type {
		return fmt.Errorf("%w: restored handles declare %s and %s, subject holds %s and %s",
			fhe.ErrTypeMismatch, total.Type, count.Type, c.total.Type, c.count.Type)
	}
	c.total = total
	c.count = count
	return nil
}

// Owner returns the principal controlling grants over the subject's slots.
func (a *Accumulator) Owner(subject string) (ids.NodeID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, ok := a.subjects[subject]
	if !ok {
		return ids.NodeID{}, fmt.Errorf("%w: %q", ErrUnknownSubject, subject)
	}
	return c.owner, nil
}

// Handles returns the current total and count ciphertexts.
func (a *Accumulator) Handles(subject string) (fhe.Ciphertext, fhe.Ciphertext, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, ok := a.subjects[subject]
	if !ok {
		return fhe.Ciphertext{}, fhe.Ciphertext{}, fmt.Errorf("%w: %q", ErrUnknownSubject, subject)
	}
	return c.total, c.count, nil
}

// BySlot resolves an aggregate slot to its current ciphertext, so the
// disclosure path can serve totals and counts like any other value.
func (a *Accumulator) BySlot(slot ids.ID) (fhe.Ciphertext, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ref, ok := a.slots[slot]
	if !ok {
		return fhe.Ciphertext{}, fmt.Errorf("%w: slot %s", ErrUnknownSubject, slot)
	}
	c := a.subjects[ref.subject]
	if ref.tag == slotTagCount {
		return c.count, nil
	}
	return c.total, nil
}

// Subjects lists registered subjects in lexical order.
func (a *Accumulator) Subjects() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	subjects := make([]string, 0, len(a.subjects))
	for subject := range a.subjects {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)
	return subjects
}
