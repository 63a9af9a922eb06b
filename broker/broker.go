// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

// Package broker mediates every plaintext disclosure. No other component
// may invoke backend decryption. Single-authority disclosures are gated by
// the access-control ledger; threshold disclosures are gated by a vote
// session over distinct principals.
package broker

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"

	"github.com/luxfi/zledger/acl"
	"github.com/luxfi/zledger/fhe"
)

var (
	// ErrPermissionDenied gates every unauthorized disclosure attempt.
	ErrPermissionDenied = acl.ErrPermissionDenied

	// ErrUnknownRequest is returned when a vote session does not exist or
	// its result has been evicted.
	ErrUnknownRequest = errors.New("unknown disclosure request")

	// ErrInvalidThreshold is returned for a zero vote threshold.
	ErrInvalidThreshold = errors.New("invalid disclosure threshold")

	// ErrInvalidTransition is returned when an operation conflicts with
	// the session state.
	ErrInvalidTransition = errors.New("invalid disclosure transition")

	// ErrAlreadyVoted is returned when a principal votes twice. The vote
	// count is unchanged.
	ErrAlreadyVoted = errors.New("duplicate vote")

	// ErrNotDisclosed is returned when a result is requested before the
	// threshold has been reached.
	ErrNotDisclosed = errors.New("disclosure not yet available")
)

var requestIDPrefix = []byte("broker/request/")

// State of a threshold vote session. Transitions only move forward.
type State uint8

const (
	StateOpen State = iota
	StateSatisfied
	StateDisclosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateSatisfied:
		return "satisfied"
	case StateDisclosed:
		return "disclosed"
	default:
		return "unknown"
	}
}

// Source resolves a data id to its current ciphertext.
type Source interface {
	BySlot(slot ids.ID) (fhe.Ciphertext, error)
}

// SeqSource exposes the last journal sequence number. Authorization proofs
// bind each disclosure to the entry that will record it.
type SeqSource interface {
	LastSeq() uint64
}

// Disclosure is the outcome of a successful disclosure. Exactly one of
// Grant and Request is set, matching the authorization path taken. Seq is
// the journal sequence of the recorded disclosure event; the caller that
// journals the event fills it in.
type Disclosure struct {
	Slot       ids.ID
	Principal  ids.NodeID
	Value      uint64
	Grant      ids.ID
	Request    ids.ID
	Seq        uint64
	Custodians fhe.CustodianBits
}

type session struct {
	slot      ids.ID
	threshold uint32
	state     State
	voters    set.Set[ids.NodeID]
}

// result is a retired session. Retrieval stays restricted to the
// principals that voted before disclosure. A pending result was disclosed
// before a restart; its plaintext is recovered on first retrieval.
type result struct {
	disclosure Disclosure
	voters     set.Set[ids.NodeID]
	threshold  uint32
	pending    bool
}

const defaultRetiredResults = 1024

// Broker gates disclosures against the access-control ledger and runs
// threshold vote sessions. All operations are serialized.
type Broker struct {
	acl     *acl.Ledger
	backend fhe.Backend
	source  Source
	seq     SeqSource
	logger  log.Logger

	mu       sync.Mutex
	sessions map[ids.ID]*session
	bySlot   map[ids.ID]ids.ID
	retired  *Cache[ids.ID, result]
	nonce    uint64
}

// New returns a broker over the given ledger, backend and ciphertext
// source. seq and logger may be nil.
func New(ledger *acl.Ledger, backend fhe.Backend, source Source, seq SeqSource, logger log.Logger) *Broker {
	return &Broker{
		acl:      ledger,
		backend:  backend,
		source:   source,
		seq:      seq,
		logger:   logger,
		sessions: make(map[ids.ID]*session),
		bySlot:   make(map[ids.ID]ids.ID),
		retired:  NewCache[ids.ID, result](defaultRetiredResults),
	}
}

func (b *Broker) newRequestID(slot ids.ID) ids.ID {
	b.nonce++
	buf := make([]byte, len(requestIDPrefix)+8+len(slot))
	offset := copy(buf, requestIDPrefix)
	binary.BigEndian.PutUint64(buf[offset:], b.nonce)
	copy(buf[offset+8:], slot[:])
	return ids.ID(sha256.Sum256(buf))
}

// proof binds a decryption to its authorization artifact and the journal
// sequence the disclosure event will be recorded under.
func (b *Broker) proof(artifact ids.ID) []byte {
	next := uint64(1)
	if b.seq != nil {
		next = b.seq.LastSeq() + 1
	}
	p := make([]byte, len(artifact)+8)
	copy(p, artifact[:])
	binary.BigEndian.PutUint64(p[len(artifact):], next)
	return p
}

func (b *Broker) decrypt(ctx context.Context, ct fhe.Ciphertext, proof []byte) (uint64, fhe.CustodianBits, error) {
	if td, ok := b.backend.(fhe.ThresholdDecryptor); ok {
		return td.ThresholdDecrypt(ctx, ct, proof)
	}
	value, err := b.backend.Decrypt(ctx, ct, proof)
	return value, nil, err
}

// Disclose decrypts the slot's current value for principal. The grant is
// consumed before decryption; a read-once grant spent here never returns,
// even if the backend then fails. A failed backend call is fatal for the
// disclosure and is never retried.
func (b *Broker) Disclose(ctx context.Context, principal ids.NodeID, slot ids.ID) (Disclosure, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ct, err := b.source.BySlot(slot)
	if err != nil {
		return Disclosure{}, err
	}
	grant, err := b.acl.ConsumeRead(principal, slot)
	if err != nil {
		return Disclosure{}, err
	}
	value, custodians, err := b.decrypt(ctx, ct, b.proof(grant.ID))
	if err != nil {
		return Disclosure{}, fmt.Errorf("disclosing %s: %w", slot, err)
	}

	if b.logger != nil {
		b.logger.Debug("disclosed value",
			log.Stringer("slot", slot),
			log.Stringer("principal", principal),
			log.Stringer("grant", grant.ID),
		)
	}
	return Disclosure{
		Slot:       slot,
		Principal:  principal,
		Value:      value,
		Grant:      grant.ID,
		Custodians: custodians,
	}, nil
}

// DiscloseTransient decrypts a ciphertext that lives outside the grant
// table: a computed predicate whose disclosure is authorized by the
// operation that produced it, not by a stored grant. slot names the
// predicate in logs and in the authorization proof.
func (b *Broker) DiscloseTransient(ctx context.Context, principal ids.NodeID, slot ids.ID, ct fhe.Ciphertext) (Disclosure, error) {
	if ct.Empty() {
		return Disclosure{}, fmt.Errorf("%w: empty handle", fhe.ErrInvalidCiphertext)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	value, custodians, err := b.decrypt(ctx, ct, b.proof(slot))
	if err != nil {
		return Disclosure{}, fmt.Errorf("disclosing %s: %w", slot, err)
	}

	if b.logger != nil {
		b.logger.Debug("disclosed transient value",
			log.Stringer("slot", slot),
			log.Stringer("principal", principal),
		)
	}
	return Disclosure{
		Slot:       slot,
		Principal:  principal,
		Value:      value,
		Custodians: custodians,
	}, nil
}

// RequestDisclosure opens a threshold vote session over the slot. A slot
// has at most one in-flight session: re-requesting with the same threshold
// returns the existing session id, a different threshold is rejected.
func (b *Broker) RequestDisclosure(slot ids.ID, threshold uint32) (ids.ID, error) {
	if threshold == 0 {
		return ids.ID{}, fmt.Errorf("%w: threshold must be at least 1", ErrInvalidThreshold)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.source.BySlot(slot); err != nil {
		return ids.ID{}, err
	}
	if requestID, ok := b.bySlot[slot]; ok {
		s := b.sessions[requestID]
		if s.threshold == threshold {
			return requestID, nil
		}
		return ids.ID{}, fmt.Errorf("%w: slot has an open session with threshold %d", ErrInvalidTransition, s.threshold)
	}

	requestID := b.newRequestID(slot)
	b.sessions[requestID] = &session{
		slot:      slot,
		threshold: threshold,
		state:     StateOpen,
		voters:    set.NewSet[ids.NodeID](int(threshold)),
	}
	b.bySlot[slot] = requestID

	if b.logger != nil {
		b.logger.Debug("opened disclosure request",
			log.Stringer("request", requestID),
			log.Stringer("slot", slot),
		)
	}
	return requestID, nil
}

// Vote records one vote per principal. Voters must hold a live grant of
// any kind on the slot. The vote that reaches the threshold triggers the
// disclosure; the returned state is the session state after the vote.
func (b *Broker) Vote(ctx context.Context, voter ids.NodeID, requestID ids.ID) (State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[requestID]
	if !ok {
		if res, ok := b.retired.Get(requestID); ok {
			if res.voters.Contains(voter) {
				return StateDisclosed, fmt.Errorf("%w: %s", ErrAlreadyVoted, voter)
			}
			return StateDisclosed, fmt.Errorf("%w: voting closed", ErrInvalidTransition)
		}
		return StateOpen, ErrUnknownRequest
	}
	if s.voters.Contains(voter) {
		return s.state, fmt.Errorf("%w: %s", ErrAlreadyVoted, voter)
	}
	if s.state != StateOpen {
		return s.state, fmt.Errorf("%w: voting closed", ErrInvalidTransition)
	}
	if b.acl.Check(voter, s.slot) == acl.KindNone {
		return s.state, fmt.Errorf("%w: voter holds no grant on the data id", ErrPermissionDenied)
	}

	s.voters.Add(voter)
	if s.voters.Len() < int(s.threshold) {
		return StateOpen, nil
	}

	s.state = StateSatisfied
	if err := b.discloseSession(ctx, requestID, s); err != nil {
		return StateSatisfied, err
	}
	return StateDisclosed, nil
}

// discloseSession decrypts for a satisfied session and retires it into the
// result cache. The caller holds b.mu.
func (b *Broker) discloseSession(ctx context.Context, requestID ids.ID, s *session) error {
	ct, err := b.source.BySlot(s.slot)
	if err != nil {
		return err
	}
	value, custodians, err := b.decrypt(ctx, ct, b.proof(requestID))
	if err != nil {
		return fmt.Errorf("disclosing %s: %w", s.slot, err)
	}

	b.retired.Put(requestID, result{
		disclosure: Disclosure{
			Slot:       s.slot,
			Value:      value,
			Request:    requestID,
			Custodians: custodians,
		},
		voters:    s.voters,
		threshold: s.threshold,
	})
	delete(b.sessions, requestID)
	delete(b.bySlot, s.slot)

	if b.logger != nil {
		b.logger.Debug("disclosure threshold reached",
			log.Stringer("request", requestID),
			log.Stringer("slot", s.slot),
			log.Int("voters", s.voters.Len()),
		)
	}
	return nil
}

// Result returns the cached disclosure to a principal that voted. A
// session whose automatic disclosure failed is retried here, driven by
// the caller.
func (b *Broker) Result(ctx context.Context, voter ids.NodeID, requestID ids.ID) (Disclosure, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.sessions[requestID]; ok {
		if !s.voters.Contains(voter) {
			return Disclosure{}, fmt.Errorf("%w: result restricted to voters", ErrPermissionDenied)
		}
		switch s.state {
		case StateOpen:
			return Disclosure{}, fmt.Errorf("%w: %d of %d votes", ErrNotDisclosed, s.voters.Len(), s.threshold)
		case StateSatisfied:
			if err := b.discloseSession(ctx, requestID, s); err != nil {
				return Disclosure{}, err
			}
		}
	}

	res, ok := b.retired.Get(requestID)
	if !ok {
		return Disclosure{}, ErrUnknownRequest
	}
	if !res.voters.Contains(voter) {
		return Disclosure{}, fmt.Errorf("%w: result restricted to voters", ErrPermissionDenied)
	}
	if res.pending {
		ct, err := b.source.BySlot(res.disclosure.Slot)
		if err != nil {
			return Disclosure{}, err
		}
		value, custodians, err := b.decrypt(ctx, ct, b.proof(requestID))
		if err != nil {
			return Disclosure{}, fmt.Errorf("disclosing %s: %w", res.disclosure.Slot, err)
		}
		res.disclosure.Value = value
		res.disclosure.Custodians = custodians
		res.pending = false
		b.retired.Put(requestID, res)
	}
	disclosure := res.disclosure
	disclosure.Principal = voter
	return disclosure, nil
}

// RestoreVote reapplies a recorded vote without rechecking grants or
// triggering decryption. A session crossing its threshold here parks in the
// satisfied state until a retrieval drives the disclosure.
func (b *Broker) RestoreVote(voter ids.NodeID, requestID ids.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[requestID]
	if !ok {
		return ErrUnknownRequest
	}
	if s.voters.Contains(voter) {
		return fmt.Errorf("%w: %s", ErrAlreadyVoted, voter)
	}
	if s.state != StateOpen {
		return fmt.Errorf("%w: voting closed", ErrInvalidTransition)
	}

	s.voters.Add(voter)
	if s.voters.Len() >= int(s.threshold) {
		s.state = StateSatisfied
	}
	return nil
}

// RestoreDisclosed retires a satisfied session whose disclosure was already
// recorded. The plaintext is not recovered here; the result is parked as
// pending and decrypted on first retrieval.
func (b *Broker) RestoreDisclosed(requestID ids.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[requestID]
	if !ok {
		return ErrUnknownRequest
	}
	if s.state != StateSatisfied {
		return fmt.Errorf("%w: session is %s", ErrInvalidTransition, s.state)
	}

	b.retired.Put(requestID, result{
		disclosure: Disclosure{
			Slot:    s.slot,
			Request: requestID,
		},
		voters:    s.voters,
		threshold: s.threshold,
		pending:   true,
	})
	delete(b.sessions, requestID)
	delete(b.bySlot, s.slot)
	return nil
}

// Info describes a vote session for introspection.
type Info struct {
	Request   ids.ID
	Slot      ids.ID
	State     State
	Threshold uint32
	Votes     int
}

// Status reports the session's current state. Disclosed sessions remain
// visible while their result is retained.
func (b *Broker) Status(requestID ids.ID) (Info, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.sessions[requestID]; ok {
		return Info{
			Request:   requestID,
			Slot:      s.slot,
			State:     s.state,
			Threshold: s.threshold,
			Votes:     s.voters.Len(),
		}, nil
	}
	if res, ok := b.retired.Get(requestID); ok {
		return Info{
			Request:   requestID,
			Slot:      res.disclosure.Slot,
			State:     StateDisclosed,
			Threshold: res.threshold,
			Votes:     res.voters.Len(),
		}, nil
	}
	return Info{}, ErrUnknownRequest
}
