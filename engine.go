// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

// Package zledger is a confidential ledger engine: encrypted record fields,
// grant-gated disclosure, threshold vote sessions, an assignment lifecycle
// driven by encrypted comparisons, and blind aggregation. Values enter
// encrypted, flow through homomorphic operations, and leave only through
// the disclosure broker. Every state change is recorded in an append-only
// journal sufficient to rebuild the engine by replay.
package zledger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/zledger/acl"
	"github.com/luxfi/zledger/aggregate"
	"github.com/luxfi/zledger/broker"
	"github.com/luxfi/zledger/fhe"
	"github.com/luxfi/zledger/journal"
	"github.com/luxfi/zledger/lifecycle"
	"github.com/luxfi/zledger/payload"
	"github.com/luxfi/zledger/store"
	"github.com/luxfi/zledger/transfer"
)

const (
	// FieldCompleted is the reserved encrypted boolean every record carries.
	// Schemas may not declare it; completion flips it obliviously.
	FieldCompleted = "completed"

	// DefaultRoutingField is the encrypted field assignment comparisons run
	// against unless configured otherwise.
	DefaultRoutingField = "postal"

	// DefaultRewardField is the encrypted field disclosed and paid out on
	// completion unless configured otherwise.
	DefaultRewardField = "reward"
)

// ErrReplayDiverged is returned when replaying the journal produces state
// that contradicts a recorded entry.
var ErrReplayDiverged = errors.New("journal replay diverged")

var predicateSlotPrefix = []byte("zledger/predicate/")

// predicateSlot derives the audit id of an assignment predicate. It never
// maps to stored state.
func predicateSlot(recordID uint64, candidate ids.NodeID) ids.ID {
	nb := candidate.Bytes()
	buf := make([]byte, len(predicateSlotPrefix)+8+len(nb))
	offset := copy(buf, predicateSlotPrefix)
	binary.BigEndian.PutUint64(buf[offset:], recordID)
	copy(buf[offset+8:], nb)
	return ids.ID(sha256.Sum256(buf))
}

// multiSource resolves slot ids across the record store and the aggregate
// slots, in that order.
type multiSource struct {
	sources []broker.Source
}

func (m multiSource) BySlot(slot ids.ID) (fhe.Ciphertext, error) {
	var firstErr error
	for _, s := range m.sources {
		ct, err := s.BySlot(slot)
		if err == nil {
			return ct, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = fmt.Errorf("%w: slot %s", store.ErrNotFound, slot)
	}
	return fhe.Ciphertext{}, firstErr
}

// Config carries the engine's dependencies. Backend is required; everything
// else has a working default.
type Config struct {
	// Backend performs all cryptography. Required.
	Backend fhe.Backend

	// Transferer receives payment instructions on completion. Defaults to
	// an in-process ledger.
	Transferer transfer.Transferer

	// Journal persists every state change. Nil disables durability.
	Journal *journal.Journal

	// Signer signs completion and disclosure receipts. Nil issues unsigned
	// receipts.
	Signer journal.Signer

	// Logger may be nil.
	Logger log.Logger

	// RoutingField overrides DefaultRoutingField.
	RoutingField string

	// RewardField overrides DefaultRewardField.
	RewardField string
}

// Engine is the confidential ledger engine. Every exported operation runs
// under one mutex: entry points are serializable, and the journal records
// them in execution order.
type Engine struct {
	backend    fhe.Backend
	evaluator  *fhe.Evaluator
	store      *store.Store
	acl        *acl.Ledger
	machine    *lifecycle.Machine
	aggregates *aggregate.Accumulator
	broker     *broker.Broker
	transfers  transfer.Transferer
	journal    *journal.Journal
	signer     journal.Signer
	logger     log.Logger

	routingField string
	rewardField  string

	// resultSeqs maps a threshold request to the journal sequence of its
	// disclosure event, so receipts derived after the fact still carry it.
	resultSeqs map[ids.ID]uint64

	mu sync.Mutex
}

// New creates an engine from cfg.
func New(cfg Config) (*Engine, error) {
	if cfg.Backend == nil {
		return nil, errors.New("backend is required")
	}

	routingField := cfg.RoutingField
	if routingField == "" {
		routingField = DefaultRoutingField
	}
	rewardField := cfg.RewardField
	if rewardField == "" {
		rewardField = DefaultRewardField
	}
	transfers := cfg.Transferer
	if transfers == nil {
		transfers = transfer.NewLedger(cfg.Logger)
	}

	st := store.New()
	ledger := acl.New(cfg.Logger)
	evaluator := fhe.NewEvaluator(cfg.Backend, cfg.Logger)
	aggregates := aggregate.NewAccumulator(evaluator, cfg.Logger)

	var seq broker.SeqSource
	if cfg.Journal != nil {
		seq = cfg.Journal
	}
	source := multiSource{sources: []broker.Source{st, aggregates}}

	return &Engine{
		backend:      cfg.Backend,
		evaluator:    evaluator,
		store:        st,
		acl:          ledger,
		machine:      lifecycle.NewMachine(cfg.Logger),
		aggregates:   aggregates,
		broker:       broker.New(ledger, cfg.Backend, source, seq, cfg.Logger),
		transfers:    transfers,
		journal:      cfg.Journal,
		signer:       cfg.Signer,
		logger:       cfg.Logger,
		routingField: routingField,
		rewardField:  rewardField,
		resultSeqs:   make(map[ids.ID]uint64),
	}, nil
}

// appendEvent records ev in the journal. Without a journal it is a no-op.
func (e *Engine) appendEvent(ctx context.Context, ev payload.Event) (journal.Entry, error) {
	if e.journal == nil {
		return journal.Entry{}, nil
	}
	entry, err := e.journal.Append(ctx, ev)
	if err != nil {
		return journal.Entry{}, fmt.Errorf("journal append: %w", err)
	}
	return entry, nil
}

// CreateRecord registers a record under a static schema and returns its id.
// The creator owns every field slot and the record additionally carries the
// reserved completion flag, initialized to an encrypted false.
func (e *Engine) CreateRecord(ctx context.Context, creator ids.NodeID, schema store.Schema) (uint64, error) {
	if _, ok := schema[FieldCompleted]; ok {
		return 0, fmt.Errorf("%w: %q is reserved", store.ErrUnknownField, FieldCompleted)
	}
	if err := schema.Validate(); err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	full := schema.Clone()
	full[FieldCompleted] = fhe.TypeBool

	flag, err := fhe.EncryptBool(ctx, e.backend, false)
	if err != nil {
		return 0, err
	}

	rec := e.machine.Create(creator)
	if err := e.store.CreateRecord(rec.ID, full); err != nil {
		return 0, err
	}
	for field := range full {
		if err := e.acl.RegisterOwner(store.SlotID(rec.ID, field), creator); err != nil {
			return 0, err
		}
	}
	if err := e.store.Put(rec.ID, FieldCompleted, flag); err != nil {
		return 0, err
	}

	fields := make([]payload.FieldDecl, 0, len(full))
	for _, field := range full.Fields() {
		fields = append(fields, payload.FieldDecl{Name: field, Type: uint8(full[field])})
	}
	created, err := payload.NewRecordCreated(rec.ID, creator.Bytes(), fields)
	if err != nil {
		return 0, err
	}
	if _, err := e.appendEvent(ctx, created); err != nil {
		return 0, err
	}
	put, err := payload.NewValuePut(rec.ID, FieldCompleted, flag.Handle, uint8(flag.Type))
	if err != nil {
		return 0, err
	}
	if _, err := e.appendEvent(ctx, put); err != nil {
		return 0, err
	}

	if e.logger != nil {
		e.logger.Info("created record",
			log.Uint64("record", rec.ID),
			log.Stringer("creator", creator),
			log.Int("fields", len(schema)),
		)
	}
	return rec.ID, nil
}

// PutValue encrypts value under the field's declared type and stores it.
// Only the slot owner writes; the reserved completion flag is not writable.
func (e *Engine) PutValue(ctx context.Context, actor ids.NodeID, recordID uint64, field string, value uint64) (fhe.Ciphertext, error) {
	if field == FieldCompleted {
		return fhe.Ciphertext{}, fmt.Errorf("%w: %q is reserved", store.ErrUnknownField, FieldCompleted)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	schema, err := e.store.Schema(recordID)
	if err != nil {
		return fhe.Ciphertext{}, err
	}
	typ, ok := schema[field]
	if !ok {
		return fhe.Ciphertext{}, fmt.Errorf("%w: field %q of record %d", store.ErrUnknownField, field, recordID)
	}

	slot := store.SlotID(recordID, field)
	owner, err := e.acl.Owner(slot)
	if err != nil {
		return fhe.Ciphertext{}, err
	}
	if owner != actor {
		return fhe.Ciphertext{}, fmt.Errorf("%w: only the owner writes slot %s", acl.ErrPermissionDenied, slot)
	}

	ct, err := e.backend.EncryptUint(ctx, value, typ)
	if err != nil {
		return fhe.Ciphertext{}, err
	}
	if err := e.store.Put(recordID, field, ct); err != nil {
		return fhe.Ciphertext{}, err
	}

	put, err := payload.NewValuePut(recordID, field, ct.Handle, uint8(ct.Type))
	if err != nil {
		return fhe.Ciphertext{}, err
	}
	if _, err := e.appendEvent(ctx, put); err != nil {
		return fhe.Ciphertext{}, err
	}
	return ct, nil
}

// GetValue returns the ciphertext handle under (recordID, field). The actor
// must own the slot or hold a grant of any kind on it; the handle itself
// reveals nothing.
func (e *Engine) GetValue(actor ids.NodeID, recordID uint64, field string) (fhe.Ciphertext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ct, err := e.store.Get(recordID, field)
	if err != nil {
		return fhe.Ciphertext{}, err
	}
	slot := store.SlotID(recordID, field)
	owner, err := e.acl.Owner(slot)
	if err != nil {
		return fhe.Ciphertext{}, err
	}
	if owner != actor && e.acl.Check(actor, slot) == acl.KindNone {
		return fhe.Ciphertext{}, fmt.Errorf("%w: %s holds no grant on slot %s", acl.ErrPermissionDenied, actor, slot)
	}
	return ct, nil
}

// RecordSchema returns the record's declared schema, including the reserved
// completion flag.
func (e *Engine) RecordSchema(recordID uint64) (store.Schema, error) {
	return e.store.Schema(recordID)
}

// GetRecord returns the record's lifecycle view.
func (e *Engine) GetRecord(recordID uint64) (lifecycle.Record, error) {
	return e.machine.Get(recordID)
}

// ListRecords returns all records ordered by id.
func (e *Engine) ListRecords() []lifecycle.Record {
	return e.machine.List()
}

// Encrypt encrypts value under t. Anyone may encrypt; the result carries no
// read capability.
func (e *Engine) Encrypt(ctx context.Context, value uint64, t fhe.Type) (fhe.Ciphertext, error) {
	return e.backend.EncryptUint(ctx, value, t)
}

// Add returns the encrypted sum of a and b.
func (e *Engine) Add(ctx context.Context, a, b fhe.Ciphertext) (fhe.Ciphertext, error) {
	return e.evaluator.Add(ctx, a, b)
}

// Compare returns an encrypted boolean holding op(a, b).
func (e *Engine) Compare(ctx context.Context, op fhe.CmpOp, a, b fhe.Ciphertext) (fhe.Ciphertext, error) {
	return e.evaluator.Compare(ctx, op, a, b)
}

// Select returns ifTrue or ifFalse per cond, without revealing cond.
func (e *Engine) Select(ctx context.Context, cond, ifTrue, ifFalse fhe.Ciphertext) (fhe.Ciphertext, error) {
	return e.evaluator.Select(ctx, cond, ifTrue, ifFalse)
}

// Grant issues a grant on slot. Compute grants on records that reached a
// terminal state are rejected; read grants stay issuable so settled values
// remain disclosable.
func (e *Engine) Grant(ctx context.Context, issuer, grantee ids.NodeID, slot ids.ID, kind acl.Kind, delegable bool) (acl.Grant, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if kind == acl.KindComputeOnly {
		if recordID, _, ok := e.store.SlotInfo(slot); ok {
			state, err := e.machine.State(recordID)
			if err != nil {
				return acl.Grant{}, err
			}
			if state.Terminal() {
				return acl.Grant{}, fmt.Errorf("%w: record %d is %s", lifecycle.ErrInvalidTransition, recordID, state)
			}
		}
	}

	g, err := e.acl.Grant(issuer, grantee, slot, kind, delegable)
	if err != nil {
		return acl.Grant{}, err
	}

	ev, err := payload.NewGrantIssued(g.ID, slot, grantee.Bytes(), issuer.Bytes(), uint8(kind), delegable)
	if err != nil {
		return acl.Grant{}, err
	}
	if _, err := e.appendEvent(ctx, ev); err != nil {
		return acl.Grant{}, err
	}
	return g, nil
}

// Revoke removes the grantee's grant on slot. Revoking an absent grant is a
// no-op; a revoked grant never returns on its own.
func (e *Engine) Revoke(ctx context.Context, issuer, grantee ids.NodeID, slot ids.ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.acl.Revoke(issuer, grantee, slot); err != nil {
		return err
	}

	ev, err := payload.NewGrantRevoked(slot, grantee.Bytes(), issuer.Bytes())
	if err != nil {
		return err
	}
	if _, err := e.appendEvent(ctx, ev); err != nil {
		return err
	}
	return nil
}

// Check returns the kind of the grantee's current grant on slot.
func (e *Engine) Check(grantee ids.NodeID, slot ids.ID) acl.Kind {
	return e.acl.Check(grantee, slot)
}

// Grants returns the live grants on slot.
func (e *Engine) Grants(slot ids.ID) []acl.Grant {
	return e.acl.Grants(slot)
}

// disclose runs a single-authority disclosure and records it. The caller
// holds e.mu.
func (e *Engine) disclose(ctx context.Context, principal ids.NodeID, slot ids.ID) (broker.Disclosure, journal.Entry, error) {
	d, err := e.broker.Disclose(ctx, principal, slot)
	if err != nil {
		return broker.Disclosure{}, journal.Entry{}, err
	}
	ev, err := payload.NewDisclosed(slot, principal.Bytes(), d.Grant, ids.ID{})
	if err != nil {
		return broker.Disclosure{}, journal.Entry{}, err
	}
	entry, err := e.appendEvent(ctx, ev)
	if err != nil {
		return broker.Disclosure{}, journal.Entry{}, err
	}
	d.Seq = entry.Seq
	return d, entry, nil
}

// Disclose decrypts the slot's current value for principal, consuming a
// read-once grant atomically. A backend failure is fatal for the call and
// does not restore a consumed grant.
func (e *Engine) Disclose(ctx context.Context, principal ids.NodeID, slot ids.ID) (broker.Disclosure, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, _, err := e.disclose(ctx, principal, slot)
	return d, err
}

// RequestDisclosure opens a threshold vote session over slot, or returns
// the in-flight session when the thresholds agree.
func (e *Engine) RequestDisclosure(ctx context.Context, requester ids.NodeID, slot ids.ID, threshold uint32) (ids.ID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	requestID, err := e.broker.RequestDisclosure(slot, threshold)
	if err != nil {
		return ids.ID{}, err
	}

	ev, err := payload.NewDisclosureRequested(requestID, slot, requester.Bytes(), threshold)
	if err != nil {
		return ids.ID{}, err
	}
	if _, err := e.appendEvent(ctx, ev); err != nil {
		return ids.ID{}, err
	}
	return requestID, nil
}

// Vote records the voter's vote. The vote crossing the threshold triggers
// the disclosure; if that disclosure fails the vote still counts and the
// session parks satisfied until a Result call retries it.
func (e *Engine) Vote(ctx context.Context, voter ids.NodeID, requestID ids.ID) (broker.State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	info, infoErr := e.broker.Status(requestID)

	state, voteErr := e.broker.Vote(ctx, voter, requestID)
	if voteErr != nil && voteRejected(voteErr) {
		return state, voteErr
	}

	// The vote counted even when the triggered disclosure failed.
	cast, err := payload.NewVoteCast(requestID, voter.Bytes())
	if err != nil {
		return state, err
	}
	if _, err := e.appendEvent(ctx, cast); err != nil {
		return state, err
	}

	if voteErr == nil && state == broker.StateDisclosed && infoErr == nil {
		ev, err := payload.NewDisclosed(info.Slot, voter.Bytes(), ids.ID{}, requestID)
		if err != nil {
			return state, err
		}
		entry, err := e.appendEvent(ctx, ev)
		if err != nil {
			return state, err
		}
		e.resultSeqs[requestID] = entry.Seq
	}
	return state, voteErr
}

// voteRejected reports whether err means the vote was not counted.
func voteRejected(err error) bool {
	return errors.Is(err, broker.ErrAlreadyVoted) ||
		errors.Is(err, broker.ErrInvalidTransition) ||
		errors.Is(err, broker.ErrPermissionDenied) ||
		errors.Is(err, broker.ErrUnknownRequest)
}

// Result returns the threshold disclosure to a voter. A session whose
// automatic disclosure failed is retried here.
func (e *Engine) Result(ctx context.Context, voter ids.NodeID, requestID ids.ID) (broker.Disclosure, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	info, infoErr := e.broker.Status(requestID)
	wasSatisfied := infoErr == nil && info.State == broker.StateSatisfied

	d, err := e.broker.Result(ctx, voter, requestID)
	if err != nil {
		return broker.Disclosure{}, err
	}

	// First successful disclosure of a parked session is recorded here.
	if wasSatisfied {
		ev, err := payload.NewDisclosed(d.Slot, voter.Bytes(), ids.ID{}, requestID)
		if err != nil {
			return broker.Disclosure{}, err
		}
		entry, err := e.appendEvent(ctx, ev)
		if err != nil {
			return broker.Disclosure{}, err
		}
		e.resultSeqs[requestID] = entry.Seq
	}
	d.Seq = e.resultSeqs[requestID]
	return d, nil
}

// DisclosureStatus reports a vote session's state.
func (e *Engine) DisclosureStatus(requestID ids.ID) (broker.Info, error) {
	return e.broker.Status(requestID)
}

// Assign routes the record to candidate when the encrypted routing field is
// at most candidateValue. Only the boolean outcome is ever disclosed; when
// it is false the record stays open for other candidates and the call
// returns ErrConditionNotMet.
func (e *Engine) Assign(ctx context.Context, candidate ids.NodeID, recordID uint64, candidateValue uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// State is checked before any cryptography so predicates are never
	// evaluated against records that cannot be assigned.
	rec, err := e.machine.Get(recordID)
	if err != nil {
		return err
	}
	switch rec.State {
	case lifecycle.StateCreated:
	case lifecycle.StateAssigned:
		return fmt.Errorf("%w: record %d", lifecycle.ErrAlreadyAssigned, recordID)
	default:
		return fmt.Errorf("%w: cannot assign record in state %s", lifecycle.ErrInvalidTransition, rec.State)
	}

	routingCt, err := e.store.Get(recordID, e.routingField)
	if err != nil {
		return err
	}
	routingSlot := store.SlotID(recordID, e.routingField)
	if e.acl.Check(candidate, routingSlot) == acl.KindNone {
		return fmt.Errorf("%w: %s holds no grant on slot %s", acl.ErrPermissionDenied, candidate, routingSlot)
	}

	candidateCt, err := e.backend.EncryptUint(ctx, candidateValue, routingCt.Type)
	if err != nil {
		return err
	}
	predicate, err := e.evaluator.Compare(ctx, fhe.CmpLE, routingCt, candidateCt)
	if err != nil {
		return err
	}
	d, err := e.broker.DiscloseTransient(ctx, candidate, predicateSlot(recordID, candidate), predicate)
	if err != nil {
		return err
	}
	if d.Value == 0 {
		return fmt.Errorf("%w: record %d does not route to %s", ErrConditionNotMet, recordID, candidate)
	}

	if err := e.machine.Assign(recordID, candidate); err != nil {
		return err
	}
	ev, err := payload.NewRecordAssigned(recordID, candidate.Bytes())
	if err != nil {
		return err
	}
	if _, err := e.appendEvent(ctx, ev); err != nil {
		return err
	}
	return nil
}

// Complete finishes the record. Only the assignee completes: the completion
// flag is flipped through an oblivious select, the reward field is disclosed
// to the assignee under a fresh persistent grant, a payment instruction is
// emitted, and a signed receipt is returned. A disclosure failure leaves the
// record completed with the grant in place, so the reward stays recoverable
// through Disclose.
func (e *Engine) Complete(ctx context.Context, actor ids.NodeID, recordID uint64) (uint64, *Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.machine.Get(recordID)
	if err != nil {
		return 0, nil, err
	}
	if rec.State != lifecycle.StateAssigned {
		return 0, nil, fmt.Errorf("%w: cannot complete record in state %s", lifecycle.ErrInvalidTransition, rec.State)
	}
	if rec.Assignee != actor {
		return 0, nil, fmt.Errorf("%w: only the assignee completes record %d", lifecycle.ErrUnauthorized, recordID)
	}

	current, err := e.store.Get(recordID, FieldCompleted)
	if err != nil {
		return 0, nil, err
	}
	trueCt, err := fhe.EncryptBool(ctx, e.backend, true)
	if err != nil {
		return 0, nil, err
	}
	flag, err := e.evaluator.Select(ctx, trueCt, trueCt, current)
	if err != nil {
		return 0, nil, err
	}
	if err := e.store.Put(recordID, FieldCompleted, flag); err != nil {
		return 0, nil, err
	}
	if err := e.machine.Complete(recordID, actor); err != nil {
		return 0, nil, err
	}

	put, err := payload.NewValuePut(recordID, FieldCompleted, flag.Handle, uint8(flag.Type))
	if err != nil {
		return 0, nil, err
	}
	if _, err := e.appendEvent(ctx, put); err != nil {
		return 0, nil, err
	}
	completed, err := payload.NewRecordCompleted(recordID, actor.Bytes())
	if err != nil {
		return 0, nil, err
	}
	completedEntry, err := e.appendEvent(ctx, completed)
	if err != nil {
		return 0, nil, err
	}

	// Records without a set reward field complete without a payout.
	if _, err := e.store.Get(recordID, e.rewardField); err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrUnknownField) {
			receipt, rerr := e.issueReceipt(recordID, actor, 0, completedEntry.Seq, nil)
			return 0, receipt, rerr
		}
		return 0, nil, err
	}

	rewardSlot := store.SlotID(recordID, e.rewardField)
	g, err := e.acl.Grant(rec.Creator, actor, rewardSlot, acl.KindReadPersistent, false)
	if err != nil {
		return 0, nil, err
	}
	issued, err := payload.NewGrantIssued(g.ID, rewardSlot, actor.Bytes(), rec.Creator.Bytes(), uint8(g.Kind), g.Delegable)
	if err != nil {
		return 0, nil, err
	}
	if _, err := e.appendEvent(ctx, issued); err != nil {
		return 0, nil, err
	}

	d, disclosedEntry, err := e.disclose(ctx, actor, rewardSlot)
	if err != nil {
		return 0, nil, err
	}

	if err := e.transfers.Transfer(ctx, actor, d.Value); err != nil {
		return 0, nil, err
	}
	paid, err := payload.NewTransferIssued(recordID, actor.Bytes(), d.Value)
	if err != nil {
		return 0, nil, err
	}
	if _, err := e.appendEvent(ctx, paid); err != nil {
		return 0, nil, err
	}

	if e.logger != nil {
		e.logger.Info("completed record",
			log.Uint64("record", recordID),
			log.Stringer("assignee", actor),
		)
	}
	receipt, err := e.issueReceipt(recordID, actor, d.Value, disclosedEntry.Seq, d.Custodians)
	return d.Value, receipt, err
}

// issueReceipt builds and, when a signer is configured, signs a completion
// receipt.
func (e *Engine) issueReceipt(recordID uint64, assignee ids.NodeID, reward, seq uint64, custodians []byte) (*Receipt, error) {
	unsigned, err := NewUnsignedReceipt(recordID, assignee.Bytes(), reward, seq, custodians)
	if err != nil {
		return nil, err
	}

	var sig []byte
	if e.signer != nil {
		s, err := e.signer.Sign(unsigned.Bytes())
		if err != nil {
			return nil, err
		}
		sig = bls.SignatureToBytes(s)
	}
	return NewReceipt(unsigned, sig)
}

// AttestDisclosure derives a signed receipt from a disclosure outcome so an
// off-engine party can later prove what was revealed to whom. The receipt
// only restates d; it opens no new disclosure path.
func (e *Engine) AttestDisclosure(d broker.Disclosure) (*DisclosureReceipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	unsigned, err := NewUnsignedDisclosureReceipt(d.Slot, d.Principal.Bytes(), d.Value, d.Seq, d.Custodians)
	if err != nil {
		return nil, err
	}

	var sig []byte
	if e.signer != nil {
		s, err := e.signer.Sign(unsigned.Bytes())
		if err != nil {
			return nil, err
		}
		sig = bls.SignatureToBytes(s)
	}
	return NewDisclosureReceipt(unsigned, sig)
}

// Cancel abandons the record. Only the creator cancels, and only before a
// terminal state.
func (e *Engine) Cancel(ctx context.Context, actor ids.NodeID, recordID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.machine.Cancel(recordID, actor); err != nil {
		return err
	}
	ev, err := payload.NewRecordCancelled(recordID, actor.Bytes())
	if err != nil {
		return err
	}
	if _, err := e.appendEvent(ctx, ev); err != nil {
		return err
	}
	return nil
}

// CreateAggregate registers an aggregation subject owned by owner. Totals
// start at an encrypted zero of valueType.
func (e *Engine) CreateAggregate(ctx context.Context, owner ids.NodeID, subject string, valueType fhe.Type) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.aggregates.CreateSubject(ctx, subject, owner, valueType); err != nil {
		return err
	}
	if err := e.acl.RegisterOwner(aggregate.TotalSlot(subject), owner); err != nil {
		return err
	}
	if err := e.acl.RegisterOwner(aggregate.CountSlot(subject), owner); err != nil {
		return err
	}

	total, count, err := e.aggregates.Handles(subject)
	if err != nil {
		return err
	}
	ev, err := payload.NewAggregateCreated(subject, owner.Bytes(), total.Handle, count.Handle, uint8(total.Type), uint8(count.Type))
	if err != nil {
		return err
	}
	if _, err := e.appendEvent(ctx, ev); err != nil {
		return err
	}
	return nil
}

// Accumulate encrypts value and folds it into the subject's total, bumping
// the encrypted count by one. Contributions leak nothing; anyone may
// contribute.
func (e *Engine) Accumulate(ctx context.Context, contributor ids.NodeID, subject string, value uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	total, _, err := e.aggregates.Handles(subject)
	if err != nil {
		return err
	}
	ct, err := e.backend.EncryptUint(ctx, value, total.Type)
	if err != nil {
		return err
	}
	newTotal, newCount, err := e.aggregates.Accumulate(ctx, subject, ct)
	if err != nil {
		return err
	}

	ev, err := payload.NewAccumulated(subject, contributor.Bytes(), newTotal.Handle, newCount.Handle, uint8(newTotal.Type), uint8(newCount.Type))
	if err != nil {
		return err
	}
	if _, err := e.appendEvent(ctx, ev); err != nil {
		return err
	}
	return nil
}

// Average discloses the subject's total and count to principal and returns
// their integer quotient. Both slots need their own grant. A subject with
// no contributions averages to zero.
func (e *Engine) Average(ctx context.Context, principal ids.NodeID, subject string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, _, err := e.aggregates.Handles(subject); err != nil {
		return 0, err
	}

	totalD, _, err := e.disclose(ctx, principal, aggregate.TotalSlot(subject))
	if err != nil {
		return 0, err
	}
	countD, _, err := e.disclose(ctx, principal, aggregate.CountSlot(subject))
	if err != nil {
		return 0, err
	}

	if countD.Value == 0 {
		return 0, nil
	}
	return totalD.Value / countD.Value, nil
}

// AggregateHandles returns the subject's current total and count handles.
func (e *Engine) AggregateHandles(subject string) (fhe.Ciphertext, fhe.Ciphertext, error) {
	return e.aggregates.Handles(subject)
}

// Subjects lists registered aggregation subjects.
func (e *Engine) Subjects() []string {
	return e.aggregates.Subjects()
}

// Balance reports the engine's view of payouts when the configured
// transferer is the in-process ledger.
func (e *Engine) Balance(to ids.NodeID) (uint64, bool) {
	ledger, ok := e.transfers.(*transfer.Ledger)
	if !ok {
		return 0, false
	}
	return ledger.Balance(to).Uint64(), true
}

// Replay applies the journal onto a freshly constructed engine. No
// cryptography runs during replay: ciphertext handles, grants, sessions,
// and lifecycle states are restored exactly as recorded, and payment
// instructions are not re-emitted. Threshold results disclosed before the
// restart are recovered lazily on first retrieval.
func (e *Engine) Replay(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.journal == nil {
		return nil
	}
	return e.journal.Replay(ctx, e.apply)
}

func (e *Engine) apply(entry journal.Entry, ev payload.Event) error {
	fail := func(err error) error {
		return fmt.Errorf("%w: entry %d: %s", ErrReplayDiverged, entry.Seq, err)
	}

	switch ev := ev.(type) {
	case *payload.RecordCreated:
		creator, err := ids.ToNodeID(ev.Creator)
		if err != nil {
			return fail(err)
		}
		schema := make(store.Schema, len(ev.Fields))
		for _, f := range ev.Fields {
			schema[f.Name] = fhe.Type(f.Type)
		}
		rec := e.machine.Create(creator)
		if rec.ID != ev.Record {
			return fail(fmt.Errorf("expected record %d, created %d", ev.Record, rec.ID))
		}
		if err := e.store.CreateRecord(ev.Record, schema); err != nil {
			return fail(err)
		}
		for field := range schema {
			if err := e.acl.RegisterOwner(store.SlotID(ev.Record, field), creator); err != nil {
				return fail(err)
			}
		}

	case *payload.ValuePut:
		ct := fhe.Ciphertext{Handle: ev.Handle, Type: fhe.Type(ev.Type)}
		if err := e.store.Put(ev.Record, ev.Field, ct); err != nil {
			return fail(err)
		}

	case *payload.GrantIssued:
		issuer, err := ids.ToNodeID(ev.Issuer)
		if err != nil {
			return fail(err)
		}
		grantee, err := ids.ToNodeID(ev.Grantee)
		if err != nil {
			return fail(err)
		}
		g, err := e.acl.Grant(issuer, grantee, ev.Slot, acl.Kind(ev.GrantKind), ev.Delegable)
		if err != nil {
			return fail(err)
		}
		if g.ID != ev.Grant {
			return fail(fmt.Errorf("expected grant %s, issued %s", ev.Grant, g.ID))
		}

	case *payload.GrantRevoked:
		issuer, err := ids.ToNodeID(ev.Issuer)
		if err != nil {
			return fail(err)
		}
		grantee, err := ids.ToNodeID(ev.Grantee)
		if err != nil {
			return fail(err)
		}
		if err := e.acl.Revoke(issuer, grantee, ev.Slot); err != nil {
			return fail(err)
		}

	case *payload.DisclosureRequested:
		requestID, err := e.broker.RequestDisclosure(ev.Slot, ev.Threshold)
		if err != nil {
			return fail(err)
		}
		if requestID != ev.Request {
			return fail(fmt.Errorf("expected request %s, opened %s", ev.Request, requestID))
		}

	case *payload.VoteCast:
		voter, err := ids.ToNodeID(ev.Voter)
		if err != nil {
			return fail(err)
		}
		if err := e.broker.RestoreVote(voter, ev.Request); err != nil {
			return fail(err)
		}

	case *payload.Disclosed:
		if ev.Request != (ids.ID{}) {
			if err := e.broker.RestoreDisclosed(ev.Request); err != nil {
				return fail(err)
			}
			e.resultSeqs[ev.Request] = entry.Seq
			return nil
		}
		principal, err := ids.ToNodeID(ev.Principal)
		if err != nil {
			return fail(err)
		}
		if _, err := e.acl.ConsumeRead(principal, ev.Slot); err != nil {
			return fail(err)
		}

	case *payload.RecordAssigned:
		assignee, err := ids.ToNodeID(ev.Assignee)
		if err != nil {
			return fail(err)
		}
		if err := e.machine.Assign(ev.Record, assignee); err != nil {
			return fail(err)
		}

	case *payload.RecordCompleted:
		assignee, err := ids.ToNodeID(ev.Assignee)
		if err != nil {
			return fail(err)
		}
		if err := e.machine.Complete(ev.Record, assignee); err != nil {
			return fail(err)
		}

	case *payload.RecordCancelled:
		by, err := ids.ToNodeID(ev.By)
		if err != nil {
			return fail(err)
		}
		if err := e.machine.Cancel(ev.Record, by); err != nil {
			return fail(err)
		}

	case *payload.TransferIssued:
		// External payment instructions are not re-emitted.

	case *payload.AggregateCreated:
		owner, err := ids.ToNodeID(ev.Owner)
		if err != nil {
			return fail(err)
		}
		total := fhe.Ciphertext{Handle: ev.TotalHandle, Type: fhe.Type(ev.TotalType)}
		count := fhe.Ciphertext{Handle: ev.CountHandle, Type: fhe.Type(ev.CountType)}
		if err := e.aggregates.RestoreSubject(ev.Subject, owner, total, count); err != nil {
			return fail(err)
		}
		if err := e.acl.RegisterOwner(aggregate.TotalSlot(ev.Subject), owner); err != nil {
			return fail(err)
		}
		if err := e.acl.RegisterOwner(aggregate.CountSlot(ev.Subject), owner); err != nil {
			return fail(err)
		}

	case *payload.Accumulated:
		total := fhe.Ciphertext{Handle: ev.TotalHandle, Type: fhe.Type(ev.TotalType)}
		count := fhe.Ciphertext{Handle: ev.CountHandle, Type: fhe.Type(ev.CountType)}
		if err := e.aggregates.RestoreHandles(ev.Subject, total, count); err != nil {
			return fail(err)
		}

	default:
		return fail(fmt.Errorf("unhandled event kind %d", ev.Kind()))
	}
	return nil
}
