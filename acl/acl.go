// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

// Package acl is the access control ledger: the mapping from (principal,
// slot) to an explicit grant. Grants gate every disclosure; the ledger has
// its own lifecycle, independent of the record data it protects.
package acl

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/luxfi/ids"
	log "github.com/luxfi/log"
)

var (
	// ErrUnauthorized is returned when an issuer may not grant or revoke
	// on a slot.
	ErrUnauthorized = errors.New("issuer not authorized")

	// ErrPermissionDenied is returned when a principal holds no sufficient
	// grant for a disclosure.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrUnknownSlot is returned when a slot has no registered owner.
	ErrUnknownSlot = errors.New("unknown slot")
)

var grantIDPrefix = []byte("acl/grant/")

// Kind is the permission class carried by a grant.
type Kind uint8

const (
	// KindNone is the absence of a grant.
	KindNone Kind = iota

	// KindReadOnce permits exactly one disclosure; the grant is consumed
	// atomically with it.
	KindReadOnce

	// KindReadPersistent permits repeated disclosure until revoked.
	KindReadPersistent

	// KindComputeOnly permits use of the value as an evaluator operand but
	// never disclosure.
	KindComputeOnly
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindReadOnce:
		return "read-once"
	case KindReadPersistent:
		return "read-persistent"
	case KindComputeOnly:
		return "compute-only"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Valid returns true if k is a grantable kind.
func (k Kind) Valid() bool {
	return k >= KindReadOnce && k <= KindComputeOnly
}

// Readable returns true if k permits disclosure.
func (k Kind) Readable() bool {
	return k == KindReadOnce || k == KindReadPersistent
}

// AllowsCompute returns true if k permits use as an evaluator operand.
func (k Kind) AllowsCompute() bool {
	return k.Valid()
}

// Grant is one authorization: grantee may act on slot per kind. Delegable
// grants additionally let the grantee issue further grants on the slot.
type Grant struct {
	ID        ids.ID
	Slot      ids.ID
	Grantee   ids.NodeID
	Issuer    ids.NodeID
	Kind      Kind
	Delegable bool
}

// Ledger is the grant table. Every check, consume, grant, and revoke runs
// under one mutex so a revocation and a disclosure racing on the same grant
// observe a total order.
type Ledger struct {
	mu     sync.RWMutex
	owners map[ids.ID]ids.NodeID
	grants map[ids.ID]map[ids.NodeID]Grant
	nonce  uint64
	logger log.Logger
}

// New creates an empty ledger. The logger may be nil.
func New(logger log.Logger) *Ledger {
	return &Ledger{
		owners: make(map[ids.ID]ids.NodeID),
		grants: make(map[ids.ID]map[ids.NodeID]Grant),
		logger: logger,
	}
}

// RegisterOwner records the principal allowed to issue root grants on slot.
// Registering the same owner twice is a no-op; re-registering a different
// owner is rejected.
func (l *Ledger) RegisterOwner(slot ids.ID, owner ids.NodeID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.owners[slot]; ok {
		if existing == owner {
			return nil
		}
		return fmt.Errorf("%w: slot %s is owned by %s", ErrUnauthorized, slot, existing)
	}
	l.owners[slot] = owner
	return nil
}

// Owner returns the registered owner of slot.
func (l *Ledger) Owner(slot ids.ID) (ids.NodeID, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	owner, ok := l.owners[slot]
	if !ok {
		return ids.NodeID{}, fmt.Errorf("%w: %s", ErrUnknownSlot, slot)
	}
	return owner, nil
}

// newGrantID derives the next grant id. The caller must hold the write
// lock.
func (l *Ledger) newGrantID() ids.ID {
	l.nonce++
	buf := make([]byte, len(grantIDPrefix)+8)
	copy(buf, grantIDPrefix)
	binary.BigEndian.PutUint64(buf[len(grantIDPrefix):], l.nonce)
	return ids.ID(sha256.Sum256(buf))
}

// mayIssue reports whether issuer can grant or revoke on slot. The caller
// must hold at least the read lock.
func (l *Ledger) mayIssue(issuer ids.NodeID, slot ids.ID) bool {
	if owner, ok := l.owners[slot]; ok && owner == issuer {
		return true
	}
	if g, ok := l.grants[slot][issuer]; ok && g.Delegable {
		return true
	}
	return false
}

// Grant issues a grant of kind on slot to grantee. The issuer must be the
// slot owner or hold a delegable grant on the slot. Re-issuing an identical
// grant is a no-op returning the existing grant; issuing with a different
// kind or delegation flag replaces the old grant under a fresh id.
func (l *Ledger) Grant(issuer, grantee ids.NodeID, slot ids.ID, kind Kind, delegable bool) (Grant, error) {
	if !kind.Valid() {
		return Grant{}, fmt.Errorf("%w: kind %s is not grantable", ErrUnauthorized, kind)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.owners[slot]; !ok {
		return Grant{}, fmt.Errorf("%w: %s", ErrUnknownSlot, slot)
	}
	if !l.mayIssue(issuer, slot) {
		return Grant{}, fmt.Errorf("%w: %s cannot grant on slot %s", ErrUnauthorized, issuer, slot)
	}

	slotGrants, ok := l.grants[slot]
	if !ok {
		slotGrants = make(map[ids.NodeID]Grant)
		l.grants[slot] = slotGrants
	}

	if existing, ok := slotGrants[grantee]; ok && existing.Kind == kind && existing.Delegable == delegable {
		return existing, nil
	}

	g := Grant{
		ID:        l.newGrantID(),
		Slot:      slot,
		Grantee:   grantee,
		Issuer:    issuer,
		Kind:      kind,
		Delegable: delegable,
	}
	slotGrants[grantee] = g

	if l.logger != nil {
		l.logger.Debug("issued grant",
			log.Stringer("grant", g.ID),
			log.Stringer("slot", slot),
			log.Stringer("grantee", grantee),
			log.Stringer("kind", kind),
		)
	}
	return g, nil
}

// Revoke removes the grantee's grant on slot. Revoking an absent grant by
// an authorized issuer is a no-op. A revoked grant never reappears; only an
// explicit new Grant call restores access.
func (l *Ledger) Revoke(issuer, grantee ids.NodeID, slot ids.ID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.owners[slot]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSlot, slot)
	}

	g, exists := l.grants[slot][grantee]
	if !l.mayIssue(issuer, slot) && (!exists || g.Issuer != issuer) {
		return fmt.Errorf("%w: %s cannot revoke on slot %s", ErrUnauthorized, issuer, slot)
	}
	if !exists {
		return nil
	}

	delete(l.grants[slot], grantee)

	if l.logger != nil {
		l.logger.Debug("revoked grant",
			log.Stringer("grant", g.ID),
			log.Stringer("slot", slot),
			log.Stringer("grantee", grantee),
		)
	}
	return nil
}

// Check returns the kind of the grantee's current grant on slot, or
// KindNone.
func (l *Ledger) Check(grantee ids.NodeID, slot ids.ID) Kind {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.grants[slot][grantee].Kind
}

// ConsumeRead authorizes one disclosure of slot to grantee. The check and,
// for read-once grants, the consumption of the grant happen under one
// critical section: of any number of concurrent disclosures against a
// read-once grant exactly one succeeds, and a revocation that lands first
// blocks all of them.
func (l *Ledger) ConsumeRead(grantee ids.NodeID, slot ids.ID) (Grant, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, ok := l.grants[slot][grantee]
	if !ok {
		return Grant{}, fmt.Errorf("%w: %s holds no grant on slot %s", ErrPermissionDenied, grantee, slot)
	}
	if !g.Kind.Readable() {
		return Grant{}, fmt.Errorf("%w: %s grant on slot %s does not permit disclosure", ErrPermissionDenied, g.Kind, slot)
	}

	if g.Kind == KindReadOnce {
		delete(l.grants[slot], grantee)
	}
	return g, nil
}

// Grants returns the live grants on slot, ordered by grantee.
func (l *Ledger) Grants(slot ids.ID) []Grant {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Grant, 0, len(l.grants[slot]))
	for _, g := range l.grants[slot] {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Grantee.String() < out[j].Grantee.String()
	})
	return out
}
