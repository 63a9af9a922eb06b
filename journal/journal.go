// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

// Package journal persists an append-only, signed event log. Every state
// transition is recorded as an entry and state can be rebuilt by replaying
// the log from the first entry.
package journal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/log"

	"github.com/luxfi/zledger/payload"
)

const entryKeyPrefix = "journal:entry:"

// ErrBadSignature is returned by ReplayVerified for an entry whose
// signature is missing or does not verify.
var ErrBadSignature = errors.New("journal entry signature invalid")

// entryKey renders seq so that lexicographic key order matches numeric
// order under badger's iterator.
func entryKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", entryKeyPrefix, seq))
}

// Entry is a single record in the log. Payload is an encoded event
// envelope and never contains plaintext values.
type Entry struct {
	Seq       uint64
	Time      uint64
	Payload   []byte
	Signature []byte
}

// SigningBytes returns the canonical bytes covered by the signature.
func (e Entry) SigningBytes() []byte {
	b := make([]byte, 16+len(e.Payload))
	binary.BigEndian.PutUint64(b[0:], e.Seq)
	binary.BigEndian.PutUint64(b[8:], e.Time)
	copy(b[16:], e.Payload)
	return b
}

// VerifySignature reports whether the entry carries a valid signature
// from pk.
func (e Entry) VerifySignature(pk *bls.PublicKey) bool {
	sig, err := bls.SignatureFromBytes(e.Signature)
	if err != nil {
		return false
	}
	return bls.Verify(pk, sig, e.SigningBytes())
}

// Journal is a durable append-only event log backed by badger.
type Journal struct {
	db     *badger.DB
	signer Signer
	logger log.Logger
	group  *ObserverGroup

	mu      sync.Mutex
	lastSeq uint64
}

// Open opens (or creates) a journal at path. The signer may be nil, in
// which case entries are appended unsigned.
func Open(path string, signer Signer, logger log.Logger) (*Journal, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	return open(opts, signer, logger)
}

// OpenInMemory opens a journal that lives only for the process lifetime.
func OpenInMemory(signer Signer, logger log.Logger) (*Journal, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts, signer, logger)
}

func open(opts badger.Options, signer Signer, logger log.Logger) (*Journal, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening journal db: %w", err)
	}

	j := &Journal{
		db:     db,
		signer: signer,
		logger: logger,
		group:  NewObserverGroup(logger),
	}
	if err := j.recoverLastSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) recoverLastSeq() error {
	prefix := []byte(entryKeyPrefix)
	return j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				var entry Entry
				if _, err := Codec.Unmarshal(v, &entry); err != nil {
					return fmt.Errorf("decoding journal entry: %w", err)
				}
				if entry.Seq > j.lastSeq {
					j.lastSeq = entry.Seq
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Close releases the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// LastSeq returns the sequence number of the newest entry, or 0 when the
// log is empty.
func (j *Journal) LastSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastSeq
}

// RegisterObserver subscribes an observer to future appends. A required
// observer's failure is surfaced to the Append caller; the entry itself
// is already durable at that point.
func (j *Journal) RegisterObserver(name string, observer Observer, required bool) error {
	return j.group.RegisterObserver(name, observer, required)
}

// DeregisterObserver removes a previously registered observer.
func (j *Journal) DeregisterObserver(name string) {
	j.group.DeregisterObserver(name)
}

// Append encodes ev, assigns the next sequence number, signs and durably
// writes the entry, then notifies observers in registration-name order.
func (j *Journal) Append(ctx context.Context, ev payload.Event) (Entry, error) {
	encoded, err := payload.Encode(ev)
	if err != nil {
		return Entry{}, fmt.Errorf("encoding event: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	entry := Entry{
		Seq:     j.lastSeq + 1,
		Time:    uint64(time.Now().UnixNano()), //nolint:gosec
		Payload: encoded,
	}
	if j.signer != nil {
		sig, err := j.signer.Sign(entry.SigningBytes())
		if err != nil {
			return Entry{}, fmt.Errorf("signing journal entry: %w", err)
		}
		entry.Signature = bls.SignatureToBytes(sig)
	}

	data, err := Codec.Marshal(CodecVersion, &entry)
	if err != nil {
		return Entry{}, fmt.Errorf("encoding journal entry: %w", err)
	}
	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(entry.Seq), data)
	})
	if err != nil {
		return Entry{}, fmt.Errorf("writing journal entry: %w", err)
	}
	j.lastSeq = entry.Seq

	if err := j.group.notify(ctx, entry, ev); err != nil {
		return entry, err
	}
	return entry, nil
}

// Replay walks the log in sequence order, decoding each entry's event and
// handing both to fn. Replay stops at the first error.
func (j *Journal) Replay(ctx context.Context, fn func(Entry, payload.Event) error) error {
	prefix := []byte(entryKeyPrefix)
	return j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var entry Entry
			err := it.Item().Value(func(v []byte) error {
				_, err := Codec.Unmarshal(v, &entry)
				return err
			})
			if err != nil {
				return fmt.Errorf("decoding journal entry: %w", err)
			}
			ev, err := payload.Parse(entry.Payload)
			if err != nil {
				return fmt.Errorf("parsing journal event %d: %w", entry.Seq, err)
			}
			if err := fn(entry, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplayVerified is Replay with authentication: every entry must carry a
// signature that verifies against pk, so a log copied from untrusted
// storage can be trusted before state is rebuilt from it.
func (j *Journal) ReplayVerified(ctx context.Context, pk *bls.PublicKey, fn func(Entry, payload.Event) error) error {
	return j.Replay(ctx, func(entry Entry, ev payload.Event) error {
		if !entry.VerifySignature(pk) {
			return fmt.Errorf("%w: seq %d", ErrBadSignature, entry.Seq)
		}
		return fn(entry, ev)
	})
}
