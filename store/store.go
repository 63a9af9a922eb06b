// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

// Package store holds the encrypted field values of every record behind a
// single transactional map. Each record carries a static schema fixed at
// creation; reads and writes are checked against it.
package store

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/luxfi/ids"

	"github.com/luxfi/zledger/fhe"
)

var (
	// ErrUnknownField is returned when a field is outside a record's schema.
	ErrUnknownField = errors.New("unknown field")

	// ErrNotFound is returned when a record does not exist or a schema
	// field has no value yet.
	ErrNotFound = errors.New("value not found")

	// ErrAlreadyExists is returned when a record id is created twice.
	ErrAlreadyExists = errors.New("record already exists")
)

var slotIDPrefix = []byte("zledger/slot/")

// SlotID derives the stable identifier of a record field. Grants and
// disclosure sessions are keyed by it; the id never changes when the field
// is overwritten.
func SlotID(record uint64, field string) ids.ID {
	buf := make([]byte, len(slotIDPrefix)+8+len(field))
	copy(buf, slotIDPrefix)
	binary.BigEndian.PutUint64(buf[len(slotIDPrefix):], record)
	copy(buf[len(slotIDPrefix)+8:], field)
	return ids.ID(sha256.Sum256(buf))
}

// Schema declares the encrypted fields of a record and their types.
type Schema map[string]fhe.Type

// Validate returns an error if any declared type is unknown.
func (s Schema) Validate() error {
	for field, typ := range s {
		if field == "" {
			return fmt.Errorf("%w: empty field name", ErrUnknownField)
		}
		if !typ.Valid() {
			return fmt.Errorf("%w: field %q declares unknown type", fhe.ErrTypeMismatch, field)
		}
	}
	return nil
}

// Fields returns the declared field names in ascending order.
func (s Schema) Fields() []string {
	fields := make([]string, 0, len(s))
	for field := range s {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// Clone returns a copy of the schema.
func (s Schema) Clone() Schema {
	c := make(Schema, len(s))
	for field, typ := range s {
		c[field] = typ
	}
	return c
}

type record struct {
	schema Schema
	values map[string]fhe.Ciphertext
}

type slotKey struct {
	record uint64
	field  string
}

// Store is the in-memory encrypted value store. All methods are safe for
// concurrent use.
type Store struct {
	mu      sync.RWMutex
	records map[uint64]*record
	slots   map[ids.ID]slotKey
}

// New creates an empty store.
func New() *Store {
	return &Store{
		records: make(map[uint64]*record),
		slots:   make(map[ids.ID]slotKey),
	}
}

// CreateRecord registers a record under its static schema. The schema cannot
// change afterwards.
func (s *Store) CreateRecord(recordID uint64, schema Schema) error {
	if err := schema.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[recordID]; ok {
		return fmt.Errorf("%w: record %d", ErrAlreadyExists, recordID)
	}

	s.records[recordID] = &record{
		schema: schema.Clone(),
		values: make(map[string]fhe.Ciphertext, len(schema)),
	}
	for field := range schema {
		s.slots[SlotID(recordID, field)] = slotKey{record: recordID, field: field}
	}
	return nil
}

// Put writes ct under (recordID, field). Overwriting an existing value is
// allowed; the ciphertext type must match the schema.
func (s *Store) Put(recordID uint64, field string, ct fhe.Ciphertext) error {
	if ct.Empty() {
		return fmt.Errorf("%w: empty handle for field %q", fhe.ErrInvalidCiphertext, field)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[recordID]
	if !ok {
		return fmt.Errorf("%w: record %d", ErrNotFound, recordID)
	}
	declared, ok := rec.schema[field]
	if !ok {
		return fmt.Errorf("%w: field %q of record %d", ErrUnknownField, field, recordID)
	}
	if ct.Type != declared {
		return fmt.Errorf("%w: field %q declares %s, got %s", fhe.ErrTypeMismatch, field, declared, ct.Type)
	}

	rec.values[field] = ct
	return nil
}

// Get returns the ciphertext under (recordID, field).
func (s *Store) Get(recordID uint64, field string) (fhe.Ciphertext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[recordID]
	if !ok {
		return fhe.Ciphertext{}, fmt.Errorf("%w: record %d", ErrNotFound, recordID)
	}
	if _, ok := rec.schema[field]; !ok {
		return fhe.Ciphertext{}, fmt.Errorf("%w: field %q of record %d", ErrUnknownField, field, recordID)
	}
	ct, ok := rec.values[field]
	if !ok {
		return fhe.Ciphertext{}, fmt.Errorf("%w: field %q of record %d is unset", ErrNotFound, field, recordID)
	}
	return ct, nil
}

// Has returns true if (recordID, field) holds a value.
func (s *Store) Has(recordID uint64, field string) bool {
	_, err := s.Get(recordID, field)
	return err == nil
}

// Schema returns a copy of the record's schema.
func (s *Store) Schema(recordID uint64) (Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[recordID]
	if !ok {
		return nil, fmt.Errorf("%w: record %d", ErrNotFound, recordID)
	}
	return rec.schema.Clone(), nil
}

// Exists returns true if the record has been created.
func (s *Store) Exists(recordID uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.records[recordID]
	return ok
}

// BySlot returns the current ciphertext behind a slot id.
func (s *Store) BySlot(slot ids.ID) (fhe.Ciphertext, error) {
	s.mu.RLock()
	key, ok := s.slots[slot]
	s.mu.RUnlock()

	if !ok {
		return fhe.Ciphertext{}, fmt.Errorf("%w: slot %s", ErrNotFound, slot)
	}
	return s.Get(key.record, key.field)
}

// SlotInfo resolves a slot id back to its record and field.
func (s *Store) SlotInfo(slot ids.ID) (uint64, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.slots[slot]
	return key.record, key.field, ok
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records)
}
