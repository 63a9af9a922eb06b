// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

// Package lifecycle tracks plaintext record metadata and enforces the
// transition order Created -> Assigned -> Completed, with Cancelled
// reachable from any non-terminal state. Terminal states accept no
// further transitions. Encrypted fields never live here.
package lifecycle

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
)

var (
	// ErrNotFound is returned for an unknown record id.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyAssigned is returned when assigning an assigned record.
	ErrAlreadyAssigned = errors.New("record already assigned")

	// ErrInvalidTransition is returned for any other transition the state
	// machine forbids.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrUnauthorized is returned when the actor may not drive the
	// transition.
	ErrUnauthorized = errors.New("principal not authorized")
)

// State of a record.
type State uint8

const (
	StateCreated State = iota
	StateAssigned
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAssigned:
		return "assigned"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition may leave s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// Record is the plaintext metadata of one record.
type Record struct {
	ID        uint64
	State     State
	Creator   ids.NodeID
	Assignee  ids.NodeID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Machine owns every record's lifecycle. All transitions are serialized;
// callers observe a total order.
type Machine struct {
	mu      sync.RWMutex
	records map[uint64]*Record
	next    uint64
	logger  log.Logger
}

// NewMachine returns an empty machine. The logger may be nil.
func NewMachine(logger log.Logger) *Machine {
	return &Machine{
		records: make(map[uint64]*Record),
		logger:  logger,
	}
}

// Create registers a new record under the next counter-assigned id.
func (m *Machine) Create(creator ids.NodeID) Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.next++
	now := time.Now()
	record := &Record{
		ID:        m.next,
		State:     StateCreated,
		Creator:   creator,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.records[record.ID] = record

	if m.logger != nil {
		m.logger.Debug("created record",
			log.Uint64("record", record.ID),
			log.Stringer("creator", creator),
		)
	}
	return *record
}

// Get returns a copy of the record's metadata.
func (m *Machine) Get(recordID uint64) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[recordID]
	if !ok {
		return Record{}, fmt.Errorf("%w: %d", ErrNotFound, recordID)
	}
	return *record, nil
}

// State returns the record's current state.
func (m *Machine) State(recordID uint64) (State, error) {
	record, err := m.Get(recordID)
	return record.State, err
}

// Assign names the sole principal allowed to complete the record.
func (m *Machine) Assign(recordID uint64, assignee ids.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[recordID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, recordID)
	}
	switch record.State {
	case StateCreated:
	case StateAssigned:
		return fmt.Errorf("%w: record %d", ErrAlreadyAssigned, recordID)
	default:
		return fmt.Errorf("%w: cannot assign record in state %s", ErrInvalidTransition, record.State)
	}

	record.State = StateAssigned
	record.Assignee = assignee
	record.UpdatedAt = time.Now()

	if m.logger != nil {
		m.logger.Debug("assigned record",
			log.Uint64("record", recordID),
			log.Stringer("assignee", assignee),
		)
	}
	return nil
}

// Complete marks an assigned record completed. Only the assignee may
// drive this transition.
func (m *Machine) Complete(recordID uint64, actor ids.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[recordID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, recordID)
	}
	if record.State != StateAssigned {
		return fmt.Errorf("%w: cannot complete record in state %s", ErrInvalidTransition, record.State)
	}
	if actor != record.Assignee {
		return fmt.Errorf("%w: only the assignee may complete record %d", ErrUnauthorized, recordID)
	}

	record.State = StateCompleted
	record.UpdatedAt = time.Now()

	if m.logger != nil {
		m.logger.Debug("completed record",
			log.Uint64("record", recordID),
			log.Stringer("assignee", actor),
		)
	}
	return nil
}

// Cancel moves a non-terminal record to Cancelled. Only the creator may
// cancel.
func (m *Machine) Cancel(recordID uint64, actor ids.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[recordID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, recordID)
	}
	if record.State.Terminal() {
		return fmt.Errorf("%w: cannot cancel record in state %s", ErrInvalidTransition, record.State)
	}
	if actor != record.Creator {
		return fmt.Errorf("%w: only the creator may cancel record %d", ErrUnauthorized, recordID)
	}

	record.State = StateCancelled
	record.UpdatedAt = time.Now()

	if m.logger != nil {
		m.logger.Debug("cancelled record",
			log.Uint64("record", recordID),
		)
	}
	return nil
}

// List returns copies of all records ordered by id.
func (m *Machine) List() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]Record, 0, len(m.records))
	for _, record := range m.records {
		records = append(records, *record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ID < records[j].ID
	})
	return records
}

// Len returns the number of records.
func (m *Machine) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
