// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

// Package payload defines the journal event types: one binary payload per
// ledger operation, sufficient to reconstruct every component store by
// replay. Events record operations and resulting handles, never plaintext.
package payload

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/luxfi/ids"
)

// Event type IDs
const (
	// RecordCreatedID tags a record creation event
	RecordCreatedID uint8 = iota

	// ValuePutID tags an encrypted field write event
	ValuePutID

	// GrantIssuedID tags a grant issuance event
	GrantIssuedID

	// GrantRevokedID tags a grant revocation event
	GrantRevokedID

	// DisclosureRequestedID tags a threshold disclosure request event
	DisclosureRequestedID

	// VoteCastID tags a threshold vote event
	VoteCastID

	// DisclosedID tags a disclosure event
	DisclosedID

	// RecordAssignedID tags an assignment transition event
	RecordAssignedID

	// RecordCompletedID tags a completion transition event
	RecordCompletedID

	// RecordCancelledID tags a cancellation transition event
	RecordCancelledID

	// TransferIssuedID tags an external payment instruction event
	TransferIssuedID

	// AccumulatedID tags an aggregate accumulation event
	AccumulatedID

	// AggregateCreatedID tags an aggregate subject creation event
	AggregateCreatedID
)

// EventVersion is the current encoding version.
const EventVersion uint8 = 1

// ErrInvalidEvent is returned when an event fails to encode, decode, or
// verify.
var ErrInvalidEvent = errors.New("invalid event")

// Event is one journal entry payload.
type Event interface {
	// Kind returns the event type ID
	Kind() uint8

	// Bytes returns the binary body of the event
	Bytes() []byte

	// Verify verifies the event fields
	Verify() error
}

// Encode wraps an event body in the versioned envelope.
func Encode(e Event) ([]byte, error) {
	if err := e.Verify(); err != nil {
		return nil, err
	}
	body := e.Bytes()
	buf := make([]byte, 2+len(body))
	buf[0] = EventVersion
	buf[1] = e.Kind()
	copy(buf[2:], body)
	return buf, nil
}

// Parse decodes an enveloped event.
func Parse(data []byte) (Event, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: envelope too short", ErrInvalidEvent)
	}
	if data[0] != EventVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidEvent, data[0])
	}

	kind := data[1]
	body := data[2:]

	var (
		e   Event
		err error
	)
	switch kind {
	case RecordCreatedID:
		e, err = ParseRecordCreated(body)
	case ValuePutID:
		e, err = ParseValuePut(body)
	case GrantIssuedID:
		e, err = ParseGrantIssued(body)
	case GrantRevokedID:
		e, err = ParseGrantRevoked(body)
	case DisclosureRequestedID:
		e, err = ParseDisclosureRequested(body)
	case VoteCastID:
		e, err = ParseVoteCast(body)
	case DisclosedID:
		e, err = ParseDisclosed(body)
	case RecordAssignedID:
		e, err = ParseRecordAssigned(body)
	case RecordCompletedID:
		e, err = ParseRecordCompleted(body)
	case RecordCancelledID:
		e, err = ParseRecordCancelled(body)
	case TransferIssuedID:
		e, err = ParseTransferIssued(body)
	case AccumulatedID:
		e, err = ParseAccumulated(body)
	case AggregateCreatedID:
		e, err = ParseAggregateCreated(body)
	default:
		return nil, fmt.Errorf("%w: unknown event kind %d", ErrInvalidEvent, kind)
	}
	if err != nil {
		return nil, err
	}
	if err := e.Verify(); err != nil {
		return nil, err
	}
	return e, nil
}

// putLenPrefixed writes a length-prefixed byte slice at offset and returns
// the next offset.
func putLenPrefixed(buf []byte, offset int, b []byte) int {
	binary.BigEndian.PutUint32(buf[offset:], uint32(len(b))) //nolint:gosec // lengths fit uint32
	offset += 4
	copy(buf[offset:], b)
	return offset + len(b)
}

// readLenPrefixed reads a length-prefixed byte slice at offset and returns
// it with the next offset.
func readLenPrefixed(data []byte, offset int) ([]byte, int, error) {
	if offset+4 > len(data) {
		return nil, 0, fmt.Errorf("%w: missing length prefix", ErrInvalidEvent)
	}
	n := int(binary.BigEndian.Uint32(data[offset:]))
	offset += 4
	if n < 0 || offset+n > len(data) {
		return nil, 0, fmt.Errorf("%w: truncated field", ErrInvalidEvent)
	}
	out := make([]byte, n)
	copy(out, data[offset:offset+n])
	return out, offset + n, nil
}

// putID writes a 32-byte id at offset and returns the next offset.
func putID(buf []byte, offset int, id ids.ID) int {
	copy(buf[offset:], id[:])
	return offset + 32
}

// readID reads a 32-byte id at offset and returns it with the next offset.
func readID(data []byte, offset int) (ids.ID, int, error) {
	if offset+32 > len(data) {
		return ids.ID{}, 0, fmt.Errorf("%w: truncated id", ErrInvalidEvent)
	}
	var id ids.ID
	copy(id[:], data[offset:offset+32])
	return id, offset + 32, nil
}

func readUint64(data []byte, offset int) (uint64, int, error) {
	if offset+8 > len(data) {
		return 0, 0, fmt.Errorf("%w: truncated uint64", ErrInvalidEvent)
	}
	return binary.BigEndian.Uint64(data[offset:]), offset + 8, nil
}

func readUint32(data []byte, offset int) (uint32, int, error) {
	if offset+4 > len(data) {
		return 0, 0, fmt.Errorf("%w: truncated uint32", ErrInvalidEvent)
	}
	return binary.BigEndian.Uint32(data[offset:]), offset + 4, nil
}

func readByte(data []byte, offset int) (byte, int, error) {
	if offset >= len(data) {
		return 0, 0, fmt.Errorf("%w: truncated byte", ErrInvalidEvent)
	}
	return data[offset], offset + 1, nil
}
