// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package payload

import (
	"crypto/rand"
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/zledger/acl"
	"github.com/luxfi/zledger/fhe"
)

// generateTestID creates a random ID for testing
func generateTestID() ids.ID {
	var id ids.ID
	rand.Read(id[:])
	return id
}

func testPrincipal() []byte {
	n := ids.GenerateTestNodeID()
	return n.Bytes()
}

func TestRecordCreatedRoundTrip(t *testing.T) {
	creator := testPrincipal()
	fields := []FieldDecl{
		{Name: "reward", Type: uint8(fhe.TypeUint64)},
		{Name: "postal", Type: uint8(fhe.TypeUint32)},
		{Name: "completed", Type: uint8(fhe.TypeBool)},
	}

	e, err := NewRecordCreated(7, creator, fields)
	require.NoError(t, err)

	encoded, err := Encode(e)
	require.NoError(t, err)
	require.Equal(t, EventVersion, encoded[0])
	require.Equal(t, RecordCreatedID, encoded[1])

	parsed, err := Parse(encoded)
	require.NoError(t, err)
	decoded, ok := parsed.(*RecordCreated)
	require.True(t, ok)
	require.Equal(t, uint64(7), decoded.Record)
	require.Equal(t, creator, decoded.Creator)
	require.Equal(t, fields, decoded.Fields)
}

func TestRecordCreatedValidation(t *testing.T) {
	creator := testPrincipal()

	_, err := NewRecordCreated(0, creator, []FieldDecl{{Name: "x", Type: 1}})
	require.ErrorIs(t, err, ErrInvalidEvent)

	_, err = NewRecordCreated(1, nil, []FieldDecl{{Name: "x", Type: 1}})
	require.ErrorIs(t, err, ErrInvalidEvent)

	_, err = NewRecordCreated(1, creator, nil)
	require.ErrorIs(t, err, ErrInvalidEvent)

	_, err = NewRecordCreated(1, creator, []FieldDecl{{Name: "", Type: 1}})
	require.ErrorIs(t, err, ErrInvalidEvent)

	_, err = NewRecordCreated(1, creator, []FieldDecl{{Name: "x", Type: 99}})
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestGrantIssuedRoundTrip(t *testing.T) {
	grantee := testPrincipal()
	issuer := testPrincipal()
	grant := generateTestID()
	slot := generateTestID()

	e, err := NewGrantIssued(grant, slot, grantee, issuer, uint8(acl.KindReadOnce), true)
	require.NoError(t, err)

	encoded, err := Encode(e)
	require.NoError(t, err)

	parsed, err := Parse(encoded)
	require.NoError(t, err)
	decoded, ok := parsed.(*GrantIssued)
	require.True(t, ok)
	require.Equal(t, grant, decoded.Grant)
	require.Equal(t, slot, decoded.Slot)
	require.Equal(t, grantee, decoded.Grantee)
	require.Equal(t, issuer, decoded.Issuer)
	require.Equal(t, uint8(acl.KindReadOnce), decoded.GrantKind)
	require.True(t, decoded.Delegable)

	_, err = NewGrantIssued(grant, slot, grantee, issuer, uint8(acl.KindNone), false)
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestDisclosedValidation(t *testing.T) {
	slot := generateTestID()
	principal := testPrincipal()
	grant := generateTestID()
	request := generateTestID()

	// Single-authority form carries the grant, threshold form the request.
	_, err := NewDisclosed(slot, principal, grant, ids.ID{})
	require.NoError(t, err)
	_, err = NewDisclosed(slot, principal, ids.ID{}, request)
	require.NoError(t, err)

	_, err = NewDisclosed(slot, principal, ids.ID{}, ids.ID{})
	require.ErrorIs(t, err, ErrInvalidEvent)

	e, err := NewDisclosed(slot, principal, grant, request)
	require.NoError(t, err)

	encoded, err := Encode(e)
	require.NoError(t, err)
	parsed, err := Parse(encoded)
	require.NoError(t, err)
	decoded, ok := parsed.(*Disclosed)
	require.True(t, ok)
	require.Equal(t, slot, decoded.Slot)
	require.Equal(t, grant, decoded.Grant)
	require.Equal(t, request, decoded.Request)
}

func TestAccumulatedRoundTrip(t *testing.T) {
	contributor := testPrincipal()

	e, err := NewAccumulated(
		"courier-9",
		contributor,
		generateTestID(),
		generateTestID(),
		uint8(fhe.TypeUint64),
		uint8(fhe.TypeUint64),
	)
	require.NoError(t, err)

	encoded, err := Encode(e)
	require.NoError(t, err)
	parsed, err := Parse(encoded)
	require.NoError(t, err)
	decoded, ok := parsed.(*Accumulated)
	require.True(t, ok)
	require.Equal(t, *e, *decoded)

	// Aggregates are integer sums; a boolean total is rejected.
	_, err = NewAccumulated("c", contributor, generateTestID(), generateTestID(), uint8(fhe.TypeBool), uint8(fhe.TypeUint64))
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestAggregateCreatedRoundTrip(t *testing.T) {
	owner := testPrincipal()

	e, err := NewAggregateCreated(
		"courier-9",
		owner,
		generateTestID(),
		generateTestID(),
		uint8(fhe.TypeUint64),
		uint8(fhe.TypeUint64),
	)
	require.NoError(t, err)

	encoded, err := Encode(e)
	require.NoError(t, err)
	parsed, err := Parse(encoded)
	require.NoError(t, err)
	decoded, ok := parsed.(*AggregateCreated)
	require.True(t, ok)
	require.Equal(t, *e, *decoded)

	_, err = NewAggregateCreated("", owner, generateTestID(), generateTestID(), uint8(fhe.TypeUint64), uint8(fhe.TypeUint64))
	require.ErrorIs(t, err, ErrInvalidEvent)

	_, err = NewAggregateCreated("c", owner, ids.ID{}, generateTestID(), uint8(fhe.TypeUint64), uint8(fhe.TypeUint64))
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestParseEnvelope(t *testing.T) {
	_, err := Parse(nil)
	require.ErrorIs(t, err, ErrInvalidEvent)

	_, err = Parse([]byte{EventVersion})
	require.ErrorIs(t, err, ErrInvalidEvent)

	_, err = Parse([]byte{99, RecordCreatedID})
	require.ErrorIs(t, err, ErrInvalidEvent)

	_, err = Parse([]byte{EventVersion, 200})
	require.ErrorIs(t, err, ErrInvalidEvent)

	// A truncated body fails closed.
	e, err := NewVoteCast(generateTestID(), testPrincipal())
	require.NoError(t, err)
	encoded, err := Encode(e)
	require.NoError(t, err)

	_, err = Parse(encoded[:len(encoded)-3])
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestTransferIssuedRoundTrip(t *testing.T) {
	to := testPrincipal()

	e, err := NewTransferIssued(3, to, 100)
	require.NoError(t, err)

	encoded, err := Encode(e)
	require.NoError(t, err)
	parsed, err := Parse(encoded)
	require.NoError(t, err)
	decoded, ok := parsed.(*TransferIssued)
	require.True(t, ok)
	require.Equal(t, uint64(3), decoded.Record)
	require.Equal(t, to, decoded.To)
	require.Equal(t, uint64(100), decoded.Amount)

	// A zero reward is a valid payment instruction.
	_, err = NewTransferIssued(3, to, 0)
	require.NoError(t, err)
}
