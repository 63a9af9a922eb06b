// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package payload

import (
	"encoding/binary"
	"fmt"

	"github.com/luxfi/ids"

	"github.com/luxfi/zledger/acl"
	"github.com/luxfi/zledger/fhe"
)

// FieldDecl is one schema entry of a created record.
type FieldDecl struct {
	Name string
	Type uint8
}

// RecordCreated records the creation of a record and its static schema.
type RecordCreated struct {
	Record  uint64
	Creator []byte
	Fields  []FieldDecl
}

// NewRecordCreated creates a record creation event.
func NewRecordCreated(record uint64, creator []byte, fields []FieldDecl) (*RecordCreated, error) {
	e := &RecordCreated{
		Record:  record,
		Creator: creator,
		Fields:  fields,
	}
	if err := e.Verify(); err != nil {
		return nil, err
	}
	return e, nil
}

// Kind returns the event type ID
func (*RecordCreated) Kind() uint8 {
	return RecordCreatedID
}

// Verify verifies the event fields
func (e *RecordCreated) Verify() error {
	if e.Record == 0 {
		return fmt.Errorf("%w: zero record id", ErrInvalidEvent)
	}
	if len(e.Creator) == 0 {
		return fmt.Errorf("%w: empty creator", ErrInvalidEvent)
	}
	if len(e.Fields) == 0 {
		return fmt.Errorf("%w: empty schema", ErrInvalidEvent)
	}
	for _, f := range e.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: empty field name", ErrInvalidEvent)
		}
		if !fhe.Type(f.Type).Valid() {
			return fmt.Errorf("%w: field %q declares unknown type %d", ErrInvalidEvent, f.Name, f.Type)
		}
	}
	return nil
}

// Bytes returns the binary body of the event
func (e *RecordCreated) Bytes() []byte {
	size := 8 + 4 + len(e.Creator) + 4
	for _, f := range e.Fields {
		size += 4 + len(f.Name) + 1
	}

	buf := make([]byte, size)
	offset := 0

	binary.BigEndian.PutUint64(buf[offset:], e.Record)
	offset += 8
	offset = putLenPrefixed(buf, offset, e.Creator)

	binary.BigEndian.PutUint32(buf[offset:], uint32(len(e.Fields))) //nolint:gosec // schema sizes fit uint32
	offset += 4
	for _, f := range e.Fields {
		offset = putLenPrefixed(buf, offset, []byte(f.Name))
		buf[offset] = f.Type
		offset++
	}
	return buf
}

// ParseRecordCreated deserializes a record creation event body.
func ParseRecordCreated(data []byte) (*RecordCreated, error) {
	e := &RecordCreated{}
	offset := 0

	var err error
	if e.Record, offset, err = readUint64(data, offset); err != nil {
		return nil, err
	}
	if e.Creator, offset, err = readLenPrefixed(data, offset); err != nil {
		return nil, err
	}

	count, offset, err := readUint32(data, offset)
	if err != nil {
		return nil, err
	}
	e.Fields = make([]FieldDecl, 0, count)
	for i := uint32(0); i < count; i++ {
		name, next, err := readLenPrefixed(data, offset)
		if err != nil {
			return nil, err
		}
		typ, next, err := readByte(data, next)
		if err != nil {
			return nil, err
		}
		e.Fields = append(e.Fields, FieldDecl{Name: string(name), Type: typ})
		offset = next
	}
	return e, nil
}

// ValuePut records an encrypted field write: the fresh handle, never the
// plaintext.
type ValuePut struct {
	Record uint64
	Field  string
	Handle ids.ID
	Type   uint8
}

// NewValuePut creates a field write event.
func NewValuePut(record uint64, field string, handle ids.ID, typ uint8) (*ValuePut, error) {
	e := &ValuePut{
		Record: record,
		Field:  field,
		Handle: handle,
		Type:   typ,
	}
	if err := e.Verify(); err != nil {
		return nil, err
	}
	return e, nil
}

// Kind returns the event type ID
func (*ValuePut) Kind() uint8 {
	return ValuePutID
}

// Verify verifies the event fields
func (e *ValuePut) Verify() error {
	if e.Record == 0 {
		return fmt.Errorf("%w: zero record id", ErrInvalidEvent)
	}
	if e.Field == "" {
		return fmt.Errorf("%w: empty field name", ErrInvalidEvent)
	}
	if e.Handle == (ids.ID{}) {
		return fmt.Errorf("%w: empty handle", ErrInvalidEvent)
	}
	if !fhe.Type(e.Type).Valid() {
		return fmt.Errorf("%w: unknown type %d", ErrInvalidEvent, e.Type)
	}
	return nil
}

// Bytes returns the binary body of the event
func (e *ValuePut) Bytes() []byte {
	buf := make([]byte, 8+4+len(e.Field)+32+1)
	offset := 0

	binary.BigEndian.PutUint64(buf[offset:], e.Record)
	offset += 8
	offset = putLenPrefixed(buf, offset, []byte(e.Field))
	offset = putID(buf, offset, e.Handle)
	buf[offset] = e.Type
	return buf
}

// ParseValuePut deserializes a field write event body.
func ParseValuePut(data []byte) (*ValuePut, error) {
	e := &ValuePut{}
	offset := 0

	var err error
	if e.Record, offset, err = readUint64(data, offset); err != nil {
		return nil, err
	}
	field, offset, err := readLenPrefixed(data, offset)
	if err != nil {
		return nil, err
	}
	e.Field = string(field)
	if e.Handle, offset, err = readID(data, offset); err != nil {
		return nil, err
	}
	if e.Type, _, err = readByte(data, offset); err != nil {
		return nil, err
	}
	return e, nil
}

// GrantIssued records a grant issuance.
type GrantIssued struct {
	Grant     ids.ID
	Slot      ids.ID
	Grantee   []byte
	Issuer    []byte
	GrantKind uint8
	Delegable bool
}

// NewGrantIssued creates a grant issuance event.
func NewGrantIssued(grant, slot ids.ID, grantee, issuer []byte, kind uint8, delegable bool) (*GrantIssued, error) {
	e := &GrantIssued{
		Grant:     grant,
		Slot:      slot,
		Grantee:   grantee,
		Issuer:    issuer,
		GrantKind: kind,
		Delegable: delegable,
	}
	if err := e.Verify(); err != nil {
		return nil, err
	}
	return e, nil
}

// Kind returns the event type ID
func (*GrantIssued) Kind() uint8 {
	return GrantIssuedID
}

// Verify verifies the event fields
func (e *GrantIssued) Verify() error {
	if e.Grant == (ids.ID{}) {
		return fmt.Errorf("%w: empty grant id", ErrInvalidEvent)
	}
	if e.Slot == (ids.ID{}) {
		return fmt.Errorf("%w: empty slot id", ErrInvalidEvent)
	}
	if len(e.Grantee) == 0 {
		return fmt.Errorf("%w: empty grantee", ErrInvalidEvent)
	}
	if len(e.Issuer) == 0 {
		return fmt.Errorf("%w: empty issuer", ErrInvalidEvent)
	}
	if !acl.Kind(e.GrantKind).Valid() {
		return fmt.Errorf("%w: unknown grant kind %d", ErrInvalidEvent, e.GrantKind)
	}
	return nil
}

// Bytes returns the binary body of the event
func (e *GrantIssued) Bytes() []byte {
	buf := make([]byte, 32+32+4+len(e.Grantee)+4+len(e.Issuer)+1+1)
	offset := 0

	offset = putID(buf, offset, e.Grant)
	offset = putID(buf, offset, e.Slot)
	offset = putLenPrefixed(buf, offset, e.Grantee)
	offset = putLenPrefixed(buf, offset, e.Issuer)
	buf[offset] = e.GrantKind
	offset++
	if e.Delegable {
		buf[offset] = 1
	}
	return buf
}

// ParseGrantIssued deserializes a grant issuance event body.
func ParseGrantIssued(data []byte) (*GrantIssued, error) {
	e := &GrantIssued{}
	offset := 0

	var err error
	if e.Grant, offset, err = readID(data, offset); err != nil {
		return nil, err
	}
	if e.Slot, offset, err = readID(data, offset); err != nil {
		return nil, err
	}
	if e.Grantee, offset, err = readLenPrefixed(data, offset); err != nil {
		return nil, err
	}
	if e.Issuer, offset, err = readLenPrefixed(data, offset); err != nil {
		return nil, err
	}
	if e.GrantKind, offset, err = readByte(data, offset); err != nil {
		return nil, err
	}
	delegable, _, err := readByte(data, offset)
	if err != nil {
		return nil, err
	}
	e.Delegable = delegable != 0
	return e, nil
}

// GrantRevoked records a grant revocation.
type GrantRevoked struct {
	Slot    ids.ID
	Grantee []byte
	Issuer  []byte
}

// NewGrantRevoked creates a grant revocation event.
func NewGrantRevoked(slot ids.ID, grantee, issuer []byte) (*GrantRevoked, error) {
	e := &GrantRevoked{
		Slot:    slot,
		Grantee: grantee,
		Issuer:  issuer,
	}
	if err := e.Verify(); err != nil {
		return nil, err
	}
	return e, nil
}

// Kind returns the event type ID
func (*GrantRevoked) Kind() uint8 {
	return GrantRevokedID
}

// Verify verifies the event fields
func (e *GrantRevoked) Verify() error {
	if e.Slot == (ids.ID{}) {
		return fmt.Errorf("%w: empty slot id", ErrInvalidEvent)
	}
	if len(e.Grantee) == 0 {
		return fmt.Errorf("%w: empty grantee", ErrInvalidEvent)
	}
	if len(e.Issuer) == 0 {
		return fmt.Errorf("%w: empty issuer", ErrInvalidEvent)
	}
	return nil
}

// Bytes returns the binary body of the event
func (e *GrantRevoked) Bytes() []byte {
	buf := make([]byte, 32+4+len(e.Grantee)+4+len(e.Issuer))
	offset := 0

	offset = putID(buf, offset, e.Slot)
	offset = putLenPrefixed(buf, offset, e.Grantee)
	putLenPrefixed(buf, offset, e.Issuer)
	return buf
}

// ParseGrantRevoked deserializes a grant revocation event body.
func ParseGrantRevoked(data []byte) (*GrantRevoked, error) {
	e := &GrantRevoked{}
	offset := 0

	var err error
	if e.Slot, offset, err = readID(data, offset); err != nil {
		return nil, err
	}
	if e.Grantee, offset, err = readLenPrefixed(data, offset); err != nil {
		return nil, err
	}
	if e.Issuer, _, err = readLenPrefixed(data, offset); err != nil {
		return nil, err
	}
	return e, nil
}

// DisclosureRequested records the opening of a threshold disclosure vote.
type DisclosureRequested struct {
	Request   ids.ID
	Slot      ids.ID
	Requester []byte
	Threshold uint32
}

// NewDisclosureRequested creates a threshold request event.
func NewDisclosureRequested(request, slot ids.ID, requester []byte, threshold uint32) (*DisclosureRequested, error) {
	e := &DisclosureRequested{
		Request:   request,
		Slot:      slot,
		Requester: requester,
		Threshold: threshold,
	}
	if err := e.Verify(); err != nil {
		return nil, err
	}
	return e, nil
}

// Kind returns the event type ID
func (*DisclosureRequested) Kind() uint8 {
	return DisclosureRequestedID
}

// Verify verifies the event fields
func (e *DisclosureRequested) Verify() error {
	if e.Request == (ids.ID{}) {
		return fmt.Errorf("%w: empty request id", ErrInvalidEvent)
	}
	if e.Slot == (ids.ID{}) {
		return fmt.Errorf("%w: empty slot id", ErrInvalidEvent)
	}
	if len(e.Requester) == 0 {
		return fmt.Errorf("%w: empty requester", ErrInvalidEvent)
	}
	if e.Threshold == 0 {
		return fmt.Errorf("%w: zero threshold", ErrInvalidEvent)
	}
	return nil
}

// Bytes returns the binary body of the event
func (e *DisclosureRequested) Bytes() []byte {
	buf := make([]byte, 32+32+4+len(e.Requester)+4)
	offset := 0

	offset = putID(buf, offset, e.Request)
	offset = putID(buf, offset, e.Slot)
	offset = putLenPrefixed(buf, offset, e.Requester)
	binary.BigEndian.PutUint32(buf[offset:], e.Threshold)
	return buf
}

// ParseDisclosureRequested deserializes a threshold request event body.
func ParseDisclosureRequested(data []byte) (*DisclosureRequested, error) {
	e := &DisclosureRequested{}
	offset := 0

	var err error
	if e.Request, offset, err = readID(data, offset); err != nil {
		return nil, err
	}
	if e.Slot, offset, err = readID(data, offset); err != nil {
		return nil, err
	}
	if e.Requester, offset, err = readLenPrefixed(data, offset); err != nil {
		return nil, err
	}
	if e.Threshold, _, err = readUint32(data, offset); err != nil {
		return nil, err
	}
	return e, nil
}

// VoteCast records one principal's vote on a threshold request.
type VoteCast struct {
	Request ids.ID
	Voter   []byte
}

// NewVoteCast creates a vote event.
func NewVoteCast(request ids.ID, voter []byte) (*VoteCast, error) {
	e := &VoteCast{
		Request: request,
		Voter:   voter,
	}
	if err := e.Verify(); err != nil {
		return nil, err
	}
	return e, nil
}

// Kind returns the event type ID
func (*VoteCast) Kind() uint8 {
	return VoteCastID
}

// Verify verifies the event fields
func (e *VoteCast) Verify() error {
	if e.Request == (ids.ID{}) {
		return fmt.Errorf("%w: empty request id", ErrInvalidEvent)
	}
	if len(e.Voter) == 0 {
		return fmt.Errorf("%w: empty voter", ErrInvalidEvent)
	}
	return nil
}

// Bytes returns the binary body of the event
func (e *VoteCast) Bytes() []byte {
	buf := make([]byte, 32+4+len(e.Voter))
	offset := 0

	offset = putID(buf, offset, e.Request)
	putLenPrefixed(buf, offset, e.Voter)
	return buf
}

// ParseVoteCast deserializes a vote event body.
func ParseVoteCast(data []byte) (*VoteCast, error) {
	e := &VoteCast{}
	offset := 0

	var err error
	if e.Request, offset, err = readID(data, offset); err != nil {
		return nil, err
	}
	if e.Voter, _, err = readLenPrefixed(data, offset); err != nil {
		return nil, err
	}
	return e, nil
}

// Disclosed records that a principal obtained the plaintext behind a slot.
// The plaintext itself is never journaled. Grant is set for single-authority
// disclosures, Request for threshold ones.
type Disclosed struct {
	Slot      ids.ID
	Principal []byte
	Grant     ids.ID
	Request   ids.ID
}

// NewDisclosed creates a disclosure event.
func NewDisclosed(slot ids.ID, principal []byte, grant, request ids.ID) (*Disclosed, error) {
	e := &Disclosed{
		Slot:      slot,
		Principal: principal,
		Grant:     grant,
		Request:   request,
	}
	if err := e.Verify(); err != nil {
		return nil, err
	}
	return e, nil
}

// Kind returns the event type ID
func (*Disclosed) Kind() uint8 {
	return DisclosedID
}

// Verify verifies the event fields
func (e *Disclosed) Verify() error {
	if e.Slot == (ids.ID{}) {
		return fmt.Errorf("%w: empty slot id", ErrInvalidEvent)
	}
	if len(e.Principal) == 0 {
		return fmt.Errorf("%w: empty principal", ErrInvalidEvent)
	}
	if e.Grant == (ids.ID{}) && e.Request == (ids.ID{}) {
		return fmt.Errorf("%w: disclosure carries neither grant nor request", ErrInvalidEvent)
	}
	return nil
}

// Bytes returns the binary body of the event
func (e *Disclosed) Bytes() []byte {
	buf := make([]byte, 32+4+len(e.Principal)+32+32)
	offset := 0

	offset = putID(buf, offset, e.Slot)
	offset = putLenPrefixed(buf, offset, e.Principal)
	offset = putID(buf, offset, e.Grant)
	putID(buf, offset, e.Request)
	return buf
}

// ParseDisclosed deserializes a disclosure event body.
func ParseDisclosed(data []byte) (*Disclosed, error) {
	e := &Disclosed{}
	offset := 0

	var err error
	if e.Slot, offset, err = readID(data, offset); err != nil {
		return nil, err
	}
	if e.Principal, offset, err = readLenPrefixed(data, offset); err != nil {
		return nil, err
	}
	if e.Grant, offset, err = readID(data, offset); err != nil {
		return nil, err
	}
	if e.Request, _, err = readID(data, offset); err != nil {
		return nil, err
	}
	return e, nil
}

// RecordAssigned records the assignment transition of a record.
type RecordAssigned struct {
	Record   uint64
	Assignee []byte
}

// NewRecordAssigned creates an assignment event.
func NewRecordAssigned(record uint64, assignee []byte) (*RecordAssigned, error) {
	e := &RecordAssigned{
		Record:   record,
		Assignee: assignee,
	}
	if err := e.Verify(); err != nil {
		return nil, err
	}
	return e, nil
}

// Kind returns the event type ID
func (*RecordAssigned) Kind() uint8 {
	return RecordAssignedID
}

// Verify verifies the event fields
func (e *RecordAssigned) Verify() error {
	if e.Record == 0 {
		return fmt.Errorf("%w: zero record id", ErrInvalidEvent)
	}
	if len(e.Assignee) == 0 {
		return fmt.Errorf("%w: empty assignee", ErrInvalidEvent)
	}
	return nil
}

// Bytes returns the binary body of the event
func (e *RecordAssigned) Bytes() []byte {
	buf := make([]byte, 8+4+len(e.Assignee))
	binary.BigEndian.PutUint64(buf, e.Record)
	putLenPrefixed(buf, 8, e.Assignee)
	return buf
}

// ParseRecordAssigned deserializes an assignment event body.
func ParseRecordAssigned(data []byte) (*RecordAssigned, error) {
	e := &RecordAssigned{}
	offset := 0

	var err error
	if e.Record, offset, err = readUint64(data, offset); err != nil {
		return nil, err
	}
	if e.Assignee, _, err = readLenPrefixed(data, offset); err != nil {
		return nil, err
	}
	return e, nil
}

// RecordCompleted records the completion transition of a record.
type RecordCompleted struct {
	Record   uint64
	Assignee []byte
}

// NewRecordCompleted creates a completion event.
func NewRecordCompleted(record uint64, assignee []byte) (*RecordCompleted, error) {
	e := &RecordCompleted{
		Record:   record,
		Assignee: assignee,
	}
	if err := e.Verify(); err != nil {
		return nil, err
	}
	return e, nil
}

// Kind returns the event type ID
func (*RecordCompleted) Kind() uint8 {
	return RecordCompletedID
}

// Verify verifies the event fields
func (e *RecordCompleted) Verify() error {
	if e.Record == 0 {
		return fmt.Errorf("%w: zero record id", ErrInvalidEvent)
	}
	if len(e.Assignee) == 0 {
		return fmt.Errorf("%w: empty assignee", ErrInvalidEvent)
	}
	return nil
}

// Bytes returns the binary body of the event
func (e *RecordCompleted) Bytes() []byte {
	buf := make([]byte, 8+4+len(e.Assignee))
	binary.BigEndian.PutUint64(buf, e.Record)
	putLenPrefixed(buf, 8, e.Assignee)
	return buf
}

// ParseRecordCompleted deserializes a completion event body.
func ParseRecordCompleted(data []byte) (*RecordCompleted, error) {
	e := &RecordCompleted{}
	offset := 0

	var err error
	if e.Record, offset, err = readUint64(data, offset); err != nil {
		return nil, err
	}
	if e.Assignee, _, err = readLenPrefixed(data, offset); err != nil {
		return nil, err
	}
	return e, nil
}

// RecordCancelled records the cancellation transition of a record.
type RecordCancelled struct {
	Record uint64
	By     []byte
}

// NewRecordCancelled creates a cancellation event.
func NewRecordCancelled(record uint64, by []byte) (*RecordCancelled, error) {
	e := &RecordCancelled{
		Record: record,
		By:     by,
	}
	if err := e.Verify(); err != nil {
		return nil, err
	}
	return e, nil
}

// Kind returns the event type ID
func (*RecordCancelled) Kind() uint8 {
	return RecordCancelledID
}

// Verify verifies the event fields
func (e *RecordCancelled) Verify() error {
	if e.Record == 0 {
		return fmt.Errorf("%w: zero record id", ErrInvalidEvent)
	}
	if len(e.By) == 0 {
		return fmt.Errorf("%w: empty principal", ErrInvalidEvent)
	}
	return nil
}

// Bytes returns the binary body of the event
func (e *RecordCancelled) Bytes() []byte {
	buf := make([]byte, 8+4+len(e.By))
	binary.BigEndian.PutUint64(buf, e.Record)
	putLenPrefixed(buf, 8, e.By)
	return buf
}

// ParseRecordCancelled deserializes a cancellation event body.
func ParseRecordCancelled(data []byte) (*RecordCancelled, error) {
	e := &RecordCancelled{}
	offset := 0

	var err error
	if e.Record, offset, err = readUint64(data, offset); err != nil {
		return nil, err
	}
	if e.By, _, err = readLenPrefixed(data, offset); err != nil {
		return nil, err
	}
	return e, nil
}

// TransferIssued records the external payment instruction emitted on
// completion. The amount is the already-disclosed reward plaintext.
type TransferIssued struct {
	Record uint64
	To     []byte
	Amount uint64
}

// NewTransferIssued creates a payment instruction event.
func NewTransferIssued(record uint64, to []byte, amount uint64) (*TransferIssued, error) {
	e := &TransferIssued{
		Record: record,
		To:     to,
		Amount: amount,
	}
	if err := e.Verify(); err != nil {
		return nil, err
	}
	return e, nil
}

// Kind returns the event type ID
func (*TransferIssued) Kind() uint8 {
	return TransferIssuedID
}

// Verify verifies the event fields
func (e *TransferIssued) Verify() error {
	if e.Record == 0 {
		return fmt.Errorf("%w: zero record id", ErrInvalidEvent)
	}
	if len(e.To) == 0 {
		return fmt.Errorf("%w: empty recipient", ErrInvalidEvent)
	}
	return nil
}

// Bytes returns the binary body of the event
func (e *TransferIssued) Bytes() []byte {
	buf := make([]byte, 8+4+len(e.To)+8)
	offset := 0

	binary.BigEndian.PutUint64(buf[offset:], e.Record)
	offset += 8
	offset = putLenPrefixed(buf, offset, e.To)
	binary.BigEndian.PutUint64(buf[offset:], e.Amount)
	return buf
}

// ParseTransferIssued deserializes a payment instruction event body.
func ParseTransferIssued(data []byte) (*TransferIssued, error) {
	e := &TransferIssued{}
	offset := 0

	var err error
	if e.Record, offset, err = readUint64(data, offset); err != nil {
		return nil, err
	}
	if e.To, offset, err = readLenPrefixed(data, offset); err != nil {
		return nil, err
	}
	if e.Amount, _, err = readUint64(data, offset); err != nil {
		return nil, err
	}
	return e, nil
}

// Accumulated records one homomorphic accumulation into a subject's
// aggregate: the fresh total and count handles after the addition.
type Accumulated struct {
	Subject     string
	Contributor []byte
	TotalHandle ids.ID
	CountHandle ids.ID
	TotalType   uint8
	CountType   uint8
}

// NewAccumulated creates an accumulation event.
func NewAccumulated(subject string, contributor []byte, totalHandle, countHandle ids.ID, totalType, countType uint8) (*Accumulated, error) {
	e := &Accumulated{
		Subject:     subject,
		Contributor: contributor,
		TotalHandle: totalHandle,
		CountHandle: countHandle,
		TotalType:   totalType,
		CountType:   countType,
	}
	if err := e.Verify(); err != nil {
		return nil, err
	}
	return e, nil
}

// Kind returns the event type ID
func (*Accumulated) Kind() uint8 {
	return AccumulatedID
}

// Verify verifies the event fields
func (e *Accumulated) Verify() error {
	if e.Subject == "" {
		return fmt.Errorf("%w: empty subject", ErrInvalidEvent)
	}
	if len(e.Contributor) == 0 {
		return fmt.Errorf("%w: empty contributor", ErrInvalidEvent)
	}
	if e.TotalHandle == (ids.ID{}) || e.CountHandle == (ids.ID{}) {
		return fmt.Errorf("%w: empty aggregate handle", ErrInvalidEvent)
	}
	if !fhe.Type(e.TotalType).Integer() {
		return fmt.Errorf("%w: total declares non-integer type %d", ErrInvalidEvent, e.TotalType)
	}
	if !fhe.Type(e.CountType).Integer() {
		return fmt.Errorf("%w: count declares non-integer type %d", ErrInvalidEvent, e.CountType)
	}
	return nil
}

// Bytes returns the binary body of the event
func (e *Accumulated) Bytes() []byte {
	buf := make([]byte, 4+len(e.Subject)+4+len(e.Contributor)+32+32+1+1)
	offset := 0

	offset = putLenPrefixed(buf, offset, []byte(e.Subject))
	offset = putLenPrefixed(buf, offset, e.Contributor)
	offset = putID(buf, offset, e.TotalHandle)
	offset = putID(buf, offset, e.CountHandle)
	buf[offset] = e.TotalType
	buf[offset+1] = e.CountType
	return buf
}

// ParseAccumulated deserializes an accumulation event body.
func ParseAccumulated(data []byte) (*Accumulated, error) {
	e := &Accumulated{}
	offset := 0

	subject, offset, err := readLenPrefixed(data, offset)
	if err != nil {
		return nil, err
	}
	e.Subject = string(subject)
	if e.Contributor, offset, err = readLenPrefixed(data, offset); err != nil {
		return nil, err
	}
	if e.TotalHandle, offset, err = readID(data, offset); err != nil {
		return nil, err
	}
	if e.CountHandle, offset, err = readID(data, offset); err != nil {
		return nil, err
	}
	if e.TotalType, offset, err = readByte(data, offset); err != nil {
		return nil, err
	}
	if e.CountType, _, err = readByte(data, offset); err != nil {
		return nil, err
	}
	return e, nil
}

// AggregateCreated records the registration of an aggregate subject with
// its owner and the initial encrypted-zero handles.
type AggregateCreated struct {
	Subject     string
	Owner       []byte
	TotalHandle ids.ID
	CountHandle ids.ID
	TotalType   uint8
	CountType   uint8
}

// NewAggregateCreated creates an aggregate subject creation event.
func NewAggregateCreated(subject string, owner []byte, totalHandle, countHandle ids.ID, totalType, countType uint8) (*AggregateCreated, error) {
	e := &AggregateCreated{
		Subject:     subject,
		Owner:       owner,
		TotalHandle: totalHandle,
		CountHandle: countHandle,
		TotalType:   totalType,
		CountType:   countType,
	}
	if err := e.Verify(); err != nil {
		return nil, err
	}
	return e, nil
}

// Kind returns the event type ID
func (*AggregateCreated) Kind() uint8 {
	return AggregateCreatedID
}

// Verify verifies the event fields
func (e *AggregateCreated) Verify() error {
	if e.Subject == "" {
		return fmt.Errorf("%w: empty subject", ErrInvalidEvent)
	}
	if len(e.Owner) == 0 {
		return fmt.Errorf("%w: empty owner", ErrInvalidEvent)
	}
	if e.TotalHandle == (ids.ID{}) || e.CountHandle == (ids.ID{}) {
		return fmt.Errorf("%w: empty aggregate handle", ErrInvalidEvent)
	}
	if !fhe.Type(e.TotalType).Integer() {
		return fmt.Errorf("%w: total declares non-integer type %d", ErrInvalidEvent, e.TotalType)
	}
	if !fhe.Type(e.CountType).Integer() {
		return fmt.Errorf("%w: count declares non-integer type %d", ErrInvalidEvent, e.CountType)
	}
	return nil
}

// Bytes returns the binary body of the event
func (e *AggregateCreated) Bytes() []byte {
	buf := make([]byte, 4+len(e.Subject)+4+len(e.Owner)+32+32+1+1)
	offset := 0

	offset = putLenPrefixed(buf, offset, []byte(e.Subject))
	offset = putLenPrefixed(buf, offset, e.Owner)
	offset = putID(buf, offset, e.TotalHandle)
	offset = putID(buf, offset, e.CountHandle)
	buf[offset] = e.TotalType
	buf[offset+1] = e.CountType
	return buf
}

// ParseAggregateCreated deserializes an aggregate subject creation event
// body.
func ParseAggregateCreated(data []byte) (*AggregateCreated, error) {
	e := &AggregateCreated{}
	offset := 0

	subject, offset, err := readLenPrefixed(data, offset)
	if err != nil {
		return nil, err
	}
	e.Subject = string(subject)
	if e.Owner, offset, err = readLenPrefixed(data, offset); err != nil {
		return nil, err
	}
	if e.TotalHandle, offset, err = readID(data, offset); err != nil {
		return nil, err
	}
	if e.CountHandle, offset, err = readID(data, offset); err != nil {
		return nil, err
	}
	if e.TotalType, offset, err = readByte(data, offset); err != nil {
		return nil, err
	}
	if e.CountType, _, err = readByte(data, offset); err != nil {
		return nil, err
	}
	return e, nil
}
