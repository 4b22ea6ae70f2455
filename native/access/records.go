package access

import (
	"fmt"
	"strings"

	"lukechampine.com/blake3"
)

// AddRecord stores a protected record pointer on behalf of a registered
// doctor. The CID is fingerprinted with blake3 so events and logs can refer
// to the record without leaking the pointer itself.
func (e *Engine) AddRecord(caller, patient [20]byte, cid string) (*Record, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if !e.directory.IsDoctor(caller) {
		return nil, fmt.Errorf("%w: only registered doctors can add records", ErrUnauthorized)
	}
	if !e.directory.IsPatient(patient) {
		return nil, fmt.Errorf("%w: patient not registered", ErrInvalidInput)
	}
	cid = strings.TrimSpace(cid)
	if cid == "" {
		return nil, fmt.Errorf("%w: empty record pointer", ErrInvalidInput)
	}
	id, err := e.state.NextRecordID()
	if err != nil {
		return nil, err
	}
	record := &Record{
		ID:        id,
		Patient:   patient,
		Doctor:    caller,
		CID:       cid,
		Digest:    blake3.Sum256([]byte(cid)),
		CreatedAt: e.nowFn(),
	}
	if err := e.state.RecordPut(record); err != nil {
		return nil, err
	}
	e.emit(NewRecordAddedEvent(record))
	return record.Clone(), nil
}

// GetRecordCID releases the protected pointer. Eligible callers are the
// record's patient, the doctor who stored it, or the administrator citing a
// request id. The cited request is re-validated at read time: it must be
// approved and name exactly the record's doctor and patient, so a request
// approved for one pair never unlocks another pair's records.
func (e *Engine) GetRecordCID(recordID, requestID uint64, caller [20]byte) (string, error) {
	if e == nil || e.state == nil {
		return "", errNilState
	}
	record, ok := e.state.RecordGet(recordID)
	if !ok {
		return "", ErrNotFound
	}
	if caller == record.Patient || caller == record.Doctor {
		return record.CID, nil
	}
	if caller != e.admin {
		return "", fmt.Errorf("%w: caller may not read this record", ErrUnauthorized)
	}
	request, ok := e.state.AccessRequestGet(requestID)
	if !ok {
		return "", fmt.Errorf("%w: cited request does not grant access", ErrUnauthorized)
	}
	if request.Status != RequestApproved || request.Doctor != record.Doctor || request.Patient != record.Patient {
		return "", fmt.Errorf("%w: cited request does not grant access", ErrUnauthorized)
	}
	return record.CID, nil
}

// GetRecord returns the record's public fields with the protected CID
// blanked. Use GetRecordCID for the pointer itself.
func (e *Engine) GetRecord(id uint64) (*Record, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok := e.state.RecordGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	clone := record.Clone()
	clone.CID = ""
	return clone, nil
}

// RecordsForPatient lists the ids of records stored for the patient.
func (e *Engine) RecordsForPatient(patient [20]byte) ([]uint64, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.RecordsByPatient(patient)
}
