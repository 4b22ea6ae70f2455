package registry

import "time"

type credentialState interface {
	CredentialPut(*Credential) error
	CredentialGet(id uint64) (*Credential, bool)
	CredentialDelete(id uint64) error
	NextCredentialID() (uint64, error)
}

// CredentialLedger issues and retires soulbound membership credentials. The
// ledger deliberately exposes a Transfer method that always fails so callers
// integrating against a generic token surface observe the restriction
// explicitly instead of silently lacking the operation.
type CredentialLedger struct {
	state credentialState
	nowFn func() int64
}

// NewCredentialLedger wires the ledger to its storage backend.
func NewCredentialLedger(state credentialState) *CredentialLedger {
	return &CredentialLedger{
		state: state,
		nowFn: func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the issuance clock, primarily for tests.
func (l *CredentialLedger) SetNowFunc(now func() int64) {
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

// Mint issues a fresh credential to owner and returns its identifier.
func (l *CredentialLedger) Mint(kind Kind, owner [20]byte) (uint64, error) {
	id, err := l.state.NextCredentialID()
	if err != nil {
		return 0, err
	}
	cred := &Credential{ID: id, Kind: kind, Owner: owner, IssuedAt: l.nowFn()}
	if err := l.state.CredentialPut(cred); err != nil {
		return 0, err
	}
	return id, nil
}

// Burn retires the credential. Burning an unknown id reports ErrNotFound.
func (l *CredentialLedger) Burn(id uint64) error {
	if _, ok := l.state.CredentialGet(id); !ok {
		return ErrNotFound
	}
	return l.state.CredentialDelete(id)
}

// OwnerOf reports the holder of the credential.
func (l *CredentialLedger) OwnerOf(id uint64) ([20]byte, bool) {
	cred, ok := l.state.CredentialGet(id)
	if !ok {
		return [20]byte{}, false
	}
	return cred.Owner, true
}

// Transfer always fails: membership credentials are bound to the identity
// they were issued to.
func (l *CredentialLedger) Transfer(id uint64, from, to [20]byte) error {
	return ErrTransferRestricted
}
