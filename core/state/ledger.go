package state

import (
	"fmt"
	"math/big"

	"custodia/core/types"
	"custodia/native/access"
	"custodia/native/escrow"
	"custodia/native/registry"
)

// Ledger is the in-memory ledger state backing every native engine. It
// satisfies the escrow, registry and access state interfaces so a single
// instance can be injected into all three. Ledger itself is not safe for
// concurrent use; the Manager serialises access and provides the transaction
// boundary.
type Ledger struct {
	accounts map[string]*types.Account

	listings    map[uint64]*escrow.Listing
	nextListing uint64
	vaults      map[uint64]*big.Int
	deeds       map[uint64][20]byte

	members        map[registry.Kind]map[[20]byte]*registry.Member
	rosters        map[registry.Kind][][20]byte
	credentials    map[uint64]*registry.Credential
	nextCredential uint64

	requests    map[uint64]*access.Request
	nextRequest uint64
	tickets     map[uint64]*access.Ticket
	ticketIDs   map[[20]byte][]uint64
	nextTicket  uint64
	records     map[uint64]*access.Record
	recordIDs   map[[20]byte][]uint64
	nextRecord  uint64
}

// NewLedger returns an empty ledger with all id counters starting at 1.
func NewLedger() *Ledger {
	return &Ledger{
		accounts:       make(map[string]*types.Account),
		listings:       make(map[uint64]*escrow.Listing),
		nextListing:    1,
		vaults:         make(map[uint64]*big.Int),
		deeds:          make(map[uint64][20]byte),
		members:        make(map[registry.Kind]map[[20]byte]*registry.Member),
		rosters:        make(map[registry.Kind][][20]byte),
		credentials:    make(map[uint64]*registry.Credential),
		nextCredential: 1,
		requests:       make(map[uint64]*access.Request),
		nextRequest:    1,
		tickets:        make(map[uint64]*access.Ticket),
		ticketIDs:      make(map[[20]byte][]uint64),
		nextTicket:     1,
		records:        make(map[uint64]*access.Record),
		recordIDs:      make(map[[20]byte][]uint64),
		nextRecord:     1,
	}
}

// Clone deep-copies the ledger. Transactions run against a clone so a failed
// operation leaves the committed state untouched.
func (l *Ledger) Clone() *Ledger {
	clone := NewLedger()
	for addr, acc := range l.accounts {
		clone.accounts[addr] = acc.Clone()
	}
	for id, listing := range l.listings {
		clone.listings[id] = listing.Clone()
	}
	clone.nextListing = l.nextListing
	for id, bal := range l.vaults {
		clone.vaults[id] = new(big.Int).Set(bal)
	}
	for id, owner := range l.deeds {
		clone.deeds[id] = owner
	}
	for kind, bucket := range l.members {
		copied := make(map[[20]byte]*registry.Member, len(bucket))
		for addr, member := range bucket {
			copied[addr] = member.Clone()
		}
		clone.members[kind] = copied
	}
	for kind, roster := range l.rosters {
		clone.rosters[kind] = append([][20]byte(nil), roster...)
	}
	for id, cred := range l.credentials {
		clone.credentials[id] = cred.Clone()
	}
	clone.nextCredential = l.nextCredential
	for id, request := range l.requests {
		clone.requests[id] = request.Clone()
	}
	clone.nextRequest = l.nextRequest
	for id, ticket := range l.tickets {
		clone.tickets[id] = ticket.Clone()
	}
	for patient, ids := range l.ticketIDs {
		clone.ticketIDs[patient] = append([]uint64(nil), ids...)
	}
	clone.nextTicket = l.nextTicket
	for id, record := range l.records {
		clone.records[id] = record.Clone()
	}
	for patient, ids := range l.recordIDs {
		clone.recordIDs[patient] = append([]uint64(nil), ids...)
	}
	clone.nextRecord = l.nextRecord
	return clone
}

// --- account state ---

func (l *Ledger) GetAccount(addr []byte) (*types.Account, error) {
	acc, ok := l.accounts[string(addr)]
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	return acc.Clone(), nil
}

func (l *Ledger) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account for %x", addr)
	}
	l.accounts[string(addr)] = account.Clone()
	return nil
}

// Credit adds funds to an account, creating it when absent. Used for genesis
// seeding and lender funding.
func (l *Ledger) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: credit amount must be non-negative")
	}
	acc, err := l.GetAccount(addr[:])
	if err != nil {
		return err
	}
	acc = types.EnsureAccount(acc)
	acc.Balance = new(big.Int).Add(acc.Balance, amount)
	return l.PutAccount(addr[:], acc)
}

// --- escrow state ---

func (l *Ledger) ListingPut(listing *escrow.Listing) error {
	if listing == nil {
		return fmt.Errorf("state: nil listing")
	}
	l.listings[listing.ID] = listing.Clone()
	return nil
}

func (l *Ledger) ListingGet(id uint64) (*escrow.Listing, bool) {
	listing, ok := l.listings[id]
	if !ok {
		return nil, false
	}
	return listing.Clone(), true
}

func (l *Ledger) NextListingID() (uint64, error) {
	id := l.nextListing
	l.nextListing++
	return id, nil
}

func (l *Ledger) ListingCredit(id uint64, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: vault credit must be non-negative")
	}
	bal, ok := l.vaults[id]
	if !ok {
		bal = big.NewInt(0)
	}
	l.vaults[id] = new(big.Int).Add(bal, amt)
	return nil
}

func (l *Ledger) ListingDebit(id uint64, amt *big.Int) error {
	bal, ok := l.vaults[id]
	if !ok || amt == nil || bal.Cmp(amt) < 0 {
		return fmt.Errorf("state: vault balance too low for listing %d", id)
	}
	l.vaults[id] = new(big.Int).Sub(bal, amt)
	return nil
}

func (l *Ledger) ListingVaultBalance(id uint64) (*big.Int, error) {
	bal, ok := l.vaults[id]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(bal), nil
}

func (l *Ledger) DeedMint(id uint64, owner [20]byte) error {
	if _, ok := l.deeds[id]; ok {
		return fmt.Errorf("state: deed %d already minted", id)
	}
	l.deeds[id] = owner
	return nil
}

func (l *Ledger) DeedOwner(id uint64) ([20]byte, bool) {
	owner, ok := l.deeds[id]
	return owner, ok
}

func (l *Ledger) DeedTransfer(id uint64, to [20]byte) error {
	if _, ok := l.deeds[id]; !ok {
		return fmt.Errorf("state: deed %d not minted", id)
	}
	l.deeds[id] = to
	return nil
}

// --- registry state ---

func (l *Ledger) RegistryMemberPut(kind registry.Kind, member *registry.Member) error {
	if member == nil {
		return fmt.Errorf("state: nil registry member")
	}
	bucket, ok := l.members[kind]
	if !ok {
		bucket = make(map[[20]byte]*registry.Member)
		l.members[kind] = bucket
	}
	bucket[member.Address] = member.Clone()
	return nil
}

func (l *Ledger) RegistryMemberGet(kind registry.Kind, addr [20]byte) (*registry.Member, bool) {
	member, ok := l.members[kind][addr]
	if !ok {
		return nil, false
	}
	return member.Clone(), true
}

func (l *Ledger) RegistryMemberDelete(kind registry.Kind, addr [20]byte) error {
	delete(l.members[kind], addr)
	return nil
}

func (l *Ledger) RegistryListGet(kind registry.Kind) ([][20]byte, error) {
	return append([][20]byte(nil), l.rosters[kind]...), nil
}

func (l *Ledger) RegistryListPut(kind registry.Kind, list [][20]byte) error {
	l.rosters[kind] = append([][20]byte(nil), list...)
	return nil
}

func (l *Ledger) CredentialPut(cred *registry.Credential) error {
	if cred == nil {
		return fmt.Errorf("state: nil credential")
	}
	l.credentials[cred.ID] = cred.Clone()
	return nil
}

func (l *Ledger) CredentialGet(id uint64) (*registry.Credential, bool) {
	cred, ok := l.credentials[id]
	if !ok {
		return nil, false
	}
	return cred.Clone(), true
}

func (l *Ledger) CredentialDelete(id uint64) error {
	delete(l.credentials, id)
	return nil
}

func (l *Ledger) NextCredentialID() (uint64, error) {
	id := l.nextCredential
	l.nextCredential++
	return id, nil
}

// --- access state ---

func (l *Ledger) AccessRequestPut(request *access.Request) error {
	if request == nil {
		return fmt.Errorf("state: nil access request")
	}
	l.requests[request.ID] = request.Clone()
	return nil
}

func (l *Ledger) AccessRequestGet(id uint64) (*access.Request, bool) {
	request, ok := l.requests[id]
	if !ok {
		return nil, false
	}
	return request.Clone(), true
}

func (l *Ledger) NextAccessRequestID() (uint64, error) {
	id := l.nextRequest
	l.nextRequest++
	return id, nil
}

func (l *Ledger) TicketPut(ticket *access.Ticket) error {
	if ticket == nil {
		return fmt.Errorf("state: nil ticket")
	}
	if _, ok := l.tickets[ticket.ID]; !ok {
		l.ticketIDs[ticket.Patient] = append(l.ticketIDs[ticket.Patient], ticket.ID)
	}
	l.tickets[ticket.ID] = ticket.Clone()
	return nil
}

func (l *Ledger) TicketGet(id uint64) (*access.Ticket, bool) {
	ticket, ok := l.tickets[id]
	if !ok {
		return nil, false
	}
	return ticket.Clone(), true
}

func (l *Ledger) TicketsByPatient(patient [20]byte) ([]*access.Ticket, error) {
	ids := l.ticketIDs[patient]
	out := make([]*access.Ticket, 0, len(ids))
	for _, id := range ids {
		if ticket, ok := l.tickets[id]; ok {
			out = append(out, ticket.Clone())
		}
	}
	return out, nil
}

func (l *Ledger) NextTicketID() (uint64, error) {
	id := l.nextTicket
	l.nextTicket++
	return id, nil
}

func (l *Ledger) RecordPut(record *access.Record) error {
	if record == nil {
		return fmt.Errorf("state: nil record")
	}
	if _, ok := l.records[record.ID]; !ok {
		l.recordIDs[record.Patient] = append(l.recordIDs[record.Patient], record.ID)
	}
	l.records[record.ID] = record.Clone()
	return nil
}

func (l *Ledger) RecordGet(id uint64) (*access.Record, bool) {
	record, ok := l.records[id]
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

func (l *Ledger) NextRecordID() (uint64, error) {
	id := l.nextRecord
	l.nextRecord++
	return id, nil
}

func (l *Ledger) RecordsByPatient(patient [20]byte) ([]uint64, error) {
	return append([]uint64(nil), l.recordIDs[patient]...), nil
}
