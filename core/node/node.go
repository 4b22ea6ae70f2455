package node

import (
	"math/big"

	"custodia/core/events"
	"custodia/core/state"
	"custodia/native/access"
	"custodia/native/escrow"
	"custodia/native/registry"
)

// Roles fixes the privileged identities of the ledger, mirroring deploy-time
// constructor arguments in the workflows this models.
type Roles struct {
	Admin     [20]byte
	Inspector [20]byte
	Lender    [20]byte
}

// Node binds the native engines to the state manager's transaction boundary.
// Every mutating method runs inside Manager.Apply, so a guard failure in any
// engine leaves no partial state and releases no events.
type Node struct {
	manager *state.Manager
	roles   Roles
}

// New creates a node over a fresh ledger.
func New(roles Roles) *Node {
	return &Node{manager: state.NewManager(), roles: roles}
}

// Manager exposes the underlying state manager.
func (n *Node) Manager() *state.Manager { return n.manager }

// Outbox exposes the committed event log.
func (n *Node) Outbox() *events.Outbox { return n.manager.Outbox() }

// Roles reports the configured privileged identities.
func (n *Node) Roles() Roles { return n.roles }

// SetPaused flips the pause switch for a native module.
func (n *Node) SetPaused(module string, paused bool) { n.manager.SetPaused(module, paused) }

func (n *Node) escrowEngine(txn *state.Txn) *escrow.Engine {
	engine := escrow.NewEngine()
	engine.SetState(txn)
	engine.SetEmitter(txn)
	engine.SetPauses(n.manager)
	engine.SetParties(n.roles.Inspector, n.roles.Lender)
	return engine
}

func (n *Node) escrowReader(l *state.Ledger) *escrow.Engine {
	engine := escrow.NewEngine()
	engine.SetState(l)
	engine.SetParties(n.roles.Inspector, n.roles.Lender)
	return engine
}

func (n *Node) registryEngine(txn *state.Txn) *registry.Engine {
	engine := registry.NewEngine()
	engine.SetState(txn)
	engine.SetEmitter(txn)
	engine.SetPauses(n.manager)
	engine.SetAdmin(n.roles.Admin)
	return engine
}

func (n *Node) registryReader(l *state.Ledger) *registry.Engine {
	engine := registry.NewEngine()
	engine.SetState(l)
	engine.SetAdmin(n.roles.Admin)
	return engine
}

func (n *Node) accessEngine(txn *state.Txn) *access.Engine {
	engine := access.NewEngine()
	engine.SetState(txn)
	engine.SetEmitter(txn)
	engine.SetPauses(n.manager)
	engine.SetAdmin(n.roles.Admin)
	engine.SetDirectory(access.NewRegistryDirectory(n.registryEngine(txn)))
	return engine
}

func (n *Node) accessReader(l *state.Ledger) *access.Engine {
	engine := access.NewEngine()
	engine.SetState(l)
	engine.SetAdmin(n.roles.Admin)
	engine.SetDirectory(access.NewRegistryDirectory(n.registryReader(l)))
	return engine
}

// CreditAccount adds spendable funds to an account. Used for genesis seeding
// and operator top-ups.
func (n *Node) CreditAccount(addr [20]byte, amount *big.Int) error {
	return n.manager.Apply(func(txn *state.Txn) error {
		return txn.Credit(addr, amount)
	})
}

// AccountBalance reports the spendable balance of an account.
func (n *Node) AccountBalance(addr [20]byte) (*big.Int, error) {
	balance := big.NewInt(0)
	err := n.manager.View(func(l *state.Ledger) error {
		acc, err := l.GetAccount(addr[:])
		if err != nil {
			return err
		}
		if acc.Balance != nil {
			balance.Set(acc.Balance)
		}
		return nil
	})
	return balance, err
}

// --- escrow operations ---

func (n *Node) ProposeListing(seller [20]byte, deedURI string, price *big.Int) (*escrow.Listing, error) {
	var listing *escrow.Listing
	err := n.manager.Apply(func(txn *state.Txn) error {
		var err error
		listing, err = n.escrowEngine(txn).Propose(seller, deedURI, price)
		return err
	})
	if err != nil {
		return nil, err
	}
	return listing, nil
}

func (n *Node) VerifyListing(id uint64, caller [20]byte) error {
	return n.manager.Apply(func(txn *state.Txn) error {
		return n.escrowEngine(txn).Verify(id, caller)
	})
}

func (n *Node) RejectListing(id uint64, caller [20]byte) error {
	return n.manager.Apply(func(txn *state.Txn) error {
		return n.escrowEngine(txn).Reject(id, caller)
	})
}

func (n *Node) SetListingTerms(id uint64, caller [20]byte, price, escrowAmount *big.Int) error {
	return n.manager.Apply(func(txn *state.Txn) error {
		return n.escrowEngine(txn).SetTerms(id, caller, price, escrowAmount)
	})
}

func (n *Node) DepositEarnest(id uint64, buyer [20]byte, amount *big.Int) error {
	return n.manager.Apply(func(txn *state.Txn) error {
		return n.escrowEngine(txn).DepositEarnest(id, buyer, amount)
	})
}

func (n *Node) ApproveSale(id uint64, caller, party [20]byte) error {
	return n.manager.Apply(func(txn *state.Txn) error {
		return n.escrowEngine(txn).ApproveSale(id, caller, party)
	})
}

func (n *Node) UpdateInspection(id uint64, caller [20]byte, passed bool) error {
	return n.manager.Apply(func(txn *state.Txn) error {
		return n.escrowEngine(txn).UpdateInspection(id, caller, passed)
	})
}

func (n *Node) FundRemainder(id uint64, caller [20]byte, amount *big.Int) error {
	return n.manager.Apply(func(txn *state.Txn) error {
		return n.escrowEngine(txn).FundRemainder(id, caller, amount)
	})
}

func (n *Node) FinalizeSale(id uint64, caller [20]byte) error {
	return n.manager.Apply(func(txn *state.Txn) error {
		return n.escrowEngine(txn).Finalize(id, caller)
	})
}

func (n *Node) CancelSale(id uint64, caller [20]byte) error {
	return n.manager.Apply(func(txn *state.Txn) error {
		return n.escrowEngine(txn).Cancel(id, caller)
	})
}

func (n *Node) GetListing(id uint64) (*escrow.Listing, error) {
	var listing *escrow.Listing
	err := n.manager.View(func(l *state.Ledger) error {
		var err error
		listing, err = n.escrowReader(l).GetListing(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return listing, nil
}

func (n *Node) VaultBalance(id uint64) (*big.Int, error) {
	var balance *big.Int
	err := n.manager.View(func(l *state.Ledger) error {
		var err error
		balance, err = n.escrowReader(l).VaultBalance(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}

func (n *Node) DeedOwner(id uint64) ([20]byte, bool) {
	var owner [20]byte
	var ok bool
	_ = n.manager.View(func(l *state.Ledger) error {
		owner, ok = n.escrowReader(l).DeedOwner(id)
		return nil
	})
	return owner, ok
}

// --- registry operations ---

func (n *Node) AddMember(kind registry.Kind, caller, member [20]byte, name, profile, profileCID string) (*registry.Member, error) {
	var added *registry.Member
	err := n.manager.Apply(func(txn *state.Txn) error {
		var err error
		added, err = n.registryEngine(txn).Add(kind, caller, member, name, profile, profileCID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

func (n *Node) RemoveMember(kind registry.Kind, caller, member [20]byte) error {
	return n.manager.Apply(func(txn *state.Txn) error {
		return n.registryEngine(txn).Remove(kind, caller, member)
	})
}

func (n *Node) GetMember(kind registry.Kind, member [20]byte) (*registry.Member, error) {
	var record *registry.Member
	err := n.manager.View(func(l *state.Ledger) error {
		var err error
		record, err = n.registryReader(l).Get(kind, member)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (n *Node) ListMembers(kind registry.Kind) ([][20]byte, error) {
	var list [][20]byte
	err := n.manager.View(func(l *state.Ledger) error {
		var err error
		list, err = n.registryReader(l).List(kind)
		return err
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (n *Node) IsMember(kind registry.Kind, member [20]byte) bool {
	var ok bool
	_ = n.manager.View(func(l *state.Ledger) error {
		ok = n.registryReader(l).IsMember(kind, member)
		return nil
	})
	return ok
}

// --- access operations ---

func (n *Node) CreateAccessRequest(caller, doctor, patient [20]byte) (*access.Request, error) {
	var request *access.Request
	err := n.manager.Apply(func(txn *state.Txn) error {
		var err error
		request, err = n.accessEngine(txn).CreateRequest(caller, doctor, patient)
		return err
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

func (n *Node) ApproveAccessRequest(id uint64, caller [20]byte) error {
	return n.manager.Apply(func(txn *state.Txn) error {
		return n.accessEngine(txn).ApproveRequest(id, caller)
	})
}

func (n *Node) GetAccessRequest(id uint64) (*access.Request, error) {
	var request *access.Request
	err := n.manager.View(func(l *state.Ledger) error {
		var err error
		request, err = n.accessReader(l).GetRequest(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

func (n *Node) RaiseEmergency(caller, patient [20]byte) (*access.Ticket, error) {
	var ticket *access.Ticket
	err := n.manager.Apply(func(txn *state.Txn) error {
		var err error
		ticket, err = n.accessEngine(txn).RaiseEmergency(caller, patient)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

func (n *Node) VoteEmergency(ticketID uint64, caller [20]byte) error {
	return n.manager.Apply(func(txn *state.Txn) error {
		return n.accessEngine(txn).Vote(ticketID, caller)
	})
}

func (n *Node) GetTicket(id uint64) (*access.Ticket, error) {
	var ticket *access.Ticket
	err := n.manager.View(func(l *state.Ledger) error {
		var err error
		ticket, err = n.accessReader(l).GetTicket(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

func (n *Node) IsAccessGranted(patient [20]byte) (bool, error) {
	var granted bool
	err := n.manager.View(func(l *state.Ledger) error {
		var err error
		granted, err = n.accessReader(l).IsAccessGranted(patient)
		return err
	})
	return granted, err
}

func (n *Node) AddRecord(caller, patient [20]byte, cid string) (*access.Record, error) {
	var record *access.Record
	err := n.manager.Apply(func(txn *state.Txn) error {
		var err error
		record, err = n.accessEngine(txn).AddRecord(caller, patient, cid)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (n *Node) GetRecordCID(recordID, requestID uint64, caller [20]byte) (string, error) {
	var cid string
	err := n.manager.View(func(l *state.Ledger) error {
		var err error
		cid, err = n.accessReader(l).GetRecordCID(recordID, requestID, caller)
		return err
	})
	return cid, err
}

func (n *Node) GetRecord(id uint64) (*access.Record, error) {
	var record *access.Record
	err := n.manager.View(func(l *state.Ledger) error {
		var err error
		record, err = n.accessReader(l).GetRecord(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (n *Node) RecordsForPatient(patient [20]byte) ([]uint64, error) {
	var ids []uint64
	err := n.manager.View(func(l *state.Ledger) error {
		var err error
		ids, err = n.accessReader(l).RecordsForPatient(patient)
		return err
	})
	return ids, err
}
