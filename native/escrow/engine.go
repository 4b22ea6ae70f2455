package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"custodia/core/events"
	"custodia/core/types"
	"custodia/native/common"
)

var (
	errNilState   = errors.New("escrow engine: state not configured")
	errNilParties = errors.New("escrow engine: inspector and lender not configured")
)

type engineState interface {
	ListingPut(*Listing) error
	ListingGet(id uint64) (*Listing, bool)
	NextListingID() (uint64, error)
	ListingCredit(id uint64, amt *big.Int) error
	ListingDebit(id uint64, amt *big.Int) error
	ListingVaultBalance(id uint64) (*big.Int, error)
	DeedMint(id uint64, owner [20]byte) error
	DeedOwner(id uint64) ([20]byte, bool)
	DeedTransfer(id uint64, to [20]byte) error
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

type listingEvent struct {
	evt *types.Event
}

func (e listingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e listingEvent) Event() *types.Event { return e.evt }

// Engine implements the listing escrow state machine: proposal, inspection,
// earnest deposit, per-party approval bookkeeping and conditional settlement.
// The inspector and lender roles are fixed when the engine is constructed,
// mirroring deploy-time constructor arguments.
type Engine struct {
	state     engineState
	emitter   events.Emitter
	pauses    common.PauseView
	inspector [20]byte
	lender    [20]byte
	nowFn     func() int64
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetParties configures the inspector and lender identities gating the
// workflow.
func (e *Engine) SetParties(inspector, lender [20]byte) {
	e.inspector = inspector
	e.lender = lender
}

// SetPauses wires the operator pause switchboard.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(listingEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) guard() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return common.Guard(e.pauses, common.ModuleEscrow)
}

func (e *Engine) ensureParties() error {
	if e.inspector == ([20]byte{}) || e.lender == ([20]byte{}) {
		return errNilParties
	}
	return nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (e *Engine) loadListing(id uint64) (*Listing, error) {
	listing, ok := e.state.ListingGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return listing, nil
}

func (e *Engine) storeListing(l *Listing) error {
	return e.state.ListingPut(l)
}

func (e *Engine) debitAccount(addr [20]byte, amt *big.Int) error {
	acc, err := e.state.GetAccount(addr[:])
	if err != nil {
		return err
	}
	acc = types.EnsureAccount(acc)
	if acc.Balance.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}
	acc.Balance = new(big.Int).Sub(acc.Balance, amt)
	return e.state.PutAccount(addr[:], acc)
}

func (e *Engine) creditAccount(addr [20]byte, amt *big.Int) error {
	acc, err := e.state.GetAccount(addr[:])
	if err != nil {
		return err
	}
	acc = types.EnsureAccount(acc)
	acc.Balance = new(big.Int).Add(acc.Balance, amt)
	return e.state.PutAccount(addr[:], acc)
}

// Propose creates a new listing record. Any caller may propose; the caller
// becomes the seller of record and the listing enters the pending-inspection
// state immediately.
func (e *Engine) Propose(seller [20]byte, deedURI string, price *big.Int) (*Listing, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	trimmedURI := strings.TrimSpace(deedURI)
	if trimmedURI == "" {
		return nil, fmt.Errorf("%w: deed URI required", ErrInvalidInput)
	}
	amount := cloneBigInt(price)
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", ErrInvalidInput)
	}
	id, err := e.state.NextListingID()
	if err != nil {
		return nil, err
	}
	listing := &Listing{
		ID:           id,
		Seller:       seller,
		DeedURI:      trimmedURI,
		Price:        amount,
		EscrowAmount: big.NewInt(0),
		Status:       ListingPendingInspection,
		CreatedAt:    e.now(),
	}
	if err := e.storeListing(listing); err != nil {
		return nil, err
	}
	e.emit(NewProposedEvent(listing))
	return listing.Clone(), nil
}

// Verify transitions a pending listing to verified and mints the deed token
// to the seller, establishing provable ownership ahead of the sale.
func (e *Engine) Verify(id uint64, caller [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	if err := e.ensureParties(); err != nil {
		return err
	}
	if caller != e.inspector {
		return fmt.Errorf("%w: only inspector may verify", ErrUnauthorized)
	}
	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	if listing.Status != ListingPendingInspection {
		return fmt.Errorf("%w: listing not pending inspection", ErrWrongState)
	}
	if strings.TrimSpace(listing.DeedURI) == "" {
		return fmt.Errorf("%w: deed URI missing for proposed listing", ErrInvalidInput)
	}
	if err := e.state.DeedMint(listing.ID, listing.Seller); err != nil {
		return err
	}
	listing.Status = ListingVerified
	if err := e.storeListing(listing); err != nil {
		return err
	}
	e.emit(NewVerifiedEvent(listing))
	return nil
}

// Reject marks a pending listing as rejected. Terminal and irreversible.
func (e *Engine) Reject(id uint64, caller [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	if err := e.ensureParties(); err != nil {
		return err
	}
	if caller != e.inspector {
		return fmt.Errorf("%w: only inspector may reject", ErrUnauthorized)
	}
	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	if listing.Status != ListingPendingInspection {
		return fmt.Errorf("%w: listing not pending inspection", ErrWrongState)
	}
	listing.Status = ListingRejected
	if err := e.storeListing(listing); err != nil {
		return err
	}
	e.emit(NewRejectedEvent(listing))
	return nil
}

// SetTerms fixes the purchase price and earnest escrow amount. Seller-only
// and only before any earnest deposit has been recorded.
func (e *Engine) SetTerms(id uint64, caller [20]byte, price, escrowAmount *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	if caller != listing.Seller {
		return fmt.Errorf("%w: only seller may set terms", ErrUnauthorized)
	}
	if listing.Status.Terminal() {
		return fmt.Errorf("%w: listing is closed", ErrWrongState)
	}
	if listing.HasBuyer {
		return fmt.Errorf("%w: terms locked after earnest deposit", ErrInvalidState)
	}
	p := cloneBigInt(price)
	esc := cloneBigInt(escrowAmount)
	if p.Sign() <= 0 || esc.Sign() <= 0 {
		return fmt.Errorf("%w: price and escrow amount must be positive", ErrInvalidInput)
	}
	if esc.Cmp(p) > 0 {
		return fmt.Errorf("%w: escrow amount exceeds price", ErrInvalidInput)
	}
	listing.Price = p
	listing.EscrowAmount = esc
	if err := e.storeListing(listing); err != nil {
		return err
	}
	e.emit(NewTermsSetEvent(listing))
	return nil
}

// DepositEarnest records the buyer and moves the exact earnest amount from
// the buyer's account into the listing vault.
func (e *Engine) DepositEarnest(id uint64, buyer [20]byte, amount *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	if listing.Status != ListingVerified {
		return fmt.Errorf("%w: listing is not verified", ErrWrongState)
	}
	if listing.EscrowAmount == nil || listing.EscrowAmount.Sign() <= 0 {
		return ErrTermsNotSet
	}
	if listing.HasBuyer {
		return fmt.Errorf("%w: earnest already deposited", ErrInvalidState)
	}
	sent := cloneBigInt(amount)
	if sent.Cmp(listing.EscrowAmount) != 0 {
		return ErrInvalidAmount
	}
	if err := e.debitAccount(buyer, sent); err != nil {
		return err
	}
	if err := e.state.ListingCredit(id, sent); err != nil {
		return err
	}
	listing.Buyer = buyer
	listing.HasBuyer = true
	if err := e.storeListing(listing); err != nil {
		return err
	}
	e.emit(NewDepositedEvent(listing))
	return nil
}

// ApproveSale sets the approval flag for one of buyer, seller or lender.
// Parties may only approve on their own behalf; the check is an explicit
// identity comparison rather than an ACL lookup so the audit trail stays
// simple. Repeat approval by an already-approved party is a no-op.
func (e *Engine) ApproveSale(id uint64, caller, party [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	if err := e.ensureParties(); err != nil {
		return err
	}
	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	if listing.Status != ListingVerified {
		return fmt.Errorf("%w: listing is not verified", ErrWrongState)
	}
	isParty := caller == listing.Seller || caller == e.lender || (listing.HasBuyer && caller == listing.Buyer)
	if !isParty {
		return fmt.Errorf("%w: only buyer, seller or lender may approve", ErrUnauthorized)
	}
	if caller != party {
		return fmt.Errorf("%w: cannot approve on behalf of another party", ErrUnauthorized)
	}
	var flag *bool
	switch {
	case listing.HasBuyer && party == listing.Buyer:
		flag = &listing.BuyerApproved
	case party == listing.Seller:
		flag = &listing.SellerApproved
	case party == e.lender:
		flag = &listing.LenderApproved
	default:
		return fmt.Errorf("%w: only buyer, seller or lender may approve", ErrUnauthorized)
	}
	if *flag {
		return nil
	}
	*flag = true
	if err := e.storeListing(listing); err != nil {
		return err
	}
	e.emit(NewApprovedEvent(listing, party))
	return nil
}

// UpdateInspection records the inspection outcome without changing the
// overall listing status.
func (e *Engine) UpdateInspection(id uint64, caller [20]byte, passed bool) error {
	if err := e.guard(); err != nil {
		return err
	}
	if err := e.ensureParties(); err != nil {
		return err
	}
	if caller != e.inspector {
		return fmt.Errorf("%w: only inspector may update inspection", ErrUnauthorized)
	}
	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	if listing.Status.Terminal() {
		return fmt.Errorf("%w: listing is closed", ErrWrongState)
	}
	listing.InspectionPassed = passed
	if err := e.storeListing(listing); err != nil {
		return err
	}
	e.emit(NewInspectionEvent(listing))
	return nil
}

// FundRemainder lets the lender top the listing vault up to the purchase
// price ahead of finalization, modelling the lender's direct transfer into
// the contract in the original workflow.
func (e *Engine) FundRemainder(id uint64, caller [20]byte, amount *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	if err := e.ensureParties(); err != nil {
		return err
	}
	if caller != e.lender {
		return fmt.Errorf("%w: only lender may fund the remainder", ErrUnauthorized)
	}
	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	if listing.Status != ListingVerified {
		return fmt.Errorf("%w: listing is not verified", ErrWrongState)
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if err := e.debitAccount(caller, amt); err != nil {
		return err
	}
	return e.state.ListingCredit(id, amt)
}

// Finalize settles the sale. Preconditions are checked in a fixed order so
// the first unmet condition is the one reported: buyer approval, seller
// approval, lender approval, inspection passed, then full funding. On
// success the seller receives the full purchase price, the deed transfers to
// the buyer, and the vault is zeroed.
func (e *Engine) Finalize(id uint64, caller [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	if err := e.ensureParties(); err != nil {
		return err
	}
	if caller != e.lender {
		return fmt.Errorf("%w: only lender may finalize", ErrUnauthorized)
	}
	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	if listing.Status != ListingVerified {
		return fmt.Errorf("%w: listing is not verified", ErrWrongState)
	}
	if !listing.BuyerApproved {
		return ErrBuyerNotApproved
	}
	if !listing.SellerApproved {
		return ErrSellerNotApproved
	}
	if !listing.LenderApproved {
		return ErrLenderNotApproved
	}
	if !listing.InspectionPassed {
		return ErrInspectionNotPassed
	}
	if !listing.HasBuyer {
		return ErrNoBuyer
	}
	balance, err := e.state.ListingVaultBalance(id)
	if err != nil {
		return err
	}
	if balance.Cmp(listing.Price) < 0 {
		return ErrInsufficientBalance
	}
	payout := cloneBigInt(balance)
	if err := e.state.ListingDebit(id, payout); err != nil {
		return err
	}
	if err := e.creditAccount(listing.Seller, payout); err != nil {
		return err
	}
	if err := e.state.DeedTransfer(listing.ID, listing.Buyer); err != nil {
		return err
	}
	listing.Status = ListingSold
	if err := e.storeListing(listing); err != nil {
		return err
	}
	e.emit(NewFinalizedEvent(listing))
	return nil
}

// Cancel aborts a deal whose inspection failed, refunding the full earnest
// deposit to the recorded buyer. Only the buyer or the inspector may cancel.
func (e *Engine) Cancel(id uint64, caller [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	if err := e.ensureParties(); err != nil {
		return err
	}
	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	isBuyer := listing.HasBuyer && caller == listing.Buyer
	if !isBuyer && caller != e.inspector {
		return fmt.Errorf("%w: only buyer or inspector may cancel", ErrUnauthorized)
	}
	if listing.Status != ListingVerified {
		return fmt.Errorf("%w: listing is not verified", ErrWrongState)
	}
	if listing.InspectionPassed {
		return fmt.Errorf("%w: inspection has passed", ErrInvalidState)
	}
	if !listing.HasBuyer {
		return ErrNoBuyer
	}
	owed := cloneBigInt(listing.EscrowAmount)
	balance, err := e.state.ListingVaultBalance(id)
	if err != nil {
		return err
	}
	if balance.Cmp(owed) < 0 {
		return ErrInsufficientBalance
	}
	if err := e.state.ListingDebit(id, owed); err != nil {
		return err
	}
	if err := e.creditAccount(listing.Buyer, owed); err != nil {
		return err
	}
	listing.Status = ListingCancelled
	if err := e.storeListing(listing); err != nil {
		return err
	}
	e.emit(NewCancelledEvent(listing))
	return nil
}

// GetListing returns a copy of the stored listing.
func (e *Engine) GetListing(id uint64) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	listing, err := e.loadListing(id)
	if err != nil {
		return nil, err
	}
	return listing.Clone(), nil
}

// VaultBalance reports the funds currently held for the listing.
func (e *Engine) VaultBalance(id uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.ListingVaultBalance(id)
}

// DeedOwner reports the current holder of the deed token, if minted.
func (e *Engine) DeedOwner(id uint64) ([20]byte, bool) {
	if e == nil || e.state == nil {
		return [20]byte{}, false
	}
	return e.state.DeedOwner(id)
}
