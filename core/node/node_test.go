package node

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"custodia/native/escrow"
	"custodia/native/registry"
)

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

var (
	admin     = testAddr(0xAD)
	inspector = testAddr(0x15)
	lender    = testAddr(0x1E)
	seller    = testAddr(0x5E)
	buyer     = testAddr(0xB0)
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	n := New(Roles{Admin: admin, Inspector: inspector, Lender: lender})
	for _, addr := range [][20]byte{buyer, lender} {
		if err := n.CreditAccount(addr, big.NewInt(1_000)); err != nil {
			t.Fatalf("seed %x: %v", addr[:1], err)
		}
	}
	return n
}

// Mirrors the canonical ten-unit sale with a five-unit earnest deposit.
func TestSaleSettlesEndToEnd(t *testing.T) {
	n := newTestNode(t)
	listing, err := n.ProposeListing(seller, "ipfs://deed-1", big.NewInt(10))
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := n.VerifyListing(listing.ID, inspector); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := n.SetListingTerms(listing.ID, seller, big.NewInt(10), big.NewInt(5)); err != nil {
		t.Fatalf("set terms: %v", err)
	}
	if err := n.DepositEarnest(listing.ID, buyer, big.NewInt(5)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := n.UpdateInspection(listing.ID, inspector, true); err != nil {
		t.Fatalf("inspection: %v", err)
	}
	for _, party := range [][20]byte{buyer, seller, lender} {
		if err := n.ApproveSale(listing.ID, party, party); err != nil {
			t.Fatalf("approve %x: %v", party[:1], err)
		}
	}
	if err := n.FundRemainder(listing.ID, lender, big.NewInt(5)); err != nil {
		t.Fatalf("fund remainder: %v", err)
	}
	if err := n.FinalizeSale(listing.ID, lender); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	sellerBalance, err := n.AccountBalance(seller)
	if err != nil || sellerBalance.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("seller balance = %s err=%v, want 10", sellerBalance, err)
	}
	vault, err := n.VaultBalance(listing.ID)
	if err != nil || vault.Sign() != 0 {
		t.Fatalf("vault = %s err=%v, want 0", vault, err)
	}
	owner, ok := n.DeedOwner(listing.ID)
	if !ok || owner != buyer {
		t.Fatalf("deed owner = %x ok=%v, want buyer", owner[:1], ok)
	}
	stored, err := n.GetListing(listing.ID)
	if err != nil || stored.Status != escrow.ListingSold {
		t.Fatalf("listing = %+v err=%v", stored, err)
	}
}

// Mirrors the failed-inspection path: cancel refunds the earnest deposit and
// the listing can never settle afterwards.
func TestFailedInspectionCancelRefunds(t *testing.T) {
	n := newTestNode(t)
	listing, err := n.ProposeListing(seller, "ipfs://deed-1", big.NewInt(10))
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := n.VerifyListing(listing.ID, inspector); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := n.SetListingTerms(listing.ID, seller, big.NewInt(10), big.NewInt(5)); err != nil {
		t.Fatalf("set terms: %v", err)
	}
	if err := n.DepositEarnest(listing.ID, buyer, big.NewInt(5)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := n.UpdateInspection(listing.ID, inspector, false); err != nil {
		t.Fatalf("inspection: %v", err)
	}
	if err := n.CancelSale(listing.ID, buyer); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	balance, err := n.AccountBalance(buyer)
	if err != nil || balance.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("buyer balance = %s err=%v, want full refund", balance, err)
	}
	if err := n.FinalizeSale(listing.ID, lender); !errors.Is(err, escrow.ErrWrongState) {
		t.Fatalf("finalize after cancel: got %v", err)
	}
}

// A failing precondition mid-operation must not leave partial effects. The
// deposit debits the buyer before the vault credit, so a rolled-back deposit
// must restore the buyer balance.
func TestFailedOperationLeavesNoPartialState(t *testing.T) {
	n := newTestNode(t)
	listing, err := n.ProposeListing(seller, "ipfs://deed-1", big.NewInt(10))
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := n.VerifyListing(listing.ID, inspector); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := n.SetListingTerms(listing.ID, seller, big.NewInt(10), big.NewInt(5)); err != nil {
		t.Fatalf("set terms: %v", err)
	}
	poor := testAddr(0x77)
	if err := n.DepositEarnest(listing.ID, poor, big.NewInt(5)); !errors.Is(err, escrow.ErrInsufficientBalance) {
		t.Fatalf("deposit without funds: got %v", err)
	}
	stored, err := n.GetListing(listing.ID)
	if err != nil || stored.HasBuyer {
		t.Fatalf("buyer recorded despite failed deposit: %+v err=%v", stored, err)
	}
	if got := n.Outbox().Latest(); got != 3 {
		t.Fatalf("outbox sequence = %d, want 3 committed events", got)
	}
}

func TestRegistryAndAccessThroughNode(t *testing.T) {
	n := newTestNode(t)
	doctor, patient := testAddr(0xD0), testAddr(0x9A)
	if _, err := n.AddMember(registry.KindDoctor, admin, doctor, "Dr. Adams", "Cardiology", "QmDoc"); err != nil {
		t.Fatalf("add doctor: %v", err)
	}
	if _, err := n.AddMember(registry.KindPatient, admin, patient, "Pat Jones", "", "QmPat"); err != nil {
		t.Fatalf("add patient: %v", err)
	}

	record, err := n.AddRecord(doctor, patient, "QmScan")
	if err != nil {
		t.Fatalf("add record: %v", err)
	}
	request, err := n.CreateAccessRequest(admin, doctor, patient)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if _, err := n.GetRecordCID(record.ID, request.ID, admin); err == nil {
		t.Fatal("pending request must not unlock the record")
	}
	if err := n.ApproveAccessRequest(request.ID, doctor); err != nil {
		t.Fatalf("approve: %v", err)
	}
	cid, err := n.GetRecordCID(record.ID, request.ID, admin)
	if err != nil || cid != "QmScan" {
		t.Fatalf("admin read = %q err=%v", cid, err)
	}

	ticket, err := n.RaiseEmergency(admin, patient)
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if ticket.Threshold != 1 {
		t.Fatalf("threshold = %d, want 1 for a single doctor", ticket.Threshold)
	}
	if err := n.VoteEmergency(ticket.ID, doctor); err != nil {
		t.Fatalf("vote: %v", err)
	}
	granted, err := n.IsAccessGranted(patient)
	if err != nil || !granted {
		t.Fatalf("granted = %v err=%v", granted, err)
	}
}
