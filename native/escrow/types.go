package escrow

import (
	"fmt"
	"math/big"
	"strings"
)

// ListingStatus represents the lifecycle states of a property listing moving
// through the escrow workflow.
type ListingStatus uint8

const (
	// ListingUnknown is the zero value and never persisted.
	ListingUnknown ListingStatus = iota
	// ListingPendingInspection is the entry state assigned at proposal.
	ListingPendingInspection
	// ListingVerified marks listings the inspector has verified; the deed
	// token exists from this point on.
	ListingVerified
	// ListingRejected is terminal; the inspector declined the listing.
	ListingRejected
	// ListingSold is terminal; funds and deed have changed hands.
	ListingSold
	// ListingCancelled is terminal; the deal was aborted after a failed
	// inspection and the earnest deposit refunded.
	ListingCancelled
)

// Valid reports whether the status value is within the supported range.
func (s ListingStatus) Valid() bool {
	switch s {
	case ListingPendingInspection, ListingVerified, ListingRejected, ListingSold, ListingCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the listing can never transition again.
func (s ListingStatus) Terminal() bool {
	switch s {
	case ListingRejected, ListingSold, ListingCancelled:
		return true
	default:
		return false
	}
}

// String renders the status for logs and event payloads.
func (s ListingStatus) String() string {
	switch s {
	case ListingPendingInspection:
		return "pending_inspection"
	case ListingVerified:
		return "verified"
	case ListingRejected:
		return "rejected"
	case ListingSold:
		return "sold"
	case ListingCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Listing captures the runtime state of a single property under escrow.
// Identifiers are assigned monotonically at proposal time and never reused.
// Approval flags are monotonic: once a party approves, the flag stays set for
// the life of the listing.
type Listing struct {
	ID               uint64
	Seller           [20]byte
	Buyer            [20]byte
	HasBuyer         bool
	DeedURI          string
	Price            *big.Int
	EscrowAmount     *big.Int
	Status           ListingStatus
	InspectionPassed bool
	BuyerApproved    bool
	SellerApproved   bool
	LenderApproved   bool
	CreatedAt        int64
}

// Clone returns a deep copy of the listing so callers can safely mutate the
// copy without affecting the stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Price != nil {
		clone.Price = new(big.Int).Set(l.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	if l.EscrowAmount != nil {
		clone.EscrowAmount = new(big.Int).Set(l.EscrowAmount)
	} else {
		clone.EscrowAmount = big.NewInt(0)
	}
	return &clone
}

// SanitizeListing validates and normalises the supplied listing, returning a
// cloned instance with non-nil amount fields. The original value is not
// mutated.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, fmt.Errorf("nil listing")
	}
	clone := l.Clone()
	clone.DeedURI = strings.TrimSpace(clone.DeedURI)
	if clone.Price.Sign() < 0 {
		return nil, fmt.Errorf("listing price must be non-negative")
	}
	if clone.EscrowAmount.Sign() < 0 {
		return nil, fmt.Errorf("listing escrow amount must be non-negative")
	}
	if clone.EscrowAmount.Sign() > 0 && clone.EscrowAmount.Cmp(clone.Price) > 0 {
		return nil, fmt.Errorf("listing escrow amount exceeds price")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid listing status: %d", clone.Status)
	}
	return clone, nil
}
